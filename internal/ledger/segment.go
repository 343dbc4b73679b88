package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

const maxSegmentBytes int64 = 64 * 1024 * 1024 // 64 MiB rotation trigger

var segmentNameRE = regexp.MustCompile(`^(.+)-(\d{8})-(\d{3})\.jsonl$`)

// segmentMeta identifies one segment file on disk.
type segmentMeta struct {
	Name  string // ledger name prefix
	Date  string // YYYYMMDD
	Index int    // NNN, monotonic within a date
}

func (m segmentMeta) filename() string {
	return fmt.Sprintf("%s-%s-%03d.jsonl", m.Name, m.Date, m.Index)
}

func (m segmentMeta) path(dir string) string {
	return filepath.Join(dir, m.filename())
}

func (m segmentMeta) activeMarkerPath(dir string) string {
	return m.path(dir) + ".active"
}

// listSegments returns every segment belonging to name under dir, in
// append order (oldest first).
func listSegments(dir, name string) ([]segmentMeta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segs []segmentMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNameRE.FindStringSubmatch(e.Name())
		if m == nil || m[1] != name {
			continue
		}
		idx, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		segs = append(segs, segmentMeta{Name: name, Date: m[2], Index: idx})
	}

	sort.Slice(segs, func(i, j int) bool {
		if segs[i].Date != segs[j].Date {
			return segs[i].Date < segs[j].Date
		}
		return segs[i].Index < segs[j].Index
	})
	return segs, nil
}

// nextSegment picks the segment to append to: the most recent one if
// it belongs to today and is under the size cap, otherwise a fresh one.
func nextSegment(existing []segmentMeta, name string, now time.Time, lastSize int64) segmentMeta {
	today := now.UTC().Format("20060102")
	if len(existing) == 0 {
		return segmentMeta{Name: name, Date: today, Index: 0}
	}

	last := existing[len(existing)-1]
	if last.Date == today && lastSize < maxSegmentBytes {
		return last
	}

	idx := 0
	if last.Date == today {
		idx = last.Index + 1
	}
	return segmentMeta{Name: name, Date: today, Index: idx}
}
