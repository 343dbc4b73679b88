package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/sentinel/internal/kernelerr"
	"github.com/cuemby/sentinel/internal/obslog"
	"github.com/cuemby/sentinel/internal/obsmetrics"
	"github.com/rs/zerolog"
)

// Ledger is a segmented, append-only JSONL event log with a single
// writer lock and lock-free tailing.
type Ledger struct {
	mu     sync.Mutex
	dir    string
	name   string
	logger zerolog.Logger

	file    *os.File
	active  segmentMeta
	size    int64
	seq     uint64

	broker *tailBroker
}

// Open creates or resumes a ledger rooted at dir with file name prefix
// name (e.g. "core" produces core-20260731-000.jsonl). dir is created
// if missing.
func Open(dir, name string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create data dir: %w", err)
	}

	l := &Ledger{
		dir:    dir,
		name:   name,
		logger: obslog.WithComponent("ledger"),
		broker: newTailBroker(),
	}

	segs, err := listSegments(dir, name)
	if err != nil {
		return nil, fmt.Errorf("ledger: list segments: %w", err)
	}

	maxSeq, err := recoverLastSeq(dir, segs, l.logger)
	if err != nil {
		return nil, err
	}
	l.seq = maxSeq

	target := nextSegment(segs, name, time.Now(), 0)
	if err := l.openSegment(target); err != nil {
		return nil, err
	}

	return l, nil
}

// openSegment opens (creating if needed) the given segment for
// appending, truncating any partial trailing record it finds, and
// marks it as the active segment via a sidecar .active file.
func (l *Ledger) openSegment(m segmentMeta) error {
	path := m.path(l.dir)

	validSize, err := truncatePartialTail(path, l.logger)
	if err != nil {
		return fmt.Errorf("ledger: validate segment %s: %w", m.filename(), err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open segment %s: %w", m.filename(), err)
	}

	if l.file != nil {
		_ = os.Remove(l.active.activeMarkerPath(l.dir))
		_ = l.file.Close()
	}

	if err := os.WriteFile(m.activeMarkerPath(l.dir), []byte{}, 0o644); err != nil {
		_ = f.Close()
		return fmt.Errorf("ledger: write active marker: %w", err)
	}

	l.file = f
	l.active = m
	l.size = validSize
	return nil
}

// Append durably appends one entry of the given kind and payload,
// blocking until the write has been fsync'd to the active segment.
// It returns the fully-formed Entry, including its assigned Seq.
func (l *Ledger) Append(kind Kind, payload any) (Entry, error) {
	timer := obsmetrics.NewTimer()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry, err := newEntry(l.seq, time.Now().UTC(), kind, payload)
	if err != nil {
		l.seq--
		return Entry{}, fmt.Errorf("ledger: marshal entry: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		l.seq--
		return Entry{}, fmt.Errorf("ledger: marshal line: %w", err)
	}
	line = append(line, '\n')

	if l.size+int64(len(line)) > maxSegmentBytes || l.active.Date != time.Now().UTC().Format("20060102") {
		segs, err := listSegments(l.dir, l.name)
		if err != nil {
			return Entry{}, fmt.Errorf("ledger: list segments for rotation: %w", err)
		}
		next := nextSegment(segs, l.name, time.Now(), l.size)
		if next != l.active {
			if err := l.openSegment(next); err != nil {
				return Entry{}, err
			}
		}
	}

	n, err := l.file.Write(line)
	if err != nil {
		l.seq--
		if isDiskFull(err) {
			return Entry{}, fmt.Errorf("ledger: append: %w: %v", kernelerr.ErrStorageFull, err)
		}
		return Entry{}, fmt.Errorf("ledger: append: %w: %v", kernelerr.ErrStorage, err)
	}
	if err := l.file.Sync(); err != nil {
		l.seq--
		return Entry{}, fmt.Errorf("ledger: fsync: %w: %v", kernelerr.ErrStorage, err)
	}
	l.size += int64(n)

	obsmetrics.LedgerAppendTotal.WithLabelValues(string(kind)).Inc()
	timer.ObserveDuration(obsmetrics.LedgerAppendDuration)

	l.broker.publish(entry)
	return entry, nil
}

// Read performs a bounded scan over every segment, returning entries
// matching filter in append order.
func (l *Ledger) Read(filter Filter) ([]Entry, error) {
	segs, err := listSegments(l.dir, l.name)
	if err != nil {
		return nil, fmt.Errorf("ledger: list segments: %w", err)
	}

	var out []Entry
	for _, seg := range segs {
		entries, err := readSegment(seg.path(l.dir), l.logger)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if filter.matches(e) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Tail returns a channel that first replays every existing entry with
// Seq >= fromSeq, then streams newly appended entries live. The
// channel is closed when ctx is cancelled.
func (l *Ledger) Tail(ctx context.Context, fromSeq uint64) (<-chan Entry, error) {
	sub := l.broker.subscribe()
	backlog, err := l.Read(Filter{FromSeq: fromSeq})
	if err != nil {
		l.broker.unsubscribe(sub)
		return nil, err
	}

	out := make(chan Entry, 256)
	go func() {
		defer close(out)
		defer l.broker.unsubscribe(sub)

		seen := uint64(0)
		for _, e := range backlog {
			seen = e.Seq
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case e, ok := <-sub:
				if !ok {
					return
				}
				if e.Seq <= seen {
					continue // already delivered from backlog
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close flushes and closes the active segment.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	_ = os.Remove(l.active.activeMarkerPath(l.dir))
	return l.file.Close()
}

// NextSeq reports the sequence number the next Append will assign.
func (l *Ledger) NextSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq + 1
}

// readSegment reads every well-formed line of path, stopping at (and
// logging) a partial or corrupt trailing record instead of failing.
func readSegment(path string, logger zerolog.Logger) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			logger.Warn().Str("segment", path).Msg("CorruptTail: skipping unparseable trailing record")
			break
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan %s: %w", path, err)
	}
	return entries, nil
}

// truncatePartialTail validates path's last line is newline-terminated
// and parses; if not, it truncates the file to the last known-good
// offset and returns the valid size. Used when resuming the active
// segment after a crash.
func truncatePartialTail(path string, logger zerolog.Logger) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var validOffset, lineStart int64
	for scanner.Scan() {
		line := scanner.Bytes()
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		lineStart = validOffset
		validOffset += int64(len(line)) + 1 // +1 for the newline scanner stripped
	}
	if validOffset > info.Size() {
		// The last line parsed but has no terminating newline.
		validOffset = lineStart
	}

	if validOffset < info.Size() {
		logger.Warn().Str("segment", path).Int64("truncated_bytes", info.Size()-validOffset).
			Msg("CorruptTail: truncating partial trailing record on resume")
		if err := f.Truncate(validOffset); err != nil {
			return 0, err
		}
	}
	return validOffset, nil
}

// recoverLastSeq scans every known segment to find the highest Seq
// written so far, so a resumed ledger continues the sequence instead
// of restarting it.
func recoverLastSeq(dir string, segs []segmentMeta, logger zerolog.Logger) (uint64, error) {
	var maxSeq uint64
	for _, seg := range segs {
		entries, err := readSegment(seg.path(dir), logger)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}
	}
	return maxSeq, nil
}

func isDiskFull(err error) bool {
	return os.IsPermission(err) == false && err != nil && (
	// os.PathError wraps syscall.ENOSPC; string match is the portable
	// fallback since syscall.ENOSPC isn't comparable across platforms
	// the same way on every GOOS.
	containsNoSpace(err.Error()))
}

func containsNoSpace(s string) bool {
	const noSpace = "no space left on device"
	for i := 0; i+len(noSpace) <= len(s); i++ {
		if s[i:i+len(noSpace)] == noSpace {
			return true
		}
	}
	return false
}
