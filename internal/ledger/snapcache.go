package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapBucket = []byte("mission_snapshots")

// SnapCache is a local, disposable speedup for projector recovery: it
// remembers the most recent MissionSnapshot payload seen per mission so
// a restart can seed the projector near the tail of the ledger instead
// of replaying every segment from Seq 0. It is never consulted to
// decide correctness — Put/Get purely cache the ledger's own
// MissionSnapshot entries, and a projector must produce byte-identical
// views whether or not the cache is present.
//
// Grounded on the teacher's storage package, which uses the same
// bbolt-per-bucket layout for its embedded state store.
type SnapCache struct {
	db *bolt.DB
}

// OpenSnapCache opens (creating if absent) a bbolt database at path.
func OpenSnapCache(path string) (*SnapCache, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("snapcache: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapcache: create bucket: %w", err)
	}
	return &SnapCache{db: db}, nil
}

// cachedSnapshot is the envelope stored per mission: the snapshot
// payload plus the ledger Seq it was captured at, so a projector can
// tell whether the cache entry is stale relative to the ledger tail.
type cachedSnapshot struct {
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Put records the latest MissionSnapshot payload for missionID at the
// ledger sequence it was captured.
func (c *SnapCache) Put(missionID string, seq uint64, payload json.RawMessage) error {
	entry := cachedSnapshot{Seq: seq, Payload: payload}
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("snapcache: marshal: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapBucket)
		return b.Put([]byte(missionID), buf)
	})
}

// Get returns the cached snapshot for missionID, if any, and the Seq
// it was captured at. found is false if no snapshot has been cached.
func (c *SnapCache) Get(missionID string) (payload json.RawMessage, seq uint64, found bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapBucket)
		raw := b.Get([]byte(missionID))
		if raw == nil {
			return nil
		}
		var entry cachedSnapshot
		if uErr := json.Unmarshal(raw, &entry); uErr != nil {
			return uErr
		}
		payload = entry.Payload
		seq = entry.Seq
		found = true
		return nil
	})
	if err != nil {
		return nil, 0, false, fmt.Errorf("snapcache: get %s: %w", missionID, err)
	}
	return payload, seq, found, nil
}

// Close releases the underlying bbolt database handle.
func (c *SnapCache) Close() error {
	return c.db.Close()
}
