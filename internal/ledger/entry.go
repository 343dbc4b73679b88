package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Kind is the closed set of event kinds the core ledger emits. Payload
// schemas are documented alongside each kind's producer (e.g. mission
// payloads in internal/mission, commit payloads in internal/commit).
type Kind string

const (
	KindDoctrineLoaded    Kind = "DoctrineLoaded"
	KindConfigChanged     Kind = "ConfigChanged"
	KindMissionCreated    Kind = "MissionCreated"
	KindMissionDecomposed Kind = "MissionDecomposed"
	KindMissionStateChanged Kind = "MissionStateChanged"
	KindTaskCreated       Kind = "TaskCreated"
	KindTaskCommitDecided Kind = "TaskCommitDecided"
	KindTaskDispatched    Kind = "TaskDispatched"
	KindTaskCompleted     Kind = "TaskCompleted"
	KindTaskAborted       Kind = "TaskAborted"
	KindArtifactCreated   Kind = "ArtifactCreated"
	KindArtifactReviewed  Kind = "ArtifactReviewed"
	KindApprovalRequested Kind = "ApprovalRequested"
	KindApprovalGranted   Kind = "ApprovalGranted"
	KindApprovalRejected  Kind = "ApprovalRejected"
	KindCommitExpired     Kind = "CommitExpired"
	KindCapabilityUnlocked Kind = "CapabilityUnlocked"
	KindMissionSnapshot   Kind = "MissionSnapshot"
	KindCapacityExhausted Kind = "CapacityExhausted"
)

// Entry is one durable fact in the ledger.
type Entry struct {
	Ts      time.Time       `json:"ts"`
	Seq     uint64          `json:"seq"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Digest  string          `json:"digest,omitempty"`
}

// newEntry marshals payload and computes its digest.
func newEntry(seq uint64, ts time.Time, kind Kind, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Ts: ts, Seq: seq, Kind: kind, Payload: raw}
	e.Digest = digest(e)
	return e, nil
}

// digest computes a content hash over the entry's identifying fields,
// excluding the digest field itself.
func digest(e Entry) string {
	h := sha256.New()
	h.Write([]byte(e.Ts.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Kind))
	h.Write(e.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Filter bounds a Read scan. A zero-value field means "no constraint on
// this dimension".
type Filter struct {
	Kinds     []Kind
	Since     time.Time
	Until     time.Time
	MissionID string
	FromSeq   uint64
}

func (f Filter) matches(e Entry) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Since.IsZero() && e.Ts.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Ts.After(f.Until) {
		return false
	}
	if e.Seq < f.FromSeq {
		return false
	}
	if f.MissionID != "" {
		var probe struct {
			MissionID string `json:"mission_id"`
		}
		if err := json.Unmarshal(e.Payload, &probe); err != nil || probe.MissionID != f.MissionID {
			return false
		}
	}
	return true
}
