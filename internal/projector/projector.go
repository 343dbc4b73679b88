// Package projector implements the Derived-State Projector (C9): a
// single-threaded fold of ledger history into read-only views. It
// never owns mutation — every view is reconstructed by replaying the
// ledger, so the projector output is a pure function of
// (ledger_prefix, config), per the invariant in §4.9.
//
// Grounded on the teacher's storage package for the "in-memory views
// rebuilt from an authoritative log, single writer goroutine" shape.
package projector

import (
	"context"
	"sync"

	"github.com/cuemby/sentinel/internal/capability"
	"github.com/cuemby/sentinel/internal/ledger"
	"github.com/cuemby/sentinel/internal/types"
)

// CommitQueueEntry is one row of the commit_queue view.
type CommitQueueEntry struct {
	TaskID           string
	State            types.CommitState
	Risk             types.Rank
	CountdownSeconds int
}

// WorkerUtilization is a point-in-time snapshot of per-kind live
// worker counts, as observed through ledger events (TaskDispatched /
// TaskCompleted pairs), not through direct workerpool introspection —
// the projector only ever reads the ledger.
type WorkerUtilization struct {
	LiveByKind map[types.TaskKind]int
}

// Views is the full set of read-only projections the projector
// maintains.
type Views struct {
	MissionsByID      map[string]*types.Mission
	MissionTimeline   []ledger.Entry
	CapabilityStage   capability.Stage
	WorkerUtilization WorkerUtilization
	CommitQueue       map[string]CommitQueueEntry
}

// Projector folds ledger entries into Views, single-threaded: Apply is
// never called concurrently with itself, satisfying the "updates views
// synchronously before acknowledging the append" contract.
type Projector struct {
	mu    sync.RWMutex
	views Views
}

// New returns an empty Projector. Call Rebuild or Apply to populate it.
func New() *Projector {
	return &Projector{
		views: Views{
			MissionsByID: make(map[string]*types.Mission),
			CommitQueue:  make(map[string]CommitQueueEntry),
			WorkerUtilization: WorkerUtilization{
				LiveByKind: make(map[types.TaskKind]int),
			},
		},
	}
}

// Rebuild replays entries from scratch, discarding any prior state.
// Called at startup with the full ledger.
func (p *Projector) Rebuild(entries []ledger.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = Views{
		MissionsByID: make(map[string]*types.Mission),
		CommitQueue:  make(map[string]CommitQueueEntry),
		WorkerUtilization: WorkerUtilization{
			LiveByKind: make(map[types.TaskKind]int),
		},
	}
	for _, e := range entries {
		p.applyLocked(e)
	}
}

// Apply folds one newly-tailed entry into the views. Intended to be
// called from a single goroutine consuming Ledger.Tail in order.
func (p *Projector) Apply(e ledger.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(e)
}

func (p *Projector) applyLocked(e ledger.Entry) {
	p.views.MissionTimeline = append(p.views.MissionTimeline, e)

	switch e.Kind {
	case ledger.KindMissionCreated:
		var payload struct {
			MissionID   string            `json:"mission_id"`
			Goal        string            `json:"goal"`
			Category    string            `json:"category"`
			Constraints map[string]string `json:"constraints"`
		}
		if unmarshal(e.Payload, &payload) {
			p.views.MissionsByID[payload.MissionID] = &types.Mission{
				MissionID:   payload.MissionID,
				Goal:        payload.Goal,
				Category:    payload.Category,
				Constraints: payload.Constraints,
				State:       types.MissionCreated,
				CreatedAt:   e.Ts,
				UpdatedAt:   e.Ts,
			}
		}

	case ledger.KindMissionStateChanged:
		var payload struct {
			MissionID string             `json:"mission_id"`
			NewState  types.MissionState `json:"new_state"`
			Reason    string             `json:"reason"`
		}
		if unmarshal(e.Payload, &payload) {
			if m, ok := p.views.MissionsByID[payload.MissionID]; ok {
				m.State = payload.NewState
				m.UpdatedAt = e.Ts
				m.History = append(m.History, types.MissionHistoryEntry{
					State: payload.NewState, Timestamp: e.Ts, Reason: payload.Reason,
				})
			}
		}

	case ledger.KindMissionDecomposed:
		var payload struct {
			MissionID string   `json:"mission_id"`
			TaskIDs   []string `json:"task_ids"`
		}
		if unmarshal(e.Payload, &payload) {
			if m, ok := p.views.MissionsByID[payload.MissionID]; ok {
				m.TaskIDs = payload.TaskIDs
			}
		}

	case ledger.KindTaskCommitDecided:
		var decision types.CommitDecision
		if unmarshal(e.Payload, &decision) {
			if decision.State == types.CommitActionReady {
				delete(p.views.CommitQueue, decision.TaskID)
			} else {
				p.views.CommitQueue[decision.TaskID] = CommitQueueEntry{
					TaskID: decision.TaskID, State: decision.State,
					Risk: decision.Risk, CountdownSeconds: decision.CountdownSeconds,
				}
			}
		}

	case ledger.KindApprovalGranted, ledger.KindApprovalRejected, ledger.KindCommitExpired:
		var payload struct {
			TaskID string `json:"task_id"`
		}
		if unmarshal(e.Payload, &payload) {
			delete(p.views.CommitQueue, payload.TaskID)
		}

	case ledger.KindTaskDispatched:
		var payload struct {
			Kind types.TaskKind `json:"kind"`
		}
		if unmarshal(e.Payload, &payload) {
			p.views.WorkerUtilization.LiveByKind[payload.Kind]++
		}

	case ledger.KindTaskCompleted:
		var result types.MergeResult
		if unmarshal(e.Payload, &result) {
			// The dispatched kind isn't in MergeResult; utilization is a
			// best-effort view derived purely from ledger facts, so a
			// completion simply decrements whichever kind has outstanding
			// dispatches, floored at zero.
			for kind, count := range p.views.WorkerUtilization.LiveByKind {
				if count > 0 {
					p.views.WorkerUtilization.LiveByKind[kind] = count - 1
					break
				}
			}
		}

	case ledger.KindCapabilityUnlocked:
		var payload struct {
			Stage string `json:"stage"`
		}
		if unmarshal(e.Payload, &payload) {
			p.views.CapabilityStage = stageFromString(payload.Stage)
		}
	}
}

func stageFromString(s string) capability.Stage {
	switch s {
	case "AWAKENING":
		return capability.Awakening
	case "FORGING":
		return capability.Forging
	case "SOVEREIGN":
		return capability.Sovereign
	case "APEX":
		return capability.Apex
	default:
		return capability.Dormant
	}
}

// Mission returns a copy of the mission view for id.
func (p *Projector) Mission(id string) (types.Mission, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.views.MissionsByID[id]
	if !ok {
		return types.Mission{}, false
	}
	return *m, true
}

// Missions returns a snapshot copy of every tracked mission.
func (p *Projector) Missions() []types.Mission {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Mission, 0, len(p.views.MissionsByID))
	for _, m := range p.views.MissionsByID {
		out = append(out, *m)
	}
	return out
}

// CommitQueue returns a snapshot of the current commit queue view.
func (p *Projector) CommitQueue() []CommitQueueEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]CommitQueueEntry, 0, len(p.views.CommitQueue))
	for _, e := range p.views.CommitQueue {
		out = append(out, e)
	}
	return out
}

// Stage returns the current capability_stage view.
func (p *Projector) Stage() capability.Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.views.CapabilityStage
}

// RunTail consumes entries from the ledger's live tail and applies
// each synchronously, until ctx is cancelled.
func (p *Projector) RunTail(ctx context.Context, l *ledger.Ledger, fromSeq uint64) error {
	stream, err := l.Tail(ctx, fromSeq)
	if err != nil {
		return err
	}
	for {
		select {
		case e, ok := <-stream:
			if !ok {
				return nil
			}
			p.Apply(e)
		case <-ctx.Done():
			return nil
		}
	}
}
