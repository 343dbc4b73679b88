// Package capability implements the Capability Registry (C3): the
// monotonic permission ladder the kernel climbs as missions succeed.
//
// Grounded on the teacher's reconciler package for the "recompute from
// authoritative history, never trust cached state" pattern, and on its
// scheduler for the threshold-crossing counter shape.
package capability

import (
	"sort"
	"sync"

	"github.com/cuemby/sentinel/internal/ledger"
	"github.com/cuemby/sentinel/internal/obslog"
	"github.com/cuemby/sentinel/internal/obsmetrics"
)

// Stage is an evolution stage. Stages are totally ordered; Registry
// never reports a stage lower than the highest one it has ever
// reached, even across a corrupted-then-replayed history.
type Stage int

const (
	Dormant Stage = iota
	Awakening
	Forging
	Sovereign
	Apex
)

func (s Stage) String() string {
	switch s {
	case Dormant:
		return "DORMANT"
	case Awakening:
		return "AWAKENING"
	case Forging:
		return "FORGING"
	case Sovereign:
		return "SOVEREIGN"
	case Apex:
		return "APEX"
	default:
		return "UNKNOWN"
	}
}

// thresholds maps the cumulative successful-mission count required to
// reach each stage above Dormant. Dormant requires no successes.
var thresholds = []struct {
	stage Stage
	count int
}{
	{Awakening, 1},
	{Forging, 10},
	{Sovereign, 50},
	{Apex, 200},
}

// Capability names recognized by the Governance Gate (C4). The set is
// intentionally small and closed: new capabilities are a stage-table
// change, not a runtime-registered one.
const (
	RECALL           = "RECALL"
	WORKER_SPAWN     = "WORKER_SPAWN"
	AUTONOMOUS_CHAIN = "AUTONOMOUS_CHAIN"
	EXTERNAL_EFFECT  = "EXTERNAL_EFFECT"
	IRREVERSIBLE_ACT = "IRREVERSIBLE_ACT"
)

// permittedByStage is the permission set unlocked cumulatively at each
// stage: Forging's set includes everything Awakening unlocked, etc.
// RECALL is granted at Dormant itself, not earned — a scout/verify
// read-only task never mutates anything, so a freshly installed
// kernel with zero successful missions can still observe the world;
// without this a fresh install could never reach its first success at
// all, since earning Awakening requires a success and every task kind
// requires at least RECALL.
var permittedByStage = map[Stage][]string{
	Dormant:   {RECALL},
	Awakening: {RECALL},
	Forging:   {RECALL, WORKER_SPAWN},
	Sovereign: {RECALL, WORKER_SPAWN, AUTONOMOUS_CHAIN},
	Apex:      {RECALL, WORKER_SPAWN, AUTONOMOUS_CHAIN, EXTERNAL_EFFECT, IRREVERSIBLE_ACT},
}

// Registry tracks the current Stage and the cumulative count of
// successful missions that produced it. It is a pure function of
// ledger history: Rebuild reconstructs it from scratch by counting
// MissionStateChanged entries whose new state is SUCCESS (recorded
// CapabilityUnlocked entries are not read back), and the live
// path (Observe) keeps it in sync incrementally as the mission engine
// appends completions.
type Registry struct {
	mu             sync.RWMutex
	stage          Stage
	successCount   int
	unlockedStages map[Stage]bool
}

// NewRegistry returns a Registry starting at Dormant.
func NewRegistry() *Registry {
	return &Registry{unlockedStages: map[Stage]bool{Dormant: true}}
}

// Stage returns the current stage.
func (r *Registry) Stage() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// SuccessCount returns the cumulative count of successful missions
// observed so far.
func (r *Registry) SuccessCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.successCount
}

// Permitted reports whether cap is in the current stage's permission
// set. It is a pure function of stage, per the contract in §4.3.
func (r *Registry) Permitted(cap string) bool {
	r.mu.RLock()
	stage := r.stage
	r.mu.RUnlock()

	for _, c := range permittedByStage[stage] {
		if c == cap {
			return true
		}
	}
	return false
}

// PermittedSet returns a copy of the current stage's capability set.
func (r *Registry) PermittedSet() []string {
	r.mu.RLock()
	stage := r.stage
	r.mu.RUnlock()

	caps := permittedByStage[stage]
	out := make([]string, len(caps))
	copy(out, caps)
	sort.Strings(out)
	return out
}

// UnlockResult is returned by ObserveMissionSuccess when a successful
// mission crosses a stage threshold.
type UnlockResult struct {
	Crossed bool
	Stage   Stage
	Caps    []string
}

// ObserveMissionSuccess increments the successful-mission counter and
// reports whether this observation crossed a stage threshold. It never
// lowers stage: if the counter somehow regresses (e.g. a replay bug),
// the highest stage ever reached is retained.
func (r *Registry) ObserveMissionSuccess() UnlockResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successCount++
	newStage := stageForCount(r.successCount)
	if newStage <= r.stage {
		return UnlockResult{}
	}

	r.stage = newStage
	r.unlockedStages[newStage] = true
	obsmetrics.CapabilityStage.Set(float64(newStage))
	obslog.WithComponent("capability").Info().
		Str("stage", newStage.String()).
		Int("success_count", r.successCount).
		Msg("CapabilityUnlocked")

	return UnlockResult{Crossed: true, Stage: newStage, Caps: permittedByStage[newStage]}
}

func stageForCount(count int) Stage {
	stage := Dormant
	for _, t := range thresholds {
		if count >= t.count {
			stage = t.stage
		}
	}
	return stage
}

// capabilityUnlockedPayload mirrors the CapabilityUnlocked ledger
// payload shape.
type capabilityUnlockedPayload struct {
	Stage        string   `json:"stage"`
	Capabilities []string `json:"capabilities"`
	SuccessCount int      `json:"success_count"`
}

// missionStateChangedPayload is the subset of MissionStateChanged we
// need to detect a success transition during replay.
type missionStateChangedPayload struct {
	MissionID string `json:"mission_id"`
	NewState  string `json:"new_state"`
}

// Rebuild reconstructs a Registry from scratch by folding every
// MissionStateChanged entry in entries where NewState == "SUCCESS".
// It ignores any CapabilityUnlocked entries already present — stage is
// always recomputed from the successful-mission count, never trusted
// from a cached marker, per the monotonicity invariant.
func Rebuild(entries []ledger.Entry) (*Registry, error) {
	r := NewRegistry()
	for _, e := range entries {
		if e.Kind != ledger.KindMissionStateChanged {
			continue
		}
		var p missionStateChangedPayload
		if err := unmarshalPayload(e.Payload, &p); err != nil {
			continue
		}
		if p.NewState == "SUCCESS" {
			r.ObserveMissionSuccess()
		}
	}
	return r, nil
}
