// Package governance implements the Governance Gate (C4): the ordered
// checks every task passes through before the Commit Engine may
// schedule it, and the risk tier table that determines its commit
// state.
//
// Grounded on the teacher's security package for the "gate decision as
// an explicit result value, never an exception" shape, and its
// reconciler for the idea of a pure function from (declared state,
// config) to a decision.
package governance

import (
	"time"

	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
)

// tierRow describes one risk tier's autonomy and approval policy, per
// the table in §4.4.
type tierRow struct {
	autonomous bool
	approval   approvalMode
	minCountdown time.Duration
}

type approvalMode int

const (
	approvalNone approvalMode = iota
	approvalLogged
	approvalConditional
	approvalRequired
)

var riskTable = map[types.Rank]tierRow{
	types.RankE: {autonomous: true, approval: approvalNone, minCountdown: 0},
	types.RankD: {autonomous: true, approval: approvalNone, minCountdown: 0},
	types.RankC: {autonomous: true, approval: approvalLogged, minCountdown: 0},
	types.RankB: {autonomous: false, approval: approvalConditional, minCountdown: 3 * time.Second},
	types.RankA: {autonomous: false, approval: approvalRequired, minCountdown: 10 * time.Second},
	types.RankS: {autonomous: false, approval: approvalRequired, minCountdown: 30 * time.Second},
}

// rankOrder gives the strictness ordering used when a config override
// and the task's declared tier disagree: ties go to the stricter side.
var rankOrder = map[types.Rank]int{
	types.RankE: 0,
	types.RankD: 1,
	types.RankC: 2,
	types.RankB: 3,
	types.RankA: 4,
	types.RankS: 5,
}

// effectiveTier applies any configured risk override for task.Kind,
// keeping whichever of the declared and overridden tier is stricter.
func effectiveTier(task *types.Task, cfg runtimecfg.Config) types.Rank {
	override, ok := cfg.RiskOverrides[task.Kind]
	if !ok {
		return task.RiskTier
	}
	if rankOrder[override] > rankOrder[task.RiskTier] {
		return override
	}
	return task.RiskTier
}

// countdownFor returns the approval countdown for rank, preferring a
// configured ApprovalWindow entry over the built-in table, but never
// going below the table's declared floor (operators may extend a
// countdown, never shorten below the spec minimum).
func countdownFor(rank types.Rank, cfg runtimecfg.Config) time.Duration {
	row := riskTable[rank]
	if configured, ok := cfg.ApprovalWindow[rank]; ok && configured > row.minCountdown {
		return configured
	}
	return row.minCountdown
}
