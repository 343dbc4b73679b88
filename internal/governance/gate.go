package governance

import (
	"fmt"
	"time"

	"github.com/cuemby/sentinel/internal/capability"
	"github.com/cuemby/sentinel/internal/doctrine"
	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
)

// requiredCapability maps a task kind to the capability its dispatch
// requires. scout/verify only read and report, so they require the
// baseline RECALL capability; builder spawns a worker that can mutate
// state, so it requires WORKER_SPAWN; custom tasks may chain multiple
// steps autonomously and require AUTONOMOUS_CHAIN.
func requiredCapability(kind types.TaskKind) string {
	switch kind {
	case types.TaskKindScout, types.TaskKindVerify:
		return capability.RECALL
	case types.TaskKindBuilder:
		return capability.WORKER_SPAWN
	case types.TaskKindCustom:
		return capability.AUTONOMOUS_CHAIN
	default:
		return capability.RECALL
	}
}

// Gate evaluates tasks against doctrine, capability and caps, in that
// order, and produces the risk-tier commit decision.
type Gate struct {
	doctrine doctrine.Doctrine
	registry *capability.Registry
	caps     *CapsChecker
}

// NewGate constructs a Gate backed by the given loaded doctrine, the
// live capability registry, and a caps checker built from runtime
// config.
func NewGate(d doctrine.Doctrine, registry *capability.Registry, caps *CapsChecker) *Gate {
	return &Gate{doctrine: d, registry: registry, caps: caps}
}

// Evaluate runs the four ordered checks from §4.4 and returns the
// resulting CommitDecision. It never panics and never mutates task.
func (g *Gate) Evaluate(task *types.Task, cfg runtimecfg.Config) types.CommitDecision {
	now := time.Now().UTC()

	if g.doctrine.NoArtifactNoExistence && !task.ExpectsArtifact {
		return blocked(task, now, "doctrine:no_artifact_no_existence")
	}
	if g.doctrine.NoVerificationRejected && !task.Verifiable {
		return blocked(task, now, "doctrine:no_verification_rejected")
	}

	reqCap := requiredCapability(task.Kind)
	if !g.registry.Permitted(reqCap) {
		return blocked(task, now, fmt.Sprintf("capability:%s", reqCap))
	}

	if reason, ok := g.caps.Check(task, cfg); !ok {
		return blocked(task, now, reason)
	}

	return g.riskDecision(task, cfg, now)
}

// riskDecision applies the risk tier table (§4.4) once doctrine,
// capability and caps have all passed.
func (g *Gate) riskDecision(task *types.Task, cfg runtimecfg.Config, now time.Time) types.CommitDecision {
	tier := effectiveTier(task, cfg)
	row := riskTable[tier]

	decision := types.CommitDecision{
		TaskID:    task.TaskID,
		Risk:      tier,
		DecidedAt: now,
	}

	switch {
	case row.autonomous:
		decision.State = types.CommitActionReady
		decision.Reason = "autonomous"
	case row.approval == approvalConditional && g.registry.Permitted(capability.AUTONOMOUS_CHAIN):
		// Tier B is conditionally autonomous: a SOVEREIGN-or-later stage
		// has earned the right to run partial-reversibility tasks without
		// a confirm step, but the decision is still logged.
		decision.State = types.CommitActionReady
		decision.Reason = "autonomous:logged"
	case row.approval == approvalConditional:
		decision.State = types.CommitNeedsConfirm
		decision.CountdownSeconds = int(countdownFor(tier, cfg).Seconds())
		decision.Reason = fmt.Sprintf("risk_tier:%s", tier)
	default: // approvalRequired
		decision.State = types.CommitNeedsConfirm
		decision.CountdownSeconds = int(countdownFor(tier, cfg).Seconds())
		decision.Reason = fmt.Sprintf("risk_tier:%s", tier)
		if tier == types.RankS {
			decision.ApproversRequired = cfg.ApproversForS
		} else {
			decision.ApproversRequired = 1
		}
	}
	return decision
}

// CommitSpend records task's declared cost against the cumulative
// spend tracker. Callers invoke this exactly once per task, after the
// task's CommitDecision has actually resolved to dispatch (ACTION_READY
// immediately, or NEEDS_CONFIRM followed by approval) — never for a
// blocked or rejected task.
func (g *Gate) CommitSpend(task *types.Task) {
	g.caps.Commit(task)
}

func blocked(task *types.Task, now time.Time, reason string) types.CommitDecision {
	return types.CommitDecision{
		TaskID:    task.TaskID,
		State:     types.CommitBlocked,
		Reason:    reason,
		Risk:      task.RiskTier,
		DecidedAt: now,
	}
}
