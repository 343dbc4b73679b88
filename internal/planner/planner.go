// Package planner decomposes a mission goal into an ordered task DAG.
// The default Planner is a deterministic, pure function of
// (goal, config): the same inputs always produce the same task list,
// satisfying the Mission Engine's requirement that decomposition be
// reproducible unless an external planner is wired in (§4.8).
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cuemby/sentinel/internal/types"
)

// Planner decomposes a mission goal into tasks. An external,
// non-deterministic planner may implement this interface; its output
// is still recorded verbatim in the ledger by the caller, preserving
// auditability even though it is not reproducible.
type Planner interface {
	Decompose(goal, category string, constraints map[string]string) ([]types.Task, error)
}

// Fallback is Sentinel's built-in deterministic planner. It recognizes
// a small set of verb keywords in goal and builds the corresponding
// step chain; any goal it doesn't recognize gets a single scout task,
// which is always safe (read-only, no artifact claims beyond a
// report).
type Fallback struct{}

// NewFallback returns the deterministic fallback planner.
func NewFallback() *Fallback { return &Fallback{} }

// Decompose is a pure function of its inputs: identical
// (goal, category, constraints) always yields byte-identical tasks
// (modulo TaskID, which the caller assigns).
func (f *Fallback) Decompose(goal, category string, constraints map[string]string) ([]types.Task, error) {
	goalLower := strings.ToLower(goal)
	riskTier := inferRiskTier(goalLower)

	switch {
	case containsAny(goalLower, "delete", "remove", "destroy", "drop"):
		return []types.Task{
			newTask(types.TaskKindScout, riskTier, goal, constraints, true, true),
			newTask(types.TaskKindBuilder, riskTier, goal, constraints, true, true),
			newTask(types.TaskKindVerify, riskTier, goal, constraints, true, true),
		}, nil

	case containsAny(goalLower, "deploy", "publish", "send", "pay"):
		return []types.Task{
			newTask(types.TaskKindScout, types.RankE, goal, constraints, true, true),
			newTask(types.TaskKindBuilder, riskTier, goal, constraints, true, true),
			newTask(types.TaskKindVerify, riskTier, goal, constraints, true, true),
		}, nil

	case containsAny(goalLower, "write", "create", "build", "generate"):
		return []types.Task{
			newTask(types.TaskKindScout, types.RankE, goal, constraints, true, true),
			newTask(types.TaskKindBuilder, riskTier, goal, constraints, true, true),
			newTask(types.TaskKindVerify, types.RankE, goal, constraints, true, true),
		}, nil

	case containsAny(goalLower, "read", "inspect", "check", "list"):
		return []types.Task{
			newTask(types.TaskKindScout, types.RankE, goal, constraints, true, true),
		}, nil

	default:
		return []types.Task{
			newTask(types.TaskKindScout, types.RankE, goal, constraints, true, true),
		}, nil
	}
}

// inferRiskTier assigns an irreversible-sounding goal a high tier;
// this is a deliberately coarse heuristic, not a security boundary —
// the Governance Gate's own risk table is the actual enforcement
// point, and an operator-configured RiskOverride always wins.
func inferRiskTier(goalLower string) types.Rank {
	switch {
	case containsAny(goalLower, "delete", "destroy", "drop", "wipe"):
		return types.RankA
	case containsAny(goalLower, "deploy", "publish", "send", "pay"):
		return types.RankS
	case containsAny(goalLower, "write", "create", "build", "generate", "modify"):
		return types.RankC
	default:
		return types.RankE
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func newTask(kind types.TaskKind, tier types.Rank, goal string, constraints map[string]string, expectsArtifact, verifiable bool) types.Task {
	params := map[string]string{"goal": goal}
	for k, v := range constraints {
		params[k] = v
	}
	return types.Task{
		Kind:            kind,
		Params:          params,
		RiskTier:        tier,
		Reversible:      tier == types.RankE || tier == types.RankD || tier == types.RankC,
		Retryable:       true,
		ExpectsArtifact: expectsArtifact,
		Verifiable:      verifiable,
		State:           types.TaskPending,
	}
}

// Fingerprint returns a stable content hash of a decomposition, useful
// for asserting determinism in tests and for detecting drift between
// a fallback decomposition and a recorded external-planner one.
func Fingerprint(tasks []types.Task) string {
	h := sha256.New()
	for _, t := range tasks {
		fmt.Fprintf(h, "%s|%s|%s|%v|", t.Kind, t.RiskTier, t.Params["goal"], t.DependsOn)
	}
	return hex.EncodeToString(h.Sum(nil))
}
