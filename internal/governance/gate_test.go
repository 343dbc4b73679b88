package governance

import (
	"testing"

	"github.com/cuemby/sentinel/internal/capability"
	"github.com/cuemby/sentinel/internal/doctrine"
	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTask() *types.Task {
	return &types.Task{
		TaskID:          "t1",
		Kind:            types.TaskKindScout,
		RiskTier:        types.RankE,
		Reversible:      true,
		ExpectsArtifact: true,
		Verifiable:      true,
	}
}

func TestDoctrineGateRejectsNoArtifact(t *testing.T) {
	registry := capability.NewRegistry()
	registry.ObserveMissionSuccess()
	gate := NewGate(doctrine.Default(), registry, NewCapsChecker())

	task := baseTask()
	task.ExpectsArtifact = false

	decision := gate.Evaluate(task, runtimecfg.Default())
	assert.Equal(t, types.CommitBlocked, decision.State)
	assert.Equal(t, "doctrine:no_artifact_no_existence", decision.Reason)
}

func TestCapabilityGateBlocksAtDormant(t *testing.T) {
	registry := capability.NewRegistry()
	gate := NewGate(doctrine.Default(), registry, NewCapsChecker())

	task := baseTask()
	task.Kind = types.TaskKindBuilder
	task.RiskTier = types.RankC

	decision := gate.Evaluate(task, runtimecfg.Default())
	require.Equal(t, types.CommitBlocked, decision.State)
	assert.Equal(t, "capability:WORKER_SPAWN", decision.Reason)
}

func TestRiskTierEAutonomous(t *testing.T) {
	registry := capability.NewRegistry()
	registry.ObserveMissionSuccess()
	gate := NewGate(doctrine.Default(), registry, NewCapsChecker())

	decision := gate.Evaluate(baseTask(), runtimecfg.Default())
	assert.Equal(t, types.CommitActionReady, decision.State)
}

func TestRiskTierARequiresConfirm(t *testing.T) {
	registry := capability.NewRegistry()
	for i := 0; i < 10; i++ {
		registry.ObserveMissionSuccess()
	}
	gate := NewGate(doctrine.Default(), registry, NewCapsChecker())

	task := baseTask()
	task.Kind = types.TaskKindVerify
	task.RiskTier = types.RankA

	decision := gate.Evaluate(task, runtimecfg.Default())
	require.Equal(t, types.CommitNeedsConfirm, decision.State)
	assert.GreaterOrEqual(t, decision.CountdownSeconds, 10)
	assert.Equal(t, 1, decision.ApproversRequired)
}

func TestCapsGateWhitelist(t *testing.T) {
	registry := capability.NewRegistry()
	registry.ObserveMissionSuccess()
	gate := NewGate(doctrine.Default(), registry, NewCapsChecker())

	task := baseTask()
	task.Params = map[string]string{"external_recipient": "unknown.example.com"}

	cfg := runtimecfg.Default()
	cfg.Whitelist = []string{"trusted.example.com"}

	decision := gate.Evaluate(task, cfg)
	assert.Equal(t, types.CommitBlocked, decision.State)
	assert.Equal(t, "caps:whitelist", decision.Reason)
}
