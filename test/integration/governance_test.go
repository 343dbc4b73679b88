package integration

import (
	"sync"
	"testing"

	"github.com/cuemby/sentinel/internal/capability"
	"github.com/cuemby/sentinel/internal/doctrine"
	"github.com/cuemby/sentinel/internal/governance"
	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/cuemby/sentinel/internal/workerpool"
	"github.com/stretchr/testify/assert"
)

// TestCapabilityGatingBlocksUnearnedCapability covers spec §8 scenario
// 4: at the Dormant stage, a task requiring WORKER_SPAWN is blocked
// with a named reason, never reaching TaskDispatched.
func TestCapabilityGatingBlocksUnearnedCapability(t *testing.T) {
	registry := capability.NewRegistry()
	gate := governance.NewGate(doctrine.Default(), registry, governance.NewCapsChecker())

	task := &types.Task{
		TaskID:          "t1",
		Kind:            types.TaskKindBuilder,
		RiskTier:        types.RankE,
		ExpectsArtifact: true,
		Verifiable:      true,
	}

	decision := gate.Evaluate(task, runtimecfg.Default())
	assert.Equal(t, types.CommitBlocked, decision.State)
	assert.Contains(t, decision.Reason, "capability:WORKER_SPAWN")
}

// TestCapabilityGatingPermitsDormantScout covers the bootstrap fix: a
// scout/verify task never requires more than RECALL, which Dormant
// grants from the very first boot.
func TestCapabilityGatingPermitsDormantScout(t *testing.T) {
	registry := capability.NewRegistry()
	gate := governance.NewGate(doctrine.Default(), registry, governance.NewCapsChecker())

	task := &types.Task{
		TaskID:          "t1",
		Kind:            types.TaskKindScout,
		RiskTier:        types.RankE,
		ExpectsArtifact: true,
		Verifiable:      true,
	}

	decision := gate.Evaluate(task, runtimecfg.Default())
	assert.NotEqual(t, types.CommitBlocked, decision.State)
}

// TestCapsCheckerRejectsOverspend covers spec §4.4's caps gate: a task
// whose declared cost exceeds the per-task spending cap is blocked
// with a named reason.
func TestCapsCheckerRejectsOverspend(t *testing.T) {
	registry := capability.NewRegistry()
	gate := governance.NewGate(doctrine.Default(), registry, governance.NewCapsChecker())

	cfg := runtimecfg.Default()
	cfg.SpendingCapTask = 10

	task := &types.Task{
		TaskID:          "t1",
		Kind:            types.TaskKindScout,
		RiskTier:        types.RankE,
		ExpectsArtifact: true,
		Verifiable:      true,
		Params:          map[string]string{"cost_estimate": "1000"},
	}

	decision := gate.Evaluate(task, cfg)
	assert.Equal(t, types.CommitBlocked, decision.State)
}

// TestWorkerPoolEnforcesPerKindCap covers spec §8 scenario 3: a worker
// kind's hard cap refuses further admission once saturated, regardless
// of headroom in the total-worker budget.
func TestWorkerPoolEnforcesPerKindCap(t *testing.T) {
	cfg := runtimecfg.Default()
	cfg.MaxTotalWorkers = 8
	cfg.MaxPerKind = map[types.TaskKind]int{types.TaskKindBuilder: 1}

	registry := workerpool.NewRegistry(cfg, workerpool.DefaultDescriptors())

	assert.True(t, registry.CanSpawn(types.TaskKindBuilder))
	registry.RegisterSpawn(types.TaskKindBuilder)
	assert.False(t, registry.CanSpawn(types.TaskKindBuilder))

	registry.UnregisterWorker(types.TaskKindBuilder)
	assert.True(t, registry.CanSpawn(types.TaskKindBuilder))
}

// TestWorkerRegistryTryAcquireIsAtomic covers spec §8 scenario 3 at the
// registry level: many goroutines racing to spawn against a small cap
// must never drive liveTotal above the cap, which a separate
// CanSpawn-then-RegisterSpawn pair cannot guarantee under concurrent
// callers (run with -race).
func TestWorkerRegistryTryAcquireIsAtomic(t *testing.T) {
	cfg := runtimecfg.Default()
	cfg.MaxTotalWorkers = 2
	cfg.MaxPerKind = map[types.TaskKind]int{types.TaskKindScout: 2}

	registry := workerpool.NewRegistry(cfg, workerpool.DefaultDescriptors())

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var acquired int

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.TryAcquire(types.TaskKindScout) {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, acquired, 2)
	assert.LessOrEqual(t, registry.LiveTotal(), 2)
}
