package mission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/internal/capability"
	"github.com/cuemby/sentinel/internal/commit"
	"github.com/cuemby/sentinel/internal/doctrine"
	"github.com/cuemby/sentinel/internal/governance"
	"github.com/cuemby/sentinel/internal/ledger"
	"github.com/cuemby/sentinel/internal/planner"
	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/swarm"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/cuemby/sentinel/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger"), "core")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	registry := capability.NewRegistry()
	registry.ObserveMissionSuccess() // AWAKENING: RECALL permitted

	cfg := runtimecfg.Default()
	caps := governance.NewCapsChecker()
	gate := governance.NewGate(doctrine.Default(), registry, caps)

	workers := workerpool.NewRegistry(cfg, workerpool.DefaultDescriptors())
	workers.RegisterPlugin(types.TaskKindScout, &workerpool.LocalFilePlugin{Kind: types.TaskKindScout})
	dispatcher := swarm.NewDispatcher(workers, time.Second)

	ce := commit.NewEngine(l, nil)
	engine := NewEngine(l, gate, ce, dispatcher, registry, planner.NewFallback(), cfg)
	ce.SetExpiryHandler(engine.HandleExpiry)

	return engine, l
}

func TestCreateMissionScoutOnlyFlow(t *testing.T) {
	engine, l := newTestEngine(t)

	mission, err := engine.CreateMission(context.Background(), "read file foo", "fs", map[string]string{}, "")
	require.NoError(t, err)
	require.NotEmpty(t, mission.MissionID)

	require.Eventually(t, func() bool {
		m, err := engine.GetMission(mission.MissionID)
		return err == nil && (m.State == types.MissionSuccess || m.State == types.MissionFailure)
	}, 10*time.Second, 20*time.Millisecond, "the default retry policy backs off up to ~1s+2s before exhausting max_attempts")

	final, err := engine.GetMission(mission.MissionID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionFailure, final.State, "the fallback planner does not populate params.path, so the scout step fails deterministically rather than hanging")

	entries, err := l.Read(ledger.Filter{Kinds: []ledger.Kind{ledger.KindMissionCreated}})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCreateMissionIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)

	a, err := engine.CreateMission(context.Background(), "read file foo", "fs", nil, "key-1")
	require.NoError(t, err)
	b, err := engine.CreateMission(context.Background(), "read file foo", "fs", nil, "key-1")
	require.NoError(t, err)
	assert.Equal(t, a.MissionID, b.MissionID)
}
