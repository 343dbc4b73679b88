package workerpool

import (
	"testing"

	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapsEnforceGlobalLimit(t *testing.T) {
	cfg := runtimecfg.Default()
	cfg.MaxTotalWorkers = 2
	r := NewRegistry(cfg, DefaultDescriptors())

	require.True(t, r.CanAdmit(types.TaskKindScout))
	r.RegisterSpawn(types.TaskKindScout)
	require.True(t, r.CanAdmit(types.TaskKindScout))
	r.RegisterSpawn(types.TaskKindScout)

	assert.False(t, r.CanAdmit(types.TaskKindScout), "at exactly max_total_workers, next admission must be refused")
	assert.Equal(t, 2, r.LiveTotal())
}

func TestUnregisterClampsAtZero(t *testing.T) {
	r := NewRegistry(runtimecfg.Default(), DefaultDescriptors())
	r.UnregisterWorker(types.TaskKindScout)
	r.UnregisterWorker(types.TaskKindScout)
	assert.Equal(t, 0, r.LiveTotal())
	assert.Equal(t, 0, r.LiveByKind(types.TaskKindScout))
}

func TestPerKindCapIndependentOfGlobal(t *testing.T) {
	cfg := runtimecfg.Default()
	cfg.MaxTotalWorkers = 10
	cfg.MaxPerKind = map[types.TaskKind]int{types.TaskKindScout: 1}
	r := NewRegistry(cfg, DefaultDescriptors())

	require.True(t, r.CanAdmit(types.TaskKindScout))
	r.RegisterSpawn(types.TaskKindScout)
	assert.False(t, r.CanAdmit(types.TaskKindScout))
}
