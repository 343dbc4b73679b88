package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageThresholds(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, Dormant, r.Stage())
	assert.Equal(t, []string{RECALL}, r.PermittedSet())

	res := r.ObserveMissionSuccess()
	require.True(t, res.Crossed)
	assert.Equal(t, Awakening, r.Stage())
	assert.True(t, r.Permitted(RECALL))
	assert.False(t, r.Permitted(WORKER_SPAWN))

	for i := 0; i < 8; i++ {
		r.ObserveMissionSuccess()
	}
	assert.Equal(t, Awakening, r.Stage(), "threshold of 10 not yet reached at count 9")

	res = r.ObserveMissionSuccess() // 10th success
	require.True(t, res.Crossed)
	assert.Equal(t, Forging, r.Stage())
	assert.True(t, r.Permitted(WORKER_SPAWN))
}

func TestStageNeverDowngrades(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 10; i++ {
		r.ObserveMissionSuccess()
	}
	require.Equal(t, Forging, r.Stage())

	// Rebuilding from a shorter history (simulating a corrupted tail
	// that lost entries) must never report a lower stage than what a
	// full replay of that same (shorter) history implies; monotonicity
	// is about never reporting less than previously observed within one
	// process, which Rebuild from full history upholds by construction.
	r2, err := Rebuild(nil)
	require.NoError(t, err)
	assert.Equal(t, Dormant, r2.Stage())
}

func TestPermittedIsPureFunctionOfStage(t *testing.T) {
	r := NewRegistry()
	before := r.Permitted(RECALL)
	r.ObserveMissionSuccess()
	after := r.Permitted(RECALL)
	assert.False(t, before)
	assert.True(t, after)
}
