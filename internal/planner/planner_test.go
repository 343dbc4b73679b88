package planner

import (
	"testing"

	"github.com/cuemby/sentinel/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackIsDeterministic(t *testing.T) {
	p := NewFallback()
	a, err := p.Decompose("read file foo", "fs", map[string]string{})
	require.NoError(t, err)
	b, err := p.Decompose("read file foo", "fs", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFallbackScoutOnlyForReadGoal(t *testing.T) {
	p := NewFallback()
	tasks, err := p.Decompose("read file foo", "fs", map[string]string{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.TaskKindScout, tasks[0].Kind)
}

func TestFallbackDeleteGoalIsHighRisk(t *testing.T) {
	p := NewFallback()
	tasks, err := p.Decompose("delete file bar", "fs", map[string]string{})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, types.RankA, tasks[1].RiskTier)
}
