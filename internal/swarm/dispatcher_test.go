package swarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/cuemby/sentinel/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *workerpool.Registry) {
	t.Helper()
	cfg := runtimecfg.Default()
	registry := workerpool.NewRegistry(cfg, workerpool.DefaultDescriptors())
	registry.RegisterPlugin(types.TaskKindScout, &workerpool.LocalFilePlugin{Kind: types.TaskKindScout})
	registry.RegisterPlugin(types.TaskKindBuilder, &workerpool.LocalFilePlugin{Kind: types.TaskKindBuilder})
	registry.RegisterPlugin(types.TaskKindVerify, &workerpool.LocalFilePlugin{Kind: types.TaskKindVerify})
	return NewDispatcher(registry, 2*time.Second), registry
}

func TestDispatchSuccessSequence(t *testing.T) {
	d, _ := newTestDispatcher(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.txt")

	task := &types.Task{
		TaskID:    "t1",
		MissionID: "m1",
		Kind:      types.TaskKindBuilder,
		Params:    map[string]string{"path": path, "content": "hello"},
	}

	result, err := d.Dispatch(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, types.MergeSuccess, result.OverallStatus)
	assert.Len(t, result.AllArtifacts, 1)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestDispatchShortCircuitsOnMandatoryFailure(t *testing.T) {
	d, _ := newTestDispatcher(t)

	task := &types.Task{
		TaskID:    "t2",
		MissionID: "m1",
		Kind:      types.TaskKindBuilder,
		Params:    map[string]string{"path": "/nonexistent/dir/file.txt", "content": "x"},
	}

	result, err := d.Dispatch(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, types.MergeFailure, result.OverallStatus)
}

func TestDispatchCapacityExhausted(t *testing.T) {
	cfg := runtimecfg.Default()
	cfg.MaxTotalWorkers = 0
	registry := workerpool.NewRegistry(cfg, workerpool.DefaultDescriptors())
	registry.RegisterPlugin(types.TaskKindScout, &workerpool.LocalFilePlugin{Kind: types.TaskKindScout})
	d := NewDispatcher(registry, time.Second)

	task := &types.Task{TaskID: "t3", Kind: types.TaskKindCustom}
	_, err := d.Dispatch(context.Background(), task)
	assert.Error(t, err)
}
