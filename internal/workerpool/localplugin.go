package workerpool

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/sentinel/internal/types"
)

// LocalFilePlugin is the built-in reference implementation for the
// scout/builder/verify kinds: scout reads a file named by
// params["path"], builder writes params["content"] to params["path"],
// and verify confirms the file exists and is non-empty. It has no
// external dependencies, which makes it the safe default for a fresh
// install and a deterministic base for tests.
type LocalFilePlugin struct {
	Kind types.TaskKind
}

// Preview reports what Execute would do without touching the
// filesystem.
func (p *LocalFilePlugin) Preview(ctx context.Context, task *types.Task) (types.WorkerResult, error) {
	path := task.Params["path"]
	return types.WorkerResult{
		Kind:   p.Kind,
		Status: types.WorkerSuccess,
		Data:   map[string]any{"would_touch": path},
	}, nil
}

// Execute performs the kind-specific filesystem action.
func (p *LocalFilePlugin) Execute(ctx context.Context, task *types.Task) (types.WorkerResult, error) {
	start := time.Now()
	path := task.Params["path"]
	if path == "" {
		return types.WorkerResult{Kind: p.Kind, Status: types.WorkerFailure, Errors: []string{"missing params.path"}}, nil
	}

	select {
	case <-ctx.Done():
		return types.WorkerResult{Kind: p.Kind, Status: types.WorkerFailure, Errors: []string{ctx.Err().Error()}}, ctx.Err()
	default:
	}

	var data map[string]any
	var artifacts []*types.Artifact

	switch p.Kind {
	case types.TaskKindScout:
		content, err := os.ReadFile(path)
		if err != nil {
			return types.WorkerResult{Kind: p.Kind, Status: types.WorkerFailure, Errors: []string{err.Error()}}, nil
		}
		data = map[string]any{"path": path, "size": len(content)}

	case types.TaskKindBuilder:
		content := task.Params["content"]
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return types.WorkerResult{Kind: p.Kind, Status: types.WorkerFailure, Errors: []string{err.Error()}}, nil
		}
		data = map[string]any{"path": path, "written": len(content)}
		artifacts = append(artifacts, &types.Artifact{
			TaskID:    task.TaskID,
			MissionID: task.MissionID,
			Type:      types.ArtifactData,
			Version:   1,
			Status:    types.ArtifactPendingReview,
			ContentRef: path,
			CreatedAt: time.Now().UTC(),
		})

	case types.TaskKindVerify:
		info, err := os.Stat(path)
		if err != nil {
			return types.WorkerResult{Kind: p.Kind, Status: types.WorkerFailure, Errors: []string{err.Error()}}, nil
		}
		if info.Size() == 0 {
			return types.WorkerResult{Kind: p.Kind, Status: types.WorkerFailure, Errors: []string{fmt.Sprintf("%s is empty", path)}}, nil
		}
		data = map[string]any{"path": path, "verified_size": info.Size()}

	default:
		return types.WorkerResult{Kind: p.Kind, Status: types.WorkerFailure, Errors: []string{fmt.Sprintf("unsupported kind %s", p.Kind)}}, nil
	}

	return types.WorkerResult{
		Kind:      p.Kind,
		Status:    types.WorkerSuccess,
		Data:      data,
		Artifacts: artifacts,
		Cost:      types.Cost{Duration: time.Since(start), APICalls: 1},
	}, nil
}

// Rollback is a no-op for scout/verify (no side effect to undo) and
// removes the written file for builder.
func (p *LocalFilePlugin) Rollback(ctx context.Context, task *types.Task) error {
	if p.Kind != types.TaskKindBuilder {
		return nil
	}
	path := task.Params["path"]
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rollback: remove %s: %w", path, err)
	}
	return nil
}
