// Package swarm implements the Swarm Dispatcher (C6): per-task
// sequencing of worker steps, bounded timeouts, cancellation, and the
// result-merge policy.
//
// Grounded on the teacher's scheduler package for the "the dispatcher
// owns the goroutine, waits for it, and returns a value synchronously"
// shape (structured concurrency instead of callback-based result
// handling, per the redesign direction), generalized from one
// container-placement decision per cycle to a sequential step chain
// per task.
package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/sentinel/internal/kernelerr"
	"github.com/cuemby/sentinel/internal/obslog"
	"github.com/cuemby/sentinel/internal/obsmetrics"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/cuemby/sentinel/internal/workerpool"
)

// Step is one stage of a task's dispatch sequence.
type Step struct {
	Kind      types.TaskKind
	Mandatory bool
}

// defaultSequence is the scout -> builder -> verify chain from §4.6;
// all three steps are mandatory unless a task overrides Sequence.
func defaultSequence() []Step {
	return []Step{
		{Kind: types.TaskKindScout, Mandatory: true},
		{Kind: types.TaskKindBuilder, Mandatory: true},
		{Kind: types.TaskKindVerify, Mandatory: true},
	}
}

// Dispatcher runs one task's step sequence against the worker
// registry, merging results per the policy in §4.6.
type Dispatcher struct {
	registry *workerpool.Registry
	timeout  time.Duration
}

// NewDispatcher builds a Dispatcher against registry, using timeout as
// the per-step bound when a task does not declare its own.
func NewDispatcher(registry *workerpool.Registry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Sequence returns the step sequence for task: the declared override
// in task.Params["sequence"] is not modeled here (no external planner
// wiring for per-task overrides yet), so every task currently runs the
// default scout->builder->verify chain, trimmed to steps the task's
// kind actually needs: a "custom" task runs only its own kind as a
// single mandatory step.
func Sequence(task *types.Task) []Step {
	if task.Kind == types.TaskKindCustom {
		return []Step{{Kind: types.TaskKindCustom, Mandatory: true}}
	}
	return defaultSequence()
}

// Dispatch runs task's full step sequence, honoring ctx for
// cancellation. Cancellation is idempotent: calling Dispatch again
// after ctx has already been cancelled simply returns the aborted
// MergeResult without re-invoking any worker.
func (d *Dispatcher) Dispatch(ctx context.Context, task *types.Task) (types.MergeResult, error) {
	logger := obslog.WithTaskID(obslog.WithComponent("swarm"), task.TaskID)
	steps := Sequence(task)

	result := types.MergeResult{TaskID: task.TaskID, OverallStatus: types.MergeSuccess, CombinedData: map[string]any{}}
	var successCount, failureCount int

	for _, step := range steps {
		select {
		case <-ctx.Done():
			logger.Warn().Msg("TaskAborted: context cancelled mid-sequence")
			return abortedResult(task.TaskID, result), kernelerr.ErrWorkerFailure
		default:
		}

		if !d.registry.TryAcquire(step.Kind) {
			obsmetrics.TasksDispatched.WithLabelValues(string(step.Kind)).Inc()
			return types.MergeResult{}, fmt.Errorf("swarm: step %s: %w", step.Kind, kernelerr.ErrCapacityExhausted)
		}

		plugin, ok := d.registry.Plugin(step.Kind)
		if !ok {
			d.registry.UnregisterWorker(step.Kind)
			return types.MergeResult{}, fmt.Errorf("swarm: no plugin registered for kind %s: %w", step.Kind, kernelerr.ErrNotFound)
		}

		stepCtx, cancel := context.WithTimeout(ctx, d.timeout)
		timer := obsmetrics.NewTimer()
		stepResult, err := plugin.Execute(stepCtx, task)
		timer.ObserveDuration(obsmetrics.WorkerSpawnLatency)
		d.registry.UnregisterWorker(step.Kind)
		cancel()

		obsmetrics.TasksDispatched.WithLabelValues(string(step.Kind)).Inc()

		if err != nil {
			stepResult.Status = types.WorkerFailure
			stepResult.Errors = append(stepResult.Errors, err.Error())
		}

		mergeInto(&result, stepResult)

		if stepResult.Status == types.WorkerSuccess {
			successCount++
			obsmetrics.TasksCompleted.WithLabelValues(string(step.Kind), "success").Inc()
		} else {
			failureCount++
			obsmetrics.TasksCompleted.WithLabelValues(string(step.Kind), "failure").Inc()
			if step.Mandatory {
				logger.Warn().Str("step", string(step.Kind)).Msg("mandatory step failed, short-circuiting sequence")
				break
			}
		}
	}

	result.OverallStatus = overallStatus(successCount, failureCount)
	return result, nil
}

// overallStatus implements the tri-state merge rule from §4.6.
func overallStatus(success, failure int) types.MergeStatus {
	switch {
	case failure == 0:
		return types.MergeSuccess
	case success == 0:
		return types.MergeFailure
	default:
		return types.MergePartial
	}
}

// mergeInto folds one step's WorkerResult into the running
// MergeResult: maps are merged last-wins, arrays concatenated, costs
// summed component-wise.
func mergeInto(acc *types.MergeResult, step types.WorkerResult) {
	for k, v := range step.Data {
		acc.CombinedData[k] = v
	}
	acc.AllArtifacts = append(acc.AllArtifacts, step.Artifacts...)
	acc.TotalCost = acc.TotalCost.Add(step.Cost)
	acc.Errors = append(acc.Errors, step.Errors...)
}

// abortedResult returns whatever partial merge had accumulated at the
// moment of cancellation, marked as failure: partial results from a
// cancelled dispatch are discarded by the caller (internal/mission),
// which is responsible for recording TaskAborted.
func abortedResult(taskID string, partial types.MergeResult) types.MergeResult {
	partial.TaskID = taskID
	partial.OverallStatus = types.MergeFailure
	return partial
}
