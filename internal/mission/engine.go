// Package mission implements the Mission Engine (C8): the
// orchestration loop that decomposes a goal into tasks, gates each
// task through Governance and the Commit Engine, dispatches it via the
// Swarm, and folds results back into mission state.
//
// Grounded on the teacher's reconciler package for the
// "continuously reconcile desired vs actual, single loop per
// resource" shape, generalized from one cluster-wide reconcile tick to
// one goroutine per mission with its own task DAG.
package mission

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/sentinel/internal/capability"
	"github.com/cuemby/sentinel/internal/commit"
	"github.com/cuemby/sentinel/internal/governance"
	"github.com/cuemby/sentinel/internal/kernelerr"
	"github.com/cuemby/sentinel/internal/ledger"
	"github.com/cuemby/sentinel/internal/obslog"
	"github.com/cuemby/sentinel/internal/obsmetrics"
	"github.com/cuemby/sentinel/internal/planner"
	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/swarm"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/google/uuid"
)

// approvalSignal is sent to a blocked task's waiter once its
// NEEDS_CONFIRM countdown resolves, one way or the other.
type approvalSignal struct {
	granted bool
	reason  string
}

// missionHandle is the engine's live bookkeeping for one mission,
// distinct from the types.Mission value exposed to callers.
type missionHandle struct {
	mission *types.Mission
	tasks   map[string]*types.Task
	cancel  context.CancelFunc
	paused  bool
	resume  chan struct{} // closed by ResumeMission to release the run loop
	done    chan struct{}
	mu      sync.Mutex
}

// Engine owns every live mission and its tasks. Mutation of mission
// and task in-memory views happens exclusively here, and always as a
// consequence of a ledger append, per the ownership rule in §3.
type Engine struct {
	ledgerHandle *ledger.Ledger
	gate         *governance.Gate
	commitEngine *commit.Engine
	dispatcher   *swarm.Dispatcher
	registry     *capability.Registry
	planner      planner.Planner

	mu              sync.RWMutex
	cfg             runtimecfg.Config
	missions        map[string]*missionHandle
	idempotencyKeys map[string]string // idempotency_key -> mission_id

	waitersMu sync.Mutex
	waiters   map[string]chan approvalSignal // task_id -> waiter
}

// NewEngine builds a Mission Engine. The commit engine's expiry
// callback is wired to the returned Engine's HandleExpiry method by
// the caller (see internal/kernel), closing the loop between C7 and
// C8 without either package importing the other's concrete type.
func NewEngine(l *ledger.Ledger, gate *governance.Gate, ce *commit.Engine, d *swarm.Dispatcher, registry *capability.Registry, p planner.Planner, cfg runtimecfg.Config) *Engine {
	return &Engine{
		ledgerHandle:    l,
		gate:            gate,
		commitEngine:    ce,
		dispatcher:      d,
		registry:        registry,
		planner:         p,
		cfg:             cfg,
		missions:        make(map[string]*missionHandle),
		idempotencyKeys: make(map[string]string),
		waiters:         make(map[string]chan approvalSignal),
	}
}

// UpdateConfig swaps in new runtime configuration for future task
// evaluations. In-flight tasks are not re-gated mid-flight, per §5.
func (e *Engine) UpdateConfig(cfg runtimecfg.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// CreateMission decomposes goal into a task DAG and starts its
// orchestration loop. A repeated call with the same idempotencyKey
// (when non-empty) returns the existing mission instead of creating a
// new one.
func (e *Engine) CreateMission(ctx context.Context, goal, category string, constraints map[string]string, idempotencyKey string) (*types.Mission, error) {
	if idempotencyKey != "" {
		e.mu.RLock()
		existingID, ok := e.idempotencyKeys[idempotencyKey]
		e.mu.RUnlock()
		if ok {
			return e.snapshotMission(existingID)
		}
	}

	missionID := uuid.NewString()
	now := time.Now().UTC()

	mission := &types.Mission{
		MissionID:      missionID,
		Goal:           goal,
		Category:       category,
		Constraints:    constraints,
		IdempotencyKey: idempotencyKey,
		State:          types.MissionCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	mission.History = append(mission.History, types.MissionHistoryEntry{State: types.MissionCreated, Timestamp: now})

	if _, err := e.ledgerHandle.Append(ledger.KindMissionCreated, map[string]any{
		"mission_id": missionID, "goal": goal, "category": category,
		"constraints": constraints, "idempotency_key": idempotencyKey,
	}); err != nil {
		return nil, fmt.Errorf("mission: record creation: %w", err)
	}

	tasks, err := e.planner.Decompose(goal, category, constraints)
	if err != nil {
		return nil, e.reject(mission, fmt.Sprintf("decomposition failed: %v", err))
	}

	taskByID := make(map[string]*types.Task, len(tasks))
	taskIDs := make([]string, 0, len(tasks))
	for i := range tasks {
		tasks[i].TaskID = uuid.NewString()
		tasks[i].MissionID = missionID
		tasks[i].CreatedAt = now
		tasks[i].UpdatedAt = now
		taskByID[tasks[i].TaskID] = &tasks[i]
		taskIDs = append(taskIDs, tasks[i].TaskID)
	}
	mission.TaskIDs = taskIDs

	// The mission's rank is the highest risk tier among its tasks.
	rankOrder := map[types.Rank]int{types.RankE: 0, types.RankD: 1, types.RankC: 2, types.RankB: 3, types.RankA: 4, types.RankS: 5}
	mission.Rank = types.RankE
	for i := range tasks {
		if rankOrder[tasks[i].RiskTier] > rankOrder[mission.Rank] {
			mission.Rank = tasks[i].RiskTier
		}
	}

	if _, err := e.ledgerHandle.Append(ledger.KindMissionDecomposed, map[string]any{
		"mission_id": missionID, "task_ids": taskIDs, "fingerprint": planner.Fingerprint(tasks),
	}); err != nil {
		return nil, fmt.Errorf("mission: record decomposition: %w", err)
	}
	for _, task := range taskByID {
		if _, err := e.ledgerHandle.Append(ledger.KindTaskCreated, task); err != nil {
			return nil, fmt.Errorf("mission: record task creation: %w", err)
		}
	}

	if err := e.transition(mission, types.MissionQueued, "decomposed"); err != nil {
		return nil, err
	}

	handle := &missionHandle{
		mission: mission,
		tasks:   taskByID,
		done:    make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	handle.cancel = cancel

	e.mu.Lock()
	e.missions[missionID] = handle
	if idempotencyKey != "" {
		e.idempotencyKeys[idempotencyKey] = missionID
	}
	e.mu.Unlock()

	obsmetrics.MissionsTotal.WithLabelValues(string(types.MissionQueued)).Inc()
	obsmetrics.MissionsActive.Inc()

	go e.run(runCtx, handle)

	return e.snapshotMission(missionID)
}

func (e *Engine) reject(mission *types.Mission, reason string) error {
	if err := e.transition(mission, types.MissionRejected, reason); err != nil {
		return err
	}
	return fmt.Errorf("mission: rejected: %s", reason)
}

// transition appends a MissionStateChanged entry and updates the
// in-memory mission, which is always derived from history per §3.
func (e *Engine) transition(mission *types.Mission, newState types.MissionState, reason string) error {
	now := time.Now().UTC()
	if _, err := e.ledgerHandle.Append(ledger.KindMissionStateChanged, map[string]any{
		"mission_id": mission.MissionID, "new_state": newState, "reason": reason,
	}); err != nil {
		return fmt.Errorf("mission: record state change: %w", err)
	}
	mission.State = newState
	mission.UpdatedAt = now
	mission.History = append(mission.History, types.MissionHistoryEntry{State: newState, Timestamp: now, Reason: reason})

	if newState == types.MissionSuccess {
		unlock := e.registry.ObserveMissionSuccess()
		if unlock.Crossed {
			if _, err := e.ledgerHandle.Append(ledger.KindCapabilityUnlocked, map[string]any{
				"stage": unlock.Stage.String(), "capabilities": unlock.Caps,
				"success_count": e.registry.SuccessCount(),
			}); err != nil {
				return fmt.Errorf("mission: record capability unlock: %w", err)
			}
		}
	}
	return nil
}

// run is the per-mission orchestration loop: it dispatches every task
// whose dependencies are satisfied, waits for all in-flight tasks of
// the current wave to settle, and repeats until every task is terminal
// or the mission has failed outright.
func (e *Engine) run(ctx context.Context, h *missionHandle) {
	defer close(h.done)
	logger := obslog.WithMissionID(obslog.WithComponent("mission"), h.mission.MissionID)

	h.mu.Lock()
	if !h.paused { // a pause that landed first stays in force until ResumeMission
		_ = e.transition(h.mission, types.MissionRunning, "dispatch started")
	}
	h.mu.Unlock()

	missionFailed := false

	for {
		h.mu.Lock()
		for h.paused {
			resume := h.resume
			h.mu.Unlock()
			select {
			case <-ctx.Done():
				e.finalizeAborted(h)
				return
			case <-resume:
			}
			h.mu.Lock()
		}
		ready := e.readyTasks(h)
		h.mu.Unlock()

		if len(ready) == 0 {
			if e.allTerminal(h) {
				break
			}
			// Nothing ready but not all terminal: either waiting on
			// NEEDS_CONFIRM resolution or on a dependency; poll briefly.
			select {
			case <-ctx.Done():
				e.finalizeAborted(h)
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		var wg sync.WaitGroup
		for _, task := range ready {
			task := task
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := e.runTask(ctx, h, task); err != nil {
					logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("task execution error")
				}
			}()
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			e.finalizeAborted(h)
			return
		default:
		}

		e.checkpoint(h)

		h.mu.Lock()
		for _, task := range h.tasks {
			// TaskFailed is only ever set by settleTask at a genuinely
			// terminal point: governance/caps block, approval rejection,
			// or retryOrFail once attempts are exhausted. There is no
			// transient TaskFailed, so any occurrence fails the mission.
			if task.State == types.TaskFailed {
				missionFailed = true
			}
		}
		h.mu.Unlock()
		if missionFailed {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if missionFailed {
		_ = e.transition(h.mission, types.MissionFailure, "task failure exhausted retries")
	} else {
		_ = e.transition(h.mission, types.MissionSuccess, "all tasks succeeded")
	}
	obsmetrics.MissionsTotal.WithLabelValues(string(h.mission.State)).Inc()
	obsmetrics.MissionsActive.Dec()
}

func (e *Engine) finalizeAborted(h *missionHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = e.transition(h.mission, types.MissionAborted, "operator abort")
	obsmetrics.MissionsActive.Dec()
}

// readyTasks returns every pending task whose DependsOn are all
// succeeded, marking them ready under the caller's lock.
func (e *Engine) readyTasks(h *missionHandle) []*types.Task {
	var ready []*types.Task
	for _, task := range h.tasks {
		if task.State != types.TaskPending {
			continue
		}
		satisfied := true
		for _, dep := range task.DependsOn {
			if depTask, ok := h.tasks[dep]; !ok || depTask.State != types.TaskSucceeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			task.State = types.TaskReady
			ready = append(ready, task)
		}
	}
	return ready
}

func (e *Engine) allTerminal(h *missionHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, task := range h.tasks {
		switch task.State {
		case types.TaskSucceeded, types.TaskFailed, types.TaskAborted:
			continue
		default:
			return false
		}
	}
	return true
}

// runTask gates, commits, dispatches and settles a single task,
// including retry-with-backoff on retryable failure.
func (e *Engine) runTask(ctx context.Context, h *missionHandle, task *types.Task) error {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	decision := e.gate.Evaluate(task, cfg)
	if err := e.commitEngine.Evaluate(ctx, decision); err != nil {
		return err
	}

	switch decision.State {
	case types.CommitBlocked:
		e.settleTask(h, task, types.TaskFailed, decision.Reason)
		return nil

	case types.CommitNeedsConfirm:
		signal, err := e.awaitApproval(ctx, task.TaskID)
		if err != nil {
			return err
		}
		if !signal.granted {
			e.settleTask(h, task, types.TaskFailed, signal.reason)
			return nil
		}
		// fall through to dispatch
	}

	h.mu.Lock()
	firstDispatch := task.Attempts == 0
	h.mu.Unlock()
	if firstDispatch {
		e.gate.CommitSpend(task)
	}

	h.mu.Lock()
	task.State = types.TaskRunning
	task.Attempts++
	h.mu.Unlock()

	if _, err := e.ledgerHandle.Append(ledger.KindTaskDispatched, map[string]any{"task_id": task.TaskID, "kind": task.Kind}); err != nil {
		return fmt.Errorf("mission: record dispatch: %w", err)
	}
	obsmetrics.TasksDispatched.WithLabelValues(string(task.Kind)).Inc()

	result, err := e.dispatcher.Dispatch(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			if _, aerr := e.ledgerHandle.Append(ledger.KindTaskAborted, map[string]any{"task_id": task.TaskID, "reason": "mission aborted"}); aerr != nil {
				return fmt.Errorf("mission: record abort: %w", aerr)
			}
			e.settleTask(h, task, types.TaskAborted, "mission aborted")
			return nil
		}
		return e.handleDispatchFailure(h, task, err)
	}

	if _, err := e.ledgerHandle.Append(ledger.KindTaskCompleted, result); err != nil {
		return fmt.Errorf("mission: record completion: %w", err)
	}

	switch result.OverallStatus {
	case types.MergeSuccess:
		task.ArtifactIDs = artifactIDs(result)
		e.settleTask(h, task, types.TaskSucceeded, "")
	case types.MergePartial:
		e.settleTask(h, task, types.TaskSucceeded, "partial success accepted")
	default:
		e.retryOrFail(h, task, "worker failure")
	}
	return nil
}

func (e *Engine) handleDispatchFailure(h *missionHandle, task *types.Task, err error) error {
	switch {
	case kernelerr.IsCapacityExhausted(err):
		h.mu.Lock()
		task.State = types.TaskPending // re-queue for the next readiness pass
		h.mu.Unlock()
		return nil
	default:
		e.retryOrFail(h, task, err.Error())
		return nil
	}
}

// retryOrFail applies the exponential-backoff retry policy from §4.8:
// base 1s, factor 2, jitter +-25%, cap 30s, up to MaxAttempts.
func (e *Engine) retryOrFail(h *missionHandle, task *types.Task, reason string) {
	h.mu.Lock()
	attempts := task.Attempts
	maxAttempts := e.cfg.MaxAttempts
	retryable := task.Retryable
	h.mu.Unlock()

	if !retryable || attempts >= maxAttempts {
		e.settleTask(h, task, types.TaskFailed, reason)
		return
	}

	backoff := backoffFor(attempts - 1) // first retry waits the 1s base
	go func() {
		time.Sleep(backoff)
		h.mu.Lock()
		task.State = types.TaskPending
		h.mu.Unlock()
	}()
}

func backoffFor(attempt int) time.Duration {
	base := time.Second
	factor := 1 << attempt // 2^attempt
	d := base * time.Duration(factor)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jitter := time.Duration(float64(d) * 0.25 * (2*rand.Float64() - 1))
	return d + jitter
}

func (e *Engine) settleTask(h *missionHandle, task *types.Task, state types.TaskState, reason string) {
	h.mu.Lock()
	task.State = state
	task.UpdatedAt = time.Now().UTC()
	h.mu.Unlock()
	if state == types.TaskFailed {
		obsmetrics.TasksCompleted.WithLabelValues(string(task.Kind), "failure").Inc()
	}
	_ = reason
}

func artifactIDs(result types.MergeResult) []string {
	ids := make([]string, 0, len(result.AllArtifacts))
	for _, a := range result.AllArtifacts {
		ids = append(ids, a.ArtifactID)
	}
	return ids
}

// awaitApproval blocks until taskID's countdown resolves (approved or
// expired) or ctx is cancelled.
func (e *Engine) awaitApproval(ctx context.Context, taskID string) (approvalSignal, error) {
	ch := make(chan approvalSignal, 1)
	e.waitersMu.Lock()
	e.waiters[taskID] = ch
	e.waitersMu.Unlock()

	select {
	case sig := <-ch:
		return sig, nil
	case <-ctx.Done():
		e.waitersMu.Lock()
		delete(e.waiters, taskID)
		e.waitersMu.Unlock()
		return approvalSignal{}, ctx.Err()
	}
}

func (e *Engine) resolveWaiter(taskID string, sig approvalSignal) {
	e.waitersMu.Lock()
	ch, ok := e.waiters[taskID]
	if ok {
		delete(e.waiters, taskID)
	}
	e.waitersMu.Unlock()
	if ok {
		ch <- sig
	}
}

// HandleExpiry is the commit.ExpiryHandler wired in by internal/kernel.
func (e *Engine) HandleExpiry(taskID string) {
	e.resolveWaiter(taskID, approvalSignal{granted: false, reason: "approval_timeout"})
}

// ApproveTask forwards to the commit engine and, if the task is now
// fully approved, releases the waiting orchestration goroutine.
func (e *Engine) ApproveTask(taskID, approver string) (types.CommitState, error) {
	state, err := e.commitEngine.Approve(taskID, approver)
	if err != nil {
		return "", err
	}
	if state == types.CommitActionReady {
		e.resolveWaiter(taskID, approvalSignal{granted: true})
	}
	return state, nil
}

// RejectTask forwards to the commit engine and releases the waiter
// with a rejection outcome.
func (e *Engine) RejectTask(taskID, approver, reason string) (types.CommitState, error) {
	state, err := e.commitEngine.Reject(taskID, approver, reason)
	if err != nil {
		return "", err
	}
	e.resolveWaiter(taskID, approvalSignal{granted: false, reason: "rejected: " + reason})
	return state, nil
}

// checkpoint optionally writes a MissionSnapshot event. Snapshots are
// an optimization; replay from the raw log must yield the same state
// with or without them (§4.8).
func (e *Engine) checkpoint(h *missionHandle) {
	h.mu.Lock()
	snapshot := *h.mission
	h.mu.Unlock()
	_, _ = e.ledgerHandle.Append(ledger.KindMissionSnapshot, snapshot)
}

// PauseMission suspends mission's orchestration loop at its next wave
// boundary: no new tasks are dispatched until ResumeMission is called,
// but any wave already in flight runs to completion. Idempotent.
func (e *Engine) PauseMission(missionID string) (types.MissionState, error) {
	e.mu.RLock()
	h, ok := e.missions[missionID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mission: pause %s: %w", missionID, kernelerr.ErrNotFound)
	}

	h.mu.Lock()
	if h.paused {
		state := h.mission.State
		h.mu.Unlock()
		return state, nil
	}
	if h.mission.State != types.MissionRunning && h.mission.State != types.MissionQueued {
		state := h.mission.State
		h.mu.Unlock()
		return state, fmt.Errorf("mission: pause %s: %w", missionID, kernelerr.ErrIllegalTransition)
	}
	h.paused = true
	h.resume = make(chan struct{})
	if err := e.transition(h.mission, types.MissionPaused, "operator pause"); err != nil {
		h.mu.Unlock()
		return "", err
	}
	state := h.mission.State
	h.mu.Unlock()
	return state, nil
}

// ResumeMission releases a paused mission's orchestration loop.
// Idempotent: resuming a mission that is not paused is a no-op.
func (e *Engine) ResumeMission(missionID string) (types.MissionState, error) {
	e.mu.RLock()
	h, ok := e.missions[missionID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mission: resume %s: %w", missionID, kernelerr.ErrNotFound)
	}

	h.mu.Lock()
	if !h.paused {
		state := h.mission.State
		h.mu.Unlock()
		return state, nil
	}
	h.paused = false
	close(h.resume)
	if err := e.transition(h.mission, types.MissionRunning, "operator resume"); err != nil {
		h.mu.Unlock()
		return "", err
	}
	state := h.mission.State
	h.mu.Unlock()
	return state, nil
}

// AbortMission cancels mission's orchestration loop. In-flight
// dispatches observe ctx.Done() at their next step boundary, and a
// running step's context is cancelled at once; no grace period is
// applied (cfg.CancelGrace is not read).
func (e *Engine) AbortMission(missionID string) (types.MissionState, error) {
	e.mu.RLock()
	h, ok := e.missions[missionID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mission: abort %s: %w", missionID, kernelerr.ErrNotFound)
	}
	h.cancel()
	<-h.done
	return types.MissionAborted, nil
}

// GetMission returns a snapshot copy of mission by id.
func (e *Engine) GetMission(missionID string) (*types.Mission, error) {
	return e.snapshotMission(missionID)
}

func (e *Engine) snapshotMission(missionID string) (*types.Mission, error) {
	e.mu.RLock()
	h, ok := e.missions[missionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mission: get %s: %w", missionID, kernelerr.ErrNotFound)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	copyMission := *h.mission
	return &copyMission, nil
}

// ListMissions returns a snapshot of every mission currently tracked,
// optionally filtered by state.
func (e *Engine) ListMissions(stateFilter types.MissionState) []*types.Mission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.Mission, 0, len(e.missions))
	for _, h := range e.missions {
		h.mu.Lock()
		m := *h.mission
		h.mu.Unlock()
		if stateFilter != "" && m.State != stateFilter {
			continue
		}
		out = append(out, &m)
	}
	return out
}
