// Package commit implements the Commit Engine (C7): the "never stall"
// state machine that turns a Governance CommitDecision into dispatch,
// a pending approval countdown, or a named block.
//
// Countdown sweeping is grounded on nothing in the teacher repo
// directly (warren has no analogous timed-approval concept); it is
// built from robfig/cron/v3, the periodic-scheduling library the
// broader example pack uses, driving a @every-style sweep instead of a
// per-task in-process timer so that a restarted process recovers
// countdowns purely by replaying the wall-clock deadlines already
// recorded in NEEDS_CONFIRM ledger entries (see Recover).
package commit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/sentinel/internal/kernelerr"
	"github.com/cuemby/sentinel/internal/ledger"
	"github.com/cuemby/sentinel/internal/obslog"
	"github.com/cuemby/sentinel/internal/obsmetrics"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/robfig/cron/v3"
)

// pending is one task's in-memory NEEDS_CONFIRM bookkeeping.
type pending struct {
	decision   types.CommitDecision
	deadline   time.Time
	approvedBy map[string]bool
}

// ExpiryHandler is invoked once a pending task's countdown elapses
// without sufficient approval. The Commit Engine itself never touches
// the Mission Engine's state directly — it calls back through this
// narrow seam instead, per the "no cyclic ownership" redesign
// direction.
type ExpiryHandler func(taskID string)

// Engine tracks every task currently in NEEDS_CONFIRM and sweeps
// expired countdowns to BLOCKED on a periodic tick.
type Engine struct {
	ledgerHandle *ledger.Ledger
	onExpiry     ExpiryHandler

	mu      sync.Mutex
	pending map[string]*pending

	sched *cron.Cron
}

// NewEngine builds an Engine. onExpiry may be nil in tests that only
// exercise Evaluate/Approve/Reject directly, or when the caller will
// wire one in afterwards via SetExpiryHandler (used to break the
// construction cycle between the Commit Engine and the Mission
// Engine, which each need a reference to the other's callback).
func NewEngine(l *ledger.Ledger, onExpiry ExpiryHandler) *Engine {
	return &Engine{
		ledgerHandle: l,
		onExpiry:     onExpiry,
		pending:      make(map[string]*pending),
		sched:        cron.New(cron.WithSeconds()),
	}
}

// SetExpiryHandler assigns (or replaces) the callback invoked when a
// pending task's countdown expires.
func (e *Engine) SetExpiryHandler(onExpiry ExpiryHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExpiry = onExpiry
}

// Start begins the periodic countdown sweep (every second).
func (e *Engine) Start() error {
	_, err := e.sched.AddFunc("* * * * * *", e.sweep)
	if err != nil {
		return fmt.Errorf("commit: schedule sweep: %w", err)
	}
	e.sched.Start()
	return nil
}

// Stop halts the sweep, waiting for any in-flight tick to finish.
func (e *Engine) Stop() {
	ctx := e.sched.Stop()
	<-ctx.Done()
}

// Evaluate records decision as the task's CommitDecision and, for
// NEEDS_CONFIRM, registers the countdown. It always appends exactly
// one TaskCommitDecided entry; Commit completeness (§8 invariant 8)
// holds because every task reaching Evaluate lands in exactly one of
// ACTION_READY/NEEDS_CONFIRM/BLOCKED.
func (e *Engine) Evaluate(ctx context.Context, decision types.CommitDecision) error {
	if _, err := e.ledgerHandle.Append(ledger.KindTaskCommitDecided, decision); err != nil {
		return fmt.Errorf("commit: record decision: %w", err)
	}
	obsmetrics.CommitDecisions.WithLabelValues(string(decision.State)).Inc()

	if decision.State != types.CommitNeedsConfirm {
		return nil
	}

	e.mu.Lock()
	e.pending[decision.TaskID] = &pending{
		decision:   decision,
		deadline:   decision.DecidedAt.Add(time.Duration(decision.CountdownSeconds) * time.Second),
		approvedBy: make(map[string]bool),
	}
	e.mu.Unlock()

	_, err := e.ledgerHandle.Append(ledger.KindApprovalRequested, map[string]any{
		"task_id":            decision.TaskID,
		"countdown_seconds":  decision.CountdownSeconds,
		"approvers_required": decision.ApproversRequired,
	})
	if err != nil {
		return fmt.Errorf("commit: record approval request: %w", err)
	}
	return nil
}

// Approve records approverID's approval for taskID. Re-approval by the
// same approver while the task is still pending is a no-op that appends
// nothing (idempotent single-shot semantics, per §4.7); once the task
// has been fully approved it is no longer pending, and any further
// approval returns ErrNotPending without appending anything.
func (e *Engine) Approve(taskID, approverID string) (types.CommitState, error) {
	e.mu.Lock()
	p, ok := e.pending[taskID]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("commit: approve %s: %w", taskID, kernelerr.ErrNotPending)
	}
	if time.Now().After(p.deadline) {
		e.mu.Unlock()
		return "", fmt.Errorf("commit: approve %s: %w", taskID, kernelerr.ErrNotPending)
	}
	if p.approvedBy[approverID] {
		e.mu.Unlock()
		// Single-shot: the same approver approving twice changes nothing.
		return types.CommitNeedsConfirm, nil
	}
	p.approvedBy[approverID] = true
	required := p.decision.ApproversRequired
	if required < 1 {
		required = 1
	}
	grantedEnough := len(p.approvedBy) >= required
	if grantedEnough {
		delete(e.pending, taskID)
	}
	e.mu.Unlock()

	if _, err := e.ledgerHandle.Append(ledger.KindApprovalGranted, map[string]any{
		"task_id": taskID, "approver": approverID,
	}); err != nil {
		return "", fmt.Errorf("commit: record approval: %w", err)
	}

	if !grantedEnough {
		return types.CommitNeedsConfirm, nil
	}
	return types.CommitActionReady, nil
}

// Reject immediately blocks taskID with the operator's reason.
func (e *Engine) Reject(taskID, approverID, reason string) (types.CommitState, error) {
	e.mu.Lock()
	_, ok := e.pending[taskID]
	if ok {
		delete(e.pending, taskID)
	}
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("commit: reject %s: %w", taskID, kernelerr.ErrNotPending)
	}

	if _, err := e.ledgerHandle.Append(ledger.KindApprovalRejected, map[string]any{
		"task_id": taskID, "approver": approverID, "reason": reason,
	}); err != nil {
		return "", fmt.Errorf("commit: record rejection: %w", err)
	}
	return types.CommitBlocked, nil
}

// sweep is the cron tick body: it blocks every pending task whose
// deadline has passed.
func (e *Engine) sweep() {
	now := time.Now()
	logger := obslog.WithComponent("commit")

	e.mu.Lock()
	var expired []string
	for taskID, p := range e.pending {
		if now.After(p.deadline) {
			expired = append(expired, taskID)
			delete(e.pending, taskID)
		}
	}
	handler := e.onExpiry
	e.mu.Unlock()

	for _, taskID := range expired {
		if _, err := e.ledgerHandle.Append(ledger.KindCommitExpired, map[string]any{"task_id": taskID}); err != nil {
			logger.Error().Err(err).Str("task_id", taskID).Msg("failed to record CommitExpired")
			continue
		}
		obsmetrics.CommitExpired.Inc()
		if handler != nil {
			handler(taskID)
		}
	}
}

// Recover rebuilds in-memory pending state after a restart by
// replaying NEEDS_CONFIRM TaskCommitDecided entries that have no matching
// ApprovalGranted(enough)/ApprovalRejected/CommitExpired. Any
// recovered pending task whose deadline has already passed is swept
// on the very next tick rather than being silently executed, per the
// "countdown of 0 must not short-circuit to ACTION_READY" boundary
// behavior.
func (e *Engine) Recover(entries []ledger.Entry) error {
	type approvalState struct {
		decision  types.CommitDecision
		countdown int
		approvers int
		approved  map[string]bool
		resolved  bool
	}
	byTask := make(map[string]*approvalState)

	for _, ent := range entries {
		switch ent.Kind {
		case ledger.KindTaskCommitDecided:
			var d types.CommitDecision
			if err := unmarshal(ent.Payload, &d); err != nil {
				continue
			}
			if d.State == types.CommitNeedsConfirm {
				byTask[d.TaskID] = &approvalState{decision: d, approved: make(map[string]bool)}
			}
		case ledger.KindApprovalGranted:
			var p struct {
				TaskID   string `json:"task_id"`
				Approver string `json:"approver"`
			}
			if err := unmarshal(ent.Payload, &p); err != nil {
				continue
			}
			if st, ok := byTask[p.TaskID]; ok {
				st.approved[p.Approver] = true
			}
		case ledger.KindApprovalRejected, ledger.KindCommitExpired:
			var p struct {
				TaskID string `json:"task_id"`
			}
			if err := unmarshal(ent.Payload, &p); err != nil {
				continue
			}
			if st, ok := byTask[p.TaskID]; ok {
				st.resolved = true
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for taskID, st := range byTask {
		required := st.decision.ApproversRequired
		if required < 1 {
			required = 1
		}
		if st.resolved || len(st.approved) >= required {
			continue
		}
		e.pending[taskID] = &pending{
			decision:   st.decision,
			deadline:   st.decision.DecidedAt.Add(time.Duration(st.decision.CountdownSeconds) * time.Second),
			approvedBy: st.approved,
		}
	}
	return nil
}
