package commit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/internal/kernelerr"
	"github.com/cuemby/sentinel/internal/ledger"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger"), "core")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestEvaluateActionReady(t *testing.T) {
	l := newTestLedger(t)
	e := NewEngine(l, nil)

	decision := types.CommitDecision{TaskID: "t1", State: types.CommitActionReady, Risk: types.RankE, DecidedAt: time.Now()}
	require.NoError(t, e.Evaluate(context.Background(), decision))

	entries, err := l.Read(ledger.Filter{Kinds: []ledger.Kind{ledger.KindTaskCommitDecided}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestApproveSingleShotIdempotent(t *testing.T) {
	l := newTestLedger(t)
	e := NewEngine(l, nil)

	decision := types.CommitDecision{
		TaskID: "t2", State: types.CommitNeedsConfirm, Risk: types.RankA,
		CountdownSeconds: 10, ApproversRequired: 1, DecidedAt: time.Now(),
	}
	require.NoError(t, e.Evaluate(context.Background(), decision))

	state, err := e.Approve("t2", "op1")
	require.NoError(t, err)
	assert.Equal(t, types.CommitActionReady, state)

	// Re-approving is a no-op: the task is already removed from pending.
	_, err = e.Approve("t2", "op1")
	assert.ErrorIs(t, err, kernelerr.ErrNotPending)
}

func TestRejectBlocksImmediately(t *testing.T) {
	l := newTestLedger(t)
	e := NewEngine(l, nil)

	decision := types.CommitDecision{
		TaskID: "t3", State: types.CommitNeedsConfirm, Risk: types.RankA,
		CountdownSeconds: 10, ApproversRequired: 1, DecidedAt: time.Now(),
	}
	require.NoError(t, e.Evaluate(context.Background(), decision))

	state, err := e.Reject("t3", "op1", "not now")
	require.NoError(t, err)
	assert.Equal(t, types.CommitBlocked, state)
}

func TestSweepExpiresZeroCountdown(t *testing.T) {
	l := newTestLedger(t)
	var expired string
	e := NewEngine(l, func(taskID string) { expired = taskID })

	decision := types.CommitDecision{
		TaskID: "t4", State: types.CommitNeedsConfirm, Risk: types.RankB,
		CountdownSeconds: 0, ApproversRequired: 1, DecidedAt: time.Now().Add(-time.Millisecond),
	}
	require.NoError(t, e.Evaluate(context.Background(), decision))

	e.sweep()
	assert.Equal(t, "t4", expired)

	entries, err := l.Read(ledger.Filter{Kinds: []ledger.Kind{ledger.KindCommitExpired}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRecoverRebuildsPending(t *testing.T) {
	l := newTestLedger(t)
	e := NewEngine(l, nil)
	decision := types.CommitDecision{
		TaskID: "t5", State: types.CommitNeedsConfirm, Risk: types.RankA,
		CountdownSeconds: 600, ApproversRequired: 1, DecidedAt: time.Now(),
	}
	require.NoError(t, e.Evaluate(context.Background(), decision))

	entries, err := l.Read(ledger.Filter{})
	require.NoError(t, err)

	fresh := NewEngine(l, nil)
	require.NoError(t, fresh.Recover(entries))
	fresh.mu.Lock()
	_, ok := fresh.pending["t5"]
	fresh.mu.Unlock()
	assert.True(t, ok)
}
