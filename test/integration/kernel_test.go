// Package integration exercises internal/kernel end to end against a
// real ledger on t.TempDir(), covering the scenarios in spec §8:
// scout-only missions, approval-required missions, worker cap
// enforcement, capability gating and replay determinism.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/internal/kernel"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootKernel(t *testing.T, dataDir string) *kernel.Kernel {
	t.Helper()
	k, err := kernel.Boot(kernel.Options{
		DataDir:        dataDir,
		DoctrinePath:   filepath.Join(dataDir, "doctrine.json"),
		ConfigPath:     filepath.Join(dataDir, "runtime.json"),
		ApproverSecret: []byte("test-secret"),
	})
	require.NoError(t, err)
	return k
}

func waitForMissionState(t *testing.T, k *kernel.Kernel, missionID string, want types.MissionState, timeout time.Duration) *types.Mission {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		m, err := k.GetMission(missionID)
		require.NoError(t, err)
		if m.State == want {
			return m
		}
		if time.Now().After(deadline) {
			t.Fatalf("mission %s did not reach %s within %s, last state %s", missionID, want, timeout, m.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// reachForging runs ten scout-only missions to completion so the
// capability registry crosses into FORGING (threshold: 10 successful
// missions) and unlocks WORKER_SPAWN. A fresh kernel starts DORMANT,
// where only RECALL is granted — a builder task would be capability-
// blocked before it ever reaches a risk-tier decision, so tests that
// want to exercise NEEDS_CONFIRM on a builder task need to climb the
// ladder first, the same way a real operator would.
func reachForging(t *testing.T, k *kernel.Kernel, dir string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		target := filepath.Join(dir, fmt.Sprintf("bootstrap-%d.txt", i))
		require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
		m, err := k.CreateMission(context.Background(), "inspect the file", "inspection",
			map[string]string{"path": target}, "")
		require.NoError(t, err)
		waitForMissionState(t, k, m.MissionID, types.MissionSuccess, 5*time.Second)
	}
	stage, permitted := k.GetCapability()
	require.Equal(t, "FORGING", stage.String())
	require.Contains(t, permitted, "WORKER_SPAWN")
}

// TestScoutOnlyMission covers the E-tier, scout-only path: a read-only
// goal decomposes to a single scout task with no approval window and
// runs straight through to SUCCESS.
func TestScoutOnlyMission(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()
	k := bootKernel(t, dir)
	defer k.Shutdown()

	target := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	m, err := k.CreateMission(context.Background(), "list the contents of the report", "inspection",
		map[string]string{"path": target}, "")
	require.NoError(t, err)
	require.Len(t, m.TaskIDs, 1)

	final := waitForMissionState(t, k, m.MissionID, types.MissionSuccess, 5*time.Second)
	assert.Equal(t, types.RankE, final.Rank)
}

// TestApprovalRequiredMission covers the A-tier path: an irreversible
// goal parks its scout/builder/verify tasks in NEEDS_CONFIRM until an
// approver token is presented, then resumes to SUCCESS.
func TestApprovalRequiredMission(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()
	k := bootKernel(t, dir)
	defer k.Shutdown()

	reachForging(t, k, dir)

	target := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(target, []byte("remove me"), 0o644))

	m, err := k.CreateMission(context.Background(), "delete the stale file", "cleanup",
		map[string]string{"path": target, "content": ""}, "")
	require.NoError(t, err)

	token, err := k.IssueApproverToken("operator-1")
	require.NoError(t, err)

	// The mission's scout/builder/verify tasks have no declared
	// dependency order, so they can all land in NEEDS_CONFIRM at
	// slightly different times. Drain the commit queue repeatedly,
	// approving whatever is waiting, until the mission resolves.
	var sawAny bool
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mission, err := k.GetMission(m.MissionID)
		require.NoError(t, err)
		if mission.State == types.MissionSuccess || mission.State == types.MissionFailure {
			break
		}
		for _, entry := range k.CommitQueue() {
			sawAny = true
			_, _ = k.ApproveTask(entry.TaskID, token)
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, sawAny, "expected at least one task to reach the commit queue awaiting confirmation")

	waitForMissionState(t, k, m.MissionID, types.MissionSuccess, 5*time.Second)
}

// TestApproveTaskRejectsBadToken covers spec §6's Unauthorized error
// family: an unverifiable token must never grant an approval.
func TestApproveTaskRejectsBadToken(t *testing.T) {
	dir := t.TempDir()
	k := bootKernel(t, dir)
	defer k.Shutdown()

	_, err := k.ApproveTask("task-does-not-matter", "not-a-real-token")
	assert.Error(t, err)
}

// TestIdempotentCreateMission covers spec §8's round-trip property:
// repeating CreateMission with the same idempotency key must return
// the original mission, not create a second one.
func TestIdempotentCreateMission(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()
	k := bootKernel(t, dir)
	defer k.Shutdown()

	target := filepath.Join(dir, "idempotent.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	first, err := k.CreateMission(context.Background(), "inspect the file", "inspection",
		map[string]string{"path": target}, "op-retry-1")
	require.NoError(t, err)

	second, err := k.CreateMission(context.Background(), "inspect the file", "inspection",
		map[string]string{"path": target}, "op-retry-1")
	require.NoError(t, err)

	assert.Equal(t, first.MissionID, second.MissionID)
	assert.Len(t, k.ListMissions(""), 1)
}

// TestPauseResumeMission covers genuine mid-loop suspension: a paused
// mission must not progress, and must resume cleanly to SUCCESS.
func TestPauseResumeMission(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()
	k := bootKernel(t, dir)
	defer k.Shutdown()

	reachForging(t, k, dir)

	target := filepath.Join(dir, "pausable.txt")
	require.NoError(t, os.WriteFile(target, []byte("remove me"), 0o644))

	// A goal requiring approval (RankA) keeps the mission open on its
	// own, independent of pause, so the pause/resume assertions below
	// aren't racing a mission that might finish on its own first.
	m, err := k.CreateMission(context.Background(), "delete the pausable file", "cleanup",
		map[string]string{"path": target, "content": ""}, "")
	require.NoError(t, err)

	state, err := k.PauseMission(m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionPaused, state)

	time.Sleep(100 * time.Millisecond)
	paused, err := k.GetMission(m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionPaused, paused.State)

	state, err = k.ResumeMission(m.MissionID)
	require.NoError(t, err)
	assert.NotEqual(t, types.MissionPaused, state)

	token, err := k.IssueApproverToken("operator-1")
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mission, err := k.GetMission(m.MissionID)
		require.NoError(t, err)
		if mission.State == types.MissionSuccess {
			break
		}
		for _, entry := range k.CommitQueue() {
			_, _ = k.ApproveTask(entry.TaskID, token)
		}
		time.Sleep(10 * time.Millisecond)
	}

	waitForMissionState(t, k, m.MissionID, types.MissionSuccess, 5*time.Second)
}

// TestAbortMission covers the abort path, including while paused: the
// pause-wait select also listens on the mission context, so abort must
// not deadlock against a paused mission.
func TestAbortMission(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()
	k := bootKernel(t, dir)
	defer k.Shutdown()

	reachForging(t, k, dir)

	target := filepath.Join(dir, "abortable.txt")
	require.NoError(t, os.WriteFile(target, []byte("remove me"), 0o644))

	// Approval-required goal: the mission stays open past CreateMission's
	// return, so pause/abort aren't racing a mission that finishes on
	// its own before either call lands.
	m, err := k.CreateMission(context.Background(), "delete the abortable file", "cleanup",
		map[string]string{"path": target, "content": ""}, "")
	require.NoError(t, err)

	_, err = k.PauseMission(m.MissionID)
	require.NoError(t, err)

	state, err := k.AbortMission(m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionAborted, state)
}

// TestReplayDeterminism covers spec §8 scenario 5: replaying the same
// ledger twice from an empty derived state must yield identical views.
// A fresh Kernel boot against the same data dir is itself a full
// replay, so two successive boots after a clean shutdown exercise the
// same code path the projector's purity invariant requires.
func TestReplayDeterminism(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()

	target := filepath.Join(dir, "replay.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	k1 := bootKernel(t, dir)
	m, err := k1.CreateMission(context.Background(), "inspect the file", "inspection",
		map[string]string{"path": target}, "")
	require.NoError(t, err)
	waitForMissionState(t, k1, m.MissionID, types.MissionSuccess, 5*time.Second)
	require.NoError(t, k1.Shutdown())

	k2 := bootKernel(t, dir)
	defer k2.Shutdown()

	replayed, err := k2.GetMission(m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionSuccess, replayed.State)
	assert.Equal(t, m.TaskIDs, replayed.TaskIDs)
}

// TestWorkerCapQueuesInsteadOfFailing covers spec §8 scenario 3: with
// max_total_workers set below the number of simultaneously-submitted
// missions, the workers that can't acquire a slot must requeue and
// eventually complete rather than fail their mission — the fix for the
// caps gate no longer treating worker saturation as a governance
// reject (ErrCapacityExhausted now only re-queues, see
// handleDispatchFailure).
func TestWorkerCapQueuesInsteadOfFailing(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()
	// runtime.json is merged onto runtimecfg.Default(): only the fields
	// present here override the default, so the duration-valued fields
	// (encoded as int64 nanoseconds, not duration strings) can be left
	// out entirely.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runtime.json"), []byte(`{
		"max_total_workers": 2,
		"max_per_kind": {"scout": 2, "builder": 2, "verify": 2, "custom": 1}
	}`), 0o644))

	k := bootKernel(t, dir)
	defer k.Shutdown()

	const missionCount = 5
	missionIDs := make([]string, missionCount)
	for i := 0; i < missionCount; i++ {
		target := filepath.Join(dir, fmt.Sprintf("capped-%d.txt", i))
		require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
		m, err := k.CreateMission(context.Background(), "inspect the file", "inspection",
			map[string]string{"path": target}, "")
		require.NoError(t, err)
		missionIDs[i] = m.MissionID
	}

	for _, id := range missionIDs {
		waitForMissionState(t, k, id, types.MissionSuccess, 10*time.Second)
	}
}

// TestCapabilityBlockedTaskFailsMission covers spec §8 scenario 4 at
// full kernel scope: a fresh, DORMANT kernel has no WORKER_SPAWN
// capability, so a goal that decomposes to a builder task must settle
// that task BLOCKED and fail the whole mission, not silently succeed
// (see the missionFailed fix in internal/mission/engine.go).
func TestCapabilityBlockedTaskFailsMission(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises a real ledger on disk")
	}
	dir := t.TempDir()
	k := bootKernel(t, dir)
	defer k.Shutdown()

	target := filepath.Join(dir, "untouchable.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	m, err := k.CreateMission(context.Background(), "write the report file", "fs",
		map[string]string{"path": target}, "")
	require.NoError(t, err)

	final := waitForMissionState(t, k, m.MissionID, types.MissionFailure, 5*time.Second)
	assert.Equal(t, types.MissionFailure, final.State)
}

// TestDoctrineDriftRejectsBoot covers spec §6's exit-code-4 contract:
// a ledger that has already recorded a DoctrineLoaded hash must refuse
// to boot under a different doctrine file.
func TestDoctrineDriftRejectsBoot(t *testing.T) {
	dir := t.TempDir()
	doctrinePath := filepath.Join(dir, "doctrine.json")

	k := bootKernel(t, dir)
	require.NoError(t, k.Shutdown())

	require.NoError(t, os.WriteFile(doctrinePath, []byte(`{
		"history_is_truth": true,
		"append_only": true,
		"no_artifact_no_existence": true,
		"no_verification_rejected": true,
		"irreversible_requires_approval": false
	}`), 0o644))

	_, err := kernel.Boot(kernel.Options{
		DataDir:        dir,
		DoctrinePath:   doctrinePath,
		ConfigPath:     filepath.Join(dir, "runtime.json"),
		ApproverSecret: []byte("test-secret"),
	})
	assert.Error(t, err)
}
