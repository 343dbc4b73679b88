// Package kernel wires the Ledger, Doctrine, Capability Registry,
// Governance Gate, Worker Registry, Swarm Dispatcher, Commit Engine,
// Mission Engine and Projector into one process, and exposes the
// control-plane operations table from §6 as ordinary Go methods.
//
// Grounded on the teacher's server package for the "one struct holds
// every subsystem handle, constructed once at startup, exposed through
// a narrow method set" shape.
package kernel

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/sentinel/internal/capability"
	"github.com/cuemby/sentinel/internal/commit"
	"github.com/cuemby/sentinel/internal/doctrine"
	"github.com/cuemby/sentinel/internal/governance"
	"github.com/cuemby/sentinel/internal/governance/approver"
	"github.com/cuemby/sentinel/internal/kernelerr"
	"github.com/cuemby/sentinel/internal/ledger"
	"github.com/cuemby/sentinel/internal/mission"
	"github.com/cuemby/sentinel/internal/obslog"
	"github.com/cuemby/sentinel/internal/planner"
	"github.com/cuemby/sentinel/internal/projector"
	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/swarm"
	"github.com/cuemby/sentinel/internal/types"
	"github.com/cuemby/sentinel/internal/workerpool"
)

// Options configures a Kernel at startup.
type Options struct {
	DataDir         string
	DoctrinePath    string
	ConfigPath      string
	ConfigOverlay   string
	ApproverSecret  []byte
	ApproverTTL     time.Duration
	DispatchTimeout time.Duration
}

// Kernel holds one live instance of every Sentinel subsystem.
type Kernel struct {
	ledgerHandle *ledger.Ledger
	doctrine     doctrine.Loaded
	capabilities *capability.Registry
	gate         *governance.Gate
	workers      *workerpool.Registry
	dispatcher   *swarm.Dispatcher
	commitEngine *commit.Engine
	missionEngine *mission.Engine
	projection   *projector.Projector
	issuer       *approver.Issuer

	cfg    runtimecfg.Config
	cancel context.CancelFunc
}

// Boot loads doctrine and config, replays the ledger to rebuild every
// derived view, and starts the Commit Engine's sweep and the
// projector's live tail. Exit codes in cmd/sentinel map boot errors to
// §6's process exit codes (2 config, 3 storage, 4 doctrine violation).
func Boot(opts Options) (*Kernel, error) {
	loadedDoctrine, err := doctrine.Load(opts.DoctrinePath)
	if err != nil {
		return nil, fmt.Errorf("kernel: load doctrine: %w: %w", kernelerr.ErrConfig, err)
	}

	l, err := ledger.Open(opts.DataDir, "core")
	if err != nil {
		return nil, fmt.Errorf("kernel: open ledger: %w: %w", kernelerr.ErrStorage, err)
	}

	priorEntries, err := l.Read(ledger.Filter{Kinds: []ledger.Kind{ledger.KindDoctrineLoaded}})
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("kernel: replay doctrine history: %w", err)
	}
	if err := checkDoctrineDrift(priorEntries, loadedDoctrine.Hash); err != nil {
		_ = l.Close()
		return nil, err
	}

	if _, err := l.Append(ledger.KindDoctrineLoaded, map[string]any{
		"hash": loadedDoctrine.Hash, "defaults": loadedDoctrine.UsedDefault,
	}); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("kernel: record doctrine load: %w", err)
	}

	cfg, err := runtimecfg.Load(opts.ConfigPath, opts.ConfigOverlay)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("kernel: load config: %w: %w", kernelerr.ErrConfig, err)
	}

	entries, err := l.Read(ledger.Filter{})
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("kernel: replay ledger: %w", err)
	}

	registry, err := capability.Rebuild(entries)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("kernel: rebuild capability registry: %w", err)
	}

	workers := workerpool.NewRegistry(cfg, workerpool.DefaultDescriptors())
	workers.RegisterPlugin(types.TaskKindScout, &workerpool.LocalFilePlugin{Kind: types.TaskKindScout})
	workers.RegisterPlugin(types.TaskKindBuilder, &workerpool.LocalFilePlugin{Kind: types.TaskKindBuilder})
	workers.RegisterPlugin(types.TaskKindVerify, &workerpool.LocalFilePlugin{Kind: types.TaskKindVerify})

	caps := governance.NewCapsChecker()
	gate := governance.NewGate(loadedDoctrine.Doctrine, registry, caps)

	dispatchTimeout := opts.DispatchTimeout
	if dispatchTimeout == 0 {
		dispatchTimeout = cfg.DefaultTimeout
	}
	dispatcher := swarm.NewDispatcher(workers, dispatchTimeout)

	ce := commit.NewEngine(l, nil)
	if err := ce.Recover(entries); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("kernel: recover commit engine: %w", err)
	}

	missionEngine := mission.NewEngine(l, gate, ce, dispatcher, registry, planner.NewFallback(), cfg)
	ce.SetExpiryHandler(missionEngine.HandleExpiry)

	if err := ce.Start(); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("kernel: start commit sweep: %w", err)
	}

	proj := projector.New()
	proj.Rebuild(entries)

	ttl := opts.ApproverTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	issuer := approver.NewIssuer(opts.ApproverSecret, ttl)

	tailCtx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := proj.RunTail(tailCtx, l, l.NextSeq()); err != nil {
			obslog.WithComponent("kernel").Error().Err(err).Msg("projector tail stopped")
		}
	}()

	return &Kernel{
		ledgerHandle:  l,
		doctrine:      loadedDoctrine,
		capabilities:  registry,
		gate:          gate,
		workers:       workers,
		dispatcher:    dispatcher,
		commitEngine:  ce,
		missionEngine: missionEngine,
		projection:    proj,
		issuer:        issuer,
		cfg:           cfg,
		cancel:        cancel,
	}, nil
}

// Shutdown stops the Commit Engine's sweep, cancels the projector's
// live tail, and closes the ledger.
func (k *Kernel) Shutdown() error {
	k.cancel()
	k.commitEngine.Stop()
	return k.ledgerHandle.Close()
}

// CreateMission decomposes goal into a task DAG and begins orchestrating
// it. idempotencyKey, when non-empty, makes repeated calls safe to retry.
func (k *Kernel) CreateMission(ctx context.Context, goal, category string, constraints map[string]string, idempotencyKey string) (*types.Mission, error) {
	return k.missionEngine.CreateMission(ctx, goal, category, constraints, idempotencyKey)
}

// PauseMission suspends a mission's orchestration at its next wave boundary.
func (k *Kernel) PauseMission(missionID string) (types.MissionState, error) {
	return k.missionEngine.PauseMission(missionID)
}

// ResumeMission releases a paused mission.
func (k *Kernel) ResumeMission(missionID string) (types.MissionState, error) {
	return k.missionEngine.ResumeMission(missionID)
}

// AbortMission cancels a mission's orchestration loop outright.
func (k *Kernel) AbortMission(missionID string) (types.MissionState, error) {
	return k.missionEngine.AbortMission(missionID)
}

// ApproveTask grants approverID's approval for a NEEDS_CONFIRM task.
// approverToken must verify against the kernel's Issuer.
func (k *Kernel) ApproveTask(taskID, approverToken string) (types.CommitState, error) {
	approverID, err := k.issuer.Verify(approverToken)
	if err != nil {
		return "", fmt.Errorf("kernel: approve %s: %w", taskID, kernelerr.ErrUnauthorized)
	}
	return k.missionEngine.ApproveTask(taskID, approverID)
}

// RejectTask blocks a NEEDS_CONFIRM task with an operator-supplied reason.
func (k *Kernel) RejectTask(taskID, approverToken, reason string) (types.CommitState, error) {
	approverID, err := k.issuer.Verify(approverToken)
	if err != nil {
		return "", fmt.Errorf("kernel: reject %s: %w", taskID, kernelerr.ErrUnauthorized)
	}
	return k.missionEngine.RejectTask(taskID, approverID, reason)
}

// IssueApproverToken mints a short-lived approval token for approverID,
// used by cmd/sentinel's issue-token subcommand; approve/reject present it.
func (k *Kernel) IssueApproverToken(approverID string) (string, error) {
	return k.issuer.Issue(approverID)
}

// GetMission returns a snapshot of one mission by id. A mission this
// process did not create (e.g. one from before a restart) is served
// from the projector's replayed missions_by_id view.
func (k *Kernel) GetMission(missionID string) (*types.Mission, error) {
	m, err := k.missionEngine.GetMission(missionID)
	if err == nil {
		return m, nil
	}
	if pm, ok := k.projection.Mission(missionID); ok {
		return &pm, nil
	}
	return nil, err
}

// ListMissions returns a snapshot of every tracked mission, optionally
// filtered by state (pass "" for no filter).
func (k *Kernel) ListMissions(stateFilter types.MissionState) []*types.Mission {
	return k.missionEngine.ListMissions(stateFilter)
}

// TailLedger streams ledger entries from fromSeq onward until ctx is
// cancelled.
func (k *Kernel) TailLedger(ctx context.Context, fromSeq uint64) (<-chan ledger.Entry, error) {
	return k.ledgerHandle.Tail(ctx, fromSeq)
}

// GetCapability reports the current capability stage and permitted set.
func (k *Kernel) GetCapability() (capability.Stage, []string) {
	return k.capabilities.Stage(), k.capabilities.PermittedSet()
}

// CommitQueue returns the projector's current commit_queue view.
func (k *Kernel) CommitQueue() []projector.CommitQueueEntry {
	return k.projection.CommitQueue()
}

// UpdateConfig swaps in new runtime configuration, recording the change
// in the ledger first per the ownership rule in §3.
func (k *Kernel) UpdateConfig(cfg runtimecfg.Config) error {
	if _, err := k.ledgerHandle.Append(ledger.KindConfigChanged, cfg); err != nil {
		return fmt.Errorf("kernel: record config change: %w", err)
	}
	k.workers.UpdateConfig(cfg)
	k.missionEngine.UpdateConfig(cfg)
	k.cfg = cfg
	return nil
}

// DataDirLedgerPath returns the common path prefix of the ledger's
// segment files, which Boot writes directly in dataDir as
// core-YYYYMMDD-NNN.jsonl.
func DataDirLedgerPath(dataDir string) string {
	return filepath.Join(dataDir, "core")
}

// checkDoctrineDrift refuses to boot if this process loaded a
// doctrine whose hash differs from the last one this ledger recorded.
// History is truth: a ledger that has already committed facts under
// one doctrine must not silently continue under another.
func checkDoctrineDrift(priorEntries []ledger.Entry, currentHash string) error {
	if len(priorEntries) == 0 {
		return nil
	}
	var last struct {
		Hash string `json:"hash"`
	}
	if err := unmarshalEntry(priorEntries[len(priorEntries)-1], &last); err != nil {
		return fmt.Errorf("kernel: parse prior doctrine entry: %w", err)
	}
	if last.Hash != currentHash {
		return fmt.Errorf("kernel: doctrine hash %s does not match ledger's recorded %s: %w",
			currentHash, last.Hash, kernelerr.ErrDoctrineViolation)
	}
	return nil
}
