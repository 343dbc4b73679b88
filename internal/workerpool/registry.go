// Package workerpool implements the Worker Registry & Limits (C5): the
// plugin descriptor table, the concurrency accounting that keeps
// live worker counts within configured caps, and a per-kind rate
// limiter.
//
// Concurrency accounting is grounded on the teacher's scheduler
// package's replica-counting pattern (compare desired vs actual,
// mutex-guarded); the per-kind rate limiter is grounded on the
// teacher's pkg/ingress middleware, which keys golang.org/x/time/rate
// limiters by a string (there, client IP; here, task kind).
package workerpool

import (
	"context"
	"sync"

	"github.com/cuemby/sentinel/internal/kernelerr"
	"github.com/cuemby/sentinel/internal/obsmetrics"
	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
	"golang.org/x/time/rate"
)

// Plugin is the polymorphic worker implementation a kind resolves to.
// Preview returns what Execute would do without side effects; Execute
// performs the step and returns its WorkerResult; Rollback best-effort
// undoes a prior Execute. The Swarm Dispatcher calls only Execute;
// nothing in the tree calls Preview or Rollback.
//
// This replaces dynamic dispatch by string action name with a
// registry keyed by kind returning a concrete implementation, per the
// redesign direction for polymorphic worker behavior.
type Plugin interface {
	Preview(ctx context.Context, task *types.Task) (types.WorkerResult, error)
	Execute(ctx context.Context, task *types.Task) (types.WorkerResult, error)
	Rollback(ctx context.Context, task *types.Task) error
}

// Descriptor is a worker plugin's static capability declaration.
type Descriptor struct {
	Kind             types.TaskKind
	Capabilities     []string
	RiskLevel        types.Rank
	RequiresApproval bool
	TimeoutDefault   int64 // seconds
}

// Registry tracks live worker counts per kind against the configured
// caps and exposes a pluggable descriptor table. canSpawn,
// registerSpawn and unregisterWorker are mutually exclusive under a
// single lock; counters are clamped at zero and never go negative.
type Registry struct {
	mu          sync.Mutex
	cfg         runtimecfg.Config
	liveTotal   int
	liveByKind  map[types.TaskKind]int
	descriptors map[types.TaskKind]Descriptor
	limiters    map[types.TaskKind]*rate.Limiter
	plugins     map[types.TaskKind]Plugin
}

// RegisterPlugin binds a concrete Plugin implementation to kind. It is
// typically called once at startup for each of scout/builder/verify,
// plus any operator-supplied custom plugin.
func (r *Registry) RegisterPlugin(kind types.TaskKind, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[kind] = p
}

// Plugin returns the registered implementation for kind, if any.
func (r *Registry) Plugin(kind types.TaskKind) (Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[kind]
	return p, ok
}

// NewRegistry builds a Registry seeded with cfg's caps and the given
// plugin descriptors.
func NewRegistry(cfg runtimecfg.Config, descriptors []Descriptor) *Registry {
	r := &Registry{
		cfg:         cfg,
		liveByKind:  make(map[types.TaskKind]int),
		descriptors: make(map[types.TaskKind]Descriptor, len(descriptors)),
		limiters:    make(map[types.TaskKind]*rate.Limiter),
		plugins:     make(map[types.TaskKind]Plugin),
	}
	for _, d := range descriptors {
		r.descriptors[d.Kind] = d
		r.limiters[d.Kind] = rate.NewLimiter(rate.Limit(d.timeoutRatePerSecond()), r.burstFor(d.Kind))
	}
	return r
}

func (d Descriptor) timeoutRatePerSecond() float64 {
	// Each kind may admit at most one new spawn per 100ms by default;
	// this is independent of the hard concurrency caps and exists to
	// smooth bursts of simultaneously-ready tasks.
	return 10
}

func (r *Registry) burstFor(kind types.TaskKind) int {
	if cap, ok := r.cfg.MaxPerKind[kind]; ok && cap > 0 {
		return cap
	}
	return 1
}

// Descriptor looks up the plugin descriptor for kind.
func (r *Registry) Descriptor(kind types.TaskKind) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[kind]
	return d, ok
}

// UpdateConfig swaps in new caps, taking effect on the next spawn
// decision, per §4.5. It does not affect already-live workers.
func (r *Registry) UpdateConfig(cfg runtimecfg.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// CanAdmit is a lightweight, non-reserving check of whether kind
// currently has headroom. It does not consult the rate limiter, since
// that is a burst-smoothing concern evaluated at actual spawn time.
// Worker saturation is transient and queueable (§7), not a governance
// reject, so nothing in internal/governance calls this anymore —
// TryAcquire at actual dispatch time is the only authoritative check.
func (r *Registry) CanAdmit(kind types.TaskKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canSpawnLocked(kind)
}

func (r *Registry) canSpawnLocked(kind types.TaskKind) bool {
	if r.liveTotal >= r.cfg.MaxTotalWorkers {
		return false
	}
	if cap, ok := r.cfg.MaxPerKind[kind]; ok && r.liveByKind[kind] >= cap {
		return false
	}
	return true
}

// CanSpawn reports whether a worker of kind may be spawned right now,
// honoring both the global and per-kind caps and the per-kind rate
// limiter.
func (r *Registry) CanSpawn(kind types.TaskKind) bool {
	r.mu.Lock()
	ok := r.canSpawnLocked(kind)
	limiter := r.limiters[kind]
	r.mu.Unlock()

	if !ok {
		return false
	}
	if limiter != nil {
		return limiter.Allow()
	}
	return true
}

// RegisterSpawn increments the live counters for kind. Callers must
// have just observed CanSpawn(kind) == true; RegisterSpawn itself does
// not re-check caps, so concurrent spawns still require the caller to
// serialize CanSpawn+RegisterSpawn as one critical section (see
// TryAcquire, which does exactly that).
func (r *Registry) RegisterSpawn(kind types.TaskKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liveTotal++
	r.liveByKind[kind]++
	obsmetrics.WorkersLive.WithLabelValues(string(kind)).Set(float64(r.liveByKind[kind]))
}

// TryAcquire atomically checks the global/per-kind caps and reserves a
// slot for kind in the same critical section, returning whether the
// reservation succeeded. This is the concurrency-safe replacement for
// a CanSpawn-then-RegisterSpawn pair: calling them separately lets N
// concurrent callers all observe headroom before any of them
// increments the counters, driving liveTotal past MaxTotalWorkers. The
// rate limiter is still consulted, and its token is only spent once
// the cap check has passed, so a denied reservation never costs a
// token.
func (r *Registry) TryAcquire(kind types.TaskKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canSpawnLocked(kind) {
		return false
	}
	if limiter, ok := r.limiters[kind]; ok && limiter != nil && !limiter.Allow() {
		return false
	}

	r.liveTotal++
	r.liveByKind[kind]++
	obsmetrics.WorkersLive.WithLabelValues(string(kind)).Set(float64(r.liveByKind[kind]))
	return true
}

// UnregisterWorker decrements the live counters for kind, clamped at
// zero so a double-unregister can never drive a counter negative.
func (r *Registry) UnregisterWorker(kind types.TaskKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveTotal > 0 {
		r.liveTotal--
	}
	if r.liveByKind[kind] > 0 {
		r.liveByKind[kind]--
	}
	obsmetrics.WorkersLive.WithLabelValues(string(kind)).Set(float64(r.liveByKind[kind]))
}

// LiveTotal returns the current total live worker count.
func (r *Registry) LiveTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveTotal
}

// LiveByKind returns the current live worker count for kind.
func (r *Registry) LiveByKind(kind types.TaskKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveByKind[kind]
}

// ErrCapacityExhausted re-exports kernelerr.ErrCapacityExhausted for
// callers of this package.
var ErrCapacityExhausted = kernelerr.ErrCapacityExhausted
