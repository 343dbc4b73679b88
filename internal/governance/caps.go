package governance

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cuemby/sentinel/internal/runtimecfg"
	"github.com/cuemby/sentinel/internal/types"
)

// CapsChecker implements the third ordered check in §4.4: cumulative
// spend and whitelist membership for external recipients. Worker-count
// saturation is deliberately not checked here: it is transient and
// queueable (§7's CapacityExhausted is "queue the task, not an error
// to the operator"), not a governance reject, so it is only ever
// surfaced by the Swarm Dispatcher at actual spawn time, which requeues
// the task instead of failing its mission.
type CapsChecker struct {
	mu         sync.Mutex
	totalSpent int64
}

// NewCapsChecker builds a CapsChecker.
func NewCapsChecker() *CapsChecker {
	return &CapsChecker{}
}

// Check evaluates task against cfg's spending caps and whitelist. It
// returns (reason, false) on rejection, matching the gate's
// blocked-reason convention.
func (c *CapsChecker) Check(task *types.Task, cfg runtimecfg.Config) (string, bool) {
	cost := declaredCost(task)
	if cfg.SpendingCapTask > 0 && cost > cfg.SpendingCapTask {
		return "caps:spending_cap_task", false
	}

	if cfg.SpendingCapTotal > 0 {
		total := atomic.LoadInt64(&c.totalSpent) + cost
		if total > cfg.SpendingCapTotal {
			return "caps:spending_cap_total", false
		}
	}

	if recipient, ok := task.Params["external_recipient"]; ok && recipient != "" {
		if !whitelisted(recipient, cfg.Whitelist) {
			return "caps:whitelist", false
		}
	}

	return "", true
}

// Commit records cost against the cumulative spend tracker once a task
// has actually been admitted past all gates. Called through
// Gate.CommitSpend by the Mission Engine after an ACTION_READY or
// approved decision, never on a rejected one.
func (c *CapsChecker) Commit(task *types.Task) {
	cost := declaredCost(task)
	c.mu.Lock()
	c.totalSpent += cost
	c.mu.Unlock()
}

func declaredCost(task *types.Task) int64 {
	raw, ok := task.Params["cost_estimate"]
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func whitelisted(recipient string, list []string) bool {
	for _, w := range list {
		if w == recipient {
			return true
		}
	}
	return false
}
