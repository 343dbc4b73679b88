// Package runtimecfg holds the operator-editable configuration table
// described in spec §4.2: worker caps, per-kind caps, default timeouts,
// the approval window, risk tier overrides, the external-action
// whitelist, and spending caps. Every mutation to a live Config must be
// recorded as a ConfigChanged ledger entry by the caller before the new
// values take effect — this package only loads, merges and saves,
// it does not append to the ledger itself.
package runtimecfg

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cuemby/sentinel/internal/types"
	"gopkg.in/yaml.v3"
)

// Config is the mutable runtime configuration table.
type Config struct {
	MaxTotalWorkers  int                     `json:"max_total_workers" yaml:"max_total_workers"`
	MaxPerKind       map[types.TaskKind]int  `json:"max_per_kind" yaml:"max_per_kind"`
	DefaultTimeout   time.Duration           `json:"default_timeout" yaml:"default_timeout"`
	ApprovalWindow   map[types.Rank]time.Duration `json:"approval_window" yaml:"approval_window"`
	RiskOverrides    map[types.TaskKind]types.Rank `json:"risk_overrides,omitempty" yaml:"risk_overrides,omitempty"`
	Whitelist        []string                `json:"whitelist,omitempty" yaml:"whitelist,omitempty"`
	SpendingCapTask  int64                   `json:"spending_cap_task" yaml:"spending_cap_task"`
	SpendingCapTotal int64                   `json:"spending_cap_total" yaml:"spending_cap_total"`
	ApproversForS    int                     `json:"approvers_for_s" yaml:"approvers_for_s"`
	MaxAttempts      int                     `json:"max_attempts" yaml:"max_attempts"`
	CancelGrace      time.Duration           `json:"cancel_grace" yaml:"cancel_grace"`
}

// Default returns Sentinel's built-in configuration, matching the risk
// table in spec §4.4.
func Default() Config {
	return Config{
		MaxTotalWorkers: 8,
		MaxPerKind: map[types.TaskKind]int{
			types.TaskKindScout:   4,
			types.TaskKindBuilder: 4,
			types.TaskKindVerify:  4,
			types.TaskKindCustom:  2,
		},
		DefaultTimeout: 2 * time.Minute,
		ApprovalWindow: map[types.Rank]time.Duration{
			types.RankE: 0,
			types.RankD: 0,
			types.RankC: 0,
			types.RankB: 3 * time.Second,
			types.RankA: 10 * time.Second,
			types.RankS: 30 * time.Second,
		},
		SpendingCapTask:  10_000,
		SpendingCapTotal: 1_000_000,
		ApproversForS:    2,
		MaxAttempts:      3,
		CancelGrace:      5 * time.Second,
	}
}

// Load reads runtime.json from path, falling back to Default() if the
// file does not exist. If an optional YAML overlay path is non-empty
// and exists, its fields are merged on top before returning.
func Load(jsonPath, yamlOverlayPath string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	if yamlOverlayPath != "" {
		if data, err := os.ReadFile(yamlOverlayPath); err == nil {
			var overlay Config
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				return Config{}, err
			}
			mergeOverlay(&cfg, overlay)
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	return cfg, nil
}

// Save writes cfg to jsonPath as the canonical on-disk record. Callers
// append a ConfigChanged ledger entry before or immediately after this
// returns successfully. Kernel.UpdateConfig appends ConfigChanged but
// does not call Save.
func Save(jsonPath string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(jsonPath, data, 0o644)
}

// mergeOverlay copies any non-zero field of overlay into base. Maps are
// merged key-by-key rather than replaced wholesale, so a partial YAML
// overlay (e.g. a single risk override) doesn't blank out the rest.
func mergeOverlay(base *Config, overlay Config) {
	if overlay.MaxTotalWorkers != 0 {
		base.MaxTotalWorkers = overlay.MaxTotalWorkers
	}
	for k, v := range overlay.MaxPerKind {
		if base.MaxPerKind == nil {
			base.MaxPerKind = map[types.TaskKind]int{}
		}
		base.MaxPerKind[k] = v
	}
	if overlay.DefaultTimeout != 0 {
		base.DefaultTimeout = overlay.DefaultTimeout
	}
	for k, v := range overlay.ApprovalWindow {
		if base.ApprovalWindow == nil {
			base.ApprovalWindow = map[types.Rank]time.Duration{}
		}
		base.ApprovalWindow[k] = v
	}
	for k, v := range overlay.RiskOverrides {
		if base.RiskOverrides == nil {
			base.RiskOverrides = map[types.TaskKind]types.Rank{}
		}
		base.RiskOverrides[k] = v
	}
	if len(overlay.Whitelist) > 0 {
		base.Whitelist = overlay.Whitelist
	}
	if overlay.SpendingCapTask != 0 {
		base.SpendingCapTask = overlay.SpendingCapTask
	}
	if overlay.SpendingCapTotal != 0 {
		base.SpendingCapTotal = overlay.SpendingCapTotal
	}
	if overlay.ApproversForS != 0 {
		base.ApproversForS = overlay.ApproversForS
	}
	if overlay.MaxAttempts != 0 {
		base.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.CancelGrace != 0 {
		base.CancelGrace = overlay.CancelGrace
	}
}
