package workerpool

import "github.com/cuemby/sentinel/internal/types"

// DefaultDescriptors returns the built-in plugin table for Sentinel's
// four task kinds. A deployment that adds custom worker plugins
// extends this list when constructing its Registry.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Kind:             types.TaskKindScout,
			Capabilities:     []string{"read", "report"},
			RiskLevel:        types.RankE,
			RequiresApproval: false,
			TimeoutDefault:   60,
		},
		{
			Kind:             types.TaskKindBuilder,
			Capabilities:     []string{"read", "write", "execute"},
			RiskLevel:        types.RankC,
			RequiresApproval: false,
			TimeoutDefault:   180,
		},
		{
			Kind:             types.TaskKindVerify,
			Capabilities:     []string{"read", "report"},
			RiskLevel:        types.RankE,
			RequiresApproval: false,
			TimeoutDefault:   60,
		},
		{
			Kind:             types.TaskKindCustom,
			Capabilities:     []string{"read", "write", "execute", "external"},
			RiskLevel:        types.RankA,
			RequiresApproval: true,
			TimeoutDefault:   300,
		},
	}
}
