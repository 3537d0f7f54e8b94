package catalog

import (
	"time"

	"github.com/stackwatch/warden/internal/types"
)

// DefaultTemplates returns the built-in action template set. Base risk and
// impact numbers reflect operational experience: circuit breakers and cache
// clears are cheap and reversible, restarts and scale-ups are not.
func DefaultTemplates() []types.ActionTemplate {
	return []types.ActionTemplate{
		{
			ID:       "enable_circuit_breaker",
			Category: types.CategoryRemediation,
			BaseRisk: 0.4,
			Parameters: map[string]string{
				"failure_threshold": "5",
				"reset_timeout":     "30s",
			},
			Impact:   types.ImpactVector{Performance: -10, Reliability: 60, Cost: 0, UserExperience: -5},
			Duration: 5 * time.Second,
			Rollback: "disable the circuit breaker for the target service",
		},
		{
			ID:       "restart_service",
			Category: types.CategoryRemediation,
			BaseRisk: 0.6,
			Parameters: map[string]string{
				"drain_timeout": "30s",
			},
			Impact:           types.ImpactVector{Performance: 20, Reliability: 40, Cost: 0, UserExperience: -20},
			Duration:         2 * time.Minute,
			RequiresApproval: true,
			Rollback:         "none; a restart cannot be undone, monitor for regression",
		},
		{
			ID:       "scale_resources",
			Category: types.CategoryOptimization,
			BaseRisk: 0.3,
			Parameters: map[string]string{
				"scale_factor": "1.5",
				"max_replicas": "10",
			},
			Impact:   types.ImpactVector{Performance: 50, Reliability: 30, Cost: -40, UserExperience: 20},
			Duration: 3 * time.Minute,
			Rollback: "scale back to the previous replica count",
		},
		{
			ID:       "clear_cache",
			Category: types.CategoryRemediation,
			BaseRisk: 0.2,
			Impact:   types.ImpactVector{Performance: -15, Reliability: 20, Cost: 0, UserExperience: -10},
			Duration: 30 * time.Second,
			Rollback: "none; cache repopulates on demand",
		},
		{
			ID:       "rebalance_load",
			Category: types.CategoryOptimization,
			BaseRisk: 0.5,
			Impact:   types.ImpactVector{Performance: 40, Reliability: 25, Cost: -10, UserExperience: 15},
			Duration: 5 * time.Minute,
			Rollback: "restore the previous load balancer weights",
		},
		{
			ID:       "notify_operator",
			Category: types.CategoryAlert,
			BaseRisk: 0.0,
			Impact:   types.ImpactVector{},
			Duration: time.Second,
			Rollback: "none",
		},
		{
			ID:       "collect_diagnostics",
			Category: types.CategoryMonitor,
			BaseRisk: 0.1,
			Parameters: map[string]string{
				"capture_window": "5m",
			},
			Impact:   types.ImpactVector{Performance: -5, Reliability: 10, Cost: -5, UserExperience: 0},
			Duration: time.Minute,
			Rollback: "stop the capture and discard partial data",
		},
	}
}
