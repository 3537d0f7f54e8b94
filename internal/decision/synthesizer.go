// Package decision turns signals into scored, gated candidate actions.
package decision

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/catalog"
	"github.com/stackwatch/warden/internal/types"
)

// History supplies the read-only learned state the synthesizer consults:
// per-template success rates and the current confidence gate.
type History interface {
	SuccessRate(templateID string) float64
	MinConfidence() float64
}

// metricTemplates maps a signal metric to the plausible remediations for it.
// Template ids here must exist in the catalog; a missing one is a wiring
// bug surfaced as an error from Synthesize.
var metricTemplates = map[string][]string{
	"error_rate":         {"enable_circuit_breaker", "restart_service", "scale_resources"},
	"latency":            {"scale_resources", "rebalance_load", "clear_cache"},
	"cpu_utilization":    {"scale_resources", "rebalance_load"},
	"memory_utilization": {"restart_service", "scale_resources", "clear_cache"},
	"disk_usage":         {"clear_cache", "notify_operator"},
	"health_check":       {"restart_service", "collect_diagnostics"},
	"throughput":         {"scale_resources", "collect_diagnostics"},
}

// Config holds synthesizer configuration
type Config struct {
	// Catalog supplies action templates (with policy overrides applied)
	Catalog *catalog.Catalog
	// History supplies success rates and the confidence gate
	History History
	// Logger for per-template evaluation warnings
	Logger *zap.Logger
	// MaxConcurrentActions caps how many decisions one synthesis returns.
	// Default: 3.
	MaxConcurrentActions int
}

// Synthesizer scores candidate actions for a signal and filters them under
// the safety thresholds. It is a pure function of its inputs plus read-only
// historical statistics; it has no side effects.
type Synthesizer struct {
	catalog    *catalog.Catalog
	history    History
	logger     *zap.Logger
	maxActions int
}

// New creates a synthesizer
func New(cfg *Config) (*Synthesizer, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	maxActions := cfg.MaxConcurrentActions
	if maxActions <= 0 {
		maxActions = 3
	}

	return &Synthesizer{
		catalog:    cfg.Catalog,
		history:    cfg.History,
		logger:     cfg.Logger,
		maxActions: maxActions,
	}, nil
}

// Synthesize turns one signal plus system context into zero or more
// candidate actions: score every plausible template, drop candidates below
// the confidence gate, drop high-risk candidates that are not already
// approval-gated, dedupe by (category, target resource), then sort by
// priority and confidence and cap at the concurrency limit.
//
// A scoring failure for one template is logged and skipped; only a template
// id that was never registered aborts the whole synthesis, because that is
// a wiring bug rather than a runtime condition.
func (s *Synthesizer) Synthesize(signal *types.Signal, sysCtx *types.SystemContext) ([]*types.DecisionAction, error) {
	if err := signal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signal: %w", err)
	}

	templateIDs, ok := metricTemplates[signal.Metric]
	if !ok {
		return nil, nil
	}

	minConfidence := s.history.MinConfidence()

	var candidates []*types.DecisionAction
	for _, id := range templateIDs {
		tmpl, err := s.catalog.Get(id)
		if err != nil {
			return nil, fmt.Errorf("metric %s references %w", signal.Metric, err)
		}

		action, err := s.score(tmpl, signal, sysCtx)
		if err != nil {
			s.logger.Warn("skipping template evaluation",
				zap.String("template_id", id),
				zap.String("metric", signal.Metric),
				zap.Error(err))
			continue
		}

		if action.Confidence < minConfidence {
			continue
		}
		// Never let a high-risk action through unless its template already
		// demands human approval.
		if action.Risk == types.RiskHigh && !tmpl.RequiresApproval {
			continue
		}
		candidates = append(candidates, action)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority.Rank() != candidates[j].Priority.Rank() {
			return candidates[i].Priority.Rank() > candidates[j].Priority.Rank()
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})

	deduped := dedupe(candidates)
	if len(deduped) > s.maxActions {
		deduped = deduped[:s.maxActions]
	}
	return deduped, nil
}

// score instantiates one candidate from a template, recomputing confidence,
// risk, and priority from the current signal and context. Values are never
// carried over from prior decisions.
func (s *Synthesizer) score(tmpl types.ActionTemplate, signal *types.Signal, sysCtx *types.SystemContext) (*types.DecisionAction, error) {
	confidence := s.confidence(tmpl, signal, sysCtx)
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("computed confidence %.3f out of bounds", confidence)
	}

	risk := riskLevel(tmpl.BaseRisk + contextRisk(sysCtx))

	params := make(map[string]string, len(tmpl.Parameters)+len(signal.Context))
	for k, v := range tmpl.Parameters {
		params[k] = v
	}
	for k, v := range signal.Context {
		params[k] = v
	}

	return &types.DecisionAction{
		ID:               uuid.New().String(),
		TemplateID:       tmpl.ID,
		Category:         tmpl.Category,
		Confidence:       confidence,
		Risk:             risk,
		Priority:         priority(signal, sysCtx),
		Parameters:       params,
		TargetResource:   signal.Service(),
		SignalMetric:     signal.Metric,
		RequiresApproval: tmpl.RequiresApproval,
		CreatedAt:        time.Now(),
	}, nil
}

// confidence starts from a 0.5 base and adds signal, severity, health,
// historical, and resource-pressure terms, clamped to [0, 1].
func (s *Synthesizer) confidence(tmpl types.ActionTemplate, signal *types.Signal, sysCtx *types.SystemContext) float64 {
	c := 0.5
	c += signal.Confidence * 0.3

	switch signal.Severity {
	case types.SeverityCritical:
		c += 0.2
	case types.SeverityHigh:
		c += 0.1
	}

	if sysCtx != nil {
		switch sysCtx.Health {
		case types.HealthCritical:
			c += 0.2
		case types.HealthDegraded:
			c += 0.1
		}
		if sysCtx.CPUUtilization > 0.8 {
			c += 0.1
		}
		if sysCtx.MemoryUtilization > 0.9 {
			c += 0.1
		}
	}

	c += s.history.SuccessRate(tmpl.ID) * 0.2

	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// contextRisk returns the risk added by current system conditions
func contextRisk(sysCtx *types.SystemContext) float64 {
	if sysCtx == nil {
		return 0
	}
	r := 0.0
	if sysCtx.PeakHours {
		r += 0.2
	}
	if sysCtx.Health == types.HealthCritical {
		r += 0.3
	}
	if sysCtx.RecentActionCount > 5 {
		r += 0.1
	}
	return r
}

// riskLevel maps a risk score to a level
func riskLevel(score float64) types.RiskLevel {
	switch {
	case score < 0.4:
		return types.RiskLow
	case score < 0.7:
		return types.RiskMedium
	default:
		return types.RiskHigh
	}
}

// priority derives execution urgency from signal severity and system health
func priority(signal *types.Signal, sysCtx *types.SystemContext) types.Priority {
	health := types.HealthHealthy
	if sysCtx != nil {
		health = sysCtx.Health
	}
	switch {
	case signal.Severity == types.SeverityCritical || health == types.HealthCritical:
		return types.PriorityCritical
	case signal.Severity == types.SeverityHigh || health == types.HealthDegraded:
		return types.PriorityHigh
	case signal.Severity == types.SeverityMedium:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// dedupe collapses candidates sharing (category, target resource), keeping
// the first of each pair. Callers sort before deduping so the best-ranked
// candidate survives.
func dedupe(candidates []*types.DecisionAction) []*types.DecisionAction {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		key := string(c.Category) + "|" + c.TargetResource
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// KnownMetrics returns the metrics the synthesizer has template mappings
// for, useful for validating configuration.
func KnownMetrics() []string {
	out := make([]string, 0, len(metricTemplates))
	for m := range metricTemplates {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// TemplateIDsForMetric returns the template ids mapped to a metric
func TemplateIDsForMetric(metric string) []string {
	return append([]string(nil), metricTemplates[metric]...)
}
