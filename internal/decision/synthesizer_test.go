package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/warden/internal/catalog"
	"github.com/stackwatch/warden/internal/types"
)

// stubHistory lets tests pin success rates and the confidence gate
type stubHistory struct {
	rates         map[string]float64
	minConfidence float64
}

func (h *stubHistory) SuccessRate(templateID string) float64 { return h.rates[templateID] }
func (h *stubHistory) MinConfidence() float64                { return h.minConfidence }

func newTestSynthesizer(t *testing.T, history *stubHistory) *Synthesizer {
	t.Helper()
	cat, err := catalog.New(catalog.DefaultTemplates())
	require.NoError(t, err)

	if history == nil {
		history = &stubHistory{minConfidence: 0.6}
	}
	s, err := New(&Config{Catalog: cat, History: history})
	require.NoError(t, err)
	return s
}

func errorRateSignal() *types.Signal {
	return &types.Signal{
		Metric:     "error_rate",
		Value:      0.08,
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
		Context:    map[string]string{"service": "checkout"},
	}
}

func TestSynthesize_ErrorRateScenario(t *testing.T) {
	s := newTestSynthesizer(t, nil)
	sysCtx := &types.SystemContext{Health: types.HealthDegraded}

	actions, err := s.Synthesize(errorRateSignal(), sysCtx)
	require.NoError(t, err)
	require.NotEmpty(t, actions)

	// enable_circuit_breaker leads: base 0.5 + 0.9*0.3 + 0.1 severity +
	// 0.1 degraded = 0.97, risk 0.4 + 0.0 context -> medium, priority high.
	best := actions[0]
	assert.Equal(t, "enable_circuit_breaker", best.TemplateID)
	assert.InDelta(t, 0.97, best.Confidence, 1e-9)
	assert.Equal(t, types.RiskMedium, best.Risk)
	assert.Equal(t, types.PriorityHigh, best.Priority)
	assert.False(t, best.RequiresApproval)
	assert.Equal(t, "checkout", best.TargetResource)
}

func TestSynthesize_ConfidenceAndRiskAlwaysInBounds(t *testing.T) {
	s := newTestSynthesizer(t, &stubHistory{
		minConfidence: 0.0001,
		rates:         map[string]float64{"enable_circuit_breaker": 1.0, "scale_resources": 1.0},
	})

	severities := []types.Severity{types.SeverityLow, types.SeverityMedium, types.SeverityHigh, types.SeverityCritical}
	healths := []types.HealthState{types.HealthHealthy, types.HealthDegraded, types.HealthCritical}

	for _, sev := range severities {
		for _, health := range healths {
			signal := errorRateSignal()
			signal.Severity = sev
			sysCtx := &types.SystemContext{
				Health:            health,
				CPUUtilization:    0.95,
				MemoryUtilization: 0.95,
				PeakHours:         true,
				RecentActionCount: 10,
			}

			actions, err := s.Synthesize(signal, sysCtx)
			require.NoError(t, err)
			for _, a := range actions {
				assert.GreaterOrEqual(t, a.Confidence, 0.0)
				assert.LessOrEqual(t, a.Confidence, 1.0)
				assert.True(t, a.Risk.IsValid(), "risk %q", a.Risk)
				assert.True(t, a.Priority.IsValid(), "priority %q", a.Priority)
			}
		}
	}
}

func TestSynthesize_ConfidenceGate(t *testing.T) {
	s := newTestSynthesizer(t, &stubHistory{minConfidence: 0.99})

	signal := errorRateSignal()
	signal.Confidence = 0.1
	signal.Severity = types.SeverityLow

	actions, err := s.Synthesize(signal, &types.SystemContext{Health: types.HealthHealthy})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestSynthesize_HighRiskWithoutApprovalRejected(t *testing.T) {
	s := newTestSynthesizer(t, &stubHistory{minConfidence: 0.1})

	// Peak hours + critical health + action churn pushes context risk to
	// 0.6; every template's total risk lands in the high band.
	sysCtx := &types.SystemContext{
		Health:            types.HealthCritical,
		PeakHours:         true,
		RecentActionCount: 10,
	}

	actions, err := s.Synthesize(errorRateSignal(), sysCtx)
	require.NoError(t, err)
	for _, a := range actions {
		if a.Risk == types.RiskHigh {
			assert.True(t, a.RequiresApproval,
				"high-risk action %s must carry the approval flag", a.TemplateID)
		}
	}
}

func TestSynthesize_DedupeByCategoryAndTarget(t *testing.T) {
	s := newTestSynthesizer(t, &stubHistory{minConfidence: 0.1})

	actions, err := s.Synthesize(errorRateSignal(), &types.SystemContext{Health: types.HealthDegraded})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, a := range actions {
		key := string(a.Category) + "|" + a.TargetResource
		assert.False(t, seen[key], "duplicate (category, target): %s", key)
		seen[key] = true
	}
}

func TestSynthesize_CapsAtMaxConcurrentActions(t *testing.T) {
	cat, err := catalog.New(catalog.DefaultTemplates())
	require.NoError(t, err)
	s, err := New(&Config{
		Catalog:              cat,
		History:              &stubHistory{minConfidence: 0.1},
		MaxConcurrentActions: 1,
	})
	require.NoError(t, err)

	actions, err := s.Synthesize(errorRateSignal(), &types.SystemContext{Health: types.HealthDegraded})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(actions), 1)
}

func TestSynthesize_UnknownMetricYieldsNothing(t *testing.T) {
	s := newTestSynthesizer(t, nil)

	signal := errorRateSignal()
	signal.Metric = "novel_metric"
	actions, err := s.Synthesize(signal, nil)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestSynthesize_InvalidSignalRejected(t *testing.T) {
	s := newTestSynthesizer(t, nil)
	_, err := s.Synthesize(&types.Signal{Metric: "error_rate", Severity: "bogus"}, nil)
	assert.Error(t, err)
}

func TestSynthesize_UnregisteredTemplateFailsLoudly(t *testing.T) {
	// A catalog missing a template the metric map references is a wiring
	// bug and must abort synthesis, not degrade quietly.
	cat, err := catalog.New([]types.ActionTemplate{
		{ID: "enable_circuit_breaker", Category: types.CategoryRemediation, BaseRisk: 0.4},
	})
	require.NoError(t, err)
	s, err := New(&Config{Catalog: cat, History: &stubHistory{minConfidence: 0.6}})
	require.NoError(t, err)

	_, err = s.Synthesize(errorRateSignal(), nil)
	assert.ErrorIs(t, err, catalog.ErrUnknownTemplate)
}

func TestSynthesize_HistoricalRateRaisesConfidence(t *testing.T) {
	without := newTestSynthesizer(t, &stubHistory{minConfidence: 0.1})
	with := newTestSynthesizer(t, &stubHistory{
		minConfidence: 0.1,
		rates:         map[string]float64{"enable_circuit_breaker": 1.0},
	})

	signal := errorRateSignal()
	signal.Severity = types.SeverityLow
	signal.Confidence = 0.2

	base, err := without.Synthesize(signal, nil)
	require.NoError(t, err)
	boosted, err := with.Synthesize(signal, nil)
	require.NoError(t, err)

	baseConf := findConfidence(t, base, "enable_circuit_breaker")
	boostedConf := findConfidence(t, boosted, "enable_circuit_breaker")
	assert.InDelta(t, 0.2, boostedConf-baseConf, 1e-9)
}

func TestPriorityRules(t *testing.T) {
	tests := []struct {
		name     string
		severity types.Severity
		health   types.HealthState
		want     types.Priority
	}{
		{"critical signal", types.SeverityCritical, types.HealthHealthy, types.PriorityCritical},
		{"critical health", types.SeverityLow, types.HealthCritical, types.PriorityCritical},
		{"high signal", types.SeverityHigh, types.HealthHealthy, types.PriorityHigh},
		{"degraded health", types.SeverityLow, types.HealthDegraded, types.PriorityHigh},
		{"medium signal", types.SeverityMedium, types.HealthHealthy, types.PriorityMedium},
		{"low everything", types.SeverityLow, types.HealthHealthy, types.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := &types.Signal{Severity: tt.severity}
			got := priority(signal, &types.SystemContext{Health: tt.health})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRiskLevelBands(t *testing.T) {
	assert.Equal(t, types.RiskLow, riskLevel(0.39))
	assert.Equal(t, types.RiskMedium, riskLevel(0.4))
	assert.Equal(t, types.RiskMedium, riskLevel(0.69))
	assert.Equal(t, types.RiskHigh, riskLevel(0.7))
}

func findConfidence(t *testing.T, actions []*types.DecisionAction, templateID string) float64 {
	t.Helper()
	for _, a := range actions {
		if a.TemplateID == templateID {
			return a.Confidence
		}
	}
	t.Fatalf("template %s not in actions", templateID)
	return 0
}
