package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/warden/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDecisionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	action := &types.DecisionAction{
		ID:             "a1",
		TemplateID:     "enable_circuit_breaker",
		Category:       types.CategoryRemediation,
		Confidence:     0.92,
		Risk:           types.RiskMedium,
		Priority:       types.PriorityHigh,
		Parameters:     map[string]string{"failure_threshold": "5"},
		TargetResource: "checkout",
		SignalMetric:   "error_rate",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.RecordDecision(ctx, action))

	got, err := s.GetRecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, action.ID, got[0].ID)
	assert.Equal(t, action.Category, got[0].Category)
	assert.InDelta(t, action.Confidence, got[0].Confidence, 1e-9)
	assert.Equal(t, action.Parameters, got[0].Parameters)
	assert.Equal(t, "checkout", got[0].TargetResource)
}

func TestRecordDecision_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordDecision(context.Background(), &types.DecisionAction{ID: "a1"})
	assert.Error(t, err)
}

func TestOutcomeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome := &types.Outcome{
		ActionID:  "a1",
		Success:   false,
		Duration:  1500 * time.Millisecond,
		Errors:    []string{"handler timed out"},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, s.RecordOutcome(ctx, outcome))

	got, err := s.GetRecentOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Success)
	assert.Equal(t, outcome.Duration, got[0].Duration)
	assert.Equal(t, outcome.Errors, got[0].Errors)
}

func TestOutcome_OnePerAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome := &types.Outcome{ActionID: "a1", Success: true, Timestamp: time.Now()}
	require.NoError(t, s.RecordOutcome(ctx, outcome))
	assert.Error(t, s.RecordOutcome(ctx, outcome))
}

func TestAlertRoundTripAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := &types.Alert{
		ID:        "al1",
		Title:     "error rate spike",
		Message:   "error_rate at 0.08",
		Severity:  types.SeverityCritical,
		Category:  "system",
		Source:    "anomaly-detector",
		Metadata:  map[string]string{"service": "checkout"},
		Status:    types.AlertPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.RecordAlert(ctx, alert))

	alert.Status = types.AlertSent
	alert.Channels = []string{"pager", "chat"}
	alert.EscalationLevel = 1
	require.NoError(t, s.UpdateAlert(ctx, alert))

	got, err := s.GetAlert(ctx, "al1")
	require.NoError(t, err)
	assert.Equal(t, types.AlertSent, got.Status)
	assert.Equal(t, []string{"pager", "chat"}, got.Channels)
	assert.Equal(t, 1, got.EscalationLevel)
	assert.Equal(t, "checkout", got.Metadata["service"])
	assert.Nil(t, got.AcknowledgedAt)

	now := time.Now().UTC()
	alert.Status = types.AlertAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = "oncall"
	require.NoError(t, s.UpdateAlert(ctx, alert))

	got, err = s.GetAlert(ctx, "al1")
	require.NoError(t, err)
	assert.Equal(t, types.AlertAcknowledged, got.Status)
	assert.Equal(t, "oncall", got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)
}

func TestIncrementEscalationLevel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordAlert(ctx, &types.Alert{
		ID: "al1", Title: "t", Severity: types.SeverityCritical, Category: "system",
		Status: types.AlertSent, CreatedAt: time.Now().UTC(),
	}))

	bumped, err := s.IncrementEscalationLevel(ctx, "al1")
	require.NoError(t, err)
	assert.True(t, bumped)

	got, err := s.GetAlert(ctx, "al1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel)

	// acknowledged alerts never move
	now := time.Now().UTC()
	got.Status = types.AlertAcknowledged
	got.AcknowledgedAt = &now
	got.AcknowledgedBy = "oncall"
	require.NoError(t, s.UpdateAlert(ctx, got))

	bumped, err = s.IncrementEscalationLevel(ctx, "al1")
	require.NoError(t, err)
	assert.False(t, bumped)

	got, err = s.GetAlert(ctx, "al1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.EscalationLevel)
	assert.Equal(t, types.AlertAcknowledged, got.Status)

	bumped, err = s.IncrementEscalationLevel(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, bumped)
}

func TestUpdateAlert_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateAlert(context.Background(), &types.Alert{ID: "nope", Status: types.AlertSent})
	assert.ErrorContains(t, err, "not found")
}

func TestGetAlert_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAlert(context.Background(), "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestGetRecentAlerts_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"al1", "al2", "al3"} {
		require.NoError(t, s.RecordAlert(ctx, &types.Alert{
			ID: id, Title: "t", Severity: types.SeverityLow, Category: "system",
			Status: types.AlertPending, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := s.GetRecentAlerts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "al3", got[0].ID)
	assert.Equal(t, "al2", got[1].ID)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	require.NoError(t, s.RecordDecision(ctx, &types.DecisionAction{
		ID: "old", TemplateID: "clear_cache", Category: types.CategoryRemediation,
		Confidence: 0.9, Risk: types.RiskLow, Priority: types.PriorityLow, CreatedAt: old,
	}))
	require.NoError(t, s.RecordDecision(ctx, &types.DecisionAction{
		ID: "new", TemplateID: "clear_cache", Category: types.CategoryRemediation,
		Confidence: 0.9, Risk: types.RiskLow, Priority: types.PriorityLow, CreatedAt: recent,
	}))
	require.NoError(t, s.RecordOutcome(ctx, &types.Outcome{ActionID: "old", Success: true, Timestamp: old}))

	// old but resolved: pruned. old but still sent: kept.
	require.NoError(t, s.RecordAlert(ctx, &types.Alert{
		ID: "closed", Title: "t", Severity: types.SeverityLow, Category: "system",
		Status: types.AlertResolved, CreatedAt: old,
	}))
	require.NoError(t, s.RecordAlert(ctx, &types.Alert{
		ID: "open", Title: "t", Severity: types.SeverityLow, Category: "system",
		Status: types.AlertSent, CreatedAt: old,
	}))

	n, err := s.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	decisions, err := s.GetRecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "new", decisions[0].ID)

	_, err = s.GetAlert(ctx, "closed")
	assert.Error(t, err)
	_, err = s.GetAlert(ctx, "open")
	assert.NoError(t, err)
}
