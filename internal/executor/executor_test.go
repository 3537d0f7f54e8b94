package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/warden/internal/storage"
	"github.com/stackwatch/warden/internal/types"
)

type fakeRecorder struct {
	actions  []*types.DecisionAction
	outcomes []*types.Outcome
}

func (r *fakeRecorder) RecordOutcome(action *types.DecisionAction, outcome *types.Outcome) {
	r.actions = append(r.actions, action)
	r.outcomes = append(r.outcomes, outcome)
}

func newTestExecutor(t *testing.T, cfg *Config) (*Executor, storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(&storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Store = store
	e, err := New(cfg)
	require.NoError(t, err)
	return e, store
}

func testAction(id string) *types.DecisionAction {
	return &types.DecisionAction{
		ID:             id,
		TemplateID:     "clear_cache",
		Category:       types.CategoryRemediation,
		Confidence:     0.9,
		Risk:           types.RiskLow,
		Priority:       types.PriorityMedium,
		TargetResource: "checkout",
	}
}

func TestNew_RequiresStorage(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestExecute_RunsHandlerAndRecordsOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	e, store := newTestExecutor(t, &Config{Recorder: rec, MinTimeBetweenActions: -1})

	var ran bool
	require.NoError(t, e.RegisterHandler(types.CategoryRemediation, HandlerFunc(
		func(ctx context.Context, action *types.DecisionAction) error {
			ran = true
			return nil
		})))

	outcome, err := e.Execute(context.Background(), testAction("a1"))
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.Errors)

	// outcome persisted
	got, err := store.GetRecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ActionID)

	// recorder saw it
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, "a1", rec.outcomes[0].ActionID)
}

func TestExecute_ApprovalRequired(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: -1})

	action := testAction("a1")
	action.RequiresApproval = true
	_, err := e.Execute(context.Background(), action)
	assert.ErrorIs(t, err, ErrApprovalRequired)
}

func TestExecuteApproved_BypassesGates(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: -1})
	require.NoError(t, e.RegisterHandler(types.CategoryRemediation, HandlerFunc(
		func(ctx context.Context, action *types.DecisionAction) error { return nil })))

	action := testAction("a1")
	action.RequiresApproval = true
	action.Risk = types.RiskHigh

	outcome, err := e.ExecuteApproved(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestExecute_RefusesHighRisk(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: -1})

	action := testAction("a1")
	action.Risk = types.RiskHigh
	_, err := e.Execute(context.Background(), action)
	assert.ErrorIs(t, err, ErrUnsafeAction)
}

func TestExecute_InvalidAction(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: -1})

	_, err := e.Execute(context.Background(), &types.DecisionAction{})
	assert.Error(t, err)
}

func TestExecute_HandlerErrorCapturedInOutcome(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: -1})

	require.NoError(t, e.RegisterHandler(types.CategoryRemediation, HandlerFunc(
		func(ctx context.Context, action *types.DecisionAction) error {
			return errors.New("backend unavailable")
		})))

	outcome, err := e.Execute(context.Background(), testAction("a1"))
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0], "backend unavailable")
}

func TestExecute_HandlerPanicRecovered(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: -1})

	require.NoError(t, e.RegisterHandler(types.CategoryRemediation, HandlerFunc(
		func(ctx context.Context, action *types.DecisionAction) error {
			panic("boom")
		})))

	outcome, err := e.Execute(context.Background(), testAction("a1"))
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0], "boom")
}

func TestExecute_MissingHandlerIsFailedOutcome(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: -1})

	outcome, err := e.Execute(context.Background(), testAction("a1"))
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0], "no handler registered")
}

func TestExecute_MinTimeBetweenActions(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MinTimeBetweenActions: 5 * time.Minute})
	require.NoError(t, e.RegisterHandler(types.CategoryRemediation, HandlerFunc(
		func(ctx context.Context, action *types.DecisionAction) error { return nil })))

	now := time.Now()
	e.now = func() time.Time { return now }

	_, err := e.Execute(context.Background(), testAction("a1"))
	require.NoError(t, err)

	// too soon
	now = now.Add(time.Minute)
	_, err = e.Execute(context.Background(), testAction("a2"))
	assert.ErrorIs(t, err, ErrPaced)

	// past the gap
	now = now.Add(5 * time.Minute)
	_, err = e.Execute(context.Background(), testAction("a3"))
	assert.NoError(t, err)
}

func TestExecute_HourlyBudget(t *testing.T) {
	e, _ := newTestExecutor(t, &Config{MaxActionsPerHour: 2, MinTimeBetweenActions: -1})
	require.NoError(t, e.RegisterHandler(types.CategoryRemediation, HandlerFunc(
		func(ctx context.Context, action *types.DecisionAction) error { return nil })))

	now := time.Now()
	e.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := e.Execute(context.Background(), testAction(fmt.Sprintf("a%d", i)))
		require.NoError(t, err)
	}
	_, err := e.Execute(context.Background(), testAction("a2"))
	assert.ErrorIs(t, err, ErrPaced)

	// budget refills over time
	now = now.Add(time.Hour)
	_, err = e.Execute(context.Background(), testAction("a3"))
	assert.NoError(t, err)
}

func TestRegisterHandler_Validation(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	assert.Error(t, e.RegisterHandler(types.ActionCategory("bogus"), HandlerFunc(
		func(ctx context.Context, action *types.DecisionAction) error { return nil })))
	assert.Error(t, e.RegisterHandler(types.CategoryRemediation, nil))
}
