// Package executor runs approved decision actions through pluggable
// per-category handlers and captures every result as an Outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stackwatch/warden/internal/metrics"
	"github.com/stackwatch/warden/internal/storage"
	"github.com/stackwatch/warden/internal/types"
)

// ErrApprovalRequired is returned for actions that must wait for a human.
// The caller surfaces them and re-submits once approval arrives.
var ErrApprovalRequired = errors.New("action requires human approval")

// ErrUnsafeAction is returned for a high-risk action without the approval
// flag. The synthesizer filters these out; reaching the executor with one
// is a bug upstream.
var ErrUnsafeAction = errors.New("high-risk action without approval flag")

// ErrPaced is returned when the action pacing limits block execution.
// The action is skipped for this cycle, not failed.
var ErrPaced = errors.New("action pacing limit reached")

// Handler executes actions of one category
type Handler interface {
	Execute(ctx context.Context, action *types.DecisionAction) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, action *types.DecisionAction) error

// Execute calls the function
func (f HandlerFunc) Execute(ctx context.Context, action *types.DecisionAction) error {
	return f(ctx, action)
}

// OutcomeRecorder receives executed outcomes for learning
type OutcomeRecorder interface {
	RecordOutcome(action *types.DecisionAction, outcome *types.Outcome)
}

// Config holds executor configuration
type Config struct {
	// Store persists outcomes (best-effort)
	Store storage.Storage
	// Recorder receives outcomes for the learning window
	Recorder OutcomeRecorder
	// Logger for execution reporting
	Logger *zap.Logger
	// MaxActionsPerHour bounds total executions. Default: 10.
	MaxActionsPerHour int
	// MinTimeBetweenActions is the minimum gap between executions.
	// Default: 5m. Negative disables the gap.
	MinTimeBetweenActions time.Duration
}

// Executor dispatches actions to category handlers under pacing limits
type Executor struct {
	mu sync.Mutex

	handlers   map[types.ActionCategory]Handler
	limiter    *rate.Limiter
	minBetween time.Duration
	lastAction time.Time

	store    storage.Storage
	recorder OutcomeRecorder
	logger   *zap.Logger

	// now is swapped out in tests
	now func() time.Time
}

// New creates an executor
func New(cfg *Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	maxPerHour := cfg.MaxActionsPerHour
	if maxPerHour <= 0 {
		maxPerHour = 10
	}
	minBetween := cfg.MinTimeBetweenActions
	if minBetween == 0 {
		minBetween = 5 * time.Minute
	}

	return &Executor{
		handlers:   make(map[types.ActionCategory]Handler),
		limiter:    rate.NewLimiter(rate.Every(time.Hour/time.Duration(maxPerHour)), maxPerHour),
		minBetween: minBetween,
		store:      cfg.Store,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// RegisterHandler binds a handler to an action category
func (e *Executor) RegisterHandler(category types.ActionCategory, h Handler) error {
	if !category.IsValid() {
		return fmt.Errorf("invalid category: %s", category)
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[category] = h
	return nil
}

// Execute runs one action and returns its outcome. Handler errors and
// panics are captured into the outcome, never propagated; only gate and
// pacing refusals surface as errors, in which case nothing ran and no
// outcome exists.
func (e *Executor) Execute(ctx context.Context, action *types.DecisionAction) (*types.Outcome, error) {
	return e.execute(ctx, action, false)
}

// ExecuteApproved runs an action whose approval gate has been satisfied by
// an external signal. Pacing still applies; only the approval and risk
// gates are waived, since the human sign-off covers both.
func (e *Executor) ExecuteApproved(ctx context.Context, action *types.DecisionAction) (*types.Outcome, error) {
	return e.execute(ctx, action, true)
}

func (e *Executor) execute(ctx context.Context, action *types.DecisionAction, approved bool) (*types.Outcome, error) {
	if err := action.Validate(); err != nil {
		return nil, fmt.Errorf("invalid action: %w", err)
	}
	if !approved {
		if action.RequiresApproval {
			return nil, ErrApprovalRequired
		}
		if action.Risk == types.RiskHigh {
			return nil, ErrUnsafeAction
		}
	}
	if err := e.reserve(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	handler, ok := e.handlers[action.Category]
	e.mu.Unlock()

	start := e.now()
	var execErr error
	if !ok {
		execErr = fmt.Errorf("no handler registered for category %s", action.Category)
	} else {
		execErr = e.runHandler(ctx, handler, action)
	}

	outcome := &types.Outcome{
		ActionID:  action.ID,
		Success:   execErr == nil,
		Duration:  e.now().Sub(start),
		Timestamp: e.now(),
	}
	if execErr != nil {
		outcome.Errors = []string{execErr.Error()}
	}

	metrics.ObserveExecution(outcome.Duration, outcome.Success)
	if err := e.store.RecordOutcome(ctx, outcome); err != nil {
		e.logger.Warn("failed to persist outcome",
			zap.String("action_id", action.ID),
			zap.Error(err))
	}
	if e.recorder != nil {
		e.recorder.RecordOutcome(action, outcome)
	}

	if execErr != nil {
		e.logger.Warn("action execution failed",
			zap.String("action_id", action.ID),
			zap.String("template_id", action.TemplateID),
			zap.Error(execErr))
	} else {
		e.logger.Info("action executed",
			zap.String("action_id", action.ID),
			zap.String("template_id", action.TemplateID),
			zap.Duration("duration", outcome.Duration))
	}
	return outcome, nil
}

// reserve enforces the pacing limits and records the execution slot
func (e *Executor) reserve() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !e.lastAction.IsZero() && now.Sub(e.lastAction) < e.minBetween {
		return fmt.Errorf("%w: %v since last action", ErrPaced, now.Sub(e.lastAction))
	}
	if !e.limiter.AllowN(now, 1) {
		return fmt.Errorf("%w: hourly budget exhausted", ErrPaced)
	}
	e.lastAction = now
	return nil
}

// runHandler invokes the handler, converting panics into errors so a
// misbehaving handler cannot take down the pipeline.
func (e *Executor) runHandler(ctx context.Context, h Handler, action *types.DecisionAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Execute(ctx, action)
}
