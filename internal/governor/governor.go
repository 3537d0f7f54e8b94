// Package governor is the application root: it owns every pipeline
// component and runs the periodic decision cycle, the learning pass, and
// history retention.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/catalog"
	"github.com/stackwatch/warden/internal/decision"
	"github.com/stackwatch/warden/internal/dispatch"
	"github.com/stackwatch/warden/internal/executor"
	"github.com/stackwatch/warden/internal/learner"
	"github.com/stackwatch/warden/internal/metrics"
	"github.com/stackwatch/warden/internal/storage"
	"github.com/stackwatch/warden/internal/types"
)

// signalQueueSize bounds how many signals can wait for the next cycle
const signalQueueSize = 256

// ErrQueueFull is returned when the signal queue cannot accept more work.
// The caller should drop or retry; the governor never blocks a producer.
var ErrQueueFull = errors.New("signal queue is full")

// ErrUnknownAction is returned when an approval names no deferred action
var ErrUnknownAction = errors.New("no deferred action with that id")

// ContextFunc supplies the system context snapshot for a decision cycle
type ContextFunc func() *types.SystemContext

// Config holds governor configuration
type Config struct {
	Catalog     *catalog.Catalog
	Synthesizer *decision.Synthesizer
	Executor    *executor.Executor
	Learner     *learner.Learner
	Dispatcher  *dispatch.Dispatcher
	Store       storage.Storage
	Logger      *zap.Logger

	// Context supplies the system snapshot each cycle. When nil, a healthy
	// snapshot with the governor's own recent-action count is used.
	Context ContextFunc

	// CycleInterval is how often a decision cycle runs. Default: 30s.
	CycleInterval time.Duration
	// LearnInterval is how often a learning pass runs. Default: 10m.
	LearnInterval time.Duration
	// MaxResourceImpact caps the summed base risk of actions auto-executed
	// in one cycle. Default: 0.5.
	MaxResourceImpact float64

	// RetentionMaxAge, when positive, enables periodic pruning of history
	// older than this age.
	RetentionMaxAge time.Duration
	// RetentionInterval is how often the prune pass runs. Default: 1h.
	RetentionInterval time.Duration
}

// Governor wires the pipeline together and schedules its periodic work.
// Decision cycles are serialized: a tick that arrives while a cycle is
// still running is skipped, never queued.
type Governor struct {
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// cycleMu serializes decision cycles
	cycleMu sync.Mutex

	signals chan *types.Signal

	// deferred holds approval-required actions awaiting an external
	// approval signal
	deferredMu sync.Mutex
	deferred   map[string]*types.DecisionAction

	// recentActions tracks execution times inside the last hour for the
	// default system context
	recentMu      sync.Mutex
	recentActions []time.Time

	catalog     *catalog.Catalog
	synthesizer *decision.Synthesizer
	executor    *executor.Executor
	learner     *learner.Learner
	dispatcher  *dispatch.Dispatcher
	store       storage.Storage
	logger      *zap.Logger
	contextFn   ContextFunc

	cycleInterval     time.Duration
	learnInterval     time.Duration
	maxResourceImpact float64
	retentionMaxAge   time.Duration
	retentionInterval time.Duration
}

// New creates a governor
func New(cfg *Config) (*Governor, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Learner == nil {
		return nil, fmt.Errorf("learner is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cycleInterval := cfg.CycleInterval
	if cycleInterval <= 0 {
		cycleInterval = 30 * time.Second
	}
	learnInterval := cfg.LearnInterval
	if learnInterval <= 0 {
		learnInterval = 10 * time.Minute
	}
	maxImpact := cfg.MaxResourceImpact
	if maxImpact <= 0 {
		maxImpact = 0.5
	}
	retentionInterval := cfg.RetentionInterval
	if retentionInterval <= 0 {
		retentionInterval = time.Hour
	}

	return &Governor{
		signals:           make(chan *types.Signal, signalQueueSize),
		deferred:          make(map[string]*types.DecisionAction),
		catalog:           cfg.Catalog,
		synthesizer:       cfg.Synthesizer,
		executor:          cfg.Executor,
		learner:           cfg.Learner,
		dispatcher:        cfg.Dispatcher,
		store:             cfg.Store,
		logger:            cfg.Logger,
		contextFn:         cfg.Context,
		cycleInterval:     cycleInterval,
		learnInterval:     learnInterval,
		maxResourceImpact: maxImpact,
		retentionMaxAge:   cfg.RetentionMaxAge,
		retentionInterval: retentionInterval,
	}, nil
}

// Start launches the periodic loops
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("governor already running")
	}

	g.ctx, g.cancel = context.WithCancel(ctx)
	g.running = true

	g.wg.Add(1)
	go g.loop()

	g.logger.Info("governor started",
		zap.Duration("cycle_interval", g.cycleInterval),
		zap.Duration("learn_interval", g.learnInterval))
	return nil
}

// Stop cancels the loops and waits for them to finish
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return
	}

	g.cancel()
	g.running = false
	g.wg.Wait()
	g.logger.Info("governor stopped")
}

// SubmitSignal queues a signal for the next decision cycle. The call never
// blocks; a full queue returns ErrQueueFull.
func (g *Governor) SubmitSignal(signal *types.Signal) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	select {
	case g.signals <- signal:
		return nil
	default:
		return ErrQueueFull
	}
}

// Approve executes a deferred approval-required action. The id must match
// an action previously surfaced for approval.
func (g *Governor) Approve(ctx context.Context, actionID string) (*types.Outcome, error) {
	g.deferredMu.Lock()
	action, ok := g.deferred[actionID]
	if ok {
		delete(g.deferred, actionID)
	}
	g.deferredMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}

	outcome, err := g.executor.ExecuteApproved(ctx, action)
	if err != nil {
		// pacing refusal: put the action back so a later approval retry works
		g.deferredMu.Lock()
		g.deferred[actionID] = action
		g.deferredMu.Unlock()
		return nil, err
	}

	g.noteExecution()
	if !outcome.Success {
		g.dispatchFailure(ctx, action, outcome)
	}
	return outcome, nil
}

// PendingApprovals lists the deferred actions awaiting approval
func (g *Governor) PendingApprovals() []*types.DecisionAction {
	g.deferredMu.Lock()
	defer g.deferredMu.Unlock()

	actions := make([]*types.DecisionAction, 0, len(g.deferred))
	for _, a := range g.deferred {
		actions = append(actions, a)
	}
	return actions
}

// loop runs the periodic tickers until the governor stops
func (g *Governor) loop() {
	defer g.wg.Done()

	cycle := time.NewTicker(g.cycleInterval)
	defer cycle.Stop()
	learn := time.NewTicker(g.learnInterval)
	defer learn.Stop()

	var retain <-chan time.Time
	if g.retentionMaxAge > 0 {
		t := time.NewTicker(g.retentionInterval)
		defer t.Stop()
		retain = t.C
	}

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-cycle.C:
			g.runCycle(g.ctx)
		case <-learn.C:
			g.runLearn(g.ctx)
		case <-retain:
			g.runRetention(g.ctx)
		}
	}
}

// runCycle drains queued signals and turns them into executed actions.
// Overlapping cycles are skipped: if the previous cycle is still running
// when the tick fires, this tick does nothing.
func (g *Governor) runCycle(ctx context.Context) {
	if !g.cycleMu.TryLock() {
		g.logger.Debug("decision cycle still running, skipping tick")
		return
	}
	defer g.cycleMu.Unlock()

	sysCtx := g.systemContext()
	impactBudget := g.maxResourceImpact

	for {
		var signal *types.Signal
		select {
		case signal = <-g.signals:
		default:
			return
		}

		actions, err := g.synthesizer.Synthesize(signal, sysCtx)
		if err != nil {
			g.logger.Warn("synthesis failed",
				zap.String("metric", signal.Metric),
				zap.Error(err))
			continue
		}

		for _, action := range actions {
			g.handleAction(ctx, action, &impactBudget)
		}
	}
}

// handleAction records, defers, or executes one synthesized action.
// impactBudget is the remaining per-cycle resource impact allowance.
func (g *Governor) handleAction(ctx context.Context, action *types.DecisionAction, impactBudget *float64) {
	if err := g.store.RecordDecision(ctx, action); err != nil {
		g.logger.Warn("failed to persist decision",
			zap.String("action_id", action.ID),
			zap.Error(err))
	}

	if action.RequiresApproval {
		g.deferredMu.Lock()
		g.deferred[action.ID] = action
		g.deferredMu.Unlock()

		metrics.RecordDecision("deferred")
		g.surfaceApproval(ctx, action)
		return
	}

	tmpl, err := g.catalog.Get(action.TemplateID)
	if err != nil {
		g.logger.Warn("decision references unknown template",
			zap.String("action_id", action.ID),
			zap.String("template_id", action.TemplateID))
		return
	}
	if tmpl.BaseRisk > *impactBudget {
		metrics.RecordDecision("budget_exceeded")
		g.logger.Info("resource impact budget exhausted, holding action",
			zap.String("action_id", action.ID),
			zap.String("template_id", action.TemplateID),
			zap.Float64("remaining_budget", *impactBudget))
		return
	}

	outcome, err := g.executor.Execute(ctx, action)
	switch {
	case errors.Is(err, executor.ErrPaced):
		metrics.RecordDecision("paced")
		g.logger.Info("action pacing limit reached",
			zap.String("action_id", action.ID))
		return
	case err != nil:
		metrics.RecordDecision("rejected")
		g.logger.Warn("action rejected",
			zap.String("action_id", action.ID),
			zap.Error(err))
		return
	}

	*impactBudget -= tmpl.BaseRisk
	metrics.RecordDecision("executed")
	g.noteExecution()
	if !outcome.Success {
		g.dispatchFailure(ctx, action, outcome)
	}
}

// runLearn runs one learning pass and reports its adjustments
func (g *Governor) runLearn(ctx context.Context) {
	insights := g.learner.Learn()
	for _, insight := range insights {
		g.logger.Info("learning adjustment",
			zap.String("type", string(insight.Type)),
			zap.String("template_id", insight.TemplateID),
			zap.String("message", insight.Message))

		if insight.Type == learner.InsightApprovalRequired {
			g.dispatchAlert(ctx, &types.Alert{
				Title:    fmt.Sprintf("template %s now requires approval", insight.TemplateID),
				Message:  insight.Message,
				Severity: types.SeverityMedium,
				Category: "learning",
				Source:   "outcome-learner",
				Metadata: map[string]string{"template_id": insight.TemplateID},
			})
		}
	}
}

// runRetention prunes history older than the retention age
func (g *Governor) runRetention(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-g.retentionMaxAge)
	n, err := g.store.Prune(ctx, cutoff)
	if err != nil {
		g.logger.Warn("history prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		g.logger.Info("pruned history",
			zap.Int64("rows", n),
			zap.Time("cutoff", cutoff))
	}
}

// surfaceApproval raises an alert asking a human to approve an action
func (g *Governor) surfaceApproval(ctx context.Context, action *types.DecisionAction) {
	g.dispatchAlert(ctx, &types.Alert{
		Title:    fmt.Sprintf("action %s awaits approval", action.TemplateID),
		Message:  fmt.Sprintf("%s on %s (confidence %.2f, risk %s) requires human approval", action.TemplateID, action.TargetResource, action.Confidence, action.Risk),
		Severity: severityForPriority(action.Priority),
		Category: "approval",
		Source:   "decision-synthesizer",
		Metadata: map[string]string{
			"action_id":   action.ID,
			"template_id": action.TemplateID,
		},
	})
}

// dispatchFailure raises an alert for a failed action execution
func (g *Governor) dispatchFailure(ctx context.Context, action *types.DecisionAction, outcome *types.Outcome) {
	message := fmt.Sprintf("%s on %s failed", action.TemplateID, action.TargetResource)
	if len(outcome.Errors) > 0 {
		message = fmt.Sprintf("%s: %s", message, outcome.Errors[0])
	}
	g.dispatchAlert(ctx, &types.Alert{
		Title:    fmt.Sprintf("action %s failed", action.TemplateID),
		Message:  message,
		Severity: types.SeverityHigh,
		Category: "action",
		Source:   "executor",
		Metadata: map[string]string{
			"action_id":   action.ID,
			"template_id": action.TemplateID,
		},
	})
}

func (g *Governor) dispatchAlert(ctx context.Context, alert *types.Alert) {
	if _, err := g.dispatcher.Send(ctx, alert); err != nil {
		g.logger.Warn("failed to dispatch alert",
			zap.String("title", alert.Title),
			zap.Error(err))
	}
}

// systemContext builds the snapshot consulted by the synthesizer
func (g *Governor) systemContext() *types.SystemContext {
	if g.contextFn != nil {
		return g.contextFn()
	}
	return &types.SystemContext{
		Health:            types.HealthHealthy,
		RecentActionCount: g.recentActionCount(),
	}
}

// noteExecution records an execution time for the recent-action count
func (g *Governor) noteExecution() {
	g.recentMu.Lock()
	defer g.recentMu.Unlock()
	g.recentActions = append(g.recentActions, time.Now())
}

// recentActionCount counts executions inside the last hour
func (g *Governor) recentActionCount() int {
	g.recentMu.Lock()
	defer g.recentMu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	kept := g.recentActions[:0]
	for _, t := range g.recentActions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.recentActions = kept
	return len(kept)
}

// severityForPriority maps an action priority onto an alert severity
func severityForPriority(p types.Priority) types.Severity {
	switch p {
	case types.PriorityCritical:
		return types.SeverityCritical
	case types.PriorityHigh:
		return types.SeverityHigh
	case types.PriorityMedium:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
