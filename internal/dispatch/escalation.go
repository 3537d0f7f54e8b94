package dispatch

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/metrics"
	"github.com/stackwatch/warden/internal/notify"
	"github.com/stackwatch/warden/internal/storage"
)

// EscalationStep describes one link in the re-notification chain for an
// unacknowledged critical alert.
type EscalationStep struct {
	// Delay is how long after the previous step (or after arming) this
	// step fires.
	Delay time.Duration `yaml:"delay"`
	// ChannelID is the channel the step's message is delivered to
	ChannelID string `yaml:"channel_id"`
	// Message is the escalation text for this step
	Message string `yaml:"message"`
}

// Validate checks if the step has valid field values
func (s EscalationStep) Validate() error {
	if s.Delay <= 0 {
		return fmt.Errorf("delay must be positive (got %v)", s.Delay)
	}
	if s.ChannelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	return nil
}

// entry is one scheduled escalation firing. Cancellation marks the entry
// rather than removing it from the heap; popped cancelled entries are
// skipped.
type entry struct {
	alertID   string
	stepIndex int
	due       time.Time
	cancelled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// SchedulerConfig holds escalation scheduler configuration
type SchedulerConfig struct {
	// Store is used to load and persist alert state
	Store storage.Storage
	// Registry delivers escalation messages
	Registry *notify.Registry
	// Steps is the ordered escalation chain. Empty disables escalation.
	Steps []EscalationStep
	// Logger for scheduler reporting
	Logger *zap.Logger
	// Clock drives due-time evaluation. Default: wall clock.
	Clock Clock
	// PollInterval is how often Run checks for due steps. Default: 1s.
	PollInterval time.Duration
	// DeliveryTimeout bounds each escalation delivery. Default: 10s.
	DeliveryTimeout time.Duration
}

// Scheduler runs per-alert escalation chains off a single due-time queue.
// One live timer exists per alert; acknowledging or resolving cancels it.
type Scheduler struct {
	mu      sync.Mutex
	queue   entryHeap
	pending map[string]*entry

	steps           []EscalationStep
	store           storage.Storage
	registry        *notify.Registry
	logger          *zap.Logger
	clock           Clock
	pollInterval    time.Duration
	deliveryTimeout time.Duration
}

// NewScheduler creates an escalation scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("notify registry is required")
	}
	for i, step := range cfg.Steps {
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("escalation step %d: %w", i, err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	deliveryTimeout := cfg.DeliveryTimeout
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}

	return &Scheduler{
		pending:         make(map[string]*entry),
		steps:           cfg.Steps,
		store:           cfg.Store,
		registry:        cfg.Registry,
		logger:          cfg.Logger,
		clock:           cfg.Clock,
		pollInterval:    pollInterval,
		deliveryTimeout: deliveryTimeout,
	}, nil
}

// Arm schedules the first escalation step for an alert. Arming an alert
// that already has a pending step replaces it.
func (s *Scheduler) Arm(alertID string) {
	if len(s.steps) == 0 || alertID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(alertID, 0)
}

// Cancel drops any pending escalation step for an alert. Cancelling an
// unknown or already-fired timer is a no-op.
func (s *Scheduler) Cancel(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[alertID]; ok {
		e.cancelled = true
		delete(s.pending, alertID)
	}
}

// Run polls the queue until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue fires every entry whose due time has passed
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.clock.Now()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].due.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.queue).(*entry)
		if !e.cancelled {
			// one timer per alert; this one is consumed
			delete(s.pending, e.alertID)
		}
		s.mu.Unlock()

		if e.cancelled {
			continue
		}
		s.fire(ctx, e)
	}
}

// fire delivers one escalation step and schedules the next
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	alert, err := s.store.GetAlert(ctx, e.alertID)
	if err != nil {
		s.logger.Warn("escalation fired for unknown alert",
			zap.String("alert_id", e.alertID),
			zap.Error(err))
		return
	}
	// safety check: the timer should have been cancelled
	if !alert.Open() {
		return
	}

	step := s.steps[e.stepIndex]
	dctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	deliverErr := s.registry.Deliver(dctx, step.ChannelID, notify.Message{
		Title:    fmt.Sprintf("[escalation %d] %s", e.stepIndex+1, alert.Title),
		Body:     step.Message,
		Severity: alert.Severity,
		Metadata: alert.Metadata,
	})
	cancel()
	metrics.RecordDelivery(step.ChannelID, deliverErr)
	if deliverErr != nil {
		// the chain continues regardless
		s.logger.Warn("escalation delivery failed",
			zap.String("alert_id", alert.ID),
			zap.String("channel", step.ChannelID),
			zap.Error(deliverErr))
	}

	// The level bump is conditional on the alert still being sent. An
	// acknowledge or resolve that landed while the step was delivering
	// wins; the stale snapshot loaded above must not be written back.
	bumped, err := s.store.IncrementEscalationLevel(ctx, e.alertID)
	if err != nil {
		s.logger.Warn("failed to persist escalation level",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	} else if !bumped {
		return
	}
	metrics.RecordEscalation()
	s.logger.Info("alert escalated",
		zap.String("alert_id", alert.ID),
		zap.Int("level", e.stepIndex+1),
		zap.String("channel", step.ChannelID))

	if next := e.stepIndex + 1; next < len(s.steps) {
		s.mu.Lock()
		s.scheduleLocked(e.alertID, next)
		s.mu.Unlock()
	}
}

// scheduleLocked enqueues one step for an alert. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(alertID string, stepIndex int) {
	if prev, ok := s.pending[alertID]; ok {
		prev.cancelled = true
	}
	e := &entry{
		alertID:   alertID,
		stepIndex: stepIndex,
		due:       s.clock.Now().Add(s.steps[stepIndex].Delay),
	}
	s.pending[alertID] = e
	heap.Push(&s.queue, e)
}
