// Package dispatch sends alerts through routed channels, enforces
// throttle buckets, and drives the escalation chain for unacknowledged
// critical alerts.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/stackwatch/warden/internal/metrics"
	"github.com/stackwatch/warden/internal/notify"
	"github.com/stackwatch/warden/internal/routing"
	"github.com/stackwatch/warden/internal/storage"
	"github.com/stackwatch/warden/internal/throttle"
	"github.com/stackwatch/warden/internal/types"
)

// Config holds dispatcher configuration
type Config struct {
	// Store persists alert history
	Store storage.Storage
	// Ledger suppresses bursty alerts per bucket
	Ledger *throttle.Ledger
	// Table resolves alerts to channel ids
	Table *routing.Table
	// Registry delivers to the resolved channels
	Registry *notify.Registry
	// Escalator, when set, is armed for critical alerts that send cleanly
	Escalator *Scheduler
	// Logger for dispatch reporting
	Logger *zap.Logger
	// MaxParallelDeliveries bounds channel fan-out per send. Default: 5.
	MaxParallelDeliveries int64
	// DeliveryTimeout bounds each channel delivery. Default: 10s.
	DeliveryTimeout time.Duration
}

// Dispatcher is the alert entry point. Send runs the full pipeline:
// throttle check, channel resolution, parallel delivery, persistence,
// and escalation arming.
type Dispatcher struct {
	store     storage.Storage
	ledger    *throttle.Ledger
	table     *routing.Table
	registry  *notify.Registry
	escalator *Scheduler
	logger    *zap.Logger

	sem             *semaphore.Weighted
	deliveryTimeout time.Duration
}

// New creates a dispatcher
func New(cfg *Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("throttle ledger is required")
	}
	if cfg.Table == nil {
		return nil, fmt.Errorf("routing table is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("notify registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	maxParallel := cfg.MaxParallelDeliveries
	if maxParallel <= 0 {
		maxParallel = 5
	}
	deliveryTimeout := cfg.DeliveryTimeout
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}

	return &Dispatcher{
		store:           cfg.Store,
		ledger:          cfg.Ledger,
		table:           cfg.Table,
		registry:        cfg.Registry,
		escalator:       cfg.Escalator,
		logger:          cfg.Logger,
		sem:             semaphore.NewWeighted(maxParallel),
		deliveryTimeout: deliveryTimeout,
	}, nil
}

// Send runs an alert through the pipeline and returns its id. A suppressed
// or failed delivery is not an error; the alert is persisted either way so
// history stays complete. Errors mean the alert could not even be accepted;
// a persistence failure after delivery is logged, not returned.
func (d *Dispatcher) Send(ctx context.Context, alert *types.Alert) (string, error) {
	if err := alert.Validate(); err != nil {
		return "", fmt.Errorf("invalid alert: %w", err)
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.Status = types.AlertPending

	d.process(ctx, alert)

	// Deliveries already happened; history durability is best-effort.
	if err := d.store.RecordAlert(ctx, alert); err != nil {
		d.logger.Warn("failed to record alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
	d.armIfCritical(alert)
	return alert.ID, nil
}

// Retry re-attempts delivery for a failed alert. Only failed alerts may be
// retried; the alert moves back through pending and is re-dispatched.
func (d *Dispatcher) Retry(ctx context.Context, alertID string) error {
	alert, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if !alert.Status.CanTransitionTo(types.AlertPending) {
		return fmt.Errorf("alert %s cannot be retried from status %s", alertID, alert.Status)
	}
	alert.Status = types.AlertPending

	d.process(ctx, alert)

	if err := d.store.UpdateAlert(ctx, alert); err != nil {
		d.logger.Warn("failed to update alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
	d.armIfCritical(alert)
	return nil
}

// Acknowledge marks a sent alert as seen by an operator and cancels its
// escalation chain.
func (d *Dispatcher) Acknowledge(ctx context.Context, alertID, who string) error {
	alert, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if !alert.Status.CanTransitionTo(types.AlertAcknowledged) {
		return fmt.Errorf("alert %s cannot be acknowledged from status %s", alertID, alert.Status)
	}

	// Cancel first: the escalation timer must die even when the store
	// write below fails.
	if d.escalator != nil {
		d.escalator.Cancel(alertID)
	}

	now := time.Now().UTC()
	alert.Status = types.AlertAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = who
	if err := d.store.UpdateAlert(ctx, alert); err != nil {
		d.logger.Warn("failed to persist acknowledgement",
			zap.String("alert_id", alertID),
			zap.Error(err))
	}
	d.logger.Info("alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("by", who))
	return nil
}

// Resolve closes out an alert and cancels its escalation chain
func (d *Dispatcher) Resolve(ctx context.Context, alertID string) error {
	alert, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if !alert.Status.CanTransitionTo(types.AlertResolved) {
		return fmt.Errorf("alert %s cannot be resolved from status %s", alertID, alert.Status)
	}

	if d.escalator != nil {
		d.escalator.Cancel(alertID)
	}

	now := time.Now().UTC()
	alert.Status = types.AlertResolved
	alert.ResolvedAt = &now
	if err := d.store.UpdateAlert(ctx, alert); err != nil {
		d.logger.Warn("failed to persist resolution",
			zap.String("alert_id", alertID),
			zap.Error(err))
	}
	d.logger.Info("alert resolved", zap.String("alert_id", alertID))
	return nil
}

// process runs the throttle check, resolves channels, and delivers. It
// mutates alert.Status and alert.Channels but does not persist.
func (d *Dispatcher) process(ctx context.Context, alert *types.Alert) {
	if d.ledger.ShouldSuppress(alert.Category, string(alert.Severity)) {
		alert.Status = types.AlertSuppressed
		metrics.RecordSuppressed()
		metrics.RecordAlert(string(alert.Severity), string(alert.Status))
		d.logger.Debug("alert suppressed by throttle",
			zap.String("alert_id", alert.ID),
			zap.String("category", alert.Category),
			zap.String("severity", string(alert.Severity)))
		return
	}

	alert.Channels = d.table.ResolveChannels(alert)
	failed := d.deliver(ctx, alert)

	if failed == 0 {
		alert.Status = types.AlertSent
	} else {
		alert.Status = types.AlertFailed
	}
	d.ledger.Record(alert.Category, string(alert.Severity))
	metrics.RecordAlert(string(alert.Severity), string(alert.Status))

	d.logger.Info("alert dispatched",
		zap.String("alert_id", alert.ID),
		zap.String("status", string(alert.Status)),
		zap.Strings("channels", alert.Channels),
		zap.Int("failed_channels", failed))
}

// deliver fans out to every resolved channel in parallel and returns the
// number of channels that failed. Each delivery has its own timeout so one
// unresponsive channel cannot stall the others.
func (d *Dispatcher) deliver(ctx context.Context, alert *types.Alert) int {
	if len(alert.Channels) == 0 {
		return 0
	}

	msg := notify.Message{
		Title:    alert.Title,
		Body:     alert.Message,
		Severity: alert.Severity,
		Metadata: alert.Metadata,
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, channelID := range alert.Channels {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			defer d.sem.Release(1)

			dctx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
			defer cancel()

			err := d.registry.Deliver(dctx, channelID, msg)
			metrics.RecordDelivery(channelID, err)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				d.logger.Warn("channel delivery failed",
					zap.String("alert_id", alert.ID),
					zap.String("channel", channelID),
					zap.Error(err))
			}
		}(channelID)
	}
	wg.Wait()
	return failed
}

// armIfCritical starts the escalation chain for critical alerts that sent
func (d *Dispatcher) armIfCritical(alert *types.Alert) {
	if d.escalator == nil {
		return
	}
	if alert.Status == types.AlertSent && alert.Severity == types.SeverityCritical {
		d.escalator.Arm(alert.ID)
	}
}
