package types

import (
	"fmt"
	"time"
)

// AlertStatus represents the delivery lifecycle of an alert
type AlertStatus string

const (
	// AlertPending means the alert has been accepted but not yet delivered
	AlertPending AlertStatus = "pending"
	// AlertSent means every resolved channel accepted the alert
	AlertSent AlertStatus = "sent"
	// AlertFailed means at least one resolved channel rejected the alert.
	// Failed alerts may be retried back to pending.
	AlertFailed AlertStatus = "failed"
	// AlertSuppressed means the throttle ledger blocked delivery. The alert
	// is kept in history but nothing was sent.
	AlertSuppressed AlertStatus = "suppressed"
	// AlertAcknowledged means an operator has seen the alert
	AlertAcknowledged AlertStatus = "acknowledged"
	// AlertResolved means the underlying condition is closed out
	AlertResolved AlertStatus = "resolved"
)

// IsValid checks if the alert status value is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertPending, AlertSent, AlertFailed, AlertSuppressed, AlertAcknowledged, AlertResolved:
		return true
	}
	return false
}

// CanTransitionTo reports whether a status change is allowed.
// Transitions are monotone except failed->pending (retry).
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertPending:
		return next == AlertSent || next == AlertFailed || next == AlertSuppressed
	case AlertSent:
		return next == AlertAcknowledged || next == AlertResolved
	case AlertFailed:
		return next == AlertPending
	case AlertAcknowledged:
		return next == AlertResolved
	case AlertSuppressed, AlertResolved:
		return false
	}
	return false
}

// Alert is a dispatch-worthy event routed to zero or more channels
type Alert struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	// Category groups alerts for throttling and routing (e.g. "system", "action")
	Category string            `json:"category"`
	Source   string            `json:"source,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Status   AlertStatus       `json:"status"`
	// Channels lists the channel ids the alert resolved to. Empty when no
	// routing rule matched; that is recorded history, not an error.
	Channels []string `json:"channels,omitempty"`
	// EscalationLevel counts fired escalation steps. It only increases, and
	// only while the alert is neither acknowledged nor resolved.
	EscalationLevel int        `json:"escalation_level"`
	CreatedAt       time.Time  `json:"created_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Validate checks if the alert has valid field values
func (a *Alert) Validate() error {
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !a.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", a.Severity)
	}
	if a.Category == "" {
		return fmt.Errorf("category is required")
	}
	if a.Status != "" && !a.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	if a.EscalationLevel < 0 {
		return fmt.Errorf("escalation_level cannot be negative (got %d)", a.EscalationLevel)
	}
	return nil
}

// Open reports whether the alert can still escalate
func (a *Alert) Open() bool {
	return a.Status != AlertAcknowledged && a.Status != AlertResolved
}
