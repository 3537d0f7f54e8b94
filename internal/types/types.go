package types

import (
	"fmt"
	"time"
)

// Severity classifies how serious a signal or alert is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns a numeric rank for severity comparisons (higher is more severe)
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// HealthState describes overall system health as reported by the signal source
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthCritical HealthState = "critical"
)

// IsValid checks if the health state value is valid
func (h HealthState) IsValid() bool {
	switch h {
	case HealthHealthy, HealthDegraded, HealthCritical:
		return true
	}
	return false
}

// RiskLevel classifies the computed risk of executing an action
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValid checks if the risk level value is valid
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Priority classifies how urgently an action should run
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank returns a numeric rank for priority comparisons (higher is more urgent)
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return -1
}

// ActionCategory groups action templates by what kind of work they do
type ActionCategory string

const (
	CategoryRemediation  ActionCategory = "remediation"
	CategoryOptimization ActionCategory = "optimization"
	CategoryAlert        ActionCategory = "alert"
	CategoryMonitor      ActionCategory = "monitor"
)

// IsValid checks if the action category value is valid
func (c ActionCategory) IsValid() bool {
	switch c {
	case CategoryRemediation, CategoryOptimization, CategoryAlert, CategoryMonitor:
		return true
	}
	return false
}

// Signal is an observed condition (anomaly, health degradation, resource
// pressure) pushed by the signal source. Signals are immutable and consumed
// once by the decision synthesizer.
type Signal struct {
	// Metric is the name of the metric that produced this signal (e.g. "error_rate")
	Metric string `json:"metric"`
	// Value is the observed metric value
	Value float64 `json:"value"`
	// Severity classifies how serious the observation is
	Severity Severity `json:"severity"`
	// Confidence is the signal source's confidence in the observation (0.0 to 1.0)
	Confidence float64 `json:"confidence"`
	// Timestamp is when the condition was observed
	Timestamp time.Time `json:"timestamp"`
	// Context carries free-form attributes (e.g. "service", "region")
	Context map[string]string `json:"context,omitempty"`
}

// Validate checks if the signal has valid field values
func (s *Signal) Validate() error {
	if s.Metric == "" {
		return fmt.Errorf("metric is required")
	}
	if !s.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", s.Severity)
	}
	if s.Confidence < 0.0 || s.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", s.Confidence)
	}
	return nil
}

// Service returns the target service named in the signal context, if any
func (s *Signal) Service() string {
	if s.Context == nil {
		return ""
	}
	return s.Context["service"]
}

// SystemContext is a snapshot of system-wide state consulted when scoring
// candidate actions. It is produced by the signal source alongside signals.
type SystemContext struct {
	// Health is the overall system health state
	Health HealthState `json:"health"`
	// CPUUtilization is system CPU usage (0.0 to 1.0)
	CPUUtilization float64 `json:"cpu_utilization"`
	// MemoryUtilization is system memory usage (0.0 to 1.0)
	MemoryUtilization float64 `json:"memory_utilization"`
	// PeakHours is true during configured peak traffic hours
	PeakHours bool `json:"peak_hours"`
	// RecentActionCount is the number of actions executed recently
	RecentActionCount int `json:"recent_action_count"`
}

// ImpactVector estimates the effect of an action across four axes.
// Each component is in [-100, 100]; negative means the action is expected
// to make that axis worse.
type ImpactVector struct {
	Performance    float64 `json:"performance"`
	Reliability    float64 `json:"reliability"`
	Cost           float64 `json:"cost"`
	UserExperience float64 `json:"user_experience"`
}

// Validate checks that every impact component is within bounds
func (v ImpactVector) Validate() error {
	for name, val := range map[string]float64{
		"performance":     v.Performance,
		"reliability":     v.Reliability,
		"cost":            v.Cost,
		"user_experience": v.UserExperience,
	} {
		if val < -100 || val > 100 {
			return fmt.Errorf("impact %s must be between -100 and 100 (got %.1f)", name, val)
		}
	}
	return nil
}

// ActionTemplate is a static catalog entry describing a known remediation or
// optimization action. Templates are loaded at startup and never deleted;
// only the approval requirement changes over time, and that is tracked as a
// policy override in the catalog rather than by mutating the template.
type ActionTemplate struct {
	// ID uniquely identifies the template (e.g. "enable_circuit_breaker")
	ID string `json:"id"`
	// Category groups the template by kind of work
	Category ActionCategory `json:"category"`
	// BaseRisk is the template's inherent risk score (0.0 to 1.0) before
	// context adjustments
	BaseRisk float64 `json:"base_risk"`
	// Parameters are default parameters, overridden per instantiation
	Parameters map[string]string `json:"parameters,omitempty"`
	// Impact estimates the action's effect if it succeeds
	Impact ImpactVector `json:"impact"`
	// Duration is the nominal execution duration
	Duration time.Duration `json:"duration"`
	// RequiresApproval marks the template as needing human sign-off before
	// execution. The learner can tighten this via a catalog policy override.
	RequiresApproval bool `json:"requires_approval"`
	// Rollback describes how to undo the action
	Rollback string `json:"rollback,omitempty"`
}

// Validate checks if the template has valid field values
func (t *ActionTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if !t.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", t.Category)
	}
	if t.BaseRisk < 0.0 || t.BaseRisk > 1.0 {
		return fmt.Errorf("base_risk must be between 0.0 and 1.0 (got %.2f)", t.BaseRisk)
	}
	if err := t.Impact.Validate(); err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	return nil
}

// DecisionAction is a scored candidate (or executed) instance derived from a
// template. Confidence, risk, and priority are always recomputed per
// instantiation; they are never copied from a prior decision.
type DecisionAction struct {
	// ID uniquely identifies this instantiation
	ID string `json:"id"`
	// TemplateID references the catalog template this was derived from
	TemplateID string `json:"template_id"`
	// Category is copied from the template for dedup and handler dispatch
	Category ActionCategory `json:"category"`
	// Confidence is the computed confidence that this action helps (0.0 to 1.0)
	Confidence float64 `json:"confidence"`
	// Risk is the computed risk level under current context
	Risk RiskLevel `json:"risk"`
	// Priority is the computed execution priority
	Priority Priority `json:"priority"`
	// Parameters are the resolved parameters (template defaults overridden by
	// signal context)
	Parameters map[string]string `json:"parameters,omitempty"`
	// TargetResource is the resource the action operates on (e.g. a service name)
	TargetResource string `json:"target_resource,omitempty"`
	// SignalMetric is the metric of the signal that produced this action
	SignalMetric string `json:"signal_metric,omitempty"`
	// RequiresApproval is true when the action must wait for human approval
	RequiresApproval bool `json:"requires_approval"`
	// CreatedAt is when the action was instantiated
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the decision action has valid field values
func (a *DecisionAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action id is required")
	}
	if a.TemplateID == "" {
		return fmt.Errorf("template_id is required")
	}
	if a.Confidence < 0.0 || a.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", a.Confidence)
	}
	if !a.Risk.IsValid() {
		return fmt.Errorf("invalid risk level: %s", a.Risk)
	}
	if !a.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", a.Priority)
	}
	return nil
}

// Outcome records the result of executing a DecisionAction. Exactly one
// outcome exists per executed action; a retry produces a new action.
type Outcome struct {
	// ActionID references the executed DecisionAction
	ActionID string `json:"action_id"`
	// Success is true when the handler completed without error
	Success bool `json:"success"`
	// Duration is the wall-clock execution time
	Duration time.Duration `json:"duration"`
	// Errors lists handler errors, if any
	Errors []string `json:"errors,omitempty"`
	// ObservedImpact holds impact metrics measured after a settling window.
	// Empty until measured.
	ObservedImpact map[string]float64 `json:"observed_impact,omitempty"`
	// Timestamp is when execution finished
	Timestamp time.Time `json:"timestamp"`
}
