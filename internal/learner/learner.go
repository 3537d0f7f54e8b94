// Package learner derives success statistics from execution outcomes and
// tightens safety thresholds over time. All adjustments are one-way
// ratchets: thresholds only tighten automatically, and loosening requires
// an explicit manual reset.
package learner

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/catalog"
	"github.com/stackwatch/warden/internal/types"
)

// InsightType classifies what a learning pass concluded
type InsightType string

const (
	// InsightThresholdRaised means the minimum confidence gate was tightened
	InsightThresholdRaised InsightType = "threshold_raised"
	// InsightApprovalRequired means a template was flagged for human approval
	InsightApprovalRequired InsightType = "approval_required"
)

// Insight describes one adjustment made by a learning pass
type Insight struct {
	Type       InsightType `json:"type"`
	TemplateID string      `json:"template_id,omitempty"`
	Message    string      `json:"message"`
}

// record is one window entry: the executed action's template and computed
// confidence, plus whether it succeeded.
type record struct {
	templateID string
	confidence float64
	success    bool
}

// Config holds learner configuration
type Config struct {
	// Catalog receives approval overrides for failing templates
	Catalog *catalog.Catalog
	// Logger for learning-pass reporting
	Logger *zap.Logger
	// WindowSize is the number of recent outcomes examined. Default: 100.
	WindowSize int
	// MinConfidence is the starting minimum-confidence threshold. Default: 0.6.
	MinConfidence float64
	// ConfidenceCeiling bounds how far the threshold can ratchet up. Default: 0.8.
	ConfidenceCeiling float64
	// ConfidenceStep is how much one pass may raise the threshold. Default: 0.05.
	ConfidenceStep float64
	// PatternThreshold is the high-confidence success rate above which the
	// threshold tightens. Default: 0.8.
	PatternThreshold float64
	// FailureThreshold is the per-template failure count within the window
	// beyond which the template requires approval. Default: 3.
	FailureThreshold int
}

// DefaultConfig returns default learner configuration
func DefaultConfig() *Config {
	return &Config{
		WindowSize:        100,
		MinConfidence:     0.6,
		ConfidenceCeiling: 0.8,
		ConfidenceStep:    0.05,
		PatternThreshold:  0.8,
		FailureThreshold:  3,
	}
}

// Learner keeps a sliding window of recent outcomes and adjusts the
// decision gates from what it observes.
type Learner struct {
	mu sync.RWMutex

	cfg     *Config
	catalog *catalog.Catalog
	logger  *zap.Logger

	window        []record
	minConfidence float64
}

// New creates a learner
func New(cfg *Config) (*Learner, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	defaults := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaults.WindowSize
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaults.MinConfidence
	}
	if cfg.ConfidenceCeiling <= 0 {
		cfg.ConfidenceCeiling = defaults.ConfidenceCeiling
	}
	if cfg.ConfidenceStep <= 0 {
		cfg.ConfidenceStep = defaults.ConfidenceStep
	}
	if cfg.PatternThreshold <= 0 {
		cfg.PatternThreshold = defaults.PatternThreshold
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}

	return &Learner{
		cfg:           cfg,
		catalog:       cfg.Catalog,
		logger:        cfg.Logger,
		window:        make([]record, 0, cfg.WindowSize),
		minConfidence: cfg.MinConfidence,
	}, nil
}

// RecordOutcome adds one executed action's outcome to the sliding window
func (l *Learner) RecordOutcome(action *types.DecisionAction, outcome *types.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window = append(l.window, record{
		templateID: action.TemplateID,
		confidence: action.Confidence,
		success:    outcome.Success,
	})
	if len(l.window) > l.cfg.WindowSize {
		copy(l.window, l.window[len(l.window)-l.cfg.WindowSize:])
		l.window = l.window[:l.cfg.WindowSize]
	}
}

// MinConfidence returns the current minimum-confidence threshold
func (l *Learner) MinConfidence() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minConfidence
}

// ResetMinConfidence restores the threshold to an explicit value. This is
// the manual loosening path; Learn never lowers the threshold.
func (l *Learner) ResetMinConfidence(v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("min confidence must be in (0, 1] (got %.2f)", v)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minConfidence = v
	return nil
}

// SuccessRate returns the success rate for a template over the window.
// A template with no recorded outcomes has rate 0.
func (l *Learner) SuccessRate(templateID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total, succeeded int
	for _, r := range l.window {
		if r.templateID != templateID {
			continue
		}
		total++
		if r.success {
			succeeded++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(succeeded) / float64(total)
}

// WindowLen returns the number of outcomes currently in the window
func (l *Learner) WindowLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.window)
}

// Learn runs one learning pass over the window and applies its ratchets:
// raise the minimum-confidence threshold when high-confidence decisions keep
// succeeding, and require approval for templates that keep failing.
func (l *Learner) Learn() []Insight {
	l.mu.Lock()
	highTotal, highSucceeded := 0, 0
	failures := make(map[string]int)
	for _, r := range l.window {
		if r.confidence > 0.8 {
			highTotal++
			if r.success {
				highSucceeded++
			}
		}
		if !r.success {
			failures[r.templateID]++
		}
	}

	var insights []Insight
	if highTotal > 0 {
		rate := float64(highSucceeded) / float64(highTotal)
		if rate > l.cfg.PatternThreshold && l.minConfidence < l.cfg.ConfidenceCeiling {
			next := l.minConfidence + l.cfg.ConfidenceStep
			if next > l.cfg.ConfidenceCeiling {
				next = l.cfg.ConfidenceCeiling
			}
			l.minConfidence = next
			insights = append(insights, Insight{
				Type: InsightThresholdRaised,
				Message: fmt.Sprintf("high-confidence success rate %.2f, min confidence raised to %.2f",
					rate, next),
			})
		}
	}
	l.mu.Unlock()

	// Apply approval overrides outside the learner lock; the catalog has
	// its own.
	overridden := l.catalog.Overrides()
	for templateID, count := range failures {
		if count <= l.cfg.FailureThreshold {
			continue
		}
		if o, ok := overridden[templateID]; ok && o.RequiresApproval {
			continue
		}
		reason := fmt.Sprintf("%d failures in learning window", count)
		if err := l.catalog.RequireApproval(templateID, reason); err != nil {
			l.logger.Warn("failed to apply approval override",
				zap.String("template_id", templateID),
				zap.Error(err))
			continue
		}
		insights = append(insights, Insight{
			Type:       InsightApprovalRequired,
			TemplateID: templateID,
			Message:    fmt.Sprintf("template %s now requires approval: %s", templateID, reason),
		})
	}

	for _, insight := range insights {
		l.logger.Info("learning pass insight",
			zap.String("type", string(insight.Type)),
			zap.String("template_id", insight.TemplateID),
			zap.String("message", insight.Message))
	}
	return insights
}
