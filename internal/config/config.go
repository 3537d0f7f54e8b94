// Package config loads and validates the YAML configuration file that
// wires the governance pipeline together.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackwatch/warden/internal/dispatch"
	"github.com/stackwatch/warden/internal/routing"
	"github.com/stackwatch/warden/internal/throttle"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m"
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DecisionConfig tunes the synthesizer and the decision cycle
type DecisionConfig struct {
	// MinConfidence is the starting confidence gate. Default: 0.6.
	MinConfidence float64 `yaml:"min_confidence"`
	// MaxConcurrentActions caps actions per decision cycle. Default: 3.
	MaxConcurrentActions int `yaml:"max_concurrent_actions"`
	// MaxResourceImpact caps the summed resource impact of selected
	// actions. Default: 0.5.
	MaxResourceImpact float64 `yaml:"max_resource_impact"`
	// CycleInterval is how often a decision cycle runs. Default: 30s.
	CycleInterval Duration `yaml:"cycle_interval"`
}

// ExecutorConfig tunes action pacing
type ExecutorConfig struct {
	// MaxActionsPerHour bounds total executions. Default: 10.
	MaxActionsPerHour int `yaml:"max_actions_per_hour"`
	// MinTimeBetweenActions is the minimum gap between executions.
	// Default: 5m.
	MinTimeBetweenActions Duration `yaml:"min_time_between_actions"`
}

// LearningConfig tunes the outcome learner
type LearningConfig struct {
	// WindowSize is how many recent outcomes to analyze. Default: 100.
	WindowSize int `yaml:"window_size"`
	// ConfidenceCeiling bounds the learned confidence gate. Default: 0.8.
	ConfidenceCeiling float64 `yaml:"confidence_ceiling"`
	// ConfidenceStep is how much each learning pass may raise the gate.
	// Default: 0.05.
	ConfidenceStep float64 `yaml:"confidence_step"`
	// PatternThreshold is the success rate treated as a strong pattern.
	// Default: 0.8.
	PatternThreshold float64 `yaml:"pattern_threshold"`
	// FailureThreshold is how many failures of one template flip it to
	// approval-required. Default: 3.
	FailureThreshold int `yaml:"failure_threshold"`
	// Interval is how often a learning pass runs. Default: 10m.
	Interval Duration `yaml:"interval"`
}

// BucketConfig is one throttle bucket
type BucketConfig struct {
	// Pattern globs against "category:severity"
	Pattern string `yaml:"pattern"`
	// MaxAlerts allowed inside the window
	MaxAlerts int `yaml:"max_alerts"`
	// Window is the throttle window length
	Window Duration `yaml:"window"`
}

// StepConfig is one escalation step
type StepConfig struct {
	Delay     Duration `yaml:"delay"`
	ChannelID string   `yaml:"channel_id"`
	Message   string   `yaml:"message"`
}

// DeliveryConfig tunes channel fan-out
type DeliveryConfig struct {
	// MaxParallel bounds concurrent channel deliveries. Default: 5.
	MaxParallel int64 `yaml:"max_parallel"`
	// Timeout bounds each channel delivery. Default: 10s.
	Timeout Duration `yaml:"timeout"`
}

// StorageConfig locates the database
type StorageConfig struct {
	// Path is the SQLite database file. Default: .warden/warden.db.
	Path string `yaml:"path"`
}

// RetentionConfig tunes periodic history pruning
type RetentionConfig struct {
	// Enabled turns pruning on. Default: false.
	Enabled bool `yaml:"enabled"`
	// MaxAge is how long decision/outcome/closed-alert rows are kept.
	// Default: 720h (30 days).
	MaxAge Duration `yaml:"max_age"`
	// Interval is how often the prune pass runs. Default: 1h.
	Interval Duration `yaml:"interval"`
}

// Config is the full configuration file
type Config struct {
	Decision   DecisionConfig    `yaml:"decision"`
	Executor   ExecutorConfig    `yaml:"executor"`
	Learning   LearningConfig    `yaml:"learning"`
	Throttle   []BucketConfig    `yaml:"throttle"`
	Channels   []routing.Channel `yaml:"channels"`
	Escalation []StepConfig      `yaml:"escalation"`
	Delivery   DeliveryConfig    `yaml:"delivery"`
	Storage    StorageConfig     `yaml:"storage"`
	Retention  RetentionConfig   `yaml:"retention"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		Decision: DecisionConfig{
			MinConfidence:        0.6,
			MaxConcurrentActions: 3,
			MaxResourceImpact:    0.5,
			CycleInterval:        Duration(30 * time.Second),
		},
		Executor: ExecutorConfig{
			MaxActionsPerHour:     10,
			MinTimeBetweenActions: Duration(5 * time.Minute),
		},
		Learning: LearningConfig{
			WindowSize:        100,
			ConfidenceCeiling: 0.8,
			ConfidenceStep:    0.05,
			PatternThreshold:  0.8,
			FailureThreshold:  3,
			Interval:          Duration(10 * time.Minute),
		},
		Delivery: DeliveryConfig{
			MaxParallel: 5,
			Timeout:     Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Path: ".warden/warden.db",
		},
		Retention: RetentionConfig{
			MaxAge:   Duration(720 * time.Hour),
			Interval: Duration(time.Hour),
		},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by partial YAML files
func (c *Config) applyDefaults() {
	def := Default()
	if c.Decision.MinConfidence == 0 {
		c.Decision.MinConfidence = def.Decision.MinConfidence
	}
	if c.Decision.MaxConcurrentActions == 0 {
		c.Decision.MaxConcurrentActions = def.Decision.MaxConcurrentActions
	}
	if c.Decision.MaxResourceImpact == 0 {
		c.Decision.MaxResourceImpact = def.Decision.MaxResourceImpact
	}
	if c.Decision.CycleInterval == 0 {
		c.Decision.CycleInterval = def.Decision.CycleInterval
	}
	if c.Executor.MaxActionsPerHour == 0 {
		c.Executor.MaxActionsPerHour = def.Executor.MaxActionsPerHour
	}
	if c.Executor.MinTimeBetweenActions == 0 {
		c.Executor.MinTimeBetweenActions = def.Executor.MinTimeBetweenActions
	}
	if c.Learning.WindowSize == 0 {
		c.Learning.WindowSize = def.Learning.WindowSize
	}
	if c.Learning.ConfidenceCeiling == 0 {
		c.Learning.ConfidenceCeiling = def.Learning.ConfidenceCeiling
	}
	if c.Learning.ConfidenceStep == 0 {
		c.Learning.ConfidenceStep = def.Learning.ConfidenceStep
	}
	if c.Learning.PatternThreshold == 0 {
		c.Learning.PatternThreshold = def.Learning.PatternThreshold
	}
	if c.Learning.FailureThreshold == 0 {
		c.Learning.FailureThreshold = def.Learning.FailureThreshold
	}
	if c.Learning.Interval == 0 {
		c.Learning.Interval = def.Learning.Interval
	}
	if c.Delivery.MaxParallel == 0 {
		c.Delivery.MaxParallel = def.Delivery.MaxParallel
	}
	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = def.Delivery.Timeout
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Retention.MaxAge == 0 {
		c.Retention.MaxAge = def.Retention.MaxAge
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = def.Retention.Interval
	}
}

// Validate checks the configuration for invalid values. Structural
// validation of channels and escalation steps happens again in their
// constructors; this catches config-file mistakes early with file-level
// error messages.
func (c *Config) Validate() error {
	if c.Decision.MinConfidence < 0 || c.Decision.MinConfidence > 1 {
		return fmt.Errorf("decision.min_confidence must be between 0.0 and 1.0 (got %.2f)", c.Decision.MinConfidence)
	}
	if c.Decision.MaxConcurrentActions < 1 {
		return fmt.Errorf("decision.max_concurrent_actions must be at least 1")
	}
	if c.Decision.MaxResourceImpact <= 0 {
		return fmt.Errorf("decision.max_resource_impact must be positive")
	}
	if c.Executor.MaxActionsPerHour < 1 {
		return fmt.Errorf("executor.max_actions_per_hour must be at least 1")
	}
	if c.Learning.ConfidenceCeiling < c.Decision.MinConfidence {
		return fmt.Errorf("learning.confidence_ceiling (%.2f) below decision.min_confidence (%.2f)",
			c.Learning.ConfidenceCeiling, c.Decision.MinConfidence)
	}
	for i, b := range c.Throttle {
		if err := b.toDomain().Validate(); err != nil {
			return fmt.Errorf("throttle bucket %d: %w", i, err)
		}
	}
	for i, s := range c.Escalation {
		if err := s.toDomain().Validate(); err != nil {
			return fmt.Errorf("escalation step %d: %w", i, err)
		}
	}
	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel id is required")
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("duplicate channel id: %s", ch.ID)
		}
		seen[ch.ID] = struct{}{}
	}
	for i, s := range c.Escalation {
		if _, ok := seen[s.ChannelID]; !ok {
			return fmt.Errorf("escalation step %d references unknown channel %s", i, s.ChannelID)
		}
	}
	return nil
}

func (b BucketConfig) toDomain() throttle.BucketConfig {
	return throttle.BucketConfig{
		Pattern:   b.Pattern,
		MaxAlerts: b.MaxAlerts,
		Window:    b.Window.Std(),
	}
}

func (s StepConfig) toDomain() dispatch.EscalationStep {
	return dispatch.EscalationStep{
		Delay:     s.Delay.Std(),
		ChannelID: s.ChannelID,
		Message:   s.Message,
	}
}

// ThrottleBuckets converts the throttle section to ledger bucket configs
func (c *Config) ThrottleBuckets() []throttle.BucketConfig {
	buckets := make([]throttle.BucketConfig, 0, len(c.Throttle))
	for _, b := range c.Throttle {
		buckets = append(buckets, b.toDomain())
	}
	return buckets
}

// EscalationSteps converts the escalation section to scheduler steps
func (c *Config) EscalationSteps() []dispatch.EscalationStep {
	steps := make([]dispatch.EscalationStep, 0, len(c.Escalation))
	for _, s := range c.Escalation {
		steps = append(steps, s.toDomain())
	}
	return steps
}
