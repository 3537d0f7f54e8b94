// Package throttle rate-limits alert volume per category/severity bucket.
package throttle

import (
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BucketConfig configures one throttle bucket. Pattern is a glob matched
// against "category:severity" (e.g. "system:*", "*:critical").
type BucketConfig struct {
	Pattern   string        `yaml:"pattern"`
	MaxAlerts int           `yaml:"max_alerts"`
	Window    time.Duration `yaml:"window"`
}

// Validate checks the bucket configuration
func (c BucketConfig) Validate() error {
	if c.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if _, err := path.Match(c.Pattern, "category:severity"); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
	}
	if c.MaxAlerts <= 0 {
		return fmt.Errorf("max_alerts must be positive (got %d)", c.MaxAlerts)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive (got %v)", c.Window)
	}
	return nil
}

type bucket struct {
	cfg       BucketConfig
	count     int
	lastAlert time.Time
}

// Ledger tracks recent alert volume and answers whether an alert should be
// suppressed right now. Suppression checks and recording are separate calls
// so the dispatcher decides whether a suppressed alert consumes a slot; this
// pipeline records only non-suppressed sends.
type Ledger struct {
	mu      sync.Mutex
	buckets []*bucket
	logger  *zap.Logger

	// now is swapped out in tests
	now func() time.Time
}

// NewLedger creates a throttle ledger from bucket configs. Buckets are
// matched in configuration order; the first match wins.
func NewLedger(configs []BucketConfig, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	buckets := make([]*bucket, 0, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("throttle bucket: %w", err)
		}
		buckets = append(buckets, &bucket{cfg: cfg})
	}

	return &Ledger{
		buckets: buckets,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// ShouldSuppress reports whether an alert in the given category/severity
// bucket is currently throttled. A bucket that has never seen an alert never
// suppresses.
func (l *Ledger) ShouldSuppress(category, severity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.match(category, severity)
	if b == nil || b.lastAlert.IsZero() {
		return false
	}
	if l.now().Sub(b.lastAlert) >= b.cfg.Window {
		return false
	}
	return b.count >= b.cfg.MaxAlerts
}

// Record counts one dispatched alert against its bucket. Call exactly once
// per non-suppressed send. When the window has elapsed since the last alert
// the count resets to 1, not 0: the alert being recorded is the first of the
// new window.
func (l *Ledger) Record(category, severity string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.match(category, severity)
	if b == nil {
		return
	}

	now := l.now()
	if b.lastAlert.IsZero() || now.Sub(b.lastAlert) >= b.cfg.Window {
		b.count = 1
	} else {
		b.count++
	}
	b.lastAlert = now
}

// match returns the first bucket whose pattern matches category:severity
func (l *Ledger) match(category, severity string) *bucket {
	key := category + ":" + severity
	for _, b := range l.buckets {
		ok, err := path.Match(b.cfg.Pattern, key)
		if err != nil {
			// Patterns are validated at construction; this only fires if a
			// pattern is syntactically valid but unmatchable for this key.
			l.logger.Warn("throttle pattern match failed",
				zap.String("pattern", b.cfg.Pattern),
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if ok {
			return b
		}
	}
	return nil
}
