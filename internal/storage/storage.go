package storage

import (
	"context"
	"time"

	"github.com/stackwatch/warden/internal/storage/sqlite"
	"github.com/stackwatch/warden/internal/types"
)

// Storage defines the persistence contract for the governance pipeline.
// Decision and outcome history is append-only; alert rows are updated in
// place as their status advances. Durability is best-effort from the
// pipeline's perspective: callers log write failures and keep their
// in-memory state.
type Storage interface {
	// Decisions
	RecordDecision(ctx context.Context, action *types.DecisionAction) error
	GetRecentDecisions(ctx context.Context, limit int) ([]*types.DecisionAction, error)

	// Outcomes
	RecordOutcome(ctx context.Context, outcome *types.Outcome) error
	GetRecentOutcomes(ctx context.Context, limit int) ([]*types.Outcome, error)

	// Alerts
	RecordAlert(ctx context.Context, alert *types.Alert) error
	UpdateAlert(ctx context.Context, alert *types.Alert) error
	IncrementEscalationLevel(ctx context.Context, id string) (bool, error)
	GetAlert(ctx context.Context, id string) (*types.Alert, error)
	GetRecentAlerts(ctx context.Context, limit int) ([]*types.Alert, error)

	// Retention
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".warden/warden.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".warden/warden.db"
	}
	return sqlite.New(cfg.Path)
}
