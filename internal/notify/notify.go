// Package notify defines the channel adapter contract and the registry the
// dispatcher delivers through. Platform-specific payload formatting lives in
// the adapters, never in the governance core.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/types"
)

// Message is the typed payload handed to a channel adapter. Each adapter
// formats it for its platform.
type Message struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Severity types.Severity    `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Adapter delivers a rendered message to one destination. Any returned
// error counts as a delivery failure for that channel only.
type Adapter interface {
	// Deliver sends the message. Implementations must honor ctx cancellation
	// so one unresponsive destination cannot stall the others.
	Deliver(ctx context.Context, msg Message) error
	// Type identifies the adapter implementation (e.g. "webhook")
	Type() string
}

// Registry maps channel ids to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *zap.Logger
}

// NewRegistry creates an empty adapter registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register binds an adapter to a channel id, replacing any previous binding
func (r *Registry) Register(channelID string, adapter Adapter) error {
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if adapter == nil {
		return fmt.Errorf("adapter is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[channelID] = adapter
	return nil
}

// Deliver sends a message through the adapter bound to channelID
func (r *Registry) Deliver(ctx context.Context, channelID string, msg Message) error {
	r.mu.RLock()
	adapter, ok := r.adapters[channelID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no adapter registered for channel %s", channelID)
	}
	return adapter.Deliver(ctx, msg)
}

// Has reports whether a channel id has a registered adapter
func (r *Registry) Has(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[channelID]
	return ok
}
