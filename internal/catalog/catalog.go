package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stackwatch/warden/internal/types"
)

// ErrUnknownTemplate is returned when a template id was never registered.
// Callers that hit this have a wiring bug, not a runtime condition.
var ErrUnknownTemplate = errors.New("unknown action template")

// PolicyOverride records a learned tightening of a template's approval
// policy. Overrides are applied on top of the immutable template set at
// read time, so the learner never races with concurrent template reads.
type PolicyOverride struct {
	// RequiresApproval forces human sign-off for the template
	RequiresApproval bool `json:"requires_approval"`
	// Reason explains why the override was applied
	Reason string `json:"reason,omitempty"`
	// AppliedAt is when the override was recorded
	AppliedAt time.Time `json:"applied_at"`
}

// Catalog holds the immutable action template set plus a versioned map of
// policy overrides. Templates are loaded once at construction and never
// removed; only overrides change afterwards.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]types.ActionTemplate
	overrides map[string]PolicyOverride
	version   int
}

// New creates a catalog from a template set. Duplicate or invalid templates
// are rejected.
func New(templates []types.ActionTemplate) (*Catalog, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("at least one template is required")
	}

	byID := make(map[string]types.ActionTemplate, len(templates))
	for i := range templates {
		t := templates[i]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid template: %w", err)
		}
		if _, exists := byID[t.ID]; exists {
			return nil, fmt.Errorf("duplicate template id: %s", t.ID)
		}
		byID[t.ID] = t
	}

	return &Catalog{
		templates: byID,
		overrides: make(map[string]PolicyOverride),
	}, nil
}

// Get returns the template with any policy override already applied.
// Returns ErrUnknownTemplate for ids that were never registered.
func (c *Catalog) Get(id string) (types.ActionTemplate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.templates[id]
	if !ok {
		return types.ActionTemplate{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	if o, ok := c.overrides[id]; ok && o.RequiresApproval {
		t.RequiresApproval = true
	}
	return t, nil
}

// RequireApproval applies (or re-applies) an approval override for a
// template. This is the learner's "learns caution" ratchet; loosening only
// happens through ResetOverride.
func (c *Catalog) RequireApproval(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.templates[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	c.overrides[id] = PolicyOverride{
		RequiresApproval: true,
		Reason:           reason,
		AppliedAt:        time.Now(),
	}
	c.version++
	return nil
}

// ResetOverride removes a learned override. This is the explicit manual
// loosening path; nothing in the pipeline calls it automatically.
func (c *Catalog) ResetOverride(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.templates[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	if _, ok := c.overrides[id]; !ok {
		return nil
	}
	delete(c.overrides, id)
	c.version++
	return nil
}

// Overrides returns a copy of the current override map
func (c *Catalog) Overrides() map[string]PolicyOverride {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]PolicyOverride, len(c.overrides))
	for k, v := range c.overrides {
		out[k] = v
	}
	return out
}

// Version returns the override map version. It increments on every policy
// change, so callers can detect that policy moved under them.
func (c *Catalog) Version() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// IDs returns all registered template ids in sorted order
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered templates
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}
