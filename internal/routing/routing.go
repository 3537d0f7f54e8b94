// Package routing maps alert attributes to destination channels via rule
// matching. A single alert may fan out to multiple channels.
package routing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/types"
)

// Operator is a condition comparison operator
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
)

// IsValid checks if the operator value is valid
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpRegex:
		return true
	}
	return false
}

// Condition is a single field comparison. All conditions on a rule must
// match (AND) for the rule to match.
type Condition struct {
	// Field names an alert attribute: severity, category, source, title,
	// message, or metadata.<key>
	Field    string   `yaml:"field"`
	Operator Operator `yaml:"operator"`
	Value    string   `yaml:"value"`
}

// Rule routes matching alerts to its channel
type Rule struct {
	ID         string      `yaml:"id"`
	Enabled    bool        `yaml:"enabled"`
	Conditions []Condition `yaml:"conditions"`
}

// Channel is a notification destination with its routing rules
type Channel struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`
	// MinSeverity, when set, is an implicit condition on every rule of
	// this channel
	MinSeverity types.Severity    `yaml:"min_severity,omitempty"`
	Settings    map[string]string `yaml:"settings,omitempty"`
	Rules       []Rule            `yaml:"rules"`
}

// Table resolves alerts to channel ids
type Table struct {
	channels []Channel
	logger   *zap.Logger
}

// NewTable creates a routing table. Channel and rule validation problems are
// construction errors; per-alert evaluation problems are warnings.
func NewTable(channels []Channel, logger *zap.Logger) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if ch.ID == "" {
			return nil, fmt.Errorf("channel id is required")
		}
		if _, dup := seen[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate channel id: %s", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		if ch.MinSeverity != "" && !ch.MinSeverity.IsValid() {
			return nil, fmt.Errorf("channel %s: invalid min_severity %q", ch.ID, ch.MinSeverity)
		}
		for _, rule := range ch.Rules {
			for _, cond := range rule.Conditions {
				if !cond.Operator.IsValid() {
					return nil, fmt.Errorf("channel %s rule %s: invalid operator %q", ch.ID, rule.ID, cond.Operator)
				}
			}
		}
	}

	return &Table{channels: channels, logger: logger}, nil
}

// Channels returns the configured channels
func (t *Table) Channels() []Channel {
	return t.channels
}

// ResolveChannels returns the ids of every enabled channel with at least one
// enabled rule fully matching the alert. An empty result is valid: the alert
// is still recorded in history, just delivered nowhere.
func (t *Table) ResolveChannels(alert *types.Alert) []string {
	var resolved []string
	for _, ch := range t.channels {
		if !ch.Enabled {
			continue
		}
		if ch.MinSeverity != "" && alert.Severity.Rank() < ch.MinSeverity.Rank() {
			continue
		}
		for _, rule := range ch.Rules {
			if !rule.Enabled {
				continue
			}
			if t.ruleMatches(rule, alert) {
				resolved = append(resolved, ch.ID)
				break
			}
		}
	}
	return resolved
}

func (t *Table) ruleMatches(rule Rule, alert *types.Alert) bool {
	for _, cond := range rule.Conditions {
		if !t.conditionMatches(cond, alert) {
			return false
		}
	}
	return len(rule.Conditions) > 0
}

func (t *Table) conditionMatches(cond Condition, alert *types.Alert) bool {
	field, ok := alertField(alert, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return field == cond.Value
	case OpNotEquals:
		return field != cond.Value
	case OpGreaterThan, OpLessThan:
		// Numeric operators on non-numeric fields evaluate false rather
		// than erroring.
		lhs, err1 := strconv.ParseFloat(field, 64)
		rhs, err2 := strconv.ParseFloat(cond.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if cond.Operator == OpGreaterThan {
			return lhs > rhs
		}
		return lhs < rhs
	case OpContains:
		return strings.Contains(field, cond.Value)
	case OpRegex:
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			t.logger.Warn("skipping rule condition with invalid regex",
				zap.String("field", cond.Field),
				zap.String("pattern", cond.Value),
				zap.Error(err))
			return false
		}
		return re.MatchString(field)
	}
	return false
}

// alertField resolves a condition field name against an alert
func alertField(alert *types.Alert, name string) (string, bool) {
	switch name {
	case "severity":
		return string(alert.Severity), true
	case "category":
		return alert.Category, true
	case "source":
		return alert.Source, true
	case "title":
		return alert.Title, true
	case "message":
		return alert.Message, true
	}
	if key, found := strings.CutPrefix(name, "metadata."); found {
		if alert.Metadata == nil {
			return "", false
		}
		v, ok := alert.Metadata[key]
		return v, ok
	}
	return "", false
}
