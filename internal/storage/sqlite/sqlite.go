package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stackwatch/warden/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	template_id TEXT NOT NULL,
	category TEXT NOT NULL,
	confidence REAL NOT NULL,
	risk TEXT NOT NULL,
	priority TEXT NOT NULL,
	parameters TEXT,
	target_resource TEXT,
	signal_metric TEXT,
	requires_approval INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	action_id TEXT PRIMARY KEY,
	success INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	errors TEXT,
	observed_impact TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	message TEXT,
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	source TEXT,
	metadata TEXT,
	status TEXT NOT NULL,
	channels TEXT,
	escalation_level INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	acknowledged_at TIMESTAMP,
	acknowledged_by TEXT,
	resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_created ON outcomes(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
`

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode for better concurrency between the decision cycle, the
	// learning pass, and escalation timers.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Prune deletes decision and outcome rows older than the cutoff, plus
// alerts that are closed (resolved or suppressed) and older than the
// cutoff. Open alerts are kept regardless of age. Returns the number of
// rows removed.
func (s *SQLiteStorage) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for _, q := range []struct {
		query string
		args  []interface{}
	}{
		{"DELETE FROM decisions WHERE created_at < ?", []interface{}{before}},
		{"DELETE FROM outcomes WHERE created_at < ?", []interface{}{before}},
		{"DELETE FROM alerts WHERE created_at < ? AND status IN (?, ?)",
			[]interface{}{before, string(types.AlertResolved), string(types.AlertSuppressed)}},
	} {
		res, err := s.db.ExecContext(ctx, q.query, q.args...)
		if err != nil {
			return total, fmt.Errorf("failed to prune history: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// RecordDecision appends a decision action to history
func (s *SQLiteStorage) RecordDecision(ctx context.Context, action *types.DecisionAction) error {
	if err := action.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}

	params, err := marshalJSON(action.Parameters)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, template_id, category, confidence, risk, priority,
			parameters, target_resource, signal_metric, requires_approval, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.TemplateID, string(action.Category), action.Confidence,
		string(action.Risk), string(action.Priority), params, action.TargetResource,
		action.SignalMetric, boolToInt(action.RequiresApproval), action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// GetRecentDecisions returns up to limit decisions, newest first
func (s *SQLiteStorage) GetRecentDecisions(ctx context.Context, limit int) ([]*types.DecisionAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, category, confidence, risk, priority,
			parameters, target_resource, signal_metric, requires_approval, created_at
		FROM decisions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []*types.DecisionAction
	for rows.Next() {
		var a types.DecisionAction
		var category, risk, priority string
		var params sql.NullString
		var approval int
		if err := rows.Scan(&a.ID, &a.TemplateID, &category, &a.Confidence, &risk, &priority,
			&params, &a.TargetResource, &a.SignalMetric, &approval, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		a.Category = types.ActionCategory(category)
		a.Risk = types.RiskLevel(risk)
		a.Priority = types.Priority(priority)
		a.RequiresApproval = approval != 0
		if err := unmarshalJSON(params, &a.Parameters); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// RecordOutcome appends an execution outcome to history. One outcome exists
// per action id; a second insert for the same action is an error.
func (s *SQLiteStorage) RecordOutcome(ctx context.Context, outcome *types.Outcome) error {
	if outcome.ActionID == "" {
		return fmt.Errorf("outcome action_id is required")
	}

	errs, err := marshalJSON(outcome.Errors)
	if err != nil {
		return err
	}
	impact, err := marshalJSON(outcome.ObservedImpact)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outcomes (action_id, success, duration_ms, errors, observed_impact, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		outcome.ActionID, boolToInt(outcome.Success), outcome.Duration.Milliseconds(),
		errs, impact, outcome.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// GetRecentOutcomes returns up to limit outcomes, newest first
func (s *SQLiteStorage) GetRecentOutcomes(ctx context.Context, limit int) ([]*types.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, success, duration_ms, errors, observed_impact, created_at
		FROM outcomes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []*types.Outcome
	for rows.Next() {
		var o types.Outcome
		var success int
		var durationMs int64
		var errs, impact sql.NullString
		if err := rows.Scan(&o.ActionID, &success, &durationMs, &errs, &impact, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Success = success != 0
		o.Duration = time.Duration(durationMs) * time.Millisecond
		if err := unmarshalJSON(errs, &o.Errors); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(impact, &o.ObservedImpact); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// RecordAlert inserts a new alert row
func (s *SQLiteStorage) RecordAlert(ctx context.Context, alert *types.Alert) error {
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	metadata, err := marshalJSON(alert.Metadata)
	if err != nil {
		return err
	}
	channels, err := marshalJSON(alert.Channels)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, title, message, severity, category, source, metadata,
			status, channels, escalation_level, created_at, acknowledged_at, acknowledged_by, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Title, alert.Message, string(alert.Severity), alert.Category,
		alert.Source, metadata, string(alert.Status), channels, alert.EscalationLevel,
		alert.CreatedAt, alert.AcknowledgedAt, alert.AcknowledgedBy, alert.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// UpdateAlert rewrites the mutable columns of an existing alert row
func (s *SQLiteStorage) UpdateAlert(ctx context.Context, alert *types.Alert) error {
	channels, err := marshalJSON(alert.Channels)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, channels = ?, escalation_level = ?,
			acknowledged_at = ?, acknowledged_by = ?, resolved_at = ?
		WHERE id = ?`,
		string(alert.Status), channels, alert.EscalationLevel,
		alert.AcknowledgedAt, alert.AcknowledgedBy, alert.ResolvedAt, alert.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check alert update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert not found: %s", alert.ID)
	}
	return nil
}

// IncrementEscalationLevel bumps an alert's escalation level while the
// alert is still sent. Returns false without error when the alert has been
// acknowledged or resolved, so a late escalation firing cannot override an
// operator action.
func (s *SQLiteStorage) IncrementEscalationLevel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET escalation_level = escalation_level + 1
		WHERE id = ? AND status = ?`,
		id, string(types.AlertSent))
	if err != nil {
		return false, fmt.Errorf("failed to update escalation level: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check escalation update: %w", err)
	}
	return n > 0, nil
}

// GetAlert returns a single alert by id
func (s *SQLiteStorage) GetAlert(ctx context.Context, id string) (*types.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, message, severity, category, source, metadata,
			status, channels, escalation_level, created_at, acknowledged_at, acknowledged_by, resolved_at
		FROM alerts WHERE id = ?`, id)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// GetRecentAlerts returns up to limit alerts, newest first
func (s *SQLiteStorage) GetRecentAlerts(ctx context.Context, limit int) ([]*types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, message, severity, category, source, metadata,
			status, channels, escalation_level, created_at, acknowledged_at, acknowledged_by, resolved_at
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*types.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*types.Alert, error) {
	var a types.Alert
	var severity, status string
	var metadata, channels sql.NullString
	var ackAt, resolvedAt sql.NullTime
	var ackBy sql.NullString
	err := row.Scan(&a.ID, &a.Title, &a.Message, &severity, &a.Category, &a.Source,
		&metadata, &status, &channels, &a.EscalationLevel, &a.CreatedAt,
		&ackAt, &ackBy, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.Severity = types.Severity(severity)
	a.Status = types.AlertStatus(status)
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	if ackBy.Valid {
		a.AcknowledgedBy = ackBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if err := unmarshalJSON(metadata, &a.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(channels, &a.Channels); err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON[T any](col sql.NullString, dest *T) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dest); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
