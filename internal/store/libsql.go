package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/colloquy/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Dialogs ---

// SaveDialog upserts the dialog row and all of its step results atomically.
func (s *LibSQLStore) SaveDialog(ctx context.Context, d *Dialog) error {
	inputs, err := marshalMapOrDefault(d.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dialogs (id, template_name, status, current_step, waiting_step, inputs, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, current_step=excluded.current_step,
		   waiting_step=excluded.waiting_step, inputs=excluded.inputs,
		   error=excluded.error, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, updated_at=CURRENT_TIMESTAMP`,
		d.ID, d.TemplateName, string(d.Status), nullStr(d.CurrentStep), nullStr(d.WaitingStep),
		string(inputs), nullRaw(d.Error),
		timeOrNow(d.CreatedAt), nullTime(d.StartedAt), nullTime(d.CompletedAt), timeOrNow(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert dialog: %w", err)
	}

	for _, r := range d.StepResults {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_results (dialog_id, step_name, kind, status, position, output, error, attempts, started_at, completed_at, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(dialog_id, step_name) DO UPDATE SET
			   status=excluded.status, position=excluded.position,
			   output=excluded.output, error=excluded.error,
			   attempts=excluded.attempts, started_at=excluded.started_at,
			   completed_at=excluded.completed_at, duration_ms=excluded.duration_ms`,
			d.ID, r.StepName, string(r.Kind), string(r.Status), r.Position,
			nullRaw(r.Output), nullRaw(r.Error),
			r.Attempts, nullTime(r.StartedAt), nullTime(r.CompletedAt), r.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("upsert step result %q: %w", r.StepName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dialog: %w", err)
	}
	return nil
}

func (s *LibSQLStore) LoadDialog(ctx context.Context, id string) (*Dialog, error) {
	d := &Dialog{}
	var (
		currentStep, waitingStep sql.NullString
		inputsJSON               string
		errorJSON                sql.NullString
		startedAt, completedAt   sql.NullTime
		status                   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, template_name, status, current_step, waiting_step, inputs, error, created_at, started_at, completed_at, updated_at
		 FROM dialogs WHERE id = ?`, id,
	).Scan(&d.ID, &d.TemplateName, &status, &currentStep, &waitingStep,
		&inputsJSON, &errorJSON, &d.CreatedAt, &startedAt, &completedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("dialog", id)
	}
	if err != nil {
		return nil, err
	}
	d.Status = schema.DialogStatus(status)
	d.CurrentStep = currentStep.String
	d.WaitingStep = waitingStep.String
	if inputsJSON != "" {
		_ = json.Unmarshal([]byte(inputsJSON), &d.Inputs)
	}
	d.Error = rawOrNil(errorJSON)
	if startedAt.Valid {
		d.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}

	results, err := s.loadStepResults(ctx, id)
	if err != nil {
		return nil, err
	}
	d.StepResults = results
	return d, nil
}

func (s *LibSQLStore) loadStepResults(ctx context.Context, dialogID string) ([]*StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dialog_id, step_name, kind, status, position, output, error, attempts, started_at, completed_at, duration_ms
		 FROM step_results WHERE dialog_id = ? ORDER BY position ASC`, dialogID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*StepResult
	for rows.Next() {
		r := &StepResult{}
		var kind, status string
		var output, errJSON sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&r.DialogID, &r.StepName, &kind, &status, &r.Position,
			&output, &errJSON, &r.Attempts, &startedAt, &completedAt, &r.DurationMs); err != nil {
			return nil, err
		}
		r.Kind = schema.StepKind(kind)
		r.Status = schema.StepResultStatus(status)
		r.Output = rawOrNil(output)
		r.Error = rawOrNil(errJSON)
		if startedAt.Valid {
			r.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *LibSQLStore) ListDialogs(ctx context.Context, filter DialogFilter) ([]*Dialog, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TemplateName != "" {
		where = append(where, "template_name = ?")
		args = append(args, filter.TemplateName)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, template_name, status, current_step, waiting_step, inputs, error, created_at, started_at, completed_at, updated_at FROM dialogs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dialogs []*Dialog
	for rows.Next() {
		d := &Dialog{}
		var (
			currentStep, waitingStep sql.NullString
			inputsJSON               string
			errorJSON                sql.NullString
			startedAt, completedAt   sql.NullTime
			status                   string
		)
		if err := rows.Scan(&d.ID, &d.TemplateName, &status, &currentStep, &waitingStep,
			&inputsJSON, &errorJSON, &d.CreatedAt, &startedAt, &completedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Status = schema.DialogStatus(status)
		d.CurrentStep = currentStep.String
		d.WaitingStep = waitingStep.String
		if inputsJSON != "" {
			_ = json.Unmarshal([]byte(inputsJSON), &d.Inputs)
		}
		d.Error = rawOrNil(errorJSON)
		if startedAt.Valid {
			d.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			d.CompletedAt = &completedAt.Time
		}
		dialogs = append(dialogs, d)
	}
	return dialogs, rows.Err()
}

func (s *LibSQLStore) DeleteDialog(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dialogs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "dialog", id)
}

// --- Transcript ---

func (s *LibSQLStore) SaveMessage(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, dialog_id, step_name, role, content, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status`,
		m.ID, m.DialogID, nullStr(m.StepName), m.Role, m.Content,
		string(m.Status), timeOrNow(m.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListMessages(ctx context.Context, dialogID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dialog_id, step_name, role, content, status, created_at
		 FROM messages WHERE dialog_id = ? ORDER BY created_at ASC, rowid ASC`, dialogID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var stepName sql.NullString
		var status string
		if err := rows.Scan(&m.ID, &m.DialogID, &stepName, &m.Role, &m.Content, &status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.StepName = stepName.String
		m.Status = schema.MessageStatus(status)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get next sequence number for this dialog
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE dialog_id = ?`, event.DialogID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	payload := nullRaw(event.Payload)
	ts := timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (dialog_id, step_name, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.DialogID, nullStr(event.StepName), event.Type, payload, ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, dialogID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dialog_id, step_name, event_type, payload, timestamp, sequence
		 FROM events WHERE dialog_id = ? AND sequence > ? ORDER BY sequence ASC`,
		dialogID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.DialogID != "" {
		where = append(where, "dialog_id = ?")
		args = append(args, filter.DialogID)
	}
	if filter.StepName != "" {
		where = append(where, "step_name = ?")
		args = append(args, filter.StepName)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, dialog_id, step_name, event_type, payload, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepName sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.DialogID, &stepName, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepName = stepName.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.DialogError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
