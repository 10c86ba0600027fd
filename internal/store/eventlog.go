package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/colloquy/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-dialog sequence.
// Uses a write-intent statement to ensure sequence correctness under concurrency.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone may start a deferred transaction.
	// We use an immediate-mode write to force lock acquisition.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE dialog_id = ?`, event.DialogID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload := nullRaw(event.Payload)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (dialog_id, step_name, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.DialogID, nullStr(event.StepName), event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a dialog with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, dialogID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, dialogID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ReplayEvents replays all events for a dialog and returns the reconstructed
// step results keyed by step name. Returns an error if sequence gaps are
// detected.
func (el *EventLog) ReplayEvents(ctx context.Context, dialogID string) (map[string]*StepResult, error) {
	events, err := el.store.GetEvents(ctx, dialogID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*StepResult), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in dialog %s: expected %d, got %d", dialogID, expected, e.Sequence)
		}
	}

	results := make(map[string]*StepResult)
	position := 0

	for _, e := range events {
		if e.StepName == "" {
			continue
		}

		r, ok := results[e.StepName]
		if !ok {
			r = &StepResult{
				DialogID: dialogID,
				StepName: e.StepName,
				Status:   schema.StepResultRunning,
				Position: position,
			}
			results[e.StepName] = r
			position++
		}

		switch e.Type {
		case schema.EventStepStarted:
			r.Status = schema.StepResultRunning
			ts := e.Timestamp
			r.StartedAt = &ts

		case schema.EventStepCompleted:
			r.Status = schema.StepResultComplete
			ts := e.Timestamp
			r.CompletedAt = &ts
			r.Output = e.Payload
			if r.StartedAt != nil {
				r.DurationMs = ts.Sub(*r.StartedAt).Milliseconds()
			}

		case schema.EventStepFailed:
			r.Status = schema.StepResultError
			r.Error = e.Payload

		case schema.EventStepRetrying:
			r.Status = schema.StepResultRunning
			r.Attempts++

		case schema.EventWaitingInput:
			// Suspension leaves the step running; Resume completes it.
		}
	}

	return results, nil
}
