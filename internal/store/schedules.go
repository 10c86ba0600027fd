package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduledDialog is a cron-scheduled template launch.
type ScheduledDialog struct {
	ID             string         `json:"id"`
	TemplateName   string         `json:"template_name"`
	CronExpression string         `json:"cron_expression"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Enabled        bool           `json:"enabled"`

	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduledDialogFilter specifies criteria for listing scheduled dialogs.
type ScheduledDialogFilter struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	TemplateName string `json:"template_name,omitempty"`
}

// ScheduledDialogUpdate is a partial update of a scheduled dialog's run state.
type ScheduledDialogUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// SaveScheduledDialog upserts a scheduled dialog.
func (s *LibSQLStore) SaveScheduledDialog(ctx context.Context, sd *ScheduledDialog) error {
	inputs, err := marshalMapOrDefault(sd.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_dialogs (id, template_name, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   template_name=excluded.template_name, cron_expression=excluded.cron_expression,
		   inputs=excluded.inputs, enabled=excluded.enabled,
		   last_run_at=excluded.last_run_at, next_run_at=excluded.next_run_at,
		   last_run_status=excluded.last_run_status, updated_at=CURRENT_TIMESTAMP`,
		sd.ID, sd.TemplateName, sd.CronExpression, string(inputs), boolToInt(sd.Enabled),
		nullTime(sd.LastRunAt), nullTime(sd.NextRunAt), nullStr(sd.LastRunStatus),
		timeOrNow(sd.CreatedAt), timeOrNow(sd.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert scheduled dialog: %w", err)
	}
	return nil
}

// GetScheduledDialog loads one scheduled dialog by ID.
func (s *LibSQLStore) GetScheduledDialog(ctx context.Context, id string) (*ScheduledDialog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_name, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at, updated_at
		 FROM scheduled_dialogs WHERE id = ?`, id)

	sd, err := scanScheduledDialog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled dialog", id)
	}
	return sd, err
}

// ListScheduledDialogs returns scheduled dialogs matching the filter.
func (s *LibSQLStore) ListScheduledDialogs(ctx context.Context, filter ScheduledDialogFilter) ([]*ScheduledDialog, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.TemplateName != "" {
		where = append(where, "template_name = ?")
		args = append(args, filter.TemplateName)
	}

	query := `SELECT id, template_name, cron_expression, inputs, enabled, last_run_at, next_run_at, last_run_status, created_at, updated_at FROM scheduled_dialogs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledDialog
	for rows.Next() {
		sd, err := scanScheduledDialog(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

// UpdateScheduledDialog applies a partial update to a scheduled dialog.
func (s *LibSQLStore) UpdateScheduledDialog(ctx context.Context, id string, u ScheduledDialogUpdate) error {
	var sets []string
	var args []any

	if u.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*u.Enabled))
	}
	if u.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *u.LastRunAt)
	}
	if u.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *u.NextRunAt)
	}
	if u.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, u.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE scheduled_dialogs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled dialog", id)
}

// DeleteScheduledDialog removes a scheduled dialog.
func (s *LibSQLStore) DeleteScheduledDialog(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_dialogs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled dialog", id)
}

func scanScheduledDialog(scan func(...any) error) (*ScheduledDialog, error) {
	sd := &ScheduledDialog{}
	var (
		inputsJSON           string
		enabled              int
		lastRunAt, nextRunAt sql.NullTime
		lastRunStatus        sql.NullString
	)
	err := scan(&sd.ID, &sd.TemplateName, &sd.CronExpression, &inputsJSON, &enabled,
		&lastRunAt, &nextRunAt, &lastRunStatus, &sd.CreatedAt, &sd.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if inputsJSON != "" {
		_ = json.Unmarshal([]byte(inputsJSON), &sd.Inputs)
	}
	sd.Enabled = enabled != 0
	if lastRunAt.Valid {
		sd.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		sd.NextRunAt = &nextRunAt.Time
	}
	sd.LastRunStatus = lastRunStatus.String
	return sd, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
