package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Dialogs. SaveDialog writes the dialog row and its step results in one
	// transaction.
	SaveDialog(ctx context.Context, d *Dialog) error
	LoadDialog(ctx context.Context, id string) (*Dialog, error)
	ListDialogs(ctx context.Context, filter DialogFilter) ([]*Dialog, error)
	DeleteDialog(ctx context.Context, id string) error

	// Transcript
	SaveMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, dialogID string) ([]*Message, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, dialogID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Scheduled launches
	SaveScheduledDialog(ctx context.Context, sd *ScheduledDialog) error
	GetScheduledDialog(ctx context.Context, id string) (*ScheduledDialog, error)
	ListScheduledDialogs(ctx context.Context, filter ScheduledDialogFilter) ([]*ScheduledDialog, error)
	UpdateScheduledDialog(ctx context.Context, id string, u ScheduledDialogUpdate) error
	DeleteScheduledDialog(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
