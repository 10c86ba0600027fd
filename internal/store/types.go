package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/colloquy/pkg/schema"
)

// Dialog is the persisted representation of a dialog execution. StepResults
// are kept in execution order; the slice is the source of truth for ordering.
type Dialog struct {
	ID           string              `json:"id"`
	TemplateName string              `json:"template_name"`
	Status       schema.DialogStatus `json:"status"`

	// CurrentStep is the step the machine sits at, empty before the first
	// advance and after completion.
	CurrentStep string `json:"current_step,omitempty"`

	// WaitingStep is set while status is waiting_input.
	WaitingStep string `json:"waiting_step,omitempty"`

	Inputs      map[string]any  `json:"inputs,omitempty"`
	StepResults []*StepResult   `json:"step_results,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Result returns the step result with the given name, or nil.
func (d *Dialog) Result(stepName string) *StepResult {
	for _, r := range d.StepResults {
		if r.StepName == stepName {
			return r
		}
	}
	return nil
}

// StepResult is the persisted outcome of a single step execution.
type StepResult struct {
	DialogID string                  `json:"dialog_id"`
	StepName string                  `json:"step_name"`
	Kind     schema.StepKind         `json:"kind"`
	Status   schema.StepResultStatus `json:"status"`
	Position int                     `json:"position"`

	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

// Message is one entry of the dialog transcript.
type Message struct {
	ID       string               `json:"id"`
	DialogID string               `json:"dialog_id"`
	StepName string               `json:"step_name,omitempty"`
	Role     string               `json:"role"`
	Content  string               `json:"content"`
	Status   schema.MessageStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

// Event is an immutable entry in the dialog event log. Type holds the event
// suffix; the broadcast name is composed as dialog.<id>.<type>.
type Event struct {
	ID       int64           `json:"id"`
	DialogID string          `json:"dialog_id"`
	StepName string          `json:"step_name,omitempty"`
	Type     string          `json:"event_type"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

// DialogFilter specifies criteria for listing dialogs.
type DialogFilter struct {
	Status       *schema.DialogStatus `json:"status,omitempty"`
	TemplateName string               `json:"template_name,omitempty"`
	Since        *time.Time           `json:"since,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
}

// EventFilter specifies criteria for listing events by type.
type EventFilter struct {
	DialogID string     `json:"dialog_id,omitempty"`
	StepName string     `json:"step_name,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}
