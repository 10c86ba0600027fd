package streaming

import "context"

// StreamEvent is a real-time event emitted during dialog execution. Name is
// the full dot-delimited event name (dialog.<id>.<suffix>).
type StreamEvent struct {
	DialogID string `json:"dialog_id"`
	StepName string `json:"step_name,omitempty"`
	Name     string `json:"name"`
	Payload  any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	DialogID string   `json:"dialog_id,omitempty"`
	Names    []string `json:"names,omitempty"`
}

// EventHub provides pub/sub for real-time dialog events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
