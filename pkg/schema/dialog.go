package schema

import "fmt"

// DialogStatus represents the lifecycle state of a dialog.
type DialogStatus string

const (
	DialogStatusPending      DialogStatus = "pending"
	DialogStatusRunning      DialogStatus = "running"
	DialogStatusWaitingInput DialogStatus = "waiting_input"
	DialogStatusCompleted    DialogStatus = "completed"
	DialogStatusFailed       DialogStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s DialogStatus) Terminal() bool {
	return s == DialogStatusCompleted || s == DialogStatusFailed
}

// StepResultStatus is the lifecycle state of a single step result record.
type StepResultStatus string

const (
	StepResultRunning  StepResultStatus = "running"
	StepResultComplete StepResultStatus = "complete"
	StepResultError    StepResultStatus = "error"
)

// MessageStatus is the delivery state of a transcript message.
type MessageStatus string

const (
	MessageCreated   MessageStatus = "created"
	MessagePending   MessageStatus = "pending"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// Event name suffixes. Full event names are dot-delimited:
// dialog.<id>.<suffix>, composed with EventName.
const (
	EventStarted      = "started"
	EventWaitingInput = "waiting_input"
	EventResumed      = "resumed"
	EventCompleted    = "completed"
	EventFailed       = "failed"
	EventCancelled    = "cancelled"
)

// Step-scoped event types recorded in the event log. The step name travels
// in the event record, not the type.
const (
	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventStepRetrying  = "step.retrying"
	EventStepSkipped   = "step.skipped"
)

// EventName composes a dialog-scoped event name: dialog.<id>.<suffix>.
func EventName(dialogID, suffix string) string {
	return fmt.Sprintf("dialog.%s.%s", dialogID, suffix)
}

// StepCompletedEvent returns the suffix emitted when a step finishes:
// step.<name>.completed.
func StepCompletedEvent(stepName string) string {
	return fmt.Sprintf("step.%s.completed", stepName)
}
