// Package domain defines the core domain models for the run engine.
package domain

// TaskStatus represents the status of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	// TaskStatusNeedsFollowup is reserved for human-in-the-loop review.
	// No engine transition sets it; a resumed run treats it as actionable.
	TaskStatusNeedsFollowup TaskStatus = "needs_followup"
)

// Terminal reports whether the status ends a task's normal flow.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Phase represents the engine's current state machine node.
type Phase string

const (
	PhaseAnalyzing  Phase = "analyzing"
	PhasePlanning   Phase = "planning"
	PhaseSelecting  Phase = "selecting"
	PhaseExecuting  Phase = "executing"
	PhaseReflecting Phase = "reflecting"
	PhaseCompleting Phase = "completing"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
	// PhasePaused only appears on the event stream; snapshots keep the
	// phase the run will re-enter plus the paused flag.
	PhasePaused Phase = "paused"
)

// Terminal reports whether the phase ends the current run attempt.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// EventType represents the type of a stream event.
type EventType string

const (
	EventTypeConnected   EventType = "connected"
	EventTypePhaseChange EventType = "phase_change"
	EventTypeTasksUpdate EventType = "tasks_update"
	EventTypeTrace       EventType = "trace"
	EventTypeMessage     EventType = "message"
	EventTypeComplete    EventType = "complete"
	EventTypeError       EventType = "error"
	EventTypePing        EventType = "ping"
)
