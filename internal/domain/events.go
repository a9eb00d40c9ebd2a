package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StreamEvent is one typed event on a run's live stream.
type StreamEvent struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewStreamEvent builds a stream event with a fresh id and the payload
// marshaled in place. A payload that fails to marshal is a programming
// error; the event is emitted without one.
func NewStreamEvent(runID string, eventType EventType, payload interface{}) StreamEvent {
	ev := StreamEvent{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// PhaseChangePayload is the payload of a phase_change event.
type PhaseChangePayload struct {
	Phase Phase `json:"phase"`
}

// TasksUpdatePayload is the payload of a tasks_update event.
type TasksUpdatePayload struct {
	Tasks []Task `json:"tasks"`
}

// TracePayload is the payload of a trace event.
type TracePayload struct {
	Trace TraceEntry `json:"trace"`
}

// MessagePayload is the payload of a message event.
type MessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// ConnectedPayload is the payload of a connected event.
type ConnectedPayload struct {
	RunID    string `json:"run_id"`
	Resuming bool   `json:"resuming,omitempty"`
}
