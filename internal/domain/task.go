package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task is a single unit of work in a run's ledger.
// Result and Error are mutually exclusive: at most one is ever set.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a pending task with a fresh identifier.
func NewTask(title, description string) Task {
	return Task{
		ID:          "task_" + uuid.New().String()[:8],
		Title:       title,
		Description: description,
		Status:      TaskStatusPending,
	}
}

// TaskProposal is one planned task as proposed by the content generator.
type TaskProposal struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Plan is the structured planning response expected from the generator.
type Plan struct {
	Tasks     []TaskProposal `json:"tasks"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Progress holds task counts for a ledger.
type Progress struct {
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	NeedsFollowup int `json:"needs_followup"`
	Total         int `json:"total"`
}
