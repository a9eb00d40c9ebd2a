package domain

import (
	"time"

	"github.com/google/uuid"
)

// TraceEntry is one append-only audit record of an engine action.
type TraceEntry struct {
	Ts      time.Time `json:"ts"`
	State   string    `json:"state"`
	Action  string    `json:"action"`
	TaskID  string    `json:"task_id,omitempty"`
	Message string    `json:"message"`
}

// Message is an assistant- or user-facing chat message produced during a run.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunState is the engine's complete working set for one run and the unit
// of checkpoint persistence. It is exclusively owned by one engine
// instance; everything handed outward is a deep copy.
type RunState struct {
	RunID     string       `json:"run_id"`
	Goal      string       `json:"goal"`
	Phase     Phase        `json:"phase"`
	Tasks     []Task       `json:"tasks"`
	Traces    []TraceEntry `json:"traces"`
	Paused    bool         `json:"paused"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewRunState creates a fresh run for a goal, positioned at the analyzing
// phase with an empty ledger.
func NewRunState(goal string) *RunState {
	now := time.Now().UTC()
	return &RunState{
		RunID:     "run_" + uuid.New().String()[:8],
		Goal:      goal,
		Phase:     PhaseAnalyzing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the run state.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	out := *s
	out.Tasks = make([]Task, len(s.Tasks))
	copy(out.Tasks, s.Tasks)
	out.Traces = make([]TraceEntry, len(s.Traces))
	copy(out.Traces, s.Traces)
	return &out
}

// Progress counts the ledger's tasks by status.
func (s *RunState) Progress() Progress {
	p := Progress{Total: len(s.Tasks)}
	for _, t := range s.Tasks {
		switch t.Status {
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusNeedsFollowup:
			p.NeedsFollowup++
		}
	}
	return p
}

// Resumable reports whether the run still has actionable work: a task the
// selection scan (after resume normalization) would pick, or a run that
// stopped before planning ever produced a ledger. A run that failed
// validation before planning is not resumable.
func (s *RunState) Resumable() bool {
	if len(s.Tasks) == 0 {
		return !s.Phase.Terminal()
	}
	for _, t := range s.Tasks {
		switch t.Status {
		case TaskStatusPending, TaskStatusInProgress, TaskStatusNeedsFollowup:
			return true
		}
	}
	return false
}

// Summary reduces the state to its history-listing view.
func (s *RunState) Summary() RunSummary {
	p := s.Progress()
	return RunSummary{
		RunID:          s.RunID,
		Goal:           s.Goal,
		Phase:          s.Phase,
		Paused:         s.Paused,
		TaskCount:      p.Total,
		CompletedCount: p.Completed,
		FailedCount:    p.Failed,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// RunSummary is the listing record for one known run.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Goal           string    `json:"goal"`
	Phase          Phase     `json:"phase"`
	Paused         bool      `json:"paused"`
	TaskCount      int       `json:"task_count"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
