// Package ledger holds the pure reducers for a run's task ledger.
//
// Both mutation operations are functions of (current ledger, instruction)
// to a new ledger, so a trace of instructions replays deterministically.
// The input slice is never modified.
package ledger

import (
	"fmt"
	"time"

	"github.com/xhe623/planrun/internal/domain"
)

// Update is one status transition applied to a single task. Result and
// Error are mutually exclusive. At is the timestamp recorded for the
// transition: started_at when moving to in_progress, completed_at when
// moving to a terminal status.
type Update struct {
	Status domain.TaskStatus
	Result string
	Error  string
	At     time.Time
}

// SetAll replaces the ledger with the planned tasks. Used exactly once
// per run, when planning completes.
func SetAll(_ []domain.Task, tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	return out
}

// UpdateOne applies a status transition to the task with the given id and
// returns the new ledger. An unknown id or an update carrying both result
// and error is a programming error, reported as a non-nil error the
// caller must treat as fatal.
func UpdateOne(tasks []domain.Task, id string, u Update) ([]domain.Task, error) {
	if u.Result != "" && u.Error != "" {
		return nil, fmt.Errorf("task %s: result and error are mutually exclusive", id)
	}

	idx := -1
	for i := range tasks {
		if tasks[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("task %s not in ledger", id)
	}

	out := make([]domain.Task, len(tasks))
	copy(out, tasks)

	t := &out[idx]
	t.Status = u.Status
	switch u.Status {
	case domain.TaskStatusInProgress:
		at := u.At
		t.StartedAt = &at
		t.Result = ""
		t.Error = ""
	case domain.TaskStatusCompleted:
		at := u.At
		t.CompletedAt = &at
		t.Result = u.Result
		t.Error = ""
	case domain.TaskStatusFailed:
		at := u.At
		t.CompletedAt = &at
		t.Error = u.Error
		t.Result = ""
	case domain.TaskStatusPending:
		t.StartedAt = nil
		t.CompletedAt = nil
		t.Result = ""
		t.Error = ""
	}
	return out, nil
}

// FirstPending returns the first pending task in ledger order. Selection
// is strictly first-by-order; there is no priority field.
func FirstPending(tasks []domain.Task) (domain.Task, bool) {
	for _, t := range tasks {
		if t.Status == domain.TaskStatusPending {
			return t, true
		}
	}
	return domain.Task{}, false
}

// Normalize reverts interrupted and followup tasks to pending so a
// resumed run's selection scan picks them up again. Completed and failed
// tasks are never touched.
func Normalize(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		switch out[i].Status {
		case domain.TaskStatusInProgress, domain.TaskStatusNeedsFollowup:
			out[i].Status = domain.TaskStatusPending
			out[i].StartedAt = nil
		}
	}
	return out
}
