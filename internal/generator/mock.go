package generator

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/xhe623/planrun/internal/domain"
)

// Mock is a deterministic Generator for local development and tests.
type Mock struct{}

// NewMock creates a mock generator.
func NewMock() *Mock {
	return &Mock{}
}

var _ Generator = (*Mock)(nil)

func (m *Mock) AnalyzeGoal(ctx context.Context, goal string) (string, error) {
	return fmt.Sprintf("[MOCK] Got it - I'll break %q into a task list and work through it.", truncate(goal, 100)), nil
}

func (m *Mock) PlanTasks(ctx context.Context, goal string) (*domain.Plan, error) {
	return &domain.Plan{
		Tasks: []domain.TaskProposal{
			{Title: "Outline the approach", Description: "Sketch the steps needed for: " + truncate(goal, 80)},
			{Title: "Do the core work", Description: "Produce the main deliverable"},
			{Title: "Review the result", Description: "Check the output against the goal"},
		},
		Reasoning: "Mock three-step breakdown.",
	}, nil
}

func (m *Mock) ExecuteTask(ctx context.Context, goal string, task domain.Task, userInput string) (string, error) {
	return fmt.Sprintf("[MOCK] Deliverable for %q.", task.Title), nil
}

func (m *Mock) Reflect(ctx context.Context, task domain.Task, progress domain.Progress) (string, error) {
	return fmt.Sprintf("[MOCK] Finished %q - %d/%d done, %d failed.",
		task.Title, progress.Completed, progress.Total, progress.Failed), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
