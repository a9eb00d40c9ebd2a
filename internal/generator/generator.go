// Package generator abstracts the content generator that produces task
// plans and task results from natural-language input.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhe623/planrun/internal/domain"
)

// Generator is the engine's only source of generated content. Every call
// may fail or return malformed output; callers own validation.
type Generator interface {
	// AnalyzeGoal returns a short acknowledgement of the goal.
	AnalyzeGoal(ctx context.Context, goal string) (string, error)

	// PlanTasks breaks the goal into an ordered task list.
	PlanTasks(ctx context.Context, goal string) (*domain.Plan, error)

	// ExecuteTask produces the deliverable for one task. userInput is
	// optional extra context supplied on resume; it applies to one call.
	ExecuteTask(ctx context.Context, goal string, task domain.Task, userInput string) (string, error)

	// Reflect produces a one-line progress update after a task finishes.
	Reflect(ctx context.Context, task domain.Task, progress domain.Progress) (string, error)
}

// Completer is the low-level text completion surface a backend provides.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	analyzeSystemPrompt = `You are a task planning assistant.
Briefly acknowledge the user's goal and confirm you'll create a task list.
Be concise - 1-2 sentences max.`

	planSystemPrompt = `You are an expert task planner. Break down the user's goal into 3-6 concrete, actionable tasks.

Output ONLY valid JSON in this exact format:
{
  "tasks": [
    {"title": "Task title", "description": "Brief description of what to do"},
    {"title": "Another task", "description": "Its description"}
  ],
  "reasoning": "Brief explanation of why you chose these tasks"
}

Rules:
- Each task should be independently executable
- Tasks should be in logical order
- Be specific and actionable
- Keep descriptions under 100 characters`

	executeSystemPrompt = `You are an expert task executor. Execute the given task and provide a concrete, actionable output.

Your response should be the ACTUAL DELIVERABLE for this task - not just a description of what to do.
Be specific and provide real, usable output. Keep responses concise but complete (under 500 characters).
Format code blocks with triple backticks if providing code.`

	reflectSystemPrompt = `You are reflecting on task execution progress.
Give a brief (1 sentence) status update on the completed task and overall progress.
Be encouraging but factual.`
)

// prompted adapts any Completer into a Generator by owning the prompt
// contract and response parsing.
type prompted struct {
	llm Completer
}

// FromCompleter wraps a text completion backend in the prompt contract.
func FromCompleter(c Completer) Generator {
	return &prompted{llm: c}
}

func (g *prompted) AnalyzeGoal(ctx context.Context, goal string) (string, error) {
	out, err := g.llm.Complete(ctx, analyzeSystemPrompt, "Goal: "+goal)
	if err != nil {
		return "", fmt.Errorf("goal analysis failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (g *prompted) PlanTasks(ctx context.Context, goal string) (*domain.Plan, error) {
	out, err := g.llm.Complete(ctx, planSystemPrompt, "Break down this goal into tasks:\n\n"+goal)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	plan, err := ParsePlan(out)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	return plan, nil
}

func (g *prompted) ExecuteTask(ctx context.Context, goal string, task domain.Task, userInput string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n\nTask to execute: %s\nDescription: %s\n", goal, task.Title, task.Description)
	if userInput != "" {
		fmt.Fprintf(&sb, "\nAdditional context from the user: %s\n", userInput)
	}
	sb.WriteString("\nPlease execute this task and provide the actual output/deliverable:")

	out, err := g.llm.Complete(ctx, executeSystemPrompt, sb.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *prompted) Reflect(ctx context.Context, task domain.Task, progress domain.Progress) (string, error) {
	outcome := task.Result
	if task.Status == domain.TaskStatusFailed {
		outcome = task.Error
	}
	user := fmt.Sprintf(
		"Task completed: %s\nStatus: %s\nResult: %s\n\nOverall progress: %d/%d completed, %d failed\n",
		task.Title, task.Status, outcome, progress.Completed, progress.Total, progress.Failed)

	out, err := g.llm.Complete(ctx, reflectSystemPrompt, user)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
