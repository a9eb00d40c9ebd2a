package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xhe623/planrun/internal/domain"
	"github.com/xhe623/planrun/internal/ledger"
)

// stepAnalyze validates the goal and asks the generator to acknowledge
// it. The acknowledgement is surfaced as an assistant message.
func (e *Engine) stepAnalyze(ctx context.Context) (domain.Phase, error) {
	if err := e.deps.Policy.ValidateGoal(ctx, e.st.Goal); err != nil {
		return "", fmt.Errorf("goal rejected: %w", err)
	}

	e.trace(string(domain.PhaseAnalyzing), "analyzing", "", "Analyzing goal: "+truncate(e.st.Goal, 100))

	gctx, cancel := e.genCtx(ctx)
	ack, err := e.deps.Generator.AnalyzeGoal(gctx, e.st.Goal)
	cancel()
	if err != nil {
		return "", fmt.Errorf("goal analysis failed: %w", err)
	}

	e.messageEvent("assistant", ack)
	e.phaseEvent(domain.PhasePlanning)
	return domain.PhasePlanning, nil
}

// stepPlan turns the goal into a validated task ledger.
func (e *Engine) stepPlan(ctx context.Context) (domain.Phase, error) {
	e.trace(string(domain.PhasePlanning), "planning_started", "", "Generating task breakdown")

	gctx, cancel := e.genCtx(ctx)
	plan, err := e.deps.Generator.PlanTasks(gctx, e.st.Goal)
	cancel()
	if err != nil {
		return "", fmt.Errorf("planning failed: %w", err)
	}
	if err := e.deps.Policy.ValidatePlan(ctx, plan); err != nil {
		return "", fmt.Errorf("plan rejected: %w", err)
	}

	tasks := make([]domain.Task, 0, len(plan.Tasks))
	for _, p := range plan.Tasks {
		tasks = append(tasks, domain.NewTask(p.Title, p.Description))
	}
	e.st.Tasks = ledger.SetAll(e.st.Tasks, tasks)

	e.trace(string(domain.PhasePlanning), "planning_complete", "", fmt.Sprintf("Created %d tasks. %s", len(tasks), plan.Reasoning))
	e.tasksEvent()
	e.messageEvent("assistant", formatTaskList(tasks))
	e.phaseEvent(domain.PhaseSelecting)
	return domain.PhaseSelecting, nil
}

// stepSelect picks the first pending task, or moves to completing when
// none remain. The selected task becomes in_progress before executing
// starts so a checkpoint taken between the two phases shows it claimed.
func (e *Engine) stepSelect(ctx context.Context) (domain.Phase, error) {
	task, ok := ledger.FirstPending(e.st.Tasks)
	if !ok {
		e.trace(string(domain.PhaseSelecting), "all_tasks_processed", "", "All tasks have been processed")
		e.phaseEvent(domain.PhaseCompleting)
		return domain.PhaseCompleting, nil
	}

	updated, err := ledger.UpdateOne(e.st.Tasks, task.ID, ledger.Update{
		Status: domain.TaskStatusInProgress,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	e.st.Tasks = updated
	e.curTaskID = task.ID

	e.trace(string(domain.PhaseSelecting), "task_selected", task.ID, "Selected task: "+task.Title)
	e.phaseEvent(domain.PhaseExecuting)
	e.tasksEvent()
	return domain.PhaseExecuting, nil
}

// stepExecute runs the selected task. A generator failure here marks
// the task failed and the loop continues; it does not end the run.
func (e *Engine) stepExecute(ctx context.Context) (domain.Phase, error) {
	task, ok := findTask(e.st.Tasks, e.curTaskID)
	if !ok {
		// Only reachable after a resume that re-entered executing
		// without a selection pass; reselect instead of guessing.
		log.Printf("WARN: run %s: no task selected in executing phase, reselecting", e.st.RunID)
		return domain.PhaseSelecting, nil
	}

	e.trace(string(domain.PhaseExecuting), "execution_started", task.ID, "Starting: "+task.Title)

	gctx, cancel := e.genCtx(ctx)
	result, err := e.deps.Generator.ExecuteTask(gctx, e.st.Goal, task, e.userInput)
	cancel()
	e.userInput = ""

	now := time.Now().UTC()
	var update ledger.Update
	if err != nil {
		update = ledger.Update{Status: domain.TaskStatusFailed, Error: "execution failed: " + err.Error(), At: now}
		e.trace(string(domain.PhaseExecuting), "execution_failed", task.ID, err.Error())
	} else {
		update = ledger.Update{Status: domain.TaskStatusCompleted, Result: result, At: now}
		e.trace(string(domain.PhaseExecuting), "execution_success", task.ID, "Completed: "+task.Title)
	}

	updated, lerr := ledger.UpdateOne(e.st.Tasks, task.ID, update)
	if lerr != nil {
		return "", lerr
	}
	e.st.Tasks = updated

	e.tasksEvent()
	e.phaseEvent(domain.PhaseReflecting)
	return domain.PhaseReflecting, nil
}

// stepReflect asks the generator for a short progress note. Reflection
// is advisory: a generator failure is logged and skipped, never fatal.
func (e *Engine) stepReflect(ctx context.Context) (domain.Phase, error) {
	task, ok := findTask(e.st.Tasks, e.curTaskID)
	e.curTaskID = ""
	if ok {
		gctx, cancel := e.genCtx(ctx)
		summary, err := e.deps.Generator.Reflect(gctx, task, e.st.Progress())
		cancel()
		if err != nil {
			log.Printf("WARN: run %s: reflection failed for task %s: %v", e.st.RunID, task.ID, err)
			e.trace(string(domain.PhaseReflecting), "reflection_skipped", task.ID, "reflection unavailable: "+err.Error())
		} else {
			e.trace(string(domain.PhaseReflecting), "reflection", task.ID, summary)
			e.messageEvent("assistant", summary)
		}
	}

	e.phaseEvent(domain.PhaseSelecting)
	return domain.PhaseSelecting, nil
}

// stepComplete produces the final summary and moves the run to its
// terminal phase.
func (e *Engine) stepComplete(ctx context.Context) (domain.Phase, error) {
	p := e.st.Progress()
	e.trace(string(domain.PhaseCompleting), "execution_complete", "", fmt.Sprintf("Finished: %d/%d tasks completed", p.Completed, p.Total))
	e.messageEvent("assistant", formatSummary(e.st.Goal, e.st.Tasks, p))
	e.phaseEvent(domain.PhaseCompleted)
	return domain.PhaseCompleted, nil
}

func findTask(tasks []domain.Task, id string) (domain.Task, bool) {
	if id == "" {
		return domain.Task{}, false
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func formatTaskList(tasks []domain.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I've broken down your goal into %d tasks:\n\n", len(tasks))
	for i, t := range tasks {
		fmt.Fprintf(&sb, "%d. %s - %s\n", i+1, t.Title, t.Description)
	}
	sb.WriteString("\nStarting execution...")
	return sb.String()
}

func formatSummary(goal string, tasks []domain.Task, p domain.Progress) string {
	var sb strings.Builder
	sb.WriteString("Execution complete!\n\n")
	fmt.Fprintf(&sb, "Goal: %s\n", goal)
	fmt.Fprintf(&sb, "Results: %d/%d tasks completed", p.Completed, p.Total)
	if p.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", p.Failed)
	}
	sb.WriteString("\n\nTask summary:\n")
	for _, t := range tasks {
		mark := "x"
		if t.Status == domain.TaskStatusCompleted {
			mark = "ok"
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", mark, t.Title)
	}
	return sb.String()
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
