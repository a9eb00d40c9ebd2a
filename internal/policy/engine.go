// Package policy validates untrusted input (user goals, generator plan
// responses) against a rego policy before the engine trusts it.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xhe623/planrun/internal/domain"
)

// Engine is the OPA validation engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from the given rego module.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.run_policy.deny"),
		rego.Module("run_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// ValidateGoal checks a goal string before a run is created.
func (e *Engine) ValidateGoal(ctx context.Context, goal string) error {
	return e.evaluate(ctx, map[string]interface{}{
		"kind": "goal",
		"goal": goal,
	})
}

// ValidatePlan checks a parsed planning response before it becomes the
// run's task ledger.
func (e *Engine) ValidatePlan(ctx context.Context, plan *domain.Plan) error {
	tasks := make([]interface{}, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		tasks = append(tasks, map[string]interface{}{
			"title":       t.Title,
			"description": t.Description,
		})
	}
	return e.evaluate(ctx, map[string]interface{}{
		"kind":  "plan",
		"tasks": tasks,
	})
}

func (e *Engine) evaluate(ctx context.Context, input map[string]interface{}) error {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil
	}

	violations, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(violations) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		if s, ok := v.(string); ok {
			msgs = append(msgs, s)
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// DefaultPolicy bounds goals and plans: a goal must be non-empty and
// reasonably sized; a plan must carry 1..20 tasks with non-empty,
// bounded titles and bounded descriptions.
const DefaultPolicy = `
package run_policy

import rego.v1

deny contains msg if {
	input.kind == "goal"
	trim_space(input.goal) == ""
	msg := "goal must not be empty"
}

deny contains msg if {
	input.kind == "goal"
	count(input.goal) > 4000
	msg := "goal exceeds 4000 characters"
}

deny contains msg if {
	input.kind == "plan"
	count(input.tasks) == 0
	msg := "plan contains no tasks"
}

deny contains msg if {
	input.kind == "plan"
	count(input.tasks) > 20
	msg := sprintf("plan contains %d tasks, limit is 20", [count(input.tasks)])
}

deny contains msg if {
	input.kind == "plan"
	some i
	trim_space(input.tasks[i].title) == ""
	msg := sprintf("task %d has an empty title", [i])
}

deny contains msg if {
	input.kind == "plan"
	some i
	count(input.tasks[i].title) > 200
	msg := sprintf("task %d title exceeds 200 characters", [i])
}

deny contains msg if {
	input.kind == "plan"
	some i
	count(input.tasks[i].description) > 2000
	msg := sprintf("task %d description exceeds 2000 characters", [i])
}
`
