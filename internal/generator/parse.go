package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xhe623/planrun/internal/domain"
)

// ParsePlan decodes a planning response into a Plan. Models often wrap
// JSON in markdown code fences; those are stripped before decoding.
// Structural violations (no JSON object, no tasks array) are errors;
// bound checks on the result belong to the policy engine.
func ParsePlan(content string) (*domain.Plan, error) {
	cleaned := stripCodeFences(content)
	if cleaned == "" {
		return nil, fmt.Errorf("empty planning response")
	}

	var plan domain.Plan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return nil, fmt.Errorf("malformed planning response: %w", err)
	}
	if plan.Tasks == nil {
		return nil, fmt.Errorf("planning response has no tasks field")
	}
	for i := range plan.Tasks {
		plan.Tasks[i].Title = strings.TrimSpace(plan.Tasks[i].Title)
		plan.Tasks[i].Description = strings.TrimSpace(plan.Tasks[i].Description)
	}
	return &plan, nil
}

func stripCodeFences(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = strings.TrimPrefix(out, "```")
	if idx := strings.Index(out, "\n"); idx >= 0 && !strings.ContainsAny(out[:idx], "{[") {
		// Language tag on the fence line, e.g. ```json
		out = out[idx+1:]
	}
	if idx := strings.LastIndex(out, "```"); idx >= 0 {
		out = out[:idx]
	}
	return strings.TrimSpace(out)
}
