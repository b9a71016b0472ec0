package runexec

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/store"
)

// Reconciliation triggers: static checks comparing what a step declared
// against what its execution reported. Triggered reconciliations surface as
// drift_flagged trace events, informational only — gating stays with the
// approval queue.
const (
	triggerRepeatedAttempts = "repeated_attempts"
	triggerEmptyResult      = "empty_result"
	triggerTruncatedOutput  = "truncated_output"
	triggerScopeDeviation   = "scope_deviation"
)

// reconcile runs the post-step drift checks in supervised and collaborative
// modes. Autonomous goals skip it; the operator opted out of oversight.
func (e *Executor) reconcile(ctx context.Context, goal *store.Goal, step *store.Step, result *broker.Result) {
	mode := e.mode()
	if mode != policy.ModeSupervised && mode != policy.ModeCollaborative {
		return
	}

	var triggers []string
	if step.Attempts > 1 {
		triggers = append(triggers, triggerRepeatedAttempts)
	}
	if (step.Class == store.ClassWrite || step.Class == store.ClassExec) && isEmptyOutput(result.Output) {
		triggers = append(triggers, triggerEmptyResult)
	}
	if strings.Contains(result.Output, `"truncated":true`) {
		triggers = append(triggers, triggerTruncatedOutput)
	}
	if deviatesFromGoal(goal.Description, step) {
		triggers = append(triggers, triggerScopeDeviation)
	}

	if len(triggers) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"triggers": triggers, "tool": step.Tool})
	e.store.AppendTrace(ctx, &store.TraceEvent{
		GoalID: goal.ID, StepID: step.ID,
		Kind: "drift_flagged", Payload: string(payload),
		RiskMode: e.policy.RiskMode(ctx),
	})
	e.log.Warn("drift flagged", map[string]interface{}{
		"goal_id": goal.ID, "step": step.Ordinal, "triggers": strings.Join(triggers, ","),
	})
}

func isEmptyOutput(output string) bool {
	trimmed := strings.TrimSpace(output)
	return trimmed == "" || trimmed == `""` || trimmed == "null" || trimmed == "{}" || trimmed == "[]"
}

// deviatesFromGoal is a crude scope check: a write step whose target path
// shares no token with the goal description suggests the plan wandered.
func deviatesFromGoal(description string, step *store.Step) bool {
	if step.Class != store.ClassWrite {
		return false
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(step.Args), &args); err != nil {
		return false
	}
	path, _ := args["path"].(string)
	if path == "" {
		return false
	}
	lowerDesc := strings.ToLower(description)
	for _, part := range strings.FieldsFunc(strings.ToLower(path), func(r rune) bool { return r == '/' || r == '.' || r == '_' || r == '-' }) {
		if len(part) >= 3 && strings.Contains(lowerDesc, part) {
			return false
		}
	}
	return true
}
