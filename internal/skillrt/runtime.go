package skillrt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// RunResult carries a skill execution's output.
type RunResult struct {
	Output string `json:"output"`
}

// Run executes an installed skill by entrypoint kind. prompt entrypoints
// rewrite to a Tool Broker call; wasm entrypoints run sandboxed; http and
// script-stub are stubs in this version and fail with a clear error rather
// than falling back to unsandboxed execution.
func (r *Runtime) Run(ctx context.Context, slug string, input map[string]any, goalID string) (*RunResult, error) {
	m, installed, err := r.InstalledManifest(ctx, slug)
	if err != nil {
		return nil, err
	}
	if installed.NeedsReview {
		return nil, titanerr.New(titanerr.KindPolicy, "skillrt.Run",
			"skill "+slug+" is flagged for operator review after a sandbox violation")
	}

	var result *RunResult
	switch m.Entrypoint.Kind {
	case KindPrompt:
		result, err = r.runPrompt(ctx, m, input)
	case KindWasm:
		result, err = r.runSandboxed(ctx, slug, installed.Version, m, input)
	case KindHTTP, KindScriptStub:
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.Run",
			m.Entrypoint.Kind+" entrypoints are not implemented in this version")
	default:
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.Run",
			"unknown entrypoint kind "+m.Entrypoint.Kind)
	}
	if err != nil {
		if titanerr.Is(err, titanerr.KindSandbox) {
			// The skill exceeded its declared capability: flag it so the
			// next run is blocked until an operator clears it.
			r.store.MarkSkillForReview(ctx, slug)
			r.log.SecurityWarning("skill sandbox violation", map[string]interface{}{
				"slug": slug, "error": err.Error(),
			})
		}
		return nil, err
	}

	if goalID != "" {
		r.store.TouchSkillRun(ctx, slug, goalID)
	}
	return result, nil
}

// runPrompt rewrites a "tool:<name> <json args>" target to a broker call,
// merging the caller's input over the target's baked-in arguments.
func (r *Runtime) runPrompt(ctx context.Context, m *Manifest, input map[string]any) (*RunResult, error) {
	target := strings.TrimSpace(m.Entrypoint.Target)
	if !strings.HasPrefix(target, "tool:") {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.runPrompt",
			"prompt entrypoint target must be of the form tool:<name> <args>")
	}
	rest := strings.TrimPrefix(target, "tool:")
	name, argsText, _ := strings.Cut(rest, " ")

	args := make(map[string]any)
	if strings.TrimSpace(argsText) != "" {
		if err := json.Unmarshal([]byte(argsText), &args); err != nil {
			return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.runPrompt", "parse baked-in args", err)
		}
	}
	for k, v := range input {
		args[k] = v
	}

	res, err := r.broker.Invoke(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return &RunResult{Output: res.Output}, nil
}

// runSandboxed feeds the input as JSON on stdin and captures stdout.
func (r *Runtime) runSandboxed(ctx context.Context, slug, version string, m *Manifest, input map[string]any) (*RunResult, error) {
	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.runSandboxed", "encode input", err)
	}
	bundleDir := r.workspacePath(SkillsDir, slug, version)
	out, err := runWasm(ctx, r.guard, bundleDir, m, stdin)
	if err != nil {
		return nil, err
	}
	return &RunResult{Output: string(out)}, nil
}

// ScopesOf returns the capability classes an installed skill declared, for
// callers building policy requests.
func ScopesOf(installed *store.InstalledSkill) []string {
	var scopes []string
	json.Unmarshal([]byte(installed.Scopes), &scopes)
	return scopes
}
