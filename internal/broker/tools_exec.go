package broker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// ExecResult carries subprocess output back to the caller.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// execTool runs one allowlisted command. Argument vectors only: there is no
// shell interpreter anywhere on this path, so no quoting, globbing, or
// injection surface.
type execTool struct {
	allowlist []string
	workdir   string
}

func (t *execTool) Name() string { return "exec" }
func (t *execTool) Description() string {
	return "Execute an allowlisted command with an explicit argument vector."
}
func (t *execTool) Class() string { return store.ClassExec }
func (t *execTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {
			"argv": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1,
				"description": "Command and arguments; argv[0] must be allowlisted"
			}
		},
		"required": ["argv"],
		"additionalProperties": false
	}`
}
func (t *execTool) PathArgs() []string   { return nil }
func (t *execTool) Network() bool        { return false }
func (t *execTool) Subprocess() bool     { return true }
func (t *execTool) Idempotent() bool     { return false }
func (t *execTool) ExclusivePaths() bool { return false }

func (t *execTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	argv, err := stringSlice(args["argv"])
	if err != nil || len(argv) == 0 {
		return nil, titanerr.New(titanerr.KindValidation, "exec", "argv must be a non-empty string array")
	}
	if !t.allowed(argv[0]) {
		return nil, titanerr.New(titanerr.KindPolicy, "exec",
			fmt.Sprintf("command %q is not in the exec allowlist", argv[0]))
	}
	return runArgv(ctx, t.workdir, argv)
}

func (t *execTool) allowed(command string) bool {
	base := command
	if idx := strings.LastIndex(base, "/"); idx != -1 {
		base = base[idx+1:]
	}
	for _, a := range t.allowlist {
		if a == command || a == base {
			return true
		}
	}
	return false
}

// runArgv invokes exec.CommandContext directly on the vector. A non-zero
// exit is reported in the result, not as a Go error, so the executor can
// classify it.
func runArgv(ctx context.Context, dir string, argv []string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}
	return &ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

func stringSlice(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element")
		}
		out = append(out, s)
	}
	return out, nil
}

// gitStatusTool shells the porcelain status through the same argv path as
// exec, without requiring git on the allowlist.
type gitStatusTool struct{ workdir string }

func (t *gitStatusTool) Name() string        { return "git_status" }
func (t *gitStatusTool) Description() string { return "Show the working tree status (porcelain)." }
func (t *gitStatusTool) Class() string       { return store.ClassRead }
func (t *gitStatusTool) InputSchema() string {
	return `{"type": "object", "properties": {}, "additionalProperties": false}`
}
func (t *gitStatusTool) PathArgs() []string   { return nil }
func (t *gitStatusTool) Network() bool        { return false }
func (t *gitStatusTool) Subprocess() bool     { return true }
func (t *gitStatusTool) Idempotent() bool     { return true }
func (t *gitStatusTool) ExclusivePaths() bool { return false }

func (t *gitStatusTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return runArgv(ctx, t.workdir, []string{"git", "status", "--porcelain"})
}

// gitDiffTool shows unstaged or staged changes.
type gitDiffTool struct{ workdir string }

func (t *gitDiffTool) Name() string        { return "git_diff" }
func (t *gitDiffTool) Description() string { return "Show the diff of tracked changes." }
func (t *gitDiffTool) Class() string       { return store.ClassRead }
func (t *gitDiffTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {"staged": {"type": "boolean", "description": "Diff the index instead of the worktree"}},
		"additionalProperties": false
	}`
}
func (t *gitDiffTool) PathArgs() []string   { return nil }
func (t *gitDiffTool) Network() bool        { return false }
func (t *gitDiffTool) Subprocess() bool     { return true }
func (t *gitDiffTool) Idempotent() bool     { return true }
func (t *gitDiffTool) ExclusivePaths() bool { return false }

func (t *gitDiffTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	argv := []string{"git", "diff"}
	if staged, _ := args["staged"].(bool); staged {
		argv = append(argv, "--cached")
	}
	return runArgv(ctx, t.workdir, argv)
}

// gitCommitTool stages everything and commits with the given message.
type gitCommitTool struct{ workdir string }

func (t *gitCommitTool) Name() string        { return "git_commit" }
func (t *gitCommitTool) Description() string { return "Stage all changes and commit with a message." }
func (t *gitCommitTool) Class() string       { return store.ClassWrite }
func (t *gitCommitTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {"message": {"type": "string", "minLength": 1, "description": "Commit message"}},
		"required": ["message"],
		"additionalProperties": false
	}`
}
func (t *gitCommitTool) PathArgs() []string   { return nil }
func (t *gitCommitTool) Network() bool        { return false }
func (t *gitCommitTool) Subprocess() bool     { return true }
func (t *gitCommitTool) Idempotent() bool     { return false }
func (t *gitCommitTool) ExclusivePaths() bool { return false }

func (t *gitCommitTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if res, err := runArgv(ctx, t.workdir, []string{"git", "add", "-A"}); err != nil {
		return nil, err
	} else if res.ExitCode != 0 {
		return res, nil
	}
	return runArgv(ctx, t.workdir, []string{"git", "commit", "-m", args["message"].(string)})
}
