package broker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Djtony707/TITAN/internal/store"
)

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// GrepMatch is one search hit.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// RegisterBuiltins installs the built-in tool catalogue: listing, read,
// search, write, patch apply, allowlisted subprocess execution, allowlisted
// HTTP, and the git trio.
func (b *Broker) RegisterBuiltins(execAllowlist, hostAllowlist []string) error {
	tools := []Tool{
		&lsTool{},
		&readTool{},
		&grepTool{},
		&writeTool{},
		&patchTool{},
		&execTool{allowlist: execAllowlist, workdir: b.guard.Root()},
		&httpGetTool{hosts: hostAllowlist},
		&httpPostTool{hosts: hostAllowlist},
		&gitStatusTool{workdir: b.guard.Root()},
		&gitDiffTool{workdir: b.guard.Root()},
		&gitCommitTool{workdir: b.guard.Root()},
	}
	for _, t := range tools {
		if err := b.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// lsTool lists directory contents.
type lsTool struct{}

func (t *lsTool) Name() string        { return "ls" }
func (t *lsTool) Description() string { return "List directory contents." }
func (t *lsTool) Class() string       { return store.ClassRead }
func (t *lsTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {"path": {"type": "string", "description": "Directory to list"}},
		"required": ["path"],
		"additionalProperties": false
	}`
}
func (t *lsTool) PathArgs() []string   { return []string{"path"} }
func (t *lsTool) Network() bool        { return false }
func (t *lsTool) Subprocess() bool     { return false }
func (t *lsTool) Idempotent() bool     { return true }
func (t *lsTool) ExclusivePaths() bool { return false }

func (t *lsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	path := args["path"].(string)
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var result []DirEntry
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		result = append(result, DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	return result, nil
}

// readTool reads a file.
type readTool struct{}

func (t *readTool) Name() string        { return "read" }
func (t *readTool) Description() string { return "Read the contents of a file at the given path." }
func (t *readTool) Class() string       { return store.ClassRead }
func (t *readTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {"path": {"type": "string", "description": "File to read"}},
		"required": ["path"],
		"additionalProperties": false
	}`
}
func (t *readTool) PathArgs() []string   { return []string{"path"} }
func (t *readTool) Network() bool        { return false }
func (t *readTool) Subprocess() bool     { return false }
func (t *readTool) Idempotent() bool     { return true }
func (t *readTool) ExclusivePaths() bool { return false }

func (t *readTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	content, err := os.ReadFile(args["path"].(string))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return string(content), nil
}

// grepTool searches for a regex in a file or directory tree.
type grepTool struct{}

func (t *grepTool) Name() string        { return "grep" }
func (t *grepTool) Description() string { return "Search for a regex pattern in a file or directory." }
func (t *grepTool) Class() string       { return store.ClassRead }
func (t *grepTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Regex pattern"},
			"path": {"type": "string", "description": "File or directory to search"}
		},
		"required": ["pattern", "path"],
		"additionalProperties": false
	}`
}
func (t *grepTool) PathArgs() []string   { return []string{"path"} }
func (t *grepTool) Network() bool        { return false }
func (t *grepTool) Subprocess() bool     { return false }
func (t *grepTool) Idempotent() bool     { return true }
func (t *grepTool) ExclusivePaths() bool { return false }

func (t *grepTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	re, err := regexp.Compile(args["pattern"].(string))
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	path := args["path"].(string)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("path not found: %w", err)
	}

	var matches []GrepMatch
	if info.IsDir() {
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fileMatches, _ := grepFile(re, p)
			matches = append(matches, fileMatches...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		matches, err = grepFile(re, path)
		if err != nil {
			return nil, err
		}
	}
	return matches, nil
}

func grepFile(re *regexp.Regexp, path string) ([]GrepMatch, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var matches []GrepMatch
	for i, line := range strings.Split(string(content), "\n") {
		if re.MatchString(line) {
			matches = append(matches, GrepMatch{File: path, Line: i + 1, Content: line})
		}
	}
	return matches, nil
}

// writeTool writes a file, creating parents.
type writeTool struct{}

func (t *writeTool) Name() string { return "write" }
func (t *writeTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}
func (t *writeTool) Class() string { return store.ClassWrite }
func (t *writeTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File to write"},
			"content": {"type": "string", "description": "Content to write"}
		},
		"required": ["path", "content"],
		"additionalProperties": false
	}`
}
func (t *writeTool) PathArgs() []string   { return []string{"path"} }
func (t *writeTool) Network() bool        { return false }
func (t *writeTool) Subprocess() bool     { return false }
func (t *writeTool) Idempotent() bool     { return false }
func (t *writeTool) ExclusivePaths() bool { return true }

func (t *writeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	path := args["path"].(string)
	content := args["content"].(string)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return "ok", nil
}

// patchTool finds and replaces text in a file; only the first exact match
// of the old text is replaced.
type patchTool struct{}

func (t *patchTool) Name() string { return "patch_apply" }
func (t *patchTool) Description() string {
	return "Find and replace text in a file. The old text must match exactly."
}
func (t *patchTool) Class() string { return store.ClassWrite }
func (t *patchTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File to patch"},
			"old": {"type": "string", "description": "Text to find (exact match)"},
			"new": {"type": "string", "description": "Text to replace with"}
		},
		"required": ["path", "old", "new"],
		"additionalProperties": false
	}`
}
func (t *patchTool) PathArgs() []string   { return []string{"path"} }
func (t *patchTool) Network() bool        { return false }
func (t *patchTool) Subprocess() bool     { return false }
func (t *patchTool) Idempotent() bool     { return false }
func (t *patchTool) ExclusivePaths() bool { return true }

func (t *patchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	path := args["path"].(string)
	oldText := args["old"].(string)
	newText := args["new"].(string)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	body := string(content)
	if !strings.Contains(body, oldText) {
		return nil, fmt.Errorf("pattern not found in file")
	}
	patched := strings.Replace(body, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return "ok", nil
}
