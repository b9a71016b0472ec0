package planner

import (
	"strings"

	"github.com/Djtony707/TITAN/internal/store"
)

// Intent labels for the template library.
const (
	intentInspect  = "inspect"
	intentFileEdit = "file_edit"
	intentResearch = "research"
	intentMaintain = "maintain"
	intentCommand  = "command"
)

var intentKeywords = map[string][]string{
	intentInspect:  {"scan", "inspect", "list", "show", "read", "review", "look", "check", "audit"},
	intentFileEdit: {"update", "write", "edit", "create", "fix", "add", "change", "patch", "readme", "document"},
	intentResearch: {"research", "fetch", "download", "search", "find out", "look up", "investigate"},
	intentMaintain: {"clean", "maintain", "prune", "backup", "housekeep", "rotate", "tidy"},
	intentCommand:  {"run", "execute", "build", "test", "compile", "install"},
}

// classifyIntent scores keyword hits per intent. The winner and its hit
// count (normalized) seed the candidate set; inspect is the safe default.
func classifyIntent(description string) (string, float64) {
	lower := strings.ToLower(description)
	best := intentInspect
	bestHits := 0
	// deterministic iteration order
	for _, intent := range []string{intentInspect, intentFileEdit, intentResearch, intentMaintain, intentCommand} {
		hits := 0
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = intent
			bestHits = hits
		}
	}
	confidence := float64(bestHits)
	if confidence > 3 {
		confidence = 3
	}
	return best, confidence / 3
}

// targetPath guesses the file a file-edit goal names; conservative default
// keeps the write inside docs/.
func targetPath(description string) string {
	lower := strings.ToLower(description)
	for _, candidate := range strings.Fields(lower) {
		if strings.Contains(candidate, "/") || strings.Contains(candidate, ".md") || strings.Contains(candidate, ".txt") {
			return strings.Trim(candidate, `"',.`)
		}
	}
	if strings.Contains(lower, "readme") {
		return "docs/readme.md"
	}
	return "docs/notes.md"
}

// generateCandidates emits 2-5 candidates for the classified intent. Every
// intent includes a read-only reconnaissance variant so the scorer always
// has a low-risk option to prefer when confidence is weak.
func generateCandidates(description string, memory []*store.Episode) []Candidate {
	intent, confidence := classifyIntent(description)

	recon := Candidate{
		Intent:     intentInspect,
		Confidence: confidence * 0.5,
		Steps: []StepSpec{
			{Tool: "ls", Class: store.ClassRead, Args: map[string]any{"path": "."}},
		},
	}
	deepRecon := Candidate{
		Intent:     intentInspect,
		Confidence: confidence,
		Steps: []StepSpec{
			{Tool: "ls", Class: store.ClassRead, Args: map[string]any{"path": "."}},
			{Tool: "grep", Class: store.ClassRead, Args: map[string]any{"pattern": keywordPattern(description), "path": "."}},
		},
	}

	switch intent {
	case intentFileEdit:
		path := targetPath(description)
		return []Candidate{
			recon,
			{
				Intent:     intentFileEdit,
				Confidence: confidence,
				Steps: []StepSpec{
					{Tool: "ls", Class: store.ClassRead, Args: map[string]any{"path": "."}},
					{Tool: "write", Class: store.ClassWrite, Args: map[string]any{"path": path, "content": description}},
				},
			},
			{
				Intent:     intentFileEdit,
				Confidence: confidence * 0.8,
				Steps: []StepSpec{
					{Tool: "read", Class: store.ClassRead, Args: map[string]any{"path": path}},
					{Tool: "patch_apply", Class: store.ClassWrite, Args: map[string]any{"path": path, "old": "", "new": description}},
					{Tool: "git_diff", Class: store.ClassRead, Args: map[string]any{}},
				},
			},
		}
	case intentResearch:
		return []Candidate{
			recon,
			deepRecon,
			{
				Intent:     intentResearch,
				Confidence: confidence,
				Steps: []StepSpec{
					{Tool: "http_get", Class: store.ClassNet, Args: map[string]any{"url": "https://example.com/"}},
					{Tool: "write", Class: store.ClassWrite, Args: map[string]any{"path": "docs/research.md", "content": description}},
				},
			},
		}
	case intentMaintain:
		return []Candidate{
			recon,
			deepRecon,
			{
				Intent:     intentMaintain,
				Confidence: confidence,
				Steps: []StepSpec{
					{Tool: "git_status", Class: store.ClassRead, Args: map[string]any{}},
					{Tool: "git_commit", Class: store.ClassWrite, Args: map[string]any{"message": description}},
				},
			},
		}
	case intentCommand:
		return []Candidate{
			recon,
			{
				Intent:     intentCommand,
				Confidence: confidence,
				Steps: []StepSpec{
					{Tool: "git_status", Class: store.ClassRead, Args: map[string]any{}},
					{Tool: "exec", Class: store.ClassExec, Args: map[string]any{"argv": []any{"make", "test"}}},
				},
			},
			deepRecon,
		}
	default:
		return []Candidate{recon, deepRecon}
	}
}

// keywordPattern builds a crude search regex from the goal's longest words.
func keywordPattern(description string) string {
	words := strings.Fields(strings.ToLower(description))
	var longest string
	for _, w := range words {
		w = strings.Trim(w, `"',.`)
		if len(w) > len(longest) {
			longest = w
		}
	}
	if longest == "" {
		return "."
	}
	return longest
}
