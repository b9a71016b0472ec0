// Package planner compiles a goal description into 2-5 candidate plans,
// scores them, and selects one deterministically. Candidate generation is
// seeded by a template library keyed by coarse goal intent, so reruns over
// the same inputs always select the same candidate; only the final
// natural-language annotations come from the inference provider.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Djtony707/TITAN/internal/llm"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// StepSpec is one planned tool invocation before persistence.
type StepSpec struct {
	Tool  string         `json:"tool"`
	Class string         `json:"class"`
	Args  map[string]any `json:"args"`
}

// Candidate is one considered decomposition.
type Candidate struct {
	Digest     string     `json:"digest"`
	Intent     string     `json:"intent"`
	Steps      []StepSpec `json:"steps"`
	Risk       float64    `json:"risk"`
	Cost       float64    `json:"cost"`
	Confidence float64    `json:"confidence"`
	Score      float64    `json:"score"`
}

// Scoring weights: higher capability classes cost more, retrieval
// confidence discounts, and a candidate whose intent cannot accomplish the
// classified goal intent carries a flat penalty so a cheap read-only plan
// never outbids the plan that does the work.
const (
	weightRisk       = 2.0
	weightCost       = 1.0
	weightConfidence = 1.5
	mismatchPenalty  = 20.0
)

var classRisk = map[string]float64{
	store.ClassRead:  1,
	store.ClassWrite: 3,
	store.ClassExec:  4,
	store.ClassNet:   3,
}

// Planner builds plans for the run executor.
type Planner struct {
	provider llm.Provider
	store    *store.Store
	log      *logging.Logger
}

// New wires a Planner. provider may be llm.NullProvider.
func New(provider llm.Provider, s *store.Store, log *logging.Logger) *Planner {
	return &Planner{provider: provider, store: s, log: log}
}

// Plan produces the persisted plan and its steps for one goal.
func (p *Planner) Plan(ctx context.Context, goal *store.Goal) (*store.Plan, []*store.Step, error) {
	if strings.TrimSpace(goal.Description) == "" {
		return nil, nil, titanerr.New(titanerr.KindValidation, "planner.Plan", "goal description is empty")
	}

	memory, err := p.store.RecentEpisodes(ctx, 5)
	if err != nil {
		return nil, nil, err
	}

	goalIntent, _ := classifyIntent(goal.Description)
	candidates := generateCandidates(goal.Description, memory)
	if len(candidates) < 2 {
		return nil, nil, titanerr.New(titanerr.KindInternal, "planner.Plan", "template library produced fewer than 2 candidates")
	}
	for i := range candidates {
		scoreCandidate(&candidates[i], goalIntent)
	}

	selected := selectCandidate(candidates)
	rationale := p.rationale(ctx, goal, candidates, selected)

	candJSON, err := canonicalJSON(candidates)
	if err != nil {
		return nil, nil, titanerr.Wrap(titanerr.KindInternal, "planner.Plan", "encode candidates", err)
	}

	plan := &store.Plan{
		GoalID:     goal.ID,
		Candidates: candJSON,
		SelectedID: selected.Digest,
		Rationale:  rationale,
	}

	steps := make([]*store.Step, 0, len(selected.Steps))
	for i, spec := range selected.Steps {
		argsJSON, err := canonicalJSON(spec.Args)
		if err != nil {
			return nil, nil, titanerr.Wrap(titanerr.KindInternal, "planner.Plan", "encode step args", err)
		}
		steps = append(steps, &store.Step{
			GoalID:     goal.ID,
			Ordinal:    i,
			Tool:       spec.Tool,
			Args:       argsJSON,
			ArgsDigest: digestOf([]byte(argsJSON)),
			Class:      spec.Class,
			State:      store.StepQueued,
		})
	}
	return plan, steps, nil
}

// PlanSuffix replans the remainder of a goal after a step failure. The
// completed prefix stays untouched; the suffix is regenerated from the
// failing step's context.
func (p *Planner) PlanSuffix(ctx context.Context, goal *store.Goal, failed *store.Step) ([]*store.Step, error) {
	memory, err := p.store.RecentEpisodes(ctx, 5)
	if err != nil {
		return nil, err
	}
	goalIntent, _ := classifyIntent(goal.Description)
	candidates := generateCandidates(goal.Description, memory)
	for i := range candidates {
		scoreCandidate(&candidates[i], goalIntent)
	}
	selected := selectCandidate(candidates)

	// Skip the specs already covered by the completed prefix.
	if failed.Ordinal >= len(selected.Steps) {
		return nil, nil
	}
	suffix := selected.Steps[failed.Ordinal:]
	steps := make([]*store.Step, 0, len(suffix))
	for i, spec := range suffix {
		argsJSON, err := canonicalJSON(spec.Args)
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "planner.PlanSuffix", "encode step args", err)
		}
		steps = append(steps, &store.Step{
			GoalID:     goal.ID,
			Ordinal:    failed.Ordinal + i,
			Tool:       spec.Tool,
			Args:       argsJSON,
			ArgsDigest: digestOf([]byte(argsJSON)),
			Class:      spec.Class,
			State:      store.StepQueued,
		})
	}
	return steps, nil
}

func scoreCandidate(c *Candidate, goalIntent string) {
	var risk, cost float64
	for _, s := range c.Steps {
		risk += classRisk[s.Class]
		cost += 1
	}
	c.Risk = risk
	c.Cost = cost
	c.Score = weightRisk*risk + weightCost*cost - weightConfidence*c.Confidence
	if c.Intent != goalIntent {
		c.Score += mismatchPenalty
	}
	c.Digest = candidateDigest(c)
}

// candidateDigest hashes the canonical JSON of the step sequence
// (tool + class + ordinal), the stable identity used for tie-breaks.
func candidateDigest(c *Candidate) string {
	type entry struct {
		Ordinal int    `json:"ordinal"`
		Tool    string `json:"tool"`
		Class   string `json:"class"`
	}
	entries := make([]entry, len(c.Steps))
	for i, s := range c.Steps {
		entries[i] = entry{Ordinal: i, Tool: s.Tool, Class: s.Class}
	}
	b, _ := json.Marshal(entries)
	return digestOf(b)
}

// selectCandidate picks the minimum score; ties break by lower risk, then
// lower cost, then lexicographic digest.
func selectCandidate(candidates []Candidate) Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.Risk != b.Risk {
			return a.Risk < b.Risk
		}
		if a.Cost != b.Cost {
			return a.Cost < b.Cost
		}
		return a.Digest < b.Digest
	})
	return sorted[0]
}

// rationale asks the provider for a one-paragraph justification; failures
// degrade to a deterministic summary since the rationale never affects
// selection.
func (p *Planner) rationale(ctx context.Context, goal *store.Goal, candidates []Candidate, selected Candidate) string {
	fallback := fmt.Sprintf("selected %s (intent %s, score %.1f) out of %d candidates",
		selected.Digest[:12], selected.Intent, selected.Score, len(candidates))
	if p.provider == nil {
		return fallback
	}
	resp, err := p.provider.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{
		{Role: "system", Content: "Summarize in one sentence why this plan fits the goal. Plain text."},
		{Role: "user", Content: fmt.Sprintf("goal: %s\nintent: %s\nsteps: %d", goal.Description, selected.Intent, len(selected.Steps))},
	}})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return fallback
	}
	return strings.TrimSpace(resp.Content)
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON marshals with sorted object keys (encoding/json sorts map
// keys already) and no insignificant whitespace.
func canonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
