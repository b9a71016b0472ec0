// Package broker registers capability-classed tools and enforces the
// execution contract around every invocation: schema validation, path
// canonicalization, policy, approval, bounds, and tracing.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Tool is one entry in the closed registry. Every tool declares its
// capability class, schema and side-effect profile up front.
type Tool interface {
	Name() string
	Description() string
	Class() string
	// InputSchema returns the JSON Schema (draft 2020-12) for the args map.
	InputSchema() string
	// PathArgs names the path-typed inputs that must pass Path Guard.
	PathArgs() []string
	// Network and Subprocess declare effect surfaces for policy metadata.
	Network() bool
	Subprocess() bool
	// Idempotent reports whether a duplicate invocation is harmless.
	Idempotent() bool
	// ExclusivePaths asks the broker to queue this tool behind a per-path
	// mutex so concurrent goals do not interleave writes to one file.
	ExclusivePaths() bool
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Limits bound a single invocation.
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int
	MaxPerClass    int
}

// DefaultLimits matches the documented per-invocation bounds.
func DefaultLimits() Limits {
	return Limits{Timeout: 30 * time.Second, MaxOutputBytes: 1 << 20, MaxPerClass: 4}
}

// Broker drives tool execution for the run executor and the CLI.
type Broker struct {
	guard     *pathguard.Guard
	policy    *policy.Engine
	approvals *approval.Queue
	store     *store.Store
	log       *logging.Logger
	limits    Limits
	mode      func() string // autonomy mode at decision time

	mu      sync.Mutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	classes map[string]chan struct{} // per-class concurrency tokens
	pathMu  map[string]*sync.Mutex
}

// New builds a Broker around the shared components. mode is sampled per
// decision so an operator mode change applies to in-flight goals at the
// next step boundary.
func New(guard *pathguard.Guard, pol *policy.Engine, approvals *approval.Queue, st *store.Store, log *logging.Logger, limits Limits, mode func() string) *Broker {
	if limits.Timeout <= 0 {
		limits.Timeout = DefaultLimits().Timeout
	}
	if limits.MaxOutputBytes <= 0 {
		limits.MaxOutputBytes = DefaultLimits().MaxOutputBytes
	}
	if limits.MaxPerClass <= 0 {
		limits.MaxPerClass = DefaultLimits().MaxPerClass
	}
	b := &Broker{
		guard:     guard,
		policy:    pol,
		approvals: approvals,
		store:     st,
		log:       log,
		limits:    limits,
		mode:      mode,
		tools:     make(map[string]Tool),
		schemas:   make(map[string]*jsonschema.Schema),
		classes:   make(map[string]chan struct{}),
		pathMu:    make(map[string]*sync.Mutex),
	}
	for _, class := range []string{store.ClassRead, store.ClassWrite, store.ClassExec, store.ClassNet} {
		b.classes[class] = make(chan struct{}, limits.MaxPerClass)
	}
	return b
}

// Register compiles the tool's schema and adds it to the registry. The
// registry is closed after startup; registration is not safe once goals run.
func (b *Broker) Register(t Tool) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("titan://tools/%s.schema.json", t.Name())
	if err := c.AddResource(url, strings.NewReader(t.InputSchema())); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "broker.Register", "load schema for "+t.Name(), err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "broker.Register", "compile schema for "+t.Name(), err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools[t.Name()] = t
	b.schemas[t.Name()] = compiled
	return nil
}

// Get returns a registered tool, or nil.
func (b *Broker) Get(name string) Tool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tools[name]
}

// Names lists the registered tool names.
func (b *Broker) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.tools))
	for name := range b.tools {
		out = append(out, name)
	}
	return out
}

// Result carries the outcome of one invocation back to the executor.
type Result struct {
	Output   string // JSON, size-capped
	Duration time.Duration
}

// ExecuteStep runs a persisted step through the full contract. On
// require-approval it parks the step (and goal), waits for the decision,
// and resumes or fails accordingly.
func (b *Broker) ExecuteStep(ctx context.Context, step *store.Step) (*Result, error) {
	tool := b.Get(step.Tool)
	if tool == nil {
		return nil, titanerr.New(titanerr.KindValidation, "broker.ExecuteStep", "unknown tool "+step.Tool)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(step.Args), &args); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "broker.ExecuteStep", "decode step args", err)
	}

	return b.run(ctx, tool, args, step)
}

// Invoke runs a tool outside any goal, used by `tool run` and skill prompt
// entrypoints. The same policy and approval gates apply; only the step
// bookkeeping is skipped.
func (b *Broker) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	tool := b.Get(name)
	if tool == nil {
		return nil, titanerr.New(titanerr.KindValidation, "broker.Invoke", "unknown tool "+name)
	}
	return b.run(ctx, tool, args, nil)
}

func (b *Broker) run(ctx context.Context, tool Tool, args map[string]any, step *store.Step) (*Result, error) {
	riskMode := b.policy.RiskMode(ctx)

	// 1. Validate input against the registered schema.
	b.mu.Lock()
	schema := b.schemas[tool.Name()]
	b.mu.Unlock()
	if err := schema.Validate(args); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "broker.run", tool.Name()+" args failed schema", err)
	}

	// 2. Canonicalize every path-typed input through Path Guard. An escape
	// fails the step before any filesystem call happens.
	paths, err := b.resolvePaths(tool, args, step, riskMode)
	if err != nil {
		return nil, err
	}
	hosts := extractHosts(tool, args)

	// 3. Policy.
	decision, rule, err := b.policy.Decide(ctx, policy.Request{
		Mode:          b.mode(),
		Class:         tool.Class(),
		Paths:         paths,
		Hosts:         hosts,
		IsNetwork:     tool.Network(),
		IsExec:        tool.Subprocess(),
		ConnectorType: connectorType(step),
	})
	if err != nil {
		return nil, err
	}
	switch decision {
	case policy.Deny:
		return nil, titanerr.New(titanerr.KindPolicy, "broker.run",
			fmt.Sprintf("tool %s denied by rule %s", tool.Name(), rule))
	case policy.RequireApproval:
		if err := b.awaitApproval(ctx, tool, paths, hosts, step, riskMode); err != nil {
			return nil, err
		}
	}

	// 4. Bounds: class token, optional per-path exclusion, wall clock.
	release, err := b.acquireClass(ctx, tool.Class())
	if err != nil {
		return nil, err
	}
	defer release()
	if tool.ExclusivePaths() {
		unlock := b.lockPaths(paths)
		defer unlock()
	}

	invokeCtx, cancel := context.WithTimeout(ctx, b.limits.Timeout)
	defer cancel()

	// 5. Invoke.
	start := time.Now()
	raw, execErr := tool.Execute(invokeCtx, args)
	elapsed := time.Since(start)

	output, capped := encodeOutput(raw, b.limits.MaxOutputBytes)

	// 6. Trace with redacted inputs and size-capped outcome.
	b.trace(ctx, tool, args, step, riskMode, elapsed, capped, execErr)

	if execErr != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			return nil, titanerr.Wrap(titanerr.KindTransient, "broker.run",
				fmt.Sprintf("tool %s exceeded %s timeout", tool.Name(), b.limits.Timeout), execErr)
		}
		return nil, execErr
	}
	return &Result{Output: output, Duration: elapsed}, nil
}

func connectorType(step *store.Step) string {
	if step == nil || step.ConnectorID == "" {
		return ""
	}
	return step.ConnectorID
}

// resolvePaths validates and rewrites every declared path argument. The
// raw input and the rejection reason are traced on violation.
func (b *Broker) resolvePaths(tool Tool, args map[string]any, step *store.Step, riskMode string) ([]string, error) {
	var resolved []string
	for _, key := range tool.PathArgs() {
		raw, ok := args[key].(string)
		if !ok || raw == "" {
			continue
		}
		canon, err := b.guard.Resolve(raw)
		if err != nil {
			if step != nil {
				payload, _ := json.Marshal(map[string]any{
					"tool": tool.Name(), "arg": key, "raw": raw, "reason": err.Error(),
				})
				b.store.AppendTrace(context.Background(), &store.TraceEvent{
					GoalID: step.GoalID, StepID: step.ID,
					Kind: "workspace_violation", Payload: string(payload), RiskMode: riskMode,
				})
			}
			return nil, err
		}
		args[key] = canon
		resolved = append(resolved, canon)
	}
	return resolved, nil
}

func extractHosts(tool Tool, args map[string]any) []string {
	if !tool.Network() {
		return nil
	}
	if raw, ok := args["url"].(string); ok {
		if h := hostOf(raw); h != "" {
			return []string{h}
		}
	}
	if raw, ok := args["host"].(string); ok && raw != "" {
		return []string{raw}
	}
	return nil
}

// awaitApproval creates the approval, parks the step, and blocks until the
// decision lands. An approval timeout surfaces as KindApproval so the
// executor can fail the step with reason approval_timeout.
func (b *Broker) awaitApproval(ctx context.Context, tool Tool, paths, hosts []string, step *store.Step, riskMode string) error {
	// A restart may leave a still-pending approval behind; re-await it
	// rather than minting a duplicate.
	var ap *store.Approval
	if step != nil {
		existing, err := b.store.PendingApprovalForStep(ctx, step.ID)
		if err != nil {
			return err
		}
		ap = existing
	}
	if ap == nil {
		pathsJSON, _ := json.Marshal(paths)
		hostsJSON, _ := json.Marshal(hosts)
		ap = &store.Approval{
			Tool:  tool.Name(),
			Paths: string(pathsJSON),
			Hosts: string(hostsJSON),
		}
		if step != nil {
			ap.GoalID = step.GoalID
			ap.StepID = step.ID
		}
		if err := b.approvals.Create(ctx, ap); err != nil {
			return err
		}
	}
	if step != nil {
		if err := b.store.MarkStepAwaitingApproval(ctx, step.ID, ap.ID, riskMode); err != nil {
			return err
		}
		if err := b.store.TransitionGoal(ctx, step.GoalID, store.GoalAwaitingApproval, "", riskMode); err != nil {
			return err
		}
		b.store.SuspendSession(ctx, step.GoalID, "awaiting_approval:"+ap.ID)
	}

	decision, err := b.approvals.Await(ctx, ap.ID)
	if err != nil {
		return err
	}

	if step != nil {
		if err := b.store.TransitionGoal(ctx, step.GoalID, store.GoalRunning, "", riskMode); err != nil {
			return err
		}
	}

	switch decision {
	case store.DecisionApproved:
		if step != nil {
			return b.store.ResumeStep(ctx, step.ID, riskMode)
		}
		return nil
	case store.DecisionTimeout:
		return titanerr.New(titanerr.KindApproval, "broker.awaitApproval", "approval_timeout")
	default:
		return titanerr.New(titanerr.KindApproval, "broker.awaitApproval",
			"approval "+ap.ID+" denied")
	}
}

func (b *Broker) acquireClass(ctx context.Context, class string) (func(), error) {
	sem, ok := b.classes[class]
	if !ok {
		return func() {}, nil
	}
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, titanerr.Wrap(titanerr.KindTransient, "broker.acquireClass", "cancelled acquiring "+class+" slot", ctx.Err())
	}
}

func (b *Broker) lockPaths(paths []string) func() {
	b.mu.Lock()
	var locks []*sync.Mutex
	for _, p := range paths {
		m, ok := b.pathMu[p]
		if !ok {
			m = &sync.Mutex{}
			b.pathMu[p] = m
		}
		locks = append(locks, m)
	}
	b.mu.Unlock()
	for _, m := range locks {
		m.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func encodeOutput(raw any, max int) (string, bool) {
	b, err := json.Marshal(raw)
	if err != nil {
		b = []byte(fmt.Sprintf("%q", fmt.Sprint(raw)))
	}
	if len(b) > max {
		truncated := string(b[:max])
		out, _ := json.Marshal(map[string]any{"truncated": true, "bytes": len(b), "head": truncated})
		return string(out), true
	}
	return string(b), false
}

var redactedKeys = []string{"secret", "token", "password", "credential", "api_key", "passphrase"}

func redactArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		lower := strings.ToLower(k)
		redacted := false
		for _, needle := range redactedKeys {
			if strings.Contains(lower, needle) {
				out[k] = "[redacted]"
				redacted = true
				break
			}
		}
		if !redacted {
			out[k] = v
		}
	}
	return out
}

func (b *Broker) trace(ctx context.Context, tool Tool, args map[string]any, step *store.Step, riskMode string, elapsed time.Duration, capped bool, execErr error) {
	if step == nil {
		return
	}
	payload := map[string]any{
		"tool":        tool.Name(),
		"class":       tool.Class(),
		"args":        redactArgs(args),
		"duration_ms": elapsed.Milliseconds(),
		"truncated":   capped,
	}
	if execErr != nil {
		payload["error"] = execErr.Error()
	} else {
		payload["ok"] = true
	}
	body, _ := json.Marshal(payload)
	if err := b.store.AppendTrace(ctx, &store.TraceEvent{
		GoalID: step.GoalID, StepID: step.ID,
		Kind: "tool_invocation", Payload: string(body), RiskMode: riskMode,
	}); err != nil {
		b.log.Warn("trace write failed", map[string]interface{}{"error": err.Error()})
	}
}
