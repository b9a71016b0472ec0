// Package runexec drives a goal through its state machine: planning, the
// per-step broker loop with retries and bounded replans, approval
// suspension, cancellation, terminalization, and crash resume.
package runexec

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/planner"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Notifier delivers a terminal-state message back to the goal's originating
// channel. The gateway supplies the implementation.
type Notifier interface {
	Notify(ctx context.Context, goal *store.Goal, message string) error
}

// Defaults for retry and replan budgets.
const (
	defaultMaxRetries  = 2
	defaultReplans     = 1
	backoffBase        = 500 * time.Millisecond
	backoffCap         = 15 * time.Second
)

// Executor owns the goal queue and the per-goal worker tasks.
type Executor struct {
	store    *store.Store
	planner  *planner.Planner
	broker   *broker.Broker
	policy   *policy.Engine
	notifier Notifier
	log      *logging.Logger
	mode     func() string

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
}

// New wires the executor. notifier may be nil for tests.
func New(s *store.Store, p *planner.Planner, b *broker.Broker, pol *policy.Engine, n Notifier, log *logging.Logger, mode func() string) *Executor {
	return &Executor{
		store:    s,
		planner:  p,
		broker:   b,
		policy:   pol,
		notifier: n,
		log:      log,
		mode:     mode,
		queue:    make(chan string, 64),
		inFlight: make(map[string]bool),
	}
}

// Start launches the worker pool. Each goal runs as one logical task that
// owns its state and suspends only at declared points.
func (e *Executor) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case goalID := <-e.queue:
					e.runGoal(ctx, goalID)
					e.mu.Lock()
					delete(e.inFlight, goalID)
					e.mu.Unlock()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Pickup loop: goals submitted by another process (the CLI writing
	// straight to the store) land as pending rows; sweep them in.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pending, err := e.store.ListGoals(ctx, store.GoalPending, 50)
				if err != nil {
					continue
				}
				for _, g := range pending {
					e.Submit(g.ID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the workers exit.
func (e *Executor) Wait() { e.wg.Wait() }

// Submit enqueues a goal for execution. Duplicate submissions of an
// in-flight goal are dropped.
func (e *Executor) Submit(goalID string) {
	e.mu.Lock()
	if e.inFlight[goalID] {
		e.mu.Unlock()
		return
	}
	e.inFlight[goalID] = true
	e.mu.Unlock()
	select {
	case e.queue <- goalID:
	default:
		e.mu.Lock()
		delete(e.inFlight, goalID)
		e.mu.Unlock()
	}
}

// Cancel requests cooperative cancellation: the flag is observed at the
// next step boundary; the running tool finishes its bounded timeout first.
// Cancel is idempotent.
func (e *Executor) Cancel(ctx context.Context, goalID string) error {
	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if store.GoalTerminal(goal.State) {
		return nil
	}
	return e.store.RequestCancel(ctx, goalID)
}

// Resume scans non-terminal goals after a restart and re-enqueues each as a
// continuation: previously-terminal steps are never re-executed, and a step
// parked on a still-pending approval re-awaits it.
func (e *Executor) Resume(ctx context.Context) error {
	goals, err := e.store.NonTerminalGoals(ctx)
	if err != nil {
		return err
	}
	for _, g := range goals {
		e.log.Info("resuming goal", map[string]interface{}{"goal_id": g.ID, "state": g.State})
		e.store.AppendTrace(ctx, &store.TraceEvent{
			GoalID: g.ID, Kind: "resume",
			Payload:  fmt.Sprintf(`{"from_state":"%s"}`, g.State),
			RiskMode: e.policy.RiskMode(ctx),
		})
		e.Submit(g.ID)
	}
	return nil
}

func (e *Executor) runGoal(ctx context.Context, goalID string) {
	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		e.log.Error("load goal failed", map[string]interface{}{"goal_id": goalID, "error": err.Error()})
		return
	}
	if store.GoalTerminal(goal.State) {
		return
	}
	risk := e.policy.RiskMode(ctx)

	goalCtx := ctx
	var cancel context.CancelFunc
	if goal.TimeoutSec > 0 {
		goalCtx, cancel = context.WithTimeout(ctx, time.Duration(goal.TimeoutSec)*time.Second)
		defer cancel()
	}
	goalCtx, span := startGoalSpan(goalCtx, goal)
	defer span.End()

	if goal.State == store.GoalPending {
		if err := e.plan(goalCtx, goal, risk); err != nil {
			e.terminalize(ctx, goal, store.GoalFailed, err.Error())
			return
		}
	}

	e.executeSteps(goalCtx, goal)
}

// plan runs the planner and persists the full run bundle atomically.
func (e *Executor) plan(ctx context.Context, goal *store.Goal, risk string) error {
	if err := e.store.TransitionGoal(ctx, goal.ID, store.GoalPlanning, "", risk); err != nil {
		return err
	}
	plan, steps, err := e.planner.Plan(ctx, goal)
	if err != nil {
		return err
	}
	candCount := strings.Count(plan.Candidates, `"digest"`)
	traces := []*store.TraceEvent{{
		Kind:     "plan_selected",
		Payload:  fmt.Sprintf(`{"selected":"%s","candidates":%d}`, plan.SelectedID, candCount),
		RiskMode: risk,
	}}
	if err := e.store.PersistRunBundle(ctx, plan, steps, traces, nil); err != nil {
		return err
	}
	if _, err := e.store.OpenSession(ctx, goal.ID); err != nil {
		// a live session may already exist from a previous run
		if !titanerr.Is(err, titanerr.KindConflict) && !strings.Contains(err.Error(), "idx_sessions_live") &&
			!strings.Contains(err.Error(), "sessions.goal_id") {
			return err
		}
	}
	return e.store.TransitionGoal(ctx, goal.ID, store.GoalRunning, "", risk)
}

// executeSteps walks the goal's steps in ordinal order from the first
// non-terminal one. Trace emission and step execution stay strictly
// sequential within the goal.
func (e *Executor) executeSteps(ctx context.Context, goal *store.Goal) {
	replansLeft := defaultReplans

	for {
		steps, err := e.store.StepsForGoal(ctx, goal.ID)
		if err != nil {
			e.terminalize(ctx, goal, store.GoalFailed, err.Error())
			return
		}
		next := firstOpenStep(steps)
		if next == nil {
			e.terminalize(ctx, goal, store.GoalDone, "")
			return
		}

		// Cancellation is observed at every step boundary.
		if cancelled, _ := e.store.CancelRequested(ctx, goal.ID); cancelled {
			risk := e.policy.RiskMode(ctx)
			for _, st := range steps {
				if !store.StepTerminal(st.State) {
					e.store.RecordStepOutcome(ctx, st.ID, store.StepSkipped, "", "goal cancelled", risk)
				}
			}
			e.terminalize(ctx, goal, store.GoalCancelled, "")
			return
		}

		e.store.AdvanceSession(ctx, goal.ID, next.Ordinal)

		outcome := e.executeStep(ctx, goal, next)
		if outcome.kind != stepDone {
			// A cancel requested while the step ran wins over its failure.
			if cancelled, _ := e.store.CancelRequested(ctx, goal.ID); cancelled {
				risk := e.policy.RiskMode(ctx)
				for _, st := range steps {
					if st.ID != next.ID && !store.StepTerminal(st.State) {
						e.store.RecordStepOutcome(ctx, st.ID, store.StepSkipped, "", "goal cancelled", risk)
					}
				}
				e.terminalize(ctx, goal, store.GoalCancelled, "")
				return
			}
		}
		switch outcome.kind {
		case stepDone:
			continue
		case stepFailedReplan:
			if replansLeft > 0 {
				replansLeft--
				if e.replan(ctx, goal, next) {
					continue
				}
			}
			e.terminalize(ctx, goal, store.GoalFailed, outcome.reason)
			return
		case stepFailedTerminal:
			e.terminalize(ctx, goal, store.GoalFailed, outcome.reason)
			return
		case stepAborted:
			e.terminalize(ctx, goal, store.GoalFailed, outcome.reason)
			return
		}
	}
}

type stepOutcomeKind int

const (
	stepDone stepOutcomeKind = iota
	stepFailedReplan
	stepFailedTerminal
	stepAborted
)

type stepOutcome struct {
	kind   stepOutcomeKind
	reason string
}

// executeStep runs one step through the broker with retry and backoff.
func (e *Executor) executeStep(ctx context.Context, goal *store.Goal, step *store.Step) stepOutcome {
	maxRetries := goal.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	ctx, span := startStepSpan(ctx, step)
	defer span.End()

	for attempt := step.Attempts; ; attempt++ {
		risk := e.policy.RiskMode(ctx)
		if err := e.store.MarkStepRunning(ctx, step.ID, risk); err != nil {
			return stepOutcome{kind: stepAborted, reason: err.Error()}
		}

		result, err := e.broker.ExecuteStep(ctx, step)
		if err == nil {
			if err := e.store.RecordStepOutcome(ctx, step.ID, store.StepOK, result.Output, "", risk); err != nil {
				return stepOutcome{kind: stepAborted, reason: err.Error()}
			}
			// MarkStepRunning bumped the stored counter once per attempt.
			step.Attempts = attempt + 1
			e.reconcile(ctx, goal, step, result)
			return stepOutcome{kind: stepDone}
		}

		endSpanError(span, err)
		switch classify(err) {
		case retryTransient:
			if attempt < maxRetries {
				e.store.RecordStepOutcome(ctx, step.ID, store.StepQueued, "", err.Error(), risk)
				sleepBackoff(ctx, attempt)
				continue
			}
			e.store.RecordStepOutcome(ctx, step.ID, store.StepFailed, "", err.Error(), risk)
			return stepOutcome{kind: stepFailedReplan, reason: err.Error()}
		case failApprovalTimeout:
			e.store.RecordStepOutcome(ctx, step.ID, store.StepFailed, "", "approval_timeout", risk)
			return stepOutcome{kind: stepFailedTerminal, reason: "approval_timeout"}
		case failPolicy:
			e.store.RecordStepOutcome(ctx, step.ID, store.StepFailed, "", err.Error(), risk)
			return stepOutcome{kind: stepFailedTerminal, reason: err.Error()}
		case failSandbox:
			e.store.RecordStepOutcome(ctx, step.ID, store.StepFailed, "", err.Error(), risk)
			return stepOutcome{kind: stepFailedTerminal, reason: err.Error()}
		default:
			e.store.RecordStepOutcome(ctx, step.ID, store.StepFailed, "", err.Error(), risk)
			return stepOutcome{kind: stepFailedReplan, reason: err.Error()}
		}
	}
}

type errClass int

const (
	retryTransient errClass = iota
	failApprovalTimeout
	failPolicy
	failSandbox
	failPermanent
)

func classify(err error) errClass {
	switch {
	case titanerr.Is(err, titanerr.KindTransient):
		return retryTransient
	case titanerr.Is(err, titanerr.KindApproval):
		if strings.Contains(err.Error(), "approval_timeout") {
			return failApprovalTimeout
		}
		return failPolicy
	case titanerr.Is(err, titanerr.KindPolicy):
		return failPolicy
	case titanerr.Is(err, titanerr.KindSandbox):
		return failSandbox
	default:
		return failPermanent
	}
}

func sleepBackoff(ctx context.Context, attempt int) {
	d := backoffBase * time.Duration(1<<attempt)
	if d > backoffCap {
		d = backoffCap
	}
	d += time.Duration(rand.Int63n(int64(d) / 4))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// replan regenerates the suffix after a failed step, bounded by the
// per-goal replan budget. Completed steps stay untouched.
func (e *Executor) replan(ctx context.Context, goal *store.Goal, failed *store.Step) bool {
	suffix, err := e.planner.PlanSuffix(ctx, goal, failed)
	if err != nil {
		return false
	}
	// The first suffix spec duplicates the failed ordinal, which stays in
	// place as the audit record; only what follows it is replaceable.
	if len(suffix) < 2 {
		return false
	}
	replacement := suffix[1:]
	risk := e.policy.RiskMode(ctx)
	if err := e.store.ReplaceSuffix(ctx, goal.ID, failed.Ordinal+1, replacement, risk); err != nil {
		e.log.Warn("replan persist failed", map[string]interface{}{"goal_id": goal.ID, "error": err.Error()})
		return false
	}
	return true
}

func firstOpenStep(steps []*store.Step) *store.Step {
	for _, st := range steps {
		if !store.StepTerminal(st.State) {
			return st
		}
	}
	return nil
}

// terminalize writes the final goal state, the episodic memory row, the
// summary trace, and notifies the originating channel — then closes the
// session.
func (e *Executor) terminalize(ctx context.Context, goal *store.Goal, state, errMsg string) {
	risk := e.policy.RiskMode(ctx)
	if err := e.store.TransitionGoal(ctx, goal.ID, state, errMsg, risk); err != nil {
		e.log.Error("terminalize failed", map[string]interface{}{"goal_id": goal.ID, "error": err.Error()})
		return
	}

	summary := summaryFor(goal, state, errMsg)
	e.store.WriteEpisode(ctx, &store.Episode{GoalID: goal.ID, Summary: summary, Outcome: state})

	payload, _ := json.Marshal(map[string]any{"state": state, "summary": summary})
	e.store.AppendTrace(ctx, &store.TraceEvent{
		GoalID: goal.ID, Kind: "goal_summary", Payload: string(payload), RiskMode: risk,
	})
	e.store.CloseSession(ctx, goal.ID)

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, goal, summary); err != nil {
			e.log.Warn("notify failed", map[string]interface{}{"goal_id": goal.ID, "error": err.Error()})
		}
	}
	e.log.Info("goal terminal", map[string]interface{}{"goal_id": goal.ID, "state": state})
}

func summaryFor(goal *store.Goal, state, errMsg string) string {
	desc := goal.Description
	if len(desc) > 120 {
		desc = desc[:120] + "..."
	}
	if errMsg != "" {
		return fmt.Sprintf("%s: %q (%s)", state, desc, errMsg)
	}
	return fmt.Sprintf("%s: %q", state, desc)
}
