package runexec

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/llm"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/planner"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/store"
)

type execRig struct {
	executor *Executor
	store    *store.Store
	queue    *approval.Queue
	guard    *pathguard.Guard
	mode     string
	ttl      time.Duration
}

func newExecRig(t *testing.T, mode string, ttl time.Duration) *execRig {
	t.Helper()
	log := logging.New("test")

	guard, err := pathguard.New(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "titan.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	risk := policy.NewStoreRiskState(s, time.Hour)
	pol, err := policy.New(policy.DefaultRules(), risk, log)
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	queue := approval.New(s, log, ttl)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	rig := &execRig{store: s, queue: queue, guard: guard, mode: mode, ttl: ttl}
	modeFn := func() string { return rig.mode }
	bk := broker.New(guard, pol, queue, s, log, broker.DefaultLimits(), modeFn)
	if err := bk.RegisterBuiltins(nil, []string{"*"}); err != nil {
		t.Fatal(err)
	}
	pl := planner.New(llm.NullProvider{}, s, log)
	rig.executor = New(s, pl, bk, pol, nil, log, modeFn)
	return rig
}

func (r *execRig) submit(t *testing.T, desc string) *store.Goal {
	t.Helper()
	g := &store.Goal{Description: desc, Origin: "test", Channel: "terminal"}
	if err := r.store.CreateGoal(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	return g
}

func (r *execRig) awaitTerminal(t *testing.T, goalID string, timeout time.Duration) *store.Goal {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		g, err := r.store.GetGoal(context.Background(), goalID)
		if err != nil {
			t.Fatal(err)
		}
		if store.GoalTerminal(g.State) {
			return g
		}
		time.Sleep(25 * time.Millisecond)
	}
	g, _ := r.store.GetGoal(context.Background(), goalID)
	t.Fatalf("goal %s never terminalized (state %s)", goalID, g.State)
	return nil
}

// S1: a read-only goal in collaborative+secure completes with no approval
// row and an episodic memory entry.
func TestReadOnlyGoalCompletesWithoutApproval(t *testing.T) {
	rig := newExecRig(t, policy.ModeCollaborative, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx, 1)

	goal := rig.submit(t, "scan workspace")
	rig.executor.Submit(goal.ID)
	final := rig.awaitTerminal(t, goal.ID, 10*time.Second)

	if final.State != store.GoalDone {
		t.Fatalf("goal state = %s (%s), want done", final.State, final.Error)
	}

	steps, _ := rig.store.StepsForGoal(ctx, goal.ID)
	if len(steps) == 0 {
		t.Fatal("no steps persisted")
	}
	for _, st := range steps {
		if st.Class != store.ClassRead || st.State != store.StepOK {
			t.Errorf("step %d: class=%s state=%s", st.Ordinal, st.Class, st.State)
		}
	}

	approvals, _ := rig.store.ListApprovals(ctx, false)
	if len(approvals) != 0 {
		t.Errorf("read-only goal created %d approvals", len(approvals))
	}

	episodes, _ := rig.store.RecentEpisodes(ctx, 5)
	if len(episodes) != 1 || episodes[0].GoalID != goal.ID || episodes[0].Outcome != store.GoalDone {
		t.Errorf("episodic memory missing or wrong: %+v", episodes)
	}

	// Trace sequence is strictly increasing and contiguous from 0.
	traces, _ := rig.store.TracesForGoal(ctx, goal.ID)
	for i, tr := range traces {
		if tr.Seq != int64(i) {
			t.Fatalf("trace %d has seq %d", i, tr.Seq)
		}
	}
}

// S3: a gated WRITE goal with nobody deciding times out; the step fails
// with approval_timeout and the goal fails.
func TestApprovalTimeoutFailsGoal(t *testing.T) {
	rig := newExecRig(t, policy.ModeCollaborative, 300*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx, 1)

	goal := rig.submit(t, "update readme with install steps")
	rig.executor.Submit(goal.ID)
	final := rig.awaitTerminal(t, goal.ID, 15*time.Second)

	if final.State != store.GoalFailed {
		t.Fatalf("goal state = %s, want failed", final.State)
	}
	if final.Error != "approval_timeout" {
		t.Errorf("goal error = %q, want approval_timeout", final.Error)
	}

	approvals, _ := rig.store.ListApprovals(ctx, false)
	if len(approvals) == 0 {
		t.Fatal("no approval row")
	}
	if approvals[0].Decision != store.DecisionTimeout {
		t.Errorf("approval decision = %s, want timeout", approvals[0].Decision)
	}

	steps, _ := rig.store.StepsForGoal(ctx, goal.ID)
	foundFailed := false
	for _, st := range steps {
		if st.State == store.StepFailed {
			foundFailed = true
		}
	}
	if !foundFailed {
		t.Error("no failed step after approval timeout")
	}
}

// S2: the gated step runs once the approval is granted.
func TestWriteGoalCompletesAfterApproval(t *testing.T) {
	rig := newExecRig(t, policy.ModeCollaborative, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx, 1)

	// Approve everything that shows up.
	go func() {
		for ctx.Err() == nil {
			pending, _ := rig.store.ListApprovals(ctx, true)
			for _, ap := range pending {
				rig.queue.Resolve(ctx, ap.ID, "tester", store.DecisionApproved, "")
			}
			time.Sleep(25 * time.Millisecond)
		}
	}()

	goal := rig.submit(t, "update readme with install steps")
	rig.executor.Submit(goal.ID)
	final := rig.awaitTerminal(t, goal.ID, 15*time.Second)

	if final.State != store.GoalDone {
		t.Fatalf("goal state = %s (%s), want done", final.State, final.Error)
	}
	approvals, _ := rig.store.ListApprovals(ctx, false)
	if len(approvals) == 0 {
		t.Error("no approval was created for the gated write")
	}
}

func TestCancelIsIdempotentAndObserved(t *testing.T) {
	rig := newExecRig(t, policy.ModeCollaborative, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(ctx, 1)

	// The write goal blocks awaiting approval; cancel while blocked.
	goal := rig.submit(t, "update readme with install steps")
	rig.executor.Submit(goal.ID)

	// wait for the approval to appear, then cancel twice
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		pending, _ := rig.store.ListApprovals(ctx, true)
		if len(pending) > 0 {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err := rig.executor.Cancel(ctx, goal.ID); err != nil {
		t.Fatal(err)
	}
	if err := rig.executor.Cancel(ctx, goal.ID); err != nil {
		t.Fatal(err)
	}

	// Resolve the approval so the blocked step returns; the cancel flag is
	// then observed at the next step boundary.
	pending, _ := rig.store.ListApprovals(ctx, true)
	for _, ap := range pending {
		rig.queue.Resolve(ctx, ap.ID, "tester", store.DecisionDenied, "cancelling")
	}

	final := rig.awaitTerminal(t, goal.ID, 15*time.Second)
	if final.State != store.GoalFailed && final.State != store.GoalCancelled {
		t.Errorf("goal state after cancel = %s", final.State)
	}
}

// Crash-resume: terminal steps are not re-executed after a restart.
func TestResumeSkipsCompletedSteps(t *testing.T) {
	rig := newExecRig(t, policy.ModeAutonomous, 0)
	ctx := context.Background()

	goal := rig.submit(t, "scan workspace")
	// Simulate a previous process: plan persisted, first step completed,
	// goal left running.
	rig.store.TransitionGoal(ctx, goal.ID, store.GoalPlanning, "", "secure")
	pl := planner.New(llm.NullProvider{}, rig.store, logging.New("test"))
	plan, steps, err := pl.Plan(ctx, goal)
	if err != nil {
		t.Fatal(err)
	}
	if err := rig.store.PersistRunBundle(ctx, plan, steps, nil, nil); err != nil {
		t.Fatal(err)
	}
	rig.store.TransitionGoal(ctx, goal.ID, store.GoalRunning, "", "secure")
	persisted, _ := rig.store.StepsForGoal(ctx, goal.ID)
	rig.store.MarkStepRunning(ctx, persisted[0].ID, "secure")
	rig.store.RecordStepOutcome(ctx, persisted[0].ID, store.StepOK, `"previous result"`, "", "secure")

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rig.executor.Start(runCtx, 1)
	if err := rig.executor.Resume(runCtx); err != nil {
		t.Fatal(err)
	}

	final := rig.awaitTerminal(t, goal.ID, 10*time.Second)
	if final.State != store.GoalDone {
		t.Fatalf("resumed goal state = %s (%s)", final.State, final.Error)
	}
	after, _ := rig.store.StepsForGoal(ctx, goal.ID)
	if after[0].Result != `"previous result"` {
		t.Error("completed step was re-executed on resume")
	}
}
