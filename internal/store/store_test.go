package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "titan.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkGoal(t *testing.T, s *Store, desc string) *Goal {
	t.Helper()
	g := &Goal{Description: desc, Origin: "test", Channel: "terminal"}
	if err := s.CreateGoal(context.Background(), g); err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	return g
}

func TestCreateGoalRejectsEmptyDescription(t *testing.T) {
	s := newStore(t)
	err := s.CreateGoal(context.Background(), &Goal{Description: "  ", Origin: "test"})
	if !titanerr.Is(err, titanerr.KindValidation) {
		t.Errorf("empty description: got %v, want validation error", err)
	}
}

func TestDedupeKeyUniqueWhileLive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := &Goal{Description: "a", Origin: "test", DedupeKey: "k1"}
	if err := s.CreateGoal(ctx, first); err != nil {
		t.Fatal(err)
	}
	dup := &Goal{Description: "b", Origin: "test", DedupeKey: "k1"}
	if err := s.CreateGoal(ctx, dup); !titanerr.Is(err, titanerr.KindConflict) {
		t.Fatalf("duplicate live dedupe key: got %v, want conflict", err)
	}

	// Terminalize the first; the key becomes reusable.
	for _, state := range []string{GoalPlanning, GoalRunning, GoalDone} {
		if err := s.TransitionGoal(ctx, first.ID, state, "", "secure"); err != nil {
			t.Fatalf("transition to %s: %v", state, err)
		}
	}
	again := &Goal{Description: "c", Origin: "test", DedupeKey: "k1"}
	if err := s.CreateGoal(ctx, again); err != nil {
		t.Errorf("dedupe key after terminalization: %v", err)
	}
}

func TestGoalTransitionsMonotone(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	g := mkGoal(t, s, "transitions")

	if err := s.TransitionGoal(ctx, g.ID, GoalPlanning, "", "secure"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionGoal(ctx, g.ID, GoalPending, "", "secure"); !titanerr.Is(err, titanerr.KindConflict) {
		t.Errorf("backward transition: got %v, want conflict", err)
	}
	if err := s.TransitionGoal(ctx, g.ID, GoalRunning, "", "secure"); err != nil {
		t.Fatal(err)
	}
	// running <-> awaiting_approval is legal both ways
	if err := s.TransitionGoal(ctx, g.ID, GoalAwaitingApproval, "", "secure"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionGoal(ctx, g.ID, GoalRunning, "", "secure"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionGoal(ctx, g.ID, GoalFailed, "boom", "secure"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionGoal(ctx, g.ID, GoalDone, "", "secure"); !titanerr.Is(err, titanerr.KindConflict) {
		t.Errorf("transition after terminal: got %v, want conflict", err)
	}
}

func TestTraceSequenceMonotoneContiguous(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	g := mkGoal(t, s, "traces")

	for i := 0; i < 5; i++ {
		if err := s.AppendTrace(ctx, &TraceEvent{GoalID: g.ID, Kind: "test", Payload: "{}"}); err != nil {
			t.Fatal(err)
		}
	}
	traces, err := s.TracesForGoal(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(traces) != 5 {
		t.Fatalf("got %d traces, want 5", len(traces))
	}
	for i, tr := range traces {
		if tr.Seq != int64(i) {
			t.Errorf("trace %d has seq %d", i, tr.Seq)
		}
	}
}

func TestPersistRunBundleAndStepOutcomes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	g := mkGoal(t, s, "bundle")

	plan := &Plan{GoalID: g.ID, Candidates: "[]", SelectedID: "abc"}
	steps := []*Step{
		{Ordinal: 0, Tool: "ls", Args: "{}", Class: ClassRead},
		{Ordinal: 1, Tool: "write", Args: "{}", Class: ClassWrite},
	}
	if err := s.PersistRunBundle(ctx, plan, steps, []*TraceEvent{{Kind: "plan_selected", Payload: "{}"}}, nil); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.StepsForGoal(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[0].Ordinal != 0 || loaded[1].Ordinal != 1 {
		t.Fatalf("unexpected steps: %+v", loaded)
	}

	if err := s.MarkStepRunning(ctx, loaded[0].ID, "secure"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordStepOutcome(ctx, loaded[0].ID, StepOK, `"out"`, "", "secure"); err != nil {
		t.Fatal(err)
	}
	// second terminal write is rejected (idempotency guard)
	if err := s.RecordStepOutcome(ctx, loaded[0].ID, StepFailed, "", "dup", "secure"); !titanerr.Is(err, titanerr.KindConflict) {
		t.Errorf("duplicate outcome: got %v, want conflict", err)
	}
}

func TestClaimPendingApprovalIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ap := &Approval{Tool: "write", Deadline: time.Now().Add(time.Minute)}
	if err := s.CreateApproval(ctx, ap); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimPendingApproval(ctx, ap.ID, "alice", DecisionApproved, "ok"); err != nil {
		t.Fatal(err)
	}
	prev, err := s.ClaimPendingApproval(ctx, ap.ID, "bob", DecisionDenied, "race")
	if !titanerr.Is(err, titanerr.KindConflict) {
		t.Fatalf("second claim: got %v, want conflict", err)
	}
	if prev != DecisionApproved {
		t.Errorf("previous decision = %q, want approved", prev)
	}

	got, err := s.GetApproval(ctx, ap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Decision != DecisionApproved || got.Resolver != "alice" {
		t.Errorf("approval mutated by losing claim: %+v", got)
	}
}

func TestReplaceSuffixKeepsTerminalSteps(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	g := mkGoal(t, s, "replan")

	plan := &Plan{GoalID: g.ID, Candidates: "[]", SelectedID: "abc"}
	steps := []*Step{
		{Ordinal: 0, Tool: "ls", Args: "{}", Class: ClassRead},
		{Ordinal: 1, Tool: "write", Args: "{}", Class: ClassWrite},
		{Ordinal: 2, Tool: "grep", Args: "{}", Class: ClassRead},
	}
	if err := s.PersistRunBundle(ctx, plan, steps, nil, nil); err != nil {
		t.Fatal(err)
	}
	loaded, _ := s.StepsForGoal(ctx, g.ID)
	s.MarkStepRunning(ctx, loaded[0].ID, "secure")
	s.RecordStepOutcome(ctx, loaded[0].ID, StepOK, "{}", "", "secure")

	replacement := []*Step{{Tool: "read", Args: "{}", Class: ClassRead}}
	if err := s.ReplaceSuffix(ctx, g.ID, 1, replacement, "secure"); err != nil {
		t.Fatal(err)
	}

	after, _ := s.StepsForGoal(ctx, g.ID)
	if len(after) != 2 {
		t.Fatalf("got %d steps after replan, want 2", len(after))
	}
	if after[0].State != StepOK {
		t.Error("completed step was rewritten by replan")
	}
	if after[1].Tool != "read" || after[1].Ordinal != 1 {
		t.Errorf("replacement step wrong: %+v", after[1])
	}
}

func TestJobsAndRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := &Job{Name: "nightly", Kind: ScheduleInterval, Value: "15s", Template: "scan workspace", Enabled: true}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	run := &JobRun{JobID: job.ID, Status: "running"}
	if err := s.CreateJobRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishJobRunWithGoal(ctx, run.ID, "goal-1", "done", ""); err != nil {
		t.Fatal(err)
	}
	runs, err := s.RunsForJob(ctx, job.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].GoalID != "goal-1" || runs[0].FinishedAt == nil {
		t.Errorf("unexpected run record: %+v", runs[0])
	}
}

func TestSessionSingleLivePerGoal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	g := mkGoal(t, s, "sessions")

	if _, err := s.OpenSession(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenSession(ctx, g.ID); err == nil {
		t.Error("second live session for one goal was allowed")
	}
	if err := s.CloseSession(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenSession(ctx, g.ID); err != nil {
		t.Errorf("open after close: %v", err)
	}
}

func TestFactsAppendOnlyVersioning(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.AppendFact(ctx, &Fact{Topic: "deploy", Content: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendFact(ctx, &Fact{Topic: "deploy", Content: "v2"}); err != nil {
		t.Fatal(err)
	}
	latest, err := s.FactsForTopic(ctx, "deploy", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].Version != 2 || latest[0].Content != "v2" {
		t.Errorf("latest fact wrong: %+v", latest)
	}
	all, _ := s.FactsForTopic(ctx, "deploy", true)
	if len(all) != 2 {
		t.Errorf("got %d versions, want 2", len(all))
	}
}
