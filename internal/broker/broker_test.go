package broker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

type testRig struct {
	broker *Broker
	store  *store.Store
	queue  *approval.Queue
	guard  *pathguard.Guard
	mode   string
}

func newRig(t *testing.T, mode string) *testRig {
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
	queue := approval.New(s, log, time.Minute)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	rig := &testRig{store: s, queue: queue, guard: guard, mode: mode}
	rig.broker = New(guard, pol, queue, s, log, DefaultLimits(), func() string { return rig.mode })
	if err := rig.broker.RegisterBuiltins([]string{"echo", "true"}, []string{"example.com"}); err != nil {
		t.Fatal(err)
	}
	return rig
}

func (r *testRig) mkStep(t *testing.T, tool, class string, args map[string]any) *store.Step {
	t.Helper()
	ctx := context.Background()
	g := &store.Goal{Description: "test goal", Origin: "test"}
	if err := r.store.CreateGoal(ctx, g); err != nil {
		t.Fatal(err)
	}
	r.store.TransitionGoal(ctx, g.ID, store.GoalPlanning, "", "secure")

	argsJSON, _ := json.Marshal(args)
	plan := &store.Plan{GoalID: g.ID, Candidates: "[]", SelectedID: "x"}
	steps := []*store.Step{{Ordinal: 0, Tool: tool, Args: string(argsJSON), Class: class}}
	if err := r.store.PersistRunBundle(ctx, plan, steps, nil, nil); err != nil {
		t.Fatal(err)
	}
	r.store.TransitionGoal(ctx, g.ID, store.GoalRunning, "", "secure")
	loaded, err := r.store.StepsForGoal(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	return loaded[0]
}

func TestReadToolRunsWithoutApprovalInCollaborative(t *testing.T) {
	rig := newRig(t, policy.ModeCollaborative)
	ctx := context.Background()

	os.WriteFile(filepath.Join(rig.guard.Root(), "hello.txt"), []byte("hi"), 0o644)
	step := rig.mkStep(t, "read", store.ClassRead, map[string]any{"path": "hello.txt"})

	result, err := rig.broker.ExecuteStep(ctx, step)
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if result.Output != `"hi"` {
		t.Errorf("output = %q, want \"hi\"", result.Output)
	}
	approvals, _ := rig.store.ListApprovals(ctx, false)
	if len(approvals) != 0 {
		t.Errorf("READ in collaborative created %d approvals, want 0", len(approvals))
	}
}

func TestPathEscapeFailsBeforeExecution(t *testing.T) {
	rig := newRig(t, policy.ModeAutonomous)
	step := rig.mkStep(t, "read", store.ClassRead, map[string]any{"path": "../../etc/passwd"})

	_, err := rig.broker.ExecuteStep(context.Background(), step)
	if !titanerr.Is(err, titanerr.KindSandbox) {
		t.Fatalf("escape: got %v, want sandbox error", err)
	}

	traces, _ := rig.store.TracesForGoal(context.Background(), step.GoalID)
	found := false
	for _, tr := range traces {
		if tr.Kind == "workspace_violation" {
			found = true
			if !contains(tr.Payload, "../../etc/passwd") {
				t.Errorf("violation trace lacks raw input: %s", tr.Payload)
			}
		}
	}
	if !found {
		t.Error("no workspace_violation trace recorded")
	}
}

func TestSchemaValidationRejectsBadArgs(t *testing.T) {
	rig := newRig(t, policy.ModeAutonomous)
	step := rig.mkStep(t, "read", store.ClassRead, map[string]any{"wrong": "field"})

	_, err := rig.broker.ExecuteStep(context.Background(), step)
	if !titanerr.Is(err, titanerr.KindValidation) {
		t.Errorf("bad args: got %v, want validation error", err)
	}
}

func TestWriteGatedThenApproved(t *testing.T) {
	rig := newRig(t, policy.ModeCollaborative)
	ctx := context.Background()
	step := rig.mkStep(t, "write", store.ClassWrite, map[string]any{"path": "docs/readme.md", "content": "install steps"})

	done := make(chan error, 1)
	go func() {
		_, err := rig.broker.ExecuteStep(ctx, step)
		done <- err
	}()

	// The approval row appears with the canonical target path.
	var pending []*store.Approval
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pending, _ = rig.store.ListApprovals(ctx, true)
		if len(pending) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending approvals, want 1", len(pending))
	}
	if !contains(pending[0].Paths, "docs/readme.md") {
		t.Errorf("approval paths = %s, want docs/readme.md", pending[0].Paths)
	}

	if err := rig.queue.Resolve(ctx, pending[0].ID, "tester", store.DecisionApproved, ""); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("gated write failed after approval: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(rig.guard.Root(), "docs", "readme.md"))
	if err != nil || string(data) != "install steps" {
		t.Errorf("file content = %q, err=%v", data, err)
	}
}

func TestWriteDenied(t *testing.T) {
	rig := newRig(t, policy.ModeCollaborative)
	ctx := context.Background()
	step := rig.mkStep(t, "write", store.ClassWrite, map[string]any{"path": "a.txt", "content": "x"})

	done := make(chan error, 1)
	go func() {
		_, err := rig.broker.ExecuteStep(ctx, step)
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pending, _ := rig.store.ListApprovals(ctx, true)
		if len(pending) > 0 {
			rig.queue.Resolve(ctx, pending[0].ID, "tester", store.DecisionDenied, "no")
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	err := <-done
	if !titanerr.Is(err, titanerr.KindApproval) {
		t.Errorf("denied write: got %v, want approval error", err)
	}
	if _, statErr := os.Stat(filepath.Join(rig.guard.Root(), "a.txt")); !os.IsNotExist(statErr) {
		t.Error("denied write still touched the filesystem")
	}
}

func TestExecAllowlistEnforced(t *testing.T) {
	rig := newRig(t, policy.ModeAutonomous)
	ctx := context.Background()

	step := rig.mkStep(t, "exec", store.ClassExec, map[string]any{"argv": []any{"rm", "-rf", "/"}})
	_, err := rig.broker.ExecuteStep(ctx, step)
	if !titanerr.Is(err, titanerr.KindPolicy) {
		t.Errorf("non-allowlisted exec: got %v, want policy error", err)
	}

	step = rig.mkStep(t, "exec", store.ClassExec, map[string]any{"argv": []any{"echo", "hi"}})
	result, err := rig.broker.ExecuteStep(ctx, step)
	if err != nil {
		t.Fatalf("allowlisted exec: %v", err)
	}
	if !contains(result.Output, "hi") {
		t.Errorf("exec output = %s", result.Output)
	}
}

func TestHostAllowlistEnforced(t *testing.T) {
	rig := newRig(t, policy.ModeAutonomous)
	step := rig.mkStep(t, "http_get", store.ClassNet, map[string]any{"url": "https://evil.test/x"})

	_, err := rig.broker.ExecuteStep(context.Background(), step)
	if !titanerr.Is(err, titanerr.KindPolicy) {
		t.Errorf("non-allowlisted host: got %v, want policy error", err)
	}
}

func TestRedactArgs(t *testing.T) {
	got := redactArgs(map[string]any{"path": "x", "api_key": "sk-123", "TOKEN": "t"})
	if got["path"] != "x" {
		t.Error("plain arg redacted")
	}
	if got["api_key"] != "[redacted]" || got["TOKEN"] != "[redacted]" {
		t.Errorf("secrets leaked: %+v", got)
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
