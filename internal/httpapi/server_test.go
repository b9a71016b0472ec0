package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/gateway"
	"github.com/Djtony707/TITAN/internal/llm"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/planner"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/runexec"
	"github.com/Djtony707/TITAN/internal/scheduler"
	"github.com/Djtony707/TITAN/internal/store"
)

func newServer(t *testing.T) (*Server, *store.Store, *approval.Queue) {
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
	pol, _ := policy.New(policy.DefaultRules(), risk, log)
	queue := approval.New(s, log, time.Minute)
	mode := func() string { return policy.ModeCollaborative }
	bk := broker.New(guard, pol, queue, s, log, broker.DefaultLimits(), mode)
	bk.RegisterBuiltins(nil, nil)
	pl := planner.New(llm.NullProvider{}, s, log)
	notifier := gateway.NewNotifier(s, log)
	exec := runexec.New(s, pl, bk, pol, notifier, log, mode)
	gw := gateway.New(s, exec, queue, notifier, log)
	sched := scheduler.New(s, gw, log, 2)
	return New(s, gw, sched, log), s, queue
}

func TestRefusesNonLoopbackBind(t *testing.T) {
	srv, _, _ := newServer(t)
	err := srv.ListenAndServe(context.Background(), "0.0.0.0:7711")
	if err == nil {
		t.Fatal("bound a non-loopback address")
	}
}

func serveOnce(t *testing.T, srv *Server, port int) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.ListenAndServe(ctx, addr)

	base := "http://" + addr
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := http.Get(base + "/goals"); err == nil {
			resp.Body.Close()
			return base
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("server never came up")
	return ""
}

func TestGoalAndApprovalEndpoints(t *testing.T) {
	srv, s, _ := newServer(t)
	base := serveOnce(t, srv, 17711)
	ctx := context.Background()

	goal := &store.Goal{Description: "scan workspace", Origin: "http"}
	if err := s.CreateGoal(ctx, goal); err != nil {
		t.Fatal(err)
	}
	s.AppendTrace(ctx, &store.TraceEvent{GoalID: goal.ID, Kind: "test", Payload: "{}"})

	resp, err := http.Get(base + "/goals")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var goals []store.Goal
	if err := json.NewDecoder(resp.Body).Decode(&goals); err != nil {
		t.Fatal(err)
	}
	if len(goals) != 1 || goals[0].ID != goal.ID {
		t.Errorf("listing wrong: %+v", goals)
	}

	tr, err := http.Get(fmt.Sprintf("%s/goals/%s/traces", base, goal.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Body.Close()
	var traces []store.TraceEvent
	json.NewDecoder(tr.Body).Decode(&traces)
	if len(traces) != 1 {
		t.Errorf("got %d traces, want 1", len(traces))
	}

	missing, _ := http.Get(base + "/goals/nope")
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing goal = %d, want 404", missing.StatusCode)
	}
	missing.Body.Close()
}

func TestApproveEndpointSharesResolverPath(t *testing.T) {
	srv, s, _ := newServer(t)
	base := serveOnce(t, srv, 17712)
	ctx := context.Background()

	ap := &store.Approval{Tool: "write", Deadline: time.Now().Add(time.Minute)}
	if err := s.CreateApproval(ctx, ap); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/approvals/%s/approve", base, ap.ID), "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve = %d", resp.StatusCode)
	}

	// losing race returns a conflict, not a double write
	again, _ := http.Post(fmt.Sprintf("%s/approvals/%s/deny", base, ap.ID), "application/json", nil)
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second decision = %d, want 409", again.StatusCode)
	}

	row, _ := s.GetApproval(ctx, ap.ID)
	if row.Decision != store.DecisionApproved || row.Resolver != "web" {
		t.Errorf("row = %+v", row)
	}
}

func TestJobPauseResumeEndpoints(t *testing.T) {
	srv, s, _ := newServer(t)
	base := serveOnce(t, srv, 17713)
	ctx := context.Background()

	job := &store.Job{Name: "nightly", Kind: store.ScheduleInterval, Value: "1h", Template: "tick", Enabled: true}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	resp, _ := http.Post(fmt.Sprintf("%s/jobs/%s/pause", base, job.ID), "application/json", nil)
	resp.Body.Close()
	got, _ := s.GetJob(ctx, job.ID)
	if got.Enabled {
		t.Error("pause did not disable the job")
	}

	resp, _ = http.Post(fmt.Sprintf("%s/jobs/%s/resume", base, job.ID), "application/json", nil)
	resp.Body.Close()
	got, _ = s.GetJob(ctx, job.ID)
	if !got.Enabled {
		t.Error("resume did not enable the job")
	}
}
