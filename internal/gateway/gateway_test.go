package gateway

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
	"github.com/Djtony707/TITAN/internal/runexec"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

func newGateway(t *testing.T) (*Gateway, *store.Store) {
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
	mode := func() string { return policy.ModeAutonomous }
	bk := broker.New(guard, pol, queue, s, log, broker.DefaultLimits(), mode)
	if err := bk.RegisterBuiltins(nil, nil); err != nil {
		t.Fatal(err)
	}
	pl := planner.New(llm.NullProvider{}, s, log)
	notifier := NewNotifier(s, log)
	notifier.RegisterDefaultChannels()
	exec := runexec.New(s, pl, bk, pol, notifier, log, mode)
	return New(s, exec, queue, notifier, log), s
}

func TestIngestGoalSubmission(t *testing.T) {
	gw, s := newGateway(t)

	goalID, err := gw.Ingest(context.Background(), Event{
		Origin: "cli", ChannelTarget: "cli:stdout", ActorID: "me",
		PayloadKind: KindGoalSubmission,
		Payload:     Payload{Description: "scan workspace"},
	})
	if err != nil {
		t.Fatal(err)
	}
	goal, err := s.GetGoal(context.Background(), goalID)
	if err != nil {
		t.Fatal(err)
	}
	if goal.Origin != "cli" || goal.State != store.GoalPending {
		t.Errorf("unexpected goal: %+v", goal)
	}
}

func TestIngestRejectsEmptyGoalText(t *testing.T) {
	gw, _ := newGateway(t)
	_, err := gw.Ingest(context.Background(), Event{
		Origin: "cli", PayloadKind: KindGoalSubmission,
		Payload: Payload{Description: "   "},
	})
	if !titanerr.Is(err, titanerr.KindValidation) {
		t.Errorf("empty goal: got %v, want validation error", err)
	}
}

func TestIngestUnknownKind(t *testing.T) {
	gw, _ := newGateway(t)
	_, err := gw.Ingest(context.Background(), Event{PayloadKind: "mystery"})
	if !titanerr.Is(err, titanerr.KindValidation) {
		t.Errorf("unknown kind: got %v, want validation error", err)
	}
}

func TestSubmitJobGoalShapesEvent(t *testing.T) {
	gw, s := newGateway(t)

	job := &store.Job{Name: "nightly", Kind: store.ScheduleInterval, Value: "1h", Template: "scan workspace", Enabled: true}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	goalID, err := gw.SubmitJobGoal(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	goal, _ := s.GetGoal(context.Background(), goalID)
	if goal.Origin != "scheduler" || goal.Channel != "scheduler:nightly" || goal.Description != "scan workspace" {
		t.Errorf("job goal shaped wrong: %+v", goal)
	}
}

func TestNotifierRecordsDeliveryReceipt(t *testing.T) {
	gw, s := newGateway(t)
	ctx := context.Background()

	goalID, err := gw.Ingest(ctx, Event{
		Origin: "cli", ChannelTarget: "cli:stdout",
		PayloadKind: KindGoalSubmission, Payload: Payload{Description: "scan workspace"},
	})
	if err != nil {
		t.Fatal(err)
	}
	goal, _ := s.GetGoal(ctx, goalID)
	if err := gw.notify.Notify(ctx, goal, "done"); err != nil {
		t.Fatal(err)
	}
	receipts, err := s.RecentDeliveryReceipts(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 || !receipts[0].Delivered || receipts[0].GoalID != goalID {
		t.Errorf("receipt wrong: %+v", receipts)
	}
}

func TestNotifyUnknownChannelRecordsFailure(t *testing.T) {
	gw, s := newGateway(t)
	ctx := context.Background()

	goal := &store.Goal{Description: "x", Origin: "chat", Channel: "discord:general"}
	if err := s.CreateGoal(ctx, goal); err != nil {
		t.Fatal(err)
	}
	if err := gw.notify.Notify(ctx, goal, "done"); err == nil {
		t.Error("unknown channel delivered")
	}
	receipts, _ := s.RecentDeliveryReceipts(ctx, 10)
	if len(receipts) != 1 || receipts[0].Delivered {
		t.Errorf("failed delivery not recorded: %+v", receipts)
	}
}
