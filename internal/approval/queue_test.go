package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

func newQueue(t *testing.T, ttl time.Duration) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "titan.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q := New(s, logging.New("test"), ttl)
	return q, s
}

func TestResolveWakesWaiter(t *testing.T) {
	q, _ := newQueue(t, time.Minute)
	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	ap := &store.Approval{Tool: "write"}
	if err := q.Create(ctx, ap); err != nil {
		t.Fatal(err)
	}

	done := make(chan string, 1)
	go func() {
		decision, err := q.Await(ctx, ap.ID)
		if err != nil {
			done <- "error: " + err.Error()
			return
		}
		done <- decision
	}()

	time.Sleep(50 * time.Millisecond)
	if err := q.Resolve(ctx, ap.ID, "alice", store.DecisionApproved, "ok"); err != nil {
		t.Fatal(err)
	}

	select {
	case decision := <-done:
		if decision != store.DecisionApproved {
			t.Errorf("awaited decision = %q, want approved", decision)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestTTLExpiryWritesTimeout(t *testing.T) {
	q, s := newQueue(t, 100*time.Millisecond)
	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	ap := &store.Approval{Tool: "write"}
	if err := q.Create(ctx, ap); err != nil {
		t.Fatal(err)
	}

	decision, err := q.Await(ctx, ap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if decision != store.DecisionTimeout {
		t.Errorf("decision = %q, want timeout", decision)
	}

	row, err := s.GetApproval(ctx, ap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Decision != store.DecisionTimeout || row.Resolver != "system" {
		t.Errorf("stored row = %+v, want system timeout", row)
	}
}

func TestDuplicateResolutionConflicts(t *testing.T) {
	q, _ := newQueue(t, time.Minute)
	ctx := context.Background()

	ap := &store.Approval{Tool: "write"}
	if err := q.Create(ctx, ap); err != nil {
		t.Fatal(err)
	}
	if err := q.Resolve(ctx, ap.ID, "alice", store.DecisionApproved, ""); err != nil {
		t.Fatal(err)
	}
	err := q.Resolve(ctx, ap.ID, "bob", store.DecisionDenied, "race")
	if !titanerr.Is(err, titanerr.KindConflict) {
		t.Errorf("second resolve: got %v, want conflict", err)
	}
}

func TestAwaitAlreadyResolved(t *testing.T) {
	q, _ := newQueue(t, time.Minute)
	ctx := context.Background()

	ap := &store.Approval{Tool: "write"}
	if err := q.Create(ctx, ap); err != nil {
		t.Fatal(err)
	}
	if err := q.Resolve(ctx, ap.ID, "alice", store.DecisionDenied, ""); err != nil {
		t.Fatal(err)
	}
	decision, err := q.Await(ctx, ap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if decision != store.DecisionDenied {
		t.Errorf("Await after resolution = %q, want denied", decision)
	}
}
