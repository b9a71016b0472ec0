package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// slowSubmitter creates a goal and terminalizes it after a delay,
// simulating a run that outlives the schedule interval.
type slowSubmitter struct {
	store *store.Store
	delay time.Duration

	mu    sync.Mutex
	count int
}

func (s *slowSubmitter) SubmitJobGoal(ctx context.Context, job *store.Job) (string, error) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	g := &store.Goal{Description: job.Template, Origin: "scheduler", Channel: "scheduler:" + job.Name}
	if err := s.store.CreateGoal(ctx, g); err != nil {
		return "", err
	}
	go func() {
		time.Sleep(s.delay)
		s.store.TransitionGoal(ctx, g.ID, store.GoalPlanning, "", "secure")
		s.store.TransitionGoal(ctx, g.ID, store.GoalRunning, "", "secure")
		s.store.TransitionGoal(ctx, g.ID, store.GoalDone, "", "secure")
	}()
	return g.ID, nil
}

func (s *slowSubmitter) submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func newSchedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "titan.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntervalNextDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	recent := now.Add(-5 * time.Second)

	cases := []struct {
		name string
		job  *store.Job
		want bool
	}{
		{"never fired", &store.Job{Kind: store.ScheduleInterval, Value: "15s"}, true},
		{"fired long ago", &store.Job{Kind: store.ScheduleInterval, Value: "15s", LastRunAt: &past}, true},
		{"fired recently", &store.Job{Kind: store.ScheduleInterval, Value: "15s", LastRunAt: &recent}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextDue(tc.job, now)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("NextDue = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextDueBadSchedule(t *testing.T) {
	if _, err := NextDue(&store.Job{Kind: store.ScheduleInterval, Value: "nope"}, time.Now()); err == nil {
		t.Error("bad interval accepted")
	}
	if _, err := NextDue(&store.Job{Kind: store.ScheduleCron, Value: "bad"}, time.Now()); err == nil {
		t.Error("bad cron accepted")
	}
}

func TestJobLockPreventsOverlap(t *testing.T) {
	s := newSchedStore(t)
	ctx := context.Background()

	sub := &slowSubmitter{store: s, delay: 400 * time.Millisecond}
	sched := New(s, sub, logging.New("test"), 2)

	job := &store.Job{Name: "slow", Kind: store.ScheduleInterval, Value: "10ms", Template: "tick", Enabled: true}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if !sched.tryFire(ctx, job, false) {
		t.Fatal("first fire refused")
	}
	// Second fire while the first run is still holding the lock.
	if sched.tryFire(ctx, job, false) {
		t.Error("overlapping fire of the same job was allowed")
	}

	// RunNow while busy returns a conflict.
	err := sched.RunNow(ctx, job.Name)
	if !titanerr.Is(err, titanerr.KindConflict) {
		t.Errorf("RunNow while busy: got %v, want conflict", err)
	}

	// After the first run drains, the job fires again.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sched.tryFire(ctx, job, false) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if sub.submissions() < 1 {
		t.Error("no submissions recorded")
	}
}

func TestJobRunRecordsGoal(t *testing.T) {
	s := newSchedStore(t)
	ctx := context.Background()

	sub := &slowSubmitter{store: s, delay: 10 * time.Millisecond}
	sched := New(s, sub, logging.New("test"), 1)

	job := &store.Job{Name: "quick", Kind: store.ScheduleInterval, Value: "1h", Template: "tick", Enabled: true}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := sched.RunNow(ctx, job.Name); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		runs, _ := s.RunsForJob(ctx, job.ID, 10)
		if len(runs) == 1 && runs[0].FinishedAt != nil {
			if runs[0].GoalID == "" {
				t.Error("finished run has no goal id")
			}
			if runs[0].Status != store.GoalDone {
				t.Errorf("run status = %q, want done", runs[0].Status)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("job run never finished")
}
