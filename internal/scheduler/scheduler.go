// Package scheduler fires interval and cron jobs as synthetic inbound
// events with bounded global concurrency and a per-job lock preventing
// overlapping runs of the same job.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Submitter turns a due job into a goal. The gateway supplies the
// implementation; the returned goal id lands in the job run record.
type Submitter interface {
	SubmitJobGoal(ctx context.Context, job *store.Job) (goalID string, err error)
}

// DefaultConcurrency bounds simultaneous job-driven goals.
const DefaultConcurrency = 2

const tick = time.Second

// Scheduler is the in-process polling loop.
type Scheduler struct {
	store     *store.Store
	submitter Submitter
	log       *logging.Logger

	sem chan struct{}

	mu       sync.Mutex
	jobLocks map[string]bool // job id -> run in flight
}

// New builds a Scheduler with the given global concurrency bound.
func New(s *store.Store, submitter Submitter, log *logging.Logger, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		store:     s,
		submitter: submitter,
		log:       log,
		sem:       make(chan struct{}, concurrency),
		jobLocks:  make(map[string]bool),
	}
}

// Start runs the tick loop until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.fireDue(ctx, now)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// NextDue reports whether a job is due at now, per its schedule kind.
// interval jobs compute next-fire as last_fire + interval; cron jobs from
// the expression.
func NextDue(job *store.Job, now time.Time) (bool, error) {
	switch job.Kind {
	case store.ScheduleInterval:
		interval, err := time.ParseDuration(job.Value)
		if err != nil {
			return false, titanerr.Wrap(titanerr.KindValidation, "scheduler.NextDue", "bad interval for job "+job.Name, err)
		}
		if job.LastRunAt == nil {
			return true, nil
		}
		return !now.Before(job.LastRunAt.Add(interval)), nil
	case store.ScheduleCron:
		expr, err := ParseCron(job.Value)
		if err != nil {
			return false, err
		}
		last := job.CreatedAt
		if job.LastRunAt != nil {
			last = *job.LastRunAt
		}
		next := expr.Next(last)
		return !next.IsZero() && !now.Before(next), nil
	default:
		return false, titanerr.New(titanerr.KindValidation, "scheduler.NextDue", "unknown schedule kind "+job.Kind)
	}
}

func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		s.log.Warn("job scan failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		due, err := NextDue(job, now)
		if err != nil {
			s.log.Warn("schedule evaluation failed", map[string]interface{}{"job": job.Name, "error": err.Error()})
			continue
		}
		if due {
			s.tryFire(ctx, job, false)
		}
	}
}

// RunNow bypasses the schedule but still respects the per-job lock and the
// global concurrency cap. When the job's lock is held it returns a
// KindConflict busy error rather than queueing a second run.
func (s *Scheduler) RunNow(ctx context.Context, ref string) error {
	job, err := s.store.GetJob(ctx, ref)
	if err != nil {
		return err
	}
	if !s.tryFire(ctx, job, true) {
		return titanerr.New(titanerr.KindConflict, "scheduler.RunNow", "job "+job.Name+" is busy")
	}
	return nil
}

// tryFire acquires the job lock and a concurrency token, then runs the job
// in its own goroutine. Returns false when the job lock is already held.
func (s *Scheduler) tryFire(ctx context.Context, job *store.Job, manual bool) bool {
	s.mu.Lock()
	if s.jobLocks[job.ID] {
		s.mu.Unlock()
		return false
	}
	s.jobLocks[job.ID] = true
	s.mu.Unlock()

	// Stamp last_run_at immediately so the next tick does not double-fire
	// while this run is still in flight.
	firedAt := time.Now()
	s.store.RecordJobFired(ctx, job.ID, firedAt, "running")

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.jobLocks, job.ID)
			s.mu.Unlock()
		}()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}

		run := &store.JobRun{JobID: job.ID, Status: "running", StartedAt: firedAt}
		if err := s.store.CreateJobRun(ctx, run); err != nil {
			s.log.Warn("job run record failed", map[string]interface{}{"job": job.Name, "error": err.Error()})
			return
		}

		goalID, err := s.submitter.SubmitJobGoal(ctx, job)
		if err != nil {
			s.store.FinishJobRun(ctx, run.ID, "failed", err.Error())
			s.store.RecordJobFired(ctx, job.ID, firedAt, "failed")
			s.log.Warn("job submission failed", map[string]interface{}{"job": job.Name, "error": err.Error()})
			return
		}
		run.GoalID = goalID

		status := s.awaitGoal(ctx, goalID)
		s.store.FinishJobRunWithGoal(ctx, run.ID, goalID, status, "")
		s.store.RecordJobFired(ctx, job.ID, firedAt, status)
		s.log.Info("job run finished", map[string]interface{}{
			"job": job.Name, "goal_id": goalID, "status": status, "manual": manual,
		})
	}()
	return true
}

// awaitGoal polls the submitted goal until it terminalizes, holding the job
// lock the whole time so overlapping runs cannot start.
func (s *Scheduler) awaitGoal(ctx context.Context, goalID string) string {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			goal, err := s.store.GetGoal(ctx, goalID)
			if err != nil {
				return "failed"
			}
			if store.GoalTerminal(goal.State) {
				return goal.State
			}
		case <-ctx.Done():
			return "interrupted"
		}
	}
}
