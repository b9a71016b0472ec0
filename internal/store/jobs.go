package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Scopes == "" {
		j.Scopes = "[]"
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, name, kind, value, template, mode, scopes, enabled, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, j.ID, j.Name, j.Kind, j.Value, j.Template, j.Mode, j.Scopes, j.Enabled, j.CreatedAt)
		return err
	})
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.CreateJob", "insert job", err)
	}
	return nil
}

// GetJob loads one job by id or name.
func (s *Store) GetJob(ctx context.Context, ref string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, value, template, mode, scopes, enabled, last_run_at, last_status, created_at
		FROM jobs WHERE id = ? OR name = ?`, ref, ref)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, titanerr.New(titanerr.KindNotFound, "store.GetJob", "no job "+ref)
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.GetJob", "scan job", err)
	}
	return j, nil
}

func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var lastRun sql.NullTime
	if err := r.Scan(&j.ID, &j.Name, &j.Kind, &j.Value, &j.Template, &j.Mode, &j.Scopes,
		&j.Enabled, &lastRun, &j.LastStatus, &j.CreatedAt); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	return &j, nil
}

// ListJobs returns every job.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, value, template, mode, scopes, enabled, last_run_at, last_status, created_at
		FROM jobs ORDER BY name`)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListJobs", "query jobs", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListJobs", "scan job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetJobEnabled toggles a job's enabled flag (pause/resume).
func (s *Store) SetJobEnabled(ctx context.Context, ref string, enabled bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET enabled = ? WHERE id = ? OR name = ?`, enabled, ref, ref)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return titanerr.New(titanerr.KindNotFound, "store.SetJobEnabled", "no job "+ref)
		}
		return nil
	})
}

// RemoveJob deletes a job and its runs.
func (s *Store) RemoveJob(ctx context.Context, ref string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? OR name = ?`, ref, ref)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return titanerr.New(titanerr.KindNotFound, "store.RemoveJob", "no job "+ref)
		}
		return nil
	})
}

// RecordJobFired stamps last_run_at/last_status after a firing decision.
func (s *Store) RecordJobFired(ctx context.Context, jobID string, at time.Time, status string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET last_run_at = ?, last_status = ? WHERE id = ?`, at.UTC(), status, jobID)
		return err
	})
}

// CreateJobRun opens a job-run record.
func (s *Store) CreateJobRun(ctx context.Context, run *JobRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO job_runs (id, job_id, goal_id, status, error, started_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, run.JobID, run.GoalID, run.Status, run.Error, run.StartedAt)
		return err
	})
}

// FinishJobRun closes a job-run record.
func (s *Store) FinishJobRun(ctx context.Context, runID, status, errMsg string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE job_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
		`, status, errMsg, time.Now().UTC(), runID)
		return err
	})
}

// FinishJobRunWithGoal closes a run and records the goal it spawned.
func (s *Store) FinishJobRunWithGoal(ctx context.Context, runID, goalID, status, errMsg string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE job_runs SET goal_id = ?, status = ?, error = ?, finished_at = ? WHERE id = ?
		`, goalID, status, errMsg, time.Now().UTC(), runID)
		return err
	})
}

// RunsForJob returns a job's runs newest-first.
func (s *Store) RunsForJob(ctx context.Context, jobID string, limit int) ([]*JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, goal_id, status, error, started_at, finished_at
		FROM job_runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.RunsForJob", "query runs", err)
	}
	defer rows.Close()
	var out []*JobRun
	for rows.Next() {
		var r JobRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.JobID, &r.GoalID, &r.Status, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.RunsForJob", "scan run", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
