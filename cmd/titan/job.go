package main

import (
	"context"
	"time"

	"github.com/Djtony707/TITAN/internal/scheduler"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Run creates a job, validating the schedule up front so a bad cron
// expression is rejected at creation time.
func (c *JobAddCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	job := &store.Job{Name: c.Name, Template: c.Template, Mode: c.Mode, Enabled: true}
	switch {
	case c.Interval != "":
		if _, err := time.ParseDuration(c.Interval); err != nil {
			return titanerr.Wrap(titanerr.KindValidation, "job.add", "bad interval", err)
		}
		job.Kind = store.ScheduleInterval
		job.Value = c.Interval
	case c.Cron != "":
		if _, err := scheduler.ParseCron(c.Cron); err != nil {
			return err
		}
		job.Kind = store.ScheduleCron
		job.Value = c.Cron
	default:
		return titanerr.New(titanerr.KindValidation, "job.add", "exactly one of --interval or --cron is required")
	}

	if err := a.store.CreateJob(context.Background(), job); err != nil {
		return err
	}
	a.output(job, func() {
		a.printf("job %s created (%s %s)\n", job.Name, job.Kind, job.Value)
	})
	return nil
}

func (c *JobListCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.store.ListJobs(context.Background())
	if err != nil {
		return err
	}
	a.output(jobs, func() {
		for _, j := range jobs {
			state := "paused"
			if j.Enabled {
				state = "enabled"
			}
			a.printf("%-20s %-8s %-12s %-8s last=%s\n", j.Name, j.Kind, j.Value, state, j.LastStatus)
		}
	})
	return nil
}

func (c *JobShowCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	job, err := a.store.GetJob(ctx, c.Ref)
	if err != nil {
		return err
	}
	runs, err := a.store.RunsForJob(ctx, job.ID, 20)
	if err != nil {
		return err
	}
	a.output(map[string]any{"job": job, "runs": runs}, func() {
		a.printf("job %s (%s)  %s %s  enabled=%v\n  template: %s\n", job.Name, job.ID, job.Kind, job.Value, job.Enabled, job.Template)
		for _, r := range runs {
			finished := "running"
			if r.FinishedAt != nil {
				finished = r.FinishedAt.Format(time.RFC3339)
			}
			a.printf("  run %s  %-9s goal=%s  %s .. %s\n", r.ID, r.Status, r.GoalID, r.StartedAt.Format(time.RFC3339), finished)
		}
	})
	return nil
}

func (c *JobPauseCmd) Run(cli *CLI) error {
	return setJobEnabled(cli, c.Ref, false)
}

func (c *JobResumeCmd) Run(cli *CLI) error {
	return setJobEnabled(cli, c.Ref, true)
}

func setJobEnabled(cli *CLI, ref string, enabled bool) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.SetJobEnabled(context.Background(), ref, enabled); err != nil {
		return err
	}
	if enabled {
		a.printf("job %s resumed\n", ref)
	} else {
		a.printf("job %s paused\n", ref)
	}
	return nil
}

func (c *JobRunNowCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.RunNow(context.Background(), c.Ref); err != nil {
		return err
	}
	a.printf("job %s fired\n", c.Ref)
	return nil
}

func (c *JobRemoveCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.RemoveJob(context.Background(), c.Ref); err != nil {
		return err
	}
	a.printf("job %s removed\n", c.Ref)
	return nil
}
