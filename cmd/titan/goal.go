package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Djtony707/TITAN/internal/store"
)

// Run submits a goal from the terminal. Without --wait it records the goal
// and returns; the running runtime's pickup loop executes it.
func (c *GoalSubmitCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	goal := &store.Goal{
		Description: c.Text,
		Origin:      "cli",
		Channel:     "cli:stdout",
		DedupeKey:   c.DedupeKey,
		TimeoutSec:  c.Timeout,
		MaxRetries:  c.MaxRetries,
	}
	if err := a.store.CreateGoal(ctx, goal); err != nil {
		return err
	}
	a.output(goal, func() {
		a.printf("goal %s submitted\n", goal.ID)
	})

	if !c.Wait {
		return nil
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		g, err := a.store.GetGoal(ctx, goal.ID)
		if err != nil {
			return err
		}
		if store.GoalTerminal(g.State) {
			a.output(g, func() {
				a.printf("goal %s finished: %s\n", g.ID, g.State)
			})
			if g.State != store.GoalDone {
				return fmt.Errorf("goal terminalized %s: %s", g.State, g.Error)
			}
			return nil
		}
	}
	return nil
}

func (c *GoalShowCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	goal, err := a.store.GetGoal(ctx, c.ID)
	if err != nil {
		return err
	}
	steps, err := a.store.StepsForGoal(ctx, c.ID)
	if err != nil {
		return err
	}
	out := map[string]any{"goal": goal, "steps": steps}
	if c.Traces {
		traces, err := a.store.TracesForGoal(ctx, c.ID)
		if err != nil {
			return err
		}
		out["traces"] = traces
	}
	a.output(out, func() {
		a.printf("goal %s  state=%s  origin=%s\n  %s\n", goal.ID, goal.State, goal.Origin, goal.Description)
		for _, st := range steps {
			a.printf("  step %d  %-12s class=%-5s state=%s\n", st.Ordinal, st.Tool, st.Class, st.State)
		}
		if c.Traces {
			traces, _ := a.store.TracesForGoal(ctx, c.ID)
			for _, tr := range traces {
				a.printf("  trace %3d  %-18s %s\n", tr.Seq, tr.Kind, tr.Payload)
			}
		}
	})
	return nil
}

func (c *GoalCancelCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.executor.Cancel(context.Background(), c.ID); err != nil {
		return err
	}
	a.printf("cancel requested for %s\n", c.ID)
	return nil
}

func (c *GoalListCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	goals, err := a.store.ListGoals(context.Background(), c.State, 100)
	if err != nil {
		return err
	}
	a.output(goals, func() {
		for _, g := range goals {
			a.printf("%s  %-10s  %s\n", g.ID, g.State, truncateText(g.Description, 60))
		}
	})
	return nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Printf("titan %s (%s)\n", version, commit)
	return nil
}
