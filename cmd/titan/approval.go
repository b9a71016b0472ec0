package main

import (
	"context"
	"encoding/json"

	"github.com/Djtony707/TITAN/internal/store"
)

func (c *ApprovalListCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	approvals, err := a.store.ListApprovals(context.Background(), c.Pending)
	if err != nil {
		return err
	}
	a.output(approvals, func() {
		for _, ap := range approvals {
			a.printf("%s  %-10s  %-30s deadline=%s\n", ap.ID, ap.Decision, ap.Tool, ap.Deadline.Format("15:04:05"))
		}
	})
	return nil
}

func (c *ApprovalShowCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	ap, err := a.store.GetApproval(context.Background(), c.ID)
	if err != nil {
		return err
	}
	a.output(ap, func() {
		a.printf("approval %s\n  tool:      %s\n  decision:  %s\n  scopes:    %s\n  paths:     %s\n  hosts:     %s\n  deadline:  %s\n",
			ap.ID, ap.Tool, ap.Decision, ap.Scopes, ap.Paths, ap.Hosts, ap.Deadline)
		if ap.BundleHash != "" {
			a.printf("  bundle:    %s (%s)\n", ap.BundleHash, ap.SigStatus)
		}
		if ap.Resolver != "" {
			a.printf("  resolver:  %s (%s)\n", ap.Resolver, ap.Reason)
		}
	})
	return nil
}

func (c *ApprovalApproveCmd) Run(cli *CLI) error {
	return resolveApproval(cli, c.ID, store.DecisionApproved, c.Reason)
}

func (c *ApprovalDenyCmd) Run(cli *CLI) error {
	return resolveApproval(cli, c.ID, store.DecisionDenied, c.Reason)
}

// resolveApproval shares the same path as the web resolver: a conditional
// claim that loses races cleanly.
func resolveApproval(cli *CLI, id, decision, reason string) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.approvals.Resolve(context.Background(), id, "cli", decision, reason); err != nil {
		return err
	}
	a.printf("approval %s: %s\n", id, decision)
	return nil
}

func (c *ApprovalWaitCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	decision, err := a.approvals.Await(context.Background(), c.ID)
	if err != nil {
		return err
	}
	a.printf("approval %s resolved: %s\n", c.ID, decision)
	return nil
}

func parseJSONArg(raw string) (map[string]any, error) {
	out := make(map[string]any)
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
