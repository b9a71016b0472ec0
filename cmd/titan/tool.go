package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Run invokes a tool directly through the broker, with the same schema,
// path-guard, policy and approval gates a planned step gets.
func (c *ToolRunCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	args, err := parseJSONArg(c.Input)
	if err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "tool.run", "parse --input", err)
	}

	a.approvals.Start(ctx)
	result, err := a.broker.Invoke(ctx, c.Name, args)
	if err != nil {
		return err
	}
	a.output(result, func() {
		fmt.Println(result.Output)
	})
	return nil
}

func (c *ToolListCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	names := a.broker.Names()
	sort.Strings(names)
	a.output(names, func() {
		for _, name := range names {
			t := a.broker.Get(name)
			a.printf("%-14s %-5s %s\n", name, t.Class(), t.Description())
		}
	})
	return nil
}
