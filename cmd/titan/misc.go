package main

import (
	"context"
	"os"
	"time"

	"github.com/Djtony707/TITAN/internal/config"
	"github.com/Djtony707/TITAN/internal/llm"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Secrets commands. The envelope itself lives outside the core; these
// toggle the process-level lock and report resolvability.

func (c *SecretsStatusCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	state := "locked"
	if a.secrets.Unlocked() {
		state = "unlocked"
	}
	passEnv := a.cfg.Secrets.PassphraseEnv
	passSet := os.Getenv(passEnv) != ""
	a.output(map[string]any{"state": state, "passphrase_env": passEnv, "passphrase_set": passSet}, func() {
		a.printf("secrets: %s\n", state)
		if passSet {
			a.printf("passphrase: present in %s\n", passEnv)
		} else {
			a.printf("passphrase: %s is unset\n", passEnv)
		}
	})
	return nil
}

func (c *SecretsUnlockCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if os.Getenv(a.cfg.Secrets.PassphraseEnv) == "" {
		return titanerr.New(titanerr.KindValidation, "secrets.unlock",
			"set "+a.cfg.Secrets.PassphraseEnv+" before unlocking")
	}
	a.secrets.Unlock()
	a.printf("secrets unlocked\n")
	return nil
}

func (c *SecretsLockCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	a.secrets.Lock()
	a.printf("secrets locked\n")
	return nil
}

// Model commands.

func (c *ModelShowCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	a.output(a.cfg.LLM, func() {
		a.printf("provider: %s\nmodel:    %s\n", orDefault(a.cfg.LLM.Provider, "(none)"), orDefault(a.cfg.LLM.Model, "(none)"))
	})
	return nil
}

func (c *ModelSetCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	a.cfg.LLM.Model = c.Model
	if a.cfg.LLM.Provider == "" {
		a.cfg.LLM.Provider = "local"
	}
	if err := writeConfig(config.ResolvePath(), a.cfg); err != nil {
		return err
	}
	a.printf("model set to %s\n", c.Model)
	return nil
}

func (c *ModelListLocalCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	endpoint := llm.NewLocalEndpoint("http://127.0.0.1:11434", a.cfg.LLM.Model)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	models, err := endpoint.ListLocalModels(ctx)
	if err != nil {
		return err
	}
	a.output(models, func() {
		for _, m := range models {
			a.printf("%s\n", m)
		}
	})
	return nil
}

// Comm commands.

func (c *CommListCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	channels := a.notifier.Channels()
	a.output(channels, func() {
		for _, ch := range channels {
			a.printf("%s\n", ch)
		}
	})
	return nil
}

func (c *CommStatusCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	receipts, err := a.store.RecentDeliveryReceipts(context.Background(), 20)
	if err != nil {
		return err
	}
	a.output(receipts, func() {
		for _, r := range receipts {
			status := "delivered"
			if !r.Delivered {
				status = "failed: " + r.Error
			}
			a.printf("%s  %-20s goal=%s  %s\n", r.AttemptedAt.Format(time.RFC3339), r.Channel, r.GoalID, status)
		}
	})
	return nil
}

func (c *CommSendCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	return a.notifier.Send(context.Background(), c.Channel, c.Target, c.Message)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
