package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Djtony707/TITAN/internal/config"
	"github.com/Djtony707/TITAN/internal/httpapi"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Run starts the long-running runtime: approval reaper, executor workers,
// session-resume scan, scheduler, workspace sentinel and the loopback HTTP
// surface. It blocks until interrupted.
func (c *RunCmd) Run(cli *CLI) error {
	a, err := openApp(cli, c.Workspace, c.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	a.approvals.Start(ctx)
	defer a.approvals.Stop()

	if err := a.mediator.RegisterAll(ctx, a.broker); err != nil {
		return err
	}

	if err := a.guard.StartWatch(nil); err != nil {
		a.log.Warn("workspace sentinel unavailable", map[string]interface{}{"error": err.Error()})
	}

	a.executor.Start(ctx, c.Workers)
	if err := a.executor.Resume(ctx); err != nil {
		return err
	}
	a.scheduler.Start(ctx)

	if a.cfg.HTTP.Enabled {
		srv := httpapi.New(a.store, a.gateway, a.scheduler, a.log)
		go func() {
			if err := srv.ListenAndServe(ctx, a.cfg.HTTP.Addr); err != nil {
				a.log.Error("http surface failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	a.log.Info("runtime started", map[string]interface{}{
		"workspace": a.guard.Root(),
		"mode":      a.cfg.Autonomy.Mode,
		"store":     a.cfg.Storage.Path,
	})

	<-ctx.Done()
	a.log.Info("runtime stopping", nil)
	return nil
}

// Run checks the installation: config readable, store opens and migrates,
// workspace resolvable, trust store present.
func (c *DoctorCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	fmt.Printf("config:    %s\n", config.ResolvePath())
	fmt.Printf("workspace: %s\n", a.guard.Root())
	fmt.Printf("store:     %s\n", a.cfg.Storage.Path)

	if err := a.store.Checkpoint(ctx); err != nil {
		return err
	}
	fmt.Println("store:     wal checkpoint ok")
	if err := a.store.Vacuum(ctx); err != nil {
		return err
	}
	fmt.Println("store:     vacuum ok")

	if _, err := os.Stat(a.cfg.Skills.TrustStorePath); os.IsNotExist(err) {
		fmt.Println("trust:     no trust store (signed skills will not verify)")
	} else {
		fmt.Println("trust:     present")
	}

	goals, err := a.store.NonTerminalGoals(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("goals:     %d non-terminal\n", len(goals))
	return nil
}

// Run writes an initial config file.
func (c *OnboardCmd) Run(cli *CLI) error {
	switch c.Mode {
	case "supervised", "collaborative", "autonomous":
	default:
		return titanerr.New(titanerr.KindValidation, "onboard", "mode must be supervised, collaborative or autonomous")
	}

	path := config.ResolvePath()
	if _, err := os.Stat(path); err == nil {
		return titanerr.New(titanerr.KindConflict, "onboard", path+" already exists")
	}

	cfg := config.New()
	cfg.Autonomy.Mode = c.Mode
	if c.Workspace != "" {
		abs, err := filepath.Abs(c.Workspace)
		if err != nil {
			return titanerr.Wrap(titanerr.KindValidation, "onboard", "resolve workspace", err)
		}
		cfg.Workspace.Root = abs
	}

	if err := writeConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s (mode=%s)\n", path, c.Mode)
	return nil
}

func writeConfig(path string, cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "config.write", "create config dir", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "config.write", "create "+path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "config.write", "encode config", err)
	}
	return nil
}

// Run arms the risk bypass from the local terminal surface.
func (c *YoloArmCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := time.ParseDuration(c.Duration)
	if err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "yolo.arm", "bad duration", err)
	}
	until, err := a.risk.Arm(context.Background(), d)
	if err != nil {
		return err
	}
	a.log.SecurityWarning("yolo armed", map[string]interface{}{"until": until.Format(time.RFC3339)})
	a.printf("yolo armed until %s\n", until.Format(time.RFC3339))
	return nil
}

func (c *YoloDisarmCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.risk.Disarm(context.Background()); err != nil {
		return err
	}
	a.printf("yolo disarmed\n")
	return nil
}

func (c *YoloStatusCmd) Run(cli *CLI) error {
	a, err := openApp(cli, "", "")
	if err != nil {
		return err
	}
	defer a.Close()

	until, err := a.risk.YoloArmedUntil(context.Background())
	if err != nil {
		return err
	}
	if until.IsZero() || time.Now().After(until) {
		a.printf("risk mode: secure\n")
		return nil
	}
	a.printf("risk mode: yolo (until %s)\n", until.Format(time.RFC3339))
	return nil
}
