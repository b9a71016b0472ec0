package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/config"
	"github.com/Djtony707/TITAN/internal/connector"
	"github.com/Djtony707/TITAN/internal/gateway"
	"github.com/Djtony707/TITAN/internal/llm"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/planner"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/runexec"
	"github.com/Djtony707/TITAN/internal/scheduler"
	"github.com/Djtony707/TITAN/internal/skillrt"
	"github.com/Djtony707/TITAN/internal/store"
)

// defaultExecAllowlist are the commands the exec tool accepts out of the
// box; operators extend the list in config.
var defaultExecAllowlist = []string{"git", "make", "go", "ls", "cat"}

// app holds the wired runtime components. Every subcommand opens one and
// closes it on exit; the run command additionally starts the loops.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	store     *store.Store
	guard     *pathguard.Guard
	risk      *policy.StoreRiskState
	policy    *policy.Engine
	approvals *approval.Queue
	broker    *broker.Broker
	skills    *skillrt.Runtime
	planner   *planner.Planner
	executor  *runexec.Executor
	notifier  *gateway.Notifier
	gateway   *gateway.Gateway
	scheduler *scheduler.Scheduler
	secrets   *connector.LockableSecrets
	mediator  *connector.Mediator
	provider  llm.Provider

	jsonOut bool
}

// openApp constructs everything once at startup and threads the shared
// references explicitly into the component constructors.
func openApp(cli *CLI, workspaceOverride, configOverride string) (*app, error) {
	if configOverride != "" {
		os.Setenv("TITAN_CONFIG", configOverride)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if workspaceOverride != "" {
		cfg.Workspace.Root = workspaceOverride
	}

	log := logging.New("titan")

	workspaceRoot, err := cfg.WorkspaceRoot()
	if err != nil {
		return nil, err
	}
	guard, err := pathguard.New(workspaceRoot, log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	risk := policy.NewStoreRiskState(st, time.Duration(cfg.Policy.YoloMaxDurationSec)*time.Second)
	rules, err := policy.LoadRules(cfg.Policy.RulesPath)
	if err != nil {
		return nil, err
	}
	pol, err := policy.New(rules, risk, log)
	if err != nil {
		return nil, err
	}

	approvals := approval.New(st, log, time.Duration(cfg.Policy.DefaultApprovalTTLSec)*time.Second)

	mode := func() string { return cfg.Autonomy.Mode }
	limits := broker.DefaultLimits()
	if cfg.Timeouts.ToolDefaultSec > 0 {
		limits.Timeout = time.Duration(cfg.Timeouts.ToolDefaultSec) * time.Second
	}
	bk := broker.New(guard, pol, approvals, st, log, limits, mode)
	if err := bk.RegisterBuiltins(defaultExecAllowlist, []string{"*"}); err != nil {
		return nil, err
	}

	secrets := connector.NewLockableSecrets(connector.NewEnvSecrets())
	mediator := connector.NewMediator(st, secrets, log)

	var provider llm.Provider = llm.NullProvider{}
	if cfg.LLM.Provider == "local" && cfg.LLM.Model != "" {
		provider = llm.NewLocalEndpoint("http://127.0.0.1:11434", cfg.LLM.Model)
	}

	pl := planner.New(provider, st, log)

	skills := skillrt.NewRuntime(guard, bk, approvals, st, log, cfg.Skills.TrustStorePath)

	notifier := gateway.NewNotifier(st, log)
	notifier.RegisterDefaultChannels()

	exec := runexec.New(st, pl, bk, pol, notifier, log, mode)
	gw := gateway.New(st, exec, approvals, notifier, log)
	sched := scheduler.New(st, gw, log, scheduler.DefaultConcurrency)

	return &app{
		cfg:       cfg,
		log:       log,
		store:     st,
		guard:     guard,
		risk:      risk,
		policy:    pol,
		approvals: approvals,
		broker:    bk,
		skills:    skills,
		planner:   pl,
		executor:  exec,
		notifier:  notifier,
		gateway:   gw,
		scheduler: sched,
		secrets:   secrets,
		mediator:  mediator,
		provider:  provider,
		jsonOut:   cli.JSON,
	}, nil
}

func (a *app) Close() {
	a.guard.Close()
	a.store.Close()
}

// output prints v as JSON under --json, or hands it to human for the
// plain rendering.
func (a *app) output(v any, human func()) {
	if a.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		return
	}
	human()
}

func (a *app) printf(format string, args ...any) {
	fmt.Printf(format, args...)
}
