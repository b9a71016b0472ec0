// Package policy maps (autonomy mode, risk mode, capability class, step
// metadata) to allow, require-approval or deny. The decision matrix and the
// hard-denial rules are CEL programs compiled once at startup, so the table
// is data rather than a hand-written switch.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Decision is the policy engine's verdict for one step.
type Decision string

const (
	Allow           Decision = "allow"
	RequireApproval Decision = "require_approval"
	Deny            Decision = "deny"
)

// Autonomy modes.
const (
	ModeSupervised    = "supervised"
	ModeCollaborative = "collaborative"
	ModeAutonomous    = "autonomous"
)

// Risk modes.
const (
	RiskSecure = "secure"
	RiskYolo   = "yolo"
)

// Request carries everything a rule can see about a step.
type Request struct {
	Mode          string
	Class         string
	Paths         []string
	Hosts         []string
	IsNetwork     bool
	IsExec        bool
	IsSkill       bool
	SigStatus     string // signed | unsigned | "" when not a skill
	ConnectorType string
}

// RiskState reports whether yolo is armed and unexpired. It is evaluated at
// step-decision time so scheduler-driven goals inherit the bypass only while
// it is live.
type RiskState interface {
	YoloArmedUntil(ctx context.Context) (time.Time, error)
}

// Engine holds the compiled rule set.
type Engine struct {
	env   *cel.Env
	rules []compiledRule
	risk  RiskState
	log   *logging.Logger
}

type compiledRule struct {
	name   string
	effect Decision
	prg    cel.Program
}

// New compiles the supplied rules (defaults plus any operator overrides)
// into an Engine.
func New(rules []Rule, risk RiskState, log *logging.Logger) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("mode", cel.StringType),
		cel.Variable("risk", cel.StringType),
		cel.Variable("class", cel.StringType),
		cel.Variable("paths", cel.ListType(cel.StringType)),
		cel.Variable("hosts", cel.ListType(cel.StringType)),
		cel.Variable("is_network", cel.BoolType),
		cel.Variable("is_exec", cel.BoolType),
		cel.Variable("is_skill", cel.BoolType),
		cel.Variable("signature_status", cel.StringType),
		cel.Variable("connector_type", cel.StringType),
	)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "policy.New", "create CEL environment", err)
	}

	e := &Engine{env: env, risk: risk, log: log}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, titanerr.Wrap(titanerr.KindValidation, "policy.New",
				fmt.Sprintf("compile rule %q", r.Name), issues.Err())
		}
		prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "policy.New",
				fmt.Sprintf("build program for rule %q", r.Name), err)
		}
		e.rules = append(e.rules, compiledRule{name: r.Name, effect: r.Effect, prg: prg})
	}
	return e, nil
}

// RiskMode resolves the effective risk mode at this instant: yolo only while
// armed and unexpired.
func (e *Engine) RiskMode(ctx context.Context) string {
	until, err := e.risk.YoloArmedUntil(ctx)
	if err != nil || until.IsZero() || time.Now().After(until) {
		return RiskSecure
	}
	return RiskYolo
}

// Decide evaluates the rule chain in order; the first rule whose expression
// is true determines the outcome. An empty chain result falls back to
// require-approval.
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, string, error) {
	risk := e.RiskMode(ctx)
	input := map[string]any{
		"mode":             req.Mode,
		"risk":             risk,
		"class":            req.Class,
		"paths":            req.Paths,
		"hosts":            req.Hosts,
		"is_network":       req.IsNetwork,
		"is_exec":          req.IsExec,
		"is_skill":         req.IsSkill,
		"signature_status": req.SigStatus,
		"connector_type":   req.ConnectorType,
	}
	if input["paths"] == nil {
		input["paths"] = []string{}
	}
	if input["hosts"] == nil {
		input["hosts"] = []string{}
	}

	for _, r := range e.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return Deny, r.name, titanerr.Wrap(titanerr.KindInternal, "policy.Decide",
				fmt.Sprintf("evaluate rule %q", r.name), err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return Deny, r.name, titanerr.New(titanerr.KindInternal, "policy.Decide",
				fmt.Sprintf("rule %q did not produce a bool", r.name))
		}
		if matched {
			if e.log != nil && r.effect == Deny {
				e.log.SecurityWarning("policy denial", map[string]interface{}{
					"rule": r.name, "class": req.Class, "mode": req.Mode,
				})
			}
			return r.effect, r.name, nil
		}
	}
	return RequireApproval, "default", nil
}
