// Package gateway is the single ingress for inbound events. Chat adapters,
// the CLI, the HTTP surface, the scheduler and the session-resume scan all
// translate their shapes into one Event envelope and call Ingest.
package gateway

import (
	"context"
	"strings"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/runexec"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Payload kinds.
const (
	KindGoalSubmission   = "goal-submission"
	KindApprovalDecision = "approval-decision"
	KindCancel           = "cancel"
	KindSchedulerTick    = "scheduler-tick"
)

// Event is the single envelope every surface adapts to.
type Event struct {
	Origin        string `json:"origin"`         // cli | http | chat | scheduler | resume
	ChannelTarget string `json:"channel_target"` // where replies go
	ActorID       string `json:"actor_id"`
	PayloadKind   string `json:"payload_kind"`
	Payload       Payload `json:"payload"`
}

// Payload carries the kind-specific fields; unused ones stay zero.
type Payload struct {
	// goal-submission
	Description string `json:"description,omitempty"`
	DedupeKey   string `json:"dedupe_key,omitempty"`
	TimeoutSec  int    `json:"timeout_seconds,omitempty"`
	MaxRetries  int    `json:"max_retries,omitempty"`
	// approval-decision
	ApprovalID string `json:"approval_id,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Reason     string `json:"reason,omitempty"`
	// cancel
	GoalID string `json:"goal_id,omitempty"`
}

// Gateway routes events into the run executor and the approval queue.
type Gateway struct {
	store     *store.Store
	executor  *runexec.Executor
	approvals *approval.Queue
	notify    *Notifier
	log       *logging.Logger
}

// New wires the gateway.
func New(s *store.Store, e *runexec.Executor, q *approval.Queue, n *Notifier, log *logging.Logger) *Gateway {
	return &Gateway{store: s, executor: e, approvals: q, notify: n, log: log}
}

// Ingest accepts one event. For goal submissions it returns the created
// goal id.
func (g *Gateway) Ingest(ctx context.Context, ev Event) (string, error) {
	switch ev.PayloadKind {
	case KindGoalSubmission:
		return g.submitGoal(ctx, ev)
	case KindApprovalDecision:
		return "", g.approvals.Resolve(ctx, ev.Payload.ApprovalID, ev.ActorID, ev.Payload.Decision, ev.Payload.Reason)
	case KindCancel:
		return "", g.executor.Cancel(ctx, ev.Payload.GoalID)
	case KindSchedulerTick:
		// Scheduler ticks arrive pre-shaped as goal submissions; a bare
		// tick is a no-op kept for adapter symmetry.
		return "", nil
	default:
		return "", titanerr.New(titanerr.KindValidation, "gateway.Ingest", "unknown payload kind "+ev.PayloadKind)
	}
}

func (g *Gateway) submitGoal(ctx context.Context, ev Event) (string, error) {
	if strings.TrimSpace(ev.Payload.Description) == "" {
		return "", titanerr.New(titanerr.KindValidation, "gateway.submitGoal", "goal description is empty")
	}
	goal := &store.Goal{
		Description: ev.Payload.Description,
		Origin:      ev.Origin,
		Channel:     ev.ChannelTarget,
		DedupeKey:   ev.Payload.DedupeKey,
		TimeoutSec:  ev.Payload.TimeoutSec,
		MaxRetries:  ev.Payload.MaxRetries,
	}
	if err := g.store.CreateGoal(ctx, goal); err != nil {
		return "", err
	}
	g.log.Info("goal accepted", map[string]interface{}{
		"goal_id": goal.ID, "origin": ev.Origin, "actor": ev.ActorID,
	})
	g.executor.Submit(goal.ID)
	return goal.ID, nil
}

// SubmitJobGoal implements scheduler.Submitter: a due job becomes a
// synthetic inbound event whose description is the job's template.
func (g *Gateway) SubmitJobGoal(ctx context.Context, job *store.Job) (string, error) {
	return g.Ingest(ctx, Event{
		Origin:        "scheduler",
		ChannelTarget: "scheduler:" + job.Name,
		ActorID:       "scheduler",
		PayloadKind:   KindGoalSubmission,
		Payload:       Payload{Description: job.Template},
	})
}
