package store

import "time"

// Goal states. Transitions are monotone: pending → planning → running →
// {done, failed, cancelled}, with awaiting_approval interleaved while
// running.
const (
	GoalPending           = "pending"
	GoalPlanning          = "planning"
	GoalRunning           = "running"
	GoalAwaitingApproval  = "awaiting_approval"
	GoalDone              = "done"
	GoalFailed            = "failed"
	GoalCancelled         = "cancelled"
)

// Step states.
const (
	StepQueued            = "queued"
	StepAwaitingApproval  = "awaiting_approval"
	StepRunning           = "running"
	StepOK                = "ok"
	StepFailed            = "failed"
	StepSkipped           = "skipped"
)

// Approval decisions.
const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionDenied   = "denied"
	DecisionTimeout  = "timeout"
)

// Capability classes shared by tools, steps and policy.
const (
	ClassRead  = "READ"
	ClassWrite = "WRITE"
	ClassExec  = "EXEC"
	ClassNet   = "NET"
)

// GoalTerminal reports whether a goal state admits no further transitions.
func GoalTerminal(state string) bool {
	return state == GoalDone || state == GoalFailed || state == GoalCancelled
}

// StepTerminal reports whether a step state admits no further transitions.
func StepTerminal(state string) bool {
	return state == StepOK || state == StepFailed || state == StepSkipped
}

// Goal is a user-submitted intent that becomes a plan and steps.
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Origin      string     `json:"origin"`
	Channel     string     `json:"channel"`
	DedupeKey   string     `json:"dedupe_key,omitempty"`
	State       string     `json:"state"`
	TimeoutSec  int        `json:"timeout_seconds,omitempty"`
	MaxRetries  int        `json:"max_retries,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Plan is the selected candidate decomposition of a goal, plus everything
// the planner considered. Plans are immutable once written.
type Plan struct {
	ID         string    `json:"id"`
	GoalID     string    `json:"goal_id"`
	Candidates string    `json:"candidates"` // canonical JSON of every candidate considered
	SelectedID string    `json:"selected_id"`
	Rationale  string    `json:"rationale"`
	CreatedAt  time.Time `json:"created_at"`
}

// Step is a single typed tool invocation within a plan. Ordinals are dense
// from 0 within a plan.
type Step struct {
	ID          string     `json:"id"`
	PlanID      string     `json:"plan_id"`
	GoalID      string     `json:"goal_id"`
	Ordinal     int        `json:"ordinal"`
	Tool        string     `json:"tool"`
	Args        string     `json:"args"` // canonical JSON
	ArgsDigest  string     `json:"args_digest"`
	Class       string     `json:"class"`
	ConnectorID string     `json:"connector_id,omitempty"`
	State       string     `json:"state"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TraceEvent is an append-only audit record. Seq is monotone and contiguous
// within a goal, generated inside the same transaction as the write it
// describes.
type TraceEvent struct {
	ID       string    `json:"id"`
	GoalID   string    `json:"goal_id"`
	StepID   string    `json:"step_id,omitempty"`
	Seq      int64     `json:"seq"`
	Kind     string    `json:"kind"`
	Payload  string    `json:"payload"`
	RiskMode string    `json:"risk_mode"`
	At       time.Time `json:"at"`
}

// Approval is a durable request for a human decision gating a step. Rows are
// never deleted on resolution; they remain for audit.
type Approval struct {
	ID          string     `json:"id"`
	GoalID      string     `json:"goal_id"`
	StepID      string     `json:"step_id,omitempty"`
	Tool        string     `json:"tool"`
	Scopes      string     `json:"scopes"` // JSON array
	Paths       string     `json:"paths"`  // JSON array
	Hosts       string     `json:"hosts"`  // JSON array
	BundleHash  string     `json:"bundle_hash,omitempty"`
	SigStatus   string     `json:"signature_status,omitempty"`
	Deadline    time.Time  `json:"deadline"`
	Decision    string     `json:"decision"`
	Resolver    string     `json:"resolver,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Episode is the episodic memory row written on goal terminalization.
type Episode struct {
	ID        string    `json:"id"`
	GoalID    string    `json:"goal_id"`
	Summary   string    `json:"summary"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Fact is an append-only semantic fact or procedural strategy. Editing a
// fact produces a new version rather than rewriting the row.
type Fact struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Content    string    `json:"content"`
	Version    int       `json:"version"`
	Provenance string    `json:"provenance"` // JSON: {goal_id, step_id} chain
	CreatedAt  time.Time `json:"created_at"`
}

// Job is a persistent schedule that spawns goals. Exactly one of the
// schedule kinds applies.
const (
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`  // interval | cron
	Value      string     `json:"value"` // duration string or five-field cron expression
	Template   string     `json:"template"`
	Mode       string     `json:"mode"`
	Scopes     string     `json:"scopes"` // JSON array
	Enabled    bool       `json:"enabled"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// JobRun records one firing of a job.
type JobRun struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	GoalID     string     `json:"goal_id,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// InstalledSkill mirrors a lockfile entry plus runtime bookkeeping.
type InstalledSkill struct {
	Slug          string     `json:"slug"`
	Version       string     `json:"version"`
	Source        string     `json:"source"`
	BundleHash    string     `json:"bundle_hash"`
	Scopes        string     `json:"scopes"`        // JSON array
	AllowedPaths  string     `json:"allowed_paths"` // JSON array
	AllowedHosts  string     `json:"allowed_hosts"` // JSON array
	SigStatus     string     `json:"signature_status"`
	LastRunGoalID string     `json:"last_run_goal_id,omitempty"`
	NeedsReview   bool       `json:"needs_review"`
	InstalledAt   time.Time  `json:"installed_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Connector holds non-secret metadata for one external API wrapper. The
// credential itself lives behind the Secrets interface, never here.
type Connector struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Fields    string    `json:"fields"` // JSON object of non-secret settings
	SecretKey string    `json:"secret_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a goal's resumable execution context across restarts. At most
// one non-terminal session exists per goal.
type Session struct {
	ID           string     `json:"id"`
	GoalID       string     `json:"goal_id"`
	StepOrdinal  int        `json:"step_ordinal"`
	SuspendedAt  *time.Time `json:"suspended_at,omitempty"`
	ResumeReason string     `json:"resume_reason,omitempty"`
	Terminal     bool       `json:"terminal"`
}

// DeliveryReceipt records one outbound-notification attempt per channel.
type DeliveryReceipt struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	GoalID      string    `json:"goal_id"`
	AttemptedAt time.Time `json:"attempted_at"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
}
