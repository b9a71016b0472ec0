// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	JSON bool `help:"Machine-readable JSON output for list/show commands." name:"json"`

	Run     RunCmd     `cmd:"" help:"Run the runtime (gateway, executor, scheduler, HTTP surface)"`
	Doctor  DoctorCmd  `cmd:"" help:"Check configuration, store and workspace health"`
	Onboard OnboardCmd `cmd:"" aliases:"setup" help:"Write an initial configuration"`

	Goal      GoalCmd      `cmd:"" help:"Submit, show or cancel goals"`
	Tool      ToolCmd      `cmd:"" help:"Run or list registered tools"`
	Approval  ApprovalCmd  `cmd:"" help:"List and resolve pending approvals"`
	Skill     SkillCmd     `cmd:"" help:"Search, install and run skill packages"`
	Job       JobCmd       `cmd:"" help:"Manage scheduled jobs"`
	Connector ConnectorCmd `cmd:"" help:"Manage external connectors"`
	Secrets   SecretsCmd   `cmd:"" help:"Inspect and toggle the secrets envelope"`
	Model     ModelCmd     `cmd:"" help:"Show or set the inference model"`
	Comm      CommCmd      `cmd:"" help:"Inspect and exercise outbound channels"`
	Yolo      YoloCmd      `cmd:"" help:"Arm or disarm the time-boxed risk bypass"`

	Version VersionCmd `cmd:"" help:"Show version information"`
}

// GoalCmd groups the goal lifecycle subcommands.
type GoalCmd struct {
	Submit GoalSubmitCmd `cmd:"" help:"Submit a goal"`
	Show   GoalShowCmd   `cmd:"" help:"Show a goal with its steps and traces"`
	Cancel GoalCancelCmd `cmd:"" help:"Request cooperative cancellation"`
	List   GoalListCmd   `cmd:"" help:"List goals"`
}

type GoalSubmitCmd struct {
	Text       string `arg:"" help:"Goal description"`
	DedupeKey  string `help:"Reject duplicates while a goal with this key is live"`
	Timeout    int    `help:"Goal timeout in seconds"`
	MaxRetries int    `help:"Per-step retry budget"`
	Wait       bool   `help:"Block until the goal terminalizes"`
}

type GoalShowCmd struct {
	ID     string `arg:"" help:"Goal id"`
	Traces bool   `help:"Include the trace log"`
}

type GoalCancelCmd struct {
	ID string `arg:"" help:"Goal id"`
}

type GoalListCmd struct {
	State string `help:"Filter by state"`
}

// ToolCmd groups tool subcommands.
type ToolCmd struct {
	Run  ToolRunCmd  `cmd:"" help:"Invoke a tool directly"`
	List ToolListCmd `cmd:"" help:"List registered tools"`
}

type ToolRunCmd struct {
	Name  string `arg:"" help:"Tool name"`
	Input string `short:"i" default:"{}" help:"JSON arguments"`
}

type ToolListCmd struct{}

// ApprovalCmd groups approval subcommands.
type ApprovalCmd struct {
	List    ApprovalListCmd    `cmd:"" help:"List approvals"`
	Show    ApprovalShowCmd    `cmd:"" help:"Show one approval"`
	Approve ApprovalApproveCmd `cmd:"" help:"Approve a pending request"`
	Deny    ApprovalDenyCmd    `cmd:"" help:"Deny a pending request"`
	Wait    ApprovalWaitCmd    `cmd:"" help:"Block until an approval resolves"`
}

type ApprovalListCmd struct {
	Pending bool `help:"Only pending approvals"`
}

type ApprovalShowCmd struct {
	ID string `arg:"" help:"Approval id"`
}

type ApprovalApproveCmd struct {
	ID     string `arg:"" help:"Approval id"`
	Reason string `help:"Recorded with the decision"`
}

type ApprovalDenyCmd struct {
	ID     string `arg:"" help:"Approval id"`
	Reason string `help:"Recorded with the decision"`
}

type ApprovalWaitCmd struct {
	ID string `arg:"" help:"Approval id"`
}

// SkillCmd groups skill subcommands.
type SkillCmd struct {
	Search   SkillSearchCmd   `cmd:"" help:"Search a registry"`
	Install  SkillInstallCmd  `cmd:"" help:"Install a skill (approval-gated)"`
	List     SkillListCmd     `cmd:"" help:"List installed skills"`
	Inspect  SkillInspectCmd  `cmd:"" help:"Show an installed skill's manifest"`
	Update   SkillUpdateCmd   `cmd:"" help:"Re-resolve and reinstall a skill"`
	Remove   SkillRemoveCmd   `cmd:"" help:"Remove an installed skill"`
	Run      SkillRunCmd      `cmd:"" help:"Execute an installed skill"`
	Doctor   SkillDoctorCmd   `cmd:"" help:"Validate every installed skill"`
	Validate SkillValidateCmd `cmd:"" help:"Validate one installed skill"`
	Keygen   SkillKeygenCmd   `cmd:"" help:"Generate a signing key pair"`
	Sign     SkillSignCmd     `cmd:"" help:"Sign a bundle directory"`
}

type SkillSearchCmd struct {
	Source string `arg:"" help:"Registry source (directory, git URL, or HTTP index)"`
	Query  string `arg:"" optional:"" help:"Filter by slug or description"`
}

type SkillInstallCmd struct {
	Source string `arg:"" help:"Registry source"`
	Slug   string `arg:"" help:"Skill slug"`
	Force  bool   `help:"Override the lockfile pin"`
}

type SkillListCmd struct{}

type SkillInspectCmd struct {
	Slug string `arg:"" help:"Skill slug"`
}

type SkillUpdateCmd struct {
	Source string `arg:"" help:"Registry source"`
	Slug   string `arg:"" help:"Skill slug"`
	Force  bool   `help:"Re-resolve past the lockfile pin"`
}

type SkillRemoveCmd struct {
	Slug string `arg:"" help:"Skill slug"`
}

type SkillRunCmd struct {
	Slug  string `arg:"" help:"Skill slug"`
	Input string `short:"i" default:"{}" help:"JSON input"`
}

type SkillDoctorCmd struct{}

type SkillValidateCmd struct {
	Slug string `arg:"" help:"Skill slug"`
}

type SkillKeygenCmd struct {
	Output string `short:"o" default:"titan-key" help:"Output path prefix (creates .pem and .pub)"`
}

type SkillSignCmd struct {
	Dir string `arg:"" help:"Bundle directory"`
	Key string `arg:"" help:"Private key path"`
}

// JobCmd groups job subcommands.
type JobCmd struct {
	Add    JobAddCmd    `cmd:"" help:"Create a job"`
	List   JobListCmd   `cmd:"" help:"List jobs"`
	Show   JobShowCmd   `cmd:"" help:"Show a job and its runs"`
	Pause  JobPauseCmd  `cmd:"" help:"Disable a job"`
	Resume JobResumeCmd `cmd:"" help:"Re-enable a job"`
	RunNow JobRunNowCmd `cmd:"" name:"run-now" help:"Fire a job immediately"`
	Remove JobRemoveCmd `cmd:"" help:"Delete a job and its runs"`
}

type JobAddCmd struct {
	Name     string `arg:"" help:"Job name"`
	Template string `arg:"" help:"Goal template fired per run"`
	Interval string `help:"Interval schedule, e.g. 15m" xor:"schedule" required:""`
	Cron     string `help:"Five-field cron schedule" xor:"schedule"`
	Mode     string `help:"Autonomy mode override recorded on the job"`
}

type JobListCmd struct{}

type JobShowCmd struct {
	Ref string `arg:"" help:"Job id or name"`
}

type JobPauseCmd struct {
	Ref string `arg:"" help:"Job id or name"`
}

type JobResumeCmd struct {
	Ref string `arg:"" help:"Job id or name"`
}

type JobRunNowCmd struct {
	Ref string `arg:"" help:"Job id or name"`
}

type JobRemoveCmd struct {
	Ref string `arg:"" help:"Job id or name"`
}

// ConnectorCmd groups connector subcommands.
type ConnectorCmd struct {
	List      ConnectorListCmd      `cmd:"" help:"List connectors"`
	Add       ConnectorAddCmd       `cmd:"" help:"Add a connector"`
	Configure ConnectorConfigureCmd `cmd:"" help:"Update a connector's non-secret fields"`
	Test      ConnectorTestCmd      `cmd:"" help:"Probe a connector's credential and endpoint"`
	Remove    ConnectorRemoveCmd    `cmd:"" help:"Remove a connector"`
}

type ConnectorListCmd struct{}

type ConnectorAddCmd struct {
	Type      string `arg:"" help:"Connector type (github, webhook)"`
	Name      string `arg:"" help:"Display name"`
	Fields    string `default:"{}" help:"JSON object of non-secret fields (base_url, ...)"`
	SecretKey string `help:"Secrets key the credential resolves from"`
}

type ConnectorConfigureCmd struct {
	Ref       string `arg:"" help:"Connector id or name"`
	Fields    string `default:"{}" help:"JSON object of non-secret fields"`
	SecretKey string `help:"Secrets key the credential resolves from"`
}

type ConnectorTestCmd struct {
	Ref string `arg:"" help:"Connector id or name"`
}

type ConnectorRemoveCmd struct {
	Ref string `arg:"" help:"Connector id or name"`
}

// SecretsCmd groups secrets subcommands.
type SecretsCmd struct {
	Status SecretsStatusCmd `cmd:"" help:"Show envelope status"`
	Unlock SecretsUnlockCmd `cmd:"" help:"Unlock the envelope for this process"`
	Lock   SecretsLockCmd   `cmd:"" help:"Lock the envelope"`
}

type SecretsStatusCmd struct{}
type SecretsUnlockCmd struct{}
type SecretsLockCmd struct{}

// ModelCmd groups model subcommands.
type ModelCmd struct {
	Show      ModelShowCmd      `cmd:"" help:"Show the configured provider and model"`
	Set       ModelSetCmd       `cmd:"" help:"Set the model in the config file"`
	ListLocal ModelListLocalCmd `cmd:"" name:"list-local" help:"List models on the local endpoint"`
}

type ModelShowCmd struct{}

type ModelSetCmd struct {
	Model string `arg:"" help:"Model identifier"`
}

type ModelListLocalCmd struct{}

// CommCmd groups outbound-channel subcommands.
type CommCmd struct {
	List   CommListCmd   `cmd:"" help:"List registered channels"`
	Status CommStatusCmd `cmd:"" help:"Show recent delivery receipts"`
	Send   CommSendCmd   `cmd:"" help:"Send a message through a channel"`
}

type CommListCmd struct{}

type CommStatusCmd struct{}

type CommSendCmd struct {
	Channel string `arg:"" help:"Channel name"`
	Message string `arg:"" help:"Message text"`
	Target  string `help:"Channel-specific target"`
}

// YoloCmd groups risk-bypass subcommands. Arming is only reachable from
// this local terminal surface.
type YoloCmd struct {
	Arm    YoloArmCmd    `cmd:"" help:"Arm the bypass for a bounded duration"`
	Disarm YoloDisarmCmd `cmd:"" help:"Disarm immediately"`
	Status YoloStatusCmd `cmd:"" help:"Show arming state"`
}

type YoloArmCmd struct {
	Duration string `arg:"" help:"How long to arm, e.g. 60s or 10m"`
}

type YoloDisarmCmd struct{}
type YoloStatusCmd struct{}

// RunCmd starts the long-running runtime.
type RunCmd struct {
	Workspace string `help:"Workspace directory override"`
	Config    string `help:"Config file path override"`
	Workers   int    `default:"4" help:"Executor worker count"`
}

// DoctorCmd checks the installation.
type DoctorCmd struct{}

// OnboardCmd writes an initial config.
type OnboardCmd struct {
	Workspace string `help:"Workspace directory to record"`
	Mode      string `default:"collaborative" help:"Autonomy mode (supervised, collaborative, autonomous)"`
}

// VersionCmd shows version information.
type VersionCmd struct{}
