package skillrt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/policy"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

type installRig struct {
	runtime *Runtime
	store   *store.Store
	queue   *approval.Queue
	guard   *pathguard.Guard
	trust   string
}

func newInstallRig(t *testing.T) *installRig {
	t.Helper()
	log := logging.New("test")
	guard, err := pathguard.New(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "titan.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	risk := policy.NewStoreRiskState(s, time.Hour)
	pol, err := policy.New(policy.DefaultRules(), risk, log)
	if err != nil {
		t.Fatal(err)
	}
	queue := approval.New(s, log, time.Minute)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	mode := func() string { return policy.ModeAutonomous }
	bk := broker.New(guard, pol, queue, s, log, broker.DefaultLimits(), mode)
	if err := bk.RegisterBuiltins(nil, []string{"*"}); err != nil {
		t.Fatal(err)
	}

	trust := t.TempDir()
	return &installRig{
		runtime: NewRuntime(guard, bk, queue, s, log, trust),
		store:   s,
		queue:   queue,
		guard:   guard,
		trust:   trust,
	}
}

// autoApprove resolves the next pending approval as soon as it appears.
func (r *installRig) autoApprove(t *testing.T, decision string) {
	t.Helper()
	go func() {
		ctx := context.Background()
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			pending, _ := r.store.ListApprovals(ctx, true)
			if len(pending) > 0 {
				r.queue.Resolve(ctx, pending[0].ID, "tester", decision, "")
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()
}

func (r *installRig) registry(t *testing.T, manifest string) Registry {
	t.Helper()
	root := t.TempDir()
	bundle := filepath.Join(root, "doc-updater")
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bundle, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return &DirRegistry{Root: root}
}

func TestInstallApprovedFlow(t *testing.T) {
	rig := newInstallRig(t)
	reg := rig.registry(t, validManifest)
	rig.autoApprove(t, store.DecisionApproved)

	installed, err := rig.runtime.Install(context.Background(), reg, "doc-updater", InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if installed.Version != "1.2.0" || installed.SigStatus != SigUnsigned {
		t.Errorf("unexpected install row: %+v", installed)
	}

	// Bundle landed under <workspace>/skills/<slug>/<version>/.
	dest := filepath.Join(rig.guard.Root(), SkillsDir, "doc-updater", "1.2.0", "manifest.yaml")
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("bundle not in place: %v", err)
	}

	// Lockfile pins the resolution.
	lock, err := ReadLockfile(filepath.Join(rig.guard.Root(), LockfileName))
	if err != nil {
		t.Fatal(err)
	}
	if lock.Skills["doc-updater"].Hash != installed.BundleHash {
		t.Error("lockfile hash does not match the installed row")
	}

	// Validate agrees.
	if err := rig.runtime.Validate(context.Background(), "doc-updater"); err != nil {
		t.Errorf("Validate after install: %v", err)
	}
}

func TestInstallDenied(t *testing.T) {
	rig := newInstallRig(t)
	reg := rig.registry(t, validManifest)
	rig.autoApprove(t, store.DecisionDenied)

	_, err := rig.runtime.Install(context.Background(), reg, "doc-updater", InstallOptions{})
	if !titanerr.Is(err, titanerr.KindApproval) {
		t.Fatalf("denied install: got %v, want approval error", err)
	}
	if _, err := os.Stat(filepath.Join(rig.guard.Root(), SkillsDir, "doc-updater")); !os.IsNotExist(err) {
		t.Error("denied install left a bundle behind")
	}
}

func TestInstallRejectsUnsignedExecSkill(t *testing.T) {
	rig := newInstallRig(t)
	manifest := `schema_version: 1
name: Shell Thing
slug: doc-updater
version: 1.0.0
entrypoint:
  kind: prompt
  target: "tool:exec {}"
scopes: [EXEC]
`
	reg := rig.registry(t, manifest)

	_, err := rig.runtime.Install(context.Background(), reg, "doc-updater", InstallOptions{})
	if !titanerr.Is(err, titanerr.KindPolicy) {
		t.Fatalf("unsigned EXEC skill: got %v, want policy error", err)
	}
	// Rejected before any approval was created.
	approvals, _ := rig.store.ListApprovals(context.Background(), false)
	if len(approvals) != 0 {
		t.Error("rejection created an approval row")
	}
}

func TestInstallRejectsUnsignedUnboundedNetSkill(t *testing.T) {
	rig := newInstallRig(t)
	manifest := `schema_version: 1
name: Fetcher
slug: doc-updater
version: 1.0.0
entrypoint:
  kind: prompt
  target: "tool:http_get {}"
scopes: [NET]
allowed_hosts: ["*"]
`
	reg := rig.registry(t, manifest)
	_, err := rig.runtime.Install(context.Background(), reg, "doc-updater", InstallOptions{})
	if !titanerr.Is(err, titanerr.KindPolicy) {
		t.Fatalf("unsigned wildcard NET skill: got %v, want policy error", err)
	}
}

func TestPromptSkillRunsThroughBroker(t *testing.T) {
	rig := newInstallRig(t)
	manifest := `schema_version: 1
name: Workspace Lister
slug: doc-updater
version: 1.0.0
description: Lists the workspace root.
entrypoint:
  kind: prompt
  target: "tool:ls {\"path\": \".\"}"
scopes: [READ]
`
	reg := rig.registry(t, manifest)
	rig.autoApprove(t, store.DecisionApproved)
	if _, err := rig.runtime.Install(context.Background(), reg, "doc-updater", InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(rig.guard.Root(), "marker.txt"), []byte("x"), 0o644)
	result, err := rig.runtime.Run(context.Background(), "doc-updater", nil, "goal-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Output == "" {
		t.Error("empty skill output")
	}

	installed, _ := rig.store.GetInstalledSkill(context.Background(), "doc-updater")
	if installed.LastRunGoalID != "goal-1" {
		t.Errorf("last_run_goal_id = %q, want goal-1", installed.LastRunGoalID)
	}
}

func TestStubEntrypointsFailClearly(t *testing.T) {
	rig := newInstallRig(t)
	manifest := `schema_version: 1
name: Webhook Thing
slug: doc-updater
version: 1.0.0
entrypoint:
  kind: http
  target: "https://example.com/hook"
scopes: [NET]
allowed_hosts: [example.com]
`
	reg := rig.registry(t, manifest)
	rig.autoApprove(t, store.DecisionApproved)
	if _, err := rig.runtime.Install(context.Background(), reg, "doc-updater", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := rig.runtime.Run(context.Background(), "doc-updater", nil, "")
	if !titanerr.Is(err, titanerr.KindValidation) {
		t.Errorf("http stub: got %v, want clear not-implemented validation error", err)
	}
}
