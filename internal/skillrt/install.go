package skillrt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/approval"
	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// StagingDir is the scratch subtree installs are staged under, relative to
// the workspace root.
const StagingDir = ".titan/staging"

// SkillsDir is where approved bundles land, relative to the workspace root.
const SkillsDir = "skills"

// LockfileName is the pinned-resolution file at the workspace root.
const LockfileName = "skills.lock"

// Runtime installs and executes skill packages.
type Runtime struct {
	guard     *pathguard.Guard
	broker    *broker.Broker
	approvals *approval.Queue
	store     *store.Store
	log       *logging.Logger
	trustDir  string
}

// NewRuntime wires the skill runtime into the shared components.
func NewRuntime(guard *pathguard.Guard, b *broker.Broker, q *approval.Queue, s *store.Store, log *logging.Logger, trustDir string) *Runtime {
	return &Runtime{guard: guard, broker: b, approvals: q, store: s, log: log, trustDir: trustDir}
}

func (r *Runtime) workspacePath(parts ...string) string {
	return filepath.Join(append([]string{r.guard.Root()}, parts...)...)
}

// InstallOptions tune one install.
type InstallOptions struct {
	Force bool // re-resolve even when the lockfile pins another version
}

// Install runs the full flow: fetch, stage, hash-verify, signature-verify,
// approval, move into place, upsert the installed-skill row, write the
// lockfile. The staged subtree is exempted from workspace drift reporting
// while the install is in flight.
func (r *Runtime) Install(ctx context.Context, reg Registry, slug string, opts InstallOptions) (*store.InstalledSkill, error) {
	staging := r.workspacePath(StagingDir, slug+"-"+uuid.New().String()[:8])
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.Install", "create staging dir", err)
	}
	r.guard.StageExempt(staging)
	defer func() {
		r.guard.UnstageExempt(staging)
		os.RemoveAll(staging)
	}()

	// 1-2. Fetch into staging.
	entry, err := reg.Fetch(ctx, slug, staging)
	if err != nil {
		return nil, err
	}
	manifest, err := LoadManifest(staging)
	if err != nil {
		return nil, err
	}
	if manifest.Slug != slug {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.Install",
			"manifest slug "+manifest.Slug+" does not match requested "+slug)
	}

	// 3. Registry-declared content hash over the staged bundle (required).
	stagedHash, err := BundleHash(staging)
	if err != nil {
		return nil, err
	}
	if entry.Hash == "" || stagedHash != entry.Hash {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.Install",
			"staged bundle hash does not match the registry-declared hash")
	}

	// Lockfile pin check before asking a human to look at it.
	lockPath := r.workspacePath(LockfileName)
	lock, err := ReadLockfile(lockPath)
	if err != nil {
		return nil, err
	}
	if pinned, ok := lock.Skills[slug]; ok && !opts.Force && pinned.Version != manifest.Version {
		return nil, titanerr.New(titanerr.KindConflict, "skillrt.Install",
			"lockfile pins "+slug+" at "+pinned.Version+"; pass force to re-resolve")
	}

	// 4. Optional asymmetric signature against the trust store.
	sigStatus, sigErr := VerifySignature(staging, r.trustDir, manifest, stagedHash)
	if sigStatus == SigInvalid {
		return nil, sigErr
	}

	// Default-deny before the approval is even created.
	if sigStatus != SigSigned {
		if manifest.HasScope(store.ClassExec) {
			return nil, titanerr.New(titanerr.KindPolicy, "skillrt.Install",
				"unsigned skill "+slug+" requests EXEC")
		}
		if manifest.HasScope(store.ClassNet) && manifest.WildcardHosts() {
			return nil, titanerr.New(titanerr.KindPolicy, "skillrt.Install",
				"unsigned skill "+slug+" requests NET without a bounded host allowlist")
		}
	}

	// 5. Approval carrying the full install context.
	scopesJSON, _ := json.Marshal(manifest.Scopes)
	pathsJSON, _ := json.Marshal(manifest.AllowedPaths)
	hostsJSON, _ := json.Marshal(manifest.AllowedHosts)
	ap := &store.Approval{
		Tool:       "skill_install:" + slug + "@" + manifest.Version,
		Scopes:     string(scopesJSON),
		Paths:      string(pathsJSON),
		Hosts:      string(hostsJSON),
		BundleHash: stagedHash,
		SigStatus:  sigStatus,
	}
	if err := r.approvals.Create(ctx, ap); err != nil {
		return nil, err
	}
	decision, err := r.approvals.Await(ctx, ap.ID)
	if err != nil {
		return nil, err
	}
	switch decision {
	case store.DecisionApproved:
	case store.DecisionTimeout:
		return nil, titanerr.New(titanerr.KindApproval, "skillrt.Install", "approval_timeout")
	default:
		return nil, titanerr.New(titanerr.KindApproval, "skillrt.Install", "install of "+slug+" denied")
	}

	// 6. Move into place, upsert the row, write the lockfile.
	dest := r.workspacePath(SkillsDir, slug, manifest.Version)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.Install", "create skills dir", err)
	}
	os.RemoveAll(dest)
	if err := os.Rename(staging, dest); err != nil {
		// cross-device fallback
		if err := copyTree(staging, dest); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.Install", "move bundle into place", err)
		}
		os.RemoveAll(staging)
	}

	installed := &store.InstalledSkill{
		Slug:         slug,
		Version:      manifest.Version,
		Source:       entry.Location,
		BundleHash:   stagedHash,
		Scopes:       string(scopesJSON),
		AllowedPaths: string(pathsJSON),
		AllowedHosts: string(hostsJSON),
		SigStatus:    sigStatus,
	}
	if err := r.store.UpsertInstalledSkill(ctx, installed); err != nil {
		return nil, err
	}

	if err := lock.Pin(slug, LockEntry{Version: manifest.Version, Source: entry.Location, Hash: stagedHash}, opts.Force); err != nil {
		return nil, err
	}
	if err := lock.Write(lockPath); err != nil {
		return nil, err
	}

	r.log.Info("skill installed", map[string]interface{}{
		"slug": slug, "version": manifest.Version, "signature": sigStatus,
	})
	return installed, nil
}

// Remove deletes a skill's bundle directory, row and lockfile pin.
func (r *Runtime) Remove(ctx context.Context, slug string) error {
	if err := r.store.RemoveInstalledSkill(ctx, slug); err != nil {
		return err
	}
	os.RemoveAll(r.workspacePath(SkillsDir, slug))

	lockPath := r.workspacePath(LockfileName)
	lock, err := ReadLockfile(lockPath)
	if err != nil {
		return err
	}
	delete(lock.Skills, slug)
	return lock.Write(lockPath)
}

// Validate re-checks an installed skill's bundle against its recorded hash
// and the lockfile, for skill doctor/validate.
func (r *Runtime) Validate(ctx context.Context, slug string) error {
	installed, err := r.store.GetInstalledSkill(ctx, slug)
	if err != nil {
		return err
	}
	dir := r.workspacePath(SkillsDir, slug, installed.Version)
	hash, err := BundleHash(dir)
	if err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "skillrt.Validate", "bundle missing or unreadable", err)
	}
	if hash != installed.BundleHash {
		return titanerr.New(titanerr.KindValidation, "skillrt.Validate",
			"bundle on disk does not match the installed hash")
	}
	lock, err := ReadLockfile(r.workspacePath(LockfileName))
	if err != nil {
		return err
	}
	pin, ok := lock.Skills[slug]
	if !ok {
		return titanerr.New(titanerr.KindValidation, "skillrt.Validate", "installed skill has no lockfile entry")
	}
	if pin.Version != installed.Version || pin.Hash != installed.BundleHash {
		return titanerr.New(titanerr.KindValidation, "skillrt.Validate", "lockfile entry does not match the installed row")
	}
	return nil
}

// InstalledManifest loads the manifest of an installed skill.
func (r *Runtime) InstalledManifest(ctx context.Context, slug string) (*Manifest, *store.InstalledSkill, error) {
	installed, err := r.store.GetInstalledSkill(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	m, err := LoadManifest(r.workspacePath(SkillsDir, slug, installed.Version))
	if err != nil {
		return nil, nil, err
	}
	return m, installed, nil
}
