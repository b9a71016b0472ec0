package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// UpsertInstalledSkill records an install or update for one slug.
func (s *Store) UpsertInstalledSkill(ctx context.Context, sk *InstalledSkill) error {
	if sk.InstalledAt.IsZero() {
		sk.InstalledAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO installed_skills (slug, version, source, bundle_hash, scopes, allowed_paths, allowed_hosts, signature_status, last_run_goal_id, needs_review, installed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(slug) DO UPDATE SET
				version = excluded.version,
				source = excluded.source,
				bundle_hash = excluded.bundle_hash,
				scopes = excluded.scopes,
				allowed_paths = excluded.allowed_paths,
				allowed_hosts = excluded.allowed_hosts,
				signature_status = excluded.signature_status,
				needs_review = excluded.needs_review,
				updated_at = ?
		`, sk.Slug, sk.Version, sk.Source, sk.BundleHash, sk.Scopes, sk.AllowedPaths, sk.AllowedHosts,
			sk.SigStatus, sk.LastRunGoalID, sk.NeedsReview, sk.InstalledAt, time.Now().UTC())
		return err
	})
}

// GetInstalledSkill loads one installed skill by slug.
func (s *Store) GetInstalledSkill(ctx context.Context, slug string) (*InstalledSkill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slug, version, source, bundle_hash, scopes, allowed_paths, allowed_hosts, signature_status, last_run_goal_id, needs_review, installed_at, updated_at
		FROM installed_skills WHERE slug = ?`, slug)
	sk, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return nil, titanerr.New(titanerr.KindNotFound, "store.GetInstalledSkill", "skill "+slug+" is not installed")
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.GetInstalledSkill", "scan skill", err)
	}
	return sk, nil
}

func scanSkill(r rowScanner) (*InstalledSkill, error) {
	var sk InstalledSkill
	var updated sql.NullTime
	if err := r.Scan(&sk.Slug, &sk.Version, &sk.Source, &sk.BundleHash, &sk.Scopes, &sk.AllowedPaths,
		&sk.AllowedHosts, &sk.SigStatus, &sk.LastRunGoalID, &sk.NeedsReview, &sk.InstalledAt, &updated); err != nil {
		return nil, err
	}
	if updated.Valid {
		sk.UpdatedAt = &updated.Time
	}
	return &sk, nil
}

// ListInstalledSkills returns every installed skill ordered by slug.
func (s *Store) ListInstalledSkills(ctx context.Context) ([]*InstalledSkill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, version, source, bundle_hash, scopes, allowed_paths, allowed_hosts, signature_status, last_run_goal_id, needs_review, installed_at, updated_at
		FROM installed_skills ORDER BY slug`)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListInstalledSkills", "query", err)
	}
	defer rows.Close()
	var out []*InstalledSkill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListInstalledSkills", "scan", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// RemoveInstalledSkill deletes one installed skill row.
func (s *Store) RemoveInstalledSkill(ctx context.Context, slug string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM installed_skills WHERE slug = ?`, slug)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return titanerr.New(titanerr.KindNotFound, "store.RemoveInstalledSkill", "skill "+slug+" is not installed")
		}
		return nil
	})
}

// TouchSkillRun records the goal that last exercised a skill.
func (s *Store) TouchSkillRun(ctx context.Context, slug, goalID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE installed_skills SET last_run_goal_id = ? WHERE slug = ?`, goalID, slug)
		return err
	})
}

// MarkSkillForReview flags a skill after a sandbox violation so an operator
// looks at it before its next run.
func (s *Store) MarkSkillForReview(ctx context.Context, slug string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE installed_skills SET needs_review = 1 WHERE slug = ?`, slug)
		return err
	})
}
