package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// WriteEpisode records the episodic memory row created on goal
// terminalization.
func (s *Store) WriteEpisode(ctx context.Context, ep *Episode) error {
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO episodes (id, goal_id, summary, outcome, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, ep.ID, ep.GoalID, ep.Summary, ep.Outcome, ep.CreatedAt)
		return err
	})
}

// RecentEpisodes returns the latest episodes, newest first, for planner
// memory context.
func (s *Store) RecentEpisodes(ctx context.Context, limit int) ([]*Episode, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, summary, outcome, created_at FROM episodes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.RecentEpisodes", "query", err)
	}
	defer rows.Close()
	var out []*Episode
	for rows.Next() {
		var ep Episode
		if err := rows.Scan(&ep.ID, &ep.GoalID, &ep.Summary, &ep.Outcome, &ep.CreatedAt); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.RecentEpisodes", "scan", err)
		}
		out = append(out, &ep)
	}
	return out, rows.Err()
}

// AppendFact stores a new fact version. Facts are append-only: the caller
// never updates an existing row, it writes version+1.
func (s *Store) AppendFact(ctx context.Context, f *Fact) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Provenance == "" {
		f.Provenance = "{}"
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if f.Version == 0 {
			var maxVer sql.NullInt64
			if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM facts WHERE topic = ?`, f.Topic).Scan(&maxVer); err != nil {
				return err
			}
			f.Version = 1
			if maxVer.Valid {
				f.Version = int(maxVer.Int64) + 1
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO facts (id, topic, content, version, provenance, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, f.ID, f.Topic, f.Content, f.Version, f.Provenance, f.CreatedAt)
		return err
	})
}

// FactsForTopic returns the newest version of each matching fact topic,
// or all versions when allVersions is set.
func (s *Store) FactsForTopic(ctx context.Context, topic string, allVersions bool) ([]*Fact, error) {
	q := `SELECT id, topic, content, version, provenance, created_at FROM facts WHERE topic = ?`
	if !allVersions {
		q += ` AND version = (SELECT MAX(version) FROM facts WHERE topic = ?)`
	}
	q += ` ORDER BY version`
	args := []any{topic}
	if !allVersions {
		args = append(args, topic)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.FactsForTopic", "query", err)
	}
	defer rows.Close()
	var out []*Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Topic, &f.Content, &f.Version, &f.Provenance, &f.CreatedAt); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.FactsForTopic", "scan", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
