package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

func insertApproval(ctx context.Context, tx *sql.Tx, ap *Approval) error {
	if ap.ID == "" {
		ap.ID = uuid.New().String()
	}
	if ap.Decision == "" {
		ap.Decision = DecisionPending
	}
	if ap.RequestedAt.IsZero() {
		ap.RequestedAt = time.Now().UTC()
	}
	if ap.Scopes == "" {
		ap.Scopes = "[]"
	}
	if ap.Paths == "" {
		ap.Paths = "[]"
	}
	if ap.Hosts == "" {
		ap.Hosts = "[]"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO approvals (id, goal_id, step_id, tool, scopes, paths, hosts, bundle_hash, signature_status, deadline, decision, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ap.ID, ap.GoalID, nullable(ap.StepID), ap.Tool, ap.Scopes, ap.Paths, ap.Hosts,
		ap.BundleHash, ap.SigStatus, ap.Deadline, ap.Decision, ap.RequestedAt)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.insertApproval", "insert approval", err)
	}
	return nil
}

// CreateApproval persists a new pending approval.
func (s *Store) CreateApproval(ctx context.Context, ap *Approval) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertApproval(ctx, tx, ap)
	})
}

// GetApproval loads one approval by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, step_id, tool, scopes, paths, hosts, bundle_hash, signature_status, deadline, decision, resolver, reason, requested_at, resolved_at
		FROM approvals WHERE id = ?`, id)
	ap, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, titanerr.New(titanerr.KindNotFound, "store.GetApproval", "no approval "+id)
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.GetApproval", "scan approval", err)
	}
	return ap, nil
}

func scanApproval(r rowScanner) (*Approval, error) {
	var ap Approval
	var stepID sql.NullString
	var resolved sql.NullTime
	if err := r.Scan(&ap.ID, &ap.GoalID, &stepID, &ap.Tool, &ap.Scopes, &ap.Paths, &ap.Hosts,
		&ap.BundleHash, &ap.SigStatus, &ap.Deadline, &ap.Decision, &ap.Resolver, &ap.Reason,
		&ap.RequestedAt, &resolved); err != nil {
		return nil, err
	}
	if stepID.Valid {
		ap.StepID = stepID.String
	}
	if resolved.Valid {
		ap.ResolvedAt = &resolved.Time
	}
	return &ap, nil
}

// ListApprovals returns approvals, optionally only pending ones.
func (s *Store) ListApprovals(ctx context.Context, pendingOnly bool) ([]*Approval, error) {
	q := `SELECT id, goal_id, step_id, tool, scopes, paths, hosts, bundle_hash, signature_status, deadline, decision, resolver, reason, requested_at, resolved_at
		FROM approvals`
	if pendingOnly {
		q += ` WHERE decision = 'pending'`
	}
	q += ` ORDER BY requested_at DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListApprovals", "query approvals", err)
	}
	defer rows.Close()
	var out []*Approval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListApprovals", "scan approval", err)
		}
		out = append(out, ap)
	}
	return out, rows.Err()
}

// ClaimPendingApproval records a decision on a pending approval with a
// conditional update. The previous decision is returned so racing resolvers
// observe "already resolved" instead of silently double-writing.
func (s *Store) ClaimPendingApproval(ctx context.Context, id, resolver, decision, reason string) (previous string, err error) {
	switch decision {
	case DecisionApproved, DecisionDenied, DecisionTimeout:
	default:
		return "", titanerr.New(titanerr.KindValidation, "store.ClaimPendingApproval", "bad decision "+decision)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT decision FROM approvals WHERE id = ?`, id).Scan(&previous); err != nil {
			if err == sql.ErrNoRows {
				return titanerr.New(titanerr.KindNotFound, "store.ClaimPendingApproval", "no approval "+id)
			}
			return err
		}
		if previous != DecisionPending {
			return titanerr.New(titanerr.KindConflict, "store.ClaimPendingApproval",
				"approval "+id+" already resolved: "+previous)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE approvals SET decision = ?, resolver = ?, reason = ?, resolved_at = ?
			WHERE id = ? AND decision = 'pending'
		`, decision, resolver, reason, time.Now().UTC(), id)
		return err
	})
	return previous, err
}

// PendingApprovalForStep returns the step's still-pending approval, if any,
// so a resumed executor re-awaits it instead of minting a duplicate.
func (s *Store) PendingApprovalForStep(ctx context.Context, stepID string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, step_id, tool, scopes, paths, hosts, bundle_hash, signature_status, deadline, decision, resolver, reason, requested_at, resolved_at
		FROM approvals WHERE step_id = ? AND decision = 'pending' ORDER BY requested_at DESC LIMIT 1`, stepID)
	ap, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.PendingApprovalForStep", "scan approval", err)
	}
	return ap, nil
}

// PendingApprovalDeadlines returns (id, deadline) for every pending
// approval, used by the TTL reaper to wake on the earliest deadline.
func (s *Store) PendingApprovalDeadlines(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, deadline FROM approvals WHERE decision = 'pending'`)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.PendingApprovalDeadlines", "query", err)
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var deadline time.Time
		if err := rows.Scan(&id, &deadline); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.PendingApprovalDeadlines", "scan", err)
		}
		out[id] = deadline
	}
	return out, rows.Err()
}
