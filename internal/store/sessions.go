package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// OpenSession records a goal's resumable execution context. The unique
// partial index keeps at most one non-terminal session per goal.
func (s *Store) OpenSession(ctx context.Context, goalID string) (*Session, error) {
	sess := &Session{ID: uuid.New().String(), GoalID: goalID}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, goal_id, step_ordinal, terminal) VALUES (?, ?, 0, 0)
		`, sess.ID, sess.GoalID)
		return err
	})
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.OpenSession", "insert session", err)
	}
	return sess, nil
}

// AdvanceSession records the current step ordinal for crash continuation.
func (s *Store) AdvanceSession(ctx context.Context, goalID string, ordinal int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET step_ordinal = ? WHERE goal_id = ? AND terminal = 0`, ordinal, goalID)
		return err
	})
}

// SuspendSession stamps the suspension point and reason, e.g. while a step
// waits on an approval.
func (s *Store) SuspendSession(ctx context.Context, goalID, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET suspended_at = ?, resume_reason = ? WHERE goal_id = ? AND terminal = 0
		`, time.Now().UTC(), reason, goalID)
		return err
	})
}

// CloseSession terminalizes a goal's live session.
func (s *Store) CloseSession(ctx context.Context, goalID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE sessions SET terminal = 1 WHERE goal_id = ? AND terminal = 0`, goalID)
		return err
	})
}

// LiveSession loads the goal's non-terminal session, if any.
func (s *Store) LiveSession(ctx context.Context, goalID string) (*Session, error) {
	var sess Session
	var suspended sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, step_ordinal, suspended_at, resume_reason, terminal
		FROM sessions WHERE goal_id = ? AND terminal = 0`, goalID).
		Scan(&sess.ID, &sess.GoalID, &sess.StepOrdinal, &suspended, &sess.ResumeReason, &sess.Terminal)
	if err == sql.ErrNoRows {
		return nil, titanerr.New(titanerr.KindNotFound, "store.LiveSession", "no live session for goal "+goalID)
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.LiveSession", "scan session", err)
	}
	if suspended.Valid {
		sess.SuspendedAt = &suspended.Time
	}
	return &sess, nil
}

// RecentDeliveryReceipts returns the latest outbound-notification attempts.
func (s *Store) RecentDeliveryReceipts(ctx context.Context, limit int) ([]*DeliveryReceipt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, goal_id, attempted_at, delivered, error
		FROM delivery_receipts ORDER BY attempted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.RecentDeliveryReceipts", "query", err)
	}
	defer rows.Close()
	var out []*DeliveryReceipt
	for rows.Next() {
		var r DeliveryReceipt
		if err := rows.Scan(&r.ID, &r.Channel, &r.GoalID, &r.AttemptedAt, &r.Delivered, &r.Error); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.RecentDeliveryReceipts", "scan", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// RecordDeliveryReceipt persists one outbound-notification attempt.
func (s *Store) RecordDeliveryReceipt(ctx context.Context, r *DeliveryReceipt) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.AttemptedAt.IsZero() {
		r.AttemptedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_receipts (id, channel, goal_id, attempted_at, delivered, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, r.Channel, r.GoalID, r.AttemptedAt, r.Delivered, r.Error)
		return err
	})
}
