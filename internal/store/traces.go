package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// appendTrace inserts one trace event inside tx, assigning the next
// per-goal sequence number in the same transaction.
func appendTrace(ctx context.Context, tx *sql.Tx, ev *TraceEvent) error {
	seq, err := nextTraceSeq(tx, ev.GoalID)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.appendTrace", "sequence", err)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.RiskMode == "" {
		ev.RiskMode = "secure"
	}
	ev.Seq = seq
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trace_events (id, goal_id, step_id, seq, kind, payload, risk_mode, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.GoalID, nullable(ev.StepID), ev.Seq, ev.Kind, ev.Payload, ev.RiskMode, ev.At)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.appendTrace", "insert trace", err)
	}
	return nil
}

// AppendTrace records a single trace event in its own transaction.
func (s *Store) AppendTrace(ctx context.Context, ev *TraceEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return appendTrace(ctx, tx, ev)
	})
}

// TracesForGoal returns a goal's trace events in sequence order.
func (s *Store) TracesForGoal(ctx context.Context, goalID string) ([]*TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, step_id, seq, kind, payload, risk_mode, at
		FROM trace_events WHERE goal_id = ? ORDER BY seq`, goalID)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.TracesForGoal", "query traces", err)
	}
	defer rows.Close()

	var out []*TraceEvent
	for rows.Next() {
		var ev TraceEvent
		var stepID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.GoalID, &stepID, &ev.Seq, &ev.Kind, &ev.Payload, &ev.RiskMode, &ev.At); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.TracesForGoal", "scan trace", err)
		}
		if stepID.Valid {
			ev.StepID = stepID.String
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// marshalJSON is a small helper for trace payloads.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
