package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// PersistRunBundle writes a plan, its steps, any initial traces and any
// already-created approvals for one goal atomically.
func (s *Store) PersistRunBundle(ctx context.Context, plan *Plan, steps []*Step, traces []*TraceEvent, approvals []*Approval) error {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, goal_id, candidates, selected_id, rationale, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, plan.ID, plan.GoalID, plan.Candidates, plan.SelectedID, plan.Rationale, plan.CreatedAt); err != nil {
			return titanerr.Wrap(titanerr.KindInternal, "store.PersistRunBundle", "insert plan", err)
		}
		for _, st := range steps {
			if st.ID == "" {
				st.ID = uuid.New().String()
			}
			st.PlanID = plan.ID
			st.GoalID = plan.GoalID
			if st.State == "" {
				st.State = StepQueued
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO steps (id, plan_id, goal_id, ordinal, tool, args, args_digest, class, connector_id, state)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, st.ID, st.PlanID, st.GoalID, st.Ordinal, st.Tool, st.Args, st.ArgsDigest, st.Class,
				nullable(st.ConnectorID), st.State); err != nil {
				return titanerr.Wrap(titanerr.KindInternal, "store.PersistRunBundle", "insert step", err)
			}
		}
		for _, tr := range traces {
			tr.GoalID = plan.GoalID
			if err := appendTrace(ctx, tx, tr); err != nil {
				return err
			}
		}
		for _, ap := range approvals {
			if err := insertApproval(ctx, tx, ap); err != nil {
				return err
			}
		}
		return nil
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// StepsForGoal returns the goal's steps in ordinal order.
func (s *Store) StepsForGoal(ctx context.Context, goalID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, goal_id, ordinal, tool, args, args_digest, class, connector_id, state, result, error, attempts, started_at, finished_at
		FROM steps WHERE goal_id = ? ORDER BY ordinal`, goalID)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.StepsForGoal", "query steps", err)
	}
	defer rows.Close()

	var out []*Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.StepsForGoal", "scan step", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStep(r rowScanner) (*Step, error) {
	var st Step
	var connector sql.NullString
	var started, finished sql.NullTime
	if err := r.Scan(&st.ID, &st.PlanID, &st.GoalID, &st.Ordinal, &st.Tool, &st.Args, &st.ArgsDigest,
		&st.Class, &connector, &st.State, &st.Result, &st.Error, &st.Attempts, &started, &finished); err != nil {
		return nil, err
	}
	if connector.Valid {
		st.ConnectorID = connector.String
	}
	if started.Valid {
		st.StartedAt = &started.Time
	}
	if finished.Valid {
		st.FinishedAt = &finished.Time
	}
	return &st, nil
}

// MarkStepRunning transitions a queued or approval-blocked step to running,
// bumping the attempt counter and stamping started_at.
func (s *Store) MarkStepRunning(ctx context.Context, stepID, riskMode string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var state, goalID string
		if err := tx.QueryRowContext(ctx, `SELECT state, goal_id FROM steps WHERE id = ?`, stepID).Scan(&state, &goalID); err != nil {
			if err == sql.ErrNoRows {
				return titanerr.New(titanerr.KindNotFound, "store.MarkStepRunning", "no step "+stepID)
			}
			return err
		}
		if StepTerminal(state) {
			return titanerr.New(titanerr.KindConflict, "store.MarkStepRunning",
				"step "+stepID+" already terminal in state "+state)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE steps SET state = ?, attempts = attempts + 1, started_at = COALESCE(started_at, ?) WHERE id = ?
		`, StepRunning, time.Now().UTC(), stepID); err != nil {
			return err
		}
		return appendTrace(ctx, tx, &TraceEvent{
			GoalID:   goalID,
			StepID:   stepID,
			Kind:     "step_state",
			Payload:  `{"to":"running"}`,
			RiskMode: riskMode,
		})
	})
}

// ResumeStep returns an approval-parked step to running without bumping the
// attempt counter.
func (s *Store) ResumeStep(ctx context.Context, stepID, riskMode string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var state, goalID string
		if err := tx.QueryRowContext(ctx, `SELECT state, goal_id FROM steps WHERE id = ?`, stepID).Scan(&state, &goalID); err != nil {
			return err
		}
		if StepTerminal(state) {
			return titanerr.New(titanerr.KindConflict, "store.ResumeStep", "step "+stepID+" already terminal")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE steps SET state = ? WHERE id = ?`, StepRunning, stepID); err != nil {
			return err
		}
		return appendTrace(ctx, tx, &TraceEvent{
			GoalID:   goalID,
			StepID:   stepID,
			Kind:     "step_state",
			Payload:  `{"to":"running","resumed":true}`,
			RiskMode: riskMode,
		})
	})
}

// MarkStepAwaitingApproval parks a step behind an approval.
func (s *Store) MarkStepAwaitingApproval(ctx context.Context, stepID, approvalID, riskMode string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var state, goalID string
		if err := tx.QueryRowContext(ctx, `SELECT state, goal_id FROM steps WHERE id = ?`, stepID).Scan(&state, &goalID); err != nil {
			return err
		}
		if StepTerminal(state) {
			return titanerr.New(titanerr.KindConflict, "store.MarkStepAwaitingApproval",
				"step "+stepID+" already terminal")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE steps SET state = ? WHERE id = ?`, StepAwaitingApproval, stepID); err != nil {
			return err
		}
		return appendTrace(ctx, tx, &TraceEvent{
			GoalID:   goalID,
			StepID:   stepID,
			Kind:     "step_state",
			Payload:  `{"to":"awaiting_approval","approval_id":"` + approvalID + `"}`,
			RiskMode: riskMode,
		})
	})
}

// RecordStepOutcome writes a step's terminal state atomically, rejecting a
// second write so a duplicated executor resumption cannot rewrite history.
func (s *Store) RecordStepOutcome(ctx context.Context, stepID, state, result, errMsg, riskMode string) error {
	if !StepTerminal(state) && state != StepQueued {
		return titanerr.New(titanerr.KindValidation, "store.RecordStepOutcome", "state "+state+" is not an outcome")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var cur, goalID string
		if err := tx.QueryRowContext(ctx, `SELECT state, goal_id FROM steps WHERE id = ?`, stepID).Scan(&cur, &goalID); err != nil {
			if err == sql.ErrNoRows {
				return titanerr.New(titanerr.KindNotFound, "store.RecordStepOutcome", "no step "+stepID)
			}
			return err
		}
		if StepTerminal(cur) {
			return titanerr.New(titanerr.KindConflict, "store.RecordStepOutcome",
				"step "+stepID+" already terminal in state "+cur)
		}
		if StepTerminal(state) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE steps SET state = ?, result = ?, error = ?, finished_at = ? WHERE id = ?
			`, state, result, errMsg, time.Now().UTC(), stepID); err != nil {
				return err
			}
		} else {
			// re-queue for retry: keep result/error from the failed attempt visible
			if _, err := tx.ExecContext(ctx, `UPDATE steps SET state = ?, error = ? WHERE id = ?`, state, errMsg, stepID); err != nil {
				return err
			}
		}
		return appendTrace(ctx, tx, &TraceEvent{
			GoalID:   goalID,
			StepID:   stepID,
			Kind:     "step_state",
			Payload:  `{"to":"` + state + `"}`,
			RiskMode: riskMode,
		})
	})
}

// ReplaceSuffix deletes the not-yet-terminal steps at and after fromOrdinal
// and appends replacement steps, keeping ordinals dense. Used by bounded
// replans; completed steps are never touched.
func (s *Store) ReplaceSuffix(ctx context.Context, goalID string, fromOrdinal int, replacement []*Step, riskMode string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var planID string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM plans WHERE goal_id = ?`, goalID).Scan(&planID); err != nil {
			return titanerr.Wrap(titanerr.KindInternal, "store.ReplaceSuffix", "find plan", err)
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM steps WHERE goal_id = ? AND ordinal >= ? AND state NOT IN (?, ?, ?)
		`, goalID, fromOrdinal, StepOK, StepFailed, StepSkipped)
		if err != nil {
			return titanerr.Wrap(titanerr.KindInternal, "store.ReplaceSuffix", "delete suffix", err)
		}
		deleted, _ := res.RowsAffected()
		for i, st := range replacement {
			if st.ID == "" {
				st.ID = uuid.New().String()
			}
			st.PlanID = planID
			st.GoalID = goalID
			st.Ordinal = fromOrdinal + i
			st.State = StepQueued
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO steps (id, plan_id, goal_id, ordinal, tool, args, args_digest, class, connector_id, state)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, st.ID, st.PlanID, st.GoalID, st.Ordinal, st.Tool, st.Args, st.ArgsDigest, st.Class,
				nullable(st.ConnectorID), st.State); err != nil {
				return titanerr.Wrap(titanerr.KindInternal, "store.ReplaceSuffix", "insert replacement step", err)
			}
		}
		payload, _ := marshalJSON(map[string]any{"from_ordinal": fromOrdinal, "dropped": deleted, "added": len(replacement)})
		return appendTrace(ctx, tx, &TraceEvent{
			GoalID:   goalID,
			Kind:     "replan",
			Payload:  payload,
			RiskMode: riskMode,
		})
	})
}

// PlanForGoal loads the goal's plan.
func (s *Store) PlanForGoal(ctx context.Context, goalID string) (*Plan, error) {
	var p Plan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, candidates, selected_id, rationale, created_at FROM plans WHERE goal_id = ?`, goalID).
		Scan(&p.ID, &p.GoalID, &p.Candidates, &p.SelectedID, &p.Rationale, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, titanerr.New(titanerr.KindNotFound, "store.PlanForGoal", "no plan for goal "+goalID)
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.PlanForGoal", "scan plan", err)
	}
	return &p, nil
}
