package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// CreateGoal inserts a new goal in state pending. A duplicate dedupe key on
// a non-terminal goal is rejected.
func (s *Store) CreateGoal(ctx context.Context, g *Goal) error {
	if strings.TrimSpace(g.Description) == "" {
		return titanerr.New(titanerr.KindValidation, "store.CreateGoal", "goal description is empty")
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.State == "" {
		g.State = GoalPending
	}
	if g.SubmittedAt.IsZero() {
		g.SubmittedAt = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO goals (id, description, origin, channel, dedupe_key, state, timeout_seconds, max_retries, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, g.ID, g.Description, g.Origin, g.Channel, g.DedupeKey, g.State, g.TimeoutSec, g.MaxRetries, g.SubmittedAt)
		return err
	})
	if err != nil && (strings.Contains(err.Error(), "idx_goals_dedupe_live") || strings.Contains(err.Error(), "goals.dedupe_key")) {
		return titanerr.New(titanerr.KindConflict, "store.CreateGoal",
			"a non-terminal goal with dedupe key "+g.DedupeKey+" already exists")
	}
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.CreateGoal", "insert goal", err)
	}
	return nil
}

// GetGoal loads one goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, origin, channel, dedupe_key, state, timeout_seconds, max_retries, submitted_at, finished_at, error
		FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, titanerr.New(titanerr.KindNotFound, "store.GetGoal", "no goal "+id)
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.GetGoal", "scan goal", err)
	}
	return g, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanGoal(r rowScanner) (*Goal, error) {
	var g Goal
	var finished sql.NullTime
	if err := r.Scan(&g.ID, &g.Description, &g.Origin, &g.Channel, &g.DedupeKey, &g.State,
		&g.TimeoutSec, &g.MaxRetries, &g.SubmittedAt, &finished, &g.Error); err != nil {
		return nil, err
	}
	if finished.Valid {
		g.FinishedAt = &finished.Time
	}
	return &g, nil
}

// ListGoals returns goals newest-first, optionally filtered by state.
func (s *Store) ListGoals(ctx context.Context, state string, limit int) ([]*Goal, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, description, origin, channel, dedupe_key, state, timeout_seconds, max_retries, submitted_at, finished_at, error
		FROM goals`
	args := []any{}
	if state != "" {
		q += ` WHERE state = ?`
		args = append(args, state)
	}
	q += ` ORDER BY submitted_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListGoals", "query goals", err)
	}
	defer rows.Close()

	var out []*Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListGoals", "scan goal", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// NonTerminalGoals returns every goal that has not reached a terminal state,
// used by the session-resume scan at startup.
func (s *Store) NonTerminalGoals(ctx context.Context) ([]*Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, origin, channel, dedupe_key, state, timeout_seconds, max_retries, submitted_at, finished_at, error
		FROM goals WHERE state NOT IN (?, ?, ?) ORDER BY submitted_at`,
		GoalDone, GoalFailed, GoalCancelled)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.NonTerminalGoals", "query", err)
	}
	defer rows.Close()
	var out []*Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.NonTerminalGoals", "scan", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// goalRank orders states so transitions can be checked for monotonicity.
// awaiting_approval and running are mutually reachable while live.
func goalRank(state string) int {
	switch state {
	case GoalPending:
		return 0
	case GoalPlanning:
		return 1
	case GoalRunning, GoalAwaitingApproval:
		return 2
	case GoalDone, GoalFailed, GoalCancelled:
		return 3
	}
	return -1
}

// TransitionGoal advances a goal's state, enforcing monotonicity and writing
// a trace event in the same transaction. Terminal states also stamp
// finished_at.
func (s *Store) TransitionGoal(ctx context.Context, goalID, to, errMsg, riskMode string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var from string
		if err := tx.QueryRowContext(ctx, `SELECT state FROM goals WHERE id = ?`, goalID).Scan(&from); err != nil {
			if err == sql.ErrNoRows {
				return titanerr.New(titanerr.KindNotFound, "store.TransitionGoal", "no goal "+goalID)
			}
			return err
		}
		if GoalTerminal(from) {
			return titanerr.New(titanerr.KindConflict, "store.TransitionGoal",
				"goal "+goalID+" already terminal in state "+from)
		}
		if goalRank(to) < goalRank(from) {
			return titanerr.New(titanerr.KindConflict, "store.TransitionGoal",
				"illegal transition "+from+" -> "+to)
		}

		if GoalTerminal(to) {
			if _, err := tx.ExecContext(ctx, `UPDATE goals SET state = ?, error = ?, finished_at = ? WHERE id = ?`,
				to, errMsg, time.Now().UTC(), goalID); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE goals SET state = ? WHERE id = ?`, to, goalID); err != nil {
				return err
			}
		}
		return appendTrace(ctx, tx, &TraceEvent{
			GoalID:   goalID,
			Kind:     "goal_state",
			Payload:  `{"from":"` + from + `","to":"` + to + `"}`,
			RiskMode: riskMode,
		})
	})
}

// CancelRequested reports whether a cancel flag has been set for the goal.
func (s *Store) CancelRequested(ctx context.Context, goalID string) (bool, error) {
	v, err := s.GetState(ctx, "cancel:"+goalID)
	return v == "1", err
}

// RequestCancel sets the cancel flag observed at each step boundary. The
// call is idempotent.
func (s *Store) RequestCancel(ctx context.Context, goalID string) error {
	return s.SetState(ctx, "cancel:"+goalID, "1")
}
