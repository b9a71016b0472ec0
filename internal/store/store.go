// Package store is the embedded relational store backing every durable
// entity in the runtime: goals, plans, steps, traces, approvals, jobs,
// skills, connectors, sessions and memory. All multi-row writes for a
// single state transition happen in one transaction.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps the SQLite handle and owns schema bookkeeping.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path, enables WAL with
// synchronous=FULL, and applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.Open", "create store directory", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.Open", "open database", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies embedded .sql migration files in increasing numeric order
// inside a single transaction, recording each in schema_migrations.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "create schema_migrations", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "read applied migrations", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "scan migration row", err)
		}
		applied[v] = true
	}
	rows.Close()

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "read embedded migrations", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.Begin()
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "begin migration tx", err)
	}
	defer tx.Rollback()

	for _, name := range names {
		if applied[name] {
			continue
		}
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "read migration "+name, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "apply migration "+name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC()); err != nil {
			return titanerr.Wrap(titanerr.KindInternal, "store.migrate", "record migration "+name, err)
		}
	}
	return tx.Commit()
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Vacuum reclaims free pages. Exposed for the doctor command.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.Vacuum", "vacuum", err)
	}
	return nil
}

// Checkpoint flushes the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.Checkpoint", "wal checkpoint", err)
	}
	return nil
}

// withTx runs fn inside a transaction, retrying the whole unit with jitter
// when SQLite reports lock contention.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return titanerr.Wrap(titanerr.KindInternal, "store.withTx", "begin", err)
		}
		err = fn(tx)
		if err == nil {
			if err = tx.Commit(); err == nil {
				return nil
			}
		} else {
			tx.Rollback()
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return titanerr.Wrap(titanerr.KindTransient, "store.withTx", "cancelled while retrying busy store", ctx.Err())
		case <-time.After(time.Duration(10*(1<<i))*time.Millisecond + time.Duration(rand.Intn(20))*time.Millisecond):
		}
	}
	return titanerr.Wrap(titanerr.KindTransient, "store.withTx", "store busy after retries", lastErr)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// nextTraceSeq computes the next per-goal trace sequence inside tx.
func nextTraceSeq(tx *sql.Tx, goalID string) (int64, error) {
	var seq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM trace_events WHERE goal_id = ?`, goalID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next trace seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64 + 1, nil
}

// GetState reads one runtime_state key; missing keys return "".
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM runtime_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", titanerr.Wrap(titanerr.KindInternal, "store.GetState", "read "+key, err)
	}
	return v, nil
}

// SetState upserts one runtime_state key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "store.SetState", "write "+key, err)
	}
	return nil
}
