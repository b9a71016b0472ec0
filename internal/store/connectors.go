package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// AddConnector inserts connector metadata. The secret itself never lands
// here, only the key it is resolved by.
func (s *Store) AddConnector(ctx context.Context, c *Connector) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Fields == "" {
		c.Fields = "{}"
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO connectors (id, type, name, fields, secret_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, c.Type, c.Name, c.Fields, c.SecretKey, c.CreatedAt)
		return err
	})
}

// GetConnector loads connector metadata by id or display name.
func (s *Store) GetConnector(ctx context.Context, ref string) (*Connector, error) {
	var c Connector
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, name, fields, secret_key, created_at FROM connectors WHERE id = ? OR name = ?`, ref, ref).
		Scan(&c.ID, &c.Type, &c.Name, &c.Fields, &c.SecretKey, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, titanerr.New(titanerr.KindNotFound, "store.GetConnector", "no connector "+ref)
	}
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.GetConnector", "scan connector", err)
	}
	return &c, nil
}

// ListConnectors returns every configured connector.
func (s *Store) ListConnectors(ctx context.Context) ([]*Connector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, name, fields, secret_key, created_at FROM connectors ORDER BY name`)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListConnectors", "query", err)
	}
	defer rows.Close()
	var out []*Connector
	for rows.Next() {
		var c Connector
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.Fields, &c.SecretKey, &c.CreatedAt); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "store.ListConnectors", "scan", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateConnector replaces the non-secret fields of a connector.
func (s *Store) UpdateConnector(ctx context.Context, ref, fields, secretKey string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE connectors SET fields = ?, secret_key = ? WHERE id = ? OR name = ?`, fields, secretKey, ref, ref)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return titanerr.New(titanerr.KindNotFound, "store.UpdateConnector", "no connector "+ref)
		}
		return nil
	})
}

// RemoveConnector deletes connector metadata.
func (s *Store) RemoveConnector(ctx context.Context, ref string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM connectors WHERE id = ? OR name = ?`, ref, ref)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return titanerr.New(titanerr.KindNotFound, "store.RemoveConnector", "no connector "+ref)
		}
		return nil
	})
}
