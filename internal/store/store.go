// Package store is the SQLite-backed override store used by the CLI and the
// HTTP server. Records are stored as whole JSON documents keyed by deliverable
// id; the engine only ever sees the override.Store contract.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowline/internal/override"
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the override record for a deliverable, or the zero Record when
// none exists.
func (s Store) Get(ctx context.Context, deliverableID string) (override.Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT record_json FROM deliverable_overrides WHERE deliverable_id=?`, deliverableID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return override.Record{}, nil
		}
		return override.Record{}, err
	}
	var rec override.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return override.Record{}, fmt.Errorf("decode override for %s: %w", deliverableID, err)
	}
	return rec, nil
}

// Set upserts a record; writing the zero Record deletes the row.
func (s Store) Set(ctx context.Context, deliverableID string, rec override.Record) error {
	if rec.IsZero() {
		_, err := s.DB.ExecContext(ctx, `DELETE FROM deliverable_overrides WHERE deliverable_id=?`, deliverableID)
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode override for %s: %w", deliverableID, err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO deliverable_overrides(deliverable_id,record_json,updated_at) VALUES (?,?,?)
		ON CONFLICT(deliverable_id) DO UPDATE SET record_json=excluded.record_json, updated_at=excluded.updated_at`,
		deliverableID, string(raw), s.now().UTC().Format(time.RFC3339))
	return err
}

// All returns every stored override record keyed by deliverable id.
func (s Store) All(ctx context.Context) (map[string]override.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT deliverable_id, record_json FROM deliverable_overrides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]override.Record{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var rec override.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode override for %s: %w", id, err)
		}
		out[id] = rec
	}
	return out, rows.Err()
}

// Delete removes a deliverable's override record entirely.
func (s Store) Delete(ctx context.Context, deliverableID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM deliverable_overrides WHERE deliverable_id=?`, deliverableID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
