package repo

import (
	"context"
	"encoding/json"

	"gestor/internal/domain"
)

// KeyedEvent pairs a fused event with its dedup key.
type KeyedEvent struct {
	Key   string
	Event domain.Event
}

// ReplaceEvents swaps the full event set in one transaction. Events are
// derived from stored entities, so each reconciliation pass rebuilds
// them wholesale instead of diffing.
func (r Repo) ReplaceEvents(ctx context.Context, events []KeyedEvent) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events(key,source,categoria,payload_json,created_at) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := r.nowISO()
	for _, ev := range events {
		payload, err := json.Marshal(ev.Event)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, ev.Key, ev.Event.Source, ev.Event.Categoria, string(payload), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListEvents returns the stored event set, optionally filtered by
// categoria. Insertion order is preserved.
func (r Repo) ListEvents(ctx context.Context, categoria string) ([]KeyedEvent, error) {
	query := `SELECT key,payload_json FROM events ORDER BY id`
	args := []any{}
	if categoria != "" {
		query = `SELECT key,payload_json FROM events WHERE categoria=? ORDER BY id`
		args = append(args, categoria)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeyedEvent
	for rows.Next() {
		var (
			ke      KeyedEvent
			payload string
		)
		if err := rows.Scan(&ke.Key, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &ke.Event); err != nil {
			return nil, err
		}
		out = append(out, ke)
	}
	return out, rows.Err()
}

// InsertDivergences appends one run's divergence batch.
func (r Repo) InsertDivergences(ctx context.Context, divergences []domain.Divergence) error {
	if len(divergences) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO divergences(id,run_id,key,api_json,mail_json,ts) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range divergences {
		apiJSON, err := json.Marshal(d.API)
		if err != nil {
			return err
		}
		mailJSON, err := json.Marshal(d.Mail)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.RunID, d.Key, string(apiJSON), string(mailJSON), d.TS); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListDivergences returns one run's divergences, or every run's when
// runID is empty.
func (r Repo) ListDivergences(ctx context.Context, runID string) ([]domain.Divergence, error) {
	query := `SELECT id,run_id,key,api_json,mail_json,ts FROM divergences ORDER BY ts, id`
	args := []any{}
	if runID != "" {
		query = `SELECT id,run_id,key,api_json,mail_json,ts FROM divergences WHERE run_id=? ORDER BY ts, id`
		args = append(args, runID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Divergence
	for rows.Next() {
		var (
			d        domain.Divergence
			apiJSON  string
			mailJSON string
		)
		if err := rows.Scan(&d.ID, &d.RunID, &d.Key, &apiJSON, &mailJSON, &d.TS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(apiJSON), &d.API); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mailJSON), &d.Mail); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
