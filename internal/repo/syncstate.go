package repo

import (
	"context"
	"database/sql"
	"time"

	"gestor/internal/domain"
)

// SyncState returns the incremental cursor for endpoint, or ErrNotFound
// when the endpoint has never completed a sync.
func (r Repo) SyncState(ctx context.Context, endpoint string) (domain.SyncState, error) {
	var (
		st     domain.SyncState
		lastDH sql.NullString
		page   sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT endpoint,last_sync_dh,last_page,updated_at FROM sync_state WHERE endpoint=?`,
		endpoint).Scan(&st.Endpoint, &lastDH, &page, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.SyncState{}, ErrNotFound
	}
	if err != nil {
		return domain.SyncState{}, err
	}
	st.LastSyncDH = scanTime(lastDH)
	if page.Valid {
		p := int(page.Int64)
		st.LastPage = &p
	}
	return st, nil
}

// SaveSyncState records the cursor after a successful pass.
func (r Repo) SaveSyncState(ctx context.Context, endpoint string, lastSyncDH time.Time, lastPage int) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sync_state(endpoint,last_sync_dh,last_page,updated_at)
VALUES (?,?,?,?)
ON CONFLICT(endpoint) DO UPDATE SET last_sync_dh=excluded.last_sync_dh, last_page=excluded.last_page, updated_at=excluded.updated_at`,
		endpoint, lastSyncDH.UTC().Format(time.RFC3339), lastPage, r.nowISO())
	return err
}

// ResetSyncState drops the cursor so the next sync runs from scratch.
// Stored entities are untouched.
func (r Repo) ResetSyncState(ctx context.Context, endpoint string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sync_state WHERE endpoint=?`, endpoint)
	return err
}

// ListSyncStates returns every known cursor, ordered by endpoint.
func (r Repo) ListSyncStates(ctx context.Context) ([]domain.SyncState, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT endpoint,last_sync_dh,last_page,updated_at FROM sync_state ORDER BY endpoint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SyncState
	for rows.Next() {
		var (
			st     domain.SyncState
			lastDH sql.NullString
			page   sql.NullInt64
		)
		if err := rows.Scan(&st.Endpoint, &lastDH, &page, &st.UpdatedAt); err != nil {
			return nil, err
		}
		st.LastSyncDH = scanTime(lastDH)
		if page.Valid {
			p := int(page.Int64)
			st.LastPage = &p
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
