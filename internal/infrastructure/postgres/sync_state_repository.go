package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"payrecon/internal/domain/etl"
	"payrecon/internal/domain/transaction"
)

type SyncStateRepository struct {
	db *DB
}

func NewSyncStateRepository(db *DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Ensure SyncStateRepository implements the domain contract
var _ etl.StateStore = (*SyncStateRepository)(nil)

const selectStateQuery = `
	SELECT source, last_create_cursor, last_update_cursor, status,
	       last_sync_at, last_successful_sync_at, records_synced, error_message, updated_at
	FROM sync_state
	WHERE source = $1
`

// Ensure creates the idle state row for a source if it does not exist yet
// and returns the current state.
func (r *SyncStateRepository) Ensure(ctx context.Context, source transaction.Source) (*etl.State, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (source, status)
		VALUES ($1, $2)
		ON CONFLICT (source) DO NOTHING
	`, source, etl.StateIdle)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure sync state for %s: %w", source, err)
	}
	return r.Get(ctx, source)
}

func (r *SyncStateRepository) Get(ctx context.Context, source transaction.Source) (*etl.State, error) {
	var state etl.State
	var lastSync, lastSuccess sql.NullTime

	err := r.db.QueryRowContext(ctx, selectStateQuery, source).Scan(
		&state.Source, &state.LastCreateCursor, &state.LastUpdateCursor, &state.Status,
		&lastSync, &lastSuccess, &state.RecordsSynced, &state.ErrorMessage, &state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no sync state for source %s", source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state for %s: %w", source, err)
	}
	if lastSync.Valid {
		state.LastSyncAt = &lastSync.Time
	}
	if lastSuccess.Valid {
		state.LastSuccessfulSyncAt = &lastSuccess.Time
	}
	return &state, nil
}

func (r *SyncStateRepository) MarkRunning(ctx context.Context, source transaction.Source) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = $2, error_message = NULL, updated_at = NOW()
		WHERE source = $1
	`, source, etl.StateRunning)
	if err != nil {
		return fmt.Errorf("failed to mark %s running: %w", source, err)
	}
	return nil
}

func (r *SyncStateRepository) MarkIdle(ctx context.Context, source transaction.Source, recordsSynced int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = $2, last_sync_at = NOW(), last_successful_sync_at = NOW(),
		    records_synced = $3, error_message = NULL, updated_at = NOW()
		WHERE source = $1
	`, source, etl.StateIdle, recordsSynced)
	if err != nil {
		return fmt.Errorf("failed to mark %s idle: %w", source, err)
	}
	return nil
}

func (r *SyncStateRepository) MarkFailed(ctx context.Context, source transaction.Source, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = $2, last_sync_at = NOW(), error_message = $3, updated_at = NOW()
		WHERE source = $1
	`, source, etl.StateFailed, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", source, err)
	}
	return nil
}
