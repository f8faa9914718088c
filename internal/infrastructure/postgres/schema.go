package postgres

import (
	"context"
	"fmt"
)

// schema is applied at startup. Statements are idempotent so a restart
// against an existing database is a no-op.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		source TEXT NOT NULL,
		source_id TEXT NOT NULL,
		matching_key TEXT,
		reference_id TEXT,
		project TEXT NOT NULL DEFAULT '',
		merchant_id TEXT,
		amount NUMERIC(20, 6) NOT NULL,
		currency TEXT NOT NULL DEFAULT 'INR',
		status TEXT NOT NULL,
		original_status TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		create_cursor TEXT,
		update_cursor TEXT,
		data_hash TEXT NOT NULL,
		raw_payload JSONB,
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source, source_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_source_created
		ON transactions (source, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_matching_key
		ON transactions (matching_key) WHERE matching_key IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS sync_state (
		source TEXT PRIMARY KEY,
		last_create_cursor TEXT,
		last_update_cursor TEXT,
		status TEXT NOT NULL DEFAULT 'idle',
		last_sync_at TIMESTAMPTZ,
		last_successful_sync_at TIMESTAMPTZ,
		records_synced BIGINT NOT NULL DEFAULT 0,
		error_message TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id UUID PRIMARY KEY,
		recon_date DATE NOT NULL,
		status TEXT NOT NULL,
		vima_total INTEGER NOT NULL DEFAULT 0,
		payshack_total INTEGER NOT NULL DEFAULT 0,
		total_keys INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL DEFAULT 0,
		discrepancy_amount INTEGER NOT NULL DEFAULT 0,
		discrepancy_status INTEGER NOT NULL DEFAULT 0,
		missing_vima INTEGER NOT NULL DEFAULT 0,
		missing_payshack INTEGER NOT NULL DEFAULT 0,
		match_rate NUMERIC(5, 1) NOT NULL DEFAULT 0,
		error_message TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_date
		ON reconciliation_runs (recon_date, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_results (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES reconciliation_runs(id),
		recon_date DATE NOT NULL,
		matching_key TEXT NOT NULL,
		match_status TEXT NOT NULL,
		vima_transaction_id UUID,
		payshack_transaction_id UUID,
		vima_amount NUMERIC(20, 6),
		payshack_amount NUMERIC(20, 6),
		amount_diff NUMERIC(20, 6),
		vima_status TEXT,
		payshack_status TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reconciliation_results_run
		ON reconciliation_results (run_id)`,
}

// InitSchema creates the tables and indexes if they do not exist yet.
func (db *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
