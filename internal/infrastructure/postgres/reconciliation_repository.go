package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"payrecon/internal/domain/reconciliation"
)

type ReconciliationRepository struct {
	db *DB
}

func NewReconciliationRepository(db *DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Ensure ReconciliationRepository implements the domain contract
var _ reconciliation.Repository = (*ReconciliationRepository)(nil)

func (r *ReconciliationRepository) CreateRun(ctx context.Context, run *reconciliation.Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, recon_date, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, run.ID, run.ReconDate, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation run: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) CompleteRun(ctx context.Context, runID uuid.UUID, s reconciliation.Summary) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_runs
		SET status = $2, vima_total = $3, payshack_total = $4, total_keys = $5,
		    matched = $6, discrepancy_amount = $7, discrepancy_status = $8,
		    missing_vima = $9, missing_payshack = $10, match_rate = $11,
		    completed_at = NOW()
		WHERE id = $1
	`, runID, reconciliation.RunCompleted, s.VimaTotal, s.PayshackTotal, s.TotalKeys,
		s.Matched, s.DiscrepancyAmount, s.DiscrepancyStatus,
		s.MissingVima, s.MissingPayshack, s.MatchRate)
	if err != nil {
		return fmt.Errorf("failed to complete reconciliation run: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) FailRun(ctx context.Context, runID uuid.UUID, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_runs
		SET status = $2, error_message = $3, completed_at = NOW()
		WHERE id = $1
	`, runID, reconciliation.RunFailed, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark reconciliation run failed: %w", err)
	}
	return nil
}

// InsertResults bulk-loads one run's result rows using COPY. Results are
// append-only so there is no conflict handling.
func (r *ReconciliationRepository) InsertResults(ctx context.Context, results []reconciliation.Result) error {
	if len(results) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, "db.InsertResults", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("reconciliation_results",
			"id", "run_id", "recon_date", "matching_key", "match_status",
			"vima_transaction_id", "payshack_transaction_id",
			"vima_amount", "payshack_amount", "amount_diff",
			"vima_status", "payshack_status", "created_at",
		))
		if err != nil {
			return fmt.Errorf("failed to prepare bulk insert: %w", err)
		}

		for _, res := range results {
			_, err = stmt.ExecContext(ctx,
				res.ID, res.RunID, res.ReconDate, res.MatchingKey, res.MatchStatus,
				uuidOrNil(res.VimaTransactionID), uuidOrNil(res.PayshackTransactionID),
				decimalOrNil(res.VimaAmount), decimalOrNil(res.PayshackAmount), decimalOrNil(res.AmountDiff),
				res.VimaStatus, res.PayshackStatus, res.CreatedAt,
			)
			if err != nil {
				stmt.Close()
				return fmt.Errorf("failed to buffer result %s: %w", res.MatchingKey, err)
			}
		}

		// Flush the COPY buffer.
		if _, err = stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to flush bulk insert: %w", err)
		}
		return stmt.Close()
	})
}

const selectRunColumns = `
	id, recon_date, status, vima_total, payshack_total, total_keys,
	matched, discrepancy_amount, discrepancy_status, missing_vima, missing_payshack,
	match_rate, error_message, started_at, completed_at
`

func (r *ReconciliationRepository) GetRun(ctx context.Context, runID uuid.UUID) (*reconciliation.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+selectRunColumns+`
		FROM reconciliation_runs
		WHERE id = $1
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation run: %w", err)
	}
	return run, nil
}

func (r *ReconciliationRepository) ListRunsByDate(ctx context.Context, date time.Time) ([]reconciliation.Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectRunColumns+`
		FROM reconciliation_runs
		WHERE recon_date = $1
		ORDER BY started_at DESC
	`, date.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []reconciliation.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation runs: %w", err)
	}
	return runs, nil
}

func (r *ReconciliationRepository) ListResults(ctx context.Context, runID uuid.UUID) ([]reconciliation.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, recon_date, matching_key, match_status,
		       vima_transaction_id, payshack_transaction_id,
		       vima_amount, payshack_amount, amount_diff,
		       vima_status, payshack_status, created_at
		FROM reconciliation_results
		WHERE run_id = $1
		ORDER BY matching_key
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation results: %w", err)
	}
	defer rows.Close()

	var results []reconciliation.Result
	for rows.Next() {
		var res reconciliation.Result
		err := rows.Scan(
			&res.ID, &res.RunID, &res.ReconDate, &res.MatchingKey, &res.MatchStatus,
			&res.VimaTransactionID, &res.PayshackTransactionID,
			&res.VimaAmount, &res.PayshackAmount, &res.AmountDiff,
			&res.VimaStatus, &res.PayshackStatus, &res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation result: %w", err)
		}
		results = append(results, res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation results: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*reconciliation.Run, error) {
	var run reconciliation.Run
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.ReconDate, &run.Status,
		&run.Summary.VimaTotal, &run.Summary.PayshackTotal, &run.Summary.TotalKeys,
		&run.Summary.Matched, &run.Summary.DiscrepancyAmount, &run.Summary.DiscrepancyStatus,
		&run.Summary.MissingVima, &run.Summary.MissingPayshack,
		&run.Summary.MatchRate, &run.ErrorMessage, &run.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// decimalOrNil unwraps an optional decimal for the driver; pq's COPY path
// does not dereference pointer values itself.
func decimalOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
