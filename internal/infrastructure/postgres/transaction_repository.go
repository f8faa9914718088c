package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"payrecon/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Ensure TransactionRepository implements the domain contract
var _ transaction.Repository = (*TransactionRepository)(nil)

const upsertTransactionQuery = `
	INSERT INTO transactions (
		id, source, source_id, matching_key, reference_id, project, merchant_id,
		amount, currency, status, original_status,
		created_at, updated_at, completed_at,
		create_cursor, update_cursor, data_hash, raw_payload, ingested_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
	ON CONFLICT (source, source_id) DO UPDATE SET
		matching_key = EXCLUDED.matching_key,
		reference_id = EXCLUDED.reference_id,
		project = EXCLUDED.project,
		merchant_id = EXCLUDED.merchant_id,
		amount = EXCLUDED.amount,
		currency = EXCLUDED.currency,
		status = EXCLUDED.status,
		original_status = EXCLUDED.original_status,
		updated_at = EXCLUDED.updated_at,
		completed_at = EXCLUDED.completed_at,
		create_cursor = EXCLUDED.create_cursor,
		update_cursor = EXCLUDED.update_cursor,
		data_hash = EXCLUDED.data_hash,
		raw_payload = EXCLUDED.raw_payload,
		ingested_at = NOW()
	WHERE transactions.data_hash IS DISTINCT FROM EXCLUDED.data_hash
	RETURNING (xmax = 0) AS inserted
`

// SaveBatch upserts a page of transactions and advances the source's sync
// cursor in the same database transaction. A record whose data_hash matches
// the stored row is left untouched. Either the whole batch and the cursor
// commit together or none of it does.
func (r *TransactionRepository) SaveBatch(ctx context.Context, source transaction.Source, txns []transaction.Transaction, cursor transaction.CursorUpdate) (transaction.BatchResult, error) {
	var result transaction.BatchResult

	err := r.db.WithTx(ctx, "db.SaveBatch", func(tx *sql.Tx) error {
		for i := range txns {
			t := &txns[i]
			if t.ID == uuid.Nil {
				t.ID = uuid.New()
			}

			var inserted bool
			err := tx.QueryRowContext(ctx, upsertTransactionQuery,
				t.ID, t.Source, t.SourceID, t.MatchingKey, t.ReferenceID, t.Project, t.MerchantID,
				t.Amount, t.Currency, t.Status, t.OriginalStatus,
				t.CreatedAt, t.UpdatedAt, t.CompletedAt,
				t.CreateCursor, t.UpdateCursor, t.DataHash, nullableJSON(t.RawPayload),
			).Scan(&inserted)
			switch {
			case err == sql.ErrNoRows:
				// Conflict with an identical hash: the update was a no-op.
				result.Unchanged++
			case err != nil:
				return fmt.Errorf("failed to upsert transaction %s/%s: %w", t.Source, t.SourceID, err)
			case inserted:
				result.Inserted++
			default:
				result.Updated++
			}
		}

		if cursor.CreateCursor != nil || cursor.UpdateCursor != nil {
			_, err := tx.ExecContext(ctx, `
				UPDATE sync_state
				SET last_create_cursor = COALESCE($2, last_create_cursor),
				    last_update_cursor = COALESCE($3, last_update_cursor),
				    updated_at = NOW()
				WHERE source = $1
			`, source, cursor.CreateCursor, cursor.UpdateCursor)
			if err != nil {
				return fmt.Errorf("failed to advance cursor for %s: %w", source, err)
			}
		}
		return nil
	})
	if err != nil {
		return transaction.BatchResult{}, err
	}
	return result, nil
}

const selectTransactionColumns = `
	id, source, source_id, matching_key, reference_id, project, merchant_id,
	amount, currency, status, original_status,
	created_at, updated_at, completed_at,
	create_cursor, update_cursor, data_hash, ingested_at
`

// ListForDate returns all transactions for a source whose provider-reported
// creation time falls on the given UTC calendar date.
func (r *TransactionRepository) ListForDate(ctx context.Context, source transaction.Source, date time.Time) ([]transaction.Transaction, error) {
	dayStart := date.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectTransactionColumns+`
		FROM transactions
		WHERE source = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, source_id
	`, source, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []transaction.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepository) CountBySource(ctx context.Context, source transaction.Source) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE source = $1`, source).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func scanTransaction(rows *sql.Rows) (transaction.Transaction, error) {
	var t transaction.Transaction
	var updatedAt, completedAt sql.NullTime

	err := rows.Scan(
		&t.ID, &t.Source, &t.SourceID, &t.MatchingKey, &t.ReferenceID, &t.Project, &t.MerchantID,
		&t.Amount, &t.Currency, &t.Status, &t.OriginalStatus,
		&t.CreatedAt, &updatedAt, &completedAt,
		&t.CreateCursor, &t.UpdateCursor, &t.DataHash, &t.IngestedAt,
	)
	if err != nil {
		return transaction.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if updatedAt.Valid {
		t.UpdatedAt = &updatedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

// nullableJSON maps an empty raw payload to NULL instead of invalid JSON.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
