package transaction

import (
	"context"
	"time"
)

// BatchResult reports what a SaveBatch call actually changed. An unchanged
// data_hash produces neither an insert nor an update.
type BatchResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

func (r BatchResult) Total() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// Repository is the durable-store contract consumed by the sync and
// reconciliation layers.
//
// SaveBatch must perform every row upsert AND the owning sync_state cursor
// advance inside one transactional commit: the cursor may never point past
// rows that were not durably persisted.
type Repository interface {
	SaveBatch(ctx context.Context, source Source, txns []Transaction, cursor CursorUpdate) (BatchResult, error)

	// ListForDate returns all transactions for a source whose created_at
	// falls on the given UTC calendar date, including records with no
	// matching key; callers that pair records filter those out themselves.
	ListForDate(ctx context.Context, source Source, date time.Time) ([]Transaction, error)

	CountBySource(ctx context.Context, source Source) (int64, error)
}

// CursorUpdate carries the cursor position to commit together with a batch.
// Nil fields leave the corresponding sync_state column untouched.
type CursorUpdate struct {
	CreateCursor *string
	UpdateCursor *string
}
