package etl

import (
	"context"
	"time"

	"payrecon/internal/domain/transaction"
)

// StateStatus is the lifecycle state of a source's sync loop.
type StateStatus string

const (
	StateIdle    StateStatus = "idle"
	StateRunning StateStatus = "running"
	StateFailed  StateStatus = "failed"
)

// State is the durable per-source progress marker. One row exists per known
// source, created at bootstrap and mutated after every committed batch.
type State struct {
	Source               transaction.Source
	LastCreateCursor     *string
	LastUpdateCursor     *string
	Status               StateStatus
	LastSyncAt           *time.Time
	LastSuccessfulSyncAt *time.Time
	RecordsSynced        int64
	ErrorMessage         *string
	UpdatedAt            time.Time
}

// NeverSynced reports whether this source has ever completed a run.
// Together with a zero stored-row count it gates the historical backfill,
// so an operator purge of the transactions table alone does not re-trigger
// a full reload.
func (s *State) NeverSynced() bool {
	return s.LastSuccessfulSyncAt == nil
}

// StateStore persists sync state. Cursor advances do NOT go through this
// interface: they are committed atomically with their batch via
// transaction.Repository.SaveBatch.
type StateStore interface {
	// Ensure returns the state row for source, creating an idle row if none
	// exists yet (bootstrap).
	Ensure(ctx context.Context, source transaction.Source) (*State, error)

	Get(ctx context.Context, source transaction.Source) (*State, error)

	MarkRunning(ctx context.Context, source transaction.Source) error
	MarkIdle(ctx context.Context, source transaction.Source, recordsSynced int) error
	MarkFailed(ctx context.Context, source transaction.Source, errMsg string) error
}
