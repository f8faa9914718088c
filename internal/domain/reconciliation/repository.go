package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists runs and their results. Results are append-only;
// nothing here updates or deletes a result row.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, runID uuid.UUID, summary Summary) error
	FailRun(ctx context.Context, runID uuid.UUID, errMsg string) error

	InsertResults(ctx context.Context, results []Result) error

	GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)
	ListRunsByDate(ctx context.Context, date time.Time) ([]Run, error)
	ListResults(ctx context.Context, runID uuid.UUID) ([]Result, error)
}
