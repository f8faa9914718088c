package etl

import (
	"context"
	"time"

	"payrecon/internal/domain/transaction"
)

// Window bounds a fetch to a date range. A zero From or To leaves that end
// open. Backfill uses single-day windows; incremental runs against a
// non-durable-cursor source use an open window starting shortly before the
// last successful sync.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Page is one fetched, normalized batch from an upstream provider.
type Page struct {
	Transactions []transaction.Transaction

	// Fetched counts raw records the provider returned, including ones
	// that failed validation. Page fullness is judged on this number.
	Fetched int
	// Skipped counts records dropped with a ValidationError.
	Skipped int

	NextCursor string
	HasMore    bool
}

// Source is one upstream provider: it fetches a raw page and returns it
// already normalized into the unified shape. Implementations live in
// internal/infrastructure/{vima,payshack}.
type Source interface {
	Name() transaction.Source

	// FetchPage fetches and normalizes one page. The cursor is opaque to
	// the caller and forward-only; an empty cursor starts from the
	// beginning of the window.
	FetchPage(ctx context.Context, w Window, cursor string, pageSize int) (*Page, error)

	// DurableCursor reports whether NextCursor values are stable across
	// runs and safe to persist in sync state. Vima's operation_create_id
	// is; PayShack's run-local page numbers are not.
	DurableCursor() bool
}
