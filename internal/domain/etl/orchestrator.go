package etl

import (
	"context"
	"fmt"
	"log"
	"time"

	"payrecon/internal/domain/notification"
	"payrecon/internal/domain/transaction"
	"payrecon/internal/shared/runlock"
)

// Config tunes one orchestrator instance.
type Config struct {
	PageSize     int
	BackfillDays int
}

// DefaultConfig matches the upstream page limits.
var DefaultConfig = Config{
	PageSize:     100,
	BackfillDays: 7,
}

// RunResult summarizes one completed (or aborted) sync run.
type RunResult struct {
	Source    transaction.Source
	Backfill  bool
	Pages     int
	Records   int
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
}

// Orchestrator drives the fetch → normalize → upsert → cursor-advance loop
// for a single source. At most one run per source executes at a time,
// enforced through the shared lock registry.
type Orchestrator struct {
	source   Source
	txRepo   transaction.Repository
	states   StateStore
	registry *runlock.Registry
	notifier notification.Notifier
	cfg      Config

	now func() time.Time
}

func NewOrchestrator(
	source Source,
	txRepo transaction.Repository,
	states StateStore,
	registry *runlock.Registry,
	notifier notification.Notifier,
	cfg Config,
) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig.PageSize
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = DefaultConfig.BackfillDays
	}
	return &Orchestrator{
		source:   source,
		txRepo:   txRepo,
		states:   states,
		registry: registry,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes one sync for this orchestrator's source.
//
// A trigger while a run is in flight returns runlock.ErrAlreadyRunning
// immediately; nothing is queued. On an unrecoverable error the run stops,
// the state row is marked failed with the error message, and the cursor
// stays at the last committed position.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	name := o.source.Name()
	key := runlock.SourceKey(name)
	if !o.registry.TryAcquire(key) {
		return nil, fmt.Errorf("sync %s: %w", name, runlock.ErrAlreadyRunning)
	}
	defer o.registry.Release(key)

	state, err := o.states.Ensure(ctx, name)
	if err != nil {
		return nil, &PersistenceError{Op: "load sync state", Err: err}
	}
	if err := o.states.MarkRunning(ctx, name); err != nil {
		return nil, &PersistenceError{Op: "mark running", Err: err}
	}

	res := &RunResult{Source: name}

	backfill, err := o.shouldBackfill(ctx, state)
	if err != nil {
		return o.fail(ctx, res, &PersistenceError{Op: "count rows", Err: err})
	}

	if backfill {
		res.Backfill = true
		log.Printf("Sync %s: first run detected, backfilling %d days", name, o.cfg.BackfillDays)
		err = o.runBackfill(ctx, res)
	} else {
		err = o.runIncremental(ctx, state, res)
	}
	if err != nil {
		return o.fail(ctx, res, err)
	}

	if err := o.states.MarkIdle(ctx, name, res.Records); err != nil {
		return o.fail(ctx, res, &PersistenceError{Op: "mark idle", Err: err})
	}

	o.notifier.SyncCompleted(notification.SyncCompletedEvent{
		Source:  string(name),
		Records: res.Records,
	})
	log.Printf("Sync %s completed: pages=%d records=%d inserted=%d updated=%d unchanged=%d skipped=%d backfill=%v",
		name, res.Pages, res.Records, res.Inserted, res.Updated, res.Unchanged, res.Skipped, res.Backfill)
	return res, nil
}

// shouldBackfill gates the one-time historical load: the state row must
// show no successful sync ever AND the store must hold zero rows for the
// source. An operator purge alone (rows gone, state intact) does not
// re-trigger it.
func (o *Orchestrator) shouldBackfill(ctx context.Context, state *State) (bool, error) {
	if !state.NeverSynced() {
		return false, nil
	}
	count, err := o.txRepo.CountBySource(ctx, o.source.Name())
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (o *Orchestrator) runIncremental(ctx context.Context, state *State, res *RunResult) error {
	var w Window
	cursor := ""
	if o.source.DurableCursor() {
		if state.LastCreateCursor != nil {
			cursor = *state.LastCreateCursor
		}
	} else if state.LastSuccessfulSyncAt != nil {
		// Re-fetch a day of overlap to catch late status updates; the
		// idempotent upsert absorbs the duplicates.
		w.From = state.LastSuccessfulSyncAt.AddDate(0, 0, -1)
	}
	return o.drain(ctx, w, cursor, res)
}

// runBackfill walks fixed day-sized windows from oldest to newest, so a
// single unbounded cursor walk never hammers the upstream or local memory.
func (o *Orchestrator) runBackfill(ctx context.Context, res *RunResult) error {
	today := o.now().UTC().Truncate(24 * time.Hour)
	for offset := o.cfg.BackfillDays; offset >= 0; offset-- {
		day := today.AddDate(0, 0, -offset)
		w := Window{From: day, To: day}
		if err := o.drain(ctx, w, "", res); err != nil {
			return err
		}
	}
	return nil
}

// drain fetches pages until the provider reports a short or final page.
// Each batch and its cursor advance commit together; cancellation is only
// observed between batches so a half-written batch is never abandoned.
func (o *Orchestrator) drain(ctx context.Context, w Window, cursor string, res *RunResult) error {
	name := o.source.Name()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		page, err := o.source.FetchPage(ctx, w, cursor, o.cfg.PageSize)
		if err != nil {
			return &UpstreamError{Op: fmt.Sprintf("fetch %s page", name), Err: err}
		}
		res.Pages++
		res.Skipped += page.Skipped

		if len(page.Transactions) > 0 {
			var update transaction.CursorUpdate
			if o.source.DurableCursor() && page.NextCursor != "" {
				update.CreateCursor = &page.NextCursor
			}
			batch, err := o.txRepo.SaveBatch(ctx, name, page.Transactions, update)
			if err != nil {
				return &PersistenceError{Op: fmt.Sprintf("save %s batch", name), Err: err}
			}
			res.Records += len(page.Transactions)
			res.Inserted += batch.Inserted
			res.Updated += batch.Updated
			res.Unchanged += batch.Unchanged
		}

		if !page.HasMore || page.Fetched < o.cfg.PageSize {
			return nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			// Provider reported more data but did not move the cursor.
			log.Printf("Sync %s: cursor did not advance at page %d, stopping", name, res.Pages)
			return nil
		}
		cursor = page.NextCursor
	}
}

func (o *Orchestrator) fail(ctx context.Context, res *RunResult, runErr error) (*RunResult, error) {
	name := o.source.Name()
	msg := runErr.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	// The run may be ending because ctx was cancelled; the terminal state
	// write must still go through or the row stays stuck at running.
	if err := o.states.MarkFailed(context.WithoutCancel(ctx), name, msg); err != nil {
		log.Printf("Sync %s: failed to record error state: %v", name, err)
	}
	o.notifier.SyncFailed(notification.SyncFailedEvent{
		Source: string(name),
		Error:  msg,
	})
	log.Printf("Sync %s failed after %d pages: %v", name, res.Pages, runErr)
	return res, runErr
}
