package etl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payrecon/internal/domain/notification"
	"payrecon/internal/domain/transaction"
	"payrecon/internal/shared/runlock"
)

// fakeSource serves a fixed slice of transactions in cursor order. The
// cursor is the decimal index of the next record.
type fakeSource struct {
	name    transaction.Source
	records []transaction.Transaction
	durable bool

	fetchErr  error
	failAfter int    // fail on the Nth fetch (1-based), 0 = never
	onFetch   func() // called after each successful fetch
	fetches   int
}

func (s *fakeSource) Name() transaction.Source { return s.name }
func (s *fakeSource) DurableCursor() bool      { return s.durable }

func (s *fakeSource) FetchPage(ctx context.Context, w Window, cursor string, pageSize int) (*Page, error) {
	s.fetches++
	if s.failAfter > 0 && s.fetches >= s.failAfter {
		return nil, s.fetchErr
	}
	if s.onFetch != nil {
		defer s.onFetch()
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := start + pageSize
	if end > len(s.records) {
		end = len(s.records)
	}
	page := &Page{
		Fetched:    end - start,
		NextCursor: strconv.Itoa(end),
		HasMore:    end < len(s.records),
	}
	if start < end {
		page.Transactions = append(page.Transactions, s.records[start:end]...)
	}
	return page, nil
}

// fakeRepo is an in-memory transaction.Repository keyed by (source, source_id)
// that honors the hash-based no-op contract and the atomic cursor advance.
type fakeRepo struct {
	mu     sync.Mutex
	rows   map[string]transaction.Transaction
	states *fakeStates

	saveErr     error
	failOnBatch int // fail the Nth SaveBatch call, 0 = never
	saves       int
}

func newFakeRepo(states *fakeStates) *fakeRepo {
	return &fakeRepo{rows: make(map[string]transaction.Transaction), states: states}
}

func (r *fakeRepo) SaveBatch(ctx context.Context, source transaction.Source, txns []transaction.Transaction, cursor transaction.CursorUpdate) (transaction.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.failOnBatch > 0 && r.saves >= r.failOnBatch {
		return transaction.BatchResult{}, r.saveErr
	}
	var res transaction.BatchResult
	for _, tx := range txns {
		key := fmt.Sprintf("%s|%s", tx.Source, tx.SourceID)
		existing, ok := r.rows[key]
		switch {
		case !ok:
			res.Inserted++
			r.rows[key] = tx
		case existing.DataHash == tx.DataHash:
			res.Unchanged++
		default:
			res.Updated++
			r.rows[key] = tx
		}
	}
	// Cursor advance shares the commit with the batch.
	if cursor.CreateCursor != nil {
		r.states.setCursor(source, *cursor.CreateCursor)
	}
	return res, nil
}

func (r *fakeRepo) ListForDate(ctx context.Context, source transaction.Source, date time.Time) ([]transaction.Transaction, error) {
	return nil, nil
}

func (r *fakeRepo) CountBySource(ctx context.Context, source transaction.Source) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, tx := range r.rows {
		if tx.Source == source {
			n++
		}
	}
	return n, nil
}

type fakeStates struct {
	mu     sync.Mutex
	states map[transaction.Source]*State
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[transaction.Source]*State)}
}

func (s *fakeStates) Ensure(ctx context.Context, source transaction.Source) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[source]; ok {
		copied := *st
		return &copied, nil
	}
	st := &State{Source: source, Status: StateIdle}
	s.states[source] = st
	copied := *st
	return &copied, nil
}

func (s *fakeStates) Get(ctx context.Context, source transaction.Source) (*State, error) {
	return s.Ensure(ctx, source)
}

func (s *fakeStates) MarkRunning(ctx context.Context, source transaction.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[source].Status = StateRunning
	return nil
}

func (s *fakeStates) MarkIdle(ctx context.Context, source transaction.Source, records int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[source]
	st.Status = StateIdle
	now := time.Now().UTC()
	st.LastSyncAt = &now
	st.LastSuccessfulSyncAt = &now
	st.RecordsSynced = int64(records)
	return nil
}

// MarkFailed honors cancellation the way a database-backed store does.
func (s *fakeStates) MarkFailed(ctx context.Context, source transaction.Source, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[source]
	st.Status = StateFailed
	st.ErrorMessage = &msg
	return nil
}

func (s *fakeStates) setCursor(source transaction.Source, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[source]; ok {
		c := cursor
		st.LastCreateCursor = &c
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []notification.SyncCompletedEvent
	failed    []notification.SyncFailedEvent
}

func (n *recordingNotifier) SyncCompleted(e notification.SyncCompletedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, e)
}

func (n *recordingNotifier) SyncFailed(e notification.SyncFailedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, e)
}

func (n *recordingNotifier) ReconciliationCompleted(e notification.ReconciliationCompletedEvent) {}

func makeTxn(source transaction.Source, id string, amount string) transaction.Transaction {
	amt, _ := decimal.NewFromString(amount)
	tx := transaction.Transaction{
		Source:    source,
		SourceID:  id,
		Amount:    amt,
		Currency:  "INR",
		Status:    transaction.StatusSuccess,
		CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	tx.SetDataHash()
	return tx
}

func newHarness(src *fakeSource, cfg Config) (*Orchestrator, *fakeRepo, *fakeStates, *recordingNotifier) {
	states := newFakeStates()
	repo := newFakeRepo(states)
	notifier := &recordingNotifier{}
	orch := NewOrchestrator(src, repo, states, runlock.NewRegistry(), notifier, cfg)
	return orch, repo, states, notifier
}

// markSynced makes the state look like a previous run completed, so tests
// exercise the incremental path rather than backfill.
func markSynced(states *fakeStates, source transaction.Source) {
	ctx := context.Background()
	states.Ensure(ctx, source)
	states.MarkIdle(ctx, source, 0)
}

func TestRun_PaginatesAndAdvancesCursor(t *testing.T) {
	// Three records with page size two: first run takes two pages, leaving
	// the cursor past record 3; a rerun fetches an empty final page only.
	src := &fakeSource{
		name:    transaction.SourceVima,
		durable: true,
		records: []transaction.Transaction{
			makeTxn(transaction.SourceVima, "op-1", "100"),
			makeTxn(transaction.SourceVima, "op-2", "200"),
			makeTxn(transaction.SourceVima, "op-3", "300"),
		},
	}
	orch, repo, states, _ := newHarness(src, Config{PageSize: 2})
	markSynced(states, transaction.SourceVima)

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Records != 3 || res.Inserted != 3 {
		t.Fatalf("Records=%d Inserted=%d, want 3/3", res.Records, res.Inserted)
	}
	st, _ := states.Get(context.Background(), transaction.SourceVima)
	if st.LastCreateCursor == nil || *st.LastCreateCursor != "3" {
		t.Fatalf("cursor = %v, want 3", st.LastCreateCursor)
	}
	if n, _ := repo.CountBySource(context.Background(), transaction.SourceVima); n != 3 {
		t.Fatalf("stored rows = %d, want 3", n)
	}

	// Second run resumes from the committed cursor and finds nothing new.
	res2, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res2.Records != 0 {
		t.Fatalf("second run Records = %d, want 0", res2.Records)
	}
}

func TestRun_ScenarioShortSecondPage(t *testing.T) {
	// page_size=2 with 3 records: run once with only 2 visible, then the
	// third arrives. The second run must fetch only record 3.
	all := []transaction.Transaction{
		makeTxn(transaction.SourceVima, "op-1", "100"),
		makeTxn(transaction.SourceVima, "op-2", "200"),
		makeTxn(transaction.SourceVima, "op-3", "300"),
	}
	src := &fakeSource{name: transaction.SourceVima, durable: true, records: all[:2]}
	orch, _, states, _ := newHarness(src, Config{PageSize: 2})
	markSynced(states, transaction.SourceVima)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	st, _ := states.Get(context.Background(), transaction.SourceVima)
	if *st.LastCreateCursor != "2" {
		t.Fatalf("cursor after first run = %q, want 2", *st.LastCreateCursor)
	}

	src.records = all
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.Records != 1 || res.Inserted != 1 {
		t.Fatalf("second run Records=%d Inserted=%d, want 1/1", res.Records, res.Inserted)
	}
}

func TestRun_IdempotentReingest(t *testing.T) {
	records := []transaction.Transaction{
		makeTxn(transaction.SourceVima, "op-1", "100"),
		makeTxn(transaction.SourceVima, "op-2", "200"),
	}
	src := &fakeSource{name: transaction.SourceVima, durable: true, records: records}
	orch, _, states, _ := newHarness(src, Config{PageSize: 10})
	markSynced(states, transaction.SourceVima)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// Reset the cursor to force a re-fetch of the same page.
	states.setCursor(transaction.SourceVima, "")
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.Inserted != 0 || res.Updated != 0 {
		t.Fatalf("re-ingest Inserted=%d Updated=%d, want 0/0", res.Inserted, res.Updated)
	}
	if res.Unchanged != 2 {
		t.Fatalf("re-ingest Unchanged = %d, want 2", res.Unchanged)
	}
}

func TestRun_PersistenceFailureKeepsCursor(t *testing.T) {
	src := &fakeSource{
		name:    transaction.SourceVima,
		durable: true,
		records: []transaction.Transaction{
			makeTxn(transaction.SourceVima, "op-1", "100"),
			makeTxn(transaction.SourceVima, "op-2", "200"),
		},
	}
	orch, repo, states, notifier := newHarness(src, Config{PageSize: 10})
	markSynced(states, transaction.SourceVima)
	repo.saveErr = errors.New("disk full")
	repo.failOnBatch = 1

	_, err := orch.Run(context.Background())
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Run() error = %v, want PersistenceError", err)
	}

	st, _ := states.Get(context.Background(), transaction.SourceVima)
	if st.Status != StateFailed {
		t.Fatalf("state = %s, want failed", st.Status)
	}
	if st.ErrorMessage == nil {
		t.Fatal("error message not recorded")
	}
	if st.LastCreateCursor != nil {
		t.Fatalf("cursor = %v, want nil (never advanced)", *st.LastCreateCursor)
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("sync.failed events = %d, want 1", len(notifier.failed))
	}

	// Retry from the pre-batch cursor re-applies the batch with no dupes.
	repo.failOnBatch = 0
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("retry Run() error = %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("retry Inserted = %d, want 2", res.Inserted)
	}
	if n, _ := repo.CountBySource(context.Background(), transaction.SourceVima); n != 2 {
		t.Fatalf("stored rows = %d, want 2 (no duplicates)", n)
	}
}

func TestRun_UpstreamFailureMarksFailed(t *testing.T) {
	src := &fakeSource{
		name:      transaction.SourceVima,
		durable:   true,
		fetchErr:  errors.New("502 bad gateway"),
		failAfter: 1,
	}
	orch, _, states, notifier := newHarness(src, Config{PageSize: 10})
	markSynced(states, transaction.SourceVima)

	_, err := orch.Run(context.Background())
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Run() error = %v, want UpstreamError", err)
	}
	st, _ := states.Get(context.Background(), transaction.SourceVima)
	if st.Status != StateFailed {
		t.Fatalf("state = %s, want failed", st.Status)
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("sync.failed events = %d, want 1", len(notifier.failed))
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	src := &fakeSource{name: transaction.SourceVima, durable: true}
	states := newFakeStates()
	repo := newFakeRepo(states)
	registry := runlock.NewRegistry()
	orch := NewOrchestrator(src, repo, states, registry, &recordingNotifier{}, Config{PageSize: 10})
	markSynced(states, transaction.SourceVima)

	registry.TryAcquire(runlock.SourceKey(transaction.SourceVima))
	_, err := orch.Run(context.Background())
	if !errors.Is(err, runlock.ErrAlreadyRunning) {
		t.Fatalf("Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestRun_FirstRunBackfills(t *testing.T) {
	src := &fakeSource{
		name:    transaction.SourcePayshack,
		durable: false,
		records: []transaction.Transaction{
			makeTxn(transaction.SourcePayshack, "TXN-1", "100"),
		},
	}
	orch, _, states, _ := newHarness(src, Config{PageSize: 10, BackfillDays: 3})

	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Backfill {
		t.Fatal("expected backfill on first run with empty store")
	}
	// One fetch per day window: BackfillDays back through today.
	if src.fetches != 4 {
		t.Fatalf("fetches = %d, want 4 day windows", src.fetches)
	}
	st, _ := states.Get(context.Background(), transaction.SourcePayshack)
	if st.LastSuccessfulSyncAt == nil {
		t.Fatal("backfill completion not recorded")
	}

	// A later run must not backfill again.
	res2, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res2.Backfill {
		t.Fatal("backfill must not re-trigger after a successful sync")
	}
}

func TestRun_PurgeDoesNotRetriggerBackfill(t *testing.T) {
	src := &fakeSource{name: transaction.SourceVima, durable: true}
	orch, repo, states, _ := newHarness(src, Config{PageSize: 10, BackfillDays: 3})
	markSynced(states, transaction.SourceVima)

	// Store is empty (as after an operator purge) but state shows a
	// completed sync: incremental path, not backfill.
	if n, _ := repo.CountBySource(context.Background(), transaction.SourceVima); n != 0 {
		t.Fatal("precondition: store should be empty")
	}
	res, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Backfill {
		t.Fatal("purged store with prior successful sync must not backfill")
	}
}

func TestRun_CancelledBetweenBatches(t *testing.T) {
	src := &fakeSource{
		name:    transaction.SourceVima,
		durable: true,
		records: []transaction.Transaction{
			makeTxn(transaction.SourceVima, "op-1", "100"),
			makeTxn(transaction.SourceVima, "op-2", "200"),
		},
	}
	orch, _, states, _ := newHarness(src, Config{PageSize: 10})
	markSynced(states, transaction.SourceVima)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	st, _ := states.Get(context.Background(), transaction.SourceVima)
	if st.Status != StateFailed {
		t.Fatalf("state = %s, want failed after cancellation", st.Status)
	}
}

func TestRun_CancelledMidRunStillRecordsFailure(t *testing.T) {
	// Cancellation arrives while a multi-page run is in flight (shutdown,
	// or the manual trigger's client disconnecting). The failure must still
	// reach the state row even though the run context is already dead.
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		name:    transaction.SourceVima,
		durable: true,
		records: []transaction.Transaction{
			makeTxn(transaction.SourceVima, "op-1", "100"),
			makeTxn(transaction.SourceVima, "op-2", "200"),
		},
		onFetch: cancel,
	}
	orch, repo, states, notifier := newHarness(src, Config{PageSize: 1})
	markSynced(states, transaction.SourceVima)

	_, err := orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	// The first page committed before the cancellation was observed.
	if n, _ := repo.CountBySource(context.Background(), transaction.SourceVima); n != 1 {
		t.Fatalf("stored rows = %d, want 1 (in-flight batch commits)", n)
	}
	st, _ := states.Get(context.Background(), transaction.SourceVima)
	if st.Status != StateFailed {
		t.Fatalf("state = %s, want failed (not stuck at running)", st.Status)
	}
	if st.ErrorMessage == nil {
		t.Fatal("error message not recorded after cancellation")
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("sync.failed events = %d, want 1", len(notifier.failed))
	}
}
