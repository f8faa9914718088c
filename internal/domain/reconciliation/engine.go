package reconciliation

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"payrecon/internal/domain/notification"
	"payrecon/internal/domain/transaction"
	"payrecon/internal/shared/runlock"
)

// Engine compares one day of Vima transactions against PayShack and
// records the outcome per matching key. Runs for the same date are
// mutually exclusive; different dates touch disjoint rows and may run
// concurrently.
type Engine struct {
	txRepo   transaction.Repository
	runs     Repository
	registry *runlock.Registry
	notifier notification.Notifier

	now func() time.Time
}

func NewEngine(
	txRepo transaction.Repository,
	runs Repository,
	registry *runlock.Registry,
	notifier notification.Notifier,
) *Engine {
	return &Engine{
		txRepo:   txRepo,
		runs:     runs,
		registry: registry,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run reconciles the given calendar date and returns the completed run
// with its summary. A concurrent run for the same date returns
// runlock.ErrAlreadyRunning without queuing.
//
// On a mid-run failure, already-written result rows stay (the result set
// is append-only) and the run is marked failed; a rerun produces a wholly
// new run with a fresh, complete result set.
func (e *Engine) Run(ctx context.Context, date time.Time) (*Run, error) {
	date = date.UTC().Truncate(24 * time.Hour)
	key := runlock.DateKey(date)
	if !e.registry.TryAcquire(key) {
		return nil, fmt.Errorf("reconciliation %s: %w", date.Format("2006-01-02"), runlock.ErrAlreadyRunning)
	}
	defer e.registry.Release(key)

	run := &Run{
		ID:        uuid.New(),
		ReconDate: date,
		Status:    RunRunning,
		StartedAt: e.now().UTC(),
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create reconciliation run: %w", err)
	}

	summary, results, err := e.evaluate(ctx, run)
	if err != nil {
		return nil, e.fail(ctx, run, err)
	}
	if len(results) > 0 {
		if err := e.runs.InsertResults(ctx, results); err != nil {
			return nil, e.fail(ctx, run, fmt.Errorf("insert results: %w", err))
		}
	}
	if err := e.runs.CompleteRun(ctx, run.ID, summary); err != nil {
		return nil, e.fail(ctx, run, fmt.Errorf("complete run: %w", err))
	}

	run.Status = RunCompleted
	run.Summary = summary
	done := e.now().UTC()
	run.CompletedAt = &done

	e.notifier.ReconciliationCompleted(notification.ReconciliationCompletedEvent{
		Date:    date.Format("2006-01-02"),
		RunID:   run.ID.String(),
		Matched: summary.Matched,
		Total:   summary.TotalKeys,
	})
	log.Printf("Reconciliation %s completed: run=%s keys=%d matched=%d amount_diff=%d status_diff=%d missing_vima=%d missing_payshack=%d rate=%.1f%%",
		date.Format("2006-01-02"), run.ID, summary.TotalKeys, summary.Matched,
		summary.DiscrepancyAmount, summary.DiscrepancyStatus,
		summary.MissingVima, summary.MissingPayshack, summary.MatchRate)
	return run, nil
}

func (e *Engine) evaluate(ctx context.Context, run *Run) (Summary, []Result, error) {
	vima, err := e.txRepo.ListForDate(ctx, transaction.SourceVima, run.ReconDate)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("load %s transactions: %w", transaction.SourceVima, err)
	}
	payshack, err := e.txRepo.ListForDate(ctx, transaction.SourcePayshack, run.ReconDate)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("load %s transactions: %w", transaction.SourcePayshack, err)
	}

	summary := Summary{VimaTotal: len(vima), PayshackTotal: len(payshack)}

	// One canonical record per key on each side. Duplicate keys within a
	// side collapse to the latest completed_at so reruns over the same
	// data always pick the same record.
	vimaIndex := canonicalIndex(vima)
	payIndex := canonicalIndex(payshack)

	now := e.now().UTC()
	results := make([]Result, 0, len(vimaIndex)+len(payIndex))

	for _, key := range sortedKeys(vimaIndex) {
		a := vimaIndex[key]
		res := Result{
			ID:                uuid.New(),
			RunID:             run.ID,
			ReconDate:         run.ReconDate,
			MatchingKey:       key,
			VimaTransactionID: &a.ID,
			VimaAmount:        &a.Amount,
			VimaStatus:        statusString(a.Status),
			CreatedAt:         now,
		}
		b, ok := payIndex[key]
		if !ok {
			res.MatchStatus = StatusMissingPayshack
			results = append(results, res)
			summary.MissingPayshack++
			continue
		}
		delete(payIndex, key)

		res.PayshackTransactionID = &b.ID
		res.PayshackAmount = &b.Amount
		res.PayshackStatus = statusString(b.Status)

		// Amount is compared before status: a pair differing in both is
		// always an amount discrepancy.
		switch {
		case !a.Amount.Equal(b.Amount):
			diff := a.Amount.Sub(b.Amount).Abs()
			res.MatchStatus = StatusDiscrepancyAmount
			res.AmountDiff = &diff
			summary.DiscrepancyAmount++
		case a.Status != b.Status:
			res.MatchStatus = StatusDiscrepancyStatus
			summary.DiscrepancyStatus++
		default:
			res.MatchStatus = StatusMatched
			summary.Matched++
		}
		results = append(results, res)
	}

	for _, key := range sortedKeys(payIndex) {
		b := payIndex[key]
		results = append(results, Result{
			ID:                    uuid.New(),
			RunID:                 run.ID,
			ReconDate:             run.ReconDate,
			MatchingKey:           key,
			MatchStatus:           StatusMissingVima,
			PayshackTransactionID: &b.ID,
			PayshackAmount:        &b.Amount,
			PayshackStatus:        statusString(b.Status),
			CreatedAt:             now,
		})
		summary.MissingVima++
	}

	summary.TotalKeys = len(results)
	if summary.TotalKeys > 0 {
		summary.MatchRate = math.Round(float64(summary.Matched)/float64(summary.TotalKeys)*1000) / 10
	}
	return summary, results, nil
}

// canonicalIndex keys transactions by matching key, keeping the record
// with the latest completed_at when a key repeats. A nil completed_at
// sorts earliest; exact timestamp ties fall back to the larger source_id
// so the pick never depends on load order.
func canonicalIndex(txns []transaction.Transaction) map[string]transaction.Transaction {
	index := make(map[string]transaction.Transaction, len(txns))
	for _, tx := range txns {
		if tx.MatchingKey == nil || *tx.MatchingKey == "" {
			continue
		}
		key := *tx.MatchingKey
		current, ok := index[key]
		if !ok || laterCandidate(tx, current) {
			index[key] = tx
		}
	}
	return index
}

func laterCandidate(candidate, current transaction.Transaction) bool {
	ct, xt := candidate.CompletedAt, current.CompletedAt
	switch {
	case ct == nil && xt == nil:
		return candidate.SourceID > current.SourceID
	case ct == nil:
		return false
	case xt == nil:
		return true
	case ct.Equal(*xt):
		return candidate.SourceID > current.SourceID
	default:
		return ct.After(*xt)
	}
}

func sortedKeys(index map[string]transaction.Transaction) []string {
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) fail(ctx context.Context, run *Run, runErr error) error {
	msg := runErr.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	// The run may be ending because ctx was cancelled; the terminal state
	// write must still go through or the run row stays stuck at running.
	if err := e.runs.FailRun(context.WithoutCancel(ctx), run.ID, msg); err != nil {
		log.Printf("Reconciliation %s: failed to record error state: %v", run.ReconDate.Format("2006-01-02"), err)
	}
	log.Printf("Reconciliation %s failed: run=%s err=%v", run.ReconDate.Format("2006-01-02"), run.ID, runErr)
	return runErr
}
