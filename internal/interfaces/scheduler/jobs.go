package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"payrecon/internal/domain/etl"
	"payrecon/internal/domain/reconciliation"
	"payrecon/internal/shared/runlock"
)

// SourceSyncJob runs one sync pass for a single source. A run already in
// flight for the same source is skipped silently, not treated as a failure.
type SourceSyncJob struct {
	orchestrator *etl.Orchestrator
	source       string
}

func NewSourceSyncJob(source string, orchestrator *etl.Orchestrator) *SourceSyncJob {
	return &SourceSyncJob{orchestrator: orchestrator, source: source}
}

func (j *SourceSyncJob) Execute(ctx context.Context) error {
	res, err := j.orchestrator.Run(ctx)
	if errors.Is(err, runlock.ErrAlreadyRunning) {
		log.Printf("Sync %s already running, skipping scheduled pass", j.source)
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", j.source, err)
	}
	log.Printf("Scheduled sync %s done: %d records across %d pages", j.source, res.Records, res.Pages)
	return nil
}

func (j *SourceSyncJob) Name() string { return "sync." + j.source }

func (j *SourceSyncJob) Description() string {
	return fmt.Sprintf("Transaction sync for %s", j.source)
}

// ReconciliationJob reconciles the previous calendar day. It runs after the
// overnight syncs so both sides are loaded before pairing.
type ReconciliationJob struct {
	engine *reconciliation.Engine
	now    func() time.Time
}

func NewReconciliationJob(engine *reconciliation.Engine) *ReconciliationJob {
	return &ReconciliationJob{engine: engine, now: time.Now}
}

func (j *ReconciliationJob) Execute(ctx context.Context) error {
	date := j.now().UTC().AddDate(0, 0, -1)
	run, err := j.engine.Run(ctx, date)
	if errors.Is(err, runlock.ErrAlreadyRunning) {
		log.Printf("Reconciliation for %s already running, skipping scheduled pass", date.Format("2006-01-02"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconciliation %s: %w", date.Format("2006-01-02"), err)
	}
	log.Printf("Scheduled reconciliation %s done: run=%s match rate %.1f%%",
		date.Format("2006-01-02"), run.ID, run.Summary.MatchRate)
	return nil
}

func (j *ReconciliationJob) Name() string { return "reconciliation.daily" }

func (j *ReconciliationJob) Description() string {
	return "Daily reconciliation of the previous day"
}
