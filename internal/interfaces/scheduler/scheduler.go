package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ScheduleTime represents a specific time of day when a daily job runs.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Scheduler drives the periodic jobs: per-source syncs on a fixed interval
// and the reconciliation job once per day.
type Scheduler struct {
	workerPool         *WorkerPool
	syncInterval       time.Duration
	reconciliationTime ScheduleTime
	runOnStartup       bool
	syncJobs           []Job
	reconciliationJob  Job

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun string
	mu      sync.Mutex
}

// Config holds the scheduler wiring.
type Config struct {
	SyncInterval       time.Duration
	ReconciliationTime string
	WorkerCount        int
	QueueSize          int
	RunOnStartup       bool
	SyncJobs           []Job
	ReconciliationJob  Job
}

// New creates a scheduler with the given configuration.
func New(config Config) (*Scheduler, error) {
	reconTime, err := ParseScheduleTime(config.ReconciliationTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reconciliation time %q: %w", config.ReconciliationTime, err)
	}
	if config.SyncInterval < time.Minute {
		return nil, fmt.Errorf("sync interval %v too short (minimum 1m)", config.SyncInterval)
	}

	workerPool := NewWorkerPool(config.WorkerCount, config.QueueSize)
	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler initialized: sync every %v, reconciliation at %s", config.SyncInterval, reconTime)

	return &Scheduler{
		workerPool:         workerPool,
		syncInterval:       config.SyncInterval,
		reconciliationTime: reconTime,
		runOnStartup:       config.RunOnStartup,
		syncJobs:           config.SyncJobs,
		reconciliationJob:  config.ReconciliationJob,
		ctx:                ctx,
		cancel:             cancel,
	}, nil
}

// Start launches the scheduler and worker pool.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	s.workerPool.Start()

	if s.runOnStartup {
		log.Println("Scheduler: Running initial sync batch on startup")
		s.workerPool.SubmitBatch(s.syncJobs)
	}

	s.wg.Add(1)
	go s.syncLoop()

	s.wg.Add(1)
	go s.dailyLoop()

	log.Println("Scheduler started")
}

// syncLoop submits the per-source sync jobs on every tick. Jobs for sources
// still mid-run are skipped by the orchestrator's own lock.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler sync loop: Context cancelled, shutting down")
			return

		case <-ticker.C:
			s.workerPool.SubmitBatch(s.syncJobs)
		}
	}
}

// dailyLoop fires the reconciliation job once per day at the configured
// time, checking every minute.
func (s *Scheduler) dailyLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler daily loop: Context cancelled, shutting down")
			return

		case now := <-ticker.C:
			if s.shouldRunDaily(now) {
				log.Printf("Scheduler: Daily reconciliation triggered at %s", now.Format("15:04"))
				if err := s.workerPool.Submit(s.reconciliationJob); err != nil {
					log.Printf("Scheduler: Failed to submit reconciliation job: %v", err)
				}
			}
		}
	}
}

// shouldRunDaily matches the configured HH:MM once per day.
func (s *Scheduler) shouldRunDaily(now time.Time) bool {
	if now.Hour() != s.reconciliationTime.Hour || now.Minute() != s.reconciliationTime.Minute {
		return false
	}

	key := now.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == key {
		return false
	}
	s.lastRun = key
	return true
}

// TriggerSyncNow submits all sync jobs immediately.
func (s *Scheduler) TriggerSyncNow() {
	log.Println("Scheduler: Manual sync trigger")
	s.workerPool.SubmitBatch(s.syncJobs)
}

// NextReconciliationTime returns the next daily reconciliation run time.
func (s *Scheduler) NextReconciliationTime() time.Time {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.reconciliationTime.Hour, s.reconciliationTime.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Shutdown gracefully stops the scheduler and worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler: Loops stopped gracefully")
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for loops to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)

	log.Println("Scheduler: Shutdown complete")
}
