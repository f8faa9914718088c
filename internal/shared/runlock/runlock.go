package runlock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"payrecon/internal/domain/transaction"
)

// ErrAlreadyRunning is returned when a run is requested while a matching
// lock is already held. Callers reject the trigger; nothing is queued.
var ErrAlreadyRunning = errors.New("already running")

// Registry tracks in-flight runs. It is owned by the process root and passed
// into orchestrators and the reconciliation engine, so tests can use
// isolated instances instead of sharing global state.
type Registry struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[string]time.Time)}
}

// TryAcquire claims key if it is free. It never blocks.
func (r *Registry) TryAcquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[key]; ok {
		return false
	}
	r.held[key] = time.Now().UTC()
	return true
}

// Release frees key. Releasing an unheld key is a no-op.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, key)
}

// Held reports whether key is currently claimed.
func (r *Registry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

// SourceKey is the lock key guarding a per-source sync run.
func SourceKey(s transaction.Source) string {
	return fmt.Sprintf("sync:%s", s)
}

// DateKey is the lock key guarding reconciliation of one calendar date.
// Runs for different dates touch disjoint rows and may proceed concurrently.
func DateKey(date time.Time) string {
	return fmt.Sprintf("recon:%s", date.UTC().Format("2006-01-02"))
}
