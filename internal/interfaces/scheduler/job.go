package scheduler

import "context"

// Job is a unit of work executed by the worker pool. Sync jobs and the
// daily reconciliation job both implement it.
type Job interface {
	// Execute runs the job with the given context.
	// Context should be respected for cancellation and timeouts.
	Execute(ctx context.Context) error

	// Name returns a stable identifier for logging and metrics labels.
	Name() string

	// Description returns a human-readable description of the job.
	Description() string
}
