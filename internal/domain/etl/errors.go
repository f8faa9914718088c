package etl

import "fmt"

// UpstreamError wraps a provider fetch failure that survived the retry
// policy. It halts the current run; the cursor stays at the last committed
// position.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage write failure. The in-flight batch is
// aborted without advancing the cursor, so the next run safely retries it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
