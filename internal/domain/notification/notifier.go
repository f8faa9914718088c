package notification

import "log"

// Notifier is the fire-and-forget event sink. The core never waits on the
// sink and never fails a run because of it.
type Notifier interface {
	SyncCompleted(event SyncCompletedEvent)
	SyncFailed(event SyncFailedEvent)
	ReconciliationCompleted(event ReconciliationCompletedEvent)
}

type SyncCompletedEvent struct {
	Source  string
	Records int
}

type SyncFailedEvent struct {
	Source string
	Error  string
}

type ReconciliationCompletedEvent struct {
	Date    string
	RunID   string
	Matched int
	Total   int
}

// LogNotifier writes events to the process log. It is the default sink;
// a real delivery channel implements Notifier in the infrastructure layer.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) SyncCompleted(e SyncCompletedEvent) {
	log.Printf("event sync.completed source=%s records=%d", e.Source, e.Records)
}

func (n *LogNotifier) SyncFailed(e SyncFailedEvent) {
	log.Printf("event sync.failed source=%s error=%s", e.Source, e.Error)
}

func (n *LogNotifier) ReconciliationCompleted(e ReconciliationCompletedEvent) {
	log.Printf("event reconciliation.completed date=%s run_id=%s matched=%d total=%d", e.Date, e.RunID, e.Matched, e.Total)
}
