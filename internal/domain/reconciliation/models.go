package reconciliation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payrecon/internal/domain/transaction"
)

// MatchStatus classifies one evaluated matching key.
type MatchStatus string

const (
	StatusMatched           MatchStatus = "matched"
	StatusDiscrepancyAmount MatchStatus = "discrepancy_amount"
	StatusDiscrepancyStatus MatchStatus = "discrepancy_status"
	// StatusMissingVima marks a PayShack transaction with no Vima
	// counterpart for the date, and vice versa for StatusMissingPayshack.
	StatusMissingVima     MatchStatus = "missing_vima"
	StatusMissingPayshack MatchStatus = "missing_payshack"
)

// RunStatus is the lifecycle of one reconciliation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Summary holds the per-category counts for a completed run. MatchRate is
// matched/total as a percentage rounded to one decimal place.
type Summary struct {
	VimaTotal         int     `json:"vima_total"`
	PayshackTotal     int     `json:"payshack_total"`
	TotalKeys         int     `json:"total_keys"`
	Matched           int     `json:"matched"`
	DiscrepancyAmount int     `json:"discrepancy_amount"`
	DiscrepancyStatus int     `json:"discrepancy_status"`
	MissingVima       int     `json:"missing_vima"`
	MissingPayshack   int     `json:"missing_payshack"`
	MatchRate         float64 `json:"match_rate"`
}

// Run is the header row for one reconciliation execution. Runs are
// append-only: a rerun for the same date gets a fresh ID and a complete
// fresh result set, never mutating prior runs.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	ReconDate    time.Time  `json:"recon_date"`
	Status       RunStatus  `json:"status"`
	Summary      Summary    `json:"summary"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Result is one evaluated matching key within a run. Side fields are nil
// for the missing side of a missing_* result.
type Result struct {
	ID          uuid.UUID   `json:"id"`
	RunID       uuid.UUID   `json:"run_id"`
	ReconDate   time.Time   `json:"recon_date"`
	MatchingKey string      `json:"matching_key"`
	MatchStatus MatchStatus `json:"match_status"`

	VimaTransactionID     *uuid.UUID       `json:"vima_transaction_id,omitempty"`
	PayshackTransactionID *uuid.UUID       `json:"payshack_transaction_id,omitempty"`
	VimaAmount            *decimal.Decimal `json:"vima_amount,omitempty"`
	PayshackAmount        *decimal.Decimal `json:"payshack_amount,omitempty"`
	AmountDiff            *decimal.Decimal `json:"amount_diff,omitempty"`
	VimaStatus            *string          `json:"vima_status,omitempty"`
	PayshackStatus        *string          `json:"payshack_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func statusString(s transaction.Status) *string {
	v := string(s)
	return &v
}
