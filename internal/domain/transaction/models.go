package transaction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source identifies the upstream payment provider a transaction came from.
type Source string

const (
	SourceVima     Source = "vima"
	SourcePayshack Source = "payshack"
)

// Sources lists all known providers, in bootstrap order.
var Sources = []Source{SourceVima, SourcePayshack}

// ParseSource validates a provider name from user input (API paths, config).
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceVima:
		return SourceVima, nil
	case SourcePayshack:
		return SourcePayshack, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Status is the unified transaction status. Every provider status string is
// mapped onto one of these three values during normalization.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// Transaction is the unified record shape shared by both providers.
// (Source, SourceID) is globally unique. MatchingKey is only ever used as a
// join key for reconciliation, never as a storage key.
type Transaction struct {
	ID          uuid.UUID
	Source      Source
	SourceID    string
	MatchingKey *string

	ReferenceID *string
	Project     string
	MerchantID  *string

	Amount   decimal.Decimal
	Currency string

	Status         Status
	OriginalStatus string

	CreatedAt   time.Time
	UpdatedAt   *time.Time
	CompletedAt *time.Time

	// Provider-side cursors (Vima reports these per operation).
	CreateCursor *string
	UpdateCursor *string

	DataHash   string
	RawPayload json.RawMessage
	IngestedAt time.Time
}

// ComputeDataHash returns the content fingerprint used for idempotent
// upserts: if the hash of an incoming record equals the stored one, the
// upsert is a no-op.
func ComputeDataHash(source Source, sourceID string, amount decimal.Decimal, status Status, updatedAt *time.Time) string {
	updated := ""
	if updatedAt != nil {
		updated = updatedAt.UTC().Format(time.RFC3339Nano)
	}
	input := fmt.Sprintf("%s|%s|%s|%s|%s", source, sourceID, amount.String(), status, updated)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// SetDataHash computes and stores the fingerprint for t.
func (t *Transaction) SetDataHash() {
	t.DataHash = ComputeDataHash(t.Source, t.SourceID, t.Amount, t.Status, t.UpdatedAt)
}

// ValidationError marks a raw record that cannot be normalized. The record
// is skipped and counted; the batch continues.
type ValidationError struct {
	Source   Source
	SourceID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s record %q: invalid %s: %s", e.Source, e.SourceID, e.Field, e.Reason)
}
