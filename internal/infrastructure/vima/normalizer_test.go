package vima

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"payrecon/internal/domain/transaction"
)

func rawOperation(t *testing.T, body string) Operation {
	t.Helper()
	var op Operation
	if err := json.Unmarshal([]byte(body), &op); err != nil {
		t.Fatalf("unmarshal operation: %v", err)
	}
	op.Raw = json.RawMessage(body)
	return op
}

func TestNormalize_CompleteOperation(t *testing.T) {
	op := rawOperation(t, `{
		"operation_id": "op-123",
		"operation_create_id": "1700000000001",
		"operation_update_id": "1700000000099",
		"client_operation_id": "ORD-1",
		"project": "monetix",
		"payment_status": "success",
		"complete_amount": 499.5,
		"complete_currency": "INR",
		"operation_created_at": "2025-06-15T08:30:00Z",
		"operation_modified_at": "2025-06-15T08:31:00Z",
		"complete_created_at": "2025-06-15T08:31:00Z"
	}`)

	tx, err := Normalize(op)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if tx.Source != transaction.SourceVima || tx.SourceID != "op-123" {
		t.Errorf("identity = %s/%s", tx.Source, tx.SourceID)
	}
	if tx.MatchingKey == nil || *tx.MatchingKey != "ORD-1" {
		t.Errorf("matching key = %v, want ORD-1", tx.MatchingKey)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("499.5")) {
		t.Errorf("amount = %s, want 499.5", tx.Amount)
	}
	if tx.Status != transaction.StatusSuccess {
		t.Errorf("status = %s, want success", tx.Status)
	}
	if tx.OriginalStatus != "success" {
		t.Errorf("original status = %s", tx.OriginalStatus)
	}
	if tx.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if tx.CreateCursor == nil || *tx.CreateCursor != "1700000000001" {
		t.Errorf("create cursor = %v", tx.CreateCursor)
	}
	if tx.DataHash == "" {
		t.Error("data hash not set")
	}
}

func TestNormalize_MinorUnitsFallback(t *testing.T) {
	// No complete_amount: the requested amount is in minor units.
	op := rawOperation(t, `{
		"operation_id": "op-124",
		"current_status": "in_process",
		"operation_created_at": "2025-06-15T09:00:00Z",
		"create_params": {"params": {"payment": {
			"amount": {"value": 12345, "currency": "INR"},
			"identifiers": {"c_id": 98765}
		}}}
	}`)

	tx, err := Normalize(op)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("123.45")) {
		t.Errorf("amount = %s, want 123.45", tx.Amount)
	}
	if tx.Status != transaction.StatusPending {
		t.Errorf("status = %s, want pending", tx.Status)
	}
	// Matching key falls back to the nested c_id.
	if tx.MatchingKey == nil || *tx.MatchingKey != "98765" {
		t.Errorf("matching key = %v, want 98765", tx.MatchingKey)
	}
}

func TestNormalize_StatusMap(t *testing.T) {
	cases := map[string]transaction.Status{
		"success":             transaction.StatusSuccess,
		"fail":                transaction.StatusFailed,
		"failed":              transaction.StatusFailed,
		"in_process":          transaction.StatusPending,
		"user_input_required": transaction.StatusPending,
		"SOMETHING_NEW":       transaction.StatusPending,
	}
	for original, want := range cases {
		op := rawOperation(t, `{"operation_id":"op-1","operation_created_at":"2025-06-15T09:00:00Z"}`)
		op.PaymentStatus = original
		tx, err := Normalize(op)
		if err != nil {
			t.Fatalf("Normalize(%s) error = %v", original, err)
		}
		if tx.Status != want {
			t.Errorf("status(%s) = %s, want %s", original, tx.Status, want)
		}
		if tx.OriginalStatus != original {
			t.Errorf("original status lost for %s", original)
		}
	}
}

func TestNormalize_MissingRequiredFields(t *testing.T) {
	var verr *transaction.ValidationError

	_, err := Normalize(rawOperation(t, `{"operation_created_at":"2025-06-15T09:00:00Z"}`))
	if !errors.As(err, &verr) || verr.Field != "operation_id" {
		t.Fatalf("missing operation_id: err = %v", err)
	}

	_, err = Normalize(rawOperation(t, `{"operation_id":"op-1"}`))
	if !errors.As(err, &verr) || verr.Field != "operation_created_at" {
		t.Fatalf("missing created_at: err = %v", err)
	}
}

func TestNormalize_HashStableAcrossRuns(t *testing.T) {
	body := `{
		"operation_id": "op-200",
		"payment_status": "success",
		"complete_amount": 100,
		"operation_created_at": "2025-06-15T08:30:00Z",
		"operation_modified_at": "2025-06-15T08:31:00Z"
	}`
	first, err := Normalize(rawOperation(t, body))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Normalize(rawOperation(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if first.DataHash != second.DataHash {
		t.Error("identical payloads produced different hashes")
	}

	changed := rawOperation(t, body)
	v := json.Number("101")
	changed.CompleteAmount = &v
	third, err := Normalize(changed)
	if err != nil {
		t.Fatal(err)
	}
	if third.DataHash == first.DataHash {
		t.Error("amount change did not change the hash")
	}
}
