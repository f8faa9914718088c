package payshack

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"payrecon/internal/domain/transaction"
)

func rawPayin(t *testing.T, body string) PayinTransaction {
	t.Helper()
	var tx PayinTransaction
	if err := json.Unmarshal([]byte(body), &tx); err != nil {
		t.Fatalf("unmarshal payin: %v", err)
	}
	tx.Raw = json.RawMessage(body)
	return tx
}

func TestNormalize_SuccessfulPayin(t *testing.T) {
	raw := rawPayin(t, `{
		"txnId": "TXN-1001",
		"spTxnId": "SP-77",
		"orderId": "ORD-1",
		"clientId": "client-9",
		"clientName": "91G_TECH_PVT_LTD",
		"amount": 250.50,
		"txnStatus": "Success",
		"createdAt": "2025-06-15T10:00:00Z",
		"modifiedAt": "2025-06-15T10:05:00Z"
	}`)

	tx, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if tx.Source != transaction.SourcePayshack || tx.SourceID != "TXN-1001" {
		t.Errorf("identity = %s/%s", tx.Source, tx.SourceID)
	}
	if tx.MatchingKey == nil || *tx.MatchingKey != "ORD-1" {
		t.Errorf("matching key = %v, want ORD-1", tx.MatchingKey)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("250.50")) {
		t.Errorf("amount = %s, want 250.50", tx.Amount)
	}
	if tx.Currency != "INR" {
		t.Errorf("currency = %s, want INR", tx.Currency)
	}
	if tx.Status != transaction.StatusSuccess {
		t.Errorf("status = %s", tx.Status)
	}
	if tx.Project != "91game" {
		t.Errorf("project = %s, want 91game", tx.Project)
	}
	// Success settles at the last modification time.
	if tx.CompletedAt == nil || !tx.CompletedAt.Equal(*tx.UpdatedAt) {
		t.Errorf("completed_at = %v, want modifiedAt", tx.CompletedAt)
	}
	if tx.DataHash == "" {
		t.Error("data hash not set")
	}
}

func TestNormalize_StatusMap(t *testing.T) {
	cases := map[string]transaction.Status{
		"Success":     transaction.StatusSuccess,
		"Failed":      transaction.StatusFailed,
		"Tampered":    transaction.StatusFailed,
		"Refunded":    transaction.StatusFailed,
		"CB_Refunded": transaction.StatusFailed,
		"Initiated":   transaction.StatusPending,
		"Incomplete":  transaction.StatusPending,
		"brand-new":   transaction.StatusPending,
	}
	for original, want := range cases {
		raw := rawPayin(t, `{"txnId": "TXN-1", "createdAt": "2025-06-15T10:00:00Z"}`)
		raw.TxnStatus = original
		tx, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%s) error = %v", original, err)
		}
		if tx.Status != want {
			t.Errorf("status(%s) = %s, want %s", original, tx.Status, want)
		}
	}
}

func TestNormalize_NoCompletedAtUnlessSuccess(t *testing.T) {
	raw := rawPayin(t, `{
		"txnId": "TXN-2",
		"txnStatus": "Failed",
		"createdAt": "2025-06-15T10:00:00Z",
		"modifiedAt": "2025-06-15T10:05:00Z"
	}`)
	tx, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if tx.CompletedAt != nil {
		t.Error("failed transaction must not carry completed_at")
	}
	if tx.UpdatedAt == nil {
		t.Error("updated_at lost")
	}
}

func TestNormalize_MissingOrderIDLeavesKeyNil(t *testing.T) {
	raw := rawPayin(t, `{"txnId": "TXN-3", "txnStatus": "Success", "createdAt": "2025-06-15T10:00:00Z"}`)
	tx, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if tx.MatchingKey != nil {
		t.Errorf("matching key = %v, want nil", tx.MatchingKey)
	}
}

func TestNormalize_MissingRequiredFields(t *testing.T) {
	var verr *transaction.ValidationError

	_, err := Normalize(rawPayin(t, `{"createdAt": "2025-06-15T10:00:00Z"}`))
	if !errors.As(err, &verr) || verr.Field != "txnId" {
		t.Fatalf("missing txnId: err = %v", err)
	}

	_, err = Normalize(rawPayin(t, `{"txnId": "TXN-4"}`))
	if !errors.As(err, &verr) || verr.Field != "createdAt" {
		t.Fatalf("missing createdAt: err = %v", err)
	}
}

func TestNormalize_UnmappedClientNamePassesThrough(t *testing.T) {
	raw := rawPayin(t, `{"txnId": "TXN-5", "clientName": "Some New Merchant", "createdAt": "2025-06-15T10:00:00Z"}`)
	tx, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if tx.Project != "Some New Merchant" {
		t.Errorf("project = %s", tx.Project)
	}
}
