package vima

import (
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payrecon/internal/domain/transaction"
)

// statusMap translates Vima operation statuses to the unified set. Anything
// not listed normalizes to pending and is logged as an anomaly.
var statusMap = map[string]transaction.Status{
	"success":             transaction.StatusSuccess,
	"fail":                transaction.StatusFailed,
	"failed":              transaction.StatusFailed,
	"decline":             transaction.StatusFailed,
	"in_process":          transaction.StatusPending,
	"in process":          transaction.StatusPending,
	"user_input_required": transaction.StatusPending,
	"pending":             transaction.StatusPending,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Normalize converts one raw Vima operation into the unified transaction
// shape. Missing required fields return a ValidationError and the record is
// skipped by the caller; missing optional fields become nil.
func Normalize(op Operation) (transaction.Transaction, error) {
	if op.OperationID == "" {
		return transaction.Transaction{}, &transaction.ValidationError{
			Source: transaction.SourceVima, SourceID: op.OperationID,
			Field: "operation_id", Reason: "missing",
		}
	}
	createdAt, ok := parseTime(op.OperationCreated)
	if !ok {
		return transaction.Transaction{}, &transaction.ValidationError{
			Source: transaction.SourceVima, SourceID: op.OperationID,
			Field: "operation_created_at", Reason: "missing or unparseable",
		}
	}

	amount, currency, err := normalizeAmount(op)
	if err != nil {
		return transaction.Transaction{}, err
	}

	originalStatus := op.PaymentStatus
	if originalStatus == "" {
		originalStatus = op.CurrentStatus
	}
	status, known := statusMap[strings.ToLower(originalStatus)]
	if !known {
		status = transaction.StatusPending
		log.Printf("Vima operation %s: unrecognized status %q, normalizing to pending", op.OperationID, originalStatus)
	}

	tx := transaction.Transaction{
		Source:         transaction.SourceVima,
		SourceID:       op.OperationID,
		MatchingKey:    matchingKey(op),
		ReferenceID:    op.ReferenceID,
		Project:        op.Project,
		MerchantID:     op.CredentialsOwner,
		Amount:         amount,
		Currency:       currency,
		Status:         status,
		OriginalStatus: originalStatus,
		CreatedAt:      createdAt,
		RawPayload:     op.Raw,
	}
	if t, ok := parseTime(op.OperationModified); ok {
		tx.UpdatedAt = &t
	}
	if t, ok := parseTime(op.CompleteCreated); ok {
		tx.CompletedAt = &t
	}
	if op.OperationCreateID != "" {
		tx.CreateCursor = &op.OperationCreateID
	}
	if op.OperationUpdateID != "" {
		tx.UpdateCursor = &op.OperationUpdateID
	}
	tx.SetDataHash()
	return tx, nil
}

// normalizeAmount prefers the settled complete_amount; before settlement
// the requested amount lives in create_params in minor units and is divided
// down to the canonical unit.
func normalizeAmount(op Operation) (decimal.Decimal, string, error) {
	currency := op.CompleteCurrency

	if op.CompleteAmount != nil {
		amount, err := decimal.NewFromString(op.CompleteAmount.String())
		if err != nil {
			return decimal.Decimal{}, "", &transaction.ValidationError{
				Source: transaction.SourceVima, SourceID: op.OperationID,
				Field: "complete_amount", Reason: err.Error(),
			}
		}
		if currency == "" {
			currency = "INR"
		}
		return amount, currency, nil
	}

	var minor decimal.Decimal
	if op.CreateParams != nil {
		payment := op.CreateParams.Params.Payment
		if v := payment.Amount.Value.String(); v != "" {
			parsed, err := decimal.NewFromString(v)
			if err != nil {
				return decimal.Decimal{}, "", &transaction.ValidationError{
					Source: transaction.SourceVima, SourceID: op.OperationID,
					Field: "create_params.params.payment.amount.value", Reason: err.Error(),
				}
			}
			minor = parsed
		}
		if currency == "" {
			currency = payment.Amount.Currency
		}
	}
	if currency == "" {
		currency = "INR"
	}
	return minor.Div(decimal.NewFromInt(100)), currency, nil
}

// matchingKey prefers the top-level client_operation_id, falling back to
// the c_id buried in the create request identifiers.
func matchingKey(op Operation) *string {
	if op.ClientOperationID != "" {
		key := op.ClientOperationID
		return &key
	}
	if op.CreateParams != nil {
		if cid := op.CreateParams.Params.Payment.Identifiers.CID.String(); cid != "" {
			return &cid
		}
	}
	return nil
}

func parseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
