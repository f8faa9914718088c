package payshack

import (
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payrecon/internal/domain/transaction"
)

// statusMap translates PayShack pay-in statuses to the unified set.
// Refund outcomes count as failed for matching purposes: the money did not
// stay settled. Anything not listed normalizes to pending and is logged as
// an anomaly.
var statusMap = map[string]transaction.Status{
	"success":     transaction.StatusSuccess,
	"failed":      transaction.StatusFailed,
	"tampered":    transaction.StatusFailed,
	"refunded":    transaction.StatusFailed,
	"cb_refunded": transaction.StatusFailed,
	"initiated":   transaction.StatusPending,
	"pending":     transaction.StatusPending,
	"incomplete":  transaction.StatusPending,
	"in process":  transaction.StatusPending,
	"in_process":  transaction.StatusPending,
}

// clientProjectMap folds PayShack merchant display names onto the project
// names Vima reports, so both sides label a transaction the same way.
var clientProjectMap = map[string]string{
	"91G_TECH_PVT_LTD":    "91game",
	"91g_tech_pvt_ltd":    "91game",
	"IG Indigate P_Out":   "indigate_payout",
	"MNCL_M5_Pvt_Ltd":     "mncl_m5",
	"Mn CL THREE_PVT_LTD": "mncl_three",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize converts one raw pay-in record into the unified transaction
// shape. The orderId is the matching key against Vima's client operation
// ID. Missing required fields return a ValidationError and the record is
// skipped by the caller.
func Normalize(raw PayinTransaction) (transaction.Transaction, error) {
	if raw.TxnID == "" {
		return transaction.Transaction{}, &transaction.ValidationError{
			Source: transaction.SourcePayshack, SourceID: raw.TxnID,
			Field: "txnId", Reason: "missing",
		}
	}
	createdAt, ok := parseTime(raw.CreatedAt)
	if !ok {
		return transaction.Transaction{}, &transaction.ValidationError{
			Source: transaction.SourcePayshack, SourceID: raw.TxnID,
			Field: "createdAt", Reason: "missing or unparseable",
		}
	}

	amount := decimal.Zero
	if v := raw.Amount.String(); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return transaction.Transaction{}, &transaction.ValidationError{
				Source: transaction.SourcePayshack, SourceID: raw.TxnID,
				Field: "amount", Reason: err.Error(),
			}
		}
		amount = parsed
	}

	status, known := statusMap[strings.ToLower(raw.TxnStatus)]
	if !known {
		status = transaction.StatusPending
		log.Printf("PayShack transaction %s: unrecognized status %q, normalizing to pending", raw.TxnID, raw.TxnStatus)
	}

	project := raw.ClientName
	if mapped, ok := clientProjectMap[raw.ClientName]; ok {
		project = mapped
	}

	tx := transaction.Transaction{
		Source:         transaction.SourcePayshack,
		SourceID:       raw.TxnID,
		ReferenceID:    raw.SpTxnID,
		Project:        project,
		MerchantID:     raw.ClientID,
		Amount:         amount,
		Currency:       "INR",
		Status:         status,
		OriginalStatus: raw.TxnStatus,
		CreatedAt:      createdAt,
		RawPayload:     raw.Raw,
	}
	if raw.OrderID != "" {
		key := raw.OrderID
		tx.MatchingKey = &key
	}
	if t, ok := parseTime(raw.ModifiedAt); ok {
		tx.UpdatedAt = &t
		if status == transaction.StatusSuccess {
			tx.CompletedAt = &t
		}
	}
	tx.SetDataHash()
	return tx, nil
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
