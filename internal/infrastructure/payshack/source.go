package payshack

import (
	"context"
	"log"
	"strconv"

	"payrecon/internal/domain/etl"
	"payrecon/internal/domain/transaction"
)

// Source adapts the PayShack client to the sync pipeline. PayShack only
// paginates with page numbers inside a date window, so the cursor is a
// run-local page counter and is never persisted across runs.
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Name() transaction.Source { return transaction.SourcePayshack }

func (s *Source) DurableCursor() bool { return false }

func (s *Source) FetchPage(ctx context.Context, w etl.Window, cursor string, pageSize int) (*etl.Page, error) {
	pageNum := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err == nil && parsed > 0 {
			pageNum = parsed
		}
	}

	result, err := s.client.GetPayinTransactions(ctx, PayinQuery{
		Page:     pageNum,
		Limit:    pageSize,
		DateFrom: w.From,
		DateTo:   w.To,
	})
	if err != nil {
		return nil, err
	}

	page := &etl.Page{Fetched: len(result.Transactions)}
	for _, raw := range result.Transactions {
		tx, err := Normalize(raw)
		if err != nil {
			page.Skipped++
			log.Printf("PayShack sync: skipping record: %v", err)
			continue
		}
		page.Transactions = append(page.Transactions, tx)
	}
	page.HasMore = pageNum < result.TotalPages
	if page.HasMore {
		page.NextCursor = strconv.Itoa(pageNum + 1)
	}
	return page, nil
}
