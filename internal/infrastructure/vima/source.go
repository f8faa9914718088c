package vima

import (
	"context"
	"log"

	"payrecon/internal/domain/etl"
	"payrecon/internal/domain/transaction"
)

// Source adapts the Vima client to the sync pipeline. The cursor is the
// provider's operation_create_id, which is globally ordered and durable, so
// incremental runs resume exactly where the last committed batch ended.
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Name() transaction.Source { return transaction.SourceVima }

func (s *Source) DurableCursor() bool { return true }

func (s *Source) FetchPage(ctx context.Context, w etl.Window, cursor string, pageSize int) (*etl.Page, error) {
	ops, err := s.client.GetOperations(ctx, OperationQuery{
		Count:                 pageSize,
		FromDate:              w.From,
		ToDate:                w.To,
		FromOperationCreateID: cursor,
	})
	if err != nil {
		return nil, err
	}

	page := &etl.Page{Fetched: len(ops)}
	for _, op := range ops {
		tx, err := Normalize(op)
		if err != nil {
			page.Skipped++
			log.Printf("Vima sync: skipping record: %v", err)
			continue
		}
		page.Transactions = append(page.Transactions, tx)
	}
	if len(ops) > 0 {
		page.NextCursor = ops[len(ops)-1].OperationCreateID
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page.HasMore = len(ops) == pageSize
	return page, nil
}
