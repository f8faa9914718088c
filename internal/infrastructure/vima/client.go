package vima

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"payrecon/internal/shared/retry"
)

const (
	defaultTimeout = 30 * time.Second
	operationPath  = "/operation"
	maxPageSize    = 100
)

// APIError is a non-2xx response from the Vima collector API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vima API error (status %d): %s", e.StatusCode, e.Body)
}

// Client handles communication with the Vima collector API. Authentication
// is an API key passed as a query parameter on every request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retry      retry.Policy
}

// NewClient creates a new Vima API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		retry:   retry.DefaultPolicy,
	}
}

// OperationQuery holds the filter parameters for one operations fetch.
type OperationQuery struct {
	Count                 int
	FromDate              time.Time
	ToDate                time.Time
	FromOperationCreateID string
}

// Operation is one raw operation from the collector API. Raw holds the
// untouched response element for audit storage.
type Operation struct {
	OperationID       string          `json:"operation_id"`
	OperationCreateID string          `json:"operation_create_id"`
	OperationUpdateID string          `json:"operation_update_id"`
	ClientOperationID string          `json:"client_operation_id"`
	ReferenceID       *string         `json:"reference_id"`
	Project           string          `json:"project"`
	CredentialsOwner  *string         `json:"credentials_owner"`
	PaymentStatus     string          `json:"payment_status"`
	CurrentStatus     string          `json:"current_status"`
	CompleteAmount    *json.Number    `json:"complete_amount"`
	CompleteCurrency  string          `json:"complete_currency"`
	OperationCreated  string          `json:"operation_created_at"`
	OperationModified string          `json:"operation_modified_at"`
	CompleteCreated   string          `json:"complete_created_at"`
	CreateParams      *CreateParams   `json:"create_params"`
	Raw               json.RawMessage `json:"-"`
}

// CreateParams mirrors the nested request payload Vima echoes back on each
// operation. Only the paths the normalizer reads are mapped.
type CreateParams struct {
	Params struct {
		Payment struct {
			Amount struct {
				Value    json.Number `json:"value"`
				Currency string      `json:"currency"`
			} `json:"amount"`
			Identifiers struct {
				CID json.Number `json:"c_id"`
			} `json:"identifiers"`
		} `json:"payment"`
	} `json:"params"`
}

// GetOperations fetches one page of operations in ascending creation order.
// Timeouts and 5xx responses are retried with bounded backoff; other
// failures surface immediately.
func (c *Client) GetOperations(ctx context.Context, q OperationQuery) ([]Operation, error) {
	count := q.Count
	if count <= 0 || count > maxPageSize {
		count = maxPageSize
	}

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("count", strconv.Itoa(count))
	params.Set("descending", "false")
	if !q.FromDate.IsZero() {
		params.Set("from", q.FromDate.UTC().Format("2006-01-02"))
	}
	if !q.ToDate.IsZero() {
		params.Set("to", q.ToDate.UTC().Format("2006-01-02"))
	}
	if q.FromOperationCreateID != "" {
		params.Set("from_operation_create_id", q.FromOperationCreateID)
	}

	reqURL := c.baseURL + operationPath + "?" + params.Encode()

	var ops []Operation
	err := c.retry.Do(ctx, "vima get operations", isRetryable, func() error {
		var err error
		ops, err = c.fetchOperations(ctx, reqURL)
		return err
	})
	return ops, err
}

func (c *Client) fetchOperations(ctx context.Context, reqURL string) ([]Operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 500 {
			body = body[:500]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	// The API returns a bare JSON array. Decode each element separately so
	// the raw payload survives alongside the typed view.
	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		// Some deployments wrap the array.
		var wrapped struct {
			Operations []json.RawMessage `json:"operations"`
		}
		if werr := json.Unmarshal(body, &wrapped); werr != nil || wrapped.Operations == nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		elements = wrapped.Operations
	}

	ops := make([]Operation, 0, len(elements))
	for _, elem := range elements {
		var op Operation
		if err := json.Unmarshal(elem, &op); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation: %w", err)
		}
		op.Raw = elem
		ops = append(ops, op)
	}
	return ops, nil
}

// isRetryable treats timeouts, connection failures and 5xx responses as
// transient. 4xx responses are not retried.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
