package payshack

import (
	"bytes"
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
	loginPath      = "/indigate-user-svc/api/v1/auth/login"
	payinPath      = "/indigate-payin-svc/api/v1/payin/transaction/fetch"
	maxPageSize    = 100

	// Tokens live 30 minutes; refresh 5 minutes early so a page fetch
	// never starts with a token about to expire.
	tokenTTL          = 30 * time.Minute
	tokenExpiryBuffer = 5 * time.Minute
)

// APIError is a non-2xx response from the PayShack API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payshack API error (status %d): %s", e.StatusCode, e.Body)
}

// AuthError is a login failure or an authorization rejection that survived
// the single re-login attempt.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("payshack auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// Client handles communication with the PayShack API. A login exchanges
// credentials for a short-lived bearer token plus a client ID; both travel
// on every subsequent request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	password   string
	retry      retry.Policy

	token        string
	clientID     string
	tokenExpires time.Time
	now          func() time.Time
}

// NewClient creates a new PayShack API client.
func NewClient(baseURL, email, password string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		baseURL:  baseURL,
		email:    email,
		password: password,
		retry:    retry.DefaultPolicy,
		now:      time.Now,
	}
}

type loginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Token        string `json:"token"`
		ClientID     string `json:"clientId"`
		RefreshToken string `json:"refreshToken"`
		Role         string `json:"role"`
	} `json:"data"`
}

// Login authenticates and caches the token and client ID for subsequent
// requests.
func (c *Client) Login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal login payload: %w", err)
	}

	return c.retry.Do(ctx, "payshack login", isRetryable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			if len(body) > 500 {
				body = body[:500]
			}
			return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		var loginResp loginResponse
		if err := json.Unmarshal(body, &loginResp); err != nil {
			return fmt.Errorf("failed to unmarshal login response: %w", err)
		}
		if !loginResp.Success || loginResp.Data.Token == "" {
			return &AuthError{Err: fmt.Errorf("login rejected: %s", loginResp.Message)}
		}

		c.token = loginResp.Data.Token
		c.clientID = loginResp.Data.ClientID
		c.tokenExpires = c.now().Add(tokenTTL)
		return nil
	})
}

func (c *Client) ensureAuth(ctx context.Context) error {
	if c.token != "" && c.now().Before(c.tokenExpires.Add(-tokenExpiryBuffer)) {
		return nil
	}
	return c.Login(ctx)
}

// PayinQuery holds the filter parameters for one pay-in fetch. Pagination
// is 1-based.
type PayinQuery struct {
	Page     int
	Limit    int
	DateFrom time.Time
	DateTo   time.Time
}

// PayinTransaction is one raw pay-in record. Raw holds the untouched
// response element for audit storage.
type PayinTransaction struct {
	TxnID           string          `json:"txnId"`
	SpTxnID         *string         `json:"spTxnId"`
	OrderID         string          `json:"orderId"`
	ClientID        *string         `json:"clientId"`
	ClientName      string          `json:"clientName"`
	Amount          json.Number     `json:"amount"`
	PaidAmount      *json.Number    `json:"paidAmount"`
	TxnStatus       string          `json:"txnStatus"`
	TransactionType string          `json:"transactionType"`
	PayerVpa        string          `json:"payerVpa"`
	UTR             *string         `json:"utr"`
	CreatedAt       string          `json:"createdAt"`
	ModifiedAt      string          `json:"modifiedAt"`
	Raw             json.RawMessage `json:"-"`
}

// PayinPage is one page of pay-in transactions plus pagination totals.
type PayinPage struct {
	Transactions []PayinTransaction
	CurrentPage  int
	TotalPages   int
	TotalRecords int
}

type payinResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Transactions []json.RawMessage `json:"transactions"`
		CurrentPage  int               `json:"currentPage"`
		TotalPages   int               `json:"totalPages"`
		TotalRecords int               `json:"totalRecords"`
	} `json:"data"`
}

// GetPayinTransactions fetches one page of pay-in transactions. An expired
// token is refreshed transparently: a 401/403 triggers exactly one re-login
// and retry, after which the failure escalates.
func (c *Client) GetPayinTransactions(ctx context.Context, q PayinQuery) (*PayinPage, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))
	if !q.DateFrom.IsZero() {
		params.Set("dateFrom", q.DateFrom.UTC().Format("2006-01-02"))
	}
	if !q.DateTo.IsZero() {
		params.Set("dateTo", q.DateTo.UTC().Format("2006-01-02"))
	}
	reqURL := c.baseURL + payinPath + "?" + params.Encode()

	var result *PayinPage
	err := c.retry.Do(ctx, "payshack fetch payin", isRetryable, func() error {
		var err error
		result, err = c.fetchPayin(ctx, reqURL)

		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			// Token expired mid-run: one re-login, one retry.
			c.token = ""
			if loginErr := c.ensureAuth(ctx); loginErr != nil {
				return &AuthError{Err: loginErr}
			}
			result, err = c.fetchPayin(ctx, reqURL)
			if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
				return &AuthError{Err: err}
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) fetchPayin(ctx context.Context, reqURL string) (*PayinPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("reseller-id", c.clientID)
	req.Header.Set("Accept", "*/*")

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

	var payinResp payinResponse
	if err := json.Unmarshal(body, &payinResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !payinResp.Success {
		return nil, fmt.Errorf("payshack API returned success=false: %s", payinResp.Message)
	}

	result := &PayinPage{
		CurrentPage:  payinResp.Data.CurrentPage,
		TotalPages:   payinResp.Data.TotalPages,
		TotalRecords: payinResp.Data.TotalRecords,
	}
	for _, elem := range payinResp.Data.Transactions {
		var tx PayinTransaction
		if err := json.Unmarshal(elem, &tx); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
		}
		tx.Raw = elem
		result.Transactions = append(result.Transactions, tx)
	}
	return result, nil
}

// isRetryable treats timeouts, connection failures and 5xx responses as
// transient. Authorization failures have their own single re-login path.
func isRetryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
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
