// Package pentest provides an HTTP client for the penetration-testing backend API.
package pentest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/thaveesi/blackRabbit/internal/domain"
)

// Client is an HTTP client for the pentest backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request issued by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit applies a client-side token bucket. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new pentest backend client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is returned for any non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pentest backend returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("pentest backend returned status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrorResponse represents an error body from the backend.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// EventsResponse is the body of GET /contracts/:id/events.
type EventsResponse struct {
	Events json.RawMessage `json:"events"`
}

// ContractDetailResponse is the body of GET /contracts/:id.
type ContractDetailResponse struct {
	ContractInfo domain.ContractSummary `json:"contract_info"`
	Contract     domain.ContractSummary `json:"contract"`
}

// CreateContractResponse is the body of POST /contracts.
type CreateContractResponse struct {
	Message  string                 `json:"message,omitempty"`
	Contract domain.ContractSummary `json:"contract"`
}

// RecentContracts calls GET /contracts/recent. The backend owns ordering
// (most recent first); the result is returned as received.
func (c *Client) RecentContracts(ctx context.Context) ([]domain.ContractSummary, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/contracts/recent", nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to list recent contracts: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var envelope struct {
			Contracts []domain.ContractSummary `json:"contracts"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode recent contracts: %w", err)
		}
		return envelope.Contracts, nil
	}

	var contracts []domain.ContractSummary
	if err := json.Unmarshal(raw, &contracts); err != nil {
		return nil, fmt.Errorf("failed to decode recent contracts: %w", err)
	}
	return contracts, nil
}

// ContractEvents calls GET /contracts/:contract_id/events.
func (c *Client) ContractEvents(ctx context.Context, contractID string) ([]domain.Event, error) {
	var resp EventsResponse
	path := fmt.Sprintf("/contracts/%s/events", url.PathEscape(contractID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch events for contract %s: %w", contractID, err)
	}
	if len(resp.Events) == 0 || string(resp.Events) == "null" {
		return nil, nil
	}
	return domain.DecodeEvents(resp.Events, contractID)
}

// GetContract calls GET /contracts/:contract_id.
func (c *Client) GetContract(ctx context.Context, contractID string) (*domain.ContractSummary, error) {
	var resp ContractDetailResponse
	path := "/contracts/" + url.PathEscape(contractID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch contract %s: %w", contractID, err)
	}

	info := resp.ContractInfo
	if info == (domain.ContractSummary{}) {
		info = resp.Contract
	}
	if info.ContractID == "" {
		info.ContractID = contractID
	}
	return &info, nil
}

// CreateContract calls POST /contracts to submit a new pentest job.
func (c *Client) CreateContract(ctx context.Context, sub domain.Submission) (*domain.ContractSummary, error) {
	var resp CreateContractResponse
	if err := c.do(ctx, http.MethodPost, "/contracts", sub, &resp); err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}
	if resp.Contract.ContractID == "" {
		return nil, errors.New("failed to create contract: response has no contract_id")
	}
	return &resp.Contract, nil
}

// ListReports calls GET /reports.
func (c *Client) ListReports(ctx context.Context) ([]domain.ReportSummary, error) {
	var reports []domain.ReportSummary
	if err := c.do(ctx, http.MethodGet, "/reports", nil, &reports); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// GetReport calls GET /report/:contract_id.
func (c *Client) GetReport(ctx context.Context, contractID string) (*domain.Report, error) {
	var report domain.Report
	path := "/report/" + url.PathEscape(contractID)
	if err := c.do(ctx, http.MethodGet, path, nil, &report); err != nil {
		return nil, fmt.Errorf("failed to fetch report %s: %w", contractID, err)
	}
	return &report, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
			apiErr.Message = errResp.Error
			if apiErr.Message == "" {
				apiErr.Message = errResp.Message
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
