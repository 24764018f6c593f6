// Package swapapi is the REST client for the swap platform backend: product
// lookup and trade submission. Failures are classified into the domain's
// sentinel errors so the confirmation flow can tell an expired session from
// an invalid offer.
package swapapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/barterline/swapd/internal/domain"
)

// Client talks to the swap platform's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for the given API root, e.g.
// "https://api.swap.example.com". token is sent as a Bearer credential; an
// empty token sends no Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetProduct fetches one product scoped by its owner's profile id.
func (c *Client) GetProduct(ctx context.Context, productID, profileID string) (domain.Product, error) {
	params := url.Values{}
	params.Set("profile_id", profileID)
	path := fmt.Sprintf("/products/%s?%s", url.PathEscape(productID), params.Encode())

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Product{}, fmt.Errorf("swapapi: get product %s: %w", productID, err)
	}

	var p APIProduct
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.Product{}, fmt.Errorf("swapapi: decode product %s: %w", productID, err)
	}
	return p.ToDomainProduct(), nil
}

// SubmitTrade commits a reconciled offer to the backend of record.
func (c *Client) SubmitTrade(ctx context.Context, sub domain.TradeSubmission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("swapapi: marshal submission: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/trades", payload); err != nil {
		return fmt.Errorf("swapapi: submit trade: %w", err)
	}
	return nil
}

// do performs one HTTP round trip and maps non-2xx statuses onto the domain
// error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classify(resp.StatusCode, body)
}

// classify maps an HTTP error status to a sentinel error, keeping the
// backend's own message as context.
func classify(status int, body []byte) error {
	var e apiError
	_ = json.Unmarshal(body, &e)
	detail := e.text()
	if detail == "" {
		detail = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrSessionExpired, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrForbidden, detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrInvalidTrade, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	default:
		return fmt.Errorf("unexpected status %d: %s", status, detail)
	}
}
