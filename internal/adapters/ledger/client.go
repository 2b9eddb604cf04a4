// Package ledger talks to the spreadsheet service holding the financial
// ledger and translates between sheet rows and transactions.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/orgboard/orgsync/internal/adapters/ratelimit"
	"github.com/orgboard/orgsync/internal/credentials"
	"github.com/orgboard/orgsync/internal/sync"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// valueRange is the wire shape of a block of sheet cells.
type valueRange struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

// appendResponse reports where an appended row landed.
type appendResponse struct {
	UpdatedRange string `json:"updated_range"`
}

// Client is a thin HTTP client for the spreadsheet values API. Every request
// consumes from the outbound rate budget before leaving the process.
type Client struct {
	baseURL       string
	spreadsheetID string
	httpClient    *http.Client
	creds         *credentials.Manager
	limiter       ratelimit.Storage
	limit         ratelimit.Limit
}

// NewClient constructs a ledger client. ratePer100s caps outbound requests
// over the provider's 100-second quota window.
func NewClient(baseURL, spreadsheetID string, creds *credentials.Manager, limiter ratelimit.Storage, ratePer100s int) *Client {
	return &Client{
		baseURL:       baseURL,
		spreadsheetID: spreadsheetID,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		creds:   creds,
		limiter: limiter,
		limit:   ratelimit.Limit{Limit: ratePer100s, Window: 100 * time.Second},
	}
}

func (c *Client) getRange(ctx context.Context, rangeRef string) (*valueRange, error) {
	p := fmt.Sprintf("/spreadsheets/%s/values/%s", c.spreadsheetID, rangeRef)

	var out valueRange
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) updateRange(ctx context.Context, rangeRef string, values [][]string) error {
	p := fmt.Sprintf("/spreadsheets/%s/values/%s", c.spreadsheetID, rangeRef)
	return c.doJSON(ctx, http.MethodPut, p, &valueRange{Range: rangeRef, Values: values}, nil)
}

func (c *Client) appendRow(ctx context.Context, sheet string, row []string) (string, error) {
	p := fmt.Sprintf("/spreadsheets/%s/values/%s:append", c.spreadsheetID, sheet)

	var out appendResponse
	if err := c.doJSON(ctx, http.MethodPost, p, &valueRange{Values: [][]string{row}}, &out); err != nil {
		return "", err
	}
	return out.UpdatedRange, nil
}

func (c *Client) clearRange(ctx context.Context, rangeRef string) error {
	p := fmt.Sprintf("/spreadsheets/%s/values/%s:clear", c.spreadsheetID, rangeRef)
	return c.doJSON(ctx, http.MethodPost, p, nil, nil)
}

// doJSON sends a JSON request and decodes a JSON response (if out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, p string, in any, out any) error {
	allowed, err := c.limiter.Allow(ctx, "ledger", c.limit)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return fmt.Errorf("outbound budget spent: %w", sync.ErrRateLimited)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u.Path = path.Join(u.Path, p)

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", sync.ErrAuthExpired)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.mapError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) mapError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("ledger: %w", sync.ErrAuthExpired)
	case http.StatusNotFound:
		return fmt.Errorf("ledger: %w", sync.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("ledger: %w", sync.ErrRateLimited)
	}

	if resp.StatusCode < 500 {
		return fmt.Errorf("ledger: status=%d body=%s: %w", resp.StatusCode, string(b), sync.ErrRejected)
	}
	return fmt.Errorf("ledger: status=%d body=%s", resp.StatusCode, string(b))
}
