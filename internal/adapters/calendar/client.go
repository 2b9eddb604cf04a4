// Package calendar talks to the shared calendar service and translates
// between its event resources and work-program events.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// errSyncTokenExpired means the server expired our incremental cursor and we
// must fall back to a full listing.
var errSyncTokenExpired = errors.New("calendar sync token expired")

// calendarEvent is the wire shape of one calendar event resource.
type calendarEvent struct {
	ID          string    `json:"id"`
	Etag        string    `json:"etag"`
	Status      string    `json:"status"` // confirmed | cancelled
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

// eventsPage is one page of a calendar listing.
type eventsPage struct {
	Items         []calendarEvent `json:"items"`
	NextPageToken string          `json:"next_page_token"`
	NextSyncToken string          `json:"next_sync_token"`
}

// Client is a thin HTTP client for the calendar service. Every request
// consumes from the outbound rate budget before leaving the process.
type Client struct {
	baseURL    string
	calendarID string
	httpClient *http.Client
	creds      *credentials.Manager
	limiter    ratelimit.Storage
	limit      ratelimit.Limit
}

// NewClient constructs a calendar client. ratePerMin caps outbound requests.
func NewClient(baseURL, calendarID string, creds *credentials.Manager, limiter ratelimit.Storage, ratePerMin int) *Client {
	return &Client{
		baseURL:    baseURL,
		calendarID: calendarID,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		creds:   creds,
		limiter: limiter,
		limit:   ratelimit.Limit{Limit: ratePerMin, Window: time.Minute},
	}
}

func (c *Client) listEvents(ctx context.Context, syncToken, pageToken string) (*eventsPage, error) {
	q := url.Values{}
	if syncToken != "" {
		q.Set("syncToken", syncToken)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	p := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	var page eventsPage
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) putEvent(ctx context.Context, id string, ev *calendarEvent) (*calendarEvent, error) {
	p := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(id))

	var out calendarEvent
	if err := c.doJSON(ctx, http.MethodPut, p, ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) deleteEvent(ctx context.Context, id string) error {
	p := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(id))
	return c.doJSON(ctx, http.MethodDelete, p, nil, nil)
}

// doJSON sends a JSON request and decodes a JSON response (if out is non-nil).
// Transport failures and spent rate budget surface as the shared adapter
// sentinels so the orchestrator can pick retry behavior.
func (c *Client) doJSON(ctx context.Context, method, p string, in any, out any) error {
	allowed, err := c.limiter.Allow(ctx, "calendar", c.limit)
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
	parsed, err := url.Parse(p)
	if err != nil {
		return err
	}
	u.Path = path.Join(u.Path, parsed.Path)
	u.RawQuery = parsed.RawQuery

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
		return fmt.Errorf("calendar: %w", sync.ErrAuthExpired)
	case http.StatusNotFound:
		return fmt.Errorf("calendar: %w", sync.ErrNotFound)
	case http.StatusGone:
		return errSyncTokenExpired
	case http.StatusTooManyRequests:
		return fmt.Errorf("calendar: %w", sync.ErrRateLimited)
	}

	if resp.StatusCode < 500 {
		return fmt.Errorf("calendar: status=%d body=%s: %w", resp.StatusCode, string(b), sync.ErrRejected)
	}
	return fmt.Errorf("calendar: status=%d body=%s", resp.StatusCode, string(b))
}
