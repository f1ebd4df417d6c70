// Package api implements the authenticated REST client of the scanner backend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"cnsniper/internal/model"
)

// MinInterval is the shortest scan interval the backend accepts, in seconds.
const MinInterval = 30

// Rejected offer categories.
const (
	CategoryJunk   = "junk"
	CategoryChange = "change"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Doer sends a request carrying the session's bearer token.
type Doer interface {
	AuthorizedRequest(ctx context.Context, method, path string, body any) (*http.Response, error)
}

// Client wraps the backend endpoints that require a session.
type Client struct {
	doer Doer
}

// New creates a Client that sends every request through doer.
func New(doer Doer) *Client {
	return &Client{doer: doer}
}

// GetInterval returns the current scan interval in seconds.
func (c *Client) GetInterval(ctx context.Context) (int, error) {
	var out struct {
		ScanInterval int `json:"scan_interval"`
	}
	if err := c.do(ctx, http.MethodGet, "/interval", nil, &out); err != nil {
		return 0, fmt.Errorf("get interval: %w", err)
	}
	return out.ScanInterval, nil
}

// SetInterval changes the scan interval. Values below MinInterval are
// rejected without contacting the backend.
func (c *Client) SetInterval(ctx context.Context, seconds int) error {
	if seconds < MinInterval {
		return Invalid("minimum interval is %d seconds", MinInterval)
	}
	body := map[string]int{"interval": seconds}
	if err := c.do(ctx, http.MethodPost, "/interval", body, nil); err != nil {
		return fmt.Errorf("set interval: %w", err)
	}
	return nil
}

// GlobalStats returns the all-time scanner summary.
func (c *Client) GlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	var out model.GlobalStats
	if err := c.do(ctx, http.MethodGet, "/stats/global", nil, &out); err != nil {
		return nil, fmt.Errorf("global stats: %w", err)
	}
	return &out, nil
}

// TodayStats returns today's counters.
func (c *Client) TodayStats(ctx context.Context) (*model.DayStats, error) {
	var out model.DayStats
	if err := c.do(ctx, http.MethodGet, "/stats/today", nil, &out); err != nil {
		return nil, fmt.Errorf("today stats: %w", err)
	}
	return &out, nil
}

// WeeklyStats returns the current week compared with the previous one.
func (c *Client) WeeklyStats(ctx context.Context) (*model.WeeklyStats, error) {
	var out model.WeeklyStats
	if err := c.do(ctx, http.MethodGet, "/stats/weekly", nil, &out); err != nil {
		return nil, fmt.Errorf("weekly stats: %w", err)
	}
	return &out, nil
}

// Dashboard loads the three statistics views concurrently. It fails if any
// of them fails.
func (c *Client) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	var d model.Dashboard
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Global, err = c.GlobalStats(ctx)
		return err
	})
	g.Go(func() (err error) {
		d.Today, err = c.TodayStats(ctx)
		return err
	})
	g.Go(func() (err error) {
		d.Weekly, err = c.WeeklyStats(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Rejected returns the current snapshot of rejected offers in a category.
func (c *Client) Rejected(ctx context.Context, category string) ([]model.Offer, error) {
	if category != CategoryJunk && category != CategoryChange {
		return nil, Invalid("unknown category %q", category)
	}
	var out []model.Offer
	if err := c.do(ctx, http.MethodGet, "/offers/rejected/"+url.PathEscape(category), nil, &out); err != nil {
		return nil, fmt.Errorf("rejected %s: %w", category, err)
	}
	return out, nil
}

// SubscribePush registers a push subscription with the backend.
func (c *Client) SubscribePush(ctx context.Context, sub model.PushSubscription) error {
	if err := c.do(ctx, http.MethodPost, "/push/subscribe", sub, nil); err != nil {
		return fmt.Errorf("subscribe push: %w", err)
	}
	return nil
}

// UnsubscribePush tells the backend to stop delivering to endpoint.
func (c *Client) UnsubscribePush(ctx context.Context, endpoint string) error {
	body := map[string]string{"endpoint": endpoint}
	if err := c.do(ctx, http.MethodPost, "/push/unsubscribe", body, nil); err != nil {
		return fmt.Errorf("unsubscribe push: %w", err)
	}
	return nil
}

type highlightNumbers struct {
	Numbers []int `json:"numbers"`
}

// HighlightNumbers returns the highlight numbers saved on the backend.
func (c *Client) HighlightNumbers(ctx context.Context) ([]int, error) {
	var out highlightNumbers
	if err := c.do(ctx, http.MethodGet, "/settings/highlight-numbers", nil, &out); err != nil {
		return nil, fmt.Errorf("get highlight numbers: %w", err)
	}
	return out.Numbers, nil
}

// SaveHighlightNumbers replaces the highlight numbers saved on the backend.
func (c *Client) SaveHighlightNumbers(ctx context.Context, numbers []int) error {
	if numbers == nil {
		numbers = []int{}
	}
	if err := c.do(ctx, http.MethodPut, "/settings/highlight-numbers", highlightNumbers{Numbers: numbers}, nil); err != nil {
		return fmt.Errorf("save highlight numbers: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.doer.AuthorizedRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DecodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 5*1024*1024)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
