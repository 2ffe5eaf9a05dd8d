package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mpetrov/wordspider/internal/link"
)

// ClientConfig holds the render client settings.
type ClientConfig struct {
	BackendURL     string        // base URL of the rendering backend
	RenderTimeout  time.Duration // backend-side render budget, sent as a query parameter
	RequestTimeout time.Duration // HTTP round-trip timeout
	RequestDelay   time.Duration // per-host politeness delay
	MaxInFlight    int64         // cap on concurrent render calls
	UserAgent      string
}

// Client executes render requests against the remote rendering
// backend. It owns the HTTP connection pool, a per-host rate limiter
// and an in-flight semaphore, and is shared by every Scraper in a run.
// The run orchestrator constructs it once and closes it at shutdown.
type Client struct {
	httpClient *http.Client
	backend    *url.URL
	timeout    time.Duration
	userAgent  string
	limiter    *RateLimiter
	sem        *semaphore.Weighted
	closed     atomic.Bool
}

// renderResponse is the backend's 200 body: the final resolved URL and
// the rendered document.
type renderResponse struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// NewClient creates a render client for the backend at cfg.BackendURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	backend, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		backend:   backend,
		timeout:   cfg.RenderTimeout,
		userAgent: cfg.UserAgent,
		limiter:   NewRateLimiter(cfg.RequestDelay),
		sem:       semaphore.NewWeighted(cfg.MaxInFlight),
	}, nil
}

// Render requests a rendered copy of l and returns the HTTP status
// code and response body. Transport-level failures come back as the
// error; interpreting the status code is the caller's concern.
func (c *Client) Render(ctx context.Context, l link.Link) (int, []byte, error) {
	if c.closed.Load() {
		return 0, nil, ErrClientClosed
	}

	if err := c.limiter.Wait(ctx, l.FixedHost()); err != nil {
		return 0, nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return 0, nil, err
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.renderURL(l), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// renderURL builds the backend endpoint for l, e.g.
// http://localhost:8050/render.json?url=...&html=1&timeout=90.
func (c *Client) renderURL(l link.Link) string {
	endpoint := *c.backend
	endpoint.Path = "/render.json"

	q := url.Values{}
	q.Set("url", l.String())
	q.Set("html", "1")
	if c.timeout > 0 {
		q.Set("timeout", strconv.Itoa(int(c.timeout.Seconds())))
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String()
}

// Close marks the client closed and releases idle connections.
// In-flight calls fail with ErrClientClosed on their next issue.
func (c *Client) Close() {
	c.closed.Store(true)
	c.httpClient.CloseIdleConnections()
}
