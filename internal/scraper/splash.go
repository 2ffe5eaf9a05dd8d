package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpetrov/wordspider/internal/link"
	"github.com/mpetrov/wordspider/internal/metrics"
)

// Config holds the retry policy for a SplashScraper.
type Config struct {
	// ColdRestartDelay is applied before the first retry, assuming
	// the backend process needs time to restart.
	ColdRestartDelay time.Duration

	// RetryDelay is applied before subsequent retries.
	RetryDelay time.Duration

	// RetryBudget is the number of retries allowed per attempt chain
	// before the engine raises a backend-unavailable failure.
	RetryBudget int
}

// DefaultConfig returns the retry policy tuned for a Splash backend.
func DefaultConfig() Config {
	return Config{
		ColdRestartDelay: 6 * time.Second,
		RetryDelay:       500 * time.Millisecond,
		RetryBudget:      5,
	}
}

// SplashScraper drives asynchronous render attempts for one domain
// crawl. Each attempt moves through SENT and terminates in SUCCESS,
// RETRY_SCHEDULED or FAILED; a scheduled retry re-enters SENT with an
// incremented attempt number via the shared retry scheduler.
type SplashScraper struct {
	client  *Client
	sched   *RetryScheduler
	cfg     Config
	stat    Statistic
	metrics *metrics.Metrics

	mu       sync.Mutex
	calls    map[*call]struct{}
	failed   []FailedSite
	canceled bool

	// Outstanding-work counters. A retry increments pendingRetries
	// before its originating call leaves inFlight, so sampling
	// pendingRetries first never observes a false zero.
	pendingRetries atomic.Int64
	inFlight       atomic.Int64

	// domain is the anchor host, set by the first resolved result.
	domain atomic.Pointer[string]
}

// callContext is the immutable per-attempt record. A retry produces a
// fresh context with the attempt number incremented.
type callContext struct {
	link    link.Link
	consume Consumer
	retries int
}

func (cc *callContext) next() *callContext {
	return &callContext{link: cc.link, consume: cc.consume, retries: cc.retries + 1}
}

// call is one in-flight render attempt with its cancellation handle.
type call struct {
	ctx    context.Context
	cancel context.CancelFunc
	cc     *callContext
}

func (c *call) canceled() bool {
	return c.ctx.Err() != nil
}

// NewSplashScraper creates an engine for one domain crawl. The client
// and scheduler are shared services owned by the run orchestrator; m
// may be nil to disable metrics.
func NewSplashScraper(client *Client, sched *RetryScheduler, cfg Config, m *metrics.Metrics) *SplashScraper {
	return &SplashScraper{
		client:  client,
		sched:   sched,
		cfg:     cfg,
		metrics: m,
		calls:   make(map[*call]struct{}),
	}
}

// Scrape issues one asynchronous render attempt for l and returns
// immediately.
func (s *SplashScraper) Scrape(l link.Link, consume Consumer) {
	s.issue(&callContext{link: l, consume: consume})
}

// ScrapingSitesCount returns pending retries plus in-flight calls.
func (s *SplashScraper) ScrapingSitesCount() int {
	// order is important
	pending := s.pendingRetries.Load()
	return int(pending + s.inFlight.Load())
}

// CancelAll marks the engine canceled and aborts every tracked call.
// Retries already scheduled fire but drop themselves.
func (s *SplashScraper) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
	for c := range s.calls {
		c.cancel()
	}
}

// FailedSites returns a snapshot of the terminal failures so far.
func (s *SplashScraper) FailedSites() []FailedSite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FailedSite, len(s.failed))
	copy(out, s.failed)
	return out
}

// Stat returns the engine's counters.
func (s *SplashScraper) Stat() *Statistic {
	return &s.stat
}

func (s *SplashScraper) issue(cc *callContext) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &call{ctx: ctx, cancel: cancel, cc: cc}

	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		cancel()
		return
	}
	s.calls[c] = struct{}{}
	s.mu.Unlock()

	s.inFlight.Add(1)
	s.stat.requestSent()
	s.metrics.RenderSent()
	go s.perform(c)
}

func (s *SplashScraper) perform(c *call) {
	status, body, err := s.client.Render(c.ctx, c.cc.link)
	if err != nil {
		s.handleFailure(c, err)
	} else {
		s.handleResponse(c, status, body)
	}
	s.release(c)
}

// release removes the call from the registry after any retry it
// scheduled has been counted, preserving the count invariant.
func (s *SplashScraper) release(c *call) {
	s.mu.Lock()
	delete(s.calls, c)
	s.mu.Unlock()
	s.inFlight.Add(-1)
	c.cancel()
}

func (s *SplashScraper) handleFailure(c *call, err error) {
	switch {
	case isBackendRestarting(err):
		s.scheduleRetry(c)
	case isCanceled(err):
		slog.Debug("scraper: call canceled", "url", c.cc.link)
	case isLocallyClosed(err):
		slog.Error("scraper: socket closed locally", "url", c.cc.link)
		s.recordFailure(c, KindConnection, err)
	default:
		slog.Error("scraper: request failed", "url", c.cc.link, "error", err)
		s.stat.requestFailed()
		s.metrics.RenderResult("failed")
		s.recordFailure(c, KindConnection, err)
	}
}

func (s *SplashScraper) handleResponse(c *call, status int, body []byte) {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		// Backend overloaded or restarting.
		s.scheduleRetry(c)
	case http.StatusGatewayTimeout:
		slog.Error("scraper: render timeout expired", "url", c.cc.link)
		s.stat.requestTimedOut()
		s.metrics.RenderResult("timeout")
	case http.StatusOK:
		s.handleBody(c, body)
	default:
		slog.Error("scraper: unexpected status", "url", c.cc.link, "status", status)
		s.stat.requestFailed()
		s.metrics.RenderResult("failed")
		s.recordFailure(c, KindUnexpected, fmt.Errorf("unexpected status %d", status))
	}
}

func (s *SplashScraper) handleBody(c *call, body []byte) {
	if len(body) == 0 {
		s.stat.requestFailed()
		s.metrics.RenderResult("failed")
		s.recordFailure(c, KindConnection, errors.New("response body is absent"))
		return
	}

	var rr renderResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		s.stat.responseExceptioned()
		s.metrics.RenderResult("exceptioned")
		s.recordFailure(c, KindUnexpected, fmt.Errorf("failed to decode render response: %w", err))
		return
	}
	resolved, err := link.New(rr.URL)
	if err != nil {
		s.stat.responseExceptioned()
		s.metrics.RenderResult("exceptioned")
		s.recordFailure(c, KindUnexpected, fmt.Errorf("render response has bad url: %w", err))
		return
	}

	s.stat.requestSucceeded()

	if !s.domainSuitable(resolved) {
		slog.Info("scraper: rejected off-domain redirect", "from", c.cc.link, "to", resolved)
		s.stat.responseRejected()
		s.metrics.RenderResult("rejected")
		return
	}
	if !resolved.SameResource(c.cc.link) {
		slog.Info("scraper: redirect", "from", c.cc.link, "to", resolved)
	}
	if c.canceled() {
		return
	}
	s.deliver(c, Site{HTML: rr.HTML, Resolved: resolved, Initial: c.cc.link})
}

// deliver hands the site to the consumer. Consumer errors and panics
// are recorded against this attempt only.
func (s *SplashScraper) deliver(c *call, site Site) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("consumer panicked: %v", r)
			}
		}()
		return c.cc.consume(site)
	}()

	switch {
	case err == nil:
		s.stat.siteScraped()
		s.metrics.RenderResult("scraped")
	case errors.Is(err, ErrWrongLanguage):
		slog.Error("scraper: wrong html language", "url", c.cc.link)
		s.stat.responseRejected()
		s.metrics.RenderResult("rejected")
		s.recordFailure(c, KindContentRejected, err)
	default:
		slog.Error("scraper: failed to handle response", "url", c.cc.link, "error", err)
		s.stat.responseExceptioned()
		s.metrics.RenderResult("exceptioned")
		s.recordFailure(c, KindUnexpected, err)
	}
}

// domainSuitable applies the anchor check: the first resolved host
// establishes the anchor, later hosts must contain it as a substring
// to tolerate subdomain variation.
func (s *SplashScraper) domainSuitable(resolved link.Link) bool {
	host := resolved.FixedHost()
	if s.domain.CompareAndSwap(nil, &host) {
		return true
	}
	return strings.Contains(host, *s.domain.Load())
}

func (s *SplashScraper) scheduleRetry(c *call) {
	s.pendingRetries.Add(1)
	delay, ok := s.retryDelayFor(c.cc.retries)
	if !ok {
		s.pendingRetries.Add(-1)
		slog.Error("scraper: render backend is not responding", "url", c.cc.link)
		s.stat.requestFailed()
		s.metrics.RenderResult("failed")
		s.recordFailure(c, KindBackendUnavailable, ErrBackendUnavailable)
		return
	}
	s.sched.Schedule(delay, func() { s.retry(c.cc) })
}

func (s *SplashScraper) retryDelayFor(attempt int) (time.Duration, bool) {
	switch {
	case attempt == 0:
		return s.cfg.ColdRestartDelay, true
	case attempt < s.cfg.RetryBudget:
		return s.cfg.RetryDelay, true
	default:
		return 0, false
	}
}

// retry re-issues an attempt from the scheduler goroutine, unless the
// engine was canceled in the interim. The originating call's context
// is long torn down by now, so only the engine-level flag decides.
// The new call enters inFlight before pendingRetries is decremented.
func (s *SplashScraper) retry(cc *callContext) {
	defer s.pendingRetries.Add(-1)

	s.mu.Lock()
	canceled := s.canceled
	s.mu.Unlock()
	if canceled {
		return
	}

	s.issue(cc.next())
	s.stat.requestRetried()
	s.metrics.RenderRetried()
}

func (s *SplashScraper) recordFailure(c *call, kind Kind, err error) {
	fs := FailedSite{
		Link: c.cc.link,
		Err:  &ScrapeError{Kind: kind, Link: c.cc.link, Err: err},
	}
	s.mu.Lock()
	s.failed = append(s.failed, fs)
	s.mu.Unlock()
}
