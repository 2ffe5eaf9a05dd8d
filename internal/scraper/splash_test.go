package scraper

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpetrov/wordspider/internal/link"
)

func testClient(t *testing.T, backendURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BackendURL:     backendURL,
		RenderTimeout:  10 * time.Second,
		RequestTimeout: 10 * time.Second,
		RequestDelay:   time.Millisecond,
		MaxInFlight:    32,
		UserAgent:      "wordspider-test",
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func testScraper(t *testing.T, backendURL string) *SplashScraper {
	t.Helper()
	sched := NewRetryScheduler()
	t.Cleanup(sched.Stop)
	cfg := Config{
		ColdRestartDelay: 20 * time.Millisecond,
		RetryDelay:       10 * time.Millisecond,
		RetryBudget:      3,
	}
	return NewSplashScraper(testClient(t, backendURL), sched, cfg, nil)
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func renderBody(url, html string) string {
	return fmt.Sprintf(`{"url":%q,"html":%q}`, url, html)
}

func TestScrapingSitesCountTracksInFlightCalls(t *testing.T) {
	const n = 5
	var arrived atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Add(1)
		<-release
		fmt.Fprint(w, renderBody("https://example.com", "<html></html>"))
	}))
	defer srv.Close()
	defer close(release)

	s := testScraper(t, srv.URL)
	for i := 0; i < n; i++ {
		s.Scrape(link.MustNew(fmt.Sprintf("https://example.com/p%d", i)), func(Site) error { return nil })
	}

	if got := s.ScrapingSitesCount(); got != n {
		t.Errorf("ScrapingSitesCount() = %d immediately after %d scrapes, want %d", got, n, n)
	}
	if !waitFor(t, 2*time.Second, func() bool { return arrived.Load() == n }) {
		t.Fatalf("Backend saw %d requests, want %d", arrived.Load(), n)
	}
	if got := s.ScrapingSitesCount(); got != n {
		t.Errorf("ScrapingSitesCount() = %d with all calls blocked, want %d", got, n)
	}
}

func TestRetryAfterBackendRestart(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, renderBody("https://example.com", "<html></html>"))
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	var delivered atomic.Int64
	s.Scrape(link.MustNew("https://example.com"), func(Site) error {
		delivered.Add(1)
		return nil
	})

	if !waitFor(t, 3*time.Second, func() bool { return delivered.Load() == 1 }) {
		t.Fatalf("Site was not delivered after retries; %d requests seen", requests.Load())
	}
	if got := s.Stat().Retried(); got != 2 {
		t.Errorf("Retried() = %d, want 2", got)
	}
	if !waitFor(t, time.Second, func() bool { return s.ScrapingSitesCount() == 0 }) {
		t.Errorf("ScrapingSitesCount() = %d after completion, want 0", s.ScrapingSitesCount())
	}
	if len(s.FailedSites()) != 0 {
		t.Errorf("FailedSites() = %v, want none", s.FailedSites())
	}
}

func TestRetryAfterPrematureEndOfStream(t *testing.T) {
	// The first response dies mid-body, as a restarting backend drops
	// its connections; the attempt must be re-issued, not failed.
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("Server does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Errorf("Hijack failed: %v", err)
				return
			}
			fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nContent-Length: 500\r\n\r\n{\"url\":")
			conn.Close()
			return
		}
		fmt.Fprint(w, renderBody("https://example.com", "<html></html>"))
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	var delivered atomic.Int64
	s.Scrape(link.MustNew("https://example.com"), func(Site) error {
		delivered.Add(1)
		return nil
	})

	if !waitFor(t, 3*time.Second, func() bool { return delivered.Load() == 1 }) {
		t.Fatalf("Site was not delivered after the dropped connection; %d requests seen", requests.Load())
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("Backend saw %d requests, want 2", got)
	}
	if got := s.Stat().Retried(); got != 1 {
		t.Errorf("Retried() = %d, want 1", got)
	}
	if len(s.FailedSites()) != 0 {
		t.Errorf("FailedSites() = %v, want none", s.FailedSites())
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	s.Scrape(link.MustNew("https://example.com"), func(Site) error {
		t.Error("Consumer must not be invoked when the backend never recovers")
		return nil
	})

	if !waitFor(t, 3*time.Second, func() bool { return len(s.FailedSites()) == 1 }) {
		t.Fatalf("Expected one failed site, got %d", len(s.FailedSites()))
	}
	// Initial attempt plus the full retry budget.
	if got := requests.Load(); got != 4 {
		t.Errorf("Backend saw %d requests, want 4", got)
	}
	if got := s.Stat().Retried(); got != 3 {
		t.Errorf("Retried() = %d, want 3", got)
	}

	err := s.FailedSites()[0].Err
	if KindOf(err) != KindBackendUnavailable {
		t.Errorf("KindOf(%v) = %s, want backend_unavailable", err, KindOf(err))
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Failure should wrap ErrBackendUnavailable, got %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return s.ScrapingSitesCount() == 0 }) {
		t.Errorf("ScrapingSitesCount() = %d, want 0 after giving up", s.ScrapingSitesCount())
	}
}

func TestDomainAnchor(t *testing.T) {
	// The backend echoes the requested URL's path as the resolved host.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		switch {
		case target == "https://example.com":
			fmt.Fprint(w, renderBody("https://example.com", "<html></html>"))
		case target == "https://example.com/redirected":
			fmt.Fprint(w, renderBody("https://other.org/landing", "<html></html>"))
		default:
			fmt.Fprint(w, renderBody("https://sub.example.com/page", "<html></html>"))
		}
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)

	var mu sync.Mutex
	var resolved []string
	consume := func(site Site) error {
		mu.Lock()
		resolved = append(resolved, site.Resolved.String())
		mu.Unlock()
		return nil
	}

	// First result establishes the anchor.
	s.Scrape(link.MustNew("https://example.com"), consume)
	if !waitFor(t, 2*time.Second, func() bool { mu.Lock(); defer mu.Unlock(); return len(resolved) == 1 }) {
		t.Fatal("Anchor-establishing result was not delivered")
	}

	// Off-domain redirect is rejected, never delivered.
	s.Scrape(link.MustNew("https://example.com/redirected"), consume)
	if !waitFor(t, 2*time.Second, func() bool { return s.Stat().Rejected() == 1 }) {
		t.Fatalf("Rejected() = %d, want 1", s.Stat().Rejected())
	}

	// Subdomain variation is tolerated.
	s.Scrape(link.MustNew("https://example.com/sub"), consume)
	if !waitFor(t, 2*time.Second, func() bool { mu.Lock(); defer mu.Unlock(); return len(resolved) == 2 }) {
		t.Fatal("Subdomain result was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if resolved[1] != "https://sub.example.com/page" {
		t.Errorf("Second delivery = %q, want subdomain page", resolved[1])
	}
	if got := s.Stat().Scraped(); got != 2 {
		t.Errorf("Scraped() = %d, want 2", got)
	}
}

func TestCancelAllSuppressesDelivery(t *testing.T) {
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, renderBody("https://example.com", "<html></html>"))
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	var delivered atomic.Int64
	s.Scrape(link.MustNew("https://example.com"), func(Site) error {
		delivered.Add(1)
		return nil
	})

	<-arrived
	s.CancelAll()

	if !waitFor(t, 2*time.Second, func() bool { return s.ScrapingSitesCount() == 0 }) {
		t.Fatalf("ScrapingSitesCount() = %d after cancel, want 0", s.ScrapingSitesCount())
	}
	time.Sleep(200 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Errorf("Consumer was invoked %d times after CancelAll", delivered.Load())
	}
}

func TestCancelAllDropsScheduledRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sched := NewRetryScheduler()
	t.Cleanup(sched.Stop)
	s := NewSplashScraper(testClient(t, srv.URL), sched, Config{
		ColdRestartDelay: 300 * time.Millisecond,
		RetryDelay:       300 * time.Millisecond,
		RetryBudget:      3,
	}, nil)

	s.Scrape(link.MustNew("https://example.com"), func(Site) error { return nil })
	if !waitFor(t, 2*time.Second, func() bool { return requests.Load() == 1 }) {
		t.Fatal("Initial request never arrived")
	}
	s.CancelAll()

	// Past the backoff: the scheduled retry must have dropped itself.
	time.Sleep(500 * time.Millisecond)
	if got := requests.Load(); got != 1 {
		t.Errorf("Backend saw %d requests after CancelAll, want 1", got)
	}
	if got := s.ScrapingSitesCount(); got != 0 {
		t.Errorf("ScrapingSitesCount() = %d, want 0", got)
	}
}

func TestScrapeAfterCancelAllIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, renderBody("https://example.com", "<html></html>"))
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	s.CancelAll()
	s.Scrape(link.MustNew("https://example.com"), func(Site) error {
		t.Error("Consumer must not run on a canceled engine")
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	if got := s.ScrapingSitesCount(); got != 0 {
		t.Errorf("ScrapingSitesCount() = %d, want 0", got)
	}
}

func TestBackendTimeoutIsTerminal(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	s.Scrape(link.MustNew("https://example.com"), func(Site) error { return nil })

	if !waitFor(t, 2*time.Second, func() bool { return s.Stat().TimedOut() == 1 }) {
		t.Fatalf("TimedOut() = %d, want 1", s.Stat().TimedOut())
	}
	time.Sleep(100 * time.Millisecond)
	if got := requests.Load(); got != 1 {
		t.Errorf("Backend saw %d requests, want 1 (no retry on 504)", got)
	}
	if len(s.FailedSites()) != 0 {
		t.Errorf("FailedSites() = %v, want none for a backend timeout", s.FailedSites())
	}
}

func TestMissingBodyIsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	s.Scrape(link.MustNew("https://example.com"), func(Site) error { return nil })

	if !waitFor(t, 2*time.Second, func() bool { return len(s.FailedSites()) == 1 }) {
		t.Fatalf("Expected one failed site, got %d", len(s.FailedSites()))
	}
	if got := KindOf(s.FailedSites()[0].Err); got != KindConnection {
		t.Errorf("KindOf = %s, want connection", got)
	}
	if got := s.Stat().Failed(); got != 1 {
		t.Errorf("Failed() = %d, want 1", got)
	}
}

func TestConsumerErrorIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		fmt.Fprint(w, renderBody(target, "<html></html>"))
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	s.Scrape(link.MustNew("https://example.com"), func(Site) error {
		return fmt.Errorf("downstream rejected: %w", ErrWrongLanguage)
	})
	if !waitFor(t, 2*time.Second, func() bool { return len(s.FailedSites()) == 1 }) {
		t.Fatalf("Expected one failed site, got %d", len(s.FailedSites()))
	}
	if got := KindOf(s.FailedSites()[0].Err); got != KindContentRejected {
		t.Errorf("KindOf = %s, want content_rejected", got)
	}

	// A sibling attempt is unaffected.
	var delivered atomic.Int64
	s.Scrape(link.MustNew("https://example.com/ok"), func(Site) error {
		delivered.Add(1)
		return nil
	})
	if !waitFor(t, 2*time.Second, func() bool { return delivered.Load() == 1 }) {
		t.Error("Sibling attempt was not delivered")
	}
}

func TestConsumerPanicIsRecovered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, renderBody("https://example.com", "<html></html>"))
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	s.Scrape(link.MustNew("https://example.com"), func(Site) error {
		panic("broken handler")
	})

	if !waitFor(t, 2*time.Second, func() bool { return len(s.FailedSites()) == 1 }) {
		t.Fatalf("Expected one failed site, got %d", len(s.FailedSites()))
	}
	if got := KindOf(s.FailedSites()[0].Err); got != KindUnexpected {
		t.Errorf("KindOf = %s, want unexpected", got)
	}
	if got := s.Stat().Exceptioned(); got != 1 {
		t.Errorf("Exceptioned() = %d, want 1", got)
	}
}

func TestUnexpectedStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := testScraper(t, srv.URL)
	s.Scrape(link.MustNew("https://example.com"), func(Site) error { return nil })

	if !waitFor(t, 2*time.Second, func() bool { return s.Stat().Failed() == 1 }) {
		t.Fatalf("Failed() = %d, want 1", s.Stat().Failed())
	}
	if got := KindOf(s.FailedSites()[0].Err); got != KindUnexpected {
		t.Errorf("KindOf = %s, want unexpected", got)
	}
}
