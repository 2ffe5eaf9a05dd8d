// Package spider coordinates a whole-batch crawl: it sequences domain
// crawls, enforces per-domain timeouts and the run-level circuit
// breaker, and hands finished word sets to persistence.
package spider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpetrov/wordspider/internal/config"
	"github.com/mpetrov/wordspider/internal/domainlist"
	"github.com/mpetrov/wordspider/internal/extract"
	"github.com/mpetrov/wordspider/internal/metrics"
	"github.com/mpetrov/wordspider/internal/scraper"
)

// ErrTooManyFailures aborts a run after a row of consecutive
// connection-class domain failures, protecting the batch from a dead
// backend or network.
var ErrTooManyFailures = errors.New("too many connection failures in a row")

// Persister stores a finished domain's vocabulary. Errors are the
// persister's own concern at the run level; the spider only logs them.
type Persister interface {
	SaveDomainWords(companyID int, website string, words []string) error
}

// Spider processes a batch of domains in input order. It owns the
// shared render client, retry scheduler and metrics for the run.
type Spider struct {
	cfg     *config.Config
	store   Persister
	client  *scraper.Client
	sched   *scraper.RetryScheduler
	metrics *metrics.Metrics

	// seams for tests
	newScraper   func() scraper.Scraper
	newExtractor func() (extract.Extractor, error)

	scraped     map[string]struct{}
	failsInARow int
}

type persistJob struct {
	entry domainlist.Entry
	words *WordSet
}

// New creates a Spider and its shared services from cfg.
func New(cfg *config.Config, store Persister) (*Spider, error) {
	client, err := scraper.NewClient(scraper.ClientConfig{
		BackendURL:     cfg.BackendURL,
		RenderTimeout:  cfg.RenderTimeout,
		RequestTimeout: cfg.RequestTimeout,
		RequestDelay:   cfg.RequestDelay,
		MaxInFlight:    cfg.MaxInFlight,
		UserAgent:      cfg.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render client: %w", err)
	}

	s := &Spider{
		cfg:     cfg,
		store:   store,
		client:  client,
		sched:   scraper.NewRetryScheduler(),
		metrics: metrics.New(),
		scraped: make(map[string]struct{}),
	}
	s.newScraper = func() scraper.Scraper {
		return scraper.NewSplashScraper(s.client, s.sched, scraper.Config{
			ColdRestartDelay: cfg.ColdRestartDelay,
			RetryDelay:       cfg.RetryDelay,
			RetryBudget:      cfg.RetryBudget,
		}, s.metrics)
	}
	s.newExtractor = func() (extract.Extractor, error) {
		return extract.New(cfg.AcceptedLanguages...)
	}
	return s, nil
}

// Run crawls every entry in order. It returns ErrTooManyFailures when
// the circuit breaker trips, the context error when interrupted, and
// nil otherwise. Shared resources are released before Run returns.
func (s *Spider) Run(ctx context.Context, entries []domainlist.Entry) error {
	persist := make(chan persistJob, 16)
	workers := new(errgroup.Group)
	workers.Go(func() error {
		s.persistLoop(persist)
		return nil
	})
	srv := s.startMetricsServer(workers)

	var runErr error
	for _, entry := range entries {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if s.alreadyScraped(entry.Link.FixedHost()) {
			slog.Warn("spider: skip domain, already scraped", "domain", entry.Link)
			s.metrics.DomainProcessed("skipped")
			continue
		}
		if err := s.crawlDomain(ctx, entry, persist); err != nil {
			slog.Error("spider: stopped", "error", err)
			runErr = err
			break
		}
	}

	s.shutdown(persist, srv, workers)
	slog.Info("spider: completed")
	return runErr
}

// crawlDomain runs one domain on its own goroutine with the per-domain
// timeout and classifies the outcome. A non-nil return aborts the run.
func (s *Spider) crawlDomain(ctx context.Context, entry domainlist.Entry, persist chan<- persistJob) error {
	scr := s.newScraper()
	ext, err := s.newExtractor()
	if err != nil {
		return err
	}
	words := NewWordSet()
	task := newDomainTask(entry.Link, scr, ext, words, s.cfg.PollInterval)

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DomainTimeout)
	errCh := make(chan error, 1)
	go func() { errCh <- task.run(dctx) }()
	err = <-errCh
	cancel()

	s.reportStatistic(scr, entry)

	switch {
	case err == nil:
		s.failsInARow = 0
		s.metrics.DomainProcessed("completed")
	case errors.Is(err, context.DeadlineExceeded):
		slog.Error("spider: waited too long for domain", "domain", entry.Link)
		s.failsInARow = 0
		s.metrics.DomainProcessed("timeout")
	case errors.Is(err, context.Canceled):
		// Run interrupted; nothing to persist.
		return err
	default:
		if abort := s.handleDomainFailure(entry, err); abort != nil {
			return abort
		}
	}

	persist <- persistJob{entry: entry, words: words}
	return nil
}

// handleDomainFailure applies the failure-severity policy: connection
// failures feed the circuit breaker, a missing backend is reported but
// tolerated, everything else is just logged.
func (s *Spider) handleDomainFailure(entry domainlist.Entry, err error) error {
	s.metrics.DomainProcessed("failed")

	switch scraper.KindOf(err) {
	case scraper.KindConnection:
		slog.Error("spider: request failed", "domain", entry.Link, "error", err)
		s.failsInARow++
		if s.failsInARow >= s.cfg.MaxConnectionFailures {
			return fmt.Errorf("%w (%d)", ErrTooManyFailures, s.failsInARow)
		}
	case scraper.KindBackendUnavailable:
		// Says nothing about our own connection; the streak stands.
		slog.Error("spider: render backend is not responding", "domain", entry.Link)
	default:
		slog.Error("spider: domain failed", "domain", entry.Link, "error", err)
		s.failsInARow = 0
	}
	return nil
}

func (s *Spider) alreadyScraped(host string) bool {
	if _, ok := s.scraped[host]; ok {
		return true
	}
	s.scraped[host] = struct{}{}
	return false
}

func (s *Spider) reportStatistic(scr scraper.Scraper, entry domainlist.Entry) {
	if st, ok := scr.(interface{ Stat() *scraper.Statistic }); ok {
		slog.Info("spider: domain statistic", "domain", entry.Link, "stat", st.Stat().String())
	}
}

// persistLoop stores word sets one at a time so that persistence never
// blocks crawling of the next domain.
func (s *Spider) persistLoop(persist <-chan persistJob) {
	for job := range persist {
		words := job.words.All()
		if err := s.store.SaveDomainWords(job.entry.CompanyID, job.entry.Link.String(), words); err != nil {
			slog.Error("spider: failed to store words", "domain", job.entry.Link, "error", err)
			continue
		}
		s.metrics.WordsStored(len(words))
		slog.Info("spider: stored words", "domain", job.entry.Link, "count", len(words))
	}
}

// startMetricsServer serves /metrics when an address is configured.
func (s *Spider) startMetricsServer(workers *errgroup.Group) *http.Server {
	if s.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
	workers.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("spider: metrics server failed", "error", err)
		}
		return nil
	})
	return srv
}

// shutdown stops accepting persistence work, drains the workers within
// the grace period and releases the shared render services.
func (s *Spider) shutdown(persist chan persistJob, srv *http.Server, workers *errgroup.Group) {
	close(persist)
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}

	done := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		slog.Warn("spider: workers did not stop within grace period")
	}

	s.sched.Stop()
	s.client.Close()
	slog.Info("spider: resources were closed")
}
