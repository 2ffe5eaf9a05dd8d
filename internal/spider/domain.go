package spider

import (
	"context"
	"log/slog"
	"time"

	"github.com/mpetrov/wordspider/internal/extract"
	"github.com/mpetrov/wordspider/internal/link"
	"github.com/mpetrov/wordspider/internal/scraper"
)

// domainTask drives the breadth-first expansion of one domain: it owns
// the engine, the frontier and the shared word accumulator, and
// detects crawl completion.
type domainTask struct {
	domain       link.Link
	scraper      scraper.Scraper
	extractor    extract.Extractor
	frontier     *Frontier
	words        *WordSet
	pollInterval time.Duration

	attempts int
}

func newDomainTask(domain link.Link, s scraper.Scraper, e extract.Extractor, words *WordSet, pollInterval time.Duration) *domainTask {
	return &domainTask{
		domain:       domain,
		scraper:      s,
		extractor:    e,
		frontier:     NewFrontier(),
		words:        words,
		pollInterval: pollInterval,
	}
}

// run crawls the domain until it is exhausted or ctx is done. It
// returns a non-nil error only when the domain is fatally unreachable:
// its one and only attempt failed, or the crawl was canceled.
func (t *domainTask) run(ctx context.Context) error {
	slog.Info("spider: start crawling domain", "domain", t.domain)
	defer slog.Info("spider: stop crawling domain", "domain", t.domain)

	t.scrape(t.domain)
	t.attempts = 1

	// Engine count is checked before the frontier: a retry registers
	// itself before its originating call completes, so this order
	// never observes a false "no work left".
	for t.scraper.ScrapingSitesCount() != 0 || t.frontier.Len() != 0 {
		if ctx.Err() != nil {
			t.scraper.CancelAll()
			return ctx.Err()
		}
		if l, ok := t.frontier.Poll(ctx, t.pollInterval); ok {
			t.scrape(l)
			t.attempts++
		}
	}

	if t.attempts == 1 {
		return t.rootFailure()
	}
	return nil
}

func (t *domainTask) scrape(l link.Link) {
	t.scraper.Scrape(l, t.handleSite)
}

// handleSite runs on the engine's callback goroutine: extract words
// into the shared set and push discovered links onto the frontier.
func (t *domainTask) handleSite(site scraper.Site) error {
	words, err := t.extractor.Words(site.HTML)
	if err != nil {
		return err
	}
	t.words.Add(t.extractor.FilterWords(words)...)

	links := t.extractor.Links(site.HTML, site.Resolved)
	for _, l := range t.extractor.FilterLinks(links, site.Resolved, t.domain) {
		t.frontier.Push(l)
	}
	return nil
}

// rootFailure decides how a crawl whose entry point produced nothing
// ends. Backend-unavailable and connection failures are fatal to the
// domain; everything else is only logged.
func (t *domainTask) rootFailure() error {
	failed := t.scraper.FailedSites()
	if len(failed) == 0 {
		return nil
	}

	err := failed[0].Err
	switch scraper.KindOf(err) {
	case scraper.KindBackendUnavailable, scraper.KindConnection:
		return err
	case scraper.KindContentRejected:
		slog.Warn("spider: wrong html language, site is not taken into account", "domain", t.domain)
	default:
		slog.Error("spider: domain entry failed", "domain", t.domain, "error", err)
	}
	return nil
}
