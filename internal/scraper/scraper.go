// Package scraper implements the render-and-retry engine. A Scraper
// issues asynchronous render requests against a remote headless
// rendering backend, interprets its transient-failure signals and
// applies a restart-aware retry policy. One Scraper instance is scoped
// to a single domain crawl.
package scraper

import (
	"github.com/mpetrov/wordspider/internal/link"
)

// Site is one successfully rendered page delivered to a consumer.
type Site struct {
	HTML     string    // rendered document
	Resolved link.Link // final URL after redirects
	Initial  link.Link // URL the render was requested for
}

// Consumer receives a rendered site. It runs on the engine's callback
// goroutine, concurrently with other consumers and with the crawl
// loop. A returned error is recorded as a failed site for the attempt
// without affecting sibling attempts.
type Consumer func(Site) error

// FailedSite is an attempt that terminated without a delivery.
type FailedSite struct {
	Link link.Link
	Err  error
}

// Scraper is the render engine contract consumed by the spider.
type Scraper interface {
	// Scrape issues one asynchronous render attempt for l. It returns
	// immediately; the consumer is invoked from another goroutine.
	Scrape(l link.Link, consume Consumer)

	// ScrapingSitesCount returns the current outstanding-work count:
	// pending retries plus in-flight calls. Used for completion
	// detection only, not exactness.
	ScrapingSitesCount() int

	// CancelAll requests best-effort cancellation of every tracked
	// in-flight attempt. Already-scheduled retries drop themselves.
	CancelAll()

	// FailedSites returns the terminal failures accumulated so far.
	FailedSites() []FailedSite
}
