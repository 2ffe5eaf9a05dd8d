// Package metrics exposes Prometheus counters for the crawl. A nil
// *Metrics is valid and records nothing, so callers never guard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide crawl counters.
type Metrics struct {
	registry *prometheus.Registry

	renderSent    prometheus.Counter
	renderResults *prometheus.CounterVec
	renderRetries prometheus.Counter
	domainsTotal  *prometheus.CounterVec
	wordsStored   prometheus.Counter
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		renderSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "wordspider_render_requests_total",
			Help: "Total number of render requests issued, retries included.",
		}),
		renderResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wordspider_render_results_total",
			Help: "Terminal render attempt outcomes.",
		}, []string{"outcome"}), // scraped, failed, timeout, rejected, exceptioned
		renderRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "wordspider_render_retries_total",
			Help: "Total number of re-issued render attempts.",
		}),
		domainsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wordspider_domains_total",
			Help: "Processed domains by outcome.",
		}, []string{"outcome"}), // completed, timeout, failed, skipped
		wordsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "wordspider_words_stored_total",
			Help: "Total number of words handed to storage.",
		}),
	}
}

// RenderSent counts one issued render request.
func (m *Metrics) RenderSent() {
	if m == nil {
		return
	}
	m.renderSent.Inc()
}

// RenderResult counts one terminal attempt outcome.
func (m *Metrics) RenderResult(outcome string) {
	if m == nil {
		return
	}
	m.renderResults.WithLabelValues(outcome).Inc()
}

// RenderRetried counts one re-issued attempt.
func (m *Metrics) RenderRetried() {
	if m == nil {
		return
	}
	m.renderRetries.Inc()
}

// DomainProcessed counts one finished domain by outcome.
func (m *Metrics) DomainProcessed(outcome string) {
	if m == nil {
		return
	}
	m.domainsTotal.WithLabelValues(outcome).Inc()
}

// WordsStored counts words handed to the persistence layer.
func (m *Metrics) WordsStored(n int) {
	if m == nil {
		return
	}
	m.wordsStored.Add(float64(n))
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
