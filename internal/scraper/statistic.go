package scraper

import (
	"fmt"
	"sync/atomic"
)

// Statistic tracks per-domain request counters. Counters are
// incremented from concurrent completion callbacks; each increment is
// atomic individually with no ordering between counters.
type Statistic struct {
	sent        atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
	retried     atomic.Int64
	timedOut    atomic.Int64
	rejected    atomic.Int64
	exceptioned atomic.Int64
	scraped     atomic.Int64
}

func (s *Statistic) requestSent()         { s.sent.Add(1) }
func (s *Statistic) requestSucceeded()    { s.succeeded.Add(1) }
func (s *Statistic) requestFailed()       { s.failed.Add(1) }
func (s *Statistic) requestRetried()      { s.retried.Add(1) }
func (s *Statistic) requestTimedOut()     { s.timedOut.Add(1) }
func (s *Statistic) responseRejected()    { s.rejected.Add(1) }
func (s *Statistic) responseExceptioned() { s.exceptioned.Add(1) }
func (s *Statistic) siteScraped()         { s.scraped.Add(1) }

// Sent returns the number of render requests issued, retries included.
func (s *Statistic) Sent() int64 { return s.sent.Load() }

// Succeeded returns the number of decoded 200 responses.
func (s *Statistic) Succeeded() int64 { return s.succeeded.Load() }

// Failed returns the number of terminal request failures.
func (s *Statistic) Failed() int64 { return s.failed.Load() }

// Retried returns the number of re-issued attempts.
func (s *Statistic) Retried() int64 { return s.retried.Load() }

// TimedOut returns the number of backend-side timeouts (504).
func (s *Statistic) TimedOut() int64 { return s.timedOut.Load() }

// Rejected returns the number of responses dropped by domain or
// content checks.
func (s *Statistic) Rejected() int64 { return s.rejected.Load() }

// Exceptioned returns the number of attempts that failed while their
// successful response was being handled.
func (s *Statistic) Exceptioned() int64 { return s.exceptioned.Load() }

// Scraped returns the number of sites delivered to the consumer.
func (s *Statistic) Scraped() int64 { return s.scraped.Load() }

// String summarizes the counters for the per-domain report line.
func (s *Statistic) String() string {
	return fmt.Sprintf(
		"sent %d, succeeded %d, scraped %d, failed %d, retried %d, timed out %d, rejected %d, exceptioned %d",
		s.Sent(), s.Succeeded(), s.Scraped(), s.Failed(), s.Retried(), s.TimedOut(), s.Rejected(), s.Exceptioned(),
	)
}
