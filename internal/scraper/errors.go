package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/mpetrov/wordspider/internal/link"
)

// Kind classifies a terminal attempt failure. The set is closed: every
// failure the engine records carries exactly one of these, and callers
// dispatch on it instead of matching concrete error types.
type Kind uint8

const (
	// KindUnexpected covers failures outside the known vocabulary,
	// including errors raised while handling a successful response.
	KindUnexpected Kind = iota

	// KindBackendUnavailable means the retry budget for backend
	// restarts was exhausted.
	KindBackendUnavailable

	// KindConnection covers socket-level failures and missing
	// response bodies. These feed the run-level circuit breaker.
	KindConnection

	// KindTimeout is a backend-side render timeout (HTTP 504).
	KindTimeout

	// KindContentRejected marks content the crawl tolerates but does
	// not use, such as a page in the wrong language.
	KindContentRejected
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindContentRejected:
		return "content_rejected"
	default:
		return "unexpected"
	}
}

// ErrBackendUnavailable is the cause carried by a ScrapeError of
// KindBackendUnavailable.
var ErrBackendUnavailable = errors.New("render backend is not responding")

// ErrClientClosed is returned by the render client after Close.
var ErrClientClosed = errors.New("render client is closed")

// ErrWrongLanguage is returned by consumers that reject a page whose
// content language does not match the crawl's accepted set.
var ErrWrongLanguage = errors.New("page language is not accepted")

// ScrapeError is a classified attempt failure.
type ScrapeError struct {
	Kind Kind
	Link link.Link
	Err  error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %s: %v", e.Link, e.Kind, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err, or KindUnexpected if err
// is not a ScrapeError.
func KindOf(err error) Kind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnexpected
}

// isBackendRestarting reports whether a transport error looks like the
// backend dropping the connection mid-response, which happens while
// its process restarts. Treated as transient.
func isBackendRestarting(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// isLocallyClosed reports whether the failure is our own connection
// being torn down, usually during shutdown or cancellation.
func isLocallyClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// isCanceled reports whether the attempt's context was canceled.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
