// Package link provides the immutable URL value type shared by the
// scraper and spider packages. Links are compared without protocol to
// detect redirects, and domain identity is derived from the host with
// the "www." prefix stripped.
package link

import (
	"fmt"
	"net/url"
	"strings"
)

// Link is an immutable wrapper around a parsed URL. The zero value is
// invalid; use New to construct one.
type Link struct {
	u   *url.URL
	raw string
}

// New parses raw into a Link. URLs without a scheme get "http://"
// prepended, matching how domain lists are usually written.
func New(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, fmt.Errorf("empty link")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, fmt.Errorf("invalid link %q: %w", raw, err)
	}
	if u.Host == "" {
		return Link{}, fmt.Errorf("link %q has no host", raw)
	}
	return Link{u: u, raw: u.String()}, nil
}

// MustNew is New for statically known inputs, panicking on error.
// Intended for tests and defaults.
func MustNew(raw string) Link {
	l, err := New(raw)
	if err != nil {
		panic(err)
	}
	return l
}

// IsZero reports whether l is the invalid zero value.
func (l Link) IsZero() bool {
	return l.u == nil
}

// String returns the normalized URL string.
func (l Link) String() string {
	return l.raw
}

// Host returns the URL host, including any "www." prefix and port.
func (l Link) Host() string {
	if l.u == nil {
		return ""
	}
	return l.u.Host
}

// FixedHost returns the lowercase host with a leading "www." removed.
// This is the domain identity used for run-level de-duplication and
// for the domain anchor check.
func (l Link) FixedHost() string {
	host := strings.ToLower(l.Host())
	return strings.TrimPrefix(host, "www.")
}

// WithoutProtocol returns the URL with the scheme stripped, used for
// redirect detection: two links pointing at the same resource over
// http and https compare equal.
func (l Link) WithoutProtocol() string {
	if l.u == nil {
		return ""
	}
	s := l.raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	return strings.TrimSuffix(s, "/")
}

// SameResource reports whether l and other differ only by protocol
// (or trailing slash).
func (l Link) SameResource(other Link) bool {
	return l.WithoutProtocol() == other.WithoutProtocol()
}

// Resolve interprets ref relative to l and returns the absolute link.
// Fragments are dropped so that anchors within one page do not produce
// distinct frontier entries.
func (l Link) Resolve(ref string) (Link, error) {
	if l.u == nil {
		return Link{}, fmt.Errorf("cannot resolve against zero link")
	}
	ru, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return Link{}, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	abs := l.u.ResolveReference(ru)
	abs.Fragment = ""
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return Link{}, fmt.Errorf("unsupported scheme %q", abs.Scheme)
	}
	if abs.Host == "" {
		return Link{}, fmt.Errorf("reference %q resolves to no host", ref)
	}
	return Link{u: abs, raw: abs.String()}, nil
}
