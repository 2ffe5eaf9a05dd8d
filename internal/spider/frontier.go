package spider

import (
	"context"
	"sync"
	"time"

	"github.com/mpetrov/wordspider/internal/link"
)

// Frontier is the unbounded queue of links discovered but not yet
// rendered, for one domain crawl. Render callbacks push from their own
// goroutines while the crawl loop polls. Links are not de-duplicated:
// a link discovered twice is scraped twice.
type Frontier struct {
	mu     sync.Mutex
	items  []link.Link
	notify chan struct{}
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{notify: make(chan struct{}, 1)}
}

// Push appends l and wakes a waiting Poll.
func (f *Frontier) Push(l link.Link) {
	f.mu.Lock()
	f.items = append(f.items, l)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Poll removes and returns the oldest link, waiting up to wait for one
// to arrive. Returns false when the wait elapses or ctx is done.
func (f *Frontier) Poll(ctx context.Context, wait time.Duration) (link.Link, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if l, ok := f.pop(); ok {
			return l, true
		}
		select {
		case <-f.notify:
		case <-timer.C:
			return link.Link{}, false
		case <-ctx.Done():
			return link.Link{}, false
		}
	}
}

// Len returns the number of queued links.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *Frontier) pop() (link.Link, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return link.Link{}, false
	}
	l := f.items[0]
	f.items = f.items[1:]
	return l, true
}
