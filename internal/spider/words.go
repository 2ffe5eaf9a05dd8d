package spider

import "sync"

// WordSet accumulates the unique words of one domain crawl. It is
// mutated from concurrent render callbacks.
type WordSet struct {
	mu    sync.Mutex
	words map[string]struct{}
}

// NewWordSet creates an empty word set.
func NewWordSet() *WordSet {
	return &WordSet{words: make(map[string]struct{})}
}

// Add inserts words into the set.
func (s *WordSet) Add(words ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range words {
		s.words[w] = struct{}{}
	}
}

// Len returns the number of unique words.
func (s *WordSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.words)
}

// All returns the words in unspecified order.
func (s *WordSet) All() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.words))
	for w := range s.words {
		out = append(out, w)
	}
	return out
}
