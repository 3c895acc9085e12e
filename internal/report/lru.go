package report

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore is an in-memory LRU cache that delegates to a backing Store on
// miss. With a nil backing store it keeps records in memory only and
// evicted runs are gone.
type LRUStore struct {
	cache *lru.Cache[string, *Record]
	back  Store
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity below 1 is raised to 1.
func NewLRUStore(size int, back Store) *LRUStore {
	if size < 1 {
		size = 1
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *Record](size)
	return &LRUStore{cache: cache, back: back}
}

// Save writes the record to the cache and delegates to the backing store.
func (s *LRUStore) Save(rec *Record) error {
	s.cache.Add(rec.ID, rec)
	if s.back == nil {
		return nil
	}
	return s.back.Save(rec)
}

// Load checks the cache first. On miss, loads from the backing store and
// promotes the record into the cache.
func (s *LRUStore) Load(runID string) (*Record, error) {
	if rec, ok := s.cache.Get(runID); ok {
		return rec, nil
	}
	if s.back == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	rec, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(runID, rec)
	return rec, nil
}

// Recent returns the cached records, most recently used first.
func (s *LRUStore) Recent() []*Record {
	keys := s.cache.Keys() // oldest first
	out := make([]*Record, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if rec, ok := s.cache.Peek(keys[i]); ok {
			out = append(out, rec)
		}
	}
	return out
}
