package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taxotag/internal/tagger"
)

// maxStoredResults bounds the in-memory result store. Exports reference
// results by ID, so evicted results simply stop being exportable.
const maxStoredResults = 256

type storedResult struct {
	id      string
	result  *tagger.Result
	created time.Time
}

// resultStore keeps recently completed search results keyed by a random ID,
// evicting the oldest entry once full.
type resultStore struct {
	mu    sync.Mutex
	max   int
	byID  map[string]*storedResult
	order []string // insertion order, oldest first
}

func newResultStore(max int) *resultStore {
	return &resultStore{
		max:  max,
		byID: make(map[string]*storedResult),
	}
}

// Put stores a result and returns its export ID.
func (s *resultStore) Put(result *tagger.Result) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.order) >= s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}

	s.byID[id] = &storedResult{id: id, result: result, created: time.Now()}
	s.order = append(s.order, id)
	return id
}

// Get returns the stored result for an ID, or nil if unknown or evicted.
func (s *resultStore) Get(id string) *tagger.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.byID[id]; ok {
		return stored.result
	}
	return nil
}

// Len returns the number of stored results.
func (s *resultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
