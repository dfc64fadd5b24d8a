package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// inflightSet tracks which content items currently sit in a dispatch queue
// or are being processed. The scheduler's rescue scan re-reads queued rows
// every tick; this set keeps those re-reads from enqueuing duplicates.
type inflightSet struct {
	mu  sync.Mutex
	ids map[uuid.UUID]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[uuid.UUID]struct{})}
}

// add claims the id, returning false when it is already in flight.
func (s *inflightSet) add(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[id]; exists {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *inflightSet) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *inflightSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
