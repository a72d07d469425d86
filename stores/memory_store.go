package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
)

// MemoryStore is the ephemeral fallback PinStore: a process-lifetime ordered collection used
// when the persistent store is unreachable. Insertion order is recency order; nothing survives
// a restart. All operations serialize on a single lock so interleaved writes never lose updates.
type MemoryStore struct {
	mu    sync.Mutex
	pins  []*md.Pin
	seq   uint64
	epoch string
}

func NewMemoryStore() *MemoryStore {
	// epoch prefix keeps ids unique across the store's lifetime and lexicographically
	// ordered by creation within it
	return &MemoryStore{epoch: time.Now().UTC().Format("20060102150405")}
}

func (s *MemoryStore) Create(_ context.Context, p *md.Pin) *se.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		s.seq++
		p.ID = fmt.Sprintf("mem-%s-%08d", s.epoch, s.seq)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.pins = append(s.pins, p.Clone())
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*md.Pin, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return nil, se.NewNotFound("pin not found")
	}
	return s.pins[i].Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, u md.PinUpdate) (*md.Pin, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return nil, se.NewNotFound("pin not found")
	}
	s.pins[i].Apply(u)
	return s.pins[i].Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) *se.Err {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return se.NewNotFound("pin not found")
	}
	s.pins = append(s.pins[:i], s.pins[i+1:]...)
	return nil
}

// Search returns clones of all matching pins in insertion order.
func (s *MemoryStore) Search(_ context.Context, term string) ([]*md.Pin, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := []*md.Pin{}
	for _, p := range s.pins {
		if p.Matches(term) {
			matches = append(matches, p.Clone())
		}
	}
	return matches, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*md.Pin, *se.Err) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := []*md.Pin{}
	for _, p := range s.pins {
		if p.OwnerID == ownerID {
			matches = append(matches, p.Clone())
		}
	}
	return matches, nil
}

// Clear drops every record; the selector calls it after replaying fallback writes.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = nil
}

func (s *MemoryStore) Close() *se.Err {
	return nil
}

// index returns the position of id in the collection, -1 if absent. Caller holds the lock.
func (s *MemoryStore) index(id string) int {
	for i, p := range s.pins {
		if p.ID == id {
			return i
		}
	}
	return -1
}
