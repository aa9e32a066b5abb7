package repository

import (
	"time"

	"github.com/pjsph/slam/internal/models"
)

// MatchStore indexes formed matches by their content-derived id until a
// result arrives.
type MatchStore interface {
	// Store indexes m and returns its id. A structurally identical match
	// already stored under the same id is overwritten.
	Store(m *models.Match) uint64
	Get(id uint64) (*models.Match, bool)
	Delete(id uint64) bool
	// EvictOlderThan drops matches created before cutoff and returns how many were dropped.
	EvictOlderThan(cutoff time.Time) int
	Len() int
}

// MemoryMatchStore is a map-backed MatchStore owned by a single goroutine.
type MemoryMatchStore struct {
	matches map[uint64]*models.Match
}

func NewMemoryMatchStore() *MemoryMatchStore {
	return &MemoryMatchStore{
		matches: make(map[uint64]*models.Match),
	}
}

func (s *MemoryMatchStore) Store(m *models.Match) uint64 {
	id := m.ID()
	s.matches[id] = m
	return id
}

func (s *MemoryMatchStore) Get(id uint64) (*models.Match, bool) {
	m, ok := s.matches[id]
	return m, ok
}

func (s *MemoryMatchStore) Delete(id uint64) bool {
	if _, ok := s.matches[id]; !ok {
		return false
	}
	delete(s.matches, id)
	return true
}

func (s *MemoryMatchStore) EvictOlderThan(cutoff time.Time) int {
	n := 0
	for id, m := range s.matches {
		if m.CreatedAt.Before(cutoff) {
			delete(s.matches, id)
			n++
		}
	}
	return n
}

func (s *MemoryMatchStore) Len() int {
	return len(s.matches)
}
