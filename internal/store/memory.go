package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/simutrade/practice-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.SessionSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.SessionSnapshot),
	}
}

func (s *MemoryStore) SaveSession(_ context.Context, snap *model.SessionSnapshot) error {
	if snap.UserID == "" {
		return fmt.Errorf("store: snapshot has no user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a deep-enough copy to avoid external mutation of the slices.
	cp := *snap
	cp.OpenPositions = append([]model.Position(nil), snap.OpenPositions...)
	cp.ClosedTrades = append([]model.ClosedTrade(nil), snap.ClosedTrades...)
	s.sessions[snap.UserID] = cp
	return nil
}

func (s *MemoryStore) LoadSession(_ context.Context, userID string) (*model.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}

	cp := snap
	cp.OpenPositions = append([]model.Position(nil), snap.OpenPositions...)
	cp.ClosedTrades = append([]model.ClosedTrade(nil), snap.ClosedTrades...)
	return &cp, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}
