// Package session ties one user to their ledger and position book and
// manages persistence at the session boundary: a snapshot is loaded when a
// user first appears and saved after each mutating trade operation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/book"
	"github.com/simutrade/practice-engine/internal/ledger"
	"github.com/simutrade/practice-engine/internal/metrics"
	"github.com/simutrade/practice-engine/internal/store"
)

// Session is the explicit per-user state object: one ledger, one book.
// Trade operations for one user are serialized through these two.
type Session struct {
	UserID string
	Ledger *ledger.Ledger
	Book   *book.Book
}

// Manager hands out sessions, loading persisted snapshots on first use and
// creating fresh sessions at the starting balance otherwise.
type Manager struct {
	store           store.Store
	startingBalance decimal.Decimal

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager backed by the given store.
func NewManager(st store.Store, startingBalance decimal.Decimal) *Manager {
	return &Manager{
		store:           st,
		startingBalance: startingBalance,
		sessions:        make(map[string]*Session),
	}
}

// Get returns the live session for a user, restoring a persisted snapshot
// if one exists.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session: user id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	l := ledger.New(m.startingBalance)
	s := &Session{
		UserID: userID,
		Ledger: l,
		Book:   book.New(userID, l),
	}

	snap, err := m.store.LoadSession(ctx, userID)
	switch {
	case err == nil:
		s.Book.Restore(*snap)
		// Restored positions were never counted by the open handler.
		metrics.OpenPositions.Add(float64(len(snap.OpenPositions)))
	case errors.Is(err, store.ErrNotFound):
		// Fresh session at the starting balance.
	default:
		return nil, fmt.Errorf("session: load %s: %w", userID, err)
	}

	m.sessions[userID] = s
	return s, nil
}

// Save persists the session's current snapshot.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	snap := s.Book.Snapshot()
	snap.SavedAt = time.Now().UTC()
	return m.store.SaveSession(ctx, &snap)
}

// Active returns the user IDs with a live in-process session.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
