// Package store defines persistence for user session snapshots.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing). The engine saves a snapshot after
// every mutating trade operation and loads it when a session first appears.
package store

import (
	"context"
	"errors"

	"github.com/simutrade/practice-engine/internal/model"
)

// ErrNotFound is returned when no snapshot exists for a user.
var ErrNotFound = errors.New("store: session not found")

// Store persists session snapshots. The snapshot shape
// {balance, openPositions[], closedTrades[]} is the stable wire format;
// the persistence layer never reaches into engine internals.
type Store interface {
	// SaveSession upserts a user's snapshot.
	SaveSession(ctx context.Context, snap *model.SessionSnapshot) error

	// LoadSession retrieves a user's snapshot, or ErrNotFound.
	LoadSession(ctx context.Context, userID string) (*model.SessionSnapshot, error)

	// ListSessions returns the user IDs with a saved snapshot.
	ListSessions(ctx context.Context) ([]string, error)
}
