package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simutrade/practice-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveSession(ctx context.Context, snap *model.SessionSnapshot) error {
	if err := s.primary.SaveSession(ctx, snap); err != nil {
		return err
	}
	s.cacheSession(ctx, snap)
	return nil
}

func (s *CachedStore) LoadSession(ctx context.Context, userID string) (*model.SessionSnapshot, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err == nil {
		var snap model.SessionSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.LoadSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheSession(ctx, snap)
	return snap, nil
}

// ListSessions is a passthrough; the id listing is not cached.
func (s *CachedStore) ListSessions(ctx context.Context) ([]string, error) {
	return s.primary.ListSessions(ctx)
}

func (s *CachedStore) cacheSession(ctx context.Context, snap *model.SessionSnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, sessionKey(snap.UserID), data, s.ttl)
	}
}

func sessionKey(userID string) string { return fmt.Sprintf("session:%s", userID) }
