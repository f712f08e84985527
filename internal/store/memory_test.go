package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simutrade/practice-engine/internal/model"
)

func sampleSnapshot(userID string) *model.SessionSnapshot {
	return &model.SessionSnapshot{
		UserID:  userID,
		Balance: decimal.NewFromFloat(8500.25),
		OpenPositions: []model.Position{{
			ID:         "pos-1",
			UserID:     userID,
			Symbol:     "AAPL",
			Side:       model.Long,
			Quantity:   decimal.NewFromInt(10),
			EntryPrice: decimal.NewFromInt(150),
			OpenedAt:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		}},
		ClosedTrades: []model.ClosedTrade{{
			Position: model.Position{
				ID:         "pos-0",
				UserID:     userID,
				Symbol:     "TSLA",
				Side:       model.Short,
				Quantity:   decimal.NewFromInt(5),
				EntryPrice: decimal.NewFromInt(200),
			},
			ExitPrice:   decimal.NewFromInt(190),
			RealizedPnL: decimal.NewFromInt(50),
		}},
		SavedAt: time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, sampleSnapshot("user1")))

	got, err := s.LoadSession(ctx, "user1")
	require.NoError(t, err)

	assert.Equal(t, "user1", got.UserID)
	assert.True(t, got.Balance.Equal(decimal.NewFromFloat(8500.25)))
	require.Len(t, got.OpenPositions, 1)
	assert.Equal(t, "pos-1", got.OpenPositions[0].ID)
	require.Len(t, got.ClosedTrades, 1)
	assert.True(t, got.ClosedTrades[0].RealizedPnL.Equal(decimal.NewFromInt(50)))
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.LoadSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SaveUpserts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, sampleSnapshot("user1")))

	snap := sampleSnapshot("user1")
	snap.Balance = decimal.NewFromInt(999)
	snap.OpenPositions = nil
	require.NoError(t, s.SaveSession(ctx, snap))

	got, err := s.LoadSession(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(999)))
	assert.Empty(t, got.OpenPositions)
}

func TestMemoryStore_RejectsEmptyUserID(t *testing.T) {
	s := NewMemoryStore()
	err := s.SaveSession(context.Background(), &model.SessionSnapshot{})
	assert.Error(t, err)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, sampleSnapshot("user1")))

	first, err := s.LoadSession(ctx, "user1")
	require.NoError(t, err)
	first.OpenPositions[0].Symbol = "HACKED"

	second, err := s.LoadSession(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", second.OpenPositions[0].Symbol, "stored snapshot must not alias returned slices")
}

func TestMemoryStore_ListSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ids, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.SaveSession(ctx, sampleSnapshot("a")))
	require.NoError(t, s.SaveSession(ctx, sampleSnapshot("b")))

	ids, err = s.ListSessions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
