package session

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simutrade/practice-engine/internal/metrics"
	"github.com/simutrade/practice-engine/internal/model"
	"github.com/simutrade/practice-engine/internal/store"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestGet_FreshSessionStartsAtConfiguredBalance(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), d(10000))

	sess, err := m.Get(context.Background(), "newbie")
	require.NoError(t, err)

	assert.True(t, sess.Ledger.Balance().Equal(d(10000)))
	assert.Empty(t, sess.Book.OpenPositions())
}

func TestGet_RequiresUserID(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), d(10000))
	_, err := m.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestGet_SameInstancePerUser(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), d(10000))
	ctx := context.Background()

	a, err := m.Get(ctx, "user1")
	require.NoError(t, err)
	b, err := m.Get(ctx, "user1")
	require.NoError(t, err)

	assert.Same(t, a, b, "one live session per user")
	assert.ElementsMatch(t, []string{"user1"}, m.Active())
}

func TestGet_RestoresPersistedSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.SaveSession(ctx, &model.SessionSnapshot{
		UserID:  "veteran",
		Balance: d(123.45),
		OpenPositions: []model.Position{{
			ID:         "pos-7",
			UserID:     "veteran",
			Symbol:     "NVDA",
			Side:       model.Long,
			Quantity:   decimal.NewFromInt(2),
			EntryPrice: decimal.NewFromInt(800),
		}},
	}))

	m := NewManager(st, d(10000))
	sess, err := m.Get(ctx, "veteran")
	require.NoError(t, err)

	assert.True(t, sess.Ledger.Balance().Equal(d(123.45)), "persisted balance wins over starting balance")
	pos, err := sess.Book.Get("pos-7")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", pos.Symbol)
}

func TestGet_RestoredPositionsCountInGauge(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.SaveSession(ctx, &model.SessionSnapshot{
		UserID:  "returning",
		Balance: d(7000),
		OpenPositions: []model.Position{
			{ID: "p1", UserID: "returning", Symbol: "AAPL", Side: model.Long,
				Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(150)},
			{ID: "p2", UserID: "returning", Symbol: "TSLA", Side: model.Short,
				Quantity: decimal.NewFromInt(5), EntryPrice: decimal.NewFromInt(200)},
		},
	}))

	before := testutil.ToFloat64(metrics.OpenPositions)

	m := NewManager(st, d(10000))
	_, err := m.Get(ctx, "returning")
	require.NoError(t, err)

	assert.InDelta(t, before+2, testutil.ToFloat64(metrics.OpenPositions), 1e-9,
		"restored open positions must count toward the gauge")

	// A second Get returns the live session without re-counting.
	_, err = m.Get(ctx, "returning")
	require.NoError(t, err)
	assert.InDelta(t, before+2, testutil.ToFloat64(metrics.OpenPositions), 1e-9)
}

func TestSave_RoundTripsThroughStore(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	m := NewManager(st, d(10000))
	sess, err := m.Get(ctx, "user1")
	require.NoError(t, err)

	_, err = sess.Book.Open("AAPL", model.Long, decimal.NewFromInt(10), decimal.NewFromInt(150), now)
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, sess))

	// A fresh manager (new process) restores the same state.
	m2 := NewManager(st, d(10000))
	restored, err := m2.Get(ctx, "user1")
	require.NoError(t, err)

	assert.True(t, restored.Ledger.Balance().Equal(d(8500)))
	assert.Len(t, restored.Book.OpenPositions(), 1)
}
