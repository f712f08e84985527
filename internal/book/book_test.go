package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simutrade/practice-engine/internal/ledger"
	"github.com/simutrade/practice-engine/internal/model"
)

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newBook(t *testing.T, balance float64) (*Book, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(d(balance))
	return New("user1", l), l
}

func TestOpen_Long_DebitsNotional(t *testing.T) {
	b, l := newBook(t, 10000)

	pos, err := b.Open("AAPL", model.Long, d(10), d(150), now)
	require.NoError(t, err)

	assert.Equal(t, "user1", pos.UserID)
	assert.Equal(t, model.Long, pos.Side)
	assert.NotEmpty(t, pos.ID)
	assert.True(t, l.Balance().Equal(d(8500)))
	assert.Len(t, b.OpenPositions(), 1)
}

func TestOpen_Short_NoUpfrontDebit(t *testing.T) {
	b, l := newBook(t, 10000)

	_, err := b.Open("TSLA", model.Short, d(5), d(200), now)
	require.NoError(t, err)

	assert.True(t, l.Balance().Equal(d(10000)), "shorts settle only at close")
}

func TestOpen_InvalidQuantity(t *testing.T) {
	b, l := newBook(t, 10000)

	for _, qty := range []decimal.Decimal{decimal.Zero, d(-3)} {
		_, err := b.Open("AAPL", model.Long, qty, d(150), now)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
	assert.True(t, l.Balance().Equal(d(10000)))
	assert.Empty(t, b.OpenPositions())
}

func TestOpen_InvalidSide(t *testing.T) {
	b, _ := newBook(t, 10000)

	_, err := b.Open("AAPL", model.Side("buy"), d(1), d(150), now)
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestOpen_InsufficientFunds(t *testing.T) {
	b, l := newBook(t, 10000)

	_, err := b.Open("AAPL", model.Long, d(1000), d(150), now)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, l.Balance().Equal(d(10000)), "rejected open must not touch balance")
	assert.Empty(t, b.OpenPositions(), "rejected open must not create a position")
}

func TestClose_LongRealizedPnL(t *testing.T) {
	b, l := newBook(t, 10000)

	pos, err := b.Open("AAPL", model.Long, d(10), d(100), now)
	require.NoError(t, err)

	trade, err := b.Close(pos.ID, d(110), now.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, trade.RealizedPnL.Equal(d(100)), "got %s", trade.RealizedPnL)
	assert.True(t, trade.ExitPrice.Equal(d(110)))
	// 10000 - 1000 (open debit) + 100 (realized)
	assert.True(t, l.Balance().Equal(d(9100)))
	assert.Empty(t, b.OpenPositions())
	assert.Len(t, b.ClosedTrades(), 1)
}

func TestClose_ShortRealizedPnL(t *testing.T) {
	b, l := newBook(t, 10000)

	pos, err := b.Open("AAPL", model.Short, d(10), d(100), now)
	require.NoError(t, err)

	trade, err := b.Close(pos.ID, d(110), now.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, trade.RealizedPnL.Equal(d(-100)), "got %s", trade.RealizedPnL)
	assert.True(t, l.Balance().Equal(d(9900)))
}

func TestClose_NotFound(t *testing.T) {
	b, _ := newBook(t, 10000)

	_, err := b.Close("missing", d(100), now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClose_TwiceFailsWithoutDoubleSettle(t *testing.T) {
	b, l := newBook(t, 10000)

	pos, err := b.Open("AAPL", model.Long, d(10), d(100), now)
	require.NoError(t, err)

	_, err = b.Close(pos.ID, d(110), now)
	require.NoError(t, err)
	balanceAfterFirst := l.Balance()

	_, err = b.Close(pos.ID, d(120), now)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	assert.True(t, l.Balance().Equal(balanceAfterFirst), "second close must not settle again")
	assert.Len(t, b.ClosedTrades(), 1)
}

func TestUnrealizedPnL(t *testing.T) {
	long := model.Position{Side: model.Long, Quantity: d(10), EntryPrice: d(100)}
	short := model.Position{Side: model.Short, Quantity: d(10), EntryPrice: d(100)}

	assert.True(t, UnrealizedPnL(long, d(110)).Equal(d(100)))
	assert.True(t, UnrealizedPnL(long, d(90)).Equal(d(-100)))
	assert.True(t, UnrealizedPnL(short, d(110)).Equal(d(-100)))
	assert.True(t, UnrealizedPnL(short, d(90)).Equal(d(100)))
}

func TestAggregates_DerivedOnRead(t *testing.T) {
	b, _ := newBook(t, 100000)

	p1, err := b.Open("AAPL", model.Long, d(10), d(100), now)
	require.NoError(t, err)
	_, err = b.Open("TSLA", model.Short, d(5), d(200), now)
	require.NoError(t, err)

	state := &model.MarketState{Quotes: map[string]model.Quote{
		"AAPL": {Price: d(105)},
		"TSLA": {Price: d(190)},
	}}

	// long: (105-100)*10 = 50; short: (200-190)*5 = 50
	assert.True(t, b.TotalUnrealizedPnL(state).Equal(d(100)))

	_, err = b.Close(p1.ID, d(120), now)
	require.NoError(t, err)
	assert.True(t, b.TotalRealizedPnL().Equal(d(200)))
	assert.True(t, b.TotalUnrealizedPnL(state).Equal(d(50)), "closed position leaves the open aggregate")
}

// Balance conservation over a mixed sequence of opens and closes:
// final = initial - sum(longOpenDebits) + sum(allRealizedPnL).
func TestConservationAcrossTrades(t *testing.T) {
	b, l := newBook(t, 50000)
	initial := d(50000)

	long1, err := b.Open("AAPL", model.Long, d(20), d(150), now) // debit 3000
	require.NoError(t, err)
	short1, err := b.Open("TSLA", model.Short, d(10), d(200), now) // no debit
	require.NoError(t, err)
	long2, err := b.Open("NVDA", model.Long, d(2), d(800), now) // debit 1600
	require.NoError(t, err)

	t1, err := b.Close(long1.ID, d(155.25), now) // +105
	require.NoError(t, err)
	t2, err := b.Close(short1.ID, d(210.10), now) // -101
	require.NoError(t, err)
	t3, err := b.Close(long2.ID, d(790), now) // -20
	require.NoError(t, err)

	want := initial.Sub(d(3000)).Sub(d(1600)).
		Add(t1.RealizedPnL).Add(t2.RealizedPnL).Add(t3.RealizedPnL)
	assert.True(t, l.Balance().Equal(want), "got %s want %s", l.Balance(), want)
}

// Every snapshot must satisfy the accounting identity
// initial = balance + sum(open long notional) + sum(closed long notional)
// - sum(realizedPnL), even while another goroutine is trading. A snapshot
// that reads the balance and the trade sets under separate locks can pair
// a stale balance with a newer trade history and persist corrupt state.
func TestSnapshot_ConsistentUnderConcurrentTrades(t *testing.T) {
	b, _ := newBook(t, 1000000)
	initial := d(1000000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			pos, err := b.Open("AAPL", model.Long, d(1), d(100), now)
			if err != nil {
				return
			}
			if _, err := b.Close(pos.ID, d(101), now); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		snap := b.Snapshot()

		sum := snap.Balance
		for _, p := range snap.OpenPositions {
			sum = sum.Add(p.Notional())
		}
		for _, tr := range snap.ClosedTrades {
			sum = sum.Add(tr.Notional()).Sub(tr.RealizedPnL)
		}
		require.True(t, sum.Equal(initial),
			"snapshot %d: identity sum %s != initial %s (balance=%s open=%d closed=%d)",
			i, sum, initial, snap.Balance, len(snap.OpenPositions), len(snap.ClosedTrades))
	}
	<-done
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	b, _ := newBook(t, 10000)

	pos, err := b.Open("AAPL", model.Long, d(10), d(100), now)
	require.NoError(t, err)
	short, err := b.Open("TSLA", model.Short, d(5), d(200), now)
	require.NoError(t, err)
	_, err = b.Close(short.ID, d(210), now)
	require.NoError(t, err)

	snap := b.Snapshot()
	assert.Equal(t, "user1", snap.UserID)
	require.Len(t, snap.OpenPositions, 1)
	require.Len(t, snap.ClosedTrades, 1)

	l2 := ledger.New(d(0))
	b2 := New("user1", l2)
	b2.Restore(snap)

	assert.True(t, l2.Balance().Equal(snap.Balance))
	restored, err := b2.Get(pos.ID)
	require.NoError(t, err)
	assert.True(t, restored.EntryPrice.Equal(d(100)))
	assert.Len(t, b2.ClosedTrades(), 1)
	assert.True(t, b2.TotalRealizedPnL().Equal(d(-50)))
}
