package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestReserve_Debits(t *testing.T) {
	l := New(d(10000))

	require.NoError(t, l.Reserve(d(1500)))
	assert.True(t, l.Balance().Equal(d(8500)))
}

func TestReserve_InsufficientFundsNoMutation(t *testing.T) {
	l := New(d(10000))

	err := l.Reserve(d(150000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, l.Balance().Equal(d(10000)), "failed reserve must not mutate")
	assert.False(t, l.MarginCalled())
}

func TestReserve_ExactBalance(t *testing.T) {
	l := New(d(100))

	require.NoError(t, l.Reserve(d(100)))
	assert.True(t, l.Balance().IsZero())
}

func TestSettle_SignedAdjustment(t *testing.T) {
	l := New(d(1000))

	balance, called := l.Settle(d(250.50))
	assert.True(t, balance.Equal(d(1250.50)))
	assert.False(t, called)

	balance, called = l.Settle(d(-200.50))
	assert.True(t, balance.Equal(d(1050)))
	assert.False(t, called)
}

func TestSettle_NegativeBalanceRaisesMarginCall(t *testing.T) {
	l := New(d(100))

	balance, called := l.Settle(d(-250))
	assert.True(t, balance.Equal(d(-150)), "losses are applied exactly, not clamped")
	assert.True(t, called)
	assert.True(t, l.MarginCalled())

	// Recovering does not clear the flag.
	balance, called = l.Settle(d(500))
	assert.True(t, balance.Equal(d(350)))
	assert.False(t, called)
	assert.True(t, l.MarginCalled())
}

// Balance conservation: final = initial - sum(debits) + sum(settlements),
// exact to the accounting precision.
func TestConservation(t *testing.T) {
	l := New(d(10000))

	debits := []decimal.Decimal{d(1200.25), d(330.10), d(4000)}
	settles := []decimal.Decimal{d(150.75), d(-89.10), d(1000)}

	for _, amt := range debits {
		require.NoError(t, l.Reserve(amt))
	}
	for _, pnl := range settles {
		l.Settle(pnl)
	}

	want := d(10000)
	for _, amt := range debits {
		want = want.Sub(amt)
	}
	for _, pnl := range settles {
		want = want.Add(pnl)
	}
	assert.True(t, l.Balance().Equal(want), "got %s want %s", l.Balance(), want)
}

func TestRestore(t *testing.T) {
	l := New(d(10000))
	l.Restore(d(-42), true)

	assert.True(t, l.Balance().Equal(d(-42)))
	assert.True(t, l.MarginCalled())
}
