// Package ledger holds the single virtual cash balance for one user.
//
// Margin policy: a long open debits its full notional up front; a short
// open neither debits nor credits, with realized P&L settled at close.
// Negative balances are allowed — Settle applies the signed adjustment
// exactly and reports a margin call when the balance drops below zero.
package ledger

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned when a reserve exceeds the available
// balance. The balance is left untouched.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Ledger is the single source of truth for one user's virtual cash.
// All mutations are serialized through one mutex so a balance check and
// the debit it guards are a single atomic step.
type Ledger struct {
	mu           sync.Mutex
	balance      decimal.Decimal
	marginCalled bool
}

// New creates a ledger with the given starting balance.
func New(initial decimal.Decimal) *Ledger {
	return &Ledger{balance: initial}
}

// Balance returns the current balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// MarginCalled reports whether the balance has ever gone negative.
func (l *Ledger) MarginCalled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marginCalled
}

// Reserve debits amount if and only if it does not exceed the balance.
// Check and debit happen under one lock; on failure nothing mutates.
func (l *Ledger) Reserve(amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.GreaterThan(l.balance) {
		return ErrInsufficientFunds
	}
	l.balance = l.balance.Sub(amount)
	return nil
}

// Settle applies a signed P&L adjustment. It always succeeds; if the
// balance crosses below zero the margin-call flag is raised and reported.
func (l *Ledger) Settle(pnl decimal.Decimal) (balance decimal.Decimal, marginCall bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = l.balance.Add(pnl)
	if l.balance.IsNegative() {
		l.marginCalled = true
		marginCall = true
	}
	return l.balance, marginCall
}

// Restore overwrites the ledger state from a persisted snapshot.
func (l *Ledger) Restore(balance decimal.Decimal, marginCalled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = balance
	l.marginCalled = marginCalled
}
