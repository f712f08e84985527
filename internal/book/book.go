// Package book owns the open positions and closed-trade history for one
// user and computes unrealized/realized P&L against current prices.
package book

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/ledger"
	"github.com/simutrade/practice-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned for a non-positive quantity. Rejected
	// before any side effect.
	ErrInvalidQuantity = errors.New("book: quantity must be positive")

	// ErrInvalidSide is returned for a side other than long or short.
	ErrInvalidSide = errors.New("book: side must be long or short")

	// ErrNotFound is returned when no position with the given id exists.
	ErrNotFound = errors.New("book: position not found")

	// ErrAlreadyClosed is returned on a second close of the same position.
	// The first settlement is never repeated.
	ErrAlreadyClosed = errors.New("book: position already closed")
)

// Book is the position book for a single user. Open/close are serialized
// through one mutex; aggregate queries are derived on read, never cached.
type Book struct {
	mu     sync.Mutex
	userID string
	ledger *ledger.Ledger
	open   map[string]*model.Position
	closed []model.ClosedTrade
}

// New creates an empty book backed by the user's ledger.
func New(userID string, l *ledger.Ledger) *Book {
	return &Book{
		userID: userID,
		ledger: l,
		open:   make(map[string]*model.Position),
	}
}

// Open records a new position at the given entry price. Long opens reserve
// the full notional first; if the reserve fails no position is created.
// Shorts carry no upfront debit — their P&L settles entirely at close.
func (b *Book) Open(symbol string, side model.Side, quantity, entryPrice decimal.Decimal, now time.Time) (*model.Position, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pos := &model.Position{
		ID:         uuid.New().String(),
		UserID:     b.userID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		OpenedAt:   now,
	}

	if side == model.Long {
		if err := b.ledger.Reserve(pos.Notional()); err != nil {
			return nil, err
		}
	}

	b.open[pos.ID] = pos
	return pos, nil
}

// Close transitions an open position to a closed trade at the given exit
// price, settles the realized P&L and appends the trade to history. The
// transition is terminal: a second close fails with ErrAlreadyClosed and
// does not settle again.
func (b *Book) Close(id string, exitPrice decimal.Decimal, now time.Time) (*model.ClosedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[id]
	if !ok {
		for _, t := range b.closed {
			if t.ID == id {
				return nil, ErrAlreadyClosed
			}
		}
		return nil, ErrNotFound
	}

	pnl := RealizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	b.ledger.Settle(pnl)

	trade := model.ClosedTrade{
		Position:    *pos,
		ExitPrice:   exitPrice,
		ClosedAt:    now,
		RealizedPnL: pnl,
	}
	delete(b.open, id)
	b.closed = append(b.closed, trade)
	return &trade, nil
}

// Get returns an open position by id.
func (b *Book) Get(id string) (*model.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

// OpenPositions returns a copy of the open set.
func (b *Book) OpenPositions() []model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Position, 0, len(b.open))
	for _, p := range b.open {
		out = append(out, *p)
	}
	return out
}

// ClosedTrades returns a copy of the trade history, oldest first.
func (b *Book) ClosedTrades() []model.ClosedTrade {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.ClosedTrade, len(b.closed))
	copy(out, b.closed)
	return out
}

// TotalUnrealizedPnL sums mark-to-market P&L over the open set using the
// given market snapshot. Symbols missing from the snapshot contribute
// nothing (cannot happen with a fixed universe).
func (b *Book) TotalUnrealizedPnL(state *model.MarketState) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := decimal.Zero
	for _, p := range b.open {
		q, ok := state.Quotes[p.Symbol]
		if !ok {
			continue
		}
		total = total.Add(UnrealizedPnL(*p, q.Price))
	}
	return total
}

// TotalRealizedPnL sums realized P&L over the closed-trade history.
func (b *Book) TotalRealizedPnL() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := decimal.Zero
	for _, t := range b.closed {
		total = total.Add(t.RealizedPnL)
	}
	return total
}

// Snapshot exports the serializable session state. The balance and both
// collections are captured under one lock acquisition, so a concurrent
// open or close can never pair a stale balance with a newer trade set.
func (b *Book) Snapshot() model.SessionSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := make([]model.Position, 0, len(b.open))
	for _, p := range b.open {
		open = append(open, *p)
	}
	closed := make([]model.ClosedTrade, len(b.closed))
	copy(closed, b.closed)

	return model.SessionSnapshot{
		UserID:        b.userID,
		Balance:       b.ledger.Balance(),
		OpenPositions: open,
		ClosedTrades:  closed,
		MarginCalled:  b.ledger.MarginCalled(),
	}
}

// Restore replaces the book's state from a persisted snapshot.
func (b *Book) Restore(snap model.SessionSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.open = make(map[string]*model.Position, len(snap.OpenPositions))
	for _, p := range snap.OpenPositions {
		cp := p
		b.open[p.ID] = &cp
	}
	b.closed = make([]model.ClosedTrade, len(snap.ClosedTrades))
	copy(b.closed, snap.ClosedTrades)
	b.ledger.Restore(snap.Balance, snap.MarginCalled)
}

// UnrealizedPnL is the mark-to-market gain/loss of an open position at the
// current price. Pure function; recomputed on every read.
func UnrealizedPnL(p model.Position, currentPrice decimal.Decimal) decimal.Decimal {
	if p.Side == model.Short {
		return p.EntryPrice.Sub(currentPrice).Mul(p.Quantity)
	}
	return currentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// RealizedPnL is the locked-in gain/loss of a position closed at exitPrice.
func RealizedPnL(side model.Side, entryPrice, exitPrice, quantity decimal.Decimal) decimal.Decimal {
	if side == model.Short {
		return entryPrice.Sub(exitPrice).Mul(quantity)
	}
	return exitPrice.Sub(entryPrice).Mul(quantity)
}
