// Package model defines the core domain types shared across the practice
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool { return s == Long || s == Short }

// Quote is the live market view of one symbol. Change fields are always
// computed against the session open price, not the previous tick.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	OpenPrice     decimal.Decimal `json:"open_price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// MarketState is an immutable snapshot of all quotes as of one tick.
// The simulator publishes a fresh MarketState per tick; readers must treat
// it as read-only.
type MarketState struct {
	Quotes map[string]Quote `json:"quotes"`
	AsOf   time.Time        `json:"as_of"`
}

// PricePoint is one element of a historical price series.
type PricePoint struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// PriceSeries is an ordered (ascending by timestamp) sequence of price
// points for one symbol.
type PriceSeries []PricePoint

// Position is an open, unsettled trade exposed to price movement.
type Position struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       Side            `json:"side" db:"side"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price" db:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
}

// Notional returns quantity * entryPrice.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// ClosedTrade is a settled position with a realized P&L. Immutable once
// created.
type ClosedTrade struct {
	Position
	ExitPrice   decimal.Decimal `json:"exit_price" db:"exit_price"`
	ClosedAt    time.Time       `json:"closed_at" db:"closed_at"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}

// SessionSnapshot is the serializable state of one user's session:
// {balance, openPositions[], closedTrades[]}. It is the stable shape an
// external persistence layer saves and restores; nothing reaches into the
// ledger or the position book directly.
type SessionSnapshot struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	OpenPositions []Position      `json:"open_positions"`
	ClosedTrades  []ClosedTrade   `json:"closed_trades"`
	MarginCalled  bool            `json:"margin_called"`
	SavedAt       time.Time       `json:"saved_at"`
}

// Sentiment classifies feedback on a trade.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// RiskLevel grades the risk of a trade as judged by the feedback generator.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Feedback is the coaching response for one trade. The remote generator
// and the local fallback both produce this shape.
type Feedback struct {
	TradeID     string    `json:"trade_id"`
	Sentiment   Sentiment `json:"sentiment"`
	Analysis    string    `json:"analysis"`
	Suggestions []string  `json:"suggestions"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Source      string    `json:"source"` // "remote" or "fallback"
	CreatedAt   time.Time `json:"created_at"`
}
