// Package feedback generates coaching feedback for executed trades. A
// remote chat-completion generator is optional; a deterministic rule-based
// fallback always exists, so trade settlement never depends on feedback
// availability.
package feedback

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/model"
)

// ErrUnavailable is returned when the remote generator is unreachable,
// unconfigured or returns garbage. Callers recover via the local fallback;
// it is never surfaced as a trade failure.
var ErrUnavailable = errors.New("feedback: generator unavailable")

// Request carries one trade plus minimal user and market context.
// ExitPrice and PnL are zero-valued for a newly opened trade.
type Request struct {
	TradeID    string
	Symbol     string
	Side       model.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	Closed     bool

	// Market context at execution time.
	ChangePercent decimal.Decimal

	// User context.
	ExperienceLevel string
	TradeCount      int
	TotalPnL        decimal.Decimal
}

// Adapter produces feedback for one trade.
type Adapter interface {
	Generate(ctx context.Context, req Request) (*model.Feedback, error)
}
