package feedback

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/model"
)

// largePositionNotional is the threshold above which a trade is treated as
// a large position and its risk grade is escalated one step.
var largePositionNotional = decimal.NewFromInt(5000)

// RuleAdapter is the deterministic local fallback. Sentiment and risk
// follow a fixed side × price-direction table:
//
//	long,  0 < change < +3% : positive, low    (entered on moderate momentum)
//	long,  change < -2%      : negative, high  (bought into a decline)
//	long,  otherwise         : neutral, medium
//	short, -3% < change < 0  : positive, low   (sold into weakness)
//	short, change > +2%      : neutral, medium (sold against an uptrend)
//	short, otherwise         : neutral, medium
//
// The same request always yields the same feedback.
type RuleAdapter struct{}

// NewRuleAdapter creates the fallback adapter.
func NewRuleAdapter() *RuleAdapter { return &RuleAdapter{} }

// Generate never fails.
func (a *RuleAdapter) Generate(_ context.Context, req Request) (*model.Feedback, error) {
	change, _ := req.ChangePercent.Float64()

	var (
		sentiment   = model.SentimentNeutral
		risk        = model.RiskMedium
		analysis    string
		suggestions []string
	)

	if req.Side == model.Long {
		switch {
		case change > 0 && change < 3:
			sentiment, risk = model.SentimentPositive, model.RiskLow
			analysis = fmt.Sprintf("Good timing on this long in %s. You entered during a moderate uptrend (%.2f%%), which suggests positive momentum without chasing.", req.Symbol, change)
			suggestions = []string{
				"Consider setting a stop loss 5-8% below your entry price",
				"Monitor volume to confirm the upward momentum",
				"Take partial profits if the price rises 15-20%",
			}
		case change < -2:
			sentiment, risk = model.SentimentNegative, model.RiskHigh
			analysis = fmt.Sprintf("You went long %s during a declining period (%.2f%%). This could be value buying, but be aware of further downside.", req.Symbol, change)
			suggestions = []string{
				"Watch for signs of trend reversal before adding more",
				"Falling prices can keep falling; size accordingly",
				"Set a tight stop loss to limit potential losses",
			}
		default:
			analysis = fmt.Sprintf("You went long %s in a relatively stable market. A neutral entry reduces timing risk.", req.Symbol)
			suggestions = []string{
				"Monitor key support and resistance levels",
				"Plan your exit before emotions take over",
			}
		}
	} else {
		switch {
		case change < 0 && change > -3:
			sentiment, risk = model.SentimentPositive, model.RiskLow
			analysis = fmt.Sprintf("Smart short timing on %s. You sold into moderate weakness (%.2f%%), aligned with the prevailing direction.", req.Symbol, change)
			suggestions = []string{
				"Good directional discipline; keep position sizes consistent",
				"Decide in advance where you will cover",
			}
		case change > 2:
			analysis = fmt.Sprintf("You shorted %s during an uptrend (%.2f%%). Counter-trend shorts can work but carry elevated risk.", req.Symbol, change)
			suggestions = []string{
				"Confirm the move is exhausted before fighting it",
				"Use a hard stop above the recent high",
			}
		default:
			analysis = fmt.Sprintf("You shorted %s in stable conditions. Neutral timing reduces the risk of a poor entry.", req.Symbol)
			suggestions = []string{
				"Review your thesis for the downside move",
				"Maintain discipline in your trading plan",
			}
		}
	}

	if req.Closed {
		if req.PnL.IsPositive() {
			analysis += fmt.Sprintf(" The trade closed with a %s gain.", req.PnL.StringFixed(2))
		} else if req.PnL.IsNegative() {
			analysis += fmt.Sprintf(" The trade closed with a %s loss.", req.PnL.Abs().StringFixed(2))
		}
	}

	// Large positions escalate one risk grade and get a sizing reminder.
	if req.Quantity.Mul(req.EntryPrice).GreaterThan(largePositionNotional) {
		suggestions = append(suggestions, "Large position size detected; check it against your risk management rules")
		switch risk {
		case model.RiskLow:
			risk = model.RiskMedium
		case model.RiskMedium:
			risk = model.RiskHigh
		}
	}

	return &model.Feedback{
		TradeID:     req.TradeID,
		Sentiment:   sentiment,
		Analysis:    analysis,
		Suggestions: suggestions,
		RiskLevel:   risk,
		Source:      "fallback",
	}, nil
}
