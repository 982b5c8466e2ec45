package perp

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiquidationEngine derives liquidation bounds for positions. It is pure
// computation; the Ledger drives the actual close and payouts.
type LiquidationEngine struct{}

// NewLiquidationEngine creates a liquidation engine.
func NewLiquidationEngine() *LiquidationEngine {
	return &LiquidationEngine{}
}

// LiquidationPrice solves for the price at which the position's value
// (margin + interest + unrealized PnL) drops to threshold x margin,
// projecting funding to now. For a long:
//
//	liqPrice = openPrice x (1 - (margin x (1 - threshold) + interest) / notional)
//
// The PnL term flips sign for a short. A long's bound is floored at zero.
func (e *LiquidationEngine) LiquidationPrice(p *Position, pair PairConfig, threshold decimal.Decimal, now time.Time) decimal.Decimal {
	interest := ProjectedInterest(p, pair, now)
	one := decimal.NewFromInt(1)

	// Loss budget before the position breaches the threshold.
	budget := p.Margin.Mul(one.Sub(threshold)).Add(interest)
	shift := budget.Div(p.Notional())

	if p.Long {
		liq := p.OpenPrice.Mul(one.Sub(shift))
		if liq.IsNegative() {
			return decimal.Zero
		}
		return liq
	}
	return p.OpenPrice.Mul(one.Add(shift))
}

// IsLiquidatable reports whether the position's value at price, with
// funding projected to now, is at or below threshold x margin.
func (e *LiquidationEngine) IsLiquidatable(p *Position, pair PairConfig, threshold, price decimal.Decimal, now time.Time) bool {
	interest := ProjectedInterest(p, pair, now)
	value := p.Margin.Add(interest).Add(RawPnL(p, price, decimal.NewFromInt(1)))
	return value.LessThanOrEqual(p.Margin.Mul(threshold))
}
