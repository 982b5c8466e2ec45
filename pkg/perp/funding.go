package perp

import (
	"time"

	"github.com/shopspring/decimal"
)

var secondsPerYear = decimal.NewFromInt(365 * 24 * 60 * 60)

// fundingDelta returns the signed interest accrued over elapsed seconds.
// Positive means the trader is credited, negative means the trader owes.
// A positive pair rate charges longs and credits shorts; a negative rate
// flips the direction.
func fundingDelta(notional, apr decimal.Decimal, long bool, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 || apr.IsZero() || notional.IsZero() {
		return decimal.Zero
	}
	// Nanosecond-exact: frequent checkpoints must accrue the same total
	// as one large one, and float64 seconds cannot guarantee that.
	secs := decimal.New(elapsed.Nanoseconds(), -9)
	charge := notional.Mul(apr).Mul(secs).Div(secondsPerYear)
	if long {
		return charge.Neg()
	}
	return charge
}

// AccrueFunding rolls a position's funding checkpoint forward to now,
// adding the interest accrued since the last checkpoint. Idempotent when
// no time has elapsed. Every margin or size mutation accrues first so
// later computations see up-to-date interest.
func AccrueFunding(p *Position, pair PairConfig, now time.Time) {
	if !now.After(p.FundingTime) {
		return
	}
	p.Interest = p.Interest.Add(fundingDelta(p.Notional(), pair.FundingAPR, p.Long, now.Sub(p.FundingTime)))
	p.FundingTime = now
}

// ProjectedInterest returns the interest the position would carry at the
// given instant without mutating it. The liquidation engine uses this to
// price in funding drift.
func ProjectedInterest(p *Position, pair PairConfig, at time.Time) decimal.Decimal {
	if !at.After(p.FundingTime) {
		return p.Interest
	}
	return p.Interest.Add(fundingDelta(p.Notional(), pair.FundingAPR, p.Long, at.Sub(p.FundingTime)))
}
