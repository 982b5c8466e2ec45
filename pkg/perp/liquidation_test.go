package perp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func liqPosition(long bool) *Position {
	return &Position{
		Long:        long,
		Margin:      d("1000"),
		Leverage:    d("5"),
		OpenPrice:   d("10000"),
		FundingTime: time.Unix(1_700_000_000, 0),
	}
}

func TestLiquidationPriceLong(t *testing.T) {
	eng := NewLiquidationEngine()
	pos := liqPosition(true)

	// Loss budget 1000 x 0.9 = 900 on a 5,000 notional: an 18% drop.
	liq := eng.LiquidationPrice(pos, defaultPair(), d("0.1"), pos.FundingTime)
	assert.True(t, liq.Equal(d("8200")), "got %s", liq)
}

func TestLiquidationPriceShort(t *testing.T) {
	eng := NewLiquidationEngine()
	pos := liqPosition(false)

	liq := eng.LiquidationPrice(pos, defaultPair(), d("0.1"), pos.FundingTime)
	assert.True(t, liq.Equal(d("11800")), "got %s", liq)
}

func TestLiquidationPriceShrinksWithFundingDebt(t *testing.T) {
	eng := NewLiquidationEngine()
	pos := liqPosition(true)
	pos.Interest = d("-100")

	// Debt eats into the budget: 900 - 100 = 800 -> a 16% drop.
	liq := eng.LiquidationPrice(pos, defaultPair(), d("0.1"), pos.FundingTime)
	assert.True(t, liq.Equal(d("8400")), "got %s", liq)
}

func TestLiquidationPriceProjectsPendingFunding(t *testing.T) {
	pair := defaultPair()
	pair.FundingAPR = d("0.365")
	eng := NewLiquidationEngine()

	pos := liqPosition(true)
	fresh := eng.LiquidationPrice(pos, pair, d("0.1"), pos.FundingTime)
	later := eng.LiquidationPrice(pos, pair, d("0.1"), pos.FundingTime.Add(24*time.Hour))

	// A day of funding moves the bound without touching the position.
	assert.True(t, later.GreaterThan(fresh), "fresh %s later %s", fresh, later)
	assert.True(t, pos.Interest.IsZero())
}

func TestLiquidationPriceFlooredAtZero(t *testing.T) {
	eng := NewLiquidationEngine()
	pos := &Position{
		Long:        true,
		Margin:      d("1000"),
		Leverage:    d("1"),
		OpenPrice:   d("10000"),
		Interest:    d("500"),
		FundingTime: time.Unix(1_700_000_000, 0),
	}
	// Budget 900 + 500 credit = 1400 on a 1,000 notional: the shift
	// exceeds 100%, so the bound clamps to zero.
	liq := eng.LiquidationPrice(pos, defaultPair(), d("0.1"), pos.FundingTime)
	assert.True(t, liq.IsZero(), "got %s", liq)
}

func TestIsLiquidatableBoundary(t *testing.T) {
	eng := NewLiquidationEngine()
	pos := liqPosition(true)
	pair := defaultPair()

	// Exactly at the bound counts as liquidatable; a tick above does not.
	assert.True(t, eng.IsLiquidatable(pos, pair, d("0.1"), d("8200"), pos.FundingTime))
	assert.False(t, eng.IsLiquidatable(pos, pair, d("0.1"), d("8201"), pos.FundingTime))
	assert.True(t, eng.IsLiquidatable(pos, pair, d("0.1"), d("5000"), pos.FundingTime))
}

func TestIsLiquidatableShort(t *testing.T) {
	eng := NewLiquidationEngine()
	pos := liqPosition(false)
	pair := defaultPair()

	assert.True(t, eng.IsLiquidatable(pos, pair, d("0.1"), d("11800"), pos.FundingTime))
	assert.False(t, eng.IsLiquidatable(pos, pair, d("0.1"), d("11799"), pos.FundingTime))
}
