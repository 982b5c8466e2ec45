package perp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fundingPosition(long bool) *Position {
	return &Position{
		Long:        long,
		Margin:      d("1000"),
		Leverage:    d("10"),
		OpenPrice:   d("10000"),
		FundingTime: time.Unix(1_700_000_000, 0),
	}
}

func TestAccrueFundingChargesLongs(t *testing.T) {
	pair := defaultPair()
	pair.FundingAPR = d("0.365") // 0.1% per day on notional

	pos := fundingPosition(true)
	AccrueFunding(pos, pair, pos.FundingTime.Add(24*time.Hour))

	// notional 10,000 x 0.1%/day x 1 day = 10, owed by the long.
	assert.True(t, pos.Interest.Equal(d("-10")), "got %s", pos.Interest)
}

func TestAccrueFundingCreditsShorts(t *testing.T) {
	pair := defaultPair()
	pair.FundingAPR = d("0.365")

	pos := fundingPosition(false)
	AccrueFunding(pos, pair, pos.FundingTime.Add(24*time.Hour))
	assert.True(t, pos.Interest.Equal(d("10")), "got %s", pos.Interest)
}

func TestAccrueFundingNegativeRateFlips(t *testing.T) {
	pair := defaultPair()
	pair.FundingAPR = d("-0.365")

	pos := fundingPosition(true)
	AccrueFunding(pos, pair, pos.FundingTime.Add(24*time.Hour))
	assert.True(t, pos.Interest.Equal(d("10")), "got %s", pos.Interest)
}

func TestAccrueFundingIdempotentAtCheckpoint(t *testing.T) {
	pair := defaultPair()
	pair.FundingAPR = d("0.365")

	pos := fundingPosition(true)
	now := pos.FundingTime.Add(time.Hour)
	AccrueFunding(pos, pair, now)
	after := pos.Interest

	// Re-accruing at the same instant changes nothing.
	AccrueFunding(pos, pair, now)
	assert.True(t, pos.Interest.Equal(after))

	// Time running backwards changes nothing either.
	AccrueFunding(pos, pair, now.Add(-time.Hour))
	assert.True(t, pos.Interest.Equal(after))
}

func TestAccrueFundingSplitEqualsWhole(t *testing.T) {
	pair := defaultPair()
	pair.FundingAPR = d("0.365")

	whole := fundingPosition(true)
	AccrueFunding(whole, pair, whole.FundingTime.Add(48*time.Hour))

	split := fundingPosition(true)
	AccrueFunding(split, pair, split.FundingTime.Add(24*time.Hour))
	AccrueFunding(split, pair, split.FundingTime.Add(24*time.Hour))

	assert.True(t, whole.Interest.Equal(split.Interest),
		"whole %s vs split %s", whole.Interest, split.Interest)
}

func TestAccrueFundingSubSecondExact(t *testing.T) {
	// 10,000 notional at this rate accrues exactly 1 per second, so the
	// sub-second arithmetic is checkable without rounding slack.
	pair := defaultPair()
	pair.FundingAPR = d("3153.6")

	pos := fundingPosition(true)
	AccrueFunding(pos, pair, pos.FundingTime.Add(500*time.Millisecond))
	assert.True(t, pos.Interest.Equal(d("-0.5")), "got %s", pos.Interest)

	AccrueFunding(pos, pair, pos.FundingTime.Add(500*time.Millisecond))
	assert.True(t, pos.Interest.Equal(d("-1")), "got %s", pos.Interest)

	whole := fundingPosition(true)
	AccrueFunding(whole, pair, whole.FundingTime.Add(time.Second))
	assert.True(t, whole.Interest.Equal(pos.Interest))
}

func TestProjectedInterestDoesNotMutate(t *testing.T) {
	pair := defaultPair()
	pair.FundingAPR = d("0.365")

	pos := fundingPosition(true)
	projected := ProjectedInterest(pos, pair, pos.FundingTime.Add(24*time.Hour))
	assert.True(t, projected.Equal(d("-10")))
	assert.True(t, pos.Interest.IsZero())
	assert.Equal(t, time.Unix(1_700_000_000, 0), pos.FundingTime)
}
