package perp

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeTable holds the fee fractions of notional charged for one trade mode.
type FeeTable struct {
	Stakers  decimal.Decimal
	Referral decimal.Decimal
	DAO      decimal.Decimal
	Bot      decimal.Decimal
}

func (t FeeTable) validate() error {
	sum := decimal.Zero
	for _, f := range []decimal.Decimal{t.Stakers, t.Referral, t.DAO, t.Bot} {
		if f.IsNegative() {
			return fmt.Errorf("fee fraction must not be negative: %s", f)
		}
		sum = sum.Add(f)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee fractions sum to %s, exceeding 100%%", sum)
	}
	return nil
}

// FeeSplit is the computed fee breakdown for one trade.
type FeeSplit struct {
	Stakers  decimal.Decimal `json:"stakers"`
	Referral decimal.Decimal `json:"referral"`
	DAO      decimal.Decimal `json:"dao"`
	Bot      decimal.Decimal `json:"bot"`
}

// Total returns the sum of all components.
func (s FeeSplit) Total() decimal.Decimal {
	return s.Stakers.Add(s.Referral).Add(s.DAO).Add(s.Bot)
}

// FeeSchedule is an immutable, versioned snapshot of the open and close
// fee tables. Tables are validated when the schedule is constructed, never
// at trade time; each ledger transition reads exactly one schedule.
type FeeSchedule struct {
	Version uint64
	Open    FeeTable
	Close   FeeTable
}

// NewFeeSchedule validates both tables and returns a schedule.
func NewFeeSchedule(version uint64, open, close FeeTable) (*FeeSchedule, error) {
	if err := open.validate(); err != nil {
		return nil, fmt.Errorf("open fee table: %w", err)
	}
	if err := close.validate(); err != nil {
		return nil, fmt.Errorf("close fee table: %w", err)
	}
	return &FeeSchedule{Version: version, Open: open, Close: close}, nil
}

// Compute returns the fee split for a notional amount. Without a referral
// the referral fraction collapses into the stakers share, so the total
// charged is independent of referral status.
func (s *FeeSchedule) Compute(notional decimal.Decimal, open, hasReferral bool) FeeSplit {
	table := s.Close
	if open {
		table = s.Open
	}
	split := FeeSplit{
		Stakers:  notional.Mul(table.Stakers),
		Referral: notional.Mul(table.Referral),
		DAO:      notional.Mul(table.DAO),
		Bot:      notional.Mul(table.Bot),
	}
	if !hasReferral {
		split.Stakers = split.Stakers.Add(split.Referral)
		split.Referral = decimal.Zero
	}
	return split
}
