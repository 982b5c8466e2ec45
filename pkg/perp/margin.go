package perp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ValidateOpen checks margin/leverage bounds for opening or growing a
// position. vault may be nil when custody listing has been checked by the
// caller.
func ValidateOpen(margin, leverage decimal.Decimal, marginAsset common.Address, pair PairConfig, vault Vault) error {
	if leverage.LessThan(pair.MinLeverage) || leverage.GreaterThan(pair.MaxLeverage) {
		return ErrLeverageOutOfRange
	}
	if margin.Mul(leverage).LessThan(pair.MinNotional) {
		return ErrBelowMinimumSize
	}
	if !pair.MarginAssetAllowed(marginAsset) {
		return ErrUnapprovedMarginAsset
	}
	if vault != nil && !vault.IsTokenListed(marginAsset) {
		return ErrTokenNotListed
	}
	return nil
}

// Combine folds an additional fill into an existing position. The new open
// price is the notional-weighted average of the old open price and the
// fill price, margin adds, and leverage is re-derived from the combined
// notional over the combined margin. Accumulated interest carries forward
// unchanged so a pending funding debt cannot be erased by topping up.
func Combine(p *Position, addedMargin, addedNotional, fillPrice decimal.Decimal) {
	oldNotional := p.Notional()
	totalNotional := oldNotional.Add(addedNotional)
	if totalNotional.IsZero() {
		return
	}
	p.OpenPrice = oldNotional.Mul(p.OpenPrice).
		Add(addedNotional.Mul(fillPrice)).
		Div(totalNotional)
	p.Margin = p.Margin.Add(addedMargin)
	p.Leverage = totalNotional.Div(p.Margin)
}

// RawPnL returns the signed profit of closing closeFraction of the
// position at exitPrice, before interest and the payout floor/cap:
// +/-(exit - open)/open x notionalClosed.
func RawPnL(p *Position, exitPrice, closeFraction decimal.Decimal) decimal.Decimal {
	notionalClosed := p.Notional().Mul(closeFraction)
	move := exitPrice.Sub(p.OpenPrice).Div(p.OpenPrice)
	if !p.Long {
		move = move.Neg()
	}
	return move.Mul(notionalClosed)
}

// ComputePnL returns the pre-fee payout for closing closeFraction of the
// position at exitPrice: marginClosed + rawPnL + interestClosed, floored
// at zero (a total loss never produces a negative payout) and capped at
// marginClosed x maxWin when maxWin is nonzero.
func ComputePnL(p *Position, exitPrice, closeFraction, maxWin decimal.Decimal) (payout, rawPnL decimal.Decimal) {
	rawPnL = RawPnL(p, exitPrice, closeFraction)
	marginClosed := p.Margin.Mul(closeFraction)
	interestClosed := p.Interest.Mul(closeFraction)

	payout = marginClosed.Add(rawPnL).Add(interestClosed)
	if payout.IsNegative() {
		payout = decimal.Zero
	}
	if maxWin.IsPositive() {
		cap := marginClosed.Mul(maxWin)
		if payout.GreaterThan(cap) {
			payout = cap
		}
	}
	return payout, rawPnL
}

// ValidateCloseFraction rejects close fractions outside (0, 1].
func ValidateCloseFraction(f decimal.Decimal) error {
	if !f.IsPositive() || f.GreaterThan(decimal.NewFromInt(1)) {
		return ErrBadClosePercent
	}
	return nil
}
