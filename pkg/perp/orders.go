package perp

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlaceOrder creates a pending limit or stop order at a trigger price.
// Collateral is pulled into custody at placement and refunded on cancel;
// fees are charged only when the order executes.
func (l *Ledger) PlaceOrder(ctx context.Context, caller common.Address, kind OrderKind, req OpenRequest, trigger decimal.Decimal) (RestingOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if err := l.Proxies.Authorize(req.Trader, caller, now); err != nil {
		return RestingOrder{}, err
	}
	if err := l.checkCallDelay(req.Trader, now); err != nil {
		return RestingOrder{}, err
	}
	if !trigger.IsPositive() {
		return RestingOrder{}, ErrNoPrice
	}
	pair, err := l.tradablePair(req.Asset)
	if err != nil {
		return RestingOrder{}, err
	}
	if err := ValidateOpen(req.Margin, req.Leverage, req.MarginAsset, pair, l.vault); err != nil {
		return RestingOrder{}, err
	}

	ref := l.resolveReferral(req.Trader, req.ReferralCode)
	if err := l.vault.TransferIn(ctx, req.Trader, req.MarginAsset, req.Margin, req.Permit); err != nil {
		return RestingOrder{}, err
	}

	order := &RestingOrder{
		ID:          l.nextID,
		Owner:       req.Trader,
		Asset:       req.Asset,
		Long:        req.Long,
		Kind:        kind,
		Trigger:     trigger,
		Margin:      req.Margin,
		Leverage:    req.Leverage,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
		PlacedTime:  now,
		MarginAsset: req.MarginAsset,
		Referral:    ref.hash,
	}
	l.nextID++
	l.orders[order.ID] = order
	l.recordCall(req.Trader, now)
	l.commitReferral(req.Trader, ref, now)

	l.metrics.OrderPlaced()
	l.notifier.Publish(Event{
		Type:   EvOrderPlaced,
		Time:   now,
		Asset:  req.Asset,
		Order:  order.ID,
		Trader: req.Trader,
		Caller: caller,
		Price:  trigger,
		Amount: req.Margin,
	})
	return *order, nil
}

// CancelOrder removes a pending order and refunds its held collateral.
// An order that already executed cannot be cancelled.
func (l *Ledger) CancelOrder(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	order, ok := l.orders[id]
	if !ok {
		if _, executed := l.positions[id]; executed {
			return ErrOrderNotPending
		}
		return ErrOrderNotFound
	}
	if err := l.Proxies.Authorize(order.Owner, caller, now); err != nil {
		return err
	}
	if err := l.vault.TransferOut(ctx, order.Owner, order.MarginAsset, order.Margin); err != nil {
		return err
	}

	delete(l.orders, id)
	l.metrics.OrderCancelled()
	l.notifier.Publish(Event{
		Type:   EvOrderCancelled,
		Time:   now,
		Asset:  order.Asset,
		Order:  id,
		Trader: order.Owner,
		Caller: caller,
		Amount: order.Margin,
	})
	return nil
}

// triggerMet reports whether the attested price satisfies the order's
// trigger condition. Limit buys want the market at or under the trigger,
// limit sells at or over; stops are the reverse.
func triggerMet(kind OrderKind, long bool, attested, trigger decimal.Decimal) bool {
	switch {
	case kind == LimitOrder && long:
		return attested.LessThanOrEqual(trigger)
	case kind == LimitOrder && !long:
		return attested.GreaterThanOrEqual(trigger)
	case kind == StopOrder && long:
		return attested.GreaterThanOrEqual(trigger)
	default: // stop sell
		return attested.LessThanOrEqual(trigger)
	}
}

// ExecuteOrder turns a pending order into a position once its trigger
// condition is met at the attested price. The executing caller, normally
// a bot, earns the open table's bot fee share. Limit orders fill at the
// better of trigger and attested-with-spread; stops fill at market.
func (l *Ledger) ExecuteOrder(ctx context.Context, caller common.Address, id uint64, att PriceAttestation) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	fees := l.fees
	params := l.params

	order, ok := l.orders[id]
	if !ok {
		if _, executed := l.positions[id]; executed {
			return Position{}, ErrOrderNotPending
		}
		return Position{}, ErrOrderNotFound
	}
	if params.ExecutionDelay > 0 && now.Sub(order.PlacedTime) < params.ExecutionDelay {
		return Position{}, ErrExecutionDelay
	}
	pair, err := l.tradablePair(order.Asset)
	if err != nil {
		return Position{}, err
	}
	price, spread, err := l.verify(att, order.Asset, pair, VerifyOptions{
		Caller:        caller,
		OpensExposure: true,
		Now:           now,
		Window:        params.AttestationWindow,
	})
	if err != nil {
		return Position{}, err
	}
	if params.TriggerBand.IsPositive() {
		dev := price.Sub(order.Trigger).Abs().Div(order.Trigger)
		if dev.GreaterThan(params.TriggerBand) {
			return Position{}, ErrPriceOutOfRange
		}
	}
	if !triggerMet(order.Kind, order.Long, price, order.Trigger) {
		return Position{}, ErrOrderConditionUnmet
	}
	// Margin asset or leverage limits may have changed since placement.
	if err := ValidateOpen(order.Margin, order.Leverage, order.MarginAsset, pair, l.vault); err != nil {
		return Position{}, err
	}

	fill := SpreadPrice(price, spread, order.Long)
	if order.Kind == LimitOrder {
		// Fill at the better of trigger and spread-adjusted market.
		if order.Long && order.Trigger.LessThan(fill) {
			fill = order.Trigger
		} else if !order.Long && order.Trigger.GreaterThan(fill) {
			fill = order.Trigger
		}
	}

	referrer, hasRef := l.Referrals.ReferrerOf(order.Owner)
	fee := fees.Compute(order.Notional(), true, hasRef)
	margin := order.Margin.Sub(fee.Total())
	if !margin.IsPositive() {
		return Position{}, ErrBelowMinimumSize
	}
	storedNotional := margin.Mul(order.Leverage)
	if storedNotional.LessThan(pair.MinNotional) {
		return Position{}, ErrBelowMinimumSize
	}
	if err := l.oi.Add(order.Asset, order.Long, storedNotional, pair.OpenInterestCap); err != nil {
		return Position{}, err
	}

	pos := &Position{
		ID:          order.ID,
		Owner:       order.Owner,
		Asset:       order.Asset,
		Long:        order.Long,
		Margin:      margin,
		Leverage:    order.Leverage,
		OpenPrice:   fill,
		TakeProfit:  order.TakeProfit,
		StopLoss:    order.StopLoss,
		Interest:    decimal.Zero,
		FundingTime: now,
		OpenTime:    now,
		MarginAsset: order.MarginAsset,
		Referral:    order.Referral,
	}
	delete(l.orders, id)
	l.positions[pos.ID] = pos

	l.distributeFees(ctx, order.Asset, order.MarginAsset, fee, referrer, caller, now)
	l.metrics.OrderExecuted()
	l.metrics.PositionOpened()
	l.notifier.Publish(Event{
		Type:   EvOrderExecuted,
		Time:   now,
		Asset:  order.Asset,
		Order:  id,
		Trader: order.Owner,
		Caller: caller,
		Price:  fill,
	})
	l.notifier.Publish(Event{
		Type:     EvPositionOpened,
		Time:     now,
		Asset:    order.Asset,
		Position: pos.ID,
		Trader:   order.Owner,
		Caller:   caller,
		Price:    fill,
		Amount:   margin,
	})
	l.log.Info("order executed",
		zap.Uint64("id", id),
		zap.String("kind", order.Kind.String()),
		zap.String("fill", fill.String()))
	return *pos, nil
}

// LimitClose fully closes a position at its stored take-profit or
// stop-loss level once the attested price has crossed it. The caller,
// normally a bot, earns the close table's bot fee share.
func (l *Ledger) LimitClose(ctx context.Context, caller common.Address, id uint64, takeProfit bool, att PriceAttestation) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	pos, ok := l.positions[id]
	if !ok {
		if _, pending := l.orders[id]; pending {
			return decimal.Zero, ErrOrderPending
		}
		return decimal.Zero, ErrPositionNotFound
	}

	level := pos.StopLoss
	if takeProfit {
		level = pos.TakeProfit
	}
	if level.IsZero() {
		return decimal.Zero, ErrNoSuchLevel
	}
	pair, err := l.config.PairConfig(pos.Asset)
	if err != nil {
		return decimal.Zero, err
	}
	price, _, err := l.verify(att, pos.Asset, pair, VerifyOptions{
		Caller: caller,
		Now:    now,
		Window: l.params.AttestationWindow,
	})
	if err != nil {
		return decimal.Zero, err
	}

	crossed := false
	switch {
	case takeProfit && pos.Long:
		crossed = price.GreaterThanOrEqual(level)
	case takeProfit && !pos.Long:
		crossed = price.LessThanOrEqual(level)
	case !takeProfit && pos.Long:
		crossed = price.LessThanOrEqual(level)
	default: // stop-loss on a short
		crossed = price.GreaterThanOrEqual(level)
	}
	if !crossed {
		return decimal.Zero, ErrConditionUnmet
	}

	AccrueFunding(pos, pair, now)
	payout := l.settleClose(ctx, pos, pair, level, decimal.NewFromInt(1), caller, now)

	delete(l.positions, id)
	l.metrics.PositionClosed()
	l.notifier.Publish(Event{
		Type:     EvPositionClosed,
		Time:     now,
		Asset:    pos.Asset,
		Position: id,
		Trader:   pos.Owner,
		Caller:   caller,
		Price:    level,
		Amount:   payout,
	})
	return payout, nil
}
