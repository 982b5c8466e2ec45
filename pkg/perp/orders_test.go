package perp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceAndCancelOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("0"))
	assert.ErrorIs(t, err, ErrNoPrice)

	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("9500"))
	require.NoError(t, err)
	require.Len(t, f.notifier.ofType(EvOrderPlaced), 1)

	// Collateral sits in custody while the order rests, untouched by fees.
	assert.True(t, f.vault.Available(usdc).Equal(d("1001000")))

	// A stranger cannot cancel someone else's order.
	assert.ErrorIs(t, f.ledger.CancelOrder(ctx, botAddr, order.ID), ErrNotDelegated)

	require.NoError(t, f.ledger.CancelOrder(ctx, trader, order.ID))
	assert.True(t, f.vault.PaidTo(trader, usdc).Equal(d("1000")))
	assert.ErrorIs(t, f.ledger.CancelOrder(ctx, trader, order.ID), ErrOrderNotFound)
}

func TestExecuteLimitOrderFillsAtBetterPrice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("9500"))
	require.NoError(t, err)

	// 9,600 is above the buy trigger: not fillable yet.
	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9600", "0"))
	assert.ErrorIs(t, err, ErrOrderConditionUnmet)

	// The market gapped to 9,000: the trader keeps the improvement
	// rather than paying their limit.
	pos, err := f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9000", "0"))
	require.NoError(t, err)
	assert.True(t, pos.OpenPrice.Equal(d("9000")), "got %s", pos.OpenPrice)
	assert.Equal(t, order.ID, pos.ID)
	require.Len(t, f.notifier.ofType(EvOrderExecuted), 1)
	require.Len(t, f.notifier.ofType(EvPositionOpened), 1)
}

func TestExecuteLimitOrderCapsSpreadAtTrigger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("9500"))
	require.NoError(t, err)

	// Spread pushes the market fill to 9,588.9 over the 9,500 limit: the
	// trigger price is the worst fill a limit order accepts.
	pos, err := f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9494", "0.01"))
	require.NoError(t, err)
	assert.True(t, pos.OpenPrice.Equal(d("9500")), "got %s", pos.OpenPrice)
}

func TestExecuteStopOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	order, err := f.ledger.PlaceOrder(ctx, trader, StopOrder, f.openReq("1000", "5", true), d("10500"))
	require.NoError(t, err)

	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "10400", "0"))
	assert.ErrorIs(t, err, ErrOrderConditionUnmet)

	// A stop entry fills at market, spread included.
	pos, err := f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "10600", "0.01"))
	require.NoError(t, err)
	assert.True(t, pos.OpenPrice.Equal(d("10706")), "got %s", pos.OpenPrice)
}

func TestCancelAfterExecuteFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("9500"))
	require.NoError(t, err)
	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9400", "0"))
	require.NoError(t, err)

	// The id now names a live position; the margin stays committed.
	assert.ErrorIs(t, f.ledger.CancelOrder(ctx, trader, order.ID), ErrOrderNotPending)
	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9400", "0"))
	assert.ErrorIs(t, err, ErrOrderNotPending)
}

func TestExecutionDelay(t *testing.T) {
	f := newFixture(t, func(_ *PairConfig, params *Params) {
		params.ExecutionDelay = time.Minute
	})
	ctx := context.Background()

	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("9500"))
	require.NoError(t, err)

	// Same-block placement and execution is a sandwich vector; refused.
	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9400", "0"))
	assert.ErrorIs(t, err, ErrExecutionDelay)

	f.clock.Advance(time.Minute)
	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9400", "0"))
	assert.NoError(t, err)
}

func TestExecuteOrderTriggerBand(t *testing.T) {
	f := newFixture(t, func(_ *PairConfig, params *Params) {
		params.TriggerBand = d("0.02")
	})
	ctx := context.Background()

	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("20000"))
	require.NoError(t, err)

	// The trigger would be met, but the attested price sits 50% away
	// from it: a stale order must not fill against a moved market.
	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "10000", "0"))
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "19900", "0"))
	assert.NoError(t, err)
}

func TestExecuteOrderPaysBotShare(t *testing.T) {
	f := newFixture(t, nil)
	fees, err := NewFeeSchedule(2, testFeeTable(), FeeTable{})
	require.NoError(t, err)
	f.ledger.SetFees(fees)
	ctx := context.Background()

	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("1000", "5", true), d("9500"))
	require.NoError(t, err)
	pos, err := f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9400", "0"))
	require.NoError(t, err)

	// Open fee of 5 comes out of the held margin at execution time.
	assert.True(t, pos.Margin.Equal(d("995")))
	assert.True(t, f.vault.PaidTo(botAddr, usdc).Equal(d("0.5")), "got %s", f.vault.PaidTo(botAddr, usdc))
}

func TestExecuteOrderFeeCannotErodeMinimumSize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Placement clears the minimum on the gross notional with no fee.
	order, err := f.ledger.PlaceOrder(ctx, trader, LimitOrder, f.openReq("20", "5", true), d("9500"))
	require.NoError(t, err)

	// A fee schedule arriving before execution erodes the booked size
	// under the floor; the order stays pending.
	fees, err := NewFeeSchedule(2, testFeeTable(), FeeTable{})
	require.NoError(t, err)
	f.ledger.SetFees(fees)

	_, err = f.ledger.ExecuteOrder(ctx, botAddr, order.ID, f.att(t, "9400", "0"))
	assert.ErrorIs(t, err, ErrBelowMinimumSize)
	_, pending := f.ledger.Order(order.ID)
	assert.True(t, pending)
}

func TestLimitCloseTakeProfit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.openReq("1000", "5", true)
	req.TakeProfit = d("11000")
	pos, err := f.ledger.OpenMarket(ctx, trader, req, f.att(t, "10000", "0"))
	require.NoError(t, err)

	_, err = f.ledger.LimitClose(ctx, botAddr, pos.ID, true, f.att(t, "10900", "0"))
	assert.ErrorIs(t, err, ErrConditionUnmet)

	// No stop-loss was set on this position.
	_, err = f.ledger.LimitClose(ctx, botAddr, pos.ID, false, f.att(t, "10900", "0"))
	assert.ErrorIs(t, err, ErrNoSuchLevel)

	// Crossed: the close settles at the stored level, not the attested
	// price past it.
	payout, err := f.ledger.LimitClose(ctx, botAddr, pos.ID, true, f.att(t, "11200", "0"))
	require.NoError(t, err)
	assert.True(t, payout.Equal(d("1500")), "got %s", payout)
	_, found := f.ledger.Position(pos.ID)
	assert.False(t, found)
}

func TestLimitCloseStopLoss(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.openReq("1000", "5", true)
	req.StopLoss = d("9500")
	pos, err := f.ledger.OpenMarket(ctx, trader, req, f.att(t, "10000", "0"))
	require.NoError(t, err)

	_, err = f.ledger.LimitClose(ctx, botAddr, pos.ID, false, f.att(t, "9600", "0"))
	assert.ErrorIs(t, err, ErrConditionUnmet)

	payout, err := f.ledger.LimitClose(ctx, botAddr, pos.ID, false, f.att(t, "9400", "0"))
	require.NoError(t, err)
	assert.True(t, payout.Equal(d("750")), "got %s", payout)
}

func TestLimitCloseShortDirections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := OpenRequest{
		Trader: trader, Asset: 1, Long: false,
		Margin: d("1000"), Leverage: d("5"), MarginAsset: usdc,
		TakeProfit: d("9000"), StopLoss: d("10500"),
	}
	pos, err := f.ledger.OpenMarket(ctx, trader, req, f.att(t, "10000", "0"))
	require.NoError(t, err)

	// Short take-profit wants the market at or under the level.
	_, err = f.ledger.LimitClose(ctx, botAddr, pos.ID, true, f.att(t, "9100", "0"))
	assert.ErrorIs(t, err, ErrConditionUnmet)

	payout, err := f.ledger.LimitClose(ctx, botAddr, pos.ID, true, f.att(t, "8900", "0"))
	require.NoError(t, err)
	assert.True(t, payout.Equal(d("1500")), "got %s", payout)
}
