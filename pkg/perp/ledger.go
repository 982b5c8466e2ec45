package perp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-dex/perp/pkg/metrics"
)

// FeeRecipients names the destinations of protocol fee shares.
type FeeRecipients struct {
	Stakers common.Address
	DAO     common.Address
}

// LedgerConfig wires the ledger's collaborators.
type LedgerConfig struct {
	Vault         Vault
	Config        ConfigStore
	Signers       SignerRegistry
	ReferenceFeed ReferencePriceFeed // optional
	Fees          *FeeSchedule
	Params        Params
	Recipients    FeeRecipients
	Logger        *zap.Logger     // optional
	Notifier      Notifier        // optional
	Metrics       *metrics.Engine // optional
	Clock         func() time.Time
}

// Ledger is the canonical store of resting orders and open positions and
// the sequencer of all state transitions. Every operation runs under one
// mutex: there is no partial visibility of a transition, and a transition
// that fails verification leaves the ledger unmodified.
type Ledger struct {
	mu sync.Mutex

	clock    func() time.Time
	log      *zap.Logger
	vault    Vault
	config   ConfigStore
	verifier *AttestationVerifier
	liq      *LiquidationEngine
	notifier Notifier
	metrics  *metrics.Engine

	Referrals *ReferralRegistry
	Proxies   *ProxyRegistry

	fees       *FeeSchedule
	params     Params
	recipients FeeRecipients

	oi        *OpenInterestBook
	positions map[uint64]*Position
	orders    map[uint64]*RestingOrder
	nextID    uint64
	lastCall  map[common.Address]time.Time
}

// NewLedger creates a ledger from its collaborators.
func NewLedger(c LedgerConfig) (*Ledger, error) {
	if c.Vault == nil || c.Config == nil || c.Signers == nil {
		return nil, fmt.Errorf("ledger requires vault, config store and signer registry")
	}
	if c.Fees == nil {
		return nil, fmt.Errorf("ledger requires a fee schedule")
	}
	if err := c.Params.Validate(); err != nil {
		return nil, fmt.Errorf("ledger params: %w", err)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Notifier == nil {
		c.Notifier = NopNotifier{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return &Ledger{
		clock:      c.Clock,
		log:        c.Logger,
		vault:      c.Vault,
		config:     c.Config,
		verifier:   NewAttestationVerifier(c.Signers, c.ReferenceFeed),
		liq:        NewLiquidationEngine(),
		notifier:   c.Notifier,
		metrics:    c.Metrics,
		Referrals:  NewReferralRegistry(),
		Proxies:    NewProxyRegistry(),
		fees:       c.Fees,
		params:     c.Params,
		recipients: c.Recipients,
		oi:         NewOpenInterestBook(),
		positions:  make(map[uint64]*Position),
		orders:     make(map[uint64]*RestingOrder),
		nextID:     1,
		lastCall:   make(map[common.Address]time.Time),
	}, nil
}

// SetFees installs a new fee schedule snapshot. In-flight transitions are
// unaffected; the next transition reads the new version.
func (l *Ledger) SetFees(f *FeeSchedule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fees = f
}

// SetParams installs new engine parameters.
func (l *Ledger) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = p
	return nil
}

// Position returns a copy of an open position.
func (l *Ledger) Position(id uint64) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Order returns a copy of a pending resting order.
func (l *Ledger) Order(id uint64) (RestingOrder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return RestingOrder{}, false
	}
	return *o, true
}

// OpenInterestFor returns the current open interest for an asset.
func (l *Ledger) OpenInterestFor(asset AssetID) OpenInterest {
	return l.oi.Get(asset)
}

// ---------------------------------------------------------------------------
// Internal helpers. All run with l.mu held.
// ---------------------------------------------------------------------------

func (l *Ledger) checkCallDelay(addr common.Address, now time.Time) error {
	if l.params.CallDelay <= 0 {
		return nil
	}
	if last, ok := l.lastCall[addr]; ok && now.Sub(last) < l.params.CallDelay {
		return ErrTooSoon
	}
	return nil
}

func (l *Ledger) recordCall(addr common.Address, now time.Time) {
	l.lastCall[addr] = now
}

func (l *Ledger) tradablePair(asset AssetID) (PairConfig, error) {
	pair, err := l.config.PairConfig(asset)
	if err != nil {
		return PairConfig{}, err
	}
	if !pair.Allowed {
		return PairConfig{}, ErrPairNotAllowed
	}
	if pair.Paused {
		return PairConfig{}, ErrPairPaused
	}
	return pair, nil
}

func (l *Ledger) verify(att PriceAttestation, asset AssetID, pair PairConfig, opt VerifyOptions) (decimal.Decimal, decimal.Decimal, error) {
	price, spread, err := l.verifier.Verify(att, asset, pair, opt)
	if err != nil {
		l.metrics.AttestationFailure()
	}
	return price, spread, err
}

// referralState resolves the referral situation for a trader submitting a
// code, without mutating the registry: the lock is committed only after
// the whole transition has succeeded.
type referralState struct {
	hash      common.Hash
	referrer  common.Address
	has       bool
	needsLock bool
}

func (l *Ledger) resolveReferral(trader common.Address, code string) referralState {
	var st referralState
	if ref, ok := l.Referrals.ReferrerOf(trader); ok {
		st.referrer = ref
		st.has = true
		if h, locked := l.Referrals.LockedCode(trader); locked {
			st.hash = h
		}
		return st
	}
	if _, locked := l.Referrals.LockedCode(trader); locked {
		// Locked to a deactivated code: attribution fixed, no fee share.
		return st
	}
	if code == "" {
		return st
	}
	h := HashReferralCode(code)
	if ref, ok := l.Referrals.ownerOfActive(h); ok {
		st.hash = h
		st.referrer = ref
		st.has = true
		st.needsLock = true
	}
	return st
}

func (l *Ledger) commitReferral(trader common.Address, st referralState, now time.Time) {
	if !st.needsLock {
		return
	}
	if l.Referrals.Lock(trader, st.hash) {
		l.notifier.Publish(Event{
			Type:   EvReferralLocked,
			Time:   now,
			Trader: trader,
		})
	}
}

// payOut transfers amount to recipient, paying the lesser of the amount
// owed and what the vault holds. A shortfall is the accounting
// inconsistency path: it is reported and the operation proceeds, because
// blocking would freeze unrelated positions sharing the pool.
func (l *Ledger) payOut(ctx context.Context, recipient, asset common.Address, amount decimal.Decimal, assetID AssetID, now time.Time) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	pay := amount
	if avail := l.vault.Available(asset); avail.LessThan(pay) {
		pay = avail
	}
	if pay.IsPositive() {
		if err := l.vault.TransferOut(ctx, recipient, asset, pay); err != nil {
			l.log.Error("vault payout failed", zap.Error(err), zap.String("recipient", recipient.Hex()))
			pay = decimal.Zero
		}
	}
	if pay.LessThan(amount) {
		shortfall := amount.Sub(pay)
		l.log.Error("accounting inconsistency: owed exceeds vault balance",
			zap.String("recipient", recipient.Hex()),
			zap.String("owed", amount.String()),
			zap.String("paid", pay.String()),
			zap.Uint32("asset", uint32(assetID)))
		l.metrics.AccountingInconsistency()
		l.notifier.Publish(Event{
			Type:   EvAccountingInconsistency,
			Time:   now,
			Asset:  assetID,
			Trader: recipient,
			Amount: shortfall,
		})
	}
	return pay
}

// distributeFees pays a fee split. Shares without a live destination fold
// into the stakers share so the total distributed stays constant.
func (l *Ledger) distributeFees(ctx context.Context, assetID AssetID, marginAsset common.Address, split FeeSplit, referrer, bot common.Address, now time.Time) {
	if referrer == (common.Address{}) && split.Referral.IsPositive() {
		split.Stakers = split.Stakers.Add(split.Referral)
		split.Referral = decimal.Zero
	}
	if bot == (common.Address{}) && split.Bot.IsPositive() {
		split.Stakers = split.Stakers.Add(split.Bot)
		split.Bot = decimal.Zero
	}

	recipients := make(map[string]string)
	pay := func(to common.Address, amount decimal.Decimal) {
		if amount.IsPositive() {
			paid := l.payOut(ctx, to, marginAsset, amount, assetID, now)
			recipients[to.Hex()] = paid.String()
		}
	}
	pay(l.recipients.Stakers, split.Stakers)
	pay(referrer, split.Referral)
	pay(l.recipients.DAO, split.DAO)
	pay(bot, split.Bot)

	total := split.Total()
	if total.IsPositive() {
		f, _ := total.Float64()
		l.metrics.FeeDistributed(f)
		l.notifier.Publish(Event{
			Type:       EvFeeDistributed,
			Time:       now,
			Asset:      assetID,
			Fee:        &split,
			Recipients: recipients,
		})
	}
}

// ---------------------------------------------------------------------------
// Market open
// ---------------------------------------------------------------------------

// OpenRequest describes a new position or resting order.
type OpenRequest struct {
	Trader       common.Address
	Asset        AssetID
	Long         bool
	Margin       decimal.Decimal
	Leverage     decimal.Decimal
	TakeProfit   decimal.Decimal
	StopLoss     decimal.Decimal
	MarginAsset  common.Address
	ReferralCode string
	Permit       Permit
}

// OpenMarket verifies the attestation, applies the spread to compute the
// guaranteed execution price, charges the open fee and creates a position.
// caller must be the trader or an approved delegate.
func (l *Ledger) OpenMarket(ctx context.Context, caller common.Address, req OpenRequest, att PriceAttestation) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	fees := l.fees
	params := l.params

	if err := l.Proxies.Authorize(req.Trader, caller, now); err != nil {
		return Position{}, err
	}
	if err := l.checkCallDelay(req.Trader, now); err != nil {
		return Position{}, err
	}
	pair, err := l.tradablePair(req.Asset)
	if err != nil {
		return Position{}, err
	}
	price, spread, err := l.verify(att, req.Asset, pair, VerifyOptions{
		Caller:        caller,
		OpensExposure: true,
		Now:           now,
		Window:        params.AttestationWindow,
	})
	if err != nil {
		return Position{}, err
	}
	if err := ValidateOpen(req.Margin, req.Leverage, req.MarginAsset, pair, l.vault); err != nil {
		return Position{}, err
	}

	fill := SpreadPrice(price, spread, req.Long)
	ref := l.resolveReferral(req.Trader, req.ReferralCode)
	notional := req.Margin.Mul(req.Leverage)
	fee := fees.Compute(notional, true, ref.has)

	margin := req.Margin.Sub(fee.Total())
	if !margin.IsPositive() {
		return Position{}, ErrBelowMinimumSize
	}
	storedNotional := margin.Mul(req.Leverage)
	// The fee came out of the margin; the position that actually books
	// must itself clear the minimum.
	if storedNotional.LessThan(pair.MinNotional) {
		return Position{}, ErrBelowMinimumSize
	}

	if err := l.oi.Add(req.Asset, req.Long, storedNotional, pair.OpenInterestCap); err != nil {
		return Position{}, err
	}
	if err := l.vault.TransferIn(ctx, req.Trader, req.MarginAsset, req.Margin, req.Permit); err != nil {
		l.oi.Remove(req.Asset, req.Long, storedNotional)
		return Position{}, err
	}

	pos := &Position{
		ID:          l.nextID,
		Owner:       req.Trader,
		Asset:       req.Asset,
		Long:        req.Long,
		Margin:      margin,
		Leverage:    req.Leverage,
		OpenPrice:   fill,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
		Interest:    decimal.Zero,
		FundingTime: now,
		OpenTime:    now,
		MarginAsset: req.MarginAsset,
		Referral:    ref.hash,
	}
	l.nextID++
	l.positions[pos.ID] = pos
	l.recordCall(req.Trader, now)
	l.commitReferral(req.Trader, ref, now)

	l.distributeFees(ctx, req.Asset, req.MarginAsset, fee, ref.referrer, common.Address{}, now)
	l.metrics.PositionOpened()
	l.notifier.Publish(Event{
		Type:     EvPositionOpened,
		Time:     now,
		Asset:    req.Asset,
		Position: pos.ID,
		Trader:   req.Trader,
		Caller:   caller,
		Price:    fill,
		Amount:   margin,
	})
	l.log.Info("position opened",
		zap.Uint64("id", pos.ID),
		zap.Uint32("asset", uint32(req.Asset)),
		zap.Bool("long", req.Long),
		zap.String("margin", margin.String()),
		zap.String("leverage", req.Leverage.String()),
		zap.String("openPrice", fill.String()))
	return *pos, nil
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

// ClosePosition closes fraction of a position at the attested price with
// spread applied against the trader. A fraction of 1 removes the position.
func (l *Ledger) ClosePosition(ctx context.Context, caller common.Address, id uint64, fraction decimal.Decimal, att PriceAttestation) (decimal.Decimal, error) {
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
	if err := l.Proxies.Authorize(pos.Owner, caller, now); err != nil {
		return decimal.Zero, err
	}
	if err := l.checkCallDelay(pos.Owner, now); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateCloseFraction(fraction); err != nil {
		return decimal.Zero, err
	}
	pair, err := l.config.PairConfig(pos.Asset)
	if err != nil {
		return decimal.Zero, err
	}
	price, spread, err := l.verify(att, pos.Asset, pair, VerifyOptions{
		Caller: caller,
		Now:    now,
		Window: l.params.AttestationWindow,
	})
	if err != nil {
		return decimal.Zero, err
	}

	full := fraction.Equal(decimal.NewFromInt(1))
	if !full {
		remaining := pos.Notional().Mul(decimal.NewFromInt(1).Sub(fraction))
		if remaining.LessThan(pair.MinNotional) {
			return decimal.Zero, ErrBelowMinimumSize
		}
	}

	AccrueFunding(pos, pair, now)
	exit := SpreadPrice(price, spread, !pos.Long)
	payout := l.settleClose(ctx, pos, pair, exit, fraction, common.Address{}, now)

	l.recordCall(pos.Owner, now)
	if full {
		delete(l.positions, id)
		l.metrics.PositionClosed()
		l.notifier.Publish(Event{
			Type:     EvPositionClosed,
			Time:     now,
			Asset:    pos.Asset,
			Position: id,
			Trader:   pos.Owner,
			Caller:   caller,
			Price:    exit,
			Amount:   payout,
		})
	} else {
		l.notifier.Publish(Event{
			Type:     EvPositionPartiallyClosed,
			Time:     now,
			Asset:    pos.Asset,
			Position: id,
			Trader:   pos.Owner,
			Caller:   caller,
			Price:    exit,
			Amount:   payout,
		})
	}
	return payout, nil
}

// settleClose computes and pays out the close of fraction of pos at exit
// price, charging the close fee and shrinking the books. The caller has
// already accrued funding and validated the transition.
func (l *Ledger) settleClose(ctx context.Context, pos *Position, pair PairConfig, exit, fraction decimal.Decimal, bot common.Address, now time.Time) decimal.Decimal {
	closedNotional := pos.Notional().Mul(fraction)
	payout, _ := ComputePnL(pos, exit, fraction, l.params.MaxWinMultiple)

	referrer, hasRef := l.Referrals.ReferrerOf(pos.Owner)
	fee := l.fees.Compute(closedNotional, false, hasRef)
	net := payout.Sub(fee.Total())
	if net.IsNegative() {
		net = decimal.Zero
	}

	l.distributeFees(ctx, pos.Asset, pos.MarginAsset, fee, referrer, bot, now)
	l.payOut(ctx, pos.Owner, pos.MarginAsset, net, pos.Asset, now)

	l.oi.Remove(pos.Asset, pos.Long, closedNotional)
	if !fraction.Equal(decimal.NewFromInt(1)) {
		keep := decimal.NewFromInt(1).Sub(fraction)
		pos.Margin = pos.Margin.Mul(keep)
		pos.Interest = pos.Interest.Mul(keep)
	}
	return net
}

// ---------------------------------------------------------------------------
// Margin adjustments
// ---------------------------------------------------------------------------

// AddMargin tops up a position's collateral, lowering its leverage while
// holding notional constant. Accumulated interest carries forward.
func (l *Ledger) AddMargin(ctx context.Context, caller common.Address, id uint64, amount decimal.Decimal, permit Permit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	pos, ok := l.positions[id]
	if !ok {
		if _, pending := l.orders[id]; pending {
			return ErrOrderPending
		}
		return ErrPositionNotFound
	}
	if err := l.Proxies.Authorize(pos.Owner, caller, now); err != nil {
		return err
	}
	if err := l.checkCallDelay(pos.Owner, now); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrBelowMinimumSize
	}
	pair, err := l.config.PairConfig(pos.Asset)
	if err != nil {
		return err
	}

	AccrueFunding(pos, pair, now)
	notional := pos.Notional()
	newMargin := pos.Margin.Add(amount)
	newLeverage := notional.Div(newMargin)
	if newLeverage.LessThan(pair.MinLeverage) {
		return ErrLeverageOutOfRange
	}
	if err := l.vault.TransferIn(ctx, pos.Owner, pos.MarginAsset, amount, permit); err != nil {
		return err
	}

	pos.Margin = newMargin
	pos.Leverage = newLeverage
	l.recordCall(pos.Owner, now)
	l.notifier.Publish(Event{
		Type:     EvMarginAdded,
		Time:     now,
		Asset:    pos.Asset,
		Position: id,
		Trader:   pos.Owner,
		Caller:   caller,
		Amount:   amount,
	})
	return nil
}

// RemoveMargin withdraws collateral from a position, raising its leverage
// while holding notional constant. The attested price guards against
// withdrawing into the liquidation band.
func (l *Ledger) RemoveMargin(ctx context.Context, caller common.Address, id uint64, amount decimal.Decimal, att PriceAttestation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	pos, ok := l.positions[id]
	if !ok {
		if _, pending := l.orders[id]; pending {
			return ErrOrderPending
		}
		return ErrPositionNotFound
	}
	if err := l.Proxies.Authorize(pos.Owner, caller, now); err != nil {
		return err
	}
	if err := l.checkCallDelay(pos.Owner, now); err != nil {
		return err
	}
	if !amount.IsPositive() || amount.GreaterThanOrEqual(pos.Margin) {
		return ErrLeverageOutOfRange
	}
	pair, err := l.config.PairConfig(pos.Asset)
	if err != nil {
		return err
	}
	// Withdrawal opens no exposure: a market-closed attestation still
	// prices the liquidation-band check below.
	price, _, err := l.verify(att, pos.Asset, pair, VerifyOptions{
		Caller: caller,
		Now:    now,
		Window: l.params.AttestationWindow,
	})
	if err != nil {
		return err
	}

	AccrueFunding(pos, pair, now)
	notional := pos.Notional()
	newMargin := pos.Margin.Sub(amount)
	newLeverage := notional.Div(newMargin)
	if newLeverage.GreaterThan(pair.MaxLeverage) {
		return ErrLeverageOutOfRange
	}

	candidate := *pos
	candidate.Margin = newMargin
	candidate.Leverage = newLeverage
	if l.liq.IsLiquidatable(&candidate, pair, l.params.LiquidationThreshold, price, now) {
		return ErrLiquidationThreshold
	}
	if err := l.vault.TransferOut(ctx, pos.Owner, pos.MarginAsset, amount); err != nil {
		return err
	}

	pos.Margin = newMargin
	pos.Leverage = newLeverage
	l.recordCall(pos.Owner, now)
	l.notifier.Publish(Event{
		Type:     EvMarginRemoved,
		Time:     now,
		Asset:    pos.Asset,
		Position: id,
		Trader:   pos.Owner,
		Caller:   caller,
		Amount:   amount,
	})
	return nil
}

// AddToPosition grows a position with fresh margin at the attested price.
// The open price becomes the notional-weighted average of the old and new
// fills; leverage is held at the position's current value; pending funding
// debt carries forward.
func (l *Ledger) AddToPosition(ctx context.Context, caller common.Address, id uint64, addMargin decimal.Decimal, att PriceAttestation, permit Permit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	fees := l.fees
	pos, ok := l.positions[id]
	if !ok {
		if _, pending := l.orders[id]; pending {
			return ErrOrderPending
		}
		return ErrPositionNotFound
	}
	if err := l.Proxies.Authorize(pos.Owner, caller, now); err != nil {
		return err
	}
	if err := l.checkCallDelay(pos.Owner, now); err != nil {
		return err
	}
	if !addMargin.IsPositive() {
		return ErrBelowMinimumSize
	}
	pair, err := l.tradablePair(pos.Asset)
	if err != nil {
		return err
	}
	price, spread, err := l.verify(att, pos.Asset, pair, VerifyOptions{
		Caller:        caller,
		OpensExposure: true,
		Now:           now,
		Window:        l.params.AttestationWindow,
	})
	if err != nil {
		return err
	}
	if err := ValidateOpen(addMargin, pos.Leverage, pos.MarginAsset, pair, l.vault); err != nil {
		return err
	}

	AccrueFunding(pos, pair, now)
	fill := SpreadPrice(price, spread, pos.Long)

	_, hasRef := l.Referrals.ReferrerOf(pos.Owner)
	fee := fees.Compute(addMargin.Mul(pos.Leverage), true, hasRef)
	netMargin := addMargin.Sub(fee.Total())
	if !netMargin.IsPositive() {
		return ErrBelowMinimumSize
	}
	addedNotional := netMargin.Mul(pos.Leverage)

	if err := l.oi.Add(pos.Asset, pos.Long, addedNotional, pair.OpenInterestCap); err != nil {
		return err
	}
	if err := l.vault.TransferIn(ctx, pos.Owner, pos.MarginAsset, addMargin, permit); err != nil {
		l.oi.Remove(pos.Asset, pos.Long, addedNotional)
		return err
	}

	Combine(pos, netMargin, addedNotional, fill)
	l.recordCall(pos.Owner, now)

	referrer, _ := l.Referrals.ReferrerOf(pos.Owner)
	l.distributeFees(ctx, pos.Asset, pos.MarginAsset, fee, referrer, common.Address{}, now)
	l.notifier.Publish(Event{
		Type:     EvPositionIncreased,
		Time:     now,
		Asset:    pos.Asset,
		Position: id,
		Trader:   pos.Owner,
		Caller:   caller,
		Price:    fill,
		Amount:   netMargin,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Liquidation
// ---------------------------------------------------------------------------

// LiquidationPriceOf returns the liquidation bound for a position with
// funding projected to now.
func (l *Ledger) LiquidationPriceOf(id uint64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[id]
	if !ok {
		return decimal.Zero, ErrPositionNotFound
	}
	pair, err := l.config.PairConfig(pos.Asset)
	if err != nil {
		return decimal.Zero, err
	}
	return l.liq.LiquidationPrice(pos, pair, l.params.LiquidationThreshold, l.clock()), nil
}

// Liquidate fully closes an underwater position at the attested price.
// The caller earns the configured liquidation reward, bounded by what the
// position still holds; the remainder is routed like a close fee.
func (l *Ledger) Liquidate(ctx context.Context, caller common.Address, id uint64, att PriceAttestation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	pos, ok := l.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	pair, err := l.config.PairConfig(pos.Asset)
	if err != nil {
		return err
	}
	price, _, err := l.verify(att, pos.Asset, pair, VerifyOptions{
		Caller: caller,
		Now:    now,
		Window: l.params.AttestationWindow,
	})
	if err != nil {
		return err
	}

	AccrueFunding(pos, pair, now)
	if !l.liq.IsLiquidatable(pos, pair, l.params.LiquidationThreshold, price, now) {
		return ErrNotLiquidatable
	}

	// Residual value left in the position at the attested price. The
	// trader receives nothing; reward and remainder come out of this.
	residual := pos.Margin.Add(pos.Interest).Add(RawPnL(pos, price, decimal.NewFromInt(1)))
	if residual.IsNegative() {
		residual = decimal.Zero
	}
	reward := l.params.LiquidationReward.Mul(pos.Margin)
	if reward.GreaterThan(residual) {
		reward = residual
	}
	remainder := residual.Sub(reward)

	l.payOut(ctx, caller, pos.MarginAsset, reward, pos.Asset, now)
	l.routeRemainder(ctx, pos, remainder, now)

	l.oi.Remove(pos.Asset, pos.Long, pos.Notional())
	delete(l.positions, id)
	l.metrics.PositionLiquidated()
	l.notifier.Publish(Event{
		Type:     EvPositionLiquidated,
		Time:     now,
		Asset:    pos.Asset,
		Position: id,
		Trader:   pos.Owner,
		Caller:   caller,
		Price:    price,
		Amount:   reward,
	})
	l.log.Warn("position liquidated",
		zap.Uint64("id", id),
		zap.String("owner", pos.Owner.Hex()),
		zap.String("price", price.String()),
		zap.String("reward", reward.String()))
	return nil
}

// routeRemainder splits what liquidation leaves behind between stakers and
// DAO in proportion to their close-table weights. With both weights zero
// the whole remainder goes to stakers.
func (l *Ledger) routeRemainder(ctx context.Context, pos *Position, remainder decimal.Decimal, now time.Time) {
	if !remainder.IsPositive() {
		return
	}
	table := l.fees.Close
	weights := table.Stakers.Add(table.DAO)
	split := FeeSplit{Stakers: remainder, Referral: decimal.Zero, DAO: decimal.Zero, Bot: decimal.Zero}
	if weights.IsPositive() {
		split.DAO = remainder.Mul(table.DAO).Div(weights)
		split.Stakers = remainder.Sub(split.DAO)
	}
	l.distributeFees(ctx, pos.Asset, pos.MarginAsset, split, common.Address{}, common.Address{}, now)
}
