package perp

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AssetID identifies a synthetic trading pair (e.g. BTC/USD).
type AssetID uint32

// OrderKind distinguishes resting order trigger semantics.
type OrderKind int

const (
	LimitOrder OrderKind = iota
	StopOrder
)

func (k OrderKind) String() string {
	switch k {
	case LimitOrder:
		return "limit"
	case StopOrder:
		return "stop"
	default:
		return "unknown"
	}
}

// Position is an open leveraged position. All monetary fields are in the
// margin asset's accounting unit; prices are quote-currency fixed-point.
// Interest is signed: negative means the trader owes funding, positive
// means funding is owed to the trader.
type Position struct {
	ID          uint64
	Owner       common.Address
	Asset       AssetID
	Long        bool
	Margin      decimal.Decimal
	Leverage    decimal.Decimal
	OpenPrice   decimal.Decimal
	TakeProfit  decimal.Decimal // zero = unset
	StopLoss    decimal.Decimal // zero = unset
	Interest    decimal.Decimal
	FundingTime time.Time // last funding checkpoint
	OpenTime    time.Time
	MarginAsset common.Address
	Referral    common.Hash // zero = no referral code supplied
}

// Notional returns margin x leverage, the economic size of the position.
func (p *Position) Notional() decimal.Decimal {
	return p.Margin.Mul(p.Leverage)
}

// RestingOrder is a limit or stop order waiting for execution. Collateral
// is held in custody from placement until execution or cancellation.
type RestingOrder struct {
	ID          uint64
	Owner       common.Address
	Asset       AssetID
	Long        bool
	Kind        OrderKind
	Trigger     decimal.Decimal
	Margin      decimal.Decimal
	Leverage    decimal.Decimal
	TakeProfit  decimal.Decimal
	StopLoss    decimal.Decimal
	PlacedTime  time.Time
	MarginAsset common.Address
	Referral    common.Hash
}

// Notional returns margin x leverage for the order were it executed.
func (o *RestingOrder) Notional() decimal.Decimal {
	return o.Margin.Mul(o.Leverage)
}

// OpenInterest tracks aggregate notional per side for one asset.
type OpenInterest struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// OpenInterestBook owns the per-asset open interest aggregates. All
// mutation goes through Add/Remove so the non-negativity invariant and the
// per-side cap are enforced in one place.
type OpenInterestBook struct {
	mu      sync.RWMutex
	byAsset map[AssetID]*OpenInterest
}

// NewOpenInterestBook creates an empty open interest book.
func NewOpenInterestBook() *OpenInterestBook {
	return &OpenInterestBook{byAsset: make(map[AssetID]*OpenInterest)}
}

// Add increases one side's open interest by notional, enforcing cap.
// A zero cap means uncapped.
func (b *OpenInterestBook) Add(asset AssetID, long bool, notional, cap decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	oi := b.byAsset[asset]
	if oi == nil {
		oi = &OpenInterest{Long: decimal.Zero, Short: decimal.Zero}
		b.byAsset[asset] = oi
	}
	side := &oi.Long
	if !long {
		side = &oi.Short
	}
	next := side.Add(notional)
	if cap.IsPositive() && next.GreaterThan(cap) {
		return ErrOpenInterestCap
	}
	*side = next
	return nil
}

// Remove decreases one side's open interest by notional. The aggregate is
// clamped at zero; rounding dust from proportional closes must not drive
// the counter negative.
func (b *OpenInterestBook) Remove(asset AssetID, long bool, notional decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oi := b.byAsset[asset]
	if oi == nil {
		return
	}
	side := &oi.Long
	if !long {
		side = &oi.Short
	}
	next := side.Sub(notional)
	if next.IsNegative() {
		next = decimal.Zero
	}
	*side = next
}

// Get returns a copy of the current open interest for an asset.
func (b *OpenInterestBook) Get(asset AssetID) OpenInterest {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if oi := b.byAsset[asset]; oi != nil {
		return *oi
	}
	return OpenInterest{Long: decimal.Zero, Short: decimal.Zero}
}
