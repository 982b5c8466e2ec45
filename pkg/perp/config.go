package perp

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PairConfig is the per-asset trading configuration. Values are read once
// at the start of a ledger transition; a config swap mid-flight never
// produces a partial application.
type PairConfig struct {
	Asset       AssetID
	MinLeverage decimal.Decimal
	MaxLeverage decimal.Decimal
	MinNotional decimal.Decimal

	// FundingAPR is the annualized funding rate applied per second. A
	// positive rate charges longs and credits shorts; negative flips it.
	FundingAPR decimal.Decimal

	// OpenInterestCap bounds aggregate notional per side. Zero = uncapped.
	OpenInterestCap decimal.Decimal

	// HasReferenceFeed enables the reference-price band check on
	// attestations for this asset.
	HasReferenceFeed bool

	// ReferenceBand is the allowed fractional deviation of an attested
	// price from the reference value (e.g. 0.02 for 2%).
	ReferenceBand decimal.Decimal

	// AllowedMarginAssets lists accepted collateral tokens.
	AllowedMarginAssets []common.Address

	Allowed bool
	Paused  bool
}

// MarginAssetAllowed reports whether the asset is accepted as collateral.
func (c PairConfig) MarginAssetAllowed(a common.Address) bool {
	for _, m := range c.AllowedMarginAssets {
		if m == a {
			return true
		}
	}
	return false
}

// Params are engine-wide knobs. Like fee tables they are swapped as a
// whole snapshot and read once per transition.
type Params struct {
	// LiquidationThreshold is the fraction of margin that must remain
	// before a position becomes liquidatable (e.g. 0.10).
	LiquidationThreshold decimal.Decimal

	// LiquidationReward is the fraction of the liquidated margin paid to
	// the caller who triggers the liquidation.
	LiquidationReward decimal.Decimal

	// MaxWinMultiple caps payout at margin x multiple. Zero = uncapped.
	MaxWinMultiple decimal.Decimal

	// TriggerBand is the maximum fractional deviation of the attested
	// price from a resting order's trigger at execution time.
	TriggerBand decimal.Decimal

	// AttestationWindow bounds how far in the future validTo may lie.
	AttestationWindow time.Duration

	// ExecutionDelay is the minimum rest time before a resting order may
	// be executed.
	ExecutionDelay time.Duration

	// CallDelay is the minimum spacing between state-changing calls from
	// one address, curbing oracle-staleness games.
	CallDelay time.Duration
}

// Validate rejects parameter sets that could not be safely applied.
func (p Params) Validate() error {
	if p.LiquidationThreshold.IsNegative() || p.LiquidationThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("liquidation threshold must be in [0, 1): %s", p.LiquidationThreshold)
	}
	if p.LiquidationReward.IsNegative() || p.LiquidationReward.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("liquidation reward must be in [0, 1]: %s", p.LiquidationReward)
	}
	if p.MaxWinMultiple.IsNegative() {
		return fmt.Errorf("max win multiple must not be negative: %s", p.MaxWinMultiple)
	}
	return nil
}

// ConfigStore hands out pair configuration snapshots.
type ConfigStore interface {
	PairConfig(asset AssetID) (PairConfig, error)
}

// SignerRegistry answers whether an identity is a registered price node.
type SignerRegistry interface {
	IsAuthorizedSigner(addr common.Address) bool
}

// ReferencePriceFeed supplies an external reference price for sanity
// banding attested prices. A zero price means "reference unavailable".
type ReferencePriceFeed interface {
	ReferencePrice(asset AssetID) (decimal.Decimal, error)
}

// StaticConfigStore is a mutex-guarded in-memory ConfigStore used by the
// daemon and tests.
type StaticConfigStore struct {
	mu    sync.RWMutex
	pairs map[AssetID]PairConfig
}

// NewStaticConfigStore creates a store seeded with the given pairs.
func NewStaticConfigStore(pairs ...PairConfig) *StaticConfigStore {
	s := &StaticConfigStore{pairs: make(map[AssetID]PairConfig, len(pairs))}
	for _, p := range pairs {
		s.pairs[p.Asset] = p
	}
	return s
}

// SetPair installs or replaces a pair configuration.
func (s *StaticConfigStore) SetPair(cfg PairConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[cfg.Asset] = cfg
}

// PairConfig implements ConfigStore.
func (s *StaticConfigStore) PairConfig(asset AssetID) (PairConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.pairs[asset]
	if !ok {
		return PairConfig{}, fmt.Errorf("%w: asset %d", ErrPairNotAllowed, asset)
	}
	return cfg, nil
}

// StaticSignerRegistry is an in-memory signer set.
type StaticSignerRegistry struct {
	mu      sync.RWMutex
	signers map[common.Address]bool
}

// NewStaticSignerRegistry creates a registry with the given signers.
func NewStaticSignerRegistry(signers ...common.Address) *StaticSignerRegistry {
	r := &StaticSignerRegistry{signers: make(map[common.Address]bool, len(signers))}
	for _, s := range signers {
		r.signers[s] = true
	}
	return r
}

// Register adds a signer to the set.
func (r *StaticSignerRegistry) Register(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[addr] = true
}

// Deregister removes a signer from the set.
func (r *StaticSignerRegistry) Deregister(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.signers, addr)
}

// IsAuthorizedSigner implements SignerRegistry.
func (r *StaticSignerRegistry) IsAuthorizedSigner(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.signers[addr]
}
