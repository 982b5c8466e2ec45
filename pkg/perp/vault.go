package perp

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Permit is a delegated-approval input accepted alongside a deposit so
// custody can authorize the transfer without a prior separate approval
// step. The zero value signals "use the existing standing allowance".
type Permit struct {
	Deadline  uint64
	MaxAmount decimal.Decimal
	V         uint8
	R         common.Hash
	S         common.Hash
}

// IsZero reports whether the permit is the zero value.
func (p Permit) IsZero() bool {
	return p.Deadline == 0 && p.MaxAmount.IsZero() && p.V == 0 && p.R == (common.Hash{}) && p.S == (common.Hash{})
}

// Vault is the custody collaborator. The engine calls it synchronously
// inside a transition; a failed transfer aborts the transition.
type Vault interface {
	TransferIn(ctx context.Context, payer, asset common.Address, amount decimal.Decimal, permit Permit) error
	TransferOut(ctx context.Context, recipient, asset common.Address, amount decimal.Decimal) error
	IsTokenListed(asset common.Address) bool

	// Available reports the balance the vault can pay out for an asset.
	// The ledger consults it on the best-effort payout path.
	Available(asset common.Address) decimal.Decimal
}

// MemVault is an in-memory Vault used by tests and the daemon's paper
// mode. It tracks per-payer allowances and a per-asset liquidity pool.
type MemVault struct {
	mu         sync.Mutex
	listed     map[common.Address]bool
	liquidity  map[common.Address]decimal.Decimal                    // asset -> pool balance
	allowances map[common.Address]map[common.Address]decimal.Decimal // payer -> asset -> allowance
	paid       map[common.Address]map[common.Address]decimal.Decimal // recipient -> asset -> total paid out
}

// NewMemVault creates a vault listing the given assets.
func NewMemVault(assets ...common.Address) *MemVault {
	v := &MemVault{
		listed:     make(map[common.Address]bool, len(assets)),
		liquidity:  make(map[common.Address]decimal.Decimal),
		allowances: make(map[common.Address]map[common.Address]decimal.Decimal),
		paid:       make(map[common.Address]map[common.Address]decimal.Decimal),
	}
	for _, a := range assets {
		v.listed[a] = true
	}
	return v
}

// Fund seeds pool liquidity for an asset.
func (v *MemVault) Fund(asset common.Address, amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.liquidity[asset] = v.liquidity[asset].Add(amount)
}

// Approve grants a standing allowance for a payer.
func (v *MemVault) Approve(payer, asset common.Address, amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.allowances[payer] == nil {
		v.allowances[payer] = make(map[common.Address]decimal.Decimal)
	}
	v.allowances[payer][asset] = amount
}

// TransferIn implements Vault. A nonzero permit raises the payer's
// allowance to the permit amount before drawing on it.
func (v *MemVault) TransferIn(_ context.Context, payer, asset common.Address, amount decimal.Decimal, permit Permit) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.listed[asset] {
		return ErrTokenNotListed
	}
	if v.allowances[payer] == nil {
		v.allowances[payer] = make(map[common.Address]decimal.Decimal)
	}
	if !permit.IsZero() && permit.MaxAmount.GreaterThan(v.allowances[payer][asset]) {
		v.allowances[payer][asset] = permit.MaxAmount
	}
	if v.allowances[payer][asset].LessThan(amount) {
		return fmt.Errorf("%w: payer %s asset %s", ErrInsufficientAllowance, payer, asset)
	}
	v.allowances[payer][asset] = v.allowances[payer][asset].Sub(amount)
	v.liquidity[asset] = v.liquidity[asset].Add(amount)
	return nil
}

// TransferOut implements Vault.
func (v *MemVault) TransferOut(_ context.Context, recipient, asset common.Address, amount decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.listed[asset] {
		return ErrTokenNotListed
	}
	if v.liquidity[asset].LessThan(amount) {
		return fmt.Errorf("%w: asset %s needs %s has %s", ErrInsufficientLiquidity, asset, amount, v.liquidity[asset])
	}
	v.liquidity[asset] = v.liquidity[asset].Sub(amount)
	if v.paid[recipient] == nil {
		v.paid[recipient] = make(map[common.Address]decimal.Decimal)
	}
	v.paid[recipient][asset] = v.paid[recipient][asset].Add(amount)
	return nil
}

// PaidTo returns the total transferred out to a recipient for an asset.
func (v *MemVault) PaidTo(recipient, asset common.Address) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paid[recipient][asset]
}

// IsTokenListed implements Vault.
func (v *MemVault) IsTokenListed(asset common.Address) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listed[asset]
}

// Available implements Vault.
func (v *MemVault) Available(asset common.Address) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.liquidity[asset]
}
