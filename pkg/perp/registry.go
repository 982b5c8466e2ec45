package perp

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// HashReferralCode derives the canonical hash of a referral code string.
// Codes are case-insensitive.
func HashReferralCode(code string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(strings.ToLower(strings.TrimSpace(code))))
}

// ReferralCode records the owner of a registered code.
type ReferralCode struct {
	Owner     common.Address
	CreatedAt time.Time
	Active    bool
}

// ReferralRegistry maps code hashes to owners and locks each trader to the
// first code they ever used. The lock survives code deactivation: the
// attribution never changes, though a deactivated code stops earning fees.
type ReferralRegistry struct {
	mu       sync.RWMutex
	codes    map[common.Hash]*ReferralCode
	lockedTo map[common.Address]common.Hash // trader -> first code used
}

// NewReferralRegistry creates an empty registry.
func NewReferralRegistry() *ReferralRegistry {
	return &ReferralRegistry{
		codes:    make(map[common.Hash]*ReferralCode),
		lockedTo: make(map[common.Address]common.Hash),
	}
}

// Register creates or reactivates a code for an owner and returns its hash.
func (r *ReferralRegistry) Register(code string, owner common.Address, now time.Time) common.Hash {
	h := HashReferralCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.codes[h]; ok {
		existing.Active = true
		return h
	}
	r.codes[h] = &ReferralCode{Owner: owner, CreatedAt: now, Active: true}
	return h
}

// Deactivate disables a code. Locked attributions remain in place.
func (r *ReferralRegistry) Deactivate(h common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.codes[h]; ok {
		c.Active = false
	}
}

// Lock records the trader's referral code if none is recorded yet and
// reports whether this call created the lock. A later, different code
// never overwrites the stored one.
func (r *ReferralRegistry) Lock(trader common.Address, h common.Hash) bool {
	if h == (common.Hash{}) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, locked := r.lockedTo[trader]; locked {
		return false
	}
	if _, known := r.codes[h]; !known {
		return false
	}
	r.lockedTo[trader] = h
	return true
}

// LockedCode returns the trader's locked code hash, if any.
func (r *ReferralRegistry) LockedCode(trader common.Address) (common.Hash, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.lockedTo[trader]
	return h, ok
}

// ownerOfActive returns the owner of a registered, active code.
func (r *ReferralRegistry) ownerOfActive(h common.Hash) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[h]
	if !ok || !c.Active {
		return common.Address{}, false
	}
	return c.Owner, true
}

// ReferrerOf resolves the trader's locked code to its owner. It returns
// false when the trader has no lock or the locked code is deactivated.
func (r *ReferralRegistry) ReferrerOf(trader common.Address) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.lockedTo[trader]
	if !ok {
		return common.Address{}, false
	}
	c, ok := r.codes[h]
	if !ok || !c.Active {
		return common.Address{}, false
	}
	return c.Owner, true
}

// ProxyRegistry maps (owner, delegate) to an approval expiry. A delegate
// may initiate orders on the owner's behalf only while now < expiry.
type ProxyRegistry struct {
	mu        sync.RWMutex
	approvals map[common.Address]map[common.Address]time.Time
}

// NewProxyRegistry creates an empty registry.
func NewProxyRegistry() *ProxyRegistry {
	return &ProxyRegistry{approvals: make(map[common.Address]map[common.Address]time.Time)}
}

// Approve grants or extends a delegation until expiry.
func (r *ProxyRegistry) Approve(owner, delegate common.Address, expiry time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.approvals[owner] == nil {
		r.approvals[owner] = make(map[common.Address]time.Time)
	}
	r.approvals[owner][delegate] = expiry
}

// Revoke removes a delegation.
func (r *ProxyRegistry) Revoke(owner, delegate common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.approvals[owner], delegate)
}

// Authorize checks that caller may act for owner at the given instant.
// The owner always may; a delegate needs an unexpired approval.
func (r *ProxyRegistry) Authorize(owner, caller common.Address, now time.Time) error {
	if caller == owner {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	expiry, ok := r.approvals[owner][caller]
	if !ok {
		return ErrNotDelegated
	}
	if !now.Before(expiry) {
		return ErrProxyExpired
	}
	return nil
}
