package perp

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashReferralCodeCaseInsensitive(t *testing.T) {
	assert.Equal(t, HashReferralCode("ALICE"), HashReferralCode("alice"))
	assert.Equal(t, HashReferralCode("  alice "), HashReferralCode("alice"))
	assert.NotEqual(t, HashReferralCode("alice"), HashReferralCode("bob"))
}

func TestReferralLockFirstWins(t *testing.T) {
	reg := NewReferralRegistry()
	now := time.Unix(1_700_000_000, 0)
	first := reg.Register("alice", trader2, now)
	second := reg.Register("bob", botAddr, now)

	require.True(t, reg.Lock(trader, first))

	// A different code never displaces the stored one.
	assert.False(t, reg.Lock(trader, second))
	h, ok := reg.LockedCode(trader)
	require.True(t, ok)
	assert.Equal(t, first, h)

	ref, ok := reg.ReferrerOf(trader)
	require.True(t, ok)
	assert.Equal(t, trader2, ref)
}

func TestReferralLockRejectsUnknownCode(t *testing.T) {
	reg := NewReferralRegistry()
	assert.False(t, reg.Lock(trader, HashReferralCode("ghost")))
	assert.False(t, reg.Lock(trader, common.Hash{}))
	_, ok := reg.LockedCode(trader)
	assert.False(t, ok)
}

func TestReferralDeactivationKeepsLock(t *testing.T) {
	reg := NewReferralRegistry()
	now := time.Unix(1_700_000_000, 0)
	h := reg.Register("alice", trader2, now)
	require.True(t, reg.Lock(trader, h))

	reg.Deactivate(h)

	// Attribution stays, fee share stops.
	locked, ok := reg.LockedCode(trader)
	require.True(t, ok)
	assert.Equal(t, h, locked)
	_, earning := reg.ReferrerOf(trader)
	assert.False(t, earning)

	// Reactivation resumes the fee share under the same lock.
	reg.Register("alice", trader2, now)
	ref, earning := reg.ReferrerOf(trader)
	require.True(t, earning)
	assert.Equal(t, trader2, ref)
}

func TestProxyAuthorize(t *testing.T) {
	reg := NewProxyRegistry()
	now := time.Unix(1_700_000_000, 0)

	// Owners always pass; strangers never do.
	assert.NoError(t, reg.Authorize(trader, trader, now))
	assert.ErrorIs(t, reg.Authorize(trader, botAddr, now), ErrNotDelegated)

	reg.Approve(trader, botAddr, now.Add(time.Hour))
	assert.NoError(t, reg.Authorize(trader, botAddr, now))

	// Expiry is exclusive: at the deadline the approval is dead.
	assert.ErrorIs(t, reg.Authorize(trader, botAddr, now.Add(time.Hour)), ErrProxyExpired)

	reg.Approve(trader, botAddr, now.Add(2*time.Hour))
	assert.NoError(t, reg.Authorize(trader, botAddr, now.Add(time.Hour)))

	reg.Revoke(trader, botAddr)
	assert.ErrorIs(t, reg.Authorize(trader, botAddr, now), ErrNotDelegated)
}
