package perp

import "errors"

// Authorization errors
var (
	ErrUnknownSigner      = errors.New("signer is not a registered price node")
	ErrUnauthorizedSigner = errors.New("signer may not attest prices for its own trades")
	ErrInvalidAttestation = errors.New("attestation signature does not match signer")
	ErrNotDelegated       = errors.New("caller is not an approved delegate")
	ErrProxyExpired       = errors.New("proxy approval has expired")
)

// Validation errors
var (
	ErrExpiredAttestation    = errors.New("attestation expired")
	ErrFutureAttestation     = errors.New("attestation validity too far in the future")
	ErrAssetMismatch         = errors.New("attestation asset does not match order asset")
	ErrNoPrice               = errors.New("price is zero")
	ErrMarketClosed          = errors.New("market is closed")
	ErrPriceMismatch         = errors.New("attested price outside reference band")
	ErrPriceOutOfRange       = errors.New("attested price outside trigger band")
	ErrLeverageOutOfRange    = errors.New("leverage outside allowed range")
	ErrBelowMinimumSize      = errors.New("notional below pair minimum")
	ErrBadClosePercent       = errors.New("close fraction must be in (0, 1]")
	ErrUnapprovedMarginAsset = errors.New("margin asset not approved for pair")
	ErrTokenNotListed        = errors.New("margin asset not listed in vault")
	ErrPairNotAllowed        = errors.New("pair not allowed for trading")
	ErrPairPaused            = errors.New("pair is paused")
)

// State errors
var (
	ErrOrderNotPending      = errors.New("order is no longer pending")
	ErrOrderPending         = errors.New("order has not been executed yet")
	ErrPositionNotFound     = errors.New("position not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotLiquidatable      = errors.New("position is not liquidatable")
	ErrOrderConditionUnmet  = errors.New("order trigger condition not met")
	ErrConditionUnmet       = errors.New("price has not crossed the configured level")
	ErrNoSuchLevel          = errors.New("take-profit or stop-loss level not set")
	ErrLiquidationThreshold = errors.New("position would fall inside the liquidation band")
	ErrTooSoon              = errors.New("minimum delay between calls not elapsed")
	ErrExecutionDelay       = errors.New("order execution delay not elapsed")
)

// Resource errors
var (
	ErrInsufficientAllowance = errors.New("insufficient allowance for transfer")
	ErrInsufficientLiquidity = errors.New("insufficient vault liquidity")
	ErrOpenInterestCap       = errors.New("open interest cap exceeded")
)
