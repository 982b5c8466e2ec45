package perp

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// PriceAttestation is a signed statement of an asset's price from a
// registered price node, valid until ValidTo. It substitutes for a live
// oracle connection: callers submit attestations alongside trades and the
// engine verifies them synchronously before any state mutation.
type PriceAttestation struct {
	Signer       common.Address  `json:"signer"`
	Asset        AssetID         `json:"asset"`
	Price        decimal.Decimal `json:"price"`
	Spread       decimal.Decimal `json:"spread"`
	ValidTo      time.Time       `json:"validTo"`
	MarketClosed bool            `json:"marketClosed"`

	// Signature is a 65-byte [R || S || V] secp256k1 signature over
	// SigningHash().
	Signature []byte `json:"signature"`
}

// attestationDecimals is the fixed-point scale used in the canonical wire
// encoding of price and spread.
const attestationDecimals = 18

// encodeDecimal is the canonical fixed-width encoding of a decimal: one
// sign byte followed by the 32-byte magnitude at the attestation scale.
// The explicit sign byte keeps negated values from sharing a digest with
// their positive counterparts.
func encodeDecimal(d decimal.Decimal) []byte {
	out := make([]byte, 33)
	if d.IsNegative() {
		out[0] = 1
	}
	d.Shift(attestationDecimals).BigInt().FillBytes(out[1:])
	return out
}

// canonicalScale reports whether d is exactly representable at the
// attestation's fixed-point scale. Values with more precision would lose
// digits in the canonical encoding and could alias another value's digest.
func canonicalScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(attestationDecimals))
}

// SigningHash returns the keccak256 digest of the canonical encoding of
// (signer, asset, price, spread, validTo, marketClosed). The encoding is
// fixed-width and sign-aware so no two distinct attestations share a
// digest.
func (a PriceAttestation) SigningHash() common.Hash {
	buf := make([]byte, 0, 20+4+33+33+8+1)
	buf = append(buf, a.Signer.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(a.Asset))
	buf = append(buf, encodeDecimal(a.Price)...)
	buf = append(buf, encodeDecimal(a.Spread)...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.ValidTo.Unix()))
	if a.MarketClosed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return common.Hash(ethcrypto.Keccak256Hash(buf))
}

// SignAttestation fills in Signer and Signature from the given key. Used
// by price nodes and by tests with throwaway keys.
func SignAttestation(a PriceAttestation, key *ecdsa.PrivateKey) (PriceAttestation, error) {
	a.Signer = ethcrypto.PubkeyToAddress(key.PublicKey)
	hash := a.SigningHash()
	sig, err := ethcrypto.Sign(hash.Bytes(), key)
	if err != nil {
		return PriceAttestation{}, fmt.Errorf("sign attestation: %w", err)
	}
	a.Signature = sig
	return a, nil
}

// recoverSigner returns the address that produced the signature.
func (a PriceAttestation) recoverSigner() (common.Address, error) {
	if len(a.Signature) != ethcrypto.SignatureLength {
		return common.Address{}, ErrInvalidAttestation
	}
	pub, err := ethcrypto.SigToPub(a.SigningHash().Bytes(), a.Signature)
	if err != nil {
		return common.Address{}, ErrInvalidAttestation
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// AttestationVerifier validates price attestations against the registered
// signer set, a freshness window, and an optional reference-price band.
// Verification is pure: it never mutates engine state.
type AttestationVerifier struct {
	signers SignerRegistry
	feed    ReferencePriceFeed // may be nil
}

// NewAttestationVerifier creates a verifier. feed may be nil when no
// reference price source is wired.
func NewAttestationVerifier(signers SignerRegistry, feed ReferencePriceFeed) *AttestationVerifier {
	return &AttestationVerifier{signers: signers, feed: feed}
}

// VerifyOptions carries the execution context of the trading operation the
// attestation authorizes.
type VerifyOptions struct {
	// Caller is the identity initiating the trade. An attestation signed
	// by the caller itself is rejected: a trader must not pick their own
	// price.
	Caller common.Address

	// OpensExposure marks operations that create or grow exposure; those
	// are rejected while the market is flagged closed.
	OpensExposure bool

	// Now is the execution time the freshness checks compare against.
	Now time.Time

	// Window bounds how far in the future ValidTo may lie. Zero disables
	// the future-dating check.
	Window time.Duration
}

// Verify checks the attestation for the given asset and returns the
// attested price and spread. Any failure leaves the caller's transition
// untouched; Verify has no side effects.
func (v *AttestationVerifier) Verify(att PriceAttestation, asset AssetID, pair PairConfig, opt VerifyOptions) (price, spread decimal.Decimal, err error) {
	if att.Asset != asset {
		return decimal.Zero, decimal.Zero, ErrAssetMismatch
	}
	if !v.signers.IsAuthorizedSigner(att.Signer) {
		return decimal.Zero, decimal.Zero, ErrUnknownSigner
	}
	if att.Signer == opt.Caller {
		return decimal.Zero, decimal.Zero, ErrUnauthorizedSigner
	}
	if !att.ValidTo.After(opt.Now) {
		return decimal.Zero, decimal.Zero, ErrExpiredAttestation
	}
	if opt.Window > 0 && att.ValidTo.After(opt.Now.Add(opt.Window)) {
		return decimal.Zero, decimal.Zero, ErrFutureAttestation
	}

	recovered, err := att.recoverSigner()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if recovered != att.Signer {
		return decimal.Zero, decimal.Zero, ErrInvalidAttestation
	}

	if !att.Price.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrNoPrice
	}
	// A negative spread would improve the trader's fill past the attested
	// price; a spread of 100% or more degenerates the short side.
	if att.Spread.IsNegative() || att.Spread.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, ErrPriceOutOfRange
	}
	if !canonicalScale(att.Price) || !canonicalScale(att.Spread) {
		return decimal.Zero, decimal.Zero, ErrPriceOutOfRange
	}
	if opt.OpensExposure && att.MarketClosed {
		return decimal.Zero, decimal.Zero, ErrMarketClosed
	}

	if pair.HasReferenceFeed && v.feed != nil {
		ref, ferr := v.feed.ReferencePrice(asset)
		if ferr != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("reference price: %w", ferr)
		}
		// A zero reference means the feed is unavailable; the band check
		// is skipped rather than failed.
		if ref.IsPositive() {
			dev := att.Price.Sub(ref).Abs().Div(ref)
			if dev.GreaterThan(pair.ReferenceBand) {
				return decimal.Zero, decimal.Zero, ErrPriceMismatch
			}
		}
	}

	return att.Price, att.Spread, nil
}

// SpreadPrice applies the attested spread to the mid price, worsening the
// fill in the trader's direction: longs fill above mid, shorts below.
func SpreadPrice(price, spread decimal.Decimal, long bool) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if long {
		return price.Mul(one.Add(spread))
	}
	return price.Mul(one.Sub(spread))
}
