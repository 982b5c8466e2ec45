package perp

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	usdc    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	trader  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	trader2 = common.HexToAddress("0x0000000000000000000000000000000000000002")
	botAddr = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	stakers = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	daoAddr = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// recNotifier records published events for assertions.
type recNotifier struct {
	events []Event
}

func (n *recNotifier) Publish(ev Event) { n.events = append(n.events, ev) }

func (n *recNotifier) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	ledger   *Ledger
	vault    *MemVault
	cfg      *StaticConfigStore
	signers  *StaticSignerRegistry
	notifier *recNotifier
	clock    *testClock
	key      *ecdsa.PrivateKey
	signer   common.Address
}

func defaultPair() PairConfig {
	return PairConfig{
		Asset:               1,
		MinLeverage:         d("1"),
		MaxLeverage:         d("150"),
		MinNotional:         d("100"),
		FundingAPR:          decimal.Zero,
		OpenInterestCap:     decimal.Zero,
		AllowedMarginAssets: []common.Address{usdc},
		Allowed:             true,
	}
}

func defaultParams() Params {
	return Params{
		LiquidationThreshold: d("0.1"),
		LiquidationReward:    d("0.05"),
		MaxWinMultiple:       decimal.Zero,
		AttestationWindow:    time.Hour,
	}
}

func zeroFees(t *testing.T) *FeeSchedule {
	fees, err := NewFeeSchedule(1, FeeTable{}, FeeTable{})
	require.NoError(t, err)
	return fees
}

// newFixture builds a ledger over an in-memory vault with one allowed
// pair, one registered signer and a funded, pre-approved trader.
func newFixture(t *testing.T, mutate func(*PairConfig, *Params)) *fixture {
	t.Helper()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	pair := defaultPair()
	params := defaultParams()
	if mutate != nil {
		mutate(&pair, &params)
	}

	f := &fixture{
		vault:    NewMemVault(usdc),
		cfg:      NewStaticConfigStore(pair),
		signers:  NewStaticSignerRegistry(ethcrypto.PubkeyToAddress(key.PublicKey)),
		notifier: &recNotifier{},
		clock:    &testClock{now: time.Unix(1_700_000_000, 0)},
		key:      key,
		signer:   ethcrypto.PubkeyToAddress(key.PublicKey),
	}
	f.vault.Fund(usdc, d("1000000"))
	f.vault.Approve(trader, usdc, d("1000000"))
	f.vault.Approve(trader2, usdc, d("1000000"))

	f.ledger, err = NewLedger(LedgerConfig{
		Vault:      f.vault,
		Config:     f.cfg,
		Signers:    f.signers,
		Fees:       zeroFees(t),
		Params:     params,
		Recipients: FeeRecipients{Stakers: stakers, DAO: daoAddr},
		Notifier:   f.notifier,
		Clock:      f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

// att returns a signed attestation for asset 1, valid for a minute.
func (f *fixture) att(t *testing.T, price, spread string) PriceAttestation {
	t.Helper()
	signed, err := SignAttestation(PriceAttestation{
		Asset:   1,
		Price:   d(price),
		Spread:  d(spread),
		ValidTo: f.clock.now.Add(time.Minute),
	}, f.key)
	require.NoError(t, err)
	return signed
}

func (f *fixture) openReq(margin, leverage string, long bool) OpenRequest {
	return OpenRequest{
		Trader:      trader,
		Asset:       1,
		Long:        long,
		Margin:      d(margin),
		Leverage:    d(leverage),
		MarginAsset: usdc,
	}
}
