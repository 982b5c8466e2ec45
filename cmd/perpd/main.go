// Command perpd runs the perpetual position engine as a daemon: it wires
// the ledger to NATS for order intake and event publishing, and serves
// Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/meridian-dex/perp/pkg/logging"
	"github.com/meridian-dex/perp/pkg/metrics"
	"github.com/meridian-dex/perp/pkg/notify"
	"github.com/meridian-dex/perp/pkg/perp"
)

type pairYAML struct {
	Asset           uint32   `yaml:"asset"`
	MinLeverage     string   `yaml:"minLeverage"`
	MaxLeverage     string   `yaml:"maxLeverage"`
	MinNotional     string   `yaml:"minNotional"`
	FundingAPR      string   `yaml:"fundingAPR"`
	OpenInterestCap string   `yaml:"openInterestCap"`
	ReferenceBand   string   `yaml:"referenceBand"`
	MarginAssets    []string `yaml:"marginAssets"`
}

type feeTableYAML struct {
	Stakers  string `yaml:"stakers"`
	Referral string `yaml:"referral"`
	DAO      string `yaml:"dao"`
	Bot      string `yaml:"bot"`
}

type configYAML struct {
	LogLevel    string `yaml:"logLevel"`
	MetricsAddr string `yaml:"metricsAddr"`
	NATSURL     string `yaml:"natsURL"`

	Pairs    []pairYAML   `yaml:"pairs"`
	Signers  []string     `yaml:"signers"`
	OpenFee  feeTableYAML `yaml:"openFee"`
	CloseFee feeTableYAML `yaml:"closeFee"`

	LiquidationThreshold string `yaml:"liquidationThreshold"`
	LiquidationReward    string `yaml:"liquidationReward"`
	MaxWinMultiple       string `yaml:"maxWinMultiple"`
	TriggerBand          string `yaml:"triggerBand"`
	AttestationWindow    string `yaml:"attestationWindow"`
	ExecutionDelay       string `yaml:"executionDelay"`
	CallDelay            string `yaml:"callDelay"`

	StakersAddr string `yaml:"stakersAddr"`
	DAOAddr     string `yaml:"daoAddr"`

	// SeedLiquidity funds the in-memory vault per margin asset for paper
	// trading: asset address -> amount.
	SeedLiquidity map[string]string `yaml:"seedLiquidity"`
}

func dec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func dur(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func feeTable(y feeTableYAML) (perp.FeeTable, error) {
	var t perp.FeeTable
	var err error
	if t.Stakers, err = dec(y.Stakers); err != nil {
		return t, err
	}
	if t.Referral, err = dec(y.Referral); err != nil {
		return t, err
	}
	if t.DAO, err = dec(y.DAO); err != nil {
		return t, err
	}
	t.Bot, err = dec(y.Bot)
	return t, err
}

func buildLedger(cfg configYAML, log *zap.Logger, eng *metrics.Engine, notifier perp.Notifier) (*perp.Ledger, *perp.MemVault, error) {
	assets := map[common.Address]bool{}
	pairs := make([]perp.PairConfig, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pc := perp.PairConfig{Asset: perp.AssetID(p.Asset), Allowed: true}
		var err error
		if pc.MinLeverage, err = dec(p.MinLeverage); err != nil {
			return nil, nil, fmt.Errorf("pair %d minLeverage: %w", p.Asset, err)
		}
		if pc.MaxLeverage, err = dec(p.MaxLeverage); err != nil {
			return nil, nil, fmt.Errorf("pair %d maxLeverage: %w", p.Asset, err)
		}
		if pc.MinNotional, err = dec(p.MinNotional); err != nil {
			return nil, nil, fmt.Errorf("pair %d minNotional: %w", p.Asset, err)
		}
		if pc.FundingAPR, err = dec(p.FundingAPR); err != nil {
			return nil, nil, fmt.Errorf("pair %d fundingAPR: %w", p.Asset, err)
		}
		if pc.OpenInterestCap, err = dec(p.OpenInterestCap); err != nil {
			return nil, nil, fmt.Errorf("pair %d openInterestCap: %w", p.Asset, err)
		}
		if pc.ReferenceBand, err = dec(p.ReferenceBand); err != nil {
			return nil, nil, fmt.Errorf("pair %d referenceBand: %w", p.Asset, err)
		}
		for _, m := range p.MarginAssets {
			addr := common.HexToAddress(m)
			pc.AllowedMarginAssets = append(pc.AllowedMarginAssets, addr)
			assets[addr] = true
		}
		pairs = append(pairs, pc)
	}

	assetList := make([]common.Address, 0, len(assets))
	for a := range assets {
		assetList = append(assetList, a)
	}
	vault := perp.NewMemVault(assetList...)
	for addr, amount := range cfg.SeedLiquidity {
		d, err := dec(amount)
		if err != nil {
			return nil, nil, fmt.Errorf("seedLiquidity %s: %w", addr, err)
		}
		vault.Fund(common.HexToAddress(addr), d)
	}

	signers := make([]common.Address, 0, len(cfg.Signers))
	for _, s := range cfg.Signers {
		signers = append(signers, common.HexToAddress(s))
	}

	open, err := feeTable(cfg.OpenFee)
	if err != nil {
		return nil, nil, fmt.Errorf("openFee: %w", err)
	}
	closeT, err := feeTable(cfg.CloseFee)
	if err != nil {
		return nil, nil, fmt.Errorf("closeFee: %w", err)
	}
	fees, err := perp.NewFeeSchedule(1, open, closeT)
	if err != nil {
		return nil, nil, err
	}

	var params perp.Params
	if params.LiquidationThreshold, err = dec(cfg.LiquidationThreshold); err != nil {
		return nil, nil, err
	}
	if params.LiquidationReward, err = dec(cfg.LiquidationReward); err != nil {
		return nil, nil, err
	}
	if params.MaxWinMultiple, err = dec(cfg.MaxWinMultiple); err != nil {
		return nil, nil, err
	}
	if params.TriggerBand, err = dec(cfg.TriggerBand); err != nil {
		return nil, nil, err
	}
	if params.AttestationWindow, err = dur(cfg.AttestationWindow); err != nil {
		return nil, nil, err
	}
	if params.ExecutionDelay, err = dur(cfg.ExecutionDelay); err != nil {
		return nil, nil, err
	}
	if params.CallDelay, err = dur(cfg.CallDelay); err != nil {
		return nil, nil, err
	}

	ledger, err := perp.NewLedger(perp.LedgerConfig{
		Vault:   vault,
		Config:  perp.NewStaticConfigStore(pairs...),
		Signers: perp.NewStaticSignerRegistry(signers...),
		Fees:    fees,
		Params:  params,
		Recipients: perp.FeeRecipients{
			Stakers: common.HexToAddress(cfg.StakersAddr),
			DAO:     common.HexToAddress(cfg.DAOAddr),
		},
		Logger:   log,
		Notifier: notifier,
		Metrics:  eng,
	})
	return ledger, vault, err
}

// marketOrder is the JSON body accepted on the order intake subject.
type marketOrder struct {
	Caller      string                `json:"caller"`
	Trader      string                `json:"trader"`
	Asset       uint32                `json:"asset"`
	Long        bool                  `json:"long"`
	Margin      string                `json:"margin"`
	Leverage    string                `json:"leverage"`
	TakeProfit  string                `json:"takeProfit"`
	StopLoss    string                `json:"stopLoss"`
	MarginAsset string                `json:"marginAsset"`
	Referral    string                `json:"referral"`
	Attestation perp.PriceAttestation `json:"attestation"`
}

func handleMarketOrder(ctx context.Context, ledger *perp.Ledger, log *zap.Logger, m *nats.Msg) {
	var ord marketOrder
	if err := json.Unmarshal(m.Data, &ord); err != nil {
		log.Warn("bad order payload", zap.Error(err))
		respond(m, map[string]string{"error": "bad payload"})
		return
	}
	req := perp.OpenRequest{
		Trader:       common.HexToAddress(ord.Trader),
		Asset:        perp.AssetID(ord.Asset),
		Long:         ord.Long,
		MarginAsset:  common.HexToAddress(ord.MarginAsset),
		ReferralCode: ord.Referral,
	}
	var err error
	if req.Margin, err = dec(ord.Margin); err != nil {
		respond(m, map[string]string{"error": "bad margin"})
		return
	}
	if req.Leverage, err = dec(ord.Leverage); err != nil {
		respond(m, map[string]string{"error": "bad leverage"})
		return
	}
	if req.TakeProfit, err = dec(ord.TakeProfit); err != nil {
		respond(m, map[string]string{"error": "bad takeProfit"})
		return
	}
	if req.StopLoss, err = dec(ord.StopLoss); err != nil {
		respond(m, map[string]string{"error": "bad stopLoss"})
		return
	}

	pos, err := ledger.OpenMarket(ctx, common.HexToAddress(ord.Caller), req, ord.Attestation)
	if err != nil {
		respond(m, map[string]string{"error": err.Error()})
		return
	}
	respond(m, map[string]interface{}{"id": pos.ID, "openPrice": pos.OpenPrice.String()})
}

func respond(m *nats.Msg, body interface{}) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	_ = m.Respond(data)
}

func main() {
	configPath := flag.String("config", "perpd.yaml", "Path to config file")
	flag.Parse()

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
	var cfg configYAML
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	eng := metrics.New("perp")

	var notifier perp.Notifier = perp.NopNotifier{}
	var pub *notify.Publisher
	if cfg.NATSURL != "" {
		pub, err = notify.NewPublisher(cfg.NATSURL, "perp.events", log)
		if err != nil {
			log.Fatal("nats publisher", zap.Error(err))
		}
		defer pub.Close()
		notifier = pub
	}

	ledger, _, err := buildLedger(cfg, log, eng, notifier)
	if err != nil {
		log.Fatal("build ledger", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal("nats connect", zap.Error(err))
		}
		defer nc.Close()
		if _, err := nc.QueueSubscribe("perp.orders.market", "perpd", func(m *nats.Msg) {
			handleMarketOrder(ctx, ledger, log, m)
		}); err != nil {
			log.Fatal("subscribe orders", zap.Error(err))
		}
		log.Info("listening for orders", zap.String("subject", "perp.orders.market"))
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", eng.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}
