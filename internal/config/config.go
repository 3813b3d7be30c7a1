// Package config adapts the teacher's pkg/config Config/DefaultConfig/
// Validate layout to a CLI-flag-driven surface: the exchange and the
// client each take flags instead of a YAML document, since the wire
// protocol and process topology here are flat enough not to need a
// hierarchical config file. Struct tags still drive validation, via
// go-playground/validator instead of a hand-rolled Validate method. An
// optional .env file (joho/godotenv) is loaded into the process
// environment before flags are parsed; no config field is read from the
// environment, so only flags override the defaults.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ExchangeConfig configures the exchange process: the order server, the
// market-data publisher, and the per-ticker order books.
type ExchangeConfig struct {
	ListenAddr       string `validate:"required,hostname_port"`
	MulticastAddr    string `validate:"required"`
	NumTickers       int    `validate:"required,min=1,max=4096"`
	OrdersPerBook    int    `validate:"required,min=64"`
	PriceLevels      int    `validate:"required,min=8"`
	RingDepth        int    `validate:"required,min=16"`
	SnapshotInterval int    `validate:"required,min=1"`
	MetricsAddr      string `validate:"required,hostname_port"`
	AdminAddr        string `validate:"required,hostname_port"`
	ProtocolVersion  string `validate:"required,semver_constraint"`
	HealthAddr       string `validate:"required,hostname_port"`
	LogNATSURL       string `validate:"omitempty,url"`
}

// ClientConfig configures the trading-client process: the order gateway,
// the market-data subscriber, the feature engine, risk manager, and
// strategy.
type ClientConfig struct {
	ExchangeAddr    string        `validate:"required,hostname_port"`
	MulticastAddr   string        `validate:"required"`
	ClientId        uint32        `validate:"required"`
	Strategy        string        `validate:"required,oneof=marketmaker liquiditytaker"`
	MaxOrderQty     uint32        `validate:"required,min=1"`
	MaxPosition     int64         `validate:"required,min=1"`
	MaxOpenOrders   int           `validate:"required,min=1"`
	MaxLossCents    int64         `validate:"required,min=1"`
	CooldownPeriod  time.Duration `validate:"required"`
	FeatureEMAAlpha float64       `validate:"required,gt=0,lt=1"`
	ProtocolVersion string        `validate:"required,semver_constraint"`
	HealthAddr      string        `validate:"required,hostname_port"`
	LogNATSURL      string        `validate:"omitempty,url"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("semver_constraint", func(fl validator.FieldLevel) bool {
		return fl.Field().String() != ""
	})
	return v
}

// DefaultExchangeConfig mirrors the teacher's DefaultConfig pattern: sane
// development defaults, overridden by flags in production.
func DefaultExchangeConfig() ExchangeConfig {
	return ExchangeConfig{
		ListenAddr:       "0.0.0.0:9001",
		MulticastAddr:    "239.0.0.1:30001",
		NumTickers:       8,
		OrdersPerBook:    1 << 16,
		PriceLevels:      1 << 12,
		RingDepth:        1 << 14,
		SnapshotInterval: 100,
		MetricsAddr:      "0.0.0.0:9100",
		AdminAddr:        "0.0.0.0:9200",
		ProtocolVersion:  "^1.0.0",
		HealthAddr:       "0.0.0.0:9300",
		LogNATSURL:       "",
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ExchangeAddr:    "127.0.0.1:9001",
		MulticastAddr:   "239.0.0.1:30001",
		ClientId:        1,
		Strategy:        "marketmaker",
		MaxOrderQty:     1000,
		MaxPosition:     10000,
		MaxOpenOrders:   64,
		MaxLossCents:    1_000_000,
		CooldownPeriod:  50 * time.Millisecond,
		FeatureEMAAlpha: 0.2,
		ProtocolVersion: "1.0.0",
		HealthAddr:      "0.0.0.0:9301",
		LogNATSURL:      "",
	}
}

// ParseExchangeFlags loads an optional .env at envPath into the process
// environment, then parses flags into an ExchangeConfig, starting from DefaultExchangeConfig and validating
// the result.
func ParseExchangeFlags(args []string, envPath string) (ExchangeConfig, error) {
	loadEnv(envPath)
	cfg := DefaultExchangeConfig()

	fs := flag.NewFlagSet("exchange", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP listen address for the order server")
	fs.StringVar(&cfg.MulticastAddr, "multicast", cfg.MulticastAddr, "UDP multicast address for market data")
	fs.IntVar(&cfg.NumTickers, "tickers", cfg.NumTickers, "number of tradable tickers")
	fs.IntVar(&cfg.OrdersPerBook, "orders-per-book", cfg.OrdersPerBook, "order pool capacity per book")
	fs.IntVar(&cfg.PriceLevels, "price-levels", cfg.PriceLevels, "expected distinct price levels per book side")
	fs.IntVar(&cfg.RingDepth, "ring-depth", cfg.RingDepth, "SPSC ring buffer depth (validated, not read by the exchange)")
	fs.IntVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "emit a BBO snapshot every N market-data deltas, for lossy subscribers")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "metrics listen address (validated, not read; /metrics is served on admin-addr)")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "admin REST API listen address")
	fs.StringVar(&cfg.ProtocolVersion, "protocol-version", cfg.ProtocolVersion, "accepted client protocol semver range")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "liveness/readiness HTTP listen address")
	fs.StringVar(&cfg.LogNATSURL, "log-nats-url", cfg.LogNATSURL, "optional NATS URL to additionally publish log events to")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid exchange config: %w", err)
	}
	return cfg, nil
}

// ParseClientFlags loads an optional .env at envPath into the process
// environment, then parses flags into a ClientConfig, starting from DefaultClientConfig and validating the
// result.
func ParseClientFlags(args []string, envPath string) (ClientConfig, error) {
	loadEnv(envPath)
	cfg := DefaultClientConfig()

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.StringVar(&cfg.ExchangeAddr, "exchange-addr", cfg.ExchangeAddr, "exchange order server TCP address")
	fs.StringVar(&cfg.MulticastAddr, "multicast", cfg.MulticastAddr, "UDP multicast address for market data")
	var clientID uint
	fs.UintVar(&clientID, "client-id", uint(cfg.ClientId), "this client's numeric id")
	fs.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "strategy to run: marketmaker or liquiditytaker")
	var maxOrderQty, maxOpenOrders uint
	fs.UintVar(&maxOrderQty, "max-order-qty", uint(cfg.MaxOrderQty), "max single order quantity")
	fs.Int64Var(&cfg.MaxPosition, "max-position", cfg.MaxPosition, "max absolute net position")
	fs.UintVar(&maxOpenOrders, "max-open-orders", uint(cfg.MaxOpenOrders), "max concurrent open orders")
	fs.Int64Var(&cfg.MaxLossCents, "max-loss-cents", cfg.MaxLossCents, "max tolerated loss (realized plus unrealized), in cents")
	fs.DurationVar(&cfg.CooldownPeriod, "cooldown", cfg.CooldownPeriod, "liquidity-taker cooldown between aggressive orders")
	fs.Float64Var(&cfg.FeatureEMAAlpha, "ema-alpha", cfg.FeatureEMAAlpha, "EMA smoothing factor for the feature engine")
	fs.StringVar(&cfg.ProtocolVersion, "protocol-version", cfg.ProtocolVersion, "client protocol semver")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "liveness/readiness HTTP listen address")
	fs.StringVar(&cfg.LogNATSURL, "log-nats-url", cfg.LogNATSURL, "optional NATS URL to additionally publish log events to")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.ClientId = uint32(clientID)
	cfg.MaxOrderQty = uint32(maxOrderQty)
	cfg.MaxOpenOrders = int(maxOpenOrders)

	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid client config: %w", err)
	}
	return cfg, nil
}

// loadEnv loads envPath if non-empty, ignoring a missing file the same
// way the teacher's LoadConfig falls back to defaults on a missing path.
func loadEnv(envPath string) {
	if envPath == "" {
		return
	}
	_ = godotenv.Load(envPath)
}
