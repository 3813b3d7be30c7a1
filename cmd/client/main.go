// Command client runs a single trading strategy against one exchange:
// it maintains a feature engine and trade engine from market-data and
// response streams, and drives either a market-maker or a
// liquidity-taker strategy, wired together with go.uber.org/fx.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/lowlatency-trading/internal/config"
	"github.com/abdoElHodaky/lowlatency-trading/internal/feature"
	"github.com/abdoElHodaky/lowlatency-trading/internal/marketdata"
	"github.com/abdoElHodaky/lowlatency-trading/internal/metrics"
	"github.com/abdoElHodaky/lowlatency-trading/internal/obslog"
	"github.com/abdoElHodaky/lowlatency-trading/internal/ordergateway"
	"github.com/abdoElHodaky/lowlatency-trading/internal/position"
	"github.com/abdoElHodaky/lowlatency-trading/internal/risk"
	"github.com/abdoElHodaky/lowlatency-trading/internal/strategy"
	"github.com/abdoElHodaky/lowlatency-trading/internal/tradeengine"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

const primaryTicker wire.TickerId = 1

func main() {
	fx.New(
		fx.Provide(
			loadClientConfig,
			newZapLogger,
			newObsLogger,
			newGateway,
			newSubscriber,
			newFeatureEngine,
			newRiskManager,
			newPositionKeeper,
			newMetricsRegistry,
			newTradeEngine,
		),
		fx.Invoke(runClient, startHealthHTTP),
	).Run()
}

func loadClientConfig() (*config.ClientConfig, error) {
	cfg, err := config.ParseClientFlags(os.Args[1:], ".env")
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newZapLogger() (*zap.Logger, error) { return zap.NewProduction() }

// newObsLogger wraps the zap logger in an obslog.AsyncSink so strategy
// and gateway logging never blocks the market-data/response loops.
func newObsLogger(z *zap.Logger) obslog.Logger { return obslog.NewAsyncSink(obslog.Wrap(z), 1024) }

// startHealthHTTP runs a gorilla/mux liveness probe and Prometheus
// endpoint for the client process, independent of its trading loops.
func startHealthHTTP(lc fx.Lifecycle, cfg *config.ClientConfig, reg *metrics.Registry, log *zap.Logger) {
	promReg := prometheus.NewRegistry()
	reg.MustRegister(promReg)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	srv := &http.Server{Addr: cfg.HealthAddr, Handler: r}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("health server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func newGateway(cfg *config.ClientConfig, log obslog.Logger) (*ordergateway.Gateway, error) {
	return ordergateway.Dial(cfg.ExchangeAddr, cfg.ClientId, cfg.ProtocolVersion, log.With("gateway"))
}

func newSubscriber(cfg *config.ClientConfig) (*marketdata.Subscriber, error) {
	return marketdata.NewSubscriber(cfg.MulticastAddr, nil)
}

func newFeatureEngine(cfg *config.ClientConfig) *feature.Engine { return feature.New(cfg.FeatureEMAAlpha) }

func newRiskManager(cfg *config.ClientConfig) *risk.Manager {
	return risk.NewManager(risk.Limits{
		MaxOrderQty:   cfg.MaxOrderQty,
		MaxPosition:   cfg.MaxPosition,
		MaxLoss:       cfg.MaxLossCents,
		MaxOpenOrders: cfg.MaxOpenOrders,
	})
}

func newPositionKeeper() *position.Keeper { return position.NewKeeper() }

func newMetricsRegistry() *metrics.Registry { return metrics.NewRegistry() }

func newTradeEngine(gw *ordergateway.Gateway, feat *feature.Engine, riskMgr *risk.Manager, pos *position.Keeper, reg *metrics.Registry) *tradeengine.Engine {
	submit := func(ticker wire.TickerId, side wire.Side, price wire.Price, qty wire.Qty) wire.OrderId {
		id, err := gw.SendNewOrder(ticker, side, price, qty)
		if err != nil {
			return wire.InvalidOrderId
		}
		return id
	}
	cancel := func(ticker wire.TickerId, orderID wire.OrderId) {
		_ = gw.SendCancel(orderID)
	}
	eng := tradeengine.New(feat, riskMgr, pos, submit, cancel, 256)
	eng.SetMetrics(reg)
	return eng
}

// buildStrategy selects the configured strategy implementation. Both
// implement the same OnFeatureUpdate(*tradeengine.Engine,
// feature.Snapshot) shape, so the run loop does not need to know which
// one it is driving.
type runnable interface {
	OnFeatureUpdate(eng *tradeengine.Engine, snap feature.Snapshot)
}

// fillable is implemented by strategies that react to their own fills —
// currently only *strategy.LiquidityTaker, whose cooldown halves on a
// fill per §4.12. Checked with a type assertion rather than folded into
// runnable since the market maker has no analogous per-fill behavior.
type fillable interface {
	OnFill()
}

func buildStrategy(cfg *config.ClientConfig) runnable {
	switch cfg.Strategy {
	case "liquiditytaker":
		return strategy.NewLiquidityTaker(strategy.LiquidityTakerConfig{
			Ticker: primaryTicker, SignalThreshold: 0.4, BaseQty: 10, MaxQty: 100,
			AggressionBps: 2, MinOrderInterval: cfg.CooldownPeriod, MaxPosition: cfg.MaxPosition,
		})
	default:
		return strategy.NewMarketMaker(strategy.MarketMakerConfig{
			Ticker: primaryTicker, BaseQty: 10, HalfSpread: 5, MinSpread: 1,
			MaxPosition: cfg.MaxPosition, SkewFactor: 1, PriceUpdateThreshold: 1,
			SmoothingPeriod: 5,
		})
	}
}

func runClient(lc fx.Lifecycle, cfg *config.ClientConfig, gw *ordergateway.Gateway, sub *marketdata.Subscriber, eng *tradeengine.Engine, log *zap.Logger) {
	strat := buildStrategy(cfg)
	stop := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go marketDataLoop(sub, eng, strat, log, stop)
			go responseLoop(gw, eng, strat, log, stop)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			_ = gw.Close()
			return sub.Close()
		},
	})
}

func marketDataLoop(sub *marketdata.Subscriber, eng *tradeengine.Engine, strat runnable, log *zap.Logger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		u, ok := sub.ReadOne(100 * time.Millisecond)
		if !ok {
			continue
		}
		snap, ok := eng.OnMarketUpdate(u)
		if !ok {
			continue
		}
		strat.OnFeatureUpdate(eng, snap)
	}
}

func responseLoop(gw *ordergateway.Gateway, eng *tradeengine.Engine, strat runnable, log *zap.Logger, stop <-chan struct{}) {
	onFiller, _ := strat.(fillable)
	for {
		select {
		case <-stop:
			return
		default:
		}
		responses, err := gw.Poll(100 * time.Millisecond)
		if err != nil {
			log.Error("gateway poll failed", zap.Error(err))
			return
		}
		for _, r := range responses {
			eng.OnResponse(r)
			if r.MsgType == wire.MsgFilled && onFiller != nil {
				onFiller.OnFill()
			}
		}
	}
}
