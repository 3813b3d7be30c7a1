// Command exchange runs the matching engine, the TCP order server, and
// the UDP market-data publisher as one process, wired together with
// go.uber.org/fx the way the teacher wires its service binaries.
package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/lowlatency-trading/internal/admin"
	"github.com/abdoElHodaky/lowlatency-trading/internal/config"
	"github.com/abdoElHodaky/lowlatency-trading/internal/eventbus"
	"github.com/abdoElHodaky/lowlatency-trading/internal/marketdata"
	"github.com/abdoElHodaky/lowlatency-trading/internal/matchengine"
	"github.com/abdoElHodaky/lowlatency-trading/internal/metrics"
	"github.com/abdoElHodaky/lowlatency-trading/internal/obslog"
	"github.com/abdoElHodaky/lowlatency-trading/internal/orderserver"
	"github.com/abdoElHodaky/lowlatency-trading/internal/position"
	"github.com/abdoElHodaky/lowlatency-trading/internal/risk"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

func main() {
	fx.New(
		fx.Provide(
			loadExchangeConfig,
			newZapLogger,
			newObsLogger,
			newEngine,
			newPositionKeeper,
			newRiskManager,
			newMetricsRegistry,
			newEventBus,
			newOrderServer,
			newMarketDataPublisher,
			newWSBridge,
			newAdminServer,
		),
		fx.Invoke(registerBooks, startHealthHTTP, startAdminHTTP, startEnginePoller),
	).Run()
}

func loadExchangeConfig() (*config.ExchangeConfig, error) {
	cfg, err := config.ParseExchangeFlags(os.Args[1:], ".env")
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newZapLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// newObsLogger wraps the zap logger in an obslog.AsyncSink so the
// matching engine and order book never stall on the logging hot path,
// and additionally fans every drained record out to NATS when
// cfg.LogNATSURL is set.
func newObsLogger(cfg *config.ExchangeConfig, z *zap.Logger) obslog.Logger {
	sink := obslog.NewAsyncSink(obslog.Wrap(z), 4096)
	if cfg.LogNATSURL == "" {
		return sink
	}
	pub, err := obslog.NewNATSPublisher(cfg.LogNATSURL)
	if err != nil {
		z.Warn("NATS log publisher unavailable, logging locally only", zap.Error(err))
		return sink
	}
	return sink.WithNATS(pub, "logs.exchange")
}

func newEngine(cfg *config.ExchangeConfig, log obslog.Logger) *matchengine.Engine {
	return matchengine.New(cfg.OrdersPerBook, log.With("matchengine"))
}

func newPositionKeeper() *position.Keeper { return position.NewKeeper() }

func newRiskManager() *risk.Manager { return risk.NewManager(risk.DefaultLimits()) }

func newMetricsRegistry() *metrics.Registry { return metrics.NewRegistry() }

func newEventBus(log *zap.Logger) *eventbus.Bus { return eventbus.New(log, 1024) }

func newOrderServer(cfg *config.ExchangeConfig, log obslog.Logger) (*orderserver.Server, error) {
	return orderserver.New(cfg.ListenAddr, cfg.ProtocolVersion, 8, log.With("orderserver"))
}

func newMarketDataPublisher(cfg *config.ExchangeConfig) (*marketdata.Publisher, error) {
	return marketdata.NewPublisherWithCadence(cfg.MulticastAddr, cfg.SnapshotInterval)
}

// newWSBridge builds the WebSocket fan-out used by browser-based tools
// that cannot join the UDP multicast group the binary wire protocol
// travels over.
func newWSBridge(log obslog.Logger) *marketdata.Bridge {
	return marketdata.NewBridge(log.With("wsbridge"))
}

func newAdminServer(eng *matchengine.Engine, pos *position.Keeper, riskMgr *risk.Manager, srv *orderserver.Server) *admin.Server {
	return admin.New(eng, pos, riskMgr, srv, 1000)
}

func registerBooks(cfg *config.ExchangeConfig, eng *matchengine.Engine) {
	for t := wire.TickerId(1); t <= wire.TickerId(cfg.NumTickers); t++ {
		eng.AddTicker(t)
	}
}

// startHealthHTTP runs a tiny gorilla/mux router for liveness/readiness
// probes, separate from the gin-based admin API: a probe must stay up
// even if the richer admin surface fails to initialize.
func startHealthHTTP(lc fx.Lifecycle, cfg *config.ExchangeConfig, eng *matchengine.Engine, log *zap.Logger) {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if _, ok := eng.Book(1); !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}).Methods(http.MethodGet)

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

func startAdminHTTP(lc fx.Lifecycle, cfg *config.ExchangeConfig, adm *admin.Server, reg *metrics.Registry, bridge *marketdata.Bridge, log *zap.Logger) {
	promReg := prometheus.NewRegistry()
	reg.MustRegister(promReg)

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	adminMux.HandleFunc("/ws/marketdata", bridge.HandleWS)
	adminMux.Handle("/", adm.Handler())

	srv := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("admin server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func startEnginePoller(lc fx.Lifecycle, srv *orderserver.Server, eng *matchengine.Engine, pub *marketdata.Publisher, bridge *marketdata.Bridge, bus *eventbus.Bus, reg *metrics.Registry, log obslog.Logger, zlog *zap.Logger) {
	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go pollLoop(srv, eng, pub, bridge, bus, reg, zlog, stop)
			go sampleOccupancy(eng, log, reg, stop)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return srv.Close()
		},
	})
}

// pollLoop is the exchange's main request/response cycle: pull
// sequenced requests off the order server, feed them to the matching
// engine, ship the response back to the originating client, and
// multicast any resulting book deltas to subscribers.
func pollLoop(srv *orderserver.Server, eng *matchengine.Engine, pub *marketdata.Publisher, bridge *marketdata.Bridge, bus *eventbus.Bus, reg *metrics.Registry, log *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, sr := range srv.Poll() {
				start := time.Now()
				resp, deltas := eng.ProcessRequest(sr.Request)
				reg.MatchLatencyNs.Observe(float64(time.Since(start).Nanoseconds()))
				observeResponse(reg, resp)

				if err := srv.SendResponse(sr.ClientId, resp); err != nil {
					log.Debug("send response failed", zap.Error(err), zap.Uint32("client_id", sr.ClientId), zap.String("corr_id", sr.CorrID))
				}
				for _, d := range deltas {
					if err := pub.Publish(d); err != nil {
						log.Debug("market data publish failed", zap.Error(err))
					}
					bridge.Broadcast(d)
				}
				publishTradeEvent(bus, resp)
			}
		}
	}
}

// observeResponse increments the order-lifecycle counter matching
// resp's outcome, per §6's per-instrument breakdown.
func observeResponse(reg *metrics.Registry, resp wire.ClientResponse) {
	ticker := tickerLabel(resp.TickerId)
	switch resp.MsgType {
	case wire.MsgAccepted:
		reg.OrdersAccepted.WithLabelValues(ticker).Inc()
	case wire.MsgFilled:
		reg.OrdersFilled.WithLabelValues(ticker).Inc()
	case wire.MsgCanceled:
		reg.OrdersCanceled.WithLabelValues(ticker).Inc()
	case wire.MsgCancelRejected:
		reg.OrdersRejected.WithLabelValues(ticker, "cancel_rejected").Inc()
	case wire.MsgInvalidRequest:
		reg.OrdersRejected.WithLabelValues(ticker, "invalid_request").Inc()
	}
}

func tickerLabel(t wire.TickerId) string { return strconv.FormatUint(uint64(t), 10) }

// occupancySampleInterval bounds how often the book pool and log ring
// gauges are refreshed; these are observability signals, not hot-path
// state, so a coarse cadence is deliberate.
const occupancySampleInterval = time.Second

// sampleOccupancy periodically publishes per-ticker pool utilization and
// the async log sink's ring depth, since neither changes on every
// request and sampling avoids touching the matching engine's hot path
// on every poll tick.
func sampleOccupancy(eng *matchengine.Engine, log obslog.Logger, reg *metrics.Registry, stop <-chan struct{}) {
	t := time.NewTicker(occupancySampleInterval)
	defer t.Stop()
	sink, _ := log.(*obslog.AsyncSink)
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			for id := wire.TickerId(1); ; id++ {
				b, ok := eng.Book(id)
				if !ok {
					break
				}
				reg.PoolUtilization.WithLabelValues(tickerLabel(id)).Set(b.PoolUtilization())
			}
			if sink != nil {
				reg.RingDepth.WithLabelValues("exchange_log").Set(float64(sink.Depth()))
			}
		}
	}
}

func publishTradeEvent(bus *eventbus.Bus, resp wire.ClientResponse) {
	var evType eventbus.EventType
	switch resp.MsgType {
	case wire.MsgAccepted:
		evType = eventbus.EventOrderAccepted
	case wire.MsgFilled:
		evType = eventbus.EventOrderFilled
	case wire.MsgCanceled:
		evType = eventbus.EventOrderCanceled
	case wire.MsgInvalidRequest, wire.MsgCancelRejected:
		evType = eventbus.EventOrderRejected
	default:
		return
	}
	_ = bus.Publish(eventbus.TradeEvent{
		Type: evType, Ticker: resp.TickerId, OrderId: resp.MarketOrderId,
		Side: int8(resp.Side), Price: resp.Price, Qty: resp.ExecQty,
	})
}
