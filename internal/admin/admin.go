// Package admin exposes an operator-facing REST API over the exchange's
// live state: per-instrument book depth, position snapshots, and risk
// limits. It is a control/observability surface, not part of the hot
// trading path.
package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginswagger "github.com/swaggo/gin-swagger"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/abdoElHodaky/lowlatency-trading/internal/book"
	"github.com/abdoElHodaky/lowlatency-trading/internal/position"
	"github.com/abdoElHodaky/lowlatency-trading/internal/risk"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// BookSource answers read-only queries about a live order book, so the
// admin API can report depth without taking a lock on the matching
// engine's write path.
type BookSource interface {
	Book(ticker wire.TickerId) (*book.Book, bool)
}

// ProtocolSource answers the order server's accepted wire-protocol
// version range, for the /v1/protocol operator endpoint.
type ProtocolSource interface {
	ProtocolConstraint() string
}

// Server is the admin HTTP surface: a gin.Engine wired with CORS, a
// request-rate limiter, Swagger UI, and handlers that read from the
// exchange's live state.
type Server struct {
	engine      *gin.Engine
	books       BookSource
	pos         *position.Keeper
	risk        *risk.Manager
	proto       ProtocolSource
	rateLimiter *limiter.Limiter
}

// New builds the admin server's routes. ratePerSecond bounds requests
// per client IP via an in-memory token bucket (ulule/limiter); a
// persistent store would replace memory.NewStore() for a
// multi-instance deployment. proto may be nil, in which case
// /v1/protocol reports an empty constraint.
func New(books BookSource, pos *position.Keeper, riskMgr *risk.Manager, proto ProtocolSource, ratePerSecond int64) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	rate := limiter.Rate{Period: time.Second, Limit: ratePerSecond}
	store := memory.NewStore()

	s := &Server{engine: engine, books: books, pos: pos, risk: riskMgr, proto: proto, rateLimiter: limiter.New(store, rate)}
	engine.Use(s.rateLimit())
	s.routes()
	return s
}

// rateLimit enforces the per-client-IP token bucket, mirroring the
// teacher's hand-rolled security middleware rather than a third-party
// gin adapter.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		limiterCtx, err := s.rateLimiter.Get(ctx, c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limiter unavailable"})
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Limit", itoa64(limiterCtx.Limit))
		c.Header("X-RateLimit-Remaining", itoa64(limiterCtx.Remaining))
		if limiterCtx.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func itoa64(v int64) string { return fmt.Sprintf("%d", v) }

// Handler returns the http.Handler to mount behind a net/http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/v1/books/:ticker", s.handleBookDepth)
	s.engine.GET("/v1/positions/:ticker", s.handlePosition)
	s.engine.GET("/v1/positions", s.handleAllPositions)
	s.engine.GET("/v1/risk/limits", s.handleRiskLimits)
	s.engine.GET("/v1/protocol", s.handleProtocol)
	s.engine.GET("/swagger/*any", ginswagger.WrapHandler(swaggerfiles.Handler))
}

// handleHealthz godoc
// @Summary Liveness probe
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleBookDepth godoc
// @Summary Best bid/ask and level counts for one instrument
// @Param ticker path int true "Ticker id"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /v1/books/{ticker} [get]
func (s *Server) handleBookDepth(c *gin.Context) {
	ticker, ok := parseTicker(c)
	if !ok {
		return
	}
	b, ok := s.books.Book(ticker)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ticker"})
		return
	}
	bidPrice, bidOk := b.BestBid()
	askPrice, askOk := b.BestAsk()
	c.JSON(http.StatusOK, gin.H{
		"ticker_id":      ticker,
		"best_bid":       bidPrice,
		"has_bid":        bidOk,
		"best_ask":       askPrice,
		"has_ask":        askOk,
		"bid_levels":     b.BidLevelCount(),
		"ask_levels":     b.AskLevelCount(),
		"resting_orders": b.OrderCount(),
	})
}

// handlePosition godoc
// @Summary Position and P&L for one instrument
// @Param ticker path int true "Ticker id"
// @Success 200 {object} map[string]interface{}
// @Router /v1/positions/{ticker} [get]
func (s *Server) handlePosition(c *gin.Context) {
	ticker, ok := parseTicker(c)
	if !ok {
		return
	}
	p := s.pos.Position(ticker)
	c.JSON(http.StatusOK, gin.H{
		"ticker_id":      ticker,
		"position":       p.Pos,
		"avg_open_price": p.AvgOpenPrice,
		"realized_pnl":   p.Realized,
		"unrealized_pnl": p.Unrealized,
	})
}

// handleAllPositions godoc
// @Summary Aggregate P&L across every instrument
// @Success 200 {object} map[string]interface{}
// @Router /v1/positions [get]
func (s *Server) handleAllPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"total_pnl": s.pos.TotalPnL()})
}

// handleRiskLimits godoc
// @Summary Default risk gate limits in effect
// @Success 200 {object} risk.Limits
// @Router /v1/risk/limits [get]
func (s *Server) handleRiskLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.risk.SystemDefaults())
}

// handleProtocol godoc
// @Summary Wire-protocol semver range this exchange accepts from clients
// @Success 200 {object} map[string]string
// @Router /v1/protocol [get]
func (s *Server) handleProtocol(c *gin.Context) {
	constraint := ""
	if s.proto != nil {
		constraint = s.proto.ProtocolConstraint()
	}
	c.JSON(http.StatusOK, gin.H{"accepted_range": constraint})
}

func parseTicker(c *gin.Context) (wire.TickerId, bool) {
	var id uint64
	_, err := fmt.Sscan(c.Param("ticker"), &id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticker id"})
		return 0, false
	}
	return wire.TickerId(id), true
}
