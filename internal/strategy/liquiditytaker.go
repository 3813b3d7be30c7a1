package strategy

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/abdoElHodaky/lowlatency-trading/internal/feature"
	"github.com/abdoElHodaky/lowlatency-trading/internal/risk"
	"github.com/abdoElHodaky/lowlatency-trading/internal/tradeengine"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// LiquidityTakerConfig parameterizes signal sensitivity, sizing, and
// the multiplicative cooldown between aggressive orders.
type LiquidityTakerConfig struct {
	Ticker           wire.TickerId
	SignalThreshold  float64
	BaseQty          wire.Qty
	MaxQty           wire.Qty
	AggressionBps    float64
	MinOrderInterval time.Duration
	MaxPosition      int64
}

// LiquidityTaker crosses the spread when |trade_signal| exceeds a
// threshold, rate-limited by a cooldown that stretches after every send
// and halves on a fill — modeled with golang.org/x/time/rate.Limiter
// rather than a hand-rolled token bucket.
type LiquidityTaker struct {
	cfg      LiquidityTakerConfig
	limiter  *rate.Limiter
	cooldown time.Duration
}

// NewLiquidityTaker builds a LiquidityTaker for cfg.
func NewLiquidityTaker(cfg LiquidityTakerConfig) *LiquidityTaker {
	return &LiquidityTaker{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.MinOrderInterval), 1),
		cooldown: cfg.MinOrderInterval,
	}
}

// OnFeatureUpdate fires an aggressive order crossing the opposing best
// when the signal is strong enough, the cooldown has elapsed, and doing
// so would not breach the position limit.
func (lt *LiquidityTaker) OnFeatureUpdate(eng *tradeengine.Engine, snap feature.Snapshot) {
	if absf(snap.TradeSignal) < lt.cfg.SignalThreshold {
		return
	}
	if !lt.limiter.Allow() {
		return
	}

	side := wire.SideBuy
	if snap.TradeSignal < 0 {
		side = wire.SideSell
	}

	qty := lt.sizeForSignal(snap.TradeSignal)

	pos := eng.Pos.Position(lt.cfg.Ticker)
	projected := pos.Pos + side.Sign()*int64(qty)
	if lt.cfg.MaxPosition > 0 && absInt64(projected) > lt.cfg.MaxPosition {
		return
	}

	bbo := eng.BBO(lt.cfg.Ticker)
	price := lt.crossingPrice(side, bbo)

	verdict, _ := eng.SubmitOrder(lt.cfg.Ticker, side, price, qty)
	if verdict == risk.Allowed {
		lt.afterSend()
	}
}

// OnFill halves the cooldown after a fill, per §4.12.
func (lt *LiquidityTaker) OnFill() {
	lt.cooldown /= 2
	if lt.cooldown < time.Microsecond {
		lt.cooldown = time.Microsecond
	}
	lt.limiter.SetLimit(rate.Every(lt.cooldown))
}

// afterSend stretches the cooldown multiplicatively, capped at 10x the
// configured base interval.
func (lt *LiquidityTaker) afterSend() {
	lt.cooldown *= 2
	if max := lt.cfg.MinOrderInterval * 10; lt.cooldown > max {
		lt.cooldown = max
	}
	lt.limiter.SetLimit(rate.Every(lt.cooldown))
}

// sizeForSignal linearly scales quantity from BaseQty to MaxQty as the
// signal moves from the threshold to +-1.
func (lt *LiquidityTaker) sizeForSignal(signal float64) wire.Qty {
	if lt.cfg.MaxQty <= lt.cfg.BaseQty {
		return lt.cfg.BaseQty
	}
	span := 1 - lt.cfg.SignalThreshold
	if span <= 0 {
		return lt.cfg.BaseQty
	}
	frac := (absf(signal) - lt.cfg.SignalThreshold) / span
	frac = clamp01(frac)
	return lt.cfg.BaseQty + wire.Qty(frac*float64(lt.cfg.MaxQty-lt.cfg.BaseQty))
}

func (lt *LiquidityTaker) crossingPrice(side wire.Side, bbo feature.BBO) wire.Price {
	if side == wire.SideBuy {
		return wire.Price(float64(bbo.AskPrice) * (1 + lt.cfg.AggressionBps/10000))
	}
	return wire.Price(float64(bbo.BidPrice) * (1 - lt.cfg.AggressionBps/10000))
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
