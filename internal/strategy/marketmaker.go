// Package strategy holds the two reference strategies described in
// §4.12: a passive market maker that quotes both sides around the
// smoothed fair value, and a liquidity taker that crosses the spread
// when the trade signal is strong enough.
package strategy

import (
	talib "github.com/markcheno/go-talib"

	"github.com/abdoElHodaky/lowlatency-trading/internal/feature"
	"github.com/abdoElHodaky/lowlatency-trading/internal/tradeengine"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// fairValueHistoryLen bounds how much fair-value history the market
// maker keeps for EMA smoothing; beyond this, older points are dropped.
const fairValueHistoryLen = 64

// MarketMakerConfig parameterizes quote width, skew, and sizing.
type MarketMakerConfig struct {
	Ticker               wire.TickerId
	BaseQty              wire.Qty
	HalfSpread           wire.Price
	MinSpread            wire.Price
	MaxPosition          int64
	SkewFactor           float64
	PriceUpdateThreshold wire.Price

	// SmoothingPeriod is the go-talib EMA period applied to the fair
	// value history before quoting, to damp tick-to-tick jitter beyond
	// what the feature engine's own EMA already smooths. Zero disables
	// smoothing and quotes directly off snap.FairValue.
	SmoothingPeriod int
}

// MarketMaker quotes both sides of the book around the feature engine's
// fair value, widening and skewing by order-book imbalance and scaling
// size down as position approaches its limit.
type MarketMaker struct {
	cfg MarketMakerConfig

	hasQuote bool
	quoteBid wire.Price
	quoteAsk wire.Price
	bidOrder wire.OrderId
	askOrder wire.OrderId

	fvHistory []float64
}

// NewMarketMaker builds a MarketMaker for cfg.
func NewMarketMaker(cfg MarketMakerConfig) *MarketMaker {
	return &MarketMaker{cfg: cfg}
}

// OnFeatureUpdate recomputes target quotes from the current fair value
// and imbalance, and requotes through the engine when either side has
// moved by at least PriceUpdateThreshold (or there is no prior quote).
func (m *MarketMaker) OnFeatureUpdate(eng *tradeengine.Engine, snap feature.Snapshot) {
	fairValue := m.smoothedFairValue(snap.FairValue)

	halfSpread := float64(m.cfg.HalfSpread)
	widened := halfSpread + 0.5*absf(snap.Imbalance)*halfSpread
	if widened < float64(m.cfg.MinSpread) {
		widened = float64(m.cfg.MinSpread)
	}
	skew := 0.2 * snap.Imbalance * widened

	bid := wire.Price(fairValue - widened - skew)
	ask := wire.Price(fairValue + widened - skew)
	if bid >= ask {
		ask = bid + 1
	}

	pos := eng.Pos.Position(m.cfg.Ticker).Pos
	bidQty, askQty := m.sizeForPosition(pos)

	if m.hasQuote && absPrice(bid-m.quoteBid) < m.cfg.PriceUpdateThreshold && absPrice(ask-m.quoteAsk) < m.cfg.PriceUpdateThreshold {
		return
	}

	if m.hasQuote {
		eng.CancelOrder(m.bidOrder)
		eng.CancelOrder(m.askOrder)
	}

	if bidQty > 0 {
		if _, id := eng.SubmitOrder(m.cfg.Ticker, wire.SideBuy, bid, bidQty); id != wire.InvalidOrderId {
			m.bidOrder = id
		}
	}
	if askQty > 0 {
		if _, id := eng.SubmitOrder(m.cfg.Ticker, wire.SideSell, ask, askQty); id != wire.InvalidOrderId {
			m.askOrder = id
		}
	}

	m.quoteBid, m.quoteAsk, m.hasQuote = bid, ask, true
}

// smoothedFairValue appends the latest fair value to the rolling
// history and, once SmoothingPeriod points are available, returns
// go-talib's EMA over that history instead of the raw value — damping
// quote jitter beyond what the feature engine's own per-tick EMA
// already does. This does not change the feature engine's fair_value
// formula itself (see internal/feature), only what the market maker
// quotes off of.
func (m *MarketMaker) smoothedFairValue(raw wire.Price) float64 {
	if m.cfg.SmoothingPeriod <= 0 {
		return float64(raw)
	}
	m.fvHistory = append(m.fvHistory, float64(raw))
	if len(m.fvHistory) > fairValueHistoryLen {
		m.fvHistory = m.fvHistory[len(m.fvHistory)-fairValueHistoryLen:]
	}
	if len(m.fvHistory) < m.cfg.SmoothingPeriod {
		return float64(raw)
	}
	ema := talib.Ema(m.fvHistory, m.cfg.SmoothingPeriod)
	return ema[len(ema)-1]
}

// sizeForPosition scales bid/ask size down linearly as position
// approaches max long/short, per §4.12: at max-long, bid qty is zero; at
// max-short, ask qty is zero.
func (m *MarketMaker) sizeForPosition(pos int64) (bidQty, askQty wire.Qty) {
	if m.cfg.MaxPosition <= 0 {
		return m.cfg.BaseQty, m.cfg.BaseQty
	}
	skewFactor := (float64(pos) / float64(m.cfg.MaxPosition)) * m.cfg.SkewFactor

	bidScale := clamp01(1 - skewFactor)
	askScale := clamp01(1 + skewFactor)

	if pos >= m.cfg.MaxPosition {
		bidScale = 0
	}
	if pos <= -m.cfg.MaxPosition {
		askScale = 0
	}

	return wire.Qty(float64(m.cfg.BaseQty) * bidScale), wire.Qty(float64(m.cfg.BaseQty) * askScale)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absPrice(v wire.Price) wire.Price {
	if v < 0 {
		return -v
	}
	return v
}
