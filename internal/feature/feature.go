// Package feature computes per-instrument derived signals — a smoothed
// fair value, spread, mid price, order-book imbalance, and a composite
// trade signal — from the top-of-book state the client tracks.
package feature

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// BBO is the top-of-book state fed into the feature engine.
type BBO struct {
	BidPrice wire.Price
	BidQty   wire.Qty
	AskPrice wire.Price
	AskQty   wire.Qty
}

// Valid reports whether both sides are present with positive quantity.
func (b BBO) Valid() bool {
	return b.BidQty > 0 && b.AskQty > 0 && b.BidPrice != wire.InvalidPrice && b.AskPrice != wire.InvalidPrice
}

// Snapshot is the derived per-instrument feature state.
type Snapshot struct {
	FairValue   wire.Price
	Spread      wire.Price
	MidPrice    wire.Price
	Imbalance   float64
	TradeSignal float64
	// Volatility is a supplementary statistic, not one of the five core
	// formulas: the sample variance of recent mid prices, via
	// gonum/stat. Strategies may use it to widen quotes in choppy
	// markets; nothing in §4.8's formulas depends on it.
	Volatility float64
}

// Engine tracks per-instrument feature state. alpha is the EMA smoothing
// factor, clamped to [0,1] at construction.
type Engine struct {
	alpha     float64
	instruments map[wire.TickerId]*state
}

type state struct {
	hasFairValue bool
	fairValue    float64
	midHistory   []float64
}

const volatilityWindow = 20

// New builds a feature engine with the given EMA alpha, clamped to
// [0, 1]. The spec's default is 0.1.
func New(alpha float64) *Engine {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &Engine{alpha: alpha, instruments: make(map[wire.TickerId]*state)}
}

// OnBBOUpdate recomputes the instrument's feature snapshot from the
// current BBO. It returns ok=false, leaving state untouched, when the
// BBO is not fully valid.
func (e *Engine) OnBBOUpdate(ticker wire.TickerId, bbo BBO) (Snapshot, bool) {
	if !bbo.Valid() {
		return Snapshot{}, false
	}
	st, ok := e.instruments[ticker]
	if !ok {
		st = &state{}
		e.instruments[ticker] = st
	}

	mid := float64(bbo.BidPrice+bbo.AskPrice) / 2

	if !st.hasFairValue {
		st.fairValue = mid
		st.hasFairValue = true
	} else {
		st.fairValue = e.alpha*mid + (1-e.alpha)*st.fairValue
	}

	st.midHistory = append(st.midHistory, mid)
	if len(st.midHistory) > volatilityWindow {
		st.midHistory = st.midHistory[len(st.midHistory)-volatilityWindow:]
	}

	spread := float64(bbo.AskPrice - bbo.BidPrice)

	totalQty := float64(bbo.BidQty) + float64(bbo.AskQty)
	imbalance := 0.0
	if totalQty > 0 {
		imbalance = (float64(bbo.BidQty) - float64(bbo.AskQty)) / totalQty
	}

	fvSig := 0.0
	if spread > 0 {
		fvSig = clamp((st.fairValue-mid)/spread, -1, 1)
	}
	tradeSignal := clamp(0.7*fvSig+0.3*imbalance, -1, 1)

	var volatility float64
	if len(st.midHistory) >= 2 {
		_, volatility = stat.MeanVariance(st.midHistory, nil)
	}

	return Snapshot{
		FairValue:   wire.Price(math.Round(st.fairValue)),
		Spread:      wire.Price(spread),
		MidPrice:    wire.Price(math.Round(mid)),
		Imbalance:   imbalance,
		TradeSignal: tradeSignal,
		Volatility:  volatility,
	}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
