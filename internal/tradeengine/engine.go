// Package tradeengine is the client-side orchestrator: it fuses
// incoming market data into a top-of-book view, feeds the feature
// engine, runs pre-trade risk checks, tracks pending orders, and drives
// the position keeper from fills — the client-side analogue of
// internal/matchengine on the exchange side.
package tradeengine

import (
	"strconv"

	"github.com/abdoElHodaky/lowlatency-trading/internal/clock"
	"github.com/abdoElHodaky/lowlatency-trading/internal/feature"
	"github.com/abdoElHodaky/lowlatency-trading/internal/metrics"
	"github.com/abdoElHodaky/lowlatency-trading/internal/position"
	"github.com/abdoElHodaky/lowlatency-trading/internal/risk"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// TrackedOrder is the client's view of an order it has sent but not yet
// had fully resolved by the exchange, per §3's TrackedOrder record.
type TrackedOrder struct {
	OrderId     wire.OrderId
	Ticker      wire.TickerId
	Side        wire.Side
	Price       wire.Price
	OriginalQty wire.Qty
	LeavesQty   wire.Qty
	SentTime    uint64
}

// SubmitFunc sends a new order to the exchange and returns the id
// assigned to it (the gateway's local, monotonic id).
type SubmitFunc func(ticker wire.TickerId, side wire.Side, price wire.Price, qty wire.Qty) wire.OrderId

// CancelFunc sends a cancel for an outstanding order.
type CancelFunc func(ticker wire.TickerId, orderID wire.OrderId)

// Stats counts engine activity for observability.
type Stats struct {
	OrdersSubmitted  uint64
	OrdersRejected   uint64
	ResponsesHandled uint64
	UpdatesHandled   uint64
}

// Engine is the client-side event processor.
type Engine struct {
	Feature *feature.Engine
	Risk    *risk.Manager
	Pos     *position.Keeper

	submit SubmitFunc
	cancel CancelFunc
	clk    clock.Clock
	reg    *metrics.Registry

	bbo          map[wire.TickerId]feature.BBO
	pending      map[wire.OrderId]*TrackedOrder
	openOrderCnt map[wire.TickerId]int
	maxPerCycle  int
	running      bool
	Stats        Stats
}

// New builds an Engine backed by the system clock. maxEventsPerCycle caps
// how many responses+updates RunCycle processes in one call.
func New(fe *feature.Engine, rm *risk.Manager, pk *position.Keeper, submit SubmitFunc, cancel CancelFunc, maxEventsPerCycle int) *Engine {
	return &Engine{
		Feature:      fe,
		Risk:         rm,
		Pos:          pk,
		submit:       submit,
		cancel:       cancel,
		clk:          clock.System{},
		bbo:          make(map[wire.TickerId]feature.BBO),
		pending:      make(map[wire.OrderId]*TrackedOrder),
		openOrderCnt: make(map[wire.TickerId]int),
		maxPerCycle:  maxEventsPerCycle,
		running:      true,
	}
}

// SetClock overrides the engine's time source, per the teacher's
// convention of injecting clock.Clock rather than reading time.Now
// directly. Intended for tests that need deterministic SentTime values.
func (e *Engine) SetClock(c clock.Clock) { e.clk = c }

// SetMetrics wires a metrics.Registry so risk-gate rejections increment
// RiskGateTripped. Optional: a nil registry (the default) disables
// metrics entirely rather than requiring every caller to provide one.
func (e *Engine) SetMetrics(r *metrics.Registry) { e.reg = r }

// Stop halts processing; RunCycle becomes a no-op.
func (e *Engine) Stop() { e.running = false }

// Running reports whether the engine is still processing events.
func (e *Engine) Running() bool { return e.running }

// BBO returns the current top-of-book for ticker.
func (e *Engine) BBO(ticker wire.TickerId) feature.BBO {
	return e.bbo[ticker]
}

// OnMarketUpdate applies a single MarketUpdate delta to the tracked BBO
// per §4.11's rules, then pushes the result into the feature engine and
// returns the resulting snapshot (ok is false when the BBO isn't yet
// fully valid). Callers must not also push the same update into the
// feature engine themselves — that would double-apply its EMA state.
func (e *Engine) OnMarketUpdate(u wire.MarketUpdate) (feature.Snapshot, bool) {
	cur := e.bbo[u.TickerId]
	if cur.BidPrice == 0 {
		cur.BidPrice = wire.InvalidPrice
	}
	if cur.AskPrice == 0 {
		cur.AskPrice = wire.InvalidPrice
	}

	switch u.MsgType {
	case wire.MsgAdd, wire.MsgModify, wire.MsgSnapshot:
		if u.Side == wire.SideBuy {
			if cur.BidPrice == wire.InvalidPrice || u.Price > cur.BidPrice {
				cur.BidPrice, cur.BidQty = u.Price, u.Qty
			} else if u.Price == cur.BidPrice {
				cur.BidQty = u.Qty
			}
		} else {
			if cur.AskPrice == wire.InvalidPrice || u.Price < cur.AskPrice {
				cur.AskPrice, cur.AskQty = u.Price, u.Qty
			} else if u.Price == cur.AskPrice {
				cur.AskQty = u.Qty
			}
		}
	case wire.MsgCancelUp:
		reduceAtBBO(&cur, u)
	case wire.MsgTrade:
		reduceAtBBO(&cur, u)
		e.Pos.UpdateMarketPrice(u.TickerId, u.Price)
	case wire.MsgClear:
		cur = feature.BBO{BidPrice: wire.InvalidPrice, AskPrice: wire.InvalidPrice}
	}

	e.bbo[u.TickerId] = cur
	return e.Feature.OnBBOUpdate(u.TickerId, cur)
}

// reduceAtBBO saturates the BBO qty on u's side down by u.Qty (or to
// zero if u.Qty==0), without demoting to the next price level — the
// depth-limited simplification documented in §9.
func reduceAtBBO(cur *feature.BBO, u wire.MarketUpdate) {
	if u.Side == wire.SideBuy {
		if u.Price != cur.BidPrice {
			return
		}
		cur.BidQty = satSub(cur.BidQty, u.Qty)
	} else {
		if u.Price != cur.AskPrice {
			return
		}
		cur.AskQty = satSub(cur.AskQty, u.Qty)
	}
}

func satSub(a, b wire.Qty) wire.Qty {
	if b == 0 {
		return 0
	}
	if b >= a {
		return 0
	}
	return a - b
}

// SubmitOrder evaluates pre-trade risk and, if allowed, invokes the
// submit callback and begins tracking the resulting order. It returns
// the risk verdict; OrderId is only meaningful when the verdict is
// Allowed.
func (e *Engine) SubmitOrder(ticker wire.TickerId, side wire.Side, price wire.Price, qty wire.Qty) (risk.CheckResult, wire.OrderId) {
	pos := e.Pos.Position(ticker)
	verdict := e.Risk.CheckOrderWithOpenOrders(ticker, e.openOrderCnt[ticker], pos, side, qty, price)
	if verdict != risk.Allowed {
		e.Stats.OrdersRejected++
		if e.reg != nil {
			e.reg.RiskGateTripped.WithLabelValues(strconv.FormatUint(uint64(ticker), 10), verdict.String()).Inc()
		}
		return verdict, wire.InvalidOrderId
	}

	orderID := e.submit(ticker, side, price, qty)
	e.pending[orderID] = &TrackedOrder{
		OrderId:     orderID,
		Ticker:      ticker,
		Side:        side,
		Price:       price,
		OriginalQty: qty,
		LeavesQty:   qty,
		SentTime:    e.clk.NowNanos(),
	}
	e.openOrderCnt[ticker]++
	pos.AddOpenOrder(side, qty)
	e.Stats.OrdersSubmitted++
	return risk.Allowed, orderID
}

// CancelOrder requests cancellation of orderID through the cancel
// callback without changing any tracked state — that happens only when
// the exchange's response arrives via OnResponse.
func (e *Engine) CancelOrder(orderID wire.OrderId) {
	t, ok := e.pending[orderID]
	if !ok {
		return
	}
	e.cancel(t.Ticker, orderID)
}

// CancelAllOrders requests cancellation of every pending order on
// ticker.
func (e *Engine) CancelAllOrders(ticker wire.TickerId) {
	for id, t := range e.pending {
		if t.Ticker == ticker {
			e.cancel(ticker, id)
		}
	}
}

// OnResponse applies an exchange ClientResponse to tracked order state,
// per §4.11.
func (e *Engine) OnResponse(resp wire.ClientResponse) {
	e.Stats.ResponsesHandled++
	t, ok := e.pending[resp.ClientOrderId]
	if !ok {
		return
	}

	switch resp.MsgType {
	case wire.MsgAccepted:
		// No state change; the order is already tracked.
	case wire.MsgFilled:
		e.Pos.OnFill(t.Ticker, t.Side, resp.ExecQty, resp.Price)
		e.Pos.Position(t.Ticker).RemoveOpenOrder(t.Side, resp.ExecQty)
		if resp.LeavesQty == 0 {
			delete(e.pending, resp.ClientOrderId)
			e.openOrderCnt[t.Ticker]--
		} else {
			t.LeavesQty = resp.LeavesQty
		}
	case wire.MsgCanceled, wire.MsgCancelRejected, wire.MsgInvalidRequest:
		e.Pos.Position(t.Ticker).RemoveOpenOrder(t.Side, t.LeavesQty)
		delete(e.pending, resp.ClientOrderId)
		e.openOrderCnt[t.Ticker]--
	}
}

// RunCycle processes up to maxEventsPerCycle events total, responses
// before market updates, and returns the number processed. It is a
// no-op once the engine has been stopped.
func (e *Engine) RunCycle(responses []wire.ClientResponse, updates []wire.MarketUpdate) int {
	if !e.running {
		return 0
	}
	processed := 0
	for _, r := range responses {
		if processed >= e.maxPerCycle {
			return processed
		}
		e.OnResponse(r)
		processed++
	}
	for _, u := range updates {
		if processed >= e.maxPerCycle {
			return processed
		}
		e.OnMarketUpdate(u)
		e.Stats.UpdatesHandled++
		processed++
	}
	return processed
}

// PendingCount returns the number of orders currently tracked.
func (e *Engine) PendingCount() int { return len(e.pending) }

// OpenOrderCount returns the tracked open-order count for ticker.
func (e *Engine) OpenOrderCount(ticker wire.TickerId) int { return e.openOrderCnt[ticker] }
