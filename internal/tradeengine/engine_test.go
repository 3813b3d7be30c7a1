package tradeengine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/lowlatency-trading/internal/clock"
	"github.com/abdoElHodaky/lowlatency-trading/internal/feature"
	"github.com/abdoElHodaky/lowlatency-trading/internal/metrics"
	"github.com/abdoElHodaky/lowlatency-trading/internal/position"
	"github.com/abdoElHodaky/lowlatency-trading/internal/risk"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

func newTestEngine(t *testing.T) (*Engine, *[]wire.OrderId, *[]wire.OrderId) {
	t.Helper()
	var submitted []wire.OrderId
	var canceled []wire.OrderId
	var nextID wire.OrderId = 1

	submit := func(ticker wire.TickerId, side wire.Side, price wire.Price, qty wire.Qty) wire.OrderId {
		id := nextID
		nextID++
		submitted = append(submitted, id)
		return id
	}
	cancel := func(ticker wire.TickerId, orderID wire.OrderId) {
		canceled = append(canceled, orderID)
	}

	e := New(feature.New(0.1), risk.NewManager(risk.DefaultLimits()), position.NewKeeper(), submit, cancel, 100)
	return e, &submitted, &canceled
}

func TestOnMarketUpdateAddSetsBBO(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 10})
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideSell, Price: 110, Qty: 20})

	bbo := e.BBO(1)
	assert.Equal(t, wire.Price(100), bbo.BidPrice)
	assert.Equal(t, wire.Qty(10), bbo.BidQty)
	assert.Equal(t, wire.Price(110), bbo.AskPrice)
	assert.Equal(t, wire.Qty(20), bbo.AskQty)
}

func TestOnMarketUpdateBetterBidReplaces(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 10})
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 105, Qty: 5})
	bbo := e.BBO(1)
	assert.Equal(t, wire.Price(105), bbo.BidPrice)
	assert.Equal(t, wire.Qty(5), bbo.BidQty)
}

func TestOnMarketUpdateWorseBidIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 105, Qty: 5})
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 10})
	bbo := e.BBO(1)
	assert.Equal(t, wire.Price(105), bbo.BidPrice)
	assert.Equal(t, wire.Qty(5), bbo.BidQty)
}

func TestOnMarketUpdateCancelReducesQtyWithoutDemoting(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 10})
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgCancelUp, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 4})
	bbo := e.BBO(1)
	assert.Equal(t, wire.Price(100), bbo.BidPrice)
	assert.Equal(t, wire.Qty(6), bbo.BidQty)
}

func TestOnMarketUpdateClearResetsBBO(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 10})
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgClear, TickerId: 1})
	bbo := e.BBO(1)
	assert.Equal(t, wire.InvalidPrice, bbo.BidPrice)
}

func TestOnMarketUpdateTradeForwardsToPositionKeeper(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 10})
	e.Pos.OnFill(1, wire.SideBuy, 10, 90)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgTrade, TickerId: 1, Side: wire.SideBuy, Price: 100, Qty: 5})
	assert.Equal(t, wire.Price(100), e.Pos.Position(1).LastPrice)
}

func TestOnMarketUpdateReturnsSnapshotWithoutDoubleApplyingEMA(t *testing.T) {
	// alpha=0.1: mid starts at 100 (bid=99/ask=101), seeding fair_value=100.
	// The bid then improves to 121 (ask unchanged at 101), moving mid to
	// 111. A single EMA application gives
	// fair_value = round(0.1*111 + 0.9*100) = 101. If a caller (e.g.
	// cmd/client) pushed the same update into the feature engine a second
	// time on top of what OnMarketUpdate already does internally, the
	// second apply would be 0.1*111 + 0.9*101 = 102, diverging from the
	// single-application value - this guards against that regression.
	e, _, _ := newTestEngine(t)
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 99, Qty: 50})
	e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideSell, Price: 101, Qty: 50})

	snap, ok := e.OnMarketUpdate(wire.MarketUpdate{MsgType: wire.MsgModify, TickerId: 1, Side: wire.SideBuy, Price: 121, Qty: 50})
	require.True(t, ok)
	assert.Equal(t, wire.Price(101), snap.FairValue)
}

func TestSubmitOrderAllowedTracksPendingOrder(t *testing.T) {
	e, submitted, _ := newTestEngine(t)
	verdict, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)
	require.Equal(t, risk.Allowed, verdict)
	assert.Len(t, *submitted, 1)
	assert.Equal(t, 1, e.PendingCount())
	assert.Equal(t, 1, e.OpenOrderCount(1))
	assert.Equal(t, wire.Qty(10), e.Pos.Position(1).OpenBuyQty)
	_ = id
}

func TestSubmitOrderRejectedDoesNotCallSubmit(t *testing.T) {
	e, submitted, _ := newTestEngine(t)
	verdict, id := e.SubmitOrder(1, wire.SideBuy, 100, 1_000_000)
	assert.Equal(t, risk.OrderTooLarge, verdict)
	assert.Equal(t, wire.InvalidOrderId, id)
	assert.Empty(t, *submitted)
	assert.Equal(t, 0, e.PendingCount())
	assert.Equal(t, uint64(1), e.Stats.OrdersRejected)
}

func TestOnResponseFilledWithZeroLeavesRemovesPending(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)
	e.OnResponse(wire.ClientResponse{MsgType: wire.MsgFilled, ClientOrderId: id, ExecQty: 10, LeavesQty: 0, Price: 100})
	assert.Equal(t, 0, e.PendingCount())
	assert.Equal(t, 0, e.OpenOrderCount(1))
	assert.Equal(t, int64(10), e.Pos.Position(1).Pos)
}

func TestOnResponsePartialFillKeepsPendingUpdated(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)
	e.OnResponse(wire.ClientResponse{MsgType: wire.MsgFilled, ClientOrderId: id, ExecQty: 4, LeavesQty: 6, Price: 100})
	assert.Equal(t, 1, e.PendingCount())
	assert.Equal(t, int64(4), e.Pos.Position(1).Pos)
}

func TestOnResponseCanceledRemovesPendingAndOpenOrderExposure(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)
	e.OnResponse(wire.ClientResponse{MsgType: wire.MsgCanceled, ClientOrderId: id, LeavesQty: 10})
	assert.Equal(t, 0, e.PendingCount())
	assert.Equal(t, wire.Qty(0), e.Pos.Position(1).OpenBuyQty)
}

func TestCancelOrderInvokesCallbackWithoutChangingState(t *testing.T) {
	e, _, canceled := newTestEngine(t)
	_, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)
	e.CancelOrder(id)
	assert.Equal(t, []wire.OrderId{id}, *canceled)
	assert.Equal(t, 1, e.PendingCount(), "state changes only once the exchange responds")
}

func TestRunCycleProcessesResponsesBeforeUpdates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)

	responses := []wire.ClientResponse{
		{MsgType: wire.MsgFilled, ClientOrderId: id, ExecQty: 10, LeavesQty: 0, Price: 100},
	}
	updates := []wire.MarketUpdate{
		{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 99, Qty: 1},
	}
	processed := e.RunCycle(responses, updates)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, e.PendingCount())
	assert.Equal(t, uint64(1), e.Stats.UpdatesHandled)
}

func TestRunCycleCapsAtMaxEvents(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.maxPerCycle = 1
	updates := []wire.MarketUpdate{
		{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 99, Qty: 1},
		{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 98, Qty: 1},
	}
	processed := e.RunCycle(nil, updates)
	assert.Equal(t, 1, processed)
}

func TestRunCycleNoOpWhenStopped(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Stop()
	processed := e.RunCycle(nil, []wire.MarketUpdate{{MsgType: wire.MsgAdd, TickerId: 1, Side: wire.SideBuy, Price: 1, Qty: 1}})
	assert.Equal(t, 0, processed)
	assert.False(t, e.Running())
}

func TestSubmitOrderStampsSentTimeFromInjectedClock(t *testing.T) {
	e, _, _ := newTestEngine(t)
	fake := clock.NewFake(1_000)
	e.SetClock(fake)

	_, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)
	require.Equal(t, uint64(1_000), e.pending[id].SentTime)

	fake.Advance(500)
	_, id2 := e.SubmitOrder(1, wire.SideBuy, 100, 5)
	assert.Equal(t, uint64(1_500), e.pending[id2].SentTime)
}

func TestSubmitOrderTracksFullOrderRecord(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, id := e.SubmitOrder(1, wire.SideBuy, 100, 10)

	tracked := e.pending[id]
	require.NotNil(t, tracked)
	assert.Equal(t, id, tracked.OrderId)
	assert.Equal(t, wire.TickerId(1), tracked.Ticker)
	assert.Equal(t, wire.SideBuy, tracked.Side)
	assert.Equal(t, wire.Price(100), tracked.Price)
	assert.Equal(t, wire.Qty(10), tracked.OriginalQty)
	assert.Equal(t, wire.Qty(10), tracked.LeavesQty)
}

func TestSubmitOrderRejectedIncrementsRiskGateMetric(t *testing.T) {
	e, _, _ := newTestEngine(t)
	reg := metrics.NewRegistry()
	e.SetMetrics(reg)

	verdict, _ := e.SubmitOrder(1, wire.SideBuy, 100, 1_000_000)
	require.Equal(t, risk.OrderTooLarge, verdict)
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.RiskGateTripped.WithLabelValues("1", "order_too_large")))
}
