// Package matchengine routes ClientRequests to per-ticker order books and
// translates the result into a ClientResponse plus zero or more
// MarketUpdate deltas, following the request/response/update shape of
// the original exchange/src/matching_engine.rs.
//
// The reference here, like the original, tracks resting orders and
// emits Add/Cancel deltas without crossing prices. MatchOrder is left as
// an exported extension seam that returns no fills and the full quantity
// as remaining: a correct implementation walks the
// opposite side from the best price outward, consuming chain-head
// orders, emitting Trade deltas at the crossing side's price, and
// stopping once the incoming order is exhausted or the best opposing
// price is no longer marketable. No caller in this repo invokes it yet.
package matchengine

import (
	"github.com/abdoElHodaky/lowlatency-trading/internal/book"
	"github.com/abdoElHodaky/lowlatency-trading/internal/obslog"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// Engine owns one order book per ticker and the global market-order-id
// sequence.
type Engine struct {
	books        map[wire.TickerId]*book.Book
	bookCapacity int
	nextOrderId  wire.OrderId
	log          obslog.Logger
}

// New creates an engine whose per-ticker books are allocated with room
// for bookCapacity resting orders.
func New(bookCapacity int, log obslog.Logger) *Engine {
	return &Engine{
		books:        make(map[wire.TickerId]*book.Book),
		bookCapacity: bookCapacity,
		nextOrderId:  1,
		log:          log,
	}
}

// AddTicker creates an order book for tickerID. Idempotent.
func (e *Engine) AddTicker(tickerID wire.TickerId) {
	if _, ok := e.books[tickerID]; ok {
		return
	}
	e.books[tickerID] = book.New(tickerID, e.bookCapacity)
}

func (e *Engine) TickerCount() int             { return len(e.books) }
func (e *Engine) NextOrderId() wire.OrderId     { return e.nextOrderId }
func (e *Engine) Book(t wire.TickerId) (*book.Book, bool) {
	b, ok := e.books[t]
	return b, ok
}

// ProcessRequest dispatches req by msg_type and returns the response to
// send back to the originating client plus any market-data deltas to
// broadcast.
func (e *Engine) ProcessRequest(req wire.ClientRequest) (wire.ClientResponse, []wire.MarketUpdate) {
	switch req.MsgType {
	case wire.MsgNew:
		return e.handleNewOrder(req)
	case wire.MsgCancel:
		return e.handleCancel(req)
	default:
		return e.handleInvalid(req)
	}
}

func (e *Engine) handleNewOrder(req wire.ClientRequest) (wire.ClientResponse, []wire.MarketUpdate) {
	b, ok := e.books[req.TickerId]
	if !ok || !req.Side.Valid() {
		return e.reject(req), nil
	}

	marketOrderId := e.nextOrderId
	e.nextOrderId++

	_, err := b.AddOrder(req.ClientId, marketOrderId, req.Side, req.Price, req.Qty)
	if err != nil {
		if e.log != nil {
			e.log.Warnw("new order rejected", "ticker_id", req.TickerId, "client_id", req.ClientId, "err", err)
		}
		return e.reject(req), nil
	}

	resp := wire.ClientResponse{
		MsgType:       wire.MsgAccepted,
		ClientId:      req.ClientId,
		TickerId:      req.TickerId,
		ClientOrderId: req.OrderId,
		MarketOrderId: marketOrderId,
		Side:          req.Side,
		Price:         req.Price,
		ExecQty:       0,
		LeavesQty:     req.Qty,
	}
	update := wire.MarketUpdate{
		MsgType:  wire.MsgAdd,
		TickerId: req.TickerId,
		OrderId:  marketOrderId,
		Side:     req.Side,
		Price:    req.Price,
		Qty:      req.Qty,
		Priority: wire.Priority(marketOrderId),
	}
	return resp, []wire.MarketUpdate{update}
}

func (e *Engine) handleCancel(req wire.ClientRequest) (wire.ClientResponse, []wire.MarketUpdate) {
	b, ok := e.books[req.TickerId]
	if !ok {
		return e.cancelReject(req), nil
	}

	canceled, err := b.CancelOrder(req.OrderId)
	if err != nil {
		return e.cancelReject(req), nil
	}

	resp := wire.ClientResponse{
		MsgType:       wire.MsgCanceled,
		ClientId:      req.ClientId,
		TickerId:      req.TickerId,
		ClientOrderId: req.OrderId,
		MarketOrderId: req.OrderId,
		Side:          canceled.Side,
		Price:         canceled.Price,
		ExecQty:       0,
		LeavesQty:     canceled.Qty,
	}
	update := wire.MarketUpdate{
		MsgType:  wire.MsgCancelUp,
		TickerId: req.TickerId,
		OrderId:  req.OrderId,
		Side:     canceled.Side,
		Price:    canceled.Price,
		Qty:      canceled.Qty,
		Priority: canceled.Priority,
	}
	return resp, []wire.MarketUpdate{update}
}

func (e *Engine) handleInvalid(req wire.ClientRequest) (wire.ClientResponse, []wire.MarketUpdate) {
	return wire.ClientResponse{
		MsgType:       wire.MsgInvalidRequest,
		ClientId:      req.ClientId,
		TickerId:      req.TickerId,
		ClientOrderId: req.OrderId,
		MarketOrderId: 0,
		Side:          req.Side,
		Price:         req.Price,
		ExecQty:       0,
		LeavesQty:     req.Qty,
	}, nil
}

func (e *Engine) reject(req wire.ClientRequest) wire.ClientResponse {
	return wire.ClientResponse{
		MsgType:       wire.MsgInvalidRequest,
		ClientId:      req.ClientId,
		TickerId:      req.TickerId,
		ClientOrderId: req.OrderId,
		MarketOrderId: 0,
		Side:          req.Side,
		Price:         req.Price,
		ExecQty:       0,
		LeavesQty:     req.Qty,
	}
}

func (e *Engine) cancelReject(req wire.ClientRequest) wire.ClientResponse {
	return wire.ClientResponse{
		MsgType:       wire.MsgCancelRejected,
		ClientId:      req.ClientId,
		TickerId:      req.TickerId,
		ClientOrderId: req.OrderId,
		MarketOrderId: 0,
		Side:          req.Side,
		Price:         req.Price,
		ExecQty:       0,
		LeavesQty:     0,
	}
}

// MatchOrder is the documented extension seam for price-crossing: it is
// not called anywhere in this repo yet. A full implementation would walk
// the resting book on the opposite side of incoming, consuming
// chain-head orders at marketable prices and returning the fills plus
// any leftover quantity.
func (e *Engine) MatchOrder(tickerID wire.TickerId, incoming wire.Side, price wire.Price, qty wire.Qty) (fills []wire.MarketUpdate, remainingQty wire.Qty) {
	return nil, qty
}
