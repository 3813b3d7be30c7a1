// Package ordergateway is the client-side counterpart of orderserver: a
// single TCP connection to the exchange, TCP_NODELAY'd per §4.6, tracking
// pending orders by the client-assigned OrderId until a terminal response
// arrives.
package ordergateway

import (
	"net"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/abdoElHodaky/lowlatency-trading/internal/obslog"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// pendingOrder is bookkeeping for an order awaiting a terminal response.
type pendingOrder struct {
	Ticker wire.TickerId
	Side   wire.Side
	Price  wire.Price
	Qty    wire.Qty
}

// Gateway owns the TCP connection to a single exchange, a monotonic
// client-order-id counter, and the table of orders awaiting a response.
type Gateway struct {
	conn     net.Conn
	clientID wire.ClientId
	proto    *semver.Version

	mu       sync.Mutex
	nextID   wire.OrderId
	pending  map[wire.OrderId]pendingOrder
	accum    []byte

	log obslog.Logger
}

// Dial connects to addr, enables TCP_NODELAY so small order messages are
// not held back by Nagle's algorithm, and parses protoVersion as this
// client's semver protocol version. The version is kept locally for
// ProtocolVersion; nothing about it is sent to the exchange.
func Dial(addr string, clientID wire.ClientId, protoVersion string, log obslog.Logger) (*Gateway, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	v, err := semver.NewVersion(protoVersion)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Gateway{
		conn:     conn,
		clientID: clientID,
		proto:    v,
		nextID:   1,
		pending:  make(map[wire.OrderId]pendingOrder),
		log:      log,
	}, nil
}

// Close shuts the connection down.
func (g *Gateway) Close() error { return g.conn.Close() }

// ProtocolVersion returns the semver version string given to Dial.
func (g *Gateway) ProtocolVersion() string { return g.proto.String() }

// SendNewOrder writes a New ClientRequest and records it as pending,
// returning the client-assigned OrderId used to correlate the eventual
// response.
func (g *Gateway) SendNewOrder(ticker wire.TickerId, side wire.Side, price wire.Price, qty wire.Qty) (wire.OrderId, error) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.pending[id] = pendingOrder{Ticker: ticker, Side: side, Price: price, Qty: qty}
	g.mu.Unlock()

	req := wire.ClientRequest{
		MsgType:  wire.MsgNew,
		ClientId: g.clientID,
		TickerId: ticker,
		OrderId:  id,
		Side:     side,
		Price:    price,
		Qty:      qty,
	}
	buf := make([]byte, wire.ClientRequestSize)
	req.Encode(buf)
	if _, err := g.conn.Write(buf); err != nil {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return wire.InvalidOrderId, err
	}
	if g.log != nil {
		g.log.Debugw("sent new order", "order_id", id, "ticker", ticker, "side", int(side), "price", price, "qty", qty)
	}
	return id, nil
}

// SendCancel writes a Cancel ClientRequest for a previously submitted
// order. It does not remove bookkeeping eagerly; CancelRejected/Canceled
// responses resolve the pending entry.
func (g *Gateway) SendCancel(orderID wire.OrderId) error {
	g.mu.Lock()
	p, ok := g.pending[orderID]
	g.mu.Unlock()
	if !ok {
		return errUnknownOrder
	}
	req := wire.ClientRequest{
		MsgType:  wire.MsgCancel,
		ClientId: g.clientID,
		TickerId: p.Ticker,
		OrderId:  orderID,
	}
	buf := make([]byte, wire.ClientRequestSize)
	req.Encode(buf)
	_, err := g.conn.Write(buf)
	return err
}

// PendingCount reports how many orders await a terminal response.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Poll performs one read of available response bytes, waiting at most
// readTimeout (a timeout is not an error),
// decodes as many complete ClientResponse records as are buffered, and
// returns them. A decode failure discards one byte and retries, mirroring
// the order server's resync behavior.
func (g *Gateway) Poll(readTimeout time.Duration) ([]wire.ClientResponse, error) {
	_ = g.conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, 4096)
	n, err := g.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			err = nil
		} else {
			return nil, err
		}
	}
	if n > 0 {
		g.accum = append(g.accum, buf[:n]...)
	}

	var out []wire.ClientResponse
	for len(g.accum) >= wire.ClientResponseSize {
		resp, ok := wire.DecodeClientResponse(g.accum[:wire.ClientResponseSize])
		if !ok {
			g.accum = g.accum[1:]
			continue
		}
		g.accum = g.accum[wire.ClientResponseSize:]
		g.resolve(resp)
		out = append(out, resp)
	}
	return out, err
}

// resolve clears pending bookkeeping once a response is terminal.
func (g *Gateway) resolve(resp wire.ClientResponse) {
	switch resp.MsgType {
	case wire.MsgCanceled, wire.MsgCancelRejected, wire.MsgInvalidRequest:
		g.mu.Lock()
		delete(g.pending, resp.ClientOrderId)
		g.mu.Unlock()
	case wire.MsgFilled:
		if resp.LeavesQty == 0 {
			g.mu.Lock()
			delete(g.pending, resp.ClientOrderId)
			g.mu.Unlock()
		}
	}
}

var errUnknownOrder = unknownOrderError{}

type unknownOrderError struct{}

func (unknownOrderError) Error() string { return "unknown pending order" }
