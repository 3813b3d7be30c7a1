// Package marketdata implements the exchange-side UDP multicast
// publisher and the client-side subscriber/cache described in §4.7, plus
// a WebSocket bridge that republishes decoded updates to browser-style
// consumers that cannot join a multicast group.
package marketdata

import (
	"net"

	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// trackedBBO is the publisher-side per-instrument top-of-book state used
// solely to decide what to put in the next periodic Snapshot — the
// publisher's own view, tracked the same way §4.11's trade-engine BBO is,
// not the authoritative book (that stays in matchengine/book).
type trackedBBO struct {
	bidPrice, askPrice wire.Price
	bidQty, askQty     wire.Qty
	lastSeq            uint64
}

// Publisher sends MarketUpdate records to a UDP multicast group and,
// every snapshotInterval deltas, emits a per-instrument Snapshot pair so
// a late or lossy subscriber can resynchronize without replaying the
// whole update stream. Sends are best-effort: a dropped datagram is
// never retried, matching the spec's explicit non-goal of reliable
// market-data delivery.
type Publisher struct {
	conn *net.UDPConn

	snapshotInterval int
	sequence         uint64
	updatesSent      uint64
	bytesSent        uint64
	tracked          map[wire.TickerId]*trackedBBO
	sinceSnapshot    map[wire.TickerId]int
}

// NewPublisher resolves groupAddr (e.g. "239.1.1.1:30001") and opens a
// UDP socket for sending to it. Automatic snapshot emission is disabled;
// use NewPublisherWithCadence for the full §4.7 recovery behavior.
func NewPublisher(groupAddr string) (*Publisher, error) {
	return NewPublisherWithCadence(groupAddr, 0)
}

// NewPublisherWithCadence is NewPublisher plus periodic BBO snapshotting:
// every snapshotInterval deltas published for an instrument, the
// publisher additionally emits that instrument's current bid and ask as
// Snapshot updates. A non-positive snapshotInterval disables the cadence
// entirely (Publish behaves exactly like the plain constructor).
func NewPublisherWithCadence(groupAddr string, snapshotInterval int) (*Publisher, error) {
	addr, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		conn:             conn,
		snapshotInterval: snapshotInterval,
		tracked:          make(map[wire.TickerId]*trackedBBO),
		sinceSnapshot:    make(map[wire.TickerId]int),
	}, nil
}

// Close releases the underlying socket.
func (p *Publisher) Close() error { return p.conn.Close() }

// Sequence returns the number of deltas sent so far through Publish.
func (p *Publisher) Sequence() uint64 { return p.sequence }

// UpdatesSent and BytesSent report cumulative traffic counters for
// operator dashboards.
func (p *Publisher) UpdatesSent() uint64 { return p.updatesSent }
func (p *Publisher) BytesSent() uint64   { return p.bytesSent }

// Publish encodes and sends a single MarketUpdate datagram, then updates
// the tracked BBO for its instrument and, once snapshotInterval deltas
// have accumulated for that instrument, emits a recovery Snapshot pair
// (bid then ask, whichever sides are present).
func (p *Publisher) Publish(u wire.MarketUpdate) error {
	if err := p.send(u); err != nil {
		return err
	}
	p.sequence++

	if p.snapshotInterval <= 0 {
		return nil
	}
	p.updateTracked(u)
	p.sinceSnapshot[u.TickerId]++
	if p.sinceSnapshot[u.TickerId] < p.snapshotInterval {
		return nil
	}
	p.sinceSnapshot[u.TickerId] = 0
	return p.emitSnapshots(u.TickerId)
}

func (p *Publisher) send(u wire.MarketUpdate) error {
	buf := make([]byte, wire.MarketUpdateSize)
	u.Encode(buf)
	n, err := p.conn.Write(buf)
	if err == nil {
		p.updatesSent++
		p.bytesSent += uint64(n)
	}
	return err
}

// updateTracked applies u to the publisher's own BBO view for its
// instrument, using the same replace-on-better-price / overwrite-at-top
// / saturating-reduce rules as §4.11's client-side tracker so the
// snapshots it emits are self-consistent with what a client derives from
// the raw delta stream.
func (p *Publisher) updateTracked(u wire.MarketUpdate) {
	bbo, ok := p.tracked[u.TickerId]
	if !ok {
		bbo = &trackedBBO{bidPrice: wire.InvalidPrice, askPrice: wire.InvalidPrice}
		p.tracked[u.TickerId] = bbo
	}

	switch u.MsgType {
	case wire.MsgAdd, wire.MsgModify, wire.MsgSnapshot:
		if u.Side == wire.SideBuy {
			if bbo.bidPrice == wire.InvalidPrice || u.Price > bbo.bidPrice {
				bbo.bidPrice, bbo.bidQty = u.Price, u.Qty
			} else if u.Price == bbo.bidPrice {
				bbo.bidQty = u.Qty
			}
		} else {
			if bbo.askPrice == wire.InvalidPrice || u.Price < bbo.askPrice {
				bbo.askPrice, bbo.askQty = u.Price, u.Qty
			} else if u.Price == bbo.askPrice {
				bbo.askQty = u.Qty
			}
		}
	case wire.MsgCancelUp, wire.MsgTrade:
		if u.Side == wire.SideBuy && u.Price == bbo.bidPrice {
			bbo.bidQty = satSub(bbo.bidQty, u.Qty)
		} else if u.Side == wire.SideSell && u.Price == bbo.askPrice {
			bbo.askQty = satSub(bbo.askQty, u.Qty)
		}
	case wire.MsgClear:
		bbo.bidPrice, bbo.askPrice = wire.InvalidPrice, wire.InvalidPrice
		bbo.bidQty, bbo.askQty = 0, 0
	}
	bbo.lastSeq = p.sequence
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

func (p *Publisher) emitSnapshots(ticker wire.TickerId) error {
	bbo := p.tracked[ticker]
	if bbo.bidPrice != wire.InvalidPrice {
		if err := p.send(wire.MarketUpdate{MsgType: wire.MsgSnapshot, TickerId: ticker, Side: wire.SideBuy, Price: bbo.bidPrice, Qty: bbo.bidQty, Priority: bbo.lastSeq}); err != nil {
			return err
		}
	}
	if bbo.askPrice != wire.InvalidPrice {
		if err := p.send(wire.MarketUpdate{MsgType: wire.MsgSnapshot, TickerId: ticker, Side: wire.SideSell, Price: bbo.askPrice, Qty: bbo.askQty, Priority: bbo.lastSeq}); err != nil {
			return err
		}
	}
	return nil
}

// PublishClear sends a Clear update for ticker, telling subscribers to
// drop any retained book state for it (e.g. on exchange restart), and
// discards the publisher's own tracked state for that instrument.
func (p *Publisher) PublishClear(ticker wire.TickerId) error {
	err := p.Publish(wire.MarketUpdate{MsgType: wire.MsgClear, TickerId: ticker})
	delete(p.tracked, ticker)
	delete(p.sinceSnapshot, ticker)
	return err
}

// PublishSnapshot sends a Snapshot update representing the current best
// price/qty for one side of one instrument, used to resynchronize a late
// joiner without requiring it to have seen every prior incremental update.
func (p *Publisher) PublishSnapshot(ticker wire.TickerId, side wire.Side, price wire.Price, qty wire.Qty, priority wire.Priority) error {
	return p.Publish(wire.MarketUpdate{
		MsgType:  wire.MsgSnapshot,
		TickerId: ticker,
		Side:     side,
		Price:    price,
		Qty:      qty,
		Priority: priority,
	})
}
