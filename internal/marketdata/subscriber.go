package marketdata

import (
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// snapshotTTL bounds how long a cached per-instrument snapshot is trusted
// before it is considered stale and evicted.
const snapshotTTL = 5 * time.Second

// Subscriber joins a UDP multicast group and decodes MarketUpdate
// datagrams, caching the most recent Snapshot per instrument so a late
// caller can ask "what do we know about ticker X right now" without
// replaying the whole update stream.
type Subscriber struct {
	conn  *net.UDPConn
	cache *gocache.Cache
}

// NewSubscriber joins groupAddr on iface (nil picks the default
// multicast-capable interface).
func NewSubscriber(groupAddr string, iface *net.Interface) (*Subscriber, error) {
	addr, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp", iface, addr)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		conn:  conn,
		cache: gocache.New(snapshotTTL, snapshotTTL/2),
	}, nil
}

// Close leaves the multicast group and closes the socket.
func (s *Subscriber) Close() error { return s.conn.Close() }

// ReadOne blocks up to timeout for the next datagram and decodes it. A
// zero-value, false result means the read timed out or the datagram
// failed to decode; it is not an error the caller must act on.
func (s *Subscriber) ReadOne(timeout time.Duration) (wire.MarketUpdate, bool) {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, wire.MarketUpdateSize)
	n, err := s.conn.Read(buf)
	if err != nil || n < wire.MarketUpdateSize {
		return wire.MarketUpdate{}, false
	}
	u, ok := wire.DecodeMarketUpdate(buf)
	if !ok || !wire.ValidUpdateType(u.MsgType) {
		return wire.MarketUpdate{}, false
	}
	if u.MsgType == wire.MsgSnapshot {
		s.cacheSnapshot(u)
	}
	return u, true
}

func (s *Subscriber) cacheSnapshot(u wire.MarketUpdate) {
	key := snapshotKey(u.TickerId, u.Side)
	s.cache.SetDefault(key, u)
}

// CachedSnapshot returns the most recently seen, still-fresh Snapshot
// update for (ticker, side), if any.
func (s *Subscriber) CachedSnapshot(ticker wire.TickerId, side wire.Side) (wire.MarketUpdate, bool) {
	v, ok := s.cache.Get(snapshotKey(ticker, side))
	if !ok {
		return wire.MarketUpdate{}, false
	}
	return v.(wire.MarketUpdate), true
}

func snapshotKey(ticker wire.TickerId, side wire.Side) string {
	b := make([]byte, 5)
	b[0] = byte(side)
	b[1] = byte(ticker)
	b[2] = byte(ticker >> 8)
	b[3] = byte(ticker >> 16)
	b[4] = byte(ticker >> 24)
	return string(b)
}
