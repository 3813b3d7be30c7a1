// Package orderserver implements the exchange-side TCP listener: one
// connection per client, a byte accumulator per connection, and a FIFO
// sequencer that assigns a total order across every client's requests,
// following the poll() loop described in §4.6.
package orderserver

import (
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/panjf2000/ants/v2"
	"github.com/segmentio/ksuid"

	"github.com/abdoElHodaky/lowlatency-trading/internal/obslog"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// pollReadTimeout bounds each per-connection read attempt so Poll never
// blocks waiting on a single idle client.
const pollReadTimeout = 200 * time.Microsecond

// acceptTimeout bounds each Accept attempt so Poll never blocks waiting
// for a new connection that never arrives.
const acceptTimeout = 200 * time.Microsecond

// Sequencer is a lock-free, monotonic request sequence number, assigned
// with sequentially-consistent fetch-add semantics.
type Sequencer struct {
	counter uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	return atomic.AddUint64(&s.counter, 1)
}

// SequencedRequest pairs a decoded ClientRequest with its assigned
// sequence number and originating client.
type SequencedRequest struct {
	Seq      uint64
	ClientId wire.ClientId
	Request  wire.ClientRequest
	CorrID   string
}

// clientConn is server-side per-client connection state.
type clientConn struct {
	id     wire.ClientId
	conn   net.Conn
	accum  []byte
	dead   bool
	corrID string
}

// Server owns the listener, the per-client connection table, and the
// FIFO sequencer.
type Server struct {
	ln        net.Listener
	protoReq  *semver.Constraints
	clients   map[wire.ClientId]*clientConn
	nextID    wire.ClientId
	sequencer Sequencer
	handshake *ants.Pool
	log       obslog.Logger
}

// New binds a TCP listener at addr and prepares the server to accept
// clients speaking a protocol version satisfying versionConstraint (a
// semver range such as "^1.0.0"). handshakeWorkers bounds a
// panjf2000/ants goroutine pool used to run per-connection accept-time
// logging (not wire-protocol decoding — the fixed-layout protocol in
// §4.3 carries no handshake of its own) without spawning an unbounded
// number of goroutines under a connection storm.
func New(addr string, versionConstraint string, handshakeWorkers int, log obslog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl // non-blocking accept handled via SetDeadline in Poll
	}
	constraints, err := semver.NewConstraint(versionConstraint)
	if err != nil {
		ln.Close()
		return nil, err
	}
	pool, err := ants.NewPool(handshakeWorkers)
	if err != nil {
		ln.Close()
		return nil, err
	}
	return &Server{
		ln:        ln,
		protoReq:  constraints,
		clients:   make(map[wire.ClientId]*clientConn),
		nextID:    1,
		handshake: pool,
		log:       log,
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// ProtocolConstraint returns the semver range this server accepts from
// clients, for reporting by the admin API. The fixed-layout wire
// protocol (§4.3) carries no version field of its own, so this server
// cannot reject an individual connection by version; the constraint
// exists for operator tooling to confirm a client build is compatible
// before pointing it at this exchange.
func (s *Server) ProtocolConstraint() string { return s.protoReq.String() }

// ProtocolCompatible reports whether clientVersion (e.g. "1.2.0")
// satisfies this server's accepted protocol range.
func (s *Server) ProtocolCompatible(clientVersion string) bool {
	v, err := semver.NewVersion(clientVersion)
	if err != nil {
		return false
	}
	return s.protoReq.Check(v)
}

// Close shuts the listener and handshake pool down.
func (s *Server) Close() error {
	s.handshake.Release()
	return s.ln.Close()
}

// acceptOne performs a single non-blocking accept attempt. Every
// request this connection ever decodes carries the correlation id
// assigned here (see Poll), so it threads through every log line that
// touches the connection, not just the initial connect line.
func (s *Server) acceptOne() bool {
	if tl, ok := s.ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(acceptTimeout))
	}
	conn, err := s.ln.Accept()
	if err != nil {
		return false
	}
	id := s.nextID
	s.nextID++
	corrID := ksuid.New().String()
	cc := &clientConn{id: id, conn: conn, corrID: corrID}
	s.clients[id] = cc

	_ = s.handshake.Submit(func() {
		if s.log != nil {
			s.log.Infow("client connected", "client_id", id, "corr_id", corrID, "remote_addr", conn.RemoteAddr().String())
		}
	})
	return true
}

// Poll performs one iteration of the server loop described in §4.6:
// accept pending connections, read available bytes per client, decode
// and sequence complete records, and return them sorted by sequence
// number.
func (s *Server) Poll() []SequencedRequest {
	for s.acceptOne() {
	}

	var out []SequencedRequest
	var toRemove []wire.ClientId

	readBuf := make([]byte, 4096)
	for id, cc := range s.clients {
		if cc.dead {
			toRemove = append(toRemove, id)
			continue
		}
		n, err := readNonBlocking(cc.conn, readBuf)
		if err != nil {
			cc.dead = true
			toRemove = append(toRemove, id)
			continue
		}
		if n > 0 {
			cc.accum = append(cc.accum, readBuf[:n]...)
		}

		for len(cc.accum) >= wire.ClientRequestSize {
			req, ok := wire.DecodeClientRequest(cc.accum[:wire.ClientRequestSize])
			if !ok || !wire.ValidRequestType(req.MsgType) {
				if s.log != nil {
					s.log.Warnw("resync: discarding one byte", "client_id", id, "corr_id", cc.corrID)
				}
				cc.accum = cc.accum[1:]
				continue
			}
			cc.accum = cc.accum[wire.ClientRequestSize:]
			seq := s.sequencer.Next()
			if s.log != nil {
				s.log.Debugw("request decoded", "client_id", id, "corr_id", cc.corrID, "seq", seq, "msg_type", req.MsgType)
			}
			out = append(out, SequencedRequest{
				Seq:      seq,
				ClientId: id,
				Request:  req,
				CorrID:   cc.corrID,
			})
		}
	}

	for _, id := range toRemove {
		delete(s.clients, id)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// SendResponse writes a 42-byte ClientResponse to clientID. It returns
// an error if the client is no longer connected.
func (s *Server) SendResponse(clientID wire.ClientId, resp wire.ClientResponse) error {
	cc, ok := s.clients[clientID]
	if !ok {
		return errClientAbsent
	}
	buf := make([]byte, wire.ClientResponseSize)
	resp.Encode(buf)
	_, err := cc.conn.Write(buf)
	return err
}

// Broadcast writes resp to every connected client, best-effort: a
// failed write marks that client dead for removal on the next Poll but
// does not abort the broadcast to the rest.
func (s *Server) Broadcast(resp wire.ClientResponse) {
	buf := make([]byte, wire.ClientResponseSize)
	resp.Encode(buf)
	for _, cc := range s.clients {
		if _, err := cc.conn.Write(buf); err != nil {
			cc.dead = true
		}
	}
}

var errClientAbsent = clientAbsentError{}

type clientAbsentError struct{}

func (clientAbsentError) Error() string { return "client not connected" }

// readNonBlocking attempts a single bounded-duration read on conn. A
// timeout is reported as (0, nil) rather than an error, since an idle
// connection is not a disconnection.
func readNonBlocking(conn net.Conn, buf []byte) (int, error) {
	_ = conn.SetReadDeadline(time.Now().Add(pollReadTimeout))
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}
