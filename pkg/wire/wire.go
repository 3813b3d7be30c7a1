// Package wire implements the fixed-layout, packed, little-endian
// binary records exchanged between the Exchange and the Trading Client:
// ClientRequest over TCP, ClientResponse over TCP, and MarketUpdate over
// UDP multicast. There is no length prefix and no padding; sizes are
// compile-time constants used for framing by the order server, the order
// gateway, and the market-data publisher/subscriber.
package wire

import "encoding/binary"

// Side is the book side, encoded on the wire as +1 (Buy) or -1 (Sell).
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = -1
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for Buy and -1 for Sell, matching the integer-sign view
// the spec's data model calls for.
func (s Side) Sign() int64 {
	return int64(s)
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Scalar identifiers, per §3 DATA MODEL.
type (
	OrderId  = uint64
	TickerId = uint32
	ClientId = uint32
	Price    = int64
	Qty      = uint32
	Priority = uint64
)

const (
	InvalidOrderId OrderId = 0
	InvalidPrice   Price   = 1<<63 - 1 // i64::MAX
	InvalidQty     Qty     = 1<<32 - 1 // u32::MAX
)

// ClientRequest message types.
const (
	MsgNew    uint8 = 1
	MsgCancel uint8 = 2
)

// ClientResponse message types.
const (
	MsgAccepted        uint8 = 1
	MsgCanceled        uint8 = 2
	MsgFilled          uint8 = 3
	MsgCancelRejected  uint8 = 4
	MsgInvalidRequest  uint8 = 5
)

// MarketUpdate message types.
const (
	MsgAdd      uint8 = 1
	MsgModify   uint8 = 2
	MsgCancelUp uint8 = 3
	MsgTrade    uint8 = 4
	MsgSnapshot uint8 = 5
	MsgClear    uint8 = 6
)

// Record sizes, used verbatim for TCP/UDP framing.
const (
	ClientRequestSize  = 30
	ClientResponseSize = 42
	MarketUpdateSize   = 34
)

// ClientRequest is sent Client -> Exchange: New or Cancel.
type ClientRequest struct {
	MsgType  uint8
	ClientId ClientId
	TickerId TickerId
	OrderId  OrderId
	Side     Side
	Price    Price
	Qty      Qty
}

// Encode writes the 30-byte memory image of r into buf, which must be at
// least ClientRequestSize long.
func (r ClientRequest) Encode(buf []byte) {
	_ = buf[:ClientRequestSize]
	buf[0] = r.MsgType
	binary.LittleEndian.PutUint32(buf[1:5], r.ClientId)
	binary.LittleEndian.PutUint32(buf[5:9], r.TickerId)
	binary.LittleEndian.PutUint64(buf[9:17], r.OrderId)
	buf[17] = byte(r.Side)
	binary.LittleEndian.PutUint64(buf[18:26], uint64(r.Price))
	binary.LittleEndian.PutUint32(buf[26:30], r.Qty)
}

// DecodeClientRequest reads a ClientRequest from buf. ok is false if buf is
// shorter than ClientRequestSize; an unrecognized MsgType is not itself
// rejected here — callers treat it as invalid per §4.3.
func DecodeClientRequest(buf []byte) (ClientRequest, bool) {
	var r ClientRequest
	if len(buf) < ClientRequestSize {
		return r, false
	}
	r.MsgType = buf[0]
	r.ClientId = binary.LittleEndian.Uint32(buf[1:5])
	r.TickerId = binary.LittleEndian.Uint32(buf[5:9])
	r.OrderId = binary.LittleEndian.Uint64(buf[9:17])
	r.Side = Side(int8(buf[17]))
	r.Price = int64(binary.LittleEndian.Uint64(buf[18:26]))
	r.Qty = binary.LittleEndian.Uint32(buf[26:30])
	return r, true
}

// ClientResponse is sent Exchange -> Client.
type ClientResponse struct {
	MsgType       uint8
	ClientId      ClientId
	TickerId      TickerId
	ClientOrderId OrderId
	MarketOrderId OrderId
	Side          Side
	Price         Price
	ExecQty       Qty
	LeavesQty     Qty
}

func (r ClientResponse) Encode(buf []byte) {
	_ = buf[:ClientResponseSize]
	buf[0] = r.MsgType
	binary.LittleEndian.PutUint32(buf[1:5], r.ClientId)
	binary.LittleEndian.PutUint32(buf[5:9], r.TickerId)
	binary.LittleEndian.PutUint64(buf[9:17], r.ClientOrderId)
	binary.LittleEndian.PutUint64(buf[17:25], r.MarketOrderId)
	buf[25] = byte(r.Side)
	binary.LittleEndian.PutUint64(buf[26:34], uint64(r.Price))
	binary.LittleEndian.PutUint32(buf[34:38], r.ExecQty)
	binary.LittleEndian.PutUint32(buf[38:42], r.LeavesQty)
}

func DecodeClientResponse(buf []byte) (ClientResponse, bool) {
	var r ClientResponse
	if len(buf) < ClientResponseSize {
		return r, false
	}
	r.MsgType = buf[0]
	r.ClientId = binary.LittleEndian.Uint32(buf[1:5])
	r.TickerId = binary.LittleEndian.Uint32(buf[5:9])
	r.ClientOrderId = binary.LittleEndian.Uint64(buf[9:17])
	r.MarketOrderId = binary.LittleEndian.Uint64(buf[17:25])
	r.Side = Side(int8(buf[25]))
	r.Price = int64(binary.LittleEndian.Uint64(buf[26:34]))
	r.ExecQty = binary.LittleEndian.Uint32(buf[34:38])
	r.LeavesQty = binary.LittleEndian.Uint32(buf[38:42])
	return r, true
}

// MarketUpdate is sent Exchange -> Subscribers (best-effort UDP multicast).
type MarketUpdate struct {
	MsgType  uint8
	TickerId TickerId
	OrderId  OrderId
	Side     Side
	Price    Price
	Qty      Qty
	Priority Priority
}

func (u MarketUpdate) Encode(buf []byte) {
	_ = buf[:MarketUpdateSize]
	buf[0] = u.MsgType
	binary.LittleEndian.PutUint32(buf[1:5], u.TickerId)
	binary.LittleEndian.PutUint64(buf[5:13], u.OrderId)
	buf[13] = byte(u.Side)
	binary.LittleEndian.PutUint64(buf[14:22], uint64(u.Price))
	binary.LittleEndian.PutUint32(buf[22:26], u.Qty)
	binary.LittleEndian.PutUint64(buf[26:34], u.Priority)
}

func DecodeMarketUpdate(buf []byte) (MarketUpdate, bool) {
	var u MarketUpdate
	if len(buf) < MarketUpdateSize {
		return u, false
	}
	u.MsgType = buf[0]
	u.TickerId = binary.LittleEndian.Uint32(buf[1:5])
	u.OrderId = binary.LittleEndian.Uint64(buf[5:13])
	u.Side = Side(int8(buf[13]))
	u.Price = int64(binary.LittleEndian.Uint64(buf[14:22]))
	u.Qty = binary.LittleEndian.Uint32(buf[22:26])
	u.Priority = binary.LittleEndian.Uint64(buf[26:34])
	return u, true
}

// ValidRequestType reports whether b names a known ClientRequest msg_type.
func ValidRequestType(b uint8) bool {
	return b == MsgNew || b == MsgCancel
}

// ValidUpdateType reports whether b names a known MarketUpdate msg_type.
func ValidUpdateType(b uint8) bool {
	return b >= MsgAdd && b <= MsgClear
}
