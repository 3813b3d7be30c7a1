package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRequestRoundTrip(t *testing.T) {
	r := ClientRequest{
		MsgType:  MsgNew,
		ClientId: 7,
		TickerId: 3,
		OrderId:  123456789,
		Side:     SideBuy,
		Price:    10050,
		Qty:      200,
	}
	buf := make([]byte, ClientRequestSize)
	r.Encode(buf)

	got, ok := DecodeClientRequest(buf)
	require.True(t, ok)
	assert.Equal(t, r, got)
}

func TestClientRequestNegativePrice(t *testing.T) {
	r := ClientRequest{MsgType: MsgCancel, Side: SideSell, Price: -500, OrderId: 1}
	buf := make([]byte, ClientRequestSize)
	r.Encode(buf)
	got, ok := DecodeClientRequest(buf)
	require.True(t, ok)
	assert.Equal(t, int64(-500), got.Price)
}

func TestClientRequestShortBufferFails(t *testing.T) {
	_, ok := DecodeClientRequest(make([]byte, ClientRequestSize-1))
	assert.False(t, ok)
}

func TestClientResponseRoundTrip(t *testing.T) {
	r := ClientResponse{
		MsgType:       MsgFilled,
		ClientId:      1,
		TickerId:      2,
		ClientOrderId: 10,
		MarketOrderId: 99,
		Side:          SideSell,
		Price:         20000,
		ExecQty:       50,
		LeavesQty:     0,
	}
	buf := make([]byte, ClientResponseSize)
	r.Encode(buf)
	got, ok := DecodeClientResponse(buf)
	require.True(t, ok)
	assert.Equal(t, r, got)
}

func TestClientResponseShortBufferFails(t *testing.T) {
	_, ok := DecodeClientResponse(make([]byte, 10))
	assert.False(t, ok)
}

func TestMarketUpdateRoundTrip(t *testing.T) {
	u := MarketUpdate{
		MsgType:  MsgAdd,
		TickerId: 4,
		OrderId:  55,
		Side:     SideBuy,
		Price:    999,
		Qty:      10,
		Priority: 42,
	}
	buf := make([]byte, MarketUpdateSize)
	u.Encode(buf)
	got, ok := DecodeMarketUpdate(buf)
	require.True(t, ok)
	assert.Equal(t, u, got)
}

func TestMarketUpdateShortBufferFails(t *testing.T) {
	_, ok := DecodeMarketUpdate(make([]byte, MarketUpdateSize-1))
	assert.False(t, ok)
}

func TestSideOppositeAndSign(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.Equal(t, int64(1), SideBuy.Sign())
	assert.Equal(t, int64(-1), SideSell.Sign())
	assert.True(t, SideBuy.Valid())
	assert.False(t, Side(0).Valid())
}

func TestValidRequestAndUpdateTypes(t *testing.T) {
	assert.True(t, ValidRequestType(MsgNew))
	assert.True(t, ValidRequestType(MsgCancel))
	assert.False(t, ValidRequestType(99))

	assert.True(t, ValidUpdateType(MsgAdd))
	assert.True(t, ValidUpdateType(MsgClear))
	assert.False(t, ValidUpdateType(0))
	assert.False(t, ValidUpdateType(99))
}

func TestRecordSizesMatchEncodedLength(t *testing.T) {
	// Defends against accidental layout drift: Encode must never write
	// beyond its documented size, and callers rely on these constants for
	// framing reads off the wire.
	assert.Len(t, func() []byte {
		b := make([]byte, ClientRequestSize)
		(ClientRequest{}).Encode(b)
		return b
	}(), ClientRequestSize)

	assert.Len(t, func() []byte {
		b := make([]byte, ClientResponseSize)
		(ClientResponse{}).Encode(b)
		return b
	}(), ClientResponseSize)

	assert.Len(t, func() []byte {
		b := make([]byte, MarketUpdateSize)
		(MarketUpdate{}).Encode(b)
		return b
	}(), MarketUpdateSize)
}
