package ordergateway

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

func newFakeExchange(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	conns := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln, conns
}

func TestDialRecordsProtocolVersion(t *testing.T) {
	ln, _ := newFakeExchange(t)
	gw, err := Dial(ln.Addr().String(), 1, "1.2.0", nil)
	require.NoError(t, err)
	defer gw.Close()
	assert.Equal(t, "1.2.0", gw.ProtocolVersion())
}

func TestSendNewOrderTracksPendingAndAssignsIncrementingIds(t *testing.T) {
	ln, conns := newFakeExchange(t)
	gw, err := Dial(ln.Addr().String(), 1, "1.0.0", nil)
	require.NoError(t, err)
	defer gw.Close()
	conn := <-conns
	defer conn.Close()

	id1, err := gw.SendNewOrder(1, wire.SideBuy, 100, 10)
	require.NoError(t, err)
	id2, err := gw.SendNewOrder(1, wire.SideSell, 110, 5)
	require.NoError(t, err)

	assert.Equal(t, wire.OrderId(1), id1)
	assert.Equal(t, wire.OrderId(2), id2)
	assert.Equal(t, 2, gw.PendingCount())

	buf := make([]byte, 2*wire.ClientRequestSize)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := readFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	req1, ok := wire.DecodeClientRequest(buf[:wire.ClientRequestSize])
	require.True(t, ok)
	assert.Equal(t, wire.MsgNew, req1.MsgType)
	assert.Equal(t, wire.Price(100), req1.Price)
}

func TestPollResolvesFullFillAndClearsPending(t *testing.T) {
	ln, conns := newFakeExchange(t)
	gw, err := Dial(ln.Addr().String(), 1, "1.0.0", nil)
	require.NoError(t, err)
	defer gw.Close()
	conn := <-conns
	defer conn.Close()

	id, err := gw.SendNewOrder(1, wire.SideBuy, 100, 10)
	require.NoError(t, err)

	resp := wire.ClientResponse{MsgType: wire.MsgFilled, ClientOrderId: id, ExecQty: 10, LeavesQty: 0, Price: 100}
	buf := make([]byte, wire.ClientResponseSize)
	resp.Encode(buf)
	_, err = conn.Write(buf)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var responses []wire.ClientResponse
	for time.Now().Before(deadline) {
		r, err := gw.Poll(50 * time.Millisecond)
		require.NoError(t, err)
		responses = append(responses, r...)
		if len(responses) > 0 {
			break
		}
	}
	require.Len(t, responses, 1)
	assert.Equal(t, wire.MsgFilled, responses[0].MsgType)
	assert.Equal(t, 0, gw.PendingCount())
}

func TestPollResyncsAfterGarbageByte(t *testing.T) {
	ln, conns := newFakeExchange(t)
	gw, err := Dial(ln.Addr().String(), 1, "1.0.0", nil)
	require.NoError(t, err)
	defer gw.Close()
	conn := <-conns
	defer conn.Close()

	id, err := gw.SendNewOrder(1, wire.SideBuy, 100, 10)
	require.NoError(t, err)

	resp := wire.ClientResponse{MsgType: wire.MsgAccepted, ClientOrderId: id}
	buf := make([]byte, wire.ClientResponseSize)
	resp.Encode(buf)
	_, err = conn.Write(append([]byte{0xAB}, buf...))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var responses []wire.ClientResponse
	for time.Now().Before(deadline) {
		r, err := gw.Poll(50 * time.Millisecond)
		require.NoError(t, err)
		responses = append(responses, r...)
		if len(responses) > 0 {
			break
		}
	}
	require.Len(t, responses, 1)
	assert.Equal(t, wire.MsgAccepted, responses[0].MsgType)
}

func TestSendCancelOnUnknownOrderErrors(t *testing.T) {
	ln, _ := newFakeExchange(t)
	gw, err := Dial(ln.Addr().String(), 1, "1.0.0", nil)
	require.NoError(t, err)
	defer gw.Close()

	err = gw.SendCancel(999)
	assert.Error(t, err)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
