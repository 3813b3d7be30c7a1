package marketdata

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

func TestPublisherSubscriberRoundTripOverLoopbackMulticast(t *testing.T) {
	const group = "239.192.0.42:30123"

	sub, err := NewSubscriber(group, nil)
	require.NoError(t, err)
	defer sub.Close()

	pub, err := NewPublisher(group)
	require.NoError(t, err)
	defer pub.Close()

	want := wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 7, OrderId: 1, Side: wire.SideBuy, Price: 100, Qty: 10, Priority: 1}

	deadline := time.Now().Add(3 * time.Second)
	var got wire.MarketUpdate
	var ok bool
	for time.Now().Before(deadline) && !ok {
		require.NoError(t, pub.Publish(want))
		got, ok = sub.ReadOne(200 * time.Millisecond)
	}
	require.True(t, ok, "expected to receive a multicast datagram before the deadline")
	assert.Equal(t, want.TickerId, got.TickerId)
	assert.Equal(t, want.Price, got.Price)
}

func TestSubscriberCachesSnapshotByTickerAndSide(t *testing.T) {
	const group = "239.192.0.43:30124"
	sub, err := NewSubscriber(group, nil)
	require.NoError(t, err)
	defer sub.Close()
	pub, err := NewPublisher(group)
	require.NoError(t, err)
	defer pub.Close()

	snap := wire.MarketUpdate{MsgType: wire.MsgSnapshot, TickerId: 3, Side: wire.SideSell, Price: 200, Qty: 5}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, pub.Publish(snap))
		if _, ok := sub.ReadOne(200 * time.Millisecond); ok {
			break
		}
	}

	got, ok := sub.CachedSnapshot(3, wire.SideSell)
	require.True(t, ok)
	assert.Equal(t, wire.Price(200), got.Price)

	_, ok = sub.CachedSnapshot(3, wire.SideBuy)
	assert.False(t, ok, "no snapshot was ever published for the buy side")
}

func TestPublisherEmitsSnapshotAfterCadenceDeltas(t *testing.T) {
	const group = "239.192.0.44:30125"
	sub, err := NewSubscriber(group, nil)
	require.NoError(t, err)
	defer sub.Close()
	pub, err := NewPublisherWithCadence(group, 2)
	require.NoError(t, err)
	defer pub.Close()

	add := wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 5, Side: wire.SideBuy, Price: 100, Qty: 10, Priority: 1}

	deadline := time.Now().Add(3 * time.Second)
	var sawSnapshot bool
	for time.Now().Before(deadline) && !sawSnapshot {
		require.NoError(t, pub.Publish(add))
		require.NoError(t, pub.Publish(add))
		for i := 0; i < 3; i++ {
			got, ok := sub.ReadOne(100 * time.Millisecond)
			if ok && got.MsgType == wire.MsgSnapshot {
				sawSnapshot = true
				assert.Equal(t, wire.Price(100), got.Price)
				break
			}
		}
	}
	require.True(t, sawSnapshot, "expected a Snapshot delta after the cadence was reached")
}

func TestPublisherNoCadenceNeverSnapshots(t *testing.T) {
	const group = "239.192.0.45:30126"
	pub, err := NewPublisher(group) // cadence disabled
	require.NoError(t, err)
	defer pub.Close()

	add := wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 6, Side: wire.SideBuy, Price: 100, Qty: 10, Priority: 1}
	for i := 0; i < 10; i++ {
		require.NoError(t, pub.Publish(add))
	}
	assert.Equal(t, uint64(10), pub.Sequence())
	assert.Equal(t, uint64(10), pub.UpdatesSent())
}

func TestPublisherClearDiscardsTrackedState(t *testing.T) {
	const group = "239.192.0.46:30127"
	pub, err := NewPublisherWithCadence(group, 100)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 9, Side: wire.SideBuy, Price: 50, Qty: 1}))
	require.Contains(t, pub.tracked, wire.TickerId(9))
	require.NoError(t, pub.PublishClear(9))
	assert.NotContains(t, pub.tracked, wire.TickerId(9))
}

func TestBridgeBroadcastsDecodedUpdateAsJSON(t *testing.T) {
	bridge := NewBridge(nil)
	srv := httptest.NewServer(http.HandlerFunc(bridge.HandleWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return bridge.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bridge.Broadcast(wire.MarketUpdate{MsgType: wire.MsgAdd, TickerId: 9, Price: 55, Qty: 1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"ticker_id":9`)
	assert.Contains(t, string(msg), `"price":55`)
}
