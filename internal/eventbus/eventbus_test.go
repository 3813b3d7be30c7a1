package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := New(nil, 8)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx)
	require.NoError(t, err)

	want := TradeEvent{Type: EventOrderFilled, Ticker: 1, OrderId: 42, Side: 1, Price: 100, Qty: 10}
	require.NoError(t, b.Publish(want))

	select {
	case got := <-events:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestSubscribeChannelClosesWhenContextCanceled(t *testing.T) {
	b := New(nil, 8)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after context cancellation")
	}
}

func TestTradeEventStringIncludesKeyFields(t *testing.T) {
	ev := TradeEvent{Type: EventOrderRejected, Ticker: 3, OrderId: 7, Qty: 5, Price: 100}
	s := ev.String()
	assert.Contains(t, s, "order_rejected")
	assert.Contains(t, s, "ticker=3")
}
