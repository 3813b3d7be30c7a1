// Package eventbus fans out trade lifecycle events (fills, cancels,
// risk rejections) to async consumers — the admin API, a blotter
// logger, external subscribers — without coupling the matching/trade
// engines to any one sink. It is modeled on the teacher's
// cqrs/eventbus adapters, narrowed from generic event-sourcing
// aggregates down to the fixed set of trade events this system emits.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// EventType names the kind of trade event.
type EventType string

const (
	EventOrderAccepted EventType = "order_accepted"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCanceled  EventType = "order_canceled"
	EventOrderRejected  EventType = "order_rejected"
	EventRiskTripped    EventType = "risk_tripped"
)

// TradeEvent is the payload published on the bus, JSON-encoded for
// consumers outside the process (a NATS subscriber, a WS bridge).
type TradeEvent struct {
	Type     EventType     `json:"type"`
	Ticker   wire.TickerId `json:"ticker_id"`
	OrderId  wire.OrderId  `json:"order_id"`
	Side     int8          `json:"side"`
	Price    int64         `json:"price"`
	Qty      uint32        `json:"qty"`
	Reason   string        `json:"reason,omitempty"`
}

const topic = "trade.events"

// Bus is an in-process publish/subscribe fan-out built on
// watermill's gochannel implementation, matching the teacher's
// WatermillEventBus wiring but scoped to the fixed TradeEvent payload
// this system needs rather than generic event-sourcing aggregates.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New builds a Bus with an output channel buffer of bufferSize per
// subscriber. log's output is used for watermill's own internal
// diagnostics; publishing and consuming TradeEvents is not itself logged.
func New(log *zap.Logger, bufferSize int) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	wlog := watermill.NewStdLoggerWithOut(zap.NewStdLog(log).Writer(), false, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(bufferSize),
		Persistent:          false,
	}, wlog)
	return &Bus{pubsub: pubsub}
}

// Publish encodes and publishes a TradeEvent. A publish error is only
// possible if the bus has been closed.
func (b *Bus) Publish(ev TradeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(topic, msg)
}

// Subscribe returns a channel of decoded TradeEvents. The returned
// channel closes when ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan TradeEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan TradeEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev TradeEvent
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				select {
				case out <- ev:
				case <-ctx.Done():
					msg.Ack()
					return
				}
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close releases the underlying pub/sub resources.
func (b *Bus) Close() error { return b.pubsub.Close() }

func (e TradeEvent) String() string {
	return fmt.Sprintf("%s ticker=%d order=%d qty=%d price=%d", e.Type, e.Ticker, e.OrderId, e.Qty, e.Price)
}
