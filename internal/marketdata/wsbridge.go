package marketdata

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abdoElHodaky/lowlatency-trading/internal/obslog"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// wireUpdate is the JSON projection of a wire.MarketUpdate sent to
// WebSocket consumers, which cannot join a multicast group and do not
// speak the fixed-layout binary wire format.
type wireUpdate struct {
	MsgType  uint8  `json:"msg_type"`
	Ticker   uint32 `json:"ticker_id"`
	OrderId  uint64 `json:"order_id"`
	Side     int8   `json:"side"`
	Price    int64  `json:"price"`
	Qty      uint32 `json:"qty"`
	Priority uint64 `json:"priority"`
}

func toWireUpdate(u wire.MarketUpdate) wireUpdate {
	return wireUpdate{
		MsgType: u.MsgType, Ticker: u.TickerId, OrderId: u.OrderId,
		Side: int8(u.Side), Price: int64(u.Price), Qty: u.Qty, Priority: u.Priority,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge fans incremental MarketUpdate records out to any number of
// WebSocket clients, each identified by a google/uuid connection id for
// logging and per-client disconnect handling.
type Bridge struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*websocket.Conn
	log     obslog.Logger
}

// NewBridge constructs an empty Bridge.
func NewBridge(log obslog.Logger) *Bridge {
	return &Bridge{clients: make(map[uuid.UUID]*websocket.Conn), log: log}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and
// registers it as a broadcast target until it disconnects.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := uuid.New()
	b.mu.Lock()
	b.clients[id] = conn
	b.mu.Unlock()
	if b.log != nil {
		b.log.Infow("ws client connected", "conn_id", id.String())
	}

	go func() {
		defer b.remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Bridge) remove(id uuid.UUID) {
	b.mu.Lock()
	conn, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Broadcast forwards u as JSON to every connected WebSocket client,
// best-effort: a write failure drops that client without aborting the
// broadcast to the rest.
func (b *Bridge) Broadcast(u wire.MarketUpdate) {
	payload, err := json.Marshal(toWireUpdate(u))
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = conn.Close()
			delete(b.clients, id)
		}
	}
}

// ClientCount reports how many WebSocket clients are currently attached.
func (b *Bridge) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
