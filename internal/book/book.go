// Package book implements a price-time-priority limit order book: a
// HashMap of price levels per side, each holding a FIFO doubly-linked
// chain of orders stored in a pkg/pool slot pool and linked by stable
// pool.Index values rather than pointers, exactly as the original
// Rust order book (exchange/src/order_book.rs) was designed.
//
// That original's add_order has a known defect: when splicing a new
// order onto an existing tail, it updates the new order's prev_idx and
// the level's tail_idx, but never reaches back to set the old tail's
// next_idx — the old tail is left pointing nowhere, silently truncating
// the FIFO chain. AddOrder below performs the symmetric update: it
// fetches the old tail by its pool index and sets its next link to the
// new order before advancing the level's tail.
package book

import (
	"github.com/abdoElHodaky/lowlatency-trading/internal/apperrors"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/pool"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// Order is a single resting order, intrusively linked into its price
// level's FIFO chain via pool-stable indices.
type Order struct {
	OrderId  wire.OrderId
	ClientId wire.ClientId
	TickerId wire.TickerId
	Side     wire.Side
	Price    wire.Price
	Qty      wire.Qty
	Priority wire.Priority

	prevIdx pool.Index
	nextIdx pool.Index
}

// PriceLevel holds the FIFO chain of orders resting at one price.
type PriceLevel struct {
	Price      wire.Price
	TotalQty   wire.Qty
	OrderCount int

	headIdx pool.Index
	tailIdx pool.Index
}

// IsEmpty reports whether the level has no resting orders.
func (l *PriceLevel) IsEmpty() bool {
	return l.OrderCount == 0
}

// Book is a single ticker's order book.
type Book struct {
	TickerId wire.TickerId

	bidLevels map[wire.Price]*PriceLevel
	askLevels map[wire.Price]*PriceLevel
	orderMap  map[wire.OrderId]pool.Index

	orders       *pool.Pool[Order]
	nextPriority wire.Priority
}

// New creates an empty book for tickerID with room for capacity resting
// orders.
func New(tickerID wire.TickerId, capacity int) *Book {
	return &Book{
		TickerId:     tickerID,
		bidLevels:    make(map[wire.Price]*PriceLevel),
		askLevels:    make(map[wire.Price]*PriceLevel),
		orderMap:     make(map[wire.OrderId]pool.Index),
		orders:       pool.New[Order](capacity),
		nextPriority: 1,
	}
}

func (b *Book) levelsFor(side wire.Side) map[wire.Price]*PriceLevel {
	if side == wire.SideBuy {
		return b.bidLevels
	}
	return b.askLevels
}

// OrderCount returns the number of resting orders across both sides.
func (b *Book) OrderCount() int {
	return len(b.orderMap)
}

func (b *Book) BidLevelCount() int { return len(b.bidLevels) }
func (b *Book) AskLevelCount() int { return len(b.askLevels) }

// PoolUtilization returns the fraction of the book's resting-order slot
// pool currently allocated, for the lowlatency_pool_utilization gauge.
func (b *Book) PoolUtilization() float64 {
	cap := b.orders.Capacity()
	if cap == 0 {
		return 0
	}
	return float64(cap-b.orders.Available()) / float64(cap)
}

// AddOrder inserts a new resting order at the tail of its price level's
// FIFO chain. It returns an error if order_id already exists or the
// order pool is exhausted.
func (b *Book) AddOrder(clientID wire.ClientId, orderID wire.OrderId, side wire.Side, price wire.Price, qty wire.Qty) (*Order, error) {
	if _, exists := b.orderMap[orderID]; exists {
		return nil, apperrors.NewValidationError("order_id", orderID, "order already exists")
	}

	idx, slot, ok := b.orders.Allocate()
	if !ok {
		return nil, apperrors.NewComponentError("order_book", "add_order", errPoolExhausted)
	}

	priority := b.nextPriority
	b.nextPriority++

	*slot = Order{
		OrderId:  orderID,
		ClientId: clientID,
		TickerId: b.TickerId,
		Side:     side,
		Price:    price,
		Qty:      qty,
		Priority: priority,
		prevIdx:  pool.NoIndex,
		nextIdx:  pool.NoIndex,
	}

	levels := b.levelsFor(side)
	level, ok := levels[price]
	if !ok {
		level = &PriceLevel{Price: price, headIdx: pool.NoIndex, tailIdx: pool.NoIndex}
		levels[price] = level
	}

	if level.tailIdx != pool.NoIndex {
		oldTail := b.orders.Get(level.tailIdx)
		slot.prevIdx = level.tailIdx
		oldTail.nextIdx = idx // the symmetric update the original left out
		level.tailIdx = idx
	} else {
		level.headIdx = idx
		level.tailIdx = idx
	}

	level.TotalQty += qty
	level.OrderCount++

	b.orderMap[orderID] = idx
	return slot, nil
}

// CancelOrder removes order_id from the book, unlinking it from its
// level's FIFO chain and returning its final state. It returns an error
// if order_id is not resting.
func (b *Book) CancelOrder(orderID wire.OrderId) (Order, error) {
	idx, exists := b.orderMap[orderID]
	if !exists {
		return Order{}, apperrors.NewValidationError("order_id", orderID, "order not found")
	}
	delete(b.orderMap, orderID)

	order := *b.orders.Get(idx)
	levels := b.levelsFor(order.Side)
	level := levels[order.Price]

	if order.prevIdx != pool.NoIndex {
		b.orders.Get(order.prevIdx).nextIdx = order.nextIdx
	} else {
		level.headIdx = order.nextIdx
	}

	if order.nextIdx != pool.NoIndex {
		b.orders.Get(order.nextIdx).prevIdx = order.prevIdx
	} else {
		level.tailIdx = order.prevIdx
	}

	level.OrderCount--
	level.TotalQty -= order.Qty
	if level.OrderCount == 0 {
		delete(levels, order.Price)
	}

	b.orders.Deallocate(idx)
	return order, nil
}

// BestBid returns the highest resting bid price, if any.
func (b *Book) BestBid() (wire.Price, bool) {
	return bestPrice(b.bidLevels, true)
}

// BestAsk returns the lowest resting ask price, if any.
func (b *Book) BestAsk() (wire.Price, bool) {
	return bestPrice(b.askLevels, false)
}

func bestPrice(levels map[wire.Price]*PriceLevel, highest bool) (wire.Price, bool) {
	var best wire.Price
	found := false
	for p := range levels {
		if !found || (highest && p > best) || (!highest && p < best) {
			best = p
			found = true
		}
	}
	return best, found
}

// Level returns the price level at price on side, if one exists.
func (b *Book) Level(side wire.Side, price wire.Price) (*PriceLevel, bool) {
	l, ok := b.levelsFor(side)[price]
	return l, ok
}

// FrontOrder returns the order at the head of price's FIFO chain on
// side — the next one eligible to fill.
func (b *Book) FrontOrder(side wire.Side, price wire.Price) (*Order, bool) {
	level, ok := b.levelsFor(side)[price]
	if !ok || level.headIdx == pool.NoIndex {
		return nil, false
	}
	return b.orders.Get(level.headIdx), true
}

// NextOrder returns the order following o in its level's FIFO chain.
func (b *Book) NextOrder(o *Order) (*Order, bool) {
	if o.nextIdx == pool.NoIndex {
		return nil, false
	}
	return b.orders.Get(o.nextIdx), true
}

// ReduceQty lowers a resting order's quantity by delta (a partial fill),
// keeping its position in the FIFO chain and updating level totals. If
// delta exhausts the order it is canceled outright.
func (b *Book) ReduceQty(orderID wire.OrderId, delta wire.Qty) error {
	idx, exists := b.orderMap[orderID]
	if !exists {
		return apperrors.NewValidationError("order_id", orderID, "order not found")
	}
	slot := b.orders.Get(idx)
	if delta >= slot.Qty {
		_, err := b.CancelOrder(orderID)
		return err
	}
	level := b.levelsFor(slot.Side)[slot.Price]
	slot.Qty -= delta
	level.TotalQty -= delta
	return nil
}

var errPoolExhausted = poolExhaustedError{}

type poolExhaustedError struct{}

func (poolExhaustedError) Error() string { return "order pool exhausted" }
