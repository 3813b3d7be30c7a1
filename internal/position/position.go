// Package position tracks per-instrument net position, weighted-average
// open price, realized/unrealized P&L, and open-order exposure, and
// aggregates a cached total P&L across instruments.
package position

import "github.com/abdoElHodaky/lowlatency-trading/pkg/wire"

// Position is one instrument's accounting state.
type Position struct {
	Pos          int64
	AvgOpenPrice wire.Price
	LastPrice    wire.Price
	Realized     int64
	Unrealized   int64
	VolumeTraded wire.Qty

	OpenBuyQty  wire.Qty
	OpenSellQty wire.Qty
}

// TotalPnL returns realized plus unrealized P&L.
func (p *Position) TotalPnL() int64 {
	return p.Realized + p.Unrealized
}

// MaxLongExposure is the position the account would reach if every
// resting buy were filled.
func (p *Position) MaxLongExposure() int64 {
	return p.Pos + int64(p.OpenBuyQty)
}

// MaxShortExposure is the position the account would reach if every
// resting sell were filled.
func (p *Position) MaxShortExposure() int64 {
	return p.Pos - int64(p.OpenSellQty)
}

func signedQty(side wire.Side, qty wire.Qty) int64 {
	return side.Sign() * int64(qty)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// OnFill applies a fill of qty at price on side, updating position,
// weighted-average open price, realized P&L, volume traded, and
// recomputed unrealized P&L, per §4.9.
func (p *Position) OnFill(side wire.Side, qty wire.Qty, price wire.Price) {
	signed := signedQty(side, qty)
	newPos := p.Pos + signed

	p.VolumeTraded += qty
	p.LastPrice = price

	switch {
	case p.Pos == 0:
		// Opening from flat.
		p.AvgOpenPrice = price
	case (p.Pos > 0) != (signed > 0):
		// Reducing or closing: opposite signs.
		closed := minInt64(abs64(p.Pos), abs64(signed))
		if p.Pos > 0 {
			p.Realized += closed * int64(price-p.AvgOpenPrice)
		} else {
			p.Realized += closed * int64(p.AvgOpenPrice-price)
		}
		if newPos != 0 && (newPos > 0) != (p.Pos > 0) {
			// The position flipped sign.
			p.AvgOpenPrice = price
		}
	default:
		// Adding in the same direction: weighted-average open price.
		oldAbs := abs64(p.Pos)
		addAbs := abs64(signed)
		newAbs := oldAbs + addAbs
		if newAbs > 0 {
			p.AvgOpenPrice = wire.Price((oldAbs*int64(p.AvgOpenPrice) + addAbs*int64(price)) / newAbs)
		}
	}

	p.Pos = newPos
	p.recomputeUnrealized()
}

func (p *Position) recomputeUnrealized() {
	switch {
	case p.Pos > 0:
		p.Unrealized = int64(p.LastPrice-p.AvgOpenPrice) * p.Pos
	case p.Pos < 0:
		p.Unrealized = int64(p.AvgOpenPrice-p.LastPrice) * (-p.Pos)
	default:
		p.Unrealized = 0
	}
}

// UpdateMarketPrice refreshes LastPrice and unrealized P&L without a
// fill, e.g. from an exchange trade print.
func (p *Position) UpdateMarketPrice(price wire.Price) {
	p.LastPrice = price
	p.recomputeUnrealized()
}

// AddOpenOrder records a new resting order's exposure.
func (p *Position) AddOpenOrder(side wire.Side, qty wire.Qty) {
	if side == wire.SideBuy {
		p.OpenBuyQty += qty
	} else {
		p.OpenSellQty += qty
	}
}

// RemoveOpenOrder removes exposure for a filled or canceled order,
// saturating at zero.
func (p *Position) RemoveOpenOrder(side wire.Side, qty wire.Qty) {
	if side == wire.SideBuy {
		p.OpenBuyQty = satSub(p.OpenBuyQty, qty)
	} else {
		p.OpenSellQty = satSub(p.OpenSellQty, qty)
	}
}

func satSub(a, b wire.Qty) wire.Qty {
	if b >= a {
		return 0
	}
	return a - b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Keeper aggregates Positions per ticker and caches total P&L across
// all of them, refreshed on every mutation.
type Keeper struct {
	positions map[wire.TickerId]*Position
	totalPnL  int64
}

// NewKeeper creates an empty Keeper.
func NewKeeper() *Keeper {
	return &Keeper{positions: make(map[wire.TickerId]*Position)}
}

// Position returns (creating if absent) the Position for ticker.
func (k *Keeper) Position(ticker wire.TickerId) *Position {
	p, ok := k.positions[ticker]
	if !ok {
		p = &Position{}
		k.positions[ticker] = p
	}
	return p
}

// OnFill applies a fill to ticker's position and refreshes the cached
// total P&L.
func (k *Keeper) OnFill(ticker wire.TickerId, side wire.Side, qty wire.Qty, price wire.Price) {
	k.Position(ticker).OnFill(side, qty, price)
	k.refreshTotal()
}

// UpdateMarketPrice refreshes ticker's unrealized P&L and the cached
// total.
func (k *Keeper) UpdateMarketPrice(ticker wire.TickerId, price wire.Price) {
	k.Position(ticker).UpdateMarketPrice(price)
	k.refreshTotal()
}

// TotalPnL returns the cached sum of every tracked instrument's total
// P&L.
func (k *Keeper) TotalPnL() int64 {
	return k.totalPnL
}

func (k *Keeper) refreshTotal() {
	var total int64
	for _, p := range k.positions {
		total += p.TotalPnL()
	}
	k.totalPnL = total
}
