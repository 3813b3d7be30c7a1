// Package risk implements the pre-trade gates that guard every order
// submission: order size, projected position, realized+unrealized loss,
// and open-order count, evaluated in the fixed order the spec requires
// so a rejection always reports the first gate tripped.
package risk

import (
	"github.com/sony/gobreaker"

	"github.com/abdoElHodaky/lowlatency-trading/internal/position"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

// CheckResult names the outcome of a risk evaluation.
type CheckResult int

const (
	Allowed CheckResult = iota
	OrderTooLarge
	PositionTooLarge
	LossTooLarge
	OpenOrdersTooMany
)

func (r CheckResult) String() string {
	switch r {
	case Allowed:
		return "allowed"
	case OrderTooLarge:
		return "order_too_large"
	case PositionTooLarge:
		return "position_too_large"
	case LossTooLarge:
		return "loss_too_large"
	case OpenOrdersTooMany:
		return "open_orders_too_many"
	default:
		return "unknown"
	}
}

// Limits are the per-instrument risk limits. A system-wide default can
// be used for any instrument without an override.
type Limits struct {
	MaxOrderQty   wire.Qty
	MaxPosition   int64
	MaxLoss       int64
	MaxOpenOrders int
}

// DefaultLimits returns a conservative system default.
func DefaultLimits() Limits {
	return Limits{
		MaxOrderQty:   1000,
		MaxPosition:   10000,
		MaxLoss:       1_000_000,
		MaxOpenOrders: 64,
	}
}

// Manager evaluates risk gates per instrument. The loss-limit gate is
// wrapped in a gobreaker.CircuitBreaker that counts consecutive
// LossTooLarge trips per ticker. The breaker does not decide the verdict:
// P&L is recomputed on every check, whether the breaker is open or closed.
type Manager struct {
	perTicker map[wire.TickerId]Limits
	defaults  Limits
	breakers  map[wire.TickerId]*gobreaker.CircuitBreaker
}

// NewManager creates a Manager using defaults for any ticker without an
// explicit override.
func NewManager(defaults Limits) *Manager {
	return &Manager{
		perTicker: make(map[wire.TickerId]Limits),
		defaults:  defaults,
		breakers:  make(map[wire.TickerId]*gobreaker.CircuitBreaker),
	}
}

// SetLimits overrides the limits for a specific ticker.
func (m *Manager) SetLimits(ticker wire.TickerId, limits Limits) {
	m.perTicker[ticker] = limits
}

func (m *Manager) limitsFor(ticker wire.TickerId) Limits {
	if l, ok := m.perTicker[ticker]; ok {
		return l
	}
	return m.defaults
}

// LimitsFor exposes the effective limits for a ticker (its override, or
// the system default), for reporting by the admin API.
func (m *Manager) LimitsFor(ticker wire.TickerId) Limits {
	return m.limitsFor(ticker)
}

// SystemDefaults returns the manager's fallback limits, used by any
// ticker without an explicit override.
func (m *Manager) SystemDefaults() Limits {
	return m.defaults
}

func (m *Manager) breakerFor(ticker wire.TickerId) *gobreaker.CircuitBreaker {
	b, ok := m.breakers[ticker]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "risk-loss-gate",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		m.breakers[ticker] = b
	}
	return b
}

// CheckOrder evaluates the order-size, position, and loss gates in
// order, per §4.10, short-circuiting on the first failure.
func (m *Manager) CheckOrder(ticker wire.TickerId, pos *position.Position, side wire.Side, qty wire.Qty, _price wire.Price) CheckResult {
	limits := m.limitsFor(ticker)

	if qty > limits.MaxOrderQty {
		return OrderTooLarge
	}

	var projected int64
	if side == wire.SideBuy {
		projected = pos.MaxLongExposure() + int64(qty)
	} else {
		projected = pos.MaxShortExposure() - int64(qty)
	}
	if abs64(projected) > limits.MaxPosition {
		return PositionTooLarge
	}

	if m.lossTooLarge(ticker, pos, limits) {
		return LossTooLarge
	}

	return Allowed
}

// lossTooLarge evaluates §4.10 step 3's pure, stateless predicate: it
// always recomputes pos.TotalPnL() against the limit and returns that,
// fresh, on every call — recovery back above -max_loss is reflected
// immediately. The breaker only tracks consecutive trips (e.g. for
// alerting on a sustained breach); its open/closed state never
// overrides a freshly computed, favorable verdict, since §4.10 defines
// no hysteresis on this gate.
func (m *Manager) lossTooLarge(ticker wire.TickerId, pos *position.Position, limits Limits) bool {
	breached := pos.TotalPnL() < -limits.MaxLoss
	breaker := m.breakerFor(ticker)
	_, _ = breaker.Execute(func() (interface{}, error) {
		if breached {
			return nil, errLossTooLarge
		}
		return nil, nil
	})
	return breached
}

var errLossTooLarge = lossTooLargeError{}

type lossTooLargeError struct{}

func (lossTooLargeError) Error() string { return "loss too large" }

// CheckOpenOrders rejects once count reaches the ticker's configured
// max-open-orders limit.
func (m *Manager) CheckOpenOrders(ticker wire.TickerId, count int) CheckResult {
	if count >= m.limitsFor(ticker).MaxOpenOrders {
		return OpenOrdersTooMany
	}
	return Allowed
}

// CheckOrderWithOpenOrders composes CheckOpenOrders and CheckOrder,
// evaluating open-orders first per §4.10.
func (m *Manager) CheckOrderWithOpenOrders(ticker wire.TickerId, openCount int, pos *position.Position, side wire.Side, qty wire.Qty, price wire.Price) CheckResult {
	if r := m.CheckOpenOrders(ticker, openCount); r != Allowed {
		return r
	}
	return m.CheckOrder(ticker, pos, side, qty, price)
}

// CheckPosition runs only the position and loss gates, used for
// periodic policing independent of any specific new order.
func (m *Manager) CheckPosition(ticker wire.TickerId, pos *position.Position) CheckResult {
	limits := m.limitsFor(ticker)
	if abs64(pos.Pos) > limits.MaxPosition {
		return PositionTooLarge
	}
	if m.lossTooLarge(ticker, pos, limits) {
		return LossTooLarge
	}
	return Allowed
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
