package orders

import (
	"math"
	"sync"
)

const positionEpsilon = 1e-9

// Position is a per-symbol signed position, weighted average price, and
// cumulative realized PnL (spec.md §3/§4.7). The fill-accounting math
// below is ported from the teacher's applyPositionFill/computeUnrealPnL
// (execution_service.go:649-702), which already implements the same
// weighted-average-on-same-side / realize-and-flip-through-zero
// semantics spec.md §4.7 requires.
type Position struct {
	Symbol      string
	Size        float64
	AvgPrice    float64
	RealizedPnL float64
}

// ApplyFill updates a position in place given a fill's side/qty/price.
// Same-side fills (including starting from flat) re-weight AvgPrice;
// opposite-side fills realize PnL against the current AvgPrice and, if
// the fill exceeds |size|, open a residual position at the fill price.
func (p *Position) ApplyFill(side Side, qty, price float64) {
	sign := 1.0
	if side == SideSell {
		sign = -1.0
	}

	if p.Size == 0 || sameSign(p.Size, sign) {
		totalQty := math.Abs(p.Size) + qty
		newSize := p.Size + qty*sign
		if totalQty > 0 {
			p.AvgPrice = (p.AvgPrice*math.Abs(p.Size) + price*qty) / totalQty
		}
		p.Size = newSize
		p.collapseIfFlat()
		return
	}

	closing := math.Min(math.Abs(p.Size), qty)
	if p.Size > 0 {
		p.RealizedPnL += (price - p.AvgPrice) * closing
	} else {
		p.RealizedPnL += (p.AvgPrice - price) * closing
	}

	remaining := math.Abs(p.Size) - closing
	if remaining > positionEpsilon {
		p.Size = math.Copysign(remaining, p.Size)
		p.collapseIfFlat()
		return
	}

	leftover := qty - closing
	if leftover > positionEpsilon {
		p.Size = leftover * sign
		p.AvgPrice = price
		return
	}
	p.Size = 0
	p.AvgPrice = 0
}

func sameSign(size, sign float64) bool {
	if size == 0 {
		return true
	}
	return (size > 0) == (sign > 0)
}

// collapseIfFlat zeroes Size/AvgPrice when |Size| falls under epsilon,
// preserving RealizedPnL (spec.md §4.7).
func (p *Position) collapseIfFlat() {
	if math.Abs(p.Size) < positionEpsilon {
		p.Size = 0
		p.AvgPrice = 0
	}
}

// UnrealizedPnL computes PnL at a mark price, or 0 when flat.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	if p.Size == 0 {
		return 0
	}
	sign := 1.0
	if p.Size < 0 {
		sign = -1.0
	}
	return sign * (mark - p.AvgPrice) * math.Abs(p.Size)
}

// PositionTable owns one Position per symbol behind a shared-exclusive
// lock, per spec.md §5/§3 ("Position is owned by OrderStore keyed by
// symbol").
type PositionTable struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewPositionTable returns an empty table.
func NewPositionTable() *PositionTable {
	return &PositionTable{positions: make(map[string]*Position)}
}

// ApplyFill updates (creating if needed) the position for symbol.
func (t *PositionTable) ApplyFill(symbol string, side Side, qty, price float64) Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		t.positions[symbol] = pos
	}
	pos.ApplyFill(side, qty, price)
	return *pos
}

// Get returns a clone of the position for symbol, or the zero value and
// false if none exists.
func (t *PositionTable) Get(symbol string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// All returns clones of every tracked position.
func (t *PositionTable) All() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}
