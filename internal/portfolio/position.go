// Package portfolio is the pipeline's accountant. It folds execution fills
// into per-symbol positions, marks them against the live quote stream, and
// publishes a PnL snapshot on every change.
package portfolio

import (
	"math"
	"sync"

	"gammabot/pkg/types"
)

// Position tracks holdings in a single option contract. Positive qty is
// long, negative short.
type Position struct {
	Qty      int     `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
	LastMid  float64 `json:"last_mid"`
}

// ApplyFill folds one execution into the position and returns the PnL it
// realizes. Same-direction fills re-average the entry; opposing fills
// realize PnL up to the flattening quantity, and any excess flips the
// position open at the fill price.
func (p *Position) ApplyFill(side types.Side, price float64, qty int) float64 {
	incoming := int(side.Sign()) * qty
	if p.Qty == 0 || (p.Qty > 0) == (incoming > 0) {
		totalCost := p.AvgPrice*math.Abs(float64(p.Qty)) + price*float64(qty)
		p.Qty += incoming
		if p.Qty != 0 {
			p.AvgPrice = totalCost / math.Abs(float64(p.Qty))
		} else {
			p.AvgPrice = 0
		}
		return 0
	}

	closing := qty
	if abs := absInt(p.Qty); abs < closing {
		closing = abs
	}
	realized := (price - p.AvgPrice) * float64(closing)
	if p.Qty < 0 {
		realized = -realized
	}

	newQty := p.Qty + incoming
	switch {
	case newQty == 0:
		p.Qty = 0
		p.AvgPrice = 0
	case (p.Qty > 0) != (newQty > 0):
		// flipped through flat: the remainder opens at the fill price
		p.Qty = newQty
		p.AvgPrice = price
	default:
		p.Qty = newQty
	}
	return realized
}

// Unrealized is the mark-to-market PnL against the last observed mid.
func (p *Position) Unrealized() float64 {
	if p.Qty == 0 {
		return 0
	}
	return (p.LastMid - p.AvgPrice) * float64(p.Qty)
}

// Book aggregates positions across symbols. Thread-safe.
type Book struct {
	mu        sync.Mutex
	positions map[string]*Position
	realized  float64
}

// NewBook starts flat.
func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// MarkQuote refreshes the mark for an existing position. Symbols without a
// position are ignored; the book does not track every quote it sees.
func (b *Book) MarkQuote(symbol string, mid float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[symbol]; ok {
		pos.LastMid = mid
	}
}

// ApplyFill routes one fill to its position and accumulates realized PnL.
func (b *Book) ApplyFill(symbol string, side types.Side, price float64, qty int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		pos = &Position{}
		b.positions[symbol] = pos
	}
	b.realized += pos.ApplyFill(side, price, qty)
}

// Snapshot renders the book for the portfolio stream: open positions only,
// everything rounded to 6 decimal places.
func (b *Book) Snapshot(ts int64) types.PortfolioSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var unrealized float64
	views := make([]types.PositionView, 0, len(b.positions))
	for symbol, pos := range b.positions {
		unrealized += pos.Unrealized()
		if pos.Qty == 0 {
			continue
		}
		views = append(views, types.PositionView{
			Symbol:     symbol,
			Qty:        pos.Qty,
			AvgPrice:   round6(pos.AvgPrice),
			Mid:        round6(pos.LastMid),
			Unrealized: round6(pos.Unrealized()),
		})
	}
	return types.PortfolioSnapshot{
		TS:            ts,
		RealizedPnL:   round6(b.realized),
		UnrealizedPnL: round6(unrealized),
		TotalPnL:      round6(b.realized + unrealized),
		Positions:     views,
	}
}

// TotalPnL is realized plus mark-to-market, unrounded.
func (b *Book) TotalPnL() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var unrealized float64
	for _, pos := range b.positions {
		unrealized += pos.Unrealized()
	}
	return b.realized + unrealized
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
