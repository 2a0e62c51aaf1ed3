// Package marketdata implements venue ingestion: the order book (C1),
// snapshot+delta synchronization (C2), subscription dedup (C3), the
// venue WebSocket client (C4), market metrics (C5), and the manager glue
// (C7) that ties them together and feeds the event loop.
package marketdata

import (
	"sort"
)

// BookLevel is one price level on a side of the book. A zero Qty on a
// delta means "delete this level".
type BookLevel struct {
	Price float64
	Qty   float64
}

// BookData is a full snapshot or an incremental delta range, per
// spec.md §3. Deltas advertise a half-open [FirstUpdateID, Sequence]
// range.
type BookData struct {
	Bids          []BookLevel
	Asks          []BookLevel
	Sequence      uint64
	FirstUpdateID uint64
	IsSnapshot    bool
}

// OrderBook is the in-memory, price-level aggregated book for one
// symbol. Bids are kept strictly price-descending, asks strictly
// price-ascending, both sides holding only positive quantities.
//
// OrderBook itself is not goroutine-safe; callers serialize access
// through ManagedOrderBook's single lock (spec.md §5).
type OrderBook struct {
	bids     []BookLevel
	asks     []BookLevel
	sequence uint64
}

// NewOrderBook returns an empty book.
func NewOrderBook() *OrderBook {
	return &OrderBook{}
}

// ApplySnapshot replaces both sides wholesale. Zero-quantity levels in
// the snapshot are dropped rather than inserted.
func (b *OrderBook) ApplySnapshot(bids, asks []BookLevel, seq uint64) {
	b.bids = compactSorted(bids, true)
	b.asks = compactSorted(asks, false)
	b.sequence = seq
}

// ApplyDelta upserts or erases a single level. Deltas with seq <=
// current sequence are dropped silently — they are duplicates or
// arrived out of order.
func (b *OrderBook) ApplyDelta(level BookLevel, isBid bool, seq uint64) {
	if seq <= b.sequence {
		return
	}
	if isBid {
		b.bids = upsertLevel(b.bids, level, true)
	} else {
		b.asks = upsertLevel(b.asks, level, false)
	}
	b.sequence = seq
}

// Sequence returns the book's last-applied sequence number.
func (b *OrderBook) Sequence() uint64 { return b.sequence }

// BestBid returns the highest bid level, or the zero value and false if
// the bid side is empty.
func (b *OrderBook) BestBid() (BookLevel, bool) {
	if len(b.bids) == 0 {
		return BookLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask level, or the zero value and false if
// the ask side is empty.
func (b *OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.asks) == 0 {
		return BookLevel{}, false
	}
	return b.asks[0], true
}

// Spread returns BestAsk - BestBid, or 0 if either side is empty.
// Callers that need to distinguish "zero spread" from "no book" must
// check emptiness themselves via BestBid/BestAsk.
func (b *OrderBook) Spread() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return ask.Price - bid.Price
}

// MidPrice returns the midpoint of best bid/ask, or 0 if either side is
// empty.
func (b *OrderBook) MidPrice() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// TopN returns up to n levels per side, best-first.
func (b *OrderBook) TopN(n int) (bids, asks []BookLevel) {
	if n < 0 {
		n = 0
	}
	bids = cloneUpTo(b.bids, n)
	asks = cloneUpTo(b.asks, n)
	return
}

func cloneUpTo(levels []BookLevel, n int) []BookLevel {
	if n > len(levels) {
		n = len(levels)
	}
	out := make([]BookLevel, n)
	copy(out, levels[:n])
	return out
}

// compactSorted drops zero-qty levels and sorts descending (bids) or
// ascending (asks).
func compactSorted(levels []BookLevel, descending bool) []BookLevel {
	out := make([]BookLevel, 0, len(levels))
	for _, l := range levels {
		if l.Qty > 0 {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// upsertLevel inserts/replaces a level by price (qty > 0) or removes it
// (qty == 0), keeping the slice sorted per side.
func upsertLevel(levels []BookLevel, level BookLevel, descending bool) []BookLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price <= level.Price
		}
		return levels[i].Price >= level.Price
	})

	found := idx < len(levels) && levels[idx].Price == level.Price
	if level.Qty == 0 {
		if found {
			levels = append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}
	if found {
		levels[idx].Qty = level.Qty
		return levels
	}
	levels = append(levels, BookLevel{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = level
	return levels
}
