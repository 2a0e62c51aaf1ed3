package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veloz/engine/internal/eventloop"
)

// Source produces MarketEvent values for one venue — either a live
// WsClient or the parquet/CSV replay source below.
type Source interface {
	Run(ctx context.Context) error
	Stop()
}

// MarketDataMgr (C7) is the glue: it owns one Source per venue, routes
// decoded events into the right symbol's ManagedOrderBook, and fans
// book/market events out through the EventLoop tagged with
// "market", "type:<kind>", "symbol:<SYMBOL>", "venue:<Venue>".
type MarketDataMgr struct {
	loop  *eventloop.EventLoop
	subs  *SubscriptionMgr
	log   *zap.SugaredLogger

	mu     sync.Mutex
	books  map[string]*ManagedOrderBook // keyed by symbol
	fetchers map[Venue]SnapshotFetcher
	bufCap int
	resyncWindow time.Duration
	sinks  []func(MarketEvent)
}

// Subscribe registers a callback invoked on the event loop's worker
// goroutines for every decoded MarketEvent. Used by EngineBridge/
// EventBroadcaster to receive the outbound stream without holding a
// back-pointer into MarketDataMgr (spec.md §9).
func (m *MarketDataMgr) Subscribe(sink func(MarketEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// NewMarketDataMgr wires the loop and subscription manager together.
func NewMarketDataMgr(loop *eventloop.EventLoop, subs *SubscriptionMgr, bufCap int, resyncWindow time.Duration, log *zap.SugaredLogger) *MarketDataMgr {
	return &MarketDataMgr{
		loop:         loop,
		subs:         subs,
		log:          log,
		books:        make(map[string]*ManagedOrderBook),
		fetchers:     make(map[Venue]SnapshotFetcher),
		bufCap:       bufCap,
		resyncWindow: resyncWindow,
	}
}

// RegisterSnapshotFetcher associates a REST snapshot fetcher with a
// venue, used by ManagedOrderBook during (re)sync.
func (m *MarketDataMgr) RegisterSnapshotFetcher(v Venue, f SnapshotFetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchers[v] = f
}

func (m *MarketDataMgr) bookFor(symbol string, venue Venue) *ManagedOrderBook {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[symbol]
	if !ok {
		b = NewManagedOrderBook(symbol, m.fetchers[venue], m, m.bufCap, m.resyncWindow, m.log)
		b.Start()
		m.books[symbol] = b
	}
	return b
}

// Book returns the managed book for a symbol, if one has been created.
func (m *MarketDataMgr) Book(symbol string) (*ManagedOrderBook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[symbol]
	return b, ok
}

// BookDesync implements DesyncSink: once per episode it posts a
// Critical-priority item tagged "type:error" through the loop, which logs
// book_desync (spec.md §4.2).
func (m *MarketDataMgr) BookDesync(symbol string, resyncCount int) {
	if m.loop == nil {
		return
	}
	m.loop.Post(eventloop.Critical, []string{"market", "type:error", "symbol:" + symbol}, func() {
		if m.log != nil {
			m.log.Errorw("book_desync", "symbol", symbol, "resync_count", resyncCount)
		}
	})
}

// OnEvent is the callback WsClient/replay sources invoke per decoded
// event. It updates the relevant book for delta/snapshot events and
// fans the event out through the loop.
func (m *MarketDataMgr) OnEvent(evt MarketEvent) {
	switch evt.Type {
	case EventBookDelta:
		if evt.BookDelta != nil {
			book := m.bookFor(evt.Symbol, evt.Venue)
			book.OnDelta(evt.BookDelta.Delta)
		}
	case EventTrade, EventBookTop, EventKline, EventTicker, EventFundingRate, EventMarkPrice:
		// no book state to update; fan out below.
	}

	priority := eventloop.Normal
	tags := []string{
		"market",
		"type:" + string(evt.Type),
		"symbol:" + evt.Symbol,
		"venue:" + string(evt.Venue),
	}
	m.mu.Lock()
	sinks := make([]func(MarketEvent), len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.Unlock()
	if m.loop != nil {
		m.loop.Post(priority, tags, func() {
			for _, sink := range sinks {
				sink(evt)
			}
		})
	}
}

// ConnectVenue runs src under ctx and returns once the source's Run
// returns, wrapping any error with the venue name (callers typically
// invoke this in its own goroutine per venue). It does not attach src to
// OnEvent: events go to whatever handler src was constructed with.
func (m *MarketDataMgr) ConnectVenue(ctx context.Context, venue Venue, src Source) error {
	if err := src.Run(ctx); err != nil {
		return fmt.Errorf("market data source %s: %w", venue, err)
	}
	return nil
}
