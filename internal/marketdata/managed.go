package marketdata

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncState is the ManagedOrderBook state machine per spec.md §3/§4.2.
type SyncState int

const (
	Uninit SyncState = iota
	Syncing
	Synced
	Resyncing
)

func (s SyncState) String() string {
	switch s {
	case Uninit:
		return "uninit"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Resyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// SnapshotFetcher requests a fresh book snapshot for a symbol, returning
// the snapshot's sequence id ("lastUpdateId" in Binance parlance) plus
// levels. The caller (ManagedOrderBook) owns deciding when to call it.
type SnapshotFetcher interface {
	FetchSnapshot(symbol string) (BookData, error)
}

// DesyncSink receives book_desync notifications (spec.md §4.2's
// "raise a book_desync event through C6 at Error priority").
type DesyncSink interface {
	BookDesync(symbol string, resyncCount int)
}

// ManagedOrderBook drives snapshot+delta synchronization for one symbol
// against Binance-style semantics: buffer deltas while syncing, validate
// the first retained delta against the snapshot boundary, then require
// strict first_update_id continuity while Synced.
type ManagedOrderBook struct {
	mu sync.Mutex

	symbol   string
	book     *OrderBook
	state    SyncState
	fetcher  SnapshotFetcher
	desync   DesyncSink
	log      *zap.SugaredLogger
	bufCap   int
	buffered []BookData

	lastSequence   uint64
	isStale        bool
	resyncWindow   time.Duration
	resyncTimes    []time.Time
	resyncEpisode  int
}

// NewManagedOrderBook constructs a book synchronizer. bufCap bounds the
// delta buffer while Syncing/Resyncing; overflow drops the oldest
// buffered delta and forces a fresh resync.
func NewManagedOrderBook(symbol string, fetcher SnapshotFetcher, desync DesyncSink, bufCap int, resyncWindow time.Duration, log *zap.SugaredLogger) *ManagedOrderBook {
	if bufCap <= 0 {
		bufCap = 1000
	}
	return &ManagedOrderBook{
		symbol:       symbol,
		book:         NewOrderBook(),
		state:        Uninit,
		fetcher:      fetcher,
		desync:       desync,
		log:          log,
		bufCap:       bufCap,
		resyncWindow: resyncWindow,
	}
}

// State returns the current sync state under lock.
func (m *ManagedOrderBook) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsStale reports whether the book is serving data from before a
// desync episode.
func (m *ManagedOrderBook) IsStale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isStale
}

// BestBidAsk returns a read-only snapshot of the current best bid/ask; callers
// never get direct access to the mutable OrderBook.
func (m *ManagedOrderBook) BestBidAsk() (bid, ask BookLevel, haveBid, haveAsk bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, haveBid = m.book.BestBid()
	ask, haveAsk = m.book.BestAsk()
	return
}

// Start transitions Uninit -> Syncing, the first-subscription trigger
// from spec.md §4.2.
func (m *ManagedOrderBook) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Uninit {
		m.state = Syncing
		m.buffered = nil
	}
}

// OnDelta feeds one delta into the state machine. It is the sole
// mutating entrypoint besides Start, and is safe for concurrent callers
// (single lock, per spec.md §5's "linearized inside the owning
// ManagedOrderBook").
func (m *ManagedOrderBook) OnDelta(d BookData) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Uninit:
		return
	case Syncing, Resyncing:
		m.bufferDelta(d)
	case Synced:
		m.applySyncedDelta(d)
	}
}

func (m *ManagedOrderBook) bufferDelta(d BookData) {
	m.buffered = append(m.buffered, d)
	if len(m.buffered) > m.bufCap {
		m.buffered = m.buffered[1:]
		m.forceResyncLocked()
		return
	}
	m.attemptResyncLocked()
}

// attemptResyncLocked requests a fresh snapshot and tries to reconcile
// it with whatever has been buffered so far. Must hold m.mu.
func (m *ManagedOrderBook) attemptResyncLocked() {
	if m.fetcher == nil {
		return
	}
	snap, err := m.fetcher.FetchSnapshot(m.symbol)
	if err != nil {
		if m.log != nil {
			m.log.Warnw("snapshot fetch failed", "symbol", m.symbol, "err", err)
		}
		return
	}

	// Drop buffered deltas at or before the snapshot.
	retained := m.buffered[:0:0]
	for _, d := range m.buffered {
		if d.Sequence > snap.Sequence {
			retained = append(retained, d)
		}
	}

	if len(retained) == 0 {
		// Nothing usable yet; apply the snapshot and wait for fresh
		// deltas while staying in the syncing family state.
		m.book.ApplySnapshot(snap.Bids, snap.Asks, snap.Sequence)
		m.buffered = nil
		return
	}

	first := retained[0]
	if !(first.FirstUpdateID <= snap.Sequence+1 && snap.Sequence+1 <= first.Sequence) {
		// Gap: discard snapshot, stay in the syncing family, keep
		// buffering for a fresh attempt.
		m.buffered = retained
		return
	}

	m.book.ApplySnapshot(snap.Bids, snap.Asks, snap.Sequence)
	for _, d := range retained {
		m.applyDeltaLevelsLocked(d)
	}
	m.lastSequence = m.book.Sequence()
	m.buffered = nil
	m.state = Synced
	m.isStale = false
}

func (m *ManagedOrderBook) applySyncedDelta(d BookData) {
	if d.FirstUpdateID != m.lastSequence+1 {
		m.forceResyncLocked()
		return
	}
	m.applyDeltaLevelsLocked(d)
	m.lastSequence = m.book.Sequence()
}

func (m *ManagedOrderBook) applyDeltaLevelsLocked(d BookData) {
	if d.Sequence <= m.book.sequence {
		return
	}
	for _, lvl := range d.Bids {
		m.book.bids = upsertLevel(m.book.bids, lvl, true)
	}
	for _, lvl := range d.Asks {
		m.book.asks = upsertLevel(m.book.asks, lvl, false)
	}
	m.book.sequence = d.Sequence
}

// forceResyncLocked moves to Resyncing, marks the book stale, records
// the episode for the repeated-resync failure window, and immediately
// tries a fresh snapshot. Must hold m.mu.
func (m *ManagedOrderBook) forceResyncLocked() {
	m.state = Resyncing
	m.isStale = true
	m.buffered = nil
	now := time.Now()
	m.resyncTimes = append(m.resyncTimes, now)
	cutoff := now.Add(-m.resyncWindow)
	kept := m.resyncTimes[:0]
	for _, t := range m.resyncTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.resyncTimes = kept
	m.resyncEpisode++

	if m.desync != nil {
		m.desync.BookDesync(m.symbol, len(m.resyncTimes))
	}
	if m.log != nil {
		m.log.Warnw("book resync forced", "symbol", m.symbol, "episode", m.resyncEpisode)
	}
	m.attemptResyncLocked()
}
