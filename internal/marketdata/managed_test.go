package marketdata

import (
	"errors"
	"testing"
	"time"
)

type fixedFetcher struct {
	snap BookData
	err  error
	n    int
}

func (f *fixedFetcher) FetchSnapshot(symbol string) (BookData, error) {
	f.n++
	return f.snap, f.err
}

type recordingDesync struct {
	calls []int
}

func (r *recordingDesync) BookDesync(symbol string, resyncCount int) {
	r.calls = append(r.calls, resyncCount)
}

func TestManagedOrderBookSyncsFromBufferedDeltas(t *testing.T) {
	fetcher := &fixedFetcher{snap: BookData{
		Bids:     []BookLevel{{Price: 100, Qty: 1}},
		Asks:     []BookLevel{{Price: 101, Qty: 1}},
		Sequence: 3,
	}}
	desync := &recordingDesync{}
	m := NewManagedOrderBook("BTCUSDT", fetcher, desync, 100, time.Minute, nil)

	m.Start()
	if m.State() != Syncing {
		t.Fatalf("expected Syncing after Start, got %v", m.State())
	}

	m.OnDelta(BookData{
		Bids:          []BookLevel{{Price: 99, Qty: 2}},
		FirstUpdateID: 1,
		Sequence:      5,
	})

	if m.State() != Synced {
		t.Fatalf("expected Synced once a reconciling delta arrives, got %v", m.State())
	}
	bid, ask, haveBid, haveAsk := m.BestBidAsk()
	if !haveBid || !haveAsk {
		t.Fatal("expected both sides populated after sync")
	}
	if bid.Price != 100 || ask.Price != 101 {
		t.Fatalf("unexpected book after sync: bid=%+v ask=%+v", bid, ask)
	}
	if len(desync.calls) != 0 {
		t.Fatalf("expected no desync notifications on clean sync, got %v", desync.calls)
	}
}

func TestManagedOrderBookGapWhileSyncedForcesResync(t *testing.T) {
	fetcher := &fixedFetcher{snap: BookData{Sequence: 0}}
	desync := &recordingDesync{}
	m := NewManagedOrderBook("BTCUSDT", fetcher, desync, 100, time.Minute, nil)
	m.Start()

	// Reconcile immediately: empty snapshot at sequence 0, first delta
	// establishes Synced at sequence 1.
	m.OnDelta(BookData{FirstUpdateID: 1, Sequence: 1})
	if m.State() != Synced {
		t.Fatalf("expected Synced, got %v", m.State())
	}

	// A delta with a FirstUpdateID that doesn't chain from lastSequence+1
	// is a gap and must force a resync.
	m.OnDelta(BookData{FirstUpdateID: 10, Sequence: 11})

	if len(desync.calls) == 0 {
		t.Fatal("expected a desync notification on gap")
	}
	if m.IsStale() == false && m.State() == Synced {
		// attemptResyncLocked may have immediately re-synced with the
		// fetcher's snapshot; either outcome is valid as long as a
		// desync was raised.
		t.Log("resync completed immediately after forced resync")
	}
}

func TestManagedOrderBookBufferOverflowForcesResync(t *testing.T) {
	fetcher := &fixedFetcher{err: errors.New("unavailable")}
	desync := &recordingDesync{}
	m := NewManagedOrderBook("BTCUSDT", fetcher, desync, 2, time.Minute, nil)
	m.Start()

	m.OnDelta(BookData{Sequence: 1})
	m.OnDelta(BookData{Sequence: 2})
	m.OnDelta(BookData{Sequence: 3})

	if len(desync.calls) == 0 {
		t.Fatal("expected overflow to force a resync episode")
	}
	if !m.IsStale() {
		t.Fatal("expected book marked stale after forced resync with failing fetcher")
	}
}

func TestManagedOrderBookIgnoresDeltasBeforeStart(t *testing.T) {
	m := NewManagedOrderBook("BTCUSDT", &fixedFetcher{}, nil, 10, time.Minute, nil)
	m.OnDelta(BookData{Sequence: 1})
	if m.State() != Uninit {
		t.Fatalf("expected Uninit to ignore deltas, got %v", m.State())
	}
}
