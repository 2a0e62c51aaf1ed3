package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/veloz/engine/internal/orders"
)

func fillOrder(t *testing.T, store *orders.OrderStore, positions *orders.PositionTable, id string, side orders.Side, qty, price float64) {
	t.Helper()
	_, err := store.Create(orders.OrderRequest{
		Symbol: "BTCUSDT", Side: side, Type: orders.TypeMarket, Qty: qty, ClientOrderID: id,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Apply(orders.ExecutionReport{ClientOrderID: id, Status: orders.StatusAccepted}); err != nil {
		t.Fatalf("Apply(Accepted): %v", err)
	}
	if _, err := store.Apply(orders.ExecutionReport{ClientOrderID: id, Status: orders.StatusFilled, LastFillQty: qty, LastFillPrice: price}); err != nil {
		t.Fatalf("Apply(Filled): %v", err)
	}
	positions.ApplyFill("BTCUSDT", side, qty, price)
}

func TestReporterGenerateComputesTotalsFromStoreAndPositions(t *testing.T) {
	store := orders.NewOrderStore()
	positions := orders.NewPositionTable()

	fillOrder(t, store, positions, "c1", orders.SideBuy, 1, 100)
	fillOrder(t, store, positions, "c2", orders.SideSell, 1, 110)

	r := NewReporter(store, positions)
	rep := r.Generate()

	if rep.TotalTrades != 2 {
		t.Fatalf("expected 2 filled trades, got %d", rep.TotalTrades)
	}
	if rep.TotalPnL != 10 {
		t.Fatalf("expected total pnl 10, got %v", rep.TotalPnL)
	}
	if rep.WinRate != 1 {
		t.Fatalf("expected win rate 1, got %v", rep.WinRate)
	}
}

func TestReporterMaxDrawdownTracksPeakAcrossCalls(t *testing.T) {
	store := orders.NewOrderStore()
	positions := orders.NewPositionTable()
	r := NewReporter(store, positions)

	fillOrder(t, store, positions, "c1", orders.SideBuy, 1, 100)
	fillOrder(t, store, positions, "c2", orders.SideSell, 1, 120)
	rep := r.Generate()
	if rep.MaxDrawdown != 0 {
		t.Fatalf("expected no drawdown at the peak, got %v", rep.MaxDrawdown)
	}

	fillOrder(t, store, positions, "c3", orders.SideBuy, 1, 120)
	fillOrder(t, store, positions, "c4", orders.SideSell, 1, 100)
	rep = r.Generate()
	if rep.MaxDrawdown <= 0 {
		t.Fatalf("expected a drawdown after giving back gains, got %v", rep.MaxDrawdown)
	}
}

func TestReporterRunPublishesOnEachTick(t *testing.T) {
	store := orders.NewOrderStore()
	positions := orders.NewPositionTable()
	r := NewReporter(store, positions)

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan PerformanceReport, 4)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond, func(p PerformanceReport) { reports <- p })
		close(done)
	}()

	select {
	case <-reports:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published report")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
