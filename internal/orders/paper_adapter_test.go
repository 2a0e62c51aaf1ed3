package orders

import "testing"

func TestPaperAdapterRejectsUnknownSymbol(t *testing.T) {
	pa := NewPaperAdapter(PaperAdapterConfig{})
	_, err := pa.PlaceOrder(newTestRequest("c1"))
	var ae *AdapterError
	if err == nil {
		t.Fatal("expected error for unknown symbol")
	}
	if !errorsAsAdapter(err, &ae) || ae.Kind != AdapterRejected {
		t.Fatalf("expected AdapterError{AdapterRejected}, got %v", err)
	}
}

func TestPaperAdapterRestingLimitIsMaker(t *testing.T) {
	pa := NewPaperAdapter(PaperAdapterConfig{SlippageBps: 2, MaxSlippageBps: 20})
	pa.UpdateMarket("BTCUSDT", PaperMarketState{BestBid: 49990, BestAsk: 50010, LastPrice: 50000})

	req := newTestRequest("c1")
	req.Price = 49980 // below best bid: resting buy limit, doesn't cross
	report, err := pa.PlaceOrder(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != StatusAccepted {
		t.Fatalf("expected a resting maker order to stay Accepted, got %v", report.Status)
	}
	if report.LastFillQty != 0 {
		t.Fatalf("expected no fill for a resting maker order, got qty %v", report.LastFillQty)
	}
}

func TestPaperAdapterMarketOrderFillsWithSlippage(t *testing.T) {
	pa := NewPaperAdapter(PaperAdapterConfig{SlippageBps: 5, MaxSlippageBps: 50})
	pa.UpdateMarket("BTCUSDT", PaperMarketState{BestBid: 49990, BestAsk: 50010, LastPrice: 50000})

	req := newTestRequest("c1")
	req.Type = TypeMarket
	report, err := pa.PlaceOrder(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != StatusFilled {
		t.Fatalf("expected market order to fill immediately, got %v", report.Status)
	}
	if report.LastFillQty != req.Qty {
		t.Fatalf("expected full fill qty %v, got %v", req.Qty, report.LastFillQty)
	}
	if report.LastFillPrice <= 50010 {
		t.Fatalf("expected buy slippage to push fill price above best ask, got %v", report.LastFillPrice)
	}
}

func TestPaperAdapterCancelAlwaysSucceeds(t *testing.T) {
	pa := NewPaperAdapter(PaperAdapterConfig{})
	report, err := pa.CancelOrder(CancelOrderRequest{ClientOrderID: "c1", VenueOrderID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != StatusCanceled {
		t.Fatalf("expected Canceled, got %v", report.Status)
	}
}

func errorsAsAdapter(err error, target **AdapterError) bool {
	ae, ok := err.(*AdapterError)
	if !ok {
		return false
	}
	*target = ae
	return true
}
