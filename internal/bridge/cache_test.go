package bridge

import "testing"

func TestCachedReadModelReplayIsDeterministic(t *testing.T) {
	events := []OutboundEvent{
		{Type: EventEngineStarted},
		{Type: EventOrderReceived, ClientOrderID: "c1", Symbol: "BTCUSDT", Status: "New"},
		{Type: EventOrderUpdate, ClientOrderID: "c1", Symbol: "BTCUSDT", Status: "Accepted"},
		{Type: EventFill, ClientOrderID: "c1", Symbol: "BTCUSDT", Qty: 1, Price: 50000},
		{Type: EventOrderUpdate, ClientOrderID: "c1", Symbol: "BTCUSDT", Status: "Filled", ExecutedQty: 1, AvgPrice: 50000},
		{Type: EventTrade, Symbol: "BTCUSDT", Price: 50100},
		{Type: EventAccount, Balances: []AccountBalance{{Asset: "USDT", Free: 9000}}},
	}

	a := NewCachedReadModel()
	for _, e := range events {
		a.Apply(e)
	}
	b := NewCachedReadModel()
	for _, e := range events {
		b.Apply(e)
	}

	if a.IsRunning() != b.IsRunning() {
		t.Fatal("replay mismatch on running state")
	}
	oa, ok1 := a.Order("c1")
	ob, ok2 := b.Order("c1")
	if ok1 != ok2 || oa != ob {
		t.Fatalf("replay mismatch on order: %+v vs %+v", oa, ob)
	}
	pa, _ := a.LastPrice("BTCUSDT")
	pb, _ := b.LastPrice("BTCUSDT")
	if pa != pb || pa != 50100 {
		t.Fatalf("replay mismatch on last price: %v vs %v", pa, pb)
	}
}

func TestCachedReadModelUpsertIsIdempotentOnTerminal(t *testing.T) {
	c := NewCachedReadModel()
	c.Apply(OutboundEvent{Type: EventOrderUpdate, ClientOrderID: "c1", Status: "Filled", ExecutedQty: 1, AvgPrice: 100})
	c.Apply(OutboundEvent{Type: EventOrderUpdate, ClientOrderID: "c1", Status: "Filled", ExecutedQty: 1, AvgPrice: 100})

	o, ok := c.Order("c1")
	if !ok || o.Status != "Filled" || o.ExecutedQty != 1 {
		t.Fatalf("unexpected order after repeated terminal upsert: %+v", o)
	}
	pending := c.PendingOrders()
	if len(pending) != 0 {
		t.Fatalf("expected no pending orders, got %+v", pending)
	}
}
