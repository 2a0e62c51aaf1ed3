package orders

import (
	"errors"
	"testing"
)

func newTestRequest(id string) OrderRequest {
	return OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Qty: 1, Price: 50000, HasPrice: true, ClientOrderID: id}
}

func TestOrderStoreCreateDuplicateRejected(t *testing.T) {
	s := NewOrderStore()
	if _, err := s.Create(newTestRequest("c1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Create(newTestRequest("c1")); err == nil {
		t.Fatal("expected error on duplicate client_order_id")
	}
}

func TestOrderStoreValidTransitionSequence(t *testing.T) {
	s := NewOrderStore()
	if _, err := s.Create(newTestRequest("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusAccepted, VenueOrderID: "v1", Ns: 1}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	rec, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusPartiallyFilled, LastFillQty: 0.4, LastFillPrice: 50070, Ns: 2})
	if err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	if rec.CumQty != 0.4 || rec.AvgPrice != 50070 {
		t.Fatalf("unexpected partial fill state: %+v", rec)
	}
	rec, err = s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusFilled, LastFillQty: 0.6, LastFillPrice: 50070, Ns: 3})
	if err != nil {
		t.Fatalf("full fill: %v", err)
	}
	if rec.CumQty != 1 || rec.AvgPrice != 50070 || rec.Status != StatusFilled {
		t.Fatalf("unexpected filled state: %+v", rec)
	}
}

func TestOrderStoreInvalidTransition(t *testing.T) {
	s := NewOrderStore()
	if _, err := s.Create(newTestRequest("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusFilled, LastFillQty: 1, LastFillPrice: 50000})
	if err == nil {
		t.Fatal("expected invalid transition error from New->Filled")
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("expected errors.Is to match ErrInvalidTransition")
	}
}

func TestOrderStoreFillExceedsQty(t *testing.T) {
	s := NewOrderStore()
	if _, err := s.Create(newTestRequest("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusAccepted}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusFilled, LastFillQty: 5, LastFillPrice: 50000})
	if !errors.Is(err, ErrFillExceedsQty) {
		t.Fatalf("expected ErrFillExceedsQty, got %v", err)
	}
}

func TestOrderStoreCancelIdempotentOnTerminal(t *testing.T) {
	s := NewOrderStore()
	if _, err := s.Create(newTestRequest("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusAccepted}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusFilled, LastFillQty: 1, LastFillPrice: 50000}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	rec, alreadyTerminal, err := s.Cancel("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !alreadyTerminal {
		t.Fatal("expected alreadyTerminal=true for a filled order")
	}
	if rec.Status != StatusFilled {
		t.Fatalf("expected status to remain Filled, got %v", rec.Status)
	}
}

func TestOrderStoreCancelRejectsOutsideGraph(t *testing.T) {
	s := NewOrderStore()
	if _, err := s.Create(newTestRequest("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Status is still New: New's transition graph only allows
	// Accepted/Rejected, so a cancel here must fail rather than silently
	// succeed.
	_, _, err := s.Cancel("c1")
	if err == nil {
		t.Fatal("expected error canceling an order still in New")
	}
}

func TestOrderStoreCancelUnknownOrder(t *testing.T) {
	s := NewOrderStore()
	_, _, err := s.Cancel("nope")
	if !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestOrderStorePendingExcludesTerminal(t *testing.T) {
	s := NewOrderStore()
	if _, err := s.Create(newTestRequest("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(newTestRequest("c2")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Apply(ExecutionReport{ClientOrderID: "c1", Status: StatusRejected, Reason: "bad"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	pending := s.Pending()
	if len(pending) != 1 || pending[0].Request.ClientOrderID != "c2" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}
