package risk

import (
	"errors"
	"testing"
)

func TestRiskEngineInsufficientFunds(t *testing.T) {
	e := NewRiskEngine(Limits{AccountBalance: 1000})
	err := e.Check(OrderIntent{Symbol: "BTCUSDT", Qty: 1, Price: 50000, HasPrice: true})
	var re *RejectError
	if !errors.As(err, &re) || re.Reason != ReasonInsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
}

func TestRiskEngineMarketOrderSkipsFundsCheck(t *testing.T) {
	e := NewRiskEngine(Limits{AccountBalance: 1000})
	err := e.Check(OrderIntent{Symbol: "BTCUSDT", Qty: 1, HasPrice: false})
	if err != nil {
		t.Fatalf("expected market order to skip the funds check, got %v", err)
	}
}

func TestRiskEnginePositionLimit(t *testing.T) {
	e := NewRiskEngine(Limits{AccountBalance: 1_000_000, MaxPositionSize: 0.5})
	err := e.Check(OrderIntent{Symbol: "BTCUSDT", Qty: 1, Price: 100, HasPrice: true})
	var re *RejectError
	if !errors.As(err, &re) || re.Reason != ReasonPositionLimit {
		t.Fatalf("expected PositionLimit, got %v", err)
	}
}

func TestRiskEnginePriceDeviation(t *testing.T) {
	e := NewRiskEngine(Limits{
		AccountBalance: 1_000_000,
		HasReference:   true,
		ReferencePrice: 50000,
		MaxDeviation:   0.01,
	})
	err := e.Check(OrderIntent{Symbol: "BTCUSDT", Qty: 0.1, Price: 52000, HasPrice: true})
	var re *RejectError
	if !errors.As(err, &re) || re.Reason != ReasonPriceDeviation {
		t.Fatalf("expected PriceDeviation, got %v", err)
	}
}

func TestRiskEngineAllChecksPass(t *testing.T) {
	e := NewRiskEngine(Limits{
		AccountBalance:  1_000_000,
		MaxPositionSize: 10,
		HasReference:    true,
		ReferencePrice:  50000,
		MaxDeviation:    0.05,
	})
	err := e.Check(OrderIntent{Symbol: "BTCUSDT", Qty: 1, Price: 50500, HasPrice: true})
	if err != nil {
		t.Fatalf("expected order to pass all checks, got %v", err)
	}
}
