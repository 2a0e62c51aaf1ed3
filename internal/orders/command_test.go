package orders

import "testing"

func TestParseLineBlankAndComment(t *testing.T) {
	for _, line := range []string{"", "   ", "# a comment"} {
		cmd, err := ParseLine(line)
		if cmd != nil || err != nil {
			t.Fatalf("ParseLine(%q) = %v, %v; want nil, nil", line, cmd, err)
		}
	}
}

func TestParseLineBuyShortcut(t *testing.T) {
	cmd, err := ParseLine("buy BTCUSDT 0.5 50000 strat1-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != CmdOrder {
		t.Fatalf("kind = %v, want CmdOrder", cmd.Kind)
	}
	if cmd.Order.Side != SideBuy || cmd.Order.Symbol != "BTCUSDT" || cmd.Order.Qty != 0.5 || cmd.Order.Price != 50000 {
		t.Fatalf("unexpected order: %+v", cmd.Order)
	}
	if cmd.Order.Type != TypeLimit || cmd.Order.TIF != TIFGTC {
		t.Fatalf("unexpected defaults: %+v", cmd.Order)
	}
}

func TestParseLineOrderFormWithTypeAndTIF(t *testing.T) {
	cmd, err := ParseLine("ORDER sell ETHUSDT 2 3000 c1 market ioc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Order.Side != SideSell || cmd.Order.Type != TypeMarket || cmd.Order.TIF != TIFIOC {
		t.Fatalf("unexpected order: %+v", cmd.Order)
	}
}

func TestParseLineInvalidSide(t *testing.T) {
	_, err := ParseLine("ORDER hold BTCUSDT 1 100 c1")
	if err == nil {
		t.Fatal("expected error for invalid side")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestParseLineInvalidQty(t *testing.T) {
	_, err := ParseLine("buy BTCUSDT 0 50000 c1")
	if err == nil {
		t.Fatal("expected error for non-positive qty")
	}
}

func TestParseLineCancel(t *testing.T) {
	cmd, err := ParseLine("c strat1-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != CmdCancel || cmd.CancelClientOrderID != "strat1-1" {
		t.Fatalf("unexpected cancel command: %+v", cmd)
	}
}

func TestParseLineSubscribe(t *testing.T) {
	cmd, err := ParseLine("sub binance BTCUSDT depth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != CmdSubscribe || cmd.SubVenue != "binance" || cmd.SubSymbol != "BTCUSDT" || cmd.SubEventType != "book_delta" {
		t.Fatalf("unexpected subscribe command: %+v", cmd)
	}
}

func TestParseLineStrategyInvalidAction(t *testing.T) {
	_, err := ParseLine("strat BOGUS")
	if err == nil {
		t.Fatal("expected error for invalid strategy action")
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
