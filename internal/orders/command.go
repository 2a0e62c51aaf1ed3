package orders

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandKind enumerates the line-protocol command families (spec.md
// §6.1).
type CommandKind string

const (
	CmdOrder       CommandKind = "ORDER"
	CmdCancel      CommandKind = "CANCEL"
	CmdQuery       CommandKind = "QUERY"
	CmdSubscribe   CommandKind = "SUBSCRIBE"
	CmdUnsubscribe CommandKind = "UNSUBSCRIBE"
	CmdStrategy    CommandKind = "STRATEGY"
)

// ParseError carries the raw line that failed to parse, per spec.md §7
// (ParseError: drop command, emit error event).
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error %q: %s", e.Line, e.Reason) }

// Command is the parsed result of one input line. Exactly one of the
// typed payload fields is populated, selected by Kind.
type Command struct {
	Kind CommandKind

	Order *OrderRequest

	CancelClientOrderID string

	QueryKind   string
	QueryParams []string

	SubVenue     string
	SubSymbol    string
	SubEventType string

	StrategyAction string
	StrategyArgs   []string
}

var shortcuts = map[string]CommandKind{
	"buy":    CmdOrder,
	"sell":   CmdOrder,
	"c":      CmdCancel,
	"q":      CmdQuery,
	"sub":    CmdSubscribe,
	"unsub":  CmdUnsubscribe,
	"strat":  CmdStrategy,
}

var eventTypeAliases = map[string]string{
	"trade":      "trade",
	"t":          "trade",
	"book_top":   "book_top",
	"booktop":    "book_top",
	"ticker":     "ticker",
	"book_delta": "book_delta",
	"bookdelta":  "book_delta",
	"depth":      "book_delta",
	"kline":      "kline",
	"k":          "kline",
	"candle":     "kline",
}

var typeAliases = map[string]OrderType{
	"limit":  TypeLimit,
	"l":      TypeLimit,
	"market": TypeMarket,
	"m":      TypeMarket,
}

var tifAliases = map[string]TimeInForce{
	"gtc": TIFGTC,
	"g":   TIFGTC,
	"ioc": TIFIOC,
	"fok": TIFFOK,
	"gtx": TIFGTX,
}

// ParseLine parses one line of the stdin command protocol (spec.md
// §6.1). Lines beginning with '#' and blank lines return (nil, nil) —
// they are silently ignored, not errors.
func ParseLine(line string) (*Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, nil
	}

	fields := strings.Fields(trimmed)
	head := strings.ToLower(fields[0])

	kind, ok := shortcuts[head]
	if !ok {
		kind = CommandKind(strings.ToUpper(fields[0]))
	}

	switch kind {
	case CmdOrder:
		return parseOrderCommand(head, fields, trimmed)
	case CmdCancel:
		return parseCancelCommand(fields, trimmed)
	case CmdQuery:
		return parseQueryCommand(fields, trimmed)
	case CmdSubscribe:
		return parseSubUnsub(CmdSubscribe, fields, trimmed)
	case CmdUnsubscribe:
		return parseSubUnsub(CmdUnsubscribe, fields, trimmed)
	case CmdStrategy:
		return parseStrategyCommand(fields, trimmed)
	default:
		return nil, &ParseError{Line: trimmed, Reason: "unknown command"}
	}
}

// parseOrderCommand handles both "ORDER <BUY|SELL> ..." and the "BUY
// ...", "SELL ..." shortcuts.
func parseOrderCommand(head string, fields []string, raw string) (*Command, error) {
	var sideIdx int
	var sideTok string
	if head == "order" {
		if len(fields) < 2 {
			return nil, &ParseError{Line: raw, Reason: "missing side"}
		}
		sideTok = fields[1]
		sideIdx = 2
	} else {
		sideTok = fields[0]
		sideIdx = 1
	}

	var side Side
	switch strings.ToLower(sideTok) {
	case "buy":
		side = SideBuy
	case "sell":
		side = SideSell
	default:
		return nil, &ParseError{Line: raw, Reason: "invalid side " + sideTok}
	}

	rest := fields[sideIdx:]
	if len(rest) < 4 {
		return nil, &ParseError{Line: raw, Reason: "missing fields"}
	}

	symbol := strings.ToUpper(rest[0])
	qty, err := strconv.ParseFloat(rest[1], 64)
	if err != nil || qty <= 0 {
		return nil, &ParseError{Line: raw, Reason: "invalid qty"}
	}
	price, err := strconv.ParseFloat(rest[2], 64)
	if err != nil || price < 0 {
		return nil, &ParseError{Line: raw, Reason: "invalid price"}
	}
	clientID := rest[3]
	if clientID == "" {
		return nil, &ParseError{Line: raw, Reason: "missing client_id"}
	}

	orderType := TypeLimit
	if len(rest) >= 5 {
		t, ok := typeAliases[strings.ToLower(rest[4])]
		if !ok {
			return nil, &ParseError{Line: raw, Reason: "invalid type " + rest[4]}
		}
		orderType = t
	}

	tif := TIFGTC
	if len(rest) >= 6 {
		t, ok := tifAliases[strings.ToLower(rest[5])]
		if !ok {
			return nil, &ParseError{Line: raw, Reason: "invalid tif " + rest[5]}
		}
		tif = t
	}

	return &Command{
		Kind: CmdOrder,
		Order: &OrderRequest{
			Symbol:        symbol,
			Side:          side,
			Type:          orderType,
			Qty:           qty,
			Price:         price,
			HasPrice:      true,
			TIF:           tif,
			ClientOrderID: clientID,
		},
	}, nil
}

func parseCancelCommand(fields []string, raw string) (*Command, error) {
	if len(fields) < 2 || fields[1] == "" {
		return nil, &ParseError{Line: raw, Reason: "missing client_id"}
	}
	return &Command{Kind: CmdCancel, CancelClientOrderID: fields[1]}, nil
}

func parseQueryCommand(fields []string, raw string) (*Command, error) {
	if len(fields) < 2 {
		return nil, &ParseError{Line: raw, Reason: "missing query kind"}
	}
	return &Command{Kind: CmdQuery, QueryKind: strings.ToUpper(fields[1]), QueryParams: fields[2:]}, nil
}

func parseSubUnsub(kind CommandKind, fields []string, raw string) (*Command, error) {
	if len(fields) < 4 {
		return nil, &ParseError{Line: raw, Reason: "missing fields"}
	}
	evt, ok := eventTypeAliases[strings.ToLower(fields[3])]
	if !ok {
		return nil, &ParseError{Line: raw, Reason: "invalid event_type " + fields[3]}
	}
	return &Command{
		Kind:         kind,
		SubVenue:     fields[1],
		SubSymbol:    strings.ToUpper(fields[2]),
		SubEventType: evt,
	}, nil
}

func parseStrategyCommand(fields []string, raw string) (*Command, error) {
	if len(fields) < 2 {
		return nil, &ParseError{Line: raw, Reason: "missing strategy action"}
	}
	action := strings.ToUpper(fields[1])
	switch action {
	case "LOAD", "START", "STOP", "UNLOAD", "LIST", "STATUS":
	default:
		return nil, &ParseError{Line: raw, Reason: "invalid strategy action " + action}
	}
	return &Command{Kind: CmdStrategy, StrategyAction: action, StrategyArgs: fields[2:]}, nil
}
