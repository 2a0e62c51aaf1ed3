// Package bridge implements EngineBridge (C14): the control/event
// channel between the engine core and an external consumer, in either
// in-process or subprocess mode (spec.md §4.11), generalized from the
// teacher's ops_api.go APIServer (HTTP handlers directly touching a
// mutex-guarded Config/PositionState map) into a dual-mode façade over
// OrderRouter/OrderStore.
package bridge

// OutboundEventType enumerates the NDJSON event `type` field values
// (spec.md §6.2).
type OutboundEventType string

const (
	EventEngineStarted  OutboundEventType = "engine_started"
	EventOrderReceived  OutboundEventType = "order_received"
	EventOrderState     OutboundEventType = "order_state"
	EventOrderUpdate    OutboundEventType = "order_update"
	EventFill           OutboundEventType = "fill"
	EventMarket         OutboundEventType = "market"
	EventTrade          OutboundEventType = "trade"
	EventBookTop        OutboundEventType = "book_top"
	EventAccount        OutboundEventType = "account"
	EventError          OutboundEventType = "error"
	EventEngineShutdown OutboundEventType = "engine_shutdown"
)

// AccountBalance is one entry of an `account` event's balances array.
type AccountBalance struct {
	Asset string  `json:"asset"`
	Free  float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// OutboundEvent is the NDJSON wire shape emitted on stdout (spec.md
// §6.2). Only the fields relevant to Type are populated; the rest are
// zero values and omitted by the `omitempty` tags on marshal.
type OutboundEvent struct {
	Type  OutboundEventType `json:"type"`
	TsNs  int64             `json:"ts_ns"`

	ClientOrderID string  `json:"client_order_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Symbol        string  `json:"symbol,omitempty"`
	Side          string  `json:"side,omitempty"`
	Qty           float64 `json:"qty,omitempty"`
	Price         float64 `json:"price,omitempty"`
	ExecutedQty   float64 `json:"executed_qty,omitempty"`
	AvgPrice      float64 `json:"avg_price,omitempty"`
	VenueOrderID  string  `json:"venue_order_id,omitempty"`
	Reason        string  `json:"reason,omitempty"`

	Balances []AccountBalance `json:"balances,omitempty"`

	Message string `json:"message,omitempty"`
}
