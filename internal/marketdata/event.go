package marketdata

import "time"

// Venue is a closed tag set of supported exchanges.
type Venue string

const (
	VenueBinance  Venue = "binance"
	VenueOKX      Venue = "okx"
	VenueBybit    Venue = "bybit"
	VenueCoinbase Venue = "coinbase"
	VenueUnknown  Venue = "unknown"
)

// MarketKind distinguishes spot from derivatives venues.
type MarketKind string

const (
	MarketSpot    MarketKind = "spot"
	MarketFutures MarketKind = "futures"
	MarketUnknown MarketKind = "unknown"
)

// EventType enumerates the closed set of market events (spec.md §3).
type EventType string

const (
	EventTrade       EventType = "Trade"
	EventBookTop     EventType = "BookTop"
	EventBookDelta   EventType = "BookDelta"
	EventKline       EventType = "Kline"
	EventTicker      EventType = "Ticker"
	EventFundingRate EventType = "FundingRate"
	EventMarkPrice   EventType = "MarkPrice"
)

// TradeData, BookTopData, KlineData, TickerData, FundingRateData, and
// MarkPriceData are the tagged-sum payload variants for MarketEvent.Data.
// Exactly one is populated, selected by MarketEvent.Type; switches over
// Type must handle every variant explicitly (spec.md §9 "forbid default
// arms on new variants").
type TradeData struct {
	Price float64
	Qty   float64
	Side  string
}

type BookTopData struct {
	BestBid BookLevel
	BestAsk BookLevel
}

type BookDeltaData struct {
	Delta BookData
}

type KlineData struct {
	Open, High, Low, Close, Volume float64
	IntervalStart, IntervalEnd     int64
	Closed                         bool
}

type TickerData struct {
	LastPrice   float64
	Change24h   float64
	Volume24h   float64
}

type FundingRateData struct {
	Rate     float64
	NextTsNs int64
}

type MarkPriceData struct {
	Price float64
}

// MarketEvent is the normalized unit produced by the ingestion pipeline
// and fanned out through the event loop (spec.md §3).
type MarketEvent struct {
	Type   EventType
	Venue  Venue
	Market MarketKind
	Symbol string

	TsExchangeNs int64
	TsRecvNs     int64
	TsPubNs      int64

	Trade       *TradeData
	BookTop     *BookTopData
	BookDelta   *BookDeltaData
	Kline       *KlineData
	Ticker      *TickerData
	FundingRate *FundingRateData
	MarkPrice   *MarkPriceData
}

// clampNonNegative returns 0 if d is negative, otherwise d. Used to keep
// clock-skew-derived intervals from going negative, per spec.md §3/§9.
func clampNonNegative(d int64) int64 {
	if d < 0 {
		return 0
	}
	return d
}

// ExchangeToPubNs returns TsPubNs - TsExchangeNs, clamped to 0.
func (e MarketEvent) ExchangeToPubNs() int64 {
	return clampNonNegative(e.TsPubNs - e.TsExchangeNs)
}

// RecvToPubNs returns TsPubNs - TsRecvNs, clamped to 0.
func (e MarketEvent) RecvToPubNs() int64 {
	return clampNonNegative(e.TsPubNs - e.TsRecvNs)
}

// NowNs is the single place nanosecond-since-epoch timestamps are
// derived, so tests can substitute a fixed clock.
var NowNs = func() int64 { return time.Now().UnixNano() }
