// Package binancefeed implements the wire-format parsers for Binance's
// public WebSocket depth and trade streams, converting raw JSON bytes
// into the shared internal/l2 value types.
package binancefeed

import "encoding/json"

// envelope is the optional combined-stream wrapper: {"stream":"...","data":{...}}.
// Single-stream connections deliver the inner payload directly.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthWire is the diff-depth update event, stream "<symbol>@depth@100ms".
type depthWire struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	PrevFinalID   int64      `json:"pu"` // futures only; zero on spot
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// tradeWire is the raw trade event, stream "<symbol>@trade".
type tradeWire struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// depthSnapshotWire is the REST GET /depth response shape, reused here so
// internal/restsnapshot can share the resolver/conversion helpers below.
type depthSnapshotWire struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// DepthStreamName returns the diff-depth stream name for a symbol's
// native lowercase form, e.g. "btcusdt@depth@100ms".
func DepthStreamName(nativeLower string) string {
	return nativeLower + "@depth@100ms"
}

// TradeStreamName returns the raw-trade stream name, e.g. "btcusdt@trade".
func TradeStreamName(nativeLower string) string {
	return nativeLower + "@trade"
}

// stream event type tags used to classify an inbound blob in the parse loop.
const (
	eventTypeDepthUpdate = "depthUpdate"
	eventTypeTrade       = "trade"
)
