package binancefeed

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/l2"
)

var errMalformedLevel = errors.New("binancefeed: level array has fewer than 2 elements")

// unwrap strips the optional {stream,data} combined-stream envelope,
// returning the inner payload bytes either way.
func unwrap(raw []byte) []byte {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

// eventType peeks the "e" discriminator field without fully decoding the
// message, so the parse loop can route to the right parser.
func eventType(raw []byte) string {
	var probe struct {
		EventType string `json:"e"`
		// EventTime is decoded only so that the "E" key matches it exactly
		// instead of case-folding onto EventType and failing the decode.
		EventTime int64 `json:"E"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.EventType
}

// Classify reports which parser a raw inbound blob should be routed to.
// Returns "" if the event type tag is absent or unrecognized.
func Classify(raw []byte) string {
	return eventType(unwrap(raw))
}

const (
	KindDepth = eventTypeDepthUpdate
	KindTrade = eventTypeTrade
)

// DepthParser converts raw depth-update bytes into a pooled L2 batch.
type DepthParser struct {
	Resolver SymbolResolver
}

// Parse builds one l2.UpdatePooled from a raw depthUpdate message. On
// failure the in-progress batch, if any was acquired, is released before
// returning the error.
func (p *DepthParser) Parse(raw []byte) (*l2.UpdatePooled, error) {
	payload := unwrap(raw)

	var w depthWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode depthUpdate")
	}

	sym, err := p.Resolver.Resolve(w.Symbol)
	if err != nil {
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "resolve depth symbol")
	}

	batch := l2.Acquire(len(w.Bids) + len(w.Asks))
	batch.SetHeader(sym, w.EventTime, false, w.FirstUpdateID, w.FinalUpdateID, w.PrevFinalID)

	if err := appendLevels(batch, w.Bids, l2.SideBid, false); err != nil {
		batch.Release()
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode bid levels")
	}
	if err := appendLevels(batch, w.Asks, l2.SideAsk, false); err != nil {
		batch.Release()
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode ask levels")
	}
	return batch, nil
}

// appendLevels decodes raw [price, qty] pairs into deltas on batch. When
// skipZero is true, zero-quantity levels are dropped rather than kept as
// removal deltas — the shape a REST snapshot response wants, since a
// resting book never lists a level at zero quantity, as opposed to a
// diff-depth update where a zero-qty level is a meaningful removal.
func appendLevels(batch *l2.UpdatePooled, raw [][]string, side l2.Side, skipZero bool) error {
	for _, level := range raw {
		if len(level) < 2 {
			return errMalformedLevel
		}
		price, err := strconv.ParseFloat(level[0], 64)
		if err != nil {
			return err
		}
		qty, err := strconv.ParseFloat(level[1], 64)
		if err != nil {
			return err
		}
		if skipZero && qty == 0 {
			continue
		}
		batch.AddDelta(l2.Delta{Side: side, Price: price, Quantity: qty})
	}
	return nil
}

// ParseSnapshot converts a REST GET /depth response body into a
// snapshot-flagged pooled batch, resolving the symbol via resolver since
// the response body carries no symbol field of its own.
func ParseSnapshot(raw []byte, resolver SymbolResolver, nativeSymbol string, eventTimeMillis int64) (*l2.UpdatePooled, error) {
	var w depthSnapshotWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode depth snapshot")
	}
	resolved, err := resolver.Resolve(nativeSymbol)
	if err != nil {
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "resolve snapshot symbol")
	}

	batch := l2.Acquire(len(w.Bids) + len(w.Asks))
	batch.SetHeader(resolved, eventTimeMillis, true, 0, w.LastUpdateID, 0)

	if err := appendLevels(batch, w.Bids, l2.SideBid, true); err != nil {
		batch.Release()
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode snapshot bid levels")
	}
	if err := appendLevels(batch, w.Asks, l2.SideAsk, true); err != nil {
		batch.Release()
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode snapshot ask levels")
	}
	return batch, nil
}

// TradeParser converts raw trade-stream bytes into a copyable l2.Trade.
type TradeParser struct {
	Resolver SymbolResolver
}

// Parse decodes one raw-trade message.
func (p *TradeParser) Parse(raw []byte) (l2.Trade, error) {
	payload := unwrap(raw)

	var w tradeWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return l2.Trade{}, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode trade")
	}

	sym, err := p.Resolver.Resolve(w.Symbol)
	if err != nil {
		return l2.Trade{}, bookerr.Wrap(bookerr.ProtocolInvalid, err, "resolve trade symbol")
	}

	price, err := strconv.ParseFloat(w.Price, 64)
	if err != nil {
		return l2.Trade{}, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode trade price")
	}
	qty, err := strconv.ParseFloat(w.Quantity, 64)
	if err != nil {
		return l2.Trade{}, bookerr.Wrap(bookerr.ProtocolInvalid, err, "decode trade quantity")
	}

	ts := w.TradeTime
	if ts == 0 {
		ts = w.EventTime
	}

	var attr l2.TradeAttr
	if w.IsBuyerMaker {
		attr |= l2.AttrAggressorSell
	}

	return l2.Trade{
		Symbol:   sym,
		TradeID:  w.TradeID,
		TSMillis: ts,
		Price:    price,
		Quantity: qty,
		Attr:     attr,
	}, nil
}
