// Package l2 defines the level-2 depth and trade value types shared
// between the parsers, the transport and the book assembler, including
// the pooled, single-owner UpdatePooled batch.
package l2

import "github.com/lattice-q/l2book/internal/symbol"

// Side is which side of the book a delta applies to.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// Delta is a single absolute-quantity change at a price level.
// Quantity == 0 removes the level.
type Delta struct {
	Side     Side
	Price    float64
	Quantity float64
}

// TradeAttr encodes aggressor side, maker flag and liquidation flag for a
// trade in a single byte.
type TradeAttr uint8

const (
	// AttrAggressorSell is set when the trade was initiated by a sell
	// (the resting order was a bid; the taker sold into it).
	AttrAggressorSell TradeAttr = 1 << iota
	// AttrMaker is set when the trade report concerns the maker leg.
	AttrMaker
	// AttrLiquidation marks a forced-liquidation trade.
	AttrLiquidation
)

// IsAggressorSell reports whether the taker was the seller.
func (a TradeAttr) IsAggressorSell() bool { return a&AttrAggressorSell != 0 }

// IsAggressorBuy reports whether the taker was the buyer.
func (a TradeAttr) IsAggressorBuy() bool { return !a.IsAggressorSell() }

// Trade is a copyable public trade print.
type Trade struct {
	Symbol   symbol.Symbol
	TradeID  int64
	TSMillis int64
	Price    float64
	Quantity float64
	Attr     TradeAttr
}
