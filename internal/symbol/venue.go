package symbol

import (
	"fmt"
	"strings"
)

// VenueFlags is a bit-set over three disjoint byte-ranges packed into a
// single uint32: market (bits 0-7), contract attributes (bits 8-15), and
// venue identity (bits 16-23). Each range is a small closed set of
// mutually exclusive flags for that axis — a Symbol carries exactly one
// market flag, zero-or-more contract-attribute flags, and exactly one
// venue-identity flag.
type VenueFlags uint32

// Market flags (bits 0-7).
const (
	MarketSpot VenueFlags = 1 << iota
	MarketFutures
	MarketOptions
	MarketSwap
	MarketMargin
)

const marketMask VenueFlags = MarketSpot | MarketFutures | MarketOptions | MarketSwap | MarketMargin

// Contract attribute flags (bits 8-15).
const (
	ContractPerpetual VenueFlags = 1 << (8 + iota)
	ContractDelivery
	ContractUSDMargined
	ContractCoinMargined
)

const contractMask VenueFlags = ContractPerpetual | ContractDelivery | ContractUSDMargined | ContractCoinMargined

// Venue identity flags (bits 16-23).
const (
	VenueBinance VenueFlags = 1 << (16 + iota)
	VenueOKX
	VenueBybit
)

const venueIDMask VenueFlags = VenueBinance | VenueOKX | VenueBybit

// IsSpot reports whether the market flag is MarketSpot.
func (f VenueFlags) IsSpot() bool { return f&marketMask == MarketSpot }

// IsFutures reports whether the market flag is MarketFutures.
func (f VenueFlags) IsFutures() bool { return f&marketMask == MarketFutures }

// IsPerpetual reports whether the perpetual contract attribute is set.
func (f VenueFlags) IsPerpetual() bool { return f&ContractPerpetual != 0 }

// IsUSDMargined reports whether the USD-margined contract attribute is set.
func (f VenueFlags) IsUSDMargined() bool { return f&ContractUSDMargined != 0 }

// IsCoinMargined reports whether the coin-margined contract attribute is set.
func (f VenueFlags) IsCoinMargined() bool { return f&ContractCoinMargined != 0 }

// Venue extracts the single venue-identity flag, failing if zero or more
// than one venue bit is set — parsing interfaces that require a single
// venue call this to reject multi-venue flag sets.
func (f VenueFlags) Venue() (VenueFlags, error) {
	v := f & venueIDMask
	if v == 0 {
		return 0, fmt.Errorf("symbol: venue flags %#x carry no venue identity bit", uint32(f))
	}
	// v must be a single bit: v & (v-1) == 0 for a power of two.
	if v&(v-1) != 0 {
		return 0, fmt.Errorf("symbol: venue flags %#x carry more than one venue identity bit", uint32(f))
	}
	return v, nil
}

// Market extracts the single market flag.
func (f VenueFlags) Market() VenueFlags { return f & marketMask }

// ContractAttributes extracts the contract-attribute bits.
func (f VenueFlags) ContractAttributes() VenueFlags { return f & contractMask }

var marketNames = map[VenueFlags]string{
	MarketSpot:    "spot",
	MarketFutures: "futures",
	MarketOptions: "options",
	MarketSwap:    "swap",
	MarketMargin:  "margin",
}

var marketByName = map[string]VenueFlags{
	"spot":    MarketSpot,
	"futures": MarketFutures,
	"options": MarketOptions,
	"swap":    MarketSwap,
	"margin":  MarketMargin,
}

var venueNames = map[VenueFlags]string{
	VenueBinance: "binance",
	VenueOKX:     "okx",
	VenueBybit:   "bybit",
}

var venueByName = map[string]VenueFlags{
	"binance": VenueBinance,
	"okx":     VenueOKX,
	"bybit":   VenueBybit,
}

// contractAttrNames is consulted in this fixed order so the rendered
// suffix is deterministic regardless of which bits are set.
var contractAttrNames = []struct {
	flag VenueFlags
	name string
}{
	{ContractPerpetual, "perp"},
	{ContractDelivery, "delivery"},
	{ContractUSDMargined, "usdm"},
	{ContractCoinMargined, "coinm"},
}

var contractAttrByName = map[string]VenueFlags{
	"perp":     ContractPerpetual,
	"delivery": ContractDelivery,
	"usdm":     ContractUSDMargined,
	"coinm":    ContractCoinMargined,
}

// String renders the full flag set as "<venue>/<market>[-<attr>...]",
// e.g. "binance/spot" or "binance/futures-perp-usdm". This is the
// canonical form ParseVenueFlags accepts, so String and ParseVenueFlags
// round-trip exactly — including contract attributes, which earlier
// distinguished USD- from coin-margined futures only in memory, not in
// this rendering.
func (f VenueFlags) String() string {
	market, ok := marketNames[f.Market()]
	if !ok {
		market = "unknown"
	}
	venue, ok := venueNames[f&venueIDMask]
	if !ok {
		venue = "unknown"
	}
	out := venue + "/" + market
	for _, attr := range contractAttrNames {
		if f&attr.flag != 0 {
			out += "-" + attr.name
		}
	}
	return out
}

// ParseVenueFlags parses the canonical "<venue>/<market>[-<attr>...]"
// form String produces, e.g. "binance/futures-perp-usdm".
func ParseVenueFlags(s string) (VenueFlags, error) {
	venuePart, marketPart, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("symbol: %q is not a venue/market form", s)
	}
	venue, ok := venueByName[venuePart]
	if !ok {
		return 0, fmt.Errorf("symbol: unknown venue %q", venuePart)
	}

	segs := strings.Split(marketPart, "-")
	market, ok := marketByName[segs[0]]
	if !ok {
		return 0, fmt.Errorf("symbol: unknown market %q", segs[0])
	}

	flags := venue | market
	for _, seg := range segs[1:] {
		attr, ok := contractAttrByName[seg]
		if !ok {
			return 0, fmt.Errorf("symbol: unknown contract attribute %q", seg)
		}
		flags |= attr
	}
	return flags, nil
}
