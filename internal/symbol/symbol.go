package symbol

import (
	"fmt"
	"regexp"
	"strings"
)

// Symbol identifies a tradable instrument: a base/quote asset pair plus
// the venue flags describing which market it trades on.
type Symbol struct {
	Base  Asset
	Quote Asset
	Venue VenueFlags
}

// String renders the symbol in "BASE-QUOTE@Preset" explicit form.
func (s Symbol) String() string {
	return fmt.Sprintf("%s-%s@%s", s.Base, s.Quote, s.Venue)
}

// Equals compares all three fields.
func (s Symbol) Equals(other Symbol) bool {
	return s.Base.Equals(other.Base) && s.Quote.Equals(other.Quote) && s.Venue == other.Venue
}

// knownQuoteSuffixes is tried longest-first when splitting an unhyphenated
// native form like "BTCUSDT" into base/quote.
var knownQuoteSuffixes = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB", "USD"}

var deliveryDatePattern = regexp.MustCompile(`^\d{6,8}$`)

// Parse accepts any of these native forms:
//
//	"BTCUSDT"             spot, split by known stable-coin suffix
//	"BTC-USDT"            spot, explicit separator
//	"BTC-USDT-SWAP"       perpetual swap
//	"BTC-USD-YYYYMMDD"    dated delivery futures
//	"BASE-QUOTE@Preset"   explicit venue-flag form, Preset looked up in presets
func Parse(native string, venue VenueFlags) (Symbol, error) {
	native = strings.TrimSpace(native)
	if native == "" {
		return Symbol{}, fmt.Errorf("symbol: empty input")
	}

	if idx := strings.IndexByte(native, '@'); idx >= 0 {
		return parseExplicit(native[:idx], native[idx+1:])
	}

	parts := strings.Split(native, "-")
	switch len(parts) {
	case 1:
		return parseUnhyphenated(parts[0], venue)
	case 2:
		return parseBaseQuote(parts[0], parts[1], venue)
	case 3:
		return parseThreePart(parts[0], parts[1], parts[2], venue)
	default:
		return Symbol{}, fmt.Errorf("symbol: cannot parse %q", native)
	}
}

func parseUnhyphenated(s string, venue VenueFlags) (Symbol, error) {
	for _, suffix := range knownQuoteSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			base, err := NewAsset(s[:len(s)-len(suffix)])
			if err != nil {
				continue
			}
			quote, err := NewAsset(suffix)
			if err != nil {
				return Symbol{}, err
			}
			v := venue
			if v.Market() == 0 {
				v |= MarketSpot
			}
			return Symbol{Base: base, Quote: quote, Venue: v}, nil
		}
	}
	return Symbol{}, fmt.Errorf("symbol: %q does not end in a known quote asset", s)
}

func parseBaseQuote(baseStr, quoteStr string, venue VenueFlags) (Symbol, error) {
	base, err := NewAsset(baseStr)
	if err != nil {
		return Symbol{}, err
	}
	quote, err := NewAsset(quoteStr)
	if err != nil {
		return Symbol{}, err
	}
	v := venue
	if v.Market() == 0 {
		v |= MarketSpot
	}
	return Symbol{Base: base, Quote: quote, Venue: v}, nil
}

func parseThreePart(baseStr, quoteStr, tag string, venue VenueFlags) (Symbol, error) {
	base, err := NewAsset(baseStr)
	if err != nil {
		return Symbol{}, err
	}
	quote, err := NewAsset(quoteStr)
	if err != nil {
		return Symbol{}, err
	}

	v := venue
	switch {
	case strings.EqualFold(tag, "SWAP"):
		v |= MarketSwap | ContractPerpetual
	case deliveryDatePattern.MatchString(tag):
		v |= MarketFutures | ContractDelivery
	default:
		return Symbol{}, fmt.Errorf("symbol: unrecognized three-part tag %q", tag)
	}
	return Symbol{Base: base, Quote: quote, Venue: v}, nil
}

// presets maps a named "@Preset" suffix to its venue flags. These carry
// no venue-identity bit of their own — they're a shorthand for callers
// that already know which venue they're talking to from context.
var presets = map[string]VenueFlags{
	"Spot":         MarketSpot,
	"USDMFutures":  MarketFutures | ContractPerpetual | ContractUSDMargined,
	"CoinMFutures": MarketFutures | ContractPerpetual | ContractCoinMargined,
	"Swap":         MarketSwap | ContractPerpetual,
}

// parseExplicit parses the "BASE-QUOTE@suffix" form. The suffix is
// either one of the named presets above or the canonical
// "venue/market[-attr...]" form VenueFlags.String produces, which is
// what Symbol.String emits — so Parse(s.String(), 0) round-trips.
func parseExplicit(baseQuote, suffix string) (Symbol, error) {
	bqParts := strings.Split(baseQuote, "-")
	if len(bqParts) != 2 {
		return Symbol{}, fmt.Errorf("symbol: explicit form requires BASE-QUOTE, got %q", baseQuote)
	}
	base, err := NewAsset(bqParts[0])
	if err != nil {
		return Symbol{}, err
	}
	quote, err := NewAsset(bqParts[1])
	if err != nil {
		return Symbol{}, err
	}

	if flags, ok := presets[suffix]; ok {
		return Symbol{Base: base, Quote: quote, Venue: flags}, nil
	}
	flags, err := ParseVenueFlags(suffix)
	if err != nil {
		return Symbol{}, fmt.Errorf("symbol: unknown preset %q", suffix)
	}
	return Symbol{Base: base, Quote: quote, Venue: flags}, nil
}

// NativeStreamName renders the lowercase "base+quote" form Binance
// expects in stream names, e.g. "btcusdt".
func (s Symbol) NativeStreamName() string {
	return strings.ToLower(s.Base.String() + s.Quote.String())
}
