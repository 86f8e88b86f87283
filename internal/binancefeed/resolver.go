package binancefeed

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lattice-q/l2book/internal/symbol"
)

// SymbolResolver resolves a venue-native symbol string (e.g. "BTCUSDT")
// to the internal Symbol type. Injected into the parsers so they never
// need to know the parsing rules for native forms directly — the
// resolver is the single place that owns the mapping for a given set of
// subscribed symbols.
type SymbolResolver interface {
	Resolve(native string) (symbol.Symbol, error)
}

// StaticResolver resolves against a fixed, pre-registered set of
// symbols — built once from the configured symbol list and venue, then
// shared read-only across the parse loop's goroutines.
type StaticResolver struct {
	mu    sync.RWMutex
	byKey map[string]symbol.Symbol
}

// NewStaticResolver builds a resolver pre-populated with syms.
func NewStaticResolver(syms []symbol.Symbol) *StaticResolver {
	r := &StaticResolver{byKey: make(map[string]symbol.Symbol, len(syms))}
	for _, s := range syms {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a symbol's entry, keyed by its uppercase
// native form (matching how Binance renders "s" in wire payloads).
func (r *StaticResolver) Register(s symbol.Symbol) {
	key := strings.ToUpper(s.NativeStreamName())
	r.mu.Lock()
	r.byKey[key] = s
	r.mu.Unlock()
}

// Resolve implements SymbolResolver.
func (r *StaticResolver) Resolve(native string) (symbol.Symbol, error) {
	key := strings.ToUpper(native)
	r.mu.RLock()
	s, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return symbol.Symbol{}, fmt.Errorf("binancefeed: unresolvable symbol %q", native)
	}
	return s, nil
}
