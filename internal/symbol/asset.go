// Package symbol provides the fixed-width instrument identifiers
// (Asset, VenueFlags, Symbol) used to key books, transport channels and
// per-symbol store state throughout the pipeline.
package symbol

import (
	"fmt"
	"strings"
)

// assetLen is the maximum length of an Asset's ticker.
const assetLen = 11

// Asset is a fixed-width, uppercase-ASCII instrument/currency ticker
// (e.g. "BTC", "USDT"). It is a value type: comparable, orderable, cheap
// to copy.
type Asset struct {
	raw [assetLen]byte
	n   uint8
}

// NewAsset constructs an Asset from a ticker string. The string must be
// 1-11 uppercase ASCII letters or digits; anything else is rejected.
func NewAsset(ticker string) (Asset, error) {
	var a Asset
	if len(ticker) == 0 || len(ticker) > assetLen {
		return a, fmt.Errorf("symbol: asset ticker %q must be 1-%d characters", ticker, assetLen)
	}
	for i := 0; i < len(ticker); i++ {
		c := ticker[i]
		isUpper := c >= 'A' && c <= 'Z'
		isDigit := c >= '0' && c <= '9'
		if !isUpper && !isDigit {
			return a, fmt.Errorf("symbol: asset ticker %q contains invalid character %q", ticker, c)
		}
		a.raw[i] = c
	}
	a.n = uint8(len(ticker))
	return a, nil
}

// MustAsset is NewAsset but panics on error; intended for package-level
// constant-like venue presets.
func MustAsset(ticker string) Asset {
	a, err := NewAsset(ticker)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the ticker.
func (a Asset) String() string {
	return string(a.raw[:a.n])
}

// IsZero reports whether a is the zero value (no ticker set).
func (a Asset) IsZero() bool {
	return a.n == 0
}

// Equals reports byte-wise equality.
func (a Asset) Equals(other Asset) bool {
	return a == other
}

// Compare returns -1, 0 or 1 for total ordering by ticker string.
func (a Asset) Compare(other Asset) int {
	return strings.Compare(a.String(), other.String())
}
