package symbol

import "testing"

func TestParseUnhyphenated(t *testing.T) {
	s, err := Parse("BTCUSDT", VenueBinance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Base.String() != "BTC" || s.Quote.String() != "USDT" {
		t.Fatalf("got base=%s quote=%s", s.Base, s.Quote)
	}
	if !s.Venue.IsSpot() {
		t.Fatalf("expected spot market flag")
	}
}

func TestParseHyphenated(t *testing.T) {
	s, err := Parse("BTC-USDT", VenueBinance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Base.String() != "BTC" || s.Quote.String() != "USDT" {
		t.Fatalf("got base=%s quote=%s", s.Base, s.Quote)
	}
}

func TestParseSwap(t *testing.T) {
	s, err := Parse("BTC-USDT-SWAP", VenueOKX)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Venue.IsPerpetual() {
		t.Fatalf("expected perpetual attribute")
	}
}

func TestParseDelivery(t *testing.T) {
	s, err := Parse("BTC-USD-20241227", VenueOKX)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Venue.IsFutures() {
		t.Fatalf("expected futures market flag")
	}
}

func TestParseExplicitPreset(t *testing.T) {
	s, err := Parse("BTC-USDT@USDMFutures", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Venue.IsFutures() || !s.Venue.IsUSDMargined() {
		t.Fatalf("expected USD-margined futures, got %s", s.Venue)
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, native := range []string{"BTCUSDT", "BTC-USDT", "BTC-USDT-SWAP"} {
		s, err := Parse(native, VenueBinance)
		if err != nil {
			t.Fatalf("parse %q: %v", native, err)
		}
		again, err := Parse(s.String(), 0)
		if err != nil {
			t.Fatalf("round-trip parse of %q failed: %v", s.String(), err)
		}
		if !s.Equals(again) {
			t.Fatalf("round-trip mismatch: %s != %s", s, again)
		}
	}
}

func TestParseRoundTripPreservesContractAttributes(t *testing.T) {
	usdm := Symbol{Base: mustAsset(t, "BTC"), Quote: mustAsset(t, "USDT"), Venue: MarketFutures | ContractPerpetual | ContractUSDMargined | VenueBinance}
	coinm := Symbol{Base: mustAsset(t, "BTC"), Quote: mustAsset(t, "USDT"), Venue: MarketFutures | ContractPerpetual | ContractCoinMargined | VenueBinance}

	if usdm.String() == coinm.String() {
		t.Fatalf("USD-margined and coin-margined futures must render distinct canonical forms, both got %s", usdm.String())
	}

	again, err := Parse(usdm.String(), 0)
	if err != nil {
		t.Fatalf("round-trip parse of %q failed: %v", usdm.String(), err)
	}
	if !again.Equals(usdm) {
		t.Fatalf("round-trip mismatch: %s != %s", again, usdm)
	}
}

func mustAsset(t *testing.T, s string) Asset {
	t.Helper()
	a, err := NewAsset(s)
	if err != nil {
		t.Fatalf("NewAsset(%q): %v", s, err)
	}
	return a
}

func TestVenueRejectsMultiBit(t *testing.T) {
	f := VenueBinance | VenueOKX
	if _, err := f.Venue(); err == nil {
		t.Fatalf("expected error for multi-venue flags")
	}
}

func TestAssetRejectsTooLong(t *testing.T) {
	if _, err := NewAsset("ABCDEFGHIJKL"); err == nil {
		t.Fatalf("expected error for 12-character ticker")
	}
}

func TestAssetRejectsLowercase(t *testing.T) {
	if _, err := NewAsset("btc"); err == nil {
		t.Fatalf("expected error for lowercase ticker")
	}
}
