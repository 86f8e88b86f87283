package config

import "testing"

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/does-not-exist.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.MaxLagMS != 1500 {
		t.Fatalf("MaxLagMS = %d, want 1500", cfg.Store.MaxLagMS)
	}
	if cfg.Store.MaxBufferPerSymbol != 4096 {
		t.Fatalf("MaxBufferPerSymbol = %d, want 4096", cfg.Store.MaxBufferPerSymbol)
	}
	if cfg.Binance.Venue != VenueSpot {
		t.Fatalf("Venue = %q, want spot", cfg.Binance.Venue)
	}
}

func TestValidateRejectsEmptySymbols(t *testing.T) {
	cfg := &Config{Binance: BinanceConfig{Venue: VenueSpot}, Store: StoreConfig{MaxBufferPerSymbol: 1, MaxRetryAttempts: 1}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty symbols")
	}
}

func TestValidateRejectsUnknownVenue(t *testing.T) {
	cfg := &Config{
		Binance: BinanceConfig{Venue: "dydx", Symbols: []string{"BTCUSDT"}},
		Store:   StoreConfig{MaxBufferPerSymbol: 1, MaxRetryAttempts: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown venue")
	}
}
