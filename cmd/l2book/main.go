// Package main is the entry point for the l2book order-book ingestion
// service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lattice-q/l2book/internal/binancefeed"
	"github.com/lattice-q/l2book/internal/bookstore"
	"github.com/lattice-q/l2book/internal/circuitbreaker"
	"github.com/lattice-q/l2book/internal/config"
	"github.com/lattice-q/l2book/internal/logger"
	"github.com/lattice-q/l2book/internal/metrics"
	"github.com/lattice-q/l2book/internal/restsnapshot"
	"github.com/lattice-q/l2book/internal/symbol"
	"github.com/lattice-q/l2book/internal/tradestore"
	"github.com/lattice-q/l2book/internal/transport"
	"github.com/lattice-q/l2book/internal/wsfeed"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("l2book %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logLevelFor(cfg.App.LogLevel))
	log.Info(ctx, "starting l2book", "version", version, "venue", cfg.Binance.Venue, "symbols", cfg.Binance.Symbols)

	pipeline, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to create metrics pipeline: %w", err)
	}

	venueFlags, err := venueFlagsFor(cfg.Binance.Venue)
	if err != nil {
		return err
	}

	syms := make([]symbol.Symbol, 0, len(cfg.Binance.Symbols))
	for _, native := range cfg.Binance.Symbols {
		s, err := symbol.Parse(native, venueFlags)
		if err != nil {
			return fmt.Errorf("failed to parse configured symbol %q: %w", native, err)
		}
		syms = append(syms, s)
	}
	resolver := binancefeed.NewStaticResolver(syms)

	depthTx := transport.NewDepthTransport(cfg.Store.MaxBufferPerSymbol)
	tradeTx := transport.NewTradesTransport()

	wsURL, err := wsBaseURLFor(cfg.Binance.Venue)
	if err != nil {
		return err
	}
	wsCfg := wsfeed.DefaultConfig(wsURL, string(cfg.Binance.Venue))
	wsCfg.Metrics = pipeline
	wsCfg.CircuitBreaker.FailureRatio = cfg.CircuitBreaker.FailureRatio
	wsCfg.CircuitBreaker.MinRequests = cfg.CircuitBreaker.MinRequests
	wsCfg.CircuitBreaker.OpenTimeout = cfg.CircuitBreaker.OpenTimeout
	manager := wsfeed.NewManager(wsCfg, log)
	defer manager.Close()

	loop := &wsfeed.ParseLoop{
		Inbox:   manager.Inbox(),
		Depth:   &binancefeed.DepthParser{Resolver: resolver},
		Trade:   &binancefeed.TradeParser{Resolver: resolver},
		DepthTx: depthTx,
		TradeTx: tradeTx,
		Metrics: pipeline,
		Log:     log,
	}
	go loop.Run(ctx)

	restCB := circuitbreaker.DefaultConfig("rest-snapshot")
	restCB.FailureRatio = cfg.CircuitBreaker.FailureRatio
	restCB.MinRequests = cfg.CircuitBreaker.MinRequests
	restCB.OpenTimeout = cfg.CircuitBreaker.OpenTimeout
	restClient := restsnapshot.New(cfg.Binance.Venue, restCB, pipeline.Tracer, log)

	store := bookstore.New(bookstore.Config{
		MaxBufferPerSymbol: cfg.Store.MaxBufferPerSymbol,
		MaxRetryAttempts:   cfg.Store.MaxRetryAttempts,
		InitialBackoff:     cfg.Store.InitialBackoff,
		MaxBackoff:         cfg.Store.MaxBackoff,
		SnapshotLimit:      cfg.Binance.SnapshotLimit,
		Metrics:            pipeline,
	}, depthTx, restClient, streamSubscriber{manager}, resolver, lagMonitor{log}, log)

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("failed to start book store: %w", err)
	}
	defer store.Release()

	trades := tradestore.New(tradeTx, resolver, cfg.Store.MaxBufferPerSymbol, log)
	trades.Start(ctx)
	defer trades.Release()

	for _, s := range syms {
		if _, err := store.GetOrCreate(ctx, s.NativeStreamName()); err != nil {
			return fmt.Errorf("failed to materialize book for %s: %w", s, err)
		}
		log.Info(ctx, "book ready", "symbol", s.String())
	}

	<-ctx.Done()
	log.Info(ctx, "shutting down")
	return nil
}

// streamSubscriber adapts wsfeed.Manager's AddStreams/RemoveStreams to
// bookstore.Subscriber's Subscribe/Unsubscribe naming.
type streamSubscriber struct {
	m *wsfeed.Manager
}

func (s streamSubscriber) Subscribe(ctx context.Context, streams []string) error {
	return s.m.AddStreams(ctx, streams)
}

func (s streamSubscriber) Unsubscribe(ctx context.Context, streams []string) error {
	return s.m.RemoveStreams(ctx, streams)
}

// lagMonitor logs OrderBookStore lag telemetry at warn level once it
// crosses a meaningful threshold, debug otherwise.
type lagMonitor struct {
	log logger.Interface
}

func (m lagMonitor) OnLag(e bookstore.LagEvent) {
	if e.LagMillis > 1500 {
		m.log.Warn(context.Background(), "ingest lag exceeded threshold", "symbol", e.Symbol.String(), "lag_ms", e.LagMillis, "buffer_depth", e.BufferDepth)
		return
	}
	m.log.Debug(context.Background(), "ingest lag", "symbol", e.Symbol.String(), "lag_ms", e.LagMillis)
}

func logLevelFor(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func venueFlagsFor(v config.Venue) (symbol.VenueFlags, error) {
	switch v {
	case config.VenueSpot:
		return symbol.MarketSpot | symbol.VenueBinance, nil
	case config.VenueUSDM:
		return symbol.MarketFutures | symbol.ContractPerpetual | symbol.ContractUSDMargined | symbol.VenueBinance, nil
	case config.VenueCoinM:
		return symbol.MarketFutures | symbol.ContractPerpetual | symbol.ContractCoinMargined | symbol.VenueBinance, nil
	default:
		return 0, fmt.Errorf("l2book: unsupported venue %q", v)
	}
}

func wsBaseURLFor(v config.Venue) (string, error) {
	switch v {
	case config.VenueSpot:
		return "wss://stream.binance.com:9443/ws", nil
	case config.VenueUSDM:
		return "wss://fstream.binance.com/ws", nil
	case config.VenueCoinM:
		return "wss://dstream.binance.com/ws", nil
	default:
		return "", fmt.Errorf("l2book: unsupported venue %q", v)
	}
}
