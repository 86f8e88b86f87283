package bookstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lattice-q/l2book/internal/binancefeed"
	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/l2"
	"github.com/lattice-q/l2book/internal/symbol"
	"github.com/lattice-q/l2book/internal/transport"
)

func testConfig() Config {
	return Config{
		MaxBufferPerSymbol: 4,
		MaxRetryAttempts:   3,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         5 * time.Millisecond,
		SnapshotLimit:      100,
	}
}

func testResolver(t *testing.T) *binancefeed.StaticResolver {
	t.Helper()
	sym, err := symbol.Parse("BTCUSDT", symbol.VenueBinance)
	if err != nil {
		t.Fatalf("symbol.Parse: %v", err)
	}
	return binancefeed.NewStaticResolver([]symbol.Symbol{sym})
}

func acquireBatch(t *testing.T, resolver binancefeed.SymbolResolver, isSnapshot bool, firstID, lastID, prevLastID int64, deltas ...l2.Delta) *l2.UpdatePooled {
	t.Helper()
	sym, err := resolver.Resolve("BTCUSDT")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b := l2.Acquire(len(deltas))
	b.SetHeader(sym, time.Now().UnixMilli(), isSnapshot, firstID, lastID, prevLastID)
	for _, d := range deltas {
		b.AddDelta(d)
	}
	return b
}

// stubFetcher returns a scripted sequence of results, one per call,
// erroring past the end of the script.
type stubFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	batch *l2.UpdatePooled
	err   error
}

func (f *stubFetcher) FetchSnapshot(ctx context.Context, nativeSymbol string, limit int, resolver binancefeed.SymbolResolver) (*l2.UpdatePooled, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.results) {
		return nil, errors.New("stubFetcher: out of scripted results")
	}
	r := f.results[f.calls]
	f.calls++
	return r.batch, r.err
}

type stubSubscriber struct {
	mu             sync.Mutex
	subscribeErrs  []error
	subscribeCalls int
}

func (s *stubSubscriber) Subscribe(ctx context.Context, streams []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.subscribeCalls < len(s.subscribeErrs) {
		err = s.subscribeErrs[s.subscribeCalls]
	}
	s.subscribeCalls++
	return err
}

func (s *stubSubscriber) Unsubscribe(ctx context.Context, streams []string) error {
	return nil
}

type stubMonitor struct {
	mu     sync.Mutex
	events []LagEvent
}

func (m *stubMonitor) OnLag(e LagEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *stubMonitor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestStore(t *testing.T, fetcher SnapshotFetcher, feed Subscriber, monitor Monitor) (*Store, *transport.DepthTransport, binancefeed.SymbolResolver) {
	t.Helper()
	resolver := testResolver(t)
	depthTx := transport.NewDepthTransport(16)
	st := New(testConfig(), depthTx, fetcher, feed, resolver, monitor, nil)
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(st.Release)
	return st, depthTx, resolver
}

func TestGetOrCreateHappyPath(t *testing.T) {
	resolver := testResolver(t)
	snap := acquireBatch(t, resolver, true, 0, 100, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	fetcher := &stubFetcher{results: []fetchResult{{batch: snap}}}
	feed := &stubSubscriber{}
	monitor := &stubMonitor{}

	st, depthTx, _ := newTestStore(t, fetcher, feed, monitor)

	// Publish one pre-snapshot incremental before GetOrCreate observes
	// the snapshot, so the latch has something to fire on and the
	// buffer drain path gets exercised.
	pre := acquireBatch(t, resolver, false, 50, 101, 100, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 2})
	if !depthTx.TryPublish(pre) {
		t.Fatal("TryPublish(pre) failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	book, err := st.GetOrCreate(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if book.LastUpdateID() != 101 {
		t.Fatalf("LastUpdateID = %d, want 101", book.LastUpdateID())
	}
	bid, ok := book.BestBid()
	if !ok || bid.Quantity != 2 {
		t.Fatalf("BestBid = %+v, ok=%v, want qty 2", bid, ok)
	}

	got, ok := st.TryGet("BTCUSDT")
	if !ok || got != book {
		t.Fatalf("TryGet after GetOrCreate: got=%v ok=%v", got, ok)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	resolver := testResolver(t)
	snap := acquireBatch(t, resolver, true, 0, 1, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	fetcher := &stubFetcher{results: []fetchResult{{batch: snap}}}
	feed := &stubSubscriber{}

	st, depthTx, _ := newTestStore(t, fetcher, feed, nil)
	pre := acquireBatch(t, resolver, false, 1, 2, 1, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 3})
	depthTx.TryPublish(pre)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := st.GetOrCreate(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	second, err := st.GetOrCreate(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if first != second {
		t.Fatal("expected GetOrCreate to return the same *orderbook.Book on repeat calls")
	}
	if feed.subscribeCalls != 1 {
		t.Fatalf("subscribeCalls = %d, want 1 (second call must not resubscribe)", feed.subscribeCalls)
	}
}

func TestTryGetBeforeCreateReturnsFalse(t *testing.T) {
	st, _, _ := newTestStore(t, &stubFetcher{}, &stubSubscriber{}, nil)
	if _, ok := st.TryGet("BTCUSDT"); ok {
		t.Fatal("expected TryGet to report false before GetOrCreate")
	}
}

func TestGetOrCreateWaitsForLatchAndTimesOutOnCancel(t *testing.T) {
	st, _, _ := newTestStore(t, &stubFetcher{}, &stubSubscriber{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := st.GetOrCreate(ctx, "BTCUSDT")
	if err == nil {
		t.Fatal("expected error when no batch ever arrives to fire the latch")
	}
	if bookerr.Of(err) != bookerr.CancelledByCaller {
		t.Fatalf("Kind = %v, want CancelledByCaller", bookerr.Of(err))
	}
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	resolver := testResolver(t)
	st, depthTx, _ := newTestStore(t, &stubFetcher{}, &stubSubscriber{}, nil)

	cfg := testConfig()
	for i := 0; i < cfg.MaxBufferPerSymbol+2; i++ {
		b := acquireBatch(t, resolver, false, int64(i), int64(i+1), int64(i), l2.Delta{Side: l2.SideBid, Price: float64(i), Quantity: 1})
		if !depthTx.TryPublish(b) {
			t.Fatalf("TryPublish batch %d failed", i)
		}
	}

	deadline := time.After(time.Second)
	for {
		st.mu.RLock()
		state, ok := st.states[mustSymbolKey(t, resolver)]
		st.mu.RUnlock()
		if ok {
			state.mu.Lock()
			depth := len(state.buffer)
			state.mu.Unlock()
			if depth == cfg.MaxBufferPerSymbol {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatalf("buffer never settled at MaxBufferPerSymbol=%d", cfg.MaxBufferPerSymbol)
		case <-time.After(time.Millisecond):
		}
	}
}

func mustSymbolKey(t *testing.T, resolver binancefeed.SymbolResolver) string {
	t.Helper()
	sym, err := resolver.Resolve("BTCUSDT")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return sym.String()
}

func TestApplyDuringStitchBranches(t *testing.T) {
	resolver := testResolver(t)
	st, _, _ := newTestStore(t, &stubFetcher{}, &stubSubscriber{}, nil)
	state := newBookState()

	snap := acquireBatch(t, resolver, true, 0, 100, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	state.book.ApplySnapshot(snap)
	snap.Release()

	// Stale: LastID < book.lastUpdateID (100) must be discarded without
	// mutating the book.
	stale := acquireBatch(t, resolver, false, 10, 50, 9, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 99})
	st.applyDuringStitch(state, stale)
	if got, _ := state.book.BestBid(); got.Quantity != 1 {
		t.Fatalf("stale batch mutated book: qty=%v", got.Quantity)
	}

	// Overlapping: FirstID <= lastUpdateID < LastID forces a seat and
	// marks firstCachedApplied.
	overlap := acquireBatch(t, resolver, false, 90, 110, 89, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 7})
	st.applyDuringStitch(state, overlap)
	if !state.firstCachedApplied {
		t.Fatal("expected firstCachedApplied to be set after overlapping batch")
	}
	if state.book.LastUpdateID() != 110 {
		t.Fatalf("LastUpdateID = %d, want 110", state.book.LastUpdateID())
	}

	// Normal: firstApplied && lastUpdateID == PrevLastID applies in
	// sequence.
	next := acquireBatch(t, resolver, false, 110, 115, 110, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 3})
	st.applyDuringStitch(state, next)
	if state.book.LastUpdateID() != 115 {
		t.Fatalf("LastUpdateID = %d, want 115", state.book.LastUpdateID())
	}
	if bid, _ := state.book.BestBid(); bid.Quantity != 3 {
		t.Fatalf("BestBid.Quantity = %v, want 3", bid.Quantity)
	}
}

func TestStartTwiceReturnsAlreadySubscribed(t *testing.T) {
	depthTx := transport.NewDepthTransport(4)
	resolver := testResolver(t)
	st := New(testConfig(), depthTx, &stubFetcher{}, &stubSubscriber{}, resolver, nil, nil)
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer st.Release()

	other := New(testConfig(), depthTx, &stubFetcher{}, &stubSubscriber{}, resolver, nil, nil)
	err := other.Start(context.Background())
	if err == nil {
		t.Fatal("expected second Start against the same transport to fail")
	}
	if bookerr.Of(err) != bookerr.AlreadySubscribed {
		t.Fatalf("Kind = %v, want AlreadySubscribed", bookerr.Of(err))
	}
}

func TestReleaseDrainsAndReleasesBufferedBatches(t *testing.T) {
	resolver := testResolver(t)
	depthTx := transport.NewDepthTransport(8)
	st := New(testConfig(), depthTx, &stubFetcher{}, &stubSubscriber{}, resolver, nil, nil)
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b := acquireBatch(t, resolver, false, 1, 2, 1, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	if !depthTx.TryPublish(b) {
		t.Fatal("TryPublish failed")
	}

	// Let the pump observe the pre-snapshot batch before tearing down.
	deadline := time.After(time.Second)
	for {
		st.mu.RLock()
		_, ok := st.states[mustSymbolKey(t, resolver)]
		st.mu.RUnlock()
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pump never created book state")
		case <-time.After(time.Millisecond):
		}
	}

	st.Release() // must not panic on double-release of the buffered batch
}
