// Package bookstore assembles, per symbol, a correct order book from a
// live incremental depth stream and a REST-fetched snapshot, resolving
// the unavoidable race between stream start and snapshot arrival by
// buffering pre-snapshot batches and replaying them against the
// snapshot's last_update_id once it lands.
package bookstore

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/lattice-q/l2book/internal/binancefeed"
	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/l2"
	"github.com/lattice-q/l2book/internal/logger"
	"github.com/lattice-q/l2book/internal/metrics"
	"github.com/lattice-q/l2book/internal/orderbook"
	"github.com/lattice-q/l2book/internal/symbol"
	"github.com/lattice-q/l2book/internal/transport"
)

// LagEvent is emitted after every applied batch, for callers that want
// to monitor ingest staleness.
type LagEvent struct {
	Symbol        symbol.Symbol
	BufferDepth   int
	EventTimeMS   int64
	LagMillis     int64
}

// Monitor receives lag telemetry. Optional; nil disables emission.
type Monitor interface {
	OnLag(LagEvent)
}

// SnapshotFetcher fetches a REST depth snapshot for a native symbol and
// converts it into a snapshot-flagged pooled batch. internal/restsnapshot
// implements this.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, nativeSymbol string, limit int, resolver binancefeed.SymbolResolver) (*l2.UpdatePooled, error)
}

// Subscriber is the stream add/remove surface the store needs against
// the WS feed manager. The depth subscription itself comes from the
// DepthTransport passed to New.
type Subscriber interface {
	Subscribe(ctx context.Context, streams []string) error
	Unsubscribe(ctx context.Context, streams []string) error
}

// Config tunes retry, buffering and staleness behavior.
type Config struct {
	MaxBufferPerSymbol int
	MaxRetryAttempts   int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	SnapshotLimit      int

	// Metrics is optional; when set, sequence rejections, buffer
	// overflows and ingest lag are recorded against it.
	Metrics *metrics.Pipeline
}

// bookState is the per-symbol stitching state.
type bookState struct {
	book *orderbook.Book

	mu                 sync.Mutex
	buffer             []*l2.UpdatePooled
	snapshotReady      bool
	firstCachedApplied bool

	latchOnce sync.Once
	latchCh   chan struct{}
}

func newBookState() *bookState {
	return &bookState{book: orderbook.New(), latchCh: make(chan struct{})}
}

func (s *bookState) signalFirstEnqueue() {
	s.latchOnce.Do(func() { close(s.latchCh) })
}

// Store is the OrderBookStore: it owns the single depth subscription,
// drives each symbol through the snapshot-ready protocol, and runs the
// pump loop that applies accepted batches.
type Store struct {
	cfg      Config
	depthTx  *transport.DepthTransport
	fetcher  SnapshotFetcher
	feed     Subscriber
	resolver binancefeed.SymbolResolver
	monitor  Monitor
	log      logger.Interface

	mu     sync.RWMutex
	states map[string]*bookState

	sub    *transport.DepthSubscription
	cancel context.CancelFunc
	pumpWG sync.WaitGroup
}

// New builds a Store. resolver must already know every symbol the
// caller intends to subscribe to.
func New(cfg Config, depthTx *transport.DepthTransport, fetcher SnapshotFetcher, feed Subscriber, resolver binancefeed.SymbolResolver, monitor Monitor, log logger.Interface) *Store {
	if log == nil {
		log = logger.Nop{}
	}
	return &Store{
		cfg:      cfg,
		depthTx:  depthTx,
		fetcher:  fetcher,
		feed:     feed,
		resolver: resolver,
		monitor:  monitor,
		log:      log,
		states:   make(map[string]*bookState),
	}
}

// Start opens the single depth subscription and spawns the pump loop.
// Calling Start twice returns the transport's AlreadySubscribed error.
func (st *Store) Start(ctx context.Context) error {
	sub, err := st.depthTx.Subscribe()
	if err != nil {
		return err
	}
	st.sub = sub

	pumpCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.pumpWG.Add(1)
	go st.pump(pumpCtx)
	return nil
}

// Release cancels the pump, waits for it to finish, drops the depth
// subscription (which drains and releases any in-flight batch), and
// explicitly releases every pooled batch still sitting in a per-symbol
// pre-snapshot buffer.
func (st *Store) Release() {
	if st.cancel != nil {
		st.cancel()
	}
	st.pumpWG.Wait()
	if st.sub != nil {
		st.sub.Unsubscribe()
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.states {
		s.mu.Lock()
		for _, b := range s.buffer {
			b.Release()
		}
		s.buffer = nil
		s.mu.Unlock()
	}
}

// TryGet returns the book for symbol if it has been materialized,
// whether or not it is snapshot-ready yet.
func (st *Store) TryGet(nativeSymbol string) (*orderbook.Book, bool) {
	sym, err := st.resolver.Resolve(nativeSymbol)
	if err != nil {
		return nil, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.states[sym.String()]
	if !ok {
		return nil, false
	}
	return s.book, true
}

// GetOrCreate idempotently materializes a per-symbol book state and
// drives it to snapshot-ready: ensures the native stream is subscribed,
// waits for the first buffered update, fetches and applies the REST
// snapshot, then drains the buffer in order. Book state is keyed by the
// resolved Symbol's canonical form, the same key the pump loop derives
// from a received batch's header, so the two sides of the stitch always
// agree on which state a given batch belongs to.
func (st *Store) GetOrCreate(ctx context.Context, nativeSymbol string) (*orderbook.Book, error) {
	sym, err := st.resolver.Resolve(nativeSymbol)
	if err != nil {
		return nil, bookerr.Wrap(bookerr.ProtocolInvalid, err, "resolve symbol for get_or_create")
	}
	key := sym.String()

	state, created := st.getOrCreateState(key)
	if !created {
		return state.book, nil
	}

	if err := st.retry(ctx, func() error {
		return st.feed.Subscribe(ctx, []string{binancefeed.DepthStreamName(strings.ToLower(nativeSymbol))})
	}); err != nil {
		return nil, err
	}

	select {
	case <-state.latchCh:
	case <-ctx.Done():
		return nil, bookerr.New(bookerr.CancelledByCaller, bookerr.WithCause(ctx.Err()))
	}

	var snap *l2.UpdatePooled
	if err := st.retry(ctx, func() error {
		var err error
		snap, err = st.fetcher.FetchSnapshot(ctx, nativeSymbol, st.cfg.SnapshotLimit, st.resolver)
		return err
	}); err != nil {
		return nil, err
	}

	state.mu.Lock()
	state.book.ApplySnapshot(snap)
	state.mu.Unlock()
	snap.Release()

	// Drain the pre-snapshot buffer in a loop, re-checking under the lock
	// each time: handleBatch keeps appending to it until it observes
	// snapshotReady set, so a batch arriving while this loop is busy
	// applying the previous ones would otherwise be buffered forever.
	// snapshotReady only flips true in the same critical section that
	// confirms the buffer is empty, so handleBatch can never append after
	// that point believing the buffer is still being drained.
	for {
		state.mu.Lock()
		if len(state.buffer) == 0 {
			state.snapshotReady = true
			state.mu.Unlock()
			break
		}
		buffered := state.buffer
		state.buffer = nil
		state.mu.Unlock()

		for _, b := range buffered {
			st.applyDuringStitch(state, b)
		}
	}

	return state.book, nil
}

func (st *Store) getOrCreateState(nativeSymbol string) (*bookState, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.states[nativeSymbol]; ok {
		return s, false
	}
	s := newBookState()
	st.states[nativeSymbol] = s
	return s, true
}

// applyDuringStitch implements step 4 of the snapshot-ready protocol for
// one buffered batch.
func (st *Store) applyDuringStitch(state *bookState, b *l2.UpdatePooled) {
	defer b.Release()

	state.mu.Lock()
	firstApplied := state.firstCachedApplied
	lastID := state.book.LastUpdateID()
	state.mu.Unlock()

	switch {
	case firstApplied && lastID == b.PrevLastID:
		state.book.ApplyIncremental(b, false)
	case b.LastID < lastID:
		// stale, discard
	case b.FirstID <= lastID && lastID < b.LastID:
		state.book.ApplyIncremental(b, true)
		state.mu.Lock()
		state.firstCachedApplied = true
		state.mu.Unlock()
	}
}

func (st *Store) retry(ctx context.Context, fn func() error) error {
	backoff := st.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < st.cfg.MaxRetryAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
		sleep := backoff + jitter
		select {
		case <-ctx.Done():
			return bookerr.New(bookerr.CancelledByCaller, bookerr.WithCause(ctx.Err()))
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > st.cfg.MaxBackoff {
			backoff = st.cfg.MaxBackoff
		}
	}
	return bookerr.Wrap(bookerr.NetworkTransient, lastErr, fmt.Sprintf("exhausted %d retry attempts", st.cfg.MaxRetryAttempts))
}

// pump reads pooled batches from the single depth subscription, routing
// each to its symbol's pre-snapshot buffer or applying it directly once
// the book is snapshot-ready.
func (st *Store) pump(ctx context.Context) {
	defer st.pumpWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-st.sub.Recv():
			if !ok {
				return
			}
			st.handleBatch(batch)
		}
	}
}

func (st *Store) handleBatch(batch *l2.UpdatePooled) {
	key := batch.Symbol.String()
	state, _ := st.getOrCreateState(key)

	state.mu.Lock()
	ready := state.snapshotReady
	if !ready {
		if len(state.buffer) >= st.cfg.MaxBufferPerSymbol {
			oldest := state.buffer[0]
			state.buffer = state.buffer[1:]
			oldest.Release()
			if st.cfg.Metrics != nil {
				st.cfg.Metrics.BufferOverflows.Add(context.Background(), 1)
			}
		}
		state.buffer = append(state.buffer, batch)
		firstEnqueue := len(state.buffer) == 1
		state.mu.Unlock()
		if firstEnqueue {
			state.signalFirstEnqueue()
		}
		return
	}

	firstApplied := state.firstCachedApplied
	lastID := state.book.LastUpdateID()
	bufferDepth := len(state.buffer)
	state.mu.Unlock()

	eventTime := batch.EventTimeMillis
	var applied bool
	if !firstApplied && batch.FirstID <= lastID && lastID < batch.LastID {
		applied = state.book.ApplyIncremental(batch, true)
		state.mu.Lock()
		state.firstCachedApplied = true
		state.mu.Unlock()
	} else {
		applied = state.book.ApplyIncremental(batch, false)
	}
	if !applied {
		st.log.Warn(context.Background(), "bookstore: continuity gap, batch rejected", "symbol", batch.Symbol.String(), "prev_last_id", batch.PrevLastID, "book_last_id", lastID)
		if st.cfg.Metrics != nil {
			st.cfg.Metrics.SequenceRejections.Add(context.Background(), 1)
		}
	}

	st.emitLag(batch.Symbol, bufferDepth, eventTime)
	batch.Release()
}

func (st *Store) emitLag(sym symbol.Symbol, bufferDepth int, eventTimeMS int64) {
	lag := time.Now().UnixMilli() - eventTimeMS
	if lag < 0 {
		lag = 0
	}
	if st.cfg.Metrics != nil {
		st.cfg.Metrics.IngestLagMillis.Record(context.Background(), lag)
	}
	if st.monitor != nil {
		st.monitor.OnLag(LagEvent{Symbol: sym, BufferDepth: bufferDepth, EventTimeMS: eventTimeMS, LagMillis: lag})
	}
}

