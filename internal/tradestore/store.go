// Package tradestore fans out parsed trade prints to per-symbol
// callback subscribers, on top of the single shared trades transport
// subscription every venue connection publishes into.
package tradestore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lattice-q/l2book/internal/binancefeed"
	"github.com/lattice-q/l2book/internal/l2"
	"github.com/lattice-q/l2book/internal/logger"
	"github.com/lattice-q/l2book/internal/transport"
)

// Callback receives one trade print for a symbol it subscribed to.
// Panics raised inside a callback are recovered and logged; they never
// propagate into the dispatch loop.
type Callback func(l2.Trade)

// Subscription is a scoped handle returned by Subscribe. Release removes
// the callback; safe to call more than once.
type Subscription struct {
	release func()
}

// Release removes the associated callback.
func (s *Subscription) Release() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Store owns one subscription against a TradesTransport and dispatches
// each received trade to every callback registered for its symbol.
type Store struct {
	tx       *transport.TradesTransport
	resolver binancefeed.SymbolResolver
	log      logger.Interface

	bufferSize int
	nextID     atomic.Int64

	mu        sync.RWMutex
	bySymbol  map[string]map[int64]Callback
	sub       *transport.TradesSubscription
	pumpWG    sync.WaitGroup
	cancel    context.CancelFunc
}

// New builds a Store. resolver is used to canonicalize native symbol
// strings passed to Subscribe into the key form trades carry on their
// Symbol field.
func New(tx *transport.TradesTransport, resolver binancefeed.SymbolResolver, bufferSize int, log logger.Interface) *Store {
	if log == nil {
		log = logger.Nop{}
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Store{
		tx:         tx,
		resolver:   resolver,
		log:        log,
		bufferSize: bufferSize,
		bySymbol:   make(map[string]map[int64]Callback),
	}
}

// Start opens the store's subscription against the shared trades
// transport and spawns the dispatch pump. Calling Start more than once
// without an intervening Release leaks the earlier subscription.
func (st *Store) Start(ctx context.Context) {
	st.sub = st.tx.Subscribe(st.bufferSize)

	pumpCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.pumpWG.Add(1)
	go st.pump(pumpCtx)
}

// Release stops the dispatch pump and tears down the transport
// subscription.
func (st *Store) Release() {
	if st.cancel != nil {
		st.cancel()
	}
	st.pumpWG.Wait()
	if st.sub != nil {
		st.sub.Unsubscribe()
	}
}

// Subscribe registers cb to receive every trade for nativeSymbol.
func (st *Store) Subscribe(nativeSymbol string, cb Callback) (*Subscription, error) {
	sym, err := st.resolver.Resolve(nativeSymbol)
	if err != nil {
		return nil, err
	}
	key := sym.String()

	st.nextID.Add(1)
	id := st.nextID.Load()

	st.mu.Lock()
	set, ok := st.bySymbol[key]
	if !ok {
		set = make(map[int64]Callback)
		st.bySymbol[key] = set
	}
	set[id] = cb
	st.mu.Unlock()

	return &Subscription{release: func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if set, ok := st.bySymbol[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(st.bySymbol, key)
			}
		}
	}}, nil
}

func (st *Store) pump(ctx context.Context) {
	defer st.pumpWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-st.sub.Recv():
			if !ok {
				return
			}
			st.dispatch(ctx, trade)
		}
	}
}

func (st *Store) dispatch(ctx context.Context, trade l2.Trade) {
	key := trade.Symbol.String()

	st.mu.RLock()
	set := st.bySymbol[key]
	cbs := make([]Callback, 0, len(set))
	for _, cb := range set {
		cbs = append(cbs, cb)
	}
	st.mu.RUnlock()

	for _, cb := range cbs {
		st.invoke(ctx, cb, trade)
	}
}

func (st *Store) invoke(ctx context.Context, cb Callback, trade l2.Trade) {
	defer func() {
		if r := recover(); r != nil {
			st.log.Warn(ctx, "tradestore callback panicked", "recovered", r, "symbol", trade.Symbol.String())
		}
	}()
	cb(trade)
}
