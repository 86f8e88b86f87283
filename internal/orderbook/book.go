// Package orderbook maintains the two-sided, price-sorted L2 book for a
// single symbol: snapshot/incremental apply with a sequencing continuity
// check, top-of-book change notification, and per-side cancellation
// counters.
package orderbook

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lattice-q/l2book/internal/l2"
)

// epsilon is the tolerance used when comparing top-of-book price/qty
// across applies — floating-point levels carried through JSON and back
// rarely compare bit-for-bit equal even when the venue reports "no
// change".
const epsilon = 5e-9

// Level is one side's price/quantity pair in sorted order.
type Level struct {
	Price    float64
	Quantity float64
}

// TopOfBook is an immutable snapshot of the best bid/ask, published via
// atomic pointer so readers on any goroutine never block the owning
// pump goroutine.
type TopOfBook struct {
	HasBid bool
	HasAsk bool
	BidTop Level
	AskTop Level
}

func (t TopOfBook) changedFrom(prev TopOfBook) bool {
	if t.HasBid != prev.HasBid || t.HasAsk != prev.HasAsk {
		return true
	}
	if t.HasBid && levelChanged(t.BidTop, prev.BidTop) {
		return true
	}
	if t.HasAsk && levelChanged(t.AskTop, prev.AskTop) {
		return true
	}
	return false
}

func levelChanged(a, b Level) bool {
	return absF(a.Price-b.Price) >= epsilon || absF(a.Quantity-b.Quantity) >= epsilon
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Callback is a book-event subscriber. Panics raised inside a callback
// are recovered by fire() and discarded without logging, so one
// misbehaving subscriber cannot corrupt book state or stop the others.
type Callback func(Book *Book)

type callbackEntry struct {
	id int64
	fn Callback
}

// Subscription is a scoped handle returned by OnBookUpdated/OnTopUpdated;
// Release removes the callback.
type Subscription struct {
	release func()
}

// Release removes the associated callback. Safe to call more than once.
func (s *Subscription) Release() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Book is a single symbol's L2 order book: two price-sorted slices,
// mutated only by its owning pump goroutine. Read-only accessors
// (BestBid, BestAsk, TopOfBook, Cancellations) may be called from any
// goroutine.
type Book struct {
	bids []Level // descending by price
	asks []Level // ascending by price

	lastUpdateID int64

	bidCancels atomic.Int64
	askCancels atomic.Int64

	// top is published via atomic.Pointer so any goroutine can read the
	// current best bid/ask without taking a lock the pump goroutine holds,
	// the same lock-free publish pattern as a single atomically-swapped
	// snapshot struct.
	top atomic.Pointer[TopOfBook]

	cbMu       sync.Mutex
	nextCBID   int64
	onUpdated  []callbackEntry
	onTopMoved []callbackEntry
}

// New builds an empty book.
func New() *Book {
	b := &Book{}
	b.top.Store(&TopOfBook{})
	return b
}

// LastUpdateID reports the last id this book has advanced to.
func (b *Book) LastUpdateID() int64 {
	return b.lastUpdateID
}

// TopOfBook returns the most recently published top-of-book snapshot.
// Safe to call from any goroutine.
func (b *Book) TopOfBook() TopOfBook {
	return *b.top.Load()
}

// BestBid returns the best bid level, or false if the bid side is empty.
func (b *Book) BestBid() (Level, bool) {
	t := b.top.Load()
	return t.BidTop, t.HasBid
}

// BestAsk returns the best ask level, or false if the ask side is empty.
func (b *Book) BestAsk() (Level, bool) {
	t := b.top.Load()
	return t.AskTop, t.HasAsk
}

// Cancellations reports the bid- and ask-side level-removal counts.
func (b *Book) Cancellations() (bidRemovals, askRemovals int64) {
	return b.bidCancels.Load(), b.askCancels.Load()
}

// OnBookUpdated registers a callback fired after every successful apply.
func (b *Book) OnBookUpdated(cb Callback) *Subscription {
	return b.register(&b.onUpdated, cb)
}

// OnTopUpdated registers a callback fired only when the top of either
// side changed (within epsilon) as a result of an apply.
func (b *Book) OnTopUpdated(cb Callback) *Subscription {
	return b.register(&b.onTopMoved, cb)
}

func (b *Book) register(list *[]callbackEntry, cb Callback) *Subscription {
	b.cbMu.Lock()
	b.nextCBID++
	id := b.nextCBID
	*list = append(*list, callbackEntry{id: id, fn: cb})
	b.cbMu.Unlock()

	return &Subscription{release: func() {
		b.cbMu.Lock()
		defer b.cbMu.Unlock()
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}}
}

// ApplySnapshot clears the book and applies every delta in batch,
// treating it as authoritative: last_update_id is set to batch.LastID
// unconditionally.
func (b *Book) ApplySnapshot(batch *l2.UpdatePooled) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	b.bidCancels.Store(0)
	b.askCancels.Store(0)

	for _, d := range batch.Deltas() {
		b.upsertOrRemove(d)
	}
	b.lastUpdateID = batch.LastID
	b.publishAndNotify()
}

// ApplyIncremental applies batch's deltas against the current book. If
// force is false and both batch.PrevLastID and b.lastUpdateID are
// non-zero and they disagree, the continuity check fails and the apply
// is rejected (no mutation) — the caller is expected to discard the
// batch and log the gap. force bypasses this check, for seating the
// first post-snapshot batch per the stitch protocol.
func (b *Book) ApplyIncremental(batch *l2.UpdatePooled, force bool) bool {
	if !force && batch.PrevLastID != 0 && b.lastUpdateID != 0 && batch.PrevLastID != b.lastUpdateID {
		return false
	}

	for _, d := range batch.Deltas() {
		b.upsertOrRemove(d)
	}
	if batch.LastID != 0 {
		b.lastUpdateID = batch.LastID
	}
	b.publishAndNotify()
	return true
}

func (b *Book) upsertOrRemove(d l2.Delta) {
	side := &b.bids
	less := bidLess
	cancels := &b.bidCancels
	if d.Side == l2.SideAsk {
		side = &b.asks
		less = askLess
		cancels = &b.askCancels
	}

	idx, found := search(*side, d.Price, less)
	if d.Quantity == 0 {
		if found {
			*side = append((*side)[:idx], (*side)[idx+1:]...)
			cancels.Add(1)
		}
		return
	}
	if found {
		(*side)[idx].Quantity = d.Quantity
		return
	}
	*side = append(*side, Level{})
	copy((*side)[idx+1:], (*side)[idx:])
	(*side)[idx] = Level{Price: d.Price, Quantity: d.Quantity}
}

func bidLess(a, b float64) bool { return a > b }
func askLess(a, b float64) bool { return a < b }

// search returns the index where a level with the given price is, or
// should be inserted, in a slice ordered by less.
func search(levels []Level, price float64, less func(a, b float64) bool) (int, bool) {
	i := sort.Search(len(levels), func(i int) bool {
		return !less(levels[i].Price, price)
	})
	if i < len(levels) && levels[i].Price == price {
		return i, true
	}
	return i, false
}

func (b *Book) publishAndNotify() {
	prev := *b.top.Load()
	next := TopOfBook{}
	if len(b.bids) > 0 {
		next.HasBid = true
		next.BidTop = b.bids[0]
	}
	if len(b.asks) > 0 {
		next.HasAsk = true
		next.AskTop = b.asks[0]
	}
	b.top.Store(&next)

	b.fire(b.onUpdated)
	if next.changedFrom(prev) {
		b.fire(b.onTopMoved)
	}
}

func (b *Book) fire(list []callbackEntry) {
	b.cbMu.Lock()
	snapshot := make([]callbackEntry, len(list))
	copy(snapshot, list)
	b.cbMu.Unlock()

	for _, e := range snapshot {
		func() {
			defer func() { recover() }()
			e.fn(b)
		}()
	}
}
