package l2

import (
	"fmt"

	"github.com/lattice-q/l2book/internal/symbol"
)

// UpdatePooled is a mutable, non-copyable batch of deltas whose backing
// storage is rented from a shared pool. It has exactly one live owner at
// a time; ownership transfers at transport publish and at consumer
// receipt. Callers must call Release exactly once when done — either
// after applying the batch or when discarding it. Using a released
// batch, or releasing it twice, is a programmer error and panics rather
// than silently corrupting shared pool state.
type UpdatePooled struct {
	Symbol          symbol.Symbol
	EventTimeMillis int64
	IsSnapshot      bool
	FirstID         int64
	LastID          int64
	PrevLastID      int64

	deltas   []Delta
	released bool
}

// Acquire rents an UpdatePooled from the shared pool, sized to at least
// initialCapacity deltas, with its header zeroed.
func Acquire(initialCapacity int) *UpdatePooled {
	b := batchPool.Get().(*UpdatePooled)
	b.Symbol = symbol.Symbol{}
	b.EventTimeMillis = 0
	b.IsSnapshot = false
	b.FirstID, b.LastID, b.PrevLastID = 0, 0, 0
	b.released = false
	if cap(b.deltas) < initialCapacity {
		b.deltas = make([]Delta, 0, initialCapacity)
	} else {
		b.deltas = b.deltas[:0]
	}
	return b
}

// SetHeader populates the batch header fields in one call.
func (b *UpdatePooled) SetHeader(sym symbol.Symbol, eventTimeMillis int64, isSnapshot bool, firstID, lastID, prevLastID int64) {
	b.mustBeLive()
	b.Symbol = sym
	b.EventTimeMillis = eventTimeMillis
	b.IsSnapshot = isSnapshot
	b.FirstID = firstID
	b.LastID = lastID
	b.PrevLastID = prevLastID
}

// AddDelta appends one delta, growing the backing slice geometrically
// (via append's own doubling) when capacity is exhausted.
func (b *UpdatePooled) AddDelta(d Delta) {
	b.mustBeLive()
	b.deltas = append(b.deltas, d)
}

// Deltas returns the batch's current deltas. The returned slice is only
// valid until the next Clear or Release.
func (b *UpdatePooled) Deltas() []Delta {
	b.mustBeLive()
	return b.deltas
}

// Len reports the number of deltas currently held.
func (b *UpdatePooled) Len() int {
	b.mustBeLive()
	return len(b.deltas)
}

// Clear resets the delta length to zero, retaining capacity, without
// returning the batch to the pool. Useful when a single owner reuses a
// batch across repeated fills without a round trip through Release and
// Acquire.
func (b *UpdatePooled) Clear() {
	b.mustBeLive()
	b.deltas = b.deltas[:0]
}

// Release returns the batch's storage to the shared pool. The batch must
// not be used again after this call. Releasing an already-released batch
// panics — in this pipeline that always indicates a double-free bug
// rather than a reachable runtime condition.
func (b *UpdatePooled) Release() {
	if b.released {
		panic("l2: UpdatePooled released twice")
	}
	b.released = true
	batchPool.Put(b)
}

func (b *UpdatePooled) mustBeLive() {
	if b.released {
		panic("l2: use of released UpdatePooled")
	}
}

// NewSnapshot builds a standalone UpdatePooled flagged as a snapshot,
// for use by the REST snapshot fetcher when converting a response into
// the same pooled-batch shape the WS parse loop produces.
func NewSnapshot(sym symbol.Symbol, eventTimeMillis, lastID int64, bids, asks []Delta) *UpdatePooled {
	b := Acquire(len(bids) + len(asks))
	b.SetHeader(sym, eventTimeMillis, true, 0, lastID, 0)
	for _, d := range bids {
		b.AddDelta(d)
	}
	for _, d := range asks {
		b.AddDelta(d)
	}
	return b
}

// String renders a short diagnostic summary, useful in log lines.
func (b *UpdatePooled) String() string {
	return fmt.Sprintf("UpdatePooled{%s snapshot=%v first=%d last=%d prev=%d deltas=%d}",
		b.Symbol, b.IsSnapshot, b.FirstID, b.LastID, b.PrevLastID, len(b.deltas))
}
