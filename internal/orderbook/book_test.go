package orderbook

import (
	"testing"

	"github.com/lattice-q/l2book/internal/l2"
	"github.com/lattice-q/l2book/internal/symbol"
)

var testSymbol = symbol.Symbol{
	Base:  symbol.MustAsset("BTC"),
	Quote: symbol.MustAsset("USDT"),
	Venue: symbol.MarketSpot | symbol.VenueBinance,
}

func acquireBatch(t *testing.T, isSnapshot bool, firstID, lastID, prevLastID int64, deltas ...l2.Delta) *l2.UpdatePooled {
	t.Helper()
	b := l2.Acquire(len(deltas))
	b.SetHeader(testSymbol, 1000, isSnapshot, firstID, lastID, prevLastID)
	for _, d := range deltas {
		b.AddDelta(d)
	}
	return b
}

func TestApplySnapshotSeedsBookAndTop(t *testing.T) {
	book := New()
	snap := acquireBatch(t, true, 0, 100, 0,
		l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1},
		l2.Delta{Side: l2.SideBid, Price: 9, Quantity: 2},
		l2.Delta{Side: l2.SideAsk, Price: 11, Quantity: 1},
	)
	book.ApplySnapshot(snap)
	snap.Release()

	bid, ok := book.BestBid()
	if !ok || bid.Price != 10 {
		t.Fatalf("BestBid = %+v, ok=%v", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 11 {
		t.Fatalf("BestAsk = %+v, ok=%v", ask, ok)
	}
	if book.LastUpdateID() != 100 {
		t.Fatalf("LastUpdateID = %d, want 100", book.LastUpdateID())
	}
}

func TestApplyIncrementalRejectsContinuityGap(t *testing.T) {
	book := New()
	snap := acquireBatch(t, true, 0, 100, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	book.ApplySnapshot(snap)
	snap.Release()

	bad := acquireBatch(t, false, 150, 151, 150, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 2})
	defer bad.Release()

	if book.ApplyIncremental(bad, false) {
		t.Fatal("expected continuity gap to be rejected")
	}
	if book.LastUpdateID() != 100 {
		t.Fatalf("LastUpdateID mutated after rejected apply: %d", book.LastUpdateID())
	}
}

func TestApplyIncrementalForceBypassesContinuityCheck(t *testing.T) {
	book := New()
	snap := acquireBatch(t, true, 0, 100, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	book.ApplySnapshot(snap)
	snap.Release()

	seed := acquireBatch(t, false, 95, 105, 94, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 5})
	defer seed.Release()

	if !book.ApplyIncremental(seed, true) {
		t.Fatal("expected forced apply to succeed despite continuity mismatch")
	}
	if book.LastUpdateID() != 105 {
		t.Fatalf("LastUpdateID = %d, want 105", book.LastUpdateID())
	}
}

func TestZeroQuantityRemovesLevelAndIncrementsCancelCounter(t *testing.T) {
	book := New()
	snap := acquireBatch(t, true, 0, 1, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	book.ApplySnapshot(snap)
	snap.Release()

	remove := acquireBatch(t, false, 1, 2, 1, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 0})
	defer remove.Release()
	book.ApplyIncremental(remove, false)

	if _, ok := book.BestBid(); ok {
		t.Fatal("expected bid side empty after removal")
	}
	bidRemovals, _ := book.Cancellations()
	if bidRemovals != 1 {
		t.Fatalf("bidRemovals = %d, want 1", bidRemovals)
	}
}

func TestRemovingNonexistentLevelIsNoOp(t *testing.T) {
	book := New()
	snap := acquireBatch(t, true, 0, 1, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	book.ApplySnapshot(snap)
	snap.Release()

	noop := acquireBatch(t, false, 1, 2, 1, l2.Delta{Side: l2.SideBid, Price: 999, Quantity: 0})
	defer noop.Release()
	book.ApplyIncremental(noop, false)

	bidRemovals, _ := book.Cancellations()
	if bidRemovals != 0 {
		t.Fatalf("bidRemovals = %d, want 0", bidRemovals)
	}
}

func TestTopUpdatedFiresOnlyWhenTopChanges(t *testing.T) {
	book := New()
	var topFired, bookFired int
	book.OnTopUpdated(func(*Book) { topFired++ })
	book.OnBookUpdated(func(*Book) { bookFired++ })

	snap := acquireBatch(t, true, 0, 1, 0,
		l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1},
		l2.Delta{Side: l2.SideBid, Price: 9, Quantity: 1},
	)
	book.ApplySnapshot(snap)
	snap.Release()

	deepLevel := acquireBatch(t, false, 1, 2, 1, l2.Delta{Side: l2.SideBid, Price: 9, Quantity: 5})
	defer deepLevel.Release()
	book.ApplyIncremental(deepLevel, false)

	if bookFired != 2 {
		t.Fatalf("bookFired = %d, want 2", bookFired)
	}
	if topFired != 1 {
		t.Fatalf("topFired = %d, want 1 (top should not re-fire for a non-top level change)", topFired)
	}
}

func TestSubscriptionReleaseStopsFurtherCallbacks(t *testing.T) {
	book := New()
	var fired int
	sub := book.OnBookUpdated(func(*Book) { fired++ })
	sub.Release()

	snap := acquireBatch(t, true, 0, 1, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	book.ApplySnapshot(snap)
	snap.Release()

	if fired != 0 {
		t.Fatalf("fired = %d, want 0 after release", fired)
	}
}

func TestCallbackPanicIsSwallowed(t *testing.T) {
	book := New()
	book.OnBookUpdated(func(*Book) { panic("boom") })

	snap := acquireBatch(t, true, 0, 1, 0, l2.Delta{Side: l2.SideBid, Price: 10, Quantity: 1})
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic propagated out of ApplySnapshot: %v", r)
		}
	}()
	book.ApplySnapshot(snap)
	snap.Release()
}
