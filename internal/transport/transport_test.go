package transport

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/l2"
)

func TestDepthSecondSubscribeFails(t *testing.T) {
	tr := NewDepthTransport(4)
	sub, err := tr.Subscribe()
	if err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	_, err = tr.Subscribe()
	if bookerr.Of(err) != bookerr.AlreadySubscribed {
		t.Fatalf("expected AlreadySubscribed, got %v", err)
	}
}

func TestDepthTryPublishFullReturnsFalse(t *testing.T) {
	tr := NewDepthTransport(1)
	sub, err := tr.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	b1 := l2.Acquire(1)
	b2 := l2.Acquire(1)
	if !tr.TryPublish(b1) {
		t.Fatalf("expected first publish to succeed")
	}
	if tr.TryPublish(b2) {
		t.Fatalf("expected second publish to fail on full channel")
	}
	<-sub.Recv()
	b1.Release()
	b2.Release()
}

func TestDepthPublishAsyncWaitsThenCancels(t *testing.T) {
	tr := NewDepthTransport(1)
	sub, err := tr.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	b1 := l2.Acquire(1)
	if !tr.TryPublish(b1) {
		t.Fatalf("expected first publish to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	b2 := l2.Acquire(1)
	err = tr.PublishAsync(ctx, b2)
	if bookerr.Of(err) != bookerr.CancelledByCaller {
		t.Fatalf("expected CancelledByCaller, got %v", err)
	}
	b2.Release()

	got := <-sub.Recv()
	got.Release()
}

func TestDepthUnsubscribeReleasesBuffered(t *testing.T) {
	tr := NewDepthTransport(2)
	sub, err := tr.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b1 := l2.Acquire(1)
	tr.TryPublish(b1)
	sub.Unsubscribe()

	sub2, err := tr.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe after Unsubscribe: %v", err)
	}
	sub2.Unsubscribe()
}

func TestTradesFanOutIndependentQueues(t *testing.T) {
	tr := NewTradesTransport()
	a := tr.Subscribe(1)
	b := tr.Subscribe(1)
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	trade := l2.Trade{TradeID: 1, Price: 100}
	tr.TryPublish(trade)

	gotA := <-a.Recv()
	gotB := <-b.Recv()
	if gotA.TradeID != 1 || gotB.TradeID != 1 {
		t.Fatalf("both subscribers should see the trade")
	}
}

func TestTradesTryPublishDropsOnFullWithoutBlockingOthers(t *testing.T) {
	tr := NewTradesTransport()
	slow := tr.Subscribe(1)
	fast := tr.Subscribe(1)
	defer slow.Unsubscribe()
	defer fast.Unsubscribe()

	tr.TryPublish(l2.Trade{TradeID: 1})
	tr.TryPublish(l2.Trade{TradeID: 2}) // slow's queue is now full; dropped for slow only

	select {
	case got := <-fast.Recv():
		if got.TradeID != 1 {
			t.Fatalf("unexpected trade id %d", got.TradeID)
		}
	default:
		t.Fatalf("fast subscriber should have received the first trade")
	}
}
