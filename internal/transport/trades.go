package transport

import (
	"context"
	"sync"

	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/l2"
)

// TradesTransport is a multi-consumer fan-out of copyable trades. Each
// subscriber owns an independent bounded queue; a full queue either
// drops the trade (TryPublish, the default best-effort path) or the
// publisher waits (PublishAsync).
type TradesTransport struct {
	mu          sync.RWMutex
	subscribers map[int64]chan l2.Trade
	nextID      int64
}

// NewTradesTransport builds an empty fan-out hub.
func NewTradesTransport() *TradesTransport {
	return &TradesTransport{subscribers: make(map[int64]chan l2.Trade)}
}

// TradesSubscription is one consumer's handle.
type TradesSubscription struct {
	id int64
	ch chan l2.Trade
	t  *TradesTransport
}

// Subscribe registers a new independent bounded queue of the given
// capacity.
func (t *TradesTransport) Subscribe(bufferSize int) *TradesSubscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	ch := make(chan l2.Trade, bufferSize)
	t.subscribers[id] = ch
	return &TradesSubscription{id: id, ch: ch, t: t}
}

// Recv returns the subscription's channel.
func (s *TradesSubscription) Recv() <-chan l2.Trade {
	return s.ch
}

// Unsubscribe removes the subscriber from the fan-out set and closes its
// channel. Trades are copyable values, not pooled resources, so no
// release step is needed for buffered entries.
func (s *TradesSubscription) Unsubscribe() {
	s.t.mu.Lock()
	delete(s.t.subscribers, s.id)
	close(s.ch)
	s.t.mu.Unlock()
}

// TryPublish fans a trade out to every current subscriber on a
// best-effort basis: a subscriber whose queue is full has this trade
// silently dropped for it (and only it) rather than blocking every other
// subscriber. The snapshot-then-iterate pattern avoids holding the lock
// while sending.
func (t *TradesTransport) TryPublish(trade l2.Trade) {
	t.mu.RLock()
	chans := make([]chan l2.Trade, 0, len(t.subscribers))
	for _, ch := range t.subscribers {
		chans = append(chans, ch)
	}
	t.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- trade:
		default:
		}
	}
}

// PublishAsync fans a trade out to every current subscriber, waiting on
// each full queue until it is writable or ctx is cancelled. If ctx is
// cancelled partway through, subscribers already written to have
// received the trade; the call returns the cancellation error for the
// remainder.
func (t *TradesTransport) PublishAsync(ctx context.Context, trade l2.Trade) error {
	t.mu.RLock()
	chans := make([]chan l2.Trade, 0, len(t.subscribers))
	for _, ch := range t.subscribers {
		chans = append(chans, ch)
	}
	t.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- trade:
		case <-ctx.Done():
			return bookerr.New(bookerr.CancelledByCaller, bookerr.WithCause(ctx.Err()))
		}
	}
	return nil
}
