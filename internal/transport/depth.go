// Package transport implements the typed publish/subscribe layer between
// the WS parse loop and the book/trade consumers: a single-producer
// single-consumer channel of pooled depth batches, and a multi-consumer
// fan-out of copyable trades.
package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/l2"
)

// DepthTransport is a bounded SPSC channel of pooled depth batches. At
// most one subscriber may exist at a time; a second Subscribe call
// fails with AlreadySubscribed.
type DepthTransport struct {
	capacity   int
	mu         sync.Mutex
	ch         chan *l2.UpdatePooled
	subscribed atomic.Bool
}

// NewDepthTransport builds a transport with the given channel capacity.
func NewDepthTransport(capacity int) *DepthTransport {
	return &DepthTransport{capacity: capacity}
}

// DepthSubscription is the single consumer's handle. Unsubscribe drains
// and releases any pooled batches still buffered.
type DepthSubscription struct {
	t  *DepthTransport
	ch chan *l2.UpdatePooled
}

// Subscribe opens the single depth subscription. Calling it again before
// the previous subscription is released returns an AlreadySubscribed
// error — this is the transport-level enforcement of "at most one depth
// subscriber".
func (t *DepthTransport) Subscribe() (*DepthSubscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.subscribed.CompareAndSwap(false, true) {
		return nil, bookerr.New(bookerr.AlreadySubscribed, bookerr.WithContext("depth transport already has a subscriber"))
	}
	t.ch = make(chan *l2.UpdatePooled, t.capacity)
	return &DepthSubscription{t: t, ch: t.ch}, nil
}

// Recv returns the subscription's channel for range/select use.
func (s *DepthSubscription) Recv() <-chan *l2.UpdatePooled {
	return s.ch
}

// Unsubscribe drains any batches still in the channel, releasing each
// one, then frees the slot for a future Subscribe call.
func (s *DepthSubscription) Unsubscribe() {
	s.t.mu.Lock()
	close(s.ch)
	for batch := range s.ch {
		batch.Release()
	}
	s.t.ch = nil
	s.t.subscribed.Store(false)
	s.t.mu.Unlock()
}

// TryPublish attempts a non-blocking send; returns false if the channel
// is full (the publisher retains ownership of batch and must decide
// whether to retry via PublishAsync or drop it).
func (t *DepthTransport) TryPublish(batch *l2.UpdatePooled) bool {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- batch:
		return true
	default:
		return false
	}
}

// PublishAsync waits until the channel is writable or ctx is cancelled.
// On cancellation it returns a CancelledByCaller error; the caller
// retains ownership of batch in that case and must release it.
func (t *DepthTransport) PublishAsync(ctx context.Context, batch *l2.UpdatePooled) error {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return bookerr.New(bookerr.NotInitialized, bookerr.WithContext("no active depth subscriber"))
	}
	select {
	case ch <- batch:
		return nil
	case <-ctx.Done():
		return bookerr.New(bookerr.CancelledByCaller, bookerr.WithCause(ctx.Err()))
	}
}
