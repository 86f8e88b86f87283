package wsfeed

import (
	"context"

	"github.com/lattice-q/l2book/internal/binancefeed"
	"github.com/lattice-q/l2book/internal/l2"
	"github.com/lattice-q/l2book/internal/logger"
	"github.com/lattice-q/l2book/internal/metrics"
	"github.com/lattice-q/l2book/internal/transport"
)

// ParseLoop reads raw blobs off a Manager's shared inbox, classifies
// and parses each one, then publishes the result through the depth or
// trades transport. Depth batches go try-publish first, falling back to a
// cancellable async publish when the transport is momentarily full.
// Trades are only try-published: a subscriber whose queue is full misses
// that trade, and the drop is not counted or logged.
type ParseLoop struct {
	Inbox   <-chan []byte
	Depth   *binancefeed.DepthParser
	Trade   *binancefeed.TradeParser
	DepthTx *transport.DepthTransport
	TradeTx *transport.TradesTransport
	Metrics *metrics.Pipeline
	Log     logger.Interface
}

// Run drains Inbox until ctx is cancelled or the inbox is closed.
func (p *ParseLoop) Run(ctx context.Context) {
	log := p.Log
	if log == nil {
		log = logger.Nop{}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.Inbox:
			if !ok {
				return
			}
			p.handle(ctx, raw, log)
		}
	}
}

func (p *ParseLoop) handle(ctx context.Context, raw []byte, log logger.Interface) {
	if p.Metrics != nil {
		p.Metrics.MessagesReceived.Add(ctx, 1)
	}

	switch binancefeed.Classify(raw) {
	case binancefeed.KindDepth:
		batch, err := p.Depth.Parse(raw)
		if err != nil {
			p.countParseError(ctx)
			log.Warn(ctx, "wsfeed depth parse failed", "error", err)
			return
		}
		p.publishDepth(ctx, batch, log)

	case binancefeed.KindTrade:
		trade, err := p.Trade.Parse(raw)
		if err != nil {
			p.countParseError(ctx)
			log.Warn(ctx, "wsfeed trade parse failed", "error", err)
			return
		}
		p.TradeTx.TryPublish(trade)

	default:
		// subscription ack, ping frame echo, or an unrecognized event
		// type — neither an error nor actionable.
	}
}

func (p *ParseLoop) publishDepth(ctx context.Context, batch *l2.UpdatePooled, log logger.Interface) {
	if p.DepthTx.TryPublish(batch) {
		return
	}
	if err := p.DepthTx.PublishAsync(ctx, batch); err != nil {
		log.Warn(ctx, "wsfeed depth publish cancelled, releasing batch", "error", err)
		batch.Release()
	}
}

func (p *ParseLoop) countParseError(ctx context.Context) {
	if p.Metrics != nil {
		p.Metrics.ParseErrors.Add(ctx, 1)
	}
}
