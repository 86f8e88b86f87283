// Package wsfeed implements the WebSocket ingestion layer: per-connection
// lifecycle and reconnect, the SUBSCRIBE/UNSUBSCRIBE envelope protocol,
// sharding once a connection's stream count would exceed the venue cap,
// and the parse loop that turns raw frames into published l2 batches
// and trades.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/circuitbreaker"
	"github.com/lattice-q/l2book/internal/logger"
	"github.com/lattice-q/l2book/internal/metrics"
	"github.com/lattice-q/l2book/internal/ratelimit"
)

// State is a connection's lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// Config tunes one connection's dial/reconnect/read behavior.
type Config struct {
	URL               string
	Name              string
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	MaxReconnects     int // 0 = infinite
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	InboxCapacity     int
	MaxMessageSize    int64
	EnvelopeRatePerSec int
	MaxStreamsPerConn  int

	// Metrics is optional; when set, reconnect attempts and raw-inbox
	// drops are recorded against it.
	Metrics *metrics.Pipeline

	// CircuitBreaker tunes the breaker wrapping each dial attempt, so a
	// venue endpoint that keeps refusing connections trips the breaker
	// open instead of burning the backoff loop hot against a dead host.
	CircuitBreaker circuitbreaker.Config
}

// DefaultConfig returns the defaults named in the external-interfaces
// section: a 256-blob raw-inbox, a 1024-stream shard cap, and a
// 10-envelope-per-second outbound send limit.
func DefaultConfig(url, name string) Config {
	return Config{
		URL:                url,
		Name:               name,
		InitialBackoff:     250 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
		MaxReconnects:      0,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		InboxCapacity:      256,
		MaxMessageSize:     10 * 1024 * 1024,
		EnvelopeRatePerSec: 10,
		MaxStreamsPerConn:  1024,
		CircuitBreaker:     circuitbreaker.DefaultConfig(name + "-ws-dial"),
	}
}

// wsRequest is the SUBSCRIBE/UNSUBSCRIBE envelope shape.
type wsRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// conn owns a single underlying WebSocket connection: dial-with-retry,
// a read loop that hands complete message blobs to a shared raw-inbox,
// and rate-limited SUBSCRIBE/UNSUBSCRIBE sends.
type conn struct {
	cfg   Config
	inbox chan<- []byte
	log   logger.Interface

	sendLimiter *ratelimit.Limiter
	nextReqID   atomic.Int64
	breaker     *circuitbreaker.Breaker[*websocket.Conn]

	mu      sync.RWMutex
	ws      *websocket.Conn
	state   State
	streams map[string]struct{}

	closed   atomic.Bool
	done     chan struct{}
	closeMu  sync.Mutex
}

// newConn builds a conn that will hand frames it reads to the shared
// inbox. The caller owns the inbox's lifetime; multiple shards share one.
func newConn(cfg Config, inbox chan<- []byte, log logger.Interface) *conn {
	if log == nil {
		log = logger.Nop{}
	}
	return &conn{
		cfg:         cfg,
		inbox:       inbox,
		log:         log,
		sendLimiter: ratelimit.NewPerSecond(cfg.EnvelopeRatePerSec),
		breaker:     circuitbreaker.New[*websocket.Conn](cfg.CircuitBreaker, log),
		state:       StateCreated,
		streams:     make(map[string]struct{}),
		done:        make(chan struct{}),
	}
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the connection's current lifecycle state.
func (c *conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// streamCount reports how many streams this connection currently serves.
func (c *conn) streamCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.streams)
}

// connect dials once, without retry, through the circuit breaker: once
// the breaker trips open, dial attempts fail fast with gobreaker's
// ErrOpenState instead of each retrying the full timeout against a dead
// endpoint.
func (c *conn) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	ws, err := c.breaker.Execute(func() (*websocket.Conn, error) {
		ws, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
			CompressionMode: websocket.CompressionContextTakeover,
		})
		return ws, err
	})
	if err != nil {
		c.setState(StateFailed)
		return bookerr.Wrap(bookerr.NetworkTransient, err, fmt.Sprintf("dial %s", c.cfg.Name))
	}
	if c.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(c.cfg.MaxMessageSize)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateOpen)

	go c.readLoop(context.Background())
	return nil
}

// connectWithRetry dials with exponential backoff and jitter, matching
// the "delay <- min(delay*2, max_backoff) + rand(0,100ms)" retry policy,
// bounded by MaxReconnects when positive.
func (c *conn) connectWithRetry(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff
	attempts := 0

	for {
		if c.closed.Load() {
			return bookerr.New(bookerr.CancelledByCaller, bookerr.WithContext("connection closed during retry"))
		}
		select {
		case <-ctx.Done():
			return bookerr.New(bookerr.CancelledByCaller, bookerr.WithCause(ctx.Err()))
		default:
		}

		err := c.connect(ctx)
		if err == nil {
			return nil
		}

		attempts++
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.Reconnects.Add(ctx, 1)
		}
		if c.cfg.MaxReconnects > 0 && attempts >= c.cfg.MaxReconnects {
			return bookerr.Wrap(bookerr.NetworkTransient, err, "max reconnect attempts exceeded")
		}

		jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
		sleep := backoff + jitter

		select {
		case <-ctx.Done():
			return bookerr.New(bookerr.CancelledByCaller, bookerr.WithCause(ctx.Err()))
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// readLoop reads complete messages (coder/websocket reassembles frames
// internally) and hands each blob to the shared inbox on a best-effort
// basis, dropping it if the inbox is full rather than stalling the read.
// On any read error it marks the connection failed and triggers a
// reconnect; handleDisconnect then resubscribes this connection's streams.
func (c *conn) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			return
		}

		readCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
		}
		msgType, data, err := ws.Read(readCtx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Warn(ctx, "wsfeed read error", "name", c.cfg.Name, "error", err)
			c.setState(StateFailed)
			c.handleDisconnect(ctx)
			return
		}

		if msgType != websocket.MessageText && msgType != websocket.MessageBinary {
			continue
		}

		select {
		case c.inbox <- data:
		default:
			c.log.Warn(ctx, "wsfeed raw-inbox full, dropping message", "name", c.cfg.Name)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.BufferOverflows.Add(ctx, 1)
			}
		}
	}
}

// handleDisconnect attempts to reconnect and resubscribe to every
// stream this connection previously served.
func (c *conn) handleDisconnect(ctx context.Context) {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	c.ws = nil
	streams := make([]string, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	if err := c.connectWithRetry(ctx); err != nil {
		c.log.Error(ctx, "wsfeed reconnect failed permanently", "name", c.cfg.Name, "error", err)
		return
	}
	if len(streams) > 0 {
		if err := c.subscribe(ctx, streams); err != nil {
			c.log.Error(ctx, "wsfeed resubscribe after reconnect failed", "name", c.cfg.Name, "error", err)
		}
	}
}

// subscribe sends a SUBSCRIBE envelope and records the streams as owned
// by this connection. Send is rate-limited to the configured outbound
// envelope cap.
func (c *conn) subscribe(ctx context.Context, streams []string) error {
	if err := c.send(ctx, "SUBSCRIBE", streams); err != nil {
		return err
	}
	c.mu.Lock()
	for _, s := range streams {
		c.streams[s] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// unsubscribe sends an UNSUBSCRIBE envelope and drops the streams from
// this connection's owned set.
func (c *conn) unsubscribe(ctx context.Context, streams []string) error {
	if err := c.send(ctx, "UNSUBSCRIBE", streams); err != nil {
		return err
	}
	c.mu.Lock()
	for _, s := range streams {
		delete(c.streams, s)
	}
	c.mu.Unlock()
	return nil
}

func (c *conn) send(ctx context.Context, method string, streams []string) error {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return bookerr.New(bookerr.CancelledByCaller, bookerr.WithCause(err))
	}

	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return bookerr.New(bookerr.NotInitialized, bookerr.WithContext("wsfeed: connection not open"))
	}

	req := wsRequest{Method: method, Params: streams, ID: c.nextReqID.Add(1)}
	data, err := json.Marshal(req)
	if err != nil {
		return bookerr.Wrap(bookerr.ProtocolInvalid, err, "encode "+method+" envelope")
	}

	writeCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.WriteTimeout > 0 {
		writeCtx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return bookerr.Wrap(bookerr.NetworkTransient, err, method+" send")
	}
	return nil
}

// close closes the underlying connection and stops its read loop.
func (c *conn) close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)
	close(c.done)

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.setState(StateClosed)
	if ws == nil {
		return nil
	}
	if err := ws.Close(websocket.StatusNormalClosure, "closing"); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
