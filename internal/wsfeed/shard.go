package wsfeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/lattice-q/l2book/internal/bookerr"
	"github.com/lattice-q/l2book/internal/logger"
)

// Manager owns a set of connections ("shards") against one venue
// WS endpoint, sharding new streams onto a fresh connection once the
// current one would exceed MaxStreamsPerConn. Every shard funnels its
// received frames into the same shared raw-inbox, so the parse loop
// never needs to know how many connections are open.
type Manager struct {
	baseCfg Config
	log     logger.Interface

	inbox chan []byte

	mu     sync.Mutex
	shards []*conn
}

// NewManager builds a Manager. baseCfg.URL is the venue WS base URL;
// each shard dials it independently (combined-stream connections are
// not used here since streams are added/removed dynamically via
// SUBSCRIBE/UNSUBSCRIBE rather than baked into the URL).
func NewManager(baseCfg Config, log logger.Interface) *Manager {
	if log == nil {
		log = logger.Nop{}
	}
	if baseCfg.InboxCapacity <= 0 {
		baseCfg.InboxCapacity = 256
	}
	return &Manager{
		baseCfg: baseCfg,
		log:     log,
		inbox:   make(chan []byte, baseCfg.InboxCapacity),
	}
}

// Inbox returns the shared raw-inbox every shard publishes frames to.
func (m *Manager) Inbox() <-chan []byte {
	return m.inbox
}

// AddStreams subscribes to the given venue stream names, opening a new
// shard connection whenever every existing shard is at capacity.
func (m *Manager) AddStreams(ctx context.Context, streams []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range streams {
		target, err := m.shardWithRoom()
		if err != nil {
			return err
		}
		if err := target.subscribe(ctx, []string{s}); err != nil {
			return err
		}
	}
	return nil
}

// shardWithRoom returns a connection with room for one more stream,
// opening and connecting a new one if none has room. Caller holds m.mu.
func (m *Manager) shardWithRoom() (*conn, error) {
	for _, s := range m.shards {
		if s.State() == StateOpen && s.streamCount() < m.baseCfg.MaxStreamsPerConn {
			return s, nil
		}
	}
	return m.openShard()
}

func (m *Manager) openShard() (*conn, error) {
	idx := len(m.shards)
	cfg := m.baseCfg
	cfg.Name = fmt.Sprintf("%s-shard%d", m.baseCfg.Name, idx)
	cfg.CircuitBreaker.Name = cfg.Name + "-dial"

	c := newConn(cfg, m.inbox, m.log)
	if err := c.connectWithRetry(context.Background()); err != nil {
		return nil, err
	}
	m.shards = append(m.shards, c)
	m.log.Info(context.Background(), "wsfeed opened shard", "name", cfg.Name, "shard_index", idx)
	return c, nil
}

// RemoveStreams unsubscribes the given stream names from whichever
// shard currently owns each one.
func (m *Manager) RemoveStreams(ctx context.Context, streams []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range streams {
		owner := m.ownerOf(s)
		if owner == nil {
			continue
		}
		if err := owner.unsubscribe(ctx, []string{s}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ownerOf(stream string) *conn {
	for _, s := range m.shards {
		s.mu.RLock()
		_, ok := s.streams[stream]
		s.mu.RUnlock()
		if ok {
			return s
		}
	}
	return nil
}

// ShardCount reports how many shard connections the manager has opened;
// closed or failed shards stay counted. Exposed for tests exercising the
// sharding boundary.
func (m *Manager) ShardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shards)
}

// Close closes every shard. The first error encountered is returned
// after every shard has been given a chance to close.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, s := range m.shards {
		if err := s.close(); err != nil && first == nil {
			first = bookerr.Wrap(bookerr.NetworkTransient, err, "close wsfeed shard")
		}
	}
	return first
}
