package searchbase

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Connection owns the Redis client shared by a store's operations.
//
// Open and Close are reference counted. Every operation opens before it
// touches Redis and closes when done; the client is created by the first
// Open and torn down when the last reference is released, unless
// KeepAlive is set.
type Connection struct {
	opts      *redis.Options
	keepAlive bool
	logger    Logger
	metrics   Metrics

	mu      sync.Mutex
	client  *redis.Client
	gen     uint64 // bumped each time a client is created
	refs    int
	onClose func()
}

// NewConnection creates a closed connection
func NewConnection(cfg Config, logger Logger, metrics Metrics) *Connection {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Connection{
		opts:      cfg.RedisOptions(),
		keepAlive: cfg.KeepAlive,
		logger:    logger,
		metrics:   metrics,
	}
}

// Open takes a reference, creating the client if needed, and checks that
// the server answers PING with PONG. It returns false with ErrConnection
// when the probe fails; the reference is not kept in that case.
func (c *Connection) Open(ctx context.Context) (bool, error) {
	_, _, err := c.acquire(ctx)
	return err == nil, err
}

// acquire is Open returning the client and its generation. The reference
// must be given back with release(gen).
func (c *Connection) acquire(ctx context.Context) (*redis.Client, uint64, error) {
	c.mu.Lock()
	if c.client == nil {
		c.client = redis.NewClient(c.opts)
		c.gen++
		c.logger.Debug("redis client created", "addr", c.opts.Addr)
	}
	client, gen := c.client, c.gen
	c.refs++
	c.metrics.Gauge(MetricConnectionRefs, float64(c.refs))
	c.mu.Unlock()

	pong, err := client.Ping(ctx).Result()
	if err == nil && pong == "PONG" {
		return client, gen, nil
	}

	_ = c.release(gen)
	if err == nil {
		err = WithContext(ErrConnection, map[string]interface{}{"addr": c.opts.Addr, "reply": pong})
	} else {
		err = WithContext(wrap(ErrConnection, err), map[string]interface{}{"addr": c.opts.Addr})
	}
	return nil, 0, err
}

// Close releases a reference. Releasing the last one closes the client and
// every index handle. Closing an already closed connection is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked()
}

// release gives back a reference taken on client generation gen. A
// reference that outlived a Shutdown belongs to a client that is already
// closed, so releasing it leaves the current client alone.
func (c *Connection) release(gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	return c.releaseLocked()
}

func (c *Connection) releaseLocked() error {
	if c.refs > 0 {
		c.refs--
	}
	c.metrics.Gauge(MetricConnectionRefs, float64(c.refs))
	if c.refs > 0 || c.keepAlive || c.client == nil {
		return nil
	}
	return c.shutdownLocked()
}

// Shutdown closes the client regardless of outstanding references.
// Operations still in flight fail on the closed client; their later
// releases do not affect a client opened after the Shutdown.
func (c *Connection) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = 0
	c.metrics.Gauge(MetricConnectionRefs, 0)
	if c.client == nil {
		return nil
	}
	return c.shutdownLocked()
}

func (c *Connection) shutdownLocked() error {
	if c.onClose != nil {
		c.onClose()
	}
	err := c.client.Close()
	c.client = nil
	c.logger.Debug("redis client closed", "addr", c.opts.Addr)
	return err
}

// Client returns the live client. It fails with ErrConnection when the
// connection is not open.
func (c *Connection) Client() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, WithContext(ErrConnection, map[string]interface{}{
			"addr":   c.opts.Addr,
			"reason": "connection is not open",
		})
	}
	return c.client, nil
}

// Active reports whether a client is currently open
func (c *Connection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Refs returns the number of outstanding references
func (c *Connection) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}
