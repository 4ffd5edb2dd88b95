package client

import (
	"context"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/metrics"
	"github.com/pzhenzhou/elika-client/pkg/pool"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/pzhenzhou/elika-client/pkg/transport"
)

type PoolOption func(*ClientPool)

// WithPoolMetrics records borrow waits and pool gauges, and hands the
// collector to every client the pool creates.
func WithPoolMetrics(collector metrics.ClientMetricsCollector) PoolOption {
	return func(p *ClientPool) {
		p.metrics = collector
	}
}

// WithBreaker guards dialing with a circuit breaker.
func WithBreaker(cfg *common.BreakerConfig) PoolOption {
	return func(p *ClientPool) {
		p.breaker = cfg
	}
}

func WithSocketOptions(opts ...transport.Option) PoolOption {
	return func(p *ClientPool) {
		p.socketOpts = append(p.socketOpts, opts...)
	}
}

// withSocketFactory replaces the dialer, for tests that wrap it.
func withSocketFactory(factory transport.SocketFactory) PoolOption {
	return func(p *ClientPool) {
		p.factory = factory
	}
}

// ClientPool lends initialized clients. It is safe for concurrent use; each
// borrowed client belongs to one goroutine until Close is called on it.
type ClientPool struct {
	connCfg    common.ConnConfig
	factory    transport.SocketFactory
	breaker    *common.BreakerConfig
	socketOpts []transport.Option
	metrics    metrics.ClientMetricsCollector
	objects    pool.ObjectPool[*Client]
}

func NewClientPool(ctx context.Context, connCfg *common.ConnConfig, poolCfg *common.PoolConfig, opts ...PoolOption) (*ClientPool, error) {
	if err := connCfg.Validate(); err != nil {
		return nil, common.UsageFault.Wrap(err, "invalid connection config")
	}
	p := &ClientPool{connCfg: *connCfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.factory == nil {
		factory, err := transport.NewSocketFactoryFromConfig(connCfg, p.socketOpts...)
		if err != nil {
			return nil, common.UsageFault.Wrap(err, "invalid transport config")
		}
		p.factory = factory
	}
	if p.breaker != nil && p.breaker.Enabled {
		p.factory = transport.NewBreakerSocketFactory(p.factory, p.breaker)
	}
	objects, err := pool.New[*Client](ctx, poolCfg, &clientFactory{owner: p})
	if err != nil {
		return nil, err
	}
	p.objects = objects
	logger.Info("Client pool created", "Addr", connCfg.Addr(), "Impl", poolCfg.Impl, "MaxTotal", poolCfg.MaxTotal)
	return p, nil
}

// GetResource borrows a client. It fails with a PoolExhausted fault when no
// client frees up within MaxWait and with a PoolFault when a new client
// cannot be created.
func (p *ClientPool) GetResource(ctx context.Context) (*Client, error) {
	start := time.Now()
	c, err := p.objects.Borrow(ctx)
	if p.metrics != nil {
		p.metrics.RecordBorrowWait(time.Since(start))
		p.metrics.SetPoolStats(p.objects.Stats())
		if err != nil {
			p.metrics.IncrementErrorCounter(common.ErrorKind(err))
		}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ReturnResource makes c idle again. A client that switched database is
// switched back first and destroyed if that fails.
func (p *ClientPool) ReturnResource(c *Client) {
	if c == nil {
		return
	}
	if c.db != c.defaultDB {
		if _, err := c.Select(c.defaultDB); err != nil {
			logger.V(1).Info("Failed to restore database, destroying client", "Id", c.conn.ID(), "Reason", err.Error())
			p.ReturnBrokenResource(c)
			return
		}
	}
	p.objects.Return(c)
}

// ReturnBrokenResource destroys c instead of returning it.
func (p *ClientPool) ReturnBrokenResource(c *Client) {
	if c == nil {
		return
	}
	if err := p.objects.Invalidate(c); err != nil {
		logger.V(1).Info("Failed to invalidate client", "Id", c.conn.ID(), "Reason", err.Error())
	}
}

// Stats reports -1 for every field once the pool is closed.
func (p *ClientPool) Stats() pool.Stats {
	return p.objects.Stats()
}

func (p *ClientPool) Close() error {
	return p.objects.Close()
}

type clientFactory struct {
	owner *ClientPool
}

func (f *clientFactory) Make(ctx context.Context) (*Client, error) {
	p := f.owner
	c := New(p.factory)
	if err := c.conn.Initialize(ctx, &p.connCfg); err != nil {
		_ = c.conn.Close()
		return nil, err
	}
	c.owner = p
	c.metrics = p.metrics
	c.db, c.defaultDB = p.connCfg.Database, p.connCfg.Database
	return c, nil
}

func (f *clientFactory) Validate(c *Client) bool {
	if c.conn.IsBroken() {
		return false
	}
	if err := c.conn.Check(); err != nil {
		return false
	}
	return c.conn.Ping() == nil
}

// Destroy sends a best-effort QUIT before closing.
func (f *clientFactory) Destroy(c *Client) error {
	if c.conn.IsConnected() && !c.conn.IsBroken() {
		if err := c.conn.SendCommand(respio.QuitCmd); err == nil {
			_, _ = c.conn.GetStatusCodeReply()
		}
	}
	return c.conn.Close()
}
