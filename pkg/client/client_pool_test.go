package client

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/fake_server"
	"github.com/pzhenzhou/elika-client/pkg/metrics"
	"github.com/pzhenzhou/elika-client/pkg/pool"
	"github.com/pzhenzhou/elika-client/pkg/pubsub"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/pzhenzhou/elika-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolConfig(impl string, maxTotal int) *common.PoolConfig {
	cfg := common.DefaultPoolConfig()
	cfg.Impl = impl
	cfg.MaxTotal = maxTotal
	cfg.MaxIdle = maxTotal
	cfg.MaxWait = 100 * time.Millisecond
	return &cfg
}

func newClientPool(t *testing.T, connCfg *common.ConnConfig, poolCfg *common.PoolConfig, opts ...PoolOption) *ClientPool {
	t.Helper()
	p, err := NewClientPool(context.Background(), connCfg, poolCfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

func forEachImpl(t *testing.T, test func(t *testing.T, impl string)) {
	for _, impl := range []string{common.PoolImplFixed, common.PoolImplPuddle} {
		t.Run(impl, func(t *testing.T) {
			test(t, impl)
		})
	}
}

func TestClientPool_BorrowAndReturn(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl string) {
		srv := newServer(t)
		p := newClientPool(t, connConfig(srv), poolConfig(impl, 2))
		ctx := context.Background()

		c, err := p.GetResource(ctx)
		require.NoError(t, err)
		_, err = c.Set("k", "v")
		require.NoError(t, err)
		id := c.Conn().ID()
		require.NoError(t, c.Close())

		again, err := p.GetResource(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, again.Conn().ID())
		v, err := again.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)
		require.NoError(t, again.Close())

		stats := p.Stats()
		assert.Equal(t, int64(0), stats.NumActive)
		assert.Equal(t, int64(1), stats.NumIdle)
	})
}

func TestClientPool_Exhausted(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl string) {
		srv := newServer(t)
		p := newClientPool(t, connConfig(srv), poolConfig(impl, 1))
		ctx := context.Background()

		held, err := p.GetResource(ctx)
		require.NoError(t, err)
		defer held.Close()

		start := time.Now()
		_, err = p.GetResource(ctx)
		require.Error(t, err)
		assert.True(t, common.IsPoolExhausted(err))
		assert.False(t, common.IsConnectionFault(err))
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})
}

func TestClientPool_ConcurrentBorrowers(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl string) {
		srv := newServer(t)
		cfg := poolConfig(impl, 4)
		cfg.MaxWait = 5 * time.Second
		p := newClientPool(t, connConfig(srv), cfg)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					c, err := p.GetResource(ctx)
					if !assert.NoError(t, err) {
						return
					}
					_, err = c.Incr("counter")
					assert.NoError(t, err)
					_ = c.Close()
				}
			}()
		}
		wg.Wait()

		c, err := p.GetResource(ctx)
		require.NoError(t, err)
		defer c.Close()
		v, err := c.Get("counter")
		require.NoError(t, err)
		assert.Equal(t, "160", v)
		assert.LessOrEqual(t, p.Stats().Created, int64(4))
	})
}

func TestClientPool_BrokenClientIsDestroyed(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl string) {
		srv := newServer(t)
		p := newClientPool(t, connConfig(srv), poolConfig(impl, 2))
		ctx := context.Background()

		c, err := p.GetResource(ctx)
		require.NoError(t, err)
		id := c.Conn().ID()
		c.Conn().SetBroken()
		require.NoError(t, c.Close())

		assert.Eventually(t, func() bool {
			return p.Stats().Destroyed == 1
		}, time.Second, 10*time.Millisecond)

		fresh, err := p.GetResource(ctx)
		require.NoError(t, err)
		defer fresh.Close()
		assert.NotEqual(t, id, fresh.Conn().ID())
		assert.False(t, fresh.IsBroken())
	})
}

// deniedSubscriber asks for a forbidden channel once the first subscription
// is acknowledged.
type deniedSubscriber struct {
	pubsub.BaseListener
	ps *pubsub.PubSub
}

func (l *deniedSubscriber) OnSubscribe(channel string, count int64) {
	if channel != "denied" {
		_ = l.ps.Subscribe("denied")
	}
}

// A subscription that ends on a server error leaves the server pushing to
// the connection, so the pool must not lend it again.
func TestClientPool_SubscriptionErrorInvalidates(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl string) {
		srv, err := fake_server.NewScriptedServer(func(args [][]byte) []*respio.Reply {
			switch strings.ToUpper(string(args[0])) {
			case "PING":
				return []*respio.Reply{respio.StatusReply("PONG")}
			case "SUBSCRIBE":
				if string(args[1]) == "denied" {
					return []*respio.Reply{respio.ErrorReply("NOPERM this user has no permissions to access the 'denied' channel")}
				}
				return []*respio.Reply{respio.ArrayReply(
					respio.BulkStringReply("subscribe"), respio.BulkStringReply(string(args[1])), respio.IntReply(1))}
			default:
				return []*respio.Reply{respio.StatusReply("OK")}
			}
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = srv.Close() })
		connCfg := common.DefaultConnConfig()
		connCfg.Host, connCfg.Port = srv.Host(), srv.Port()
		p := newClientPool(t, &connCfg, poolConfig(impl, 1))
		ctx := context.Background()

		c, err := p.GetResource(ctx)
		require.NoError(t, err)
		id := c.Conn().ID()
		listener := &deniedSubscriber{}
		ps := pubsub.New(listener)
		listener.ps = ps

		err = c.Subscribe(ctx, ps, "news")
		require.Error(t, err)
		assert.Equal(t, "NOPERM", common.ServerErrorClass(err))
		assert.True(t, c.IsBroken())
		require.NoError(t, c.Close())

		assert.Eventually(t, func() bool {
			return p.Stats().Destroyed == 1
		}, time.Second, 10*time.Millisecond)

		fresh, err := p.GetResource(ctx)
		require.NoError(t, err)
		defer fresh.Close()
		assert.NotEqual(t, id, fresh.Conn().ID())
	})
}

// A client returned with unread replies would hand them to the next borrower.
func TestClientPool_PendingRepliesInvalidate(t *testing.T) {
	srv := newServer(t)
	p := newClientPool(t, connConfig(srv), poolConfig(common.PoolImplFixed, 1))
	ctx := context.Background()

	c, err := p.GetResource(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Conn().SendCommand([]byte("PING")))
	id := c.Conn().ID()
	require.NoError(t, c.Close())

	next, err := p.GetResource(ctx)
	require.NoError(t, err)
	defer next.Close()
	assert.NotEqual(t, id, next.Conn().ID())
	pong, err := next.Ping()
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)
}

func TestClientPool_RestoresDatabase(t *testing.T) {
	srv := newServer(t)
	connCfg := connConfig(srv)
	connCfg.Database = 1
	p := newClientPool(t, connCfg, poolConfig(common.PoolImplFixed, 1))
	ctx := context.Background()

	c, err := p.GetResource(ctx)
	require.NoError(t, err)
	_, err = c.Select(5)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = p.GetResource(ctx)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 1, c.DB())
	_, err = c.Set("where", "db1")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr(), DB: 1})
	defer rdb.Close()
	assert.Equal(t, "db1", rdb.Get(ctx, "where").Val())
}

func TestClientPool_Handshake(t *testing.T) {
	srv := newServer(t, fake_server.WithPassword("app", "secret"))
	connCfg := connConfig(srv)
	connCfg.User = "app"
	connCfg.Password = "secret"
	connCfg.Database = 3
	connCfg.ClientName = "pooled"
	p := newClientPool(t, connCfg, poolConfig(common.PoolImplPuddle, 1))
	ctx := context.Background()

	c, err := p.GetResource(ctx)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Set("k", "in-three")
	require.NoError(t, err)
	name, err := c.ClientGetName()
	require.NoError(t, err)
	assert.Equal(t, "pooled", name)

	assert.Subset(t, srv.Commands(), [][]string{
		{"AUTH", "app", "secret"},
		{"SELECT", "3"},
	})
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr(), Username: "app", Password: "secret", DB: 3})
	defer rdb.Close()
	assert.Equal(t, "in-three", rdb.Get(ctx, "k").Val())
}

func TestClientPool_FactoryFailureIsPoolFault(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	connCfg := common.DefaultConnConfig()
	connCfg.Host, connCfg.Port = "127.0.0.1", addr.Port
	connCfg.ConnectTimeout = 200 * time.Millisecond
	forEachImpl(t, func(t *testing.T, impl string) {
		p := newClientPool(t, &connCfg, poolConfig(impl, 1))
		_, err := p.GetResource(context.Background())
		require.Error(t, err)
		assert.True(t, common.IsPoolFault(err))
		assert.False(t, common.IsPoolExhausted(err))
	})
}

type dialCounter struct {
	transport.SocketFactory
	dials atomic.Int64
}

func (d *dialCounter) CreateSocket(ctx context.Context) (net.Conn, error) {
	d.dials.Add(1)
	return d.SocketFactory.CreateSocket(ctx)
}

func TestClientPool_BreakerStopsDialing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	connCfg := common.DefaultConnConfig()
	connCfg.Host, connCfg.Port = "127.0.0.1", addr.Port
	dialer := &dialCounter{SocketFactory: socketFactory(connCfg.Host, connCfg.Port, time.Second)}
	breaker := &common.BreakerConfig{Enabled: true, FailureThreshold: 1, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	p := newClientPool(t, &connCfg, poolConfig(common.PoolImplFixed, 1),
		withSocketFactory(dialer), WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		_, err := p.GetResource(context.Background())
		require.Error(t, err)
		assert.True(t, common.IsPoolFault(err))
	}
	assert.Equal(t, int64(1), dialer.dials.Load())
}

func TestClientPool_CloseReportsUnavailable(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl string) {
		srv := newServer(t)
		p, err := NewClientPool(context.Background(), connConfig(srv), poolConfig(impl, 2))
		require.NoError(t, err)
		c, err := p.GetResource(context.Background())
		require.NoError(t, err)
		require.NoError(t, c.Close())
		require.NoError(t, p.Close())

		stats := p.Stats()
		assert.Equal(t, int64(pool.Unavailable), stats.NumActive)
		assert.Equal(t, int64(pool.Unavailable), stats.NumIdle)
		assert.Equal(t, time.Duration(pool.Unavailable), stats.MaxBorrowWait)
		_, err = p.GetResource(context.Background())
		assert.True(t, common.IsPoolFault(err))
	})
}

func TestClientPool_Metrics(t *testing.T) {
	collector, err := metrics.NewMetricsCollector(metrics.DefaultConfig())
	require.NoError(t, err)
	defer collector.Shutdown()

	srv := newServer(t)
	p := newClientPool(t, connConfig(srv), poolConfig(common.PoolImplFixed, 1), WithPoolMetrics(collector))
	ctx := context.Background()
	c, err := p.GetResource(ctx)
	require.NoError(t, err)
	_, err = c.Ping()
	require.NoError(t, err)
	_, err = p.GetResource(ctx)
	require.Error(t, err)
	require.NoError(t, c.Close())

	summary := collector.Summary()
	assert.Equal(t, 2, summary.Samples["elika-client.pool.borrow_wait;service=elika-client"].Count)
	assert.Equal(t, 1.0, summary.Counters["elika-client.command.count;service=elika-client;command=PING"])
	assert.Equal(t, 1.0, summary.Counters["elika-client.errors;service=elika-client;type=pool_exhausted"])
	assert.Equal(t, float32(1), summary.Gauges["elika-client.pool.active;service=elika-client"])
}
