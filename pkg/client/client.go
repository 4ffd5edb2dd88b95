package client

import (
	"context"
	"errors"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/connection"
	"github.com/pzhenzhou/elika-client/pkg/metrics"
	"github.com/pzhenzhou/elika-client/pkg/pipeline"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/pzhenzhou/elika-client/pkg/transport"
)

var logger = common.InitLogger().WithName("client")

// Client issues commands over one Connection. Like the Connection it is not
// safe for concurrent use: share a ClientPool instead.
type Client struct {
	conn    *connection.Connection
	owner   *ClientPool
	metrics metrics.ClientMetricsCollector
	// db is the selected database; defaultDB is restored before a pooled
	// client goes back to idle.
	db        int
	defaultDB int
}

// New returns a standalone client. The connection is dialed lazily on the
// first command.
func New(factory transport.SocketFactory) *Client {
	return &Client{conn: connection.New(factory)}
}

// Dial connects and runs the handshake described by cfg.
func Dial(ctx context.Context, cfg *common.ConnConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, common.UsageFault.Wrap(err, "invalid connection config")
	}
	factory, err := transport.NewSocketFactoryFromConfig(cfg)
	if err != nil {
		return nil, common.UsageFault.Wrap(err, "invalid transport config")
	}
	c := New(factory)
	if err := c.conn.Initialize(ctx, cfg); err != nil {
		_ = c.conn.Close()
		return nil, err
	}
	c.db, c.defaultDB = cfg.Database, cfg.Database
	return c, nil
}

// WithMetrics records the latency, count and failures of every command.
func (c *Client) WithMetrics(collector metrics.ClientMetricsCollector) *Client {
	c.metrics = collector
	return c
}

// Conn exposes the underlying connection for raw command access.
func (c *Client) Conn() *connection.Connection {
	return c.conn
}

func (c *Client) IsBroken() bool {
	return c.conn.IsBroken()
}

// DB is the currently selected database.
func (c *Client) DB() int {
	return c.db
}

// Pipelined returns a pipeline writing to this client's connection. The
// client must not issue other commands until the pipeline is synced.
func (c *Client) Pipelined() *pipeline.Pipeline {
	return pipeline.New(c.conn)
}

// Close hands a pooled client back to its pool, invalidating it when the
// connection is broken or has unread data. A standalone client disconnects.
func (c *Client) Close() error {
	if c.owner == nil {
		return c.conn.Close()
	}
	if c.conn.IsBroken() || c.conn.Buffered() > 0 {
		c.owner.ReturnBrokenResource(c)
		return nil
	}
	c.owner.ReturnResource(c)
	return nil
}

// execute sends one command and decodes its reply with get.
func execute[T any](c *Client, get func() (T, error), cmd []byte, args ...[]byte) (T, error) {
	start := time.Now()
	var v T
	err := c.conn.SendCommand(cmd, args...)
	if err == nil {
		v, err = get()
	}
	c.observe(cmd, start, err)
	return v, err
}

func (c *Client) status(cmd []byte, args ...[]byte) (string, error) {
	return execute(c, c.conn.GetStatusCodeReply, cmd, args...)
}

func (c *Client) bulk(cmd []byte, args ...[]byte) (string, error) {
	return execute(c, c.conn.GetBulkReply, cmd, args...)
}

func (c *Client) integer(cmd []byte, args ...[]byte) (int64, error) {
	return execute(c, c.conn.GetIntegerReply, cmd, args...)
}

func (c *Client) multiBulk(cmd []byte, args ...[]byte) ([][]byte, error) {
	return execute(c, c.conn.GetMultiBulkReply, cmd, args...)
}

func (c *Client) one(cmd []byte, args ...[]byte) (*respio.Reply, error) {
	return execute(c, c.conn.GetOne, cmd, args...)
}

func (c *Client) observe(cmd []byte, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	name := string(cmd)
	c.metrics.IncrementCommandCounter(name)
	c.metrics.RecordCommandLatency(name, time.Since(start))
	if err != nil && !errors.Is(err, common.ErrNil) {
		c.metrics.IncrementErrorCounter(common.ErrorKind(err))
	}
}
