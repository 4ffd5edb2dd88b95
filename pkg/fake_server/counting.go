package fake_server

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/pzhenzhou/elika-client/pkg/transport"
)

// CountingFactory wraps a SocketFactory and counts the Read and Write calls
// made on the sockets it creates. Tests use it to assert round trips and the
// absence of I/O.
type CountingFactory struct {
	transport.SocketFactory
	Reads  atomic.Int64
	Writes atomic.Int64
}

func NewCountingFactory(inner transport.SocketFactory) *CountingFactory {
	return &CountingFactory{SocketFactory: inner}
}

func (f *CountingFactory) CreateSocket(ctx context.Context) (net.Conn, error) {
	conn, err := f.SocketFactory.CreateSocket(ctx)
	if err != nil {
		return nil, err
	}
	return &countingConn{Conn: conn, factory: f}, nil
}

type countingConn struct {
	net.Conn
	factory *CountingFactory
}

func (c *countingConn) Read(b []byte) (int, error) {
	c.factory.Reads.Add(1)
	return c.Conn.Read(b)
}

func (c *countingConn) Write(b []byte) (int, error) {
	c.factory.Writes.Add(1)
	return c.Conn.Write(b)
}
