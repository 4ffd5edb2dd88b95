package connection

import (
	"context"
	"net"
	"time"

	"github.com/joomcode/errorx"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/pzhenzhou/elika-client/pkg/transport"
	"go.uber.org/multierr"
)

var (
	logger = common.InitLogger().WithName("connection")
	// errorLineTimeout bounds the best-effort read of a server reason after a
	// failed write.
	errorLineTimeout = 100 * time.Millisecond
)

var (
	// ErrBrokenConnection is returned by every operation on a broken
	// connection. No I/O is attempted.
	ErrBrokenConnection = common.ConnectionFault.New("attempting to read from a broken connection")
	ErrNotConnected     = common.UsageFault.New("connection is not established")
)

// Result is one slot of a batched read. Err holds the server error of an
// error reply or the fault that prevented the slot from being read.
type Result struct {
	Reply *respio.Reply
	Err   error
}

// Connection owns one transport session and provides ordered command and
// reply primitives. It is not safe for concurrent use; a pool hands each
// instance to one borrower at a time.
type Connection struct {
	id       string
	factory  transport.SocketFactory
	conn     net.Conn
	reader   *respio.Reader
	writer   *respio.Writer
	broken   bool
	infinite bool
	created  time.Time
}

func New(factory transport.SocketFactory) *Connection {
	return &Connection{
		id:      shortuuid.New(),
		factory: factory,
		created: time.Now(),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// Description is the target address, host:port.
func (c *Connection) Description() string {
	return c.factory.Description()
}

func (c *Connection) Created() time.Time {
	return c.created
}

func (c *Connection) IsConnected() bool {
	return c.conn != nil
}

func (c *Connection) IsBroken() bool {
	return c.broken
}

// SetBroken marks the connection unusable. Callers use it when they abandon
// a connection halfway through a reply.
func (c *Connection) SetBroken() {
	c.broken = true
}

// Buffered reports bytes that were written but not flushed plus bytes that
// were received but not consumed. A connection with buffered data must not be
// handed to another caller.
func (c *Connection) Buffered() int {
	if c.conn == nil {
		return 0
	}
	return c.writer.Buffered() + c.reader.Buffered()
}

// Connect dials through the socket factory. It is a no-op when connected.
func (c *Connection) Connect(ctx context.Context) error {
	if c.broken {
		return ErrBrokenConnection
	}
	if c.conn != nil {
		return nil
	}
	c.report(LogConnecting)
	sock, err := c.factory.CreateSocket(ctx)
	if err != nil {
		c.broken = true
		c.report(LogConnectFailed, err)
		return c.fault(err, "failed to connect to %s", c.Description())
	}
	c.conn = sock
	if c.reader == nil {
		c.reader = respio.NewReader(sock)
		c.writer = respio.NewWriter(sock)
	} else {
		c.reader.Reset(sock)
		c.writer.Reset(sock)
	}
	c.report(LogConnected, sock.LocalAddr().String(), sock.RemoteAddr().String())
	return nil
}

// Initialize runs the handshake described by cfg: AUTH, SELECT and
// CLIENT SETNAME, each only when configured.
func (c *Connection) Initialize(ctx context.Context, cfg *common.ConnConfig) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if auth := cfg.AuthInfo(); auth != nil {
		if err := c.SendCommand(respio.AuthCmd, auth.Args()...); err != nil {
			return err
		}
		if _, err := c.GetStatusCodeReply(); err != nil {
			logger.Error(err, "Auth failed", "Id", c.id, "Auth", auth.String())
			return err
		}
	}
	if cfg.Database != 0 {
		if err := c.SendCommand(respio.SelectCmd, respio.EncodeInt(int64(cfg.Database))); err != nil {
			return err
		}
		if _, err := c.GetStatusCodeReply(); err != nil {
			return err
		}
	}
	if cfg.ClientName != "" {
		if err := c.SendCommand(respio.ClientCmd, []byte("SETNAME"), []byte(cfg.ClientName)); err != nil {
			return err
		}
		if _, err := c.GetStatusCodeReply(); err != nil {
			return err
		}
	}
	return nil
}

// SendCommand encodes a command into the output buffer, connecting first if
// needed. Nothing is guaranteed to reach the server before Flush.
func (c *Connection) SendCommand(cmd []byte, args ...[]byte) error {
	if c.broken {
		return ErrBrokenConnection
	}
	if err := c.Connect(context.Background()); err != nil {
		return err
	}
	c.applyWriteDeadline()
	if err := c.writer.WriteCommand(cmd, args...); err != nil {
		// The server may have explained why it dropped us, e.g. maxclients.
		reason := c.readErrorLine()
		c.setBroken(err)
		if reason != "" {
			return c.fault(err, "server replied: %s", reason)
		}
		return c.fault(err, "failed to write %s to %s", cmd, c.Description())
	}
	return nil
}

// Flush forces buffered output to the transport.
func (c *Connection) Flush() error {
	if c.broken {
		return ErrBrokenConnection
	}
	if c.conn == nil {
		return nil
	}
	c.applyWriteDeadline()
	if err := c.writer.Flush(); err != nil {
		c.setBroken(err)
		return c.fault(err, "failed to flush to %s", c.Description())
	}
	return nil
}

// GetStatusCodeReply returns the text of a status or bulk reply. A null bulk
// yields common.ErrNil.
func (c *Connection) GetStatusCodeReply() (string, error) {
	reply, err := c.flushAndRead()
	if err != nil {
		return "", err
	}
	switch reply.Kind {
	case respio.KindStatus:
		return string(reply.Str), nil
	case respio.KindBulk:
		if reply.Null {
			return "", common.ErrNil
		}
		return string(reply.Str), nil
	case respio.KindError:
		return "", reply.Err()
	default:
		return "", unexpected(reply, respio.KindStatus)
	}
}

// GetBulkReply returns a bulk reply as text. A null bulk yields common.ErrNil.
func (c *Connection) GetBulkReply() (string, error) {
	b, err := c.GetBinaryBulkReply()
	if err != nil {
		return "", err
	}
	if b == nil {
		return "", common.ErrNil
	}
	return string(b), nil
}

// GetBinaryBulkReply returns the payload of a bulk reply, nil for null.
// Status replies are accepted as well.
func (c *Connection) GetBinaryBulkReply() ([]byte, error) {
	reply, err := c.flushAndRead()
	if err != nil {
		return nil, err
	}
	switch reply.Kind {
	case respio.KindBulk, respio.KindStatus:
		if reply.Null {
			return nil, nil
		}
		return reply.Str, nil
	case respio.KindError:
		return nil, reply.Err()
	default:
		return nil, unexpected(reply, respio.KindBulk)
	}
}

func (c *Connection) GetIntegerReply() (int64, error) {
	reply, err := c.flushAndRead()
	if err != nil {
		return 0, err
	}
	switch reply.Kind {
	case respio.KindInteger:
		return reply.Int, nil
	case respio.KindBulk:
		if reply.Null {
			return 0, common.ErrNil
		}
		return 0, unexpected(reply, respio.KindInteger)
	case respio.KindError:
		return 0, reply.Err()
	default:
		return 0, unexpected(reply, respio.KindInteger)
	}
}

// GetMultiBulkReply returns an array of scalars as byte strings. A null
// array yields nil and a null element yields a nil entry.
func (c *Connection) GetMultiBulkReply() ([][]byte, error) {
	items, err := c.GetObjectMultiBulkReply()
	if err != nil || items == nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		switch item.Kind {
		case respio.KindBulk, respio.KindStatus:
			out[i] = item.Str
		case respio.KindInteger:
			out[i] = respio.EncodeInt(item.Int)
		case respio.KindError:
			return nil, item.Err()
		default:
			return nil, unexpected(item, respio.KindBulk)
		}
	}
	return out, nil
}

// GetObjectMultiBulkReply returns the elements of an array reply, nil for a
// null array.
func (c *Connection) GetObjectMultiBulkReply() ([]*respio.Reply, error) {
	if err := c.Flush(); err != nil {
		return nil, err
	}
	return c.GetUnflushedObjectMultiBulkReply()
}

// GetUnflushedObjectMultiBulkReply is GetObjectMultiBulkReply without the
// flush, for callers that already flushed.
func (c *Connection) GetUnflushedObjectMultiBulkReply() ([]*respio.Reply, error) {
	reply, err := c.readReply()
	if err != nil {
		return nil, err
	}
	switch reply.Kind {
	case respio.KindArray:
		return reply.Array, nil
	case respio.KindError:
		return nil, reply.Err()
	default:
		return nil, unexpected(reply, respio.KindArray)
	}
}

// GetOne flushes and returns the next reply of any shape. An error reply is
// returned as a server error.
func (c *Connection) GetOne() (*respio.Reply, error) {
	reply, err := c.flushAndRead()
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, reply.Err()
	}
	return reply, nil
}

// GetMany flushes and reads exactly n replies in order. A failed slot is
// captured in its Result and the remaining slots are still read, so one
// failed command does not lose the replies of the others. The returned error
// is only set when the flush fails.
func (c *Connection) GetMany(n int) ([]Result, error) {
	if err := c.Flush(); err != nil {
		return nil, err
	}
	results := make([]Result, n)
	for i := range results {
		reply, err := c.readReply()
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Reply = reply
		if reply.IsError() {
			results[i].Err = reply.Err()
		}
	}
	return results, nil
}

// Ping sends PING and expects PONG.
func (c *Connection) Ping() error {
	if err := c.SendCommand(respio.PingCmd); err != nil {
		return err
	}
	status, err := c.GetStatusCodeReply()
	if err != nil {
		return err
	}
	if status != string(respio.PongReply) {
		return common.DataFault.New("unexpected ping reply %q", status)
	}
	return nil
}

// Check probes an idle connection without consuming data. It fails when the
// peer closed the socket or sent unsolicited bytes.
func (c *Connection) Check() error {
	if c.broken {
		return ErrBrokenConnection
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	return transport.CheckConn(c.conn)
}

// SetTimeoutInfinite connects if needed and disables the read timeout until
// RollbackTimeout, for commands that block on the server.
func (c *Connection) SetTimeoutInfinite() error {
	if err := c.Connect(context.Background()); err != nil {
		return err
	}
	c.infinite = true
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		c.setBroken(err)
		return c.fault(err, "failed to clear read timeout")
	}
	return nil
}

// RollbackTimeout restores the configured read timeout.
func (c *Connection) RollbackTimeout() error {
	c.infinite = false
	if c.broken {
		return ErrBrokenConnection
	}
	return nil
}

// Interrupt closes the transport without touching the buffers. It is the one
// method that may be called from another goroutine, to unblock a read.
func (c *Connection) Interrupt() error {
	if conn := c.conn; conn != nil {
		return conn.Close()
	}
	return nil
}

// Disconnect flushes and closes the transport. The handle is released even
// when the flush fails.
func (c *Connection) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	var flushErr error
	if !c.broken {
		if flushErr = c.Flush(); flushErr != nil {
			c.broken = true
		}
	}
	closeErr := c.conn.Close()
	c.conn = nil
	c.report(LogDisconnected, time.Since(c.created).String())
	if closeErr != nil && !common.IsConnectionClosed(closeErr) {
		c.broken = true
		closeErr = c.fault(closeErr, "failed to close connection to %s", c.Description())
	} else {
		closeErr = nil
	}
	return multierr.Combine(flushErr, closeErr)
}

func (c *Connection) Close() error {
	return c.Disconnect()
}

func (c *Connection) flushAndRead() (*respio.Reply, error) {
	if err := c.Flush(); err != nil {
		return nil, err
	}
	return c.readReply()
}

// readReply decodes one reply. Any failure breaks the connection.
func (c *Connection) readReply() (*respio.Reply, error) {
	if c.broken {
		return nil, ErrBrokenConnection
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if !c.infinite {
		if timeout := c.factory.ReadTimeout(); timeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		}
	}
	reply, err := c.reader.Read()
	if err != nil {
		c.setBroken(err)
		if common.IsProtocolFault(err) {
			return nil, errorx.Cast(err).WithProperty(common.PropAddress, c.Description())
		}
		return nil, c.fault(err, "failed to read from %s", c.Description())
	}
	return reply, nil
}

// readErrorLine makes one short attempt to read an error reply. It swallows
// its own failures so the write fault is what the caller sees.
func (c *Connection) readErrorLine() string {
	if c.conn == nil {
		return ""
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(errorLineTimeout)); err != nil {
		return ""
	}
	return c.reader.ReadErrorLineIfPossible()
}

func (c *Connection) applyWriteDeadline() {
	if timeout := c.factory.ReadTimeout(); timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
}

func (c *Connection) setBroken(cause error) {
	if !c.broken {
		c.broken = true
		c.report(LogBroken, cause)
	}
}

func (c *Connection) fault(cause error, format string, args ...any) error {
	return common.ConnectionFault.Wrap(cause, format, args...).
		WithProperty(common.PropAddress, c.Description())
}

func unexpected(reply *respio.Reply, want respio.Kind) error {
	return common.DataFault.New("unexpected %s reply, expected %s", reply.Kind, want)
}
