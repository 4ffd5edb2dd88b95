package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	IllegalStateError = errors.New("illegal state. unexpected read from socket")
)

// CheckConn probes an idle socket without blocking. It fails when the peer
// has closed the connection, and on plain TCP also when unread bytes are
// pending, which means a previous borrower left a reply behind.
//
// On TLS the probe runs on the underlying socket. Pending bytes there may be
// protocol records such as session tickets rather than a reply, so only a
// closed peer is reported and stream alignment is left to the caller's PING.
func CheckConn(conn net.Conn) error {
	_ = conn.SetDeadline(time.Time{})
	if tlsConn, ok := conn.(*tls.Conn); ok {
		err := probe(tlsConn.NetConn())
		if err == IllegalStateError {
			return nil
		}
		return err
	}
	return probe(conn)
}

func probe(conn net.Conn) error {
	sysConn, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	rawConn, err := sysConn.SyscallConn()
	if err != nil {
		return err
	}
	var state error
	readErr := rawConn.Read(func(fd uintptr) bool {
		var one [1]byte
		n, _, err := unix.Recvfrom(int(fd), one[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case n > 0:
			state = IllegalStateError
		case err == nil:
			state = io.EOF
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			state = nil
		default:
			state = err
		}
		return true
	})
	if readErr != nil {
		return readErr
	}
	return state
}
