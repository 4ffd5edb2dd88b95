package common

import (
	"errors"
	"strings"

	"github.com/joomcode/errorx"
)

// ErrNil is returned by typed accessors when the server replied with a null
// bulk string or null array.
var ErrNil = errors.New("elika: nil reply")

var (
	Errors = errorx.NewNamespace("elika")

	// ConnectionFault is a transport failure or wire corruption. The
	// connection that produced it is broken.
	ConnectionFault = Errors.NewType("connection")
	// ProtocolFault is a reply that could not be decoded.
	ProtocolFault = ConnectionFault.NewSubtype("protocol")
	// ServerError is a well-formed error reply. The connection stays usable.
	ServerError = Errors.NewType("server")
	// UsageFault is a call that violates the client's state machine.
	UsageFault = Errors.NewType("usage")
	// DataFault is a reply whose shape does not match what the caller expected.
	DataFault     = Errors.NewType("data")
	PoolExhausted = Errors.NewType("pool_exhausted")
	PoolFault     = Errors.NewType("pool")

	// PropAddress is the target address of the connection that failed.
	PropAddress = errorx.RegisterProperty("address")
	// PropClass is the error class of a server reply, e.g. WRONGTYPE.
	PropClass = errorx.RegisterProperty("class")
)

// NewServerError builds a ServerError from the text of an error reply.
func NewServerError(msg string) *errorx.Error {
	err := ServerError.New(msg)
	if class := errorClass(msg); class != "" {
		err = err.WithProperty(PropClass, class)
	}
	return err
}

func errorClass(msg string) string {
	word := msg
	if idx := strings.IndexByte(msg, ' '); idx > 0 {
		word = msg[:idx]
	}
	if word == "" || strings.ToUpper(word) != word {
		return ""
	}
	return word
}

// ServerErrorClass returns the class of a server error, or "" if err is not
// one or has no class.
func ServerErrorClass(err error) string {
	if !IsServerError(err) {
		return ""
	}
	if class, ok := errorx.Cast(err).Property(PropClass); ok {
		if s, ok := class.(string); ok {
			return s
		}
	}
	return ""
}

// ErrorAddress returns the address property attached to a connection fault.
func ErrorAddress(err error) string {
	e := errorx.Cast(err)
	if e == nil {
		return ""
	}
	if addr, ok := e.Property(PropAddress); ok {
		if s, ok := addr.(string); ok {
			return s
		}
	}
	return ""
}

func IsConnectionFault(err error) bool {
	return errorx.IsOfType(err, ConnectionFault)
}

func IsProtocolFault(err error) bool {
	return errorx.IsOfType(err, ProtocolFault)
}

func IsServerError(err error) bool {
	return errorx.IsOfType(err, ServerError)
}

func IsUsageFault(err error) bool {
	return errorx.IsOfType(err, UsageFault)
}

func IsDataFault(err error) bool {
	return errorx.IsOfType(err, DataFault)
}

func IsPoolExhausted(err error) bool {
	return errorx.IsOfType(err, PoolExhausted)
}

func IsPoolFault(err error) bool {
	return errorx.IsOfType(err, PoolFault)
}

// ErrorKind names the class of err for metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsProtocolFault(err):
		return "protocol"
	case IsConnectionFault(err):
		return "connection"
	case IsServerError(err):
		return "server"
	case IsUsageFault(err):
		return "usage"
	case IsDataFault(err):
		return "data"
	case IsPoolExhausted(err):
		return "pool_exhausted"
	case IsPoolFault(err):
		return "pool"
	default:
		return "other"
	}
}
