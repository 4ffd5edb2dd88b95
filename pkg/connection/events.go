package connection

import "fmt"

// LogKind is a lifecycle event of a Connection.
type LogKind int

const (
	LogConnecting LogKind = iota
	LogConnected
	LogConnectFailed
	LogBroken
	LogDisconnected
)

func (k LogKind) String() string {
	switch k {
	case LogConnecting:
		return "connecting"
	case LogConnected:
		return "connected"
	case LogConnectFailed:
		return "connect_failed"
	case LogBroken:
		return "broken"
	case LogDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// report logs a lifecycle event. v carries event specific values: the local
// and remote addresses for LogConnected, the cause for LogConnectFailed and
// LogBroken.
func (c *Connection) report(event LogKind, v ...any) {
	switch event {
	case LogConnecting:
		logger.V(1).Info("Connecting", "Id", c.id, "Addr", c.factory.Description())
	case LogConnected:
		logger.Info("Connected", "Id", c.id, "Addr", c.factory.Description(),
			"LocalAddr", v[0], "RemoteAddr", v[1])
	case LogConnectFailed:
		logger.Error(v[0].(error), "Connect failed", "Id", c.id, "Addr", c.factory.Description())
	case LogBroken:
		logger.Error(v[0].(error), "Connection broken", "Id", c.id, "Addr", c.factory.Description())
	case LogDisconnected:
		logger.Info("Disconnected", "Id", c.id, "Addr", c.factory.Description(),
			"Age", v[0])
	default:
		logger.Info("Unexpected connection event", "Event", event, "Id", c.id)
	}
}
