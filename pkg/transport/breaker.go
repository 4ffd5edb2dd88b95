package transport

import (
	"context"
	"net"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/sony/gobreaker/v2"
)

// BreakerSocketFactory stops dialing a server that keeps refusing
// connections. While the breaker is open CreateSocket fails with
// gobreaker.ErrOpenState without touching the network.
type BreakerSocketFactory struct {
	SocketFactory
	cb *gobreaker.CircuitBreaker[net.Conn]
}

func NewBreakerSocketFactory(inner SocketFactory, cfg *common.BreakerConfig) *BreakerSocketFactory {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	settings := gobreaker.Settings{
		Name:        inner.Description(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Socket circuit breaker state changed", "addr", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerSocketFactory{
		SocketFactory: inner,
		cb:            gobreaker.NewCircuitBreaker[net.Conn](settings),
	}
}

func (b *BreakerSocketFactory) CreateSocket(ctx context.Context) (net.Conn, error) {
	return b.cb.Execute(func() (net.Conn, error) {
		return b.SocketFactory.CreateSocket(ctx)
	})
}

func (b *BreakerSocketFactory) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerSocketFactory) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
