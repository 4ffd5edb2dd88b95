package pubsub

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("pubsub")
)

var (
	subscribeCmd    = []byte("SUBSCRIBE")
	unsubscribeCmd  = []byte("UNSUBSCRIBE")
	psubscribeCmd   = []byte("PSUBSCRIBE")
	punsubscribeCmd = []byte("PUNSUBSCRIBE")
)

const (
	tagSubscribe    = "subscribe"
	tagUnsubscribe  = "unsubscribe"
	tagMessage      = "message"
	tagPMessage     = "pmessage"
	tagPSubscribe   = "psubscribe"
	tagPUnsubscribe = "punsubscribe"
	tagPong         = "pong"
)

var (
	ErrNotSubscribed     = common.UsageFault.New("not subscribed, call Proceed first")
	ErrAlreadySubscribed = common.UsageFault.New("the dispatcher is already running on a connection")
	ErrNoTopics          = common.UsageFault.New("at least one channel or pattern is required")
	// ErrUnknownPubSubMessage is the type of faults raised for a frame the
	// dispatcher cannot interpret.
	ErrUnknownPubSubMessage = common.ProtocolFault.NewSubtype("pubsub")
)

// Conn is the part of a connection the dispatcher drives.
type Conn interface {
	SendCommand(cmd []byte, args ...[]byte) error
	Flush() error
	GetUnflushedObjectMultiBulkReply() ([]*respio.Reply, error)
	SetTimeoutInfinite() error
	RollbackTimeout() error
	SetBroken()
	Interrupt() error
}

// PubSub demultiplexes subscription frames read from one connection to a
// Listener. The loop runs while at least one channel or pattern is
// subscribed; the count only changes when the server acknowledges.
type PubSub struct {
	listener Listener
	// mu serializes control writes, which may come from any goroutine while
	// the loop reads.
	mu    sync.Mutex
	conn  Conn
	count atomic.Int64
}

func New(listener Listener) *PubSub {
	return &PubSub{listener: listener}
}

// Proceed subscribes to channels on conn and dispatches frames until every
// subscription is gone, an error occurs or ctx is done. Cancelling ctx closes
// the transport, which leaves conn broken.
func (p *PubSub) Proceed(ctx context.Context, conn Conn, channels ...string) error {
	return p.proceed(ctx, conn, subscribeCmd, channels)
}

// ProceedWithPatterns is Proceed for PSUBSCRIBE patterns.
func (p *PubSub) ProceedWithPatterns(ctx context.Context, conn Conn, patterns ...string) error {
	return p.proceed(ctx, conn, psubscribeCmd, patterns)
}

func (p *PubSub) proceed(ctx context.Context, conn Conn, cmd []byte, topics []string) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}
	if err := p.attach(conn); err != nil {
		return err
	}
	defer p.detach()

	if err := conn.SetTimeoutInfinite(); err != nil {
		return err
	}
	defer func() {
		_ = conn.RollbackTimeout()
	}()

	if err := p.send(cmd, topics); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Interrupt()
	})
	defer stop()

	err := p.process(conn)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		logger.Error(err, "PubSub loop terminated", "Subscribed", p.count.Load())
	}
	return err
}

func (p *PubSub) Subscribe(channels ...string) error {
	if len(channels) == 0 {
		return ErrNoTopics
	}
	return p.send(subscribeCmd, channels)
}

// Unsubscribe from channels, or from every channel when none are given.
func (p *PubSub) Unsubscribe(channels ...string) error {
	return p.send(unsubscribeCmd, channels)
}

func (p *PubSub) PSubscribe(patterns ...string) error {
	if len(patterns) == 0 {
		return ErrNoTopics
	}
	return p.send(psubscribeCmd, patterns)
}

// PUnsubscribe from patterns, or from every pattern when none are given.
func (p *PubSub) PUnsubscribe(patterns ...string) error {
	return p.send(punsubscribeCmd, patterns)
}

// Ping asks the server for a pong frame, with an optional payload.
func (p *PubSub) Ping(payload ...string) error {
	return p.send(respio.PingCmd, payload[:min(len(payload), 1)])
}

func (p *PubSub) IsSubscribed() bool {
	return p.count.Load() > 0
}

// SubscribedChannels is the channel and pattern count last acknowledged.
func (p *PubSub) SubscribedChannels() int64 {
	return p.count.Load()
}

func (p *PubSub) attach(conn Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return ErrAlreadySubscribed
	}
	p.conn = conn
	return nil
}

func (p *PubSub) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = nil
	p.count.Store(0)
}

func (p *PubSub) send(cmd []byte, topics []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrNotSubscribed
	}
	if err := p.conn.SendCommand(cmd, respio.EncodeMany(topics...)...); err != nil {
		return err
	}
	return p.conn.Flush()
}

func (p *PubSub) process(conn Conn) error {
	for {
		frame, err := conn.GetUnflushedObjectMultiBulkReply()
		if err != nil {
			// The server still pushes to a connection with live
			// subscriptions, so it can not serve normal commands again.
			if p.count.Load() > 0 {
				conn.SetBroken()
			}
			return err
		}
		if err := p.dispatch(frame); err != nil {
			conn.SetBroken()
			return err
		}
		if p.count.Load() == 0 {
			return nil
		}
	}
}

func (p *PubSub) dispatch(frame []*respio.Reply) error {
	if len(frame) == 0 {
		return ErrUnknownPubSubMessage.New("empty pubsub frame")
	}
	tag := strings.ToLower(frame[0].Text())
	switch tag {
	case tagSubscribe, tagUnsubscribe, tagPSubscribe, tagPUnsubscribe:
		if len(frame) != 3 || frame[2].Kind != respio.KindInteger {
			return ErrUnknownPubSubMessage.New("malformed %s frame", tag)
		}
		topic, count := frame[1].Text(), frame[2].Int
		p.count.Store(count)
		switch tag {
		case tagSubscribe:
			p.listener.OnSubscribe(topic, count)
		case tagUnsubscribe:
			p.listener.OnUnsubscribe(topic, count)
		case tagPSubscribe:
			p.listener.OnPSubscribe(topic, count)
		default:
			p.listener.OnPUnsubscribe(topic, count)
		}
	case tagMessage:
		if len(frame) != 3 {
			return ErrUnknownPubSubMessage.New("malformed message frame")
		}
		p.listener.OnMessage(frame[1].Text(), frame[2].Text())
	case tagPMessage:
		if len(frame) != 4 {
			return ErrUnknownPubSubMessage.New("malformed pmessage frame")
		}
		p.listener.OnPMessage(frame[1].Text(), frame[2].Text(), frame[3].Text())
	case tagPong:
		var payload string
		if len(frame) > 1 {
			payload = frame[1].Text()
		}
		p.listener.OnPong(payload)
	default:
		return ErrUnknownPubSubMessage.New("unknown pubsub message: %q", tag)
	}
	return nil
}
