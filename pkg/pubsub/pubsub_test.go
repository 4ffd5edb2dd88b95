package pubsub

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/connection"
	"github.com/pzhenzhou/elika-client/pkg/fake_server"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/pzhenzhou/elika-client/pkg/transport"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder logs every callback and runs the optional hooks after logging.
type recorder struct {
	BaseListener
	events      []string
	counts      []int64
	ps          *PubSub
	afterSub    func(r *recorder, channel string, n int64)
	afterMsg    func(r *recorder, channel, msg string)
	afterPong   func(r *recorder, payload string)
	afterPMsg   func(r *recorder, pattern, channel, msg string)
	countChecks []bool
}

func (r *recorder) ack(kind, topic string, n int64) {
	r.events = append(r.events, fmt.Sprintf("%s %s %d", kind, topic, n))
	r.counts = append(r.counts, n)
	r.countChecks = append(r.countChecks, r.ps.SubscribedChannels() == n)
}

func (r *recorder) OnSubscribe(channel string, n int64) {
	r.ack("subscribe", channel, n)
	if r.afterSub != nil {
		r.afterSub(r, channel, n)
	}
}

func (r *recorder) OnUnsubscribe(channel string, n int64) {
	r.ack("unsubscribe", channel, n)
}

func (r *recorder) OnPSubscribe(pattern string, n int64) {
	r.ack("psubscribe", pattern, n)
}

func (r *recorder) OnPUnsubscribe(pattern string, n int64) {
	r.ack("punsubscribe", pattern, n)
}

func (r *recorder) OnMessage(channel, msg string) {
	r.events = append(r.events, fmt.Sprintf("message %s %s", channel, msg))
	if r.afterMsg != nil {
		r.afterMsg(r, channel, msg)
	}
}

func (r *recorder) OnPMessage(pattern, channel, msg string) {
	r.events = append(r.events, fmt.Sprintf("pmessage %s %s %s", pattern, channel, msg))
	if r.afterPMsg != nil {
		r.afterPMsg(r, pattern, channel, msg)
	}
}

func (r *recorder) OnPong(payload string) {
	r.events = append(r.events, "pong "+payload)
	if r.afterPong != nil {
		r.afterPong(r, payload)
	}
}

func frame(items ...any) *respio.Reply {
	return respio.ArrayReply(lo.Map(items, func(item any, _ int) *respio.Reply {
		if n, ok := item.(int); ok {
			return respio.IntReply(int64(n))
		}
		return respio.BulkStringReply(item.(string))
	})...)
}

// subscriptionServer tracks channels and patterns per connection the way a
// server would and pushes a message after each subscribe when push is set.
func subscriptionServer(push map[string]string) fake_server.Handler {
	channels := map[string]bool{}
	patterns := map[string]bool{}
	count := func() int { return len(channels) + len(patterns) }
	return func(args [][]byte) []*respio.Reply {
		names := respio.DecodeMany(args[1:])
		var replies []*respio.Reply
		switch strings.ToUpper(string(args[0])) {
		case "SUBSCRIBE":
			for _, ch := range names {
				channels[ch] = true
				replies = append(replies, frame("subscribe", ch, count()))
				if msg, ok := push[ch]; ok {
					replies = append(replies, frame("message", ch, msg))
				}
			}
		case "PSUBSCRIBE":
			for _, pat := range names {
				patterns[pat] = true
				replies = append(replies, frame("psubscribe", pat, count()))
				if msg, ok := push[pat]; ok {
					replies = append(replies, frame("pmessage", pat, strings.TrimSuffix(pat, "*")+"1", msg))
				}
			}
		case "UNSUBSCRIBE":
			if len(names) == 0 {
				names = lo.Keys(channels)
			}
			for _, ch := range names {
				delete(channels, ch)
				replies = append(replies, frame("unsubscribe", ch, count()))
			}
		case "PUNSUBSCRIBE":
			if len(names) == 0 {
				names = lo.Keys(patterns)
			}
			for _, pat := range names {
				delete(patterns, pat)
				replies = append(replies, frame("punsubscribe", pat, count()))
			}
		case "PING":
			payload := ""
			if len(names) > 0 {
				payload = names[0]
			}
			replies = append(replies, frame("pong", payload))
		default:
			replies = append(replies, respio.ErrorReply("ERR only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"))
		}
		return replies
	}
}

func dial(t *testing.T, handler fake_server.Handler) *connection.Connection {
	srv, err := fake_server.NewScriptedServer(handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	conn := connection.New(transport.NewDefaultSocketFactory(srv.Host(), srv.Port(), time.Second, time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPubSub_MessageThenUnsubscribe(t *testing.T) {
	conn := dial(t, subscriptionServer(map[string]string{"ch": "hello"}))
	rec := &recorder{}
	ps := New(rec)
	rec.ps = ps
	rec.afterMsg = func(r *recorder, channel, msg string) {
		require.NoError(t, r.ps.Unsubscribe(channel))
	}

	require.NoError(t, ps.Proceed(context.Background(), conn, "ch"))
	assert.Equal(t, []string{"subscribe ch 1", "message ch hello", "unsubscribe ch 0"}, rec.events)
	assert.False(t, ps.IsSubscribed())
	assert.False(t, conn.IsBroken())

	// Detached once the loop returned.
	assert.Equal(t, ErrNotSubscribed, ps.Subscribe("ch"))
}

func TestPubSub_CountConservation(t *testing.T) {
	conn := dial(t, subscriptionServer(nil))
	rec := &recorder{}
	ps := New(rec)
	rec.ps = ps
	rec.afterSub = func(r *recorder, channel string, n int64) {
		switch channel {
		case "c":
			require.NoError(t, r.ps.PSubscribe("news.*"))
			require.NoError(t, r.ps.Unsubscribe("a"))
			require.NoError(t, r.ps.Unsubscribe())
			require.NoError(t, r.ps.PUnsubscribe())
		}
	}

	require.NoError(t, ps.Proceed(context.Background(), conn, "a", "b", "c"))
	assert.Equal(t, []int64{1, 2, 3, 4, 3, 2, 1, 0}, rec.counts)
	for i, ok := range rec.countChecks {
		assert.True(t, ok, "count mismatch at event %d: %s", i, rec.events[i])
	}
	assert.Zero(t, ps.SubscribedChannels())
}

func TestPubSub_PatternsAndPing(t *testing.T) {
	conn := dial(t, subscriptionServer(map[string]string{"news.*": "breaking"}))
	rec := &recorder{}
	ps := New(rec)
	rec.ps = ps
	rec.afterPMsg = func(r *recorder, pattern, channel, msg string) {
		require.NoError(t, r.ps.Ping("alive"))
	}
	rec.afterPong = func(r *recorder, payload string) {
		require.NoError(t, r.ps.PUnsubscribe("news.*"))
	}

	require.NoError(t, ps.ProceedWithPatterns(context.Background(), conn, "news.*"))
	assert.Equal(t, []string{
		"psubscribe news.* 1",
		"pmessage news.* news.1 breaking",
		"pong alive",
		"punsubscribe news.* 0",
	}, rec.events)
}

func TestPubSub_UsageFaultsBeforeAttach(t *testing.T) {
	ps := New(BaseListener{})
	for name, call := range map[string]func() error{
		"subscribe":    func() error { return ps.Subscribe("ch") },
		"unsubscribe":  func() error { return ps.Unsubscribe() },
		"psubscribe":   func() error { return ps.PSubscribe("p*") },
		"punsubscribe": func() error { return ps.PUnsubscribe("p*") },
		"ping":         func() error { return ps.Ping() },
	} {
		t.Run(name, func(t *testing.T) {
			err := call()
			assert.Equal(t, ErrNotSubscribed, err)
			assert.True(t, common.IsUsageFault(err))
		})
	}
	assert.Equal(t, ErrNoTopics, ps.Proceed(context.Background(), nil))
}

func TestPubSub_UnknownTagIsProtocolFault(t *testing.T) {
	conn := dial(t, func(args [][]byte) []*respio.Reply {
		return []*respio.Reply{frame("subscribe", "ch", 1), frame("smessage", "ch", "x")}
	})
	ps := New(BaseListener{})

	err := ps.Proceed(context.Background(), conn, "ch")
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, ErrUnknownPubSubMessage))
	assert.True(t, common.IsProtocolFault(err))
	assert.True(t, conn.IsBroken())
	assert.False(t, ps.IsSubscribed())
	assert.Equal(t, ErrNotSubscribed, ps.Ping())
}

func TestPubSub_ServerErrorEndsLoop(t *testing.T) {
	conn := dial(t, func(args [][]byte) []*respio.Reply {
		return []*respio.Reply{respio.ErrorReply("NOPERM this user has no permissions to access the 'ch' channel")}
	})
	err := New(BaseListener{}).Proceed(context.Background(), conn, "ch")
	require.Error(t, err)
	assert.Equal(t, "NOPERM", common.ServerErrorClass(err))
	assert.False(t, conn.IsBroken(), "nothing was subscribed, the connection stays usable")
}

func TestPubSub_ServerErrorWhileSubscribedBreaks(t *testing.T) {
	conn := dial(t, func(args [][]byte) []*respio.Reply {
		channel := string(args[1])
		if channel == "denied" {
			return []*respio.Reply{respio.ErrorReply("NOPERM this user has no permissions to access the 'denied' channel")}
		}
		return []*respio.Reply{frame("subscribe", channel, 1)}
	})
	rec := &recorder{}
	ps := New(rec)
	rec.ps = ps
	rec.afterSub = func(r *recorder, channel string, n int64) {
		require.NoError(t, r.ps.Subscribe("denied"))
	}

	err := ps.Proceed(context.Background(), conn, "a")
	require.Error(t, err)
	assert.Equal(t, "NOPERM", common.ServerErrorClass(err))
	assert.Equal(t, []string{"subscribe a 1"}, rec.events)
	assert.True(t, conn.IsBroken())
	assert.False(t, ps.IsSubscribed())
}

func TestPubSub_ContextCancellation(t *testing.T) {
	conn := dial(t, subscriptionServer(nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	ps := New(rec)
	rec.ps = ps
	rec.afterSub = func(*recorder, string, int64) {
		cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- ps.Proceed(ctx, conn, "ch")
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Proceed did not return after cancellation")
	}
	assert.True(t, conn.IsBroken())
	assert.False(t, ps.IsSubscribed())
}

func TestPubSub_ProceedTwice(t *testing.T) {
	conn := dial(t, subscriptionServer(nil))
	rec := &recorder{}
	ps := New(rec)
	rec.ps = ps
	rec.afterSub = func(r *recorder, channel string, n int64) {
		assert.Equal(t, ErrAlreadySubscribed, r.ps.Proceed(context.Background(), conn, "other"))
		require.NoError(t, r.ps.Unsubscribe())
	}
	require.NoError(t, ps.Proceed(context.Background(), conn, "ch"))
}
