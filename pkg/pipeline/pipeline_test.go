package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/connection"
	"github.com/pzhenzhou/elika-client/pkg/fake_server"
	"github.com/pzhenzhou/elika-client/pkg/respio"
	"github.com/pzhenzhou/elika-client/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn answers GetMany from a scripted list of replies.
type fakeConn struct {
	sent         []string
	replies      []*respio.Reply
	getManyCalls int
	sendErr      error
	manyErr      error
}

func (f *fakeConn) SendCommand(cmd []byte, args ...[]byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, strings.Join(append([]string{string(cmd)}, respio.DecodeMany(args)...), " "))
	return nil
}

func (f *fakeConn) GetMany(n int) ([]connection.Result, error) {
	f.getManyCalls++
	if f.manyErr != nil {
		return nil, f.manyErr
	}
	results := make([]connection.Result, n)
	for i := range results {
		reply := f.replies[0]
		f.replies = f.replies[1:]
		results[i] = connection.Result{Reply: reply, Err: reply.Err()}
	}
	return results, nil
}

func TestPipeline_SyncWithNothingQueuedDoesNoIO(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn)
	require.NoError(t, p.Sync())
	values, err := p.SyncAndReturnAll()
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Zero(t, conn.getManyCalls)
}

func TestPipeline_OrderPreservation(t *testing.T) {
	for n := 1; n <= 20; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			conn := &fakeConn{}
			for i := 0; i < n; i++ {
				conn.replies = append(conn.replies, respio.IntReply(int64(i)))
			}
			p := New(conn)
			responses := make([]*Response[int64], n)
			for i := range responses {
				responses[i] = p.Incr(fmt.Sprintf("key-%d", i))
			}
			require.Equal(t, n, p.Pending())
			require.NoError(t, p.Sync())
			assert.Equal(t, 1, conn.getManyCalls)
			assert.Zero(t, p.Pending())
			for i, resp := range responses {
				v, err := resp.Get()
				require.NoError(t, err)
				assert.Equal(t, int64(i), v)
			}
		})
	}
}

func TestPipeline_GetBeforeSync(t *testing.T) {
	p := New(&fakeConn{replies: []*respio.Reply{respio.StatusReply("OK")}})
	resp := p.Set("k", "v")
	_, err := resp.Get()
	assert.Equal(t, ErrNotSynced, err)
	assert.True(t, common.IsUsageFault(err))

	require.NoError(t, p.Sync())
	v, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, "OK", v)
	// Cached.
	assert.Equal(t, "OK", resp.Val())
}

func TestPipeline_TransactionStateMachine(t *testing.T) {
	p := New(&fakeConn{})

	_, err := p.Exec()
	assert.Equal(t, ErrNoTransaction, err)
	_, err = p.Discard()
	assert.Equal(t, ErrNoTransaction, err)

	_, err = p.Multi()
	require.NoError(t, err)
	assert.True(t, p.IsInMulti())
	_, err = p.Multi()
	assert.Equal(t, ErrNestedTransaction, err)
	assert.True(t, common.IsUsageFault(err))

	_, err = p.Exec()
	require.NoError(t, err)
	assert.False(t, p.IsInMulti())
}

func TestPipeline_Exec(t *testing.T) {
	conn := &fakeConn{replies: []*respio.Reply{
		respio.StatusReply("OK"),
		respio.StatusReply("QUEUED"),
		respio.StatusReply("QUEUED"),
		respio.ArrayReply(respio.StatusReply("OK"), respio.StatusReply("OK")),
	}}
	p := New(conn)
	multi, err := p.Multi()
	require.NoError(t, err)
	setA := p.Set("a", "1")
	setB := p.Set("b", "2")
	exec, err := p.Exec()
	require.NoError(t, err)

	// MULTI, two QUEUED acks and EXEC.
	assert.Equal(t, 4, p.Pending())
	require.NoError(t, p.Sync())
	assert.Equal(t, []string{"MULTI", "SET a 1", "SET b 2", "EXEC"}, conn.sent)

	assert.Equal(t, "OK", multi.Val())
	values, err := exec.Get()
	require.NoError(t, err)
	assert.Equal(t, []any{"OK", "OK"}, values)
	assert.Equal(t, "OK", setA.Val())
	assert.Equal(t, "OK", setB.Val())
}

func TestPipeline_QueuedResponseBuildsExec(t *testing.T) {
	conn := &fakeConn{replies: []*respio.Reply{
		respio.StatusReply("OK"),
		respio.StatusReply("QUEUED"),
		respio.ArrayReply(respio.IntReply(5)),
	}}
	p := New(conn)
	_, err := p.Multi()
	require.NoError(t, err)
	incr := p.Incr("counter")
	_, err = p.Exec()
	require.NoError(t, err)

	_, err = incr.Get()
	assert.Equal(t, ErrNotSynced, err)

	require.NoError(t, p.Sync())
	// Read without touching the EXEC response first.
	v, err := incr.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestPipeline_ExecSizeMismatch(t *testing.T) {
	conn := &fakeConn{replies: []*respio.Reply{
		respio.StatusReply("OK"),
		respio.StatusReply("QUEUED"),
		respio.StatusReply("QUEUED"),
		respio.ArrayReply(respio.StatusReply("OK")),
	}}
	p := New(conn)
	_, _ = p.Multi()
	setA := p.Set("a", "1")
	p.Set("b", "2")
	exec, _ := p.Exec()
	require.NoError(t, p.Sync())

	_, err := exec.Get()
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, ErrDataSize))
	assert.True(t, common.IsDataFault(err))

	_, err = setA.Get()
	assert.True(t, errorx.IsOfType(err, ErrDataSize))
}

func TestPipeline_ExecCapturesSlotErrors(t *testing.T) {
	conn := &fakeConn{replies: []*respio.Reply{
		respio.StatusReply("OK"),
		respio.StatusReply("QUEUED"),
		respio.StatusReply("QUEUED"),
		respio.ArrayReply(
			respio.StatusReply("OK"),
			respio.ErrorReply("WRONGTYPE Operation against a key holding the wrong kind of value"),
		),
	}}
	p := New(conn)
	_, _ = p.Multi()
	set := p.Set("k", "v")
	incr := p.Incr("k")
	exec, _ := p.Exec()
	require.NoError(t, p.Sync())

	values, err := exec.Get()
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "OK", values[0])
	slotErr, ok := values[1].(error)
	require.True(t, ok)
	assert.True(t, common.IsServerError(slotErr))

	assert.Equal(t, "OK", set.Val())
	_, err = incr.Get()
	assert.Equal(t, "WRONGTYPE", common.ServerErrorClass(err))
}

func TestPipeline_ExecAbortedByWatch(t *testing.T) {
	conn := &fakeConn{replies: []*respio.Reply{
		respio.StatusReply("OK"),
		respio.StatusReply("OK"),
		respio.StatusReply("QUEUED"),
		respio.NullArrayReply(),
	}}
	p := New(conn)
	p.Watch("k")
	_, _ = p.Multi()
	set := p.Set("k", "v")
	exec, _ := p.Exec()
	require.NoError(t, p.Sync())

	_, err := exec.Get()
	assert.Equal(t, ErrTransactionAborted, err)
	_, err = set.Get()
	assert.Equal(t, ErrTransactionAborted, err)
}

func TestPipeline_DiscardAndClear(t *testing.T) {
	conn := &fakeConn{replies: []*respio.Reply{
		respio.StatusReply("OK"),
		respio.StatusReply("QUEUED"),
		respio.StatusReply("OK"),
	}}
	p := New(conn)
	_, _ = p.Multi()
	set := p.Set("k", "v")
	require.NoError(t, p.Clear())

	assert.Equal(t, []string{"MULTI", "SET k v", "DISCARD"}, conn.sent)
	assert.False(t, p.IsInMulti())
	_, err := set.Get()
	assert.Equal(t, ErrDiscarded, err)
}

func TestPipeline_SyncAndReturnAll(t *testing.T) {
	conn := &fakeConn{replies: []*respio.Reply{
		respio.ErrorReply("ERR value is not an integer or out of range"),
		respio.StatusReply("OK"),
		respio.NullBulkReply(),
	}}
	p := New(conn)
	incr := p.Incr("k")
	p.Set("k", "v")
	p.Get("missing")

	values, err := p.SyncAndReturnAll()
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.True(t, common.IsServerError(values[0].(error)))
	assert.Equal(t, "OK", values[1])
	assert.ErrorIs(t, values[2].(error), common.ErrNil)
	assert.True(t, common.IsServerError(incr.Err()))
}

func TestPipeline_ConnectionFaultFillsEveryResponse(t *testing.T) {
	fault := common.ConnectionFault.New("read failed")
	p := New(&fakeConn{manyErr: fault})
	a := p.Incr("a")
	b := p.Incr("b")

	assert.Equal(t, fault, p.Sync())
	assert.Equal(t, fault, a.Err())
	assert.Equal(t, fault, b.Err())
	assert.Zero(t, p.Pending())
}

func TestPipeline_SendFailureSurfacesOnSync(t *testing.T) {
	fault := common.ConnectionFault.New("write failed")
	p := New(&fakeConn{sendErr: fault})
	resp := p.Incr("a")
	assert.Equal(t, fault, resp.Err())
	assert.Equal(t, fault, p.Sync())
	require.NoError(t, p.Sync())
}

func TestPipeline_OneRoundTrip(t *testing.T) {
	var counter atomic.Int64
	srv, err := fake_server.NewScriptedServer(func(args [][]byte) []*respio.Reply {
		if strings.EqualFold(string(args[0]), "INCR") {
			return []*respio.Reply{respio.IntReply(counter.Add(1))}
		}
		return []*respio.Reply{respio.ErrorReply("ERR unknown command")}
	})
	require.NoError(t, err)
	defer srv.Close()

	factory := fake_server.NewCountingFactory(
		transport.NewDefaultSocketFactory(srv.Host(), srv.Port(), time.Second, time.Second))
	conn := connection.New(factory)
	defer conn.Close()
	require.NoError(t, conn.Connect(context.Background()))

	p := New(conn)
	r1 := p.Incr("counter")
	r2 := p.Incr("counter")
	r3 := p.Incr("counter")
	assert.Zero(t, factory.Writes.Load())
	require.NoError(t, p.Sync())
	assert.Equal(t, int64(1), factory.Writes.Load())

	assert.Equal(t, int64(1), r1.Val())
	assert.Equal(t, int64(2), r2.Val())
	assert.Equal(t, int64(3), r3.Val())
}

func TestBuilders(t *testing.T) {
	m, err := StringMap(respio.ArrayReply(
		respio.BulkStringReply("f1"), respio.BulkStringReply("v1"),
		respio.BulkStringReply("f2"), respio.BulkStringReply("v2"),
	))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, m)

	_, err = StringMap(respio.ArrayReply(respio.BulkStringReply("f1")))
	assert.True(t, common.IsDataFault(err))

	s, err := StringOrNil(respio.NullBulkReply())
	require.NoError(t, err)
	assert.Nil(t, s)

	f, err := Float64(respio.BulkStringReply("3.5"))
	require.NoError(t, err)
	assert.Equal(t, 3.5, f)

	ok, err := Bool(respio.IntReply(1))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Int64(respio.ArrayReply())
	assert.True(t, common.IsDataFault(err))

	v, err := Any(respio.ArrayReply(respio.IntReply(1), respio.NullBulkReply(), respio.ArrayReply(respio.StatusReply("OK"))))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), nil, []any{"OK"}}, v)
}
