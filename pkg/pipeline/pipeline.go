package pipeline

import (
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/connection"
	"github.com/pzhenzhou/elika-client/pkg/respio"
)

var (
	logger = common.InitLogger().WithName("pipeline")
)

var (
	ErrNestedTransaction  = common.UsageFault.New("MULTI calls can not be nested")
	ErrNoTransaction      = common.UsageFault.New("no transaction is open, call Multi first")
	ErrDiscarded          = common.UsageFault.New("the transaction was discarded")
	ErrTransactionAborted = common.DataFault.New("transaction aborted, a watched key was modified")
	// ErrDataSize is the type of faults raised when an EXEC reply does not
	// carry one element per queued command.
	ErrDataSize = common.DataFault.NewSubtype("size")
)

// Conn is the part of a connection a pipeline drives.
type Conn interface {
	SendCommand(cmd []byte, args ...[]byte) error
	GetMany(n int) ([]connection.Result, error)
}

type txState uint8

const (
	noTransaction txState = iota
	transactionOpen
)

func (s txState) String() string {
	if s == transactionOpen {
		return "transaction_open"
	}
	return "no_transaction"
}

// Pipeline queues commands without waiting for replies and reads all of them
// in one batch on Sync. Commands issued between Multi and Exec are registered
// in the transaction frame; the pipeline queue only sees their QUEUED acks.
type Pipeline struct {
	conn  Conn
	queue []deferred
	state txState
	frame []deferred
	// err is the first send failure since the last sync.
	err error
}

func New(conn Conn) *Pipeline {
	return &Pipeline{conn: conn}
}

// Enqueue sends cmd and returns a response that builder decodes after Sync.
func Enqueue[T any](p *Pipeline, builder Builder[T], cmd []byte, args ...[]byte) *Response[T] {
	resp := newResponse(builder)
	if err := p.conn.SendCommand(cmd, args...); err != nil {
		if p.err == nil {
			p.err = err
		}
		resp.set(nil, err)
		return resp
	}
	if p.state == transactionOpen {
		p.queue = append(p.queue, newResponse(Status))
		p.frame = append(p.frame, resp)
		return resp
	}
	p.queue = append(p.queue, resp)
	return resp
}

// IsInMulti reports whether a transaction frame is open.
func (p *Pipeline) IsInMulti() bool {
	return p.state == transactionOpen
}

// Pending is the number of responses the next Sync reads.
func (p *Pipeline) Pending() int {
	return len(p.queue)
}

// Multi opens a transaction frame. Frames do not nest.
func (p *Pipeline) Multi() (*Response[string], error) {
	if p.state == transactionOpen {
		return nil, ErrNestedTransaction
	}
	resp := Enqueue(p, Status, respio.MultiCmd)
	p.state = transactionOpen
	p.frame = nil
	return resp, nil
}

// Exec commits the open frame. The returned response builds to one value per
// queued command, holding the command's error in its slot when it failed.
// The responses returned while the frame was open are filled by it.
func (p *Pipeline) Exec() (*Response[[]any], error) {
	if p.state != transactionOpen {
		return nil, ErrNoTransaction
	}
	frame := p.frame
	p.state = noTransaction
	p.frame = nil

	resp := Enqueue(p, execBuilder(frame), respio.ExecCmd)
	for _, item := range frame {
		item.setDependency(resp)
	}
	return resp, nil
}

// Discard aborts the open frame. Responses of the discarded commands fail
// with ErrDiscarded.
func (p *Pipeline) Discard() (*Response[string], error) {
	if p.state != transactionOpen {
		return nil, ErrNoTransaction
	}
	for _, item := range p.frame {
		item.set(nil, ErrDiscarded)
	}
	p.state = noTransaction
	p.frame = nil
	return Enqueue(p, Status, respio.DiscardCmd), nil
}

// Sync reads the replies of every queued command in one batch and fills
// their responses in order. With nothing queued it does no I/O.
func (p *Pipeline) Sync() error {
	_, err := p.sync()
	return err
}

// SyncAndReturnAll is Sync followed by building every queued response. Each
// element is the decoded value or the error of its command.
func (p *Pipeline) SyncAndReturnAll() ([]any, error) {
	queue, err := p.sync()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(queue))
	for i, item := range queue {
		v, err := item.buildAny()
		if err != nil {
			values[i] = err
			continue
		}
		values[i] = v
	}
	return values, nil
}

// Clear discards an open frame and syncs, leaving the connection with no
// pending replies.
func (p *Pipeline) Clear() error {
	if p.state == transactionOpen {
		if _, err := p.Discard(); err != nil {
			return err
		}
	}
	return p.Sync()
}

func (p *Pipeline) Close() error {
	return p.Clear()
}

func (p *Pipeline) sync() ([]deferred, error) {
	queue := p.queue
	sendErr := p.err
	p.queue = nil
	p.err = nil
	if len(queue) == 0 {
		return queue, sendErr
	}
	results, err := p.conn.GetMany(len(queue))
	if err != nil {
		logger.Error(err, "Pipeline sync failed", "Pending", len(queue))
		for _, item := range queue {
			item.set(nil, err)
		}
		return nil, err
	}
	for i, item := range queue {
		item.set(results[i].Reply, results[i].Err)
	}
	return queue, sendErr
}

func execBuilder(frame []deferred) Builder[[]any] {
	return func(reply *respio.Reply) ([]any, error) {
		if reply.Kind != respio.KindArray {
			return nil, unexpected(reply, "array")
		}
		if reply.Null {
			for _, item := range frame {
				item.set(nil, ErrTransactionAborted)
			}
			return nil, ErrTransactionAborted
		}
		if len(reply.Array) != len(frame) {
			return nil, ErrDataSize.New("EXEC returned %d replies for %d queued commands",
				len(reply.Array), len(frame))
		}
		values := make([]any, len(frame))
		for i, item := range frame {
			item.set(reply.Array[i], nil)
			v, err := item.buildAny()
			if err != nil {
				values[i] = err
				continue
			}
			values[i] = v
		}
		return values, nil
	}
}
