package pipeline

import (
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/respio"
)

var (
	ErrNotSynced = common.UsageFault.New("please sync the pipeline before reading a response")
)

// Builder decodes a raw reply into the value a caller asked for.
type Builder[T any] func(reply *respio.Reply) (T, error)

// deferred is the type-erased view the pipeline keeps of its responses.
type deferred interface {
	set(reply *respio.Reply, err error)
	setDependency(dep deferred)
	buildAny() (any, error)
}

// Response is a reply that will be available after the pipeline syncs. It is
// decoded once, on first Get, and the value or error is cached.
type Response[T any] struct {
	builder Builder[T]

	reply  *respio.Reply
	err    error
	filled bool

	value    T
	buildErr error
	built    bool

	// dependency is built first. Commands queued inside a transaction depend
	// on the EXEC response, whose builder fills them.
	dependency deferred
}

func newResponse[T any](builder Builder[T]) *Response[T] {
	return &Response[T]{builder: builder}
}

// Get returns the decoded value. Before the pipeline synced it fails with
// ErrNotSynced.
func (r *Response[T]) Get() (T, error) {
	var depErr error
	if r.dependency != nil {
		_, depErr = r.dependency.buildAny()
	}
	if !r.filled {
		var zero T
		if depErr != nil {
			return zero, depErr
		}
		return zero, ErrNotSynced
	}
	r.build()
	return r.value, r.buildErr
}

// Val is Get without the error.
func (r *Response[T]) Val() T {
	v, _ := r.Get()
	return v
}

func (r *Response[T]) Err() error {
	_, err := r.Get()
	return err
}

// Reply returns the raw reply, nil until the pipeline synced.
func (r *Response[T]) Reply() *respio.Reply {
	return r.reply
}

func (r *Response[T]) set(reply *respio.Reply, err error) {
	r.reply = reply
	r.err = err
	r.filled = true
}

func (r *Response[T]) setDependency(dep deferred) {
	r.dependency = dep
}

func (r *Response[T]) buildAny() (any, error) {
	if r.dependency != nil {
		_, _ = r.dependency.buildAny()
	}
	if !r.filled {
		return nil, ErrNotSynced
	}
	r.build()
	if r.buildErr != nil {
		return nil, r.buildErr
	}
	return r.value, nil
}

func (r *Response[T]) build() {
	if r.built {
		return
	}
	r.built = true
	switch {
	case r.err != nil:
		r.buildErr = r.err
	case r.reply.IsError():
		r.buildErr = r.reply.Err()
	default:
		r.value, r.buildErr = r.builder(r.reply)
	}
}
