package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/pzhenzhou/elika-client/pkg/common"
)

// PuddlePool implements ObjectPool on top of puddle. puddle has no idle cap,
// so MaxIdle is enforced by trimming after every return.
type PuddlePool[T comparable] struct {
	cfg     Config
	factory Factory[T]
	pool    *puddle.Pool[T]
	// lent maps a borrowed value back to its puddle resource.
	lent *xsync.MapOf[T, *puddle.Resource[T]]
	// seen holds objects lent at least once; fresh objects skip validation.
	seen *xsync.MapOf[T, struct{}]

	closed    atomic.Bool
	waiters   atomic.Int64
	waitMax   atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64
	timeouts  atomic.Int64
}

func NewPuddlePool[T comparable](ctx context.Context, cfg Config, factory Factory[T]) (*PuddlePool[T], error) {
	p := &PuddlePool[T]{
		cfg:     cfg,
		factory: factory,
		lent:    xsync.NewMapOf[T, *puddle.Resource[T]](),
		seen:    xsync.NewMapOf[T, struct{}](),
	}
	pool, err := puddle.NewPool(&puddle.Config[T]{
		Constructor: func(ctx context.Context) (T, error) {
			obj, err := factory.Make(ctx)
			if err == nil {
				p.created.Add(1)
			}
			return obj, err
		},
		Destructor: func(obj T) {
			p.destroyed.Add(1)
			p.seen.Delete(obj)
			if err := factory.Destroy(obj); err != nil {
				logger.Error(err, "Destroy pooled object failed")
			}
		},
		MaxSize: int32(cfg.MaxTotal),
	})
	if err != nil {
		return nil, common.PoolFault.Wrap(err, "failed to create puddle pool")
	}
	p.pool = pool
	for i := 0; i < cfg.MinIdle; i++ {
		if err := pool.CreateResource(ctx); err != nil {
			logger.Error(err, "Pre-filling idle objects failed", "Made", i, "MinIdle", cfg.MinIdle)
			break
		}
	}
	return p, nil
}

func (p *PuddlePool[T]) Borrow(ctx context.Context) (T, error) {
	var zero T
	if p.closed.Load() {
		return zero, ErrPoolClosed
	}
	for {
		res, err := p.acquire(ctx)
		if err != nil {
			return zero, err
		}
		if p.cfg.MaxLifetime > 0 && time.Since(res.CreationTime()) > p.cfg.MaxLifetime {
			res.Destroy()
			continue
		}
		_, reused := p.seen.LoadOrStore(res.Value(), struct{}{})
		if reused && p.cfg.TestOnBorrow && !p.factory.Validate(res.Value()) {
			res.Destroy()
			continue
		}
		p.lent.Store(res.Value(), res)
		return res.Value(), nil
	}
}

func (p *PuddlePool[T]) acquire(ctx context.Context) (*puddle.Resource[T], error) {
	acquireCtx := ctx
	if p.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.MaxWait)
		defer cancel()
	}
	p.waiters.Add(1)
	start := time.Now()
	res, err := p.pool.Acquire(acquireCtx)
	p.waiters.Add(-1)
	p.recordWait(time.Since(start))
	if err == nil {
		return res, nil
	}
	switch {
	case errors.Is(err, puddle.ErrClosedPool):
		return nil, ErrPoolClosed
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case acquireCtx.Err() != nil:
		p.timeouts.Add(1)
		return nil, exhausted(p.cfg.MaxWait)
	default:
		return nil, common.PoolFault.Wrap(err, "failed to make a pooled object")
	}
}

func (p *PuddlePool[T]) Return(obj T) {
	var zero T
	if obj == zero {
		return
	}
	res, ok := p.lent.LoadAndDelete(obj)
	if !ok {
		logger.Info("WARN: returning an object the pool does not own, destroying it")
		if err := p.factory.Destroy(obj); err != nil {
			logger.Error(err, "Destroy foreign object failed")
		}
		return
	}
	res.Release()
	p.trimIdle()
}

func (p *PuddlePool[T]) Invalidate(obj T) error {
	var zero T
	if obj == zero {
		return nil
	}
	res, ok := p.lent.LoadAndDelete(obj)
	if ok {
		res.Destroy()
		return nil
	}
	if p.destroyIdle(obj) {
		return nil
	}
	if err := p.factory.Destroy(obj); err != nil {
		logger.Error(err, "Destroy foreign object failed")
	}
	return ErrUnknownObject
}

// destroyIdle destroys obj if puddle holds it idle. The destructor does the
// accounting, so obj is destroyed exactly once.
func (p *PuddlePool[T]) destroyIdle(obj T) bool {
	found := false
	for _, res := range p.pool.AcquireAllIdle() {
		if !found && res.Value() == obj {
			found = true
			res.Destroy()
			continue
		}
		res.ReleaseUnused()
	}
	return found
}

// trimIdle destroys idle objects above MaxIdle.
func (p *PuddlePool[T]) trimIdle() {
	if p.closed.Load() || int(p.pool.Stat().IdleResources()) <= p.cfg.MaxIdle {
		return
	}
	idle := p.pool.AcquireAllIdle()
	excess := len(idle) - p.cfg.MaxIdle
	for i, res := range idle {
		if i < excess {
			res.Destroy()
		} else {
			res.ReleaseUnused()
		}
	}
}

func (p *PuddlePool[T]) Stats() Stats {
	if p.closed.Load() {
		return unavailableStats()
	}
	s := p.pool.Stat()
	var mean time.Duration
	if n := s.AcquireCount(); n > 0 {
		mean = s.AcquireDuration() / time.Duration(n)
	}
	return Stats{
		NumActive:      int64(s.AcquiredResources()),
		NumIdle:        int64(s.IdleResources()),
		NumWaiters:     p.waiters.Load(),
		MeanBorrowWait: mean,
		MaxBorrowWait:  time.Duration(p.waitMax.Load()),
		Created:        p.created.Load(),
		Destroyed:      p.destroyed.Load(),
		Timeouts:       p.timeouts.Load(),
	}
}

// Close destroys the idle objects. puddle waits for lent objects to come
// back, so with objects still lent the wait happens in the background.
func (p *PuddlePool[T]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}
	if p.lent.Size() == 0 {
		p.pool.Close()
		return nil
	}
	logger.Info("Closing pool with lent objects", "Lent", p.lent.Size())
	go p.pool.Close()
	return nil
}

func (p *PuddlePool[T]) recordWait(wait time.Duration) {
	for {
		cur := p.waitMax.Load()
		if int64(wait) <= cur || p.waitMax.CompareAndSwap(cur, int64(wait)) {
			return
		}
	}
}
