package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"go.uber.org/multierr"
)

type objectMeta struct {
	created    time.Time
	borrowedAt time.Time
	borrowed   bool
}

// FixedPool lends at most MaxTotal objects. A slot channel acts as the
// semaphore for lent objects; idle objects sit on a LIFO stack so the most
// recently used object is lent first.
type FixedPool[T comparable] struct {
	cfg     Config
	factory Factory[T]

	slots chan struct{}
	done  chan struct{}
	mu    sync.Mutex
	idle  []T
	// objects holds every live object, idle or lent.
	objects *xsync.MapOf[T, *objectMeta]

	// errNums counts consecutive Make failures. Once it reaches MaxTotal the
	// pool fails fast until the probe succeeds.
	errNums     atomic.Uint32
	lastMakeErr atomic.Value
	probing     atomic.Bool
	probeCtx    context.Context
	cancelProbe context.CancelFunc

	closed    atomic.Bool
	active    atomic.Int64
	waiters   atomic.Int64
	waitCount atomic.Int64
	waitTotal atomic.Int64
	waitMax   atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64
	timeouts  atomic.Int64
}

// NewFixedPool creates the pool and makes MinIdle objects ahead of demand.
// Failures while pre-filling are logged and leave the pool short.
func NewFixedPool[T comparable](ctx context.Context, cfg Config, factory Factory[T]) *FixedPool[T] {
	if cfg.ProbeMaxElapsed <= 0 {
		cfg.ProbeMaxElapsed = defaultProbeMaxElapsed
	}
	p := &FixedPool[T]{
		cfg:     cfg,
		factory: factory,
		slots:   make(chan struct{}, cfg.MaxTotal),
		done:    make(chan struct{}),
		idle:    make([]T, 0, cfg.MaxIdle),
		objects: xsync.NewMapOf[T, *objectMeta](),
	}
	p.probeCtx, p.cancelProbe = context.WithCancel(context.Background())
	p.ensureMinIdle(ctx)
	return p
}

func (p *FixedPool[T]) ensureMinIdle(ctx context.Context) {
	for i := 0; i < p.cfg.MinIdle; i++ {
		obj, err := p.make(ctx)
		if err != nil {
			logger.Error(err, "Pre-filling idle objects failed", "Made", i, "MinIdle", p.cfg.MinIdle)
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, obj)
		p.mu.Unlock()
	}
}

func (p *FixedPool[T]) IsClosed() bool {
	return p.closed.Load()
}

func (p *FixedPool[T]) Borrow(ctx context.Context) (T, error) {
	var zero T
	if p.IsClosed() {
		return zero, ErrPoolClosed
	}
	start := time.Now()
	if err := p.getSlot(ctx); err != nil {
		return zero, err
	}
	p.recordWait(time.Since(start))

	for {
		obj, ok, err := p.popIdle()
		if err != nil {
			p.freeSlot()
			return zero, err
		}
		if !ok {
			break
		}
		if !p.usable(obj) {
			_ = p.destroy(obj)
			continue
		}
		p.active.Add(1)
		return obj, nil
	}

	obj, err := p.make(ctx)
	if err != nil {
		p.freeSlot()
		return zero, err
	}
	p.mu.Lock()
	if meta, ok := p.objects.Load(obj); ok {
		meta.borrowed = true
		meta.borrowedAt = time.Now()
	}
	p.mu.Unlock()
	p.active.Add(1)
	return obj, nil
}

func (p *FixedPool[T]) Return(obj T) {
	var zero T
	if obj == zero {
		return
	}
	p.mu.Lock()
	meta, ok := p.objects.Load(obj)
	if !ok || !meta.borrowed {
		p.mu.Unlock()
		if !ok {
			logger.Info("WARN: returning an object the pool does not own, destroying it")
			p.destroyForeign(obj)
		} else {
			logger.Info("WARN: object returned twice")
		}
		return
	}
	meta.borrowed = false
	keep := !p.IsClosed() && len(p.idle) < p.cfg.MaxIdle
	if keep {
		p.idle = append(p.idle, obj)
	}
	p.mu.Unlock()

	p.active.Add(-1)
	p.freeSlot()
	if !keep {
		_ = p.destroy(obj)
	}
}

func (p *FixedPool[T]) Invalidate(obj T) error {
	var zero T
	if obj == zero {
		return nil
	}
	p.mu.Lock()
	meta, ok := p.objects.Load(obj)
	if !ok {
		p.mu.Unlock()
		p.destroyForeign(obj)
		return ErrUnknownObject
	}
	wasBorrowed := meta.borrowed
	meta.borrowed = false
	if !wasBorrowed {
		p.removeIdle(obj)
	}
	p.mu.Unlock()

	if wasBorrowed {
		p.active.Add(-1)
		p.freeSlot()
	}
	return p.destroy(obj)
}

func (p *FixedPool[T]) Stats() Stats {
	if p.IsClosed() {
		return unavailableStats()
	}
	p.mu.Lock()
	idle := int64(len(p.idle))
	p.mu.Unlock()
	var mean time.Duration
	if n := p.waitCount.Load(); n > 0 {
		mean = time.Duration(p.waitTotal.Load() / n)
	}
	return Stats{
		NumActive:      p.active.Load(),
		NumIdle:        idle,
		NumWaiters:     p.waiters.Load(),
		MeanBorrowWait: mean,
		MaxBorrowWait:  time.Duration(p.waitMax.Load()),
		Created:        p.created.Load(),
		Destroyed:      p.destroyed.Load(),
		Timeouts:       p.timeouts.Load(),
	}
}

// Close destroys the idle objects. Lent objects are destroyed when they come
// back.
func (p *FixedPool[T]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}
	p.cancelProbe()
	close(p.done)

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var err error
	for _, obj := range idle {
		err = multierr.Append(err, p.destroy(obj))
	}
	return err
}

// popIdle takes the most recently returned idle object and marks it lent.
func (p *FixedPool[T]) popIdle() (T, bool, error) {
	var zero T
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.IsClosed() {
		return zero, false, ErrPoolClosed
	}
	n := len(p.idle)
	if n == 0 {
		return zero, false, nil
	}
	obj := p.idle[n-1]
	p.idle[n-1] = zero
	p.idle = p.idle[:n-1]
	if meta, ok := p.objects.Load(obj); ok {
		meta.borrowed = true
		meta.borrowedAt = time.Now()
	}
	return obj, true, nil
}

// removeIdle drops obj from the idle stack. The caller holds mu.
func (p *FixedPool[T]) removeIdle(obj T) {
	var zero T
	for i, idle := range p.idle {
		if idle != obj {
			continue
		}
		last := len(p.idle) - 1
		copy(p.idle[i:], p.idle[i+1:])
		p.idle[last] = zero
		p.idle = p.idle[:last]
		return
	}
}

func (p *FixedPool[T]) usable(obj T) bool {
	meta, ok := p.objects.Load(obj)
	if !ok {
		return false
	}
	if p.cfg.MaxLifetime > 0 && time.Since(meta.created) > p.cfg.MaxLifetime {
		return false
	}
	if p.cfg.TestOnBorrow && !p.factory.Validate(obj) {
		return false
	}
	return true
}

func (p *FixedPool[T]) make(ctx context.Context) (T, error) {
	var zero T
	if p.errNums.Load() >= uint32(p.cfg.MaxTotal) {
		return zero, common.PoolFault.Wrap(p.lastMakeError(), "pool is failing fast after %d failed attempts", p.errNums.Load())
	}
	obj, err := p.factory.Make(ctx)
	if err != nil {
		p.errNums.Add(1)
		p.lastMakeErr.Store(err)
		p.startProbe()
		return zero, common.PoolFault.Wrap(err, "failed to make a pooled object")
	}
	p.errNums.Store(0)
	p.objects.Store(obj, &objectMeta{created: time.Now()})
	p.created.Add(1)
	return obj, nil
}

// startProbe retries Make in the background until it succeeds, then resets
// the failure count so borrowers stop failing fast.
func (p *FixedPool[T]) startProbe() {
	if !p.probing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.probing.Store(false)
		obj, err := backoff.Retry[T](p.probeCtx, func() (T, error) {
			var zero T
			if p.IsClosed() {
				return zero, backoff.Permanent(ErrPoolClosed)
			}
			probe, makeErr := p.factory.Make(p.probeCtx)
			if makeErr != nil {
				p.lastMakeErr.Store(makeErr)
				return zero, makeErr
			}
			p.errNums.Store(0)
			return probe, nil
		}, backoff.WithMaxElapsedTime(p.cfg.ProbeMaxElapsed))
		if err == nil {
			_ = p.factory.Destroy(obj)
		}
	}()
}

func (p *FixedPool[T]) lastMakeError() error {
	if v := p.lastMakeErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

func (p *FixedPool[T]) destroy(obj T) error {
	p.objects.Delete(obj)
	p.destroyed.Add(1)
	if err := p.factory.Destroy(obj); err != nil {
		logger.Error(err, "Destroy pooled object failed")
		return err
	}
	return nil
}

func (p *FixedPool[T]) destroyForeign(obj T) {
	if err := p.factory.Destroy(obj); err != nil {
		logger.Error(err, "Destroy foreign object failed")
	}
}

func (p *FixedPool[T]) freeSlot() {
	<-p.slots
}

func (p *FixedPool[T]) getSlot(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	p.waiters.Add(1)
	defer p.waiters.Add(-1)

	var timeout <-chan time.Time
	if p.cfg.MaxWait > 0 {
		timer := ephemeralTimers.Get().(*time.Timer)
		timer.Reset(p.cfg.MaxWait)
		defer func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			ephemeralTimers.Put(timer)
		}()
		timeout = timer.C
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-timeout:
		p.timeouts.Add(1)
		return exhausted(p.cfg.MaxWait)
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *FixedPool[T]) recordWait(wait time.Duration) {
	p.waitCount.Add(1)
	p.waitTotal.Add(int64(wait))
	for {
		cur := p.waitMax.Load()
		if int64(wait) <= cur || p.waitMax.CompareAndSwap(cur, int64(wait)) {
			return
		}
	}
}
