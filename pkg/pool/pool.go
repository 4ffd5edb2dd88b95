package pool

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/common"
)

var (
	logger = common.InitLogger().WithName("pool")

	// ephemeralTimers recycles the timers used to bound borrow waits.
	ephemeralTimers = sync.Pool{
		New: func() interface{} {
			t := time.NewTimer(time.Hour)
			t.Stop()
			return t
		},
	}
)

var (
	ErrPoolClosed    = common.PoolFault.New("pool is closed")
	ErrUnknownObject = common.PoolFault.New("object does not belong to this pool")
)

// Unavailable is reported by every Stats field once the pool is closed.
const Unavailable = -1

const defaultProbeMaxElapsed = 30 * time.Minute

// Factory creates, checks and destroys pooled objects.
type Factory[T any] interface {
	Make(ctx context.Context) (T, error)
	// Validate reports whether an idle object can still be lent.
	Validate(obj T) bool
	Destroy(obj T) error
}

// ObjectPool bounds concurrent use of objects. Each borrowed object has one
// owner until it is returned or invalidated.
type ObjectPool[T comparable] interface {
	// Borrow returns an idle object or makes one, waiting while MaxTotal
	// objects are lent. A wait longer than MaxWait fails with a
	// PoolExhausted fault, a failed Make with a PoolFault.
	Borrow(ctx context.Context) (T, error)
	// Return makes obj idle again. The zero value is ignored.
	Return(obj T)
	// Invalidate destroys obj instead of making it idle.
	Invalidate(obj T) error
	Stats() Stats
	Close() error
}

type Config struct {
	MaxTotal     int
	MaxIdle      int
	MinIdle      int
	TestOnBorrow bool
	// MaxWait bounds the wait for a free slot. Zero waits until the context
	// is done.
	MaxWait time.Duration
	// MaxLifetime discards idle objects older than this on borrow. Zero
	// disables it.
	MaxLifetime time.Duration
	// ProbeMaxElapsed bounds the background retries that run while Make
	// keeps failing.
	ProbeMaxElapsed time.Duration
}

func ConfigFrom(pc *common.PoolConfig) Config {
	return Config{
		MaxTotal:        pc.MaxTotal,
		MaxIdle:         pc.MaxIdle,
		MinIdle:         pc.MinIdle,
		TestOnBorrow:    pc.TestOnBorrow,
		MaxWait:         pc.MaxWait,
		MaxLifetime:     pc.MaxLifetime,
		ProbeMaxElapsed: defaultProbeMaxElapsed,
	}
}

// New builds the implementation selected by pc.Impl.
func New[T comparable](ctx context.Context, pc *common.PoolConfig, factory Factory[T]) (ObjectPool[T], error) {
	if err := pc.Validate(); err != nil {
		return nil, common.PoolFault.Wrap(err, "invalid pool config")
	}
	cfg := ConfigFrom(pc)
	if strings.EqualFold(pc.Impl, common.PoolImplPuddle) {
		return NewPuddlePool(ctx, cfg, factory)
	}
	return NewFixedPool(ctx, cfg, factory), nil
}

// Stats is a point in time view of a pool.
type Stats struct {
	NumActive      int64
	NumIdle        int64
	NumWaiters     int64
	MeanBorrowWait time.Duration
	MaxBorrowWait  time.Duration
	Created        int64
	Destroyed      int64
	Timeouts       int64
}

func unavailableStats() Stats {
	return Stats{
		NumActive:      Unavailable,
		NumIdle:        Unavailable,
		NumWaiters:     Unavailable,
		MeanBorrowWait: Unavailable,
		MaxBorrowWait:  Unavailable,
		Created:        Unavailable,
		Destroyed:      Unavailable,
		Timeouts:       Unavailable,
	}
}

func exhausted(wait time.Duration) error {
	return common.PoolExhausted.New("timed out after %s waiting for a pooled object", wait)
}
