// Package workerpool wraps panjf2000/ants/v2 for the bounded fan-out spots
// the rest of this module needs — batch re-embedding on import and the
// per-file graph lookups behind suggest_refactor_order — rather than
// spawning an unbounded goroutine per item. Grounded on sentinel-x's
// pkg/infra/pool/pool.go: a named Pool over ants.NewPool with a panic
// handler that logs instead of crashing the process, generalized down to
// the handful of knobs this module's call sites actually use.
package workerpool

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Pool is a named, bounded goroutine pool.
type Pool struct {
	name string
	pool *ants.Pool
}

// New creates a Pool with the given capacity (maximum concurrent workers).
// A panic inside a submitted task is recovered and logged rather than
// propagated, since a single bad task in a fan-out batch should not take
// down the others still in flight.
func New(name string, capacity int, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := ants.NewPool(capacity,
		ants.WithExpiryDuration(30*time.Second),
		ants.WithPanicHandler(func(r any) {
			logger.Error("worker pool task panicked",
				zap.String("pool", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool %q: %w", name, err)
	}
	return &Pool{name: name, pool: p}, nil
}

// Release frees the pool's workers.
func (p *Pool) Release() {
	p.pool.Release()
}

// Go runs fns concurrently over the pool, bounded by its capacity, and
// waits for all of them to complete before returning — a join, not a
// cancel-on-first-error race, so a failure in one item never discards the
// results of the others. The first non-nil error is returned, if any.
func (p *Pool) Go(fns []func() error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, fn := range fns {
		fn := fn
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("submit to worker pool %q: %w", p.name, submitErr)
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return firstErr
}
