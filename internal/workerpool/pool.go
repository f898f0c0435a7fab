package workerpool

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Pool runs tasks on at most Size goroutines at a time. Submitting blocks while the pool is
// full, which applies back-pressure to the caller.
type Pool struct {
	name   string
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New returns a pool of the given size; sizes below one are raised to one.
func New(name string, size int, logger zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name:   name,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger.With().Str("component", "workerpool").Str("pool", name).Logger(),
	}
}

// Go schedules fn. It returns ctx.Err() without running fn when ctx ends before a slot
// frees up. Panics inside fn are recovered and logged.
func (p *Pool) Go(ctx context.Context, task string, fn func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("task", task).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("task panicked")
			}
		}()
		fn(ctx)
	}()
	return nil
}

// Wait blocks until every scheduled task returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
