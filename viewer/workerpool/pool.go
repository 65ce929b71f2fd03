// Package workerpool runs queued work on a fixed number of goroutines.
//
// Work is dispatched in FIFO order. Submission never blocks on capacity: the
// queue is unbounded, so a caller on an interactive path can enqueue a whole
// prefetch window without waiting for a free worker. Shutdown stops
// admission but drains everything already queued.
package workerpool

import (
	"sync"

	"github.com/ZanzyTHEbar/rview/viewer/filesystem/common"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for worker lifecycle and recovered panics.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool is a fixed-size set of workers consuming a FIFO task queue.
type Pool struct {
	workers int
	logger  zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	running bool

	wg           conc.WaitGroup
	shutdownOnce sync.Once
}

// New starts a pool with n workers.
func New(n int, opts ...Option) (*Pool, error) {
	if n < 1 {
		return nil, common.ErrInvalidWorkerCount
	}

	p := &Pool{
		workers: n,
		logger:  zerolog.Nop(),
		running: true,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < n; i++ {
		p.wg.Go(func() {
			p.worker(i)
		})
	}

	p.logger.Debug().Int("workers", n).Msg("Worker pool started")
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.workers
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Accepting reports whether Go would currently take new work.
func (p *Pool) Accepting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Go enqueues work. A panic inside work is recovered and logged; it never
// takes the worker down.
func (p *Pool) Go(work func()) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return common.ErrPoolRejected
	}
	p.tasks = append(p.tasks, work)
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// Submit enqueues work and returns a handle carrying its result. A panic in
// work resolves the handle with an error.
func Submit[T any](p *Pool, work func() (T, error)) (*Future[T], error) {
	f := NewFuture[T]()
	err := p.Go(func() {
		f.Resolve(Protect(work))
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Protect runs work, converting a panic into an error.
func Protect[T any](work func() (T, error)) (val T, err error) {
	var c panics.Catcher
	c.Try(func() {
		val, err = work()
	})
	if r := c.Recovered(); r != nil {
		var zero T
		return zero, r.AsError()
	}
	return val, err
}

// Shutdown stops accepting work, lets the workers drain the queue and waits
// for all of them to exit. It is safe to call more than once.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.running = false
		pending := len(p.tasks)
		p.mu.Unlock()

		p.logger.Debug().Int("pending", pending).Msg("Stopping worker pool")
		p.cond.Broadcast()
		p.wg.Wait()
		p.logger.Debug().Msg("Worker pool stopped")
	})
}

// worker pops tasks until the pool is stopped and the queue is empty.
func (p *Pool) worker(id int) {
	for {
		p.mu.Lock()
		for p.running && len(p.tasks) == 0 {
			p.cond.Wait()
		}
		if len(p.tasks) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks[0]
		p.tasks[0] = nil
		p.tasks = p.tasks[1:]
		p.mu.Unlock()

		p.run(id, task)
	}
}

func (p *Pool) run(id int, task func()) {
	var c panics.Catcher
	c.Try(task)
	if r := c.Recovered(); r != nil {
		p.logger.Error().
			Int("worker", id).
			Err(r.AsError()).
			Msg("Recovered panic in pooled task")
	}
}
