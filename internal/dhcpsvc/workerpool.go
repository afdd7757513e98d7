package dhcpsvc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// task is a single unit of work processed by a [workerPool].
type task func(ctx context.Context)

// workerPool is a fixed set of goroutines processing the tasks from a bounded
// queue.  Tasks submitted to a full queue are rejected instead of blocking the
// reader.
type workerPool struct {
	logger  *slog.Logger
	tasks   chan task
	wg      *sync.WaitGroup
	mu      *sync.Mutex
	timeout time.Duration
	size    int
	stopped bool
}

// newWorkerPool returns a new properly initialized *workerPool.  size and
// queueSize must be positive.
func newWorkerPool(
	logger *slog.Logger,
	size int,
	queueSize int,
	timeout time.Duration,
) (p *workerPool) {
	return &workerPool{
		logger:  logger,
		tasks:   make(chan task, queueSize),
		wg:      &sync.WaitGroup{},
		mu:      &sync.Mutex{},
		timeout: timeout,
		size:    size,
	}
}

// start launches the workers.  ctx is used as the base for the contexts of the
// tasks.
func (p *workerPool) start(ctx context.Context) {
	p.wg.Add(p.size)
	for range p.size {
		go p.work(ctx)
	}
}

// work executes the tasks until the queue is closed.
func (p *workerPool) work(ctx context.Context) {
	defer p.wg.Done()

	for t := range p.tasks {
		p.run(ctx, t)
	}
}

// run executes a single task with the per-task timeout.  A panic in t is
// logged and doesn't stop the worker.
func (p *workerPool) run(ctx context.Context, t task) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer slogutil.RecoverAndLog(ctx, p.logger)

	t(ctx)
}

// trySubmit puts t into the queue.  It returns false if the queue is full or
// the pool is stopped.
func (p *workerPool) trySubmit(t task) (ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	select {
	case p.tasks <- t:
		return true
	default:
		return false
	}
}

// stop closes the queue and waits for the workers to finish the queued tasks.
func (p *workerPool) stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
