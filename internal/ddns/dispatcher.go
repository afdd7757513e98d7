package ddns

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Sender sends the updates.  *Updater is the main implementation.
type Sender interface {
	SendAdd(ctx context.Context, up *Update, cb *Callbacks) (err error)
	SendDelete(ctx context.Context, up *Update, cb *Callbacks) (err error)
}

// type check
var _ Sender = (*Updater)(nil)

// Job is a single update to dispatch.
type Job struct {
	// Update is the update to send.  It must not be nil.
	Update *Update

	// Callbacks are called when the parts of the update complete.  It may be
	// nil.
	Callbacks *Callbacks

	// Delete is true if the records must be deleted instead of added.
	Delete bool
}

// DispatcherConfig is the configuration of a dispatcher.
type DispatcherConfig struct {
	// Logger is used for logging the failed updates.  It must not be nil.
	Logger *slog.Logger

	// Sender sends the updates.  It must not be nil.
	Sender Sender

	// Timeout is the timeout of a single job.  If zero, jobs have no timeout.
	Timeout time.Duration

	// Sync makes [Dispatcher.Submit] wait for the job to complete.
	Sync bool
}

// Dispatcher runs the update jobs in the background.
type Dispatcher struct {
	logger  *slog.Logger
	sender  Sender
	wg      *sync.WaitGroup
	timeout time.Duration
	sync    bool
}

// NewDispatcher returns a new properly initialized dispatcher.
func NewDispatcher(c *DispatcherConfig) (d *Dispatcher) {
	return &Dispatcher{
		logger:  c.Logger,
		sender:  c.Sender,
		wg:      &sync.WaitGroup{},
		timeout: c.Timeout,
		sync:    c.Sync,
	}
}

// Submit dispatches j.  The job outlives ctx, but keeps its values.
func (d *Dispatcher) Submit(ctx context.Context, j *Job) {
	ctx = context.WithoutCancel(ctx)
	if d.sync {
		d.run(ctx, j)

		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer slogutil.RecoverAndLog(ctx, d.logger)

		d.run(ctx, j)
	}()
}

// run sends the update of j.
func (d *Dispatcher) run(ctx context.Context, j *Job) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var err error
	if j.Delete {
		err = d.sender.SendDelete(ctx, j.Update, j.Callbacks)
	} else {
		err = d.sender.SendAdd(ctx, j.Update, j.Callbacks)
	}

	if err != nil {
		d.logger.WarnContext(ctx, "dynamic update failed", slogutil.KeyError, err)
	} else {
		d.logger.DebugContext(ctx, "dynamic update done", "update", j.Update, "delete", j.Delete)
	}
}

// Wait blocks until all the submitted jobs complete or ctx is canceled.
func (d *Dispatcher) Wait(ctx context.Context) (err error) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
