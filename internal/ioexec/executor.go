// Package ioexec provides the single-goroutine closure executor that owns
// all mutable connection, channel, and operation state. Every call that
// touches that state — a read from the socket, a timer firing, a consumer
// calling into the API — funnels through one of these two entry points so
// nothing needs its own lock.
package ioexec

import "context"

// job is a closure submitted for execution on the executor goroutine,
// paired with a channel the caller can wait on for CallSync.
type job struct {
	fn   func()
	done chan struct{}
}

// Executor runs submitted closures one at a time on a single goroutine.
// Nothing else may touch state owned by the executor directly — it must go
// through Call or CallSync.
type Executor struct {
	jobs chan job
	quit chan struct{}
	done chan struct{}
}

// New starts an executor goroutine and returns the handle used to submit
// work to it. Call Stop to shut it down.
func New() *Executor {
	e := &Executor{
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		select {
		case j := <-e.jobs:
			j.fn()
			if j.done != nil {
				close(j.done)
			}
		case <-e.quit:
			return
		}
	}
}

// Call submits fn to run on the executor goroutine and returns immediately
// without waiting for it to run. Safe to call from any goroutine, including
// from within another closure already running on the executor (it will run
// after the current one returns).
func (e *Executor) Call(fn func()) {
	select {
	case e.jobs <- job{fn: fn}:
	case <-e.quit:
	}
}

// CallSync submits fn and blocks until it has run, or ctx is done, or the
// executor has stopped. Calling CallSync from within a closure already
// running on the executor deadlocks, since the single goroutine cannot run
// two closures at once — use Call from inside the executor instead.
func (e *Executor) CallSync(ctx context.Context, fn func()) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case e.jobs <- j:
	case <-e.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-j.done:
		return nil
	case <-e.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the executor goroutine to exit after its current closure (if
// any) finishes, and blocks until it has. Pending, not-yet-run jobs are
// dropped.
func (e *Executor) Stop() {
	close(e.quit)
	<-e.done
}
