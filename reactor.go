package msgnet

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// reactor owns the goroutines that drive socket I/O for one Server or
// Client. Work is posted to it; stop cancels its context and joins every
// goroutine it started.
type reactor struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	stopped bool
}

func newReactor(parent context.Context) *reactor {
	ctx, cancel := context.WithCancel(parent)
	group, ctx := errgroup.WithContext(ctx)
	return &reactor{ctx: ctx, cancel: cancel, group: group}
}

// post runs fn on a new reactor goroutine. A non-nil error from fn stops
// the whole reactor, so per-connection work reports nil and closes only
// its own connection. post after stop is a no-op.
func (r *reactor) post(fn func() error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}
	r.group.Go(fn)
	return true
}

// done is closed when the reactor is stopping.
func (r *reactor) done() <-chan struct{} {
	return r.ctx.Done()
}

// stop cancels the reactor and waits for its goroutines to return.
// It returns the first error reported by a posted function, if any.
func (r *reactor) stop() error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	err := r.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
