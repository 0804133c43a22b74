package common

import (
	"context"
	"sync"
	"time"
)

// Deferred is a single-assignment future. The first settle wins; later
// resolves and rejects are no-ops. It backs every wait for an event that
// may never arrive (frame attach, world context, swap).
type Deferred struct {
	once sync.Once
	done chan struct{}
	data any
	err  error
}

// NewDeferred creates an unsettled deferred.
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

func (d *Deferred) resolve(data any) {
	d.settle(data, nil)
}

func (d *Deferred) reject(err error) {
	d.settle(nil, err)
}

func (d *Deferred) settle(data any, err error) {
	d.once.Do(func() {
		d.data, d.err = data, err
		close(d.done)
	})
}

// settled reports whether the deferred holds a value, without blocking.
func (d *Deferred) settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// wait blocks until the deferred settles, the context is done, or the
// timeout elapses. A non-positive timeout means no deadline. Expiry
// surfaces as ErrTimedOut; the deferred itself stays unsettled so its
// owner can still settle and discard it.
func (d *Deferred) wait(ctx context.Context, timeout time.Duration) (any, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-d.done:
		return d.data, d.err
	case <-expired:
		return nil, ErrTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
