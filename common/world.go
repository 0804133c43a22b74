package common

import (
	"context"
	"sync"
	"time"

	"github.com/edwinans/puppeteer/log"
)

// World is a named script-execution sandbox attached to a frame. Each
// frame owns a main world (the page's own realm) and a utility world (an
// isolated realm invisible to page script). A world holds at most one
// live execution context at a time.
type World struct {
	name   executionWorld
	frame  *Frame
	logger *log.Logger

	mu      sync.Mutex
	context *ExecutionContext
	waiters []*Deferred
}

func newWorld(name executionWorld, frame *Frame, logger *log.Logger) *World {
	return &World{
		name:   name,
		frame:  frame,
		logger: logger,
	}
}

// hasContext reports whether the world currently holds a live context.
func (w *World) hasContext() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.context != nil
}

// getContext returns the world's live context, or nil.
func (w *World) getContext() *ExecutionContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.context
}

// setContext binds a live context to the world and resolves every caller
// waiting for one. The first context wins; binding while one is live is
// a no-op so duplicate creation events from racing sessions cannot
// rebind the world.
func (w *World) setContext(ec *ExecutionContext) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.context != nil {
		w.logger.Debugf("World:setContext", "fid:%v world:%s ectxid:%d already set, skipping",
			w.frame.ID(), w.name, ec.ID())
		return
	}
	w.logger.Debugf("World:setContext", "fid:%v world:%s ectxid:%d", w.frame.ID(), w.name, ec.ID())
	w.context = ec

	for _, d := range w.waiters {
		d.resolve(ec)
	}
	w.waiters = nil
}

// clearContext drops the world's live context. Callers awaiting the
// context are told it was invalidated instead of being handed a handle
// for a realm that no longer exists.
func (w *World) clearContext() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.context == nil && len(w.waiters) == 0 {
		return
	}
	w.logger.Debugf("World:clearContext", "fid:%v world:%s", w.frame.ID(), w.name)
	w.context = nil

	for _, d := range w.waiters {
		d.reject(ErrContextDestroyed)
	}
	w.waiters = nil
}

// ownsContext reports whether ec is the world's live context.
func (w *World) ownsContext(ec *ExecutionContext) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.context != nil && w.context == ec
}

// waitForContext returns the world's live context, waiting for one to be
// bound if none is live yet.
func (w *World) waitForContext(ctx context.Context, timeout time.Duration) (*ExecutionContext, error) {
	w.mu.Lock()
	if w.context != nil {
		ec := w.context
		w.mu.Unlock()
		return ec, nil
	}
	d := NewDeferred()
	w.waiters = append(w.waiters, d)
	w.mu.Unlock()

	v, err := d.wait(ctx, timeout)
	if err != nil {
		// Drop the registration so repeated timed-out waits don't
		// accumulate dead waiters.
		w.mu.Lock()
		for i, d2 := range w.waiters {
			if d2 == d {
				w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
				break
			}
		}
		w.mu.Unlock()
		return nil, err
	}
	return v.(*ExecutionContext), nil
}
