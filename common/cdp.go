package common

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
)

type executorEmitter interface {
	cdp.Executor
	EventEmitter
}

type connection interface {
	executorEmitter
	Close()
	getSession(target.SessionID) *Session
	getSessionByTargetID(target.ID) *Session
}

// session is the capability a target-scoped command/event channel must
// provide. The core depends only on this interface; Session is the CDP
// implementation.
type session interface {
	executorEmitter
	ExecuteWithoutExpectationOnReply(context.Context, string, easyjson.Marshaler, easyjson.Unmarshaler) error
	ID() target.SessionID
	TargetID() target.ID
	Done() <-chan struct{}
	Closed() bool
}

// Action is the general interface of a CDP action.
type Action interface {
	Do(context.Context) error
}

// ActionFunc is an adapter to allow regular functions to be used as an Action.
type ActionFunc func(context.Context) error

// Do executes the func f using the provided context.
func (f ActionFunc) Do(ctx context.Context) error {
	return f(ctx)
}

// contextWithDoneChan returns a context that is canceled either when ctx
// is done or when the done channel is closed.
func contextWithDoneChan(ctx context.Context, done chan struct{}) context.Context {
	newCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		select {
		case <-done:
		case <-newCtx.Done():
		}
	}()
	return newCtx
}
