package common

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// Worker is a web worker attached to a page.
type Worker struct {
	ctx     context.Context
	session session

	targetID target.ID
	url      string
}

// NewWorker creates a new worker attached to the given session.
func NewWorker(ctx context.Context, s session, id target.ID, url string) (*Worker, error) {
	w := Worker{
		ctx:      ctx,
		session:  s,
		targetID: id,
		url:      url,
	}
	if err := w.initEvents(); err != nil {
		return nil, err
	}

	return &w, nil
}

func (w *Worker) initEvents() error {
	actions := []Action{
		cdplog.Enable(),
		runtime.RunIfWaitingForDebugger(),
	}
	for _, action := range actions {
		if err := action.Do(cdp.WithExecutor(w.ctx, w.session)); err != nil {
			return fmt.Errorf("protocol error while initializing worker %T: %w", action, err)
		}
	}
	return nil
}

// TargetID returns the target ID of the web worker.
func (w *Worker) TargetID() target.ID {
	return w.targetID
}

// URL returns the URL of the web worker.
func (w *Worker) URL() string {
	return w.url
}
