package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/edwinans/puppeteer/log"
)

// Page stores the CDP session bound to one page target, the main frame
// session and the frame sessions of any out-of-process iframes below it.
type Page struct {
	BaseEventEmitter

	ctx     context.Context
	conn    connection
	session session

	targetID target.ID

	frameManager    *FrameManager
	timeoutSettings *TimeoutSettings

	mainFrameSession *FrameSession
	frameSessions    map[cdp.FrameID]*FrameSession
	frameSessionsMu  sync.RWMutex

	workers   map[target.SessionID]*Worker
	workersMu sync.Mutex

	crashedMu sync.Mutex
	crashed   bool

	logger *log.Logger
}

// NewPage creates a new page bound to the given target. It builds the
// frame manager, attaches the main frame session and starts auto
// attaching to related targets.
func NewPage(
	ctx context.Context,
	conn connection,
	s session,
	tid target.ID,
	ts *TimeoutSettings,
	logger *log.Logger,
) (*Page, error) {
	p := Page{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		conn:             conn,
		session:          s,
		targetID:         tid,
		timeoutSettings:  NewTimeoutSettings(ts),
		frameSessions:    make(map[cdp.FrameID]*FrameSession),
		workers:          make(map[target.SessionID]*Worker),
		logger:           logger,
	}

	p.logger.Debugf("Page:NewPage", "sid:%v tid:%v", p.sessionID(), tid)

	var err error
	p.frameManager = NewFrameManager(ctx, s, &p, p.timeoutSettings, p.logger)
	p.mainFrameSession, err = NewFrameSession(ctx, s, &p, nil, tid, p.logger)
	if err != nil {
		p.logger.Debugf("Page:NewPage:NewFrameSession:return", "sid:%v tid:%v err:%v",
			p.sessionID(), tid, err)

		return nil, err
	}
	p.frameSessionsMu.Lock()
	p.frameSessions[cdp.FrameID(tid)] = p.mainFrameSession
	p.frameSessionsMu.Unlock()

	return &p, nil
}

func (p *Page) sessionID() (sid target.SessionID) {
	if p != nil && p.session != nil {
		sid = p.session.ID()
	}
	return sid
}

func (p *Page) attachFrameSession(fid cdp.FrameID, fs *FrameSession) {
	p.logger.Debugf("Page:attachFrameSession", "sid:%v fid=%v", p.sessionID(), fid)
	p.frameSessionsMu.Lock()
	defer p.frameSessionsMu.Unlock()
	p.frameSessions[fid] = fs
}

func (p *Page) getFrameSession(frameID cdp.FrameID) *FrameSession {
	p.logger.Debugf("Page:getFrameSession", "sid:%v fid:%v", p.sessionID(), frameID)
	p.frameSessionsMu.RLock()
	defer p.frameSessionsMu.RUnlock()
	return p.frameSessions[frameID]
}

func (p *Page) addWorker(sessionID target.SessionID, w *Worker) {
	p.logger.Debugf("Page:addWorker", "sid:%v esid:%v", p.sessionID(), sessionID)
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	p.workers[sessionID] = w
}

func (p *Page) closeWorker(sessionID target.SessionID) {
	p.logger.Debugf("Page:closeWorker", "sid:%v esid:%v", p.sessionID(), sessionID)
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	delete(p.workers, sessionID)
}

func (p *Page) didCrash() {
	p.logger.Debugf("Page:didCrash", "sid:%v", p.sessionID())

	p.crashedMu.Lock()
	{
		p.crashed = true
	}
	p.crashedMu.Unlock()

	p.emit(EventPageCrash, p)
}

func (p *Page) defaultTimeout() time.Duration {
	return p.timeoutSettings.timeout()
}

// IsCrashed returns whether the page target has crashed.
func (p *Page) IsCrashed() bool {
	p.crashedMu.Lock()
	defer p.crashedMu.Unlock()
	return p.crashed
}

// Goto navigates the main frame to the specified URL and waits for the
// requested lifecycle event of the resulting document.
func (p *Page) Goto(url string, opts *FrameGotoOptions) error {
	p.logger.Debugf("Page:Goto", "sid:%v url:%q", p.sessionID(), url)

	return p.frameManager.NavigateFrame(p.MainFrame(), url, opts)
}

// Evaluate runs the JavaScript expression or function in the main
// frame's utility world and returns its value.
func (p *Page) Evaluate(pageFunc string, args ...any) (any, error) {
	p.logger.Debugf("Page:Evaluate", "sid:%v", p.sessionID())

	return p.MainFrame().Evaluate(p.ctx, pageFunc, args...)
}

// MainFrame returns the main frame of the page.
func (p *Page) MainFrame() *Frame {
	mf := p.frameManager.MainFrame()

	if mf == nil {
		p.logger.Debugf("Page:MainFrame", "sid:%v", p.sessionID())
	} else {
		p.logger.Debugf("Page:MainFrame",
			"sid:%v mfid:%v mfurl:%v", p.sessionID(), mf.ID(), mf.URL())
	}

	return mf
}

// Frames returns all frames in the page, main frame included.
func (p *Page) Frames() []*Frame {
	return p.frameManager.Frames()
}

// WaitForFrame waits until a frame with the given id is attached.
func (p *Page) WaitForFrame(frameID cdp.FrameID) (*Frame, error) {
	return p.frameManager.WaitForFrame(p.ctx, frameID, p.defaultTimeout())
}

// WaitForNavigation waits for the main frame's next navigation to commit.
func (p *Page) WaitForNavigation() (*NavigationEvent, error) {
	return p.frameManager.WaitForFrameNavigation(p.MainFrame(), p.timeoutSettings.navigationTimeout())
}

// Workers returns the web workers attached to the page.
func (p *Page) Workers() []*Worker {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	return workers
}

// TargetID returns the page's target id.
func (p *Page) TargetID() target.ID {
	return p.targetID
}

// SetDefaultTimeout sets the default timeout for regular operations.
func (p *Page) SetDefaultTimeout(t time.Duration) {
	p.timeoutSettings.SetDefaultTimeout(t)
}

// SetDefaultNavigationTimeout sets the default timeout for navigations.
func (p *Page) SetDefaultNavigationTimeout(t time.Duration) {
	p.timeoutSettings.SetDefaultNavigationTimeout(t)
}

// SetDefaultSwapGraceWindow sets how long a frame whose session dropped
// is held waiting for a replacement session.
func (p *Page) SetDefaultSwapGraceWindow(t time.Duration) {
	p.timeoutSettings.SetDefaultSwapGraceWindow(t)
}

// Close closes the page target. The browser answers with a target
// detach, which tears down the session.
func (p *Page) Close() error {
	p.logger.Debugf("Page:Close", "sid:%v", p.sessionID())

	action := target.CloseTarget(p.targetID)
	if err := action.Do(cdp.WithExecutor(p.ctx, p.session)); err != nil {
		return fmt.Errorf("closing page: %w", err)
	}
	return nil
}
