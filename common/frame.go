package common

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"

	"github.com/edwinans/puppeteer/log"
)

// Frame represents a frame in an HTML document. Frame objects are
// long-lived: callers may hold a reference across navigations, session
// swaps and id changes, and the object keeps working.
type Frame struct {
	BaseEventEmitter

	ctx         context.Context
	page        *Page
	manager     *FrameManager
	parentFrame *Frame

	childFramesMu sync.RWMutex
	childFrames   map[*Frame]bool

	propertiesMu sync.RWMutex
	id           cdp.FrameID
	loaderID     string
	name         string
	url          string
	detached     bool

	// The backing session is rebound when the frame is adopted by a
	// replacement target after a cross-process swap.
	sessionMu sync.RWMutex
	session   session

	// A life cycle event is only considered triggered for a frame if the
	// entire frame subtree has also had the life cycle event triggered.
	lifecycleEventsMu      sync.RWMutex
	lifecycleEvents        map[LifecycleEvent]bool
	subtreeLifecycleEvents map[LifecycleEvent]bool

	mainWorld    *World
	utilityWorld *World

	pendingDocumentMu sync.RWMutex
	pendingDocument   *DocumentInfo
	currentDocument   *DocumentInfo

	logger *log.Logger
}

// NewFrame creates a new HTML document frame.
func NewFrame(
	ctx context.Context, m *FrameManager, parentFrame *Frame, frameID cdp.FrameID, logger *log.Logger,
) *Frame {
	if logger.DebugMode() {
		var pfid string
		if parentFrame != nil {
			pfid = string(parentFrame.ID())
		}
		var sid string
		if m != nil && m.session != nil {
			sid = string(m.session.ID())
		}
		logger.Debugf("NewFrame", "sid:%s fid:%s pfid:%s", sid, frameID, pfid)
	}

	f := &Frame{
		BaseEventEmitter:       NewBaseEventEmitter(ctx),
		ctx:                    ctx,
		page:                   m.page,
		manager:                m,
		parentFrame:            parentFrame,
		childFrames:            make(map[*Frame]bool),
		id:                     frameID,
		session:                m.session,
		lifecycleEvents:        make(map[LifecycleEvent]bool),
		subtreeLifecycleEvents: make(map[LifecycleEvent]bool),
		currentDocument:        &DocumentInfo{},
		logger:                 logger,
	}
	f.mainWorld = newWorld(mainWorld, f, logger)
	f.utilityWorld = newWorld(utilityWorld, f, logger)

	return f
}

func (f *Frame) addChildFrame(child *Frame) {
	f.logger.Debugf("Frame:addChildFrame",
		"fid:%s cfid:%s furl:%q cfurl:%q",
		f.ID(), child.ID(), f.URL(), child.URL())

	f.childFramesMu.Lock()
	defer f.childFramesMu.Unlock()

	f.childFrames[child] = true
}

func (f *Frame) removeChildFrame(child *Frame) {
	f.logger.Debugf("Frame:removeChildFrame",
		"fid:%s cfid:%s furl:%q cfurl:%q",
		f.ID(), child.ID(), f.URL(), child.URL())

	f.childFramesMu.Lock()
	defer f.childFramesMu.Unlock()

	delete(f.childFrames, child)
}

// ChildFrames returns a list of child frames.
func (f *Frame) ChildFrames() []*Frame {
	f.childFramesMu.RLock()
	defer f.childFramesMu.RUnlock()

	l := make([]*Frame, 0, len(f.childFrames))
	for child := range f.childFrames {
		l = append(l, child)
	}
	return l
}

func (f *Frame) clearLifecycle() {
	f.logger.Debugf("Frame:clearLifecycle", "fid:%s furl:%q", f.ID(), f.URL())

	f.lifecycleEventsMu.Lock()
	f.lifecycleEvents = make(map[LifecycleEvent]bool)
	f.lifecycleEventsMu.Unlock()

	if mf := f.manager.MainFrame(); mf != nil {
		mf.recalculateLifecycle()
	}
}

// detach marks the frame as detached, removes it from its parent and
// invalidates its worlds. Callers awaiting a world context are failed
// instead of being left pending on a tree mutation that already
// happened.
func (f *Frame) detach() {
	f.logger.Debugf("Frame:detach", "fid:%s furl:%q", f.ID(), f.URL())

	f.propertiesMu.Lock()
	f.detached = true
	f.propertiesMu.Unlock()

	if parent := f.ParentFrame(); parent != nil {
		parent.removeChildFrame(f)
	}
	f.propertiesMu.Lock()
	f.parentFrame = nil
	f.propertiesMu.Unlock()

	f.mainWorld.clearContext()
	f.utilityWorld.clearContext()
}

// navigated updates the frame after a committed navigation. A new loader
// id means a new document: the worlds' contexts are stale and cleared.
func (f *Frame) navigated(name string, url string, loaderID string) {
	f.logger.Debugf("Frame:navigated", "fid:%s furl:%q lid:%s", f.ID(), url, loaderID)

	f.propertiesMu.Lock()
	newDocument := f.loaderID != loaderID
	f.name = name
	f.url = url
	f.loaderID = loaderID
	f.propertiesMu.Unlock()

	if newDocument {
		f.clearWorlds()
	}

	f.page.emit(EventPageFrameNavigated, f)
}

func (f *Frame) onLifecycleEvent(event LifecycleEvent) {
	f.logger.Debugf("Frame:onLifecycleEvent", "fid:%s furl:%q event:%s", f.ID(), f.URL(), event)

	f.lifecycleEventsMu.Lock()
	if ok := f.lifecycleEvents[event]; ok {
		f.lifecycleEventsMu.Unlock()
		return
	}
	f.lifecycleEvents[event] = true
	f.lifecycleEventsMu.Unlock()

	if mf := f.manager.MainFrame(); mf != nil {
		mf.recalculateLifecycle()
	}
}

func (f *Frame) onLoadingStopped() {
	f.logger.Debugf("Frame:onLoadingStopped", "fid:%s furl:%q", f.ID(), f.URL())

	f.lifecycleEventsMu.Lock()
	defer f.lifecycleEventsMu.Unlock()

	f.lifecycleEvents[LifecycleEventDOMContentLoad] = true
	f.lifecycleEvents[LifecycleEventLoad] = true
	f.lifecycleEvents[LifecycleEventNetworkIdle] = true
}

func (f *Frame) hasLifecycleEventFired(event LifecycleEvent) bool {
	f.lifecycleEventsMu.RLock()
	defer f.lifecycleEventsMu.RUnlock()

	return f.lifecycleEvents[event]
}

func (f *Frame) hasSubtreeLifecycleEventFired(event LifecycleEvent) bool {
	f.lifecycleEventsMu.RLock()
	defer f.lifecycleEventsMu.RUnlock()

	return f.subtreeLifecycleEvents[event]
}

func (f *Frame) recalculateLifecycle() {
	// Start with triggered events.
	events := make(map[LifecycleEvent]bool)
	f.lifecycleEventsMu.RLock()
	for k, v := range f.lifecycleEvents {
		events[k] = v
	}
	f.lifecycleEventsMu.RUnlock()

	// Only consider a life cycle event as fired if it has triggered for
	// all of the subtree.
	for _, child := range f.ChildFrames() {
		child.recalculateLifecycle()
		for k := range events {
			if !child.hasSubtreeLifecycleEventFired(k) {
				delete(events, k)
			}
		}
	}

	// Check if any of the fired events should be considered fired when
	// looking at the entire subtree.
	mainFrame := f.manager.MainFrame()
	for k := range events {
		if f.hasSubtreeLifecycleEventFired(k) {
			continue
		}
		f.emit(EventFrameAddLifecycle, FrameLifecycleEvent{URL: f.URL(), Event: k})

		if f != mainFrame {
			continue
		}
		switch k {
		case LifecycleEventLoad:
			f.page.emit(EventPageLoad, nil)
		case LifecycleEventDOMContentLoad:
			f.page.emit(EventPageDOMContentLoaded, nil)
		}
	}

	// Emit removal events.
	f.lifecycleEventsMu.RLock()
	for k := range f.subtreeLifecycleEvents {
		if ok := events[k]; !ok {
			f.emit(EventFrameRemoveLifecycle, FrameLifecycleEvent{URL: f.URL(), Event: k})
		}
	}
	f.lifecycleEventsMu.RUnlock()

	f.lifecycleEventsMu.Lock()
	f.subtreeLifecycleEvents = make(map[LifecycleEvent]bool)
	for k, v := range events {
		f.subtreeLifecycleEvents[k] = v
	}
	f.lifecycleEventsMu.Unlock()
}

func (f *Frame) setID(id cdp.FrameID) {
	f.propertiesMu.Lock()
	defer f.propertiesMu.Unlock()

	f.id = id
}

func (f *Frame) setURL(url string) {
	f.propertiesMu.Lock()
	defer f.propertiesMu.Unlock()

	f.url = url
}

func (f *Frame) setSession(s session) {
	f.sessionMu.Lock()
	defer f.sessionMu.Unlock()

	f.session = s
}

func (f *Frame) getSession() session {
	f.sessionMu.RLock()
	defer f.sessionMu.RUnlock()

	return f.session
}

func (f *Frame) world(world executionWorld) *World {
	switch world {
	case mainWorld:
		return f.mainWorld
	case utilityWorld:
		return f.utilityWorld
	}
	return nil
}

func (f *Frame) hasContext(world executionWorld) bool {
	w := f.world(world)
	return w != nil && w.hasContext()
}

func (f *Frame) setContext(world executionWorld, ec *ExecutionContext) {
	if w := f.world(world); w != nil {
		w.setContext(ec)
	}
}

// nullContext clears whichever world owns the given execution context.
func (f *Frame) nullContext(execCtxID runtime.ExecutionContextID) {
	if ec := f.mainWorld.getContext(); ec != nil && ec.ID() == execCtxID {
		f.mainWorld.clearContext()
		return
	}
	if ec := f.utilityWorld.getContext(); ec != nil && ec.ID() == execCtxID {
		f.utilityWorld.clearContext()
	}
}

func (f *Frame) clearWorlds() {
	f.mainWorld.clearContext()
	f.utilityWorld.clearContext()
}

// Evaluate runs js in the frame's utility world, invisible to page
// script, and returns its value.
func (f *Frame) Evaluate(ctx context.Context, js string, args ...any) (any, error) {
	return f.evaluateIn(ctx, utilityWorld, js, args...)
}

// EvaluateMain runs js in the frame's main world, the page's own script
// realm, and returns its value.
func (f *Frame) EvaluateMain(ctx context.Context, js string, args ...any) (any, error) {
	return f.evaluateIn(ctx, mainWorld, js, args...)
}

func (f *Frame) evaluateIn(ctx context.Context, world executionWorld, js string, args ...any) (any, error) {
	f.logger.Debugf("Frame:evaluateIn", "fid:%s furl:%q world:%s", f.ID(), f.URL(), world)

	if f.IsDetached() {
		return nil, ErrFrameDetached
	}
	w := f.world(world)
	ec, err := w.waitForContext(ctx, f.manager.timeoutSettings.timeout())
	if err != nil {
		return nil, err
	}
	return ec.Eval(ctx, js, args...)
}

// WaitForNavigation waits for the frame's next committed navigation and
// returns its URL.
func (f *Frame) WaitForNavigation(ctx context.Context, timeout time.Duration) (string, error) {
	f.logger.Debugf("Frame:WaitForNavigation", "fid:%s furl:%q", f.ID(), f.URL())

	if timeout <= 0 {
		timeout = f.manager.timeoutSettings.navigationTimeout()
	}
	data, err := waitForEvent(ctx, f, []string{EventFrameNavigation}, func(data any) bool {
		_, ok := data.(*NavigationEvent)
		return ok
	}, timeout)
	if err != nil {
		return "", err
	}
	ne := data.(*NavigationEvent)
	if ne.err != nil {
		return "", ne.err
	}
	return ne.url, nil
}

// ID returns the frame id.
func (f *Frame) ID() cdp.FrameID {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()

	return f.id
}

// LoaderID returns the ID of the frame's current document.
func (f *Frame) LoaderID() string {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()

	return f.loaderID
}

// Name returns the frame name.
func (f *Frame) Name() string {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()

	return f.name
}

// URL returns the frame URL.
func (f *Frame) URL() string {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()

	return f.url
}

// IsDetached returns whether the frame is detached from the frame tree.
func (f *Frame) IsDetached() bool {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()

	return f.detached
}

// ParentFrame returns the parent frame, if one exists.
func (f *Frame) ParentFrame() *Frame {
	f.propertiesMu.RLock()
	defer f.propertiesMu.RUnlock()

	return f.parentFrame
}

// IsMainFrame reports whether the frame is the top frame of its page.
func (f *Frame) IsMainFrame() bool {
	return f.ParentFrame() == nil
}
