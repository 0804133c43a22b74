package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"

	"github.com/edwinans/puppeteer/log"
)

// pendingSwap holds a frame whose session disconnected while we wait for
// a replacement session to claim it.
type pendingSwap struct {
	frame *Frame
	timer *time.Timer
}

// FrameManager manages all frames in a page and their life-cycles, it's a purely internal component.
type FrameManager struct {
	ctx             context.Context
	session         session
	page            *Page
	timeoutSettings *TimeoutSettings

	// protects from the data race between frame lifecycle
	// recalculation and CDP event handling.
	mainFrameMu sync.RWMutex
	mainFrame   *Frame

	// Needed as the frames map will be accessed from multiple Go
	// routines, the caller's go routine and the go routine listening
	// for CDP messages.
	framesMu sync.RWMutex
	frames   map[cdp.FrameID]*Frame

	// Callers waiting for a frame that has not attached yet.
	frameWaitersMu sync.Mutex
	frameWaiters   map[cdp.FrameID][]*Deferred

	// Frames held in the swap grace window, keyed by frame id at the
	// time of disconnect.
	pendingSwapsMu sync.Mutex
	pendingSwaps   map[cdp.FrameID]*pendingSwap

	barriersMu sync.RWMutex
	barriers   []*Barrier

	logger *log.Logger
	id     int64
}

// frameManagerID is used for giving a unique ID to a frame manager.
var frameManagerID int64 //nolint:gochecknoglobals

// NewFrameManager creates a new HTML document frame manager.
func NewFrameManager(
	ctx context.Context,
	s session,
	p *Page,
	ts *TimeoutSettings,
	l *log.Logger,
) *FrameManager {
	m := &FrameManager{
		ctx:             ctx,
		session:         s,
		page:            p,
		timeoutSettings: ts,
		frames:          make(map[cdp.FrameID]*Frame),
		frameWaiters:    make(map[cdp.FrameID][]*Deferred),
		pendingSwaps:    make(map[cdp.FrameID]*pendingSwap),
		barriers:        make([]*Barrier, 0),
		logger:          l,
		id:              atomic.AddInt64(&frameManagerID, 1),
	}

	m.logger.Debugf("FrameManager:New", "fmid:%d", m.ID())

	return m
}

func (m *FrameManager) addBarrier(b *Barrier) {
	m.logger.Debugf("FrameManager:addBarrier", "fmid:%d", m.ID())

	m.barriersMu.Lock()
	defer m.barriersMu.Unlock()
	m.barriers = append(m.barriers, b)
}

func (m *FrameManager) removeBarrier(b *Barrier) {
	m.logger.Debugf("FrameManager:removeBarrier", "fmid:%d", m.ID())

	m.barriersMu.Lock()
	defer m.barriersMu.Unlock()
	index := -1
	for i, b2 := range m.barriers {
		if b == b2 {
			index = i
			break
		}
	}
	if index == -1 {
		return
	}
	m.barriers = append(m.barriers[:index], m.barriers[index+1:]...)
}

// addFrame registers the frame and resolves every caller that was
// waiting for it to attach.
func (m *FrameManager) addFrame(frame *Frame) {
	m.framesMu.Lock()
	m.frames[frame.ID()] = frame
	m.framesMu.Unlock()

	m.frameWaitersMu.Lock()
	waiters := m.frameWaiters[frame.ID()]
	delete(m.frameWaiters, frame.ID())
	m.frameWaitersMu.Unlock()

	for _, d := range waiters {
		d.resolve(frame)
	}
}

func (m *FrameManager) frameAbortedNavigation(frameID cdp.FrameID, errorText, documentID string) {
	m.logger.Debugf("FrameManager:frameAbortedNavigation",
		"fmid:%d fid:%v err:%s docid:%s",
		m.ID(), frameID, errorText, documentID)

	frame, ok := m.getFrameByID(frameID)
	if !ok {
		return
	}

	frame.pendingDocumentMu.Lock()

	if frame.pendingDocument == nil {
		frame.pendingDocumentMu.Unlock()
		return
	}
	if documentID != "" && frame.pendingDocument.documentID != documentID {
		frame.pendingDocumentMu.Unlock()
		return
	}

	m.logger.Debugf("FrameManager:frameAbortedNavigation:emit:EventFrameNavigation",
		"fmid:%d fid:%v err:%s docid:%s fname:%s furl:%s",
		m.ID(), frameID, errorText, documentID, frame.Name(), frame.URL())

	ne := &NavigationEvent{
		url:         frame.URL(),
		name:        frame.Name(),
		newDocument: frame.pendingDocument,
		err:         errors.New(errorText),
	}
	frame.pendingDocument = nil

	frame.pendingDocumentMu.Unlock()

	frame.emit(EventFrameNavigation, ne)
}

// frameAttached creates a frame under the given parent. Attach events
// are idempotent: a duplicate observation of a frame that already exists
// (two sessions racing to report the same frame) only rebinds the
// frame's backing session, it never creates a second Frame object.
func (m *FrameManager) frameAttached(frameID cdp.FrameID, parentFrameID cdp.FrameID, s session) {
	m.logger.Debugf("FrameManager:frameAttached", "fmid:%d fid:%v pfid:%v",
		m.ID(), frameID, parentFrameID)

	m.framesMu.Lock()
	if frame, ok := m.frames[frameID]; ok {
		m.framesMu.Unlock()
		m.logger.Debugf("FrameManager:frameAttached:duplicate",
			"fmid:%d fid:%v pfid:%v frame already exists",
			m.ID(), frameID, parentFrameID)

		if s != nil {
			frame.setSession(s)
		}
		return
	}
	parentFrame, ok := m.frames[parentFrameID]
	m.framesMu.Unlock()
	if !ok {
		// Out-of-order event: the parent is not known (yet). The frame
		// will be picked up when the frame-tree snapshot is replayed.
		return
	}

	frame := NewFrame(m.ctx, m, parentFrame, frameID, m.logger)
	if s != nil {
		frame.setSession(s)
	}
	m.addFrame(frame)
	parentFrame.addChildFrame(frame)

	m.logger.Debugf("FrameManager:frameAttached:emit:EventPageFrameAttached",
		"fmid:%d fid:%v pfid:%v", m.ID(), frameID, parentFrameID)
	m.page.emit(EventPageFrameAttached, frame)
}

func (m *FrameManager) frameDetached(frameID cdp.FrameID, reason cdppage.FrameDetachedReason) error {
	m.logger.Debugf("FrameManager:frameDetached", "fmid:%d fid:%v", m.ID(), frameID)

	frame, ok := m.getFrameByID(frameID)
	if !ok {
		m.logger.Debugf("FrameManager:frameDetached:return",
			"fmid:%d fid:%v cannot find frame",
			m.ID(), frameID)
		return nil
	}

	if reason == cdppage.FrameDetachedReasonSwap {
		// When a local frame is swapped out for a remote frame, we want
		// to keep the current frame which is still referenced by the
		// (incoming) remote frame, but remove all its child frames.
		return m.removeChildFramesRecursively(frame)
	}

	return m.removeFramesRecursively(frame)
}

// frameLifecycleEvent applies a lifecycle event to a frame. Events
// carrying a loader id that is not the frame's current document are
// late arrivals for a torn-down document and are dropped.
func (m *FrameManager) frameLifecycleEvent(frameID cdp.FrameID, loaderID string, event LifecycleEvent) {
	m.logger.Debugf("FrameManager:frameLifecycleEvent",
		"fmid:%d fid:%v lid:%s event:%s",
		m.ID(), frameID, loaderID, lifecycleEventToString[event])

	frame, ok := m.getFrameByID(frameID)
	if !ok {
		return
	}
	if loaderID != "" && frame.LoaderID() != loaderID {
		m.logger.Debugf("FrameManager:frameLifecycleEvent:staleLoader",
			"fmid:%d fid:%v lid:%s flid:%s dropping",
			m.ID(), frameID, loaderID, frame.LoaderID())
		return
	}
	frame.onLifecycleEvent(event)
}

func (m *FrameManager) frameLoadingStopped(frameID cdp.FrameID) {
	m.logger.Debugf("FrameManager:frameLoadingStopped",
		"fmid:%d fid:%v", m.ID(), frameID)

	frame, ok := m.getFrameByID(frameID)
	if ok {
		frame.onLoadingStopped()
	}
}

//nolint:funlen
func (m *FrameManager) frameNavigated(
	frameID cdp.FrameID, parentFrameID cdp.FrameID, documentID string, name string, url string, initial bool,
) error {
	m.logger.Debugf("FrameManager:frameNavigated",
		"fmid:%d fid:%v pfid:%v docid:%s fname:%s furl:%s initial:%t",
		m.ID(), frameID, parentFrameID, documentID, name, url, initial)

	isMainFrame := parentFrameID == ""
	frame, _ := m.getFrameByID(frameID)
	if isMainFrame && frame == nil {
		// A cross-process commit arrives under the new renderer's frame
		// id, which we have never seen. The main frame keeps its identity
		// across such commits: pick up the existing object so it gets
		// re-keyed below instead of being shadowed by a fresh one.
		frame = m.MainFrame()
	}

	if !isMainFrame && frame == nil {
		// The frame is not known, likely because the browser didn't send
		// a frameAttached event ahead of time. The frame will be
		// initialized when the frame-tree snapshot is replayed, which
		// calls onFrameAttached and onFrameNavigated.
		m.logger.Debugf("FrameManager:frameNavigated:nil frame",
			"fmid:%d fid:%v pfid:%v docid:%s",
			m.ID(), frameID, parentFrameID, documentID)
		return nil
	}

	// A committed navigation tears down the previous document's subtree:
	// children are removed first, deepest first.
	if frame != nil {
		for _, child := range frame.ChildFrames() {
			if err := m.removeFramesRecursively(child); err != nil {
				return fmt.Errorf("removing child frames recursively: %w", err)
			}
		}
	}

	if isMainFrame {
		switch {
		case frame == nil:
			// Initial main frame navigation.
			frame = NewFrame(m.ctx, m, nil, frameID, m.logger)
		case frame.ID() != frameID:
			// Update frame ID to retain frame identity on
			// cross-process navigation.
			m.framesMu.Lock()
			delete(m.frames, frame.ID())
			m.framesMu.Unlock()
			frame.setID(frameID)
		}
		m.addFrame(frame)
		m.setMainFrame(frame)
	}

	frame.navigated(name, url, documentID)

	frame.pendingDocumentMu.Lock()

	var (
		keepPending     *DocumentInfo
		pendingDocument = frame.pendingDocument
	)
	if pendingDocument != nil {
		if pendingDocument.documentID == "" {
			pendingDocument.documentID = documentID
		}
		if pendingDocument.documentID == documentID {
			// Committing a pending document.
			frame.currentDocument = pendingDocument
			frame.currentDocument.url = url
		} else {
			// Sometimes, we already have a new pending when the old one
			// commits: e.g. a Chromium error page commit arriving after
			// the navigation request for the page that replaces it. We
			// commit, but keep the pending request since it's not done
			// yet.
			keepPending = pendingDocument
			frame.currentDocument = &DocumentInfo{documentID: documentID, url: url}
		}
		frame.pendingDocument = nil
	} else {
		// No pending, just commit a new document.
		frame.currentDocument = &DocumentInfo{documentID: documentID, url: url}
	}
	currentDocument := frame.currentDocument
	frame.pendingDocumentMu.Unlock()

	frame.clearLifecycle()
	frame.emit(EventFrameNavigation, &NavigationEvent{url: url, name: name, newDocument: currentDocument})

	// Restore pending if any (see comments above about keepPending).
	frame.pendingDocumentMu.Lock()
	frame.pendingDocument = keepPending
	frame.pendingDocumentMu.Unlock()

	return nil
}

// frameNavigatedWithinDocument handles a same-document navigation: the
// URL changes without a new loader, so worlds and lifecycle state are
// kept.
func (m *FrameManager) frameNavigatedWithinDocument(frameID cdp.FrameID, url string) {
	m.logger.Debugf("FrameManager:frameNavigatedWithinDocument",
		"fmid:%d fid:%v url:%s", m.ID(), frameID, url)

	frame, ok := m.getFrameByID(frameID)
	if !ok {
		m.logger.Debugf("FrameManager:frameNavigatedWithinDocument:nilFrame:return",
			"fmid:%d fid:%v url:%s", m.ID(), frameID, url)
		return
	}

	frame.setURL(url)
	frame.emit(EventFrameNavigation, &NavigationEvent{url: url, name: frame.Name()})
	m.page.emit(EventPageFrameNavigated, frame)
}

func (m *FrameManager) frameRequestedNavigation(frameID cdp.FrameID, url string, documentID string) error {
	m.logger.Debugf("FrameManager:frameRequestedNavigation",
		"fmid:%d fid:%v url:%s docid:%s", m.ID(), frameID, url, documentID)

	frame, ok := m.getFrameByID(frameID)
	if !ok {
		// A EventFrameRequestedNavigation CDP event on a stale frame
		// that no longer exists in memory.
		return nil
	}

	m.barriersMu.RLock()
	for _, b := range m.barriers {
		b.AddFrameNavigation(frame)
	}
	m.barriersMu.RUnlock()

	frame.pendingDocumentMu.Lock()
	defer frame.pendingDocumentMu.Unlock()

	if frame.pendingDocument != nil && frame.pendingDocument.documentID == documentID {
		// Do not override the pending document.
		return nil
	}

	frame.pendingDocument = &DocumentInfo{documentID: documentID, url: url}
	return nil
}

// frameSessionDisconnected begins the swap protocol for the frame whose
// backing session went away. The frame's children are detached
// immediately: out-of-process children get fresh targets, so their
// identity cannot be preserved. The frame itself is held for the swap
// grace window; if no replacement session claims it in time, it is
// removed as if the browser had sent an explicit removal.
func (m *FrameManager) frameSessionDisconnected(frameID cdp.FrameID) error {
	m.logger.Debugf("FrameManager:frameSessionDisconnected", "fmid:%d fid:%v", m.ID(), frameID)

	frame, ok := m.getFrameByID(frameID)
	if !ok {
		return nil
	}

	if err := m.removeChildFramesRecursively(frame); err != nil {
		return fmt.Errorf("detaching children of disconnected frame: %w", err)
	}

	window := m.timeoutSettings.swapGraceWindow()

	m.pendingSwapsMu.Lock()
	defer m.pendingSwapsMu.Unlock()

	if _, ok := m.pendingSwaps[frameID]; ok {
		return nil
	}
	ps := &pendingSwap{frame: frame}
	ps.timer = time.AfterFunc(window, func() {
		m.swapTimedOut(frameID)
	})
	m.pendingSwaps[frameID] = ps

	return nil
}

// swapTimedOut removes a frame whose swap grace window elapsed without a
// replacement session claiming it.
func (m *FrameManager) swapTimedOut(frameID cdp.FrameID) {
	m.pendingSwapsMu.Lock()
	ps, ok := m.pendingSwaps[frameID]
	delete(m.pendingSwaps, frameID)
	m.pendingSwapsMu.Unlock()
	if !ok {
		return
	}

	m.logger.Debugf("FrameManager:swapTimedOut", "fmid:%d fid:%v removing", m.ID(), frameID)

	if err := m.removeFramesRecursively(ps.frame); err != nil {
		m.logger.Errorf("FrameManager:swapTimedOut", "fmid:%d fid:%v err:%v", m.ID(), frameID, err)
	}
}

// frameSwapped rebinds a held frame to its replacement session. The
// Frame object's identity is kept: callers holding the old reference
// keep working. Its id becomes the new target's id, its worlds are
// cleared (new realms will be created under the new session), and no
// fresh attach notification is emitted.
func (m *FrameManager) frameSwapped(frameID cdp.FrameID, newFrameID cdp.FrameID, s session) bool {
	m.logger.Debugf("FrameManager:frameSwapped", "fmid:%d fid:%v nfid:%v", m.ID(), frameID, newFrameID)

	m.pendingSwapsMu.Lock()
	ps, ok := m.pendingSwaps[frameID]
	if ok {
		ps.timer.Stop()
		delete(m.pendingSwaps, frameID)
	}
	m.pendingSwapsMu.Unlock()
	if !ok {
		return false
	}

	frame := ps.frame
	if frameID != newFrameID {
		m.framesMu.Lock()
		delete(m.frames, frameID)
		m.framesMu.Unlock()
		frame.setID(newFrameID)
		m.addFrame(frame)
	}
	frame.setSession(s)
	frame.clearWorlds()

	if frame.IsMainFrame() {
		m.setMainFrame(frame)
	}

	return true
}

// mainFramePendingSwap returns the id under which the main frame is held
// in the swap grace window, if it is held at all.
func (m *FrameManager) mainFramePendingSwap() (cdp.FrameID, bool) {
	m.pendingSwapsMu.Lock()
	defer m.pendingSwapsMu.Unlock()

	for id, ps := range m.pendingSwaps {
		if ps.frame.IsMainFrame() {
			return id, true
		}
	}
	return "", false
}

// getFrameByID finds a frame with id. If found, it returns the frame and true,
// otherwise, it returns nil and false.
func (m *FrameManager) getFrameByID(id cdp.FrameID) (*Frame, bool) {
	m.framesMu.RLock()
	defer m.framesMu.RUnlock()

	frame, ok := m.frames[id]

	return frame, ok
}

// WaitForFrame returns the frame with the given id, waiting for it to
// attach if it hasn't yet. A frame that never attaches surfaces as
// ErrTimedOut; a frame removed while being awaited surfaces as
// ErrTargetClosed.
func (m *FrameManager) WaitForFrame(ctx context.Context, id cdp.FrameID, timeout time.Duration) (*Frame, error) {
	m.logger.Debugf("FrameManager:WaitForFrame", "fmid:%d fid:%v", m.ID(), id)

	if timeout <= 0 {
		timeout = m.timeoutSettings.timeout()
	}

	m.frameWaitersMu.Lock()
	if frame, ok := m.getFrameByID(id); ok {
		m.frameWaitersMu.Unlock()
		return frame, nil
	}
	d := NewDeferred()
	m.frameWaiters[id] = append(m.frameWaiters[id], d)
	m.frameWaitersMu.Unlock()

	v, err := d.wait(ctx, timeout)
	if err != nil {
		// The wait expired on the caller's side: drop the registration so
		// repeated timeouts don't accumulate dead waiters.
		m.frameWaitersMu.Lock()
		waiters := m.frameWaiters[id]
		for i, w := range waiters {
			if w == d {
				m.frameWaiters[id] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(m.frameWaiters[id]) == 0 {
			delete(m.frameWaiters, id)
		}
		m.frameWaitersMu.Unlock()
		return nil, err
	}
	return v.(*Frame), nil
}

func (m *FrameManager) removeChildFramesRecursively(frame *Frame) error {
	for _, child := range frame.ChildFrames() {
		if err := m.removeFramesRecursively(child); err != nil {
			return fmt.Errorf("removing child frames recursively: %w", err)
		}
	}

	return nil
}

// removeFramesRecursively removes the frame and its whole subtree,
// deepest frames first, so no child ever outlives its parent in the
// tree.
func (m *FrameManager) removeFramesRecursively(frame *Frame) error {
	for _, child := range frame.ChildFrames() {
		m.logger.Debugf("FrameManager:removeFramesRecursively",
			"fmid:%d cfid:%v pfid:%v cfname:%s cfurl:%s",
			m.ID(), child.ID(), frame.ID(), child.Name(), child.URL())

		if err := m.removeFramesRecursively(child); err != nil {
			return fmt.Errorf("removing frames recursively: %w", err)
		}
	}

	frame.detach()

	m.framesMu.Lock()
	m.logger.Debugf("FrameManager:removeFramesRecursively:delParentFrame",
		"fmid:%d fid:%v fname:%s furl:%s",
		m.ID(), frame.ID(), frame.Name(), frame.URL())

	delete(m.frames, frame.ID())
	m.framesMu.Unlock()

	// Callers awaiting this frame's attach will never see it.
	m.frameWaitersMu.Lock()
	waiters := m.frameWaiters[frame.ID()]
	delete(m.frameWaiters, frame.ID())
	m.frameWaitersMu.Unlock()
	for _, d := range waiters {
		d.reject(ErrTargetClosed)
	}

	m.page.emit(EventPageFrameDetached, frame)

	return nil
}

// Frames returns a list of frames on the page.
func (m *FrameManager) Frames() []*Frame {
	m.framesMu.RLock()
	defer m.framesMu.RUnlock()
	frames := make([]*Frame, 0, len(m.frames))
	for _, frame := range m.frames {
		frames = append(frames, frame)
	}
	return frames
}

// MainFrame returns the main frame of the page.
func (m *FrameManager) MainFrame() *Frame {
	m.mainFrameMu.RLock()
	defer m.mainFrameMu.RUnlock()

	return m.mainFrame
}

// setMainFrame sets the main frame of the page.
func (m *FrameManager) setMainFrame(f *Frame) {
	m.mainFrameMu.Lock()
	defer m.mainFrameMu.Unlock()

	m.logger.Debugf("FrameManager:setMainFrame",
		"fmid:%d fid:%v furl:%s",
		m.ID(), f.ID(), f.URL())

	m.mainFrame = f
}

// MainFrameURL returns the main frame's url.
func (m *FrameManager) MainFrameURL() string {
	m.mainFrameMu.RLock()
	defer m.mainFrameMu.RUnlock()

	return m.mainFrame.URL()
}

// NavigateFrame will navigate specified frame to specified URL.
//
//nolint:funlen
func (m *FrameManager) NavigateFrame(frame *Frame, url string, opts *FrameGotoOptions) error {
	var (
		fmid = m.ID()
		fid  = frame.ID()
		furl = frame.URL()
	)
	m.logger.Debugf("FrameManager:NavigateFrame",
		"fmid:%d fid:%v furl:%s url:%s", fmid, fid, furl, url)
	defer m.logger.Debugf("FrameManager:NavigateFrame:return",
		"fmid:%d fid:%v furl:%s url:%s", fmid, fid, furl, url)

	if opts == nil {
		opts = &FrameGotoOptions{WaitUntil: LifecycleEventLoad}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.timeoutSettings.navigationTimeout()
	}

	timeoutCtx, timeoutCancelFn := context.WithTimeout(m.ctx, timeout)
	defer timeoutCancelFn()

	// Track navigations requested while ours is in flight, such as an
	// immediate client-side redirect, so they reach commit before we
	// report the navigation done.
	barrier := NewBarrier()
	m.addBarrier(barrier)
	defer m.removeBarrier(barrier)

	newDocIDCh := make(chan string, 1)
	navEvtCh, navEvtCancel := createWaitForEventHandler(
		timeoutCtx, frame, []string{EventFrameNavigation},
		func(data any) bool {
			newDocID := <-newDocIDCh
			if evt, ok := data.(*NavigationEvent); ok {
				if evt.newDocument != nil {
					return evt.newDocument.documentID == newDocID
				}
			}
			return false
		})
	defer navEvtCancel(nil)

	lifecycleEvtCh, lifecycleEvtCancel := createWaitForEventPredicateHandler(
		timeoutCtx, frame, []string{EventFrameAddLifecycle},
		func(data any) bool {
			le, ok := data.(FrameLifecycleEvent)
			if !ok {
				return false
			}
			// Skip the initial blank page if we are navigating to a
			// non-blank page. Otherwise, we will get a lifecycle event
			// for the initial blank page and return prematurely before
			// waiting for the navigation to complete.
			if url != BlankPage && le.URL == BlankPage {
				return false
			}

			return le.Event == opts.WaitUntil
		})
	defer lifecycleEvtCancel(nil)

	fs := m.page.getFrameSession(frame.ID())
	if fs == nil {
		// Attaching an iframe to an existing page doesn't seem to
		// trigger a "Target.attachedToTarget" event from the browser
		// even when "Target.setAutoAttach" is true. If this is the case
		// fall back to the main frame's session.
		fs = m.page.mainFrameSession
	}
	newDocumentID, err := fs.navigateFrame(frame, url, opts.Referer)
	if err != nil {
		return fmt.Errorf("navigating to %q: %w", url, err)
	}

	if newDocumentID == "" {
		// It's a navigation within the same document (e.g. via anchor
		// links or the History API), so don't wait for a new document
		// nor any lifecycle events.
		return nil
	}

	// Unblock the waiter goroutine.
	newDocIDCh <- newDocumentID

	wrapTimeoutError := func(err error) error {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("navigating to %q: %w", url, ErrTimedOut)
		}
		m.logger.Debugf("FrameManager:NavigateFrame",
			"fmid:%d fid:%v furl:%s url:%s timeoutCtx done: %v",
			fmid, fid, furl, url, err)

		return err
	}

	select {
	case evt := <-navEvtCh:
		if e, ok := evt.(*NavigationEvent); ok && e.err != nil {
			return e.err
		}
	case <-timeoutCtx.Done():
		return wrapTimeoutError(timeoutCtx.Err())
	}

	select {
	case <-lifecycleEvtCh:
	case <-timeoutCtx.Done():
		return wrapTimeoutError(timeoutCtx.Err())
	}

	if err := barrier.Wait(timeoutCtx); err != nil {
		return fmt.Errorf("navigating to %q: %w", url, err)
	}

	return nil
}

// WaitForFrameNavigation waits for the given navigation lifecycle event to happen.
func (m *FrameManager) WaitForFrameNavigation(frame *Frame, timeout time.Duration) (*NavigationEvent, error) {
	m.logger.Debugf("FrameManager:WaitForFrameNavigation",
		"fmid:%d fid:%s furl:%s", m.ID(), frame.ID(), frame.URL())

	if timeout <= 0 {
		timeout = m.timeoutSettings.navigationTimeout()
	}
	data, err := waitForEvent(m.ctx, frame, []string{EventFrameNavigation},
		func(data any) bool {
			ne, ok := data.(*NavigationEvent)
			return ok && ne.newDocument != nil
		}, timeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for frame navigation: %w", err)
	}
	ne, _ := data.(*NavigationEvent)
	if ne.err != nil {
		return nil, ne.err
	}
	return ne, nil
}

// Page returns the page that this frame manager belongs to.
func (m *FrameManager) Page() *Page {
	return m.page
}

// ID returns the unique ID of a FrameManager value.
func (m *FrameManager) ID() int64 {
	return atomic.LoadInt64(&m.id)
}
