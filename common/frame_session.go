package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	cdplog "github.com/chromedp/cdproto/log"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/edwinans/puppeteer/log"
)

/*
FrameSession is used for managing a frame's life-cycle, or in other words its full session.
It manages all the event listening while deferring the state storage to the Frame and FrameManager
structs.
*/
type FrameSession struct {
	ctx     context.Context
	session session
	page    *Page
	parent  *FrameSession
	manager *FrameManager

	targetID target.ID

	// To understand the concepts of Isolated Worlds, Contexts and Frames and
	// the relationship between them have a look at the following doc:
	// https://chromium.googlesource.com/chromium/src/+/master/third_party/blink/renderer/bindings/core/v8/V8BindingDesign.md
	contextIDToContextMu sync.Mutex
	contextIDToContext   map[cdpruntime.ExecutionContextID]*ExecutionContext
	isolatedWorlds       map[string]bool

	// Frames that committed a navigation via a live event while the
	// frame-tree snapshot request was in flight. The snapshot predates
	// those events, so its replay must skip them.
	snapshotMu            sync.Mutex
	snapshotPending       bool
	navigatedWhilePending map[cdp.FrameID]bool

	eventCh chan Event

	childSessions map[cdp.FrameID]*FrameSession

	logger *log.Logger
}

// NewFrameSession initializes and returns a new FrameSession.
func NewFrameSession(
	ctx context.Context, s session, p *Page, parent *FrameSession, tid target.ID, l *log.Logger,
) (*FrameSession, error) {
	l.Debugf("NewFrameSession", "sid:%v tid:%v", s.ID(), tid)

	fs := FrameSession{
		ctx:                ctx,
		session:            s,
		page:               p,
		parent:             parent,
		manager:            p.frameManager,
		targetID:           tid,
		contextIDToContext: make(map[cdpruntime.ExecutionContextID]*ExecutionContext),
		isolatedWorlds:     make(map[string]bool),
		eventCh:            make(chan Event),
		childSessions:      make(map[cdp.FrameID]*FrameSession),
		logger:             l,
	}

	if err := cdpruntime.RunIfWaitingForDebugger().Do(cdp.WithExecutor(fs.ctx, fs.session)); err != nil {
		return nil, fmt.Errorf("run if waiting for debugger to attach: %w", err)
	}

	fs.initEvents()
	if err := fs.initFrameTree(); err != nil {
		l.Debugf("NewFrameSession:initFrameTree",
			"sid:%v tid:%v err:%v", s.ID(), tid, err)
		return nil, err
	}
	if err := fs.initIsolatedWorld(utilityWorldName); err != nil {
		l.Debugf("NewFrameSession:initIsolatedWorld",
			"sid:%v tid:%v err:%v", s.ID(), tid, err)
		return nil, err
	}
	if err := fs.initDomains(); err != nil {
		l.Debugf("NewFrameSession:initDomains",
			"sid:%v tid:%v err:%v", s.ID(), tid, err)
		return nil, err
	}

	return &fs, nil
}

func (fs *FrameSession) initDomains() error {
	actions := []Action{
		cdplog.Enable(),
		cdpruntime.Enable(),
		target.SetAutoAttach(true, true).WithFlatten(true),
	}
	for _, action := range actions {
		if err := action.Do(cdp.WithExecutor(fs.ctx, fs.session)); err != nil {
			return fmt.Errorf("internal error while enabling %T: %w", action, err)
		}
	}
	return nil
}

func (fs *FrameSession) initEvents() {
	fs.logger.Debugf("NewFrameSession:initEvents",
		"sid:%v tid:%v", fs.session.ID(), fs.targetID)

	events := []string{
		cdproto.EventInspectorTargetCrashed,
	}
	fs.session.on(fs.ctx, events, fs.eventCh)
	if !fs.isMainFrame() {
		fs.initRendererEvents()
	}

	go func() {
		fs.logger.Debugf("NewFrameSession:initEvents:go",
			"sid:%v tid:%v", fs.session.ID(), fs.targetID)
		defer fs.logger.Debugf("NewFrameSession:initEvents:go:return",
			"sid:%v tid:%v", fs.session.ID(), fs.targetID)

		for {
			select {
			case <-fs.session.Done():
				fs.logger.Debugf("FrameSession:initEvents:go:session.done",
					"sid:%v tid:%v", fs.session.ID(), fs.targetID)
				fs.onSessionDone()
				return
			case <-fs.ctx.Done():
				fs.logger.Debugf("FrameSession:initEvents:go:ctx.Done",
					"sid:%v tid:%v", fs.session.ID(), fs.targetID)
				return
			case event := <-fs.eventCh:
				switch ev := event.data.(type) {
				case *inspector.EventTargetCrashed:
					fs.onTargetCrashed(ev)
				case *cdplog.EventEntryAdded:
					fs.onLogEntryAdded(ev)
				case *cdppage.EventFrameAttached:
					fs.onFrameAttached(ev.FrameID, ev.ParentFrameID)
				case *cdppage.EventFrameDetached:
					fs.onFrameDetached(ev.FrameID, ev.Reason)
				case *cdppage.EventFrameNavigated:
					fs.markNavigatedViaEvent(ev.Frame.ID)
					const initial = false
					fs.onFrameNavigated(ev.Frame, initial)
				case *cdppage.EventFrameRequestedNavigation:
					fs.onFrameRequestedNavigation(ev)
				case *cdppage.EventFrameStoppedLoading:
					fs.onFrameStoppedLoading(ev.FrameID)
				case *cdppage.EventLifecycleEvent:
					fs.onPageLifecycle(ev)
				case *cdppage.EventNavigatedWithinDocument:
					fs.onPageNavigatedWithinDocument(ev)
				case *cdpruntime.EventConsoleAPICalled:
					fs.onConsoleAPICalled(ev)
				case *cdpruntime.EventExecutionContextCreated:
					fs.onExecutionContextCreated(ev)
				case *cdpruntime.EventExecutionContextDestroyed:
					fs.onExecutionContextDestroyed(ev.ExecutionContextID)
				case *cdpruntime.EventExecutionContextsCleared:
					fs.onExecutionContextsCleared()
				case *target.EventAttachedToTarget:
					fs.onAttachedToTarget(ev)
				case *target.EventDetachedFromTarget:
					fs.onDetachedFromTarget(ev)
				}
			}
		}
	}()
}

func (fs *FrameSession) initFrameTree() error {
	fs.logger.Debugf("NewFrameSession:initFrameTree",
		"sid:%v tid:%v", fs.session.ID(), fs.targetID)

	action := cdppage.Enable()
	if err := action.Do(cdp.WithExecutor(fs.ctx, fs.session)); err != nil {
		return fmt.Errorf("enabling page domain: %w", err)
	}

	var frameTree *cdppage.FrameTree
	var err error

	// Recursively enumerate all existing frames in the page to create the
	// initial in-memory structures. Frames that commit a navigation via a
	// live event while the snapshot is in flight carry newer state than
	// the snapshot; handleFrameTree skips them on replay.
	fs.beginFrameTreeSnapshot()
	defer fs.endFrameTreeSnapshot()

	action2 := cdppage.GetFrameTree()
	if frameTree, err = action2.Do(cdp.WithExecutor(fs.ctx, fs.session)); err != nil {
		return fmt.Errorf("getting page frame tree: %w", err)
	} else if frameTree == nil {
		// This can happen with very short sessions when we might not
		// have enough time to initialize properly.
		return fmt.Errorf("got a nil page frame tree")
	}

	// Any new frame may have a child frame, not just mainframes.
	fs.handleFrameTree(frameTree, fs.isMainFrame())

	if fs.isMainFrame() {
		fs.initRendererEvents()
	}
	return nil
}

func (fs *FrameSession) initIsolatedWorld(name string) error {
	fs.logger.Debugf("NewFrameSession:initIsolatedWorld",
		"sid:%v tid:%v", fs.session.ID(), fs.targetID)

	action := cdppage.SetLifecycleEventsEnabled(true)
	if err := action.Do(cdp.WithExecutor(fs.ctx, fs.session)); err != nil {
		return fmt.Errorf("enabling page lifecycle events: %w", err)
	}

	if _, ok := fs.isolatedWorlds[name]; ok {
		fs.logger.Debugf("NewFrameSession:initIsolatedWorld",
			"sid:%v tid:%v, already created: %q",
			fs.session.ID(), fs.targetID, name)

		return nil
	}
	fs.isolatedWorlds[name] = true

	var frames []*Frame
	if fs.isMainFrame() {
		frames = fs.manager.Frames()
	} else {
		frame, ok := fs.manager.getFrameByID(cdp.FrameID(fs.targetID))
		if ok {
			frames = []*Frame{frame}
		}
	}
	for _, frame := range frames {
		// A frame could have been removed before we execute this, so don't wait around for a reply.
		_ = fs.session.ExecuteWithoutExpectationOnReply(
			fs.ctx,
			cdppage.CommandCreateIsolatedWorld,
			&cdppage.CreateIsolatedWorldParams{
				FrameID:             frame.ID(),
				WorldName:           name,
				GrantUniveralAccess: true,
			},
			nil)
	}

	fs.logger.Debugf("NewFrameSession:initIsolatedWorld:AddScriptToEvaluateOnNewDocument",
		"sid:%v tid:%v", fs.session.ID(), fs.targetID)

	action2 := cdppage.AddScriptToEvaluateOnNewDocument(`//# sourceURL=` + evaluationScriptURL).
		WithWorldName(name)
	if _, err := action2.Do(cdp.WithExecutor(fs.ctx, fs.session)); err != nil {
		return fmt.Errorf("adding script to evaluate on new document: %w", err)
	}
	return nil
}

func (fs *FrameSession) initRendererEvents() {
	fs.logger.Debugf("NewFrameSession:initEvents:initRendererEvents",
		"sid:%v tid:%v", fs.session.ID(), fs.targetID)

	events := []string{
		cdproto.EventLogEntryAdded,
		cdproto.EventPageFrameAttached,
		cdproto.EventPageFrameDetached,
		cdproto.EventPageFrameNavigated,
		cdproto.EventPageFrameRequestedNavigation,
		cdproto.EventPageFrameStoppedLoading,
		cdproto.EventPageLifecycleEvent,
		cdproto.EventPageNavigatedWithinDocument,
		cdproto.EventRuntimeConsoleAPICalled,
		cdproto.EventRuntimeExecutionContextCreated,
		cdproto.EventRuntimeExecutionContextDestroyed,
		cdproto.EventRuntimeExecutionContextsCleared,
		cdproto.EventTargetAttachedToTarget,
		cdproto.EventTargetDetachedFromTarget,
	}
	fs.session.on(fs.ctx, events, fs.eventCh)
}

func (fs *FrameSession) isMainFrame() bool {
	return fs.targetID == fs.page.targetID
}

func (fs *FrameSession) beginFrameTreeSnapshot() {
	fs.snapshotMu.Lock()
	defer fs.snapshotMu.Unlock()
	fs.snapshotPending = true
	fs.navigatedWhilePending = make(map[cdp.FrameID]bool)
}

func (fs *FrameSession) endFrameTreeSnapshot() {
	fs.snapshotMu.Lock()
	defer fs.snapshotMu.Unlock()
	fs.snapshotPending = false
	fs.navigatedWhilePending = nil
}

// markNavigatedViaEvent records a live navigation commit while the
// frame-tree snapshot is still in flight.
func (fs *FrameSession) markNavigatedViaEvent(frameID cdp.FrameID) {
	fs.snapshotMu.Lock()
	defer fs.snapshotMu.Unlock()
	if fs.snapshotPending {
		fs.navigatedWhilePending[frameID] = true
	}
}

func (fs *FrameSession) navigatedViaEvent(frameID cdp.FrameID) bool {
	fs.snapshotMu.Lock()
	defer fs.snapshotMu.Unlock()
	return fs.navigatedWhilePending[frameID]
}

func (fs *FrameSession) handleFrameTree(frameTree *cdppage.FrameTree, initialFrame bool) {
	fs.logger.Debugf("FrameSession:handleFrameTree",
		"fid:%v sid:%v tid:%v", frameTree.Frame.ID, fs.session.ID(), fs.targetID)

	if frameTree.Frame.ParentID != "" {
		fs.onFrameAttached(frameTree.Frame.ID, frameTree.Frame.ParentID)
	}
	if fs.navigatedViaEvent(frameTree.Frame.ID) {
		// A live commit for this frame raced ahead of the snapshot
		// request: the snapshot's copy is older than what we hold.
		fs.logger.Debugf("FrameSession:handleFrameTree:skip",
			"fid:%v sid:%v tid:%v navigated via event",
			frameTree.Frame.ID, fs.session.ID(), fs.targetID)
	} else {
		fs.onFrameNavigated(frameTree.Frame, initialFrame)
	}
	if frameTree.ChildFrames == nil {
		return
	}
	for _, child := range frameTree.ChildFrames {
		fs.handleFrameTree(child, initialFrame)
	}
}

// onSessionDone starts the swap protocol for the frame backed by this
// session: its children are detached right away and the frame itself is
// held for the swap grace window, waiting for a replacement session.
func (fs *FrameSession) onSessionDone() {
	if err := fs.manager.frameSessionDisconnected(cdp.FrameID(fs.targetID)); err != nil {
		fs.logger.Errorf("FrameSession:onSessionDone",
			"sid:%v tid:%v err:%v", fs.session.ID(), fs.targetID, err)
	}
}

func (fs *FrameSession) navigateFrame(frame *Frame, url, referrer string) (string, error) {
	fs.logger.Debugf("FrameSession:navigateFrame",
		"sid:%v fid:%s tid:%v url:%q referrer:%q",
		fs.session.ID(), frame.ID(), fs.targetID, url, referrer)

	action := cdppage.Navigate(url).WithReferrer(referrer).WithFrameID(frame.ID())
	_, documentID, errorText, err := action.Do(cdp.WithExecutor(fs.ctx, fs.session))
	if err != nil {
		if errorText == "" {
			err = fmt.Errorf("%w", err)
		} else {
			err = fmt.Errorf("%q: %w", errorText, err)
		}
	}
	return documentID.String(), err
}

func (fs *FrameSession) onConsoleAPICalled(event *cdpruntime.EventConsoleAPICalled) {
	l := fs.logger.
		WithTime(event.Timestamp.Time()).
		WithField("source", "browser").
		WithField("browser_source", "console-api")

	parsedObjects := make([]string, 0, len(event.Args))
	for _, robj := range event.Args {
		val, err := parseRemoteObject(robj)
		if err != nil {
			fs.logger.Errorf("FrameSession:onConsoleAPICalled", "failed to parse console message %v", err)
		}
		parsedObjects = append(parsedObjects, fmt.Sprintf("%v", val))
	}

	msg := strings.Join(parsedObjects, " ")

	switch event.Type {
	case "log", "info":
		l.Info(msg)
	case "warning":
		l.Warn(msg)
	case "error":
		l.Error(msg)
	default:
		// This is where debug & other console.* apis will default to
		// (such as console.table).
		l.Debug(msg)
	}
}

func (fs *FrameSession) onExecutionContextCreated(event *cdpruntime.EventExecutionContextCreated) {
	fs.logger.Debugf("FrameSession:onExecutionContextCreated",
		"sid:%v tid:%v ectxid:%d",
		fs.session.ID(), fs.targetID, event.Context.ID)

	auxData := event.Context.AuxData
	var i struct {
		FrameID   cdp.FrameID `json:"frameId"`
		IsDefault bool        `json:"isDefault"`
		Type      string      `json:"type"`
	}
	if err := json.Unmarshal(auxData, &i); err != nil {
		fs.logger.Errorf("FrameSession:onExecutionContextCreated",
			"sid:%v tid:%v ectxid:%d unmarshaling aux data: %v",
			fs.session.ID(), fs.targetID, event.Context.ID, err)
		return
	}

	frame, ok := fs.manager.getFrameByID(i.FrameID)
	if !ok {
		fs.logger.Debugf("FrameSession:onExecutionContextCreated:return",
			"sid:%v tid:%v ectxid:%d missing frame",
			fs.session.ID(), fs.targetID, event.Context.ID)
		return
	}

	var world executionWorld
	if i.IsDefault {
		world = mainWorld
	} else if event.Context.Name == utilityWorldName && !frame.hasContext(utilityWorld) {
		// In case of multiple sessions to the same target, there's a race between
		// connections so we might end up creating multiple isolated worlds.
		// We can use either.
		world = utilityWorld
	}

	if i.Type == "isolated" {
		fs.isolatedWorlds[event.Context.Name] = true
	}
	context := NewExecutionContext(fs.ctx, fs.session, frame, event.Context.ID, fs.logger)
	if world != "" {
		fs.logger.Debugf("FrameSession:setContext",
			"sid:%v fid:%v ectxid:%d world:%s",
			fs.session.ID(), frame.ID(), event.Context.ID, world)
		frame.setContext(world, context)
	}
	fs.contextIDToContextMu.Lock()
	fs.contextIDToContext[event.Context.ID] = context
	fs.contextIDToContextMu.Unlock()
}

func (fs *FrameSession) onExecutionContextDestroyed(execCtxID cdpruntime.ExecutionContextID) {
	fs.logger.Debugf("FrameSession:onExecutionContextDestroyed",
		"sid:%v tid:%v ectxid:%d",
		fs.session.ID(), fs.targetID, execCtxID)

	fs.contextIDToContextMu.Lock()
	defer fs.contextIDToContextMu.Unlock()
	context, ok := fs.contextIDToContext[execCtxID]
	if !ok {
		return
	}
	if context.Frame() != nil {
		context.Frame().nullContext(execCtxID)
	}
	delete(fs.contextIDToContext, execCtxID)
}

// onExecutionContextsCleared destroys every context this session
// produced. The clear is session-scoped: contexts created by other
// sessions are untouched.
func (fs *FrameSession) onExecutionContextsCleared() {
	fs.logger.Debugf("FrameSession:onExecutionContextsCleared",
		"sid:%v tid:%v", fs.session.ID(), fs.targetID)

	fs.contextIDToContextMu.Lock()
	defer fs.contextIDToContextMu.Unlock()

	for _, context := range fs.contextIDToContext {
		if context.Frame() != nil {
			context.Frame().nullContext(context.id)
		}
	}
	for k := range fs.contextIDToContext {
		delete(fs.contextIDToContext, k)
	}
}

func (fs *FrameSession) onFrameAttached(frameID cdp.FrameID, parentFrameID cdp.FrameID) {
	fs.logger.Debugf("FrameSession:onFrameAttached",
		"sid:%v tid:%v fid:%v pfid:%v",
		fs.session.ID(), fs.targetID, frameID, parentFrameID)

	fs.manager.frameAttached(frameID, parentFrameID, fs.session)
}

func (fs *FrameSession) onFrameDetached(frameID cdp.FrameID, reason cdppage.FrameDetachedReason) {
	fs.logger.Debugf("FrameSession:onFrameDetached",
		"sid:%v tid:%v fid:%v reason:%s",
		fs.session.ID(), fs.targetID, frameID, reason)

	if err := fs.manager.frameDetached(frameID, reason); err != nil {
		fs.logger.Errorf("FrameSession:onFrameDetached",
			"sid:%v tid:%v fid:%v err:%v",
			fs.session.ID(), fs.targetID, frameID, err)
	}
}

func (fs *FrameSession) onFrameNavigated(frame *cdp.Frame, initial bool) {
	fs.logger.Debugf("FrameSession:onFrameNavigated",
		"sid:%v tid:%v fid:%v",
		fs.session.ID(), fs.targetID, frame.ID)

	err := fs.manager.frameNavigated(
		frame.ID, frame.ParentID, frame.LoaderID.String(),
		frame.Name, frame.URL+frame.URLFragment, initial)
	if err != nil {
		fs.logger.Errorf("FrameSession:onFrameNavigated",
			"sid:%v tid:%v fid:%v err:%v",
			fs.session.ID(), fs.targetID, frame.ID, err)
	}
}

func (fs *FrameSession) onFrameRequestedNavigation(event *cdppage.EventFrameRequestedNavigation) {
	fs.logger.Debugf("FrameSession:onFrameRequestedNavigation",
		"sid:%v tid:%v fid:%v url:%q",
		fs.session.ID(), fs.targetID, event.FrameID, event.URL)

	if event.Disposition == "currentTab" {
		err := fs.manager.frameRequestedNavigation(event.FrameID, event.URL, "")
		if err != nil {
			fs.logger.Errorf("FrameSession:onFrameRequestedNavigation",
				"sid:%v tid:%v fid:%v err:%v",
				fs.session.ID(), fs.targetID, event.FrameID, err)
		}
	}
}

func (fs *FrameSession) onFrameStoppedLoading(frameID cdp.FrameID) {
	fs.logger.Debugf("FrameSession:onFrameStoppedLoading",
		"sid:%v tid:%v fid:%v",
		fs.session.ID(), fs.targetID, frameID)

	fs.manager.frameLoadingStopped(frameID)
}

func (fs *FrameSession) onLogEntryAdded(event *cdplog.EventEntryAdded) {
	l := fs.logger.
		WithTime(event.Entry.Timestamp.Time()).
		WithField("source", "browser").
		WithField("url", event.Entry.URL).
		WithField("browser_source", event.Entry.Source.String()).
		WithField("line_number", event.Entry.LineNumber)

	switch event.Entry.Level {
	case "info":
		l.Info(event.Entry.Text)
	case "warning":
		l.Warn(event.Entry.Text)
	case "error":
		l.WithField("stacktrace", event.Entry.StackTrace).Error(event.Entry.Text)
	default:
		l.Debug(event.Entry.Text)
	}
}

func (fs *FrameSession) onPageLifecycle(event *cdppage.EventLifecycleEvent) {
	fs.logger.Debugf("FrameSession:onPageLifecycle",
		"sid:%v tid:%v fid:%v event:%s eventTime:%q",
		fs.session.ID(), fs.targetID, event.FrameID, event.Name, event.Timestamp.Time())

	if _, ok := fs.manager.getFrameByID(event.FrameID); !ok {
		return
	}

	loaderID := event.LoaderID.String()
	switch event.Name {
	case "load":
		fs.manager.frameLifecycleEvent(event.FrameID, loaderID, LifecycleEventLoad)
	case "DOMContentLoaded":
		fs.manager.frameLifecycleEvent(event.FrameID, loaderID, LifecycleEventDOMContentLoad)
	case "networkIdle":
		fs.manager.frameLifecycleEvent(event.FrameID, loaderID, LifecycleEventNetworkIdle)
	}
}

func (fs *FrameSession) onPageNavigatedWithinDocument(event *cdppage.EventNavigatedWithinDocument) {
	fs.logger.Debugf("FrameSession:onPageNavigatedWithinDocument",
		"sid:%v tid:%v fid:%v",
		fs.session.ID(), fs.targetID, event.FrameID)

	fs.manager.frameNavigatedWithinDocument(event.FrameID, event.URL)
}

func (fs *FrameSession) onAttachedToTarget(event *target.EventAttachedToTarget) {
	var (
		ti  = event.TargetInfo
		sid = event.SessionID
		err error
	)

	fs.logger.Debugf("FrameSession:onAttachedToTarget",
		"sid:%v tid:%v esid:%v etid:%v type:%q",
		fs.session.ID(), fs.targetID, sid, ti.TargetID, ti.Type)

	session := fs.page.conn.getSession(sid)
	if session == nil {
		fs.logger.Debugf("FrameSession:onAttachedToTarget:return",
			"sid:%v tid:%v esid:%v etid:%v type:%q nil session",
			fs.session.ID(), fs.targetID, sid, ti.TargetID, ti.Type)
		return
	}

	switch ti.Type {
	case "iframe":
		err = fs.attachIFrameToTarget(ti, sid, session)
	case "page":
		err = fs.attachPageToTarget(ti, sid, session)
	case "worker":
		err = fs.attachWorkerToTarget(ti, sid, session)
	default:
		// Just unblock (debugger continue) these targets and detach from them.
		_ = session.ExecuteWithoutExpectationOnReply(fs.ctx, cdpruntime.CommandRunIfWaitingForDebugger, nil, nil)
		_ = session.ExecuteWithoutExpectationOnReply(fs.ctx, target.CommandDetachFromTarget,
			&target.DetachFromTargetParams{SessionID: sid}, nil)
	}
	if err == nil {
		return
	}

	// Ignore the error if the session or the frame session went away
	// while attaching. Events keep coming during shutdown.
	select {
	case <-fs.ctx.Done():
		fs.logger.Debugf("FrameSession:onAttachedToTarget:return",
			"sid:%v tid:%v esid:%v etid:%v type:%q frame session context canceled",
			fs.session.ID(), fs.targetID, sid, ti.TargetID, ti.Type)
	case <-session.Done():
		fs.logger.Debugf("FrameSession:onAttachedToTarget:return",
			"sid:%v tid:%v esid:%v etid:%v type:%q session closed",
			fs.session.ID(), fs.targetID, sid, ti.TargetID, ti.Type)
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		fs.logger.Errorf("FrameSession:onAttachedToTarget",
			"sid:%v tid:%v esid:%v etid:%v type:%q err:%v",
			fs.session.ID(), fs.targetID, sid, ti.TargetID, ti.Type, err)
	}
}

// attachIFrameToTarget attaches an IFrame target to a given session. A
// target whose frame is held in the swap grace window claims that frame
// instead of creating a new one.
func (fs *FrameSession) attachIFrameToTarget(ti *target.Info, sid target.SessionID, sess session) error {
	if fs.manager.frameSwapped(cdp.FrameID(ti.TargetID), cdp.FrameID(ti.TargetID), sess) {
		fs.logger.Debugf("FrameSession:attachIFrameToTarget:swapped",
			"sid:%v tid:%v esid:%v etid:%v",
			fs.session.ID(), fs.targetID, sid, ti.TargetID)
	}

	fr, ok := fs.manager.getFrameByID(cdp.FrameID(ti.TargetID))
	if !ok {
		// IFrame should be attached to fs.page with EventFrameAttached
		// event before.
		fs.logger.Debugf("FrameSession:attachIFrameToTarget:return",
			"sid:%v tid:%v esid:%v etid:%v type:%q, nil frame",
			fs.session.ID(), fs.targetID,
			sid, ti.TargetID, ti.Type)
		return nil
	}
	// Remove all children of the previously attached frame.
	if err := fs.manager.removeChildFramesRecursively(fr); err != nil {
		return fmt.Errorf("removing child frames of iframe target ID %v: %w", ti.TargetID, err)
	}

	nfs, err := NewFrameSession(fs.ctx, sess, fs.page, fs, ti.TargetID, fs.logger)
	if err != nil {
		return fmt.Errorf("attaching iframe target ID %v to session ID %v: %w",
			ti.TargetID, sid, err)
	}
	fs.childSessions[cdp.FrameID(ti.TargetID)] = nfs
	fs.page.attachFrameSession(cdp.FrameID(ti.TargetID), nfs)

	return nil
}

// attachPageToTarget hands a replacement page target to a main frame
// held in the swap grace window, e.g. the activation of a pre-rendered
// page after its renderer disconnected ours. Page targets that replace
// nothing we hold belong to another page and are unblocked and
// detached.
func (fs *FrameSession) attachPageToTarget(ti *target.Info, sid target.SessionID, sess session) error {
	oldID, pending := fs.manager.mainFramePendingSwap()
	if !pending || !fs.manager.frameSwapped(oldID, cdp.FrameID(ti.TargetID), sess) {
		_ = sess.ExecuteWithoutExpectationOnReply(fs.ctx, cdpruntime.CommandRunIfWaitingForDebugger, nil, nil)
		_ = sess.ExecuteWithoutExpectationOnReply(fs.ctx, target.CommandDetachFromTarget,
			&target.DetachFromTargetParams{SessionID: sid}, nil)
		return nil
	}

	fs.logger.Debugf("FrameSession:attachPageToTarget:swapped",
		"sid:%v tid:%v esid:%v etid:%v fid:%v",
		fs.session.ID(), fs.targetID, sid, ti.TargetID, oldID)

	nfs, err := NewFrameSession(fs.ctx, sess, fs.page, fs, ti.TargetID, fs.logger)
	if err != nil {
		return fmt.Errorf("attaching page target ID %v to session ID %v: %w",
			ti.TargetID, sid, err)
	}
	fs.childSessions[cdp.FrameID(ti.TargetID)] = nfs
	fs.page.attachFrameSession(cdp.FrameID(ti.TargetID), nfs)

	return nil
}

// attachWorkerToTarget attaches a Worker target to a given session.
func (fs *FrameSession) attachWorkerToTarget(ti *target.Info, sid target.SessionID, sess session) error {
	w, err := NewWorker(fs.ctx, sess, ti.TargetID, ti.URL)
	if err != nil {
		return fmt.Errorf("attaching worker target ID %v to session ID %v: %w",
			ti.TargetID, sid, err)
	}
	fs.page.addWorker(sid, w)

	return nil
}

func (fs *FrameSession) onDetachedFromTarget(event *target.EventDetachedFromTarget) {
	fs.logger.Debugf("FrameSession:onDetachedFromTarget",
		"sid:%v tid:%v esid:%v",
		fs.session.ID(), fs.targetID, event.SessionID)

	fs.page.closeWorker(event.SessionID)
}

func (fs *FrameSession) onTargetCrashed(event *inspector.EventTargetCrashed) {
	fs.logger.Debugf("FrameSession:onTargetCrashed", "sid:%v tid:%v", fs.session.ID(), fs.targetID)

	if s, ok := fs.session.(*Session); ok {
		s.markAsCrashed()
	}
	fs.page.didCrash()
}

// executionContextForID returns the execution context with the given id.
// Its absence is an invariant violation: callers use it only where a
// prior event guarantees presence.
func (fs *FrameSession) executionContextForID(
	executionContextID cdpruntime.ExecutionContextID,
) (*ExecutionContext, error) {
	fs.contextIDToContextMu.Lock()
	defer fs.contextIDToContextMu.Unlock()

	if ec, ok := fs.contextIDToContext[executionContextID]; ok {
		return ec, nil
	}

	return nil, internalError("no execution context found for id: %v", executionContextID)
}

// tryExecutionContextForID returns the execution context with the given
// id, or nil when it's absent. Absence is a normal race here, e.g. a
// console message referencing an already-destroyed context.
func (fs *FrameSession) tryExecutionContextForID(
	executionContextID cdpruntime.ExecutionContextID,
) *ExecutionContext {
	fs.contextIDToContextMu.Lock()
	defer fs.contextIDToContextMu.Unlock()

	return fs.contextIDToContext[executionContextID]
}
