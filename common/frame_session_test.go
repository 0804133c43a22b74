package common

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBareFrameSession builds a FrameSession without any CDP traffic, for
// exercising the event handlers directly.
func newBareFrameSession(t *testing.T, s session, p *Page, m *FrameManager) *FrameSession {
	t.Helper()

	return &FrameSession{
		ctx:                p.ctx,
		session:            s,
		page:               p,
		manager:            m,
		targetID:           "target1",
		contextIDToContext: make(map[cdpruntime.ExecutionContextID]*ExecutionContext),
		isolatedWorlds:     make(map[string]bool),
		eventCh:            make(chan Event),
		childSessions:      make(map[cdp.FrameID]*FrameSession),
		logger:             p.logger,
	}
}

func contextCreatedEvent(id cdpruntime.ExecutionContextID, name string, frameID cdp.FrameID, isDefault bool, typ string) *cdpruntime.EventExecutionContextCreated {
	aux := `{"frameId":"` + string(frameID) + `","isDefault":` +
		map[bool]string{true: "true", false: "false"}[isDefault] +
		`,"type":"` + typ + `"}`
	return &cdpruntime.EventExecutionContextCreated{
		Context: &cdpruntime.ExecutionContextDescription{
			ID:      id,
			Name:    name,
			AuxData: easyjson.RawMessage([]byte(aux)),
		},
	}
}

func TestFrameSessionExecutionContextBinding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)

	// The default context binds the main world.
	fs.onExecutionContextCreated(contextCreatedEvent(1, "", "main", true, "default"))
	require.True(t, frame.hasContext(mainWorld))
	ec, err := fs.executionContextForID(1)
	require.NoError(t, err)
	assert.Same(t, frame.mainWorld.getContext(), ec)

	// The utility world binds on its name.
	fs.onExecutionContextCreated(contextCreatedEvent(2, utilityWorldName, "main", false, "isolated"))
	require.True(t, frame.hasContext(utilityWorld))

	// A duplicate utility context stays reachable by id but unbound.
	fs.onExecutionContextCreated(contextCreatedEvent(3, utilityWorldName, "main", false, "isolated"))
	dup, err := fs.executionContextForID(3)
	require.NoError(t, err)
	assert.NotSame(t, frame.utilityWorld.getContext(), dup)
	assert.EqualValues(t, 2, frame.utilityWorld.getContext().ID())

	// Other named isolated contexts are registered but bind no world.
	fs.onExecutionContextCreated(contextCreatedEvent(4, "other_world", "main", false, "isolated"))
	_, err = fs.executionContextForID(4)
	require.NoError(t, err)
	assert.True(t, fs.isolatedWorlds["other_world"])
}

func TestFrameSessionExecutionContextUnknownFrame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)

	fs.onExecutionContextCreated(contextCreatedEvent(1, "", "no-such-frame", true, "default"))
	assert.Nil(t, fs.tryExecutionContextForID(1))
}

func TestFrameSessionExecutionContextDestroyed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)

	fs.onExecutionContextCreated(contextCreatedEvent(1, "", "main", true, "default"))
	require.True(t, frame.hasContext(mainWorld))

	fs.onExecutionContextDestroyed(1)

	assert.False(t, frame.hasContext(mainWorld))
	assert.Nil(t, fs.tryExecutionContextForID(1))

	// Destroying an unknown context is a normal race, not an error.
	fs.onExecutionContextDestroyed(99)
}

func TestFrameSessionExecutionContextsCleared(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)
	other := newBareFrameSession(t, s, p, m)

	fs.onExecutionContextCreated(contextCreatedEvent(1, "", "main", true, "default"))
	fs.onExecutionContextCreated(contextCreatedEvent(2, utilityWorldName, "main", false, "isolated"))
	other.onExecutionContextCreated(contextCreatedEvent(3, "other_world", "main", false, "isolated"))

	// Pending waiters must get a terminal error, never a stale handle.
	errCh := make(chan error, 1)
	frame.clearWorlds()
	go func() {
		_, err := frame.mainWorld.waitForContext(ctx, 0)
		errCh <- err
	}()
	fs.onExecutionContextCreated(contextCreatedEvent(4, "", "main", true, "default"))
	require.NoError(t, <-errCh)

	fs.onExecutionContextsCleared()

	assert.False(t, frame.hasContext(mainWorld))
	assert.False(t, frame.hasContext(utilityWorld))
	assert.Nil(t, fs.tryExecutionContextForID(1))
	assert.Nil(t, fs.tryExecutionContextForID(2))
	assert.Nil(t, fs.tryExecutionContextForID(4))

	// The clear is session-scoped: the other session's context survives.
	assert.NotNil(t, other.tryExecutionContextForID(3))
}

func TestFrameSessionExecutionContextForIDAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)

	_, err := fs.executionContextForID(42)
	require.Error(t, err)
	var ierr *InternalError
	assert.ErrorAs(t, err, &ierr)

	assert.Nil(t, fs.tryExecutionContextForID(42))
}

func TestFrameSessionSnapshotReplaySkipsLiveNavigated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)

	// The frame-tree snapshot request is in flight when a live commit
	// lands.
	fs.beginFrameTreeSnapshot()
	fs.markNavigatedViaEvent("main")
	fs.onFrameNavigated(&cdp.Frame{ID: "main", LoaderID: "L2", URL: "https://new/"}, false)
	liveCtx := NewExecutionContext(ctx, s, frame, 1, m.logger)
	frame.setContext(mainWorld, liveCtx)

	// The stale snapshot replays afterwards: it must not roll the frame
	// back or clear the live context.
	fs.handleFrameTree(&cdppage.FrameTree{
		Frame: &cdp.Frame{ID: "main", LoaderID: "L1", URL: "https://old/"},
	}, true)
	fs.endFrameTreeSnapshot()

	assert.Equal(t, "https://new/", frame.URL())
	assert.Equal(t, "L2", frame.LoaderID())
	require.True(t, frame.hasContext(mainWorld))
	assert.Same(t, liveCtx, frame.mainWorld.getContext())

	// A frame untouched by live events still replays normally.
	fs.beginFrameTreeSnapshot()
	fs.handleFrameTree(&cdppage.FrameTree{
		Frame: &cdp.Frame{ID: "main", LoaderID: "L3", URL: "https://three/"},
	}, false)
	fs.endFrameTreeSnapshot()
	assert.Equal(t, "https://three/", frame.URL())
}

func TestFrameSessionPageTargetClaimsPendingSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	main := attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)

	// The main frame's renderer goes away: the frame is held for the
	// grace window.
	require.NoError(t, m.frameSessionDisconnected("main"))

	// A replacement page target attaches, e.g. a pre-rendered page being
	// activated. It must claim the held frame, not be detached.
	s2 := newFakeSession(ctx, "session2", "page2")
	s2.onExecute = func(method string, res easyjson.Unmarshaler) error {
		if r, ok := res.(*cdppage.GetFrameTreeReturns); ok {
			r.FrameTree = &cdppage.FrameTree{
				Frame: &cdp.Frame{ID: "page2", LoaderID: "L2", URL: "https://prerender/"},
			}
		}
		return nil
	}
	ti := &target.Info{TargetID: "page2", Type: "page"}
	require.NoError(t, fs.attachPageToTarget(ti, "session2", s2))

	// Same object under the new id, rebound to the new session.
	_, ok := m.getFrameByID("main")
	assert.False(t, ok)
	got, ok := m.getFrameByID("page2")
	require.True(t, ok)
	assert.Same(t, main, got)
	assert.False(t, main.IsDetached())
	assert.Equal(t, s2, main.getSession())
	assert.Same(t, main, m.MainFrame())
	assert.NotNil(t, p.getFrameSession("page2"))
}

func TestFrameSessionPageTargetWithoutPendingSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	attachMainFrame(t, m, "main")
	fs := newBareFrameSession(t, s, p, m)

	// No swap pending: the page target belongs to another page and is
	// unblocked and detached.
	s2 := newFakeSession(ctx, "session2", "page2")
	ti := &target.Info{TargetID: "page2", Type: "page"}
	require.NoError(t, fs.attachPageToTarget(ti, "session2", s2))

	assert.Nil(t, p.getFrameSession("page2"))
	cmds := s2.commands()
	assert.Contains(t, cmds, cdpruntime.CommandRunIfWaitingForDebugger)
	assert.Contains(t, cmds, target.CommandDetachFromTarget)
}

func TestFrameSessionIsMainFrame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	p, m := newTestFrameManager(t, s)
	attachMainFrame(t, m, "main")
	p.targetID = "target1"

	fs := newBareFrameSession(t, s, p, m)
	assert.True(t, fs.isMainFrame())

	fs.targetID = "other"
	assert.False(t, fs.isMainFrame())
}
