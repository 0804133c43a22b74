package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameNavigatedNewLoaderClearsWorlds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")

	frame.setContext(mainWorld, NewExecutionContext(ctx, s, frame, 1, m.logger))
	frame.setContext(utilityWorld, NewExecutionContext(ctx, s, frame, 2, m.logger))
	require.True(t, frame.hasContext(mainWorld))
	require.True(t, frame.hasContext(utilityWorld))

	// Same loader: a URL-only update keeps the realms.
	frame.navigated("", "https://test/#x", frame.LoaderID())
	assert.True(t, frame.hasContext(mainWorld))
	assert.True(t, frame.hasContext(utilityWorld))

	// New loader means a new document: the realms are stale.
	frame.navigated("", "https://test/next", "loader-next")
	assert.False(t, frame.hasContext(mainWorld))
	assert.False(t, frame.hasContext(utilityWorld))
	assert.Equal(t, "loader-next", frame.LoaderID())
}

func TestFrameDetachInvalidatesWorlds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	main := attachMainFrame(t, m, "main")
	m.frameAttached("child", main.ID(), s)
	child, _ := m.getFrameByID("child")

	errCh := make(chan error, 1)
	go func() {
		_, err := child.utilityWorld.waitForContext(ctx, 5*time.Second)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)

	child.detach()

	require.ErrorIs(t, <-errCh, ErrContextDestroyed)
	assert.True(t, child.IsDetached())
	assert.Nil(t, child.ParentFrame())
	assert.Empty(t, main.ChildFrames())
}

func TestFrameEvaluateOnDetachedFrame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")
	frame.detach()

	_, err := frame.Evaluate(ctx, `() => 1`)
	require.ErrorIs(t, err, ErrFrameDetached)
}

func TestFrameNullContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")

	mainCtx := NewExecutionContext(ctx, s, frame, 1, m.logger)
	utilCtx := NewExecutionContext(ctx, s, frame, 2, m.logger)
	frame.setContext(mainWorld, mainCtx)
	frame.setContext(utilityWorld, utilCtx)

	// Destroying one context leaves the other world bound.
	frame.nullContext(2)
	assert.True(t, frame.hasContext(mainWorld))
	assert.False(t, frame.hasContext(utilityWorld))

	// An unknown context id is a no-op.
	frame.nullContext(99)
	assert.True(t, frame.hasContext(mainWorld))

	frame.nullContext(1)
	assert.False(t, frame.hasContext(mainWorld))
}

func TestFrameLifecycleSubtree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	main := attachMainFrame(t, m, "main")
	m.frameAttached("child", main.ID(), s)
	child, _ := m.getFrameByID("child")

	// The main frame alone firing load is not enough while a child
	// hasn't.
	main.onLifecycleEvent(LifecycleEventLoad)
	assert.True(t, main.hasLifecycleEventFired(LifecycleEventLoad))
	assert.False(t, main.hasSubtreeLifecycleEventFired(LifecycleEventLoad))

	child.onLifecycleEvent(LifecycleEventLoad)
	assert.True(t, main.hasSubtreeLifecycleEventFired(LifecycleEventLoad))
}

func TestFrameLifecycleClearedOnNavigation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	main := attachMainFrame(t, m, "main")

	main.onLifecycleEvent(LifecycleEventLoad)
	require.True(t, main.hasLifecycleEventFired(LifecycleEventLoad))

	require.NoError(t, m.frameNavigated("main", "", "loader-1", "", "https://test/", false))
	assert.False(t, main.hasLifecycleEventFired(LifecycleEventLoad))
}

func TestFrameWaitForNavigation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	main := attachMainFrame(t, m, "main")

	type result struct {
		url string
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		url, err := main.WaitForNavigation(ctx, 5*time.Second)
		resCh <- result{url, err}
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, m.frameNavigated("main", "", "loader-1", "", "https://test/", false))

	res := <-resCh
	require.NoError(t, res.err)
	assert.Equal(t, "https://test/", res.url)
}

func TestFrameIsMainFrame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	main := attachMainFrame(t, m, "main")
	m.frameAttached("child", main.ID(), s)
	child, _ := m.getFrameByID("child")

	assert.True(t, main.IsMainFrame())
	assert.False(t, child.IsMainFrame())
}
