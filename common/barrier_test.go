package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarrier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	frame := attachMainFrame(t, m, "main")

	barrier := NewBarrier()
	barrier.AddFrameNavigation(frame)
	frame.emit(EventFrameNavigation, "some data")

	err := barrier.Wait(ctx)
	require.Nil(t, err)
}

func TestBarrierNoNavigation(t *testing.T) {
	t.Parallel()

	barrier := NewBarrier()
	require.NoError(t, barrier.Wait(context.Background()))
}

func TestBarrierTimesOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newFakeSession(ctx, "session1", "target1")
	_, m := newTestFrameManager(t, s)
	m.timeoutSettings.SetDefaultNavigationTimeout(30 * time.Millisecond)
	frame := attachMainFrame(t, m, "main")

	barrier := NewBarrier()
	barrier.AddFrameNavigation(frame)
	// Let the navigation wait register before Wait counts it.
	time.Sleep(10 * time.Millisecond)

	err := barrier.Wait(ctx)
	require.ErrorIs(t, err, ErrTimedOut)
}
