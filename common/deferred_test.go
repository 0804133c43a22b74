package common

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredResolve(t *testing.T) {
	t.Parallel()

	d := NewDeferred()
	require.False(t, d.settled())

	d.resolve("value")
	require.True(t, d.settled())

	v, err := d.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestDeferredReject(t *testing.T) {
	t.Parallel()

	d := NewDeferred()
	d.reject(ErrTargetClosed)

	v, err := d.wait(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrTargetClosed)
	assert.Nil(t, v)
}

func TestDeferredFirstSettleWins(t *testing.T) {
	t.Parallel()

	d := NewDeferred()
	d.resolve("first")
	d.reject(errors.New("late"))
	d.resolve("late")

	v, err := d.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestDeferredWaitTimeout(t *testing.T) {
	t.Parallel()

	d := NewDeferred()
	_, err := d.wait(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)

	// The deferred is still unsettled and can be resolved afterwards.
	require.False(t, d.settled())
	d.resolve(1)
	v, err := d.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDeferredWaitContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDeferred()
	_, err := d.wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeferredConcurrentWaiters(t *testing.T) {
	t.Parallel()

	d := NewDeferred()

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.wait(context.Background(), time.Second)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	d.resolve("shared")
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}
