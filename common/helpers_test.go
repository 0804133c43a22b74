package common

import (
	"context"
	"math"
	"testing"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertArgument(t *testing.T) {
	t.Parallel()

	t.Run("int64", func(t *testing.T) {
		t.Parallel()

		arg, err := convertArgument(int64(42))
		require.NoError(t, err)
		assert.Equal(t, "42", string(arg.Value))
		assert.Empty(t, arg.UnserializableValue)
	})

	t.Run("int64 beyond int32 becomes a BigInt", func(t *testing.T) {
		t.Parallel()

		arg, err := convertArgument(int64(math.MaxInt32) + 1)
		require.NoError(t, err)
		assert.Equal(t, cdpruntime.UnserializableValue("2147483648n"), arg.UnserializableValue)
	})

	t.Run("float64 special values", func(t *testing.T) {
		t.Parallel()

		for val, want := range map[float64]cdpruntime.UnserializableValue{
			math.Float64frombits(0 | (1 << 63)): "-0",
			math.Inf(0):                         "Infinity",
			math.Inf(-1):                        "-Infinity",
			math.NaN():                          "NaN",
		} {
			arg, err := convertArgument(val)
			require.NoError(t, err)
			assert.Equal(t, want, arg.UnserializableValue)
		}
	})

	t.Run("string and struct", func(t *testing.T) {
		t.Parallel()

		arg, err := convertArgument("hello")
		require.NoError(t, err)
		assert.Equal(t, `"hello"`, string(arg.Value))

		arg, err = convertArgument(struct {
			Name string `json:"name"`
		}{Name: "n"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"n"}`, string(arg.Value))
	})
}

func TestHasSourceURL(t *testing.T) {
	t.Parallel()

	assert.False(t, hasSourceURL(`() => document.location.href`))
	assert.True(t, hasSourceURL("() => 1\n//# sourceURL=__puppeteer_evaluation_script__"))
	assert.True(t, hasSourceURL("() => 1\n //@ sourceURL=foo.js \n"))
	assert.False(t, hasSourceURL("//# sourceURL=foo.js\n() => 1"))
}

func TestWaitForEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	emitter := NewBaseEventEmitter(ctx)

	go func() {
		time.Sleep(50 * time.Millisecond)
		emitter.emit("testevent", 7)
	}()

	data, err := waitForEvent(ctx, &emitter, []string{"testevent"}, func(data any) bool {
		i, ok := data.(int)
		return ok && i == 7
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, data)
}

func TestWaitForEventTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	emitter := NewBaseEventEmitter(ctx)

	_, err := waitForEvent(ctx, &emitter, []string{"never"}, nil, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)
}
