package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCategoryFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)

	logger := New(l, false)
	require.NoError(t, logger.SetCategoryFilter("^Session:"))

	logger.Debugf("Session:close", "sid:%v", "abc")
	logger.Debugf("FrameManager:frameAttached", "fid:%v", "def")

	out := buf.String()
	assert.Contains(t, out, "Session:close")
	assert.NotContains(t, out, "FrameManager:frameAttached")
}

func TestLoggerDebugOverride(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.PanicLevel) // Debug lines would normally be dropped.

	logger := New(l, true)
	logger.Debugf("Connection:recvLoop", "wsURL:%q", "ws://127.0.0.1/devtools")

	assert.Contains(t, buf.String(), "Connection:recvLoop")
	assert.True(t, logger.DebugMode())
}

func TestLoggerInvalidCategoryFilter(t *testing.T) {
	t.Parallel()

	logger := NewNullLogger()
	require.Error(t, logger.SetCategoryFilter("(unclosed"))
}
