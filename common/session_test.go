package common

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwinans/puppeteer/log"
	"github.com/edwinans/puppeteer/tests/ws"
)

func connectTestSession(t *testing.T, handler func(*websocket.Conn, *cdproto.Message, chan cdproto.Message, chan struct{})) (*Connection, *Session) {
	t.Helper()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", handler, nil))

	ctx := context.Background()
	u, _ := url.Parse(server.ServerHTTP.URL)
	wsURL := fmt.Sprintf("ws://%s/cdp", u.Host)
	conn, err := NewConnection(ctx, wsURL, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	session, err := conn.createSession(&target.Info{
		TargetID:         testCDPTargetID,
		Type:             "page",
		BrowserContextID: testCDPBrowserCtxID,
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	return conn, session
}

func connectTestSessionDefault(t *testing.T) (*Connection, *Session) {
	t.Helper()
	return connectTestSession(t, ws.CDPDefaultHandler)
}

func TestSessionCrashedRefusesCommands(t *testing.T) {
	t.Parallel()

	_, session := connectTestSessionDefault(t)

	session.markAsCrashed()

	err := session.Execute(context.Background(), string(cdproto.CommandRuntimeEnable), nil, nil)
	require.ErrorIs(t, err, ErrTargetCrashed)

	err = session.ExecuteWithoutExpectationOnReply(
		context.Background(), string(cdproto.CommandRuntimeEnable), nil, nil)
	require.ErrorIs(t, err, ErrTargetCrashed)
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	conn, session := connectTestSessionDefault(t)

	require.False(t, session.Closed())

	closedCh := make(chan Event, 1)
	session.on(context.Background(), []string{EventSessionClosed}, closedCh)

	conn.closeSession(session.ID(), session.TargetID())

	select {
	case <-closedCh:
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for session close event")
	}
	assert.True(t, session.Closed())

	select {
	case <-session.Done():
	default:
		require.FailNow(t, "session done channel not closed")
	}

	// Closing twice must not panic or emit again.
	conn.closeSession(session.ID(), session.TargetID())
	assert.Nil(t, conn.getSession(session.ID()))
}

func TestSessionExecuteAfterClose(t *testing.T) {
	t.Parallel()

	conn, session := connectTestSessionDefault(t)

	conn.closeSession(session.ID(), session.TargetID())
	require.True(t, session.Closed())

	// Commands on a closed session surface the closure, not an internal
	// context cancellation.
	err := session.Execute(context.Background(), string(cdproto.CommandRuntimeEnable), nil, nil)
	require.ErrorIs(t, err, ErrTargetClosed)

	err = session.ExecuteWithoutExpectationOnReply(
		context.Background(), string(cdproto.CommandRuntimeEnable), nil, nil)
	require.ErrorIs(t, err, ErrTargetClosed)
}

func TestSessionExecuteRoutesEvents(t *testing.T) {
	t.Parallel()

	handler := func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		if msg.SessionID != "" && msg.Method == cdproto.MethodType(cdproto.CommandRuntimeEnable) {
			// An unrelated event arriving before the command reply must
			// not be mistaken for the reply.
			writeCh <- cdproto.Message{
				Method:    cdproto.EventRuntimeExecutionContextsCleared,
				SessionID: msg.SessionID,
				Params:    easyjson.RawMessage([]byte("{}")),
			}
			writeCh <- cdproto.Message{
				ID:        msg.ID,
				SessionID: msg.SessionID,
				Result:    easyjson.RawMessage([]byte("{}")),
			}
			return
		}
		ws.CDPDefaultHandler(conn, msg, writeCh, done)
	}
	_, session := connectTestSession(t, handler)

	eventCh := make(chan Event, 1)
	session.on(context.Background(),
		[]string{cdproto.EventRuntimeExecutionContextsCleared}, eventCh)

	err := session.Execute(context.Background(), string(cdproto.CommandRuntimeEnable), nil, nil)
	require.NoError(t, err)

	select {
	case ev := <-eventCh:
		_, ok := ev.data.(*cdpruntime.EventExecutionContextsCleared)
		assert.True(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for routed session event")
	}
}
