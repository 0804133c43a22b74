package common

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwinans/puppeteer/log"
	"github.com/edwinans/puppeteer/tests/ws"
)

const (
	testCDPTargetID        = "target_id_0123456789"
	testCDPSessionID       = "session_id_0123456789"
	testCDPBrowserCtxID    = "browser_context_id_0123456789"
	testCDPAttachedEvent   = `
	{
		"sessionId": "session_id_0123456789",
		"targetInfo": {
			"targetId": "target_id_0123456789",
			"type": "page",
			"title": "",
			"url": "about:blank",
			"attached": true,
			"browserContextId": "browser_context_id_0123456789"
		},
		"waitingForDebugger": false
	}`
	testCDPAttachResponse = `
	{
		"sessionId":"session_id_0123456789"
	}`
)

func TestConnection(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithEchoHandler("/echo"))

	t.Run("connect", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		url, _ := url.Parse(server.ServerHTTP.URL)
		wsURL := fmt.Sprintf("ws://%s/echo", url.Host)
		conn, err := NewConnection(ctx, wsURL, log.NewNullLogger())
		require.NoError(t, err)
		conn.Close()
	})
}

func TestConnectionClosureAbnormal(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithClosureAbnormalHandler("/closure-abnormal"))

	ctx := context.Background()
	url, _ := url.Parse(server.ServerHTTP.URL)
	wsURL := fmt.Sprintf("ws://%s/closure-abnormal", url.Host)
	conn, err := NewConnection(ctx, wsURL, log.NewNullLogger())

	if !assert.NoError(t, err) {
		return
	}

	err = target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, conn))
	require.Error(t, err)

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		require.Equal(t, websocket.CloseAbnormalClosure, closeErr.Code)
		return
	}

	msg := err.Error()
	require.Truef(t,
		strings.Contains(msg, "1006") ||
			strings.Contains(msg, "connection reset by peer"),
		"expected abnormal websocket closure error, got: %v", err,
	)
}

func TestConnectionSendRecv(t *testing.T) {
	t.Parallel()

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", ws.CDPDefaultHandler, nil))

	t.Run("send command with empty reply", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		url, _ := url.Parse(server.ServerHTTP.URL)
		wsURL := fmt.Sprintf("ws://%s/cdp", url.Host)
		conn, err := NewConnection(ctx, wsURL, log.NewNullLogger())

		if assert.NoError(t, err) {
			action := target.SetDiscoverTargets(true)
			err := action.Do(cdp.WithExecutor(ctx, conn))
			require.NoError(t, err)
		}
	})
}

func TestConnectionCreateSession(t *testing.T) {
	t.Parallel()

	cmdsReceived := make([]cdproto.MethodType, 0)
	handler := func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
		if msg.SessionID != "" && msg.Method != "" {
			switch msg.Method {
			case cdproto.MethodType(cdproto.CommandPageEnable):
				writeCh <- cdproto.Message{
					ID:        msg.ID,
					SessionID: msg.SessionID,
				}
				close(done) // We're done after receiving the Page.enable command
			}
		} else if msg.Method != "" {
			switch msg.Method {
			case cdproto.MethodType(cdproto.CommandTargetAttachToTarget):
				writeCh <- cdproto.Message{
					Method: cdproto.EventTargetAttachedToTarget,
					Params: easyjson.RawMessage([]byte(testCDPAttachedEvent)),
				}
				writeCh <- cdproto.Message{
					ID:        msg.ID,
					SessionID: msg.SessionID,
					Result:    easyjson.RawMessage([]byte(testCDPAttachResponse)),
				}
			}
		}
	}

	server := ws.NewServer(t, ws.WithCDPHandler("/cdp", handler, &cmdsReceived))

	t.Run("send and recv session commands", func(t *testing.T) {
		ctx := context.Background()
		url, _ := url.Parse(server.ServerHTTP.URL)
		wsURL := fmt.Sprintf("ws://%s/cdp", url.Host)
		conn, err := NewConnection(ctx, wsURL, log.NewNullLogger())

		if assert.NoError(t, err) {
			session, err := conn.createSession(&target.Info{
				TargetID:         testCDPTargetID,
				Type:             "page",
				BrowserContextID: testCDPBrowserCtxID,
			})

			if assert.NoError(t, err) {
				require.NotNil(t, session)
				assert.Equal(t, target.SessionID(testCDPSessionID), session.ID())
				assert.Equal(t, target.ID(testCDPTargetID), session.TargetID())

				action := cdppage.Enable()
				err := action.Do(cdp.WithExecutor(ctx, session))

				require.NoError(t, err)
				require.Equal(t, []cdproto.MethodType{
					cdproto.CommandTargetAttachToTarget,
					cdproto.CommandPageEnable,
				}, cmdsReceived)
			}

			conn.Close()
		}
	})
}
