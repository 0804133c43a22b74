// Package ws provides a WebSocket test server that can stand in for a
// DevTools-protocol endpoint in tests.
package ws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

// Server is a test double for a CDP-speaking browser endpoint. Paths not
// claimed by a handler option fall through to httpbin.
type Server struct {
	t             testing.TB
	Mux           *http.ServeMux
	ServerHTTP    *httptest.Server
	HTTPTransport *http.Transport
	Context       context.Context
}

// NewServer starts the test server and registers the given handler
// options on its mux. It is torn down through t.Cleanup.
func NewServer(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle("/", httpbin.New().Handler())
	server := httptest.NewServer(mux)

	transport := &http.Transport{}
	require.NoError(t, http2.ConfigureTransport(transport))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	s := &Server{
		t:             t,
		Mux:           mux,
		ServerHTTP:    server,
		HTTPTransport: transport,
		Context:       ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the ws:// URL for the given path on the test server.
func (s *Server) URL(path string) string {
	return strings.Replace(s.ServerHTTP.URL, "http://", "ws://", 1) + path
}

func upgrade(w http.ResponseWriter, req *http.Request) (*websocket.Conn, error) {
	return (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
}

// WithClosureAbnormalHandler registers a path that drops the TCP
// connection without a WS close handshake, so clients observe an
// abnormal closure.
func WithClosureAbnormalHandler(path string) func(*Server) {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrade(w, req)
			if err != nil {
				return
			}
			_ = conn.Close()
		})
	}
}

// WithEchoHandler registers a path that echoes one message back and then
// closes normally.
func WithEchoHandler(path string) func(*Server) {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrade(w, req)
			if err != nil {
				return
			}
			messageType, r, err := conn.NextReader()
			if err != nil {
				return
			}
			wc, err := conn.NextWriter(messageType)
			if err != nil {
				return
			}
			if _, err = io.Copy(wc, r); err != nil {
				return
			}
			if err = wc.Close(); err != nil {
				return
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(10*time.Second))
		})
	}
}

func readCDPMessage(conn *websocket.Conn) (*cdproto.Message, error) {
	_, buf, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg cdproto.Message
	decoder := jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&decoder)
	if err := decoder.Error(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func writeCDPMessage(conn *websocket.Conn, msg *cdproto.Message) {
	encoder := jwriter.Writer{}
	msg.MarshalEasyJSON(&encoder)
	if encoder.Error != nil {
		return
	}
	writer, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return
	}
	if _, err := encoder.DumpTo(writer); err != nil {
		return
	}
	_ = writer.Close()
}

// WithCDPHandler registers a path served by fn: each decoded client
// message is handed to fn, which replies through writeCh. When
// cmdsReceived is non-nil every command method is appended to it, in
// arrival order.
func WithCDPHandler(
	path string,
	fn func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}),
	cmdsReceived *[]cdproto.MethodType,
) func(*Server) {
	return func(s *Server) {
		s.Mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			conn, err := upgrade(w, req)
			if err != nil {
				return
			}

			done := make(chan struct{})
			writeCh := make(chan cdproto.Message)

			go func() {
				for {
					select {
					case <-done:
						return
					default:
					}
					msg, err := readCDPMessage(conn)
					if err != nil {
						close(done)
						return
					}
					if msg.Method != "" && cmdsReceived != nil {
						*cmdsReceived = append(*cmdsReceived, msg.Method)
					}
					fn(conn, msg, writeCh, done)
				}
			}()

			go func() {
				for {
					select {
					case msg := <-writeCh:
						writeCDPMessage(conn, &msg)
					case <-done:
						return
					}
				}
			}()

			// Hold the connection open until the read side is done.
			<-done
		})
	}
}

// CDPDefaultHandler answers enough of the protocol for a connection to
// attach a single session: Target.attachToTarget yields a canned
// session, every other command gets an empty success reply.
func CDPDefaultHandler(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
	const (
		attachedEvent = `{
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
		attachedResult = `{"sessionId":"session_id_0123456789"}`
	)

	switch {
	case msg.Method == "":
		// Not a command; nothing to answer.
	case msg.SessionID != "":
		// Session-scoped commands get a bare success.
		writeCh <- cdproto.Message{
			ID:        msg.ID,
			SessionID: msg.SessionID,
		}
	case msg.Method == cdproto.MethodType(cdproto.CommandTargetAttachToTarget):
		writeCh <- cdproto.Message{
			Method: cdproto.EventTargetAttachedToTarget,
			Params: easyjson.RawMessage([]byte(attachedEvent)),
		}
		writeCh <- cdproto.Message{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Result:    easyjson.RawMessage([]byte(attachedResult)),
		}
	default:
		writeCh <- cdproto.Message{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Result:    easyjson.RawMessage([]byte("{}")),
		}
	}
}
