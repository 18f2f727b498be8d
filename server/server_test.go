package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/statesync"
	"github.com/pthm/statesync/lib/encoding"
)

func newTestServer(t *testing.T, configure func(*statesync.Config)) (*Server, *statesync.App, *httptest.Server) {
	t.Helper()
	app, err := statesync.TestApp(
		map[string]any{"counter": 0},
		map[string]any{"increment": func(state *statesync.RootState) error {
			return state.Set("counter", statesync.GetAs[int](state, "counter")+1)
		}},
		&statesync.Component{ID: statesync.RootComponentID, Type: "root", Content: map[string]string{"appName": "Counter <Demo>"}},
		&statesync.Component{ID: "btn", Type: "button", ParentID: statesync.RootComponentID, Content: map[string]string{},
			Handlers: map[string]string{"ss-click": "increment"}},
	)
	require.NoError(t, err)
	app.Config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if configure != nil {
		configure(app.Config)
	}

	srv, err := New(app, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, app, ts
}

func postInit(t *testing.T, ts *httptest.Server, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/init", strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInit(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPage(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := ts.Client().Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "<title>Counter &lt;Demo&gt;</title>")
	assert.Contains(t, string(body), "/api/stream")
}

func TestInit(t *testing.T) {
	_, app, ts := newTestServer(t, nil)

	pack := decodeInit(t, postInit(t, ts, `{}`, nil))

	assert.Equal(t, statesync.ModeRun, pack["mode"])
	assert.Len(t, pack["sessionId"], statesync.SessionTokenBytes*2)
	assert.Equal(t, map[string]any{"counter": float64(0)}, pack["userState"])
	assert.Equal(t, []any{}, pack["mail"])
	assert.Contains(t, pack["components"], "btn")
	assert.Equal(t, []any{"increment"}, pack["userFunctions"])
	assert.Equal(t, 1, app.Sessions.Len())
}

func TestInitProposedSession(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	proposed := strings.Repeat("0f", statesync.SessionTokenBytes)
	pack := decodeInit(t, postInit(t, ts, `{"proposedSessionId":"`+proposed+`"}`, nil))
	assert.Equal(t, proposed, pack["sessionId"])

	resp := postInit(t, ts, `{"proposedSessionId":"nope"}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postInit(t, ts, `{"proposedSessionId":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInitResumesFromCookie(t *testing.T) {
	_, app, ts := newTestServer(t, func(c *statesync.Config) {
		c.SessionKey = strings.Repeat("k", 32)
	})

	first := postInit(t, ts, `{}`, nil)
	cookies := first.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	firstPack := decodeInit(t, first)

	second := decodeInit(t, postInit(t, ts, `{}`, http.Header{"Cookie": {SessionCookie + "=" + cookies[0].Value}}))
	assert.Equal(t, firstPack["sessionId"], second["sessionId"])
	assert.Equal(t, 1, app.Sessions.Len())

	third := decodeInit(t, postInit(t, ts, `{}`, http.Header{"Cookie": {SessionCookie + "=garbage"}}))
	assert.NotEqual(t, firstPack["sessionId"], third["sessionId"])
}

func TestInitEditModeOrigin(t *testing.T) {
	tests := []struct {
		name   string
		remote bool
		origin string
		want   int
	}{
		{"local origin", false, "http://localhost:3000", http.StatusOK},
		{"loopback ip", false, "http://127.0.0.1:5000", http.StatusOK},
		{"remote origin", false, "http://evil.example", http.StatusForbidden},
		{"missing origin", false, "", http.StatusForbidden},
		{"remote edit enabled", true, "http://evil.example", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ts := newTestServer(t, func(c *statesync.Config) {
				c.Mode = statesync.ModeEdit
				c.EnableRemoteEdit = tt.remote
			})
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			resp := postInit(t, ts, `{}`, header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestInitVerifierRejects(t *testing.T) {
	_, app, ts := newTestServer(t, nil)
	app.Sessions.AddVerifier(func(cookies, headers map[string]string) bool {
		return headers["x-api-key"] == "let-me-in"
	})

	assert.Equal(t, http.StatusForbidden, postInit(t, ts, `{}`, nil).StatusCode)
	assert.Equal(t, http.StatusOK, postInit(t, ts, `{}`, http.Header{"X-Api-Key": {"let-me-in"}}).StatusCode)
}

// streamClient drives /api/stream with one codec.
type streamClient struct {
	t     *testing.T
	conn  *websocket.Conn
	codec encoding.Codec
}

func dialStream(t *testing.T, ts *httptest.Server, codec encoding.Codec) *streamClient {
	t.Helper()
	dialer := websocket.Dialer{}
	if codec.Name() != "" {
		dialer.Subprotocols = []string{codec.Name()}
	}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Equal(t, codec.Name(), conn.Subprotocol())
	return &streamClient{t: t, conn: conn, codec: codec}
}

func (c *streamClient) send(typ string, trackingID int64, payload any) {
	c.t.Helper()
	data, err := c.codec.Marshal(Inbound{Type: typ, TrackingID: trackingID, Payload: payload})
	require.NoError(c.t, err)
	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	require.NoError(c.t, c.conn.WriteMessage(msgType, data))
}

func (c *streamClient) read() (Outbound, error) {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out Outbound
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return out, err
	}
	err = c.codec.Unmarshal(data, &out)
	return out, err
}

func (c *streamClient) mustRead() Outbound {
	c.t.Helper()
	out, err := c.read()
	require.NoError(c.t, err)
	return out
}

func newSessionID(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	return decodeInit(t, postInit(t, ts, `{}`, nil))["sessionId"].(string)
}

func clickEvent() map[string]any {
	return map[string]any{
		"type": "ss-click",
		"instancePath": []any{
			map[string]any{"componentId": statesync.RootComponentID, "instanceNumber": 0},
			map[string]any{"componentId": "btn", "instanceNumber": 0},
		},
		"payload": map[string]any{},
	}
}

func TestStreamEvent(t *testing.T) {
	tests := []struct {
		name  string
		codec encoding.Codec
		one   any
	}{
		{"json", encoding.JSON, float64(1)},
		{"msgpack", encoding.Msgpack, int64(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ts := newTestServer(t, nil)
			id := newSessionID(t, ts)

			c := dialStream(t, ts, tt.codec)
			c.send(MsgStreamInit, 0, map[string]any{"sessionId": id})
			c.send(MsgEvent, 7, clickEvent())

			out := c.mustRead()
			assert.Equal(t, "eventResponse", out.MessageType)
			assert.EqualValues(t, 7, out.TrackingID)

			payload, ok := out.Payload.(map[string]any)
			require.True(t, ok, "payload %T", out.Payload)
			assert.Equal(t, map[string]any{"ok": true, "result": nil}, payload["result"])
			assert.Equal(t, map[string]any{"+counter": tt.one}, payload["mutations"])
			assert.Equal(t, []any{}, payload["mail"])
		})
	}
}

func TestStreamEventFailureIsReported(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	c := dialStream(t, ts, encoding.JSON)
	c.send(MsgStreamInit, 0, map[string]any{"sessionId": newSessionID(t, ts)})

	ev := clickEvent()
	ev["instancePath"] = []any{map[string]any{"componentId": "ghost"}}
	c.send(MsgEvent, 1, ev)

	out := c.mustRead()
	payload := out.Payload.(map[string]any)
	assert.Equal(t, false, payload["result"].(map[string]any)["ok"])
	assert.NotEmpty(t, payload["mail"])
}

func TestStreamKeepAliveAndStateEnquiry(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	c := dialStream(t, ts, encoding.JSON)
	c.send(MsgStreamInit, 0, map[string]any{"sessionId": newSessionID(t, ts)})

	c.send(MsgKeepAlive, -1, nil)
	out := c.mustRead()
	assert.Equal(t, "keepAliveResponse", out.MessageType)
	assert.Nil(t, out.Payload)

	c.send(MsgStateEnquiry, 3, nil)
	out = c.mustRead()
	assert.Equal(t, "stateEnquiryResponse", out.MessageType)
	assert.Equal(t, map[string]any{"mutations": map[string]any{}, "mail": []any{}}, out.Payload)
}

func TestStreamIgnoresMessagesBeforeInit(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	c := dialStream(t, ts, encoding.JSON)

	c.send(MsgKeepAlive, 1, nil)
	c.send(MsgStreamInit, 2, map[string]any{"sessionId": newSessionID(t, ts)})
	c.send(MsgKeepAlive, 3, nil)

	out := c.mustRead()
	assert.EqualValues(t, 3, out.TrackingID)
}

func TestStreamUnknownSession(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	c := dialStream(t, ts, encoding.JSON)
	c.send(MsgStreamInit, 0, map[string]any{"sessionId": strings.Repeat("ab", statesync.SessionTokenBytes)})

	_, err := c.read()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "err = %v", err)
}

func TestStreamClosesForPrunedSession(t *testing.T) {
	_, app, ts := newTestServer(t, nil)
	id := newSessionID(t, ts)
	c := dialStream(t, ts, encoding.JSON)
	c.send(MsgStreamInit, 0, map[string]any{"sessionId": id})
	c.send(MsgKeepAlive, 1, nil)
	c.mustRead()

	app.Sessions.Close(id)
	c.send(MsgKeepAlive, 2, nil)
	_, err := c.read()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "err = %v", err)
}

func TestPruneEvery(t *testing.T) {
	srv, app, _ := newTestServer(t, func(c *statesync.Config) { c.IdleSessionSeconds = 1 })
	_, err := app.Sessions.NewSession(nil, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.pruneEvery(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool { return app.Sessions.Len() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	app := statesync.NewApp(nil, nil, nil)
	cfg := statesync.DefaultConfig()
	cfg.SessionKey = "too-short"

	_, err := New(app, cfg)
	assert.True(t, statesync.IsConfiguration(err), "err = %v", err)
}
