package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/chat"
	"github.com/luciancaetano/kephasrpc/internal/config"
	"github.com/luciancaetano/kephasrpc/internal/transport"
)

var (
	aliceID = uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001")
	bobID   = uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000002")
)

type envelope struct {
	ID          string          `json:"id"`
	Method      string          `json:"method"`
	ErrorID     int             `json:"errorId"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	Data        json.RawMessage `json:"data"`
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, modify func(*ServerConfig)) (*Server, *httptest.Server) {
	t.Helper()

	table, err := chat.Table()
	require.NoError(t, err)

	sc := &ServerConfig{
		Config:      testConfig(),
		Table:       table,
		CheckOrigin: func(*http.Request) bool { return true },
		Logger:      zerolog.Nop(),
	}
	if modify != nil {
		modify(sc)
	}

	srv := New(sc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, ts
}

func dialAs(t *testing.T, url string, id uuid.UUID, name string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	if id != uuid.Nil {
		header.Set(HeaderUserID, id.String())
	}
	if name != "" {
		header.Set(HeaderUserName, name)
	}

	conn, _, err := newDialer().Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials and waits for the WSConnected notification.
func connect(t *testing.T, ts *httptest.Server, id uuid.UUID, name string) *websocket.Conn {
	t.Helper()

	conn := dialAs(t, wsURL(ts, "/ws"), id, name)
	msg := read(t, conn)
	require.Equal(t, kephasrpc.NotifyConnected, msg.Method)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)

	var msg envelope
	require.NoError(t, json.Unmarshal(data, &msg), "frame: %s", data)
	return msg
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err == nil {
			t.Logf("skipping frame before close: %s", data)
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr
	}
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params map[string]any) {
	t.Helper()

	data, err := json.Marshal(map[string]any{"id": id, "method": method, "params": params})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(raw, &v), "raw: %s", raw)
	return v
}

func TestServerRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	tests := []struct {
		name       string
		id         uuid.UUID
		userName   string
		wantStatus kephasrpc.AbortReason
	}{
		{name: "no headers", wantStatus: kephasrpc.AbortUserIDNotFound},
		{name: "no name", id: aliceID, wantStatus: kephasrpc.AbortUserNameNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialAs(t, wsURL(ts, "/ws"), tt.id, tt.userName)

			msg := read(t, conn)
			assert.Equal(t, kephasrpc.NotifyAborted, msg.Method)
			notice := decode[kephasrpc.AbortNotice](t, msg.Data)
			assert.Equal(t, tt.wantStatus.Notice(), notice)

			closeErr := readClose(t, conn)
			assert.Equal(t, transport.CloseNormal, closeErr.Code)
			assert.Equal(t, kephasrpc.ReasonClosedByServer, closeErr.Text)
		})
	}
}

func TestServerChat(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	alice := connect(t, ts, aliceID, "Alice")
	bob := connect(t, ts, bobID, "Bob")

	call(t, alice, "1", "Chat.Message", map[string]any{"userId": bobID.String(), "message": "hi"})

	resp := read(t, alice)
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, "Chat.Message", resp.Method)
	assert.Equal(t, kephasrpc.ErrIDNone, resp.ErrorID)
	assert.Equal(t, "'hi' message sent to '"+bobID.String()+"' user", decode[string](t, resp.Result))

	note := read(t, bob)
	assert.Empty(t, note.ID)
	assert.Equal(t, "Chat.Message", note.Method)
	assert.Equal(t, "Alice user sent 'hi' message", decode[string](t, note.Data))

	call(t, bob, "2", "User.Online", nil)
	online := decode[[]kephasrpc.Identity](t, read(t, bob).Result)
	assert.ElementsMatch(t, []kephasrpc.Identity{{ID: aliceID, Name: "Alice"}, {ID: bobID, Name: "Bob"}}, online)
}

func TestServerProtocolErrors(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	conn := connect(t, ts, aliceID, "Alice")

	tests := []struct {
		method      string
		params      map[string]any
		wantErrorID int
	}{
		{method: "Foo", wantErrorID: kephasrpc.ErrIDMethodLevels},
		{method: "Admin.Ban", wantErrorID: kephasrpc.ErrIDUnknownClass},
		{method: "Chat.Shout", wantErrorID: kephasrpc.ErrIDInvalidMethod},
		{method: "Chat.Message", params: map[string]any{"userId": "nope", "message": "x"}, wantErrorID: kephasrpc.ErrIDInvalidRequest},
		{method: "Chat.MessageToMany", params: map[string]any{"userIds": []string{"nope"}, "message": "x"}, wantErrorID: chat.ErrIDInvalidUser},
	}

	for _, tt := range tests {
		call(t, conn, "r", tt.method, tt.params)
		resp := read(t, conn)
		assert.Equal(t, tt.wantErrorID, resp.ErrorID, tt.method)
		assert.NotEmpty(t, resp.Description, tt.method)
	}

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("not json")))
	assert.Equal(t, kephasrpc.ErrIDInvalidRequest, read(t, conn).ErrorID)
}

func TestServerReconnectDisplaces(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	first := connect(t, ts, aliceID, "Alice")
	second := connect(t, ts, aliceID, "Alice")

	closeErr := readClose(t, first)
	assert.Equal(t, transport.CloseNormal, closeErr.Code)
	assert.Equal(t, kephasrpc.ReasonReconnecting, closeErr.Text)

	call(t, second, "1", "User.Info", nil)
	assert.Equal(t, kephasrpc.Identity{ID: aliceID, Name: "Alice"}, decode[kephasrpc.Identity](t, read(t, second).Result))
	assert.Equal(t, 1, srv.Registry().Len())
}

func TestServerTextFrames(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	conn := connect(t, ts, aliceID, "Alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","method":"User.Info"}`)))
	readClose(t, conn)
}

func TestServerHooks(t *testing.T) {
	t.Parallel()

	connected := make(chan kephasrpc.Identity, 1)
	disconnected := make(chan bool, 1)
	_, ts := newTestServer(t, func(sc *ServerConfig) {
		sc.OnConnect = func(id kephasrpc.Identity) { connected <- id }
		sc.OnDisconnect = func(_ kephasrpc.Identity, voluntary bool) { disconnected <- voluntary }
	})

	conn := connect(t, ts, aliceID, "Alice")
	select {
	case id := <-connected:
		assert.Equal(t, aliceID, id.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("OnConnect not called")
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case voluntary := <-disconnected:
		assert.True(t, voluntary)
	case <-time.After(5 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestServerStopNotifiesClients(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	conn := connect(t, ts, aliceID, "Alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	msg := read(t, conn)
	assert.Equal(t, kephasrpc.NotifyUnauthorized, msg.Method)
	assert.Equal(t, map[string]string{"description": kephasrpc.ReasonClosedByServer}, decode[map[string]string](t, msg.Data))
	readClose(t, conn)
	assert.Zero(t, srv.Registry().Len())

	late := dialAs(t, wsURL(ts, "/ws"), bobID, "Bob")
	notice := decode[kephasrpc.AbortNotice](t, read(t, late).Data)
	assert.Equal(t, kephasrpc.AbortServerNotWorking, notice.Status)
}

func TestServerTokenResolver(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, func(sc *ServerConfig) {
		sc.Resolver = TokenResolver(func(token string) (kephasrpc.Identity, error) {
			if token != "secret" {
				return kephasrpc.Identity{}, errors.New("bad token")
			}
			return kephasrpc.Identity{ID: bobID, Name: "Bob"}, nil
		})
	})

	ok := dialAs(t, wsURL(ts, "/ws?access_token=secret"), uuid.Nil, "")
	assert.Equal(t, kephasrpc.NotifyConnected, read(t, ok).Method)

	denied := dialAs(t, wsURL(ts, "/ws?access_token=nope"), uuid.Nil, "")
	notice := decode[kephasrpc.AbortNotice](t, read(t, denied).Data)
	assert.Equal(t, kephasrpc.AbortTokenExpiredOrInvalid, notice.Status)
}

func TestServerHealthAndMetrics(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	connect(t, ts, aliceID, "Alice")

	resp, err := http.Get(ts.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := decode[healthResponse](t, mustReadAll(t, resp.Body))
	assert.Equal(t, healthResponse{Status: "ok", Connections: 1}, health)

	metrics, err := http.Get(ts.URL + testConfig().Metrics.Path)
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
	assert.Contains(t, string(mustReadAll(t, metrics.Body)), "kephasrpc_connections_active")
}

func TestServerMetricsDisabled(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, func(sc *ServerConfig) { sc.Config.Metrics.Enabled = false })

	resp, err := http.Get(ts.URL + testConfig().Metrics.Path)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()

	table, err := chat.Table()
	require.NoError(t, err)
	srv := New(&ServerConfig{Config: testConfig(), Table: table, Logger: zerolog.Nop()})

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	assert.ErrorIs(t, srv.Start(ctx), ErrServerAlreadyRunning)
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	conn := dialAs(t, "ws://"+srv.Addr()+"/ws", aliceID, "Alice")
	assert.Equal(t, kephasrpc.NotifyConnected, read(t, conn).Method)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(stopCtx))
	assert.Equal(t, kephasrpc.NotifyUnauthorized, read(t, conn).Method)
}

func TestServerStopWithoutStart(t *testing.T) {
	t.Parallel()

	srv := New(&ServerConfig{Config: testConfig(), Logger: zerolog.Nop()})
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	table, err := chat.Table()
	require.NoError(t, err)
	srv := New(&ServerConfig{Config: testConfig(), Table: table, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	conn := dialAs(t, "ws://"+srv.Addr()+"/ws", aliceID, "Alice")
	assert.Equal(t, kephasrpc.NotifyConnected, read(t, conn).Method)

	cancel()
	assert.Equal(t, kephasrpc.NotifyUnauthorized, read(t, conn).Method)
	readClose(t, conn)
}

func mustReadAll(t *testing.T, r io.Reader) []byte {
	t.Helper()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}
