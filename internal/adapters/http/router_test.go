package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/bridge/internal/adapters/rpc"
	"github.com/dkeye/bridge/internal/app"
	"github.com/dkeye/bridge/internal/app/orch"
	"github.com/dkeye/bridge/internal/authstate"
	"github.com/dkeye/bridge/internal/backend/loopback"
	"github.com/dkeye/bridge/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *app.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	session := app.NewSession()
	metrics := app.NewMetrics(reg)
	fanout := app.NewFanout(session, metrics, nil)
	lc := &app.Lifecycle{
		Session:         session,
		Fanout:          fanout,
		Metrics:         metrics,
		Auth:            authstate.NewStore(afero.NewMemMapFs()),
		Factory:         loopback.Factory{},
		DefaultAuthPath: "auth_info",
		DefaultLogLevel: "silent",
	}
	ctrl := rpc.NewRPCController(orch.New(lc, loopback.Statics()), rpc.Options{ReadLimit: 1 << 20})

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, &config.Config{Mode: "test", MetricsPath: "/metrics"}, ctrl, reg))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, session
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func call(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func read(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func TestBridge_EndToEnd(t *testing.T) {
	srv, _ := newServer(t)
	ws := dial(t, srv)

	call(t, ws, `{"cmd":"INIT","id":1}`)
	assert.Equal(t, "Initialized", read(t, ws)["result"])

	call(t, ws, `{"cmd":"SUBSCRIBE","event":"messages.upsert"}`)
	call(t, ws, `{"cmd":"CALL","id":2,"method":"sendMessage","args":["123@s.whatsapp.net","hi"]}`)

	ev := read(t, ws)
	assert.Equal(t, "EVENT", ev["type"])
	assert.Equal(t, "messages.upsert", ev["name"])

	resp := read(t, ws)
	assert.Equal(t, 2.0, resp["id"])
	result := resp["result"].(map[string]any)
	assert.IsType(t, "", result["messageTimestamp"])
	assert.Equal(t, "123@s.whatsapp.net", result["key"].(map[string]any)["remoteJid"])
}

func TestBridge_NewConnectionSupersedesOld(t *testing.T) {
	srv, session := newServer(t)
	first := dial(t, srv)
	call(t, first, `{"cmd":"STATIC_CALL","id":1,"method":"generateMessageID"}`)
	require.Equal(t, "RESPONSE", read(t, first)["type"])

	second := dial(t, srv)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "superseded connection should be closed, not idle")
	}

	call(t, second, `{"cmd":"STATIC_CALL","id":"x","method":"jidEncode","args":["1","g.us"]}`)
	resp := read(t, second)
	assert.Equal(t, "x", resp["id"])
	assert.Equal(t, "1@g.us", resp["result"])
	assert.True(t, session.Status().Connected)
}

func TestBridge_HealthAndMetrics(t *testing.T) {
	srv, session := newServer(t)
	ws := dial(t, srv)
	call(t, ws, `{"cmd":"INIT","id":1}`)
	read(t, ws)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	var status app.Status
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.True(t, status.Initialized)
	assert.Equal(t, []string{"connection.update"}, status.Subscriptions)
	assert.Equal(t, session.Status().ConnectionID, status.ConnectionID)

	mres, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mres.Body.Close()
	body, err := io.ReadAll(mres.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bridge_frames_received_total{cmd="INIT"} 1`)
	assert.Contains(t, string(body), "bridge_backend_initialized 1")
}
