package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/panel"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
)

// wsEngine extends the log fake with the inspect and stats calls a live
// session makes.
type wsEngine struct {
	*logEngine
}

func (e *wsEngine) Inspect(context.Context, string) (engine.Status, error) {
	return engine.Status{Running: true}, nil
}

func (e *wsEngine) Stats(context.Context, string) (engine.RawStats, error) {
	return engine.RawStats{}, nil
}

func newWSFixture(t *testing.T) (string, *wsEngine) {
	t.Helper()

	panelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/validate") {
			http.NotFound(w, r)
			return
		}
		result := panel.ValidationResult{
			Validated: r.Header.Get("Authorization") == "Bearer good-token",
		}
		result.Server.Name = "craft-1"
		require.NoError(t, json.NewEncoder(w).Encode(result))
	}))
	t.Cleanup(panelSrv.Close)

	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	require.NoError(t, conf.EnsureDirs())
	reg := registry.New(conf)
	require.NoError(t, reg.Put(context.Background(), types.ServerRecord{
		ID:          "s-1",
		InternalID:  "srv1",
		ContainerID: "c-srv1",
		State:       types.StateInstalled,
	}))

	eng := &wsEngine{logEngine: newLogEngine()}
	hub := NewHub(eng)
	h := NewHandler(hub, eng, reg, panel.New(panelSrv.URL, "daemon-token"))

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), eng
}

func dialConsole(t *testing.T, base, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/?"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestServeWS(t *testing.T) {
	t.Run("missing params close with policy violation", func(t *testing.T) {
		base, _ := newWSFixture(t)
		conn := dialConsole(t, base, "server=srv1")
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	})

	t.Run("denied token closes with policy violation", func(t *testing.T) {
		base, _ := newWSFixture(t)
		conn := dialConsole(t, base, "server=srv1&token=bad-token")
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	})

	t.Run("unknown server closes with internal error", func(t *testing.T) {
		base, _ := newWSFixture(t)
		conn := dialConsole(t, base, "server=ghost&token=good-token")
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr))
	})

	t.Run("welcome frame precedes live output", func(t *testing.T) {
		base, eng := newWSFixture(t)
		conn := dialConsole(t, base, "server=srv1&token=good-token")

		// The shared reader starts immediately; its output must queue
		// behind the welcome frame, never ahead of it.
		require.Eventually(t, func() bool { return eng.open.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
		eng.emit(t, "server thread started")

		env := readEnvelope(t, conn)
		require.Equal(t, EventAuthSuccess, env.Event)
		var auth AuthSuccessData
		require.NoError(t, json.Unmarshal(env.Data, &auth))
		assert.Equal(t, types.StateRunning, auth.State)
		assert.Empty(t, auth.Logs)

		env = readEnvelope(t, conn)
		require.Equal(t, EventConsoleOutput, env.Event)
		var out ConsoleOutputData
		require.NoError(t, json.Unmarshal(env.Data, &out))
		assert.Equal(t, "server thread started", out.Message)
	})
}
