package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/metrics"
	"github.com/projecteru2/hatchery/monitor"
	"github.com/projecteru2/hatchery/panel"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler authenticates inbound console connections and runs their sessions.
type Handler struct {
	hub   *Hub
	eng   engine.Engine
	reg   *registry.Registry
	panel *panel.Client
}

// NewHandler wires the session layer.
func NewHandler(hub *Hub, eng engine.Engine, reg *registry.Registry, pc *panel.Client) *Handler {
	return &Handler{hub: hub, eng: eng, reg: reg, panel: pc}
}

// ServeWS runs one connection through its lifecycle:
// Connecting → Unauthenticated (missing params: close 1008)
// → Authenticating (control-plane validation; denial: close 1008)
// → Attached (container resolved, backlog + state sent)
// → Active (events accepted) → Closed.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	logger := log.WithFunc("session.ServeWS")
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf(ctx, "upgrade failed: %v", err)
		return
	}

	internalID := r.URL.Query().Get("server")
	token := r.URL.Query().Get("token")
	if internalID == "" || token == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "missing server or token parameter")
		return
	}

	result, err := h.panel.Validate(ctx, internalID, token)
	if err != nil || !result.Validated {
		if err != nil {
			logger.Warnf(ctx, "validate %s: %v", internalID, err)
		}
		closeWith(conn, websocket.ClosePolicyViolation, "token validation failed")
		return
	}

	rec, err := h.reg.Get(ctx, internalID)
	if err != nil {
		logger.Warnf(ctx, "lookup %s: %v", internalID, err)
		closeWith(conn, websocket.CloseInternalServerErr, "server not available on this node")
		return
	}

	// Invariant: the bound container must exist in the engine's registry at
	// attach time, or the session is torn down immediately.
	if rec.ContainerID == "" {
		closeWith(conn, websocket.CloseInternalServerErr, "server has no container yet")
		return
	}
	status, err := h.eng.Inspect(ctx, rec.ContainerID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			closeWith(conn, websocket.CloseInternalServerErr, "server container is gone")
		} else {
			logger.Warnf(ctx, "inspect %s: %v", internalID, err)
			closeWith(conn, websocket.CloseInternalServerErr, "session setup failed")
		}
		return
	}

	s := newSession(h.hub, h.eng, h.reg, conn, rec, result.Server.Name)
	s.authenticated.Store(true)
	metrics.SessionsActive.Inc()

	state := types.StateStopped
	if status.Running {
		state = types.StateRunning
	}
	// Queue the welcome frame before joining the hub so live output fanned
	// out by the shared reader cannot land ahead of the backlog that
	// already contains it.
	s.sendEvent(EventAuthSuccess, AuthSuccessData{
		Logs:  h.hub.Backlog(internalID),
		State: state,
	})
	h.hub.Attach(s)

	go s.writePump()
	go monitor.Run(s.ctx, h.eng, s.containerID, func(snap types.StatsSnapshot) {
		s.sendEvent(EventStats, snap)
	})

	logger.Infof(ctx, "session %s attached to %s", s.id, internalID)
	s.readPump() // blocks until disconnect; Close runs on return
	logger.Infof(ctx, "session %s closed", s.id)
}

// closeWith sends a close frame with an explicit code and drops the
// connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}
