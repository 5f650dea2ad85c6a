package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/metrics"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendBuffer = 256
)

// Session is one live console connection, bound to exactly one server.
// Created only after token validation succeeds; destroyed on connection
// close, releasing the interactive shell, the stats timer and the hub
// registration.
type Session struct {
	id          string
	internalID  string
	containerID string
	identity    string // control-plane user/server identity from validation

	hub  *Hub
	eng  engine.Engine
	reg  *registry.Registry
	conn *websocket.Conn

	send          chan []byte
	authenticated atomic.Bool

	// ctx scopes everything owned by the session: the stats timer and any
	// in-flight engine calls issued on its behalf.
	ctx    context.Context
	cancel context.CancelFunc

	shellMu sync.Mutex
	shell   *engine.ExecStream // lazily created, reused across commands

	closeOnce sync.Once
}

// newSession wires a session after successful authentication.
func newSession(hub *Hub, eng engine.Engine, reg *registry.Registry, conn *websocket.Conn, rec types.ServerRecord, identity string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          uuid.NewString(),
		internalID:  rec.InternalID,
		containerID: rec.ContainerID,
		identity:    identity,
		hub:         hub,
		eng:         eng,
		reg:         reg,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Send queues a frame for delivery. Frames to a closed session or a full
// (stalled) client are dropped rather than blocking the broadcast path.
// The send channel is never closed; writePump exits on ctx cancellation,
// so a late broadcast racing with teardown cannot panic.
func (s *Session) Send(frame []byte) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.send <- frame:
	default:
	}
}

// sendEvent encodes and queues one event for this session only.
func (s *Session) sendEvent(event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		log.WithFunc("session.sendEvent").Errorf(s.ctx, err, "encode %s", event)
		return
	}
	s.Send(frame)
}

// sendError reports a non-fatal error to this session.
func (s *Session) sendError(msg string) {
	s.sendEvent(EventError, ErrorData{Message: msg})
}

// Close tears the session down exactly once: hub detach, shell release,
// stats timer cancellation, connection close.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.hub.Detach(s)

		s.shellMu.Lock()
		if s.shell != nil {
			s.shell.Close() //nolint:errcheck
			s.shell = nil
		}
		s.shellMu.Unlock()

		s.conn.Close() //nolint:errcheck
		metrics.SessionsActive.Dec()
	})
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close() //nolint:errcheck
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump dispatches inbound events until the connection drops. Malformed
// frames are logged and dropped; the connection stays up.
func (s *Session) readPump() {
	logger := log.WithFunc("session.readPump")
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warnf(s.ctx, "session %s: malformed frame dropped: %v", s.id, err)
			continue
		}

		switch env.Event {
		case EventSendCommand:
			var cmd string
			if err := json.Unmarshal(env.Data, &cmd); err != nil {
				logger.Warnf(s.ctx, "session %s: malformed send_command dropped: %v", s.id, err)
				continue
			}
			s.handleCommand(cmd)
		case EventPowerAction:
			var data PowerActionData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				logger.Warnf(s.ctx, "session %s: malformed power_action dropped: %v", s.id, err)
				continue
			}
			s.handlePower(data.Action)
		default:
			logger.Warnf(s.ctx, "session %s: unknown event %q dropped", s.id, env.Event)
		}
	}
}

// handleCommand injects one command into the server's interactive shell.
// Rejected without side effects when the container is not running.
func (s *Session) handleCommand(cmd string) {
	status, err := s.eng.Inspect(s.ctx, s.containerID)
	if err != nil {
		s.sendError(fmt.Sprintf("inspect server: %v", err))
		return
	}
	if !status.Running {
		s.sendError("server is not running")
		return
	}

	shell, err := s.ensureShell()
	if err != nil {
		s.sendError(fmt.Sprintf("open command shell: %v", err))
		return
	}
	if _, err := io.WriteString(shell.Writer, cmd+"\n"); err != nil {
		// A dead shell (container restarted underneath it) is discarded so
		// the next command re-establishes one.
		s.dropShell()
		s.sendError(fmt.Sprintf("write command: %v", err))
	}
}

// ensureShell lazily establishes the session's persistent interactive shell.
// Its output is redirected at the OS-process level into the main container
// process's own stdio, so injected commands' output appears in the regular
// log stream instead of a side channel.
func (s *Session) ensureShell() (*engine.ExecStream, error) {
	s.shellMu.Lock()
	defer s.shellMu.Unlock()
	if s.shell != nil {
		return s.shell, nil
	}

	pid, err := s.mainProcessPID()
	if err != nil {
		return nil, err
	}

	redirect := fmt.Sprintf("exec >>/proc/%d/fd/1 2>>/proc/%d/fd/2 && exec /bin/sh", pid, pid)
	shell, err := s.eng.Exec(s.ctx, s.containerID, []string{"/bin/sh", "-c", redirect})
	if err != nil {
		return nil, err
	}
	s.shell = shell
	return shell, nil
}

func (s *Session) dropShell() {
	s.shellMu.Lock()
	defer s.shellMu.Unlock()
	if s.shell != nil {
		s.shell.Close() //nolint:errcheck
		s.shell = nil
	}
}

// mainProcessPID scans the container's process table for the first process
// whose parent is PID 0 or 1 and whose command line is not a plain shell
// invocation. Best-effort: unusual entrypoints can defeat it, in which case
// the init process is used.
func (s *Session) mainProcessPID() (int, error) {
	procs, err := s.eng.Top(s.ctx, s.containerID)
	if err != nil {
		return 0, err
	}
	if len(procs) == 0 {
		return 0, fmt.Errorf("empty process table")
	}
	for _, p := range procs {
		if (p.PPID == 0 || p.PPID == 1) && !plainShell(p.Command) {
			return p.PID, nil
		}
	}
	return procs[0].PID, nil
}

// plainShell reports whether a command line is just a shell.
func plainShell(cmdline string) bool {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return true
	}
	switch filepath.Base(fields[0]) {
	case "sh", "bash", "ash", "dash":
		return true
	}
	return false
}

// handlePower runs one power action: announce to every session on the
// server, invoke the lifecycle operation, re-attach log streaming for
// start/restart, then report the outcome to the initiator only.
func (s *Session) handlePower(action string) {
	logger := log.WithFunc("session.handlePower")
	metrics.PowerActionsTotal.WithLabelValues(action).Inc()

	var op func(context.Context, string) error
	switch action {
	case "start":
		op = s.eng.Start
	case "stop":
		op = s.eng.Stop
	case "restart":
		op = s.eng.Restart
	default:
		s.sendError(fmt.Sprintf("unknown power action %q", action))
		return
	}

	s.hub.ConsoleOutput(s.internalID, fmt.Sprintf("[hatchery] %s requested by console", action))

	opErr := op(s.ctx, s.containerID)
	if opErr != nil {
		logger.Warnf(s.ctx, "power %s on %s: %v", action, s.internalID, opErr)
	}

	if opErr == nil && (action == "start" || action == "restart") {
		s.hub.Reattach(s.internalID, s.containerID)
	}

	state := s.recordState(action, opErr)

	status := "ok"
	errMsg := ""
	if opErr != nil {
		status = "error"
		errMsg = opErr.Error()
	}
	// Engine-reported error string from the container itself, if any.
	if st, err := s.eng.Inspect(s.ctx, s.containerID); err == nil && st.Err != "" && errMsg == "" {
		errMsg = st.Err
	}
	s.sendEvent(EventPowerStatus, PowerStatusData{
		Status: status,
		Action: action,
		State:  state,
		Error:  errMsg,
	})
}

// recordState reconciles the registry record with the engine's view after a
// power action and returns the state to report. On failure the last known
// real state is reported instead of the attempted one.
func (s *Session) recordState(action string, opErr error) types.ServerState {
	logger := log.WithFunc("session.recordState")

	status, err := s.eng.Inspect(s.ctx, s.containerID)
	if err != nil {
		logger.Warnf(s.ctx, "inspect after %s on %s: %v", action, s.internalID, err)
		if rec, rerr := s.reg.Get(s.ctx, s.internalID); rerr == nil {
			return rec.State
		}
		return types.StateErrored
	}

	state := types.StateStopped
	if status.Running {
		state = types.StateRunning
	}
	if opErr == nil {
		s.syncRecord(state)
	}
	return state
}

// syncRecord walks the registry record to the observed engine state through
// the legal intermediate transition. Mismatches are logged, not escalated:
// the engine is authoritative.
func (s *Session) syncRecord(target types.ServerState) {
	logger := log.WithFunc("session.syncRecord")
	rec, err := s.reg.Get(s.ctx, s.internalID)
	if err != nil || rec.State == target {
		return
	}

	var via types.ServerState
	switch target {
	case types.StateRunning:
		via = types.StateStarting
	case types.StateStopped:
		via = types.StateStopping
	default:
		return
	}
	if rec.State != via {
		if err := s.reg.Transition(s.ctx, s.internalID, via); err != nil {
			logger.Warnf(s.ctx, "record %s: %v", s.internalID, err)
			return
		}
	}
	if err := s.reg.Transition(s.ctx, s.internalID, target); err != nil {
		logger.Warnf(s.ctx, "record %s: %v", s.internalID, err)
	}
}
