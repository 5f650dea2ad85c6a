package session

import (
	"context"
	"sync"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/logstream"
)

// Hub owns all shared per-server console state: the session registry, the
// backlog buffers, and one reference-counted engine log subscription per
// server fanned out to every attached session. Only the Hub mutates this
// state; sessions go through it.
type Hub struct {
	eng engine.Engine

	mu       sync.Mutex
	sessions map[string]map[*Session]struct{} // internalID → attached sessions
	buffers  map[string]*logstream.Buffer
	readers  map[string]*logReader // internalID → shared log reader
}

// logReader identifies one shared reader incarnation so a reader that exits
// on its own can tell whether it still owns the registry slot.
type logReader struct {
	cancel context.CancelFunc
}

// NewHub creates an empty Hub.
func NewHub(eng engine.Engine) *Hub {
	return &Hub{
		eng:      eng,
		sessions: make(map[string]map[*Session]struct{}),
		buffers:  make(map[string]*logstream.Buffer),
		readers:  make(map[string]*logReader),
	}
}

// Attach registers a session and ensures the server's shared log reader is
// running. The first session starts the reader; later sessions reuse it.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[s.internalID] == nil {
		h.sessions[s.internalID] = make(map[*Session]struct{})
	}
	h.sessions[s.internalID][s] = struct{}{}

	if _, running := h.readers[s.internalID]; !running {
		h.startReaderLocked(s.internalID, s.containerID)
	}
}

// Detach removes a session. The last session to detach stops the shared
// reader so no engine-side log stream outlives its consumers.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.sessions[s.internalID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.internalID)
		if r, ok := h.readers[s.internalID]; ok {
			r.cancel()
			delete(h.readers, s.internalID)
		}
	}
}

// Reattach restarts the shared log reader after a container start or
// restart, when the previous stream has ended with the old process.
func (h *Hub) Reattach(internalID, containerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.readers[internalID]; ok {
		r.cancel()
		delete(h.readers, internalID)
	}
	if len(h.sessions[internalID]) > 0 {
		h.startReaderLocked(internalID, containerID)
	}
}

// startReaderLocked launches the shared engine log subscription.
// Caller holds h.mu.
func (h *Hub) startReaderLocked(internalID, containerID string) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &logReader{cancel: cancel}
	h.readers[internalID] = r

	// Replay engine-side history only while the backlog is empty. Once lines
	// have been buffered, a replay would push the same history through
	// ConsoleOutput a second time.
	tail := 0
	if buf := h.buffers[internalID]; buf == nil || buf.Len() == 0 {
		tail = logstream.DefaultBufferSize
	}

	go func() {
		// Releasing the registry slot on exit lets the next Attach start a
		// fresh reader after the stream ends or fails to open.
		defer func() {
			cancel()
			h.mu.Lock()
			if h.readers[internalID] == r {
				delete(h.readers, internalID)
			}
			h.mu.Unlock()
		}()

		logger := log.WithFunc("session.logReader")
		stream, err := h.eng.Logs(ctx, containerID, true, tail)
		if err != nil {
			logger.Warnf(ctx, "open log stream for %s: %v", internalID, err)
			return
		}
		defer stream.Close() //nolint:errcheck
		// Close the stream when the subscription is cancelled so the
		// blocked decoder read returns.
		go func() {
			<-ctx.Done()
			stream.Close() //nolint:errcheck
		}()

		dec := logstream.NewDecoder(stream.Reader)
		for {
			line, err := dec.Next()
			if err != nil {
				if ctx.Err() == nil {
					logger.Infof(ctx, "log stream for %s ended: %v", internalID, err)
				}
				return
			}
			h.ConsoleOutput(internalID, line.Text)
		}
	}()
}

// ConsoleOutput appends a formatted line to the server's backlog and pushes
// it to every authenticated session bound to that server. Sessions are
// snapshotted under the lock and written to outside it, so a slow client
// cannot stall the append path.
func (h *Hub) ConsoleOutput(internalID, line string) {
	h.buffer(internalID).Push(line)

	frame, err := encode(EventConsoleOutput, ConsoleOutputData{Message: line})
	if err != nil {
		log.WithFunc("session.ConsoleOutput").Errorf(context.TODO(), err, "encode console line")
		return
	}
	for _, s := range h.snapshot(internalID) {
		s.Send(frame)
	}
}

// Broadcast pushes an arbitrary event to every session bound to a server.
func (h *Hub) Broadcast(internalID, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		log.WithFunc("session.Broadcast").Errorf(context.TODO(), err, "encode %s event", event)
		return
	}
	for _, s := range h.snapshot(internalID) {
		s.Send(frame)
	}
}

// Backlog returns the server's buffered lines, oldest first.
func (h *Hub) Backlog(internalID string) []string {
	return h.buffer(internalID).Lines()
}

func (h *Hub) buffer(internalID string) *logstream.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.buffers[internalID]
	if buf == nil {
		buf = logstream.NewBuffer(logstream.DefaultBufferSize)
		h.buffers[internalID] = buf
	}
	return buf
}

// snapshot returns a detached copy of the authenticated sessions for a
// server (copy-before-iterate).
func (h *Hub) snapshot(internalID string) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[internalID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		if s.authenticated.Load() {
			out = append(out, s)
		}
	}
	return out
}
