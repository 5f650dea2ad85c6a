package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/logstream"
	"github.com/projecteru2/hatchery/types"
)

// logEngine fakes the engine's log subscription with an in-memory pipe of
// wire frames, counting open streams so refcounting can be asserted and
// recording the requested tail of every subscription.
type logEngine struct {
	engine.Engine

	mu     sync.Mutex
	writer io.WriteCloser
	tails  []int
	open   atomic.Int32
}

func newLogEngine() *logEngine {
	return &logEngine{}
}

func (e *logEngine) Logs(_ context.Context, _ string, _ bool, tail int) (*engine.AttachStream, error) {
	r, w := io.Pipe()
	e.mu.Lock()
	e.writer = w
	e.tails = append(e.tails, tail)
	e.mu.Unlock()
	e.open.Add(1)
	var once sync.Once
	return engine.NewAttachStream(r, func() error {
		once.Do(func() { e.open.Add(-1) })
		return w.Close()
	}), nil
}

func (e *logEngine) recordedTails() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.tails))
	copy(out, e.tails)
	return out
}

// endStream closes the engine side of the current log stream, like a
// container exiting.
func (e *logEngine) endStream(t *testing.T) {
	t.Helper()
	e.mu.Lock()
	w := e.writer
	e.mu.Unlock()
	require.NotNil(t, w)
	require.NoError(t, w.Close())
}

// emit writes one stdout frame onto the fake log stream.
func (e *logEngine) emit(t *testing.T, line string) {
	t.Helper()
	e.mu.Lock()
	w := e.writer
	e.mu.Unlock()
	require.NotNil(t, w)

	payload := []byte(line)
	header := make([]byte, 8)
	header[0] = 1
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	_, err := w.Write(append(header, payload...))
	require.NoError(t, err)
}

func testSession(hub *Hub, eng engine.Engine, internalID string) *Session {
	s := newSession(hub, eng, nil, nil, types.ServerRecord{
		InternalID:  internalID,
		ContainerID: "c-" + internalID,
	}, "tester")
	s.authenticated.Store(true)
	return s
}

func recvConsoleLine(t *testing.T, s *Session) string {
	t.Helper()
	select {
	case frame := <-s.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		require.Equal(t, EventConsoleOutput, env.Event)
		var data ConsoleOutputData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		return data.Message
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return ""
	}
}

func TestHubFanOut(t *testing.T) {
	eng := newLogEngine()
	hub := NewHub(eng)

	s1 := testSession(hub, eng, "srv1")
	s2 := testSession(hub, eng, "srv2")
	hub.Attach(s1)
	hub.Attach(s2)

	hub.ConsoleOutput("srv1", "hello")

	assert.Equal(t, "hello", recvConsoleLine(t, s1))
	// Sessions on other servers stay silent.
	select {
	case <-s2.send:
		t.Fatal("line leaked to another server's session")
	default:
	}

	// Backlog retains what was broadcast.
	assert.Equal(t, []string{"hello"}, hub.Backlog("srv1"))
}

func TestHubFanOutToMultipleSessions(t *testing.T) {
	eng := newLogEngine()
	hub := NewHub(eng)

	sessions := make([]*Session, 3)
	for i := range sessions {
		sessions[i] = testSession(hub, eng, "srv1")
		hub.Attach(sessions[i])
	}

	hub.ConsoleOutput("srv1", "tick")
	for _, s := range sessions {
		assert.Equal(t, "tick", recvConsoleLine(t, s))
	}
}

func TestHubSharedReader(t *testing.T) {
	eng := newLogEngine()
	hub := NewHub(eng)

	s1 := testSession(hub, eng, "srv1")
	s2 := testSession(hub, eng, "srv1")

	hub.Attach(s1)
	hub.Attach(s2)

	// One engine subscription serves both sessions.
	require.Eventually(t, func() bool { return eng.open.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	eng.emit(t, "from the container")
	assert.Equal(t, "from the container", recvConsoleLine(t, s1))
	assert.Equal(t, "from the container", recvConsoleLine(t, s2))

	// The reader survives the first detach and stops after the last.
	hub.Detach(s1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), eng.open.Load())

	hub.Detach(s2)
	require.Eventually(t, func() bool { return eng.open.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubReaderReplaysHistoryOnlyOnce(t *testing.T) {
	eng := newLogEngine()
	hub := NewHub(eng)

	// The first reader for a server replays engine-side history.
	s1 := testSession(hub, eng, "srv1")
	hub.Attach(s1)
	require.Eventually(t, func() bool { return eng.open.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []int{logstream.DefaultBufferSize}, eng.recordedTails())

	eng.emit(t, "boot complete")
	require.Equal(t, "boot complete", recvConsoleLine(t, s1))

	// Once the backlog holds lines, a restarted reader must not replay
	// them again: the backlog is already the history.
	hub.Detach(s1)
	require.Eventually(t, func() bool { return eng.open.Load() == 0 }, 2*time.Second, 10*time.Millisecond)

	s2 := testSession(hub, eng, "srv1")
	hub.Attach(s2)
	require.Eventually(t, func() bool { return len(eng.recordedTails()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, eng.recordedTails()[1])

	// Same rule for the restart after a power action.
	hub.Reattach("srv1", "c-srv1")
	require.Eventually(t, func() bool { return len(eng.recordedTails()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, eng.recordedTails()[2])
}

func TestHubReaderRestartsAfterStreamEnds(t *testing.T) {
	eng := newLogEngine()
	hub := NewHub(eng)

	s1 := testSession(hub, eng, "srv1")
	hub.Attach(s1)
	require.Eventually(t, func() bool { return eng.open.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The container exits: the stream ends on its own and the reader must
	// give up its slot instead of leaving a stale entry behind.
	eng.endStream(t)
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.readers["srv1"]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// The next attach starts a fresh subscription and both sessions get
	// live output again.
	s2 := testSession(hub, eng, "srv1")
	hub.Attach(s2)
	require.Eventually(t, func() bool { return eng.open.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	eng.emit(t, "back online")
	assert.Equal(t, "back online", recvConsoleLine(t, s1))
	assert.Equal(t, "back online", recvConsoleLine(t, s2))
}

func TestHubUnauthenticatedSessionsExcluded(t *testing.T) {
	eng := newLogEngine()
	hub := NewHub(eng)

	s := testSession(hub, eng, "srv1")
	s.authenticated.Store(false)
	hub.Attach(s)

	hub.ConsoleOutput("srv1", "secret")
	select {
	case <-s.send:
		t.Fatal("unauthenticated session received output")
	default:
	}
}
