package logstream

import "sync"

// DefaultBufferSize is how many formatted lines a server's backlog retains.
const DefaultBufferSize = 100

// Buffer is a bounded ring of the most recent formatted console lines for one
// server. It exists independently of any session: newly attached sessions
// replay Lines as their backlog. Grows by append, shrinks by drop-oldest.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewBuffer returns a Buffer retaining at most max lines.
// max <= 0 falls back to DefaultBufferSize.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultBufferSize
	}
	return &Buffer{max: max}
}

// Push appends a line, dropping the oldest when full.
func (b *Buffer) Push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.max {
		// Drop-oldest; copy keeps the backing array bounded.
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:len(b.lines)-1]
	}
	b.lines = append(b.lines, line)
}

// Lines returns a detached copy of the buffered backlog, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
