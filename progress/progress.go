// Package progress decouples long-running engine operations from the
// consumers that want to observe them (console sessions, CLI output).
package progress

// Tracker receives progress events during image operations.
// Implementations must be safe for concurrent use from multiple goroutines.
type Tracker interface {
	OnEvent(any)
}

// NewTracker creates a Tracker from a typed callback function.
// The caller works with a concrete event type; the Tracker interface
// stays non-generic so it can cross interface boundaries like Engine.
func NewTracker[E any](fn func(E)) Tracker {
	return funcTracker(func(v any) { fn(v.(E)) })
}

type funcTracker func(any)

func (f funcTracker) OnEvent(e any) { f(e) }

// Nop is a no-op tracker for callers that don't need progress.
var Nop Tracker = funcTracker(func(any) {})

// PullEvent is emitted while an image is pulled: one event per status
// change the engine reports, layer-scoped when ID is set.
type PullEvent struct {
	Image  string
	ID     string // layer id, empty for image-wide statuses
	Status string
}
