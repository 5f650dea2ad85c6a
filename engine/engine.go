// Package engine abstracts the container engine consumed by the daemon:
// lifecycle, image pulls, stats, logs and exec. One backend (Docker) is
// provided; the interface exists so the orchestration core can be exercised
// against a fake in tests.
package engine

import (
	"context"
	"errors"
	"io"

	"github.com/projecteru2/hatchery/progress"
)

// ErrNotFound is returned when a container ID does not exist in the engine.
var ErrNotFound = errors.New("container not found")

// VolumeBind mounts a host directory at a fixed in-container path.
type VolumeBind struct {
	HostPath      string
	ContainerPath string
}

// PortBinding publishes one container port for both tcp and udp on a host
// bind address.
type PortBinding struct {
	BindIP string
	Port   int
}

// CreateOptions describes a container to create.
type CreateOptions struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string

	Volume VolumeBind
	Ports  *PortBinding // nil for install containers

	// Memory is applied as both the memory and memory+swap limit, which
	// disallows swap. CPUShares is the relative weight (1024 = one share).
	Memory    int64
	CPUShares int64

	Labels     map[string]string
	AutoRemove bool
	OpenStdin  bool
}

// Status is the engine's view of a container.
type Status struct {
	ID       string
	Running  bool
	ExitCode int
	// Err is the engine-reported error string, surfaced to power_status
	// consumers. Empty when the last action succeeded.
	Err string
}

// CPUCounters are cumulative CPU usage counters from one stats reading.
type CPUCounters struct {
	Total      uint64 // container total CPU usage
	System     uint64 // host system CPU usage
	OnlineCPUs uint32
	// PercpuSamples is the number of per-CPU usage entries in the reading.
	// Cgroup v1 daemons omit OnlineCPUs; this is the fallback CPU count.
	PercpuSamples int
}

// NetCounters are cumulative byte counters for one interface.
type NetCounters struct {
	RxBytes uint64
	TxBytes uint64
}

// RawStats is one raw statistics reading. Each reading carries the previous
// sample's CPU counters so derived metrics need only a single call per tick.
type RawStats struct {
	CPU      CPUCounters
	PreCPU   CPUCounters
	MemUsage uint64
	MemLimit uint64
	// Networks is keyed by interface name; the primary interface is eth0.
	Networks map[string]NetCounters
}

// Summary is one row of a container listing.
type Summary struct {
	ID     string
	Labels map[string]string
}

// Process is one row of the container's process table.
type Process struct {
	PID     int
	PPID    int
	Command string
}

// AttachStream is a read-only multiplexed output stream (attach or logs).
type AttachStream struct {
	Reader io.Reader
	close  func() error
}

// NewAttachStream wraps a reader and its release function.
func NewAttachStream(r io.Reader, close func() error) *AttachStream {
	return &AttachStream{Reader: r, close: close}
}

// Close releases the underlying connection.
func (s *AttachStream) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// ExecStream is a bidirectional exec channel: Writer feeds the process's
// stdin, Reader carries its multiplexed output.
type ExecStream struct {
	Reader io.Reader
	Writer io.Writer
	close  func() error
}

// NewExecStream wraps an exec connection.
func NewExecStream(r io.Reader, w io.Writer, close func() error) *ExecStream {
	return &ExecStream{Reader: r, Writer: w, close: close}
}

// Close releases the exec connection.
func (s *ExecStream) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Engine is the container engine consumed by the orchestration core.
// All blocking operations take a context.
type Engine interface {
	// Pull fetches an image, reporting progress.PullEvent to tracker
	// (which may be nil). The reference is validated and normalized
	// before the engine is contacted.
	Pull(ctx context.Context, ref string, tracker progress.Tracker) error

	Create(ctx context.Context, opts CreateOptions) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	// Remove deletes the container. Best-effort removal of auto-remove
	// containers maps "already gone" to ErrNotFound.
	Remove(ctx context.Context, id string, force bool) error

	Inspect(ctx context.Context, id string) (Status, error)
	// ListByLabel returns all containers (running or not) carrying the
	// given label value.
	ListByLabel(ctx context.Context, label, value string) ([]Summary, error)
	Stats(ctx context.Context, id string) (RawStats, error)
	// Logs returns the multiplexed log stream. tail limits the replayed
	// history: 0 replays nothing, negative replays everything.
	Logs(ctx context.Context, id string, follow bool, tail int) (*AttachStream, error)
	// Attach connects to the container's combined output. Valid before
	// start, which is how install output is captured from the first byte.
	Attach(ctx context.Context, id string) (*AttachStream, error)
	// Wait blocks until the container exits and returns its exit code.
	Wait(ctx context.Context, id string) (int64, error)
	Top(ctx context.Context, id string) ([]Process, error)
	// Exec starts cmd inside the container with stdin attached.
	Exec(ctx context.Context, id string, cmd []string) (*ExecStream, error)
}
