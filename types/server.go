package types

import "time"

// ServerState represents the lifecycle state of a managed server.
// One closed set shared by the installer, the lifecycle manager, and the
// session layer; transitions go through CanTransition.
type ServerState string

const (
	StateCreating      ServerState = "creating"       // record accepted, nothing provisioned yet
	StateInstalling    ServerState = "installing"     // install container running
	StateInstallFailed ServerState = "install_failed" // first install failed
	StateInstalled     ServerState = "installed"      // volume + container ready, not started
	StateStarting      ServerState = "starting"
	StateRunning       ServerState = "running"
	StateStopping      ServerState = "stopping"
	StateStopped       ServerState = "stopped"
	StateErrored       ServerState = "errored" // reinstall or engine action failed
)

// transitions is the closed transition table. Absent keys have no legal
// outgoing transitions.
var transitions = map[ServerState][]ServerState{
	StateCreating:      {StateInstalling},
	StateInstalling:    {StateInstalled, StateInstallFailed, StateErrored},
	StateInstallFailed: {StateInstalling},
	StateInstalled:     {StateStarting, StateInstalling},
	StateStarting:      {StateRunning, StateErrored},
	StateRunning:       {StateStopping, StateErrored},
	StateStopping:      {StateStopped, StateErrored},
	StateStopped:       {StateStarting, StateInstalling},
	StateErrored:       {StateInstalling, StateStarting},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s ServerState) CanTransition(next ServerState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Installed reports whether the server has completed installation at least once.
func (s ServerState) Installed() bool {
	switch s {
	case StateCreating, StateInstalling, StateInstallFailed:
		return false
	default:
		return true
	}
}

// Limits holds the resource limits applied to a server container.
type Limits struct {
	Memory    int64 `json:"memory"`     // bytes; also used as memory+swap (swap disabled)
	CPUShares int64 `json:"cpu_shares"` // relative weight, 1024 = one full share
	Disk      int64 `json:"disk"`       // bytes, volume quota
}

// Allocation is a reserved (bind address, port) pair on this host.
// Exactly one server owns an allocation at a time.
type Allocation struct {
	BindIP string `json:"bind_ip"`
	Port   int    `json:"port"`
}

// ServerRecord is the daemon-side snapshot of a server. The control plane
// owns the authoritative record; the daemon persists only what it needs to
// re-attach to the container after a restart.
type ServerRecord struct {
	ID          string      `json:"id"`          // control-plane record id
	InternalID  string      `json:"internal_id"` // daemon-facing identifier
	ContainerID string      `json:"container_id,omitempty"`
	State       ServerState `json:"state"`

	Unit       Unit       `json:"unit"`
	Limits     Limits     `json:"limits"`
	Allocation Allocation `json:"allocation"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
}
