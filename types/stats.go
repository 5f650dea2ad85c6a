package types

// MemoryStats is the memory section of a stats snapshot.
type MemoryStats struct {
	Used    uint64  `json:"used"`
	Limit   uint64  `json:"limit"`
	Percent float64 `json:"percent"`
}

// NetworkStats holds counters from the container's primary interface.
type NetworkStats struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

// StatsSnapshot is one derived telemetry sample. Computed fresh on every
// tick from two consecutive raw counter readings; never persisted.
// CPU, memory and network are omitted entirely when the container is not
// running; only State is emitted then.
type StatsSnapshot struct {
	State      ServerState   `json:"state"`
	CPUPercent *float64      `json:"cpu_percent,omitempty"`
	Memory     *MemoryStats  `json:"memory,omitempty"`
	Network    *NetworkStats `json:"network,omitempty"`
}
