// Package monitor samples container statistics on a fixed cadence and
// derives the telemetry pushed to console sessions.
package monitor

import (
	"context"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/types"
)

// Interval is the sampling cadence.
const Interval = 2 * time.Second

// primaryInterface is the container interface network counters are read
// from; counters are zeroed when it is absent.
const primaryInterface = "eth0"

// CPUPercent derives CPU usage from two consecutive counter readings:
// (Δ total / Δ system) × online CPUs × 100. Non-positive deltas (first
// sample, engine quirks after restarts) clamp to 0 rather than producing
// garbage.
func CPUPercent(cpu, pre engine.CPUCounters) float64 {
	if cpu.Total <= pre.Total || cpu.System <= pre.System {
		return 0
	}
	cpuDelta := float64(cpu.Total - pre.Total)
	systemDelta := float64(cpu.System - pre.System)
	return cpuDelta / systemDelta * float64(cpuCount(cpu, pre)) * 100
}

// cpuCount resolves the CPU count the way the docker CLI does: the current
// reading's online count, then the previous one, then the number of per-CPU
// samples. Cgroup v1 daemons report no online count at all.
func cpuCount(cpu, pre engine.CPUCounters) int {
	switch {
	case cpu.OnlineCPUs > 0:
		return int(cpu.OnlineCPUs)
	case pre.OnlineCPUs > 0:
		return int(pre.OnlineCPUs)
	default:
		return cpu.PercpuSamples
	}
}

// Derive computes a full snapshot from one raw reading.
func Derive(raw engine.RawStats) types.StatsSnapshot {
	cpu := CPUPercent(raw.CPU, raw.PreCPU)

	mem := &types.MemoryStats{Used: raw.MemUsage, Limit: raw.MemLimit}
	if raw.MemLimit > 0 {
		mem.Percent = float64(raw.MemUsage) / float64(raw.MemLimit) * 100
	}

	net := &types.NetworkStats{}
	if counters, ok := raw.Networks[primaryInterface]; ok {
		net.RxBytes = counters.RxBytes
		net.TxBytes = counters.TxBytes
	}

	return types.StatsSnapshot{
		State:      types.StateRunning,
		CPUPercent: &cpu,
		Memory:     mem,
		Network:    net,
	}
}

// Run samples the container every Interval and calls emit with each
// snapshot until ctx is cancelled. When the container is not running only
// the state field is emitted. The ticker is released on return, so a
// session tearing down its context provably stops its stats stream.
func Run(ctx context.Context, eng engine.Engine, containerID string, emit func(types.StatsSnapshot)) {
	logger := log.WithFunc("monitor.Run")
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := eng.Inspect(ctx, containerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf(ctx, "inspect %s: %v", containerID, err)
			continue
		}
		if !status.Running {
			emit(types.StatsSnapshot{State: types.StateStopped})
			continue
		}

		raw, err := eng.Stats(ctx, containerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf(ctx, "stats %s: %v", containerID, err)
			continue
		}
		emit(Derive(raw))
	}
}
