package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"

	"github.com/projecteru2/hatchery/engine"
)

// Stats performs one non-streaming statistics read. The engine includes the
// previous sample's CPU counters in every response, so one call per tick is
// enough to derive deltas.
func (d *Docker) Stats(ctx context.Context, id string) (engine.RawStats, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return engine.RawStats{}, mapErr(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return engine.RawStats{}, fmt.Errorf("decode stats for %s: %w", shorten(id), err)
	}

	out := engine.RawStats{
		CPU: engine.CPUCounters{
			Total:         raw.CPUStats.CPUUsage.TotalUsage,
			System:        raw.CPUStats.SystemUsage,
			OnlineCPUs:    raw.CPUStats.OnlineCPUs,
			PercpuSamples: len(raw.CPUStats.CPUUsage.PercpuUsage),
		},
		PreCPU: engine.CPUCounters{
			Total:         raw.PreCPUStats.CPUUsage.TotalUsage,
			System:        raw.PreCPUStats.SystemUsage,
			OnlineCPUs:    raw.PreCPUStats.OnlineCPUs,
			PercpuSamples: len(raw.PreCPUStats.CPUUsage.PercpuUsage),
		},
		MemUsage: raw.MemoryStats.Usage,
		MemLimit: raw.MemoryStats.Limit,
	}
	if len(raw.Networks) > 0 {
		out.Networks = make(map[string]engine.NetCounters, len(raw.Networks))
		for iface, n := range raw.Networks {
			out.Networks[iface] = engine.NetCounters{RxBytes: n.RxBytes, TxBytes: n.TxBytes}
		}
	}
	return out, nil
}

// Logs opens the container's multiplexed log stream. Negative tail leaves the
// daemon default of the full history in place.
func (d *Docker) Logs(ctx context.Context, id string, follow bool, tail int) (*engine.AttachStream, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	}
	if tail >= 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := d.cli.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, mapErr(err)
	}
	return engine.NewAttachStream(rc, rc.Close), nil
}

// Attach connects to the container's combined output stream. Works on a
// created-but-not-started container, which is how install output is captured
// from the very first byte.
func (d *Docker) Attach(ctx context.Context, id string) (*engine.AttachStream, error) {
	resp, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return engine.NewAttachStream(resp.Reader, func() error {
		resp.Close()
		return nil
	}), nil
}

// Top returns the container's process table. Column positions are resolved
// from the title row since ps output layout is not fixed.
func (d *Docker) Top(ctx context.Context, id string) ([]engine.Process, error) {
	resp, err := d.cli.ContainerTop(ctx, id, nil)
	if err != nil {
		return nil, mapErr(err)
	}

	pidCol, ppidCol, cmdCol := -1, -1, -1
	for i, title := range resp.Titles {
		switch title {
		case "PID":
			pidCol = i
		case "PPID":
			ppidCol = i
		case "CMD", "COMMAND":
			cmdCol = i
		}
	}
	if pidCol < 0 || cmdCol < 0 {
		return nil, fmt.Errorf("unexpected process table columns for %s: %v", shorten(id), resp.Titles)
	}

	procs := make([]engine.Process, 0, len(resp.Processes))
	for _, row := range resp.Processes {
		if len(row) <= pidCol || len(row) <= cmdCol {
			continue
		}
		p := engine.Process{Command: row[cmdCol]}
		p.PID, _ = strconv.Atoi(row[pidCol])
		if ppidCol >= 0 && len(row) > ppidCol {
			p.PPID, _ = strconv.Atoi(row[ppidCol])
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// Exec starts cmd inside the container with stdin attached and returns the
// bidirectional stream. The caller owns the stream and must Close it.
func (d *Docker) Exec(ctx context.Context, id string, cmd []string) (*engine.ExecStream, error) {
	create, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create in %s: %w", shorten(id), mapErr(err))
	}

	attach, err := d.cli.ContainerExecAttach(ctx, create.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach in %s: %w", shorten(id), mapErr(err))
	}
	return engine.NewExecStream(attach.Reader, attach.Conn, func() error {
		attach.Close()
		return nil
	}), nil
}
