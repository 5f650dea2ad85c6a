package docker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/go-connections/nat"

	"github.com/projecteru2/hatchery/engine"
)

// Create builds and registers the container described by opts.
// The volume is bound read-write, memory and memory+swap are set to the same
// limit (swap disabled), and the allocation port is published for both tcp
// and udp on the bind address.
func (d *Docker) Create(ctx context.Context, opts engine.CreateOptions) (string, error) {
	conf := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkingDir,
		Labels:       opts.Labels,
		OpenStdin:    opts.OpenStdin,
		AttachStdout: true,
		AttachStderr: true,
	}

	host := &container.HostConfig{
		AutoRemove: opts.AutoRemove,
		Binds: []string{
			fmt.Sprintf("%s:%s", opts.Volume.HostPath, opts.Volume.ContainerPath),
		},
		Resources: container.Resources{
			Memory:     opts.Memory,
			MemorySwap: opts.Memory, // equal to Memory: no swap
			CPUShares:  opts.CPUShares,
		},
	}

	if opts.Ports != nil {
		exposed, bindings, err := portSet(opts.Ports)
		if err != nil {
			return "", err
		}
		conf.ExposedPorts = exposed
		host.PortBindings = bindings
	}

	resp, err := d.cli.ContainerCreate(ctx, conf, host, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", opts.Name, err)
	}
	return resp.ID, nil
}

// portSet expands one allocation into tcp+udp exposed ports and bindings.
func portSet(p *engine.PortBinding) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, proto := range []string{"tcp", "udp"} {
		port, err := nat.NewPort(proto, strconv.Itoa(p.Port))
		if err != nil {
			return nil, nil, fmt.Errorf("port %d/%s: %w", p.Port, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   p.BindIP,
			HostPort: strconv.Itoa(p.Port),
		}}
	}
	return exposed, bindings, nil
}

// Start is idempotent: starting a running container is not an error.
func (d *Docker) Start(ctx context.Context, id string) error {
	if status, err := d.Inspect(ctx, id); err == nil && status.Running {
		return nil
	}
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", shorten(id), mapErr(err))
	}
	return nil
}

// Stop is idempotent: stopping a stopped container is not an error.
func (d *Docker) Stop(ctx context.Context, id string) error {
	if status, err := d.Inspect(ctx, id); err == nil && !status.Running {
		return nil
	}
	timeout := d.stopTimeoutSeconds
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", shorten(id), mapErr(err))
	}
	return nil
}

// Restart stops (graceful window applies) and starts the container.
func (d *Docker) Restart(ctx context.Context, id string) error {
	timeout := d.stopTimeoutSeconds
	if err := d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart container %s: %w", shorten(id), mapErr(err))
	}
	return nil
}

// Remove deletes the container. "Already gone" surfaces as engine.ErrNotFound
// so callers doing best-effort cleanup can ignore it explicitly.
func (d *Docker) Remove(ctx context.Context, id string, force bool) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return mapErr(err)
	}
	return nil
}

// Inspect returns the engine's view of the container.
func (d *Docker) Inspect(ctx context.Context, id string) (engine.Status, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return engine.Status{}, mapErr(err)
	}
	status := engine.Status{ID: resp.ID}
	if resp.State != nil {
		status.Running = resp.State.Running
		status.ExitCode = resp.State.ExitCode
		status.Err = resp.State.Error
	}
	return status, nil
}

// ListByLabel returns all containers, running or not, labelled label=value.
func (d *Docker) ListByLabel(ctx context.Context, label, value string) ([]engine.Summary, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label+"="+value)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers by %s=%s: %w", label, value, err)
	}
	out := make([]engine.Summary, 0, len(list))
	for _, c := range list {
		out = append(out, engine.Summary{ID: c.ID, Labels: c.Labels})
	}
	return out, nil
}

// Wait blocks until the container is no longer running and returns the exit code.
func (d *Docker) Wait(ctx context.Context, id string) (int64, error) {
	waitCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		if res.Error != nil {
			return res.StatusCode, fmt.Errorf("wait container %s: %s", shorten(id), res.Error.Message)
		}
		return res.StatusCode, nil
	case err := <-errCh:
		return 0, fmt.Errorf("wait container %s: %w", shorten(id), mapErr(err))
	}
}

// shorten trims container IDs for log and error messages.
func shorten(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
