// Package install turns an abstract unit definition into a runnable server
// container: it pulls images, materializes the volume, runs an ephemeral
// install container, and hands the finished server to the lifecycle layer.
package install

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/logstream"
	"github.com/projecteru2/hatchery/metrics"
	"github.com/projecteru2/hatchery/panel"
	"github.com/projecteru2/hatchery/progress"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/unit"
	"github.com/projecteru2/hatchery/utils"
)

// ContainerPath is the fixed in-container mount point of the server volume
// for the long-lived server container.
const ContainerPath = "/home/container"

// installMount is where the volume is bound inside the install container.
const installMount = "/mnt/server"

// Labels applied to every container this daemon creates. The sweeper and
// the session layer match on them.
const (
	LabelServer = "io.hatchery.server"
	LabelKind   = "io.hatchery.kind"

	KindInstall = "install"
	KindServer  = "server"
)

// Broadcaster receives install stdout lines for fan-out to live console
// sessions. Implemented by the session hub.
type Broadcaster interface {
	ConsoleOutput(internalID, line string)
}

// Installer runs installation jobs on a bounded worker pool.
type Installer struct {
	conf  *config.Config
	eng   engine.Engine
	panel *panel.Client
	reg   *registry.Registry
	cast  Broadcaster
	pool  *ants.Pool

	mu   sync.Mutex
	jobs map[string]*installJob // internalID → in-flight job
}

// installJob tracks one in-flight job. done is closed when the job has fully
// unwound, so cancellation can be waited on.
type installJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Installer with a pool of conf.PoolSize workers.
func New(conf *config.Config, eng engine.Engine, pc *panel.Client, reg *registry.Registry, cast Broadcaster) (*Installer, error) {
	pool, err := ants.NewPool(conf.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("init install pool: %w", err)
	}
	return &Installer{
		conf:  conf,
		eng:   eng,
		panel: pc,
		reg:   reg,
		cast:  cast,
		pool:  pool,
		jobs:  make(map[string]*installJob),
	}, nil
}

// Close releases the worker pool. In-flight jobs are cancelled.
func (i *Installer) Close() {
	i.mu.Lock()
	for _, j := range i.jobs {
		j.cancel()
	}
	i.mu.Unlock()
	i.pool.Release()
}

// Enqueue submits an install (or reinstall) job for internalID.
// Jobs are ephemeral: they do not survive a daemon restart.
func (i *Installer) Enqueue(internalID string, reinstall bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	j := &installJob{cancel: cancel, done: make(chan struct{})}

	i.mu.Lock()
	if _, running := i.jobs[internalID]; running {
		i.mu.Unlock()
		cancel()
		return fmt.Errorf("install already in progress for %s", internalID)
	}
	i.jobs[internalID] = j
	i.mu.Unlock()

	err := i.pool.Submit(func() {
		defer func() {
			cancel()
			i.mu.Lock()
			delete(i.jobs, internalID)
			i.mu.Unlock()
			close(j.done)
		}()
		i.run(ctx, internalID, reinstall)
	})
	if err != nil {
		cancel()
		i.mu.Lock()
		delete(i.jobs, internalID)
		i.mu.Unlock()
		close(j.done)
		return fmt.Errorf("submit install job: %w", err)
	}
	return nil
}

// Installing reports whether a job is in flight for internalID.
func (i *Installer) Installing(internalID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.jobs[internalID]
	return ok
}

// Cancel aborts an in-flight install job for internalID, if any, and blocks
// until the job has fully unwound. Teardown paths rely on that: removing the
// server volume while the pipeline is still writing into it would leave an
// orphan directory behind.
func (i *Installer) Cancel(internalID string) {
	i.mu.Lock()
	j, ok := i.jobs[internalID]
	i.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
	<-j.done
}

// run drives one job to completion and records the outcome.
func (i *Installer) run(ctx context.Context, internalID string, reinstall bool) {
	logger := log.WithFunc("install.run")

	if err := i.reg.Transition(ctx, internalID, types.StateInstalling); err != nil {
		logger.Errorf(ctx, err, "server %s: cannot enter installing", internalID)
		return
	}

	err := i.install(ctx, internalID, reinstall)
	switch {
	case err == nil:
		metrics.InstallsTotal.WithLabelValues("success").Inc()
		logger.Infof(ctx, "server %s: installed", internalID)
	case errors.Is(err, context.Canceled):
		metrics.InstallsTotal.WithLabelValues("cancelled").Inc()
		logger.Infof(ctx, "server %s: install cancelled", internalID)
	default:
		metrics.InstallsTotal.WithLabelValues("failure").Inc()
		logger.Errorf(ctx, err, "server %s: install failed", internalID)
		// First install failures are recoverable (install_failed); a failed
		// reinstall leaves the server errored.
		failState := types.StateInstallFailed
		if reinstall {
			failState = types.StateErrored
		}
		if terr := i.reg.Transition(context.Background(), internalID, failState); terr != nil {
			logger.Errorf(ctx, terr, "server %s: cannot record failure", internalID)
		}
	}
}

// install executes the pipeline. Every step aborts the job on failure; the
// install container is force-removed in all outcomes.
func (i *Installer) install(ctx context.Context, internalID string, reinstall bool) error {
	conf, err := i.panel.FetchConfig(ctx, internalID)
	if err != nil {
		return err
	}

	installImage := conf.Unit.InstallImage
	if installImage == "" {
		installImage = conf.Unit.Image
	}

	// Image pull status is forwarded to any console sessions watching the
	// install, layer noise filtered down to pull-level events.
	tracker := progress.NewTracker(func(e progress.PullEvent) {
		if i.cast == nil || e.ID != "" {
			return
		}
		i.cast.ConsoleOutput(internalID, fmt.Sprintf("[hatchery] %s: %s", e.Image, e.Status))
	})

	// Pull the install-stage and runtime images concurrently; either
	// failure aborts the job.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return i.eng.Pull(gctx, installImage, tracker) })
	if conf.Unit.Image != installImage {
		g.Go(func() error { return i.eng.Pull(gctx, conf.Unit.Image, tracker) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pull images: %w", err)
	}

	// The volume steps never read ctx themselves; an explicit checkpoint
	// keeps a cancelled job (server deleted mid-install) from recreating
	// the directory tree the delete path just removed.
	if err := ctx.Err(); err != nil {
		return err
	}
	volume := i.conf.ServerVolume(internalID)
	if err := utils.EnsureDirs(volume); err != nil {
		return err
	}
	if err := WriteConfigFiles(volume, conf.Unit.ConfigFiles); err != nil {
		return err
	}
	if _, err := WriteScript(volume, conf.Unit.InstallScript, conf.Unit.Variables); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if reinstall {
		if err := i.removeOldContainer(ctx, internalID); err != nil {
			return err
		}
	}

	if _, err := i.runInstallContainer(ctx, internalID, installImage, volume); err != nil {
		return err
	}

	containerID, err := i.createServerContainer(ctx, internalID, conf, volume)
	if err != nil {
		return fmt.Errorf("create server container: %w", err)
	}
	return i.reg.SetInstalled(ctx, internalID, containerID)
}

// runInstallContainer creates, attaches to, runs, and always removes the
// ephemeral install container. Returns the accumulated output lines.
func (i *Installer) runInstallContainer(ctx context.Context, internalID, image, volume string) ([]string, error) {
	logger := log.WithFunc("install.runInstallContainer")

	id, err := i.eng.Create(ctx, engine.CreateOptions{
		Name:       "install-" + internalID,
		Image:      image,
		Cmd:        []string{"/bin/sh", installMount + "/" + ScriptName},
		WorkingDir: installMount,
		Volume:     engine.VolumeBind{HostPath: volume, ContainerPath: installMount},
		Labels:     map[string]string{LabelServer: internalID, LabelKind: KindInstall},
		AutoRemove: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create install container: %w", err)
	}

	// Removal is best-effort in every outcome: auto-remove may already have
	// collected the container, and future jobs do not depend on it.
	defer func() {
		if rerr := i.eng.Remove(context.Background(), id, true); rerr != nil && !errors.Is(rerr, engine.ErrNotFound) {
			logger.Warnf(ctx, "remove install container for %s: %v", internalID, rerr)
		}
	}()

	// Attach before start so output is captured from the first byte.
	stream, err := i.eng.Attach(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("attach install container: %w", err)
	}
	defer stream.Close() //nolint:errcheck

	if err := i.eng.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("start install container: %w", err)
	}

	var (
		mu    sync.Mutex
		lines []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		dec := logstream.NewDecoder(stream.Reader)
		for {
			line, derr := dec.Next()
			if derr != nil {
				return
			}
			mu.Lock()
			lines = append(lines, line.Text)
			mu.Unlock()
			if line.Origin == logstream.OriginStdout && i.cast != nil {
				i.cast.ConsoleOutput(internalID, line.Text)
			}
		}
	}()

	exitCode, err := i.eng.Wait(ctx, id)
	<-done
	if err != nil {
		return lines, err
	}
	if exitCode != 0 {
		mu.Lock()
		tail := strings.Join(lastN(lines, 20), "\n")
		mu.Unlock()
		return lines, fmt.Errorf("install script exited with code %d:\n%s", exitCode, tail)
	}
	return lines, nil
}

// createServerContainer builds the long-lived server container with resource
// limits and the allocation's port bindings.
func (i *Installer) createServerContainer(ctx context.Context, internalID string, conf *panel.ServerConfig, volume string) (string, error) {
	startup, err := unit.Process(conf.Unit.StartupCommand, conf.Unit.Variables)
	if err != nil {
		return "", fmt.Errorf("process startup command: %w", err)
	}

	memory := conf.Limits.Memory
	if memory <= 0 {
		memory = i.conf.DefaultMemoryBytes()
	}

	return i.eng.Create(ctx, engine.CreateOptions{
		Name:       "server-" + internalID,
		Image:      conf.Unit.Image,
		Cmd:        []string{"/bin/sh", "-c", startup},
		WorkingDir: ContainerPath,
		Volume:     engine.VolumeBind{HostPath: volume, ContainerPath: ContainerPath},
		Ports:      &engine.PortBinding{BindIP: conf.Allocation.BindIP, Port: conf.Allocation.Port},
		Memory:     memory,
		CPUShares:  conf.Limits.CPUShares,
		Labels:     map[string]string{LabelServer: internalID, LabelKind: KindServer},
		OpenStdin:  true,
	})
}

// removeOldContainer force-removes the previous server container before a
// reinstall recreates it.
func (i *Installer) removeOldContainer(ctx context.Context, internalID string) error {
	rec, err := i.reg.Get(ctx, internalID)
	if err != nil {
		return err
	}
	if rec.ContainerID == "" {
		return nil
	}
	if err := i.eng.Remove(ctx, rec.ContainerID, true); err != nil && !errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("remove old container: %w", err)
	}
	return nil
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
