// Package gc sweeps daemon-created debris: install containers that outlived
// their job (daemon crash mid-install) and index records whose container
// vanished from the engine. Everything here is best-effort; errors are
// logged and the sweep continues, because future jobs do not depend on
// cleanup succeeding.
package gc

import (
	"context"
	"errors"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/install"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
)

// InFlight reports whether an install job is currently running for a
// server, so the sweeper never removes a live install container.
// Implemented by the installer; nil means no jobs can be in flight.
type InFlight interface {
	Installing(internalID string) bool
}

// Sweeper runs GC cycles.
type Sweeper struct {
	eng  engine.Engine
	reg  *registry.Registry
	jobs InFlight
}

// New creates a Sweeper. jobs may be nil (e.g. the standalone gc command,
// where no daemon is running).
func New(eng engine.Engine, reg *registry.Registry, jobs InFlight) *Sweeper {
	return &Sweeper{eng: eng, reg: reg, jobs: jobs}
}

// Run executes one sweep cycle.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepInstallContainers(ctx)
	s.sweepVanishedContainers(ctx)
	return nil
}

// sweepInstallContainers force-removes install containers with no in-flight
// job. After a daemon crash mid-install these are orphans: the job that
// owned them is gone and will never remove them.
func (s *Sweeper) sweepInstallContainers(ctx context.Context) {
	logger := log.WithFunc("gc.sweepInstallContainers")

	list, err := s.eng.ListByLabel(ctx, install.LabelKind, install.KindInstall)
	if err != nil {
		logger.Warnf(ctx, "list install containers: %v", err)
		return
	}
	for _, c := range list {
		owner := c.Labels[install.LabelServer]
		if s.jobs != nil && owner != "" && s.jobs.Installing(owner) {
			continue
		}
		if err := s.eng.Remove(ctx, c.ID, true); err != nil && !errors.Is(err, engine.ErrNotFound) {
			logger.Warnf(ctx, "remove orphaned install container %s: %v", c.ID, err)
			continue
		}
		logger.Infof(ctx, "removed orphaned install container %s (server %s)", c.ID, owner)
	}
}

// sweepVanishedContainers marks records errored when their container no
// longer exists in the engine, so sessions fail fast with a clear state
// instead of attaching to nothing.
func (s *Sweeper) sweepVanishedContainers(ctx context.Context) {
	logger := log.WithFunc("gc.sweepVanishedContainers")

	records, err := s.reg.List(ctx)
	if err != nil {
		logger.Warnf(ctx, "list servers: %v", err)
		return
	}
	for _, rec := range records {
		if rec.ContainerID == "" || rec.State == types.StateErrored {
			continue
		}
		if s.jobs != nil && s.jobs.Installing(rec.InternalID) {
			continue
		}
		if _, err := s.eng.Inspect(ctx, rec.ContainerID); !errors.Is(err, engine.ErrNotFound) {
			continue
		}
		if err := s.reg.MarkErrored(ctx, rec.InternalID); err != nil {
			logger.Warnf(ctx, "mark %s errored: %v", rec.InternalID, err)
			continue
		}
		logger.Warnf(ctx, "server %s: container %s vanished from engine, marked errored", rec.InternalID, rec.ContainerID)
	}
}
