package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/install"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
)

// fakeEngine tracks a set of live container IDs.
type fakeEngine struct {
	engine.Engine

	containers map[string]engine.Summary
	removed    []string
}

func (f *fakeEngine) ListByLabel(_ context.Context, label, value string) ([]engine.Summary, error) {
	var out []engine.Summary
	for _, c := range f.containers {
		if c.Labels[label] == value {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeEngine) Remove(_ context.Context, id string, _ bool) error {
	if _, ok := f.containers[id]; !ok {
		return engine.ErrNotFound
	}
	delete(f.containers, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeEngine) Inspect(_ context.Context, id string) (engine.Status, error) {
	if _, ok := f.containers[id]; !ok {
		return engine.Status{}, engine.ErrNotFound
	}
	return engine.Status{ID: id, Running: true}, nil
}

type staticJobs map[string]bool

func (s staticJobs) Installing(internalID string) bool { return s[internalID] }

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	require.NoError(t, conf.EnsureDirs())
	return registry.New(conf)
}

func TestSweepInstallContainers(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{containers: map[string]engine.Summary{
		"orphan": {ID: "orphan", Labels: map[string]string{
			install.LabelKind: install.KindInstall, install.LabelServer: "srv-orphan",
		}},
		"busy": {ID: "busy", Labels: map[string]string{
			install.LabelKind: install.KindInstall, install.LabelServer: "srv-busy",
		}},
		"server": {ID: "server", Labels: map[string]string{
			install.LabelKind: install.KindServer, install.LabelServer: "srv-live",
		}},
	}}
	reg := newTestRegistry(t)

	s := New(eng, reg, staticJobs{"srv-busy": true})
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []string{"orphan"}, eng.removed)
	assert.Contains(t, eng.containers, "busy")
	assert.Contains(t, eng.containers, "server")
}

func TestSweepVanishedContainers(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{containers: map[string]engine.Summary{
		"c-live": {ID: "c-live", Labels: map[string]string{}},
	}}
	reg := newTestRegistry(t)

	put := func(internalID, containerID string, state types.ServerState) {
		require.NoError(t, reg.Put(ctx, types.ServerRecord{
			InternalID:  internalID,
			ContainerID: containerID,
			State:       state,
			CreatedAt:   time.Now(),
		}))
	}
	put("live", "c-live", types.StateRunning)
	put("gone", "c-gone", types.StateRunning)
	put("fresh", "", types.StateCreating)
	put("installing", "c-old", types.StateInstalling)

	s := New(eng, reg, staticJobs{"installing": true})
	require.NoError(t, s.Run(ctx))

	rec, err := reg.Get(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, types.StateErrored, rec.State)
	assert.Empty(t, rec.ContainerID)

	rec, err = reg.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, rec.State)

	rec, err = reg.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, types.StateCreating, rec.State)

	// In-flight installs keep their stale handle until the job finishes.
	rec, err = reg.Get(ctx, "installing")
	require.NoError(t, err)
	assert.Equal(t, types.StateInstalling, rec.State)
}
