package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Run("happy path through the lifecycle", func(t *testing.T) {
		path := []ServerState{
			StateCreating, StateInstalling, StateInstalled,
			StateStarting, StateRunning, StateStopping, StateStopped,
		}
		for i := 0; i < len(path)-1; i++ {
			assert.True(t, path[i].CanTransition(path[i+1]), "%s -> %s", path[i], path[i+1])
		}
	})

	t.Run("reinstall paths", func(t *testing.T) {
		assert.True(t, StateInstallFailed.CanTransition(StateInstalling))
		assert.True(t, StateStopped.CanTransition(StateInstalling))
		assert.True(t, StateInstalled.CanTransition(StateInstalling))
		assert.True(t, StateErrored.CanTransition(StateInstalling))
	})

	t.Run("illegal moves are rejected", func(t *testing.T) {
		assert.False(t, StateCreating.CanTransition(StateRunning))
		assert.False(t, StateRunning.CanTransition(StateRunning))
		assert.False(t, StateRunning.CanTransition(StateStarting))
		assert.False(t, StateStopped.CanTransition(StateStopping))
		assert.False(t, StateInstallFailed.CanTransition(StateStarting))
	})

	t.Run("unknown states have no outgoing transitions", func(t *testing.T) {
		assert.False(t, ServerState("bogus").CanTransition(StateRunning))
	})
}

func TestInstalled(t *testing.T) {
	assert.False(t, StateCreating.Installed())
	assert.False(t, StateInstalling.Installed())
	assert.False(t, StateInstallFailed.Installed())
	assert.True(t, StateInstalled.Installed())
	assert.True(t, StateRunning.Installed())
	assert.True(t, StateStopped.Installed())
	assert.True(t, StateErrored.Installed())
}
