package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("fills zero values", func(t *testing.T) {
		c := &Config{RootDir: "/tmp/hatchery"}
		require.NoError(t, c.Normalize())
		assert.Positive(t, c.PoolSize)
		assert.Equal(t, 30, c.StopTimeoutSeconds)
	})

	t.Run("rejects empty root dir", func(t *testing.T) {
		c := &Config{}
		assert.Error(t, c.Normalize())
	})

	t.Run("rejects malformed default memory", func(t *testing.T) {
		c := &Config{RootDir: "/tmp/hatchery", DefaultMemory: "lots"}
		assert.Error(t, c.Normalize())
	})
}

func TestDefaultMemoryBytes(t *testing.T) {
	assert.Equal(t, int64(512<<20), (&Config{DefaultMemory: "512M"}).DefaultMemoryBytes())
	assert.Equal(t, int64(1<<30), (&Config{}).DefaultMemoryBytes())
	assert.Equal(t, int64(1<<30), (&Config{DefaultMemory: "bogus"}).DefaultMemoryBytes())
}

func TestPaths(t *testing.T) {
	c := &Config{RootDir: "/var/lib/hatchery"}
	assert.Equal(t, filepath.Join("/var/lib/hatchery", "db", "servers.json"), c.IndexFile())
	assert.Equal(t, filepath.Join("/var/lib/hatchery", "db", "servers.lock"), c.IndexLock())
	assert.Equal(t, filepath.Join("/var/lib/hatchery", "volumes", "abc"), c.ServerVolume("abc"))
}
