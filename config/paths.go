package config

import (
	"path/filepath"

	"github.com/projecteru2/hatchery/utils"
)

// EnsureDirs creates all static directories required by the daemon.
// Per-server volume directories are created on demand during install.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(
		c.dbDir(),
		c.VolumesDir(),
	)
}

func (c *Config) dbDir() string { return filepath.Join(c.RootDir, "db") }

// IndexFile and IndexLock are the server index store paths.
func (c *Config) IndexFile() string { return filepath.Join(c.dbDir(), "servers.json") }
func (c *Config) IndexLock() string { return filepath.Join(c.dbDir(), "servers.lock") }

// VolumesDir is the parent of all per-server volumes.
func (c *Config) VolumesDir() string { return filepath.Join(c.RootDir, "volumes") }

// ServerVolume returns the host-side volume root for a server.
func (c *Config) ServerVolume(internalID string) string {
	return filepath.Join(c.VolumesDir(), internalID)
}
