package install

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/unit"
	"github.com/projecteru2/hatchery/utils"
)

// ScriptName is the processed install script's filename inside the volume.
const ScriptName = "install.sh"

// scriptPreamble enables command echo and exit-on-error before the unit's
// own script runs, so install output is traceable and failures stop the job
// at the failing command.
const scriptPreamble = "#!/bin/sh\nset -x\nset -e\n\n"

// SafeJoin resolves a declared relative path strictly inside root.
// Rooting the path at "/" before cleaning neutralizes any ".." components,
// so "../../etc/passwd" lands at root/etc/passwd instead of escaping.
func SafeJoin(root, rel string) string {
	return filepath.Join(root, filepath.Clean("/"+rel))
}

// WriteConfigFiles materializes the unit's declared config files under the
// volume root. Parent directories are created as needed.
func WriteConfigFiles(root string, files []types.ConfigFile) error {
	for _, f := range files {
		target := SafeJoin(root, f.Path)
		if err := utils.EnsureDirs(filepath.Dir(target)); err != nil {
			return fmt.Errorf("config file %s: %w", f.Path, err)
		}
		if err := utils.AtomicWriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("config file %s: %w", f.Path, err)
		}
	}
	return nil
}

// WriteScript runs the variable processor over the raw install script, wraps
// it in the standard preamble, and persists it executable in the volume.
// Returns the host-side script path.
func WriteScript(root, raw string, vars []types.Variable) (string, error) {
	processed, err := unit.Process(raw, vars)
	if err != nil {
		return "", fmt.Errorf("process install script: %w", err)
	}
	target := filepath.Join(root, ScriptName)
	if err := os.WriteFile(target, []byte(scriptPreamble+processed), 0o755); err != nil { //nolint:gosec // must be executable in-container
		return "", fmt.Errorf("write install script: %w", err)
	}
	return target, nil
}
