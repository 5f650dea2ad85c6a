package types

// Unit is the declarative template describing a class of server software:
// which image runs it, how it is installed, and which values the operator
// may tune.
type Unit struct {
	Name string `json:"name"`
	// Image runs the long-lived server container.
	Image string `json:"image"`
	// InstallImage runs the ephemeral install container. Falls back to
	// Image when empty.
	InstallImage string `json:"install_image,omitempty"`
	// InstallScript is the raw install script before variable substitution.
	InstallScript string `json:"install_script"`
	// StartupCommand is the container command after variable substitution.
	StartupCommand string `json:"startup_command"`

	Variables   []Variable   `json:"variables,omitempty"`
	ConfigFiles []ConfigFile `json:"config_files,omitempty"`
}

// Variable is a named value substituted into scripts and startup commands.
// Rules is pipe-delimited: "nullable|string|max:20".
type Variable struct {
	Name    string `json:"name"`
	Default string `json:"default"`
	Value   string `json:"value,omitempty"`
	Rules   string `json:"rules,omitempty"`
}

// Effective returns the value to substitute: the current value when set,
// otherwise the default.
func (v Variable) Effective() string {
	if v.Value != "" {
		return v.Value
	}
	return v.Default
}

// ConfigFile is a file materialized under the server volume before install.
// Path is relative to the volume root; traversal components are neutralized
// at write time.
type ConfigFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
