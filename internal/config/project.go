package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the optional per-project defaults file.
const ProjectFileName = ".pcfproxy.yaml"

// ProjectConfig represents the .pcfproxy.yaml file.
//
// Every field is optional; flags always win over file values.
type ProjectConfig struct {
	// Port is the HTTPS proxy listener port.
	Port int `yaml:"port,omitempty"`

	// WsPort is the control-plane port.
	WsPort int `yaml:"ws_port,omitempty"`

	// Dir is the serving directory.
	Dir string `yaml:"dir,omitempty"`

	// Control is the full dotted control identifier.
	Control string `yaml:"control,omitempty"`

	// Browser names the browser to launch (chrome or edge).
	Browser string `yaml:"browser,omitempty"`

	// Hot enables runtime injection by default.
	Hot bool `yaml:"hot,omitempty"`
}

// LoadProject reads the project file from dir.
//
// A missing file is not an error; a malformed one is, so typos fail fast
// instead of being silently ignored.
//
// Parameters:
//   - dir: Directory to look in
//
// Returns:
//   - *ProjectConfig: The parsed file, or nil when absent
//   - error: Read or parse failure
func LoadProject(dir string) (*ProjectConfig, error) {
	path := filepath.Join(dir, ProjectFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var project ProjectConfig
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &project, nil
}
