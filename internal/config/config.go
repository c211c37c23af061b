// Package config provides proxy configuration management.
//
// Configuration is flags-first: the optional .pcfproxy.yaml project file
// supplies defaults, explicit flags win, and the control name falls back to
// the component manifest next to the serving directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Defaults for the two listener ports.
const (
	// DefaultPort is the HTTPS proxy listener port.
	DefaultPort = 8642

	// DefaultWsPort is the control-plane port.
	DefaultWsPort = 8643

	// controlPrefix is the segment prepended to namespace.constructor to
	// form the full control identifier.
	controlPrefix = "cc"
)

// Config is the resolved proxy configuration.
type Config struct {
	// Port is the HTTPS proxy listener port.
	Port int

	// WsPort is the control-plane port.
	WsPort int

	// ServeDir is the directory holding the control's built assets.
	ServeDir string

	// ControlName is the full dotted control identifier.
	ControlName string

	// Browser optionally names a browser to launch (chrome or edge).
	Browser string

	// Hot enables runtime injection and the control plane.
	Hot bool

	// WatchBundle enables the bundle watcher. Requires Hot.
	WatchBundle bool

	// Yes skips interactive confirmations.
	Yes bool

	// CaRootPath is the directory holding the proxy CA key pair.
	CaRootPath string
}

// Resolve builds the final configuration from flag values.
//
// Precedence per field: explicit flag, then .pcfproxy.yaml, then built-in
// default. The control name additionally falls back to the component
// manifest found in or above the serving directory.
//
// Parameters:
//   - flags: Flag values; zero values mean "not set"
//
// Returns:
//   - *Config: The resolved configuration
//   - error: A configuration error suitable for a single-line fatal message
func Resolve(flags Config) (*Config, error) {
	cfg := flags

	project, err := LoadProject(".")
	if err != nil {
		return nil, err
	}
	if project != nil {
		applyProjectDefaults(&cfg, project)
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.WsPort == 0 {
		cfg.WsPort = DefaultWsPort
	}
	if cfg.ServeDir == "" {
		cfg.ServeDir = "."
	}

	abs, err := filepath.Abs(cfg.ServeDir)
	if err != nil {
		return nil, fmt.Errorf("invalid serving directory: %w", err)
	}
	cfg.ServeDir = abs

	info, err := os.Stat(cfg.ServeDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("serving directory does not exist: %s", cfg.ServeDir)
	}

	if cfg.ControlName == "" {
		name, err := ControlNameFromManifest(cfg.ServeDir)
		if err != nil {
			return nil, fmt.Errorf("no --control given and no component manifest found near %s", cfg.ServeDir)
		}
		cfg.ControlName = name
	}

	if cfg.CaRootPath == "" {
		cfg.CaRootPath = defaultCaRootPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
//
// Returns:
//   - error: The first violated constraint
func (c *Config) Validate() error {
	switch c.Browser {
	case "", "chrome", "edge":
	default:
		return fmt.Errorf("unknown browser %q (expected chrome or edge)", c.Browser)
	}
	if c.WatchBundle && !c.Hot {
		return fmt.Errorf("--watch-bundle requires --hot")
	}
	if c.Port == c.WsPort {
		return fmt.Errorf("--port and --ws-port must differ")
	}
	if !strings.Contains(c.ControlName, ".") {
		return fmt.Errorf("control name %q is not of the form prefix_Namespace.Constructor", c.ControlName)
	}
	return nil
}

// ShortName strips the prefix segment from a control identifier; the result
// is the key the host page's registry uses.
//
// Parameters:
//   - controlName: The full dotted control identifier
//
// Returns:
//   - string: The short name (e.g. "Contoso.MyControl")
func ShortName(controlName string) string {
	if idx := strings.Index(controlName, "_"); idx >= 0 {
		return controlName[idx+1:]
	}
	return controlName
}

// applyProjectDefaults copies project-file values into unset fields.
func applyProjectDefaults(cfg *Config, project *ProjectConfig) {
	if cfg.Port == 0 && project.Port != 0 {
		cfg.Port = project.Port
	}
	if cfg.WsPort == 0 && project.WsPort != 0 {
		cfg.WsPort = project.WsPort
	}
	if cfg.ServeDir == "" && project.Dir != "" {
		cfg.ServeDir = project.Dir
	}
	if cfg.ControlName == "" && project.Control != "" {
		cfg.ControlName = project.Control
	}
	if cfg.Browser == "" && project.Browser != "" {
		cfg.Browser = project.Browser
	}
	if !cfg.Hot && project.Hot {
		cfg.Hot = true
	}
}

// defaultCaRootPath locates the CA store under the user config directory.
// The MITM engine generates the key pair there on first run.
func defaultCaRootPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".pcf-dev-proxy", "certs")
	}
	return filepath.Join(base, "pcf-dev-proxy", "certs")
}
