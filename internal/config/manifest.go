package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest file names checked in order. The .Input variant is the source
// manifest; the bare name appears in build output directories.
var manifestNames = []string{"ControlManifest.Input.xml", "ControlManifest.xml"}

// manifestLookupDepth bounds the walk from the serving directory upward.
const manifestLookupDepth = 4

// controlManifest captures only the attributes needed for the control name.
type controlManifest struct {
	Control struct {
		Namespace   string `xml:"namespace,attr"`
		Constructor string `xml:"constructor,attr"`
	} `xml:"control"`
}

// ControlNameFromManifest derives the full control identifier from the
// component manifest found in or above dir.
//
// Parameters:
//   - dir: The serving directory to start from
//
// Returns:
//   - string: The full identifier, e.g. "cc_Contoso.MyControl"
//   - error: When no usable manifest exists within reach
func ControlNameFromManifest(dir string) (string, error) {
	current := dir
	for i := 0; i < manifestLookupDepth; i++ {
		for _, name := range manifestNames {
			path := filepath.Join(current, name)
			if controlName, err := readManifest(path); err == nil {
				return controlName, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", fmt.Errorf("no component manifest found within %d levels of %s", manifestLookupDepth, dir)
}

// readManifest parses one manifest file into a control identifier.
func readManifest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var manifest controlManifest
	if err := xml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if manifest.Control.Namespace == "" || manifest.Control.Constructor == "" {
		return "", fmt.Errorf("manifest %s has no control namespace/constructor", path)
	}
	return fmt.Sprintf("%s_%s.%s", controlPrefix, manifest.Control.Namespace, manifest.Control.Constructor), nil
}
