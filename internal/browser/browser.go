// Package browser launches a system browser preconfigured to trust the
// local proxy.
//
// The browser is started with an explicit proxy-server flag and an isolated
// profile so the developer's main profile never carries the dev proxy
// settings.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
)

// binaryCandidates maps the browser flag value to executable candidates per
// platform, tried in order.
var binaryCandidates = map[string]map[string][]string{
	"chrome": {
		"darwin":  {"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		"linux":   {"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"},
		"windows": {`C:\Program Files\Google\Chrome\Application\chrome.exe`, `C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`},
	},
	"edge": {
		"darwin":  {"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
		"linux":   {"microsoft-edge", "microsoft-edge-stable"},
		"windows": {`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`, `C:\Program Files\Microsoft\Edge\Application\msedge.exe`},
	},
}

// Launch starts the named browser routed through the local proxy.
//
// Parameters:
//   - name: "chrome" or "edge"
//   - proxyPort: The MITM proxy listener port
//   - startURL: Initial page to open (may be empty)
//
// Returns:
//   - error: When no matching executable is found or it fails to start
func Launch(name string, proxyPort int, startURL string) error {
	candidates := binaryCandidates[name][runtime.GOOS]
	if len(candidates) == 0 {
		return fmt.Errorf("browser %q is not supported on %s", name, runtime.GOOS)
	}

	bin, err := findBinary(candidates)
	if err != nil {
		return fmt.Errorf("could not locate %s: %w", name, err)
	}

	profileDir := filepath.Join(os.TempDir(), "pcf-dev-proxy-"+name)
	args := []string{
		fmt.Sprintf("--proxy-server=http://127.0.0.1:%d", proxyPort),
		// The proxy CA is not in the OS trust store; without this the
		// intercepted origins hit a TLS interstitial.
		"--ignore-certificate-errors",
		"--user-data-dir=" + profileDir,
		"--no-first-run",
	}
	if startURL != "" {
		args = append(args, startURL)
	}

	cmd := exec.Command(bin, args...)
	log.Debug("Launching browser", "bin", bin, "proxyPort", proxyPort)
	return cmd.Start()
}

// findBinary returns the first candidate that exists (absolute paths) or
// resolves on PATH.
func findBinary(candidates []string) (string, error) {
	for _, candidate := range candidates {
		if filepath.IsAbs(candidate) {
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no executable found (tried %v)", candidates)
}
