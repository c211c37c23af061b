// Package proxy implements the HTTPS interception engine.
//
// The engine terminates TLS locally, recognizes requests for one control's
// bundle assets, serves them from a local build directory (optionally with
// the hot-reload runtime injected), and passes every other request through.
// Passthrough responses are unchanged, except that in hot mode their CSP
// headers are removed.
package proxy

import (
	"fmt"
	"regexp"
)

// Matcher recognizes bundle requests for a single control and extracts the
// relative asset path.
type Matcher struct {
	// controlName is the full dotted control identifier (e.g. "cc_Acme.Widget").
	controlName string

	// pattern matches "<controlName>/<relative-path>" anywhere in a URL.
	pattern *regexp.Regexp
}

// NewMatcher builds a matcher for the given control identifier.
//
// Parameters:
//   - controlName: The dotted control identifier, dots matched literally
//
// Returns:
//   - *Matcher: A new matcher instance
func NewMatcher(controlName string) *Matcher {
	pattern := regexp.MustCompile(regexp.QuoteMeta(controlName) + "/([^?]+)")
	return &Matcher{
		controlName: controlName,
		pattern:     pattern,
	}
}

// ControlName returns the control identifier this matcher was built for.
func (m *Matcher) ControlName() string {
	return m.controlName
}

// Match extracts the relative asset path from a request URL.
//
// Matching is case-sensitive and considers only the URL string. When the
// control segment appears more than once, the first occurrence wins.
//
// Parameters:
//   - url: The full request URL
//
// Returns:
//   - string: The relative asset path (e.g. "bundle.js")
//   - bool: True if the URL addresses this control's assets
func (m *Matcher) Match(url string) (string, bool) {
	groups := m.pattern.FindStringSubmatch(url)
	if groups == nil {
		return "", false
	}
	return groups[1], true
}

// String implements fmt.Stringer for debug logging.
func (m *Matcher) String() string {
	return fmt.Sprintf("Matcher(%s)", m.controlName)
}
