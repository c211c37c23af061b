package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveStatus classifies the outcome of an asset lookup.
type ResolveStatus int

const (
	// ResolveOK means the asset was read successfully.
	ResolveOK ResolveStatus = iota

	// ResolveNotFound means the asset does not exist under the serving root.
	ResolveNotFound

	// ResolveForbidden means the path escapes the serving root.
	ResolveForbidden
)

// ResolveResult is the outcome of resolving one asset path.
type ResolveResult struct {
	// Status classifies the lookup outcome.
	Status ResolveStatus

	// Bytes is the asset content, with a source-map hint appended for .js
	// files that have a sibling .map.
	Bytes []byte

	// ContentType is the MIME type to serve the asset with.
	ContentType string
}

// Resolver performs sandboxed reads of control assets rooted at a serving
// directory.
type Resolver struct {
	// root is the canonical serving directory, with a trailing separator.
	root string
}

// NewResolver creates a resolver rooted at dir.
//
// The directory is canonicalized up front so the per-request containment
// check is a plain prefix comparison.
//
// Parameters:
//   - dir: The serving directory (must exist)
//
// Returns:
//   - *Resolver: A new resolver instance
//   - error: When the directory cannot be canonicalized
func NewResolver(dir string) (*Resolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve serving directory: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize serving directory: %w", err)
	}
	return &Resolver{
		root: canonical + string(filepath.Separator),
	}, nil
}

// Root returns the canonical serving directory including trailing separator.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve reads the asset at relativePath.
//
// The sandbox invariant: the canonical absolute path must remain a
// descendant of the canonical root. Dot-dot traversal and symlinks pointing
// outside the root both fail the prefix check and return ResolveForbidden.
//
// Parameters:
//   - relativePath: The asset path extracted by the matcher
//
// Returns:
//   - ResolveResult: Status, content and content type
func (r *Resolver) Resolve(relativePath string) ResolveResult {
	joined := filepath.Join(r.root, filepath.FromSlash(relativePath))
	if !r.contains(joined) {
		return ResolveResult{Status: ResolveForbidden}
	}

	// Join cleans dot-dot lexically; a symlink inside the root can still
	// point outside it, so re-check after resolving the real path.
	canonical, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return ResolveResult{Status: ResolveNotFound}
		}
		return ResolveResult{Status: ResolveForbidden}
	}
	if !r.contains(canonical) {
		return ResolveResult{Status: ResolveForbidden}
	}

	info, err := os.Stat(canonical)
	if err != nil || info.IsDir() {
		return ResolveResult{Status: ResolveNotFound}
	}

	body, err := os.ReadFile(canonical)
	if err != nil {
		return ResolveResult{Status: ResolveNotFound}
	}

	if strings.HasSuffix(relativePath, ".js") {
		if _, err := os.Stat(canonical + ".map"); err == nil {
			hint := fmt.Sprintf("\n//# sourceMappingURL=%s.map\n", filepath.Base(relativePath))
			body = append(body, []byte(hint)...)
		}
	}

	return ResolveResult{
		Status:      ResolveOK,
		Bytes:       body,
		ContentType: contentTypeFor(relativePath),
	}
}

// contains reports whether path sits under the canonical root.
func (r *Resolver) contains(path string) bool {
	return strings.HasPrefix(path+string(filepath.Separator), r.root) ||
		strings.HasPrefix(path, r.root)
}

// contentTypeFor maps an asset path to its MIME type. Source maps are JSON;
// everything else served from a control's build output is JavaScript.
func contentTypeFor(relativePath string) string {
	if strings.HasSuffix(relativePath, ".map") {
		return "application/json"
	}
	return "application/javascript"
}
