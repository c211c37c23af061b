package proxy

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := NewResolver(dir)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r, dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestResolver_ServesJavaScript(t *testing.T) {
	r, dir := newTestResolver(t)
	writeFile(t, dir, "bundle.js", "console.log('hi');")

	result := r.Resolve("bundle.js")
	if result.Status != ResolveOK {
		t.Fatalf("status = %v, want ResolveOK", result.Status)
	}
	if result.ContentType != "application/javascript" {
		t.Fatalf("content type = %q", result.ContentType)
	}
	if string(result.Bytes) != "console.log('hi');" {
		t.Fatalf("body = %q", result.Bytes)
	}
}

func TestResolver_MapFilesAreJSON(t *testing.T) {
	r, dir := newTestResolver(t)
	writeFile(t, dir, "bundle.js.map", `{"version":3}`)

	result := r.Resolve("bundle.js.map")
	if result.Status != ResolveOK {
		t.Fatalf("status = %v, want ResolveOK", result.Status)
	}
	if result.ContentType != "application/json" {
		t.Fatalf("content type = %q", result.ContentType)
	}
}

func TestResolver_AppendsSourceMapHint(t *testing.T) {
	r, dir := newTestResolver(t)
	writeFile(t, dir, "bundle.js", "var x = 1;")
	writeFile(t, dir, "bundle.js.map", `{"version":3}`)

	result := r.Resolve("bundle.js")
	if result.Status != ResolveOK {
		t.Fatalf("status = %v, want ResolveOK", result.Status)
	}
	want := "\n//# sourceMappingURL=bundle.js.map\n"
	if !strings.HasSuffix(string(result.Bytes), want) {
		t.Fatalf("body %q does not end with source map hint", result.Bytes)
	}
	if !strings.HasPrefix(string(result.Bytes), "var x = 1;") {
		t.Fatalf("body %q does not start with original content", result.Bytes)
	}
}

func TestResolver_NoHintWithoutSiblingMap(t *testing.T) {
	r, dir := newTestResolver(t)
	writeFile(t, dir, "bundle.js", "var x = 1;")

	result := r.Resolve("bundle.js")
	if strings.Contains(string(result.Bytes), "sourceMappingURL") {
		t.Fatalf("unexpected source map hint in %q", result.Bytes)
	}
}

func TestResolver_MissingFile(t *testing.T) {
	r, _ := newTestResolver(t)

	result := r.Resolve("nope.js")
	if result.Status != ResolveNotFound {
		t.Fatalf("status = %v, want ResolveNotFound", result.Status)
	}
}

func TestResolver_TraversalBlocked(t *testing.T) {
	r, _ := newTestResolver(t)

	for _, rel := range []string{
		"../etc/passwd",
		"../../etc/passwd",
		"a/../../etc/passwd",
	} {
		result := r.Resolve(rel)
		if result.Status != ResolveForbidden {
			t.Fatalf("Resolve(%q) status = %v, want ResolveForbidden", rel, result.Status)
		}
	}
}

func TestResolver_SymlinkEscapeBlocked(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	outside := t.TempDir()
	writeFile(t, outside, "secret.js", "leaked")

	r, dir := newTestResolver(t)
	if err := os.Symlink(filepath.Join(outside, "secret.js"), filepath.Join(dir, "link.js")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	result := r.Resolve("link.js")
	if result.Status != ResolveForbidden {
		t.Fatalf("status = %v, want ResolveForbidden for symlink escape", result.Status)
	}
}

func TestResolver_DirectoryIsNotFound(t *testing.T) {
	r, dir := newTestResolver(t)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	result := r.Resolve("sub")
	if result.Status != ResolveNotFound {
		t.Fatalf("status = %v, want ResolveNotFound", result.Status)
	}
}
