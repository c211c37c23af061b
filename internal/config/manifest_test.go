package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest>
  <control namespace="Contoso" constructor="MyControl" version="0.0.1"
           display-name-key="MyControl" description-key="MyControl description">
    <resources>
      <code path="bundle.js" order="1" />
    </resources>
  </control>
</manifest>`

func TestControlNameFromManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ControlManifest.Input.xml"), []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	name, err := ControlNameFromManifest(dir)
	if err != nil {
		t.Fatalf("ControlNameFromManifest: %v", err)
	}
	if name != "cc_Contoso.MyControl" {
		t.Fatalf("name = %q", name)
	}
}

func TestControlNameFromManifest_WalksUp(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "ControlManifest.xml"), []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Build output commonly sits two levels below the manifest.
	out := filepath.Join(root, "out", "controls")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	name, err := ControlNameFromManifest(out)
	if err != nil {
		t.Fatalf("ControlNameFromManifest: %v", err)
	}
	if name != "cc_Contoso.MyControl" {
		t.Fatalf("name = %q", name)
	}
}

func TestControlNameFromManifest_MissingAttributes(t *testing.T) {
	dir := t.TempDir()
	broken := `<manifest><control namespace="Contoso" /></manifest>`
	if err := os.WriteFile(filepath.Join(dir, "ControlManifest.xml"), []byte(broken), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ControlNameFromManifest(dir); err == nil {
		t.Fatal("expected error for manifest without constructor")
	}
}
