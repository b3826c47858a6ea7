package deploy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	t.Run("absent file falls back to default", func(t *testing.T) {
		m, err := LoadManifest(filepath.Join(dir, "missing.yaml"))
		if err != nil {
			t.Fatalf("LoadManifest: %v", err)
		}
		if m.Driver != "main.sh" || len(m.Files) != 5 {
			t.Fatalf("unexpected default manifest: %+v", m)
		}
	})

	t.Run("custom manifest", func(t *testing.T) {
		path := filepath.Join(dir, "payload.yaml")
		raw := "driver: run.sh\nfiles:\n  - parse.awk\n  - run.sh\n"
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
		m, err := LoadManifest(path)
		if err != nil {
			t.Fatalf("LoadManifest: %v", err)
		}
		if m.Driver != "run.sh" || len(m.Files) != 2 {
			t.Fatalf("unexpected manifest: %+v", m)
		}
	})

	t.Run("driver not among files", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		raw := "driver: run.sh\nfiles:\n  - parse.awk\n"
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadManifest(path); err == nil {
			t.Fatal("expected validation error")
		}
	})
}
