package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[physics]
build-tag = "DEMO01"
output = "build"

[[elements]]
name = "Dreg"
type = 1

[[elements]]
name = "Res"
type = 2

[source]
dirs = ["src", "lib"]
`
	if err := os.WriteFile(filepath.Join(dir, "physics.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Physics.BuildTag != "DEMO01" {
		t.Errorf("build tag = %q, want DEMO01", m.Physics.BuildTag)
	}
	if len(m.Elements) != 2 {
		t.Fatalf("elements count = %d, want 2", len(m.Elements))
	}
	if n, ok := m.TypeNumber("Res"); !ok || n != 2 {
		t.Errorf("TypeNumber(Res) = (%d,%v), want (2,true)", n, ok)
	}
	if _, ok := m.TypeNumber("Unknown"); ok {
		t.Error("TypeNumber(Unknown) should not resolve")
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[physics]
build-tag = "MIN01"
`
	if err := os.WriteFile(filepath.Join(dir, "physics.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default source dirs = %v, want [src]", m.Source.Dirs)
	}
	if m.Physics.Output != "build" {
		t.Errorf("default output = %q, want build", m.Physics.Output)
	}
}

func TestLoadManifestRejectsDuplicateElement(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[physics]
build-tag = "DUP01"

[[elements]]
name = "Dreg"
type = 1

[[elements]]
name = "Dreg"
type = 2
`
	if err := os.WriteFile(filepath.Join(dir, "physics.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatal("expected duplicate element name to be rejected")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[physics]
build-tag = "FOUND01"
`
	if err := os.WriteFile(filepath.Join(dir, "physics.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Physics.BuildTag != "FOUND01" {
		t.Errorf("build tag = %q, want FOUND01", m.Physics.BuildTag)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no physics.toml exists")
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir:    "/app",
		Source: Source{Dirs: []string{"src", "lib"}},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/app/lib" {
		t.Errorf("paths[1] = %q, want /app/lib", paths[1])
	}
}

func TestOutputDir(t *testing.T) {
	m := &Manifest{Dir: "/app", Physics: Physics{Output: "build"}}
	if got := m.OutputDir(); got != "/app/build" {
		t.Errorf("OutputDir() = %q, want /app/build", got)
	}
}
