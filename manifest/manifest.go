// Package manifest handles physics.toml project configuration: the build
// tag stamped into every compiled element, the element name -> type number
// table used to resolve %Name type references, and the source/output paths
// the compiler walks.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ewal-lang/ewal/pkg/asm/resolve"
)

// Manifest represents a physics.toml project configuration.
type Manifest struct {
	Physics  Physics         `toml:"physics"`
	Elements []ElementDecl   `toml:"elements"`
	Source   Source          `toml:"source"`

	// Dir is the directory containing the physics.toml file (set at load time).
	Dir string `toml:"-"`
}

// Physics holds the top-level build identity of the project: the build tag
// every compiled .mfb is stamped with, and where compiled output goes.
type Physics struct {
	BuildTag string `toml:"build-tag"`
	Output   string `toml:"output"`
}

// ElementDecl assigns one element name its compiled type number. Order in
// the manifest is preserved in Manifest.Elements but the table is looked up
// by name, not position.
type ElementDecl struct {
	Name string `toml:"name"`
	Type uint16 `toml:"type"`
}

// Source configures where .s sources are found.
type Source struct {
	Dirs []string `toml:"dirs"`
}

// Load parses a physics.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "physics.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Physics.Output == "" {
		m.Physics.Output = "build"
	}

	seen := map[string]bool{}
	for _, e := range m.Elements {
		if seen[e.Name] {
			return nil, fmt.Errorf("%s: duplicate element %q", path, e.Name)
		}
		seen[e.Name] = true
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a physics.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "physics.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// OutputDir returns the absolute path compiled .mfb files are written to.
func (m *Manifest) OutputDir() string {
	return filepath.Join(m.Dir, m.Physics.Output)
}

// TypeNumber looks up an element's compiled type number by name.
func (m *Manifest) TypeNumber(name string) (uint16, bool) {
	for _, e := range m.Elements {
		if e.Name == name {
			return e.Type, true
		}
	}
	return 0, false
}

// SelfTypeNumber looks up the type number a source file should resolve
// `%Self` to, given the element name the caller derived for that file (by
// convention, its base filename without extension).
func (m *Manifest) SelfTypeNumber(elementName string) (uint16, bool) {
	return m.TypeNumber(elementName)
}

// TypeResolver adapts the manifest's element table to the shape the
// resolver package expects for resolving %Name type references.
func (m *Manifest) TypeResolver() resolve.TypeResolver {
	return m.TypeNumber
}
