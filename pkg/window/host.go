// Package window defines the event-window collaborator interfaces the VM
// engine is handed by the host scheduler for the duration of one activation.
// The scheduler itself, and how it decides which cell fires next, are out of
// scope for this repository.
package window

import (
	"github.com/ewal-lang/ewal/pkg/atom"
	"github.com/ewal-lang/ewal/pkg/value"
)

// Host is the set of capabilities the VM requires from its environment.
// Implementations are provided by the embedding application; the VM never
// constructs one itself.
type Host interface {
	// ReadSite returns the atom at canonical site s (0..40). Void sites
	// (no backing cell at that lattice position) read as Empty.
	ReadSite(s int) atom.Atom

	// WriteSite stores a at canonical site s. Writes to void sites are
	// silent no-ops and return false; a real write returns true.
	WriteSite(s int, a atom.Atom) bool

	// ResolveType maps an element name to its compiled type number, as
	// installed by the host physics the program was compiled against.
	ResolveType(name string) (uint16, bool)

	// Rand96 produces a uniform random 96-bit unsigned value. Read-only
	// register R? draws a fresh sample on every read.
	Rand96() value.Value

	// GetPaint and SetPaint access the 32-bit RGBA paint value of site 0
	// only; other sites have no paint.
	GetPaint() (uint32, bool)
	SetPaint(rgba uint32) bool
}

// Window wraps a Host and is the VM's only way to reach the 41-site event
// window for the duration of one activation.
type Window struct {
	Host Host
}

// New wraps a host implementation into a Window.
func New(h Host) *Window { return &Window{Host: h} }
