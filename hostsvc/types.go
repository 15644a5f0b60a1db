package hostsvc

import (
	"fmt"
	"math/big"

	"github.com/ewal-lang/ewal/pkg/atom"
	"github.com/ewal-lang/ewal/pkg/value"
	"github.com/ewal-lang/ewal/pkg/vm"
)

// LoadRequest carries a compiled .mfb module to load.
type LoadRequest struct {
	ProgramBytes []byte `json:"program_bytes"`
}

// LoadResponse returns an opaque handle to the loaded module, or an error.
type LoadResponse struct {
	Handle string `json:"handle,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AtomSnapshot is one cell's 96-bit contents, wire-encoded as a decimal
// string since JSON numbers can't carry the full 96-bit range.
type AtomSnapshot string

func atomToSnapshot(a atom.Atom) AtomSnapshot {
	return AtomSnapshot(a.Bits.Big().String())
}

func snapshotToAtom(s AtomSnapshot) (atom.Atom, error) {
	n, ok := new(big.Int).SetString(string(s), 10)
	if !ok {
		return atom.Atom{}, fmt.Errorf("invalid atom snapshot %q", s)
	}
	return atom.Atom{Bits: value.FromBig(n, value.Unsigned)}, nil
}

// EventWindowSnapshot is the 41-site neighborhood around the origin atom,
// plus site 0's paint value.
type EventWindowSnapshot struct {
	Sites [41]AtomSnapshot `json:"sites"`
	Paint uint32           `json:"paint"`
}

// RegisterSnapshot is the 15 general registers R0..R14 (R? is never
// persisted: it resamples on every read).
type RegisterSnapshot struct {
	R [15]AtomSnapshot `json:"r"`
}

// FaultSnapshot is a wire-friendly copy of vm.Fault.
type FaultSnapshot struct {
	Reason  string `json:"reason"`
	IP      int    `json:"ip"`
	Opcode  string `json:"opcode"`
	HasTop  bool   `json:"has_top"`
	TopBits string `json:"top_bits,omitempty"`
}

func faultToSnapshot(f *vm.Fault) *FaultSnapshot {
	if f == nil {
		return nil
	}
	fs := &FaultSnapshot{
		Reason: f.Reason.String(),
		IP:     f.IP,
		Opcode: f.Opcode.String(),
		HasTop: f.HasTop,
	}
	if f.HasTop {
		fs.TopBits = value.FromBytes12(f.TopBits, value.Unsigned).Big().String()
	}
	return fs
}

// RunRequest drives one VM activation against a loaded module.
type RunRequest struct {
	Handle    string            `json:"handle"`
	Window    EventWindowSnapshot `json:"window"`
	Registers RegisterSnapshot  `json:"registers"`
	Seed      uint64            `json:"seed"`
	Budget    int64             `json:"budget"`
}

// RunResponse is the resulting activation state plus the window/registers
// as left by the run. Writes made before a fault or a budget suspension
// are kept in the returned snapshots.
type RunResponse struct {
	State     string              `json:"state"`
	Window    EventWindowSnapshot `json:"window"`
	Registers RegisterSnapshot    `json:"registers"`
	Fault     *FaultSnapshot      `json:"fault,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// snapshotHost adapts a RunRequest's window/registers into a window.Host
// for one Engine activation, and records writes so the final snapshot can
// be read back out.
type snapshotHost struct {
	sites   [41]atom.Atom
	paint   uint32
	rng     func() value.Value
	resolve func(string) (uint16, bool)
}

func newSnapshotHost(w EventWindowSnapshot, rng func() value.Value, resolveType func(string) (uint16, bool)) (*snapshotHost, error) {
	h := &snapshotHost{paint: w.Paint, rng: rng, resolve: resolveType}
	for i, s := range w.Sites {
		a, err := snapshotToAtom(s)
		if err != nil {
			return nil, fmt.Errorf("site %d: %w", i, err)
		}
		h.sites[i] = a
	}
	return h, nil
}

func (h *snapshotHost) ReadSite(s int) atom.Atom {
	if s < 0 || s >= len(h.sites) {
		return atom.Empty()
	}
	return h.sites[s]
}

func (h *snapshotHost) WriteSite(s int, a atom.Atom) bool {
	if s < 0 || s >= len(h.sites) {
		return false
	}
	h.sites[s] = a
	return true
}

func (h *snapshotHost) ResolveType(name string) (uint16, bool) {
	if h.resolve == nil {
		return 0, false
	}
	return h.resolve(name)
}

func (h *snapshotHost) Rand96() value.Value { return h.rng() }

func (h *snapshotHost) GetPaint() (uint32, bool) { return h.paint, true }

func (h *snapshotHost) SetPaint(rgba uint32) bool {
	h.paint = rgba
	return true
}

func (h *snapshotHost) snapshot() EventWindowSnapshot {
	var out EventWindowSnapshot
	for i, a := range h.sites {
		out.Sites[i] = atomToSnapshot(a)
	}
	out.Paint = h.paint
	return out
}

func registersFromSnapshot(rs RegisterSnapshot) (*vm.Registers, error) {
	regs := vm.NewRegisters()
	for i, s := range rs.R {
		a, err := snapshotToAtom(s)
		if err != nil {
			return nil, fmt.Errorf("register %d: %w", i, err)
		}
		regs.Set(i, a.Bits)
	}
	return regs, nil
}

func registersToSnapshot(regs *vm.Registers) RegisterSnapshot {
	var out RegisterSnapshot
	for i := range out.R {
		v, _ := regs.Get(i)
		out.R[i] = AtomSnapshot(v.Big().String())
	}
	return out
}
