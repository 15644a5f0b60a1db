package vm

import (
	"math/rand"
	"testing"

	"github.com/ewal-lang/ewal/pkg/atom"
	"github.com/ewal-lang/ewal/pkg/bytecode"
	"github.com/ewal-lang/ewal/pkg/symmetry"
	"github.com/ewal-lang/ewal/pkg/value"
	"github.com/ewal-lang/ewal/pkg/window"
)

// fakeHost is a minimal window.Host backed by a flat 41-site array, used
// only by these tests; real hosts live outside this module.
type fakeHost struct {
	sites    [41]atom.Atom
	paint    uint32
	hasPaint bool
	types    map[string]uint16
	rng      *rand.Rand
}

func newFakeHost(seed int64) *fakeHost {
	return &fakeHost{types: map[string]uint16{}, rng: rand.New(rand.NewSource(seed)), hasPaint: true}
}

func (h *fakeHost) ReadSite(s int) atom.Atom {
	if s < 0 || s > 40 {
		return atom.Atom{}
	}
	return h.sites[s]
}

func (h *fakeHost) WriteSite(s int, a atom.Atom) bool {
	if s < 0 || s > 40 {
		return false
	}
	h.sites[s] = a
	return true
}

func (h *fakeHost) ResolveType(name string) (uint16, bool) {
	v, ok := h.types[name]
	return v, ok
}

func (h *fakeHost) Rand96() value.Value { return value.FromUint64(h.rng.Uint64()) }

func (h *fakeHost) GetPaint() (uint32, bool) { return h.paint, h.hasPaint }

func (h *fakeHost) SetPaint(rgba uint32) bool {
	h.paint = rgba
	h.hasPaint = true
	return true
}

func vArg(n uint64) bytecode.DecodedArg  { return bytecode.DecodedArg{Value: value.FromUint64(n)} }
func vSigned(n int64) bytecode.DecodedArg { return bytecode.DecodedArg{Value: value.FromInt64(n)} }
func vRaw(v value.Value) bytecode.DecodedArg { return bytecode.DecodedArg{Value: v} }
func skipArg() bytecode.DecodedArg { return bytecode.DecodedArg{Skip: true} }

func ins(op bytecode.Opcode, args ...bytecode.DecodedArg) bytecode.Instr {
	return bytecode.Instr{Op: op, Args: args}
}

func newTestEngine(mod *bytecode.Module, h *fakeHost) *Engine {
	return New(mod, window.New(h), NewRegisters())
}

// --- Seed scenario 1: Res (swap with empty) ---

func TestSeedResSwapsWithEmptyNeighbor(t *testing.T) {
	mod := &bytecode.Module{
		Symmetries: uint8(symmetry.R000L),
		Code: []bytecode.Instr{
			ins(bytecode.OpGetSiteField, vArg(1), vArg(0)), // push type of #1
			ins(bytecode.OpJumpZero, skipArg(), vArg(3)),   // if 0, jump to swap
			ins(bytecode.OpJump, vArg(4)),
			ins(bytecode.OpSwapSites, vArg(0), vArg(1)),
			ins(bytecode.OpExit),
		},
	}
	h := newFakeHost(1)
	h.sites[0] = atom.New(7, value.Zero())
	h.sites[1] = atom.Empty()

	e := newTestEngine(mod, h)
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	if h.sites[0].TypeNumber() != 0 {
		t.Fatalf("#0 type = %d, want 0 (Empty)", h.sites[0].TypeNumber())
	}
	if h.sites[1].TypeNumber() != 7 {
		t.Fatalf("#1 type = %d, want 7", h.sites[1].TypeNumber())
	}
}

func TestSeedResDoesNothingWhenNeighborOccupied(t *testing.T) {
	mod := &bytecode.Module{
		Symmetries: uint8(symmetry.R000L),
		Code: []bytecode.Instr{
			ins(bytecode.OpGetSiteField, vArg(1), vArg(0)),
			ins(bytecode.OpJumpZero, skipArg(), vArg(3)),
			ins(bytecode.OpJump, vArg(4)),
			ins(bytecode.OpSwapSites, vArg(0), vArg(1)),
			ins(bytecode.OpExit),
		},
	}
	h := newFakeHost(1)
	h.sites[0] = atom.New(7, value.Zero())
	h.sites[1] = atom.New(9, value.Zero())

	e := newTestEngine(mod, h)
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	if h.sites[0].TypeNumber() != 7 || h.sites[1].TypeNumber() != 9 {
		t.Fatalf("sites changed: #0=%d #1=%d", h.sites[0].TypeNumber(), h.sites[1].TypeNumber())
	}
}

// --- Seed scenario 2: SuperFork ---

func TestSeedSuperForkFillsAllSites(t *testing.T) {
	mod := &bytecode.Module{
		Symmetries: uint8(symmetry.R000L),
		Code: []bytecode.Instr{
			ins(bytecode.OpPush, vArg(40)),              // 0
			ins(bytecode.OpSetRegister, vArg(0), skipArg()), // 1
			ins(bytecode.OpGetRegister, vArg(0)),        // 2 loop:
			ins(bytecode.OpJumpZero, skipArg(), vArg(12)), // 3
			ins(bytecode.OpGetSite, vArg(0)),            // 4
			ins(bytecode.OpGetRegister, vArg(0)),        // 5
			ins(bytecode.OpSetSite, skipArg(), skipArg()), // 6
			ins(bytecode.OpPush, vArg(1)),                // 7
			ins(bytecode.OpGetRegister, vArg(0)),        // 8
			ins(bytecode.OpSub, skipArg(), skipArg()),   // 9
			ins(bytecode.OpSetRegister, vArg(0), skipArg()), // 10
			ins(bytecode.OpJump, vArg(2)),               // 11
			ins(bytecode.OpExit),                        // 12 done:
		},
	}
	h := newFakeHost(1)
	h.sites[0] = atom.New(9, value.Zero())

	e := newTestEngine(mod, h)
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	for s := 0; s <= 40; s++ {
		if h.sites[s].TypeNumber() != 9 {
			t.Fatalf("site #%d type = %d, want 9", s, h.sites[s].TypeNumber())
		}
	}
}

// --- Seed scenario 3: RandomWalk diffuse ---

func TestSeedRandomWalkDiffuseUnderSingleSymmetry(t *testing.T) {
	mod := &bytecode.Module{
		Symmetries: uint8(symmetry.R000L),
		Code: []bytecode.Instr{
			ins(bytecode.OpSwapSites, vArg(0), vArg(1)),
			ins(bytecode.OpExit),
		},
	}
	h := newFakeHost(1)
	h.sites[0] = atom.New(11, value.Zero())
	h.sites[1] = atom.Empty()

	e := newTestEngine(mod, h)
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	if h.sites[0].TypeNumber() != 0 || h.sites[1].TypeNumber() != 11 {
		t.Fatalf("#0=%d #1=%d, want 0,11", h.sites[0].TypeNumber(), h.sites[1].TypeNumber())
	}
}

// fullOrbitSite returns a canonical site whose image under the 8 dihedral
// transforms is 8 distinct sites (a "generic" lattice point with a trivial
// symmetry stabilizer, unlike the axis/diagonal neighbors which repeat).
func fullOrbitSite() (int, map[int]bool) {
	for s := 1; s < symmetry.SiteCount; s++ {
		orbit := map[int]bool{}
		for _, sym := range symmetry.All.Elements() {
			orbit[symmetry.Permute(sym, s)] = true
		}
		if len(orbit) == 8 {
			return s, orbit
		}
	}
	panic("vm: no site in the window has a full 8-element symmetry orbit")
}

func TestSeedRandomWalkDiffuseUnderAllSymmetryCoversWholeOrbit(t *testing.T) {
	site, orbit := fullOrbitSite()
	mod := &bytecode.Module{
		Symmetries: uint8(symmetry.All),
		Code: []bytecode.Instr{
			ins(bytecode.OpSwapSites, vArg(0), vArg(uint64(site))),
			ins(bytecode.OpExit),
		},
	}
	h := newFakeHost(7)
	seen := map[int]bool{}
	const trials = 10000
	for i := 0; i < trials; i++ {
		for s := range h.sites {
			h.sites[s] = atom.Atom{}
		}
		h.sites[0] = atom.New(55, value.Zero())
		for s := range orbit {
			h.sites[s] = atom.Empty()
		}

		e := newTestEngine(mod, h)
		if st := e.Run(0); st != StateExited {
			t.Fatalf("trial %d: state = %v, fault = %v", i, st, e.Fault())
		}
		if h.sites[0].TypeNumber() != 0 {
			t.Fatalf("trial %d: #0 did not empty out", i)
		}
		found := -1
		for s := range orbit {
			if h.sites[s].TypeNumber() == 55 {
				found = s
				break
			}
		}
		if found == -1 {
			t.Fatalf("trial %d: no neighbor received the atom", i)
		}
		seen[found] = true
	}
	for s := range orbit {
		if !seen[s] {
			t.Fatalf("orbit site #%d was never the swap target across %d trials", s, trials)
		}
	}
}

// --- Seed scenario 4: call/ret framing ---

func TestSeedCallRetFramingPreservesCallerStack(t *testing.T) {
	mod := &bytecode.Module{
		Code: []bytecode.Instr{
			ins(bytecode.OpPush, vArg(1)), // 0
			ins(bytecode.OpPush, vArg(2)), // 1
			ins(bytecode.OpPush, vArg(3)), // 2
			ins(bytecode.OpCall, vArg(5), vArg(2)), // 3 -> sum2
			ins(bytecode.OpExit),          // 4
			ins(bytecode.OpAdd, skipArg(), skipArg()), // 5 sum2:
			ins(bytecode.OpRet, vArg(1)),  // 6
		},
	}
	h := newFakeHost(1)
	e := newTestEngine(mod, h)
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	if e.stack.depth() != 2 {
		t.Fatalf("stack depth = %d, want 2", e.stack.depth())
	}
	if e.stack.slots[0].kind != kindValue || e.stack.slots[1].kind != kindValue {
		t.Fatalf("leaked control slot in final stack")
	}
	a, b := e.stack.slots[0].val, e.stack.slots[1].val
	if a.Uint64() != 1 || b.Uint64() != 5 {
		t.Fatalf("final stack = [%s, %s], want [1, 5]", a, b)
	}
}

// --- Seed scenario 5: field round-trip ---

func TestSeedFieldRoundTrip(t *testing.T) {
	fields := []bytecode.Field{{ID: 4, Offset: 10, Length: 4, Name: "f"}}
	mod := &bytecode.Module{
		Fields: fields,
		Code: []bytecode.Instr{
			ins(bytecode.OpPush, vArg(0xF)),
			ins(bytecode.OpSetField, vArg(4), skipArg()),
			ins(bytecode.OpGetField, vArg(4)),
			ins(bytecode.OpExit),
		},
	}
	h := newFakeHost(1)
	h.sites[0] = atom.New(3, value.Zero())

	e := newTestEngine(mod, h)
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	top, err := e.stack.peekValue()
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if top.Uint64() != 0xF {
		t.Fatalf("top = %#x, want 0xF", top.Uint64())
	}
	sel := atom.FieldSelector{Offset: 10, Length: 4}
	if sel.Get(h.sites[0]).Uint64() != 0xF {
		t.Fatalf("atom bits[10:14) = %#x, want 0xF", sel.Get(h.sites[0]).Uint64())
	}
}

func TestFieldWriteToHeaderFaults(t *testing.T) {
	mod := &bytecode.Module{
		Code: []bytecode.Instr{
			ins(bytecode.OpSetField, vArg(0), vArg(9)), // field id 0 = type, read-only
			ins(bytecode.OpExit),
		},
	}
	h := newFakeHost(1)
	h.sites[0] = atom.New(3, value.Zero())
	e := newTestEngine(mod, h)
	if st := e.Run(0); st != StateFaulted {
		t.Fatalf("state = %v, want FAULTED", st)
	}
	if e.Fault().Reason != ReasonInvalidFieldWrite {
		t.Fatalf("reason = %v, want ReasonInvalidFieldWrite", e.Fault().Reason)
	}
}

// --- Seed scenario 6: checksum ---

func TestSeedChecksumDetectsCorruption(t *testing.T) {
	good := atom.New(3, value.FromUint64(42))
	corrupted := atom.Atom{Bits: value.BitXor(good.Bits, value.Lsh(value.FromUint64(1), 71))}

	for _, tc := range []struct {
		name string
		bits value.Value
		want uint64
	}{
		{"well-formed", good.Bits, 0},
		{"corrupted", corrupted.Bits, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mod := &bytecode.Module{
				Code: []bytecode.Instr{
					ins(bytecode.OpPush, vRaw(tc.bits)),
					ins(bytecode.OpChecksum, skipArg()),
					ins(bytecode.OpExit),
				},
			}
			h := newFakeHost(1)
			e := newTestEngine(mod, h)
			if st := e.Run(0); st != StateExited {
				t.Fatalf("state = %v, fault = %v", st, e.Fault())
			}
			top, err := e.stack.peekValue()
			if err != nil {
				t.Fatalf("peek: %v", err)
			}
			if top.Uint64() != tc.want {
				t.Fatalf("checksum result = %d, want %d", top.Uint64(), tc.want)
			}
		})
	}
}

// --- Algebraic properties ---

func TestDivideByZeroFaults(t *testing.T) {
	mod := &bytecode.Module{
		Code: []bytecode.Instr{
			ins(bytecode.OpDiv, vArg(10), vArg(0)),
			ins(bytecode.OpExit),
		},
	}
	e := newTestEngine(mod, newFakeHost(1))
	if st := e.Run(0); st != StateFaulted {
		t.Fatalf("state = %v, want FAULTED", st)
	}
	if e.Fault().Reason != ReasonDivideByZero {
		t.Fatalf("reason = %v, want ReasonDivideByZero", e.Fault().Reason)
	}
}

// TestJumpRelativeOffsetIsRelativeToCurrentInstruction pins ip <- ip + delta:
// a delta of 0 re-targets the jumprelativeoffset instruction itself, not
// the one after it.
func TestJumpRelativeOffsetIsRelativeToCurrentInstruction(t *testing.T) {
	mod := &bytecode.Module{
		Code: []bytecode.Instr{
			ins(bytecode.OpJumpRelativeOffset, vSigned(2)), // ip 0 -> ip 2
			ins(bytecode.OpExit),                           // skipped
			ins(bytecode.OpPush, vArg(7)),                  // reached only when counted from ip 0
			ins(bytecode.OpJumpRelativeOffset, vSigned(1)), // ip 3 -> ip 4
			ins(bytecode.OpExit),
		},
	}
	e := newTestEngine(mod, newFakeHost(1))
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, want EXITED", st)
	}
	if e.stack.depth() != 1 {
		t.Fatalf("stack depth = %d, want 1 (the push at ip 2 ran)", e.stack.depth())
	}
}

func TestStackUnderflowFaults(t *testing.T) {
	mod := &bytecode.Module{
		Code: []bytecode.Instr{
			ins(bytecode.OpPop),
		},
	}
	e := newTestEngine(mod, newFakeHost(1))
	if st := e.Run(0); st != StateFaulted {
		t.Fatalf("state = %v, want FAULTED", st)
	}
	if e.Fault().Reason != ReasonStackUnderflow {
		t.Fatalf("reason = %v, want ReasonStackUnderflow", e.Fault().Reason)
	}
}

func TestBudgetSuspendsCleanly(t *testing.T) {
	mod := &bytecode.Module{
		Code: []bytecode.Instr{
			ins(bytecode.OpNop),
			ins(bytecode.OpNop),
			ins(bytecode.OpNop),
		},
	}
	e := newTestEngine(mod, newFakeHost(1))
	if st := e.Run(1); st != StateSuspendedBudget {
		t.Fatalf("state = %v, want SUSPENDED_BUDGET", st)
	}
	if e.ip != 1 {
		t.Fatalf("ip = %d, want 1 after one instruction", e.ip)
	}
}

func TestRestoreSymmetriesWithoutSaveUsesDefault(t *testing.T) {
	mod := &bytecode.Module{
		Symmetries: uint8(symmetry.R090L),
		Code: []bytecode.Instr{
			ins(bytecode.OpRestoreSymmetries),
			ins(bytecode.OpExit),
		},
	}
	e := newTestEngine(mod, newFakeHost(1))
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	if e.activeSym != symmetry.R090L {
		t.Fatalf("activeSym = %v, want declared default R090L", e.activeSym)
	}
}

func TestUseSymmetriesThenRestoreRoundTrips(t *testing.T) {
	mod := &bytecode.Module{
		Symmetries: uint8(symmetry.R000L),
		Code: []bytecode.Instr{
			ins(bytecode.OpUseSymmetries, vArg(uint64(symmetry.All))),
			ins(bytecode.OpRestoreSymmetries),
			ins(bytecode.OpExit),
		},
	}
	e := newTestEngine(mod, newFakeHost(1))
	if st := e.Run(0); st != StateExited {
		t.Fatalf("state = %v, fault = %v", st, e.Fault())
	}
	if e.activeSym != symmetry.R000L {
		t.Fatalf("activeSym = %v, want R000L restored", e.activeSym)
	}
}
