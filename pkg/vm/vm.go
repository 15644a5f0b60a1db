package vm

import (
	"github.com/ewal-lang/ewal/pkg/atom"
	"github.com/ewal-lang/ewal/pkg/bytecode"
	"github.com/ewal-lang/ewal/pkg/symmetry"
	"github.com/ewal-lang/ewal/pkg/value"
	"github.com/ewal-lang/ewal/pkg/window"
)

// State is where one activation sits in the lifecycle of a single run.
type State uint8

const (
	StateLoading State = iota
	StateReady
	StateRunning
	StateSuspendedBudget
	StateExited
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateSuspendedBudget:
		return "SUSPENDED_BUDGET"
	case StateExited:
		return "EXITED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

type fieldEntry struct {
	selector atom.FieldSelector
	readOnly bool
}

// Engine executes one compiled Module against one event window activation.
// An Engine is single-use: construct a fresh one per activation with New.
type Engine struct {
	mod   *bytecode.Module
	win   *window.Window
	regs  *Registers
	stack *stack

	ip        int
	frameBase int // stack index of the current frame's FrameMark slot; -1 if no open frame

	activeSym  symmetry.Symmetry
	defaultSym symmetry.Symmetry

	fields map[uint64]fieldEntry

	state State
	fault *Fault
}

// New constructs an Engine ready to run mod against win, using regs as the
// origin's persistent register file (mutated in place by the run).
func New(mod *bytecode.Module, win *window.Window, regs *Registers) *Engine {
	e := &Engine{
		mod:       mod,
		win:       win,
		regs:      regs,
		stack:     newStack(),
		frameBase: -1,
		fields:    map[uint64]fieldEntry{},
		state:     StateReady,
	}
	e.fields[0] = fieldEntry{atom.Type, true}
	e.fields[1] = fieldEntry{atom.Checksum, true}
	e.fields[2] = fieldEntry{atom.Header, true}
	e.fields[3] = fieldEntry{atom.Data, false}
	for _, f := range mod.Fields {
		e.fields[uint64(f.ID)] = fieldEntry{atom.FieldSelector{Offset: f.Offset, Length: f.Length}, false}
	}

	e.defaultSym = symmetry.Symmetry(mod.Symmetries)
	if e.defaultSym == symmetry.None {
		e.defaultSym = symmetry.R000L
	}
	e.activeSym = e.defaultSym
	return e
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Fault returns the fault that ended the run, or nil.
func (e *Engine) Fault() *Fault { return e.fault }

// Run executes instructions until exit, budget exhaustion, or a fault.
// budget <= 0 means unlimited. Returns the final state.
func (e *Engine) Run(budget int64) State {
	e.state = StateRunning
	unlimited := budget <= 0

	for {
		if !unlimited {
			if budget == 0 {
				e.state = StateSuspendedBudget
				return e.state
			}
			budget--
		}
		if e.ip >= len(e.mod.Code) {
			e.state = StateExited
			return e.state
		}

		exit, err := e.step()
		if err != nil {
			f, ok := err.(*Fault)
			if !ok {
				f = &Fault{Reason: ReasonUnknownOpcode}
			}
			f.IP = e.ip
			if e.ip < len(e.mod.Code) {
				f.Opcode = e.mod.Code[e.ip].Op
			}
			if top, tErr := e.stack.peekValue(); tErr == nil {
				f.HasTop = true
				f.TopBits = top.Bytes12()
			}
			e.fault = f
			e.state = StateFaulted
			return e.state
		}
		if exit {
			e.state = StateExited
			return e.state
		}
	}
}

// operand resolves one argument: its packed immediate, or the top Value
// slot popped off the stack if the argument was written as `_`.
func (e *Engine) operand(args []bytecode.DecodedArg, slot int) (value.Value, error) {
	a := args[slot]
	if a.Skip {
		return e.stack.popValue()
	}
	return a.Value, nil
}

// sampleTransform draws one concrete dihedral transform from the active
// symmetry set. Per-instruction, not per-dereference: callers cache the
// result across every site reference within one instruction.
func (e *Engine) sampleTransform() symmetry.Symmetry {
	elems := e.activeSym.Elements()
	if len(elems) == 0 {
		return symmetry.R000L
	}
	if len(elems) == 1 {
		return elems[0]
	}
	n := uint64(len(elems))
	idx := e.win.Host.Rand96().Uint64() % n
	return elems[idx]
}

func (e *Engine) fieldSelector(id uint64) (fieldEntry, error) {
	f, ok := e.fields[id]
	if !ok {
		return fieldEntry{}, &Fault{Reason: ReasonInvalidField}
	}
	return f, nil
}

// step executes the instruction at e.ip, advancing e.ip unless the
// instruction is a jump/call/ret (which sets it directly) or exit (which
// reports done without touching it).
func (e *Engine) step() (done bool, err error) {
	inst := e.mod.Code[e.ip]
	jumped := false

	var sampled symmetry.Symmetry
	haveSample := false
	resolveSite := func(raw uint64) (int, error) {
		if raw > 40 {
			return 0, &Fault{Reason: ReasonInvalidSite}
		}
		if !haveSample {
			sampled = e.sampleTransform()
			haveSample = true
		}
		return symmetry.Permute(sampled, int(raw)), nil
	}

	switch inst.Op {
	case bytecode.OpNop:

	case bytecode.OpExit:
		return true, nil

	case bytecode.OpPush:
		v, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(v); err != nil {
			return false, err
		}

	case bytecode.OpPop:
		if _, err := e.stack.popValue(); err != nil {
			return false, err
		}

	case bytecode.OpDup:
		v, err := e.stack.peekValue()
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(v); err != nil {
			return false, err
		}

	case bytecode.OpOver:
		b, err := e.stack.popValue()
		if err != nil {
			return false, err
		}
		a, err := e.stack.popValue()
		if err != nil {
			return false, err
		}
		if err := e.pushAll(a, b, a); err != nil {
			return false, err
		}

	case bytecode.OpSwap:
		b, err := e.stack.popValue()
		if err != nil {
			return false, err
		}
		a, err := e.stack.popValue()
		if err != nil {
			return false, err
		}
		if err := e.pushAll(b, a); err != nil {
			return false, err
		}

	case bytecode.OpRot:
		c, err := e.stack.popValue()
		if err != nil {
			return false, err
		}
		b, err := e.stack.popValue()
		if err != nil {
			return false, err
		}
		a, err := e.stack.popValue()
		if err != nil {
			return false, err
		}
		if err := e.pushAll(b, c, a); err != nil {
			return false, err
		}

	case bytecode.OpGetRegister:
		n, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		v, err := e.readRegister(int(n.Uint64()))
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(v); err != nil {
			return false, err
		}

	case bytecode.OpSetRegister:
		n, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		v, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		idx := int(n.Uint64())
		if idx == randomRegisterIndex || !e.regs.Set(idx, v) {
			return false, &Fault{Reason: ReasonInvalidRegister}
		}

	case bytecode.OpGetSite:
		s, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		addr, err := resolveSite(s.Uint64())
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(e.win.Host.ReadSite(addr).Bits); err != nil {
			return false, err
		}

	case bytecode.OpSetSite:
		s, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		v, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		addr, err := resolveSite(s.Uint64())
		if err != nil {
			return false, err
		}
		e.win.Host.WriteSite(addr, atom.Atom{Bits: v})

	case bytecode.OpSwapSites:
		s1, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		s2, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		a1, err := resolveSite(s1.Uint64())
		if err != nil {
			return false, err
		}
		a2, err := resolveSite(s2.Uint64())
		if err != nil {
			return false, err
		}
		v1 := e.win.Host.ReadSite(a1)
		v2 := e.win.Host.ReadSite(a2)
		e.win.Host.WriteSite(a1, v2)
		e.win.Host.WriteSite(a2, v1)

	case bytecode.OpGetParameter, bytecode.OpGetType:
		v, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(v); err != nil {
			return false, err
		}

	case bytecode.OpGetField, bytecode.OpGetSignedField:
		fid, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		fe, err := e.fieldSelector(fid.Uint64())
		if err != nil {
			return false, err
		}
		origin := e.win.Host.ReadSite(0)
		var v value.Value
		if inst.Op == bytecode.OpGetSignedField {
			v = fe.selector.GetSigned(origin)
		} else {
			v = fe.selector.Get(origin)
		}
		if err := e.stack.pushValue(v); err != nil {
			return false, err
		}

	case bytecode.OpGetSiteField, bytecode.OpGetSignedSiteField:
		s, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		fid, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		fe, err := e.fieldSelector(fid.Uint64())
		if err != nil {
			return false, err
		}
		addr, err := resolveSite(s.Uint64())
		if err != nil {
			return false, err
		}
		site := e.win.Host.ReadSite(addr)
		var v value.Value
		if inst.Op == bytecode.OpGetSignedSiteField {
			v = fe.selector.GetSigned(site)
		} else {
			v = fe.selector.Get(site)
		}
		if err := e.stack.pushValue(v); err != nil {
			return false, err
		}

	case bytecode.OpSetField:
		fid, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		v, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		fe, err := e.fieldSelector(fid.Uint64())
		if err != nil {
			return false, err
		}
		if fe.readOnly {
			return false, &Fault{Reason: ReasonInvalidFieldWrite}
		}
		origin := e.win.Host.ReadSite(0)
		e.win.Host.WriteSite(0, fe.selector.Set(origin, v))

	case bytecode.OpSetSiteField:
		s, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		fid, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		v, err := e.operand(inst.Args, 2)
		if err != nil {
			return false, err
		}
		fe, err := e.fieldSelector(fid.Uint64())
		if err != nil {
			return false, err
		}
		if fe.readOnly {
			return false, &Fault{Reason: ReasonInvalidFieldWrite}
		}
		addr, err := resolveSite(s.Uint64())
		if err != nil {
			return false, err
		}
		site := e.win.Host.ReadSite(addr)
		e.win.Host.WriteSite(addr, fe.selector.Set(site, v))

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul:
		a, b, err := e.binaryOperands(inst.Args)
		if err != nil {
			return false, err
		}
		var r value.Value
		switch inst.Op {
		case bytecode.OpAdd:
			r = value.Add(a, b)
		case bytecode.OpSub:
			r = value.Sub(a, b)
		case bytecode.OpMul:
			r = value.Mul(a, b)
		}
		if err := e.stack.pushValue(r); err != nil {
			return false, err
		}

	case bytecode.OpDiv, bytecode.OpMod:
		a, b, err := e.binaryOperands(inst.Args)
		if err != nil {
			return false, err
		}
		q, m, ok := value.DivMod(a, b)
		if !ok {
			return false, &Fault{Reason: ReasonDivideByZero}
		}
		r := q
		if inst.Op == bytecode.OpMod {
			r = m
		}
		if err := e.stack.pushValue(r); err != nil {
			return false, err
		}

	case bytecode.OpNeg:
		a, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(value.Neg(a)); err != nil {
			return false, err
		}

	case bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpEqual:
		a, b, err := e.binaryOperands(inst.Args)
		if err != nil {
			return false, err
		}
		var r bool
		switch inst.Op {
		case bytecode.OpLess:
			r = value.Less(a, b)
		case bytecode.OpLessEqual:
			r = value.LessEqual(a, b)
		case bytecode.OpEqual:
			r = value.Equal(a, b)
		}
		if err := e.stack.pushValue(boolValue(r)); err != nil {
			return false, err
		}

	case bytecode.OpOr, bytecode.OpAnd, bytecode.OpXor:
		a, b, err := e.binaryOperands(inst.Args)
		if err != nil {
			return false, err
		}
		var r value.Value
		switch inst.Op {
		case bytecode.OpOr:
			r = value.LogicalOr(a, b)
		case bytecode.OpAnd:
			r = value.LogicalAnd(a, b)
		case bytecode.OpXor:
			r = value.LogicalXor(a, b)
		}
		if err := e.stack.pushValue(r); err != nil {
			return false, err
		}

	case bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor:
		a, b, err := e.binaryOperands(inst.Args)
		if err != nil {
			return false, err
		}
		var r value.Value
		switch inst.Op {
		case bytecode.OpBitAnd:
			r = value.BitAnd(a, b)
		case bytecode.OpBitOr:
			r = value.BitOr(a, b)
		case bytecode.OpBitXor:
			r = value.BitXor(a, b)
		}
		if err := e.stack.pushValue(r); err != nil {
			return false, err
		}

	case bytecode.OpBitNot:
		a, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(value.BitNot(a)); err != nil {
			return false, err
		}

	case bytecode.OpBitCount:
		a, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(value.FromUint64(uint64(a.BitCount()))); err != nil {
			return false, err
		}

	case bytecode.OpBitScanForward:
		a, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(value.FromUint64(uint64(a.BitScanForward()))); err != nil {
			return false, err
		}

	case bytecode.OpBitScanReverse:
		a, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.stack.pushValue(value.FromUint64(uint64(a.BitScanReverse()))); err != nil {
			return false, err
		}

	case bytecode.OpLShift, bytecode.OpRShift:
		a, b, err := e.binaryOperands(inst.Args)
		if err != nil {
			return false, err
		}
		var r value.Value
		if inst.Op == bytecode.OpLShift {
			r = value.Lsh(a, uint(b.Uint64()))
		} else {
			r = value.Rsh(a, uint(b.Uint64()))
		}
		if err := e.stack.pushValue(r); err != nil {
			return false, err
		}

	case bytecode.OpChecksum:
		a, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		at := atom.Atom{Bits: a}
		if err := e.stack.pushValue(boolValue(!at.ChecksumValid())); err != nil {
			return false, err
		}

	case bytecode.OpScan:
		t, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		want := uint16(t.Uint64())
		var mask uint64
		for s := 0; s < symmetry.SiteCount; s++ {
			addr, err := resolveSite(uint64(s))
			if err != nil {
				return false, err
			}
			if e.win.Host.ReadSite(addr).TypeNumber() == want {
				mask |= 1 << uint(s)
			}
		}
		if err := e.stack.pushValue(value.FromUint64(mask)); err != nil {
			return false, err
		}

	case bytecode.OpUseSymmetries:
		setVal, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		sym := symmetry.Symmetry(setVal.Uint64())
		if sym == symmetry.None {
			return false, &Fault{Reason: ReasonInvalidSymmetrySet}
		}
		if err := e.stack.push(kindSymmetrySave, value.FromUint64(uint64(e.activeSym))); err != nil {
			return false, err
		}
		e.activeSym = sym

	case bytecode.OpRestoreSymmetries:
		if top, ok := e.stack.topKind(); ok && top == kindSymmetrySave {
			s, err := e.stack.popKind(kindSymmetrySave)
			if err != nil {
				return false, err
			}
			e.activeSym = symmetry.Symmetry(s.Uint64())
		} else {
			e.activeSym = e.defaultSym
		}

	case bytecode.OpSaveSymmetries:
		if err := e.stack.pushValue(value.FromUint64(uint64(e.activeSym))); err != nil {
			return false, err
		}

	case bytecode.OpJump:
		target, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		if err := e.jumpTo(int(target.Uint64())); err != nil {
			return false, err
		}
		jumped = true

	case bytecode.OpJumpZero, bytecode.OpJumpNonZero:
		v, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		target, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		take := !v.Truthy()
		if inst.Op == bytecode.OpJumpNonZero {
			take = v.Truthy()
		}
		if take {
			if err := e.jumpTo(int(target.Uint64())); err != nil {
				return false, err
			}
			jumped = true
		}

	case bytecode.OpJumpRelativeOffset:
		delta, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		target := e.ip + int(delta.Big().Int64())
		if err := e.jumpTo(target); err != nil {
			return false, err
		}
		jumped = true

	case bytecode.OpCall:
		target, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		nVal, err := e.operand(inst.Args, 1)
		if err != nil {
			return false, err
		}
		n := int(nVal.Uint64())
		args := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, err := e.stack.popValue()
			if err != nil {
				return false, err
			}
			args[i] = v
		}
		if err := e.stack.push(kindFrameMark, value.FromUint64(uint64(e.frameBase+1))); err != nil {
			return false, err
		}
		returnIP := e.ip + 1
		if err := e.stack.push(kindReturnAddr, value.FromUint64(uint64(returnIP))); err != nil {
			return false, err
		}
		e.frameBase = e.stack.depth() - 2
		for _, v := range args {
			if err := e.stack.pushValue(v); err != nil {
				return false, err
			}
		}
		if err := e.jumpTo(int(target.Uint64())); err != nil {
			return false, err
		}
		jumped = true

	case bytecode.OpRet:
		nVal, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		n := int(nVal.Uint64())
		vals := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, err := e.stack.popValue()
			if err != nil {
				return false, err
			}
			vals[i] = v
		}
		ra, err := e.stack.popKind(kindReturnAddr)
		if err != nil {
			return false, err
		}
		fm, err := e.stack.popKind(kindFrameMark)
		if err != nil {
			return false, err
		}
		e.frameBase = int(fm.Uint64()) - 1
		if err := e.jumpTo(int(ra.Uint64())); err != nil {
			return false, err
		}
		for _, v := range vals {
			if err := e.stack.pushValue(v); err != nil {
				return false, err
			}
		}
		jumped = true

	case bytecode.OpGetPaint:
		rgba, ok := e.win.Host.GetPaint()
		if !ok {
			rgba = 0
		}
		if err := e.stack.pushValue(value.FromUint64(uint64(rgba))); err != nil {
			return false, err
		}

	case bytecode.OpSetPaint:
		v, err := e.operand(inst.Args, 0)
		if err != nil {
			return false, err
		}
		e.win.Host.SetPaint(uint32(v.Uint64()))

	default:
		if inst.Op >= bytecode.OpPush0 {
			n := int(inst.Op) - int(bytecode.OpPush0)
			if n >= 0 && n <= 40 {
				if err := e.stack.pushValue(value.FromUint64(uint64(n))); err != nil {
					return false, err
				}
				break
			}
		}
		return false, &Fault{Reason: ReasonUnknownOpcode}
	}

	if !jumped {
		e.ip++
	}
	return false, nil
}

// jumpTo validates and applies an absolute jump target. The decoder already
// validated every compile-time target at load time; this guards the rarer
// case of a target computed at run time (jumprelativeoffset with a popped
// delta, or a call/ret target read via `_`).
func (e *Engine) jumpTo(target int) error {
	if target < 0 || target >= len(e.mod.Code) {
		return &Fault{Reason: ReasonJumpTargetInvalid}
	}
	e.ip = target
	return nil
}

func (e *Engine) binaryOperands(args []bytecode.DecodedArg) (value.Value, value.Value, error) {
	a, err := e.operand(args, 0)
	if err != nil {
		return value.Value{}, value.Value{}, err
	}
	b, err := e.operand(args, 1)
	if err != nil {
		return value.Value{}, value.Value{}, err
	}
	return a, b, nil
}

func (e *Engine) pushAll(vs ...value.Value) error {
	for _, v := range vs {
		if err := e.stack.pushValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) readRegister(idx int) (value.Value, error) {
	if idx == randomRegisterIndex {
		return e.win.Host.Rand96(), nil
	}
	v, ok := e.regs.Get(idx)
	if !ok {
		return value.Value{}, &Fault{Reason: ReasonInvalidRegister}
	}
	return v, nil
}

func boolValue(b bool) value.Value {
	if b {
		return value.FromUint64(1)
	}
	return value.FromUint64(0)
}
