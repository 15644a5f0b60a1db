package bytecode

import (
	"testing"

	"github.com/ewal-lang/ewal/pkg/asm/parser"
	"github.com/ewal-lang/ewal/pkg/asm/resolve"
	"github.com/ewal-lang/ewal/pkg/value"
)

func compile(t *testing.T, src string) *Module {
	t.Helper()
	f, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := resolve.Resolve(f, 7, func(string) (uint16, bool) { return 0, false })
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	data, err := Encode(prog, "res-1.0")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mod, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return mod
}

func TestRoundTripPreservesHeaderAndBuildTag(t *testing.T) {
	mod := compile(t, ".name \"Res\"\n.symmetries ALL\nnop\n")
	if mod.Name != "Res" {
		t.Fatalf("name = %q", mod.Name)
	}
	if mod.BuildTag != "res-1.0" {
		t.Fatalf("build tag = %q", mod.BuildTag)
	}
	if mod.SelfTypeNum != 7 {
		t.Fatalf("self type num = %d", mod.SelfTypeNum)
	}
	if mod.Symmetries != 0xFF {
		t.Fatalf("symmetries = %x, want 0xFF", mod.Symmetries)
	}
}

func TestRoundTripInlineSmallConstant(t *testing.T) {
	mod := compile(t, "push 5\n")
	if len(mod.Code) != 1 || len(mod.Code[0].Args) != 1 {
		t.Fatalf("code = %+v", mod.Code)
	}
	if mod.Code[0].Args[0].Value.Uint64() != 5 {
		t.Fatalf("push arg = %v", mod.Code[0].Args[0].Value)
	}
}

func TestRoundTripSignedSmallConstant(t *testing.T) {
	mod := compile(t, "push -5\n")
	got := mod.Code[0].Args[0].Value
	if got.Big().Int64() != -5 {
		t.Fatalf("push arg = %v, want -5", got.Big())
	}
}

func TestRoundTripLargeConstantSpillsToPool(t *testing.T) {
	mod := compile(t, "push 0xFFFFFFFFFFFFFFFF\n")
	if len(mod.Pool) != 1 {
		t.Fatalf("pool size = %d, want 1", len(mod.Pool))
	}
	want := value.FromUint64(0xFFFFFFFFFFFFFFFF)
	if !value.Equal(mod.Code[0].Args[0].Value, want) {
		t.Fatalf("push arg = %v, want %v", mod.Code[0].Args[0].Value, want)
	}
}

func TestRoundTripSkipArgument(t *testing.T) {
	mod := compile(t, "setregister r0,_\n")
	if !mod.Code[0].Args[1].Skip {
		t.Fatal("second arg should decode as Skip")
	}
}

func TestRoundTripFieldAndParameterTables(t *testing.T) {
	mod := compile(t, ".field \"heat\",0,8\n.parameter \"threshold\",10\nnop\n")
	if len(mod.Fields) != 1 || mod.Fields[0].Name != "heat" || mod.Fields[0].ID != 4 {
		t.Fatalf("fields = %+v", mod.Fields)
	}
	if len(mod.Parameters) != 1 || mod.Parameters[0].Name != "threshold" {
		t.Fatalf("parameters = %+v", mod.Parameters)
	}
	if mod.Parameters[0].Default.Uint64() != 10 {
		t.Fatalf("default = %v", mod.Parameters[0].Default)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	if _, err := Decode([]byte{0, 0, 0, 0}); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeRejectsOutOfRangeJump(t *testing.T) {
	f, err := parser.Parse("jumplabel:\n  jump jumplabel\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prog, err := resolve.Resolve(f, 0, func(string) (uint16, bool) { return 0, false })
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	data, err := Encode(prog, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Corrupt the jump target in place: flip the inline operand byte for the
	// single instruction so it points past the end of a one-instruction
	// program. The operand is the last byte of the code section.
	data[len(data)-1] = 0x05
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for out-of-range jump target")
	}
}

// handCraft encodes a minimal one-instruction program without going through
// the parser or resolver, so a test can produce operand values the
// assembler itself would never emit (the scenario this validation guards
// against: bytecode that reached Decode by some other path).
func handCraft(t *testing.T, op Opcode, args ...uint64) *Module {
	t.Helper()
	prog := &resolve.Program{
		Code: []resolve.Instr{{Op: op}},
	}
	for _, a := range args {
		prog.Code[0].Args = append(prog.Code[0].Args, resolve.ResolvedArg{Value: value.FromUint64(a)})
	}
	data, err := Encode(prog, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mod, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return mod
}

func TestDecodeRejectsOutOfRangeRegister(t *testing.T) {
	prog := &resolve.Program{
		Code: []resolve.Instr{{Op: OpGetRegister, Args: []resolve.ResolvedArg{{Value: value.FromUint64(99)}}}},
	}
	data, err := Encode(prog, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for out-of-range register id")
	}
}

func TestDecodeRejectsOutOfRangeSite(t *testing.T) {
	prog := &resolve.Program{
		Code: []resolve.Instr{{Op: OpGetSite, Args: []resolve.ResolvedArg{{Value: value.FromUint64(41)}}}},
	}
	data, err := Encode(prog, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for out-of-range site id")
	}
}

func TestDecodeRejectsUndeclaredField(t *testing.T) {
	prog := &resolve.Program{
		Code: []resolve.Instr{{Op: OpGetField, Args: []resolve.ResolvedArg{{Value: value.FromUint64(60)}}}},
	}
	data, err := Encode(prog, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for undeclared field id")
	}
}

func TestDecodeAcceptsBuiltinAndDeclaredFields(t *testing.T) {
	mod := handCraft(t, OpGetField, 3) // builtin "data" field
	if len(mod.Code) != 1 {
		t.Fatalf("expected one decoded instruction, got %d", len(mod.Code))
	}

	prog := &resolve.Program{
		Fields: []resolve.FieldDecl{{ID: 4, Name: "heat"}},
		Code:   []resolve.Instr{{Op: OpGetField, Args: []resolve.ResolvedArg{{Value: value.FromUint64(4)}}}},
	}
	data, err := Encode(prog, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err != nil {
		t.Fatalf("expected declared field id to decode cleanly, got %v", err)
	}
}

func TestDecodeAllowsSkipArgumentRegardlessOfRange(t *testing.T) {
	prog := &resolve.Program{
		Code: []resolve.Instr{{Op: OpSetRegister, Args: []resolve.ResolvedArg{
			{Skip: true},
			{Value: value.FromUint64(1)},
		}}},
	}
	data, err := Encode(prog, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err != nil {
		t.Fatalf("skip-flagged register operand must not be range-checked at load time: %v", err)
	}
}
