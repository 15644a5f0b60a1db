package resolve

import (
	"testing"

	"github.com/ewal-lang/ewal/pkg/asm/ast"
	"github.com/ewal-lang/ewal/pkg/asm/parser"
)

func noTypes(name string) (uint16, bool) { return 0, false }

func mustParse(t *testing.T, src string) *ast.File {
	f, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return f
}

func TestResolveSimpleProgram(t *testing.T) {
	src := ".name \"Res\"\n.symmetries ALL\nloop:\n  push1\n  jump loop\n"
	f := mustParse(t, src)
	prog, err := Resolve(f, 42, noTypes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if prog.Meta.Name != "Res" {
		t.Fatalf("name = %q", prog.Meta.Name)
	}
	if len(prog.Code) != 2 {
		t.Fatalf("code len = %d, want 2", len(prog.Code))
	}
	jump := prog.Code[1]
	if jump.Args[0].Value.Uint64() != 0 {
		t.Fatalf("jump target = %d, want 0 (loop label)", jump.Args[0].Value.Uint64())
	}
}

func TestResolveFieldDeclarationsAssignIDsFrom4(t *testing.T) {
	src := ".field \"heat\",0,8\n.field \"phase\",8,4\nnop\n"
	f := mustParse(t, src)
	prog, err := Resolve(f, 0, noTypes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ids := map[string]int{}
	for _, fd := range prog.Fields {
		ids[fd.Name] = fd.ID
	}
	if ids["heat"] != 4 || ids["phase"] != 5 {
		t.Fatalf("field ids = %+v, want heat=4 phase=5", ids)
	}
}

func TestResolveRejectsFieldCollidingWithBuiltin(t *testing.T) {
	src := ".field \"type\",0,8\nnop\n"
	f := mustParse(t, src)
	if _, err := Resolve(f, 0, noTypes); err == nil {
		t.Fatal("expected error for field name colliding with a builtin")
	}
}

func TestResolveGetSiteFieldExpandsToTwoSlots(t *testing.T) {
	src := ".field \"heat\",0,8\ngetsitefield #3$heat\n"
	f := mustParse(t, src)
	prog, err := Resolve(f, 0, noTypes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	args := prog.Code[0].Args
	if len(args) != 2 {
		t.Fatalf("args = %d, want 2", len(args))
	}
	if args[0].Value.Uint64() != 3 {
		t.Fatalf("site = %d, want 3", args[0].Value.Uint64())
	}
	if args[1].Value.Uint64() != 4 {
		t.Fatalf("field id = %d, want 4", args[1].Value.Uint64())
	}
}

func TestResolveAnonymousBitSliceFieldsAreDeduplicated(t *testing.T) {
	src := "getfield $9(62)\ngetfield $9(62)\n"
	f := mustParse(t, src)
	prog, err := Resolve(f, 0, noTypes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if prog.Code[0].Args[0].Value.Uint64() != prog.Code[1].Args[0].Value.Uint64() {
		t.Fatal("identical bit-slices should resolve to the same field id")
	}
}

func TestResolveUnknownFieldErrors(t *testing.T) {
	src := "getfield $nope\n"
	f := mustParse(t, src)
	if _, err := Resolve(f, 0, noTypes); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestResolveUnknownLabelErrors(t *testing.T) {
	src := "jump nowhere\n"
	f := mustParse(t, src)
	if _, err := Resolve(f, 0, noTypes); err == nil {
		t.Fatal("expected error for unresolved label")
	}
}

func TestResolveSkipArgument(t *testing.T) {
	src := "setregister r0,_\n"
	f := mustParse(t, src)
	prog, err := Resolve(f, 0, noTypes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !prog.Code[0].Args[1].Skip {
		t.Fatal("second arg should be Skip")
	}
}
