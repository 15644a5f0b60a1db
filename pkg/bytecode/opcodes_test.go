package bytecode

import (
	"strconv"
	"testing"
)

func TestOpcodeByNameRoundTrips(t *testing.T) {
	for _, name := range []string{"nop", "push", "getfield", "call", "push17"} {
		op, ok := OpcodeByName(name)
		if !ok {
			t.Fatalf("OpcodeByName(%q) not found", name)
		}
		if op.String() != name {
			t.Fatalf("OpcodeByName(%q).String() = %q", name, op.String())
		}
	}
}

func TestPopSymmetriesAliasesRestoreSymmetries(t *testing.T) {
	op, ok := OpcodeByName("popsymmetries")
	if !ok || op != OpRestoreSymmetries {
		t.Fatalf("popsymmetries should alias restoresymmetries, got %v,%v", op, ok)
	}
}

func TestUnknownOpcodeDegradesGracefully(t *testing.T) {
	op := Opcode(0xFF)
	if op.IsKnown() {
		t.Fatal("0xFF should not be a known opcode")
	}
	if op.String() == "" {
		t.Fatal("unknown opcode should still render a name")
	}
}

func TestPush0Through40(t *testing.T) {
	for i := 0; i <= 40; i++ {
		op, ok := OpcodeByName(pushName(i))
		if !ok {
			t.Fatalf("push%d not registered", i)
		}
		if int(op)-int(OpPush0) != i {
			t.Fatalf("push%d has wrong opcode offset", i)
		}
	}
}

func pushName(i int) string {
	return "push" + strconv.Itoa(i)
}
