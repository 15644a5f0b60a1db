package bytecode

import "fmt"

// Opcode is one instruction in the VM's 8-bit opcode space.
type Opcode byte

const (
	// ------------------------------------------------------------------
	// Nullary / flow (0x00-0x0F)
	// ------------------------------------------------------------------
	OpNop  Opcode = 0x00
	OpExit Opcode = 0x01

	// ------------------------------------------------------------------
	// Stack manipulation (0x10-0x1F)
	// ------------------------------------------------------------------
	OpPush  Opcode = 0x10 // push immediate/const-pool value
	OpPop   Opcode = 0x11
	OpDup   Opcode = 0x12
	OpOver  Opcode = 0x13
	OpSwap  Opcode = 0x14
	OpRot   Opcode = 0x15
	OpPush0 Opcode = 0x20 // OpPush0..OpPush40 occupy 0x20-0x48

	// ------------------------------------------------------------------
	// Register / site / parameter / type transfer (0x50-0x5F)
	// ------------------------------------------------------------------
	OpGetRegister  Opcode = 0x50
	OpSetRegister  Opcode = 0x51
	OpGetSite      Opcode = 0x52
	OpSetSite      Opcode = 0x53
	OpSwapSites    Opcode = 0x54
	OpGetParameter Opcode = 0x55
	OpGetType      Opcode = 0x56

	// ------------------------------------------------------------------
	// Field accessors (0x60-0x6F)
	// ------------------------------------------------------------------
	OpGetField           Opcode = 0x60
	OpGetSiteField       Opcode = 0x61
	OpGetSignedField     Opcode = 0x62
	OpGetSignedSiteField Opcode = 0x63
	OpSetField           Opcode = 0x64
	OpSetSiteField       Opcode = 0x65

	// ------------------------------------------------------------------
	// Arithmetic (0x70-0x7F)
	// ------------------------------------------------------------------
	OpAdd Opcode = 0x70
	OpSub Opcode = 0x71
	OpMul Opcode = 0x72
	OpDiv Opcode = 0x73
	OpMod Opcode = 0x74
	OpNeg Opcode = 0x75

	// ------------------------------------------------------------------
	// Comparison & logic (0x80-0x8F)
	// ------------------------------------------------------------------
	OpLess           Opcode = 0x80
	OpLessEqual      Opcode = 0x81
	OpEqual          Opcode = 0x82
	OpOr             Opcode = 0x83
	OpAnd            Opcode = 0x84
	OpXor            Opcode = 0x85
	OpBitAnd         Opcode = 0x86
	OpBitOr          Opcode = 0x87
	OpBitXor         Opcode = 0x88
	OpBitNot         Opcode = 0x89
	OpBitCount       Opcode = 0x8A
	OpBitScanForward Opcode = 0x8B
	OpBitScanReverse Opcode = 0x8C

	// ------------------------------------------------------------------
	// Shifts (0x90-0x9F)
	// ------------------------------------------------------------------
	OpLShift Opcode = 0x90
	OpRShift Opcode = 0x91

	// ------------------------------------------------------------------
	// Atom ops (0xA0-0xAF)
	// ------------------------------------------------------------------
	OpChecksum Opcode = 0xA0
	OpScan     Opcode = 0xA1

	// ------------------------------------------------------------------
	// Symmetry (0xB0-0xBF)
	// ------------------------------------------------------------------
	OpUseSymmetries     Opcode = 0xB0
	OpRestoreSymmetries Opcode = 0xB1
	OpSaveSymmetries    Opcode = 0xB2

	// ------------------------------------------------------------------
	// Control flow (0xC0-0xCF)
	// ------------------------------------------------------------------
	OpJump               Opcode = 0xC0
	OpJumpZero           Opcode = 0xC1
	OpJumpNonZero        Opcode = 0xC2
	OpJumpRelativeOffset Opcode = 0xC3

	// ------------------------------------------------------------------
	// Calls (0xD0-0xDF)
	// ------------------------------------------------------------------
	OpCall Opcode = 0xD0
	OpRet  Opcode = 0xD1

	// ------------------------------------------------------------------
	// Paint (0xE0-0xEF)
	// ------------------------------------------------------------------
	OpGetPaint Opcode = 0xE0
	OpSetPaint Opcode = 0xE1
)

// OpcodeInfo carries metadata about an opcode's operand slots, used by the
// encoder, the validator, and the disassembler.
type OpcodeInfo struct {
	Name     string
	NumArgs  int // number of packed-argument slots (see CODE INDEX); 0 for fixed-literal ops like push0..push40
	IsJump   bool
	IsCall   bool
	IsReturn bool
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:  {"nop", 0, false, false, false},
	OpExit: {"exit", 0, false, false, true},

	OpPush: {"push", 1, false, false, false},
	OpPop:  {"pop", 0, false, false, false},
	OpDup:  {"dup", 0, false, false, false},
	OpOver: {"over", 0, false, false, false},
	OpSwap: {"swap", 0, false, false, false},
	OpRot:  {"rot", 0, false, false, false},

	OpGetRegister:  {"getregister", 1, false, false, false},
	OpSetRegister:  {"setregister", 2, false, false, false},
	OpGetSite:      {"getsite", 1, false, false, false},
	OpSetSite:      {"setsite", 2, false, false, false},
	OpSwapSites:    {"swapsites", 2, false, false, false},
	OpGetParameter: {"getparameter", 1, false, false, false},
	OpGetType:      {"gettype", 1, false, false, false},

	OpGetField:           {"getfield", 1, false, false, false},
	OpGetSiteField:       {"getsitefield", 2, false, false, false},
	OpGetSignedField:     {"getsignedfield", 1, false, false, false},
	OpGetSignedSiteField: {"getsignedsitefield", 2, false, false, false},
	OpSetField:           {"setfield", 2, false, false, false},
	OpSetSiteField:       {"setsitefield", 3, false, false, false},

	OpAdd: {"add", 2, false, false, false},
	OpSub: {"sub", 2, false, false, false},
	OpMul: {"mul", 2, false, false, false},
	OpDiv: {"div", 2, false, false, false},
	OpMod: {"mod", 2, false, false, false},
	OpNeg: {"neg", 1, false, false, false},

	OpLess:           {"less", 2, false, false, false},
	OpLessEqual:      {"lessequal", 2, false, false, false},
	OpEqual:          {"equal", 2, false, false, false},
	OpOr:             {"or", 2, false, false, false},
	OpAnd:            {"and", 2, false, false, false},
	OpXor:            {"xor", 2, false, false, false},
	OpBitAnd:         {"bitand", 2, false, false, false},
	OpBitOr:          {"bitor", 2, false, false, false},
	OpBitXor:         {"bitxor", 2, false, false, false},
	OpBitNot:         {"bitnot", 1, false, false, false},
	OpBitCount:       {"bitcount", 1, false, false, false},
	OpBitScanForward: {"bitscanforward", 1, false, false, false},
	OpBitScanReverse: {"bitscanreverse", 1, false, false, false},

	OpLShift: {"lshift", 2, false, false, false},
	OpRShift: {"rshift", 2, false, false, false},

	OpChecksum: {"checksum", 1, false, false, false},
	OpScan:     {"scan", 1, false, false, false},

	OpUseSymmetries:     {"usesymmetries", 1, false, false, false},
	OpRestoreSymmetries: {"restoresymmetries", 0, false, false, false},
	OpSaveSymmetries:    {"savesymmetries", 0, false, false, false},

	OpJump:               {"jump", 1, true, false, false},
	OpJumpZero:           {"jumpzero", 2, true, false, false},
	OpJumpNonZero:        {"jumpnonzero", 2, true, false, false},
	OpJumpRelativeOffset: {"jumprelativeoffset", 1, false, false, false},

	OpCall: {"call", 2, false, true, false},
	OpRet:  {"ret", 1, false, false, true},

	OpGetPaint: {"getpaint", 0, false, false, false},
	OpSetPaint: {"setpaint", 1, false, false, false},
}

func init() {
	for i := 0; i <= 40; i++ {
		op := Opcode(int(OpPush0) + i)
		opcodeInfoTable[op] = OpcodeInfo{Name: fmt.Sprintf("push%d", i)}
	}
}

// Info returns metadata for op; unknown opcodes report a placeholder name
// so callers (notably the disassembler) degrade gracefully.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

func (op Opcode) String() string { return op.Info().Name }

// NumArgs is the number of packed-argument slots this opcode consumes from
// the code index.
func (op Opcode) NumArgs() int { return op.Info().NumArgs }

// OpcodeByName maps a mnemonic, as written in source, to its Opcode.
// push0..push40 are included.
func OpcodeByName(name string) (Opcode, bool) {
	for op, info := range opcodeInfoTable {
		if info.Name == name {
			return op, true
		}
	}
	if name == "popsymmetries" {
		return OpRestoreSymmetries, true
	}
	return 0, false
}

// IsKnown reports whether op has registered metadata.
func (op Opcode) IsKnown() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// Mnemonics lists every instruction mnemonic recognized by OpcodeByName,
// including the push0..push40 family and the popsymmetries alias. Used by
// tooling (completion, hover) that wants the full vocabulary rather than
// one opcode at a time.
func Mnemonics() []string {
	names := make([]string, 0, len(opcodeInfoTable)+1)
	for _, info := range opcodeInfoTable {
		names = append(names, info.Name)
	}
	names = append(names, "popsymmetries")
	return names
}
