package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ewal-lang/ewal/pkg/value"
)

// Field is one decoded field-table entry.
type Field struct {
	ID     int
	Offset uint8
	Length uint8
	Name   string
}

// Parameter is one decoded parameter-table entry.
type Parameter struct {
	Name    string
	Default value.Value
}

// Instr is one decoded instruction, its operands fully resolved to Values
// (pool references already dereferenced) or marked Skip if they must be
// popped from the operand stack at run time.
type Instr struct {
	Op   Opcode
	Args []DecodedArg
}

// DecodedArg is one instruction's resolved operand.
type DecodedArg struct {
	Skip  bool
	Value value.Value
}

// Module is a fully decoded, validated compiled element-physics program,
// ready for a VM to execute without any further checks.
type Module struct {
	Major, Minor uint8
	Radius       uint8
	Symmetries   uint8
	SelfTypeNum  uint16
	BuildTag     string

	Name, Symbol, Desc, Author, License, BgColor, FgColor string

	Fields     []Field
	Parameters []Parameter
	Pool       []value.Value
	Code       []Instr
}

// Decode parses and fully validates a compiled module. Every jump target,
// opcode, and operand width is checked here; the VM never discovers a
// malformed module mid-execution.
func Decode(data []byte) (*Module, error) {
	r := bytes.NewReader(data)
	m := &Module{}

	var magic [4]byte
	if err := readFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("bad magic %x, want %x", magic, Magic)
	}
	if err := readByte(r, &m.Major); err != nil {
		return nil, err
	}
	if err := readByte(r, &m.Minor); err != nil {
		return nil, err
	}
	if err := readByte(r, &m.Radius); err != nil {
		return nil, err
	}
	if m.Radius > 4 {
		return nil, fmt.Errorf("radius %d exceeds the event window's maximum of 4", m.Radius)
	}
	if err := readByte(r, &m.Symmetries); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &m.SelfTypeNum); err != nil {
		return nil, fmt.Errorf("self type number: %w", err)
	}
	tag, err := readShortString(r)
	if err != nil {
		return nil, fmt.Errorf("build tag: %w", err)
	}
	m.BuildTag = tag

	if err := decodeMetadataTable(r, m); err != nil {
		return nil, err
	}
	if err := decodeFieldTable(r, m); err != nil {
		return nil, err
	}
	if err := decodeParameterTable(r, m); err != nil {
		return nil, err
	}
	if err := decodeConstantPool(r, m); err != nil {
		return nil, err
	}
	index, err := decodeCodeIndex(r)
	if err != nil {
		return nil, err
	}
	if err := decodeCode(r, m, index); err != nil {
		return nil, err
	}
	if err := validateJumpTargets(m); err != nil {
		return nil, err
	}
	if err := validateOperandRanges(m); err != nil {
		return nil, err
	}
	return m, nil
}

func readFull(r *bytes.Reader, b []byte) error {
	n, err := r.Read(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("truncated: wanted %d bytes, got %d", len(b), n)
	}
	return nil
}

func readByte(r *bytes.Reader, out *uint8) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("truncated stream: %w", err)
	}
	*out = b
	return nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("truncated stream: %w", err)
	}
	return v, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("truncated stream: %w", err)
	}
	return v, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readLongString(r *bytes.Reader, n uint16) (string, error) {
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeMetadataTable(r *bytes.Reader, m *Module) error {
	count, err := readUint16(r)
	if err != nil {
		return fmt.Errorf("metadata table: %w", err)
	}
	for i := uint16(0); i < count; i++ {
		key, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("metadata table entry %d: %w", i, err)
		}
		n, err := readUint16(r)
		if err != nil {
			return fmt.Errorf("metadata table entry %d: %w", i, err)
		}
		val, err := readLongString(r, n)
		if err != nil {
			return fmt.Errorf("metadata table entry %d: %w", i, err)
		}
		switch key {
		case MetaName:
			m.Name = val
		case MetaSymbol:
			m.Symbol = val
		case MetaDesc:
			m.Desc = val
		case MetaAuthor:
			m.Author = val
		case MetaLicense:
			m.License = val
		case MetaBgColor:
			m.BgColor = val
		case MetaFgColor:
			m.FgColor = val
		default:
			return fmt.Errorf("metadata table entry %d: unknown key byte %d", i, key)
		}
	}
	return nil
}

func decodeFieldTable(r *bytes.Reader, m *Module) error {
	count, err := readUint16(r)
	if err != nil {
		return fmt.Errorf("field table: %w", err)
	}
	for i := uint16(0); i < count; i++ {
		var id, offset, length uint8
		if err := readByte(r, &id); err != nil {
			return err
		}
		if err := readByte(r, &offset); err != nil {
			return err
		}
		if err := readByte(r, &length); err != nil {
			return err
		}
		if int(offset)+int(length) > 71 {
			return fmt.Errorf("field table entry %d: [%d,%d) exceeds the 71-bit data region", i, offset, int(offset)+int(length))
		}
		name, err := readShortString(r)
		if err != nil {
			return fmt.Errorf("field table entry %d: %w", i, err)
		}
		m.Fields = append(m.Fields, Field{ID: int(id), Offset: offset, Length: length, Name: name})
	}
	return nil
}

func decodeParameterTable(r *bytes.Reader, m *Module) error {
	count, err := readUint16(r)
	if err != nil {
		return fmt.Errorf("parameter table: %w", err)
	}
	for i := uint16(0); i < count; i++ {
		name, err := readShortString(r)
		if err != nil {
			return fmt.Errorf("parameter table entry %d: %w", i, err)
		}
		v, err := readTaggedValue(r)
		if err != nil {
			return fmt.Errorf("parameter table entry %d: %w", i, err)
		}
		m.Parameters = append(m.Parameters, Parameter{Name: name, Default: v})
	}
	return nil
}

func decodeConstantPool(r *bytes.Reader, m *Module) error {
	count, err := readUint16(r)
	if err != nil {
		return fmt.Errorf("constant pool: %w", err)
	}
	for i := uint16(0); i < count; i++ {
		v, err := readTaggedValue(r)
		if err != nil {
			return fmt.Errorf("constant pool entry %d: %w", i, err)
		}
		m.Pool = append(m.Pool, v)
	}
	return nil
}

func readTaggedValue(r *bytes.Reader) (value.Value, error) {
	var b12 [12]byte
	if err := readFull(r, b12[:]); err != nil {
		return value.Value{}, err
	}
	signedByte, err := r.ReadByte()
	if err != nil {
		return value.Value{}, err
	}
	kind := value.Unsigned
	if signedByte != 0 {
		kind = value.Signed
	}
	return value.FromBytes12(b12, kind), nil
}

type codeIndexKey struct {
	instrIdx uint32
	argSlot  uint8
}

func decodeCodeIndex(r *bytes.Reader) (map[codeIndexKey]uint8, error) {
	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("code index: %w", err)
	}
	out := make(map[codeIndexKey]uint8, count)
	for i := uint32(0); i < count; i++ {
		instrIdx, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("code index entry %d: %w", i, err)
		}
		argSlot, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("code index entry %d: %w", i, err)
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("code index entry %d: %w", i, err)
		}
		out[codeIndexKey{instrIdx, argSlot}] = typeByte
	}
	return out, nil
}

func decodeCode(r *bytes.Reader, m *Module, index map[codeIndexKey]uint8) error {
	count, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("code section: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		opByte, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		op := Opcode(opByte)
		if !op.IsKnown() {
			return fmt.Errorf("instruction %d: unknown opcode 0x%02X", i, opByte)
		}
		inst := Instr{Op: op}
		for slot := 0; slot < op.NumArgs(); slot++ {
			typeByte, ok := index[codeIndexKey{i, uint8(slot)}]
			if !ok {
				return fmt.Errorf("instruction %d: missing code index entry for arg %d", i, slot)
			}
			arg, err := decodeArg(r, typeByte, m)
			if err != nil {
				return fmt.Errorf("instruction %d arg %d: %w", i, slot, err)
			}
			inst.Args = append(inst.Args, arg)
		}
		m.Code = append(m.Code, inst)
	}
	return nil
}

func decodeArg(r *bytes.Reader, typeByte uint8, m *Module) (DecodedArg, error) {
	width, signed, skip, poolRef := decodeTypeByte(typeByte)
	if skip {
		return DecodedArg{Skip: true}, nil
	}
	if poolRef {
		idx, err := readUint16(r)
		if err != nil {
			return DecodedArg{}, err
		}
		if int(idx) >= len(m.Pool) {
			return DecodedArg{}, fmt.Errorf("constant pool index %d out of range (pool has %d entries)", idx, len(m.Pool))
		}
		return DecodedArg{Value: m.Pool[idx]}, nil
	}
	if width < 1 || width > 96 {
		return DecodedArg{}, fmt.Errorf("operand width %d out of range 1..96", width)
	}
	nbytes := (width + 7) / 8
	buf := make([]byte, nbytes)
	if err := readFull(r, buf); err != nil {
		return DecodedArg{}, err
	}
	v := decodeInlineValue(buf, width, signed)
	return DecodedArg{Value: v}, nil
}

// decodeInlineValue reconstructs the Value written by writeInline. The
// stored bytes are byte-rounded (ceil(width/8)), so bits at or above
// `width` may carry stale sign-extension from the original 96-bit pattern
// and must be masked off before re-deriving the sign for widths that
// aren't a multiple of 8.
func decodeInlineValue(buf []byte, width int, signed bool) value.Value {
	var full [12]byte
	copy(full[12-len(buf):], buf)
	raw := value.FromBytes12(full, value.Unsigned)

	widthMask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(width)), big.NewInt(1))
	masked := new(big.Int).And(raw.Big(), widthMask)

	if !signed {
		return value.FromBig(masked, value.Unsigned)
	}
	if width >= 96 || masked.Bit(width-1) == 0 {
		return value.FromBig(masked, value.Signed)
	}
	extended := new(big.Int).Sub(masked, new(big.Int).Lsh(big.NewInt(1), uint(width)))
	return value.FromBig(extended, value.Signed)
}

// jumpTargetSlot returns the argument slot holding the absolute instruction
// index for a jump/call opcode: plain jump and call take it in slot 0, the
// conditional jumps take it in slot 1 (slot 0 is the tested value, or skip
// to pop it from the stack).
func jumpTargetSlot(op Opcode) (slot int, ok bool) {
	switch op {
	case OpJump, OpCall:
		return 0, true
	case OpJumpZero, OpJumpNonZero:
		return 1, true
	default:
		return 0, false
	}
}

func validateJumpTargets(m *Module) error {
	n := uint64(len(m.Code))
	for i, inst := range m.Code {
		slot, ok := jumpTargetSlot(inst.Op)
		if !ok {
			continue
		}
		if slot >= len(inst.Args) || inst.Args[slot].Skip {
			continue // target comes from the stack at run time
		}
		target := inst.Args[slot].Value.Uint64()
		if target >= n {
			return fmt.Errorf("instruction %d: jump/call target %d out of range (code has %d instructions)", i, target, n)
		}
	}
	return nil
}

// maxRegisterIndex and maxSiteIndex are the inclusive upper bounds for a
// register id (0..14 plus the read-only random register 15) and a
// canonical event-window site id (0..40).
const (
	maxRegisterIndex = 15
	maxSiteIndex     = 40
)

// operandRole describes what one packed instruction operand must resolve
// to, so it can be range-checked against the module's own declarations at
// load time rather than discovered invalid mid-run.
type operandRole int

const (
	roleNone operandRole = iota
	roleRegister
	roleSite
	roleField
)

// operandRoles returns the role of each argument slot for op, in order.
// roleNone means the slot carries an arbitrary value (a literal, a stored
// value, or an already-resolved constant) with nothing to range-check.
func operandRoles(op Opcode) []operandRole {
	switch op {
	case OpGetRegister:
		return []operandRole{roleRegister}
	case OpSetRegister:
		return []operandRole{roleRegister, roleNone}
	case OpGetSite:
		return []operandRole{roleSite}
	case OpSetSite:
		return []operandRole{roleSite, roleNone}
	case OpSwapSites:
		return []operandRole{roleSite, roleSite}
	case OpGetField, OpGetSignedField:
		return []operandRole{roleField}
	case OpGetSiteField, OpGetSignedSiteField:
		return []operandRole{roleSite, roleField}
	case OpSetField:
		return []operandRole{roleField, roleNone}
	case OpSetSiteField:
		return []operandRole{roleSite, roleField, roleNone}
	default:
		return nil
	}
}

// builtinFieldIDs are the always-present field ids (type, checksum,
// header, data), installed by the engine regardless of what the module's
// own field table declares.
var builtinFieldIDs = map[uint64]bool{0: true, 1: true, 2: true, 3: true}

func (m *Module) declaresField(id uint64) bool {
	if builtinFieldIDs[id] {
		return true
	}
	for _, f := range m.Fields {
		if uint64(f.ID) == id {
			return true
		}
	}
	return false
}

// validateOperandRanges checks every packed (non-Skip) field id, register
// id, and site id operand against its declared range once, at load time,
// so a corrupt module can't reach the VM and only fault partway through
// execution. An operand marked Skip is popped from the stack at run time
// and is validated there instead, since its value isn't known yet.
func validateOperandRanges(m *Module) error {
	for i, inst := range m.Code {
		roles := operandRoles(inst.Op)
		for slot, role := range roles {
			if role == roleNone || slot >= len(inst.Args) || inst.Args[slot].Skip {
				continue
			}
			v := inst.Args[slot].Value
			fits := v.Big().IsUint64()
			id := v.Big().Uint64()
			switch role {
			case roleRegister:
				if !fits || id > maxRegisterIndex {
					return fmt.Errorf("instruction %d arg %d: register id %s out of range 0..%d", i, slot, v.Big(), maxRegisterIndex)
				}
			case roleSite:
				if !fits || id > maxSiteIndex {
					return fmt.Errorf("instruction %d arg %d: site id %s out of range 0..%d", i, slot, v.Big(), maxSiteIndex)
				}
			case roleField:
				if !fits || !m.declaresField(id) {
					return fmt.Errorf("instruction %d arg %d: field id %s is not declared by this module", i, slot, v.Big())
				}
			}
		}
	}
	return nil
}
