package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ewal-lang/ewal/pkg/asm/resolve"
	"github.com/ewal-lang/ewal/pkg/value"
)

var (
	inlineUnsignedMax = big.NewInt(1<<14 - 1)
	inlineSignedMin   = big.NewInt(-8192)
	inlineSignedMax   = big.NewInt(8191)
)

// Encode serializes a resolved program to the on-disk module format:
// header, metadata table, field table, parameter table, constant pool,
// code index, then the code section itself.
func Encode(prog *resolve.Program, buildTag string) ([]byte, error) {
	e := &encoder{prog: prog, poolIndex: map[string]uint16{}}
	return e.run(buildTag)
}

type encoder struct {
	prog      *resolve.Program
	pool      []value.Value
	poolIndex map[string]uint16
	codeIndex []codeIndexEntry
	codeBuf   bytes.Buffer
}

type codeIndexEntry struct {
	instrIdx uint32
	argSlot  uint8
	typeByte uint8
}

func (e *encoder) run(buildTag string) ([]byte, error) {
	if err := e.encodeBody(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(FormatMajor)
	buf.WriteByte(FormatMinor)
	buf.WriteByte(uint8(e.prog.Meta.Radius))
	buf.WriteByte(uint8(e.prog.Meta.Symmetries))
	binary.Write(&buf, binary.BigEndian, e.prog.SelfTypeNum)
	writeShortString(&buf, buildTag)

	e.writeMetadataTable(&buf)
	e.writeFieldTable(&buf)
	e.writeParameterTable(&buf)
	e.writeConstantPool(&buf)
	e.writeCodeIndex(&buf)

	binary.Write(&buf, binary.BigEndian, uint32(len(e.prog.Code)))
	buf.Write(e.codeBuf.Bytes())

	return buf.Bytes(), nil
}

func writeShortString(buf *bytes.Buffer, s string) {
	buf.WriteByte(uint8(len(s)))
	buf.WriteString(s)
}

func (e *encoder) writeMetadataTable(buf *bytes.Buffer) {
	type kv struct {
		key uint8
		val string
	}
	entries := []kv{}
	add := func(key uint8, val string) {
		if val != "" {
			entries = append(entries, kv{key, val})
		}
	}
	add(MetaName, e.prog.Meta.Name)
	add(MetaSymbol, e.prog.Meta.Symbol)
	add(MetaDesc, e.prog.Meta.Desc)
	add(MetaAuthor, e.prog.Meta.Author)
	add(MetaLicense, e.prog.Meta.License)
	add(MetaBgColor, e.prog.Meta.BgColor)
	add(MetaFgColor, e.prog.Meta.FgColor)

	binary.Write(buf, binary.BigEndian, uint16(len(entries)))
	for _, kv := range entries {
		buf.WriteByte(kv.key)
		binary.Write(buf, binary.BigEndian, uint16(len(kv.val)))
		buf.WriteString(kv.val)
	}
}

func (e *encoder) writeFieldTable(buf *bytes.Buffer) {
	binary.Write(buf, binary.BigEndian, uint16(len(e.prog.Fields)))
	for _, f := range e.prog.Fields {
		buf.WriteByte(uint8(f.ID))
		buf.WriteByte(f.Offset)
		buf.WriteByte(f.Length)
		writeShortString(buf, f.Name)
	}
}

func (e *encoder) writeParameterTable(buf *bytes.Buffer) {
	binary.Write(buf, binary.BigEndian, uint16(len(e.prog.Parameters)))
	for _, p := range e.prog.Parameters {
		writeShortString(buf, p.Name)
		b12 := p.Default.Bytes12()
		buf.Write(b12[:])
		if p.Default.IsSigned() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
}

func (e *encoder) writeConstantPool(buf *bytes.Buffer) {
	binary.Write(buf, binary.BigEndian, uint16(len(e.pool)))
	for _, v := range e.pool {
		b12 := v.Bytes12()
		buf.Write(b12[:])
		if v.IsSigned() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
}

func (e *encoder) writeCodeIndex(buf *bytes.Buffer) {
	binary.Write(buf, binary.BigEndian, uint32(len(e.codeIndex)))
	for _, c := range e.codeIndex {
		binary.Write(buf, binary.BigEndian, c.instrIdx)
		buf.WriteByte(c.argSlot)
		buf.WriteByte(c.typeByte)
	}
}

func (e *encoder) encodeBody() error {
	for idx, inst := range e.prog.Code {
		e.codeBuf.WriteByte(byte(inst.Op))
		for slot, arg := range inst.Args {
			if err := e.encodeArg(uint32(idx), uint8(slot), arg); err != nil {
				return fmt.Errorf("instruction %d (%s) arg %d: %w", idx, inst.Op, slot, err)
			}
		}
	}
	return nil
}

func (e *encoder) encodeArg(instrIdx uint32, slot uint8, arg resolve.ResolvedArg) error {
	if arg.Skip {
		e.codeIndex = append(e.codeIndex, codeIndexEntry{instrIdx, slot, typeByteSkip})
		return nil
	}

	if width, ok := inlineWidth(arg.Value); ok {
		e.codeIndex = append(e.codeIndex, codeIndexEntry{instrIdx, slot, encodeTypeByte(width, arg.Value.IsSigned())})
		writeInline(&e.codeBuf, arg.Value, width)
		return nil
	}

	idx := e.intern(arg.Value)
	e.codeIndex = append(e.codeIndex, codeIndexEntry{instrIdx, slot, typeBytePoolRef})
	binary.Write(&e.codeBuf, binary.BigEndian, idx)
	return nil
}

// inlineWidth reports the minimal bit width needed to inline v directly in
// the code section: at most 14 bits unsigned, or 14 bits (1 sign + 13
// magnitude) signed. Values outside that range spill to the constant pool.
func inlineWidth(v value.Value) (int, bool) {
	b := v.Big()
	if !v.IsSigned() {
		if b.Sign() < 0 || b.Cmp(inlineUnsignedMax) > 0 {
			return 0, false
		}
		w := b.BitLen()
		if w == 0 {
			w = 1
		}
		return w, true
	}
	if b.Cmp(inlineSignedMin) < 0 || b.Cmp(inlineSignedMax) > 0 {
		return 0, false
	}
	return 14, true
}

func writeInline(buf *bytes.Buffer, v value.Value, width int) {
	nbytes := (width + 7) / 8
	full := v.Bytes12() // big-endian, 12 bytes, low `width` bits are what we want
	buf.Write(full[12-nbytes:])
}

func (e *encoder) intern(v value.Value) uint16 {
	key := fmt.Sprintf("%v:%x", v.IsSigned(), v.Bits())
	if idx, ok := e.poolIndex[key]; ok {
		return idx
	}
	idx := uint16(len(e.pool))
	e.pool = append(e.pool, v)
	e.poolIndex[key] = idx
	return idx
}
