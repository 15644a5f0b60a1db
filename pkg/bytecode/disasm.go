package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the module.
func (m *Module) Disassemble() string {
	return m.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable listing with a name header.
func (m *Module) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Element physics module v%d.%d\n", m.Major, m.Minor))
	if m.Name != "" {
		sb.WriteString(fmt.Sprintf("; %s (%s)\n", m.Name, m.Symbol))
	}
	sb.WriteString(fmt.Sprintf("; radius=%d symmetries=0x%02X selfType=%d buildTag=%q\n", m.Radius, m.Symmetries, m.SelfTypeNum, m.BuildTag))
	sb.WriteString("\n")

	if len(m.Fields) > 0 {
		sb.WriteString("; Fields:\n")
		for _, f := range m.Fields {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s = [%d,%d)\n", f.ID, f.Name, f.Offset, int(f.Offset)+int(f.Length)))
		}
		sb.WriteString("\n")
	}

	if len(m.Parameters) > 0 {
		sb.WriteString("; Parameters:\n")
		for _, p := range m.Parameters {
			sb.WriteString(fmt.Sprintf(";   %s = %s\n", p.Name, p.Default.Big().String()))
		}
		sb.WriteString("\n")
	}

	if len(m.Pool) > 0 {
		sb.WriteString("; Constant pool:\n")
		for i, v := range m.Pool {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, v.Big().String()))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	for i, line := range m.DisassembleToLines() {
		sb.WriteString(fmt.Sprintf("%04d  %s\n", i, line))
	}
	return sb.String()
}

// DisassembleToLines renders each instruction as one line, annotating
// field-id operands with their names where the module's tables make that
// possible and jump-target operands with their destination index.
// Type-number operands are printed as plain numbers.
func (m *Module) DisassembleToLines() []string {
	lines := make([]string, len(m.Code))
	for i, inst := range m.Code {
		lines[i] = m.disassembleInstruction(inst)
	}
	return lines
}

func (m *Module) fieldName(id uint64) string {
	switch id {
	case 0:
		return "type"
	case 1:
		return "checksum"
	case 2:
		return "header"
	case 3:
		return "data"
	}
	for _, f := range m.Fields {
		if uint64(f.ID) == id {
			return f.Name
		}
	}
	return "?"
}

func (m *Module) disassembleInstruction(inst Instr) string {
	info := inst.Op.Info()
	if len(inst.Args) == 0 {
		return info.Name
	}

	operands := make([]string, len(inst.Args))
	for i, a := range inst.Args {
		if a.Skip {
			operands[i] = "_"
			continue
		}
		operands[i] = a.Value.Big().String()
	}
	line := fmt.Sprintf("%s %s", info.Name, strings.Join(operands, ", "))

	switch inst.Op {
	case OpGetField, OpGetSignedField:
		line += fmt.Sprintf(" ; $%s", m.fieldName(inst.Args[0].Value.Uint64()))
	case OpGetSiteField, OpGetSignedSiteField:
		line += fmt.Sprintf(" ; #%d$%s", inst.Args[0].Value.Uint64(), m.fieldName(inst.Args[1].Value.Uint64()))
	case OpSetField:
		line += fmt.Sprintf(" ; $%s", m.fieldName(inst.Args[0].Value.Uint64()))
	case OpSetSiteField:
		line += fmt.Sprintf(" ; #%d$%s", inst.Args[0].Value.Uint64(), m.fieldName(inst.Args[1].Value.Uint64()))
	default:
		if slot, ok := jumpTargetSlot(inst.Op); ok && slot < len(inst.Args) && !inst.Args[slot].Skip {
			line += fmt.Sprintf(" ; -> %04d", inst.Args[slot].Value.Uint64())
		}
	}
	return line
}
