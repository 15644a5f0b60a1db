// Package resolve performs the assembler's semantic pass: interning
// metadata strings, assigning field ids, resolving labels/types/parameters
// to indices, and packing literal arguments, producing an IR the bytecode
// encoder writes out directly.
package resolve

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ewal-lang/ewal/pkg/asm/ast"
	"github.com/ewal-lang/ewal/pkg/bytecode"
	"github.com/ewal-lang/ewal/pkg/symmetry"
	"github.com/ewal-lang/ewal/pkg/value"
)

// Error reports a resolution error with its source location.
type Error struct {
	Line    int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%d: %s", e.Line, e.Message) }

// FieldDecl is one resolved field-table entry.
type FieldDecl struct {
	ID     int
	Name   string
	Offset uint8
	Length uint8
}

// ParamDecl is one resolved `.parameter` entry.
type ParamDecl struct {
	Name    string
	Default value.Value
}

// Meta holds the resolved metadata directives (constant-pool string refs
// are left as plain strings here; the encoder interns them).
type Meta struct {
	Name, Symbol, Desc, Author, License string
	Radius                              int
	BgColor, FgColor                    string
	Symmetries                          symmetry.Symmetry
}

// ResolvedArg is one packed-argument slot: either a literal/resolved value,
// or a flag that the instruction must instead pop its operand off the
// stack at run time.
type ResolvedArg struct {
	Skip  bool
	Value value.Value
}

// Instr is one resolved instruction, argument count already matching its
// opcode's NumArgs (field-access chains have been expanded).
type Instr struct {
	Op   bytecode.Opcode
	Args []ResolvedArg
	Line int
}

// Program is the resolver's output: everything the bytecode encoder needs,
// with all names already turned into indices.
type Program struct {
	Meta        Meta
	Fields      []FieldDecl
	Parameters  []ParamDecl
	SelfTypeNum uint16
	Code        []Instr
}

// TypeResolver maps an element name to its compiled type number, as
// installed by the host physics manifest this source was compiled against.
type TypeResolver func(name string) (uint16, bool)

const firstUserFieldID = 4 // builtin ids 0-3 are type/checksum/header/data

// Resolve runs the semantic pass over a parsed file.
func Resolve(f *ast.File, selfTypeNum uint16, resolveType TypeResolver) (*Program, error) {
	r := &resolver{
		file:        f,
		resolveType: resolveType,
		selfTypeNum: selfTypeNum,
		fieldByName: map[string]FieldDecl{},
		paramByName: map[string]ParamDecl{},
		labels:      map[string]int{},
	}
	return r.run(selfTypeNum)
}

type resolver struct {
	file        *ast.File
	resolveType TypeResolver
	selfTypeNum uint16

	fieldByName map[string]FieldDecl
	paramByName map[string]ParamDecl
	labels      map[string]int
	meta        Meta
}

func (r *resolver) run(selfTypeNum uint16) (*Program, error) {
	if err := r.processHeader(); err != nil {
		return nil, err
	}
	if err := r.processLabels(); err != nil {
		return nil, err
	}

	var code []Instr
	idx := 0
	for _, n := range r.file.Body {
		inst, ok := n.(ast.Instruction)
		if !ok {
			continue
		}
		resolved, err := r.resolveInstruction(inst, idx)
		if err != nil {
			return nil, err
		}
		code = append(code, resolved)
		idx++
	}

	var fields []FieldDecl
	for _, f := range r.fieldByName {
		fields = append(fields, f)
	}
	var params []ParamDecl
	for _, p := range r.paramByName {
		params = append(params, p)
	}

	return &Program{
		Meta:        r.meta,
		Fields:      fields,
		Parameters:  params,
		SelfTypeNum: selfTypeNum,
		Code:        code,
	}, nil
}

var builtinFieldNames = map[string]bool{"type": true, "checksum": true, "header": true, "data": true}

func (r *resolver) processHeader() error {
	nextFieldID := firstUserFieldID
	for _, d := range r.file.Header {
		switch d.Op {
		case "name":
			r.meta.Name = d.Args[0]
		case "symbol":
			r.meta.Symbol = d.Args[0]
		case "desc":
			r.meta.Desc = d.Args[0]
		case "author":
			r.meta.Author = d.Args[0]
		case "license":
			r.meta.License = d.Args[0]
		case "bgcolor":
			r.meta.BgColor = d.Args[0]
		case "fgcolor":
			r.meta.FgColor = d.Args[0]
		case "radius":
			n, err := strconv.Atoi(d.Args[0])
			if err != nil || n < 0 || n > 4 {
				return &Error{Line: d.Line, Message: fmt.Sprintf("radius must be 0..4, got %q", d.Args[0])}
			}
			r.meta.Radius = n
		case "symmetries":
			sym, ok := symmetry.Parse(d.Args[0])
			if !ok {
				return &Error{Line: d.Line, Message: fmt.Sprintf("unknown symmetry %q", d.Args[0])}
			}
			r.meta.Symmetries = sym
		case "field":
			name := d.Args[0]
			if builtinFieldNames[name] {
				return &Error{Line: d.Line, Message: fmt.Sprintf("field name %q collides with a builtin", name)}
			}
			if _, dup := r.fieldByName[name]; dup {
				return &Error{Line: d.Line, Message: fmt.Sprintf("duplicate field %q", name)}
			}
			offset, err := strconv.Atoi(d.Args[1])
			if err != nil {
				return &Error{Line: d.Line, Message: fmt.Sprintf("bad field offset %q", d.Args[1])}
			}
			length, err := strconv.Atoi(d.Args[2])
			if err != nil {
				return &Error{Line: d.Line, Message: fmt.Sprintf("bad field length %q", d.Args[2])}
			}
			if length < 1 || offset+length > 71 {
				return &Error{Line: d.Line, Message: fmt.Sprintf("field %q=[%d,%d) out of the 71-bit data region", name, offset, offset+length)}
			}
			r.fieldByName[name] = FieldDecl{ID: nextFieldID, Name: name, Offset: uint8(offset), Length: uint8(length)}
			nextFieldID++
		case "parameter":
			name := d.Args[0]
			def, err := parseLiteral(d.Args[1], false)
			if err != nil {
				return &Error{Line: d.Line, Message: fmt.Sprintf("bad parameter default %q: %v", d.Args[1], err)}
			}
			r.paramByName[name] = ParamDecl{Name: name, Default: def}
		default:
			return &Error{Line: d.Line, Message: fmt.Sprintf("unknown metadata directive %q", d.Op)}
		}
	}
	return nil
}

func (r *resolver) processLabels() error {
	idx := 0
	for _, n := range r.file.Body {
		switch v := n.(type) {
		case ast.Label:
			if _, dup := r.labels[v.Name]; dup {
				return &Error{Line: v.Line, Message: fmt.Sprintf("duplicate label %q", v.Name)}
			}
			r.labels[v.Name] = idx
		case ast.Instruction:
			idx++
		}
	}
	return nil
}

func (r *resolver) resolveInstruction(inst ast.Instruction, idx int) (Instr, error) {
	op, ok := bytecode.OpcodeByName(inst.Op)
	if !ok {
		return Instr{}, &Error{Line: inst.Line, Message: fmt.Sprintf("unknown opcode %q", inst.Op)}
	}

	var args []ResolvedArg
	var err error
	switch inst.Op {
	case "getfield", "getsignedfield":
		args, err = r.resolveFieldOnly(inst.Args[0])
	case "setfield":
		args, err = r.resolveFieldThenValue(inst.Args)
	case "getsitefield", "getsignedsitefield":
		args, err = r.resolveSiteField(inst.Args[0])
	case "setsitefield":
		args, err = r.resolveSiteFieldThenValue(inst.Args)
	default:
		args, err = r.resolveSimpleArgs(inst.Args)
	}
	if err != nil {
		return Instr{}, err
	}

	if len(args) != op.NumArgs() {
		return Instr{}, &Error{Line: inst.Line, Message: fmt.Sprintf("%s expects %d operand slot(s), resolved %d", inst.Op, op.NumArgs(), len(args))}
	}

	return Instr{Op: op, Args: args, Line: inst.Line}, nil
}

func (r *resolver) resolveSimpleArgs(astArgs []ast.Arg) ([]ResolvedArg, error) {
	out := make([]ResolvedArg, 0, len(astArgs))
	for _, a := range astArgs {
		ra, err := r.resolveArg(a)
		if err != nil {
			return nil, err
		}
		out = append(out, ra)
	}
	return out, nil
}

func (r *resolver) resolveFieldOnly(a ast.Arg) ([]ResolvedArg, error) {
	if a.Kind != ast.ArgFieldOnly || len(a.Fields) == 0 {
		return nil, &Error{Line: a.Line, Message: "expected a $field reference"}
	}
	id, err := r.fieldIDForAccess(a.Fields[0], a.Line)
	if err != nil {
		return nil, err
	}
	return []ResolvedArg{{Value: value.FromUint64(uint64(id))}}, nil
}

func (r *resolver) resolveFieldThenValue(astArgs []ast.Arg) ([]ResolvedArg, error) {
	fieldArgs, err := r.resolveFieldOnly(astArgs[0])
	if err != nil {
		return nil, err
	}
	valArg, err := r.resolveArg(astArgs[1])
	if err != nil {
		return nil, err
	}
	return append(fieldArgs, valArg), nil
}

func (r *resolver) resolveSiteField(a ast.Arg) ([]ResolvedArg, error) {
	if a.Kind != ast.ArgSite || len(a.Fields) == 0 {
		return nil, &Error{Line: a.Line, Message: "expected a #site$field reference"}
	}
	id, err := r.fieldIDForAccess(a.Fields[0], a.Line)
	if err != nil {
		return nil, err
	}
	return []ResolvedArg{
		{Value: value.FromUint64(uint64(a.Site))},
		{Value: value.FromUint64(uint64(id))},
	}, nil
}

func (r *resolver) resolveSiteFieldThenValue(astArgs []ast.Arg) ([]ResolvedArg, error) {
	siteField, err := r.resolveSiteField(astArgs[0])
	if err != nil {
		return nil, err
	}
	valArg, err := r.resolveArg(astArgs[1])
	if err != nil {
		return nil, err
	}
	return append(siteField, valArg), nil
}

// fieldIDForAccess resolves one field-chain step to its field id. A named
// step looks up a builtin or a declared `.field`; a `$length(offset)`
// bit-slice step is interned on first use, deduplicated by (offset,length),
// so ad hoc slices get an id the same way declared fields do.
func (r *resolver) fieldIDForAccess(fa ast.FieldAccess, line int) (int, error) {
	if fa.Bits {
		if fa.Length < 1 || fa.Offset+fa.Length > 71 {
			return 0, &Error{Line: line, Message: fmt.Sprintf("bit-slice $%d(%d) out of the 71-bit data region", fa.Length, fa.Offset)}
		}
		key := fmt.Sprintf("$%d(%d)", fa.Length, fa.Offset)
		if decl, ok := r.fieldByName[key]; ok {
			return decl.ID, nil
		}
		id := firstUserFieldID + len(r.fieldByName)
		r.fieldByName[key] = FieldDecl{ID: id, Name: key, Offset: uint8(fa.Offset), Length: uint8(fa.Length)}
		return id, nil
	}
	switch fa.Name {
	case "type":
		return 0, nil
	case "checksum":
		return 1, nil
	case "header":
		return 2, nil
	case "data":
		return 3, nil
	}
	decl, ok := r.fieldByName[fa.Name]
	if !ok {
		return 0, &Error{Line: line, Message: fmt.Sprintf("unknown field %q", fa.Name)}
	}
	return decl.ID, nil
}

func (r *resolver) resolveArg(a ast.Arg) (ResolvedArg, error) {
	switch a.Kind {
	case ast.ArgSkip:
		return ResolvedArg{Skip: true}, nil
	case ast.ArgConst:
		v, err := parseLiteral(a.ConstText, a.ConstSigned)
		if err != nil {
			return ResolvedArg{}, &Error{Line: a.Line, Message: err.Error()}
		}
		return ResolvedArg{Value: v}, nil
	case ast.ArgRegister:
		if a.IsRandomRegister {
			return ResolvedArg{Value: value.FromUint64(15)}, nil
		}
		if a.RegisterIndex < 0 || a.RegisterIndex > 14 {
			return ResolvedArg{}, &Error{Line: a.Line, Message: fmt.Sprintf("register index %d out of range 0..14", a.RegisterIndex)}
		}
		return ResolvedArg{Value: value.FromUint64(uint64(a.RegisterIndex))}, nil
	case ast.ArgSite:
		if a.Site < 0 || a.Site > 40 {
			return ResolvedArg{}, &Error{Line: a.Line, Message: fmt.Sprintf("site number %d out of range 0..40", a.Site)}
		}
		return ResolvedArg{Value: value.FromUint64(uint64(a.Site))}, nil
	case ast.ArgType:
		if a.TypeName == "Self" {
			return ResolvedArg{Value: value.FromUint64(uint64(r.selfTypeNum))}, nil
		}
		n, ok := r.resolveType(a.TypeName)
		if !ok {
			return ResolvedArg{}, &Error{Line: a.Line, Message: fmt.Sprintf("unknown element type %q", a.TypeName)}
		}
		return ResolvedArg{Value: value.FromUint64(uint64(n))}, nil
	case ast.ArgLabel:
		if p, ok := r.paramByName[a.Label]; ok {
			return ResolvedArg{Value: p.Default}, nil
		}
		if idx, ok := r.labels[a.Label]; ok {
			return ResolvedArg{Value: value.FromUint64(uint64(idx))}, nil
		}
		return ResolvedArg{}, &Error{Line: a.Line, Message: fmt.Sprintf("unknown identifier %q", a.Label)}
	default:
		return ResolvedArg{}, &Error{Line: a.Line, Message: "argument is not valid in this position"}
	}
}

// parseLiteral accepts literals up to the full 96-bit value width, not just
// what fits in a machine word, so a source file can spell out a raw atom
// pattern with nonzero high bits directly.
func parseLiteral(text string, signed bool) (value.Value, error) {
	neg := strings.HasPrefix(text, "-")
	trimmed := strings.TrimPrefix(text, "-")
	// big.Int's base-0 parsing already recognizes 0x/0X and 0b/0B prefixes;
	// it additionally treats a leading "0" as octal, which the lexer's own
	// 0x/0b/decimal grammar never produces, so that edge case can't arise.
	n, ok := new(big.Int).SetString(trimmed, 0)
	if !ok {
		return value.Value{}, fmt.Errorf("invalid literal %q", text)
	}
	if neg {
		n.Neg(n)
	}
	if neg || signed {
		return value.FromBig(n, value.Signed), nil
	}
	return value.FromBig(n, value.Unsigned), nil
}
