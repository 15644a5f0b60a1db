// Package parser builds an ast.File from a token stream produced by
// pkg/asm/lexer.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ewal-lang/ewal/pkg/asm/ast"
	"github.com/ewal-lang/ewal/pkg/asm/lexer"
	"github.com/ewal-lang/ewal/pkg/asm/token"
)

// Error reports a syntax error with source location and the offending
// token, as required by the grammar's failure contract.
type Error struct {
	Line, Column int
	Got          string
	Expected     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: unexpected %q, expected %s", e.Line, e.Column, e.Got, e.Expected)
}

// directiveArity gives the number of arguments each metadata directive
// takes; .field and .parameter are comma-separated multi-field directives.
var directiveArity = map[string]int{
	".name": 1, ".symbol": 1, ".desc": 1, ".author": 1, ".license": 1,
	".radius": 1, ".bgcolor": 1, ".fgcolor": 1, ".symmetries": 1,
	".field": 3, ".parameter": 2,
}

// opArity gives the fixed number of operand slots for each instruction
// mnemonic. The optional-N forms of "call L [N]" and "ret [N]" are
// resolved here as always requiring N explicitly so the grammar stays
// unambiguous without relying on newlines being significant.
var opArity = map[string]int{
	"nop": 0, "exit": 0,
	"push": 1,
	"pop": 0, "dup": 0, "over": 0, "swap": 0, "rot": 0,
	"getregister": 1, "setregister": 2,
	"getsite": 1, "setsite": 2, "swapsites": 2,
	"getparameter": 1, "gettype": 1,
	// getfield/getsignedfield take a bare $field chain; getsitefield and
	// getsignedsitefield fold the site into the same chain (#S$field),
	// one argument instead of two.
	"getfield": 1, "getsitefield": 1,
	"getsignedfield": 1, "getsignedsitefield": 1,
	"setfield": 2, "setsitefield": 2,
	"add": 2, "sub": 2, "mul": 2, "div": 2, "mod": 2, "neg": 1,
	"less": 2, "lessequal": 2, "equal": 2,
	"or": 2, "and": 2, "xor": 2,
	"bitand": 2, "bitor": 2, "bitxor": 2, "bitnot": 1,
	"bitcount": 1, "bitscanforward": 1, "bitscanreverse": 1,
	"lshift": 2, "rshift": 2,
	"checksum": 1, "scan": 1,
	"usesymmetries": 1, "restoresymmetries": 0, "popsymmetries": 0, "savesymmetries": 0,
	"jump": 1, "jumpzero": 2, "jumpnonzero": 2, "jumprelativeoffset": 1,
	"call": 2, "ret": 1,
	"getpaint": 0, "setpaint": 1,
}

func init() {
	for i := 0; i <= 40; i++ {
		opArity[fmt.Sprintf("push%d", i)] = 0
	}
}

// Parse lexes and parses one source file.
func Parse(src string) (*ast.File, error) {
	toks, err := lexer.New(src).Tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseFile()
}

type parser struct {
	toks []token.Token
	pos  int
}

func (p *parser) cur() token.Token  { return p.toks[p.pos] }
func (p *parser) bump() token.Token { t := p.toks[p.pos]; if p.pos < len(p.toks)-1 { p.pos++ }; return t }

func (p *parser) expect(k token.Kind, expected string) (token.Token, error) {
	t := p.cur()
	if t.Kind != k {
		return token.Token{}, &Error{Line: t.Line, Column: t.Column, Got: t.Text, Expected: expected}
	}
	return p.bump(), nil
}

func (p *parser) parseFile() (*ast.File, error) {
	f := &ast.File{}
	for p.cur().Kind == token.Directive {
		d, err := p.parseDirective()
		if err != nil {
			return nil, err
		}
		f.Header = append(f.Header, *d)
	}
	for p.cur().Kind != token.EOF {
		node, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		f.Body = append(f.Body, node)
	}
	return f, nil
}

func (p *parser) parseDirective() (*ast.MetaDirective, error) {
	tok := p.bump()
	arity, ok := directiveArity[tok.Text]
	if !ok {
		return nil, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "a known metadata directive"}
	}
	d := &ast.MetaDirective{Op: strings.TrimPrefix(tok.Text, "."), Line: tok.Line}
	for i := 0; i < arity; i++ {
		if i > 0 {
			if _, err := p.expect(token.Comma, "','"); err != nil {
				return nil, err
			}
		}
		arg := p.bump()
		d.Args = append(d.Args, arg.Text)
	}
	return d, nil
}

func (p *parser) parseNode() (ast.Node, error) {
	tok := p.cur()
	if tok.Kind == token.Ident && p.toks[p.pos+1].Kind == token.Colon {
		p.bump()
		p.bump()
		return ast.Label{Name: tok.Text, Line: tok.Line}, nil
	}
	if tok.Kind != token.Ident {
		return nil, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "an instruction or label"}
	}
	p.bump()
	arity, ok := opArity[tok.Text]
	if !ok {
		return nil, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "a known opcode mnemonic"}
	}
	inst := ast.Instruction{Op: tok.Text, Line: tok.Line}
	for i := 0; i < arity; i++ {
		if i > 0 && p.cur().Kind == token.Comma {
			p.bump()
		}
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		inst.Args = append(inst.Args, arg)
	}
	return inst, nil
}

func (p *parser) parseArg() (ast.Arg, error) {
	tok := p.cur()
	var arg ast.Arg
	arg.Line = tok.Line

	switch tok.Kind {
	case token.Skip:
		p.bump()
		arg.Kind = ast.ArgSkip
	case token.DecConst, token.HexConst, token.BinConst:
		p.bump()
		arg.Kind = ast.ArgConst
		arg.ConstText = tok.Text
	case token.SignedConst:
		p.bump()
		arg.Kind = ast.ArgConst
		arg.ConstText = tok.Text
		arg.ConstSigned = true
	case token.Register:
		p.bump()
		arg.Kind = ast.ArgRegister
		if tok.Text == "r?" {
			arg.IsRandomRegister = true
		} else {
			n, err := strconv.Atoi(strings.TrimPrefix(tok.Text, "r"))
			if err != nil {
				return arg, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "a register index"}
			}
			arg.RegisterIndex = n
		}
	case token.SiteRef:
		p.bump()
		arg.Kind = ast.ArgSite
		n, err := strconv.Atoi(strings.TrimPrefix(tok.Text, "#"))
		if err != nil {
			return arg, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "a site number"}
		}
		arg.Site = n
	case token.TypeRef:
		p.bump()
		arg.Kind = ast.ArgType
		arg.TypeName = strings.TrimPrefix(tok.Text, "%")
	case token.FieldRef, token.FieldBits:
		fa, err := p.parseFieldAccess()
		if err != nil {
			return arg, err
		}
		arg.Kind = ast.ArgFieldOnly
		arg.Fields = append(arg.Fields, fa)
	case token.Ident:
		// A label reference (jump targets) or a bare parameter/type name.
		p.bump()
		arg.Kind = ast.ArgLabel
		arg.Label = tok.Text
	default:
		return arg, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "an argument"}
	}

	for p.cur().Kind == token.FieldRef || p.cur().Kind == token.FieldBits {
		fa, err := p.parseFieldAccess()
		if err != nil {
			return arg, err
		}
		arg.Fields = append(arg.Fields, fa)
	}
	if p.cur().Kind == token.Signed {
		p.bump()
		arg.SignExtend = true
	}
	return arg, nil
}

func (p *parser) parseFieldAccess() (ast.FieldAccess, error) {
	tok := p.bump()
	if tok.Kind == token.FieldRef {
		return ast.FieldAccess{Name: strings.TrimPrefix(tok.Text, "$")}, nil
	}
	// $length(offset)
	body := strings.TrimPrefix(tok.Text, "$")
	paren := strings.IndexByte(body, '(')
	lengthStr := body[:paren]
	offsetStr := strings.TrimSuffix(body[paren+1:], ")")
	length, err := strconv.Atoi(lengthStr)
	if err != nil {
		return ast.FieldAccess{}, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "a $length(offset) field expression"}
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return ast.FieldAccess{}, &Error{Line: tok.Line, Column: tok.Column, Got: tok.Text, Expected: "a $length(offset) field expression"}
	}
	return ast.FieldAccess{Bits: true, Length: length, Offset: offset}, nil
}
