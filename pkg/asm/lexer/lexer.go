// Package lexer tokenizes element assembly source text.
package lexer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ewal-lang/ewal/pkg/asm/token"
)

// Error reports a lexical error with its source location.
type Error struct {
	Line, Column int
	Message      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Lexer scans one source file into a stream of tokens.
type Lexer struct {
	src       string
	pos       int
	line, col int
}

// New creates a Lexer over src.
func New(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

func (l *Lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, w := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += w
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLower(r) }
func isIdentCont(r rune) bool {
	return r == '_' || unicode.IsLower(r) || unicode.IsDigit(r) || unicode.IsUpper(r)
}

// Tokens lexes the entire source and returns the token stream, terminated
// by a single EOF token.
func (l *Lexer) Tokens() ([]token.Token, error) {
	var out []token.Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == token.EOF {
			return out, nil
		}
	}
}

func (l *Lexer) skipSpaceAndComments() {
	for {
		r := l.peek()
		switch {
		case r == ' ' || r == '\t' || r == '\r' || r == '\n':
			l.advance()
		case r == '/' && l.peekAt(1) == '/':
			for l.peek() != '\n' && l.peek() != 0 {
				l.advance()
			}
		case r == ';':
			for l.peek() != '\n' && l.peek() != 0 {
				l.advance()
			}
		case r == '/' && l.peekAt(1) == '*':
			l.advance()
			l.advance()
			for !(l.peek() == '*' && l.peekAt(1) == '/') && l.peek() != 0 {
				l.advance()
			}
			if l.peek() != 0 {
				l.advance()
				l.advance()
			}
		default:
			return
		}
	}
}

func (l *Lexer) next() (token.Token, error) {
	l.skipSpaceAndComments()
	line, col := l.line, l.col
	r := l.peek()

	mk := func(k token.Kind, text string) token.Token {
		return token.Token{Kind: k, Text: text, Line: line, Column: col}
	}

	switch {
	case r == 0:
		return mk(token.EOF, ""), nil

	case r == ':':
		l.advance()
		return mk(token.Colon, ":"), nil

	case r == ',':
		l.advance()
		return mk(token.Comma, ","), nil

	case r == '|':
		l.advance()
		return mk(token.Pipe, "|"), nil

	case r == '_' && !isIdentCont(rune(l.peekAt(1))):
		l.advance()
		return mk(token.Skip, "_"), nil

	case r == '.':
		start := l.pos
		l.advance()
		for isIdentCont(l.peek()) {
			l.advance()
		}
		return mk(token.Directive, l.src[start:l.pos]), nil

	case r == '$':
		l.advance()
		start := l.pos
		for isIdentCont(l.peek()) {
			l.advance()
		}
		name := l.src[start:l.pos]
		if name == "signed" {
			return mk(token.Signed, "$signed"), nil
		}
		if l.peek() == '(' {
			l.advance()
			offStart := l.pos
			for l.peek() != ')' && l.peek() != 0 {
				l.advance()
			}
			offset := l.src[offStart:l.pos]
			if l.peek() == ')' {
				l.advance()
			}
			return mk(token.FieldBits, fmt.Sprintf("$%s(%s)", name, offset)), nil
		}
		return mk(token.FieldRef, "$"+name), nil

	case r == '#':
		l.advance()
		start := l.pos
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
		return mk(token.SiteRef, "#"+l.src[start:l.pos]), nil

	case r == '%':
		l.advance()
		if l.peek() == '"' {
			s, err := l.scanString()
			if err != nil {
				return token.Token{}, err
			}
			return mk(token.TypeRef, "%"+s), nil
		}
		start := l.pos
		for isIdentCont(l.peek()) || unicode.IsUpper(l.peek()) {
			l.advance()
		}
		return mk(token.TypeRef, "%"+l.src[start:l.pos]), nil

	case r == '"':
		s, err := l.scanString()
		if err != nil {
			return token.Token{}, err
		}
		return mk(token.StringLiteral, s), nil

	case r == '-' || unicode.IsDigit(r):
		return l.scanNumber(mk)

	case (r == 'r') && (unicode.IsDigit(rune(l.peekAt(1))) || l.peekAt(1) == '?'):
		l.advance()
		start := l.pos
		if l.peek() == '?' {
			l.advance()
		} else {
			for unicode.IsDigit(l.peek()) {
				l.advance()
			}
		}
		return mk(token.Register, "r"+l.src[start:l.pos]), nil

	case isIdentStart(r) || unicode.IsUpper(r):
		start := l.pos
		for isIdentCont(l.peek()) {
			l.advance()
		}
		return mk(token.Ident, l.src[start:l.pos]), nil

	default:
		return token.Token{}, &Error{Line: line, Column: col, Message: fmt.Sprintf("unrecognized character %q", r)}
	}
}

func (l *Lexer) scanString() (string, error) {
	startLine, startCol := l.line, l.col
	l.advance() // opening quote
	var sb strings.Builder
	for {
		r := l.peek()
		if r == 0 {
			return "", &Error{Line: startLine, Column: startCol, Message: "unterminated string literal"}
		}
		if r == '"' {
			l.advance()
			return sb.String(), nil
		}
		if r == '\\' {
			l.advance()
			esc := l.peek()
			if esc == 0 {
				return "", &Error{Line: l.line, Column: l.col, Message: "unterminated escape sequence"}
			}
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '"':
				sb.WriteRune('"')
			case '\\':
				sb.WriteRune('\\')
			default:
				sb.WriteRune(esc)
			}
			l.advance()
			continue
		}
		sb.WriteRune(r)
		l.advance()
	}
}

func (l *Lexer) scanNumber(mk func(token.Kind, string) token.Token) (token.Token, error) {
	start := l.pos
	neg := false
	if l.peek() == '-' {
		neg = true
		l.advance()
	}
	switch {
	case l.peek() == '0' && (l.peekAt(1) == 'x' || l.peekAt(1) == 'X'):
		l.advance()
		l.advance()
		for isHexDigit(l.peek()) {
			l.advance()
		}
		return mk(token.HexConst, l.src[start:l.pos]), nil
	case l.peek() == '0' && (l.peekAt(1) == 'b' || l.peekAt(1) == 'B'):
		l.advance()
		l.advance()
		for l.peek() == '0' || l.peek() == '1' {
			l.advance()
		}
		return mk(token.BinConst, l.src[start:l.pos]), nil
	default:
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
		if neg {
			return mk(token.SignedConst, l.src[start:l.pos]), nil
		}
		return mk(token.DecConst, l.src[start:l.pos]), nil
	}
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
