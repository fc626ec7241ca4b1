package formula

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const eof = -1

type tokenType int

const (
	tokenEOF    tokenType = iota
	tokenNumber           // 12, 1.5, .5, 1e-3
	tokenIdent            // pos, start, sqrt
	tokenOp               // + - * / // % **
	tokenLParen           // (
	tokenRParen           // )
)

func (t tokenType) String() string {
	switch t {
	case tokenEOF:
		return "end of formula"
	case tokenNumber:
		return "number"
	case tokenIdent:
		return "name"
	case tokenOp:
		return "operator"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	}
	return "unknown"
}

type token struct {
	typ tokenType
	val string
	pos int // byte offset in the formula
}

// lexer splits a formula into tokens.  It holds no state between formulas.
type lexer struct {
	input string
	start int
	pos   int
	width int
}

func (l *lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	return r
}

func (l *lexer) backup() {
	l.pos -= l.width
}

func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *lexer) emit(typ tokenType) token {
	t := token{typ: typ, val: l.input[l.start:l.pos], pos: l.start}
	l.start = l.pos
	return t
}

func (l *lexer) acceptRun(valid string) {
	for strings.ContainsRune(valid, l.next()) {
	}
	l.backup()
}

// tokens lexes the whole input
func (l *lexer) tokens() ([]token, error) {
	var out []token
	for {
		t, err := l.lex()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if t.typ == tokenEOF {
			return out, nil
		}
	}
}

func (l *lexer) lex() (token, error) {
	for unicode.IsSpace(l.peek()) {
		l.next()
	}
	l.start = l.pos
	r := l.next()
	switch {
	case r == eof:
		return l.emit(tokenEOF), nil
	case r == '(':
		return l.emit(tokenLParen), nil
	case r == ')':
		return l.emit(tokenRParen), nil
	case r == '+' || r == '-' || r == '%':
		return l.emit(tokenOp), nil
	case r == '*':
		if l.peek() == '*' {
			l.next()
		}
		return l.emit(tokenOp), nil
	case r == '/':
		if l.peek() == '/' {
			l.next()
		}
		return l.emit(tokenOp), nil
	case r == '.' || unicode.IsDigit(r):
		l.backup()
		return l.lexNumber()
	case r == '_' || unicode.IsLetter(r):
		for {
			r = l.next()
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
		}
		l.backup()
		return l.emit(tokenIdent), nil
	}
	return token{}, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, r, l.start)
}

func (l *lexer) lexNumber() (token, error) {
	const digits = "0123456789"
	l.acceptRun(digits)
	if l.peek() == '.' {
		l.next()
		l.acceptRun(digits)
	}
	if r := l.peek(); r == 'e' || r == 'E' {
		l.next()
		if r = l.peek(); r == '+' || r == '-' {
			l.next()
		}
		mark := l.pos
		l.acceptRun(digits)
		if l.pos == mark {
			return token{}, fmt.Errorf("%w: malformed exponent in number at %d", ErrSyntax, l.start)
		}
	}
	if l.input[l.start:l.pos] == "." {
		return token{}, fmt.Errorf("%w: lone '.' at %d", ErrSyntax, l.start)
	}
	if r := l.peek(); r == '_' || unicode.IsLetter(r) {
		return token{}, fmt.Errorf("%w: malformed number at %d", ErrSyntax, l.start)
	}
	return l.emit(tokenNumber), nil
}
