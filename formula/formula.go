// Package formula evaluates small arithmetic expressions over named vectors
// and scalars.
//
// It is the sandbox used for position capture formulas such as
// "start + pos * 0.001".  Only numbers, the names bound by the caller,
// the operators + - * / // % **, parentheses and a fixed set of pure math
// functions are understood.  There is no assignment, no attribute access and
// no way to reach anything outside the bindings.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrSyntax is generated when a formula can not be parsed
	ErrSyntax = errors.New("formula syntax error")

	// ErrUnboundName is generated when a formula uses a name that is not bound
	ErrUnboundName = errors.New("name is not bound")

	// ErrUnknownFunction is generated when a formula calls a function outside the allowed set
	ErrUnknownFunction = errors.New("unknown function")

	// ErrShape is generated when vectors of different length are combined
	ErrShape = errors.New("shape mismatch")
)

// Bindings maps names to values for one evaluation
type Bindings map[string]Value

// Expr is a parsed formula, safe to evaluate many times and concurrently
type Expr struct {
	src  string
	root node
}

// String returns the source text of the formula
func (e *Expr) String() string {
	return e.src
}

// Eval evaluates the formula with the given bindings
func (e *Expr) Eval(b Bindings) (Value, error) {
	return e.root.eval(b)
}

type node interface {
	eval(Bindings) (Value, error)
}

type numberNode float64

func (n numberNode) eval(Bindings) (Value, error) {
	return Scalar(float64(n)), nil
}

type nameNode string

func (n nameNode) eval(b Bindings) (Value, error) {
	v, ok := b[string(n)]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnboundName, string(n))
	}
	return v, nil
}

type negNode struct {
	x node
}

func (n negNode) eval(b Bindings) (Value, error) {
	v, err := n.x.eval(b)
	if err != nil {
		return Value{}, err
	}
	return unary(v, func(f float64) float64 { return -f }), nil
}

type binaryNode struct {
	op   string
	l, r node
}

func (n binaryNode) eval(b Bindings) (Value, error) {
	l, err := n.l.eval(b)
	if err != nil {
		return Value{}, err
	}
	r, err := n.r.eval(b)
	if err != nil {
		return Value{}, err
	}
	return binary(l, r, operators[n.op])
}

type callNode struct {
	name string
	arg  node
}

func (n callNode) eval(b Bindings) (Value, error) {
	v, err := n.arg.eval(b)
	if err != nil {
		return Value{}, err
	}
	return unary(v, functions[n.name]), nil
}

// division by zero follows IEEE 754, as numpy arrays do
var operators = map[string]func(float64, float64) float64{
	"+":  func(a, b float64) float64 { return a + b },
	"-":  func(a, b float64) float64 { return a - b },
	"*":  func(a, b float64) float64 { return a * b },
	"/":  func(a, b float64) float64 { return a / b },
	"//": func(a, b float64) float64 { return math.Floor(a / b) },
	"%":  floorMod,
	"**": math.Pow,
}

// floorMod takes the sign of the divisor
func floorMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

var functions = map[string]func(float64) float64{
	"abs":   math.Abs,
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"log":   math.Log,
	"log10": math.Log10,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.RoundToEven,
}

// Parse compiles a formula.  Names are resolved at evaluation time,
// function names at parse time.
func Parse(src string) (*Expr, error) {
	l := &lexer{input: src}
	toks, err := l.tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %s %q at %d", ErrSyntax, t.typ, t.val, t.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// parser is a recursive descent parser with python precedence:
//
//	expr  = term {("+"|"-") term}
//	term  = unary {("*"|"/"|"//"|"%") unary}
//	unary = ("+"|"-") unary | power
//	power = atom ["**" unary]
//	atom  = number | name | name "(" expr ")" | "(" expr ")"
type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.typ != tokenEOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(vals ...string) bool {
	t := p.peek()
	if t.typ != tokenOp {
		return false
	}
	for _, v := range vals {
		if t.val == v {
			return true
		}
	}
	return false
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.advance().val
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.advance().val
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) unary() (node, error) {
	if p.isOp("+", "-") {
		op := p.advance().val
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == "-" {
			return negNode{x: x}, nil
		}
		return x, nil
	}
	return p.power()
}

func (p *parser) power() (node, error) {
	base, err := p.atom()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.advance()
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) atom() (node, error) {
	t := p.advance()
	switch t.typ {
	case tokenNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, t.val, t.pos)
		}
		return numberNode(f), nil
	case tokenIdent:
		if p.peek().typ != tokenLParen {
			return nameNode(t.val), nil
		}
		if _, ok := functions[t.val]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, t.val)
		}
		p.advance()
		arg, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return callNode{name: t.val, arg: arg}, nil
	case tokenLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("%w: unexpected %s %q at %d", ErrSyntax, t.typ, t.val, t.pos)
}

func (p *parser) expect(typ tokenType) error {
	t := p.advance()
	if t.typ != typ {
		return fmt.Errorf("%w: expected %s, got %s %q at %d", ErrSyntax, typ, t.typ, t.val, t.pos)
	}
	return nil
}
