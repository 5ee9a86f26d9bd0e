// parser.go — recursive-descent / Pratt parser producing the uniform Node tree.
//
// OVERVIEW
// --------
// The parser consumes the token stream from lexer.go and builds a homogeneous
// syntax tree: every node is a Node{Head, Kids, payload} where Head is drawn
// from a closed enum and leaf payloads are one of int64 / float64 /
// complex128 / string / *ClassicalType. Statement heads mirror the source
// constructs one-to-one; the visitor (visitor.go) elaborates them.
//
// Expression parsing is a Pratt parser with the standard C-family precedence
// table; `**` is right-associative and binds tighter than unary minus.
//
// Node shapes (kids in order):
//
//	program               stmt*
//	scope                 stmt*
//	version               (payload S = version text)
//	include               string_literal
//	identifier            (S = name)
//	indexed_identifier    identifier index*        index: expr | range | array_literal
//	integer_literal       (I)        float_literal (F)      complex_literal (C)
//	boolean_literal       (I = 0/1)  string_literal (S)     irrational_literal (F, S = lexeme)
//	hardware_qubit        (I = index)
//	array_literal         expr*
//	range                 start step stop          missing stop = integer_literal(-1)
//	binary_op             lhs rhs    (S = operator)
//	unary_op              operand    (S = operator)
//	cast                  classical_type expr
//	classical_type        size/shape exprs…        (T = descriptor)
//	n_dims                (I = dimension count)
//	classical_declaration classical_type (identifier | classical_assignment)
//	const_declaration     classical_type classical_assignment
//	input / output        classical_type identifier
//	classical_assignment  lhs rhs    (S = operator, "=" or compound)
//	qubit_declaration     identifier sizeExpr?
//	gate_definition       identifier arguments qubit_targets scope
//	gate_call             identifier arguments qubit_targets
//	function_definition   identifier arguments classical_type? scope
//	function_call         identifier arguments
//	arguments             expr*
//	qubit_targets         expr*
//	power_mod             expr inner      control_mod  expr? inner
//	inverse_mod           inner           negctrl_mod  expr? inner
//	if                    cond scope else?
//	else                  (scope | if)
//	for                   classical_type identifier iterable scope
//	while                 cond scope
//	switch                expr case* default?
//	case                  arguments scope
//	default               scope
//	break / continue / end
//	return                expr?
//	measure               qubit_targets
//	observable            factor*                  factor: observable (S = name) qubit_targets? | hermitian
//	hermitian             array_literal qubit_targets?
//	pragma                (S = subtype) kids per subtype
//	box                   scope
package quasar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Head tags a Node with its syntactic role.
type Head int

const (
	HProgram Head = iota
	HScope
	HVersion
	HInclude
	HIdentifier
	HIndexedIdentifier
	HIntegerLiteral
	HFloatLiteral
	HComplexLiteral
	HBooleanLiteral
	HStringLiteral
	HIrrationalLiteral
	HHardwareQubit
	HArrayLiteral
	HRange
	HBinaryOp
	HUnaryOp
	HCast
	HClassicalType
	HNDims
	HClassicalDeclaration
	HConstDeclaration
	HInput
	HOutput
	HClassicalAssignment
	HQubitDeclaration
	HGateDefinition
	HGateCall
	HFunctionDefinition
	HFunctionCall
	HArguments
	HQubitTargets
	HPowerMod
	HInverseMod
	HControlMod
	HNegCtrlMod
	HModifiers
	HIf
	HElse
	HFor
	HWhile
	HSwitch
	HCase
	HDefault
	HBreak
	HContinue
	HReturn
	HMeasure
	HObservable
	HHermitian
	HPragma
	HBox
	HEnd
)

var headNames = map[Head]string{
	HProgram: "program", HScope: "scope", HVersion: "version",
	HInclude: "include", HIdentifier: "identifier",
	HIndexedIdentifier: "indexed_identifier", HIntegerLiteral: "integer_literal",
	HFloatLiteral: "float_literal", HComplexLiteral: "complex_literal",
	HBooleanLiteral: "boolean_literal", HStringLiteral: "string_literal",
	HIrrationalLiteral: "irrational_literal", HHardwareQubit: "hardware_qubit",
	HArrayLiteral: "array_literal", HRange: "range", HBinaryOp: "binary_op",
	HUnaryOp: "unary_op", HCast: "cast", HClassicalType: "classical_type",
	HNDims: "n_dims", HClassicalDeclaration: "classical_declaration",
	HConstDeclaration: "const_declaration", HInput: "input", HOutput: "output",
	HClassicalAssignment: "classical_assignment",
	HQubitDeclaration:    "qubit_declaration", HGateDefinition: "gate_definition",
	HGateCall: "gate_call", HFunctionDefinition: "function_definition",
	HFunctionCall: "function_call", HArguments: "arguments",
	HQubitTargets: "qubit_targets", HPowerMod: "power_mod",
	HInverseMod: "inverse_mod", HControlMod: "control_mod",
	HNegCtrlMod: "negctrl_mod", HModifiers: "modifiers", HIf: "if", HElse: "else",
	HFor: "for", HWhile: "while", HSwitch: "switch", HCase: "case",
	HDefault: "default", HBreak: "break", HContinue: "continue",
	HReturn: "return", HMeasure: "measure", HObservable: "observable",
	HHermitian: "hermitian", HPragma: "pragma", HBox: "box", HEnd: "end",
}

func (h Head) String() string {
	if s, ok := headNames[h]; ok {
		return s
	}
	return fmt.Sprintf("head(%d)", int(h))
}

// Node is the uniform syntax tree node. Exactly one payload field is
// meaningful per head (see the file header); unused fields stay zero.
type Node struct {
	Head Head
	Kids []*Node

	I int64
	F float64
	C complex128
	S string
	T *ClassicalType
}

func mk(h Head, kids ...*Node) *Node { return &Node{Head: h, Kids: kids} }

func intNode(v int64) *Node     { return &Node{Head: HIntegerLiteral, I: v} }
func floatNode(v float64) *Node { return &Node{Head: HFloatLiteral, F: v} }
func identNode(s string) *Node  { return &Node{Head: HIdentifier, S: s} }

// Equal reports structural equality of two trees (payloads and kids).
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Head != o.Head || n.I != o.I || n.F != o.F || n.C != o.C || n.S != o.S {
		return false
	}
	if (n.T == nil) != (o.T == nil) {
		return false
	}
	if n.T != nil && !n.T.Equal(o.T) {
		return false
	}
	if len(n.Kids) != len(o.Kids) {
		return false
	}
	for i := range n.Kids {
		if !n.Kids[i].Equal(o.Kids[i]) {
			return false
		}
	}
	return true
}

// reservedKeywords are accepted by the grammar of OpenQASM 3 but not by this
// front-end; seeing one is a parse error.
var reservedKeywords = map[string]bool{
	"reset": true, "delay": true, "barrier": true, "cal": true,
	"defcal": true, "defcalgrammar": true, "duration": true,
	"durationof": true, "stretch": true, "extern": true,
}

var modifierNames = map[string]Head{
	"pow": HPowerMod, "inv": HInverseMod,
	"ctrl": HControlMod, "negctrl": HNegCtrlMod,
}

// Parse tokenizes and parses a complete OpenQASM 3 source string.
func Parse(src string) (*Node, error) {
	lex := NewLexer(src)
	toks, err := lex.Scan()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, lex: lex}
	return p.program()
}

type parser struct {
	toks []Token
	i    int
	lex  *Lexer
}

func (p *parser) peek() Token {
	if p.i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i]
}

func (p *parser) peekN(n int) Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) prev() Token { return p.toks[p.i-1] }

func (p *parser) atEnd() bool { return p.peek().Kind == EOF }

func (p *parser) text(t Token) string { return p.lex.Text(t) }

func (p *parser) check(k TokenKind) bool { return p.peek().Kind == k }

func (p *parser) match(kinds ...TokenKind) bool {
	for _, k := range kinds {
		if p.peek().Kind == k {
			p.i++
			return true
		}
	}
	return false
}

func (p *parser) need(k TokenKind, msg string) (Token, error) {
	if p.match(k) {
		return p.prev(), nil
	}
	return Token{}, parseErrf(p.peek().Off, "%s", msg)
}

func (p *parser) errHere(format string, args ...any) error {
	return parseErrf(p.peek().Off, format, args...)
}

// ─────────────────────────── program & statements ───────────────────────────

func (p *parser) program() (*Node, error) {
	root := mk(HProgram)
	for !p.atEnd() {
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		root.Kids = append(root.Kids, st)
	}
	return root, nil
}

// scopeBlock parses `{ stmt* }`. Brace pairing is tracked by the recursion;
// EOF before the closing brace is an unmatched-scope error at the opener.
func (p *parser) scopeBlock() (*Node, error) {
	open, err := p.need(LBRACE, "expected '{'")
	if err != nil {
		return nil, err
	}
	sc := mk(HScope)
	for !p.check(RBRACE) {
		if p.atEnd() {
			return nil, parseErrf(open.Off, "unmatched '{'")
		}
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		sc.Kids = append(sc.Kids, st)
	}
	p.i++ // consume '}'
	return sc, nil
}

// blockOrStatement parses either a braced scope or a single statement
// wrapped in a scope (used by if/else bodies).
func (p *parser) blockOrStatement() (*Node, error) {
	if p.check(LBRACE) {
		return p.scopeBlock()
	}
	st, err := p.statement()
	if err != nil {
		return nil, err
	}
	return mk(HScope, st), nil
}

func (p *parser) semicolon() error {
	if _, err := p.need(SEMICOLON, "missing ';' after statement"); err != nil {
		return err
	}
	return nil
}

func (p *parser) statement() (*Node, error) {
	t := p.peek()
	switch t.Kind {
	case OPENQASM:
		return p.versionStatement()
	case INCLUDE:
		return p.includeStatement()
	case PRAGMA:
		return p.pragma()
	case CONST:
		p.i++
		n, err := p.classicalDeclaration(true)
		if err != nil {
			return nil, err
		}
		return n, p.semicolon()
	case INPUT, OUTPUT:
		return p.ioDeclaration()
	case QUBIT:
		return p.qubitDeclaration()
	case GATE:
		return p.gateDefinition()
	case DEF:
		return p.functionDefinition()
	case FOR:
		return p.forStatement()
	case WHILE:
		return p.whileStatement()
	case IF:
		return p.ifStatement()
	case SWITCH:
		return p.switchStatement()
	case BOX:
		return p.boxStatement()
	case BREAK:
		p.i++
		return mk(HBreak), p.semicolon()
	case CONTINUE:
		p.i++
		return mk(HContinue), p.semicolon()
	case END:
		p.i++
		return mk(HEnd), p.semicolon()
	case RETURN:
		return p.returnStatement()
	case MEASURE:
		return p.measureStatement()
	case LBRACE:
		return p.scopeBlock()
	case BITTYPE, INTTYPE, UINTTYPE, FLOATTYPE, ANGLETYPE, COMPLEXTYPE,
		BOOLTYPE, ARRAY:
		n, err := p.classicalDeclaration(false)
		if err != nil {
			return nil, err
		}
		return n, p.semicolon()
	case IDENT:
		name := p.text(t)
		if reservedKeywords[name] {
			return nil, parseErrf(t.Off, "unsupported keyword %q", name)
		}
		if _, ok := modifierNames[name]; ok && p.startsModifierChain() {
			return p.modifierChain()
		}
		return p.identStatement()
	case HWQUBIT:
		// Gate calls may target hardware qubits without a register, e.g.
		// after a modifier chain; a bare hardware qubit cannot open a
		// statement otherwise.
		return nil, parseErrf(t.Off, "unexpected hardware qubit")
	default:
		return nil, parseErrf(t.Off, "unexpected token at statement start")
	}
}

func (p *parser) versionStatement() (*Node, error) {
	p.i++ // OPENQASM
	t := p.peek()
	if t.Kind != INT && t.Kind != FLOAT {
		return nil, parseErrf(t.Off, "malformed version: expected version number after OPENQASM")
	}
	p.i++
	n := &Node{Head: HVersion, S: p.text(t)}
	if !strings.HasPrefix(n.S, "3") {
		return nil, parseErrf(t.Off, "unsupported OpenQASM version %s", n.S)
	}
	return n, p.semicolon()
}

func (p *parser) includeStatement() (*Node, error) {
	p.i++ // include
	t, err := p.need(STRING, "expected file name string after include")
	if err != nil {
		return nil, err
	}
	lit := &Node{Head: HStringLiteral, S: unquote(p.text(t))}
	return mk(HInclude, lit), p.semicolon()
}

func (p *parser) ioDeclaration() (*Node, error) {
	head := HInput
	if p.peek().Kind == OUTPUT {
		head = HOutput
	}
	p.i++
	ty, err := p.classicalType()
	if err != nil {
		return nil, err
	}
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	return mk(head, ty, id), p.semicolon()
}

func (p *parser) qubitDeclaration() (*Node, error) {
	p.i++ // qubit
	var size *Node
	if p.match(LBRACKET) {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RBRACKET, "expected ']' after qubit register size"); err != nil {
			return nil, err
		}
		size = e
	}
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	n := mk(HQubitDeclaration, id)
	if size != nil {
		n.Kids = append(n.Kids, size)
	}
	return n, p.semicolon()
}

// classicalDeclaration parses `T name [= expr]`. The declaration wraps its
// initializer as a classical_assignment child so the visitor can recurse
// into it directly.
func (p *parser) classicalDeclaration(isConst bool) (*Node, error) {
	ty, err := p.classicalType()
	if err != nil {
		return nil, err
	}
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	head := HClassicalDeclaration
	if isConst {
		head = HConstDeclaration
	}
	if p.match(ASSIGN) {
		rhs, err := p.parseDeclInit()
		if err != nil {
			return nil, err
		}
		asn := &Node{Head: HClassicalAssignment, S: "=", Kids: []*Node{id, rhs}}
		return mk(head, ty, asn), nil
	}
	if isConst {
		return nil, p.errHere("const declaration requires an initializer")
	}
	return mk(head, ty, id), nil
}

// parseDeclInit allows brace array initializers in addition to expressions.
func (p *parser) parseDeclInit() (*Node, error) {
	if p.check(LBRACE) {
		return p.braceArrayLiteral()
	}
	return p.parseExpr(0)
}

func (p *parser) braceArrayLiteral() (*Node, error) {
	if _, err := p.need(LBRACE, "expected '{'"); err != nil {
		return nil, err
	}
	arr := mk(HArrayLiteral)
	if p.match(RBRACE) {
		return arr, nil
	}
	for {
		var e *Node
		var err error
		if p.check(LBRACE) {
			e, err = p.braceArrayLiteral()
		} else {
			e, err = p.parseExpr(0)
		}
		if err != nil {
			return nil, err
		}
		arr.Kids = append(arr.Kids, e)
		if p.match(COMMA) {
			continue
		}
		break
	}
	if _, err := p.need(RBRACE, "expected '}' after array literal"); err != nil {
		return nil, err
	}
	return arr, nil
}

// classicalType parses a type designator. Literal sizes are folded into the
// descriptor; non-literal size expressions stay as kids for the visitor to
// resolve.
func (p *parser) classicalType() (*Node, error) {
	t := p.peek()
	switch t.Kind {
	case BITTYPE, INTTYPE, UINTTYPE, FLOATTYPE, ANGLETYPE, COMPLEXTYPE:
		p.i++
		kind := map[TokenKind]TypeKind{
			BITTYPE: BitT, INTTYPE: IntT, UINTTYPE: UintT,
			FLOATTYPE: FloatT, ANGLETYPE: AngleT, COMPLEXTYPE: ComplexT,
		}[t.Kind]
		n := &Node{Head: HClassicalType, T: &ClassicalType{Kind: kind, Size: -1}}
		if p.match(LBRACKET) {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.need(RBRACKET, "expected ']' after type size"); err != nil {
				return nil, err
			}
			if e.Head == HIntegerLiteral {
				n.T.Size = int(e.I)
			} else {
				n.Kids = append(n.Kids, e)
			}
		}
		return n, nil
	case BOOLTYPE:
		p.i++
		return &Node{Head: HClassicalType, T: &ClassicalType{Kind: BoolT, Size: -1}}, nil
	case ARRAY:
		p.i++
		if _, err := p.need(LBRACKET, "expected '[' after array"); err != nil {
			return nil, err
		}
		elem, err := p.classicalType()
		if err != nil {
			return nil, err
		}
		n := &Node{Head: HClassicalType, T: &ClassicalType{Kind: ArrayT, Size: -1}, Kids: []*Node{elem}}
		for p.match(COMMA) {
			if p.check(DIM) {
				p.i++
				if _, err := p.need(ASSIGN, "expected '=' after #dim"); err != nil {
					return nil, err
				}
				dt, err := p.need(INT, "expected integer dimension count after #dim =")
				if err != nil {
					return nil, err
				}
				v, err := strconv.ParseInt(p.text(dt), 10, 64)
				if err != nil {
					return nil, parseErrf(dt.Off, "malformed dimension count")
				}
				n.Kids = append(n.Kids, &Node{Head: HNDims, I: v})
				continue
			}
			d, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, d)
		}
		if _, err := p.need(RBRACKET, "expected ']' after array type"); err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, parseErrf(t.Off, "expected classical type")
}

func (p *parser) identifier() (*Node, error) {
	t, err := p.need(IDENT, "expected identifier")
	if err != nil {
		return nil, err
	}
	name := p.text(t)
	if reservedKeywords[name] {
		return nil, parseErrf(t.Off, "unsupported keyword %q", name)
	}
	return identNode(name), nil
}

// ─────────────────────────── definitions ───────────────────────────

func (p *parser) gateDefinition() (*Node, error) {
	p.i++ // gate
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	params := mk(HArguments)
	if p.match(LPAREN) {
		for !p.check(RPAREN) {
			a, err := p.identifier()
			if err != nil {
				return nil, err
			}
			params.Kids = append(params.Kids, a)
			if !p.match(COMMA) {
				break
			}
		}
		if _, err := p.need(RPAREN, "expected ')' after gate parameters"); err != nil {
			return nil, err
		}
	}
	targets := mk(HQubitTargets)
	for {
		q, err := p.identifier()
		if err != nil {
			return nil, err
		}
		targets.Kids = append(targets.Kids, q)
		if !p.match(COMMA) {
			break
		}
	}
	body, err := p.scopeBlock()
	if err != nil {
		return nil, err
	}
	return mk(HGateDefinition, id, params, targets, body), nil
}

func (p *parser) functionDefinition() (*Node, error) {
	p.i++ // def
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(LPAREN, "expected '(' after def name"); err != nil {
		return nil, err
	}
	args := mk(HArguments)
	for !p.check(RPAREN) {
		a, err := p.defArgument()
		if err != nil {
			return nil, err
		}
		args.Kids = append(args.Kids, a)
		if !p.match(COMMA) {
			break
		}
	}
	if _, err := p.need(RPAREN, "expected ')' after def arguments"); err != nil {
		return nil, err
	}
	n := mk(HFunctionDefinition, id, args)
	if p.match(ARROW) {
		rt, err := p.classicalType()
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, rt)
	}
	body, err := p.scopeBlock()
	if err != nil {
		return nil, err
	}
	n.Kids = append(n.Kids, body)
	return n, nil
}

// defArgument parses one declared argument of a def: a classical
// declaration, a mutable/readonly array argument, or a qubit parameter.
func (p *parser) defArgument() (*Node, error) {
	switch p.peek().Kind {
	case QUBIT:
		p.i++
		var size *Node
		if p.match(LBRACKET) {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.need(RBRACKET, "expected ']' after qubit size"); err != nil {
				return nil, err
			}
			size = e
		}
		id, err := p.identifier()
		if err != nil {
			return nil, err
		}
		n := mk(HQubitDeclaration, id)
		if size != nil {
			n.Kids = append(n.Kids, size)
		}
		return n, nil
	case MUTABLE, READONLY:
		mutable := p.peek().Kind == MUTABLE
		p.i++
		ty, err := p.classicalType()
		if err != nil {
			return nil, err
		}
		id, err := p.identifier()
		if err != nil {
			return nil, err
		}
		n := mk(HClassicalDeclaration, ty, id)
		if mutable {
			n.S = "mutable"
		} else {
			n.S = "readonly"
		}
		return n, nil
	default:
		return p.classicalDeclaration(false)
	}
}

// ─────────────────────────── control flow ───────────────────────────

func (p *parser) forStatement() (*Node, error) {
	p.i++ // for
	ty, err := p.classicalType()
	if err != nil {
		return nil, err
	}
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(IN, "expected 'in' in for statement"); err != nil {
		return nil, err
	}
	iter, err := p.forIterable()
	if err != nil {
		return nil, err
	}
	body, err := p.scopeBlock()
	if err != nil {
		return nil, err
	}
	return mk(HFor, ty, id, iter, body), nil
}

// forIterable parses `[a:b]`, `[a:s:b]`, `{…}`, or an expression.
func (p *parser) forIterable() (*Node, error) {
	switch p.peek().Kind {
	case LBRACKET:
		p.i++
		r, err := p.indexElement()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RBRACKET, "expected ']' after range"); err != nil {
			return nil, err
		}
		return r, nil
	case LBRACE:
		return p.braceArrayLiteral()
	default:
		return p.parseExpr(0)
	}
}

func (p *parser) whileStatement() (*Node, error) {
	p.i++ // while
	if _, err := p.need(LPAREN, "expected '(' after while"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.need(RPAREN, "expected ')' after while condition"); err != nil {
		return nil, err
	}
	body, err := p.scopeBlock()
	if err != nil {
		return nil, err
	}
	return mk(HWhile, cond, body), nil
}

func (p *parser) ifStatement() (*Node, error) {
	p.i++ // if
	if _, err := p.need(LPAREN, "expected '(' after if"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.need(RPAREN, "expected ')' after if condition"); err != nil {
		return nil, err
	}
	then, err := p.blockOrStatement()
	if err != nil {
		return nil, err
	}
	n := mk(HIf, cond, then)
	if p.match(ELSE) {
		var inner *Node
		if p.check(IF) {
			inner, err = p.ifStatement()
		} else {
			inner, err = p.blockOrStatement()
		}
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, mk(HElse, inner))
	}
	return n, nil
}

func (p *parser) switchStatement() (*Node, error) {
	p.i++ // switch
	if _, err := p.need(LPAREN, "expected '(' after switch"); err != nil {
		return nil, err
	}
	subject, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.need(RPAREN, "expected ')' after switch subject"); err != nil {
		return nil, err
	}
	if _, err := p.need(LBRACE, "expected '{' after switch"); err != nil {
		return nil, err
	}
	n := mk(HSwitch, subject)
	for !p.check(RBRACE) {
		switch {
		case p.match(CASE):
			labels := mk(HArguments)
			for {
				e, err := p.parseExpr(0)
				if err != nil {
					return nil, err
				}
				labels.Kids = append(labels.Kids, e)
				if !p.match(COMMA) {
					break
				}
			}
			body, err := p.scopeBlock()
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, mk(HCase, labels, body))
		case p.match(DEFAULT):
			body, err := p.scopeBlock()
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, mk(HDefault, body))
		default:
			return nil, p.errHere("expected case or default in switch body")
		}
	}
	p.i++ // '}'
	return n, nil
}

func (p *parser) boxStatement() (*Node, error) {
	p.i++ // box
	body, err := p.scopeBlock()
	if err != nil {
		return nil, err
	}
	return mk(HBox, body), nil
}

func (p *parser) returnStatement() (*Node, error) {
	p.i++ // return
	n := mk(HReturn)
	if !p.check(SEMICOLON) {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, e)
	}
	return n, p.semicolon()
}

func (p *parser) measureStatement() (*Node, error) {
	m, err := p.measureExpr()
	if err != nil {
		return nil, err
	}
	if p.match(ARROW) {
		lhs, err := p.lvalue()
		if err != nil {
			return nil, err
		}
		asn := &Node{Head: HClassicalAssignment, S: "=", Kids: []*Node{lhs, m}}
		return asn, p.semicolon()
	}
	return m, p.semicolon()
}

func (p *parser) measureExpr() (*Node, error) {
	p.i++ // measure
	targets := mk(HQubitTargets)
	for {
		q, err := p.qubitTarget()
		if err != nil {
			return nil, err
		}
		targets.Kids = append(targets.Kids, q)
		if !p.match(COMMA) {
			break
		}
	}
	return mk(HMeasure, targets), nil
}

// ─────────────────────────── gate calls & modifiers ───────────────────────────

// startsModifierChain reports whether the identifier at the cursor opens a
// gate-modifier chain (`pow(2) @ …`, `ctrl @ …`).
func (p *parser) startsModifierChain() bool {
	next := p.peekN(1)
	if next.Kind == AT {
		return true
	}
	if next.Kind != LPAREN {
		return false
	}
	depth := 0
	for j := p.i + 1; j < len(p.toks); j++ {
		switch p.toks[j].Kind {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
			if depth == 0 {
				return p.peekN(j+1-p.i).Kind == AT
			}
		case EOF:
			return false
		}
	}
	return false
}

// modifierChain parses `mod @ mod @ … @ gatecall;` into nested modifier
// statement nodes wrapping the inner gate call.
func (p *parser) modifierChain() (*Node, error) {
	t := p.peek()
	name := p.text(t)
	head, ok := modifierNames[name]
	if !ok {
		return p.identStatement()
	}
	if !p.startsModifierChain() {
		return p.identStatement()
	}
	p.i++ // modifier name
	var arg *Node
	if p.match(LPAREN) {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RPAREN, "expected ')' after modifier argument"); err != nil {
			return nil, err
		}
		arg = e
	}
	if _, err := p.need(AT, "expected '@' after gate modifier"); err != nil {
		return nil, err
	}
	if head == HPowerMod && arg == nil {
		return nil, parseErrf(t.Off, "pow modifier requires an argument")
	}

	var inner *Node
	var err error
	nt := p.peek()
	if nt.Kind == IDENT {
		if _, isMod := modifierNames[p.text(nt)]; isMod && p.startsModifierChain() {
			inner, err = p.modifierChain()
		} else {
			inner, err = p.gateCallStatement()
		}
	} else {
		return nil, p.errHere("expected gate call after modifier")
	}
	if err != nil {
		return nil, err
	}
	n := mk(head)
	if arg != nil {
		n.Kids = append(n.Kids, arg)
	}
	n.Kids = append(n.Kids, inner)
	return n, nil
}

// identStatement disambiguates statements opening with an identifier:
// assignment, function-call statement, or gate call.
func (p *parser) identStatement() (*Node, error) {
	// Assignment: IDENT [indices] (= | compound) …
	if p.isAssignmentAhead() {
		return p.assignmentStatement()
	}

	// IDENT ( … ) ;  → function-call statement (gphase excepted).
	name := p.text(p.peek())
	if p.peekN(1).Kind == LPAREN && name != "gphase" {
		if end, ok := p.matchingParen(p.i + 1); ok && p.toks[end+1].Kind == SEMICOLON {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			return e, p.semicolon()
		}
	}
	return p.gateCallStatement()
}

// isAssignmentAhead reports whether the cursor opens an assignment
// statement: IDENT, optional bracketed index groups, then an assignment
// operator. Pure lookahead; the cursor is untouched.
func (p *parser) isAssignmentAhead() bool {
	j := p.i
	if p.toks[j].Kind != IDENT {
		return false
	}
	j++
	depth := 0
	for p.toks[j].Kind == LBRACKET || depth > 0 {
		switch p.toks[j].Kind {
		case LBRACKET:
			depth++
		case RBRACKET:
			depth--
		case EOF:
			return false
		}
		j++
	}
	_, ok := compoundOps[p.toks[j].Kind]
	return ok
}

var compoundOps = map[TokenKind]string{
	ASSIGN: "=", PLUSEQ: "+=", MINUSEQ: "-=", STAREQ: "*=", SLASHEQ: "/=",
	CARETEQ: "^=", AMPEQ: "&=", PIPEEQ: "|=", LSHIFTEQ: "<<=", RSHIFTEQ: ">>=",
}

func (p *parser) assignmentStatement() (*Node, error) {
	lhs, err := p.lvalue()
	if err != nil {
		return nil, err
	}
	opTok := p.peek()
	op, ok := compoundOps[opTok.Kind]
	if !ok {
		return nil, parseErrf(opTok.Off, "expected assignment operator")
	}
	p.i++
	rhs, err := p.parseDeclInit()
	if err != nil {
		return nil, err
	}
	n := &Node{Head: HClassicalAssignment, S: op, Kids: []*Node{lhs, rhs}}
	return n, p.semicolon()
}

// lvalue parses an assignable target: identifier or indexed identifier.
func (p *parser) lvalue() (*Node, error) {
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if !p.check(LBRACKET) {
		return id, nil
	}
	return p.indexSuffix(id)
}

// indexSuffix parses one or more bracketed index groups after a base
// identifier, producing an indexed_identifier node.
func (p *parser) indexSuffix(base *Node) (*Node, error) {
	n := mk(HIndexedIdentifier, base)
	for p.match(LBRACKET) {
		for {
			e, err := p.indexElement()
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, e)
			if !p.match(COMMA) {
				break
			}
		}
		if _, err := p.need(RBRACKET, "expected ']' after index"); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// indexElement parses a single index entry: an expression, a brace set, or a
// range `a : b` / `a : s : b` (missing stop encoded as integer_literal(-1)).
func (p *parser) indexElement() (*Node, error) {
	if p.check(LBRACE) {
		return p.braceArrayLiteral()
	}
	start, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if !p.match(COLON) {
		return start, nil
	}
	missingStop := func() bool {
		return p.check(RBRACKET) || p.check(COMMA)
	}
	if missingStop() {
		return mk(HRange, start, intNode(1), intNode(-1)), nil
	}
	second, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if !p.match(COLON) {
		return mk(HRange, start, intNode(1), second), nil
	}
	if missingStop() {
		return mk(HRange, start, second, intNode(-1)), nil
	}
	stop, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	return mk(HRange, start, second, stop), nil
}

// qubitTarget parses a single gate-call target: identifier (possibly
// indexed) or hardware qubit.
func (p *parser) qubitTarget() (*Node, error) {
	if p.check(HWQUBIT) {
		t := p.peek()
		p.i++
		v, err := strconv.ParseInt(p.text(t)[1:], 10, 64)
		if err != nil {
			return nil, parseErrf(t.Off, "malformed hardware qubit")
		}
		return &Node{Head: HHardwareQubit, I: v}, nil
	}
	return p.lvalue()
}

// gateCallStatement parses `name [(args)] [targets] ;`.
func (p *parser) gateCallStatement() (*Node, error) {
	id, err := p.identifier()
	if err != nil {
		return nil, err
	}
	args := mk(HArguments)
	if p.match(LPAREN) {
		for !p.check(RPAREN) {
			a, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args.Kids = append(args.Kids, a)
			if !p.match(COMMA) {
				break
			}
		}
		if _, err := p.need(RPAREN, "expected ')' after gate arguments"); err != nil {
			return nil, err
		}
	}
	targets := mk(HQubitTargets)
	for !p.check(SEMICOLON) {
		q, err := p.qubitTarget()
		if err != nil {
			return nil, err
		}
		targets.Kids = append(targets.Kids, q)
		if !p.match(COMMA) {
			break
		}
	}
	n := mk(HGateCall, id, args, targets)
	return n, p.semicolon()
}

// matchingParen returns the index of the ')' matching the '(' at tok index
// open, using the same counter discipline as scopes.
func (p *parser) matchingParen(open int) (int, bool) {
	depth := 0
	for j := open; j < len(p.toks); j++ {
		switch p.toks[j].Kind {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
			if depth == 0 {
				return j, true
			}
		case EOF:
			return 0, false
		}
	}
	return 0, false
}

// ─────────────────────────── expressions (Pratt) ───────────────────────────

// binding powers, C-family. POWER is right-associative.
func leftBP(k TokenKind) int {
	switch k {
	case OROR:
		return 10
	case ANDAND:
		return 20
	case PIPE:
		return 30
	case CARET:
		return 40
	case AMP:
		return 50
	case EQ, NEQ:
		return 60
	case LT, LE, GT, GE:
		return 70
	case LSHIFT, RSHIFT:
		return 80
	case PLUS, MINUS:
		return 90
	case STAR, SLASH, PERCENT:
		return 100
	case POWER:
		return 120
	}
	return 0
}

const unaryBP = 110 // tighter than '*', looser than '**'

var binaryOpText = map[TokenKind]string{
	OROR: "||", ANDAND: "&&", PIPE: "|", CARET: "^", AMP: "&", EQ: "==",
	NEQ: "!=", LT: "<", LE: "<=", GT: ">", GE: ">=", LSHIFT: "<<",
	RSHIFT: ">>", PLUS: "+", MINUS: "-", STAR: "*", SLASH: "/", PERCENT: "%",
	POWER: "**",
}

func (p *parser) parseExpr(minBP int) (*Node, error) {
	left, err := p.nud()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().Kind
		bp := leftBP(k)
		if bp == 0 || bp <= minBP {
			break
		}
		p.i++
		rbp := bp
		if k == POWER {
			rbp = bp - 1 // right-associative
		}
		right, err := p.parseExpr(rbp)
		if err != nil {
			return nil, err
		}
		left = &Node{Head: HBinaryOp, S: binaryOpText[k], Kids: []*Node{left, right}}
	}
	return left, nil
}

// nud parses a prefix/atom expression plus its postfix suffixes.
func (p *parser) nud() (*Node, error) {
	t := p.peek()
	switch t.Kind {
	case INT:
		p.i++
		v, err := strconv.ParseInt(strings.ReplaceAll(p.text(t), "_", ""), 10, 64)
		if err != nil {
			return nil, parseErrf(t.Off, "malformed integer literal")
		}
		return intNode(v), nil
	case HEXINT, OCTINT, BININT:
		p.i++
		txt := strings.ReplaceAll(p.text(t), "_", "")
		v, err := strconv.ParseInt(txt[2:], map[TokenKind]int{HEXINT: 16, OCTINT: 8, BININT: 2}[t.Kind], 64)
		if err != nil {
			return nil, parseErrf(t.Off, "malformed integer literal")
		}
		return intNode(v), nil
	case FLOAT:
		p.i++
		v, err := strconv.ParseFloat(p.text(t), 64)
		if err != nil {
			return nil, parseErrf(t.Off, "malformed float literal")
		}
		return floatNode(v), nil
	case IMAG:
		p.i++
		txt := p.text(t)
		v, err := strconv.ParseFloat(strings.TrimSpace(txt[:len(txt)-2]), 64)
		if err != nil {
			return nil, parseErrf(t.Off, "malformed imaginary literal")
		}
		return &Node{Head: HComplexLiteral, C: complex(0, v)}, nil
	case STRING:
		p.i++
		return &Node{Head: HStringLiteral, S: unquote(p.text(t))}, nil
	case BOOLEAN:
		p.i++
		var v int64
		if p.text(t) == "true" {
			v = 1
		}
		return &Node{Head: HBooleanLiteral, I: v}, nil
	case IRRATIONAL:
		p.i++
		lex := p.text(t)
		return &Node{Head: HIrrationalLiteral, S: lex, F: irrationalValue(lex)}, nil
	case HWQUBIT:
		p.i++
		v, err := strconv.ParseInt(p.text(t)[1:], 10, 64)
		if err != nil {
			return nil, parseErrf(t.Off, "malformed hardware qubit")
		}
		return &Node{Head: HHardwareQubit, I: v}, nil
	case MINUS, BANG, TILDE:
		p.i++
		operand, err := p.parseExpr(unaryBP)
		if err != nil {
			return nil, err
		}
		op := map[TokenKind]string{MINUS: "-", BANG: "!", TILDE: "~"}[t.Kind]
		return &Node{Head: HUnaryOp, S: op, Kids: []*Node{operand}}, nil
	case LPAREN:
		p.i++
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RPAREN, "expected ')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case LBRACKET:
		p.i++
		arr := mk(HArrayLiteral)
		for !p.check(RBRACKET) {
			e, err := p.indexElement()
			if err != nil {
				return nil, err
			}
			arr.Kids = append(arr.Kids, e)
			if !p.match(COMMA) {
				break
			}
		}
		if _, err := p.need(RBRACKET, "expected ']' after array literal"); err != nil {
			return nil, err
		}
		return arr, nil
	case LBRACE:
		return p.braceArrayLiteral()
	case MEASURE:
		return p.measureExpr()
	case BITTYPE, INTTYPE, UINTTYPE, FLOATTYPE, ANGLETYPE, COMPLEXTYPE,
		BOOLTYPE, ARRAY:
		ty, err := p.classicalType()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(LPAREN, "expected '(' after cast type"); err != nil {
			return nil, err
		}
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RPAREN, "expected ')' after cast operand"); err != nil {
			return nil, err
		}
		return mk(HCast, ty, e), nil
	case IDENT:
		name := p.text(t)
		if reservedKeywords[name] {
			return nil, parseErrf(t.Off, "unsupported keyword %q", name)
		}
		p.i++
		id := identNode(name)
		if p.check(LPAREN) {
			p.i++
			args := mk(HArguments)
			for !p.check(RPAREN) {
				a, err := p.parseExpr(0)
				if err != nil {
					return nil, err
				}
				args.Kids = append(args.Kids, a)
				if !p.match(COMMA) {
					break
				}
			}
			if _, err := p.need(RPAREN, "expected ')' after call arguments"); err != nil {
				return nil, err
			}
			return mk(HFunctionCall, id, args), nil
		}
		if p.check(LBRACKET) {
			return p.indexSuffix(id)
		}
		return id, nil
	}
	return nil, parseErrf(t.Off, "unexpected token in expression")
}

func irrationalValue(lex string) float64 {
	switch lex {
	case "pi", "π":
		return math.Pi
	case "tau", "τ":
		return 2 * math.Pi
	default: // euler, ℯ, ℇ
		return math.E
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}

// ─────────────────────────── pragmas ───────────────────────────

var resultKinds = map[string]ResultKind{
	"state_vector": StateVectorResult, "amplitude": AmplitudeResult,
	"probability": ProbabilityResult, "density_matrix": DensityMatrixResult,
	"expectation": ExpectationResult, "variance": VarianceResult,
	"sample": SampleResult,
}

var observableNames = map[string]bool{
	"x": true, "y": true, "z": true, "i": true, "h": true,
}

// pragma parses a `#pragma braket …` line. Consumption stops at the end of
// the source line the pragma starts on.
func (p *parser) pragma() (*Node, error) {
	tok := p.peek()
	p.i++ // #pragma
	line := tok.Line

	onLine := func() bool { return !p.atEnd() && p.peek().Line == line }

	if !onLine() || p.peek().Kind != IDENT || p.text(p.peek()) != "braket" {
		return nil, parseErrf(tok.Off, "unknown pragma: expected 'braket' namespace")
	}
	p.i++

	if !onLine() || p.peek().Kind != IDENT {
		return nil, parseErrf(tok.Off, "unknown pragma: missing subtype")
	}
	sub := p.text(p.peek())
	p.i++

	var n *Node
	var err error
	switch sub {
	case "result":
		n, err = p.resultPragma(tok, onLine)
	case "unitary":
		n, err = p.unitaryPragma(tok, onLine)
	case "noise":
		n, err = p.noisePragma(tok, onLine)
	case "verbatim":
		n = &Node{Head: HPragma, S: "verbatim"}
	default:
		return nil, parseErrf(tok.Off, "unknown pragma kind %q", sub)
	}
	if err != nil {
		return nil, err
	}
	// A terminating semicolon on the pragma line is tolerated.
	if onLine() && p.check(SEMICOLON) {
		p.i++
	}
	if onLine() {
		return nil, p.errHere("trailing tokens after pragma")
	}
	return n, nil
}

func (p *parser) resultPragma(tok Token, onLine func() bool) (*Node, error) {
	if !onLine() || p.peek().Kind != IDENT {
		return nil, parseErrf(tok.Off, "result pragma: missing result type")
	}
	kindName := p.text(p.peek())
	kind, ok := resultKinds[kindName]
	if !ok {
		return nil, parseErrf(p.peek().Off, "unknown result type %q", kindName)
	}
	p.i++
	n := &Node{Head: HPragma, S: "result", Kids: []*Node{identNode(kindName)}}

	switch kind {
	case StateVectorResult:
		return n, nil
	case ProbabilityResult, DensityMatrixResult:
		if onLine() {
			targets, err := p.pragmaTargets(onLine)
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, targets)
		}
		return n, nil
	case AmplitudeResult:
		for {
			t, err := p.need(STRING, "amplitude result: expected basis-state string")
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, &Node{Head: HStringLiteral, S: unquote(p.text(t))})
			if !onLine() || !p.match(COMMA) {
				break
			}
		}
		return n, nil
	default: // expectation, variance, sample
		obs, targets, err := p.observable(onLine)
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, obs)
		if targets != nil {
			n.Kids = append(n.Kids, targets)
		}
		return n, nil
	}
}

// observable parses `OBS [@ OBS …] [TARGETS | all]` where OBS is a named
// single-qubit operator, optionally with parenthesized per-factor targets,
// or hermitian(MATRIX).
func (p *parser) observable(onLine func() bool) (*Node, *Node, error) {
	obs := mk(HObservable)
	for {
		factor, err := p.observableFactor(onLine)
		if err != nil {
			return nil, nil, err
		}
		obs.Kids = append(obs.Kids, factor)
		if onLine() && p.check(AT) {
			p.i++
			continue
		}
		break
	}
	if !onLine() {
		return obs, nil, nil
	}
	if p.peek().Kind == IDENT && p.text(p.peek()) == "all" {
		p.i++
		return obs, nil, nil
	}
	targets, err := p.pragmaTargets(onLine)
	if err != nil {
		return nil, nil, err
	}
	if len(targets.Kids) == 0 {
		return obs, nil, nil
	}
	return obs, targets, nil
}

func (p *parser) observableFactor(onLine func() bool) (*Node, error) {
	if !onLine() || p.peek().Kind != IDENT {
		return nil, p.errHere("expected observable")
	}
	name := p.text(p.peek())
	if name == "hermitian" {
		p.i++
		if _, err := p.need(LPAREN, "expected '(' after hermitian"); err != nil {
			return nil, err
		}
		matrix, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.need(RPAREN, "expected ')' after hermitian matrix"); err != nil {
			return nil, err
		}
		n := mk(HHermitian, matrix)
		if p.check(LPAREN) {
			targets, err := p.parenTargets()
			if err != nil {
				return nil, err
			}
			n.Kids = append(n.Kids, targets)
		}
		return n, nil
	}
	if !observableNames[name] {
		return nil, p.errHere("unknown observable %q", name)
	}
	p.i++
	n := mk(HObservable)
	n.S = name
	if p.check(LPAREN) {
		targets, err := p.parenTargets()
		if err != nil {
			return nil, err
		}
		n.Kids = append(n.Kids, targets)
	}
	return n, nil
}

func (p *parser) parenTargets() (*Node, error) {
	p.i++ // '('
	targets := mk(HQubitTargets)
	for !p.check(RPAREN) {
		q, err := p.qubitTarget()
		if err != nil {
			return nil, err
		}
		targets.Kids = append(targets.Kids, q)
		if !p.match(COMMA) {
			break
		}
	}
	if _, err := p.need(RPAREN, "expected ')' after observable targets"); err != nil {
		return nil, err
	}
	return targets, nil
}

// pragmaTargets parses a comma-separated qubit target list bounded by the
// pragma line.
func (p *parser) pragmaTargets(onLine func() bool) (*Node, error) {
	targets := mk(HQubitTargets)
	for onLine() && !p.check(SEMICOLON) {
		q, err := p.qubitTarget()
		if err != nil {
			return nil, err
		}
		targets.Kids = append(targets.Kids, q)
		if !onLine() || !p.match(COMMA) {
			break
		}
	}
	return targets, nil
}

func (p *parser) unitaryPragma(tok Token, onLine func() bool) (*Node, error) {
	if _, err := p.need(LPAREN, "unitary pragma: expected '('"); err != nil {
		return nil, err
	}
	matrix, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.need(RPAREN, "unitary pragma: expected ')'"); err != nil {
		return nil, err
	}
	targets, err := p.pragmaTargets(onLine)
	if err != nil {
		return nil, err
	}
	return &Node{Head: HPragma, S: "unitary", Kids: []*Node{matrix, targets}}, nil
}

func (p *parser) noisePragma(tok Token, onLine func() bool) (*Node, error) {
	if !onLine() || p.peek().Kind != IDENT {
		return nil, parseErrf(tok.Off, "noise pragma: missing channel name")
	}
	channel := identNode(p.text(p.peek()))
	p.i++
	if _, err := p.need(LPAREN, "noise pragma: expected '(' after channel"); err != nil {
		return nil, err
	}
	args := mk(HArguments)
	for !p.check(RPAREN) {
		a, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args.Kids = append(args.Kids, a)
		if !p.match(COMMA) {
			break
		}
	}
	if _, err := p.need(RPAREN, "noise pragma: expected ')' after arguments"); err != nil {
		return nil, err
	}
	targets, err := p.pragmaTargets(onLine)
	if err != nil {
		return nil, err
	}
	return &Node{Head: HPragma, S: "noise", Kids: []*Node{channel, args, targets}}, nil
}
