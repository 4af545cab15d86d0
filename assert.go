package sheetcalc

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Assert conditions are written in a small boolean expression language
// evaluated over already-validated argument values:
//
//	"$base > 0 && $base != 1"
//	"$min <= $max"
//
// Operands are numeric literals, single-quoted strings, true/false, and
// $name back-references to earlier-declared arguments. Operators, in
// increasing precedence: || && , comparisons (== != < <= > >=), + -,
// * / %, unary ! and -. Conditions are compiled once at registration
// time; evaluation happens per call.

type assertTokenKind uint8

const (
	assertTokenNumber assertTokenKind = iota
	assertTokenString
	assertTokenIdent // true / false
	assertTokenRef   // $name
	assertTokenOp
	assertTokenLParen
	assertTokenRParen
	assertTokenEOF
)

type assertToken struct {
	kind assertTokenKind
	text string
	pos  int
}

// assertLexer tokenizes a condition string
type assertLexer struct {
	input string
	pos   int
}

func (l *assertLexer) tokenize() ([]assertToken, error) {
	var tokens []assertToken
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == assertTokenEOF {
			return tokens, nil
		}
	}
}

func (l *assertLexer) next() (assertToken, error) {
	for l.pos < len(l.input) && l.input[l.pos] == ' ' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return assertToken{kind: assertTokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]
	switch {
	case ch >= '0' && ch <= '9' || ch == '.':
		for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
			l.pos++
		}
		return assertToken{kind: assertTokenNumber, text: l.input[start:l.pos], pos: start}, nil

	case ch == '\'':
		l.pos++
		for l.pos < len(l.input) && l.input[l.pos] != '\'' {
			l.pos++
		}
		if l.pos >= len(l.input) {
			return assertToken{}, errors.Errorf("assert: unterminated string at %d in %q", start, l.input)
		}
		l.pos++
		return assertToken{kind: assertTokenString, text: l.input[start+1 : l.pos-1], pos: start}, nil

	case ch == '$':
		l.pos++
		for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
			l.pos++
		}
		if l.pos == start+1 {
			return assertToken{}, errors.Errorf("assert: bare $ at %d in %q", start, l.input)
		}
		return assertToken{kind: assertTokenRef, text: l.input[start+1 : l.pos], pos: start}, nil

	case isIdentChar(ch):
		for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
			l.pos++
		}
		return assertToken{kind: assertTokenIdent, text: l.input[start:l.pos], pos: start}, nil

	case ch == '(':
		l.pos++
		return assertToken{kind: assertTokenLParen, text: "(", pos: start}, nil

	case ch == ')':
		l.pos++
		return assertToken{kind: assertTokenRParen, text: ")", pos: start}, nil

	default:
		for _, op := range []string{"||", "&&", "==", "!=", "<=", ">=", "<", ">", "!", "+", "-", "*", "/", "%"} {
			if strings.HasPrefix(l.input[l.pos:], op) {
				l.pos += len(op)
				return assertToken{kind: assertTokenOp, text: op, pos: start}, nil
			}
		}
		return assertToken{}, errors.Errorf("assert: unexpected character %q at %d in %q", ch, start, l.input)
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentChar(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' ||
		ch >= '0' && ch <= '9' || ch == '_'
}

// assertNode is a compiled condition-expression node
type assertNode interface {
	eval(lookup func(name string) (Primitive, bool)) (Primitive, *CalcError)
}

type assertLiteral struct {
	value Primitive
}

func (n *assertLiteral) eval(func(string) (Primitive, bool)) (Primitive, *CalcError) {
	return n.value, nil
}

type assertRef struct {
	name string
}

func (n *assertRef) eval(lookup func(string) (Primitive, bool)) (Primitive, *CalcError) {
	value, ok := lookup(n.name)
	if !ok {
		// back-references are checked at compile time; a miss here means
		// the referenced slot matched as missing
		return nil, nil
	}
	return value, nil
}

type assertUnary struct {
	op      string
	operand assertNode
}

func (n *assertUnary) eval(lookup func(string) (Primitive, bool)) (Primitive, *CalcError) {
	value, calcErr := n.operand.eval(lookup)
	if calcErr != nil {
		return nil, calcErr
	}
	switch n.op {
	case "!":
		return !isTruthy(value), nil
	default: // "-"
		num, ok := toNumber(value)
		if !ok {
			return nil, NewCalcError(ErrorCodeValue, "")
		}
		return -num, nil
	}
}

type assertBinary struct {
	op    string
	left  assertNode
	right assertNode
}

func (n *assertBinary) eval(lookup func(string) (Primitive, bool)) (Primitive, *CalcError) {
	left, calcErr := n.left.eval(lookup)
	if calcErr != nil {
		return nil, calcErr
	}

	// short-circuit logical operators
	switch n.op {
	case "||":
		if isTruthy(left) {
			return true, nil
		}
		right, calcErr := n.right.eval(lookup)
		if calcErr != nil {
			return nil, calcErr
		}
		return isTruthy(right), nil
	case "&&":
		if !isTruthy(left) {
			return false, nil
		}
		right, calcErr := n.right.eval(lookup)
		if calcErr != nil {
			return nil, calcErr
		}
		return isTruthy(right), nil
	}

	right, calcErr := n.right.eval(lookup)
	if calcErr != nil {
		return nil, calcErr
	}

	switch n.op {
	case "==":
		return equalPrimitives(left, right), nil
	case "!=":
		return !equalPrimitives(left, right), nil
	}

	// remaining operators are numeric; string operands compare textually
	// for the ordering operators
	leftNum, leftOK := toNumber(left)
	rightNum, rightOK := toNumber(right)
	if !leftOK || !rightOK {
		leftText, rightText := toString(left), toString(right)
		switch n.op {
		case "<":
			return leftText < rightText, nil
		case "<=":
			return leftText <= rightText, nil
		case ">":
			return leftText > rightText, nil
		case ">=":
			return leftText >= rightText, nil
		default:
			return nil, NewCalcError(ErrorCodeValue, "")
		}
	}

	switch n.op {
	case "<":
		return leftNum < rightNum, nil
	case "<=":
		return leftNum <= rightNum, nil
	case ">":
		return leftNum > rightNum, nil
	case ">=":
		return leftNum >= rightNum, nil
	case "+":
		return leftNum + rightNum, nil
	case "-":
		return leftNum - rightNum, nil
	case "*":
		return leftNum * rightNum, nil
	case "/":
		if rightNum == 0 {
			return nil, NewCalcError(ErrorCodeDiv0, "")
		}
		return leftNum / rightNum, nil
	default: // "%"
		if rightNum == 0 {
			return nil, NewCalcError(ErrorCodeDiv0, "")
		}
		return float64(int64(leftNum) % int64(rightNum)), nil
	}
}

// equalPrimitives implements strict equality between scalar values, with
// numeric widening so 2 == 2.0
func equalPrimitives(left, right Primitive) bool {
	leftNum, leftOK := toNumber(left)
	rightNum, rightOK := toNumber(right)
	if leftOK && rightOK {
		return leftNum == rightNum
	}
	// slices and other non-comparable values never compare equal;
	// handing them to == would panic
	if left != nil && !reflect.TypeOf(left).Comparable() {
		return false
	}
	if right != nil && !reflect.TypeOf(right).Comparable() {
		return false
	}
	return left == right
}

// assertExpr is a compiled condition with the back-references it reads
type assertExpr struct {
	source string
	root   assertNode
	refs   []string
}

// compileAssert parses a condition string. The returned expression lists
// every $name it references so the specifier compiler can reject forward
// references.
func compileAssert(condition string) (*assertExpr, error) {
	lexer := &assertLexer{input: condition}
	tokens, err := lexer.tokenize()
	if err != nil {
		return nil, err
	}
	parser := &assertParser{tokens: tokens, source: condition}
	root, err := parser.parseExpr()
	if err != nil {
		return nil, err
	}
	if parser.peek().kind != assertTokenEOF {
		return nil, errors.Errorf("assert: trailing input at %d in %q", parser.peek().pos, condition)
	}
	return &assertExpr{source: condition, root: root, refs: parser.refs}, nil
}

// assertParser is a precedence-climbing recursive descent parser
type assertParser struct {
	tokens []assertToken
	pos    int
	source string
	refs   []string
}

func (p *assertParser) peek() assertToken {
	return p.tokens[p.pos]
}

func (p *assertParser) advance() assertToken {
	tok := p.tokens[p.pos]
	if tok.kind != assertTokenEOF {
		p.pos++
	}
	return tok
}

func (p *assertParser) acceptOp(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != assertTokenOp {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			p.advance()
			return op, true
		}
	}
	return "", false
}

func (p *assertParser) parseExpr() (assertNode, error) {
	return p.parseOr()
}

func (p *assertParser) parseOr() (assertNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("||")
		if !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &assertBinary{op: op, left: left, right: right}
	}
}

func (p *assertParser) parseAnd() (assertNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("&&")
		if !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &assertBinary{op: op, left: left, right: right}
	}
}

func (p *assertParser) parseComparison() (assertNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">")
	if !ok {
		return left, nil
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &assertBinary{op: op, left: left, right: right}, nil
}

func (p *assertParser) parseAdditive() (assertNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &assertBinary{op: op, left: left, right: right}
	}
}

func (p *assertParser) parseMultiplicative() (assertNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &assertBinary{op: op, left: left, right: right}
	}
}

func (p *assertParser) parseUnary() (assertNode, error) {
	if op, ok := p.acceptOp("!", "-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &assertUnary{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *assertParser) parsePrimary() (assertNode, error) {
	tok := p.advance()
	switch tok.kind {
	case assertTokenNumber:
		num, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, errors.Errorf("assert: bad number %q in %q", tok.text, p.source)
		}
		return &assertLiteral{value: num}, nil

	case assertTokenString:
		return &assertLiteral{value: tok.text}, nil

	case assertTokenIdent:
		switch tok.text {
		case "true":
			return &assertLiteral{value: true}, nil
		case "false":
			return &assertLiteral{value: false}, nil
		default:
			return nil, errors.Errorf("assert: unknown identifier %q in %q", tok.text, p.source)
		}

	case assertTokenRef:
		p.refs = append(p.refs, tok.text)
		return &assertRef{name: tok.text}, nil

	case assertTokenLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.advance().kind != assertTokenRParen {
			return nil, errors.Errorf("assert: missing ) in %q", p.source)
		}
		return inner, nil

	default:
		return nil, errors.Errorf("assert: unexpected token at %d in %q", tok.pos, p.source)
	}
}
