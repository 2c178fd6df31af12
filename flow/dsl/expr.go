package dsl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Eval parses expr and evaluates it against vars. Identifiers resolve by
// dot path through nested maps; unresolved paths yield nil rather than an
// error so conditions can probe optional fields.
func Eval(expr string, vars map[string]any) (any, error) {
	node, err := parse(expr)
	if err != nil {
		return nil, err
	}
	return node.eval(vars), nil
}

// EvalBool evaluates expr and coerces the result to a boolean using the
// language's truthiness rules: nil and zero values are false, everything
// else is true.
func EvalBool(expr string, vars map[string]any) (bool, error) {
	v, err := Eval(expr, vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Validate checks expr for syntax errors without evaluating it.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// =============================================================================
// Tokens
// =============================================================================

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func scan(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '"' || c == '\'':
			s, n, err := scanString(input[i:], c)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, s})
			i += n
		case isDigit(c) || (c == '-' && startsNumber(input[i:], toks)):
			s, n := scanNumber(input[i:])
			toks = append(toks, token{tokNumber, s})
			i += n
		case isIdentStart(c):
			s, n := scanIdent(input[i:])
			toks = append(toks, token{tokIdent, s})
			i += n
		default:
			op, n := scanOperator(input[i:])
			if n == 0 {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{tokOp, op})
			i += n
		}
	}
	return toks, nil
}

func scanString(s string, quote byte) (string, int, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(next)
			}
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

func scanNumber(s string) (string, int) {
	i := 0
	if s[0] == '-' {
		i = 1
	}
	for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
		i++
	}
	return s[:i], i
}

func scanIdent(s string) (string, int) {
	i := 0
	for i < len(s) && (isIdentStart(s[i]) || isDigit(s[i]) || s[i] == '.') {
		i++
	}
	return s[:i], i
}

func scanOperator(s string) (string, int) {
	two := []string{"==", "!=", ">=", "<=", "&&", "||"}
	for _, op := range two {
		if strings.HasPrefix(s, op) {
			return op, 2
		}
	}
	switch s[0] {
	case '>', '<', '!':
		return string(s[0]), 1
	}
	return "", 0
}

// startsNumber reports whether a leading '-' opens a negative literal
// rather than acting as an operator. It does when a digit follows and the
// previous token cannot end an operand.
func startsNumber(s string, prev []token) bool {
	if len(s) < 2 || !isDigit(s[1]) {
		return false
	}
	if len(prev) == 0 {
		return true
	}
	last := prev[len(prev)-1]
	return last.kind == tokOp || last.kind == tokLParen
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// =============================================================================
// Parser
// =============================================================================

// node is a parsed expression. eval never fails: resolution misses produce
// nil and comparisons over mismatched types fall back to string ordering.
type node interface {
	eval(vars map[string]any) any
}

type literalNode struct{ val any }

func (n literalNode) eval(map[string]any) any { return n.val }

type varNode struct{ path []string }

func (n varNode) eval(vars map[string]any) any { return resolvePath(vars, n.path) }

type notNode struct{ operand node }

func (n notNode) eval(vars map[string]any) any { return !truthy(n.operand.eval(vars)) }

type binaryNode struct {
	op       string
	lhs, rhs node
}

func (n binaryNode) eval(vars map[string]any) any {
	switch n.op {
	case "&&":
		return truthy(n.lhs.eval(vars)) && truthy(n.rhs.eval(vars))
	case "||":
		return truthy(n.lhs.eval(vars)) || truthy(n.rhs.eval(vars))
	default:
		return compare(n.op, n.lhs.eval(vars), n.rhs.eval(vars))
	}
}

type parser struct {
	toks []token
	pos  int
}

func parse(input string) (node, error) {
	if strings.TrimSpace(input) == "" {
		return literalNode{val: nil}, nil
	}
	toks, err := scan(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("unexpected token %q after expression", p.toks[p.pos].text)
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchOp("||") {
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: "||", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (node, error) {
	lhs, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.matchOp("&&") {
		rhs, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lhs = binaryNode{op: "&&", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseComparison() (node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if p.matchOp(op) {
			rhs, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return binaryNode{op: op, lhs: lhs, rhs: rhs}, nil
		}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.matchOp("!") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.pos >= len(p.toks) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	tok := p.toks[p.pos]
	p.pos++
	switch tok.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", tok.text)
		}
		return literalNode{val: f}, nil
	case tokString:
		return literalNode{val: tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return literalNode{val: true}, nil
		case "false":
			return literalNode{val: false}, nil
		case "null", "nil":
			return literalNode{val: nil}, nil
		}
		return varNode{path: strings.Split(tok.text, ".")}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", tok.text)
	}
}

func (p *parser) matchOp(op string) bool {
	if p.pos < len(p.toks) && p.toks[p.pos].kind == tokOp && p.toks[p.pos].text == op {
		p.pos++
		return true
	}
	return false
}

// =============================================================================
// Evaluation helpers
// =============================================================================

func resolvePath(vars map[string]any, path []string) any {
	var current any = vars
	for _, part := range path {
		switch m := current.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil
			}
			current = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil
			}
			current = v
		default:
			return nil
		}
	}
	return current
}

// compare implements the relational operators. nil sorts before every
// non-nil value and equals only itself; numeric comparison applies when
// both sides coerce to float64, otherwise the formatted strings compare.
func compare(op string, lhs, rhs any) bool {
	if lhs == nil || rhs == nil {
		switch op {
		case "==":
			return lhs == nil && rhs == nil
		case "!=":
			return !(lhs == nil && rhs == nil)
		case ">":
			return lhs != nil && rhs == nil
		case "<":
			return lhs == nil && rhs != nil
		case ">=":
			return rhs == nil
		case "<=":
			return lhs == nil
		}
		return false
	}

	lf, lok := asFloat(lhs)
	rf, rok := asFloat(rhs)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
		return false
	}

	ls := fmt.Sprintf("%v", lhs)
	rs := fmt.Sprintf("%v", rhs)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	default:
		if f, ok := asFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
