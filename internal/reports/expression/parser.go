package expression

import (
	"errors"
	"strconv"
	"strings"

	"carbon-scribe/report-engine/internal/reports"
)

// segment is either literal text or a parsed expression
type segment struct {
	text string
	expr node
}

type template struct {
	segments []segment
	names    []string
}

// single returns the expression when the template is exactly one {{ }} block
func (t *template) single() node {
	if len(t.segments) == 1 && t.segments[0].expr != nil {
		return t.segments[0].expr
	}
	return nil
}

// HasMarkers reports whether text contains template markers
func HasMarkers(text string) bool {
	return strings.Contains(text, "{{") || strings.Contains(text, "{%") || strings.Contains(text, "{#")
}

func nextMarker(s string) int {
	best := -1
	for _, m := range []string{"{{", "{%", "{#"} {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func parseTemplate(src string) (*template, error) {
	t := &template{}
	i := 0
	for i < len(src) {
		idx := nextMarker(src[i:])
		if idx < 0 {
			t.segments = append(t.segments, segment{text: src[i:]})
			break
		}
		if idx > 0 {
			t.segments = append(t.segments, segment{text: src[i : i+idx]})
		}
		start := i + idx
		switch src[start : start+2] {
		case "{#":
			end := strings.Index(src[start+2:], "#}")
			if end < 0 {
				return nil, syntaxError("unclosed comment at offset %d", start)
			}
			i = start + 2 + end + 2
		case "{%":
			return nil, syntaxError("block tags are not supported (offset %d)", start)
		default:
			p := &parser{lex: &lexer{src: src, pos: start + 2}}
			expr, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			t.segments = append(t.segments, segment{expr: expr})
			i = p.lex.pos
		}
	}
	seen := map[string]struct{}{}
	for _, seg := range t.segments {
		if seg.expr != nil {
			collectNames(seg.expr, seen)
		}
	}
	for name := range seen {
		t.names = append(t.names, name)
	}
	return t, nil
}

// parser is a recursive descent parser with Jinja operator precedence.
// Errors unwind through panics and are recovered in parseBlock.
type parser struct {
	lex *lexer
	tok token
}

type parsePanic struct{ err error }

func (p *parser) parseBlock() (n node, err error) {
	defer func() {
		if r := recover(); r != nil {
			pp, ok := r.(parsePanic)
			if !ok {
				panic(r)
			}
			err = pp.err
		}
	}()
	p.advance()
	if p.tok.kind == tokClose {
		p.fail("empty expression")
	}
	n = p.parseExpr()
	if p.tok.kind != tokClose {
		p.fail("expected '}}', got %s", p.tok)
	}
	return n, nil
}

func (p *parser) fail(format string, args ...any) {
	panic(parsePanic{err: syntaxError(format, args...)})
}

func (p *parser) advance() {
	tok, err := p.lex.next()
	if err != nil {
		var exprErr *reports.ExpressionError
		if !errors.As(err, &exprErr) {
			err = syntaxError("%v", err)
		}
		panic(parsePanic{err: err})
	}
	if tok.kind == tokEOF {
		p.fail("unclosed expression block")
	}
	p.tok = tok
}

func (p *parser) isOp(text string) bool {
	return p.tok.kind == tokOp && p.tok.text == text
}

func (p *parser) isKeyword(word string) bool {
	return p.tok.kind == tokName && p.tok.text == word
}

func (p *parser) expectOp(text string) {
	if !p.isOp(text) {
		p.fail("expected '%s', got %s", text, p.tok)
	}
	p.advance()
}

func (p *parser) parseExpr() node {
	n := p.parseOr()
	if p.isKeyword("if") {
		p.advance()
		cond := p.parseOr()
		var els node = literalNode{v: Null()}
		if p.isKeyword("else") {
			p.advance()
			els = p.parseExpr()
		}
		return condNode{cond: cond, then: n, els: els}
	}
	return n
}

func (p *parser) parseOr() node {
	n := p.parseAnd()
	for p.isKeyword("or") {
		p.advance()
		n = binaryNode{op: "or", l: n, r: p.parseAnd()}
	}
	return n
}

func (p *parser) parseAnd() node {
	n := p.parseNot()
	for p.isKeyword("and") {
		p.advance()
		n = binaryNode{op: "and", l: n, r: p.parseNot()}
	}
	return n
}

func (p *parser) parseNot() node {
	if p.isKeyword("not") {
		p.advance()
		return unaryNode{op: "not", x: p.parseNot()}
	}
	return p.parseCompare()
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseCompare() node {
	first := p.parseConcat()
	cmp := compareNode{first: first}
	for {
		switch {
		case p.tok.kind == tokOp && compareOps[p.tok.text]:
			op := p.tok.text
			p.advance()
			cmp.ops = append(cmp.ops, op)
			cmp.rest = append(cmp.rest, p.parseConcat())
		case p.isKeyword("in"):
			p.advance()
			cmp.ops = append(cmp.ops, "in")
			cmp.rest = append(cmp.rest, p.parseConcat())
		case p.isKeyword("not"):
			p.advance()
			if !p.isKeyword("in") {
				p.fail("expected 'in' after 'not', got %s", p.tok)
			}
			p.advance()
			cmp.ops = append(cmp.ops, "not in")
			cmp.rest = append(cmp.rest, p.parseConcat())
		case p.isKeyword("is"):
			p.advance()
			negate := false
			if p.isKeyword("not") {
				negate = true
				p.advance()
			}
			if p.tok.kind != tokName {
				p.fail("expected test name after 'is', got %s", p.tok)
			}
			test := testNode{name: p.tok.text, negate: negate}
			p.advance()
			if p.isOp("(") {
				test.args, _ = p.parseArgs()
			} else if p.startsOperand() {
				test.args = []node{p.parseConcat()}
			}
			if len(cmp.ops) == 0 {
				test.obj = cmp.first
				cmp.first = test
			} else {
				last := len(cmp.rest) - 1
				test.obj = cmp.rest[last]
				cmp.rest[last] = test
			}
		default:
			if len(cmp.ops) == 0 {
				return cmp.first
			}
			return cmp
		}
	}
}

// startsOperand reports whether the current token can begin an operand
func (p *parser) startsOperand() bool {
	switch p.tok.kind {
	case tokInt, tokFloat, tokString:
		return true
	case tokName:
		switch p.tok.text {
		case "and", "or", "if", "else", "in", "is", "not":
			return false
		}
		return true
	}
	return false
}

func (p *parser) parseConcat() node {
	n := p.parseAdditive()
	for p.isOp("~") {
		p.advance()
		n = binaryNode{op: "~", l: n, r: p.parseAdditive()}
	}
	return n
}

func (p *parser) parseAdditive() node {
	n := p.parseMultiplicative()
	for p.isOp("+") || p.isOp("-") {
		op := p.tok.text
		p.advance()
		n = binaryNode{op: op, l: n, r: p.parseMultiplicative()}
	}
	return n
}

func (p *parser) parseMultiplicative() node {
	n := p.parseUnary()
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		op := p.tok.text
		p.advance()
		n = binaryNode{op: op, l: n, r: p.parseUnary()}
	}
	return n
}

func (p *parser) parseUnary() node {
	if p.isOp("-") || p.isOp("+") {
		op := p.tok.text
		p.advance()
		return unaryNode{op: op, x: p.parseUnary()}
	}
	return p.parsePower()
}

func (p *parser) parsePower() node {
	n := p.parsePostfix()
	if p.isOp("**") {
		p.advance()
		return binaryNode{op: "**", l: n, r: p.parseUnary()}
	}
	return n
}

func (p *parser) parsePostfix() node {
	n := p.parsePrimary()
	for {
		switch {
		case p.isOp("."):
			p.advance()
			if p.tok.kind != tokName && p.tok.kind != tokInt {
				p.fail("expected attribute name, got %s", p.tok)
			}
			name := p.tok.text
			p.advance()
			n = attrNode{obj: n, name: name}
		case p.isOp("["):
			p.advance()
			n = p.parseSubscript(n)
		case p.isOp("("):
			args, kwargs := p.parseArgs()
			n = callNode{fn: n, args: args, kwargs: kwargs}
		case p.isOp("|"):
			p.advance()
			if p.tok.kind != tokName {
				p.fail("expected filter name, got %s", p.tok)
			}
			f := filterNode{obj: n, name: p.tok.text}
			p.advance()
			if p.isOp("(") {
				f.args, f.kwargs = p.parseArgs()
			}
			n = f
		default:
			return n
		}
	}
}

func (p *parser) parseSubscript(obj node) node {
	var lo, hi node
	if !p.isOp(":") {
		lo = p.parseExpr()
		if p.isOp("]") {
			p.advance()
			return indexNode{obj: obj, key: lo}
		}
	}
	p.expectOp(":")
	if !p.isOp("]") {
		hi = p.parseExpr()
	}
	p.expectOp("]")
	return sliceNode{obj: obj, lo: lo, hi: hi}
}

// parseArgs parses "(a, b, name=c)" with the current token on "("
func (p *parser) parseArgs() ([]node, []kwarg) {
	p.expectOp("(")
	var args []node
	var kwargs []kwarg
	for !p.isOp(")") {
		if p.tok.kind == tokName {
			name := p.tok.text
			save := *p.lex
			saveTok := p.tok
			p.advance()
			if p.isOp("=") {
				p.advance()
				kwargs = append(kwargs, kwarg{name: name, val: p.parseExpr()})
				if !p.isOp(",") {
					break
				}
				p.advance()
				continue
			}
			*p.lex = save
			p.tok = saveTok
		}
		if len(kwargs) > 0 {
			p.fail("positional argument follows keyword argument")
		}
		args = append(args, p.parseExpr())
		if !p.isOp(",") {
			break
		}
		p.advance()
	}
	p.expectOp(")")
	return args, kwargs
}

func (p *parser) parsePrimary() node {
	tok := p.tok
	switch tok.kind {
	case tokInt:
		p.advance()
		i, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			p.fail("invalid integer literal %s", tok.text)
		}
		return literalNode{v: IntValue(i)}
	case tokFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			p.fail("invalid float literal %s", tok.text)
		}
		return literalNode{v: FloatValue(f)}
	case tokString:
		text := tok.text
		p.advance()
		for p.tok.kind == tokString {
			text += p.tok.text
			p.advance()
		}
		return literalNode{v: StringValue(text)}
	case tokName:
		p.advance()
		switch tok.text {
		case "true", "True":
			return literalNode{v: BoolValue(true)}
		case "false", "False":
			return literalNode{v: BoolValue(false)}
		case "none", "None", "null":
			return literalNode{v: Null()}
		}
		return nameNode{name: tok.text}
	case tokOp:
		switch tok.text {
		case "(":
			p.advance()
			first := p.parseExpr()
			if p.isOp(")") {
				p.advance()
				return first
			}
			items := []node{first}
			for p.isOp(",") {
				p.advance()
				if p.isOp(")") {
					break
				}
				items = append(items, p.parseExpr())
			}
			p.expectOp(")")
			return listNode{items: items}
		case "[":
			p.advance()
			var items []node
			for !p.isOp("]") {
				items = append(items, p.parseExpr())
				if !p.isOp(",") {
					break
				}
				p.advance()
			}
			p.expectOp("]")
			return listNode{items: items}
		case "{":
			p.advance()
			d := dictNode{}
			for !p.isOp("}") {
				d.keys = append(d.keys, p.parseExpr())
				p.expectOp(":")
				d.vals = append(d.vals, p.parseExpr())
				if !p.isOp(",") {
					break
				}
				p.advance()
			}
			p.expectOp("}")
			return d
		}
	case tokClose:
		p.fail("unexpected end of expression")
	}
	p.fail("unexpected %s", tok)
	return nil
}
