package sandbox

import "strconv"

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

type program struct {
	funcs map[string]*funcDef
	order []string
}

type funcDef struct {
	name   string
	params []string
	body   []stmt
	line   int
}

type stmt interface{ stmtNode() }

type letStmt struct {
	name string
	expr expr
	line int
}

type assignStmt struct {
	name string
	expr expr
	line int
}

type ifStmt struct {
	cond expr
	then []stmt
	els  []stmt // nil when absent
	line int
}

type forStmt struct {
	varName string
	iter    expr
	body    []stmt
	line    int
}

type returnStmt struct {
	expr expr
	line int
}

type exprStmt struct {
	expr expr
	line int
}

func (*letStmt) stmtNode()    {}
func (*assignStmt) stmtNode() {}
func (*ifStmt) stmtNode()     {}
func (*forStmt) stmtNode()    {}
func (*returnStmt) stmtNode() {}
func (*exprStmt) stmtNode()   {}

type expr interface{ exprNode() }

type numberLit struct{ value float64 }
type stringLit struct{ value string }
type boolLit struct{ value bool }
type nilLit struct{}

type identExpr struct {
	name string
	line int
}

type listLit struct{ elems []expr }

type mapLit struct {
	keys   []expr
	values []expr
}

type unaryExpr struct {
	op   string
	expr expr
	line int
}

type binaryExpr struct {
	op          string
	left, right expr
	line        int
}

type callExpr struct {
	name string
	args []expr
	line int
}

type indexExpr struct {
	target expr
	index  expr
	line   int
}

func (*numberLit) exprNode()  {}
func (*stringLit) exprNode()  {}
func (*boolLit) exprNode()    {}
func (*nilLit) exprNode()     {}
func (*identExpr) exprNode()  {}
func (*listLit) exprNode()    {}
func (*mapLit) exprNode()     {}
func (*unaryExpr) exprNode()  {}
func (*binaryExpr) exprNode() {}
func (*callExpr) exprNode()   {}
func (*indexExpr) exprNode()  {}

// ---------------------------------------------------------------------------
// Recursive-descent parser
// ---------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func parse(source string) (*program, error) {
	tokens, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}

	prog := &program{funcs: make(map[string]*funcDef)}
	for !p.at(tokEOF, "") {
		fn, err := p.funcDef()
		if err != nil {
			return nil, err
		}
		if _, dup := prog.funcs[fn.name]; dup {
			return nil, errf("line %d: function %q defined twice", fn.line, fn.name)
		}
		prog.funcs[fn.name] = fn
		prog.order = append(prog.order, fn.name)
	}
	return prog, nil
}

func (p *parser) cur() token  { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }

func (p *parser) at(kind tokenKind, text string) bool {
	t := p.cur()
	return t.kind == kind && (text == "" || t.text == text)
}

func (p *parser) accept(kind tokenKind, text string) bool {
	if p.at(kind, text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, text string) (token, error) {
	if p.at(kind, text) {
		return p.next(), nil
	}
	t := p.cur()
	want := text
	if want == "" {
		want = "identifier"
	}
	return token{}, errf("line %d: expected %q, found %s", t.line, want, t)
}

func (p *parser) funcDef() (*funcDef, error) {
	kw, err := p.expect(tokKeyword, "func")
	if err != nil {
		return nil, errf("line %d: only function definitions are allowed at top level, found %s", p.cur().line, p.cur())
	}
	name, err := p.expect(tokIdent, "")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokOp, "("); err != nil {
		return nil, err
	}

	var params []string
	for !p.at(tokOp, ")") {
		param, err := p.expect(tokIdent, "")
		if err != nil {
			return nil, err
		}
		params = append(params, param.text)
		if !p.accept(tokOp, ",") {
			break
		}
	}
	if _, err := p.expect(tokOp, ")"); err != nil {
		return nil, err
	}

	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &funcDef{name: name.text, params: params, body: body, line: kw.line}, nil
}

func (p *parser) block() ([]stmt, error) {
	if _, err := p.expect(tokOp, "{"); err != nil {
		return nil, err
	}
	var stmts []stmt
	for !p.at(tokOp, "}") {
		if p.at(tokEOF, "") {
			return nil, errf("line %d: unexpected end of input in block", p.cur().line)
		}
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	p.next() // consume }
	return stmts, nil
}

func (p *parser) statement() (stmt, error) {
	t := p.cur()
	switch {
	case p.accept(tokKeyword, "let"):
		name, err := p.expect(tokIdent, "")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokOp, "="); err != nil {
			return nil, err
		}
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &letStmt{name: name.text, expr: e, line: t.line}, nil

	case p.accept(tokKeyword, "return"):
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &returnStmt{expr: e, line: t.line}, nil

	case p.accept(tokKeyword, "if"):
		return p.ifStatement(t.line)

	case p.accept(tokKeyword, "for"):
		name, err := p.expect(tokIdent, "")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokKeyword, "in"); err != nil {
			return nil, err
		}
		iter, err := p.expression()
		if err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		return &forStmt{varName: name.text, iter: iter, body: body, line: t.line}, nil

	case t.kind == tokIdent && p.tokens[p.pos+1].kind == tokOp && p.tokens[p.pos+1].text == "=":
		p.next() // ident
		p.next() // =
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &assignStmt{name: t.text, expr: e, line: t.line}, nil

	case t.kind == tokKeyword:
		return nil, errf("line %d: unexpected keyword %q", t.line, t.text)

	default:
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &exprStmt{expr: e, line: t.line}, nil
	}
}

func (p *parser) ifStatement(line int) (stmt, error) {
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	then, err := p.block()
	if err != nil {
		return nil, err
	}
	var els []stmt
	if p.accept(tokKeyword, "else") {
		if p.at(tokKeyword, "if") {
			p.next()
			nested, err := p.ifStatement(p.cur().line)
			if err != nil {
				return nil, err
			}
			els = []stmt{nested}
		} else {
			els, err = p.block()
			if err != nil {
				return nil, err
			}
		}
	}
	return &ifStmt{cond: cond, then: then, els: els, line: line}, nil
}

func (p *parser) expression() (expr, error) { return p.orExpr() }

func (p *parser) orExpr() (expr, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "||") {
		line := p.next().line
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "||", left: left, right: right, line: line}
	}
	return left, nil
}

func (p *parser) andExpr() (expr, error) {
	left, err := p.equality()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "&&") {
		line := p.next().line
		right, err := p.equality()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "&&", left: left, right: right, line: line}
	}
	return left, nil
}

func (p *parser) equality() (expr, error) {
	left, err := p.comparison()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "==") || p.at(tokOp, "!=") {
		t := p.next()
		right, err := p.comparison()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: t.text, left: left, right: right, line: t.line}
	}
	return left, nil
}

func (p *parser) comparison() (expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "<") || p.at(tokOp, ">") || p.at(tokOp, "<=") || p.at(tokOp, ">=") {
		t := p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: t.text, left: left, right: right, line: t.line}
	}
	return left, nil
}

func (p *parser) term() (expr, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "+") || p.at(tokOp, "-") {
		t := p.next()
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: t.text, left: left, right: right, line: t.line}
	}
	return left, nil
}

func (p *parser) factor() (expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "*") || p.at(tokOp, "/") || p.at(tokOp, "%") {
		t := p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: t.text, left: left, right: right, line: t.line}
	}
	return left, nil
}

func (p *parser) unary() (expr, error) {
	if p.at(tokOp, "-") || p.at(tokOp, "!") {
		t := p.next()
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: t.text, expr: e, line: t.line}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (expr, error) {
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(tokOp, "("):
			ident, ok := e.(*identExpr)
			if !ok {
				return nil, errf("line %d: only named functions can be called", p.cur().line)
			}
			p.next()
			var args []expr
			for !p.at(tokOp, ")") {
				arg, err := p.expression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.accept(tokOp, ",") {
					break
				}
			}
			if _, err := p.expect(tokOp, ")"); err != nil {
				return nil, err
			}
			e = &callExpr{name: ident.name, args: args, line: ident.line}
		case p.at(tokOp, "["):
			line := p.next().line
			idx, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokOp, "]"); err != nil {
				return nil, err
			}
			e = &indexExpr{target: e, index: idx, line: line}
		default:
			return e, nil
		}
	}
}

func (p *parser) primary() (expr, error) {
	t := p.cur()
	switch {
	case t.kind == tokNumber:
		p.next()
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, errf("line %d: invalid number %q", t.line, t.text)
		}
		return &numberLit{value: v}, nil

	case t.kind == tokString:
		p.next()
		return &stringLit{value: t.text}, nil

	case p.accept(tokKeyword, "true"):
		return &boolLit{value: true}, nil
	case p.accept(tokKeyword, "false"):
		return &boolLit{value: false}, nil
	case p.accept(tokKeyword, "nil"):
		return &nilLit{}, nil

	case t.kind == tokIdent:
		p.next()
		return &identExpr{name: t.text, line: t.line}, nil

	case p.accept(tokOp, "("):
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokOp, ")"); err != nil {
			return nil, err
		}
		return e, nil

	case p.accept(tokOp, "["):
		var elems []expr
		for !p.at(tokOp, "]") {
			e, err := p.expression()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
			if !p.accept(tokOp, ",") {
				break
			}
		}
		if _, err := p.expect(tokOp, "]"); err != nil {
			return nil, err
		}
		return &listLit{elems: elems}, nil

	case p.accept(tokOp, "{"):
		lit := &mapLit{}
		for !p.at(tokOp, "}") {
			k, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokOp, ":"); err != nil {
				return nil, err
			}
			v, err := p.expression()
			if err != nil {
				return nil, err
			}
			lit.keys = append(lit.keys, k)
			lit.values = append(lit.values, v)
			if !p.accept(tokOp, ",") {
				break
			}
		}
		if _, err := p.expect(tokOp, "}"); err != nil {
			return nil, err
		}
		return lit, nil

	default:
		return nil, errf("line %d: unexpected token %s", t.line, t)
	}
}
