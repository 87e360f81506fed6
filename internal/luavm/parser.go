package luavm

import "fmt"

// Parse compiles Lua source into a statement list. It implements a
// small recursive-descent / precedence-climbing parser over the
// subset of the grammar described in ast.go.
func Parse(src string) ([]Stmt, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	block, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tkEOF {
		return nil, fmt.Errorf("luavm: unexpected token %q at line %d", p.cur.text, p.cur.line)
	}
	return block, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) isKeyword(k string) bool { return p.cur.kind == tkKeyword && p.cur.text == k }
func (p *parser) isOp(op string) bool     { return p.cur.kind == tkOp && p.cur.text == op }

func (p *parser) expectOp(op string) error {
	if !p.isOp(op) {
		return fmt.Errorf("luavm: expected %q, got %q at line %d", op, p.cur.text, p.cur.line)
	}
	return p.advance()
}

func (p *parser) expectKeyword(k string) error {
	if !p.isKeyword(k) {
		return fmt.Errorf("luavm: expected %q, got %q at line %d", k, p.cur.text, p.cur.line)
	}
	return p.advance()
}

func blockEnd(t token) bool {
	if t.kind == tkEOF {
		return true
	}
	if t.kind != tkKeyword {
		return false
	}
	switch t.text {
	case "end", "else", "elseif", "until":
		return true
	}
	return false
}

func (p *parser) parseBlock() ([]Stmt, error) {
	var stmts []Stmt
	for !blockEnd(p.cur) {
		if p.isOp(";") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if p.isKeyword("return") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			var exprs []Expr
			if !blockEnd(p.cur) && !p.isOp(";") {
				e, err := p.parseExprList()
				if err != nil {
					return nil, err
				}
				exprs = e
			}
			if p.isOp(";") {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			stmts = append(stmts, &ReturnStmt{Exprs: exprs})
			break // return must be last statement in a block
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *parser) parseStatement() (Stmt, error) {
	switch {
	case p.isKeyword("local"):
		return p.parseLocal()
	case p.isKeyword("if"):
		return p.parseIf()
	case p.isKeyword("while"):
		return p.parseWhile()
	case p.isKeyword("for"):
		return p.parseFor()
	case p.isKeyword("break"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BreakStmt{}, nil
	case p.isKeyword("function"):
		return p.parseFunctionStmt()
	case p.isKeyword("do"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("end"); err != nil {
			return nil, err
		}
		return &IfStmt{Cond: &TrueExpr{}, Then: body}, nil
	default:
		return p.parseExprStatement()
	}
}

func (p *parser) parseLocal() (Stmt, error) {
	if err := p.advance(); err != nil { // consume 'local'
		return nil, err
	}
	if p.isKeyword("function") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tkName {
			return nil, fmt.Errorf("luavm: expected function name at line %d", p.cur.line)
		}
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		fn, err := p.parseFuncBody()
		if err != nil {
			return nil, err
		}
		return &LocalFuncStmt{Name: name, Fn: fn}, nil
	}
	var names []string
	for {
		if p.cur.kind != tkName {
			return nil, fmt.Errorf("luavm: expected identifier at line %d", p.cur.line)
		}
		names = append(names, p.cur.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	var exprs []Expr
	if p.isOp("=") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		exprs = e
	}
	return &LocalStmt{Names: names, Exprs: exprs}, nil
}

func (p *parser) parseIf() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	thenBody, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Cond: cond, Then: thenBody}
	for p.isKeyword("elseif") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		c, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("then"); err != nil {
			return nil, err
		}
		b, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		stmt.Elifs = append(stmt.Elifs, struct {
			Cond Expr
			Body []Stmt
		}{c, b})
	}
	if p.isKeyword("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		b, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		stmt.Else = b
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseWhile() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body}, nil
}

func (p *parser) parseFor() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tkName {
		return nil, fmt.Errorf("luavm: expected loop variable at line %d", p.cur.line)
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectOp("="); err != nil {
		return nil, err
	}
	start, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(","); err != nil {
		return nil, err
	}
	stop, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	var step Expr
	if p.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		step, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &NumForStmt{Var: name, Start: start, Stop: stop, Step: step, Body: body}, nil
}

func (p *parser) parseFunctionStmt() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind != tkName {
		return nil, fmt.Errorf("luavm: expected function name at line %d", p.cur.line)
	}
	var target Expr = &Ident{Name: p.cur.text}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.isOp(".") || p.isOp(":") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tkName {
			return nil, fmt.Errorf("luavm: expected field name at line %d", p.cur.line)
		}
		target = &IndexExpr{Obj: target, Key: &StringExpr{Value: p.cur.text}}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	fn, err := p.parseFuncBody()
	if err != nil {
		return nil, err
	}
	return &FuncStmt{Target: target, Fn: fn}, nil
}

func (p *parser) parseFuncBody() (*FuncExpr, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var params []string
	vararg := false
	for !p.isOp(")") {
		if p.isOp("...") {
			vararg = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			break
		}
		if p.cur.kind != tkName {
			return nil, fmt.Errorf("luavm: expected parameter name at line %d", p.cur.line)
		}
		params = append(params, p.cur.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return &FuncExpr{Params: params, Vararg: vararg, Body: body}, nil
}

func (p *parser) parseExprStatement() (Stmt, error) {
	e, err := p.parseSuffixedExpr()
	if err != nil {
		return nil, err
	}
	if call, ok := e.(*CallExpr); ok && !(p.isOp("=") || p.isOp(",")) {
		return &CallStmt{Call: call}, nil
	}
	targets := []Expr{e}
	for p.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		t, err := p.parseSuffixedExpr()
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if err := p.expectOp("="); err != nil {
		return nil, err
	}
	exprs, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	return &AssignStmt{Targets: targets, Exprs: exprs}, nil
}

func (p *parser) parseExprList() ([]Expr, error) {
	var out []Expr
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	out = append(out, e)
	for p.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// operator precedence, matching the Lua 5.4 manual's table.
var binPrec = map[string][2]int{
	"or": {1, 1}, "and": {2, 2},
	"<": {3, 3}, ">": {3, 3}, "<=": {3, 3}, ">=": {3, 3}, "~=": {3, 3}, "==": {3, 3},
	"..": {5, 4}, // right-assoc
	"+": {6, 6}, "-": {6, 6},
	"*": {7, 7}, "/": {7, 7}, "%": {7, 7},
	"^": {10, 9}, // right-assoc
}

const unaryPrec = 8

func (p *parser) parseExpr() (Expr, error) { return p.parseBin(0) }

func (p *parser) parseBin(limit int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekBinOp()
		if !ok {
			break
		}
		prec, ok := binPrec[op]
		if !ok || prec[0] <= limit {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBin(prec[1])
		if err != nil {
			return nil, err
		}
		left = &BinExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) peekBinOp() (string, bool) {
	if p.cur.kind == tkOp {
		if _, ok := binPrec[p.cur.text]; ok {
			return p.cur.text, true
		}
		return "", false
	}
	if p.cur.kind == tkKeyword && (p.cur.text == "and" || p.cur.text == "or") {
		return p.cur.text, true
	}
	return "", false
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isOp("-") || p.isOp("#") || p.isKeyword("not") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseBin(unaryPrec)
		if err != nil {
			return nil, err
		}
		return &UnExpr{Op: op, E: e}, nil
	}
	return p.parseSuffixedExpr()
}

func (p *parser) parseSuffixedExpr() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tkName {
				return nil, fmt.Errorf("luavm: expected field name at line %d", p.cur.line)
			}
			e = &IndexExpr{Obj: e, Key: &StringExpr{Value: p.cur.text}}
			if err := p.advance(); err != nil {
				return nil, err
			}
		case p.isOp("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			e = &IndexExpr{Obj: e, Key: k}
		case p.isOp("("):
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{Fn: e, Args: args}
		case p.cur.kind == tkString:
			e = &CallExpr{Fn: e, Args: []Expr{&StringExpr{Value: p.cur.text}}}
			if err := p.advance(); err != nil {
				return nil, err
			}
		case p.isOp(":"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tkName {
				return nil, fmt.Errorf("luavm: expected method name at line %d", p.cur.line)
			}
			method := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			fn := &IndexExpr{Obj: e, Key: &StringExpr{Value: method}}
			e = &CallExpr{Fn: fn, Args: append([]Expr{e}, args...)}
		default:
			return e, nil
		}
	}
}

func (p *parser) parseArgs() ([]Expr, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	if p.isOp(")") {
		return nil, p.advance()
	}
	args, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.kind == tkNumber:
		t := p.cur
		if err := p.advance(); err != nil {
			return nil, err
		}
		if t.isInt {
			return &IntExpr{Value: t.ival}, nil
		}
		return &FloatExpr{Value: t.fval}, nil
	case p.cur.kind == tkString:
		t := p.cur
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringExpr{Value: t.text}, nil
	case p.isKeyword("nil"):
		return &NilExpr{}, p.advance()
	case p.isKeyword("true"):
		return &TrueExpr{}, p.advance()
	case p.isKeyword("false"):
		return &FalseExpr{}, p.advance()
	case p.isOp("..."):
		return &VarargExpr{}, p.advance()
	case p.isKeyword("function"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseFuncBody()
	case p.cur.kind == tkName:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Ident{Name: name}, nil
	case p.isOp("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isOp("{"):
		return p.parseTable()
	}
	return nil, fmt.Errorf("luavm: unexpected token %q at line %d", p.cur.text, p.cur.line)
}

func (p *parser) parseTable() (Expr, error) {
	if err := p.expectOp("{"); err != nil {
		return nil, err
	}
	tbl := &TableExpr{}
	for !p.isOp("}") {
		switch {
		case p.isOp("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			if err := p.expectOp("="); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			tbl.AKeys = append(tbl.AKeys, k)
			tbl.AVals = append(tbl.AVals, v)
		case p.cur.kind == tkName && p.peekIsAssignAfterName():
			key := &StringExpr{Value: p.cur.text}
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectOp("="); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			tbl.AKeys = append(tbl.AKeys, key)
			tbl.AVals = append(tbl.AVals, v)
		default:
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			tbl.AKeys = append(tbl.AKeys, nil)
			tbl.AVals = append(tbl.AVals, v)
		}
		if p.isOp(",") || p.isOp(";") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return tbl, nil
}

// peekIsAssignAfterName looks one token ahead without consuming,
// distinguishing `name = expr` from a bare expression starting with a
// name inside a table constructor. The lexer has no backtracking
// buffer, so we snapshot and restore it.
func (p *parser) peekIsAssignAfterName() bool {
	save := *p.lex
	savedCur := p.cur
	defer func() { *p.lex = save; p.cur = savedCur }()
	t, err := p.lex.next()
	if err != nil {
		return false
	}
	return t.kind == tkOp && t.text == "="
}
