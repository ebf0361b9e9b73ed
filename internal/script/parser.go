package script

import (
	"fmt"

	pulleyerrors "github.com/arpa2/pulley/errors"
	"github.com/arpa2/pulley/internal/lexhash"
)

// Parse reads pulley script source and returns its populated symbol tables
// (§4.2). The grammar is §6.1's line-oriented, keyword-free surface: each
// non-blank, comment-stripped line is exactly one of
//
//	PATTERN, PATTERN, … <- SOURCE [*weight]          (generator)
//	TERM (and|or TERM)* [*weight]                    (condition)
//	module_name(arg1, arg2, …) <- var1, var2, … [*weight]  (driver-output)
//
// distinguished purely by shape: a line starting with an identifier
// immediately followed by '(' is a driver-output; failing that, a line
// containing a '<-' anywhere is a generator; anything else is a condition.
// A condition is a free-standing statement — it names no driver — and the
// analyzer (internal/analyzer, phase 4) attaches it to every driver whose
// relevant variables are a superset of the condition's own, exactly as it
// already does for generators by variable overlap. See DESIGN.md for why
// this subset-attachment replaces an explicit embedded `where` clause.
func Parse(src string) (tables *SymbolTables, err error) {
	p := &parser{tables: NewSymbolTables()}
	p.hasher.Start()

	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(parseError)
			if !ok {
				panic(r)
			}
			err = pe.err
		}
	}()

	for _, stmt := range splitStatements(src) {
		p.lex = newLexer(stmt)
		p.parseStatement()
		p.hasher.EndLine()
	}
	p.tables.WholeHash = p.hasher.Finish()
	return p.tables, nil
}

// parseError unwinds the recursive-descent parser to Parse's recover,
// matching the common Go idiom (e.g. encoding/gob) of panicking on syntax
// errors deep in a call chain rather than threading error returns through
// every production.
type parseError struct{ err error }

type parser struct {
	lex    *lexer
	tables *SymbolTables
	hasher lexhash.Hasher
}

// parseStatement dispatches one statement to its production by shape alone.
func (p *parser) parseStatement() {
	first := p.lex.peekTok()
	if first.kind == tokIdent && p.lex.peekAt(1).kind == tokPunct && p.lex.peekAt(1).text == "(" {
		p.parseDriverOutput()
		return
	}
	if p.lex.hasArrow() {
		p.parseGenerator()
		return
	}
	p.parseTopLevelCondition()
}

func (p *parser) parseGenerator() {
	levels := p.parsePatternLevels()
	p.expectArrow()
	sourceTok := p.expectIdent()
	weight := p.parseOptionalWeight(100.0)
	p.expectEOS()

	source := p.tables.Vars.Have(sourceTok.text, VarKindVariable)
	gn := p.tables.Gens.New(source)
	g := p.tables.Gens.Get(gn)
	g.Pattern = levels
	g.Weight = weight
	g.LineHash = p.hasher.CurLine()

	for _, lvl := range levels {
		for _, frag := range lvl.Fragments {
			if frag.BindVar != BadVar {
				p.tables.Vars.UsedInGenerator(frag.BindVar, gn)
				g.Variables.Add(int(frag.BindVar))
			}
			if frag.ConstVar != BadVar {
				p.tables.Vars.UsedInGenerator(frag.ConstVar, gn)
			}
		}
	}
}

func (p *parser) parsePatternLevels() []PatternLevel {
	var levels []PatternLevel
	for {
		levels = append(levels, p.parsePatternLevel())
		if p.lex.peekTok().kind == tokPunct && p.lex.peekTok().text == "," {
			p.lex.next()
			continue
		}
		return levels
	}
}

func (p *parser) parsePatternLevel() PatternLevel {
	var level PatternLevel
	for {
		level.Fragments = append(level.Fragments, p.parseFragment())
		if p.lex.peekTok().kind == tokPunct && p.lex.peekTok().text == "+" {
			p.lex.next()
			continue
		}
		return level
	}
}

func (p *parser) parseFragment() PatternFragment {
	t := p.lex.next()
	feedHash(&p.hasher, t)

	if t.kind == tokPunct && t.text == "@" {
		name := p.expectIdent()
		bv := p.tables.Vars.Have(name.text, VarKindVariable)
		return PatternFragment{Kind: FragAtVar, ConstVar: BadVar, BindVar: bv}
	}
	if t.kind != tokIdent {
		p.fail(t, "expected attribute name, found %q", t.text)
	}

	switch t.text {
	case "DCList", "SkipOneLevel", "SkipSubtree":
		p.expectPunct("=")
		name := p.expectIdent()
		bv := p.tables.Vars.Have(name.text, VarKindVariable)
		kind := map[string]FragKind{"DCList": FragDCList, "SkipOneLevel": FragSkipOneLevel, "SkipSubtree": FragSkipSubtree}[t.text]
		return PatternFragment{Kind: kind, Attr: t.text, ConstVar: BadVar, BindVar: bv}
	case "OBJECT":
		return PatternFragment{Attr: "@OBJECT", ConstVar: BadVar, BindVar: BadVar}
	}

	attr := t.text
	op := p.lex.next()
	feedHash(&p.hasher, op)
	switch {
	case op.kind == tokPunct && op.text == "=":
		c := p.lex.next()
		feedHash(&p.hasher, c)
		cv := p.constantVar(c)
		av := p.tables.Vars.Have(attr, VarKindAttrType)
		return PatternFragment{Kind: FragAttrCmp, Attr: attr, AttrVar: av, ConstVar: cv, BindVar: BadVar}
	case op.kind == tokPunct && op.text == ":":
		name := p.expectIdent()
		bv := p.tables.Vars.Have(name.text, VarKindVariable)
		av := p.tables.Vars.Have(attr, VarKindAttrType)
		return PatternFragment{Kind: FragAttrBind, Attr: attr, AttrVar: av, BindVar: bv, ConstVar: BadVar}
	default:
		p.fail(op, "expected '=' or ':' after attribute name %q", attr)
		panic("unreachable")
	}
}

func (p *parser) constantVar(t token) VarNum {
	switch t.kind {
	case tokNumber:
		if i, err := parseIntLiteral(t.text); err == nil {
			vn := p.tables.Vars.Add(t.text, VarKindConstant)
			v := Value{Type: VarTypeInteger, Int: i}
			p.tables.Vars.Get(vn).Value = &v
			return vn
		}
		f, err := parseFloatLiteral(t.text)
		if err != nil {
			p.fail(t, "bad numeric constant %q: %s", t.text, err)
		}
		vn := p.tables.Vars.Add(t.text, VarKindConstant)
		v := Value{Type: VarTypeFloat, Float: f}
		p.tables.Vars.Get(vn).Value = &v
		return vn
	case tokString:
		vn := p.tables.Vars.Add(t.text, VarKindConstant)
		v := Value{Type: VarTypeString, Str: t.text}
		p.tables.Vars.Get(vn).Value = &v
		return vn
	default:
		p.fail(t, "expected a constant, found %q", t.text)
		panic("unreachable")
	}
}

// parseDriverOutput parses `module_name(arg1, arg2, …) <- var1, var2, …
// [*weight]` (§6.1). No keyword introduces it; parseStatement already
// recognised the leading `ident(` shape before calling here.
func (p *parser) parseDriverOutput() {
	module := p.expectIdent()
	p.expectPunct("(")
	var args []string
	for p.lex.peekTok().text != ")" {
		a := p.lex.next()
		feedHash(&p.hasher, a)
		args = append(args, a.text)
		if p.lex.peekTok().text == "," {
			p.lex.next()
		}
	}
	p.expectPunct(")")
	p.expectArrow()

	var output []VarNum
	for {
		name := p.expectIdent()
		v := p.tables.Vars.Have(name.text, VarKindVariable)
		output = append(output, v)
		if p.lex.peekTok().kind == tokPunct && p.lex.peekTok().text == "," {
			p.lex.next()
			continue
		}
		break
	}
	weight := p.parseOptionalWeight(1.0)
	p.expectEOS()

	dn := p.tables.Drvs.New()
	d := p.tables.Drvs.Get(dn)
	d.Module = module.text
	d.Args = args
	d.Output = output
	d.Weight = weight
	for _, v := range output {
		p.tables.Vars.UsedInDriverOut(v, dn)
	}
	d.LineHash = p.hasher.CurLine()
}

// parseTopLevelCondition parses a free-standing condition statement: a
// boolean expression with no driver named, optionally weighted (§6.1).
func (p *parser) parseTopLevelCondition() {
	cn := p.parseCondition()
	weight := p.parseOptionalWeight(0.1)
	p.expectEOS()

	c := p.tables.Cnds.Get(cn)
	c.Weight = weight
	c.LineHash = p.hasher.CurLine()
}

// parseCondition parses a simple boolean expression (TERM (AND|OR TERM)*,
// TERM := OPERAND OP OPERAND) directly into postfix form.
func (p *parser) parseCondition() CndNum {
	cn := p.tables.Cnds.New()
	c := p.tables.Cnds.Get(cn)

	postfix := p.parseCondTerm(cn)
	for p.lex.peekTok().kind == tokIdent && (p.lex.peekTok().text == "and" || p.lex.peekTok().text == "or") {
		kw := p.lex.next()
		feedHash(&p.hasher, kw)
		rhs := p.parseCondTerm(cn)
		postfix = append(postfix, rhs...)
		op := CndAnd
		if kw.text == "or" {
			op = CndOr
		}
		postfix = append(postfix, CndToken{Op: op})
	}

	c.Postfix = postfix
	return cn
}

func (p *parser) parseCondTerm(cn CndNum) []CndToken {
	lhs := p.lex.next()
	feedHash(&p.hasher, lhs)
	lhsVar := p.condOperand(cn, lhs)

	opTok := p.lex.next()
	feedHash(&p.hasher, opTok)
	op := condOp(p, opTok)

	rhs := p.lex.next()
	feedHash(&p.hasher, rhs)
	rhsVar := p.condOperand(cn, rhs)

	return []CndToken{{Var: lhsVar}, {Var: rhsVar}, {Op: op}}
}

func (p *parser) condOperand(cn CndNum, t token) VarNum {
	var v VarNum
	switch t.kind {
	case tokIdent:
		v = p.tables.Vars.Have(t.text, VarKindVariable)
	case tokNumber, tokString:
		v = p.constantVar(t)
	default:
		p.fail(t, "expected an operand, found %q", t.text)
	}
	p.tables.Vars.UsedInCondition(v, cn)
	p.tables.Cnds.Get(cn).Needed.Add(int(v))
	return v
}

func condOp(p *parser, t token) CndOp {
	switch t.text {
	case "=":
		return CndEq
	case "!=":
		return CndNe
	case "<":
		return CndLt
	case ">":
		return CndGt
	case "<=":
		return CndLe
	case ">=":
		return CndGe
	default:
		p.fail(t, "unknown condition operator %q", t.text)
		panic("unreachable")
	}
}

// parseOptionalWeight consumes a trailing `*<number>` annotation if present
// (§6.1: generator weight > 1.0 default 100.0, condition weight <= 1.0
// default 0.1, driver-output weight default 1.0 per generator.h/driver.h),
// returning def when no annotation is present. The bound is advisory only —
// phase 8's cheapest-generator selection just compares whichever values are
// supplied, so an out-of-range weight is not itself a parse error.
func (p *parser) parseOptionalWeight(def float64) float64 {
	if !(p.lex.peekTok().kind == tokPunct && p.lex.peekTok().text == "*") {
		return def
	}
	star := p.lex.next()
	feedHash(&p.hasher, star)
	n := p.lex.next()
	feedHash(&p.hasher, n)
	if n.kind != tokNumber {
		p.fail(n, "expected a weight after '*', found %q", n.text)
	}
	if w, err := parseFloatLiteral(n.text); err == nil {
		return w
	}
	i, err := parseIntLiteral(n.text)
	if err != nil {
		p.fail(n, "bad weight %q: %s", n.text, err)
	}
	return float64(i)
}

// expectEOS requires that nothing but the statement's trailing sentinel
// remains; this grammar has no terminator token of its own, since a
// statement is exactly one line (§6.1).
func (p *parser) expectEOS() {
	t := p.lex.peekTok()
	if t.kind != tokEOF {
		p.fail(t, "unexpected trailing token %q", t.text)
	}
}

func (p *parser) expectIdent() token {
	t := p.lex.next()
	feedHash(&p.hasher, t)
	if t.kind != tokIdent {
		p.fail(t, "expected an identifier, found %q", t.text)
	}
	return t
}

func (p *parser) expectPunct(text string) token {
	t := p.lex.next()
	feedHash(&p.hasher, t)
	if t.kind != tokPunct || t.text != text {
		p.fail(t, "expected %q, found %q", text, t.text)
	}
	return t
}

func (p *parser) expectArrow() token {
	t := p.lex.next()
	feedHash(&p.hasher, t)
	if t.kind != tokArrow {
		p.fail(t, "expected '<-', found %q", t.text)
	}
	return t
}

func (p *parser) fail(t token, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	panic(parseError{err: pulleyerrors.ErrSyntax.New(t.pos.Line, msg)})
}
