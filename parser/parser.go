// Package parser turns rule-set source text into an ast.RuleSet. It is a
// small hand-written recursive-descent parser: the language's grammar is
// simple enough (no significant ambiguity once string-reference sigils are
// disambiguated by the lexer's mode stack) that a parser generator buys
// little, and the rest of this repository treats this package as an
// external collaborator anyway — callers only depend on the ast package.
package parser

import (
	"fmt"

	"github.com/sansecio/yarax/ast"
	"github.com/sansecio/yarax/diag"
)

// ParseError is a syntax error with enough position information to
// render as a labeled-span diagnostic (see Diagnostic).
type ParseError struct {
	Line int
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Msg) }

// Diagnostic renders e as a diag.Diagnostic labeled at its source
// position, origin being the name of the source unit e came from
// (a file path, or "" for an anonymous buffer).
func (e *ParseError) Diagnostic(origin string) diag.Diagnostic {
	d := diag.New(diag.TypeError, "E001", "syntax error")
	d = d.WithLabel(diag.LevelError, origin, diag.Span{Start: e.Pos, End: e.Pos + 1}, e.Msg)
	return d.Render()
}

// Parse parses a full rule-set source buffer. On failure the returned
// error is always a *ParseError.
func Parse(src string) (*ast.RuleSet, error) {
	p := &parser{lex: newLexer(src)}
	p.advance()
	rs := &ast.RuleSet{}
	for p.tok.kind != tokEOF {
		if p.err != nil {
			return nil, p.err
		}
		if p.tok.kind == tokIdent && p.tok.text == "import" {
			p.advance()
			p.expect(tokString)
			continue
		}
		if p.tok.kind == tokIdent && p.tok.text == "include" {
			p.advance()
			p.expect(tokString)
			continue
		}
		r := p.parseRule()
		if p.err != nil {
			return nil, p.err
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rs, p.err
}

// ParseDiag parses src the way Parse does, but reports failure as a
// diag.Report (a single syntax-error Diagnostic) labeled with origin,
// for callers that surface the compiler's diagnostic JSON (§6) rather
// than a bare Go error.
func ParseDiag(src, origin string) (*ast.RuleSet, diag.Report) {
	rs, err := Parse(src)
	if err == nil {
		return rs, nil
	}
	if pe, ok := err.(*ParseError); ok {
		return nil, diag.Report{pe.Diagnostic(origin)}
	}
	d := diag.New(diag.TypeError, "E001", "syntax error").
		WithLabel(diag.LevelError, origin, diag.Span{}, err.Error()).
		Render()
	return nil, diag.Report{d}
}

type parser struct {
	lex *lexer
	tok token
	err error
}

func (p *parser) advance() {
	if p.err != nil {
		return
	}
	p.tok = p.lex.next()
	if p.lex.err != nil {
		p.err = p.lex.err
	}
}

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = &ParseError{Line: p.tok.line, Pos: p.tok.pos, Msg: fmt.Sprintf(format, args...)}
	}
}

func (p *parser) expect(k tokenKind) token {
	t := p.tok
	if t.kind != k {
		p.fail("unexpected token %v (want %v)", t, k)
		return t
	}
	p.advance()
	return t
}

func (p *parser) isKeyword(word string) bool {
	return p.tok.kind == tokIdent && p.tok.text == word
}

func (p *parser) acceptKeyword(word string) bool {
	if p.isKeyword(word) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectKeyword(word string) {
	if !p.acceptKeyword(word) {
		p.fail("expected %q, got %v", word, p.tok)
	}
}

// ---- rule ----

func (p *parser) parseRule() *ast.Rule {
	r := &ast.Rule{Namespace: "default"}
	for {
		if p.acceptKeyword("global") {
			r.Global = true
			continue
		}
		if p.acceptKeyword("private") {
			r.Private = true
			continue
		}
		break
	}
	p.expectKeyword("rule")
	r.Name = p.expect(tokIdent).text

	if p.tok.kind == tokColon {
		p.advance()
		for p.tok.kind == tokIdent {
			r.Tags = append(r.Tags, p.tok.text)
			p.advance()
		}
	}

	p.expect(tokLBrace)
	for !p.isKeyword("condition") {
		switch {
		case p.acceptKeyword("meta"):
			p.expect(tokColon)
			r.Meta = p.parseMeta()
		case p.acceptKeyword("strings"):
			p.expect(tokColon)
			r.Strings = p.parseStrings()
		default:
			p.fail("unexpected token in rule body: %v", p.tok)
			return r
		}
		if p.err != nil {
			return r
		}
	}
	p.expectKeyword("condition")
	p.expect(tokColon)
	r.Condition = p.parseCondition()
	p.expect(tokRBrace)
	return r
}

func (p *parser) parseMeta() []*ast.MetaEntry {
	var entries []*ast.MetaEntry
	for p.tok.kind == tokIdent && !keywordSet[p.tok.text] {
		key := p.tok.text
		p.advance()
		p.expect(tokAssign)
		var val any
		switch p.tok.kind {
		case tokString:
			val = p.tok.text
			p.advance()
		case tokInt:
			val = p.tok.ival
			p.advance()
		case tokMinus:
			p.advance()
			val = -p.expect(tokInt).ival
		case tokFloat:
			val = p.tok.fval
			p.advance()
		case tokIdent:
			if p.tok.text == "true" {
				val = true
			} else if p.tok.text == "false" {
				val = false
			} else {
				p.fail("invalid meta value: %v", p.tok)
			}
			p.advance()
		default:
			p.fail("invalid meta value: %v", p.tok)
			return entries
		}
		entries = append(entries, &ast.MetaEntry{Key: key, Value: val})
	}
	return entries
}

func (p *parser) parseStrings() []*ast.StringDef {
	var defs []*ast.StringDef
	for p.tok.kind == tokStringIdent {
		name := p.tok.text
		p.advance()
		p.expect(tokAssign)
		def := &ast.StringDef{Name: name}
		switch p.tok.kind {
		case tokString:
			def.Value = ast.TextString{Value: p.tok.text}
			p.advance()
		case tokRegex:
			def.Value = p.parseRegexLit()
		case tokLBrace:
			def.Value = p.parseHexString()
		default:
			p.fail("invalid string value: %v", p.tok)
			return defs
		}
		def.Modifiers = p.parseStringModifiers()
		defs = append(defs, def)
		if p.err != nil {
			return defs
		}
	}
	return defs
}

func (p *parser) parseRegexLit() ast.RegexString {
	text := p.tok.text
	pattern, flags := splitRegexToken(text)
	p.advance()
	mods := ast.RegexModifiers{}
	for _, f := range flags {
		switch f {
		case 'i':
			mods.CaseInsensitive = true
		case 's':
			mods.DotMatchesAll = true
		case 'm':
			mods.Multiline = true
		}
	}
	return ast.RegexString{Pattern: pattern, Modifiers: mods}
}

func splitRegexToken(text string) (string, string) {
	for i := 0; i < len(text); i++ {
		if text[i] == 0 {
			return text[:i], text[i+1:]
		}
	}
	return text, ""
}

func (p *parser) parseHexString() ast.HexString {
	p.expect(tokLBrace)
	hs := ast.HexString{}
	for p.tok.kind != tokRBrace {
		switch p.tok.kind {
		case tokHexByte:
			hs.Tokens = append(hs.Tokens, ast.HexByte{Value: p.tok.byt})
			p.advance()
		case tokHexWildcard:
			hs.Tokens = append(hs.Tokens, ast.HexWildcard{})
			p.advance()
		case tokHexMasked:
			mask := byte(0xF0)
			if p.tok.byt&0x0F == 0 && p.tok.byt != 0 {
				mask = 0x0F
			}
			// lexer encodes high-nibble-known as byt=v<<4, low-nibble-known as byt=v
			hs.Tokens = append(hs.Tokens, ast.HexMaskedByte{Value: p.tok.byt, Mask: mask})
			p.advance()
		case tokHexJump:
			hs.Tokens = append(hs.Tokens, parseHexJump(p.tok.text))
			p.advance()
		case tokHexAltOpen:
			hs.Tokens = append(hs.Tokens, p.parseHexAlt())
		default:
			p.fail("invalid token in hex string: %v", p.tok)
			return hs
		}
		if p.err != nil {
			return hs
		}
	}
	p.expect(tokRBrace)
	return hs
}

func (p *parser) parseHexAlt() ast.HexAlt {
	p.expect(tokHexAltOpen)
	alt := ast.HexAlt{}
	for {
		switch p.tok.kind {
		case tokHexByte:
			v := p.tok.byt
			alt.Alternatives = append(alt.Alternatives, ast.HexAltItem{Byte: &v})
			p.advance()
		case tokHexWildcard:
			alt.Alternatives = append(alt.Alternatives, ast.HexAltItem{Wildcard: true})
			p.advance()
		default:
			p.fail("invalid token in hex alternation: %v", p.tok)
			return alt
		}
		if p.tok.kind == tokPipe {
			p.advance()
			continue
		}
		break
	}
	p.expect(tokRParen)
	return alt
}

func parseHexJump(text string) ast.HexJump {
	// text is like "[4]", "[4-16]", "[-]", "[4-]"
	body := text[1 : len(text)-1]
	if body == "-" {
		return ast.HexJump{}
	}
	lo, hi := "", ""
	dash := -1
	for i := 0; i < len(body); i++ {
		if body[i] == '-' {
			dash = i
			break
		}
	}
	if dash < 0 {
		lo, hi = body, body
	} else {
		lo, hi = body[:dash], body[dash+1:]
	}
	j := ast.HexJump{}
	if lo != "" {
		v := atoiSafe(lo)
		j.Min = &v
	}
	if hi != "" {
		v := atoiSafe(hi)
		j.Max = &v
	}
	return j
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return n
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func (p *parser) parseStringModifiers() ast.StringModifiers {
	var m ast.StringModifiers
	for p.tok.kind == tokIdent && modifierWords[p.tok.text] {
		switch p.tok.text {
		case "nocase":
			m.Nocase = true
			p.advance()
		case "wide":
			m.Wide = true
			p.advance()
		case "ascii":
			m.Ascii = true
			p.advance()
		case "fullword":
			m.Fullword = true
			p.advance()
		case "private":
			m.Private = true
			p.advance()
		case "base64":
			m.Base64 = true
			p.advance()
			if p.tok.kind == tokLParen {
				p.advance()
				m.Base64Alph = p.expect(tokString).text
				p.expect(tokRParen)
			}
		case "base64wide":
			m.Base64Wide = true
			p.advance()
			if p.tok.kind == tokLParen {
				p.advance()
				m.Base64Alph = p.expect(tokString).text
				p.expect(tokRParen)
			}
		case "xor":
			m.Xor = true
			m.XorMin, m.XorMax = 0, 255
			p.advance()
			if p.tok.kind == tokLParen {
				p.advance()
				lo := int(p.expect(tokInt).ival)
				hi := lo
				if p.tok.kind == tokMinus {
					p.advance()
					hi = int(p.expect(tokInt).ival)
				}
				m.XorMin, m.XorMax = lo, hi
				p.expect(tokRParen)
			}
		}
	}
	return m
}

// ---- condition expressions ----
//
// Precedence, loosest to tightest:
//
//	or
//	and
//	not
//	comparisons (== != < <= > >= contains icontains startswith istartswith endswith iendswith matches)
//	bitwise or  (|)
//	bitwise xor (^)
//	bitwise and (&)
//	shift       (<< >>)
//	additive    (+ -)
//	multiplicative (* \ %)
//	unary       (- ~ defined)
//	postfix     ([] . at in)
//	primary

func (p *parser) parseCondition() ast.Expr { return p.parseOr() }

func (p *parser) parseOr() ast.Expr {
	left := p.parseAnd()
	for p.acceptKeyword("or") {
		right := p.parseAnd()
		left = ast.BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left
}

func (p *parser) parseAnd() ast.Expr {
	left := p.parseNot()
	for p.acceptKeyword("and") {
		right := p.parseNot()
		left = ast.BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left
}

func (p *parser) parseNot() ast.Expr {
	if p.acceptKeyword("not") {
		return ast.UnaryExpr{Op: "not", X: p.parseNot()}
	}
	return p.parseComparison()
}

var cmpKeywordOps = []string{"contains", "icontains", "startswith", "istartswith", "endswith", "iendswith", "matches"}

func (p *parser) parseComparison() ast.Expr {
	left := p.parseBitOr()
	for {
		switch p.tok.kind {
		case tokEq:
			p.advance()
			left = ast.BinaryExpr{Op: "==", Left: left, Right: p.parseBitOr()}
			continue
		case tokNe:
			p.advance()
			left = ast.BinaryExpr{Op: "!=", Left: left, Right: p.parseBitOr()}
			continue
		case tokLt:
			p.advance()
			left = ast.BinaryExpr{Op: "<", Left: left, Right: p.parseBitOr()}
			continue
		case tokLe:
			p.advance()
			left = ast.BinaryExpr{Op: "<=", Left: left, Right: p.parseBitOr()}
			continue
		case tokGt:
			p.advance()
			left = ast.BinaryExpr{Op: ">", Left: left, Right: p.parseBitOr()}
			continue
		case tokGe:
			p.advance()
			left = ast.BinaryExpr{Op: ">=", Left: left, Right: p.parseBitOr()}
			continue
		}
		matched := false
		for _, kw := range cmpKeywordOps {
			if p.isKeyword(kw) {
				p.advance()
				left = ast.BinaryExpr{Op: kw, Left: left, Right: p.parseBitOr()}
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		break
	}
	return left
}

func (p *parser) parseBitOr() ast.Expr {
	left := p.parseBitXor()
	for p.tok.kind == tokPipe {
		p.advance()
		left = ast.BinaryExpr{Op: "|", Left: left, Right: p.parseBitXor()}
	}
	return left
}

func (p *parser) parseBitXor() ast.Expr {
	left := p.parseBitAnd()
	for p.tok.kind == tokCaret {
		p.advance()
		left = ast.BinaryExpr{Op: "^", Left: left, Right: p.parseBitAnd()}
	}
	return left
}

func (p *parser) parseBitAnd() ast.Expr {
	left := p.parseShift()
	for p.tok.kind == tokAmp {
		p.advance()
		left = ast.BinaryExpr{Op: "&", Left: left, Right: p.parseShift()}
	}
	return left
}

func (p *parser) parseShift() ast.Expr {
	left := p.parseAdditive()
	for p.tok.kind == tokShl || p.tok.kind == tokShr {
		op := "<<"
		if p.tok.kind == tokShr {
			op = ">>"
		}
		p.advance()
		left = ast.BinaryExpr{Op: op, Left: left, Right: p.parseAdditive()}
	}
	return left
}

func (p *parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.tok.kind == tokPlus || p.tok.kind == tokMinus {
		op := "+"
		if p.tok.kind == tokMinus {
			op = "-"
		}
		p.advance()
		left = ast.BinaryExpr{Op: op, Left: left, Right: p.parseMultiplicative()}
	}
	return left
}

func (p *parser) parseMultiplicative() ast.Expr {
	left := p.parseUnary()
	for p.tok.kind == tokStar || p.tok.kind == tokSlash || p.tok.kind == tokPercent {
		op := map[tokenKind]string{tokStar: "*", tokSlash: "\\", tokPercent: "%"}[p.tok.kind]
		p.advance()
		left = ast.BinaryExpr{Op: op, Left: left, Right: p.parseUnary()}
	}
	return left
}

func (p *parser) parseUnary() ast.Expr {
	switch {
	case p.tok.kind == tokMinus:
		p.advance()
		return ast.UnaryExpr{Op: "-", X: p.parseUnary()}
	case p.tok.kind == tokTilde:
		p.advance()
		return ast.UnaryExpr{Op: "~", X: p.parseUnary()}
	case p.isKeyword("defined"):
		p.advance()
		return ast.UnaryExpr{Op: "defined", X: p.parseUnary()}
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() ast.Expr {
	e := p.parsePrimary()
	for {
		switch {
		case p.tok.kind == tokDot:
			p.advance()
			field := p.expect(tokIdent).text
			e = ast.FieldAccess{Base: e, Field: field}
		case p.tok.kind == tokLBracket:
			p.advance()
			idx := p.parseCondition()
			p.expect(tokRBracket)
			e = ast.IndexExpr{Base: e, Index: idx}
		case p.tok.kind == tokLParen:
			if name, ok := flattenDottedName(e); ok {
				p.advance()
				var args []ast.Expr
				for p.tok.kind != tokRParen {
					args = append(args, p.parseCondition())
					if p.tok.kind == tokComma {
						p.advance()
					}
				}
				p.expect(tokRParen)
				e = ast.FuncCall{Name: name, Args: args}
				continue
			}
			return e
		case p.isKeyword("at"):
			if sr, ok := e.(ast.StringRef); ok {
				p.advance()
				pos := p.parseAdditive()
				e = ast.AtExpr{Ref: sr, Pos: pos}
				continue
			}
			return e
		case p.isKeyword("in"):
			if sr, ok := e.(ast.StringRef); ok {
				p.advance()
				p.expect(tokLParen)
				lo := p.parseAdditive()
				p.expect(tokDotDot)
				hi := p.parseAdditive()
				p.expect(tokRParen)
				e = ast.InExpr{Ref: sr, Lo: lo, Hi: hi}
				continue
			}
			return e
		case p.tok.kind == tokPercent:
			p.advance()
			p.expectKeyword("of")
			which, set := p.parseStringSet()
			return ast.OfExpr{Quantifier: e, Percentage: true, Which: which, Set: set}
		case p.isKeyword("of"):
			p.advance()
			which, set := p.parseStringSet()
			return ast.OfExpr{Quantifier: e, Which: which, Set: set}
		default:
			return e
		}
	}
}

func (p *parser) parsePrimary() ast.Expr {
	switch p.tok.kind {
	case tokInt:
		v := p.tok.ival
		p.advance()
		return ast.IntLit{Value: v}
	case tokFloat:
		v := p.tok.fval
		p.advance()
		return ast.FloatLit{Value: v}
	case tokString:
		v := p.tok.text
		p.advance()
		return ast.StringLit{Value: v}
	case tokStringIdent:
		name := p.tok.text
		p.advance()
		return ast.StringRef{Name: name}
	case tokStringCount:
		name := p.tok.text
		p.advance()
		return ast.StringCount{Name: name}
	case tokStringOffset:
		name := p.tok.text
		p.advance()
		var idx ast.Expr
		if p.tok.kind == tokLBracket {
			p.advance()
			idx = p.parseCondition()
			p.expect(tokRBracket)
		}
		return ast.StringOffset{Name: name, Index: idx}
	case tokStringLen:
		name := p.tok.text
		p.advance()
		var idx ast.Expr
		if p.tok.kind == tokLBracket {
			p.advance()
			idx = p.parseCondition()
			p.expect(tokRBracket)
		}
		return ast.StringLength{Name: name, Index: idx}
	case tokLParen:
		p.advance()
		inner := p.parseCondition()
		p.expect(tokRParen)
		return ast.ParenExpr{Inner: inner}
	case tokIdent:
		return p.parsePrimaryIdent()
	}
	p.fail("unexpected token in expression: %v", p.tok)
	return ast.BoolLit{Value: false}
}

func (p *parser) parsePrimaryIdent() ast.Expr {
	switch p.tok.text {
	case "true":
		p.advance()
		return ast.BoolLit{Value: true}
	case "false":
		p.advance()
		return ast.BoolLit{Value: false}
	case "filesize", "entrypoint":
		name := p.tok.text
		p.advance()
		return ast.Ident{Name: name}
	case "any", "all":
		allOf := p.tok.text == "all"
		p.advance()
		return p.parseOfTail(nil, allOf)
	case "for":
		p.advance()
		return p.parseForExpr()
	}
	name := p.tok.text
	p.advance()
	// Quantified "of" expressions such as "1 of them" and "50% of them"
	// are handled in parsePostfix; a plain identifier here is a module ref
	// or an external variable.
	return ast.Ident{Name: name}
}

// parseOfTail parses the "of <set>" tail of an "any"/"all" quantifier
// into an OfExpr (quant is nil for both; allOf tells them apart).
func (p *parser) parseOfTail(quant ast.Expr, allOf bool) ast.Expr {
	p.expectKeyword("of")
	which, set := p.parseStringSet()
	return ast.OfExpr{Quantifier: quant, AllOf: allOf, Which: which, Set: set}
}

func (p *parser) parseStringSet() (which string, set []string) {
	if p.acceptKeyword("them") {
		return "them", nil
	}
	if p.tok.kind == tokStringIdent {
		which = p.tok.text
		p.advance()
		return which, nil
	}
	if p.tok.kind == tokLParen {
		p.advance()
		for p.tok.kind == tokStringIdent {
			set = append(set, p.tok.text)
			p.advance()
			if p.tok.kind == tokComma {
				p.advance()
			}
		}
		p.expect(tokRParen)
		return "", set
	}
	p.fail("expected string set, got %v", p.tok)
	return "", nil
}

func (p *parser) parseForExpr() ast.Expr {
	fe := &ast.ForExpr{}
	switch {
	case p.acceptKeyword("any"):
	case p.acceptKeyword("all"):
		fe.AllOf = true
	case p.tok.kind == tokInt:
		v := p.tok.ival
		p.advance()
		fe.Quantifier = ast.IntLit{Value: v}
		if p.tok.kind == tokPercent {
			p.advance()
			fe.Percentage = true
		}
	default:
		fe.Quantifier = p.parseCondition()
	}

	// Two shapes: "for <q> <var> in (<lo>..<hi>) : (<body>)"
	//             "for <q> of <set> : (<body>)"
	if p.tok.kind == tokIdent && !p.isKeyword("of") {
		fe.Var = p.tok.text
		p.advance()
		p.expectKeyword("in")
		p.expect(tokLParen)
		fe.Lo = p.parseCondition()
		p.expect(tokDotDot)
		fe.Hi = p.parseCondition()
		p.expect(tokRParen)
	} else {
		p.expectKeyword("of")
		fe.Which, fe.Set = p.parseStringSet()
	}
	p.expect(tokColon)
	p.expect(tokLParen)
	fe.Body = p.parseCondition()
	p.expect(tokRParen)
	return *fe
}

// flattenDottedName collapses a chain of FieldAccess nodes rooted at an
// Ident into a single dotted name, so "pe.imports(...)" calls the module
// function "pe.imports" rather than failing to parse as a call at all.
func flattenDottedName(e ast.Expr) (string, bool) {
	switch v := e.(type) {
	case ast.Ident:
		return v.Name, true
	case ast.FieldAccess:
		base, ok := flattenDottedName(v.Base)
		if !ok {
			return "", false
		}
		return base + "." + v.Field, true
	}
	return "", false
}

func (t token) String() string {
	if t.text != "" {
		return fmt.Sprintf("%d(%q)", t.kind, t.text)
	}
	return fmt.Sprintf("%d", t.kind)
}
