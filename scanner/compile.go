package scanner

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sansecio/yarax/ahocorasick"
	"github.com/sansecio/yarax/ast"
	"github.com/sansecio/yarax/condvm"
	"github.com/sansecio/yarax/diag"
	"github.com/sansecio/yarax/regexvm"
)

// CompileOptions configures compilation behavior.
type CompileOptions struct {
	// SkipInvalidRegex silently skips strings whose pattern is invalid or
	// has no atom of minAtomLength, instead of returning an error.
	SkipInvalidRegex bool

	// SkipSubtypes filters out rules whose meta "subtype" field matches
	// any of the given values. Rules without a "subtype" meta or with an
	// empty subtype value are never filtered.
	SkipSubtypes []string
}

// minAtomLength is the minimum length of an atom extracted from a regex
// or hex string for use in the Aho-Corasick matcher. 3 bytes gives 16M
// possible values (255^3), making false positives rare while still
// allowing generic patterns. Plain text strings have no such floor: the
// whole literal is always usable as its own atom.
const minAtomLength = 3

// Compile compiles an AST RuleSet into Rules ready for scanning.
func Compile(rs *ast.RuleSet) (*Rules, error) {
	return CompileWithOptions(rs, CompileOptions{})
}

// CompileWithOptions compiles an AST RuleSet with the given options.
func CompileWithOptions(rs *ast.RuleSet, opts CompileOptions) (*Rules, error) {
	c := &compiler{opts: opts, builder: condvm.NewBuilder(), seenNS: map[string]bool{}}
	return c.compile(rs)
}

type compiler struct {
	opts     CompileOptions
	rules    []*compiledRule
	patterns []*pattern
	atoms    [][]byte
	atomRefs []atomRef
	builder  *condvm.Builder
	seenNS   map[string]bool
	nsOrder  []string
	diags    diag.Report
}

// warnSkippedString records a SkipInvalidRegex-dropped string as a
// compiler warning (E101) rather than letting it vanish silently: the
// rule still compiles, but a caller inspecting Rules.Diagnostics sees
// exactly which pattern was dropped and why.
func (c *compiler) warnSkippedString(ruleName, stringName string, cause error) {
	c.diags = append(c.diags, diag.New(diag.TypeWarning, "E101", "string skipped at compile time").
		WithLabel(diag.LevelWarn, ruleName, diag.Span{}, fmt.Sprintf("%s: %v", stringName, cause)).
		Render())
}

func (c *compiler) compile(rs *ast.RuleSet) (*Rules, error) {
	skipSubtypes := make(map[string]bool, len(c.opts.SkipSubtypes))
	for _, t := range c.opts.SkipSubtypes {
		if t != "" {
			skipSubtypes[t] = true
		}
	}

	eligible := func(r *ast.Rule) bool {
		if r.Condition == nil {
			return false
		}
		if len(skipSubtypes) > 0 {
			if subtype := metaValue(r, "subtype"); subtype != "" && skipSubtypes[subtype] {
				return false
			}
		}
		return true
	}

	// Rule ids are assigned before any condition is compiled, so a bare
	// identifier referencing another rule (see emitIdent) resolves
	// regardless of declaration order between the two rules.
	ruleIDs := make(map[string]int)
	next := 0
	for _, r := range rs.Rules {
		if !eligible(r) {
			continue
		}
		ruleIDs[r.Name] = next
		next++
	}

	var errs []error
	ruleIdx := 0
	for _, r := range rs.Rules {
		if !eligible(r) {
			continue
		}

		ns := r.Namespace
		if ns == "" {
			ns = "default"
		}
		if !c.seenNS[ns] {
			c.builder.NewNamespace(ns)
			c.seenNS[ns] = true
			c.nsOrder = append(c.nsOrder, ns)
		}

		cr := &compiledRule{
			id:         ruleIdx,
			name:       r.Name,
			namespace:  ns,
			tags:       r.Tags,
			global:     r.Global,
			private:    r.Private,
			metas:      make([]Meta, len(r.Meta)),
			patternIDs: make(map[string]int, len(r.Strings)),
		}
		for i, m := range r.Meta {
			cr.metas[i] = Meta{Identifier: m.Key, Value: m.Value}
		}
		for _, s := range r.Strings {
			cr.stringNames = append(cr.stringNames, s.Name)
			pid, err := c.compileString(ruleIdx, s)
			if err != nil {
				if c.opts.SkipInvalidRegex {
					c.warnSkippedString(r.Name, s.Name, err)
					continue
				}
				errs = append(errs, fmt.Errorf("rule %q string %s: %w", r.Name, s.Name, err))
				continue
			}
			cr.patternIDs[s.Name] = pid
		}

		c.rules = append(c.rules, cr)

		c.builder.StartRule(ruleIdx, r.Name, r.Global)
		if err := emitCondition(c.builder, cr, ruleIDs, r.Condition); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.Name, err))
		}
		c.builder.Emit(condvm.Instr{Op: condvm.OpReturn})
		c.builder.FinishRule()

		ruleIdx++
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	rules := &Rules{
		rules:      c.rules,
		namespaces: c.nsOrder,
		patterns:   c.patterns,
		atomRefs:   c.atomRefs,
		atomFeed:   c.atoms,
		condMod:    c.builder.Build(len(c.rules), len(c.nsOrder)),
		diags:      c.diags,
	}
	if len(c.atoms) > 0 {
		builder := ahocorasick.NewAtomAutomatonBuilder()
		ac := builder.BuildByte(c.atoms)
		rules.matcher = &acMatcher{ac: ac}
	}
	return rules, nil
}

// compileString lowers one string definition to a VM program plus its
// prefiltering atom(s), registers it in the pattern table and the global
// atom list, and returns its pattern id.
func (c *compiler) compileString(ruleIdx int, s *ast.StringDef) (int, error) {
	pid := len(c.patterns)
	p := &pattern{id: pid, ruleIndex: ruleIdx, name: s.Name}
	p.modifiers = patternModifiers{
		nocase: s.Modifiers.Nocase, wide: s.Modifiers.Wide, ascii: s.Modifiers.Ascii,
		fullword: s.Modifiers.Fullword, private: s.Modifiers.Private,
		xor: s.Modifiers.Xor, xorMin: s.Modifiers.XorMin, xorMax: s.Modifiers.XorMax,
		base64: s.Modifiers.Base64, base64Wide: s.Modifiers.Base64Wide, base64Alph: s.Modifiers.Base64Alph,
	}

	switch v := s.Value.(type) {
	case ast.TextString:
		if err := c.compileTextString(p, v, s.Modifiers); err != nil {
			return 0, err
		}
	case ast.HexString:
		prog, err := regexvm.CompileHex(v, s.Modifiers.Nocase)
		if err != nil {
			return 0, err
		}
		p.program = prog
		atoms, backs, ok := extractHexAtoms(v.Tokens, minAtomLength)
		if !ok {
			return 0, fmt.Errorf("hex string has no atom of length %d", minAtomLength)
		}
		c.addAtoms(p, atoms, backs, s.Modifiers.Nocase)
	case ast.RegexString:
		prog, err := regexvm.CompileRegex(v.Pattern, v.Modifiers)
		if err != nil {
			return 0, err
		}
		p.program = prog
		atoms, backs, ok := extractAtoms(v.Pattern, minAtomLength)
		if !ok {
			return 0, fmt.Errorf("regex requires a full buffer scan (no atom of length %d)", minAtomLength)
		}
		c.addAtoms(p, atoms, backs, v.Modifiers.CaseInsensitive)
	default:
		return 0, fmt.Errorf("unsupported string value %T", s.Value)
	}

	c.patterns = append(c.patterns, p)
	return pid, nil
}

// compileTextString handles the plain-quoted-string case, including the
// wide/ascii/base64 modifiers the hex and regex cases don't need to
// consider (YARA reserves those for text strings only).
func (c *compiler) compileTextString(p *pattern, v ast.TextString, mods ast.StringModifiers) error {
	if mods.Base64 {
		return c.compileBase64String(p, v, mods)
	}

	raw := []byte(v.Value)
	pattern := textToRegexPattern(raw, mods.Wide, mods.Ascii)
	prog, err := regexvm.CompileRegex(pattern, ast.RegexModifiers{CaseInsensitive: mods.Nocase})
	if err != nil {
		return err
	}
	p.program = prog

	var atoms [][]byte
	if !mods.Wide || mods.Ascii {
		atoms = append(atoms, raw)
	}
	if mods.Wide {
		atoms = append(atoms, interleaveWide(raw))
	}
	c.addAtoms(p, atoms, nil, mods.Nocase)
	return nil
}

// compileBase64String handles the base64/base64wide modifiers: the value
// is searched for in its base64-encoded form, at the three possible byte
// alignments (see generateBase64Patterns), rather than in the clear.
func (c *compiler) compileBase64String(p *pattern, v ast.TextString, mods ast.StringModifiers) error {
	raw := []byte(v.Value)
	variants := generateBase64Patterns(raw)
	if mods.Base64Wide {
		for _, enc := range generateBase64Patterns(raw) {
			variants = append(variants, interleaveWide(enc))
		}
	}
	if len(variants) == 0 {
		return fmt.Errorf("base64 modifier produced no usable pattern")
	}

	var alt []string
	for _, enc := range variants {
		alt = append(alt, escapeRegexBytes(enc))
	}
	pattern := alt[0]
	for _, a := range alt[1:] {
		pattern += "|" + a
	}
	if len(alt) > 1 {
		pattern = "(?:" + pattern + ")"
	}
	prog, err := regexvm.CompileRegex(pattern, ast.RegexModifiers{})
	if err != nil {
		return err
	}
	p.program = prog
	c.addAtoms(p, variants, nil, false)
	return nil
}

// addAtoms registers every atom of a pattern with the multi-literal
// prefilter, folding case for nocase patterns so the AC search still works:
// the matcher's haystack is a case-folded copy of the scanned buffer
// whenever any registered pattern needs it (see verifier.searchAll). backtracks is
// parallel to atoms and gives each atom's distance from the pattern's own
// start; a nil backtracks means every atom in this call sits at the
// pattern's start (true of whole-literal text/base64 atoms, which are never
// extracted from the middle of a larger construct).
func (c *compiler) addAtoms(p *pattern, atoms [][]byte, backtracks []int, nocase bool) {
	for i, a := range atoms {
		if len(a) == 0 {
			continue
		}
		feed := a
		if nocase {
			feed = toLowerASCII(a)
		}
		backtrack := 0
		if i < len(backtracks) {
			backtrack = backtracks[i]
		}
		p.atoms = append(p.atoms, a)
		p.atomBack = append(p.atomBack, backtrack)
		c.atomRefs = append(c.atomRefs, atomRef{patternID: p.id, backtrack: backtrack})
		c.atoms = append(c.atoms, feed)
	}
}

func toLowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func interleaveWide(b []byte) []byte {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = c
	}
	return out
}

func textToRegexPattern(raw []byte, wide, ascii bool) string {
	asciiPat := escapeRegexBytes(raw)
	if !wide {
		return asciiPat
	}
	widePat := escapeRegexBytes(interleaveWide(raw))
	if ascii {
		return "(?:" + asciiPat + "|" + widePat + ")"
	}
	return widePat
}

func escapeRegexBytes(b []byte) string {
	out := make([]byte, 0, len(b)*4)
	for _, c := range b {
		out = append(out, '\\', 'x', hexDigit(c>>4), hexDigit(c&0xf))
	}
	return string(out)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

// acMatcher adapts the ahocorasick package to the atomMatcher interface
// so scan.go doesn't need to import it directly.
type acMatcher struct {
	ac ahocorasick.AtomAutomaton
}

func (m *acMatcher) IterOverlapping(haystack []byte) ahocorasick.Iter {
	return m.ac.Overlapping(haystack)
}

type atomMatcher interface {
	IterOverlapping(haystack []byte) ahocorasick.Iter
}

// generateBase64Patterns returns the 1-3 encodings of data that can show
// up in a base64 stream, one per byte alignment within base64's 3-byte
// groups; each is trimmed of the padding and leading/trailing characters
// whose value depends on bytes outside data.
func generateBase64Patterns(data []byte) [][]byte {
	offsets := [3]struct{ pad, skip int }{{0, 0}, {1, 2}, {2, 3}}
	patterns := make([][]byte, 0, 3)

	for _, o := range offsets {
		padded := append(make([]byte, o.pad), data...)
		enc := base64.StdEncoding.EncodeToString(padded)
		if len(enc) <= o.skip {
			continue
		}
		trimmed := strings.TrimRight(enc[o.skip:], "=")
		if trim := trailingUnstableChars(len(data) + o.pad); trim > 0 && len(trimmed) > trim {
			trimmed = trimmed[:len(trimmed)-trim]
		}
		if len(trimmed) > 0 {
			patterns = append(patterns, []byte(trimmed))
		}
	}
	return patterns
}

// trailingUnstableChars returns how many trailing base64 chars depend on
// what follows the data, when data length isn't a multiple of 3.
func trailingUnstableChars(dataLen int) int {
	switch dataLen % 3 {
	case 1, 2:
		return 1
	default:
		return 0
	}
}
