package scanner

import (
	"bytes"
	"strconv"

	"github.com/sansecio/yarax/ast"
)

// runInfo is one literal byte run extracted from a regex pattern, together
// with the number of matched bytes that precede its first byte and whether
// that count is guaranteed fixed. A run that follows a `*`, `+`, or `{m,n}`
// quantifier has no guaranteed distance from the pattern's start, since the
// quantified element can consume a variable number of bytes at match time;
// offset is meaningful only when exact is true. The verifier anchors its VM
// program at candidateStart - offset, so a wrong or assumed offset produces
// a false negative rather than a crash -- exactness is load-bearing.
type runInfo struct {
	bytes  []byte
	offset int
	exact  bool
}

// extractAtoms parses a regex and extracts literal atoms for matching,
// together with each atom's backtrack: how far before the atom's own match
// the overall pattern is anchored to begin. For alternation patterns
// (a|b|c), returns atoms from all branches. For patterns with nested
// alternations like "prefix(a|b|c)suffix", returns atoms from all branches
// of the alternation when they're the best choice. Returns the atoms, a
// parallel backtrack slice, and whether any atom was found meeting minLen.
func extractAtoms(pattern string, minLen int) ([][]byte, []int, bool) {
	if isTopLevelAlternation(pattern) {
		return extractAlternationAtoms(pattern, minLen)
	}

	// Find all literal runs and check for nested alternations
	altAtoms, altBack := extractNestedAlternationAtoms(pattern, minLen)

	// Find best atom from OUTSIDE alternation groups (the required literals)
	outsideRuns := extractLiteralRunInfoOutsideAlternations(pattern)
	bestOutside := findBestExactRun(outsideRuns, minLen)

	// If alternation atoms exist and are better than outside literals, use them
	// This handles "prefix(a|b|c)" where we need to match any branch
	if len(altAtoms) > 0 {
		bestAltQuality := -1
		for _, a := range altAtoms {
			if q := atomQuality(a); q > bestAltQuality {
				bestAltQuality = q
			}
		}
		if bestOutside == nil || bestAltQuality > atomQuality(bestOutside.bytes) {
			return altAtoms, altBack, true
		}
	}

	// Use the best outside literal if available
	if bestOutside != nil {
		return [][]byte{bestOutside.bytes}, []int{bestOutside.offset}, true
	}

	// Fall back to best overall atom, but only ever anchor on one whose
	// position from the pattern's start is actually known.
	infos, _, _ := extractLiteralRunInfo(pattern)
	best := findBestExactRun(infos, minLen)
	if best == nil {
		return nil, nil, false
	}
	return [][]byte{best.bytes}, []int{best.offset}, true
}

// findBestExactRun returns the highest quality run meeting minLen, among
// those whose offset from the pattern's start is exact: an atom whose true
// position is unknown can't be given a correct backtrack, so it's not a
// safe prefilter candidate here.
func findBestExactRun(infos []runInfo, minLen int) *runInfo {
	var best *runInfo
	bestQuality := -1
	for i := range infos {
		r := &infos[i]
		if !r.exact || len(r.bytes) < minLen {
			continue
		}
		if isCommonToken(r.bytes) {
			continue
		}
		if q := atomQuality(r.bytes); q > bestQuality {
			bestQuality = q
			best = r
		}
	}
	return best
}

// commonTokens are tokens that show up in nearly every PHP/JS/HTML file a
// webshell hides among, so they gate almost nothing and make poor atoms.
var commonTokens = [][]byte{
	[]byte("<?php"),
	[]byte("?>"),
	[]byte("return"),
	[]byte("function"),
	[]byte("var"),
	[]byte("echo"),
	[]byte("();"),
	[]byte("</script>"),
	[]byte("="),
}

// isCommonToken returns true for atoms that, after trimming spaces, match
// a common token.
func isCommonToken(atom []byte) bool {
	trimmed := bytes.TrimSpace(atom)
	for _, kw := range commonTokens {
		if bytes.Equal(trimmed, kw) {
			return true
		}
	}
	return false
}

// isTopLevelAlternation checks if the pattern has alternation at the top level.
func isTopLevelAlternation(pattern string) bool {
	depth := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// extractAlternationAtoms extracts atoms from each branch of a top-level
// alternation. A real regex alternation tries every branch from the same
// starting position, so each branch's own leading literal run -- whichever
// run in that branch starts first, not whichever scores highest -- sits at
// the pattern's own start whenever that branch is the one that matches.
func extractAlternationAtoms(pattern string, minLen int) ([][]byte, []int, bool) {
	var atoms [][]byte
	var backs []int
	for _, branch := range splitTopLevelAlternation(pattern) {
		infos, _, _ := extractLiteralRunInfo(branch)
		if r := leadingExactRun(infos, minLen); r != nil {
			atoms = append(atoms, r.bytes)
			backs = append(backs, r.offset)
		}
	}
	if len(atoms) == 0 {
		return nil, nil, false
	}
	return atoms, backs, true
}

// leadingExactRun returns the first run in infos (in pattern order) whose
// offset is exact and long enough, or nil. Branch atoms must come from the
// branch's own leading material: a later, higher-scoring run would sit at
// an offset that's only valid once earlier, skipped-over bytes are known to
// have matched, which prefiltering can't assume.
func leadingExactRun(infos []runInfo, minLen int) *runInfo {
	for i := range infos {
		r := &infos[i]
		if !r.exact {
			break
		}
		if len(r.bytes) < minLen || isCommonToken(r.bytes) {
			continue
		}
		return r
	}
	return nil
}

// extractNestedAlternationAtoms finds alternation groups within the pattern
// and extracts atoms from the best group only. For example, "prefix(a|b|c)suffix"
// would extract atoms from "a", "b", "c". When multiple alternation groups exist,
// only atoms from the group with the highest quality atoms are returned.
// Optional groups (followed by ?, *, {0,N}) are skipped. A branch only
// contributes an atom when the text preceding its group has a fixed width,
// so the group's (and so the branch's) distance from the pattern's start is
// known -- otherwise the branch is dropped rather than anchored on a guess.
func extractNestedAlternationAtoms(pattern string, minLen int) ([][]byte, []int) {
	// Find all alternation groups (content between matching parens that contains |)
	groups := findAlternationGroups(pattern)
	if len(groups) == 0 {
		return nil, nil
	}

	// Find optional groups to exclude
	optionalGroups := findOptionalGroups(pattern)
	isOptional := func(g altGroup) bool {
		for _, og := range optionalGroups {
			if g.start == og.start && g.end == og.end {
				return true
			}
		}
		return false
	}

	// For each group, collect atoms and find the best atom's quality
	type groupAtoms struct {
		atoms       [][]byte
		backs       []int
		bestQuality int
	}
	var best *groupAtoms

	for _, g := range groups {
		if isOptional(g) {
			continue
		}
		prefixWidth, prefixExact := fixedWidth(pattern[:g.start])
		if !prefixExact {
			continue
		}
		var atoms [][]byte
		var backs []int
		bestQuality := -1
		branches := splitAlternation(g.content)
		for _, branch := range branches {
			infos, _, _ := extractLiteralRunInfo(branch)
			atom := leadingExactRun(infos, minLen)
			if atom == nil {
				continue
			}
			atoms = append(atoms, atom.bytes)
			backs = append(backs, prefixWidth+atom.offset)
			if q := atomQuality(atom.bytes); q > bestQuality {
				bestQuality = q
			}
		}
		if len(atoms) == 0 {
			continue
		}
		if best == nil || bestQuality > best.bestQuality {
			best = &groupAtoms{atoms: atoms, backs: backs, bestQuality: bestQuality}
		}
	}

	if best == nil {
		return nil, nil
	}
	return best.atoms, best.backs
}

// fixedWidth reports how many bytes pattern matches and whether that count
// is guaranteed (no variable-width quantifier appears anywhere in it). Used
// to compute a nested alternation group's distance from the pattern's own
// start.
func fixedWidth(pattern string) (width int, exact bool) {
	_, pos, ex := extractLiteralRunInfo(pattern)
	return pos, ex
}

type altGroup struct {
	start, end int
	content    string
}

// findAlternationGroups finds parenthesized groups that contain alternation.
func findAlternationGroups(pattern string) []altGroup {
	var groups []altGroup
	var stack []int // stack of '(' positions

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++ // skip escaped char
		case '(':
			stack = append(stack, i)
		case ')':
			if len(stack) > 0 {
				start := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				content := pattern[start+1 : i]
				// Check if this group contains alternation at its level
				if containsAlternationAtDepth0(content) {
					groups = append(groups, altGroup{start, i, content})
				}
			}
		}
	}
	return groups
}

// containsAlternationAtDepth0 checks if the string has | at depth 0.
func containsAlternationAtDepth0(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// splitAlternation splits a string by | at depth 0.
func splitAlternation(s string) []string {
	var parts []string
	depth, start := 0, 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// extractLiteralRunInfoOutsideAlternations extracts literals from parts of
// the pattern that are not inside alternation groups or optional groups.
// These are "required" literals that must appear in any match. Excluded
// groups are blanked out in place (same length, dots for every byte) rather
// than cut, so every surviving run keeps the exact byte offset it occupies
// in the original pattern.
func extractLiteralRunInfoOutsideAlternations(pattern string) []runInfo {
	// Find groups to exclude: alternations and optional groups
	altGroups := findAlternationGroups(pattern)
	optGroups := findOptionalGroups(pattern)

	if len(altGroups) == 0 && len(optGroups) == 0 {
		infos, _, _ := extractLiteralRunInfo(pattern)
		return infos
	}

	// Build pattern with excluded groups replaced by dots to break literal runs
	modified := []byte(pattern)

	// Replace alternation groups
	for i := len(altGroups) - 1; i >= 0; i-- {
		g := altGroups[i]
		for j := g.start; j <= g.end && j < len(modified); j++ {
			modified[j] = '.'
		}
	}

	// Replace optional groups
	for i := len(optGroups) - 1; i >= 0; i-- {
		g := optGroups[i]
		for j := g.start; j <= g.end && j < len(modified); j++ {
			modified[j] = '.'
		}
	}

	infos, _, _ := extractLiteralRunInfo(string(modified))
	return infos
}

// findOptionalGroups finds parenthesized groups that are optional
// (followed by ?, *, or {0,N}).
func findOptionalGroups(pattern string) []altGroup {
	var groups []altGroup
	var stack []int // stack of '(' positions

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++ // skip escaped char
		case '(':
			stack = append(stack, i)
		case ')':
			if len(stack) > 0 {
				start := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				// Check if this group is followed by an optional quantifier
				if isOptionalQuantifier(pattern, i+1) {
					groups = append(groups, altGroup{start, i, pattern[start+1 : i]})
				}
			}
		}
	}
	return groups
}

// isOptionalQuantifier checks if position i starts an optional quantifier (?, *, {0,N}).
func isOptionalQuantifier(pattern string, i int) bool {
	if i >= len(pattern) {
		return false
	}
	switch pattern[i] {
	case '?', '*':
		return true
	case '{':
		// Check for {0 or {,N} patterns
		if i+1 < len(pattern) {
			if pattern[i+1] == '0' || pattern[i+1] == ',' {
				return true
			}
		}
	}
	return false
}

// splitTopLevelAlternation splits a pattern by top-level | characters.
func splitTopLevelAlternation(pattern string) []string {
	var branches []string
	depth, start := 0, 0

	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				branches = append(branches, pattern[start:i])
				start = i + 1
			}
		}
	}
	return append(branches, pattern[start:])
}

// extractLiteralRunInfo walks a regex pattern and extracts all literal byte
// runs along with each run's offset from the pattern's start and whether
// that offset is exact. pos/exact also describe the pattern as a whole once
// the walk completes: pos is the total matched-byte count and exact is
// false as soon as any `*`, `+`, or `{m,n}` quantifier has been seen, since
// from that point on the number of bytes actually consumed is no longer
// fixed.
func extractLiteralRunInfo(pattern string) (runs []runInfo, pos int, exact bool) {
	var current []byte
	exact = true

	flush := func() {
		if len(current) > 0 {
			runs = append(runs, runInfo{bytes: current, offset: pos - len(current), exact: exact})
		}
		current = nil
	}

	for i := 0; i < len(pattern); {
		c := pattern[i]

		switch c {
		case '\\':
			if i+1 >= len(pattern) {
				current = append(current, c)
				pos++
				i++
				continue
			}
			next := pattern[i+1]
			switch next {
			case 'x':
				if i+3 < len(pattern) {
					if b, err := strconv.ParseUint(pattern[i+2:i+4], 16, 8); err == nil {
						current = append(current, byte(b))
						pos++
						i += 4
						continue
					}
				}
				flush()
				pos++
				i += 2
			case 'd', 'D', 'w', 'W', 's', 'S':
				flush()
				pos++
				i += 2
			case 'b', 'B':
				i += 2
			case 'n':
				current = append(current, '\n')
				pos++
				i += 2
			case 'r':
				current = append(current, '\r')
				pos++
				i += 2
			case 't':
				current = append(current, '\t')
				pos++
				i += 2
			case '0':
				current = append(current, 0)
				pos++
				i += 2
			case '.', '*', '+', '?', '[', ']', '(', ')', '{', '}', '|', '^', '$', '\\':
				current = append(current, next)
				pos++
				i += 2
			default:
				current = append(current, next)
				pos++
				i += 2
			}

		case '[':
			flush()
			pos++
			i = skipCharClass(pattern, i)

		case '(':
			flush()
			if i+1 < len(pattern) && pattern[i+1] == '?' {
				i = skipGroupPrefix(pattern, i)
			} else {
				i++
			}

		case ')', '|':
			flush()
			i++

		case '+':
			if len(current) > 0 {
				current = current[:len(current)-1]
				pos--
			}
			flush()
			exact = false
			i++

		case '*', '?':
			if len(current) > 0 {
				current = current[:len(current)-1]
				pos--
			}
			flush()
			exact = false
			i++

		case '{':
			if isQuantifier(pattern, i) {
				if len(current) > 0 {
					current = current[:len(current)-1]
					pos--
				}
				flush()
				exact = false
				i = skipQuantifier(pattern, i)
			} else {
				current = append(current, c)
				pos++
				i++
			}

		case '.':
			flush()
			pos++
			i++

		case '^', '$':
			i++

		default:
			current = append(current, c)
			pos++
			i++
		}
	}

	flush()
	return runs, pos, exact
}

func skipCharClass(pattern string, i int) int {
	i++
	if i < len(pattern) && pattern[i] == '^' {
		i++
	}
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	for i < len(pattern) {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			i += 2
		} else if pattern[i] == ']' {
			return i + 1
		} else {
			i++
		}
	}
	return i
}

func skipGroupPrefix(pattern string, i int) int {
	i += 2
	for i < len(pattern) {
		c := pattern[i]
		if c == ':' || c == ')' {
			return i + 1
		}
		if c < 'a' || c > 'z' {
			break
		}
		i++
	}
	return i
}

func skipQuantifier(pattern string, i int) int {
	for i++; i < len(pattern) && pattern[i] != '}'; i++ {
	}
	if i < len(pattern) {
		i++
	}
	return i
}

func isQuantifier(pattern string, i int) bool {
	if i >= len(pattern) || pattern[i] != '{' {
		return false
	}
	i++
	if i >= len(pattern) || pattern[i] < '0' || pattern[i] > '9' {
		return false
	}
	for i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9' {
		i++
	}
	if i >= len(pattern) {
		return false
	}
	if pattern[i] == '}' {
		return true
	}
	if pattern[i] != ',' {
		return false
	}
	for i++; i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9'; i++ {
	}
	return i < len(pattern) && pattern[i] == '}'
}

// atomQuality scores an atom using YARA-inspired heuristics.
// Higher scores indicate more selective atoms (fewer false positives).
func atomQuality(atom []byte) int {
	if len(atom) == 0 {
		return 0
	}

	score := 0
	uniqueBytes := make(map[byte]struct{})
	allSame := true
	firstByte := atom[0]

	for _, b := range atom {
		score += byteQuality(b)
		uniqueBytes[b] = struct{}{}
		if b != firstByte {
			allSame = false
		}
	}

	// Unique byte diversity bonus: +2 per unique byte
	score += len(uniqueBytes) * 2

	// Heavy penalty for repeated common bytes (e.g. spaces, blank lines)
	if allSame && isCommonByte(firstByte) {
		score -= 10 * len(atom)
	}

	if score < 0 {
		return 0
	}
	return score
}

// byteQuality returns per-byte quality score using YARA's heuristic.
func byteQuality(b byte) int {
	// Common bytes (frequently appear, less selective)
	if isCommonByte(b) {
		return 12
	}
	// Alphabetic bytes (slightly penalized - common in text)
	if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') {
		return 18
	}
	// Normal bytes (most selective)
	return 20
}

// isCommonByte returns true for bytes that commonly appear in the PHP/JS/HTML
// source a webshell hides among: plain whitespace and the angle brackets
// that delimit every tag and PHP block, none of which narrow down a scan.
func isCommonByte(b byte) bool {
	switch b {
	case 0x20, 0x09, 0x0A, 0x0D, '<', '>':
		return true
	}
	return false
}

// extractHexAtoms finds literal-byte runs in a hex string's token list --
// masked bytes, wildcards, jumps and alternations all break a run, since
// none of them pin down a concrete byte value an Aho-Corasick atom could
// match against. Wildcards, masked bytes and alternations still consume
// exactly one byte each, so a run after one of those keeps a known offset;
// an unbounded or ranged jump ([4-16], [-]) does not, and makes every later
// run's offset unknown for the rest of the token list. When nocase folds a
// run into a class-bitmap match at the VM level, the atom registered here
// is still the literal bytes of the run; the caller case-folds it before
// feeding the multi-literal matcher.
func extractHexAtoms(tokens []ast.HexToken, minLen int) ([][]byte, []int, bool) {
	var runs []runInfo
	var current []byte
	pos := 0
	exact := true

	flush := func() {
		if len(current) > 0 {
			runs = append(runs, runInfo{bytes: current, offset: pos - len(current), exact: exact})
		}
		current = nil
	}

	for _, t := range tokens {
		switch v := t.(type) {
		case ast.HexByte:
			current = append(current, v.Value)
			pos++
		case ast.HexWildcard, ast.HexMaskedByte, ast.HexAlt:
			flush()
			pos++
		case ast.HexJump:
			flush()
			if v.Min != nil && v.Max != nil && *v.Min == *v.Max {
				pos += *v.Min
			} else {
				exact = false
			}
		default:
			flush()
			exact = false
		}
	}
	flush()

	best := findBestExactRun(runs, minLen)
	if best == nil {
		return nil, nil, false
	}
	return [][]byte{best.bytes}, []int{best.offset}, true
}
