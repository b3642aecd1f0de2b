// Package ahocorasick implements a multi-literal matcher used to locate
// every cheap-to-check atom pulled out of a compiled pattern set in a
// single left-to-right scan of the haystack, instead of re-scanning the
// haystack once per atom.
package ahocorasick

import "unsafe"

func unsafeBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

type findIter struct {
	fsm      *automaton
	prestate *prefilterState
	haystack []byte
	pos      int
}

func newFindIter(aa AtomAutomaton, haystack []byte) findIter {
	return findIter{
		fsm: aa.a,
		prestate: &prefilterState{
			maxMatchLen: aa.a.MaxPatternLen(),
		},
		haystack: haystack,
	}
}

// Iter yields successive matches found on one haystack.
type Iter interface {
	Next() *Match
}

func (f *findIter) Next() *Match {
	if f.pos > len(f.haystack) {
		return nil
	}

	result := findAtNoState(f.fsm, f.prestate, f.haystack, f.pos)
	if result == nil {
		return nil
	}

	f.pos = result.end - result.len + 1
	return result
}

type overlappingIter struct {
	fsm        *automaton
	prestate   *prefilterState
	haystack   []byte
	pos        int
	stateID    stateID
	matchIndex int
}

func newOverlappingIter(aa AtomAutomaton, haystack []byte) overlappingIter {
	return overlappingIter{
		fsm: aa.a,
		prestate: &prefilterState{
			maxMatchLen: aa.a.MaxPatternLen(),
		},
		haystack: haystack,
		stateID:  aa.a.startID,
	}
}

func (f *overlappingIter) Next() *Match {
	if f.pos > len(f.haystack) {
		return nil
	}

	result := overlappingFindAt(f.fsm, f.prestate, f.haystack, f.pos, &f.stateID, &f.matchIndex)
	if result == nil {
		return nil
	}

	f.pos = result.End()
	return result
}

// AtomAutomaton is a compiled, read-only literal set ready to scan
// haystacks; build one with AtomAutomatonBuilder and reuse it across every
// scan target, since construction is the expensive part.
type AtomAutomaton struct {
	a *automaton
}

// Overlapping iterates every match in haystack, including ones that are a
// suffix of an earlier match at the same position. This is what the scan
// engine uses: a short atom fully contained in a longer one still needs to
// be reported so its owning pattern gets a chance to verify independently.
func (aa AtomAutomaton) Overlapping(haystack []byte) Iter {
	i := newOverlappingIter(aa, haystack)
	return &i
}

// FindNonOverlapping returns the earliest matches in haystack: once a
// match is found, scanning resumes just past its first byte, so a later
// match can still overlap an earlier one ("she" at 1 and "he" at 2 are
// both reported in "ushers"). Used by the package's own tests; the scan engine always wants
// Overlapping instead, since atoms only gate a later byte-exact verify.
func (aa AtomAutomaton) FindNonOverlapping(haystack string) []Match {
	iter := newFindIter(aa, unsafeBytes(haystack))

	var matches []Match
	for next := iter.Next(); next != nil; next = iter.Next() {
		matches = append(matches, *next)
	}
	return matches
}

// AtomAutomatonBuilder configures construction options before compiling a
// literal set into an AtomAutomaton.
type AtomAutomatonBuilder struct {
	builder *automatonBuilder
}

// NewAtomAutomatonBuilder returns a builder with the default options: a
// dense transition table for the first 3 levels of the trie, a prefilter
// built when the literal set allows one, and unanchored matching.
func NewAtomAutomatonBuilder() AtomAutomatonBuilder {
	return AtomAutomatonBuilder{builder: newAutomatonBuilder()}
}

// Build compiles string atoms into an automaton.
func (b *AtomAutomatonBuilder) Build(atoms []string) AtomAutomaton {
	bytePatterns := make([][]byte, len(atoms))
	for i, s := range atoms {
		bytePatterns[i] = unsafeBytes(s)
	}
	return b.BuildByte(bytePatterns)
}

// BuildByte compiles byte-slice atoms into an automaton; the scan engine
// uses this directly since atoms are already case-folded []byte by the
// time they reach here.
func (b *AtomAutomatonBuilder) BuildByte(atoms [][]byte) AtomAutomaton {
	return AtomAutomaton{a: b.builder.build(atoms)}
}

// Match reports one atom found in a haystack: which atom (by its index in
// the slice passed to Build/BuildByte) and where it ended.
type Match struct {
	atomIndex int
	len       int
	end       int
}

// AtomIndex is the position of the matched atom in the slice of atoms
// given to the builder.
func (m *Match) AtomIndex() int {
	return m.atomIndex
}

// End is the offset just past the last matched byte.
func (m *Match) End() int {
	return m.end
}

// Start is the offset of the first matched byte.
func (m *Match) Start() int {
	return m.end - m.len
}
