package scanner

import (
	"slices"

	"github.com/sansecio/yarax/regexvm"
)

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') ||
		b == '_'
}

// checkWordBoundary implements the fullword modifier: neither the byte
// just before the match nor the byte just after may be a word character.
func checkWordBoundary(buf []byte, start, end int) bool {
	if start > 0 && isWordChar(buf[start-1]) {
		return false
	}
	if end < len(buf) && isWordChar(buf[end]) {
		return false
	}
	return true
}

// patternMatch is one confirmed occurrence of a pattern in the scanned
// buffer, after atom prefiltering and VM verification.
type patternMatch struct {
	offset int
	length int
	xorKey byte // only meaningful when the pattern's xor modifier is set
}

// verifier runs the atom-filtered candidates for every pattern through the
// regexvm VM and the pattern's modifier checks, deduplicating matches per
// pattern the way the real engine caps redundant overlapping hits.
type verifier struct {
	vm    regexvm.VM
	buf   []byte
	lower []byte // lazily case-folded copy of buf, for nocase atom candidates
}

// maxMatchesPerPattern bounds how many distinct occurrences of a single
// pattern are recorded per scan: rules never need more than a handful of
// offsets to evaluate string_count/string_offset, and an unbounded list
// would let a degenerate one-byte-effective atom (e.g. inside a 0-255
// class) blow up memory on large inputs.
const maxMatchesPerPattern = 1000

func newVerifier(buf []byte) *verifier {
	return &verifier{buf: buf}
}

func (vf *verifier) lowerBuf() []byte {
	if vf.lower == nil {
		vf.lower = toLowerASCII(vf.buf)
	}
	return vf.lower
}

// searchAll runs atom prefiltering plus VM verification for every pattern
// in rs and returns the per-pattern match lists, indexed by pattern id.
func (vf *verifier) searchAll(rs *Rules) [][]patternMatch {
	out := make([][]patternMatch, len(rs.patterns))
	if rs.matcher == nil {
		return out
	}

	needsLower := false
	for _, p := range rs.patterns {
		if p.modifiers.nocase {
			needsLower = true
			break
		}
	}

	// The Aho-Corasick matcher was built from a single mixed atom list
	// (some case-folded, some not), so a single pass over vf.buf suffices
	// for patterns whose atoms were registered verbatim; nocase atoms were
	// registered already-lowercased, so their case variants only hit in the
	// second pass, over lowerBuf.
	seen := make([]map[[2]int]bool, len(rs.patterns))

	scan := func(haystack []byte) {
		iter := rs.matcher.IterOverlapping(haystack)
		for m := iter.Next(); m != nil; m = iter.Next() {
			idx := m.AtomIndex()
			if idx < 0 || idx >= len(rs.atomRefs) {
				continue
			}
			ref := rs.atomRefs[idx]
			p := rs.patterns[ref.patternID]
			if len(out[ref.patternID]) >= maxMatchesPerPattern {
				continue
			}

			candidate := m.Start() - ref.backtrack
			if candidate < 0 {
				continue
			}
			pm, ok := vf.verify(p, candidate)
			if !ok {
				continue
			}
			key := [2]int{pm.offset, pm.length}
			if seen[ref.patternID] == nil {
				seen[ref.patternID] = map[[2]int]bool{}
			}
			if seen[ref.patternID][key] {
				continue
			}
			seen[ref.patternID][key] = true
			out[ref.patternID] = append(out[ref.patternID], pm)
		}
	}

	scan(vf.buf)
	if needsLower {
		scan(vf.lowerBuf())
	}

	for i := range out {
		slices.SortFunc(out[i], func(a, b patternMatch) int { return a.offset - b.offset })
	}
	return out
}

// verify runs the pattern's Forward program from candidate, with the bytes
// before candidate fed only to anchor and boundary checks (the Backward
// program is never run), and applies the pattern's modifier checks
// (fullword, xor) against the real buffer --
// never against a case-folded copy, since offsets/lengths must describe
// the original bytes regardless of which haystack surfaced the candidate.
func (vf *verifier) verify(p *pattern, candidate int) (patternMatch, bool) {
	if p.modifiers.xor {
		return vf.verifyXor(p, candidate)
	}

	length, ok := vf.tryMatchAt(p, vf.buf, candidate)
	if !ok {
		return patternMatch{}, false
	}
	if p.modifiers.fullword && !checkWordBoundary(vf.buf, candidate, candidate+length) {
		return patternMatch{}, false
	}
	return patternMatch{offset: candidate, length: length}, true
}

func (vf *verifier) tryMatchAt(p *pattern, buf []byte, candidate int) (int, bool) {
	fwd := regexvm.NewSliceIter(buf[candidate:])
	bck := regexvm.NewReverseIter(buf[:candidate])
	return vf.vm.TryMatch(p.program.Forward, 0, fwd, bck)
}

// verifyXor brute-forces every key in the pattern's configured range,
// XOR-decoding a window of the buffer and retrying the VM against the
// decoded bytes -- mirroring how the xor modifier's key search is
// specified (try every key in [xorMin, xorMax], stop at first hit).
func (vf *verifier) verifyXor(p *pattern, candidate int) (patternMatch, bool) {
	const window = 512
	end := min(len(vf.buf), candidate+window)
	if candidate >= end {
		return patternMatch{}, false
	}

	for key := p.modifiers.xorMin; key <= p.modifiers.xorMax; key++ {
		decoded := make([]byte, end-candidate)
		for i, b := range vf.buf[candidate:end] {
			decoded[i] = b ^ byte(key)
		}
		length, ok := vf.tryMatchAt(p, decoded, 0)
		if !ok {
			continue
		}
		if p.modifiers.fullword {
			full := append(append([]byte{}, vf.buf[:candidate]...), decoded...)
			if !checkWordBoundary(full, candidate, candidate+length) {
				continue
			}
		}
		return patternMatch{offset: candidate, length: length, xorKey: byte(key)}, true
	}
	return patternMatch{}, false
}
