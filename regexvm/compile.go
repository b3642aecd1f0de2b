package regexvm

import (
	"fmt"

	"github.com/sansecio/yarax/ast"
)

// Program is the compiled VM code for one pattern: a forward program,
// entered at the candidate start, and a backward program, entered at the
// candidate end and fed bytes in reverse. The scanner's verifier runs only
// Forward, from the candidate start it gets by rewinding the atom hit by
// the atom's backtrack; Backward is compiled and stored but not run.
type Program struct {
	Forward  []byte
	Backward []byte
}

// CompileHex lowers a hex string definition to VM code. Hex strings have
// no alternation-of-subsequences beyond the single-byte HexAlt and no
// quantifiers beyond jumps. With nocase set, each HexByte that is an
// ASCII letter is emitted as a two-case class bitmap.
func CompileHex(hs ast.HexString, nocase bool) (Program, error) {
	fwd := NewBuilder()
	if err := emitHexTokens(fwd, hs.Tokens, nocase, false); err != nil {
		return Program{}, err
	}
	fwd.Match()

	bck := NewBuilder()
	rev := make([]ast.HexToken, len(hs.Tokens))
	for i, t := range hs.Tokens {
		rev[len(hs.Tokens)-1-i] = t
	}
	if err := emitHexTokens(bck, rev, nocase, true); err != nil {
		return Program{}, err
	}
	bck.Match()

	return Program{Forward: fwd.Assemble(), Backward: bck.Assemble()}, nil
}

func emitHexTokens(b *Builder, toks []ast.HexToken, nocase, reverse bool) error {
	for _, t := range toks {
		switch v := t.(type) {
		case ast.HexByte:
			emitLiteralByte(b, v.Value, nocase)
		case ast.HexWildcard:
			b.AnyByte()
		case ast.HexMaskedByte:
			b.MaskedByte(v.Value, v.Mask)
		case ast.HexJump:
			emitJump(b, v)
		case ast.HexAlt:
			emitHexAlt(b, v)
		default:
			return fmt.Errorf("regexvm: unsupported hex token %T", t)
		}
	}
	return nil
}

func emitLiteralByte(b *Builder, v byte, nocase bool) {
	if nocase && isAsciiAlpha(v) {
		lo := v | 0x20
		hi := v &^ 0x20
		bm := Bitmap256(func(x byte) bool { return x == lo || x == hi })
		b.ClassBitmap(bm)
		return
	}
	b.Byte(v)
}

func isAsciiAlpha(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }

// emitJump encodes a bounded or unbounded gap as AnyByte repeated inside a
// RepeatStart/RepeatEnd pair, mirroring how bounded regex quantifiers are
// lowered.
func emitJump(b *Builder, j ast.HexJump) {
	min, max := 0, int(maxRepeat)
	if j.Min != nil {
		min = *j.Min
	}
	if j.Max != nil {
		max = *j.Max
	}
	if min == 0 && max == int(maxRepeat) {
		// unbounded "[-]": a greedy any-byte star.
		l1 := b.Label()
		split := b.Split(0, 0)
		body := b.Label()
		b.AnyByte()
		b.Jump(l1)
		after := b.Label()
		b.PatchSplit(split, body, after)
		return
	}
	var skip int
	if min == 0 {
		skip = b.Split(0, 0)
	}
	id := uint16(len(b.nodes))
	b.RepeatStart(id)
	loop := b.Label()
	b.AnyByte()
	b.RepeatEnd(id, uint32(min), uint32(max), loop)
	if min == 0 {
		b.PatchSplit(skip, skip+1, b.Label())
	}
}

func emitHexAlt(b *Builder, alt ast.HexAlt) {
	var jumps []int
	for i, item := range alt.Alternatives {
		last := i == len(alt.Alternatives)-1
		var split int
		if !last {
			split = b.Split(0, 0)
		}
		body := b.Label()
		if item.Wildcard {
			b.AnyByte()
		} else {
			b.Byte(*item.Byte)
		}
		if !last {
			jumps = append(jumps, b.Jump(0))
			after := b.Label()
			b.PatchSplit(split, body, after)
		}
	}
	end := b.Label()
	for _, j := range jumps {
		b.Patch(j, end)
	}
}

// CompileRegex parses a regex-syntax pattern (the /.../ flavor of string
// definition) and lowers it to VM code.
func CompileRegex(pattern string, mods ast.RegexModifiers) (Program, error) {
	p := &reParser{src: pattern, nocase: mods.CaseInsensitive, dotAll: mods.DotMatchesAll}
	node, err := p.parseAlt()
	if err != nil {
		return Program{}, err
	}
	if p.pos != len(p.src) {
		return Program{}, fmt.Errorf("regexvm: unexpected %q at offset %d", p.src[p.pos], p.pos)
	}

	fwd := NewBuilder()
	emitNode(fwd, node, false)
	fwd.Match()

	bck := NewBuilder()
	emitNode(bck, node, true)
	bck.Match()

	return Program{Forward: fwd.Assemble(), Backward: bck.Assemble()}, nil
}
