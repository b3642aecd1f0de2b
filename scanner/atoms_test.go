package scanner

import (
	"bytes"
	"testing"
)

func TestExtractLiteralRunInfoOffsets(t *testing.T) {
	runs, pos, exact := extractLiteralRunInfo("aaa.*secretcode")
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d: %v", len(runs), runs)
	}
	if !bytes.Equal(runs[0].bytes, []byte("aaa")) || runs[0].offset != 0 || !runs[0].exact {
		t.Fatalf("unexpected first run: %+v", runs[0])
	}
	if !bytes.Equal(runs[1].bytes, []byte("secretcode")) || runs[1].exact {
		t.Fatalf("expected second run to be inexact, got %+v", runs[1])
	}
	if exact {
		t.Fatalf("pattern with a trailing .* should not be reported as exact overall")
	}
	_ = pos
}

func TestExtractLiteralRunInfoFixedWidthPrefix(t *testing.T) {
	_, _, exact := extractLiteralRunInfo("abc")
	if !exact {
		t.Fatal("pure literal pattern should be exact")
	}
	width, exact := fixedWidth("abc")
	if !exact || width != 3 {
		t.Fatalf("expected fixed width 3, got %d exact=%v", width, exact)
	}
}

// TestExtractAtomsPrefersExactPositionOverQuality is the regression case for
// a bug where the atom with the highest quality score was selected
// regardless of where in the pattern it sat, while the producing side
// always assumed offset 0. "secretcode" scores higher than "aaa" here, but
// only "aaa" has a guaranteed offset from the pattern's start.
func TestExtractAtomsPrefersExactPositionOverQuality(t *testing.T) {
	atoms, backs, ok := extractAtoms("aaa.*secretcode", minAtomLength)
	if !ok {
		t.Fatal("expected an atom to be found")
	}
	if len(atoms) != 1 || !bytes.Equal(atoms[0], []byte("aaa")) {
		t.Fatalf("expected atom \"aaa\", got %v", atoms)
	}
	if backs[0] != 0 {
		t.Fatalf("expected backtrack 0, got %d", backs[0])
	}
}

func TestExtractAtomsNestedAlternationOffset(t *testing.T) {
	// "go" is too short to qualify as an atom on its own, so the nested
	// group's branches must be used -- each at backtrack 2, the width of
	// the fixed prefix before the group.
	atoms, backs, ok := extractAtoms("go(foobar1|bazqux2|quxquux3)", minAtomLength)
	if !ok {
		t.Fatal("expected atoms to be found")
	}
	if len(atoms) != 3 || len(atoms) != len(backs) {
		t.Fatalf("expected 3 branch atoms, got %v / %v", atoms, backs)
	}
	for i, a := range atoms {
		if backs[i] != len("go") {
			t.Fatalf("branch atom %q: expected backtrack %d, got %d", a, len("go"), backs[i])
		}
	}
}

func TestExtractAtomsNestedAlternationSkipsVariablePrefix(t *testing.T) {
	// The group's distance from the pattern start is unknown here because
	// of the leading `.*`, so no atom should be drawn from the group.
	_, _, ok := extractAtoms(".*(foo|bar|baz)", minAtomLength)
	if ok {
		t.Fatal("expected no atom when the alternation group's offset is unknown")
	}
}

func TestEndToEndRegexMatchesPastNonAnchoredAtom(t *testing.T) {
	rules := compileSrc(t, `
rule needle {
	strings:
		$a = /aaa.*secretcode/
	condition:
		$a
}`)
	matches := scanBuf(t, rules, []byte("xxxaaaMIDDLEsecretcodeyyy"))
	if len(matches) != 1 || matches[0].Rule != "needle" {
		t.Fatalf("expected needle to match, got %v", matches)
	}
}
