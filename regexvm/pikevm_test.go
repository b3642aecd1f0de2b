package regexvm

import (
	"testing"

	"github.com/sansecio/yarax/ast"
)

func matchAt(t *testing.T, prog Program, input []byte, start int) (int, bool) {
	t.Helper()
	vm := New()
	fwd := NewSliceIter(input[start:])
	bck := NewReverseIter(input[:start])
	return vm.TryMatch(prog.Forward, 0, fwd, bck)
}

func TestLiteralMatch(t *testing.T) {
	prog, err := CompileRegex("dummy", ast.RegexModifiers{})
	if err != nil {
		t.Fatal(err)
	}
	n, ok := matchAt(t, prog, []byte("some dummy data"), 5)
	if !ok || n != 5 {
		t.Fatalf("got %d,%v want 5,true", n, ok)
	}
}

func TestStarQuantifier(t *testing.T) {
	prog, err := CompileRegex("ab*c", ast.RegexModifiers{})
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range []string{"ac", "abc", "abbbbc"} {
		if _, ok := matchAt(t, prog, []byte(in), 0); !ok {
			t.Errorf("expected %q to match ab*c", in)
		}
	}
	if _, ok := matchAt(t, prog, []byte("axc"), 0); ok {
		t.Errorf("did not expect axc to match ab*c")
	}
}

func TestCharClass(t *testing.T) {
	prog, err := CompileRegex(`[0-9]+`, ast.RegexModifiers{})
	if err != nil {
		t.Fatal(err)
	}
	n, ok := matchAt(t, prog, []byte("42x"), 0)
	if !ok || n != 2 {
		t.Fatalf("got %d,%v want 2,true", n, ok)
	}
}

func TestNocaseClassFolding(t *testing.T) {
	prog, err := CompileRegex("abc", ast.RegexModifiers{CaseInsensitive: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range []string{"abc", "ABC", "AbC"} {
		if _, ok := matchAt(t, prog, []byte(in), 0); !ok {
			t.Errorf("expected %q to match nocase abc", in)
		}
	}
}

func TestHexWildcard(t *testing.T) {
	hs := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0x41},
		ast.HexWildcard{},
		ast.HexByte{Value: 0x43},
	}}
	prog, err := CompileHex(hs, false)
	if err != nil {
		t.Fatal(err)
	}
	n, ok := matchAt(t, prog, []byte{0x41, 0x99, 0x43}, 0)
	if !ok || n != 3 {
		t.Fatalf("got %d,%v want 3,true", n, ok)
	}
}

func TestBackwardProgram(t *testing.T) {
	prog, err := CompileRegex("dummy", ast.RegexModifiers{})
	if err != nil {
		t.Fatal(err)
	}
	vm := New()
	input := []byte("some dummy data")
	// candidate end is at offset 10 (just past "dummy"); walk backward.
	n, ok := vm.TryMatch(prog.Backward, 0, NewReverseIter(input[:10]), NewSliceIter(input[10:]))
	if !ok || n != 5 {
		t.Fatalf("got %d,%v want 5,true", n, ok)
	}
}
