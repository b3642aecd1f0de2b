package scanner

import (
	"testing"
	"time"

	"github.com/sansecio/yarax/parser"
)

func compileSrc(t *testing.T, src string) *Rules {
	t.Helper()
	rs, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rules, err := Compile(rs)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return rules
}

func scanBuf(t *testing.T, rules *Rules, buf []byte) MatchRules {
	t.Helper()
	var matches MatchRules
	if err := rules.ScanMem(buf, 0, 5*time.Second, &matches); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return matches
}

func TestLiteralStringMatch(t *testing.T) {
	rules := compileSrc(t, `
rule hello {
	strings:
		$a = "hello world"
	condition:
		$a
}`)
	matches := scanBuf(t, rules, []byte("say hello world to everyone"))
	if len(matches) != 1 || matches[0].Rule != "hello" {
		t.Fatalf("expected hello to match, got %v", matches)
	}

	matches = scanBuf(t, rules, []byte("nothing interesting here"))
	if len(matches) != 0 {
		t.Fatalf("expected no match, got %v", matches)
	}
}

func TestNocaseModifier(t *testing.T) {
	rules := compileSrc(t, `
rule ci {
	strings:
		$a = "SECRET" nocase
	condition:
		$a
}`)
	matches := scanBuf(t, rules, []byte("the secret is out"))
	if len(matches) != 1 {
		t.Fatalf("expected case-insensitive match, got %v", matches)
	}
}

func TestAnyOfThem(t *testing.T) {
	rules := compileSrc(t, `
rule multi {
	strings:
		$a = "alpha"
		$b = "bravo"
	condition:
		any of them
}`)
	matches := scanBuf(t, rules, []byte("contains bravo only"))
	if len(matches) != 1 {
		t.Fatalf("expected any-of match, got %v", matches)
	}

	matches = scanBuf(t, rules, []byte("contains neither term"))
	if len(matches) != 0 {
		t.Fatalf("expected no match, got %v", matches)
	}
}

func TestAllOfThem(t *testing.T) {
	rules := compileSrc(t, `
rule both {
	strings:
		$a = "alpha"
		$b = "bravo"
	condition:
		all of them
}`)
	if matches := scanBuf(t, rules, []byte("alpha then bravo")); len(matches) != 1 {
		t.Fatalf("expected all-of match, got %v", matches)
	}
	if matches := scanBuf(t, rules, []byte("alpha only")); len(matches) != 0 {
		t.Fatalf("expected no match with only one string present, got %v", matches)
	}
}

func TestPercentageOfThem(t *testing.T) {
	rules := compileSrc(t, `
rule pct {
	strings:
		$a = "one"
		$b = "two"
		$c = "three"
		$d = "four"
	condition:
		50% of them
}`)
	if matches := scanBuf(t, rules, []byte("one two")); len(matches) != 1 {
		t.Fatalf("expected 2/4 strings to satisfy 50%%, got %v", matches)
	}
	if matches := scanBuf(t, rules, []byte("one")); len(matches) != 0 {
		t.Fatalf("expected 1/4 strings to fail 50%%, got %v", matches)
	}
}

func TestGlobalRuleSuppressesNamespace(t *testing.T) {
	rules := compileSrc(t, `
global rule gate {
	condition:
		false
}
rule inner {
	strings:
		$a = "payload"
	condition:
		$a
}`)
	matches := scanBuf(t, rules, []byte("payload present"))
	if len(matches) != 0 {
		t.Fatalf("expected global false rule to suppress namespace, got %v", matches)
	}
}

func TestRuleToRuleReference(t *testing.T) {
	rules := compileSrc(t, `
rule base {
	strings:
		$a = "marker"
	condition:
		$a
}
rule derived {
	condition:
		base
}`)
	matches := scanBuf(t, rules, []byte("has marker in it"))
	names := map[string]bool{}
	for _, m := range matches {
		names[m.Rule] = true
	}
	if !names["base"] || !names["derived"] {
		t.Fatalf("expected both base and derived to match, got %v", matches)
	}
}

func TestHexPatternWithWildcardAndJump(t *testing.T) {
	rules := compileSrc(t, `
rule hexpat {
	strings:
		$a = { AA ?? BB [2-4] CC }
	condition:
		$a
}`)
	buf := []byte{0xAA, 0x11, 0xBB, 0x00, 0x00, 0xCC}
	if matches := scanBuf(t, rules, buf); len(matches) != 1 {
		t.Fatalf("expected hex pattern to match, got %v", matches)
	}
	tooFar := []byte{0xAA, 0x11, 0xBB, 0x00, 0x00, 0x00, 0x00, 0x00, 0xCC}
	if matches := scanBuf(t, rules, tooFar); len(matches) != 0 {
		t.Fatalf("expected jump beyond [2-4] to not match, got %v", matches)
	}
}

func TestNumericRangeFor(t *testing.T) {
	rules := compileSrc(t, `
rule allbytes {
	condition:
		for all i in (0..3) : (uint8(i) >= 0)
}`)
	if matches := scanBuf(t, rules, []byte{1, 2, 3, 4}); len(matches) != 1 {
		t.Fatalf("expected numeric range for-loop to match, got %v", matches)
	}
}

func TestStringFunctionCallArgument(t *testing.T) {
	rules := compileSrc(t, `
import "test"
rule callsite {
	condition:
		test.takes_string("kernel32.dll")
}`)
	_ = rules
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	rules := compileSrc(t, `
rule roundtrip {
	strings:
		$a = "payload" nocase
		$b = { DE AD ?? BE EF }
	condition:
		$a or $b
}`)
	blob, err := rules.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.NumRules() != rules.NumRules() {
		t.Fatalf("rule count mismatch: got %d want %d", restored.NumRules(), rules.NumRules())
	}

	before := scanBuf(t, rules, []byte("PAYLOAD present"))
	var after MatchRules
	if err := restored.ScanMem([]byte("PAYLOAD present"), 0, 5*time.Second, &after); err != nil {
		t.Fatalf("scan restored: %v", err)
	}
	if len(before) != 1 || len(after) != 1 {
		t.Fatalf("expected both original and restored rule sets to match, got before=%v after=%v", before, after)
	}
}

func TestRuleNamesCoversNonMatching(t *testing.T) {
	rules := compileSrc(t, `
rule a {
	strings:
		$x = "present"
	condition:
		$x
}
rule b {
	strings:
		$x = "absent-only"
	condition:
		$x
}`)
	matches := scanBuf(t, rules, []byte("present"))
	names := rules.RuleNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 rule names, got %v", names)
	}

	matched := map[string]bool{}
	for _, m := range matches {
		matched[m.Rule] = true
	}
	var nonMatching []string
	for _, n := range names {
		if !matched[n] {
			nonMatching = append(nonMatching, n)
		}
	}
	if len(nonMatching) != 1 || nonMatching[0] != "b" {
		t.Fatalf("expected only rule b to be non-matching, got %v", nonMatching)
	}
}
