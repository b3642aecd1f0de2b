package parser

import "testing"

func TestParseSimpleRule(t *testing.T) {
	rs, err := Parse(`
rule simple {
	strings:
		$a = "hello"
	condition:
		$a
}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rs.Rules) != 1 || rs.Rules[0].Name != "simple" {
		t.Fatalf("unexpected rule set: %+v", rs)
	}
}

func TestParsePercentageQuantifier(t *testing.T) {
	rs, err := Parse(`
rule pct {
	strings:
		$a = "a"
		$b = "b"
	condition:
		50% of them
}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_ = rs
}

func TestParseForPercentageOfRange(t *testing.T) {
	_, err := Parse(`
rule pctrange {
	condition:
		for 25% i in (0..10) : (uint8(i) >= 0)
}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseErrorHasPosition(t *testing.T) {
	_, err := Parse(`rule bad { condition: }`)
	if err == nil {
		t.Fatalf("expected a parse error for an empty condition body")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected a *ParseError, got %T", err)
	}
	if pe.Line == 0 {
		t.Fatalf("expected a non-zero line number in the parse error")
	}
}

func TestParseDiagReturnsStructuredDiagnostic(t *testing.T) {
	_, diags := ParseDiag(`rule bad { condition: }`, "fixture.yar")
	if len(diags) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d", len(diags))
	}
	if !diags.HasErrors() {
		t.Fatalf("expected the diagnostic to be a hard error")
	}
	if diags[0].Labels[0].CodeOrigin != "fixture.yar" {
		t.Fatalf("expected origin to be threaded through, got %+v", diags[0])
	}
}

func TestDottedModuleFunctionCall(t *testing.T) {
	rs, err := Parse(`
import "pe"
rule dotted {
	condition:
		pe.imports("kernel32.dll", "CreateFileA")
}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("expected one rule, got %d", len(rs.Rules))
	}
}
