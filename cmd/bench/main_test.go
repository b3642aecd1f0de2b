package main

import (
	"strings"
	"testing"
	"time"
)

func TestFormatResult(t *testing.T) {
	r := runResult{elapsed: 2 * time.Millisecond, matches: 3}
	got := formatResult("engine ", r, 2*1024*1024)
	if !strings.Contains(got, "engine ") || !strings.Contains(got, "3 matches") {
		t.Fatalf("formatResult produced unexpected output: %q", got)
	}
	if !strings.Contains(got, "MB/s") {
		t.Fatalf("expected throughput in output, got %q", got)
	}
}

func TestCompareMatchCounts(t *testing.T) {
	if got := compareMatchCounts(2, 2); got != "" {
		t.Fatalf("equal counts should not produce a diagnostic, got %q", got)
	}
	got := compareMatchCounts(2, 3)
	if got == "" {
		t.Fatal("mismatched counts should produce a diagnostic")
	}
	if !strings.Contains(got, "libyara matched 2") || !strings.Contains(got, "engine matched 3") {
		t.Fatalf("diagnostic missing counts: %q", got)
	}
}
