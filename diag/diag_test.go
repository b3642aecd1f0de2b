package diag

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDiagnosticRenderIncludesLabels(t *testing.T) {
	d := New(TypeError, "E001", "syntax error").
		WithLabel(LevelError, "rules.yar", Span{Start: 10, End: 14}, "unexpected token").
		Render()

	if !strings.Contains(d.Text, "E001") {
		t.Fatalf("expected rendered text to mention code, got %q", d.Text)
	}
	if !strings.Contains(d.Text, "rules.yar") {
		t.Fatalf("expected rendered text to mention origin, got %q", d.Text)
	}
	if !strings.Contains(d.Text, "unexpected token") {
		t.Fatalf("expected rendered text to mention label text, got %q", d.Text)
	}
}

func TestDiagnosticJSONShape(t *testing.T) {
	d := New(TypeWarning, "E101", "string skipped").
		WithLabel(LevelWarn, "r1", Span{Start: 1, End: 2}, "dropped").
		Render()

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"type", "code", "title", "labels", "text"} {
		if _, ok := decoded[field]; !ok {
			t.Fatalf("expected JSON field %q, got %v", field, decoded)
		}
	}

	labels, ok := decoded["labels"].([]any)
	if !ok || len(labels) != 1 {
		t.Fatalf("expected one label, got %v", decoded["labels"])
	}
	label := labels[0].(map[string]any)
	for _, field := range []string{"level", "code_origin", "span", "text"} {
		if _, ok := label[field]; !ok {
			t.Fatalf("expected label field %q, got %v", field, label)
		}
	}
}

func TestReportFiltersByType(t *testing.T) {
	r := Report{
		New(TypeError, "E001", "bad").Render(),
		New(TypeWarning, "E101", "meh").Render(),
		New(TypeWarning, "E102", "also meh").Render(),
	}

	if !r.HasErrors() {
		t.Fatalf("expected HasErrors to be true")
	}
	if len(r.Errors()) != 1 {
		t.Fatalf("expected 1 error, got %d", len(r.Errors()))
	}
	if len(r.Warnings()) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(r.Warnings()))
	}

	warnOnly := Report{New(TypeWarning, "E101", "meh").Render()}
	if warnOnly.HasErrors() {
		t.Fatalf("expected warning-only report to report no errors")
	}
}

func TestWithLabelDoesNotMutateOriginal(t *testing.T) {
	base := New(TypeError, "E001", "bad")
	withLabel := base.WithLabel(LevelError, "a", Span{}, "x")

	if len(base.Labels) != 0 {
		t.Fatalf("expected base diagnostic to be unmodified, got %d labels", len(base.Labels))
	}
	if len(withLabel.Labels) != 1 {
		t.Fatalf("expected derived diagnostic to carry the new label")
	}
}
