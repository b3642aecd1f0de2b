// Package diag defines the compiler's diagnostic report: the typed,
// span-labeled errors and warnings produced while compiling a rule set,
// and their stable JSON encoding for callers that don't want to parse
// rendered text.
package diag

import "fmt"

// Level is the severity of one label within a diagnostic.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warning"
	LevelNote  Level = "note"
)

// Type distinguishes a hard compile error from a warning; both travel
// through the same Diagnostic shape so a caller can render or filter
// them uniformly.
type Type string

const (
	TypeError   Type = "error"
	TypeWarning Type = "warning"
)

// Span is a half-open byte range into the owning source unit.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Label attaches one piece of explanatory text to a span, with its own
// severity so a single diagnostic can mix e.g. an error label at the
// offending span and a note label pointing at an earlier declaration.
type Label struct {
	Level      Level  `json:"level"`
	CodeOrigin string `json:"code_origin"`
	Span       Span   `json:"span"`
	Text       string `json:"text"`
}

// Diagnostic is one compiler error or warning: a stable code, a short
// title, zero or more labeled spans over the source, and a fully
// rendered text report suitable for printing as-is.
type Diagnostic struct {
	Type   Type    `json:"type"`
	Code   string  `json:"code"`
	Title  string  `json:"title"`
	Labels []Label `json:"labels"`
	Text   string  `json:"text"`
}

// New starts a Diagnostic with no labels. Call WithLabel to attach
// spans, then Render to fill in Text once all labels are known.
func New(typ Type, code, title string) Diagnostic {
	return Diagnostic{Type: typ, Code: code, Title: title}
}

// WithLabel returns a copy of d with one more label attached.
func (d Diagnostic) WithLabel(level Level, origin string, span Span, text string) Diagnostic {
	d.Labels = append(append([]Label(nil), d.Labels...), Label{
		Level: level, CodeOrigin: origin, Span: span, Text: text,
	})
	return d
}

// Render fills in Text from Type, Code, Title and Labels, as a
// "type[code]: title" line followed, for each label, by
// "\n  --> origin:start:end\n  = level: text", and returns the updated
// Diagnostic.
func (d Diagnostic) Render() Diagnostic {
	text := fmt.Sprintf("%s[%s]: %s", d.Type, d.Code, d.Title)
	for _, l := range d.Labels {
		text += fmt.Sprintf("\n  --> %s:%d:%d\n  = %s: %s",
			l.CodeOrigin, l.Span.Start, l.Span.End, l.Level, l.Text)
	}
	d.Text = text
	return d
}

func (d Diagnostic) Error() string {
	if d.Text != "" {
		return d.Text
	}
	return d.Render().Text
}

// Report is an ordered collection of diagnostics, e.g. everything
// accumulated across every add_source call on one compiler. It
// implements error so a Report with at least one Type: error entry
// can be returned directly from a compile function.
type Report []Diagnostic

func (r Report) Error() string {
	for _, d := range r {
		if d.Type == TypeError {
			return d.Error()
		}
	}
	if len(r) > 0 {
		return r[0].Error()
	}
	return "diag: empty report"
}

// Errors returns the subset of r with Type == TypeError.
func (r Report) Errors() Report {
	var out Report
	for _, d := range r {
		if d.Type == TypeError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns the subset of r with Type == TypeWarning.
func (r Report) Warnings() Report {
	var out Report
	for _, d := range r {
		if d.Type == TypeWarning {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any diagnostic in r is a hard error.
func (r Report) HasErrors() bool {
	for _, d := range r {
		if d.Type == TypeError {
			return true
		}
	}
	return false
}
