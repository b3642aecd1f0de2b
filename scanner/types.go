package scanner

import (
	"github.com/sansecio/yarax/ast"
	"github.com/sansecio/yarax/condvm"
	"github.com/sansecio/yarax/diag"
	"github.com/sansecio/yarax/regexvm"
)

// ScanFlags controls scanning behavior.
type ScanFlags int

// ScanCallback is the interface for receiving match notifications.
type ScanCallback interface {
	RuleMatching(r *MatchRule) (abort bool, err error)
}

// MatchString represents a matched string within a rule.
type MatchString struct {
	Name   string
	Data   []byte
	Offset int
	XorKey *byte
}

// Meta represents a metadata entry from a rule.
type Meta struct {
	Identifier string
	Value      any
}

// MatchRule represents a rule that matched during scanning.
type MatchRule struct {
	Rule      string
	Namespace string
	Tags      []string
	Metas     []Meta
	Strings   []MatchString
}

// Meta returns the value of the meta field with the given identifier, or nil.
func (m *MatchRule) Meta(identifier string) any {
	for _, meta := range m.Metas {
		if meta.Identifier == identifier {
			return meta.Value
		}
	}
	return nil
}

// MetaString returns the string value of the meta field, or defValue if missing or not a string.
func (m *MatchRule) MetaString(identifier, defValue string) string {
	if val, ok := m.Meta(identifier).(string); ok {
		return val
	}
	return defValue
}

// MatchRules collects matching rules and implements ScanCallback.
type MatchRules []MatchRule

// RuleMatching implements ScanCallback, collecting all matching rules.
func (m *MatchRules) RuleMatching(r *MatchRule) (abort bool, err error) {
	*m = append(*m, *r)
	return false, nil
}

// patternModifiers mirrors the modifier set named by the pattern table in
// the data model: {nocase, wide, ascii, xor{range}, base64{alphabet},
// fullword, private}.
type patternModifiers struct {
	nocase     bool
	wide       bool
	ascii      bool
	fullword   bool
	private    bool
	xor        bool
	xorMin     int
	xorMax     int
	base64     bool
	base64Wide bool
	base64Alph string
}

// pattern is one compiled pattern-table row: a string definition lowered
// to a VM program, with the atom(s) that prefilter candidate offsets.
type pattern struct {
	id         int
	ruleIndex  int
	name       string
	program    regexvm.Program
	modifiers  patternModifiers
	atoms      [][]byte
	atomBack   []int // backtrack distance for each atoms[i], parallel slice
}

// compiledRule holds the compiled form of a single rule.
type compiledRule struct {
	id          int
	name        string
	namespace   string
	tags        []string
	global      bool
	private     bool
	metas       []Meta
	stringNames []string
	patternIDs  map[string]int // string name -> pattern id, for this rule
}

// Rules holds a compiled rule set ready for scanning. It is immutable
// once returned by Compile and safe to share by reference across
// concurrent ScanMem/ScanFile calls: each call keeps its per-scan state
// in its own scanHost and verifier (see scan.go).
type Rules struct {
	rules      []*compiledRule
	namespaces []string
	patterns   []*pattern
	matcher    atomMatcher
	atomRefs   []atomRef // ahocorasick pattern index -> pattern id + backtrack
	atomFeed   [][]byte  // atom bytes fed to the AC builder (lowercased for nocase patterns), parallel to atomRefs
	condMod    condvm.Module
	diags      diag.Report
}

// Diagnostics returns every warning accumulated while compiling this
// rule set (e.g. strings dropped by CompileOptions.SkipInvalidRegex).
// It never contains TypeError entries: a hard compile error fails
// Compile/CompileWithOptions outright instead of being attached here.
func (r *Rules) Diagnostics() diag.Report { return r.diags }

// atomRef maps one entry in the multi-literal searcher back to the
// pattern and backtrack distance it prefilters for.
type atomRef struct {
	patternID int
	backtrack int
}

// Stats returns compilation statistics.
func (r *Rules) Stats() (atoms, patterns int) {
	return len(r.atomRefs), len(r.patterns)
}

// NumRules returns the number of compiled rules.
func (r *Rules) NumRules() int { return len(r.rules) }

// RuleNames returns every compiled rule's identifier, in rule-id order
// -- the complement a caller needs to compute non_matching_rules from
// a ScanMem callback's matching set (§3: matching ∪ non-matching is
// all rules in the set).
func (r *Rules) RuleNames() []string {
	out := make([]string, len(r.rules))
	for i, cr := range r.rules {
		out[i] = cr.name
	}
	return out
}

func metaValue(r *ast.Rule, key string) string {
	for _, m := range r.Meta {
		if m.Key == key {
			if s, ok := m.Value.(string); ok {
				return s
			}
			return ""
		}
	}
	return ""
}
