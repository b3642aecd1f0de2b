package condvm

import "testing"

type fakeHost struct {
	bitmap      map[int]bool
	matched     map[int]bool
	notMatched  map[int]bool
	searchCalls int
}

func newFakeHost() *fakeHost {
	return &fakeHost{bitmap: map[int]bool{}, matched: map[int]bool{}, notMatched: map[int]bool{}}
}

func (h *fakeHost) EnsurePatternSearch()                 { h.searchCalls++ }
func (h *fakeHost) CheckPattern(id int) bool              { return h.bitmap[id] }
func (h *fakeHost) PatternCount(int) int64                { return 0 }
func (h *fakeHost) PatternOffset(int, int64) (int64, bool) { return 0, false }
func (h *fakeHost) PatternLength(int, int64) (int64, bool) { return 0, false }
func (h *fakeHost) Filesize() int64                        { return 42 }
func (h *fakeHost) Entrypoint() (int64, bool)               { return 0, false }
func (h *fakeHost) ModuleField(string) (any, bool)          { return nil, false }
func (h *fakeHost) CallHost(string, []any) (any, error)      { return nil, nil }
func (h *fakeHost) RuleMatched(id int) bool                  { return h.matched[id] }
func (h *fakeHost) RuleMatch(id int)                         { h.matched[id] = true }
func (h *fakeHost) RuleNoMatch(id int)                       { h.notMatched[id] = true; delete(h.matched, id) }
func (h *fakeHost) DeadlineExceeded() bool                   { return false }

func TestSimpleLiteralCondition(t *testing.T) {
	host := newFakeHost()
	host.bitmap[0] = true

	b := NewBuilder()
	b.StartRule(0, "r", false)
	b.Emit(Instr{Op: OpConstI64, IVal: 0})
	b.Emit(Instr{Op: OpCheckPattern})
	b.FinishRule()
	mod := b.Build(10, 10)

	if err := Run(mod, host); err != nil {
		t.Fatal(err)
	}
	if !host.matched[0] {
		t.Fatalf("expected rule 0 to match")
	}
	if host.searchCalls != 1 {
		t.Fatalf("expected pattern search triggered once, got %d", host.searchCalls)
	}
}

func TestGlobalRuleSuppressesNamespace(t *testing.T) {
	host := newFakeHost()

	b := NewBuilder()
	b.NewNamespace("ns")
	b.StartRule(0, "g", true)
	b.Emit(Instr{Op: OpConstBool, IVal: 0}) // false
	b.FinishRule()
	b.StartRule(1, "r", false)
	b.Emit(Instr{Op: OpConstBool, IVal: 1}) // true
	b.FinishRule()
	mod := b.Build(10, 10)

	if err := Run(mod, host); err != nil {
		t.Fatal(err)
	}
	if host.matched[0] || host.matched[1] {
		t.Fatalf("expected no rule to match in namespace with false global rule, got matched=%v", host.matched)
	}
}

func TestDivisionByZeroIsConditionFalse(t *testing.T) {
	host := newFakeHost()
	b := NewBuilder()
	b.StartRule(0, "r", false)
	b.Emit(Instr{Op: OpConstI64, IVal: 1})
	b.Emit(Instr{Op: OpConstI64, IVal: 0})
	b.Emit(Instr{Op: OpDiv})
	b.FinishRule()
	mod := b.Build(10, 10)

	if err := Run(mod, host); err != nil {
		t.Fatal(err)
	}
	if host.matched[0] {
		t.Fatalf("expected division by zero to be treated as condition false")
	}
}
