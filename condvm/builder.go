package condvm

// Builder assembles a Module incrementally, mirroring the
// new_namespace/add_rule shape of the reference wasm builder:
// StartRule/FinishRule bracket one rule's instruction stream, and
// NewNamespace opens a fresh block that subsequent rules are appended to.
type Builder struct {
	mod     Module
	curNS   int
	cur     []Instr
	curID   int
	curName string
	curGlob bool
}

func NewBuilder() *Builder {
	b := &Builder{}
	b.NewNamespace("default")
	return b
}

// NewNamespace opens a new namespace block; subsequent StartRule calls
// append to it.
func (b *Builder) NewNamespace(name string) {
	b.mod.Namespaces = append(b.mod.Namespaces, NamespaceBlock{Name: name})
	b.curNS = len(b.mod.Namespaces) - 1
}

// StartRule begins accumulating instructions for one rule's condition.
func (b *Builder) StartRule(ruleID int, name string, global bool) {
	b.cur = nil
	b.curID = ruleID
	b.curName = name
	b.curGlob = global
}

func (b *Builder) Emit(i Instr) { b.cur = append(b.cur, i) }

// Len returns the index the next Emit will occupy, for use as a jump
// target by a later PatchJump call.
func (b *Builder) Len() int { return len(b.cur) }

// PatchJump rewrites the jump target of the OpJump/OpJumpIfFalse
// instruction at idx (as returned by Len() right before it was emitted).
func (b *Builder) PatchJump(idx, target int) { b.cur[idx].IVal = int64(target) }

// FinishRule closes out the rule opened by StartRule and files it into the
// current namespace block.
func (b *Builder) FinishRule() {
	b.mod.Rules = append(b.mod.Rules, RuleProgram{
		RuleID: b.curID,
		Name:   b.curName,
		Global: b.curGlob,
		Code:   b.cur,
	})
	ns := &b.mod.Namespaces[b.curNS]
	ns.RuleIDs = append(ns.RuleIDs, b.curID)
}

// Build finalizes the module. rulesPerFunc/namespacesPerFunc are recorded
// for profiling parity with the reference design; they do not change
// evaluation order or results.
func (b *Builder) Build(rulesPerFunc, namespacesPerFunc int) Module {
	b.mod.RulesPerFunc = rulesPerFunc
	b.mod.NamespacesPerFunc = namespacesPerFunc
	return b.mod
}
