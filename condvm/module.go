package condvm

// Module is the compiled condition-bytecode for one rule set. It mirrors
// the real engine's wasm module shape: a flat table of rule functions
// (rules_j), grouped into namespace blocks (namespaces_k), called in turn
// from main. We don't literally emit those three tiers of Go functions
// -- there would be nothing to gain from it in an interpreter -- but we
// keep the same grouping as data, because the grouping is what carries
// global-rule semantics (an early-return must stop at the namespace
// boundary, not the whole module) and the rules_per_func/
// namespaces_per_func tuning knobs described by the reference design.
type Module struct {
	// Rules holds one compiled instruction stream per rule, indexed by
	// rule_id. A rule's code must leave exactly one bool on the stack.
	Rules []RuleProgram

	// Namespaces groups rule ids into namespace blocks, in declaration
	// order; each block is evaluated in order and a false global rule
	// aborts the remainder of its own block only.
	Namespaces []NamespaceBlock

	// RulesPerFunc/NamespacesPerFunc are carried through from the
	// compiler for diagnostic/profiling purposes; the interpreter does
	// not need to chunk work along these boundaries, they only mattered
	// for the size of individual generated wasm functions.
	RulesPerFunc      int
	NamespacesPerFunc int
}

// RuleProgram is one rule's compiled condition.
type RuleProgram struct {
	RuleID  int
	Name    string
	Global  bool
	Code    []Instr
}

// NamespaceBlock is the ordered set of rule ids belonging to one
// namespace.
type NamespaceBlock struct {
	Name    string
	RuleIDs []int
}
