package main

import (
	"github.com/sansecio/yarax/ast"
	"github.com/sansecio/yarax/diag"
)

// diagReport is a local alias so compile.go/scan.go don't need to
// import diag directly just to name the type.
type diagReport = diag.Report

// ruleSetAccumulator merges the parsed rules from every rule file
// named as a positional argument (of compile and store put) into one
// ast.RuleSet before a single compile call, the way a multi-file
// `add_source` compiler session accumulates rules across calls.
type ruleSetAccumulator struct {
	ruleSet *ast.RuleSet
}

func newRuleSetAccumulator() *ruleSetAccumulator {
	return &ruleSetAccumulator{ruleSet: &ast.RuleSet{}}
}

func (a *ruleSetAccumulator) merge(rs *ast.RuleSet) {
	if rs == nil {
		return
	}
	a.ruleSet.Rules = append(a.ruleSet.Rules, rs.Rules...)
}
