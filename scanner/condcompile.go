package scanner

import (
	"fmt"
	"strings"

	"github.com/sansecio/yarax/ast"
	"github.com/sansecio/yarax/condvm"
)

// emitCtx threads the per-rule state an expression emitter needs: the
// pattern-id table for this rule's own strings, and the local-variable
// slots bound by enclosing "for <var> in (lo..hi)" loops and by the
// per-member "$" binding of string-set fors (see emitForStringSet).
type emitCtx struct {
	cr        *compiledRule
	ruleIDs   map[string]int // rule name -> rule id, for boolean rule references
	locals    map[string]int
	nextLocal int
}

func newEmitCtx(cr *compiledRule, ruleIDs map[string]int) *emitCtx {
	return &emitCtx{cr: cr, ruleIDs: ruleIDs, locals: map[string]int{}}
}

func (c *emitCtx) bind(name string) int {
	slot := c.nextLocal
	c.nextLocal++
	c.locals[name] = slot
	return slot
}

func (c *emitCtx) unbind(name string) { delete(c.locals, name) }

// emitCondition compiles a rule's condition expression to condvm bytecode,
// leaving exactly one bool on the stack.
func emitCondition(b *condvm.Builder, cr *compiledRule, ruleIDs map[string]int, e ast.Expr) error {
	ctx := newEmitCtx(cr, ruleIDs)
	return emitExpr(b, ctx, e)
}

func emitExpr(b *condvm.Builder, ctx *emitCtx, e ast.Expr) error {
	switch v := e.(type) {
	case ast.BoolLit:
		b.Emit(condvm.Instr{Op: condvm.OpConstBool, IVal: boolToI64(v.Value)})
	case ast.IntLit:
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: v.Value})
	case ast.FloatLit:
		b.Emit(condvm.Instr{Op: condvm.OpConstF64, FVal: v.Value})
	case ast.StringLit:
		b.Emit(condvm.Instr{Op: condvm.OpConstStr, Str: v.Value})

	case ast.Ident:
		return emitIdent(b, ctx, v)

	case ast.UnaryExpr:
		return emitUnary(b, ctx, v)

	case ast.BinaryExpr:
		return emitBinary(b, ctx, v)

	case ast.ParenExpr:
		return emitExpr(b, ctx, v.Inner)

	case ast.FieldAccess, ast.IndexExpr:
		path, ok := buildFieldPath(e)
		if !ok {
			return fmt.Errorf("unsupported field access expression")
		}
		b.Emit(condvm.Instr{Op: condvm.OpModuleField, Str: path})

	case ast.FuncCall:
		return emitFuncCall(b, ctx, v)

	case ast.StringRef:
		if err := emitPatternIDRef(b, ctx, v.Name); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpCheckPattern})

	case ast.StringCount:
		if err := emitPatternIDRef(b, ctx, v.Name); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpPatternCount})

	case ast.StringOffset:
		if err := emitPatternIDRef(b, ctx, v.Name); err != nil {
			return err
		}
		if v.Index != nil {
			if err := emitExpr(b, ctx, v.Index); err != nil {
				return err
			}
		} else {
			b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 0})
		}
		b.Emit(condvm.Instr{Op: condvm.OpPatternOffset})

	case ast.StringLength:
		if err := emitPatternIDRef(b, ctx, v.Name); err != nil {
			return err
		}
		if v.Index != nil {
			if err := emitExpr(b, ctx, v.Index); err != nil {
				return err
			}
		} else {
			b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 0})
		}
		b.Emit(condvm.Instr{Op: condvm.OpPatternLength})

	case ast.AtExpr:
		if err := emitPatternIDRef(b, ctx, v.Ref.Name); err != nil {
			return err
		}
		if err := emitExpr(b, ctx, v.Pos); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpCallHost, Str: "string_at", Argc: 2})

	case ast.InExpr:
		if err := emitPatternIDRef(b, ctx, v.Ref.Name); err != nil {
			return err
		}
		if err := emitExpr(b, ctx, v.Lo); err != nil {
			return err
		}
		if err := emitExpr(b, ctx, v.Hi); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpCallHost, Str: "string_in_range", Argc: 3})

	case ast.AnyOf:
		return emitOf(b, ctx, ast.OfExpr{Which: v.Pattern})
	case ast.AllOf:
		return emitOf(b, ctx, ast.OfExpr{AllOf: true, Which: v.Pattern})
	case ast.OfExpr:
		return emitOf(b, ctx, v)
	case ast.ForExpr:
		return emitFor(b, ctx, v)

	default:
		return fmt.Errorf("unsupported condition expression %T", e)
	}
	return nil
}

func boolToI64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (ctx *emitCtx) patternID(name string) (int, error) {
	pid, ok := ctx.cr.patternIDs[name]
	if !ok {
		return 0, fmt.Errorf("undefined string %s", name)
	}
	return pid, nil
}

// emitPatternIDRef pushes the pattern id a string reference resolves to.
// Inside a string-set for body, a bare "$" (which the parser names "")
// is bound to the current member's id via ctx.locals instead of being a
// literal string name.
func emitPatternIDRef(b *condvm.Builder, ctx *emitCtx, name string) error {
	if slot, ok := ctx.locals[name]; ok {
		b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(slot)})
		return nil
	}
	pid, err := ctx.patternID(name)
	if err != nil {
		return err
	}
	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: int64(pid)})
	return nil
}

func emitIdent(b *condvm.Builder, ctx *emitCtx, v ast.Ident) error {
	if slot, ok := ctx.locals[v.Name]; ok {
		b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(slot)})
		return nil
	}
	switch v.Name {
	case "filesize":
		b.Emit(condvm.Instr{Op: condvm.OpFilesize})
	case "entrypoint":
		b.Emit(condvm.Instr{Op: condvm.OpEntrypoint})
	default:
		if id, ok := ctx.ruleIDs[v.Name]; ok {
			b.Emit(condvm.Instr{Op: condvm.OpRuleRef, IVal: int64(id)})
			return nil
		}
		b.Emit(condvm.Instr{Op: condvm.OpModuleField, Str: v.Name})
	}
	return nil
}

func emitUnary(b *condvm.Builder, ctx *emitCtx, v ast.UnaryExpr) error {
	switch v.Op {
	case "not":
		if err := emitExpr(b, ctx, v.X); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpBoolNot})
	case "-":
		if err := emitExpr(b, ctx, v.X); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpNeg})
	case "~":
		if err := emitExpr(b, ctx, v.X); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpNot64})
	case "defined":
		// best-effort: module fields report their own definedness via
		// ModuleField's ok return, which the runtime already treats as a
		// fault (=> false). A dedicated "defined" probe would need a
		// host round trip that never faults; approximate it by treating
		// any successfully-emitted field access as defined.
		if err := emitExpr(b, ctx, v.X); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpConstBool, IVal: 1})
		b.Emit(condvm.Instr{Op: condvm.OpBoolOr})
	default:
		return fmt.Errorf("unsupported unary operator %q", v.Op)
	}
	return nil
}

var binaryOps = map[string]condvm.Op{
	"==": condvm.OpEq, "!=": condvm.OpNe,
	"<": condvm.OpLt, "<=": condvm.OpLe, ">": condvm.OpGt, ">=": condvm.OpGe,
	"+": condvm.OpAdd, "-": condvm.OpSub, "*": condvm.OpMul, "\\": condvm.OpDiv, "%": condvm.OpMod,
	"&": condvm.OpAnd64, "|": condvm.OpOr64, "^": condvm.OpXor64, "<<": condvm.OpShl, ">>": condvm.OpShr,
}

func emitBinary(b *condvm.Builder, ctx *emitCtx, v ast.BinaryExpr) error {
	switch v.Op {
	case "and":
		if err := emitExpr(b, ctx, v.Left); err != nil {
			return err
		}
		if err := emitExpr(b, ctx, v.Right); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpBoolAnd})
		return nil
	case "or":
		if err := emitExpr(b, ctx, v.Left); err != nil {
			return err
		}
		if err := emitExpr(b, ctx, v.Right); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpBoolOr})
		return nil
	case "contains", "icontains", "startswith", "iendswith", "iequals", "endswith", "matches":
		if err := emitExpr(b, ctx, v.Left); err != nil {
			return err
		}
		if err := emitExpr(b, ctx, v.Right); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpCallHost, Str: "str_" + v.Op, Argc: 2})
		return nil
	}
	op, ok := binaryOps[v.Op]
	if !ok {
		return fmt.Errorf("unsupported binary operator %q", v.Op)
	}
	if err := emitExpr(b, ctx, v.Left); err != nil {
		return err
	}
	if err := emitExpr(b, ctx, v.Right); err != nil {
		return err
	}
	b.Emit(condvm.Instr{Op: op})
	return nil
}

func emitFuncCall(b *condvm.Builder, ctx *emitCtx, v ast.FuncCall) error {
	for _, a := range v.Args {
		if err := emitExpr(b, ctx, a); err != nil {
			return err
		}
	}
	b.Emit(condvm.Instr{Op: condvm.OpCallHost, Str: v.Name, Argc: len(v.Args)})
	return nil
}

// buildFieldPath flattens a FieldAccess/IndexExpr chain into the dotted
// path ModuleField expects, e.g. "pe.sections[0].name". Only constant
// indices are supported: an index that isn't a literal can't be resolved
// at compile time since condvm has no per-field host query that also
// takes a runtime index operand.
func buildFieldPath(e ast.Expr) (string, bool) {
	switch v := e.(type) {
	case ast.Ident:
		return v.Name, true
	case ast.FieldAccess:
		base, ok := buildFieldPath(v.Base)
		if !ok {
			return "", false
		}
		return base + "." + v.Field, true
	case ast.IndexExpr:
		base, ok := buildFieldPath(v.Base)
		if !ok {
			return "", false
		}
		lit, ok := v.Index.(ast.IntLit)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s[%d]", base, lit.Value), true
	}
	return "", false
}

// resolveStringSet expands an OfExpr/AnyOf/AllOf/ForExpr string-set
// reference into the concrete pattern ids it names. The set named by a
// rule's strings section is always known at compile time, so this -- and
// every quantifier built on top of it -- can be expanded statically
// instead of driving a runtime loop over an opaque host-side set.
func resolveStringSet(cr *compiledRule, which string, set []string) ([]int, error) {
	if len(set) > 0 {
		ids := make([]int, 0, len(set))
		for _, name := range set {
			pid, ok := cr.patternIDs[name]
			if !ok {
				return nil, fmt.Errorf("undefined string %s", name)
			}
			ids = append(ids, pid)
		}
		return ids, nil
	}
	if which == "them" || which == "" {
		ids := make([]int, 0, len(cr.stringNames))
		for _, name := range cr.stringNames {
			ids = append(ids, cr.patternIDs[name])
		}
		return ids, nil
	}
	if strings.HasSuffix(which, "*") {
		prefix := strings.TrimSuffix(which, "*")
		var ids []int
		for _, name := range cr.stringNames {
			if strings.HasPrefix(name, prefix) {
				ids = append(ids, cr.patternIDs[name])
			}
		}
		return ids, nil
	}
	pid, ok := cr.patternIDs[which]
	if !ok {
		return nil, fmt.Errorf("undefined string %s", which)
	}
	return []int{pid}, nil
}

// emitOf compiles "<quantifier> of <set>" by summing a CheckPattern probe
// per matching pattern id (booleans fold to 0/1 through OpAdd's int
// coercion) and comparing the sum against a statically or dynamically
// resolved threshold.
func emitOf(b *condvm.Builder, ctx *emitCtx, v ast.OfExpr) error {
	ids, err := resolveStringSet(ctx.cr, v.Which, v.Set)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		b.Emit(condvm.Instr{Op: condvm.OpConstBool, IVal: 0})
		return nil
	}

	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 0})
	for _, pid := range ids {
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: int64(pid)})
		b.Emit(condvm.Instr{Op: condvm.OpCheckPattern})
		b.Emit(condvm.Instr{Op: condvm.OpAdd})
	}

	if err := emitOfThreshold(b, ctx, v, len(ids)); err != nil {
		return err
	}
	b.Emit(condvm.Instr{Op: condvm.OpGe})
	return nil
}

func emitOfThreshold(b *condvm.Builder, ctx *emitCtx, v ast.OfExpr, n int) error {
	switch {
	case v.AllOf:
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: int64(n)})
	case v.Percentage:
		if err := emitExpr(b, ctx, v.Quantifier); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: int64(n)})
		b.Emit(condvm.Instr{Op: condvm.OpMul})
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 99})
		b.Emit(condvm.Instr{Op: condvm.OpAdd})
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 100})
		b.Emit(condvm.Instr{Op: condvm.OpDiv})
	case v.Quantifier == nil:
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 1})
	default:
		if err := emitExpr(b, ctx, v.Quantifier); err != nil {
			return err
		}
	}
	return nil
}

// emitFor compiles both ForExpr shapes. The string-set variant expands
// statically, once per member, exactly like emitOf (with the loop
// variable -- a bare "$" inside Body meaning "the string just iterated"
// -- bound to that member's pattern id via ctx.locals under the key "",
// the name the parser gives a bare "$").
// The numeric-range variant compiles an actual loop: Lo/Hi can be
// arbitrary runtime expressions (e.g. filesize), so the member set isn't
// known until the condition actually runs.
func emitFor(b *condvm.Builder, ctx *emitCtx, v ast.ForExpr) error {
	if v.Var != "" {
		return emitForRange(b, ctx, v)
	}
	return emitForStringSet(b, ctx, v)
}

func emitForStringSet(b *condvm.Builder, ctx *emitCtx, v ast.ForExpr) error {
	ids, err := resolveStringSet(ctx.cr, v.Which, v.Set)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		b.Emit(condvm.Instr{Op: condvm.OpConstBool, IVal: 0})
		return nil
	}

	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 0})
	for _, pid := range ids {
		slot := ctx.bind("")
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: int64(pid)})
		b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(slot)})
		if err := emitExpr(b, ctx, v.Body); err != nil {
			ctx.unbind("")
			return err
		}
		ctx.unbind("")
		b.Emit(condvm.Instr{Op: condvm.OpAdd})
	}

	ofEquiv := ast.OfExpr{Quantifier: v.Quantifier, AllOf: v.AllOf, Percentage: v.Percentage}
	if err := emitOfThreshold(b, ctx, ofEquiv, len(ids)); err != nil {
		return err
	}
	b.Emit(condvm.Instr{Op: condvm.OpGe})
	return nil
}

// emitForRange compiles "for <quant> <var> in (lo..hi): (body)" into a
// counted loop using local slots for the loop variable, the running
// match count, and the total iteration count (needed for "all"/percentage
// thresholds whose member count isn't known until lo/hi are evaluated).
func emitForRange(b *condvm.Builder, ctx *emitCtx, v ast.ForExpr) error {
	varSlot := ctx.bind(v.Var)
	hiSlot := ctx.nextLocal
	ctx.nextLocal++
	countSlot := ctx.nextLocal
	ctx.nextLocal++
	totalSlot := ctx.nextLocal
	ctx.nextLocal++
	defer ctx.unbind(v.Var)

	if err := emitExpr(b, ctx, v.Lo); err != nil {
		return err
	}
	b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(varSlot)})
	if err := emitExpr(b, ctx, v.Hi); err != nil {
		return err
	}
	b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(hiSlot)})
	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 0})
	b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(countSlot)})
	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 0})
	b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(totalSlot)})

	loopStart := b.Len()
	b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(varSlot)})
	b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(hiSlot)})
	b.Emit(condvm.Instr{Op: condvm.OpLe})
	exitJump := b.Len()
	b.Emit(condvm.Instr{Op: condvm.OpJumpIfFalse})

	if err := emitExpr(b, ctx, v.Body); err != nil {
		return err
	}
	skipJump := b.Len()
	b.Emit(condvm.Instr{Op: condvm.OpJumpIfFalse})
	b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(countSlot)})
	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 1})
	b.Emit(condvm.Instr{Op: condvm.OpAdd})
	b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(countSlot)})
	b.PatchJump(skipJump, b.Len())

	b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(totalSlot)})
	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 1})
	b.Emit(condvm.Instr{Op: condvm.OpAdd})
	b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(totalSlot)})

	b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(varSlot)})
	b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 1})
	b.Emit(condvm.Instr{Op: condvm.OpAdd})
	b.Emit(condvm.Instr{Op: condvm.OpStoreLocal, IVal: int64(varSlot)})
	jumpBack := b.Len()
	b.Emit(condvm.Instr{Op: condvm.OpJump, IVal: int64(loopStart)})
	_ = jumpBack
	loopEnd := b.Len()
	b.PatchJump(exitJump, loopEnd)

	b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(countSlot)})
	switch {
	case v.AllOf:
		b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(totalSlot)})
	case v.Percentage:
		// totalSlot isn't known until the range loop above has run, so
		// unlike emitOfThreshold's static set size this multiplies
		// against a runtime-loaded value instead of a constant.
		if err := emitExpr(b, ctx, v.Quantifier); err != nil {
			return err
		}
		b.Emit(condvm.Instr{Op: condvm.OpLoadLocal, IVal: int64(totalSlot)})
		b.Emit(condvm.Instr{Op: condvm.OpMul})
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 99})
		b.Emit(condvm.Instr{Op: condvm.OpAdd})
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 100})
		b.Emit(condvm.Instr{Op: condvm.OpDiv})
	case v.Quantifier == nil:
		b.Emit(condvm.Instr{Op: condvm.OpConstI64, IVal: 1})
	default:
		if err := emitExpr(b, ctx, v.Quantifier); err != nil {
			return err
		}
	}
	b.Emit(condvm.Instr{Op: condvm.OpGe})
	return nil
}
