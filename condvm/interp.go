package condvm

import (
	"errors"
	"math"
)

// ErrTimeout is returned by Run when the host's deadline was exceeded at a
// namespace-function boundary, matching main()'s "1 = timeout" status.
var ErrTimeout = errors.New("condvm: timeout")

// faultError marks a runtime fault (division by zero, etc.) that must be
// caught and turned into "condition false" for the current rule rather
// than aborting the scan (§7: condition-runtime faults do not abort).
type faultError struct{ err error }

func (f faultError) Error() string { return f.err.Error() }

var errDivByZero = errors.New("condvm: division by zero")

// interp holds the evaluation stack for one rule's condition. Values are
// boxed as `any` holding int64, float64 or bool -- the condition language
// freely mixes these and comparisons/arithmetic coerce as needed, so a
// typed stack would just push the type-switch down into every opcode
// instead of centralizing it here.
type interp struct {
	stack  []any
	locals []any
	host   Host
}

func (it *interp) loadLocal(slot int) any {
	if slot >= len(it.locals) {
		return int64(0)
	}
	return it.locals[slot]
}

func (it *interp) storeLocal(slot int, v any) {
	if slot >= len(it.locals) {
		grown := make([]any, slot+1)
		copy(grown, it.locals)
		it.locals = grown
	}
	it.locals[slot] = v
}

func (it *interp) push(v any) { it.stack = append(it.stack, v) }

func (it *interp) pop() any {
	n := len(it.stack)
	v := it.stack[n-1]
	it.stack = it.stack[:n-1]
	return v
}

func (it *interp) popInt() int64 {
	switch v := it.pop().(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	}
	return 0
}

func (it *interp) popFloat() float64 {
	switch v := it.pop().(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func (it *interp) popBool() bool {
	switch v := it.pop().(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// Run evaluates a full Module against host, calling RuleMatch/RuleNoMatch
// for every rule and enforcing global-rule semantics per namespace block.
// It returns ErrTimeout if the host's deadline was exceeded at a namespace
// boundary; any other error is a bug in the compiled module, not a
// condition fault (those are swallowed per-rule, see evalRule).
func Run(mod Module, host Host) error {
	byID := make(map[int]RuleProgram, len(mod.Rules))
	for _, r := range mod.Rules {
		byID[r.RuleID] = r
	}

	for _, ns := range mod.Namespaces {
		if host.DeadlineExceeded() {
			return ErrTimeout
		}
		matchedSoFar := make([]int, 0, len(ns.RuleIDs))
		for _, id := range ns.RuleIDs {
			rule, ok := byID[id]
			if !ok {
				continue
			}
			truth, fault := evalRule(rule, host)
			if fault || !truth {
				if rule.Global {
					// global-rule semantics: revert every rule matched so
					// far in this namespace, mark this one as
					// non-matching, and stop the block; the rules after
					// it are never evaluated, so none of them matches.
					for _, m := range matchedSoFar {
						host.RuleNoMatch(m)
					}
					host.RuleNoMatch(id)
					break
				}
				host.RuleNoMatch(id)
				continue
			}
			host.RuleMatch(id)
			matchedSoFar = append(matchedSoFar, id)
		}
	}
	return nil
}

// evalRule runs one rule's condition code. A runtime fault (div-by-zero,
// an undefined module field or entrypoint, an out-of-range match index,
// a failing host call) is caught here and reported as
// "false", matching §7's "condition-runtime faults... treated as
// condition false".
func evalRule(rule RuleProgram, host Host) (truth bool, fault bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(faultError); ok {
				truth, fault = false, true
				return
			}
			panic(r)
		}
	}()
	it := &interp{host: host}
	execBlock(it, rule.Code)
	if len(it.stack) == 0 {
		return false, false
	}
	return it.popBool(), false
}

func execBlock(it *interp, code []Instr) {
	pc := 0
	for pc < len(code) {
		i := code[pc]
		switch i.Op {
		case OpNop:
		case OpConstI64:
			it.push(i.IVal)
		case OpConstF64:
			it.push(i.FVal)
		case OpConstBool:
			it.push(i.IVal != 0)
		case OpConstStr:
			it.push(i.Str)

		case OpAdd:
			b, a := it.popNumericPair()
			it.pushArith(a, b, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
		case OpSub:
			b, a := it.popNumericPair()
			it.pushArith(a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y })
		case OpMul:
			b, a := it.popNumericPair()
			it.pushArith(a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y })
		case OpDiv:
			b, a := it.popNumericPair()
			it.pushArith(a, b, func(x, y int64) int64 {
				if y == 0 {
					panic(faultError{errDivByZero})
				}
				return x / y
			}, func(x, y float64) float64 { return x / y })
		case OpMod:
			b := it.popInt()
			a := it.popInt()
			if b == 0 {
				panic(faultError{errDivByZero})
			}
			it.push(a % b)
		case OpAnd64:
			b, a := it.popInt(), it.popInt()
			it.push(a & b)
		case OpOr64:
			b, a := it.popInt(), it.popInt()
			it.push(a | b)
		case OpXor64:
			b, a := it.popInt(), it.popInt()
			it.push(a ^ b)
		case OpShl:
			b, a := it.popInt(), it.popInt()
			it.push(a << uint(b))
		case OpShr:
			b, a := it.popInt(), it.popInt()
			it.push(a >> uint(b))
		case OpNeg:
			v := it.pop()
			if f, ok := v.(float64); ok {
				it.push(-f)
			} else {
				it.push(-it.asInt(v))
			}
		case OpNot64:
			it.push(^it.popInt())

		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			execCompare(it, i.Op)

		case OpBoolAnd:
			b, a := it.popBool(), it.popBool()
			it.push(a && b)
		case OpBoolOr:
			b, a := it.popBool(), it.popBool()
			it.push(a || b)
		case OpBoolNot:
			it.push(!it.popBool())

		case OpCheckPattern:
			host := it.host
			host.EnsurePatternSearch()
			pid := int(it.popInt())
			it.push(host.CheckPattern(pid))
		case OpPatternCount:
			it.host.EnsurePatternSearch()
			pid := int(it.popInt())
			it.push(it.host.PatternCount(pid))
		case OpPatternOffset:
			it.host.EnsurePatternSearch()
			idx := it.popInt()
			pid := int(it.popInt())
			v, ok := it.host.PatternOffset(pid, idx)
			if !ok {
				panic(faultError{errors.New("condvm: pattern offset out of range")})
			}
			it.push(v)
		case OpPatternLength:
			it.host.EnsurePatternSearch()
			idx := it.popInt()
			pid := int(it.popInt())
			v, ok := it.host.PatternLength(pid, idx)
			if !ok {
				panic(faultError{errors.New("condvm: pattern length out of range")})
			}
			it.push(v)
		case OpFilesize:
			it.push(it.host.Filesize())
		case OpEntrypoint:
			v, ok := it.host.Entrypoint()
			if !ok {
				panic(faultError{errors.New("condvm: entrypoint undefined")})
			}
			it.push(v)
		case OpModuleField:
			v, ok := it.host.ModuleField(i.Str)
			if !ok {
				panic(faultError{errors.New("condvm: undefined field " + i.Str)})
			}
			it.push(v)
		case OpRuleRef:
			it.push(it.host.RuleMatched(int(i.IVal)))
		case OpCallHost:
			args := make([]any, i.Argc)
			for j := i.Argc - 1; j >= 0; j-- {
				args[j] = it.pop()
			}
			v, err := it.host.CallHost(i.Str, args)
			if err != nil {
				panic(faultError{err})
			}
			it.push(v)

		case OpJump:
			pc = int(i.IVal)
			continue
		case OpJumpIfFalse:
			if !it.popBool() {
				pc = int(i.IVal)
				continue
			}
		case OpReturn:
			return

		case OpLoadLocal:
			it.push(it.loadLocal(int(i.IVal)))
		case OpStoreLocal:
			it.storeLocal(int(i.IVal), it.pop())
		}
		pc++
	}
}

func (it *interp) popNumericPair() (b, a any) {
	b = it.pop()
	a = it.pop()
	return
}

func (it *interp) asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return 0
}

func (it *interp) pushArith(a, b any, iop func(int64, int64) int64, fop func(float64, float64) float64) {
	af, aIsFloat := a.(float64)
	bf, bIsFloat := b.(float64)
	if aIsFloat || bIsFloat {
		if !aIsFloat {
			af = float64(it.asInt(a))
		}
		if !bIsFloat {
			bf = float64(it.asInt(b))
		}
		it.push(fop(af, bf))
		return
	}
	it.push(iop(it.asInt(a), it.asInt(b)))
}

func execCompare(it *interp, op Op) {
	b := it.pop()
	a := it.pop()
	af, aIsFloat := a.(float64)
	bf, bIsFloat := b.(float64)
	if aIsFloat || bIsFloat {
		if !aIsFloat {
			af = float64(it.asInt(a))
		}
		if !bIsFloat {
			bf = float64(it.asInt(b))
		}
		if math.IsNaN(af) || math.IsNaN(bf) {
			it.push(false)
			return
		}
		it.push(compareFloat(op, af, bf))
		return
	}
	if sa, ok := a.(string); ok {
		sb, _ := b.(string)
		it.push(compareString(op, sa, sb))
		return
	}
	it.push(compareInt(op, it.asInt(a), it.asInt(b)))
}

func compareInt(op Op, a, b int64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

func compareFloat(op Op, a, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

func compareString(op Op, a, b string) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}
