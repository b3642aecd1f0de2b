package regexvm

// ByteIter yields input bytes one at a time. fwd walks forward from the
// candidate start; bck walks backward from the byte immediately before
// the candidate start (used to evaluate boundary/anchor lookaround).
type ByteIter interface {
	Next() (b byte, ok bool)
}

// SliceIter is a ByteIter over a byte slice, walking forward.
type SliceIter struct {
	buf []byte
	pos int
}

func NewSliceIter(buf []byte) *SliceIter { return &SliceIter{buf: buf} }

func (it *SliceIter) Next() (byte, bool) {
	if it.pos >= len(it.buf) {
		return 0, false
	}
	b := it.buf[it.pos]
	it.pos++
	return b, true
}

// ReverseIter is a ByteIter walking a slice backward from its end.
type ReverseIter struct {
	buf []byte
	pos int
}

func NewReverseIter(buf []byte) *ReverseIter { return &ReverseIter{buf: buf, pos: len(buf)} }

func (it *ReverseIter) Next() (byte, bool) {
	if it.pos <= 0 {
		return 0, false
	}
	it.pos--
	return it.buf[it.pos], true
}

// repeatCounters is a parallel array of per-thread repetition counters,
// indexed by repeat id. A Split passes the same slice to both branches;
// RepeatStart and RepeatEnd clone it before writing a counter, so threads
// that share a slice never see each other's updates.
type repeatCounters []uint32

func (c repeatCounters) clone() repeatCounters {
	out := make(repeatCounters, len(c))
	copy(out, c)
	return out
}

type thread struct {
	ip       int
	counters repeatCounters
}

// closureState tracks, for one input step, which instruction pointers have
// already been admitted to the thread list: the epsilon closure must not
// add the same ip twice in a single step, or cyclic splits/jumps would
// blow the simulation up exponentially (see Design Notes on cyclic VM
// graphs).
type closureState struct {
	seen    []uint32 // generation stamped per ip
	stamp   uint32
}

func newClosureState(codeLen int) *closureState {
	return &closureState{seen: make([]uint32, codeLen+1)}
}

func (s *closureState) reset() { s.stamp++ }

func (s *closureState) visit(ip int) bool {
	if s.seen[ip] == s.stamp {
		return false
	}
	s.seen[ip] = s.stamp
	return true
}

// VM executes regex bytecode with Pike's algorithm: two thread lists
// (current/next), both indexed uniquely by instruction pointer per step.
type VM struct {
	threads     []thread
	nextThreads []thread
	closure     *closureState
	numRepeats  int
}

func New() *VM { return &VM{} }

// TryMatch runs the VM starting at entry against fwd, consulting bck for
// boundary/anchor lookaround one byte before the start position. It
// returns the number of forward bytes consumed by the highest-priority
// thread that reaches Match (the longest run for a greedy quantifier,
// the shortest for a non-greedy one), or false if no thread ever does.
//
// Matching is single-threaded cooperative: every live thread is advanced
// through its epsilon closure and tested against the current byte before
// the VM moves on to the next byte; ties at the same instruction pointer
// are coalesced by closureState so each ip appears at most once per step.
func (vm *VM) TryMatch(code []byte, entry int, fwd, bck ByteIter) (int, bool) {
	if vm.closure == nil || len(vm.closure.seen) <= len(code) {
		vm.closure = newClosureState(len(code))
	}
	vm.threads = vm.threads[:0]
	vm.nextThreads = vm.nextThreads[:0]

	matched := -1
	pos := 0
	curByte, curOK := fwd.Next()
	prevByte, prevOK := bck.Next()

	vm.closure.reset()
	vm.epsilonClosure(code, entry, nil, curByte, curOK, prevByte, prevOK, &vm.threads)

	for len(vm.threads) > 0 {
		nextByte, nextOK := fwd.Next()

		vm.closure.reset()
	threadLoop:
		for _, th := range vm.threads {
			instr := DecodeInstr(code[th.ip:])
			isMatch := false
			switch instr.Op {
			case OpAnyByte:
				isMatch = curOK
			case OpByte:
				isMatch = curOK && curByte == instr.Byte
			case OpMaskedByte:
				isMatch = curOK && curByte&instr.Mask == instr.Byte
			case OpClassBitmap:
				isMatch = curOK && classBitmapContains(instr.Bitmap, curByte)
			case OpClassRanges:
				isMatch = curOK && classRangesContains(instr.Ranges, curByte)
			case OpMatch:
				// Threads are ordered by priority (a Split always enqueues
				// its higher-priority branch first), so a later round's
				// match always comes from a thread that outranked this
				// one and must win; within a round, every thread still in
				// the list after this one is lower priority and is cut off.
				matched = pos
				break threadLoop
			case OpEoi:
				continue
			default:
				continue
			}
			if isMatch {
				vm.epsilonClosure(code, th.ip+instr.Size, th.counters, nextByte, nextOK, curByte, curOK, &vm.nextThreads)
			}
		}

		curByte, curOK = nextByte, nextOK
		pos++
		vm.threads, vm.nextThreads = vm.nextThreads, vm.threads[:0]
	}

	if matched >= 0 {
		return matched, true
	}
	return 0, false
}

// epsilonClosure follows every Jump/Split/anchor/boundary/RepeatStart
// reachable from ip without consuming a byte, appending the resulting
// byte-testing (or Match/Eoi) instructions to out. curByte/curOK describe
// the byte about to be consumed (for boundary checks); prevByte/prevOK the
// byte just consumed (for boundary/anchor checks that look backward).
func (vm *VM) epsilonClosure(code []byte, ip int, counters repeatCounters, curByte byte, curOK bool, prevByte byte, prevOK bool, out *[]thread) {
	vm.closureStep(code, ip, counters, curByte, curOK, prevByte, prevOK, out)
}

func (vm *VM) closureStep(code []byte, ip int, counters repeatCounters, curByte byte, curOK bool, prevByte byte, prevOK bool, out *[]thread) {
	if ip < 0 || ip >= len(code) {
		return
	}
	if !vm.closure.visit(ip) {
		return
	}
	instr := DecodeInstr(code[ip:])
	switch instr.Op {
	case OpJump:
		vm.closureStep(code, ip+int(instr.RelA), counters, curByte, curOK, prevByte, prevOK, out)
	case OpSplit:
		vm.closureStep(code, ip+int(instr.RelA), counters, curByte, curOK, prevByte, prevOK, out)
		vm.closureStep(code, ip+int(instr.RelB), counters, curByte, curOK, prevByte, prevOK, out)
	case OpRepeatStart:
		c := counters.clone()
		if int(instr.RepeatID) >= len(c) {
			grown := make(repeatCounters, instr.RepeatID+1)
			copy(grown, c)
			c = grown
		}
		c[instr.RepeatID] = 0
		vm.closureStep(code, ip+instr.Size, c, curByte, curOK, prevByte, prevOK, out)
	case OpRepeatEnd:
		c := counters.clone()
		if int(instr.RepeatID) >= len(c) {
			grown := make(repeatCounters, instr.RepeatID+1)
			copy(grown, c)
			c = grown
		}
		n := c[instr.RepeatID] + 1
		canLoop := instr.Max == maxRepeat || n < instr.Max
		canExit := n >= instr.Min
		if canLoop {
			looped := c.clone()
			looped[instr.RepeatID] = n
			vm.closureStep(code, ip+int(instr.RelA), looped, curByte, curOK, prevByte, prevOK, out)
		}
		if canExit {
			vm.closureStep(code, ip+instr.Size, c, curByte, curOK, prevByte, prevOK, out)
		}
	case OpWordBoundary, OpNonWordBoundary:
		isBoundary := isWordByteOK(prevByte, prevOK) != isWordByteOK(curByte, curOK)
		if (instr.Op == OpWordBoundary) == isBoundary {
			vm.closureStep(code, ip+instr.Size, counters, curByte, curOK, prevByte, prevOK, out)
		}
	case OpLineStart:
		if !prevOK || prevByte == '\n' {
			vm.closureStep(code, ip+instr.Size, counters, curByte, curOK, prevByte, prevOK, out)
		}
	case OpLineEnd:
		if !curOK || curByte == '\n' {
			vm.closureStep(code, ip+instr.Size, counters, curByte, curOK, prevByte, prevOK, out)
		}
	default:
		*out = append(*out, thread{ip: ip, counters: counters})
	}
}

func isWordByteOK(b byte, ok bool) bool {
	if !ok {
		return false
	}
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}
