// Package regexvm implements the custom byte-pattern bytecode and the
// Pike-style NFA simulator that executes it. Every literal, hex and
// regex-flavored pattern in a compiled rule set is lowered to this
// bytecode; the scanner never runs a general-purpose regex engine against
// scan input, only this VM.
package regexvm

import "encoding/binary"

// Opcode identifies a regex VM instruction.
type Opcode byte

const (
	OpAnyByte Opcode = iota
	OpByte
	OpMaskedByte
	OpClassBitmap
	OpClassRanges
	OpJump
	OpSplit
	OpRepeatStart
	OpRepeatEnd
	OpWordBoundary
	OpNonWordBoundary
	OpLineStart
	OpLineEnd
	OpMatch
	OpEoi
)

// ClassRange is one inclusive byte range in a ClassRanges instruction.
type ClassRange struct {
	Lo, Hi byte
}

// Instr is a decoded instruction: an opcode plus its immediate operands.
// Size reports the encoded width in bytes, needed by the VM to advance the
// instruction pointer past any instruction it doesn't recognize by a fixed
// width.
type Instr struct {
	Op       Opcode
	Byte     byte       // OpByte, OpMaskedByte (value)
	Mask     byte       // OpMaskedByte
	Bitmap   *[32]byte  // OpClassBitmap (256-bit set, bit i == byte i allowed)
	Ranges   []ClassRange // OpClassRanges
	RelA     int32      // OpJump, OpSplit (first alternative), relative to instruction start
	RelB     int32      // OpSplit (second alternative)
	RepeatID uint16     // OpRepeatStart, OpRepeatEnd
	Min, Max uint32     // OpRepeatEnd; Max == math.MaxUint32 means unbounded
	Size     int
}

// maxRepeat marks an unbounded upper bound on a RepeatEnd instruction.
const maxRepeat = ^uint32(0)

// DecodeInstr decodes the instruction at the start of code. code must have
// at least one byte.
func DecodeInstr(code []byte) Instr {
	op := Opcode(code[0])
	switch op {
	case OpAnyByte, OpWordBoundary, OpNonWordBoundary, OpLineStart, OpLineEnd, OpMatch, OpEoi:
		return Instr{Op: op, Size: 1}
	case OpByte:
		return Instr{Op: op, Byte: code[1], Size: 2}
	case OpMaskedByte:
		return Instr{Op: op, Byte: code[1], Mask: code[2], Size: 3}
	case OpClassBitmap:
		var bm [32]byte
		copy(bm[:], code[1:33])
		return Instr{Op: op, Bitmap: &bm, Size: 33}
	case OpClassRanges:
		n := int(code[1])
		ranges := make([]ClassRange, n)
		for i := 0; i < n; i++ {
			ranges[i] = ClassRange{Lo: code[2+2*i], Hi: code[3+2*i]}
		}
		return Instr{Op: op, Ranges: ranges, Size: 2 + 2*n}
	case OpJump:
		rel := int32(binary.LittleEndian.Uint32(code[1:5]))
		return Instr{Op: op, RelA: rel, Size: 5}
	case OpSplit:
		a := int32(binary.LittleEndian.Uint32(code[1:5]))
		b := int32(binary.LittleEndian.Uint32(code[5:9]))
		return Instr{Op: op, RelA: a, RelB: b, Size: 9}
	case OpRepeatStart:
		id := binary.LittleEndian.Uint16(code[1:3])
		return Instr{Op: op, RepeatID: id, Size: 3}
	case OpRepeatEnd:
		id := binary.LittleEndian.Uint16(code[1:3])
		min := binary.LittleEndian.Uint32(code[3:7])
		max := binary.LittleEndian.Uint32(code[7:11])
		rel := int32(binary.LittleEndian.Uint32(code[11:15]))
		return Instr{Op: op, RepeatID: id, Min: min, Max: max, RelA: rel, Size: 15}
	}
	return Instr{Op: op, Size: 1}
}

// classBitmapContains reports whether b is a member of the class.
func classBitmapContains(bm *[32]byte, b byte) bool {
	return bm[b/8]&(1<<(b%8)) != 0
}

func classRangesContains(ranges []ClassRange, b byte) bool {
	for _, r := range ranges {
		if b >= r.Lo && b <= r.Hi {
			return true
		}
	}
	return false
}
