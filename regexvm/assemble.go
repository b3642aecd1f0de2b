package regexvm

import "encoding/binary"

// node is the assembler's pre-encoding representation of one instruction.
// Jump/Split targets are expressed as node indices, not byte offsets;
// Assemble resolves them to byte-relative displacements once every node's
// encoded size (hence its final offset) is known.
type node struct {
	op       Opcode
	byt      byte
	mask     byte
	bitmap   *[32]byte
	ranges   []ClassRange
	jumpTo   int // node index, for OpJump and OpSplit's first target
	splitTo  int // node index, for OpSplit's second target
	repeatID uint16
	min, max uint32
}

// Builder accumulates nodes for one program and assembles them into a flat
// byte array. Two builders are used per pattern (forward and backward);
// see Program.
type Builder struct {
	nodes []node
}

func NewBuilder() *Builder { return &Builder{} }

// Label returns the index of the next-emitted node, to be used as a jump
// target before that node exists (standard single-pass forward-reference
// pattern for a hand-rolled assembler).
func (b *Builder) Label() int { return len(b.nodes) }

func (b *Builder) emit(n node) int {
	b.nodes = append(b.nodes, n)
	return len(b.nodes) - 1
}

func (b *Builder) AnyByte() int      { return b.emit(node{op: OpAnyByte}) }
func (b *Builder) Byte(v byte) int   { return b.emit(node{op: OpByte, byt: v}) }
func (b *Builder) MaskedByte(v, m byte) int {
	return b.emit(node{op: OpMaskedByte, byt: v, mask: m})
}
func (b *Builder) ClassBitmap(bm *[32]byte) int {
	return b.emit(node{op: OpClassBitmap, bitmap: bm})
}
func (b *Builder) ClassRanges(r []ClassRange) int {
	return b.emit(node{op: OpClassRanges, ranges: r})
}
func (b *Builder) WordBoundary() int    { return b.emit(node{op: OpWordBoundary}) }
func (b *Builder) NonWordBoundary() int { return b.emit(node{op: OpNonWordBoundary}) }
func (b *Builder) LineStart() int       { return b.emit(node{op: OpLineStart}) }
func (b *Builder) LineEnd() int         { return b.emit(node{op: OpLineEnd}) }
func (b *Builder) Match() int           { return b.emit(node{op: OpMatch}) }
func (b *Builder) Eoi() int             { return b.emit(node{op: OpEoi}) }

// Jump emits a jump to the node at target (patched in a later pass since
// target is usually not yet known when Jump is called).
func (b *Builder) Jump(target int) int { return b.emit(node{op: OpJump, jumpTo: target}) }

// Split emits a split with two alternatives in preference order: a is
// tried first. Swap a/b at the call site to turn a greedy quantifier into
// a non-greedy one.
func (b *Builder) Split(a, b2 int) int { return b.emit(node{op: OpSplit, jumpTo: a, splitTo: b2}) }

func (b *Builder) RepeatStart(id uint16) int {
	return b.emit(node{op: OpRepeatStart, repeatID: id})
}
func (b *Builder) RepeatEnd(id uint16, min, max uint32, loopTarget int) int {
	return b.emit(node{op: OpRepeatEnd, repeatID: id, min: min, max: max, jumpTo: loopTarget})
}

// Patch rewrites a previously emitted Jump/Split's target(s); used when
// the target label wasn't known at emit time (e.g. patching a Split's
// "skip" branch to the instruction after a quantified group).
func (b *Builder) Patch(nodeIdx int, a int) {
	b.nodes[nodeIdx].jumpTo = a
}

func (b *Builder) PatchSplit(nodeIdx int, a, b2 int) {
	b.nodes[nodeIdx].jumpTo = a
	b.nodes[nodeIdx].splitTo = b2
}

// encodedSize returns the number of bytes n occupies once assembled.
func (n node) encodedSize() int {
	switch n.op {
	case OpAnyByte, OpWordBoundary, OpNonWordBoundary, OpLineStart, OpLineEnd, OpMatch, OpEoi:
		return 1
	case OpByte:
		return 2
	case OpMaskedByte:
		return 3
	case OpClassBitmap:
		return 33
	case OpClassRanges:
		return 2 + 2*len(n.ranges)
	case OpJump:
		return 5
	case OpSplit:
		return 9
	case OpRepeatStart:
		return 3
	case OpRepeatEnd:
		return 15
	}
	return 1
}

// Assemble lowers the accumulated nodes into a flat byte array, resolving
// node-index jump targets into byte-relative signed displacements from
// each jump instruction's own start (two-pass: first compute every node's
// byte offset, then encode with the now-known displacements).
func (b *Builder) Assemble() []byte {
	offsets := make([]int, len(b.nodes)+1)
	pos := 0
	for i, n := range b.nodes {
		offsets[i] = pos
		pos += n.encodedSize()
	}
	offsets[len(b.nodes)] = pos

	code := make([]byte, pos)
	for i, n := range b.nodes {
		off := offsets[i]
		buf := code[off:]
		buf[0] = byte(n.op)
		switch n.op {
		case OpByte:
			buf[1] = n.byt
		case OpMaskedByte:
			buf[1] = n.byt
			buf[2] = n.mask
		case OpClassBitmap:
			copy(buf[1:33], n.bitmap[:])
		case OpClassRanges:
			buf[1] = byte(len(n.ranges))
			for j, r := range n.ranges {
				buf[2+2*j] = r.Lo
				buf[3+2*j] = r.Hi
			}
		case OpJump:
			rel := int32(offsets[n.jumpTo] - off)
			binary.LittleEndian.PutUint32(buf[1:5], uint32(rel))
		case OpSplit:
			rel1 := int32(offsets[n.jumpTo] - off)
			rel2 := int32(offsets[n.splitTo] - off)
			binary.LittleEndian.PutUint32(buf[1:5], uint32(rel1))
			binary.LittleEndian.PutUint32(buf[5:9], uint32(rel2))
		case OpRepeatStart:
			binary.LittleEndian.PutUint16(buf[1:3], n.repeatID)
		case OpRepeatEnd:
			binary.LittleEndian.PutUint16(buf[1:3], n.repeatID)
			binary.LittleEndian.PutUint32(buf[3:7], n.min)
			binary.LittleEndian.PutUint32(buf[7:11], n.max)
			rel := int32(offsets[n.jumpTo] - off)
			binary.LittleEndian.PutUint32(buf[11:15], uint32(rel))
		}
	}
	return code
}
