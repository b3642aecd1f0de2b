package macho

import (
	"encoding/binary"
	"errors"
)

// errOOB is never returned to callers; it unwinds through panic/recover
// inside a single parse step so every bounds check doesn't need its own
// "return field absent" branch. Per §4.E, the only externally observable
// effect of an out-of-range access is that the surrounding substructure
// comes back as absent.
var errOOB = errors.New("macho: out of range")

// reader is a small bounds-checked cursor over the input buffer. Every
// accessor panics with errOOB on short reads; parseOneLoadCommand,
// parseArchSafe and parseFat recover from that panic, so a short read
// drops only the substructure being parsed at the time, per the
// "best-effort and total" parser contract.
type reader struct {
	buf  []byte
	pos  int
	bo   binary.ByteOrder
}

func newReader(buf []byte, bigEndian bool) *reader {
	bo := binary.ByteOrder(binary.LittleEndian)
	if bigEndian {
		bo = binary.BigEndian
	}
	return &reader{buf: buf, bo: bo}
}

func (r *reader) need(n int) {
	if r.pos+n > len(r.buf) || r.pos+n < r.pos {
		panic(errOOB)
	}
}

func (r *reader) u8() uint8 {
	r.need(1)
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) u16() uint16 {
	r.need(2)
	v := r.bo.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	r.need(4)
	v := r.bo.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	r.need(8)
	v := r.bo.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

// fixed reads a fixed-size, NUL-padded name field such as a segment or
// section name.
func (r *reader) fixed(n int) string {
	r.need(n)
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[:end])
}

func (r *reader) bytes(n int) []byte {
	r.need(n)
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) seek(pos int) { r.pos = pos }

// slice returns buf[off:off+n], bounds-checked, without disturbing the
// reader's own cursor. Used by post-passes that read auxiliary regions
// (string tables, bind streams) referenced from load commands.
func slice(buf []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(buf) || off+n > len(buf) || off+n < off {
		return nil, false
	}
	return buf[off : off+n], true
}

func cstring(buf []byte, off int) (string, bool) {
	if off < 0 || off >= len(buf) {
		return "", false
	}
	end := off
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end]), true
}
