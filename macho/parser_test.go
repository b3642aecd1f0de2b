package macho

import (
	"encoding/binary"
	"testing"
)

func buildMinimalMachO64(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 0, 64)
	put32 := func(v uint32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		buf = append(buf, b...)
	}
	put32(magic64)
	put32(0x0100000c) // cputype ARM64
	put32(0)          // cpusubtype
	put32(2)          // filetype MH_EXECUTE
	put32(0)          // ncmds
	put32(0)          // sizeofcmds
	put32(0)          // flags
	put32(0)          // reserved
	return buf
}

func TestParseSingleArch(t *testing.T) {
	buf := buildMinimalMachO64(t)
	f, ok := Parse(buf)
	if !ok {
		t.Fatal("expected Parse to succeed")
	}
	if f.IsFat {
		t.Fatal("expected non-FAT file")
	}
	if len(f.Archs) != 1 {
		t.Fatalf("expected 1 arch, got %d", len(f.Archs))
	}
	if f.Archs[0].FileType != 2 {
		t.Errorf("filetype = %d want 2", f.Archs[0].FileType)
	}
}

func TestParseNotMachO(t *testing.T) {
	if _, ok := Parse([]byte("not a macho file")); ok {
		t.Fatal("expected Parse to fail on non-Mach-O input")
	}
}

func TestParseFatTruncatedSecondArch(t *testing.T) {
	inner := buildMinimalMachO64(t)

	var buf []byte
	putBE32 := func(v uint32) {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		buf = append(buf, b...)
	}
	putBE32(fatMagic)
	putBE32(2) // nfat_arch

	headerSize := 4 + 4 + 5*4*2 // magic+nfat + 2 arch entries of 5 u32 each
	firstOff := uint32(headerSize)
	putBE32(0x0100000c) // cputype
	putBE32(0)          // cpusubtype
	putBE32(firstOff)   // offset
	putBE32(uint32(len(inner)))
	putBE32(0) // align

	// second arch entry points past the end of the buffer entirely.
	putBE32(0x0100000c)
	putBE32(0)
	putBE32(firstOff + uint32(len(inner)) + 100)
	putBE32(uint32(len(inner)))
	putBE32(0)

	buf = append(buf, inner...)

	f, ok := Parse(buf)
	if !ok {
		t.Fatal("expected FAT parse to succeed")
	}
	if !f.IsFat {
		t.Fatal("expected FAT file")
	}
	if len(f.Archs) != 1 {
		t.Fatalf("expected exactly 1 populated arch entry (second truncated), got %d", len(f.Archs))
	}
}
