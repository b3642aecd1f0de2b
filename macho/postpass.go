package macho

import (
	"bytes"
	"strings"

	"github.com/sansecio/yarax/leb128"
)

// runPostPasses decodes the auxiliary regions referenced by load commands
// already parsed into a: the symbol table, the export trie, the import
// bind-opcode stream, and the code-signature superblob. Each is entirely
// independent and best-effort: a malformed one leaves its corresponding
// field empty rather than aborting the others.
func runPostPasses(buf []byte, a *Arch) {
	parseSymtab(buf, a)
	parseExportTrie(buf, a)
	parseBindOpcodes(buf, a)
	parseCodeSignature(buf, a)
}

func parseSymtab(buf []byte, a *Arch) {
	if a.Symtab == nil {
		return
	}
	st := a.Symtab
	entrySize := 12
	if a.Is64 {
		entrySize = 16
	}
	strTab, ok := slice(buf, int(st.StrOff), int(st.StrSize))
	if !ok {
		return
	}
	symData, ok := slice(buf, int(st.SymOff), int(st.NSyms)*entrySize)
	if !ok {
		return
	}
	r := newReader(symData, a.BigEndian)
	for i := uint32(0); i < st.NSyms; i++ {
		func() {
			defer func() { recover() }()
			strx := r.u32()
			typ := r.u8()
			sect := r.u8()
			desc := r.u16()
			var value uint64
			if a.Is64 {
				value = r.u64()
			} else {
				value = uint64(r.u32())
			}
			name, _ := cstring(strTab, int(strx))
			a.symbols = append(a.symbols, Symbol{
				Name: name, Type: typ, Sect: sect, Desc: desc, Value: value,
				External: typ&nExt != 0,
				Stab:     typ&nStab != 0,
			})
		}()
	}
}

// parseExportTrie walks the dyld export trie (preferring
// LC_DYLD_EXPORTS_TRIE, falling back to dyld_info's export region),
// depth-first with a visited-offset set so malformed cyclic tries
// terminate instead of looping forever.
func parseExportTrie(buf []byte, a *Arch) {
	off, size := a.exportsOff, a.exportsSize
	if off == 0 && a.DyldInfo != nil {
		off, size = a.DyldInfo.ExportOff, a.DyldInfo.ExportSize
	}
	if size == 0 {
		return
	}
	trie, ok := slice(buf, int(off), int(size))
	if !ok {
		return
	}
	visited := map[int]bool{}
	walkExportNode(trie, 0, "", visited, &a.Exports)
}

func walkExportNode(trie []byte, offset int, prefix string, visited map[int]bool, out *[]Export) {
	if offset < 0 || offset >= len(trie) || visited[offset] {
		return
	}
	visited[offset] = true

	termSize, n, err := leb128.Uint(trie[offset:])
	if err != nil {
		return
	}
	cursor := offset + n
	if termSize > 0 {
		if end := cursor + int(termSize); end <= len(trie) {
			flags, fn, ferr := leb128.Uint(trie[cursor:end])
			if ferr == nil {
				addr, _, aerr := leb128.Uint(trie[cursor+fn : end])
				if aerr == nil {
					*out = append(*out, Export{Name: prefix, Flags: flags, Addr: addr})
				}
			}
		}
	}
	childBase := cursor + int(termSize)
	if childBase >= len(trie) {
		return
	}
	nChildren := int(trie[childBase])
	pos := childBase + 1
	for i := 0; i < nChildren; i++ {
		label, ok := readCStringFrom(trie, pos)
		if !ok {
			return
		}
		pos += len(label) + 1
		childOff, n, err := leb128.Uint(trie[pos:])
		if err != nil {
			return
		}
		pos += n
		walkExportNode(trie, int(childOff), prefix+label, visited, out)
	}
}

func readCStringFrom(buf []byte, off int) (string, bool) {
	if off < 0 || off > len(buf) {
		return "", false
	}
	end := bytes.IndexByte(buf[off:], 0)
	if end < 0 {
		return "", false
	}
	return string(buf[off : off+end]), true
}

// parseBindOpcodes runs the BIND_OPCODE_* state machine over the dyld-info
// bind stream, resolving each binding to a (segment, offset, symbol)
// triple in a.Imports.
func parseBindOpcodes(buf []byte, a *Arch) {
	if a.DyldInfo == nil || a.DyldInfo.BindSize == 0 {
		return
	}
	stream, ok := slice(buf, int(a.DyldInfo.BindOff), int(a.DyldInfo.BindSize))
	if !ok {
		return
	}

	var (
		segIdx  int
		segOff  uint64
		symName string
		library int
		addend  int64
	)

	segName := func() string {
		if segIdx >= 0 && segIdx < len(a.Segments) {
			return a.Segments[segIdx].Name
		}
		return ""
	}

	i := 0
	for i < len(stream) {
		b := stream[i]
		op := b & bindOpcodeMask
		imm := b & bindImmediateMask
		i++
		switch op {
		case bindOpcodeDone:
			// a bind stream may contain multiple DONE-terminated runs;
			// keep scanning rather than stopping at the first one.
		case bindOpcodeSetDylibOrdinalImm:
			library = int(imm)
		case bindOpcodeSetDylibOrdinalUleb:
			v, n, err := leb128.Uint(stream[i:])
			if err != nil {
				return
			}
			library = int(v)
			i += n
		case bindOpcodeSetDylibSpecialImm:
			library = -int(imm)
		case bindOpcodeSetSymbolTrailingFlagsImm:
			name, ok := readCStringFrom(stream, i)
			if !ok {
				return
			}
			symName = name
			i += len(name) + 1
		case bindOpcodeSetTypeImm:
			// binding type isn't surfaced as a condition field.
		case bindOpcodeSetAddendSleb:
			v, n, err := leb128.Int(stream[i:])
			if err != nil {
				return
			}
			addend = v
			i += n
		case bindOpcodeSetSegmentAndOffsetUleb:
			segIdx = int(imm)
			v, n, err := leb128.Uint(stream[i:])
			if err != nil {
				return
			}
			segOff = v
			i += n
		case bindOpcodeAddAddrUleb:
			v, n, err := leb128.Uint(stream[i:])
			if err != nil {
				return
			}
			segOff += v
			i += n
		case bindOpcodeDoBind:
			a.Imports = append(a.Imports, Import{Segment: segName(), Offset: segOff, Symbol: symName, Library: library, Addend: addend})
			segOff += uint64(ptrSize(a))
		case bindOpcodeDoBindAddAddrUleb:
			a.Imports = append(a.Imports, Import{Segment: segName(), Offset: segOff, Symbol: symName, Library: library, Addend: addend})
			v, n, err := leb128.Uint(stream[i:])
			if err != nil {
				return
			}
			segOff += uint64(ptrSize(a)) + v
			i += n
		case bindOpcodeDoBindAddAddrImmScaled:
			a.Imports = append(a.Imports, Import{Segment: segName(), Offset: segOff, Symbol: symName, Library: library, Addend: addend})
			segOff += uint64(ptrSize(a)) * uint64(imm)
		case bindOpcodeDoBindUlebTimesSkippingUleb:
			count, n, err := leb128.Uint(stream[i:])
			if err != nil {
				return
			}
			i += n
			skip, n2, err := leb128.Uint(stream[i:])
			if err != nil {
				return
			}
			i += n2
			for c := uint64(0); c < count; c++ {
				a.Imports = append(a.Imports, Import{Segment: segName(), Offset: segOff, Symbol: symName, Library: library, Addend: addend})
				segOff += uint64(ptrSize(a)) + skip
			}
		}
	}
}

func ptrSize(a *Arch) int {
	if a.Is64 {
		return 8
	}
	return 4
}

// parseCodeSignature parses the code-signature superblob header well
// enough to locate the embedded entitlements plist; certificate/CMS
// parsing is out of scope for this representative module (it would pull
// in an ASN.1/CMS stack for a field few rules reference).
func parseCodeSignature(buf []byte, a *Arch) {
	if a.CodeSig == nil {
		return
	}
	region, ok := slice(buf, int(a.CodeSig.DataOff), int(a.CodeSig.DataSize))
	if !ok || len(region) < 12 {
		return
	}
	r := newReader(region, true) // superblob header is always big-endian
	magic := r.u32()
	if magic != csMagicEmbeddedSignature {
		return
	}
	r.u32() // length
	count := r.u32()
	for i := uint32(0); i < count && r.pos+8 <= len(region); i++ {
		typ := r.u32()
		off := r.u32()
		if typ != 5 { // CSSLOT_ENTITLEMENTS
			continue
		}
		blob, ok := slice(region, int(off), len(region)-int(off))
		if !ok || len(blob) < 8 {
			continue
		}
		br := newReader(blob, true)
		blobMagic := br.u32()
		blobLen := br.u32()
		if blobMagic != csMagicEmbeddedEntitlements {
			continue
		}
		end := int(blobLen)
		if end > len(blob) {
			end = len(blob)
		}
		if end > 8 {
			a.CodeSig.Entitlements = string(blob[8:end])
		}
	}
	a.CodeSig.HasCMS = strings.Contains(string(region), "pkcs7-signedData") || bytes.Contains(region, []byte{0x30, 0x82})
}
