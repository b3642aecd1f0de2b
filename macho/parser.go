package macho

import "encoding/binary"

// Parse decodes a Mach-O input (single-architecture or FAT) into a File.
// It never returns an error: a buffer that isn't Mach-O at all yields
// (nil, false); anything that gets past the magic check produces a File
// with whatever slices/load-commands parsed successfully, per the
// best-effort parser contract.
func Parse(buf []byte) (*File, bool) {
	if len(buf) < 4 {
		return nil, false
	}
	magic := binary.BigEndian.Uint32(buf[:4])
	switch magic {
	case fatMagic, fatCigam, fatMagic64, fatCigam64:
		return parseFat(buf, magic), true
	}
	magicLE := binary.LittleEndian.Uint32(buf[:4])
	switch magicLE {
	case magic32, cigam32, magic64, cigam64:
		arch := parseArchSafe(buf)
		if arch == nil {
			return nil, false
		}
		return &File{Archs: []*Arch{arch}}, true
	}
	return nil, false
}

func parseFat(buf []byte, magic uint32) (f *File) {
	bigEndian := magic == fatMagic || magic == fatMagic64
	is64 := magic == fatMagic64 || magic == fatCigam64
	f = &File{IsFat: true}

	defer func() { recover() }()

	r := newReader(buf, bigEndian)
	r.u32() // magic
	nArch := r.u32()

	type fatArch struct {
		offset, size uint64
	}
	arches := make([]fatArch, 0, nArch)
	for i := uint32(0); i < nArch; i++ {
		func() {
			defer func() { recover() }()
			r.u32() // cputype
			r.u32() // cpusubtype
			var off, size uint64
			if is64 {
				off = r.u64()
				size = r.u64()
				r.u32() // align
				r.u32() // reserved
			} else {
				off = uint64(r.u32())
				size = uint64(r.u32())
				r.u32() // align
			}
			arches = append(arches, fatArch{offset: off, size: size})
		}()
	}

	for _, a := range arches {
		slab, ok := slice(buf, int(a.offset), int(a.size))
		if !ok {
			// truncated architecture slice: skip it, do not fail the
			// whole FAT file (scenario: FAT header declares two archs,
			// second is truncated -> one populated entry, no error).
			continue
		}
		if arch := parseArchSafe(slab); arch != nil {
			f.Archs = append(f.Archs, arch)
		}
	}
	return f
}

// parseArchSafe recovers from any out-of-range access that escapes
// parseArch while parsing a single architecture slice (in practice a
// header too short for its fixed fields) and returns nil in that case.
// Short reads inside a load command are recovered by parseOneLoadCommand,
// which keeps what was parsed before it.
func parseArchSafe(buf []byte) (arch *Arch) {
	defer func() {
		if r := recover(); r != nil {
			// header parse failed entirely
		}
	}()
	return parseArch(buf)
}

func parseArch(buf []byte) *Arch {
	if len(buf) < 4 {
		return nil
	}
	magicBE := binary.BigEndian.Uint32(buf[:4])
	magicLE := binary.LittleEndian.Uint32(buf[:4])

	var bigEndian, is64 bool
	var magic uint32
	switch {
	case magicLE == magic32:
		magic, bigEndian, is64 = magic32, false, false
	case magicBE == magic32:
		magic, bigEndian, is64 = magic32, true, false
	case magicLE == magic64:
		magic, bigEndian, is64 = magic64, false, true
	case magicBE == magic64:
		magic, bigEndian, is64 = magic64, true, true
	default:
		return nil
	}

	r := newReader(buf, bigEndian)
	r.seek(4)
	a := &Arch{Magic: magic, Is64: is64, BigEndian: bigEndian}
	a.CPUType = r.u32()
	a.CPUSubtype = r.u32()
	a.FileType = r.u32()
	a.NCmds = r.u32()
	a.SizeOfCmds = r.u32()
	a.Flags = r.u32()
	if is64 {
		r.u32() // reserved
	}

	for i := uint32(0); i < a.NCmds; i++ {
		if !parseOneLoadCommand(r, buf, a) {
			break
		}
	}

	runPostPasses(buf, a)
	return a
}

// parseOneLoadCommand parses one load command and advances r past it,
// returning false if the command's declared size couldn't be honored
// (truncated load-command table: stop iterating, keep what we have).
func parseOneLoadCommand(r *reader, buf []byte, a *Arch) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	start := r.pos
	cmd := r.u32()
	cmdsize := r.u32()
	if cmdsize < 8 {
		return false
	}
	next := start + int(cmdsize)

	switch cmd {
	case lcSegment:
		a.Segments = append(a.Segments, parseSegment32(r))
	case lcSegment64:
		a.Segments = append(a.Segments, parseSegment64(r))
	case lcSymtab:
		a.Symtab = &Symtab{SymOff: r.u32(), NSyms: r.u32(), StrOff: r.u32(), StrSize: r.u32()}
	case lcDysymtab:
		a.Dysymtab = parseDysymtab(r)
	case lcLoadDylib, lcIDDylib, lcLoadWeakDylib, lcReexportDylib:
		a.Dylibs = append(a.Dylibs, parseDylib(r, buf, start))
	case lcRpath:
		strOff := r.u32()
		if s, ok := cstring(buf, start+int(strOff)); ok {
			a.Rpaths = append(a.Rpaths, s)
		}
	case lcUUID:
		a.UUID = append([]byte(nil), r.bytes(16)...)
	case lcCodeSignature:
		a.CodeSig = &CodeSignature{DataOff: r.u32(), DataSize: r.u32()}
	case lcDyldInfo, lcDyldInfoOnly:
		a.DyldInfo = &DyldInfo{
			RebaseOff: r.u32(), RebaseSize: r.u32(),
			BindOff: r.u32(), BindSize: r.u32(),
			WeakBindOff: r.u32(), WeakBindSize: r.u32(),
			LazyBindOff: r.u32(), LazyBindSize: r.u32(),
			ExportOff: r.u32(), ExportSize: r.u32(),
		}
	case lcDyldExportsTrie:
		a.exportsOff = r.u32()
		a.exportsSize = r.u32()
	case lcDyldChainedFixups:
		a.chainedFixupsOff = r.u32()
		a.chainedFixupsSize = r.u32()
	case lcUnixthread:
		// thread state varies by cpu type; entry point is recovered
		// from LC_MAIN when present, so we don't decode thread state.
	case lcMain:
		entryOff := r.u64()
		r.u64() // stacksize
		ep := entryOff
		a.EntryPoint = &ep
	case lcBuildVersion:
		a.BuildVer = &BuildVersion{Platform: r.u32(), MinOS: r.u32(), SDK: r.u32()}
	case lcVersionMinMacosx, lcVersionMinIphoneos, lcVersionMinTvos, lcVersionMinWatchos:
		a.MinVersion = &MinVersion{Cmd: cmd, Value: r.u32()}
	case lcLinkerOption:
		count := r.u32()
		off := r.pos
		for i := uint32(0); i < count && off < next; i++ {
			if s, ok := cstring(buf, off); ok {
				a.LinkerOpts = append(a.LinkerOpts, s)
				off += len(s) + 1
			} else {
				break
			}
		}
	}

	r.seek(next)
	return true
}

func parseSegment32(r *reader) *Segment {
	s := &Segment{Name: r.fixed(16)}
	s.VMAddr = uint64(r.u32())
	s.VMSize = uint64(r.u32())
	s.FileOff = uint64(r.u32())
	s.FileSize = uint64(r.u32())
	s.MaxProt = r.u32()
	s.InitProt = r.u32()
	nsects := r.u32()
	r.u32() // flags
	for i := uint32(0); i < nsects; i++ {
		sec := &Section{SegName: s.Name}
		sec.Name = r.fixed(16)
		r.fixed(16) // segname repeated in section header
		sec.Addr = uint64(r.u32())
		sec.Size = uint64(r.u32())
		sec.Offset = r.u32()
		sec.Align = r.u32()
		sec.RelOff = r.u32()
		sec.NReloc = r.u32()
		sec.Flags = r.u32()
		r.u32() // reserved1
		r.u32() // reserved2
		s.Sections = append(s.Sections, sec)
	}
	return s
}

func parseSegment64(r *reader) *Segment {
	s := &Segment{Name: r.fixed(16)}
	s.VMAddr = r.u64()
	s.VMSize = r.u64()
	s.FileOff = r.u64()
	s.FileSize = r.u64()
	s.MaxProt = r.u32()
	s.InitProt = r.u32()
	nsects := r.u32()
	r.u32() // flags
	for i := uint32(0); i < nsects; i++ {
		sec := &Section{SegName: s.Name}
		sec.Name = r.fixed(16)
		r.fixed(16)
		sec.Addr = r.u64()
		sec.Size = r.u64()
		sec.Offset = r.u32()
		sec.Align = r.u32()
		sec.RelOff = r.u32()
		sec.NReloc = r.u32()
		sec.Flags = r.u32()
		r.u32() // reserved1
		r.u32() // reserved2
		r.u32() // reserved3
		s.Sections = append(s.Sections, sec)
	}
	return s
}

func parseDysymtab(r *reader) *Dysymtab {
	d := &Dysymtab{}
	d.ILocalSym = r.u32()
	d.NLocalSym = r.u32()
	d.IExtdefSym = r.u32()
	d.NExtdefSym = r.u32()
	d.IUndefSym = r.u32()
	d.NUndefSym = r.u32()
	// remaining fields (toc, modtab, extrefsyms, indirectsyms, etc.) are
	// not consulted by any condition surface this module exposes.
	for i := 0; i < 12; i++ {
		r.u32()
	}
	return d
}

func parseDylib(r *reader, buf []byte, cmdStart int) *Dylib {
	strOff := r.u32()
	d := &Dylib{}
	d.Timestamp = r.u32()
	d.CurrentVersion = r.u32()
	d.CompatibilityVersion = r.u32()
	if s, ok := cstring(buf, cmdStart+int(strOff)); ok {
		d.Name = s
	}
	return d
}

// RVAToFileOffset walks the architecture's segments and maps a virtual
// address to a file offset, or (0, false) if no segment covers it.
func RVAToFileOffset(a *Arch, addr uint64) (uint64, bool) {
	for _, seg := range a.Segments {
		if addr >= seg.VMAddr && addr < seg.VMAddr+seg.VMSize {
			return seg.FileOff + (addr - seg.VMAddr), true
		}
	}
	return 0, false
}
