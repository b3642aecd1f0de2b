package scanner

import (
	"strconv"

	"github.com/sansecio/yarax/macho"
)

// populateMachoFields wires the macho parser's output into the condition
// module-field namespace. A non-FAT file addresses its single arch
// directly as "macho.*"; a FAT file additionally exposes each slice as
// "macho.file[i].*", matching how a condition distinguishes the two
// shapes (macho.is_fat) before indexing into file[].
func populateMachoFields(out map[string]any, buf []byte) {
	f, ok := macho.Parse(buf)
	if !ok || f == nil {
		return
	}
	out["macho.is_fat"] = f.IsFat
	out["macho.nfat_arch"] = int64(len(f.Archs))

	if len(f.Archs) > 0 {
		flattenArch(out, "macho", f.Archs[0])
	}
	for i, a := range f.Archs {
		flattenArch(out, pathIndex("macho.file", i), a)
	}
}

func pathIndex(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

func flattenArch(out map[string]any, prefix string, a *macho.Arch) {
	out[prefix+".magic"] = int64(a.Magic)
	out[prefix+".is_64"] = a.Is64
	out[prefix+".big_endian"] = a.BigEndian
	out[prefix+".cputype"] = int64(a.CPUType)
	out[prefix+".cpusubtype"] = int64(a.CPUSubtype)
	out[prefix+".filetype"] = int64(a.FileType)
	out[prefix+".ncmds"] = int64(a.NCmds)
	out[prefix+".sizeofcmds"] = int64(a.SizeOfCmds)
	out[prefix+".flags"] = int64(a.Flags)
	out[prefix+".number_of_segments"] = int64(len(a.Segments))
	out[prefix+".number_of_imports"] = int64(len(a.Imports))
	out[prefix+".number_of_exports"] = int64(len(a.Exports))
	if a.EntryPoint != nil {
		out[prefix+".entry_point"] = int64(*a.EntryPoint)
	}
	if a.UUID != nil {
		out[prefix+".uuid"] = string(a.UUID)
	}

	for i, seg := range a.Segments {
		sp := pathIndex(prefix+".segments", i)
		out[sp+".segname"] = seg.Name
		out[sp+".vmaddr"] = int64(seg.VMAddr)
		out[sp+".vmsize"] = int64(seg.VMSize)
		out[sp+".fileoff"] = int64(seg.FileOff)
		out[sp+".filesize"] = int64(seg.FileSize)
		out[sp+".nsects"] = int64(len(seg.Sections))
		for j, sec := range seg.Sections {
			secp := pathIndex(sp+".sections", j)
			out[secp+".sectname"] = sec.Name
			out[secp+".segname"] = sec.SegName
			out[secp+".addr"] = int64(sec.Addr)
			out[secp+".size"] = int64(sec.Size)
		}
	}

	for i, d := range a.Dylibs {
		dp := pathIndex(prefix+".dylibs", i)
		out[dp+".name"] = d.Name
		out[dp+".current_version"] = int64(d.CurrentVersion)
		out[dp+".compatibility_version"] = int64(d.CompatibilityVersion)
	}

	for i, imp := range a.Imports {
		ip := pathIndex(prefix+".imports", i)
		out[ip+".symbol"] = imp.Symbol
		out[ip+".library"] = int64(imp.Library)
	}

	for i, exp := range a.Exports {
		ep := pathIndex(prefix+".exports", i)
		out[ep+".name"] = exp.Name
		out[ep+".address"] = int64(exp.Addr)
	}
}
