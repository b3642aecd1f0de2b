package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sansecio/yarax/condvm"
)

// ScanMem scans a byte buffer for matching rules.
func (r *Rules) ScanMem(buf []byte, flags ScanFlags, timeout time.Duration, cb ScanCallback) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	host := newScanHost(r, buf, ctx)
	if err := condvm.Run(r.condMod, host); err != nil {
		return err
	}

	for _, id := range host.matchOrder {
		if !host.matching[id] {
			continue
		}
		cr := r.rules[id]
		if cr.private {
			continue
		}
		mr := host.buildMatchRule(cr)
		abort, err := cb.RuleMatching(mr)
		if err != nil {
			return err
		}
		if abort {
			return nil
		}
	}
	return nil
}

// ScanFile scans a file for matching rules using memory mapping, so large
// files don't need to be read into the heap up front.
func (r *Rules) ScanFile(filename string, flags ScanFlags, timeout time.Duration, cb ScanCallback) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	size := fi.Size()
	if size == 0 {
		return r.ScanMem(nil, flags, timeout, cb)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	defer func() { _ = unix.Munmap(data) }()

	return r.ScanMem(data, flags, timeout, cb)
}

// scanHost is the condvm.Host backing one ScanMem call: it owns the atom
// search + verification results and every module-output lookup a
// condition can make, and records which rules matched in evaluation
// order so the scan callback sees a stable, deterministic sequence.
type scanHost struct {
	rules *Rules
	buf   []byte
	ctx   context.Context

	searched bool
	matches  [][]patternMatch // indexed by pattern id

	matching   map[int]bool
	matchOrder []int

	moduleOutputs map[string]any
}

func newScanHost(r *Rules, buf []byte, ctx context.Context) *scanHost {
	return &scanHost{
		rules:         r,
		buf:           buf,
		ctx:           ctx,
		matching:      make(map[int]bool, r.NumRules()),
		moduleOutputs: buildModuleOutputs(buf),
	}
}

func (h *scanHost) EnsurePatternSearch() {
	if h.searched {
		return
	}
	h.searched = true
	vf := newVerifier(h.buf)
	h.matches = vf.searchAll(h.rules)
}

func (h *scanHost) CheckPattern(patternID int) bool {
	return h.PatternCount(patternID) > 0
}

func (h *scanHost) PatternCount(patternID int) int64 {
	if patternID < 0 || patternID >= len(h.matches) {
		return 0
	}
	return int64(len(h.matches[patternID]))
}

func (h *scanHost) PatternOffset(patternID int, index int64) (int64, bool) {
	if patternID < 0 || patternID >= len(h.matches) || index < 0 || index >= int64(len(h.matches[patternID])) {
		return 0, false
	}
	return int64(h.matches[patternID][index].offset), true
}

func (h *scanHost) PatternLength(patternID int, index int64) (int64, bool) {
	if patternID < 0 || patternID >= len(h.matches) || index < 0 || index >= int64(len(h.matches[patternID])) {
		return 0, false
	}
	return int64(h.matches[patternID][index].length), true
}

func (h *scanHost) Filesize() int64 { return int64(len(h.buf)) }

func (h *scanHost) Entrypoint() (int64, bool) {
	if v, ok := h.moduleOutputs["macho.entry_point"]; ok {
		if i, ok := v.(int64); ok {
			return i, true
		}
	}
	return 0, false
}

func (h *scanHost) ModuleField(path string) (any, bool) {
	v, ok := h.moduleOutputs[path]
	return v, ok
}

// CallHost dispatches the handful of builtin scalar readers and string
// comparison operators emitted by the condition compiler, plus any
// dotted module function the module-outputs tree has pre-resolved a
// value for (module functions with side-effect-free, argument-free
// equivalents are folded into moduleOutputs at scan start instead of
// needing a real call dispatcher; see buildModuleOutputs).
func (h *scanHost) CallHost(name string, args []any) (any, error) {
	switch name {
	case "string_at":
		h.EnsurePatternSearch()
		pid := int(asI64(args[0]))
		pos := asI64(args[1])
		for _, m := range h.matches[pid] {
			if int64(m.offset) == pos {
				return true, nil
			}
		}
		return false, nil
	case "string_in_range":
		h.EnsurePatternSearch()
		pid := int(asI64(args[0]))
		lo, hi := asI64(args[1]), asI64(args[2])
		for _, m := range h.matches[pid] {
			off := int64(m.offset)
			if off >= lo && off <= hi {
				return true, nil
			}
		}
		return false, nil
	case "str_contains":
		return strings.Contains(asStr(args[0]), asStr(args[1])), nil
	case "str_icontains":
		return strings.Contains(strings.ToLower(asStr(args[0])), strings.ToLower(asStr(args[1]))), nil
	case "str_startswith":
		return strings.HasPrefix(asStr(args[0]), asStr(args[1])), nil
	case "str_iequals":
		return strings.EqualFold(asStr(args[0]), asStr(args[1])), nil
	case "str_endswith":
		return strings.HasSuffix(asStr(args[0]), asStr(args[1])), nil
	case "str_iendswith":
		return strings.HasSuffix(strings.ToLower(asStr(args[0])), strings.ToLower(asStr(args[1]))), nil
	case "str_matches":
		return false, fmt.Errorf("condvm: matches operator not supported")
	}

	if fn, ok := builtinReaders[name]; ok {
		if len(args) != 1 {
			return nil, fmt.Errorf("condvm: %s takes exactly one argument", name)
		}
		off := asI64(args[0])
		v, ok := fn(h.buf, off)
		if !ok {
			return nil, fmt.Errorf("condvm: %s(%d) out of range", name, off)
		}
		return v, nil
	}

	return nil, fmt.Errorf("condvm: undefined function %s", name)
}

func (h *scanHost) RuleMatched(ruleID int) bool { return h.matching[ruleID] }

func (h *scanHost) RuleMatch(ruleID int) {
	h.matching[ruleID] = true
	h.matchOrder = append(h.matchOrder, ruleID)
}

func (h *scanHost) RuleNoMatch(ruleID int) {
	if h.matching[ruleID] {
		delete(h.matching, ruleID)
	}
}

func (h *scanHost) DeadlineExceeded() bool {
	select {
	case <-h.ctx.Done():
		return true
	default:
		return false
	}
}

// buildMatchRule assembles the public MatchRule for a matched compiledRule,
// pulling every recorded occurrence of the rule's own strings.
func (h *scanHost) buildMatchRule(cr *compiledRule) *MatchRule {
	mr := &MatchRule{
		Rule:      cr.name,
		Namespace: cr.namespace,
		Tags:      cr.tags,
		Metas:     cr.metas,
	}
	for _, name := range cr.stringNames {
		pid, ok := cr.patternIDs[name]
		if !ok {
			continue
		}
		for _, m := range h.matches[pid] {
			end := min(len(h.buf), m.offset+m.length)
			data := make([]byte, end-m.offset)
			copy(data, h.buf[m.offset:end])
			var xorKey *byte
			if h.rules.patterns[pid].modifiers.xor {
				k := m.xorKey
				xorKey = &k
			}
			mr.Strings = append(mr.Strings, MatchString{
				Name: name, Data: data, Offset: m.offset, XorKey: xorKey,
			})
		}
	}
	return mr
}

func asI64(v any) int64 {
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

func asStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// builtinReaders implements the integer field accessors every condition
// can call without importing a module: uintN/intN read little-endian,
// the "be" variants big-endian, at a byte offset into the scanned buffer.
var builtinReaders = map[string]func(buf []byte, off int64) (int64, bool){
	"uint8":    readUint(1, false, false),
	"uint16":   readUint(2, false, false),
	"uint32":   readUint(4, false, false),
	"uint8be":  readUint(1, false, true),
	"uint16be": readUint(2, false, true),
	"uint32be": readUint(4, false, true),
	"int8":     readUint(1, true, false),
	"int16":    readUint(2, true, false),
	"int32":    readUint(4, true, false),
	"int8be":   readUint(1, true, true),
	"int16be":  readUint(2, true, true),
	"int32be":  readUint(4, true, true),
}

func readUint(width int, signed, big bool) func([]byte, int64) (int64, bool) {
	return func(buf []byte, off int64) (int64, bool) {
		if off < 0 || off+int64(width) > int64(len(buf)) {
			return 0, false
		}
		var u uint64
		for i := 0; i < width; i++ {
			b := buf[int(off)+i]
			shift := i
			if big {
				shift = width - 1 - i
			}
			u |= uint64(b) << (8 * shift)
		}
		if !signed {
			return int64(u), true
		}
		switch width {
		case 1:
			return int64(int8(u)), true
		case 2:
			return int64(int16(u)), true
		case 4:
			return int64(int32(u)), true
		}
		return int64(u), true
	}
}

// buildModuleOutputs runs the best-effort container parsers over buf and
// flattens their results into the dotted-path map ModuleField and
// Entrypoint look up, the way the real engine's module outputs are
// addressed by condition field paths (macho.ncmds, pe.entry_point, ...).
// Only macho is wired up here; a module whose parser doesn't recognize
// buf simply contributes no keys, and field lookups against it report
// "undefined" (ok=false) rather than failing the scan.
func buildModuleOutputs(buf []byte) map[string]any {
	out := map[string]any{}
	populateMachoFields(out, buf)
	return out
}
