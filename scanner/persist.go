package scanner

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/sansecio/yarax/ahocorasick"
	"github.com/sansecio/yarax/condvm"
	"github.com/sansecio/yarax/regexvm"
)

// persistMagic and persistVersion identify the on-disk format: a 4-byte
// magic, a 2-byte big-endian version, then a gob-encoded persistedRules.
// gob is the only encoding used anywhere in this repository's own
// serialization -- there's no third-party binary-encoding library in
// play here, and gob's self-describing struct encoding is the ordinary
// choice for a Go-to-Go persisted form where the reader is always this
// same package's Deserialize.
var persistMagic = [4]byte{'Y', 'R', 'A', 'X'}

const persistVersion uint16 = 1

// ErrBadMagic is returned by Deserialize when the input doesn't start
// with the expected magic bytes.
var ErrBadMagic = fmt.Errorf("scanner: not a serialized rule set (bad magic)")

// persistedRules mirrors Rules with exported fields, since gob cannot
// encode unexported struct fields directly; Serialize/Deserialize
// convert between the two at the package boundary so Rules itself
// never needs exported internals.
type persistedRules struct {
	Rules      []persistedRule
	Namespaces []string
	Patterns   []persistedPattern
	Atoms      [][]byte // feed bytes only, for rebuilding the AC matcher
	AtomRefs   []atomRef
	CondMod    condvm.Module
}

type persistedRule struct {
	ID          int
	Name        string
	Namespace   string
	Tags        []string
	Global      bool
	Private     bool
	Metas       []Meta
	StringNames []string
	PatternIDs  map[string]int
}

type persistedPattern struct {
	ID        int
	RuleIndex int
	Name      string
	Program   regexvm.Program
	Modifiers patternModifiers
	Atoms     [][]byte
	AtomBack  []int
}

// Serialize encodes the compiled rule set to a versioned binary form.
// Deserializing the result must yield a rule set with identical scan
// semantics, not necessarily an identical in-memory representation.
func (r *Rules) Serialize() ([]byte, error) {
	pr := persistedRules{
		Namespaces: r.namespaces,
		AtomRefs:   r.atomRefs,
		CondMod:    r.condMod,
		Atoms:      r.atomFeed,
	}
	for _, cr := range r.rules {
		pr.Rules = append(pr.Rules, persistedRule{
			ID: cr.id, Name: cr.name, Namespace: cr.namespace, Tags: cr.tags,
			Global: cr.global, Private: cr.private, Metas: cr.metas,
			StringNames: cr.stringNames, PatternIDs: cr.patternIDs,
		})
	}
	for _, p := range r.patterns {
		pr.Patterns = append(pr.Patterns, persistedPattern{
			ID: p.id, RuleIndex: p.ruleIndex, Name: p.name, Program: p.program,
			Modifiers: p.modifiers, Atoms: p.atoms, AtomBack: p.atomBack,
		})
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(pr); err != nil {
		return nil, fmt.Errorf("scanner: serialize: %w", err)
	}

	var out bytes.Buffer
	out.Write(persistMagic[:])
	_ = binary.Write(&out, binary.BigEndian, persistVersion)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Deserialize reconstructs a Rules from Serialize's output.
func Deserialize(data []byte) (*Rules, error) {
	if len(data) < 6 || !bytes.Equal(data[:4], persistMagic[:]) {
		return nil, ErrBadMagic
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != persistVersion {
		return nil, fmt.Errorf("scanner: unsupported rule set format version %d", version)
	}

	var pr persistedRules
	if err := gob.NewDecoder(bytes.NewReader(data[6:])).Decode(&pr); err != nil {
		return nil, fmt.Errorf("scanner: deserialize: %w", err)
	}

	rules := &Rules{
		namespaces: pr.Namespaces,
		atomRefs:   pr.AtomRefs,
		atomFeed:   pr.Atoms,
		condMod:    pr.CondMod,
	}
	for _, cr := range pr.Rules {
		rules.rules = append(rules.rules, &compiledRule{
			id: cr.ID, name: cr.Name, namespace: cr.Namespace, tags: cr.Tags,
			global: cr.Global, private: cr.Private, metas: cr.Metas,
			stringNames: cr.StringNames, patternIDs: cr.PatternIDs,
		})
	}
	for _, p := range pr.Patterns {
		rules.patterns = append(rules.patterns, &pattern{
			id: p.ID, ruleIndex: p.RuleIndex, name: p.Name, program: p.Program,
			modifiers: p.Modifiers, atoms: p.Atoms, atomBack: p.AtomBack,
		})
	}
	if len(pr.Atoms) > 0 {
		builder := ahocorasick.NewAtomAutomatonBuilder()
		ac := builder.BuildByte(pr.Atoms)
		rules.matcher = &acMatcher{ac: ac}
	}
	return rules, nil
}
