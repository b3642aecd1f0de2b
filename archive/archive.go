// Package archive implements the recursive archive/container ingestion
// front end (SPEC_FULL.md §4.J): walking a 7-Zip or zip archive and
// handing each member back to a caller as its own scan input, bounded
// by depth and per-member size, with .scanignore-style path exclusion.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Member is one file inside an archive, with the path used to attribute
// matches found while scanning it (see SPEC_FULL.md's "member path"
// glossary entry).
type Member struct {
	Path string
	Data []byte
}

// Limits bounds how much work one Walk call will do.
type Limits struct {
	MaxDepth      int
	MaxMemberSize int64
}

// DefaultLimits matches config.Default's archive settings.
func DefaultLimits() Limits {
	return Limits{MaxDepth: 8, MaxMemberSize: 1 << 30}
}

// SkippedMember records one archive entry that could not be expanded;
// per §7 this is never fatal to the overall walk.
type SkippedMember struct {
	Path   string
	Reason string
}

func (s SkippedMember) Error() string { return fmt.Sprintf("%s: %s", s.Path, s.Reason) }

// Walker recursively expands archives under a root path.
type Walker struct {
	Limits Limits
	ignore *gitignore.GitIgnore
	root   string
}

// NewWalker builds a Walker rooted at root, loading root/.scanignore if
// present (the same convention go-gitignore's CompileIgnoreFile uses
// for a repository's .gitignore, scoped here to one scan target).
func NewWalker(root string, limits Limits) *Walker {
	w := &Walker{Limits: limits, root: root}
	if ig, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".scanignore")); err == nil {
		w.ignore = ig
	}
	return w
}

// excluded reports whether relPath is excluded by the loaded
// .scanignore patterns.
func (w *Walker) excluded(relPath string) bool {
	return w.ignore != nil && w.ignore.MatchesPath(relPath)
}

// Walk expands path (a .7z or .zip file) and calls fn once per member
// that isn't excluded, isn't over MaxMemberSize, and decodes cleanly.
// Decode failures on individual members are collected and returned
// alongside any real error so the caller can log them without the
// whole walk failing (§7: ArchiveError never aborts the walk).
func Walk(path string, limits Limits, fn func(Member) error) ([]SkippedMember, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", path, err)
	}
	w := NewWalker(filepath.Dir(path), limits)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".7z":
		return w.walk7z(data, fn)
	case ".zip", ".jar", ".war", ".apk":
		return w.walkZip(data, fn)
	default:
		return nil, fmt.Errorf("archive: unsupported archive type %q", ext)
	}
}

func (w *Walker) walkZip(data []byte, fn func(Member) error) ([]SkippedMember, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: opening zip: %w", err)
	}

	var skipped []SkippedMember
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || w.excluded(f.Name) {
			continue
		}
		if int64(f.UncompressedSize64) > w.Limits.MaxMemberSize {
			skipped = append(skipped, SkippedMember{Path: f.Name, Reason: "exceeds max member size"})
			continue
		}
		rc, err := f.Open()
		if err != nil {
			skipped = append(skipped, SkippedMember{Path: f.Name, Reason: err.Error()})
			continue
		}
		member, err := io.ReadAll(io.LimitReader(rc, w.Limits.MaxMemberSize))
		rc.Close()
		if err != nil {
			skipped = append(skipped, SkippedMember{Path: f.Name, Reason: err.Error()})
			continue
		}
		if err := fn(Member{Path: f.Name, Data: member}); err != nil {
			return skipped, err
		}
		more, err := w.maybeRecurse(f.Name, member, fn)
		skipped = append(skipped, more...)
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func (w *Walker) walk7z(data []byte, fn func(Member) error) ([]SkippedMember, error) {
	ar, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: opening 7z: %w", err)
	}

	var skipped []SkippedMember
	for _, f := range ar.File {
		if f.FileInfo().IsDir() || w.excluded(f.Name) {
			continue
		}
		if int64(f.UncompressedSize) > w.Limits.MaxMemberSize {
			skipped = append(skipped, SkippedMember{Path: f.Name, Reason: "exceeds max member size"})
			continue
		}
		rc, err := f.Open()
		if err != nil {
			skipped = append(skipped, SkippedMember{Path: f.Name, Reason: err.Error()})
			continue
		}
		member, err := io.ReadAll(io.LimitReader(rc, w.Limits.MaxMemberSize))
		rc.Close()
		if err != nil {
			skipped = append(skipped, SkippedMember{Path: f.Name, Reason: err.Error()})
			continue
		}
		if err := fn(Member{Path: f.Name, Data: member}); err != nil {
			return skipped, err
		}
		more, err := w.maybeRecurse(f.Name, member, fn)
		skipped = append(skipped, more...)
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// maybeRecurse expands a nested archive member in place, up to
// Limits.MaxDepth; a member whose own expansion fails is reported as
// skipped rather than aborting the parent walk.
func (w *Walker) maybeRecurse(name string, data []byte, fn func(Member) error) ([]SkippedMember, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".zip" && ext != ".7z" {
		return nil, nil
	}
	if w.Limits.MaxDepth <= 0 {
		return []SkippedMember{{Path: name, Reason: "max archive depth reached"}}, nil
	}
	nested := *w
	nested.Limits.MaxDepth--
	prefixed := func(m Member) error { return fn(Member{Path: name + "!" + m.Path, Data: m.Data}) }
	if ext == ".zip" {
		return nested.walkZip(data, prefixed)
	}
	return nested.walk7z(data, prefixed)
}
