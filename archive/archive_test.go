package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestWalkZipYieldsMembers(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "sample.zip")
	writeZip(t, archivePath, map[string]string{
		"a.txt": "hello",
		"b.txt": "world",
	})

	var got []Member
	skipped, err := Walk(archivePath, DefaultLimits(), func(m Member) error {
		got = append(got, m)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped members, got %v", skipped)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 members, got %d", len(got))
	}
}

func TestScanignoreExcludesMembers(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".scanignore"), []byte("secret.txt\n"), 0o644); err != nil {
		t.Fatalf("writing .scanignore: %v", err)
	}
	archivePath := filepath.Join(dir, "sample.zip")
	writeZip(t, archivePath, map[string]string{
		"keep.txt":   "keep this",
		"secret.txt": "should be excluded",
	})

	var got []string
	_, err := Walk(archivePath, DefaultLimits(), func(m Member) error {
		got = append(got, m.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 || got[0] != "keep.txt" {
		t.Fatalf("expected only keep.txt, got %v", got)
	}
}

func TestMaxMemberSizeSkipsOversizedEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "sample.zip")
	writeZip(t, archivePath, map[string]string{
		"big.txt":   "0123456789",
		"small.txt": "ok",
	})

	var got []string
	skipped, err := Walk(archivePath, Limits{MaxDepth: 8, MaxMemberSize: 5}, func(m Member) error {
		got = append(got, m.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 || got[0] != "small.txt" {
		t.Fatalf("expected only small.txt to be yielded, got %v", got)
	}
	if len(skipped) != 1 || skipped[0].Path != "big.txt" {
		t.Fatalf("expected big.txt to be reported skipped, got %v", skipped)
	}
}

func TestNestedZipRecursesWithMemberPathPrefix(t *testing.T) {
	dir := t.TempDir()

	var innerBuf bytes.Buffer
	izw := zip.NewWriter(&innerBuf)
	iw, err := izw.Create("payload.txt")
	if err != nil {
		t.Fatalf("create inner entry: %v", err)
	}
	if _, err := iw.Write([]byte("nested content")); err != nil {
		t.Fatalf("write inner entry: %v", err)
	}
	if err := izw.Close(); err != nil {
		t.Fatalf("close inner zip: %v", err)
	}

	outerPath := filepath.Join(dir, "outer.zip")
	var outerBuf bytes.Buffer
	ozw := zip.NewWriter(&outerBuf)
	ow, err := ozw.Create("inner.zip")
	if err != nil {
		t.Fatalf("create outer entry: %v", err)
	}
	if _, err := ow.Write(innerBuf.Bytes()); err != nil {
		t.Fatalf("write outer entry: %v", err)
	}
	if err := ozw.Close(); err != nil {
		t.Fatalf("close outer zip: %v", err)
	}
	if err := os.WriteFile(outerPath, outerBuf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing outer.zip: %v", err)
	}

	var got []string
	_, err = Walk(outerPath, DefaultLimits(), func(m Member) error {
		got = append(got, m.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	want := "inner.zip!payload.txt"
	found := false
	for _, p := range got {
		if p == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected member path %q among %v", want, got)
	}
}

func TestMaxDepthStopsRecursion(t *testing.T) {
	dir := t.TempDir()

	var innerBuf bytes.Buffer
	izw := zip.NewWriter(&innerBuf)
	iw, _ := izw.Create("payload.txt")
	iw.Write([]byte("nested content"))
	izw.Close()

	outerPath := filepath.Join(dir, "outer.zip")
	var outerBuf bytes.Buffer
	ozw := zip.NewWriter(&outerBuf)
	ow, _ := ozw.Create("inner.zip")
	ow.Write(innerBuf.Bytes())
	ozw.Close()
	os.WriteFile(outerPath, outerBuf.Bytes(), 0o644)

	var got []string
	skipped, err := Walk(outerPath, Limits{MaxDepth: 0, MaxMemberSize: 1 << 20}, func(m Member) error {
		got = append(got, m.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for _, p := range got {
		if p == "inner.zip!payload.txt" {
			t.Fatalf("expected recursion to stop at depth 0, but found nested member")
		}
	}
	if len(skipped) != 1 || skipped[0].Reason != "max archive depth reached" {
		t.Fatalf("expected a max-depth skip entry, got %v", skipped)
	}
}
