package ahocorasick

import (
	"sync"
	"testing"
)

func TestFindNonOverlapping_SinglePattern(t *testing.T) {
	b := NewAtomAutomatonBuilder()
	aa := b.Build([]string{"abc"})
	matches := aa.FindNonOverlapping("xxabcxxabcxx")

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Start() != 2 || matches[0].End() != 5 {
		t.Errorf("match 0: expected [2,5), got [%d,%d)", matches[0].Start(), matches[0].End())
	}
	if matches[1].Start() != 7 || matches[1].End() != 10 {
		t.Errorf("match 1: expected [7,10), got [%d,%d)", matches[1].Start(), matches[1].End())
	}
}

func TestFindNonOverlapping_MultiplePatterns(t *testing.T) {
	b := NewAtomAutomatonBuilder()
	aa := b.Build([]string{"he", "she", "his", "hers"})
	matches := aa.FindNonOverlapping("ushers")

	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}

	// Standard (earliest) match semantics: reports as seen; matches may overlap.
	// "she" starts at 1, then scanning resumes at 2 and finds "he".
	found := make(map[int]bool)
	for _, m := range matches {
		found[m.AtomIndex()] = true
	}
	if !found[0] {
		t.Error("expected to find atom 'he'")
	}
	if !found[1] {
		t.Error("expected to find atom 'she'")
	}
}

func TestFindNonOverlapping_NoMatch(t *testing.T) {
	b := NewAtomAutomatonBuilder()
	aa := b.Build([]string{"foo", "bar"})
	matches := aa.FindNonOverlapping("nothing here")

	if len(matches) != 0 {
		t.Errorf("expected 0 matches, got %d", len(matches))
	}
}

func TestFindNonOverlapping_EmptyHaystack(t *testing.T) {
	b := NewAtomAutomatonBuilder()
	aa := b.Build([]string{"abc"})
	matches := aa.FindNonOverlapping("")

	if len(matches) != 0 {
		t.Errorf("expected 0 matches, got %d", len(matches))
	}
}

func TestOverlapping(t *testing.T) {
	b := NewAtomAutomatonBuilder()
	aa := b.Build([]string{"he", "she", "his", "hers"})
	iter := aa.Overlapping([]byte("ushers"))

	var matches []Match
	for next := iter.Next(); next != nil; next = iter.Next() {
		matches = append(matches, *next)
	}

	// Overlapping: should find "she", "he", "hers"
	if len(matches) < 3 {
		t.Fatalf("expected at least 3 overlapping matches, got %d", len(matches))
	}

	found := make(map[int]bool)
	for _, m := range matches {
		found[m.AtomIndex()] = true
	}
	if !found[0] {
		t.Error("expected to find atom 'he'")
	}
	if !found[1] {
		t.Error("expected to find atom 'she'")
	}
	if !found[3] {
		t.Error("expected to find atom 'hers'")
	}
}

func TestOverlapping_SubstringAtoms(t *testing.T) {
	b := NewAtomAutomatonBuilder()
	aa := b.Build([]string{"a", "ab", "abc"})
	iter := aa.Overlapping([]byte("abc"))

	var matches []Match
	for next := iter.Next(); next != nil; next = iter.Next() {
		matches = append(matches, *next)
	}

	if len(matches) != 3 {
		t.Fatalf("expected 3 overlapping matches, got %d", len(matches))
	}
}

func TestFindNonOverlapping_Parallel(t *testing.T) {
	b := NewAtomAutomatonBuilder()
	aa := b.Build([]string{"bear", "masha"})
	haystack := "The bear and masha"

	var w sync.WaitGroup
	w.Add(50)
	for i := 0; i < 50; i++ {
		go func() {
			defer w.Done()
			matches := aa.FindNonOverlapping(haystack)
			if len(matches) != 2 {
				t.Errorf("expected 2 matches, got %d", len(matches))
			}
		}()
	}
	w.Wait()
}
