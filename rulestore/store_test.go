package rulestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sansecio/yarax/parser"
	"github.com/sansecio/yarax/scanner"
)

func compileFixture(t *testing.T) *scanner.Rules {
	t.Helper()
	rs, err := parser.Parse(`
rule marker {
	strings:
		$a = "marker"
	condition:
		$a
}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rules, err := scanner.Compile(rs)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return rules
}

func openStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetLatestRoundTrip(t *testing.T) {
	store := openStore(t)
	rules := compileFixture(t)

	version, err := store.Put("suite-a", rules, "hash1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected first published version to be 1, got %d", version)
	}

	fetched, err := store.Get("suite-a", version)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.NumRules() != rules.NumRules() {
		t.Fatalf("rule count mismatch after Get: got %d want %d", fetched.NumRules(), rules.NumRules())
	}

	var matches scanner.MatchRules
	if err := fetched.ScanMem([]byte("has a marker"), 0, 5*time.Second, &matches); err != nil {
		t.Fatalf("scan fetched rules: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected fetched rule set to still match, got %v", matches)
	}

	latest, err := store.Latest("suite-a")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.NumRules() != rules.NumRules() {
		t.Fatalf("rule count mismatch from Latest: got %d want %d", latest.NumRules(), rules.NumRules())
	}
}

func TestPutIncrementsVersion(t *testing.T) {
	store := openStore(t)
	rules := compileFixture(t)

	v1, err := store.Put("suite-b", rules, "hash1")
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	v2, err := store.Put("suite-b", rules, "hash2")
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if v2 != v1+1 {
		t.Fatalf("expected version to increment, got v1=%d v2=%d", v1, v2)
	}
}

func TestListReturnsEveryPublishedName(t *testing.T) {
	store := openStore(t)
	rules := compileFixture(t)

	if _, err := store.Put("suite-x", rules, "h"); err != nil {
		t.Fatalf("Put suite-x: %v", err)
	}
	if _, err := store.Put("suite-y", rules, "h"); err != nil {
		t.Fatalf("Put suite-y: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Name] = true
	}
	if !seen["suite-x"] || !seen["suite-y"] {
		t.Fatalf("expected both published names in list, got %v", entries)
	}
}

func TestGetUnknownNameFails(t *testing.T) {
	store := openStore(t)
	if _, err := store.Get("does-not-exist", 1); err == nil {
		t.Fatalf("expected an error fetching an unpublished name")
	}
}
