package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotlessone/texvault/pkg/digest"
	"github.com/dotlessone/texvault/pkg/evidence"
)

func writeFile(t *testing.T, path, content string) digest.Digest {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := digest.File(path)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func tableOf(t *testing.T, rows ...string) *evidence.Table {
	t.Helper()
	csv := "digest,asset_name\n" + strings.Join(rows, "\n")
	path := filepath.Join(t.TempDir(), "table.csv")
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	table, _, err := evidence.Load(path, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestScanIndexesStoreFiles(t *testing.T) {
	root := t.TempDir()
	dFoo := writeFile(t, filepath.Join(root, "foo.png"), "content-a")
	writeFile(t, filepath.Join(root, "bar.png"), "content-a")
	dBaz := writeFile(t, filepath.Join(root, "nested", "baz.png"), "content-b")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")

	ix, err := Scan(context.Background(), root, []string{".png"}, 2)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}

	if ix.Files() != 3 {
		t.Errorf("Files() = %d, expected 3 (txt excluded)", ix.Files())
	}
	if !ix.Has(dFoo) || !ix.Has(dBaz) {
		t.Error("expected both digests present")
	}
	if got := len(ix.Paths(dFoo)); got != 2 {
		t.Errorf("expected 2 paths for shared digest, got %d", got)
	}
}

func TestScanSkipsQuarantine(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "foo.png"), "good")
	dBad := writeFile(t, filepath.Join(root, QuarantineDirName, "foo-[1].png"), "quarantined")

	ix, err := Scan(context.Background(), root, []string{".png"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ix.Has(dBad) {
		t.Error("quarantined file must not appear in the index")
	}
	if ix.Files() != 1 {
		t.Errorf("Files() = %d, expected 1", ix.Files())
	}
}

func TestAllAliasesPresent(t *testing.T) {
	root := t.TempDir()
	d := writeFile(t, filepath.Join(root, "foo.png"), "shared")

	ix, err := Scan(context.Background(), root, nil, 1)
	if err != nil {
		t.Fatal(err)
	}

	both := tableOf(t, d.String()+",foo", d.String()+",bar")
	if ix.AllAliasesPresent(d, both) {
		t.Error("bar is absent, AllAliasesPresent should be false")
	}

	ix.Add(d, filepath.Join(root, "bar.png"))
	if !ix.AllAliasesPresent(d, both) {
		t.Error("both aliases present, expected true")
	}

	unmapped := tableOf(t, digest.Zero.String()+",other")
	if ix.AllAliasesPresent(d, unmapped) {
		t.Error("digest absent from table, expected false")
	}
}

func TestAllAliasesPresentIsCaseFolded(t *testing.T) {
	root := t.TempDir()
	d := writeFile(t, filepath.Join(root, "FOO.png"), "shared")

	ix, err := Scan(context.Background(), root, nil, 1)
	if err != nil {
		t.Fatal(err)
	}

	table := tableOf(t, d.String()+",foo")
	if !ix.AllAliasesPresent(d, table) {
		t.Error("alias comparison must be case-folded")
	}
}

func TestNameSetAndDigests(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), "one")
	writeFile(t, filepath.Join(root, "sub", "b.png"), "two")

	ix, err := Scan(context.Background(), root, nil, 1)
	if err != nil {
		t.Fatal(err)
	}

	names := ix.NameSet()
	if len(names) != 2 {
		t.Errorf("NameSet() has %d entries, expected 2", len(names))
	}
	if _, ok := names[evidence.Fold("a.png")]; !ok {
		t.Error("expected folded a.png key")
	}

	digests := ix.Digests()
	if len(digests) != 2 {
		t.Fatalf("Digests() len = %d, expected 2", len(digests))
	}
	if digests[0] > digests[1] {
		t.Error("Digests() must be sorted")
	}
}

func TestInQuarantine(t *testing.T) {
	root := filepath.Join("store")
	if !InQuarantine(root, filepath.Join(root, QuarantineDirName, "x.png")) {
		t.Error("expected quarantine path detected")
	}
	if InQuarantine(root, filepath.Join(root, "x.png")) {
		t.Error("store file misdetected as quarantined")
	}
}

func TestQuarantineDir(t *testing.T) {
	root := t.TempDir()
	q, err := QuarantineDir(root)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(q)
	if err != nil || !info.IsDir() {
		t.Fatalf("quarantine dir not created: %v", err)
	}
}
