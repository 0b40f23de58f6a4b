package vfs

import (
	"path/filepath"
	"testing"

	"github.com/svnbridge/svnbridged/internal/filterchain"
	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/revindex"
)

// buildHistory writes a chain of commits to store and observes them into a
// fresh revision index, returning the FS and the commit hashes in order.
func buildHistory(t *testing.T, store gitobj.ObjectStore, trees []*gitobj.TreeObj, authors []string) (*FS, []gitobj.Hash) {
	t.Helper()
	if len(trees) != len(authors) {
		t.Fatalf("trees/authors length mismatch")
	}

	var commits []gitobj.Hash
	var parent gitobj.Hash
	for i, tr := range trees {
		treeHash, err := gitobj.WriteTree(store, tr)
		if err != nil {
			t.Fatalf("WriteTree %d: %v", i, err)
		}
		c := &gitobj.CommitObj{
			TreeHash:  treeHash,
			Author:    authors[i],
			Timestamp: int64(1700000000 + i*1000),
			Message:   "commit\n",
		}
		if parent != "" {
			c.Parents = []gitobj.Hash{parent}
		}
		h, err := gitobj.WriteCommit(store, c)
		if err != nil {
			t.Fatalf("WriteCommit %d: %v", i, err)
		}
		commits = append(commits, h)
		parent = h
	}

	idx, err := revindex.Open(filepath.Join(t.TempDir(), "svnbridge"))
	if err != nil {
		t.Fatalf("revindex.Open: %v", err)
	}
	if _, err := idx.Observe(store, parent); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	return New(store, idx, filterchain.New(store)), commits
}

func blobEntry(t *testing.T, store gitobj.ObjectStore, name string, content string) gitobj.TreeEntry {
	t.Helper()
	h, err := gitobj.WriteBlob(store, &gitobj.Blob{Data: []byte(content)})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	return gitobj.TreeEntry{Name: name, BlobHash: h, Mode: gitobj.TreeModeFile}
}

func TestStatResolvesFileAndDir(t *testing.T) {
	store := gitobj.NewMemStore()
	readme := blobEntry(t, store, "readme.txt", "hello\n")
	tree := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{readme}}
	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree}, []string{"alice"})

	n, err := fs.Stat(1, "/readme.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if n.Kind != KindFile {
		t.Fatalf("Kind: got %v, want KindFile", n.Kind)
	}

	root, err := fs.Stat(1, "/")
	if err != nil {
		t.Fatalf("Stat root: %v", err)
	}
	if root.Kind != KindDir {
		t.Fatalf("root Kind: got %v, want KindDir", root.Kind)
	}
}

func TestStatAbsentPath(t *testing.T) {
	store := gitobj.NewMemStore()
	tree := &gitobj.TreeObj{}
	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree}, []string{"alice"})

	n, err := fs.Stat(1, "/missing.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if n.Kind != KindAbsent {
		t.Errorf("Kind: got %v, want KindAbsent", n.Kind)
	}
}

func TestReadReturnsContent(t *testing.T) {
	store := gitobj.NewMemStore()
	entry := blobEntry(t, store, "a.txt", "first revision\n")
	tree := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{entry}}
	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree}, []string{"alice"})

	data, err := fs.Read(1, "/a.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "first revision\n" {
		t.Errorf("Read = %q", data)
	}
}

func TestListSortsAndAnnotatesLastChange(t *testing.T) {
	store := gitobj.NewMemStore()
	a := blobEntry(t, store, "zeta.txt", "z\n")
	tree1 := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{a}}

	b := blobEntry(t, store, "alpha.txt", "a\n")
	tree2 := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{a, b}}

	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree1, tree2}, []string{"alice", "bob"})

	entries, err := fs.List(2, "/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Name != "alpha.txt" || entries[1].Name != "zeta.txt" {
		t.Errorf("List not sorted: %+v", entries)
	}
	if entries[0].LastChangeRev != 2 {
		t.Errorf("alpha.txt LastChangeRev: got %d, want 2", entries[0].LastChangeRev)
	}
	if entries[1].LastChangeRev != 1 {
		t.Errorf("zeta.txt LastChangeRev: got %d, want 1", entries[1].LastChangeRev)
	}
}

func TestPropertiesSynthesizedFromGitattributes(t *testing.T) {
	store := gitobj.NewMemStore()
	attrs := blobEntry(t, store, ".gitattributes", "*.txt text eol=lf\n")
	file := blobEntry(t, store, "notes.txt", "content\n")
	tree := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{attrs, file}}
	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree}, []string{"alice"})

	props, err := fs.Properties(1, "/notes.txt", false)
	if err != nil {
		t.Fatalf("Properties: %v", err)
	}
	if props["svn:eol-style"] != "LF" {
		t.Errorf("svn:eol-style = %q, want LF", props["svn:eol-style"])
	}
}

func TestLogReportsOnlyRevisionsTouchingPath(t *testing.T) {
	store := gitobj.NewMemStore()
	a := blobEntry(t, store, "a.txt", "1\n")
	b := blobEntry(t, store, "b.txt", "1\n")
	tree1 := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{a, b}}

	aV2 := blobEntry(t, store, "a.txt", "2\n")
	tree2 := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{aV2, b}}

	tree3 := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{aV2, b}} // no-op commit content-wise for b

	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree1, tree2, tree3}, []string{"alice", "bob", "carol"})

	entries, err := fs.Log([]string{"/a.txt"}, 0, 3, false, false, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2 (revisions 1 and 2)", len(entries))
	}
	if entries[0].Rev != 1 || entries[1].Rev != 2 {
		t.Errorf("Log order: got revs %d, %d, want strictly increasing", entries[0].Rev, entries[1].Rev)
	}
}

func TestLogReturnsStrictlyIncreasingRevisionOrder(t *testing.T) {
	store := gitobj.NewMemStore()
	trees := make([]*gitobj.TreeObj, 5)
	authors := make([]string, 5)
	for i := range trees {
		entry := blobEntry(t, store, "f.txt", string(rune('a'+i))+"\n")
		trees[i] = &gitobj.TreeObj{Entries: []gitobj.TreeEntry{entry}}
		authors[i] = "alice"
	}
	fs, _ := buildHistory(t, store, trees, authors)

	entries, err := fs.Log(nil, 0, 5, false, false, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries: got %d, want 5", len(entries))
	}
	for i, e := range entries {
		if e.Rev != i+1 {
			t.Fatalf("entries not in strictly increasing order: %+v", entries)
		}
	}
}

func TestBlameAttributesEachLine(t *testing.T) {
	store := gitobj.NewMemStore()
	v1 := blobEntry(t, store, "f.txt", "alpha\nbeta\n")
	tree1 := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{v1}}

	v2 := blobEntry(t, store, "f.txt", "alpha\nbeta\ngamma\n")
	tree2 := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{v2}}

	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree1, tree2}, []string{"alice", "bob"})

	lines, err := fs.Blame(2, "/f.txt")
	if err != nil {
		t.Fatalf("Blame: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines: got %d, want 3", len(lines))
	}
	if lines[0].Rev != 1 || lines[1].Rev != 1 {
		t.Errorf("alpha/beta should be attributed to rev 1, got %d, %d", lines[0].Rev, lines[1].Rev)
	}
	if lines[2].Rev != 2 {
		t.Errorf("gamma should be attributed to rev 2, got %d", lines[2].Rev)
	}
}

func TestMD5IsCachedByBlobAndFilter(t *testing.T) {
	store := gitobj.NewMemStore()
	entry := blobEntry(t, store, "a.txt", "payload\n")
	tree := &gitobj.TreeObj{Entries: []gitobj.TreeEntry{entry}}
	fs, _ := buildHistory(t, store, []*gitobj.TreeObj{tree}, []string{"alice"})

	n, err := fs.Stat(1, "/a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	sum1, err := n.MD5()
	if err != nil {
		t.Fatalf("MD5: %v", err)
	}
	sum2, err := n.MD5()
	if err != nil {
		t.Fatalf("MD5: %v", err)
	}
	if sum1 != sum2 {
		t.Errorf("MD5 not stable: %q vs %q", sum1, sum2)
	}
	if len(sum1) != 32 {
		t.Errorf("MD5 length: got %d, want 32", len(sum1))
	}
}
