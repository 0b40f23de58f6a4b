package revindex

import (
	"path/filepath"
	"testing"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

func chainCommits(t *testing.T, store gitobj.ObjectStore, n int) []gitobj.Hash {
	t.Helper()
	treeHash, err := gitobj.WriteTree(store, &gitobj.TreeObj{})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	var hashes []gitobj.Hash
	var parent gitobj.Hash
	for i := 0; i < n; i++ {
		c := &gitobj.CommitObj{
			TreeHash:  treeHash,
			Author:    "Author",
			Timestamp: int64(1700000000 + i),
			Message:   "commit\n",
		}
		if parent != "" {
			c.Parents = []gitobj.Hash{parent}
		}
		h, err := gitobj.WriteCommit(store, c)
		if err != nil {
			t.Fatalf("WriteCommit %d: %v", i, err)
		}
		hashes = append(hashes, h)
		parent = h
	}
	return hashes
}

func TestIndexObserveAssignsRevisionsOldestFirst(t *testing.T) {
	store := gitobj.NewMemStore()
	commits := chainCommits(t, store, 3)

	idx, err := Open(filepath.Join(t.TempDir(), "svnbridge"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	assigned, err := idx.Observe(store, commits[2])
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(assigned) != 3 {
		t.Fatalf("assigned: got %d, want 3", len(assigned))
	}
	for i, rev := range assigned {
		if rev != i+1 {
			t.Errorf("assigned[%d]: got %d, want %d", i, rev, i+1)
		}
		h, ok := idx.CommitForRev(rev)
		if !ok || h != commits[i] {
			t.Errorf("CommitForRev(%d): got %s ok=%v, want %s", rev, h, ok, commits[i])
		}
	}
	if idx.HeadRevision() != 3 {
		t.Errorf("HeadRevision: got %d, want 3", idx.HeadRevision())
	}
}

func TestIndexObserveIsIdempotent(t *testing.T) {
	store := gitobj.NewMemStore()
	commits := chainCommits(t, store, 2)

	idx, err := Open(filepath.Join(t.TempDir(), "svnbridge"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := idx.Observe(store, commits[1]); err != nil {
		t.Fatalf("Observe 1: %v", err)
	}
	assigned, err := idx.Observe(store, commits[1])
	if err != nil {
		t.Fatalf("Observe 2: %v", err)
	}
	if len(assigned) != 0 {
		t.Errorf("second observe should assign nothing, got %+v", assigned)
	}
}

func TestIndexObserveIncremental(t *testing.T) {
	store := gitobj.NewMemStore()
	commits := chainCommits(t, store, 4)

	idx, err := Open(filepath.Join(t.TempDir(), "svnbridge"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := idx.Observe(store, commits[1]); err != nil {
		t.Fatalf("Observe first two: %v", err)
	}
	if idx.HeadRevision() != 2 {
		t.Fatalf("HeadRevision after first observe: got %d, want 2", idx.HeadRevision())
	}

	assigned, err := idx.Observe(store, commits[3])
	if err != nil {
		t.Fatalf("Observe rest: %v", err)
	}
	if len(assigned) != 2 {
		t.Fatalf("assigned: got %d, want 2", len(assigned))
	}
	if assigned[0] != 3 || assigned[1] != 4 {
		t.Errorf("assigned: got %+v, want [3 4]", assigned)
	}
}

func TestIndexRevForCommit(t *testing.T) {
	store := gitobj.NewMemStore()
	commits := chainCommits(t, store, 1)

	idx, err := Open(filepath.Join(t.TempDir(), "svnbridge"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := idx.Observe(store, commits[0]); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	rev, ok := idx.RevForCommit(commits[0])
	if !ok || rev != 1 {
		t.Errorf("RevForCommit: got %d ok=%v, want 1", rev, ok)
	}
	if _, ok := idx.RevForCommit(gitobj.Hash("deadbeef")); ok {
		t.Error("RevForCommit should report false for unknown commit")
	}
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	store := gitobj.NewMemStore()
	commits := chainCommits(t, store, 3)
	metaDir := filepath.Join(t.TempDir(), "svnbridge")

	idx, err := Open(metaDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := idx.Observe(store, commits[2]); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	reopened, err := Open(metaDir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.HeadRevision() != 3 {
		t.Errorf("HeadRevision after reopen: got %d, want 3", reopened.HeadRevision())
	}
	h, ok := reopened.CommitForRev(2)
	if !ok || h != commits[1] {
		t.Errorf("CommitForRev(2) after reopen: got %s ok=%v, want %s", h, ok, commits[1])
	}
}

func TestIndexCommitForRevOutOfRange(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "svnbridge"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := idx.CommitForRev(0); ok {
		t.Error("CommitForRev(0) should report false")
	}
	if _, ok := idx.CommitForRev(1); ok {
		t.Error("CommitForRev(1) on empty index should report false")
	}
}
