package gitobj

import (
	"bytes"
	"testing"
)

func TestDiskStoreGCPacksLooseObjects(t *testing.T) {
	s := NewDiskStore(t.TempDir())

	hashes := make([]Hash, 0, 3)
	for _, content := range []string{"one", "two", "three"} {
		h, err := s.Write(TypeBlob, []byte(content))
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		hashes = append(hashes, h)
	}

	summary, err := s.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if summary.PackedObjects != 3 {
		t.Errorf("PackedObjects: got %d, want 3", summary.PackedObjects)
	}

	for i, h := range hashes {
		objType, data, err := s.Read(h)
		if err != nil {
			t.Fatalf("Read %s after GC: %v", h, err)
		}
		if objType != TypeBlob {
			t.Errorf("Read %s: type got %q, want blob", h, objType)
		}
		want := []string{"one", "two", "three"}[i]
		if string(data) != want {
			t.Errorf("Read %s: data got %q, want %q", h, data, want)
		}
	}
}

func TestDiskStoreGCIsIdempotent(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	if _, err := s.Write(TypeBlob, []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.GC(); err != nil {
		t.Fatalf("GC 1: %v", err)
	}
	summary, err := s.GC()
	if err != nil {
		t.Fatalf("GC 2: %v", err)
	}
	if summary.PackedObjects != 0 {
		t.Errorf("second GC should pack nothing new, got %d", summary.PackedObjects)
	}
}

func TestDiskStoreGCEmptyRepo(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	summary, err := s.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if summary.PackedObjects != 0 || summary.PackFile != "" {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestDiskStoreVerifyAfterGC(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	for _, content := range []string{"a", "b", "c"} {
		if _, err := s.Write(TypeBlob, []byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if _, err := s.GC(); err != nil {
		t.Fatalf("GC: %v", err)
	}

	report, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.LooseObjects != 3 {
		t.Errorf("LooseObjects: got %d, want 3", report.LooseObjects)
	}
	if report.PackFiles != 1 || report.PackObjects != 3 {
		t.Errorf("pack counts: got files=%d objects=%d, want files=1 objects=3", report.PackFiles, report.PackObjects)
	}
}

func TestReachableSetFollowsCommitTreeBlob(t *testing.T) {
	s := NewMemStore()

	blobHash, err := WriteBlob(s, &Blob{Data: []byte("contents")})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	treeHash, err := WriteTree(s, &TreeObj{Entries: []TreeEntry{
		{Name: "file.txt", BlobHash: blobHash},
	}})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	commitHash, err := WriteCommit(s, &CommitObj{
		TreeHash:  treeHash,
		Author:    "Author",
		Timestamp: 1700000000,
		Message:   "first\n",
	})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}

	orphanBlob, err := WriteBlob(s, &Blob{Data: []byte("unreferenced")})
	if err != nil {
		t.Fatalf("WriteBlob orphan: %v", err)
	}

	reachable, err := ReachableSet(s, []Hash{commitHash})
	if err != nil {
		t.Fatalf("ReachableSet: %v", err)
	}

	for _, want := range []Hash{commitHash, treeHash, blobHash} {
		if _, ok := reachable[want]; !ok {
			t.Errorf("expected %s reachable", want)
		}
	}
	if _, ok := reachable[orphanBlob]; ok {
		t.Error("orphan blob should not be reachable")
	}
}

func TestReachableSetIgnoresMissingRoots(t *testing.T) {
	s := NewMemStore()
	reachable, err := ReachableSet(s, []Hash{Hash("0000000000000000000000000000000000000000000000000000000000000000")})
	if err != nil {
		t.Fatalf("ReachableSet: %v", err)
	}
	if len(reachable) != 0 {
		t.Errorf("expected empty reachable set, got %d entries", len(reachable))
	}
}

func TestDiskStoreWriteIsAtomic(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	data := bytes.Repeat([]byte("x"), 4096)
	h, err := s.Write(TypeBlob, data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read data did not match written data")
	}
}
