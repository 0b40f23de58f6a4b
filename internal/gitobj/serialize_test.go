package gitobj

import (
	"bytes"
	"testing"
)

func TestMarshalUnmarshalBlob(t *testing.T) {
	orig := &Blob{Data: []byte("hello world\nline two")}
	data := MarshalBlob(orig)
	got, err := UnmarshalBlob(data)
	if err != nil {
		t.Fatalf("UnmarshalBlob: %v", err)
	}
	if !bytes.Equal(got.Data, orig.Data) {
		t.Errorf("Blob round-trip mismatch: got %q, want %q", got.Data, orig.Data)
	}
}

func TestMarshalBlobDeterminism(t *testing.T) {
	b := &Blob{Data: []byte("deterministic")}
	d1 := MarshalBlob(b)
	d2 := MarshalBlob(b)
	if !bytes.Equal(d1, d2) {
		t.Error("Blob marshal not deterministic")
	}
}

func TestMarshalUnmarshalTree(t *testing.T) {
	orig := &TreeObj{
		Entries: []TreeEntry{
			{Name: "zeta.txt", IsDir: false, BlobHash: Hash("1111111111111111111111111111111111111111111111111111111111111111")},
			{Name: "alpha", IsDir: true, SubtreeHash: Hash("2222222222222222222222222222222222222222222222222222222222222222")},
			{Name: "script.sh", IsDir: false, Mode: TreeModeExecutable, BlobHash: Hash("3333333333333333333333333333333333333333333333333333333333333333")},
		},
	}
	data := MarshalTree(orig)
	got, err := UnmarshalTree(data)
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	if len(got.Entries) != 3 {
		t.Fatalf("Entries: got %d, want 3", len(got.Entries))
	}
	if got.Entries[0].Name != "alpha" || !got.Entries[0].IsDir {
		t.Errorf("Entries[0]: got %+v, want alpha dir first (sorted)", got.Entries[0])
	}
	if got.Entries[1].Mode != TreeModeExecutable {
		t.Errorf("Entries[1].Mode: got %q, want %q", got.Entries[1].Mode, TreeModeExecutable)
	}
}

func TestMarshalTreeSortsEntries(t *testing.T) {
	tr := &TreeObj{
		Entries: []TreeEntry{
			{Name: "b", BlobHash: Hash("1111111111111111111111111111111111111111111111111111111111111111")},
			{Name: "a", BlobHash: Hash("2222222222222222222222222222222222222222222222222222222222222222")},
		},
	}
	got, err := UnmarshalTree(MarshalTree(tr))
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	if got.Entries[0].Name != "a" || got.Entries[1].Name != "b" {
		t.Errorf("tree entries not sorted: %+v", got.Entries)
	}
}

func TestUnmarshalTreeEmpty(t *testing.T) {
	got, err := UnmarshalTree(nil)
	if err != nil {
		t.Fatalf("UnmarshalTree(nil): %v", err)
	}
	if len(got.Entries) != 0 {
		t.Errorf("expected no entries, got %d", len(got.Entries))
	}
}

func TestUnmarshalTreeMalformed(t *testing.T) {
	if _, err := UnmarshalTree([]byte("not a valid tree line")); err == nil {
		t.Error("expected error for malformed tree entry")
	}
}

func TestMarshalUnmarshalCommit(t *testing.T) {
	orig := &CommitObj{
		TreeHash:           Hash("1111111111111111111111111111111111111111111111111111111111111111"),
		Parents:            []Hash{Hash("2222222222222222222222222222222222222222222222222222222222222222")},
		Author:             "Ada Lovelace",
		Timestamp:          1700000000,
		AuthorTimezone:     "-0500",
		Committer:          "Ada Lovelace",
		CommitterTimestamp: 1700000005,
		CommitterTimezone:  "-0500",
		Message:            "add engine notes\n",
	}
	data := MarshalCommit(orig)
	got, err := UnmarshalCommit(data)
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if got.TreeHash != orig.TreeHash {
		t.Errorf("TreeHash: got %q, want %q", got.TreeHash, orig.TreeHash)
	}
	if len(got.Parents) != 1 || got.Parents[0] != orig.Parents[0] {
		t.Errorf("Parents: got %+v, want %+v", got.Parents, orig.Parents)
	}
	if got.Author != orig.Author || got.Timestamp != orig.Timestamp || got.AuthorTimezone != orig.AuthorTimezone {
		t.Errorf("author fields mismatch: got %q %d %q", got.Author, got.Timestamp, got.AuthorTimezone)
	}
	if got.Message != orig.Message {
		t.Errorf("Message: got %q, want %q", got.Message, orig.Message)
	}
}

func TestMarshalCommitNoParents(t *testing.T) {
	orig := &CommitObj{
		TreeHash:  Hash("1111111111111111111111111111111111111111111111111111111111111111"),
		Author:    "Root Author",
		Timestamp: 1600000000,
		Message:   "initial commit\n",
	}
	got, err := UnmarshalCommit(MarshalCommit(orig))
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if len(got.Parents) != 0 {
		t.Errorf("expected no parents, got %+v", got.Parents)
	}
	if got.Committer != orig.Author {
		t.Errorf("committer should default to author: got %q", got.Committer)
	}
	if got.CommitterTimestamp != orig.Timestamp {
		t.Errorf("committer timestamp should default to author timestamp: got %d", got.CommitterTimestamp)
	}
}

func TestMarshalUnmarshalTag(t *testing.T) {
	orig := &TagObj{
		TargetHash: Hash("1111111111111111111111111111111111111111111111111111111111111111"),
		Data:       []byte("release notes for v1.0\n"),
	}
	data := MarshalTag(orig)
	got, err := UnmarshalTag(data)
	if err != nil {
		t.Fatalf("UnmarshalTag: %v", err)
	}
	if got.TargetHash != orig.TargetHash {
		t.Errorf("TargetHash: got %q, want %q", got.TargetHash, orig.TargetHash)
	}
	if !bytes.Equal(got.Data, orig.Data) {
		t.Errorf("Data: got %q, want %q", got.Data, orig.Data)
	}
}

func TestUnmarshalTagMissingSeparator(t *testing.T) {
	if _, err := UnmarshalTag([]byte("object 1111")); err == nil {
		t.Error("expected error for missing header/body separator")
	}
}
