package gitobj

import (
	"bytes"
	"testing"
)

func TestPackIndexRoundTrip(t *testing.T) {
	entries := []PackIndexEntry{
		{Hash: Hash("aaaa111111111111111111111111111111111111111111111111111111111111"), Offset: 12, CRC32: 0x1111},
		{Hash: Hash("0000222222222222222222222222222222222222222222222222222222222222"), Offset: 200, CRC32: 0x2222},
		{Hash: Hash("ffff333333333333333333333333333333333333333333333333333333333333"), Offset: 1 << 32, CRC32: 0x3333},
	}
	packChecksum := Hash("9999999999999999999999999999999999999999999999999999999999999999")

	var buf bytes.Buffer
	idxChecksum, err := WritePackIndex(&buf, entries, packChecksum)
	if err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}

	idx, err := ReadPackIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadPackIndex: %v", err)
	}
	if idx.PackChecksum != packChecksum {
		t.Errorf("PackChecksum: got %q, want %q", idx.PackChecksum, packChecksum)
	}
	if idx.IndexChecksum != idxChecksum {
		t.Errorf("IndexChecksum: got %q, want %q", idx.IndexChecksum, idxChecksum)
	}

	got := idx.Entries()
	if len(got) != len(entries) {
		t.Fatalf("entry count: got %d, want %d", len(got), len(entries))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Hash >= got[i].Hash {
			t.Errorf("entries not sorted at %d: %q >= %q", i, got[i-1].Hash, got[i].Hash)
		}
	}

	for _, e := range entries {
		found, ok := idx.Find(e.Hash)
		if !ok {
			t.Fatalf("Find(%q): not found", e.Hash)
		}
		if found.Offset != e.Offset || found.CRC32 != e.CRC32 {
			t.Errorf("Find(%q): got %+v, want offset=%d crc=%d", e.Hash, found, e.Offset, e.CRC32)
		}
	}
}

func TestPackIndexFindMissing(t *testing.T) {
	entries := []PackIndexEntry{
		{Hash: Hash("1111111111111111111111111111111111111111111111111111111111111111"), Offset: 1},
	}
	var buf bytes.Buffer
	if _, err := WritePackIndex(&buf, entries, Hash("2222222222222222222222222222222222222222222222222222222222222222")); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}
	idx, err := ReadPackIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadPackIndex: %v", err)
	}
	if _, ok := idx.Find(Hash("9999999999999999999999999999999999999999999999999999999999999999")); ok {
		t.Error("Find should report false for absent hash")
	}
}

func TestReadPackIndexRejectsBadMagic(t *testing.T) {
	if _, err := ReadPackIndex(make([]byte, 200)); err == nil {
		t.Error("expected error for bad pack index magic")
	}
}
