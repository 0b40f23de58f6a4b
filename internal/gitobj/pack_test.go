package gitobj

import (
	"bytes"
	"testing"
)

func TestPackHeaderRoundTrip(t *testing.T) {
	h := PackHeader{Version: supportedPackVersion, NumObjects: 3}
	data := h.Marshal()
	got, err := UnmarshalPackHeader(data)
	if err != nil {
		t.Fatalf("UnmarshalPackHeader: %v", err)
	}
	if got.Version != h.Version || got.NumObjects != h.NumObjects {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestUnmarshalPackHeaderBadMagic(t *testing.T) {
	data := []byte("XXXX\x00\x00\x00\x02\x00\x00\x00\x01")
	if _, err := UnmarshalPackHeader(data); err == nil {
		t.Error("expected error for bad pack magic")
	}
}

func TestPackEntryHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		objType PackObjectType
		size    uint64
	}{
		{PackBlob, 0},
		{PackTree, 15},
		{PackCommit, 16},
		{PackTag, 1 << 20},
	}
	for _, c := range cases {
		header := encodePackEntryHeader(c.objType, c.size)
		gotType, gotSize, consumed := decodePackEntryHeader(header)
		if gotType != c.objType || gotSize != c.size || consumed != len(header) {
			t.Errorf("objType=%d size=%d: got type=%d size=%d consumed=%d, header=%v",
				c.objType, c.size, gotType, gotSize, consumed, header)
		}
	}
}

func TestPackWriterReaderRoundTrip(t *testing.T) {
	objects := []struct {
		objType PackObjectType
		data    []byte
	}{
		{PackBlob, []byte("first object")},
		{PackTree, []byte("40000 dir - 1111111111111111111111111111111111111111111111111111111111111111\n")},
		{PackCommit, []byte("tree 1111111111111111111111111111111111111111111111111111111111111111\n\ninit\n")},
	}

	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, uint32(len(objects)))
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	for _, obj := range objects {
		if err := pw.WriteEntry(obj.objType, obj.data); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}
	checksum, err := pw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(checksum) != 64 {
		t.Errorf("checksum length: got %d, want 64", len(checksum))
	}

	pf, err := ReadPack(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadPack: %v", err)
	}
	if pf.Checksum != checksum {
		t.Errorf("checksum mismatch: got %q, want %q", pf.Checksum, checksum)
	}
	if len(pf.Entries) != len(objects) {
		t.Fatalf("entries: got %d, want %d", len(pf.Entries), len(objects))
	}
	for i, obj := range objects {
		if pf.Entries[i].Type != obj.objType {
			t.Errorf("entry %d type: got %d, want %d", i, pf.Entries[i].Type, obj.objType)
		}
		if !bytes.Equal(pf.Entries[i].Data, obj.data) {
			t.Errorf("entry %d data: got %q, want %q", i, pf.Entries[i].Data, obj.data)
		}
	}
}

func TestReadPackRejectsCorruptChecksum(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("x")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if _, err := pw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] ^= 0xff
	if _, err := ReadPack(corrupt); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestDeltaVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16384, 1 << 40}
	for _, v := range values {
		encoded := encodeDeltaVarint(v)
		got, err := decodeDeltaVarint(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("decodeDeltaVarint(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("value %d: got %d", v, got)
		}
	}
}

func TestInsertOnlyDeltaApply(t *testing.T) {
	base := []byte("base content here")
	target := []byte("completely different target content, longer than 127 bytes to exercise chunking across the insert-only delta encoder boundary condition.")

	delta := buildInsertOnlyDelta(base, target)
	got, err := applyDelta(base, delta)
	if err != nil {
		t.Fatalf("applyDelta: %v", err)
	}
	if !bytes.Equal(got, target) {
		t.Errorf("applyDelta mismatch: got %q, want %q", got, target)
	}
}

func TestOfsDeltaDistanceRoundTrip(t *testing.T) {
	distances := []uint64{0, 1, 127, 128, 16383, 1 << 30}
	for _, d := range distances {
		encoded := encodeOfsDeltaDistance(d)
		got, n, err := decodeOfsDeltaDistance(encoded)
		if err != nil {
			t.Fatalf("decodeOfsDeltaDistance(%d): %v", d, err)
		}
		if got != d || n != len(encoded) {
			t.Errorf("distance %d: got %d consumed=%d, want consumed=%d", d, got, n, len(encoded))
		}
	}
}
