package filterchain

import (
	"bytes"
	"testing"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

func TestIdentityRoundTrip(t *testing.T) {
	c := New(gitobj.NewMemStore())
	content := []byte("CONTENT_FOO")
	stored, err := c.Encode("", content)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(stored, content) {
		t.Fatalf("identity filter changed bytes: %q", stored)
	}
	visible, err := c.Decode("", stored)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(visible, content) {
		t.Fatalf("round trip = %q, want %q", visible, content)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	c := New(gitobj.NewMemStore())
	content := []byte("CONTENT_FOO CONTENT_FOO CONTENT_FOO")

	stored, err := c.Encode("gzip", content)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Equal(stored, content) {
		t.Fatalf("gzip filter did not change bytes")
	}

	visible, err := c.Decode("gzip", stored)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(visible, content) {
		t.Fatalf("round trip = %q, want %q", visible, content)
	}
}

func TestLFSPointerRoundTrip(t *testing.T) {
	store := gitobj.NewMemStore()
	c := New(store)
	content := []byte("large binary payload that lives outside the tree")

	stored, err := c.Encode("lfs-pointer", content)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Equal(stored, content) {
		t.Fatalf("lfs-pointer filter did not rewrite bytes into a pointer")
	}
	oid, size, ok := ParsePointer(stored)
	if !ok || size != int64(len(content)) {
		t.Fatalf("ParsePointer = (%q, %d, %v)", oid, size, ok)
	}

	visible, err := c.Decode("lfs-pointer", stored)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(visible, content) {
		t.Fatalf("round trip = %q, want %q", visible, content)
	}
}

func TestUnknownFilterIsError(t *testing.T) {
	c := New(gitobj.NewMemStore())
	if _, err := c.Decode("rot13", []byte("x")); err == nil {
		t.Fatalf("expected error for unknown filter name")
	}
}
