// Package filterchain provides the concrete content filters that transform
// stored Git blob bytes into client-visible bytes and back: identity, gzip,
// and lfs-pointer. internal/vfs and internal/commitbuilder consume it
// through the narrow Decode/Encode interface they each declare; this package
// is the implementation both wire up in production.
package filterchain

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

// Filter is a pure bijection between stored bytes and client-visible bytes.
type Filter interface {
	Name() string
	Decode(stored []byte) ([]byte, error)
	Encode(visible []byte) ([]byte, error)
}

// Chain dispatches to a named filter. Unlike a true ordered chain of
// transforms, the wire's filterName is singular per path (the synthesizer
// folds multiple .gitattributes filter= declarations down to one effective
// name per path), so Chain looks up a single registered Filter by name. The
// identity filter is always available and used whenever filterName is "".
type Chain struct {
	filters map[string]Filter
}

// New builds a Chain with the identity, gzip, and lfs-pointer filters
// registered. lfsStore backs the lfs-pointer filter's content resolution;
// it may be the same store that holds the repository's own Git objects,
// since pointer bodies are content-addressed the same way
// (internal/gitobj.WriteBlob/ReadBlob). Unknown filter names declared in
// .gitattributes are a configuration error surfaced at startup by the
// caller, not discovered lazily per request; Decode/Encode return an error
// for names not registered with the chain (the built-ins or extra).
func New(lfsStore gitobj.ObjectStore, extra ...Filter) *Chain {
	c := &Chain{filters: make(map[string]Filter)}
	c.register(identityFilter{})
	c.register(gzipFilter{})
	c.register(lfsPointerFilter{store: lfsStore})
	for _, f := range extra {
		c.register(f)
	}
	return c
}

func (c *Chain) register(f Filter) { c.filters[f.Name()] = f }

func (c *Chain) lookup(name string) (Filter, error) {
	if name == "" {
		return identityFilter{}, nil
	}
	f, ok := c.filters[name]
	if !ok {
		return nil, fmt.Errorf("filterchain: unknown filter %q", name)
	}
	return f, nil
}

// Decode applies filterName's decode transform: stored -> client-visible.
func (c *Chain) Decode(filterName string, stored []byte) ([]byte, error) {
	f, err := c.lookup(filterName)
	if err != nil {
		return nil, err
	}
	out, err := f.Decode(stored)
	if err != nil {
		return nil, fmt.Errorf("filterchain: decode via %q: %w", filterName, err)
	}
	return out, nil
}

// Encode applies filterName's encode transform: client-visible -> stored.
func (c *Chain) Encode(filterName string, visible []byte) ([]byte, error) {
	f, err := c.lookup(filterName)
	if err != nil {
		return nil, err
	}
	out, err := f.Encode(visible)
	if err != nil {
		return nil, fmt.Errorf("filterchain: encode via %q: %w", filterName, err)
	}
	return out, nil
}

type identityFilter struct{}

func (identityFilter) Name() string                      { return "" }
func (identityFilter) Decode(stored []byte) ([]byte, error)  { return stored, nil }
func (identityFilter) Encode(visible []byte) ([]byte, error) { return visible, nil }

// gzipFilter stores content gzip-compressed; the client always sees the
// decompressed bytes. Grounded on the teacher's pkg/remote/compress.go
// compression concern, carried from its zstd pack-transport use into this
// package's per-blob filter use with klauspost/compress's gzip package, as
// SPEC_FULL.md's domain stack calls for.
type gzipFilter struct{}

func (gzipFilter) Name() string { return "gzip" }

func (gzipFilter) Decode(stored []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (gzipFilter) Encode(visible []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(visible); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// lfsPointerFilter stores a Git LFS pointer text blob in place of large
// binary content; the original bytes are written into store, content
// addressed the same way internal/gitobj hashes any other blob, and Decode
// resolves the pointer back to them by oid.
type lfsPointerFilter struct {
	store gitobj.ObjectStore
}

func (lfsPointerFilter) Name() string { return "lfs-pointer" }

const lfsPointerVersion = "https://git-lfs.github.com/spec/v1"

// Encode writes visible as a blob into store and rewrites it into an LFS
// pointer text blob referencing that blob's hash as the oid.
func (f lfsPointerFilter) Encode(visible []byte) ([]byte, error) {
	if f.store == nil {
		return nil, fmt.Errorf("lfs-pointer filter: no object store configured")
	}
	hash, err := gitobj.WriteBlob(f.store, &gitobj.Blob{Data: visible})
	if err != nil {
		return nil, fmt.Errorf("lfs-pointer filter: write content blob: %w", err)
	}
	pointer := fmt.Sprintf("version %s\noid sha256:%s\nsize %d\n", lfsPointerVersion, hash, len(visible))
	return []byte(pointer), nil
}

// Decode parses the pointer text and resolves the oid back to the original
// bytes via store.
func (f lfsPointerFilter) Decode(stored []byte) ([]byte, error) {
	if f.store == nil {
		return nil, fmt.Errorf("lfs-pointer filter: no object store configured")
	}
	oid, _, ok := ParsePointer(stored)
	if !ok {
		return nil, fmt.Errorf("lfs-pointer filter: malformed pointer")
	}
	blob, err := gitobj.ReadBlob(f.store, gitobj.Hash(oid))
	if err != nil {
		return nil, fmt.Errorf("lfs-pointer filter: resolve oid %s: %w", oid, err)
	}
	return blob.Data, nil
}

// ParsePointer extracts the oid and size from an LFS pointer text blob, used
// by a PointerStore-aware caller to resolve the pointer to real content.
func ParsePointer(pointer []byte) (oid string, size int64, ok bool) {
	lines := strings.Split(string(pointer), "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "oid sha256:"):
			oid = strings.TrimPrefix(line, "oid sha256:")
		case strings.HasPrefix(line, "size "):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "size "), 10, 64)
			if err == nil {
				size = n
			}
		}
	}
	return oid, size, oid != "" && size >= 0
}
