package vfs

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/propsynth"
	"github.com/svnbridge/svnbridged/internal/revindex"
)

// Kind classifies the result of resolving (revision, path).
type Kind int

const (
	KindAbsent Kind = iota
	KindFile
	KindDir
)

// FilterChain transforms blob bytes between the stored representation and
// the client-visible one. internal/filterchain.Chain is the production
// implementation (identity/gzip/lfs-pointer); tests may supply a simpler
// fake satisfying the same interface.
type FilterChain interface {
	Decode(filterName string, stored []byte) ([]byte, error)
	Encode(filterName string, visible []byte) ([]byte, error)
}

// DirectoryEntry describes one child returned by List.
type DirectoryEntry struct {
	Name             string
	Kind             Kind
	LastChangeRev    int
	LastChangeAuthor string
	LastChangeDate   time.Time
}

// FS is the read-only, path-oriented view over a revision-indexed Git
// object store. All operations are pure with respect to the revision
// passed in: once a revision is assigned, nothing it resolves to changes.
type FS struct {
	store   gitobj.ObjectStore
	revs    *revindex.Index
	filters FilterChain

	mu         sync.Mutex
	synthCache map[int]*propsynth.Synthesizer
	md5Cache   sync.Map
}

// New builds an FS over store, using revs to map revisions to commits and
// filters to transform stored bytes into client-visible ones. filters must
// not be nil: a caller with no real filter chain should pass
// filterchain.New(store) rather than rely on a silent pass-through, since a
// missing gzip/lfs-pointer filter is a configuration bug, not something to
// paper over with identity behavior.
func New(store gitobj.ObjectStore, revs *revindex.Index, filters FilterChain) *FS {
	if filters == nil {
		panic("vfs.New: filters must not be nil; pass filterchain.New(store)")
	}
	return &FS{
		store:      store,
		revs:       revs,
		filters:    filters,
		synthCache: make(map[int]*propsynth.Synthesizer),
	}
}

// rootTree resolves a revision number to its commit's tree hash. Revision 0
// is the empty root and resolves to the empty hash.
func (fs *FS) rootTree(rev int) (gitobj.Hash, error) {
	if rev <= 0 {
		return "", nil
	}
	commitHash, ok := fs.revs.CommitForRev(rev)
	if !ok {
		return "", fmt.Errorf("vfs: unknown revision %d", rev)
	}
	commit, err := gitobj.ReadCommit(fs.store, commitHash)
	if err != nil {
		return "", fmt.Errorf("vfs: read commit for revision %d: %w", rev, err)
	}
	return commit.TreeHash, nil
}

func (fs *FS) synthesizerForRoot(rev int, root gitobj.Hash) *propsynth.Synthesizer {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if s, ok := fs.synthCache[rev]; ok {
		return s
	}
	s := propsynth.New(gitTreeReader{store: fs.store, root: root})
	fs.synthCache[rev] = s
	return s
}

// Node is the resolution of (revision, path): either absent, a directory,
// or a file with its stored blob and inherited filter chain.
type Node struct {
	fs         *FS
	rev        int
	path       string
	Kind       Kind
	BlobHash   gitobj.Hash
	filterName string
}

// Stat resolves (rev, path).
func (fs *FS) Stat(rev int, p string) (*Node, error) {
	root, err := fs.rootTree(rev)
	if err != nil {
		return nil, err
	}
	rel := strings.Trim(p, "/")
	entry, ok, err := entryAtPath(fs.store, root, rel)
	if err != nil {
		return nil, fmt.Errorf("vfs: stat %q at rev %d: %w", p, rev, err)
	}
	if !ok {
		return &Node{fs: fs, rev: rev, path: p, Kind: KindAbsent}, nil
	}
	n := &Node{fs: fs, rev: rev, path: p}
	if entry.IsDir {
		n.Kind = KindDir
		return n, nil
	}
	n.Kind = KindFile
	n.BlobHash = entry.BlobHash
	filterName, err := fs.synthesizerForRoot(rev, root).FilterName(p)
	if err != nil {
		return nil, err
	}
	n.filterName = filterName
	return n, nil
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Kind == KindDir }

// Open returns the client-visible (post-filter) content of a file node.
func (n *Node) Open() ([]byte, error) {
	if n.Kind != KindFile {
		return nil, fmt.Errorf("vfs: open %q: not a file", n.path)
	}
	blob, err := gitobj.ReadBlob(n.fs.store, n.BlobHash)
	if err != nil {
		return nil, fmt.Errorf("vfs: open %q: %w", n.path, err)
	}
	return n.fs.filters.Decode(n.filterName, blob.Data)
}

// Size returns the effective (post-filter) size of a file node.
func (n *Node) Size() (int, error) {
	data, err := n.Open()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// MD5 returns the hex MD5 of the post-filter content, cached by
// (blobHash, filterChain) as the data model requires.
func (n *Node) MD5() (string, error) {
	if n.Kind != KindFile {
		return "", fmt.Errorf("vfs: md5 %q: not a file", n.path)
	}
	key := string(n.BlobHash) + "\x00" + n.filterName
	if v, ok := n.fs.md5Cache.Load(key); ok {
		return v.(string), nil
	}
	data, err := n.Open()
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	hexSum := hex.EncodeToString(sum[:])
	n.fs.md5Cache.Store(key, hexSum)
	return hexSum, nil
}

// Properties returns the synthesized property map for the node. Internal
// properties (never sent on the wire) are omitted unless includeInternal.
func (n *Node) Properties(includeInternal bool) (map[string]string, error) {
	root, err := n.fs.rootTree(n.rev)
	if err != nil {
		return nil, err
	}
	synth := n.fs.synthesizerForRoot(n.rev, root)

	var props map[string]string
	if n.Kind == KindDir {
		props, err = synth.DirProperties(n.path)
	} else {
		props, err = synth.FileProperties(n.path)
	}
	if err != nil {
		return nil, err
	}
	if includeInternal {
		return props, nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		if strings.HasPrefix(k, "svnbridge:") {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// List returns the sorted directory entries of path at rev, each annotated
// with the revision, author, and date of its last change.
func (fs *FS) List(rev int, p string) ([]DirectoryEntry, error) {
	root, err := fs.rootTree(rev)
	if err != nil {
		return nil, err
	}
	children, err := listEntries(fs.store, root, strings.Trim(p, "/"))
	if err != nil {
		return nil, fmt.Errorf("vfs: list %q at rev %d: %w", p, rev, err)
	}

	entries := make([]DirectoryEntry, 0, len(children))
	for _, c := range children {
		childPath := strings.TrimRight(p, "/") + "/" + c.Name
		changeRev, author, date, err := fs.lastChange(rev, childPath)
		if err != nil {
			return nil, fmt.Errorf("vfs: list %q: last change of %q: %w", p, childPath, err)
		}
		kind := KindFile
		if c.IsDir {
			kind = KindDir
		}
		entries = append(entries, DirectoryEntry{
			Name:             c.Name,
			Kind:             kind,
			LastChangeRev:    changeRev,
			LastChangeAuthor: author,
			LastChangeDate:   date,
		})
	}
	return entries, nil
}

// Read returns the client-visible content of the file at (rev, path).
func (fs *FS) Read(rev int, p string) ([]byte, error) {
	n, err := fs.Stat(rev, p)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindFile {
		return nil, fmt.Errorf("vfs: read %q at rev %d: not a file", p, rev)
	}
	return n.Open()
}

// Properties resolves (rev, path) and returns its property map.
func (fs *FS) Properties(rev int, p string, includeInternal bool) (map[string]string, error) {
	n, err := fs.Stat(rev, p)
	if err != nil {
		return nil, err
	}
	if n.Kind == KindAbsent {
		return nil, fmt.Errorf("vfs: properties %q at rev %d: no such path", p, rev)
	}
	return n.Properties(includeInternal)
}

// entryIdentity returns a stable string identifying what occupies path at
// rev (its blob or subtree hash plus kind), or "" if path is absent. Two
// revisions produce the same identity for path exactly when nothing about
// that path changed between them.
func (fs *FS) entryIdentity(rev int, p string) (string, error) {
	root, err := fs.rootTree(rev)
	if err != nil {
		return "", err
	}
	entry, ok, err := entryAtPath(fs.store, root, strings.Trim(p, "/"))
	if err != nil {
		return "", fmt.Errorf("vfs: resolve %q at rev %d: %w", p, rev, err)
	}
	if !ok {
		return "", nil
	}
	if entry.IsDir {
		return "dir:" + string(entry.SubtreeHash), nil
	}
	return "file:" + string(entry.BlobHash) + ":" + entry.Mode, nil
}

// lastChange finds the most recent revision at or before rev where path's
// content changed, by walking revisions backward and comparing identities.
// This is a linear scan over rev's ancestry; callers hold it behind
// synthesizer-style memoization where the access pattern warrants it.
func (fs *FS) lastChange(rev int, p string) (int, string, time.Time, error) {
	for r := rev; r >= 1; r-- {
		curID, err := fs.entryIdentity(r, p)
		if err != nil {
			return 0, "", time.Time{}, err
		}
		prevID, err := fs.entryIdentity(r-1, p)
		if err != nil {
			return 0, "", time.Time{}, err
		}
		if curID != prevID {
			commitHash, ok := fs.revs.CommitForRev(r)
			if !ok {
				return 0, "", time.Time{}, fmt.Errorf("vfs: no commit for revision %d", r)
			}
			commit, err := gitobj.ReadCommit(fs.store, commitHash)
			if err != nil {
				return 0, "", time.Time{}, fmt.Errorf("vfs: read commit for revision %d: %w", r, err)
			}
			return r, commit.Author, time.Unix(commit.Timestamp, 0).UTC(), nil
		}
	}
	return 0, "", time.Time{}, nil
}
