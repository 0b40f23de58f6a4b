package commitbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

// stagedEntry is one file in the flattened path -> content map a commit is
// built from.
type stagedEntry struct {
	blobHash gitobj.Hash
	mode     string
	deleted  bool
}

// buildTree converts a flat map of slash-separated paths to staged entries
// into a hierarchy of Git tree objects, writing every subtree to store and
// returning the root hash. A completely empty files map still produces a
// root tree object: only directories below the root are dropped when they
// end up holding no files.
func buildTree(store gitobj.ObjectStore, files map[string]*stagedEntry) (gitobj.Hash, error) {
	return buildTreeDir(store, files, "")
}

func buildTreeDir(store gitobj.ObjectStore, files map[string]*stagedEntry, prefix string) (gitobj.Hash, error) {
	children := make(map[string]*stagedEntry)
	subdirs := make(map[string]struct{})

	for p, entry := range files {
		var rel string
		if prefix == "" {
			rel = p
		} else {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}

		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			children[rel] = entry
		} else {
			subdirs[rel[:slash]] = struct{}{}
		}
	}

	names := make([]string, 0, len(children)+len(subdirs))
	for name := range children {
		names = append(names, name)
	}
	for name := range subdirs {
		if _, isFile := children[name]; !isFile {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var entries []gitobj.TreeEntry
	for _, name := range names {
		if entry, isFile := children[name]; isFile {
			entries = append(entries, gitobj.TreeEntry{
				Name:     name,
				IsDir:    false,
				Mode:     entry.mode,
				BlobHash: entry.blobHash,
			})
			continue
		}

		childPrefix := name
		if prefix != "" {
			childPrefix = prefix + "/" + name
		}
		subHash, err := buildTreeDir(store, files, childPrefix)
		if err != nil {
			return "", fmt.Errorf("commitbuilder: build tree %q: %w", childPrefix, err)
		}
		entries = append(entries, gitobj.TreeEntry{
			Name:        name,
			IsDir:       true,
			Mode:        gitobj.TreeModeDir,
			SubtreeHash: subHash,
		})
	}

	h, err := gitobj.WriteTree(store, &gitobj.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("commitbuilder: write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

// treeReaderAt adapts a fixed tree snapshot to propsynth.TreeReader, used to
// re-synthesize properties against the tree a commit is about to produce.
type treeReaderAt struct {
	store gitobj.ObjectStore
	root  gitobj.Hash
}

func (t treeReaderAt) ReadFile(dirPath, name string) ([]byte, bool, error) {
	rel := strings.TrimPrefix(dirPath, "/")
	full := name
	if rel != "" {
		full = rel + "/" + name
	}
	entry, ok, err := lookupPath(t.store, t.root, full)
	if err != nil || !ok || entry.IsDir {
		return nil, false, err
	}
	blob, err := gitobj.ReadBlob(t.store, entry.BlobHash)
	if err != nil {
		return nil, false, fmt.Errorf("commitbuilder: read blob at %q: %w", full, err)
	}
	return blob.Data, true, nil
}

// lookupPath resolves a slash-separated path (no leading slash) against
// root, returning its tree entry.
func lookupPath(store gitobj.ObjectStore, root gitobj.Hash, relPath string) (gitobj.TreeEntry, bool, error) {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return gitobj.TreeEntry{Name: "", IsDir: true, SubtreeHash: root}, true, nil
	}
	if root == "" {
		return gitobj.TreeEntry{}, false, nil
	}

	parts := strings.Split(relPath, "/")
	current := root
	for i, part := range parts {
		treeObj, err := gitobj.ReadTree(store, current)
		if err != nil {
			return gitobj.TreeEntry{}, false, fmt.Errorf("commitbuilder: read tree %s: %w", current, err)
		}
		var (
			entry gitobj.TreeEntry
			found bool
		)
		for _, te := range treeObj.Entries {
			if te.Name == part {
				entry = te
				found = true
				break
			}
		}
		if !found {
			return gitobj.TreeEntry{}, false, nil
		}
		if i == len(parts)-1 {
			return entry, true, nil
		}
		if !entry.IsDir || entry.SubtreeHash == "" {
			return gitobj.TreeEntry{}, false, nil
		}
		current = entry.SubtreeHash
	}
	return gitobj.TreeEntry{}, false, nil
}
