// Package vfs unifies the revision index, filter chain, and property
// synthesizer behind a path-oriented read API: stat, list, read,
// properties, log, history, and blame, each resolved against a fixed
// revision snapshot.
package vfs

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

// entryAtPath resolves relPath (no leading slash, "" for the tree root)
// against rootTree, returning the tree entry and whether it was found.
func entryAtPath(store gitobj.ObjectStore, rootTree gitobj.Hash, relPath string) (gitobj.TreeEntry, bool, error) {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return gitobj.TreeEntry{Name: "", IsDir: true, SubtreeHash: rootTree}, true, nil
	}
	if rootTree == "" {
		// Revision 0's empty root has no entries.
		return gitobj.TreeEntry{}, false, nil
	}

	parts := strings.Split(relPath, "/")
	current := rootTree

	for i, part := range parts {
		treeObj, err := gitobj.ReadTree(store, current)
		if err != nil {
			return gitobj.TreeEntry{}, false, fmt.Errorf("vfs: read tree %s: %w", current, err)
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

		last := i == len(parts)-1
		if last {
			return entry, true, nil
		}
		if !entry.IsDir || entry.SubtreeHash == "" {
			return gitobj.TreeEntry{}, false, nil
		}
		current = entry.SubtreeHash
	}

	return gitobj.TreeEntry{}, false, nil
}

// listEntries returns the direct children of the directory at relPath,
// sorted lexicographically by name (tree entries are already stored sorted).
func listEntries(store gitobj.ObjectStore, rootTree gitobj.Hash, relPath string) ([]gitobj.TreeEntry, error) {
	entry, ok, err := entryAtPath(store, rootTree, relPath)
	if err != nil {
		return nil, err
	}
	if !ok || !entry.IsDir {
		return nil, nil
	}
	treeObj, err := gitobj.ReadTree(store, entry.SubtreeHash)
	if err != nil {
		return nil, fmt.Errorf("vfs: list %q: read tree %s: %w", relPath, entry.SubtreeHash, err)
	}
	entries := append([]gitobj.TreeEntry(nil), treeObj.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// flattenTree walks a tree recursively, returning every file entry with its
// full path using forward slashes.
func flattenTree(store gitobj.ObjectStore, h gitobj.Hash, prefix string) ([]FileEntry, error) {
	treeObj, err := gitobj.ReadTree(store, h)
	if err != nil {
		return nil, fmt.Errorf("vfs: flatten tree: read %s: %w", h, err)
	}

	var result []FileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}
		if entry.IsDir {
			sub, err := flattenTree(store, entry.SubtreeHash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
		} else {
			result = append(result, FileEntry{Path: fullPath, BlobHash: entry.BlobHash, Mode: entry.Mode})
		}
	}
	return result, nil
}

// FlattenTree returns every file in the tree rooted at root, with full
// slash paths relative to the tree root. Exported for callers, like the
// commit builder, that need the base tree's full file listing to rebuild
// it incrementally.
func FlattenTree(store gitobj.ObjectStore, root gitobj.Hash) ([]FileEntry, error) {
	if root == "" {
		return nil, nil
	}
	return flattenTree(store, root, "")
}

// FileEntry is one flattened file in a tree, with its full slash path.
type FileEntry struct {
	Path     string
	BlobHash gitobj.Hash
	Mode     string
}

// gitTreeReader adapts a fixed tree snapshot to propsynth.TreeReader.
type gitTreeReader struct {
	store gitobj.ObjectStore
	root  gitobj.Hash
}

func (g gitTreeReader) ReadFile(dirPath, name string) ([]byte, bool, error) {
	rel := strings.TrimPrefix(dirPath, "/")
	full := name
	if rel != "" {
		full = rel + "/" + name
	}
	entry, ok, err := entryAtPath(g.store, g.root, full)
	if err != nil || !ok || entry.IsDir {
		return nil, false, err
	}
	blob, err := gitobj.ReadBlob(g.store, entry.BlobHash)
	if err != nil {
		return nil, false, fmt.Errorf("vfs: read %s: %w", full, err)
	}
	return blob.Data, true, nil
}
