package commitbuilder

import (
	"fmt"

	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/textmerge"
	"github.com/svnbridge/svnbridged/internal/vfs"
)

// rebaseTree reconciles a staged tree, built on top of oldParent, against
// newTip (the commit that won the CAS race), three-way merging at file
// granularity around their common merge base. Paths where both sides
// changed the same content incompatibly are returned as conflicts and the
// caller must give up rather than commit a merged result.
func rebaseTree(b *Builder, oldParent, newTip, stagedTree gitobj.Hash) (gitobj.Hash, []string, error) {
	var baseTree gitobj.Hash
	if oldParent != "" {
		mergeBase, found, err := findMergeBase(b.store, b.mergeState, oldParent, newTip)
		if err != nil {
			return "", nil, fmt.Errorf("commitbuilder: find merge base: %w", err)
		}
		if found {
			baseCommit, err := gitobj.ReadCommit(b.store, mergeBase)
			if err != nil {
				return "", nil, fmt.Errorf("commitbuilder: read merge base commit: %w", err)
			}
			baseTree = baseCommit.TreeHash
		}
	}

	theirsCommit, err := gitobj.ReadCommit(b.store, newTip)
	if err != nil {
		return "", nil, fmt.Errorf("commitbuilder: read new tip commit: %w", err)
	}

	baseMap, err := flattenToMap(b.store, baseTree)
	if err != nil {
		return "", nil, err
	}
	oursMap, err := flattenToMap(b.store, stagedTree)
	if err != nil {
		return "", nil, err
	}
	theirsMap, err := flattenToMap(b.store, theirsCommit.TreeHash)
	if err != nil {
		return "", nil, err
	}

	paths := make(map[string]struct{})
	for p := range baseMap {
		paths[p] = struct{}{}
	}
	for p := range oursMap {
		paths[p] = struct{}{}
	}
	for p := range theirsMap {
		paths[p] = struct{}{}
	}

	result := make(map[string]*stagedEntry)
	var conflicts []string

	for path := range paths {
		baseEntry, inBase := baseMap[path]
		oursEntry, inOurs := oursMap[path]
		theirsEntry, inTheirs := theirsMap[path]

		oursSame := inBase == inOurs && (!inBase || baseEntry.BlobHash == oursEntry.BlobHash)
		theirsSame := inBase == inTheirs && (!inBase || baseEntry.BlobHash == theirsEntry.BlobHash)

		switch {
		case theirsSame:
			if inOurs {
				result[path] = &stagedEntry{blobHash: oursEntry.BlobHash, mode: oursEntry.Mode}
			}
		case oursSame:
			if inTheirs {
				result[path] = &stagedEntry{blobHash: theirsEntry.BlobHash, mode: theirsEntry.Mode}
			}
		case inOurs && inTheirs && oursEntry.BlobHash == theirsEntry.BlobHash:
			result[path] = &stagedEntry{blobHash: oursEntry.BlobHash, mode: oursEntry.Mode}
		case !inOurs && !inTheirs:
			// Both sides deleted it.
		case inOurs && inTheirs:
			merged, conflict, err := mergeFileContent(b.store, baseEntry, inBase, oursEntry, theirsEntry)
			if err != nil {
				return "", nil, err
			}
			if conflict {
				conflicts = append(conflicts, path)
				continue
			}
			result[path] = merged
		default:
			// One side deleted the path while the other modified it.
			conflicts = append(conflicts, path)
		}
	}

	if len(conflicts) > 0 {
		return "", conflicts, nil
	}

	newTreeHash, err := buildTree(b.store, result)
	if err != nil {
		return "", nil, err
	}
	return newTreeHash, nil, nil
}

func mergeFileContent(store gitobj.ObjectStore, baseEntry vfs.FileEntry, inBase bool, oursEntry, theirsEntry vfs.FileEntry) (*stagedEntry, bool, error) {
	var baseContent []byte
	if inBase {
		blob, err := gitobj.ReadBlob(store, baseEntry.BlobHash)
		if err != nil {
			return nil, false, fmt.Errorf("commitbuilder: read base blob: %w", err)
		}
		baseContent = blob.Data
	}
	oursBlob, err := gitobj.ReadBlob(store, oursEntry.BlobHash)
	if err != nil {
		return nil, false, fmt.Errorf("commitbuilder: read ours blob: %w", err)
	}
	theirsBlob, err := gitobj.ReadBlob(store, theirsEntry.BlobHash)
	if err != nil {
		return nil, false, fmt.Errorf("commitbuilder: read theirs blob: %w", err)
	}

	result := textmerge.Merge(baseContent, oursBlob.Data, theirsBlob.Data)
	if result.HasConflicts {
		return nil, true, nil
	}
	blobHash, err := gitobj.WriteBlob(store, &gitobj.Blob{Data: result.Merged})
	if err != nil {
		return nil, false, fmt.Errorf("commitbuilder: write merged blob: %w", err)
	}
	return &stagedEntry{blobHash: blobHash, mode: oursEntry.Mode}, false, nil
}

func flattenToMap(store gitobj.ObjectStore, root gitobj.Hash) (map[string]vfs.FileEntry, error) {
	files, err := vfs.FlattenTree(store, root)
	if err != nil {
		return nil, fmt.Errorf("commitbuilder: flatten tree %s: %w", root, err)
	}
	m := make(map[string]vfs.FileEntry, len(files))
	for _, f := range files {
		m[f.Path] = f
	}
	return m, nil
}
