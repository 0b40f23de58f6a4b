package vfs

import (
	"fmt"
	"strings"
	"time"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

// LogEntry is one revision returned by Log, in strictly increasing
// revision order.
type LogEntry struct {
	Rev          int
	Author       string
	Date         time.Time
	Message      string
	ChangedPaths []string
}

// Log streams LogEntry values for revisions in (fromR, toR] in strictly
// increasing revision order, restricted to revisions that touched at least
// one path in pathSet (an empty pathSet matches every revision). stopOnCopy
// is accepted for interface fidelity but has no effect: this implementation
// does not carry copy provenance, so every revision that touches a tracked
// path is reported regardless of whether it originated as a copy.
func (fs *FS) Log(pathSet []string, fromR, toR int, includeChangedPaths, stopOnCopy bool, limit int) ([]LogEntry, error) {
	_ = stopOnCopy
	if fromR < 0 {
		fromR = 0
	}
	if toR < fromR {
		toR = fromR
	}

	var out []LogEntry
	for r := fromR + 1; r <= toR; r++ {
		touched, err := fs.revisionTouchesAny(r, pathSet)
		if err != nil {
			return nil, fmt.Errorf("vfs: log: revision %d: %w", r, err)
		}
		if !touched {
			continue
		}

		commitHash, ok := fs.revs.CommitForRev(r)
		if !ok {
			return nil, fmt.Errorf("vfs: log: no commit for revision %d", r)
		}
		commit, err := gitobj.ReadCommit(fs.store, commitHash)
		if err != nil {
			return nil, fmt.Errorf("vfs: log: read commit for revision %d: %w", r, err)
		}

		entry := LogEntry{
			Rev:     r,
			Author:  commit.Author,
			Date:    time.Unix(commit.Timestamp, 0).UTC(),
			Message: commit.Message,
		}
		if includeChangedPaths {
			paths, err := fs.changedPaths(r, pathSet)
			if err != nil {
				return nil, fmt.Errorf("vfs: log: changed paths at revision %d: %w", r, err)
			}
			entry.ChangedPaths = paths
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// revisionTouchesAny reports whether revision r changed any path under
// pathSet (an empty pathSet always reports true, meaning "the whole tree").
func (fs *FS) revisionTouchesAny(r int, pathSet []string) (bool, error) {
	if len(pathSet) == 0 {
		return true, nil
	}
	for _, p := range pathSet {
		curID, err := fs.entryIdentity(r, p)
		if err != nil {
			return false, err
		}
		prevID, err := fs.entryIdentity(r-1, p)
		if err != nil {
			return false, err
		}
		if curID != prevID {
			return true, nil
		}
	}
	return false, nil
}

// changedPaths lists files under pathSet whose identity changed between
// r-1 and r. Directories in pathSet are expanded to their flattened file
// entries at revision r.
func (fs *FS) changedPaths(r int, pathSet []string) ([]string, error) {
	roots := pathSet
	if len(roots) == 0 {
		roots = []string{"/"}
	}

	var changed []string
	seen := make(map[string]bool)
	for _, root := range roots {
		files, err := fs.flattenUnder(r, root)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if seen[f] {
				continue
			}
			curID, err := fs.entryIdentity(r, f)
			if err != nil {
				return nil, err
			}
			prevID, err := fs.entryIdentity(r-1, f)
			if err != nil {
				return nil, err
			}
			if curID != prevID {
				changed = append(changed, f)
				seen[f] = true
			}
		}
	}
	return changed, nil
}

func (fs *FS) flattenUnder(r int, p string) ([]string, error) {
	root, err := fs.rootTree(r)
	if err != nil {
		return nil, err
	}
	entry, ok, err := entryAtPath(fs.store, root, strings.Trim(p, "/"))
	if err != nil || !ok {
		return nil, err
	}
	if !entry.IsDir {
		return []string{strings.TrimRight(p, "/")}, nil
	}
	files, err := flattenTree(fs.store, entry.SubtreeHash, strings.Trim(p, "/"))
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = "/" + f.Path
	}
	return paths, nil
}

// History streams (revision, path) pairs for path, in strictly increasing
// revision order, for every revision that changed it. Without copy
// provenance tracked elsewhere, the path component never changes across
// entries.
func (fs *FS) History(path string, rev int) ([]LogEntry, error) {
	return fs.Log([]string{path}, 0, rev, false, false, 0)
}
