// Package session implements the SVN connection lifecycle: greeting, auth
// negotiation, repository selection, and the command loop that dispatches
// to the revision index, versioned FS, commit builder, report/editor
// driver, and lock table. One goroutine serves one connection, matching
// the teacher corpus's plain-goroutine concurrency style.
package session

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/svnbridge/svnbridged/internal/commitbuilder"
	"github.com/svnbridge/svnbridged/internal/filterchain"
	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/locktable"
	"github.com/svnbridge/svnbridged/internal/revindex"
	"github.com/svnbridge/svnbridged/internal/vfs"
)

// Repository bundles the collaborators one tracked repository needs to
// serve reads and commits: a revision index over a single ref, the
// versioned FS view, the commit builder, and the advisory lock table.
type Repository struct {
	Name          string
	UUID          string
	Ref           string
	AnonymousRead bool

	Store   gitobj.ObjectStore
	Revs    *revindex.Index
	GitDir  *revindex.GitDir
	Filters *filterchain.Chain
	FS      *vfs.FS
	Builder *commitbuilder.Builder
	Locks   *locktable.Table

	mu sync.Mutex

	revPropsMu sync.Mutex
	revProps   map[int]map[string]string
}

// OpenRepository wires a Repository's collaborators together and brings
// its revision index up to date with the current tip of ref.
func OpenRepository(name string, store gitobj.ObjectStore, revs *revindex.Index, gitDir *revindex.GitDir, locks *locktable.Table, ref string, anonymousRead bool) (*Repository, error) {
	tip, err := gitDir.ResolveRef(ref)
	if err != nil {
		return nil, fmt.Errorf("session: resolve ref %s: %w", ref, err)
	}
	if _, err := revs.Observe(store, tip); err != nil {
		return nil, fmt.Errorf("session: observe %s: %w", ref, err)
	}

	filters := filterchain.New(store)
	fs := vfs.New(store, revs, filters)
	builder := commitbuilder.New(store, revs, gitDir, filters, locks, ref)

	return &Repository{
		Name:          name,
		UUID:          repositoryUUID(name),
		Ref:           ref,
		AnonymousRead: anonymousRead,
		Store:         store,
		Revs:          revs,
		GitDir:        gitDir,
		Filters:       filters,
		FS:            fs,
		Builder:       builder,
		Locks:         locks,
		revProps:      make(map[int]map[string]string),
	}, nil
}

// SetRevProp sets a revision property not derived from the commit itself
// (svn:log/svn:author/svn:date come from the commit and cannot be
// overridden this way). Revision properties are not persisted across
// restarts, matching the bridge's treatment of the Git commit as the
// authoritative record.
func (r *Repository) SetRevProp(rev int, name, value string) {
	r.revPropsMu.Lock()
	defer r.revPropsMu.Unlock()
	if r.revProps[rev] == nil {
		r.revProps[rev] = make(map[string]string)
	}
	r.revProps[rev][name] = value
}

// RevProps returns the full revision property map for rev: the commit's
// svn:log/svn:author/svn:date plus any custom properties set via
// SetRevProp.
func (r *Repository) RevProps(rev int) (map[string]string, error) {
	commitHash, ok := r.Revs.CommitForRev(rev)
	props := make(map[string]string)
	if ok {
		commit, err := gitobj.ReadCommit(r.Store, commitHash)
		if err != nil {
			return nil, fmt.Errorf("session: read commit for revision %d: %w", rev, err)
		}
		props["svn:log"] = commit.Message
		props["svn:author"] = commit.Author
		props["svn:date"] = formatSVNDate(commit.Timestamp)
	}
	r.revPropsMu.Lock()
	for k, v := range r.revProps[rev] {
		props[k] = v
	}
	r.revPropsMu.Unlock()
	return props, nil
}

// Sync re-observes the repository's ref, assigning revisions to any new
// commits landed by a concurrent committer (or by a direct `git push`
// bypassing the bridge entirely).
func (r *Repository) Sync() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tip, err := r.GitDir.ResolveRef(r.Ref)
	if err != nil {
		return 0, fmt.Errorf("session: resolve ref %s: %w", r.Ref, err)
	}
	if _, err := r.Revs.Observe(r.Store, tip); err != nil {
		return 0, fmt.Errorf("session: observe %s: %w", r.Ref, err)
	}
	return r.Revs.HeadRevision(), nil
}

// formatSVNDate renders a commit timestamp in the ISO-8601 form svn
// clients expect for svn:date.
func formatSVNDate(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format("2006-01-02T15:04:05.000000Z")
}

// repositoryUUID derives a stable, deterministic UUID-shaped string from a
// repository name, since svnbridge has no separate UUID store of its own:
// the UUID only needs to be stable across the life of the repository, not
// globally random.
func repositoryUUID(name string) string {
	sum := sha1.Sum([]byte("svnbridge-repository:" + name))
	hexSum := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexSum[0:8], hexSum[8:12], hexSum[12:16], hexSum[16:20], hexSum[20:32])
}
