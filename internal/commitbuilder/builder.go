package commitbuilder

import (
	"fmt"
	"time"

	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/propsynth"
	"github.com/svnbridge/svnbridged/internal/revindex"
	"github.com/svnbridge/svnbridged/internal/vfs"
)

// LockChecker validates a lock token presented against a path, used to
// enforce SVN's advisory locking during a commit.
type LockChecker interface {
	TokenValid(path, token string) bool
}

// Builder drives commits against a single branch ref, assigning them
// revisions through revs and resolving the CAS race against concurrent
// committers by rebasing the staged tree onto the new tip with a three-way
// merge, retrying up to MaxRebaseAttempts times before giving up.
type Builder struct {
	store   gitobj.ObjectStore
	fs      *vfs.FS
	revs    *revindex.Index
	gitDir  *revindex.GitDir
	filters vfs.FilterChain
	locks   LockChecker
	ref     string

	// MaxRebaseAttempts bounds how many times closeEdit retries a CAS
	// conflict by rebasing onto the new tip. Zero uses the default of 3.
	MaxRebaseAttempts int

	mergeState *mergeBaseTraversalState
}

// New builds a Builder that commits onto ref (e.g. "refs/heads/main").
// filters must not be nil; pass filterchain.New(store) for the real
// identity/gzip/lfs-pointer chain.
func New(store gitobj.ObjectStore, revs *revindex.Index, gitDir *revindex.GitDir, filters vfs.FilterChain, locks LockChecker, ref string) *Builder {
	if filters == nil {
		panic("commitbuilder.New: filters must not be nil; pass filterchain.New(store)")
	}
	return &Builder{
		store:      store,
		fs:         vfs.New(store, revs, filters),
		revs:       revs,
		gitDir:     gitDir,
		filters:    filters,
		locks:      locks,
		ref:        ref,
		mergeState: newMergeBaseTraversalState(),
	}
}

func (b *Builder) rootTreeAt(rev int) (gitobj.Hash, error) {
	if rev <= 0 {
		return "", nil
	}
	commitHash, ok := b.revs.CommitForRev(rev)
	if !ok {
		return "", fmt.Errorf("commitbuilder: unknown revision %d", rev)
	}
	commit, err := gitobj.ReadCommit(b.store, commitHash)
	if err != nil {
		return "", fmt.Errorf("commitbuilder: read commit for revision %d: %w", rev, err)
	}
	return commit.TreeHash, nil
}

// BeginCommit opens a new editor session against baseRev.
func (b *Builder) BeginCommit(baseRev int, message, author string, lockTokens map[string]string) *EditorSession {
	if lockTokens == nil {
		lockTokens = map[string]string{}
	}
	return &EditorSession{
		builder:      b,
		baseRev:      baseRev,
		message:      message,
		author:       author,
		lockTokens:   lockTokens,
		files:        make(map[string]*stagedEntry),
		touchedPaths: make(map[string]bool),
	}
}

// finishCommit assembles the session's staged tree, checks for property
// conflicts against the tree it is about to produce, and commits it onto
// the branch ref, rebasing onto the tip and retrying on a CAS race.
func (b *Builder) finishCommit(s *EditorSession) (int, gitobj.Hash, error) {
	baseRoot, err := b.rootTreeAt(s.baseRev)
	if err != nil {
		return 0, "", err
	}
	baseCommit, _ := b.revs.CommitForRev(s.baseRev)

	files, err := mergedFiles(b.store, baseRoot, s.files)
	if err != nil {
		return 0, "", err
	}

	treeHash, err := buildTree(b.store, files)
	if err != nil {
		return 0, "", err
	}

	if err := checkPropertyConflicts(b.store, treeHash, s.explicitProps); err != nil {
		return 0, "", err
	}

	attempts := b.MaxRebaseAttempts
	if attempts <= 0 {
		attempts = 3
	}

	currentTree := treeHash
	currentParent := baseCommit
	for attempt := 0; ; attempt++ {
		commitHash, err := b.writeCommit(currentTree, currentParent, s)
		if err != nil {
			return 0, "", err
		}

		err = b.gitDir.UpdateRefCAS(b.ref, commitHash, currentParent)
		if err == nil {
			revs, err := b.revs.Observe(b.store, commitHash)
			if err != nil {
				return 0, "", fmt.Errorf("commitbuilder: observe new commit: %w", err)
			}
			if len(revs) == 0 {
				return 0, "", fmt.Errorf("commitbuilder: commit produced no new revision")
			}
			return revs[len(revs)-1], commitHash, nil
		}

		if attempt >= attempts {
			return 0, "", fmt.Errorf("commitbuilder: exceeded %d rebase attempts: %w", attempts, err)
		}

		newTip, tipErr := b.gitDir.ResolveRef(b.ref)
		if tipErr != nil {
			return 0, "", fmt.Errorf("commitbuilder: resolve tip after CAS conflict: %w", tipErr)
		}

		rebasedTree, conflicts, rebaseErr := rebaseTree(b, currentParent, newTip, currentTree)
		if rebaseErr != nil {
			return 0, "", rebaseErr
		}
		if len(conflicts) > 0 {
			return 0, "", &OutOfDateError{ConflictPaths: conflicts}
		}

		currentTree = rebasedTree
		currentParent = newTip
	}
}

func (b *Builder) writeCommit(treeHash, parent gitobj.Hash, s *EditorSession) (gitobj.Hash, error) {
	c := &gitobj.CommitObj{
		TreeHash:  treeHash,
		Author:    s.author,
		Committer: s.author,
		Timestamp: time.Now().Unix(),
		Message:   s.message,
	}
	if parent != "" {
		c.Parents = []gitobj.Hash{parent}
	}
	c.CommitterTimestamp = c.Timestamp
	commitHash, err := gitobj.WriteCommit(b.store, c)
	if err != nil {
		return "", fmt.Errorf("commitbuilder: write commit: %w", err)
	}
	return commitHash, nil
}

// mergedFiles applies session overrides (new content or deletions) onto the
// base revision's flattened file list.
func mergedFiles(store gitobj.ObjectStore, baseRoot gitobj.Hash, overrides map[string]*stagedEntry) (map[string]*stagedEntry, error) {
	final := make(map[string]*stagedEntry)
	base, err := vfs.FlattenTree(store, baseRoot)
	if err != nil {
		return nil, fmt.Errorf("commitbuilder: flatten base tree: %w", err)
	}
	for _, f := range base {
		final[f.Path] = &stagedEntry{blobHash: f.BlobHash, mode: f.Mode}
	}
	for path, entry := range overrides {
		if entry.deleted {
			delete(final, path)
			continue
		}
		if entry.blobHash == "" {
			return nil, fmt.Errorf("commitbuilder: %q was added but never closed with content", path)
		}
		final[path] = entry
	}
	return final, nil
}

// checkPropertyConflicts re-synthesizes properties against the freshly
// built tree and rejects explicit property changes the tree does not
// itself reproduce, since every synthesized property is derived, never
// stored directly.
func checkPropertyConflicts(store gitobj.ObjectStore, treeHash gitobj.Hash, changes []explicitPropChange) error {
	if len(changes) == 0 {
		return nil
	}
	synth := propsynth.New(treeReaderAt{store: store, root: treeHash})
	for _, c := range changes {
		var derived map[string]string
		var err error
		if c.isDir {
			derived, err = synth.DirProperties(c.path)
		} else {
			derived, err = synth.FileProperties(c.path)
		}
		if err != nil {
			return fmt.Errorf("commitbuilder: synthesize properties at %q: %w", c.path, err)
		}
		switch c.key {
		case "svn:eol-style", "svn:mime-type", "svn:ignore", "svn:inheritable-ignores":
			if derived[c.key] != c.value {
				return &PropertyConflictError{Path: c.path, Property: c.key, Wanted: c.value, Derived: derived[c.key]}
			}
		}
	}
	return nil
}
