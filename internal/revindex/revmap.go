package revindex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

// revmapFileName is the append-only record of revision assignments, one
// "rev\tcommitHash\n" line per assigned revision, stored under the tracked
// repository's svnbridge metadata directory.
const revmapFileName = "revmap.log"

// Index is the persistent bidirectional map between SVN revision numbers
// and Git commit hashes. Revision 0 is the empty root and is never recorded
// in the log; it resolves implicitly. Assignment is monotonic: Observe walks
// a ref's first-parent history and assigns the next free revision number to
// every commit not yet known, oldest-first, then appends the batch to
// revmap.log in one atomic write.
type Index struct {
	mu   sync.Mutex
	path string

	byRev    []gitobj.Hash // index i holds the commit for revision i+1
	byCommit map[gitobj.Hash]int
}

// Open loads (or creates) the revision index rooted at metaDir, replaying
// revmap.log if present.
func Open(metaDir string) (*Index, error) {
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("revindex: mkdir %s: %w", metaDir, err)
	}
	idx := &Index{
		path:     filepath.Join(metaDir, revmapFileName),
		byCommit: make(map[gitobj.Hash]int),
	}
	if err := idx.replay(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) replay() error {
	f, err := os.Open(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("revindex: open %s: %w", idx.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return fmt.Errorf("revindex: malformed record %q", line)
		}
		rev, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("revindex: malformed revision %q: %w", parts[0], err)
		}
		if rev != len(idx.byRev)+1 {
			return fmt.Errorf("revindex: out-of-order revision %d (expected %d)", rev, len(idx.byRev)+1)
		}
		h := gitobj.Hash(parts[1])
		idx.byRev = append(idx.byRev, h)
		idx.byCommit[h] = rev
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("revindex: read %s: %w", idx.path, err)
	}
	return nil
}

// HeadRevision returns the highest assigned revision number, or 0 if none
// has been assigned yet.
func (idx *Index) HeadRevision() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.byRev)
}

// CommitForRev resolves a revision number to its commit hash. Revision 0
// has no commit and always reports false.
func (idx *Index) CommitForRev(rev int) (gitobj.Hash, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if rev <= 0 || rev > len(idx.byRev) {
		return "", false
	}
	return idx.byRev[rev-1], true
}

// RevForCommit resolves a commit hash to its assigned revision number.
func (idx *Index) RevForCommit(h gitobj.Hash) (int, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rev, ok := idx.byCommit[h]
	return rev, ok
}

// Observe walks tip's first-parent history in store and assigns revision
// numbers to every commit not yet known, oldest-first. It returns the list
// of newly assigned revisions (empty if tip and all its first-parent
// ancestors were already observed). Walking stops as soon as an already-known
// commit is reached, since everything behind it is necessarily known too.
func (idx *Index) Observe(store gitobj.ObjectStore, tip gitobj.Hash) ([]int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if tip == "" {
		return nil, nil
	}

	var unassigned []gitobj.Hash
	cur := tip
	for cur != "" {
		if _, known := idx.byCommit[cur]; known {
			break
		}
		commit, err := gitobj.ReadCommit(store, cur)
		if err != nil {
			return nil, fmt.Errorf("revindex: observe %s: %w", cur, err)
		}
		unassigned = append(unassigned, cur)
		if len(commit.Parents) == 0 {
			break
		}
		cur = commit.Parents[0]
	}

	if len(unassigned) == 0 {
		return nil, nil
	}

	// unassigned is newest-first; reverse for oldest-first assignment.
	for i, j := 0, len(unassigned)-1; i < j; i, j = i+1, j-1 {
		unassigned[i], unassigned[j] = unassigned[j], unassigned[i]
	}

	var sb strings.Builder
	assigned := make([]int, 0, len(unassigned))
	nextRev := len(idx.byRev) + 1
	for _, h := range unassigned {
		fmt.Fprintf(&sb, "%d\t%s\n", nextRev, h)
		assigned = append(assigned, nextRev)
		nextRev++
	}

	f, err := os.OpenFile(idx.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("revindex: open %s: %w", idx.path, err)
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		return nil, fmt.Errorf("revindex: append %s: %w", idx.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("revindex: sync %s: %w", idx.path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("revindex: close %s: %w", idx.path, err)
	}

	for _, h := range unassigned {
		idx.byRev = append(idx.byRev, h)
		idx.byCommit[h] = len(idx.byRev)
	}

	return assigned, nil
}
