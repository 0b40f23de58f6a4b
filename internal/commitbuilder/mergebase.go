package commitbuilder

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/svnbridge/svnbridged/internal/gitobj"
)

type mergeBaseQueueItem struct {
	hash       gitobj.Hash
	generation uint64
}

type mergeBaseMaxHeap []mergeBaseQueueItem

func (h mergeBaseMaxHeap) Len() int { return len(h) }

func (h mergeBaseMaxHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].hash < h[j].hash
	}
	return h[i].generation > h[j].generation
}

func (h mergeBaseMaxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeBaseMaxHeap) Push(x any) {
	*h = append(*h, x.(mergeBaseQueueItem))
}

func (h *mergeBaseMaxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type mergeBaseCacheKey struct {
	left, right gitobj.Hash
}

type mergeBaseCacheEntry struct {
	base  gitobj.Hash
	found bool
}

// mergeBaseTraversalState caches commit reads, generation numbers, and
// resolved merge bases across the repeated lookups a rebase retry loop
// performs against the same two-sided history.
type mergeBaseTraversalState struct {
	mu sync.RWMutex

	commits     map[gitobj.Hash]*gitobj.CommitObj
	generations map[gitobj.Hash]uint64
	mergeBases  map[mergeBaseCacheKey]mergeBaseCacheEntry
}

func newMergeBaseTraversalState() *mergeBaseTraversalState {
	return &mergeBaseTraversalState{
		commits:     make(map[gitobj.Hash]*gitobj.CommitObj),
		generations: make(map[gitobj.Hash]uint64),
		mergeBases:  make(map[mergeBaseCacheKey]mergeBaseCacheEntry),
	}
}

func canonicalMergeBaseCacheKey(a, b gitobj.Hash) mergeBaseCacheKey {
	if a <= b {
		return mergeBaseCacheKey{left: a, right: b}
	}
	return mergeBaseCacheKey{left: b, right: a}
}

func (s *mergeBaseTraversalState) loadMergeBase(a, b gitobj.Hash) (mergeBaseCacheEntry, bool) {
	key := canonicalMergeBaseCacheKey(a, b)
	s.mu.RLock()
	entry, ok := s.mergeBases[key]
	s.mu.RUnlock()
	return entry, ok
}

func (s *mergeBaseTraversalState) storeMergeBase(a, b, base gitobj.Hash, found bool) {
	key := canonicalMergeBaseCacheKey(a, b)
	s.mu.Lock()
	s.mergeBases[key] = mergeBaseCacheEntry{base: base, found: found}
	s.mu.Unlock()
}

func (s *mergeBaseTraversalState) readCommit(store gitobj.ObjectStore, h gitobj.Hash) (*gitobj.CommitObj, error) {
	s.mu.RLock()
	cached, ok := s.commits[h]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	commit, err := gitobj.ReadCommit(store, h)
	if err != nil {
		return nil, fmt.Errorf("find merge base: read commit %s: %w", h, err)
	}

	s.mu.Lock()
	if existing, exists := s.commits[h]; exists {
		s.mu.Unlock()
		return existing, nil
	}
	s.commits[h] = commit
	s.mu.Unlock()
	return commit, nil
}

func (s *mergeBaseTraversalState) loadGeneration(h gitobj.Hash) (uint64, bool) {
	s.mu.RLock()
	g, ok := s.generations[h]
	s.mu.RUnlock()
	return g, ok
}

func (s *mergeBaseTraversalState) storeGeneration(h gitobj.Hash, g uint64) {
	s.mu.Lock()
	s.generations[h] = g
	s.mu.Unlock()
}

func (s *mergeBaseTraversalState) generation(store gitobj.ObjectStore, h gitobj.Hash) (uint64, error) {
	return s.generationRecursive(store, h, make(map[gitobj.Hash]bool))
}

func (s *mergeBaseTraversalState) generationRecursive(store gitobj.ObjectStore, h gitobj.Hash, visiting map[gitobj.Hash]bool) (uint64, error) {
	if h == "" {
		return 0, nil
	}
	if g, ok := s.loadGeneration(h); ok {
		return g, nil
	}
	if visiting[h] {
		return 0, fmt.Errorf("find merge base: commit graph cycle detected at %s", h)
	}

	visiting[h] = true
	commit, err := s.readCommit(store, h)
	if err != nil {
		delete(visiting, h)
		return 0, err
	}

	var maxParentGeneration uint64
	for _, p := range commit.Parents {
		pg, err := s.generationRecursive(store, p, visiting)
		if err != nil {
			delete(visiting, h)
			return 0, err
		}
		if pg > maxParentGeneration {
			maxParentGeneration = pg
		}
	}

	generation := maxParentGeneration + 1
	s.storeGeneration(h, generation)
	delete(visiting, h)
	return generation, nil
}

// findMergeBase returns the best common ancestor of a and b by walking both
// histories together, always expanding the highest-generation frontier
// commit first (the commit closest to the tips), exactly as git's
// generation-number-guided merge-base search does. The first commit reached
// from both sides is the merge base, since everything still on the heap at
// that point has a generation no higher than the one just settled.
func findMergeBase(store gitobj.ObjectStore, state *mergeBaseTraversalState, a, b gitobj.Hash) (gitobj.Hash, bool, error) {
	if entry, ok := state.loadMergeBase(a, b); ok {
		return entry.base, entry.found, nil
	}
	if a == "" || b == "" {
		state.storeMergeBase(a, b, "", false)
		return "", false, nil
	}
	if a == b {
		state.storeMergeBase(a, b, a, true)
		return a, true, nil
	}

	const (
		flagA = 1 << 0
		flagB = 1 << 1
	)
	flags := make(map[gitobj.Hash]int)

	var q mergeBaseMaxHeap
	push := func(h gitobj.Hash, flag int) error {
		if flags[h]&flag != 0 {
			return nil
		}
		flags[h] |= flag
		gen, err := state.generation(store, h)
		if err != nil {
			return err
		}
		heap.Push(&q, mergeBaseQueueItem{hash: h, generation: gen})
		return nil
	}

	if err := push(a, flagA); err != nil {
		return "", false, err
	}
	if err := push(b, flagB); err != nil {
		return "", false, err
	}

	for q.Len() > 0 {
		item := heap.Pop(&q).(mergeBaseQueueItem)
		f := flags[item.hash]
		if f&flagA != 0 && f&flagB != 0 {
			state.storeMergeBase(a, b, item.hash, true)
			return item.hash, true, nil
		}

		commit, err := state.readCommit(store, item.hash)
		if err != nil {
			return "", false, err
		}
		for _, p := range commit.Parents {
			if err := push(p, f); err != nil {
				return "", false, err
			}
		}
	}

	state.storeMergeBase(a, b, "", false)
	return "", false, nil
}
