package session

import "sync"

// BookmarkManager is a thin ordered set of bookmark strings, threaded
// through sessions to chain causal consistency: a transaction's BEGIN
// advertises the bookmarks observed so far, and each COMMIT's bookmark is
// folded back in (spec.md §4.6, §6).
type BookmarkManager struct {
	mu   sync.Mutex
	seen map[string]struct{}
	list []string
}

// NewBookmarkManager seeds a manager with an initial bookmark set.
func NewBookmarkManager(initial []string) *BookmarkManager {
	bm := &BookmarkManager{seen: make(map[string]struct{})}
	for _, b := range initial {
		bm.add(b)
	}
	return bm
}

func (bm *BookmarkManager) add(b string) {
	if b == "" {
		return
	}
	if _, ok := bm.seen[b]; ok {
		return
	}
	bm.seen[b] = struct{}{}
	bm.list = append(bm.list, b)
}

// Update folds a newly committed bookmark into the set.
func (bm *BookmarkManager) Update(bookmark string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.add(bookmark)
}

// Bookmarks returns the current bookmark set, in observation order. The
// slice is a copy safe for the caller to retain.
func (bm *BookmarkManager) Bookmarks() []string {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	out := make([]string, len(bm.list))
	copy(out, bm.list)
	return out
}
