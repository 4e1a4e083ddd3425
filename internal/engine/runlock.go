package engine

import "sync"

// runLocks serializes orchestrator operations per run id. Entries are
// reference counted so the map does not grow with the number of runs
// ever seen.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the per-run lock is held. The returned function
// releases it.
func (r *runLocks) acquire(runID string) func() {
	r.mu.Lock()
	entry, ok := r.locks[runID]
	if !ok {
		entry = &lockEntry{}
		r.locks[runID] = entry
	}
	entry.refs++
	r.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		r.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(r.locks, runID)
		}
		r.mu.Unlock()
	}
}
