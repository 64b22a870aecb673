package guest

import (
	"sort"
)

// Thread holds every view of a guest thread.
type Thread struct {
	ID    ThreadID
	views [numViews]AMD64State
}

// View returns the state of t in view v.
func (t *Thread) View(v View) *AMD64State {
	if !v.Valid() {
		return nil
	}
	return &t.views[v]
}

// Reset puts the real view of t in the state of a freshly created thread
// and clears its shadow views.
func (t *Thread) Reset() {
	for i := range t.views {
		t.views[i] = AMD64State{}
	}
	InitAMD64State(&t.views[Real])
}

// InitAMD64State sets s to the state the engine gives new threads: flags
// in copy mode with every bit clear, direction flag forward, x87 stack
// empty and round to nearest everywhere.
func InitAMD64State(s *AMD64State) {
	*s = AMD64State{}
	s.CCOp = CCOpCopy
	s.DFlag = 1
}

// Threads is an in memory StateProvider.
type Threads struct {
	threads map[ThreadID]*Thread
}

// NewThreads returns an empty set of threads.
func NewThreads() *Threads {
	return &Threads{threads: make(map[ThreadID]*Thread)}
}

// Add creates the thread tid, or resets it if it already exists.
func (ts *Threads) Add(tid ThreadID) *Thread {
	t, ok := ts.threads[tid]
	if !ok {
		t = &Thread{ID: tid}
		ts.threads[tid] = t
	}
	t.Reset()
	return t
}

// Remove forgets thread tid.
func (ts *Threads) Remove(tid ThreadID) {
	delete(ts.threads, tid)
}

// Thread returns thread tid.
func (ts *Threads) Thread(tid ThreadID) (*Thread, bool) {
	t, ok := ts.threads[tid]
	return t, ok
}

// IDs returns the identifiers of all threads, sorted.
func (ts *Threads) IDs() []ThreadID {
	r := make([]ThreadID, 0, len(ts.threads))
	for tid := range ts.threads {
		r = append(r, tid)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// State implements StateProvider. It returns nil for unknown threads or
// views.
func (ts *Threads) State(tid ThreadID, view View) *AMD64State {
	t, ok := ts.threads[tid]
	if !ok {
		return nil
	}
	return t.View(view)
}
