package inventory

import "sync"

// Queues holds the staged mutation sets filled by collaborators between
// heartbeats. Both sets are fully drained by the pass that consumes them;
// an index never survives past that pass.
type Queues struct {
	mu           sync.Mutex
	clear        map[int]struct{}
	removeImport map[int]struct{}
}

// NewQueues creates empty staged mutation queues.
func NewQueues() *Queues {
	return &Queues{
		clear:        make(map[int]struct{}),
		removeImport: make(map[int]struct{}),
	}
}

// QueueClear stages slots for full removal on the next pass.
func (q *Queues) QueueClear(indices ...int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, i := range indices {
		q.clear[i] = struct{}{}
	}
}

// QueueImportRemoval stages slots to have their import marker stripped on
// the next pass. The slots themselves are kept.
func (q *Queues) QueueImportRemoval(indices ...int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, i := range indices {
		q.removeImport[i] = struct{}{}
	}
}

// Drain empties both queues and returns their contents.
func (q *Queues) Drain() (clear, removeImport map[int]struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear, removeImport = q.clear, q.removeImport
	q.clear = make(map[int]struct{})
	q.removeImport = make(map[int]struct{})
	return clear, removeImport
}

// Pending reports the number of staged indices across both queues.
func (q *Queues) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.clear) + len(q.removeImport)
}
