package module

import "sync"

// Entry is a module waiting to be loaded into an engine.
type Entry struct {
	Name     string
	Artifact *Artifact
}

// Queue holds entries in registration order until the next evaluation
// loads them. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

func (q *Queue) Add(e Entry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// Pending returns a snapshot of the queued entries.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Done removes the first n entries after they were loaded. Entries added
// since the matching Pending call stay queued.
func (q *Queue) Done(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	q.entries = append(q.entries[:0:0], q.entries[n:]...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear drops every queued entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
}
