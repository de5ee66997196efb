package queue

import "sync"

// QueueStats is a recomputed-on-demand snapshot of queue progress. It is a
// pure read projection over store counts plus the scheduler's running flag
// and is never persisted.
type QueueStats struct {
	Total        int
	Processed    int
	Failed       int
	Pending      int
	IsProcessing bool
}

// ProgressReporter fans queue progress out to registered observers.
// Observers are invoked once per record-level state change, in mutation
// order, with no buffering or delivery guarantees beyond that.
type ProgressReporter struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(QueueStats)
}

// NewProgressReporter creates an empty reporter.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		subs: make(map[int]func(QueueStats)),
	}
}

// Subscribe registers an observer and returns its unsubscribe function.
func (r *ProgressReporter) Subscribe(fn func(QueueStats)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Publish delivers a stats snapshot to every observer. The lock is held for
// the duration so deliveries match mutation order.
func (r *ProgressReporter) Publish(stats QueueStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fn := range r.subs {
		fn(stats)
	}
}
