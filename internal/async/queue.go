package async

import "sync"

// QueueItem is one game awaiting enrichment.
type QueueItem struct {
	ID       int64
	GameName string
}

// Queue is the enrichment work queue. The crawler pushes batches as it
// flushes; workers pop disjoint batches concurrently.
type Queue struct {
	mu    sync.Mutex
	items []QueueItem
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends items to the tail.
func (q *Queue) Push(items ...QueueItem) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, items...)
}

// PopBatch atomically removes and returns up to n items from the head.
// Two concurrent callers never receive the same item.
func (q *Queue) PopBatch(n int) []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}

	batch := make([]QueueItem, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset drops all queued items.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
