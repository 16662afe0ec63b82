package export

import (
	"sync"
	"time"
)

// backoffDelay returns the delay before retry attempt n (0-indexed):
// 2^n seconds.
func backoffDelay(n int) time.Duration {
	return time.Duration(1<<uint(n)) * time.Second
}

// queuedBatch is one failed batch awaiting redelivery. retryCount is the
// number of retry attempts already consumed.
type queuedBatch struct {
	batch       *Batch
	retryCount  int
	nextAttempt time.Time
}

// retryQueue holds failed batches ordered by eligibility. The exporter's
// retry tick takes at most one due item per tick.
type retryQueue struct {
	mu    sync.Mutex
	items []*queuedBatch
}

func newRetryQueue() *retryQueue {
	return &retryQueue{}
}

func (q *retryQueue) enqueue(item *queuedBatch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// popDue removes and returns the first item whose nextAttempt has passed, or
// nil when nothing is due.
func (q *retryQueue) popDue(now time.Time) *queuedBatch {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if !item.nextAttempt.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item
		}
	}
	return nil
}

func (q *retryQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
