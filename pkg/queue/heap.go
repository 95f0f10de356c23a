package queue

import (
	"container/heap"
	"time"
)

// pendingItem is one heap entry. Only the ordering keys are held; the
// record itself lives in the manager's jobs map.
type pendingItem struct {
	jobID     string
	priority  int
	createdAt time.Time
}

// pendingHeap orders jobs by priority descending, then created_at ascending
// (FIFO within a priority band). Implements container/heap.
type pendingHeap []*pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) {
	*h = append(*h, x.(*pendingItem))
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func (h *pendingHeap) push(item *pendingItem) { heap.Push(h, item) }

// pop removes and returns the highest-priority entry, or nil when empty.
func (h *pendingHeap) pop() *pendingItem {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*pendingItem)
}
