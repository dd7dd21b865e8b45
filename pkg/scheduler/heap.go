package scheduler

// heapItem is one entry with the remaining seconds computed at build time
type heapItem struct {
	remaining int64
	entry     *Entry
}

// entryHeap is a min-heap on remaining seconds, ties broken by key so the
// order is deterministic
type entryHeap []heapItem

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].remaining != h[j].remaining {
		return h[i].remaining < h[j].remaining
	}
	return h[i].entry.key < h[j].entry.key
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(heapItem)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
