package rangefetch

import (
	"container/heap"
	"sync"
	"time"
)

// rtError is a static error type, same shape as the teacher's rtError.
type rtError string

// Error returns the stringified version of rtError.
func (e rtError) Error() string {
	return string(e)
}

// ErrQueueTimeout is returned by RangeQueue.Pop and DataQueue.PeekMin/Pop
// when no item becomes available before the deadline.
//
// No generic, concurrency-safe min-heap-with-peek library turned up anywhere
// in the example corpus (go-ethereum's prque is coupled to its own block
// types and isn't reusable here), so both queues below are built directly on
// container/heap — see DESIGN.md.
const ErrQueueTimeout = rtError("priority queue wait timed out")

// rangeHeap is a container/heap.Interface over SubRange ordered by A
// ascending (spec.md §3, "RangeQueue").
type rangeHeap []SubRange

func (h rangeHeap) Len() int            { return len(h) }
func (h rangeHeap) Less(i, j int) bool  { return h[i].A < h[j].A }
func (h rangeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *rangeHeap) Push(x interface{}) { *h = append(*h, x.(SubRange)) }
func (h *rangeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// RangeQueue is a thread-safe priority queue of SubRange ordered by A
// ascending; workers pop the smallest pending sub-range first (spec.md §3).
type RangeQueue struct {
	mu     sync.Mutex
	items  rangeHeap
	notify chan struct{}
}

// NewRangeQueue returns an empty RangeQueue.
func NewRangeQueue() *RangeQueue {
	return &RangeQueue{notify: make(chan struct{})}
}

// Push enqueues r and wakes any blocked Pop callers.
func (q *RangeQueue) Push(r SubRange) {
	q.mu.Lock()
	heap.Push(&q.items, r)
	old := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(old)
}

// Pop removes and returns the SubRange with the smallest A, waiting up to
// timeout for one to appear if the queue is currently empty.
func (q *RangeQueue) Pop(timeout time.Duration) (SubRange, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(SubRange)
			q.mu.Unlock()
			return item, nil
		}
		ch := q.notify
		q.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-deadline.C:
			return SubRange{}, ErrQueueTimeout
		}
	}
}

// Len reports the number of pending sub-ranges.
func (q *RangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// dataHeap is a container/heap.Interface over Chunk ordered by Offset
// ascending (spec.md §3, "DataQueue").
type dataHeap []Chunk

func (h dataHeap) Len() int            { return len(h) }
func (h dataHeap) Less(i, j int) bool  { return h[i].Offset < h[j].Offset }
func (h dataHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dataHeap) Push(x interface{}) { *h = append(*h, x.(Chunk)) }
func (h *dataHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DataQueue is a thread-safe min-heap keyed by chunk offset. It exposes both
// a PeekMin-with-timeout and a Pop/PushBack pair so the serializer can use
// either strategy without ever risking a chunk going invisible long enough
// to trip a spurious timeout (spec.md §4.C, §9).
type DataQueue struct {
	mu     sync.Mutex
	items  dataHeap
	notify chan struct{}
}

// NewDataQueue returns an empty DataQueue.
func NewDataQueue() *DataQueue {
	return &DataQueue{notify: make(chan struct{})}
}

// Push publishes a chunk and wakes any blocked waiters. Multiple producers
// (workers) call this concurrently.
func (q *DataQueue) Push(c Chunk) {
	q.mu.Lock()
	heap.Push(&q.items, c)
	old := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(old)
}

// PeekMin returns the chunk with the smallest offset without removing it,
// waiting up to timeout for one to appear.
func (q *DataQueue) PeekMin(timeout time.Duration) (Chunk, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.mu.Unlock()
			return item, nil
		}
		ch := q.notify
		q.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-deadline.C:
			return Chunk{}, ErrQueueTimeout
		}
	}
}

// PopMin removes and returns the minimum-offset chunk, assuming the caller
// already knows (via PeekMin) that one exists. It is safe to call
// concurrently, but a concurrent Push between the PeekMin and the PopMin
// could change which chunk is removed; callers that require atomicity should
// use the Pop(timeout)/PushBack pair below instead of PeekMin+PopMin.
func (q *DataQueue) PopMin() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Chunk{}, false
	}
	return heap.Pop(&q.items).(Chunk), true
}

// Pop removes and returns the minimum-offset chunk, waiting up to timeout for
// one to appear. Pairs with PushBack for callers using the
// pop-then-requeue fallback (spec.md §9) when the head isn't yet the
// expected offset.
func (q *DataQueue) Pop(timeout time.Duration) (Chunk, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(Chunk)
			q.mu.Unlock()
			return item, nil
		}
		ch := q.notify
		q.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-deadline.C:
			return Chunk{}, ErrQueueTimeout
		}
	}
}

// PushBack re-inserts a chunk popped via Pop that turned out not to be the
// expected head, preserving ordering (it's just Push: the heap always
// reorders by offset, so there's no real "front" to distinguish).
func (q *DataQueue) PushBack(c Chunk) {
	q.Push(c)
}

// QSize returns the number of chunks currently buffered, used by the
// backpressure gate and rate controller (spec.md §4.D, §4.E).
func (q *DataQueue) QSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
