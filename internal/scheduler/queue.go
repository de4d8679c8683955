// Package scheduler wakes suspended conversations when their next poll is
// due and runs their steps on a bounded worker pool.
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

type item struct {
	threadID string
	due      time.Time
	index    int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].threadID < h[j].threadID
	}
	return h[i].due.Before(h[j].due)
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue orders threads by their next poll deadline. A thread appears at
// most once; scheduling it again moves it.
type Queue struct {
	mu   sync.Mutex
	h    itemHeap
	byID map[string]*item
}

func NewQueue() *Queue {
	return &Queue{byID: make(map[string]*item)}
}

// Schedule sets the due time of a thread.
func (q *Queue) Schedule(threadID string, due time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.byID[threadID]; ok {
		it.due = due
		heap.Fix(&q.h, it.index)
		return
	}
	it := &item{threadID: threadID, due: due}
	heap.Push(&q.h, it)
	q.byID[threadID] = it
}

// Remove drops a thread from the queue.
func (q *Queue) Remove(threadID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[threadID]
	if !ok {
		return false
	}
	heap.Remove(&q.h, it.index)
	delete(q.byID, threadID)
	return true
}

// PopDue removes and returns every thread due at or before now, earliest
// first.
func (q *Queue) PopDue(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []string
	for len(q.h) > 0 && !q.h[0].due.After(now) {
		it := heap.Pop(&q.h).(*item)
		delete(q.byID, it.threadID)
		due = append(due, it.threadID)
	}
	return due
}

// Next returns the earliest due time.
func (q *Queue) Next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].due, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
