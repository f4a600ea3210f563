// Package timer implements a min-heap keyed by absolute deadline, used
// to drive idle-connection expiry. It mirrors a timing wheel closely
// enough for this server's single purpose (one timer per connection,
// frequently adjusted, occasionally removed) without the bucketing
// complexity of a true hierarchical wheel.
package timer

import (
	"container/heap"
	"time"
)

// Node is a single scheduled callback.
type Node struct {
	ID       int
	Deadline time.Time
	Callback func()
	index    int // position in the heap slice; maintained by container/heap hooks
}

// nodeHeap is the container/heap.Interface implementation. It never
// invokes callbacks itself — that stays the caller's job, outside the
// heap's internal bookkeeping.
type nodeHeap []*Node

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *nodeHeap) Push(x any) {
	n := x.(*Node)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *nodeHeap) Pop() any {
	old := *h
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*h = old[:last]
	return n
}

// Wheel is a min-heap of (deadline, id, callback) nodes with an id-to-
// index side map so Adjust/DoWork/remove run in O(log n). It is not
// safe for concurrent use from multiple goroutines; the reactor that
// owns it is single-threaded with respect to timer operations by
// design (see the connection-table ownership rules this server uses).
type Wheel struct {
	h   nodeHeap
	idx map[int]*Node
}

// New creates an empty Wheel.
func New() *Wheel {
	return &Wheel{idx: make(map[int]*Node)}
}

// Add schedules id to fire after timeout, or — if id is already
// scheduled — updates its deadline and callback in place.
func (w *Wheel) Add(id int, timeout time.Duration, cb func()) {
	if n, ok := w.idx[id]; ok {
		n.Deadline = time.Now().Add(timeout)
		n.Callback = cb
		heap.Fix(&w.h, n.index)
		return
	}
	n := &Node{ID: id, Deadline: time.Now().Add(timeout), Callback: cb}
	w.idx[id] = n
	heap.Push(&w.h, n)
}

// Adjust requires id to already be scheduled; it pushes the deadline
// out (or, if the new deadline happens to land earlier, pulls it in —
// heap.Fix handles either direction) by timeout from now.
func (w *Wheel) Adjust(id int, timeout time.Duration) {
	n, ok := w.idx[id]
	if !ok {
		return
	}
	n.Deadline = time.Now().Add(timeout)
	heap.Fix(&w.h, n.index)
}

// DoWork invokes id's callback immediately and removes it, if present.
func (w *Wheel) DoWork(id int) {
	n, ok := w.idx[id]
	if !ok {
		return
	}
	w.remove(n)
	if n.Callback != nil {
		n.Callback()
	}
}

// Tick pops and invokes every node whose deadline is now due. Callbacks
// run on the calling goroutine, after the node has already been removed
// from the heap, so a callback that re-adds the same id (e.g. closing a
// connection that then gets replaced) sees a consistent heap.
func (w *Wheel) Tick() {
	now := time.Now()
	for w.h.Len() > 0 {
		top := w.h[0]
		if top.Deadline.After(now) {
			return
		}
		w.remove(top)
		if top.Callback != nil {
			top.Callback()
		}
	}
}

// NextTickMS ticks the wheel (reaping and firing every expired node),
// then returns the number of milliseconds until the new top's deadline,
// or -1 if the wheel is empty. This is the reactor's epoll_wait timeout.
func (w *Wheel) NextTickMS() int64 {
	w.Tick()
	if w.h.Len() == 0 {
		return -1
	}
	remaining := time.Until(w.h[0].Deadline)
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// Pop removes the top node without invoking its callback.
func (w *Wheel) Pop() {
	if w.h.Len() == 0 {
		return
	}
	w.remove(w.h[0])
}

// Clear drops every scheduled node.
func (w *Wheel) Clear() {
	w.h = nil
	w.idx = make(map[int]*Node)
}

// Len reports how many nodes are currently scheduled.
func (w *Wheel) Len() int { return w.h.Len() }

func (w *Wheel) remove(n *Node) {
	heap.Remove(&w.h, n.index)
	delete(w.idx, n.ID)
}
