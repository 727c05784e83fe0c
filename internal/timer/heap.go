// Package timer implements an indexed min-heap of per-connection idle
// deadlines. It is grounded on the same add/adjust/do_work/tick/pop
// algorithm as a classic heap-based timer wheel, realized with
// container/heap plus an auxiliary id-to-index map so deletion and
// renewal by connection id stay O(log n).
//
// The heap is only ever touched from one goroutine (the reactor); no
// internal locking is provided or needed.
package timer

import (
	"container/heap"
	"time"
)

// Callback fires when a node's deadline has elapsed.
type Callback func(id int)

// node is one scheduled deadline.
type node struct {
	id      int
	expires time.Time
	cb      Callback
	index   int // position in the heap slice; maintained by innerHeap.Swap
}

// innerHeap implements container/heap.Interface over node pointers,
// ordered by expires ascending.
type innerHeap []*node

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return h[i].expires.Before(h[j].expires) }
func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Heap is an indexed min-heap of (id, deadline, callback) nodes, keyed
// by connection id. The min-heap property on expires holds after every
// mutation, and ref[id] always points at heap[ref[id]].id == id.
type Heap struct {
	h   innerHeap
	ref map[int]*node
	now func() time.Time
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{
		ref: make(map[int]*node),
		now: time.Now,
	}
}

// Len reports the number of live timers.
func (t *Heap) Len() int { return len(t.h) }

// Add schedules id to fire cb after ttl. If id is already scheduled its
// deadline and callback are overwritten and the node is re-sifted from
// its current position, since the new deadline may be earlier or later
// than the old one.
func (t *Heap) Add(id int, ttl time.Duration, cb Callback) {
	expires := t.now().Add(ttl)
	if n, ok := t.ref[id]; ok {
		n.expires = expires
		n.cb = cb
		heap.Fix(&t.h, n.index)
		return
	}
	n := &node{id: id, expires: expires, cb: cb}
	t.ref[id] = n
	heap.Push(&t.h, n)
}

// Adjust refreshes id's deadline to now+ttl. The caller is expected to
// only use Adjust to renew idle timeouts, i.e. the new deadline is
// always later than the old one, so a down-sift from the node's current
// position always suffices; Adjust is a no-op if id is not scheduled.
func (t *Heap) Adjust(id int, ttl time.Duration) {
	n, ok := t.ref[id]
	if !ok {
		return
	}
	n.expires = t.now().Add(ttl)
	t.siftDown(n.index)
}

// DoWork invokes id's callback immediately and removes it from the
// heap. It is a no-op if id is not scheduled.
func (t *Heap) DoWork(id int) {
	n, ok := t.ref[id]
	if !ok {
		return
	}
	t.remove(n.index)
	n.cb(id)
}

// Pop removes the root node without invoking its callback.
func (t *Heap) Pop() {
	if len(t.h) == 0 {
		return
	}
	t.remove(0)
}

// Cancel removes id from the heap without invoking its callback. It is
// a no-op if id is not scheduled.
func (t *Heap) Cancel(id int) {
	n, ok := t.ref[id]
	if !ok {
		return
	}
	t.remove(n.index)
}

// Tick fires and pops every node whose deadline has already elapsed.
func (t *Heap) Tick() {
	now := t.now()
	for len(t.h) > 0 {
		n := t.h[0]
		if n.expires.After(now) {
			break
		}
		t.remove(0)
		n.cb(n.id)
	}
}

// NextTickMs runs Tick and then returns the number of milliseconds
// until the new root expires, or -1 if the heap is now empty, meaning
// "wait indefinitely".
func (t *Heap) NextTickMs() int {
	t.Tick()
	if len(t.h) == 0 {
		return -1
	}
	d := t.h[0].expires.Sub(t.now())
	if d < 0 {
		d = 0
	}
	ms := int(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// remove deletes the node at heap index i: swap-to-end, pop, then
// sift-down at i; if sift-down left the element in place, sift-up from
// i. This is the standard indexed-heap deletion used by container/heap
// when the removed index isn't the last element.
func (t *Heap) remove(i int) {
	n := heap.Remove(&t.h, i).(*node)
	delete(t.ref, n.id)
}

// siftDown re-establishes heap order downward from i; used by Adjust,
// which only ever moves a deadline later.
func (t *Heap) siftDown(i int) {
	heap.Fix(&t.h, i)
}
