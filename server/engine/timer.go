package engine

import (
	"container/heap"
	"sync"
	"time"
)

// one expiration deadline tied to a session.
// the heap holds the only strong ref to an entry, session links it weakly
type timerEntry struct {
	expire    int64 // unix ms
	cancelled bool
	ref       Handle
	index     int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].expire < h[j].expire }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// callback for expired entries, called outside of timers lock
type EvictFunc func(h Handle)

// min-heap of idle deadlines with lazy deletion:
// Separate only flags an entry, Sweep pops it once it surfaces
type Timers struct {
	mu    sync.Mutex
	heap  timerHeap
	now   func() time.Time
	evict EvictFunc
}

func NewTimers(evict EvictFunc) *Timers {
	return &Timers{
		now:   time.Now,
		evict: evict,
	}
}

// Schedule links s to a deadline timeout from now.
// if s already owns a live entry it is moved forward in place, never back
func (t *Timers) Schedule(s *Session, timeout time.Duration) {
	exp := t.now().Add(timeout).UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	if e := s.timer; e != nil && !e.cancelled && e.index >= 0 {
		if exp > e.expire {
			e.expire = exp
			heap.Fix(&t.heap, e.index)
		}
		return
	}

	e := &timerEntry{expire: exp, ref: s.Handle()}
	heap.Push(&t.heap, e)
	s.timer = e
}

// Separate cancels the current entry of s and clears the link,
// heap is not touched
func (t *Timers) Separate(s *Session) {
	t.mu.Lock()
	if e := s.timer; e != nil {
		e.cancelled = true
		s.timer = nil
	}
	t.mu.Unlock()
}

// Sweep drops cancelled entries from the top and evicts expired ones,
// stops at first live entry. returns number of evicted sessions
func (t *Timers) Sweep() int {
	now := t.now().UnixMilli()

	var expired []Handle
	t.mu.Lock()
	for len(t.heap) > 0 {
		e := t.heap[0]
		if e.cancelled {
			heap.Pop(&t.heap)
			continue
		}
		if now < e.expire {
			break
		}
		e.cancelled = true
		expired = append(expired, e.ref)
		heap.Pop(&t.heap)
	}
	t.mu.Unlock()

	if t.evict != nil {
		for _, h := range expired {
			t.evict(h)
		}
	}
	return len(expired)
}

// entries still in heap, cancelled included
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}
