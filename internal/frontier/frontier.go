package frontier

import (
	"container/heap"
	"sync"
	"time"

	"github.com/nao1215/spindle/internal/model"
)

// Frontier is a priority queue of crawl tasks with URL-level
// deduplication across the queued, deferred, and in-flight states.
//
// Design decision: we back the queue with container/heap plus a
// monotonic sequence number rather than a channel because the queue
// needs a total priority order with FIFO tie-break, and because
// deferred re-admission needs to re-insert ahead of or behind existing
// work by priority, which a channel cannot do.
type Frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	// heap holds queued tasks ordered by (priority, seq).
	heap itemHeap

	// seq is the next insertion sequence number.
	seq uint64

	// tracked contains every URL that is queued, deferred, or in
	// flight. Push drops URLs already present.
	tracked map[string]struct{}

	// inFlight counts tasks held by workers.
	inFlight int

	// deferred counts tasks waiting out a politeness or retry delay.
	deferred int

	// pending counts tasks not yet finished: queued + deferred + in flight.
	pending int

	// dropped counts pushes rejected as duplicates.
	dropped uint64

	// closed stops all admission and wakes blocked Pop calls.
	closed bool
}

// item is a heap entry. seq breaks priority ties in insertion order.
type item struct {
	task model.CrawlTask
	seq  uint64
}

// itemHeap implements heap.Interface over items.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// New creates an empty, open frontier.
func New() *Frontier {
	f := &Frontier{
		tracked: make(map[string]struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push adds a task to the queue. It returns false, without queueing,
// when the URL is already queued, deferred, or in flight, or when the
// frontier is closed. Duplicate pushes are counted, not errors.
func (f *Frontier) Push(task model.CrawlTask) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	if _, ok := f.tracked[task.URL]; ok {
		f.dropped++
		return false
	}

	f.tracked[task.URL] = struct{}{}
	f.pending++
	f.enqueueLocked(task)
	return true
}

// Pop removes and returns the lowest-priority task, blocking until one
// is available or the frontier is closed. The second return value is
// false only when the frontier is closed and drained; that is the
// worker exit signal. The popped URL moves to the in-flight state.
func (f *Frontier) Pop() (model.CrawlTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.heap) == 0 && !f.closed {
		f.cond.Wait()
	}
	if len(f.heap) == 0 {
		return model.CrawlTask{}, false
	}

	it := heap.Pop(&f.heap).(item)
	f.inFlight++
	return it.task, true
}

// Release re-admits a popped task after the given delay. It is used for
// politeness deferral and retry backoff: the task stays pending and its
// URL stays tracked, but the calling worker is free immediately.
//
// A zero delay re-queues the task at once. If the frontier closes while
// the delay runs, the task is dropped and unpinned so shutdown can
// complete.
func (f *Frontier) Release(task model.CrawlTask, delay time.Duration) {
	f.mu.Lock()
	if f.closed {
		f.abandonLocked(task.URL)
		f.inFlight--
		f.mu.Unlock()
		return
	}
	f.inFlight--

	if delay <= 0 {
		f.enqueueLocked(task)
		f.mu.Unlock()
		return
	}

	f.deferred++
	f.mu.Unlock()

	time.AfterFunc(delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deferred--
		if f.closed {
			f.abandonLocked(task.URL)
			return
		}
		f.enqueueLocked(task)
	})
}

// Finish marks a popped task as terminal: its URL is released for
// potential future crawls and the pending count drops. It returns the
// number of still-pending tasks; zero means the crawl is complete and
// the frontier can be closed.
func (f *Frontier) Finish(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.tracked, url)
	f.inFlight--
	f.pending--
	if f.pending < 0 {
		panic("frontier: pending count underflow")
	}
	return f.pending
}

// Close stops all admission and wakes every blocked Pop. Tasks still
// queued remain poppable so workers can drain; deferred tasks are
// dropped when their timers fire.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.cond.Broadcast()
}

// Size returns the number of queued tasks.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heap)
}

// InFlight returns the number of tasks currently held by workers.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Deferred returns the number of tasks waiting out a delay.
func (f *Frontier) Deferred() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deferred
}

// Pending returns the number of unfinished tasks across all states.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Dropped returns the number of pushes rejected as duplicates.
func (f *Frontier) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// enqueueLocked inserts a task into the heap and wakes one waiter.
// Caller must hold f.mu.
func (f *Frontier) enqueueLocked(task model.CrawlTask) {
	heap.Push(&f.heap, item{task: task, seq: f.seq})
	f.seq++
	f.cond.Signal()
}

// abandonLocked drops a pending task during shutdown. Caller must hold f.mu.
func (f *Frontier) abandonLocked(url string) {
	delete(f.tracked, url)
	f.pending--
}
