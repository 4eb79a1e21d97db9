package walker

import "sync"

// worklist is a concurrent LIFO worklist with a termination-detection
// barrier: popOrDone blocks while the queue is empty but some popped item
// is still being processed (pending > 0), and only returns false once both
// are zero, so a pool of workers can drain it to quiescence without polling
// or sleeping. This follows the WaitGroup-gated worker-completion idiom in
// flanglet-kanzi-go/v2/io/CompressedStream.go, adapted from a fixed block
// count to an open-ended worklist.
type worklist struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []uint64
	pending int
}

func newWorklist() *worklist {
	w := &worklist{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worklist) push(va uint64) {
	w.mu.Lock()
	w.items = append(w.items, va)
	w.cond.Signal()
	w.mu.Unlock()
}

// popOrDone returns (va, true) for the next item to process, or (0, false)
// once the worklist is permanently empty (no queued items and no worker
// still processing one).
func (w *worklist) popOrDone() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.items) == 0 {
		if w.pending == 0 {
			return 0, false
		}
		w.cond.Wait()
	}
	n := len(w.items) - 1
	va := w.items[n]
	w.items = w.items[:n]
	w.pending++
	return va, true
}

// done marks one previously popped item as finished; it may itself have
// pushed more items onto the worklist before calling done.
func (w *worklist) done() {
	w.mu.Lock()
	w.pending--
	if w.pending == 0 {
		w.cond.Broadcast()
	}
	w.mu.Unlock()
}
