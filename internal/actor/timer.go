package actor

import (
	"container/heap"
	"sync"
	"time"
)

// timerEntry is one scheduled callback, ordered by absolute deadline
// (spec.md §4.10 "timers are ordered by absolute monotonic deadline, not by
// relative delay, so rescheduling never has to re-derive an expiry from a
// stale starting point").
type timerEntry struct {
	deadline time.Time
	seq      uint64
	fn       func()
	index    int
	cancelled bool
}

// timerHeap is a container/heap.Interface over *timerEntry, min-ordered by
// deadline and, for ties, by insertion sequence (spec.md §8 P8: "timers that
// share a deadline fire in the order they were scheduled").
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

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

// TimerHandle lets a caller cancel a scheduled timer before it fires
// (spec.md §4.10 "schedule returns a disposable handle; cancel is a no-op if
// the timer already fired").
type TimerHandle struct {
	svc   *TimerService
	entry *timerEntry
}

// Cancel prevents entry's callback from firing, if it hasn't already. It is
// safe to call Cancel more than once or after the timer has fired.
func (h TimerHandle) Cancel() {
	h.svc.cancel(h.entry)
}

// TimerService is the background scheduling clock for delayed sends and
// after() behavior timeouts (spec.md §4.10, component C10): a single
// goroutine drains a min-heap keyed on absolute deadline, sleeping exactly
// until the next entry is due and re-evaluating whenever a new, earlier
// entry is scheduled.
type TimerService struct {
	mu      sync.Mutex
	heap    timerHeap
	seqNext uint64
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

// NewTimerService starts the background clock goroutine and returns a ready
// TimerService. Callers must call Stop when the actor system shuts down.
func NewTimerService() *TimerService {
	svc := &TimerService{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go svc.run()
	return svc
}

// Schedule arranges for fn to run, on the timer service's own goroutine,
// once deadline has passed. Callers that need fn to run on an actor's own
// dispatch thread (the common case: an after() arm or a delayed self-send)
// should have fn enqueue into that actor's mailbox rather than doing actor
// work directly, since this goroutine is shared by every timer in the
// system.
func (s *TimerService) Schedule(deadline time.Time, fn func()) TimerHandle {
	s.mu.Lock()
	s.seqNext++
	entry := &timerEntry{deadline: deadline, seq: s.seqNext, fn: fn}
	heap.Push(&s.heap, entry)
	soonest := s.heap[0] == entry
	s.mu.Unlock()

	if soonest {
		s.signal()
	}
	return TimerHandle{svc: s, entry: entry}
}

// After is a convenience wrapper scheduling fn to run after d elapses.
func (s *TimerService) After(d time.Duration, fn func()) TimerHandle {
	return s.Schedule(time.Now().Add(d), fn)
}

func (s *TimerService) cancel(entry *timerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.index < 0 {
		return
	}
	entry.cancelled = true
}

func (s *TimerService) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the single background goroutine driving every scheduled timer. It
// always sleeps exactly until the current heap minimum is due, and wakes
// early whenever Schedule installs a new, earlier minimum or Stop is
// called.
func (s *TimerService) run() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		for len(s.heap) > 0 && s.heap[0].cancelled {
			heap.Pop(&s.heap)
		}

		var wait time.Duration
		hasNext := len(s.heap) > 0
		if hasNext {
			wait = time.Until(s.heap[0].deadline)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		if hasNext {
			timer.Reset(wait)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-s.quit:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

// fireDue pops and runs every entry whose deadline has passed.
func (s *TimerService) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.heap) == 0 {
			s.mu.Unlock()
			return
		}
		top := s.heap[0]
		if top.cancelled {
			heap.Pop(&s.heap)
			s.mu.Unlock()
			continue
		}
		if top.deadline.After(now) {
			s.mu.Unlock()
			return
		}
		heap.Pop(&s.heap)
		s.mu.Unlock()

		top.fn()
	}
}

// Stop halts the background goroutine. Pending timers that have not yet
// fired are dropped; it does not attempt to flush them.
func (s *TimerService) Stop() {
	close(s.quit)
	<-s.done
}
