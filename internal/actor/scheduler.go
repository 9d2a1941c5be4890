package actor

import (
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
)

// schedulable is one unit of resumable work the scheduler drives: an
// EventActor's "run my mailbox for up to throughput messages" tick (spec.md
// §4.9, component C9). runSlice reports whether the actor still has
// pending mailbox work after the slice, so the caller knows whether to
// re-enqueue it immediately.
type schedulable interface {
	runSlice(throughput int) (more bool)
}

// dequeue is a worker's local run queue: a mutex-protected double-ended
// slice. The owning worker pushes and pops from the tail (LIFO, for cache
// locality on the actor it just ran), while other workers steal from the
// head (FIFO, so a stolen actor is the one that's waited longest — spec.md
// §4.9 "steal from the far end of a victim's queue, so stealing disturbs
// the victim's own LIFO locality as little as possible").
type dequeue struct {
	mu    sync.Mutex
	items []schedulable
}

func (d *dequeue) pushTail(s schedulable) {
	d.mu.Lock()
	d.items = append(d.items, s)
	d.mu.Unlock()
}

func (d *dequeue) popTail() (schedulable, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return nil, false
	}
	s := d.items[n-1]
	d.items = d.items[:n-1]
	return s, true
}

func (d *dequeue) stealHead() (schedulable, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil, false
	}
	s := d.items[0]
	d.items = d.items[1:]
	return s, true
}

// Scheduler is the fixed-size work-stealing pool driving every EventActor
// in the system (spec.md §4.9, component C9). Each worker owns a local
// dequeue; an idle worker tries its own queue first, then steals from
// siblings in an order derived by hashing its own index with the current
// steal round, spreading steal attempts across siblings instead of always
// probing in the same fixed sequence.
type Scheduler struct {
	workers    []*workerLoop
	throughput int

	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// workerLoop is one scheduler worker: its own dequeue plus a wake channel
// so Schedule can rouse it from idle without busy-polling.
type workerLoop struct {
	id    int
	queue dequeue
	wake  chan struct{}
	round atomic.Uint64
}

// NewScheduler builds and starts a Scheduler with the given fixed worker
// count and per-slice throughput bound (spec.md §6 "scheduler.workers" /
// "scheduler.throughput").
func NewScheduler(workers int, throughput int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if throughput < 1 {
		throughput = 1
	}

	s := &Scheduler{
		throughput: throughput,
		quit:       make(chan struct{}),
	}
	s.workers = make([]*workerLoop, workers)
	for i := range s.workers {
		s.workers[i] = &workerLoop{id: i, wake: make(chan struct{}, 1)}
	}

	s.wg.Add(workers)
	for i := range s.workers {
		go s.runWorker(s.workers[i])
	}
	return s
}

// Schedule enqueues s onto one of the pool's workers, chosen by hashing the
// actor id, so the same actor is always enqueued on the same worker (a
// cheap approximation of affinity without tracking per-actor placement
// explicitly; a sibling may still steal it from there).
func (sch *Scheduler) Schedule(id ActorID, s schedulable) {
	idx := int(xxhash.ChecksumString64(id.String()) % uint64(len(sch.workers)))
	w := sch.workers[idx]
	w.queue.pushTail(s)
	sch.wakeOne(w)
}

// String gives ActorID a stable textual form for hashing; defined here
// (rather than in address.go, which only has NodeID/Address String
// methods) since it exists solely to feed Schedule's placement hash.
func (id ActorID) String() string {
	return uitoa(uint64(id))
}

// uitoa is a tiny unsigned-to-decimal formatter, avoiding a fmt.Sprintf
// allocation on the hot scheduling path.
func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (sch *Scheduler) wakeOne(w *workerLoop) {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (sch *Scheduler) wakeAll() {
	for _, w := range sch.workers {
		sch.wakeOne(w)
	}
}

// runWorker is the body of one scheduler worker goroutine: pop local work,
// else steal, else park until woken.
func (sch *Scheduler) runWorker(w *workerLoop) {
	defer sch.wg.Done()

	for {
		task, ok := w.queue.popTail()
		if !ok {
			task, ok = sch.steal(w)
		}

		if !ok {
			select {
			case <-sch.quit:
				return
			case <-w.wake:
				continue
			}
		}

		more := task.runSlice(sch.throughput)
		if more {
			w.queue.pushTail(task)
		}

		select {
		case <-sch.quit:
			return
		default:
		}
	}
}

// steal tries every sibling worker once, starting from an offset derived
// from w's id and a per-worker round counter so repeated steal attempts
// from the same idle worker don't always hit the same victim first.
func (sch *Scheduler) steal(w *workerLoop) (schedulable, bool) {
	n := len(sch.workers)
	if n < 2 {
		return nil, false
	}

	round := w.round.Add(1)
	start := int(xxhash.Checksum64(append([]byte(uitoa(uint64(w.id))), byte(round))) % uint64(n))

	for i := 0; i < n; i++ {
		victim := sch.workers[(start+i)%n]
		if victim == w {
			continue
		}
		if task, ok := victim.queue.stealHead(); ok {
			return task, true
		}
	}
	return nil, false
}

// Stop signals every worker to exit once it finishes its current task and
// waits for them to do so. In-flight schedulables that still report "more"
// work after Stop is called are not resumed; the actor system's own
// shutdown sequence (§4.12) is responsible for draining mailboxes via dead
// letters.
func (sch *Scheduler) Stop() {
	sch.quitOnce.Do(func() {
		close(sch.quit)
	})
	sch.wakeAll()
	sch.wg.Wait()
}
