package actor

import "sync"

// fibreState mirrors the lifecycle cppa_fibre_struct tracks in
// original_source/blob/cppa_fibre.{h,c} (m_state: invalid, ready, running,
// done). Go has no ucontext/swapcontext primitive to borrow, so fibre
// re-expresses the same caller/callee handoff as a dedicated goroutine
// paired with two unbuffered channels: one carries control into the fibre,
// the other carries it back out. Exactly one side runs at a time, which is
// what the original's thread-local s_callee/s_caller bookkeeping also
// guarantees.
type fibreState int32

const (
	fibreReady fibreState = iota
	fibreRunning
	fibreDone
)

// fibreFunc is the body a fibre runs, analogous to cppa_fibre's m_fun. It
// receives a yield callback it can call any number of times to hand control
// back to its switcher, each time carrying an opaque value (the
// original's cppa_fibre_yield's argument, recovered on the other side via
// cppa_fibre_yielded_value).
type fibreFunc func(yield func(value any) (resume any))

// fibre is the Go stand-in for cppa_fibre_struct: a suspend/resume
// primitive built on a dedicated goroutine. No actor kind in this package
// constructs one; BlockingActor runs on a goroutine its caller owns.
type fibre struct {
	toFibre   chan any
	fromFibre chan any

	mu    sync.Mutex
	state fibreState
}

// newFibre constructs a fibre and immediately starts its backing goroutine,
// mirroring cppa_fibre_ctor + cppa_fibre_initialize (which mmaps a stack and
// calls makecontext before the fibre ever runs). The goroutine blocks
// immediately on toFibre until the first Switch.
func newFibre(body fibreFunc) *fibre {
	f := &fibre{
		toFibre:   make(chan any),
		fromFibre: make(chan any),
		state:     fibreReady,
	}

	go func() {
		initArg := <-f.toFibre

		yield := func(value any) any {
			f.fromFibre <- value
			return <-f.toFibre
		}

		body(func(value any) any {
			return yield(value)
		})
		_ = initArg

		f.mu.Lock()
		f.state = fibreDone
		f.mu.Unlock()
		close(f.fromFibre)
	}()

	return f
}

// Switch hands control to the fibre with arg as the resume value of its
// pending yield (the first Switch's arg only starts the body and is
// discarded, since fibreFunc takes no initial argument), blocks until
// the fibre either yields or returns, and reports the value the fibre
// yielded along with whether the fibre is still alive. This is the Go
// analogue of cppa_fibre_switch: the original swapcontexts into
// m_context and records s_callee/s_caller; here the "context" is simply
// "whichever goroutine currently holds the baton," enforced by the
// channel handoff rather than by saved CPU register state.
func (f *fibre) Switch(arg any) (yielded any, alive bool) {
	f.mu.Lock()
	if f.state == fibreDone {
		f.mu.Unlock()
		return nil, false
	}
	f.state = fibreRunning
	f.mu.Unlock()

	f.toFibre <- arg
	value, ok := <-f.fromFibre

	f.mu.Lock()
	if f.state != fibreDone {
		f.state = fibreReady
	}
	f.mu.Unlock()

	if !ok {
		return nil, false
	}
	return value, true
}

// Alive reports whether the fibre's body has not yet returned, i.e.
// whether a future Switch could still resume it.
func (f *fibre) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != fibreDone
}
