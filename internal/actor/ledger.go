package actor

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// requestLedger tracks outstanding Ask-style request/response correlations
// for one actor (spec.md §4.8, component C8): a map from the request's
// MessageID sequence to the continuation that resolves when the matching
// response arrives, plus a timer that resolves it with ErrRequestTimeout if
// the response never comes. Resolution happens exactly once per request,
// whichever of "response arrived" or "timer fired" wins the race (spec.md
// §8 P2: "every request is resolved exactly once, by response or by
// timeout, never both").
type requestLedger struct {
	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	timers  *TimerService
}

// pendingRequest bundles a request's promise with the timer handle guarding
// it, so a response arrival can cancel the timeout and vice versa.
type pendingRequest struct {
	promise Promise[Payload]
	timer   TimerHandle
	done    bool
}

// newRequestLedger builds a ledger backed by the given shared TimerService
// (typically the actor system's single TimerService instance).
func newRequestLedger(timers *TimerService) *requestLedger {
	return &requestLedger{
		pending: make(map[uint64]*pendingRequest),
		timers:  timers,
	}
}

// register records a new outstanding request keyed by req's sequence
// number, arms a timeout that resolves the promise with ErrRequestTimeout
// if it fires first, and returns the Future the caller should await.
func (l *requestLedger) register(req MessageID, timeout time.Duration) Future[Payload] {
	promise := NewPromise[Payload]()
	seq := req.Sequence()

	entry := &pendingRequest{promise: promise}

	l.mu.Lock()
	l.pending[seq] = entry
	l.mu.Unlock()

	entry.timer = l.timers.After(timeout, func() {
		l.resolve(seq, fn.Err[Payload](ErrRequestTimeout))
	})

	return promise.Future()
}

// resolveResponse is called when a KindResponse envelope arrives; it looks
// up the pending request by sequence and resolves it with the payload,
// cancelling the timeout. Returns false if no such request is outstanding
// (already resolved, or the sequence is unknown — e.g. a duplicate or
// stale response), in which case the caller should route the response to
// dead letters.
func (l *requestLedger) resolveResponse(resp MessageID, payload Payload) bool {
	return l.resolve(resp.Sequence(), fn.Ok(payload))
}

// resolve completes the pending request for seq, if any and not already
// completed, and removes it from the ledger.
func (l *requestLedger) resolve(seq uint64, result fn.Result[Payload]) bool {
	l.mu.Lock()
	entry, ok := l.pending[seq]
	if ok {
		if entry.done {
			l.mu.Unlock()
			return false
		}
		entry.done = true
		delete(l.pending, seq)
	}
	l.mu.Unlock()

	if !ok {
		return false
	}

	entry.timer.Cancel()
	return entry.promise.Complete(result)
}

// cancelAll resolves every outstanding request with ErrActorTerminated, for
// use when the owning actor shuts down with unresolved Asks still pending
// (spec.md §8 P11: "on shutdown, every outstanding request this actor owns
// is resolved, never left hanging").
func (l *requestLedger) cancelAll() {
	l.mu.Lock()
	entries := make([]*pendingRequest, 0, len(l.pending))
	for seq, e := range l.pending {
		entries = append(entries, e)
		delete(l.pending, seq)
	}
	l.mu.Unlock()

	for _, e := range entries {
		e.timer.Cancel()
		e.promise.Complete(fn.Err[Payload](ErrActorTerminated))
	}
}

// outstanding reports how many requests are currently unresolved, mostly
// for tests and diagnostics.
func (l *requestLedger) outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
