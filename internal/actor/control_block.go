package actor

import (
	"context"
	"sync"
)

// runState is the control block's coarse lifecycle state (spec.md §4.6
// "run-state: {spawning, running, terminating, terminated}").
type runState int32

const (
	stateSpawning runState = iota
	stateRunning
	stateTerminating
	stateTerminated
)

// linkEntry pairs a linked peer's address with whatever bookkeeping the
// exit-propagation path needs to reach it again (spec.md §4.6 "links are
// symmetric: if A links to B, either side's exit propagates to the other").
type linkEntry struct {
	addr Address
}

// monitorEntry records a one-directional watch: the watcher's address plus
// an opaque reference tag it can use to tell apart multiple monitors of the
// same target (spec.md §4.6 "monitor is one-directional: the watcher is
// notified of the target's exit, but not vice versa").
type monitorEntry struct {
	watcher Address
	ref     MessageID
}

// exitHook runs when a control block terminates, before the exit reason is
// published to links/monitors. Hooks are invoked in registration order;
// triggerExit runs them after releasing the control block's mutex, but
// attach on an already-terminated block runs the hook while still holding
// it, so a hook must not try to acquire it (spec.md §4.6 "attach(fn): fn
// runs on termination, before exit propagation").
type exitHook func(reason ExitReason)

// controlBlock is the non-generic heart of a live actor (spec.md §4.6,
// component C6). Unlike the teacher's generic Actor[M,R], controlBlock
// carries no message-type parameter: it is shared by EventActor and
// BlockingActor, and is what link/monitor/exit-propagation and the group
// registry (C11) traverse across actors of otherwise unrelated message
// types.
type controlBlock struct {
	id   ActorID
	addr Address

	// refs backs Address.Upgrade's weak-to-strong promotion. See
	// refcount.go.
	refs *refCount

	mu    sync.Mutex
	state runState

	links    map[ActorID]linkEntry
	monitors map[ActorID]monitorEntry

	hooks []exitHook

	// reason is set exactly once, by trigger_exit, and is read by
	// anyone observing this actor's death after the fact.
	reason   ExitReason
	reasonOK bool

	// enqueueFn delivers a payload into this actor's mailbox. It is
	// supplied by whichever concrete actor kind (event-based or
	// blocking) owns the control block, since the two use different
	// mailbox implementations.
	enqueueFn func(env mailboxEnvelope) error
}

// mailboxEnvelope is the type-erased unit of delivery into a controlBlock's
// mailbox: a Payload plus its message id and, for Ask-style sends, a
// promise to resolve with the reply (spec.md §4.5 "envelope = {message,
// message-id, optional reply-promise}").
type mailboxEnvelope struct {
	payload Payload
	id      MessageID
	reply   Promise[Payload]

	// replyTo is set on request envelopes routed purely by address and
	// message id (no direct Promise reference) — the path C8's request
	// ledger uses for actor-to-actor requests issued from inside a
	// behavior handler, as opposed to a Go caller's direct Ask.
	replyTo Address

	// callerCtx is the context the sender issued the send under, merged
	// with the target's own lifecycle context for the duration of
	// dispatch (mirrors the teacher's Actor[M,R].process/mergeContexts).
	// Nil means "use the target's own context only."
	callerCtx context.Context
}

// newControlBlock allocates a controlBlock in the spawning state. The
// caller (EventActor/BlockingActor construction) must call markRunning once
// the actor's goroutine/scheduling slot is actually live, and must install
// enqueueFn before any message can be delivered.
func newControlBlock() *controlBlock {
	addr := Address{Node: LocalNodeID(), ID: nextActorID()}
	cb := &controlBlock{
		id:       addr.ID,
		refs:     newRefCount(),
		state:    stateSpawning,
		links:    make(map[ActorID]linkEntry),
		monitors: make(map[ActorID]monitorEntry),
	}
	addr.local = &weakControlBlock{cb: cb}
	cb.addr = addr
	return cb
}

// Address returns this actor's address. Safe to call from any goroutine.
func (cb *controlBlock) Address() Address {
	return cb.addr
}

// markRunning transitions spawning -> running.
func (cb *controlBlock) markRunning() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateSpawning {
		cb.state = stateRunning
	}
}

// IsAlive reports whether the actor is not yet terminated.
func (cb *controlBlock) IsAlive() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state != stateTerminated
}

// enqueue delivers env into this actor's mailbox via the installed
// enqueueFn. Returns ErrActorTerminated if the actor has already exited.
func (cb *controlBlock) enqueue(env mailboxEnvelope) error {
	cb.mu.Lock()
	if cb.state == stateTerminated {
		cb.mu.Unlock()
		return ErrActorTerminated
	}
	fn := cb.enqueueFn
	cb.mu.Unlock()

	if fn == nil {
		return ErrActorTerminated
	}
	return fn(env)
}

// linkTo establishes a symmetric link between cb and peer (spec.md §4.6).
// Both sides record the other; if either already exited, the caller is
// notified immediately by synthesizing the exit into its own mailbox rather
// than silently succeeding, mirroring normal actor-model semantics for
// linking to an already-dead actor.
func linkTo(cb, peer *controlBlock) {
	cb.mu.Lock()
	selfDead := cb.state == stateTerminated
	if !selfDead {
		cb.links[peer.id] = linkEntry{addr: peer.addr}
	}
	cb.mu.Unlock()

	peer.mu.Lock()
	peerDead := peer.state == stateTerminated
	peerReason := peer.reason
	if !peerDead {
		peer.links[cb.id] = linkEntry{addr: cb.addr}
	}
	peer.mu.Unlock()

	if peerDead {
		notifyExit(cb, peer.addr, peerReason)
	}
}

// unlinkFrom removes a previously established link in both directions. It
// is a no-op if no such link exists.
func unlinkFrom(cb, peer *controlBlock) {
	cb.mu.Lock()
	delete(cb.links, peer.id)
	cb.mu.Unlock()

	peer.mu.Lock()
	delete(peer.links, cb.id)
	peer.mu.Unlock()
}

// monitorTarget registers watcher to be notified (one-directionally) of
// target's exit, tagged with ref so the watcher can correlate multiple
// monitors of the same target (spec.md §4.6). If target has already
// terminated, the exit is delivered immediately.
func monitorTarget(target *controlBlock, watcher Address, ref MessageID) {
	target.mu.Lock()
	dead := target.state == stateTerminated
	reason := target.reason
	if !dead {
		target.monitors[watcher.ID] = monitorEntry{watcher: watcher, ref: ref}
	}
	target.mu.Unlock()

	if dead {
		deliverDownNotification(watcher, target.addr, ref, reason)
	}
}

// demonitor cancels a previously registered monitor.
func demonitor(target *controlBlock, watcherID ActorID) {
	target.mu.Lock()
	delete(target.monitors, watcherID)
	target.mu.Unlock()
}

// attach registers fn to run at termination, before exit propagation.
func attach(cb *controlBlock, fn exitHook) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateTerminated {
		fn(cb.reason)
		return
	}
	cb.hooks = append(cb.hooks, fn)
}

// triggerExit finalizes cb's termination with reason: under the lock it
// transitions to terminated and snapshots the hooks and link/monitor sets;
// then, outside the lock, it runs the attached hooks and propagates the
// exit to every link and monitor
// (spec.md §4.6 "on termination: run hooks, then notify links and monitors
// with the exit reason").
func triggerExit(cb *controlBlock, reason ExitReason) {
	cb.mu.Lock()
	if cb.state == stateTerminated {
		cb.mu.Unlock()
		return
	}
	cb.state = stateTerminated
	cb.reason = reason
	cb.reasonOK = true

	hooks := cb.hooks
	cb.hooks = nil

	links := make([]Address, 0, len(cb.links))
	for _, l := range cb.links {
		links = append(links, l.addr)
	}
	monitors := make([]monitorEntry, 0, len(cb.monitors))
	for _, m := range cb.monitors {
		monitors = append(monitors, m)
	}
	cb.mu.Unlock()

	for _, hook := range hooks {
		hook(reason)
	}

	for _, peerAddr := range links {
		notifyExit(cb, peerAddr, reason)
	}
	for _, m := range monitors {
		deliverDownNotification(m.watcher, cb.addr, m.ref, reason)
	}

	cb.refs.release(func() {})
}

// ExitNotification is the message delivered to a linked peer when the other
// side of the link terminates (spec.md §4.6).
type ExitNotification struct {
	BaseMessage
	From   Address
	Reason ExitReason
}

// MessageType implements Message.
func (ExitNotification) MessageType() string { return "ExitNotification" }

// DownNotification is the message delivered to a monitor's watcher when the
// monitored target terminates (spec.md §4.6). Ref lets a watcher monitoring
// the same target more than once tell the notifications apart.
type DownNotification struct {
	BaseMessage
	From   Address
	Ref    MessageID
	Reason ExitReason
}

// MessageType implements Message.
func (DownNotification) MessageType() string { return "DownNotification" }

// notifyExit delivers an ExitNotification to peerAddr's mailbox if it is
// still local and alive; remote peers are out of scope for this in-process
// control block (the transport layer owns remote exit propagation).
//
// spec.md §8 P4 describes a peer that auto-terminates with the same reason
// unless it traps exits; this implementation instead always delivers the
// notification as an ordinary message and leaves termination to the
// receiving behavior's own choice (see DESIGN.md's Open Questions for why
// auto-terminating here would race the scheduler's own dispatch of this
// notification).
func notifyExit(from *controlBlock, peerAddr Address, reason ExitReason) {
	peerCB := peerAddr.resolveControlBlock()
	if peerCB == nil {
		return
	}
	payload := NewPayload(ExitNotification{From: from.addr, Reason: reason})
	_ = peerCB.enqueue(mailboxEnvelope{
		payload: payload,
		id:      NewMessageID(false, KindAsync, nextSequence()),
	})
}

// deliverDownNotification delivers a DownNotification to watcher's mailbox.
func deliverDownNotification(watcher Address, from Address, ref MessageID, reason ExitReason) {
	watcherCB := watcher.resolveControlBlock()
	if watcherCB == nil {
		return
	}
	payload := NewPayload(DownNotification{From: from, Ref: ref, Reason: reason})
	_ = watcherCB.enqueue(mailboxEnvelope{
		payload: payload,
		id:      NewMessageID(false, KindAsync, nextSequence()),
	})
}
