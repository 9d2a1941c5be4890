package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// eventTaskState is the CAS-driven scheduling state machine spec.md §4.9
// describes for a schedulable: idle (no worker owns it), scheduled
// (queued, waiting for a worker), running (a worker is actively draining
// its mailbox). A running actor that drains its mailbox empty re-checks
// for a race before dropping to idle, so an enqueue that lands exactly
// between "mailbox looked empty" and "state set to idle" is never lost.
type eventTaskState int32

const (
	eventIdle eventTaskState = iota
	eventScheduled
	eventRunning
)

// runtimeContextKey is the context.Context key an EventActor's dispatch
// loop uses to hand its behavior handlers an ActorRuntime (spec.md §4.13
// "Overloads provide become, delayed_send, request, and link_to
// wrappers").
type runtimeContextKey struct{}

// RuntimeFromContext recovers the ActorRuntime installed by the currently
// dispatching EventActor, for use inside a Handler. It returns (nil, false)
// when called outside of a dispatch (e.g. from a BlockingActor's receive,
// which has no implicit runtime context).
func RuntimeFromContext(ctx context.Context) (*ActorRuntime, bool) {
	rt, ok := ctx.Value(runtimeContextKey{}).(*ActorRuntime)
	return rt, ok
}

// ActorRuntime is the handle a behavior Handler uses to act on its own
// actor's identity and lifecycle: become/unbecome, send a delayed message
// to itself or another actor, issue a correlated request to another actor,
// or look up its own address (spec.md §4.13).
type ActorRuntime struct {
	cb        *controlBlock
	behaviors *BehaviorStack
	ledger    *requestLedger
	timers    *TimerService
}

// Self returns this actor's own address.
func (rt *ActorRuntime) Self() Address {
	return rt.cb.addr
}

// Become replaces the actor's current behavior.
func (rt *ActorRuntime) Become(b *Behavior) {
	rt.behaviors.Become(b)
}

// BecomeKeep pushes a new behavior, preserving the current one for a later
// Unbecome.
func (rt *ActorRuntime) BecomeKeep(b *Behavior) {
	rt.behaviors.BecomeKeep(b)
}

// Unbecome restores the behavior active before the last BecomeKeep.
func (rt *ActorRuntime) Unbecome() {
	rt.behaviors.Unbecome()
}

// DelayedSend schedules payload for delivery to target after d elapses
// (spec.md §4.13 "delayed_send (timer + mailbox)").
func (rt *ActorRuntime) DelayedSend(d time.Duration, target Address, payload Payload) TimerHandle {
	return rt.timers.After(d, func() {
		if cb := target.resolveControlBlock(); cb != nil {
			_ = cb.enqueue(mailboxEnvelope{
				payload: payload,
				id:      NewMessageID(false, KindAsync, nextSequence()),
			})
		}
	})
}

// Request sends payload to target and returns a Future that resolves with
// the correlated response or ErrRequestTimeout (spec.md §4.8's ledger,
// exposed to behavior code via §4.13's "request" wrapper).
func (rt *ActorRuntime) Request(target Address, payload Payload, timeout time.Duration) Future[Payload] {
	reqID := NewMessageID(false, KindRequest, nextSequence())
	future := rt.ledger.register(reqID, timeout)

	targetCB := target.resolveControlBlock()
	if targetCB == nil {
		rt.ledger.resolve(reqID.Sequence(), fn.Err[Payload](ErrNoSuchActor))
		return future
	}

	err := targetCB.enqueue(mailboxEnvelope{
		payload: payload,
		id:      reqID,
		replyTo: rt.cb.addr,
	})
	if err != nil {
		rt.ledger.resolve(reqID.Sequence(), fn.Err[Payload](err))
	}

	return future
}

// LinkTo establishes a symmetric link with target's actor (spec.md §4.13's
// "link_to" wrapper).
func (rt *ActorRuntime) LinkTo(target Address) {
	if peer := target.resolveControlBlock(); peer != nil {
		linkTo(rt.cb, peer)
	}
}

// EventActor is the standard, scheduler-driven actor (spec.md §4.13,
// component C13): a control block (C6), a priority mailbox (C5), a
// behavior stack (C7), correlated requests tracked in a ledger (C8), all
// resumed cooperatively by a Scheduler (C9). Unlike the teacher's generic
// Actor[M,R], EventActor speaks exclusively in Payload (C4) so that
// link/monitor/exit propagation and the group registry can traverse actors
// regardless of what application-level message types they were built to
// handle.
type EventActor struct {
	cb        *controlBlock
	mailbox   *priorityMailbox
	behaviors *BehaviorStack
	scheduler *Scheduler
	ledger    *requestLedger
	timers    *TimerService
	runtime   *ActorRuntime
	dlo       *controlBlock

	state    atomic.Int32
	sysCtx   context.Context
	stopOnce sync.Once
}

// EventActorConfig bundles what NewEventActor needs from the owning actor
// system.
type EventActorConfig struct {
	Initial    *Behavior
	Scheduler  *Scheduler
	Timers     *TimerService
	MailboxCap int
	DeadLetter *controlBlock
	SysCtx     context.Context
}

// NewEventActor allocates a control block and wires it to a fresh priority
// mailbox, behavior stack, and request ledger, placing the actor in the
// scheduler's idle state (spec.md §4.12 "places the actor in scheduler
// idle, and returns a handle"). It does not schedule the actor; that
// happens the first time a message is enqueued.
func NewEventActor(cfg EventActorConfig) *EventActor {
	cb := newControlBlock()
	sysCtx := cfg.SysCtx
	if sysCtx == nil {
		sysCtx = context.Background()
	}

	ea := &EventActor{
		cb:        cb,
		mailbox:   newPriorityMailbox(cfg.MailboxCap),
		behaviors: NewBehaviorStack(cfg.Initial),
		scheduler: cfg.Scheduler,
		ledger:    newRequestLedger(cfg.Timers),
		timers:    cfg.Timers,
		dlo:       cfg.DeadLetter,
		sysCtx:    sysCtx,
	}
	ea.runtime = &ActorRuntime{
		cb:        cb,
		behaviors: ea.behaviors,
		ledger:    ea.ledger,
		timers:    ea.timers,
	}

	cb.enqueueFn = func(env mailboxEnvelope) error {
		return ea.enqueue(env)
	}
	cb.markRunning()

	return ea
}

// Address returns this actor's address.
func (ea *EventActor) Address() Address {
	return ea.cb.addr
}

// enqueue routes env into the priority mailbox by message kind and wakes
// the scheduler if the actor was idle.
func (ea *EventActor) enqueue(env mailboxEnvelope) error {
	var err error
	switch {
	case env.id.Kind() == KindResponse:
		err = ea.mailbox.enqueueAwaited(env)
	case env.id.Urgent():
		err = ea.mailbox.enqueueUrgent(env)
	default:
		err = ea.mailbox.enqueueNormal(env)
	}
	if err != nil {
		return err
	}
	ea.trySchedule()
	return nil
}

// trySchedule transitions idle -> scheduled and, if it won that race,
// enqueues this actor onto the Scheduler.
func (ea *EventActor) trySchedule() {
	if ea.state.CompareAndSwap(int32(eventIdle), int32(eventScheduled)) {
		ea.scheduler.Schedule(ea.cb.id, ea)
	}
}

// Tell sends payload to this actor without waiting for a reply.
func (ea *EventActor) Tell(ctx context.Context, payload Payload, urgent bool) error {
	id := NewMessageID(urgent, KindAsync, nextSequence())
	return ea.cb.enqueue(mailboxEnvelope{payload: payload, id: id, callerCtx: ctx})
}

// Ask sends payload to this actor and returns a Future resolved with the
// dispatch result once the actor's behavior handles it (spec.md §6
// "request(target, args…, timeout) → awaitable<result>", the direct,
// promise-backed form used by Go callers outside the actor model; compare
// ActorRuntime.Request, the ledger-backed form used by one actor calling
// another from inside a handler).
func (ea *EventActor) Ask(ctx context.Context, payload Payload, urgent bool) Future[Payload] {
	promise := NewPromise[Payload]()
	id := NewMessageID(urgent, KindRequest, nextSequence())
	err := ea.cb.enqueue(mailboxEnvelope{
		payload: payload, id: id, reply: promise, callerCtx: ctx,
	})
	if err != nil {
		promise.Complete(fn.Err[Payload](err))
	}
	return promise.Future()
}

// runSlice implements schedulable: it processes up to throughput messages
// from the mailbox, dispatching each through the current behavior, then
// decides whether to keep running (more work queued) or drop back to idle.
func (ea *EventActor) runSlice(throughput int) bool {
	ea.state.Store(int32(eventRunning))

	processed := 0
	for processed < throughput {
		env, ok := ea.mailbox.tryDequeue()
		if !ok {
			break
		}
		ea.dispatch(env)
		processed++
	}

	if ea.mailbox.hasWork() {
		return true
	}

	ea.state.Store(int32(eventIdle))
	if ea.mailbox.hasWork() {
		if ea.state.CompareAndSwap(int32(eventIdle), int32(eventScheduled)) {
			return true
		}
	}
	return false
}

// dispatch runs one envelope through the behavior stack (or, for a
// correlated response, resolves it via the request ledger instead) and
// routes the result back to whichever reply mechanism the sender used.
func (ea *EventActor) dispatch(env mailboxEnvelope) {
	if env.id.Kind() == KindResponse {
		if !ea.ledger.resolveResponse(env.id, env.payload) && ea.dlo != nil {
			_ = ea.dlo.enqueue(env)
		}
		return
	}

	baseCtx := ea.sysCtx
	if env.callerCtx != nil {
		baseCtx = env.callerCtx
	}
	dispatchCtx := context.WithValue(baseCtx, runtimeContextKey{}, ea.runtime)

	result, _, err := ea.behaviors.Current().Match(dispatchCtx, env.payload)

	if env.reply != nil {
		if err != nil {
			env.reply.Complete(fn.Err[Payload](err))
		} else {
			env.reply.Complete(fn.Ok(result))
		}
		return
	}

	if env.id.Kind() == KindRequest && !env.replyTo.IsZero() {
		respPayload := result
		if respPayload == nil {
			respPayload = NewPayload()
		}
		if targetCB := env.replyTo.resolveControlBlock(); targetCB != nil {
			_ = targetCB.enqueue(mailboxEnvelope{
				payload: respPayload,
				id:      env.id.AsResponse(),
			})
		}
	}
}

// Stop terminates the actor with reason, closing its mailbox and draining
// any remaining envelopes to its configured dead-letter sink.
func (ea *EventActor) Stop(reason ExitReason) {
	ea.stopOnce.Do(func() {
		ea.mailbox.close()
		ea.ledger.cancelAll()

		for _, env := range ea.mailbox.drain() {
			if env.reply != nil {
				env.reply.Complete(fn.Err[Payload](ErrActorTerminated))
				continue
			}
			if ea.dlo != nil {
				_ = ea.dlo.enqueue(env)
			}
		}

		triggerExit(ea.cb, reason)
	})
}
