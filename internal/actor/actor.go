package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// mergeContexts derives a context that cancels when either parent does,
// keeping the actor's own lifecycle context and a caller's per-request
// deadline both binding at once — the same merge a BlockingActor's Ask path
// (blocking_actor.go) needs between its controlBlock context and the
// request's ctx. ctx1 is used as the base so its deadline wins ties; ctx2's
// cancellation is watched via context.AfterFunc rather than a dedicated
// select goroutine, since AfterFunc only spawns a goroutine (to run cancel)
// once ctx2 is actually done.
func mergeContexts(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	mergedCtx, cancel := context.WithCancel(ctx1)

	stop := context.AfterFunc(ctx2, cancel)
	return mergedCtx, func() {
		stop()
		cancel()
	}
}

// defaultActorCleanupTimeout bounds how long an Actor's OnStop hook may run
// during shutdown when ActorConfig.CleanupTimeout is left unset.
const defaultActorCleanupTimeout = 5 * time.Second

// ActorConfig creates a typed, dedicated-goroutine Actor[M,R] — the
// Receptionist-registered service layer (see RegisterWithSystem in
// system.go) that sits alongside the untyped EventActor/BlockingActor pair
// spec.md's scheduler drives. Service-key lookups, routing strategies
// (router.go), and a Group's intermediary (group.go) all address actors
// through this typed ActorRef, not through raw ActorID.
type ActorConfig[M Message, R any] struct {
	// ID is the unique identifier for the actor.
	ID string

	// Behavior defines how the actor responds to messages.
	Behavior ActorBehavior[M, R]

	// DLO receives messages this actor could not deliver — drained
	// mailbox contents at shutdown, and Tell/Ask failures attributable
	// to the actor rather than the caller.
	DLO ActorRef[Message, any]

	// MailboxSize defines the buffer capacity of the actor's mailbox.
	MailboxSize int

	// Wg, if set, is Add(1)'d on Start and Done()'d when the process
	// loop exits, letting a caller block until every registered actor
	// has fully drained.
	Wg *sync.WaitGroup

	// CleanupTimeout bounds OnStop; defaultActorCleanupTimeout applies
	// when unset.
	CleanupTimeout fn.Option[time.Duration]
}

// envelope pairs a message with the promise an Ask is waiting on (nil for a
// Tell) and the caller's context, so a blocked Ask can still observe its own
// deadline independently of the actor's lifecycle context.
type envelope[M Message, R any] struct {
	message   M
	promise   Promise[R]
	callerCtx context.Context
}

// Actor runs a single behavior against messages pulled off its mailbox
// sequentially, on one dedicated goroutine — the same one-goroutine-per-actor
// discipline BlockingActor (blocking_actor.go) uses for the untyped surface,
// specialized here to a typed Message/response pair.
type Actor[M Message, R any] struct {
	// id is the unique identifier for the actor.
	id string

	// behavior defines how the actor responds to messages.
	behavior ActorBehavior[M, R]

	// mailbox is the incoming message queue for the actor.
	mailbox Mailbox[M, R]

	// ctx is the context governing the actor's lifecycle.
	ctx context.Context

	// cancel is the function to cancel the actor's context.
	cancel context.CancelFunc

	// dlo is a reference to the dead letter office for this actor system.
	dlo ActorRef[Message, any]

	// wg is an optional WaitGroup for tracking this actor's lifecycle. If
	// non-nil, Done() is called when the process loop exits.
	wg *sync.WaitGroup

	// cleanupTimeout is the maximum duration for OnStop cleanup.
	cleanupTimeout time.Duration

	// startOnce ensures the actor's processing loop is started only once.
	startOnce sync.Once

	// stopOnce ensures the actor's processing loop is stopped only once.
	stopOnce sync.Once

	// ref is the cached ActorRef for this actor.
	ref ActorRef[M, R]
}

// NewActor builds an Actor from cfg. Start must be called separately to
// begin processing.
func NewActor[M Message, R any](cfg ActorConfig[M, R]) *Actor[M, R] {
	ctx, cancel := context.WithCancel(context.Background())

	mailboxCapacity := cfg.MailboxSize
	if mailboxCapacity <= 0 {
		mailboxCapacity = 1
	}

	actor := &Actor[M, R]{
		id:             cfg.ID,
		behavior:       cfg.Behavior,
		mailbox:        NewChannelMailbox[M, R](ctx, mailboxCapacity),
		ctx:            ctx,
		cancel:         cancel,
		dlo:            cfg.DLO,
		wg:             cfg.Wg,
		cleanupTimeout: cfg.CleanupTimeout.UnwrapOr(defaultActorCleanupTimeout),
	}

	actor.ref = &actorRefImpl[M, R]{
		actor: actor,
	}

	return actor
}

// Start launches the actor's processing goroutine. Safe to call more than
// once; only the first call has effect.
func (a *Actor[M, R]) Start() {
	a.startOnce.Do(func() {
		log.DebugS(a.ctx, "Starting actor", "actor_id", a.id)

		if a.wg != nil {
			a.wg.Add(1)
		}
		go a.process()
	})
}

// process runs until a.ctx is cancelled, then drains the mailbox to the DLO
// and runs any Stoppable cleanup before returning.
func (a *Actor[M, R]) process() {
	if a.wg != nil {
		defer a.wg.Done()
	}

	for env := range a.mailbox.Receive(a.ctx) {
		// Ask messages merge the actor's and caller's contexts so a
		// slow caller's own deadline still applies; a Tell, once
		// enqueued, runs to completion regardless of the caller.
		var processCtx context.Context
		var cancel context.CancelFunc
		if env.promise != nil {
			processCtx, cancel = mergeContexts(a.ctx, env.callerCtx)
		} else {
			processCtx = a.ctx
			cancel = func() {}
		}

		log.TraceS(processCtx, "Actor processing message",
			"actor_id", a.id,
			"msg_type", env.message.MessageType(),
			"is_ask", env.promise != nil)

		result := a.behavior.Receive(processCtx, env.message)

		cancel()

		if env.promise != nil {
			env.promise.Complete(result)
		}
	}

	a.mailbox.Close()

	drainedCount := 0
	for env := range a.mailbox.Drain() {
		drainedCount++

		log.TraceS(a.ctx, "Draining message from terminated actor",
			"actor_id", a.id,
			"msg_type", env.message.MessageType(),
			"has_dlo", a.dlo != nil)

		if a.dlo != nil {
			a.dlo.Tell(context.Background(), env.message)
		}

		if env.promise != nil {
			env.promise.Complete(fn.Err[R](ErrActorTerminated))
		}
	}

	if stoppable, ok := a.behavior.(Stoppable); ok {
		cleanupCtx, cancel := context.WithTimeout(
			context.Background(), a.cleanupTimeout,
		)
		defer cancel()

		if err := stoppable.OnStop(cleanupCtx); err != nil {
			log.WarnS(a.ctx, "Actor cleanup error during shutdown",
				err, "actor_id", a.id)
		}
	}

	log.DebugS(a.ctx, "Actor terminated",
		"actor_id", a.id,
		"drained_messages", drainedCount)
}

// Stop cancels the actor's context, triggering process's drain-and-cleanup
// path on its own goroutine. Send checks the actor's context before
// enqueuing, so no message can be accepted after Stop without also being
// seen by the drain loop.
func (a *Actor[M, R]) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
	})
}

// actorRefImpl is the ActorRef/TellOnlyRef implementation handed out by
// Actor.Ref/TellRef.
type actorRefImpl[M Message, R any] struct {
	actor *Actor[M, R]
}

// Tell enqueues msg without waiting for a response; it may be dropped if ctx
// is cancelled before the mailbox accepts it.
func (ref *actorRefImpl[M, R]) Tell(ctx context.Context, msg M) {
	log.TraceS(ctx, "Sending Tell message",
		"actor_id", ref.actor.id,
		"msg_type", msg.MessageType())

	env := envelope[M, R]{
		message:   msg,
		promise:   nil,
		callerCtx: ctx,
	}
	ok := ref.actor.mailbox.Send(ctx, env)

	// Route actor-side failures (termination, mailbox closure) to the
	// DLO; a caller-cancelled send is dropped, not revived via the DLO.
	if !ok {
		if ctx.Err() == nil || ref.actor.ctx.Err() != nil {
			log.DebugS(ctx, "Tell failed, routing to DLO",
				"actor_id", ref.actor.id,
				"msg_type", msg.MessageType())

			ref.trySendToDLO(msg)
		} else {
			log.TraceS(ctx, "Tell failed, caller cancelled",
				"actor_id", ref.actor.id,
				"msg_type", msg.MessageType())
		}
	}
}

// Ask enqueues msg and returns a Future completed with the behavior's reply,
// or an error if the send itself never reaches the mailbox.
func (ref *actorRefImpl[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	log.TraceS(ctx, "Sending Ask message",
		"actor_id", ref.actor.id,
		"msg_type", msg.MessageType())

	promise := NewPromise[R]()

	if ref.actor.ctx.Err() != nil {
		log.DebugS(ctx, "Ask failed, actor already terminated",
			"actor_id", ref.actor.id,
			"msg_type", msg.MessageType())

		promise.Complete(fn.Err[R](ErrActorTerminated))
		return promise.Future()
	}

	env := envelope[M, R]{
		message:   msg,
		promise:   promise,
		callerCtx: ctx,
	}
	ok := ref.actor.mailbox.Send(ctx, env)

	if !ok {
		// Actor termination takes precedence over caller cancellation
		// when both are plausible explanations for the failed send.
		if ref.actor.ctx.Err() != nil {
			promise.Complete(fn.Err[R](ErrActorTerminated))
		} else {
			err := ctx.Err()
			if err == nil {
				err = ErrActorTerminated
			}

			promise.Complete(fn.Err[R](err))
		}
	}

	return promise.Future()
}

// trySendToDLO fire-and-forgets msg to the actor's DLO, if configured.
func (ref *actorRefImpl[M, R]) trySendToDLO(msg M) {
	if ref.actor.dlo != nil {
		ref.actor.dlo.Tell(context.Background(), msg)
	}
}

// ID returns the unique identifier for this actor.
func (ref *actorRefImpl[M, R]) ID() string {
	return ref.actor.id
}

// Ref returns a location-transparent handle to this actor.
func (a *Actor[M, R]) Ref() ActorRef[M, R] {
	return a.ref
}

// TellRef narrows Ref to fire-and-forget sends only.
func (a *Actor[M, R]) TellRef() TellOnlyRef[M] {
	return a.ref
}
