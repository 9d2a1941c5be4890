package actor

import (
	"context"
	"fmt"
	"iter"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrActorTerminated is returned for an operation against an actor that has
// already shut down, whether a typed Actor[M,R] or an untyped
// EventActor/BlockingActor.
var ErrActorTerminated = fmt.Errorf("actor terminated")

// ErrServiceKeyTypeMismatch indicates a Receptionist registration reused a
// service key name with a different message or response type.
var ErrServiceKeyTypeMismatch = fmt.Errorf("service key type mismatch")

// BaseMessage embeds into message types defined outside this package to
// satisfy Message's unexported messageMarker method.
type BaseMessage struct{}

func (BaseMessage) messageMarker() {}

// Message seals the set of types an Actor[M,R] can receive: only types that
// embed BaseMessage (or live in this package) can implement it.
type Message interface {
	messageMarker()

	// MessageType names the concrete message type for routing/logging.
	MessageType() string
}

// PriorityMessage lets a mailbox order messages by something other than
// arrival order — distinct from the bit-packed urgent flag EventActor's
// MessageID carries, since a typed Actor[M,R] has no MessageID of its own.
type PriorityMessage interface {
	Message

	// Priority ranks this message against others in the same mailbox;
	// higher runs first.
	Priority() int
}

// Future is the typed counterpart to the untyped Future[Payload] the
// scheduler hands back from EventActor.Ask — same Await/ThenApply/OnComplete
// shape, parameterized over a service's concrete response type R instead.
type Future[T any] interface {
	Await(ctx context.Context) fn.Result[T]

	// ThenApply chains a transform onto this future without mutating it,
	// returning a new Future that also observes ctx's cancellation.
	ThenApply(ctx context.Context, fn func(T) T) Future[T]

	// OnComplete registers fn to run once the result lands, or once ctx
	// is cancelled (with the context's error).
	OnComplete(ctx context.Context, fn func(fn.Result[T]))
}

// Promise is the write side of a Future: whoever computes the result calls
// Complete; whoever is waiting calls Future().Await.
type Promise[T any] interface {
	Future() Future[T]

	// Complete sets the result if nothing already has; the return value
	// tells the caller whether its value was the one that stuck.
	Complete(result fn.Result[T]) bool
}

// BaseActorRef is the untyped handle every ActorRef implements, letting the
// Receptionist store heterogeneous service registrations in one map while
// TellOnlyRef/ActorRef's generic parameters keep call sites type-safe.
type BaseActorRef interface {
	ID() string
}

// TellOnlyRef restricts a reference to fire-and-forget sends — handed to
// callers that shouldn't get Ask's request/response capability.
type TellOnlyRef[M Message] interface {
	BaseActorRef

	Tell(ctx context.Context, msg M)
}

// ActorRef is a full reference: Tell plus Ask/Future request-response.
type ActorRef[M Message, R any] interface {
	TellOnlyRef[M]

	Ask(ctx context.Context, msg M) Future[R]
}

// ActorBehavior is the strategy an Actor[M,R] runs against each message it
// pulls off its mailbox.
type ActorBehavior[M Message, R any] interface {
	// Receive runs against a context merging the actor's lifecycle with
	// the caller's request deadline (Ask only; a Tell's ctx is not
	// merged in, since a fire-and-forget send has no result to bound).
	Receive(ctx context.Context, msg M) fn.Result[R]
}

// Stoppable lets an ActorBehavior release external resources — connections,
// file handles, subprocesses — once its Actor's mailbox has drained.
type Stoppable interface {
	// OnStop runs after the process loop exits, before the goroutine
	// returns, bounded by ActorConfig.CleanupTimeout.
	OnStop(ctx context.Context) error
}

// SystemContext is the narrow slice of ActorSystem a ServiceKey needs to
// resolve and register refs, kept separate so tests can supply a fake
// without standing up a full ActorSystem.
type SystemContext interface {
	Receptionist() *Receptionist

	// DeadLetters returns the typed-service DLO; EventActor/BlockingActor
	// sends instead go through ActorSystem's own dead-letter path in
	// system.go.
	DeadLetters() ActorRef[Message, any]
}

// Mailbox defines the interface for an actor's message queue. This abstraction
// allows different mailbox strategies to be plugged in, such as priority
// queues, durable on-disk queues, or backpressure-aware mailboxes, without
// changing the actor implementation.
//
// Thread Safety:
//   - Send and TrySend may be called concurrently from multiple goroutines.
//   - Receive should only be called from a single goroutine (the actor's
//     process loop).
//   - Close may be called concurrently with Send/TrySend and is idempotent.
//   - IsClosed may be called concurrently from any goroutine.
//   - Drain should only be called after Close and from a single goroutine.
//   - Send and TrySend return false after Close has been called.
type Mailbox[M Message, R any] interface {
	// Send attempts to send an envelope to the mailbox, blocking until
	// either the envelope is accepted, the provided context is cancelled,
	// or the actor's context is cancelled. It returns true if the envelope
	// was successfully sent, false otherwise.
	Send(ctx context.Context, env envelope[M, R]) bool

	// TrySend attempts to send an envelope to the mailbox without
	// blocking. It returns true if the envelope was successfully sent,
	// false if the mailbox is full or closed.
	TrySend(env envelope[M, R]) bool

	// Receive returns an iterator over envelopes in the mailbox. The
	// iterator will block when the mailbox is empty and yield envelopes as
	// they arrive. The iterator will stop when the provided context is
	// cancelled or when the mailbox is closed.
	Receive(ctx context.Context) iter.Seq[envelope[M, R]]

	// Close closes the mailbox, preventing any further sends. After
	// closing, Receive will yield any remaining envelopes and then stop.
	Close()

	// IsClosed returns true if the mailbox has been closed.
	IsClosed() bool

	// Drain returns an iterator over any remaining envelopes in the
	// mailbox after it has been closed. This is useful for cleanup logic
	// during actor shutdown.
	Drain() iter.Seq[envelope[M, R]]
}
