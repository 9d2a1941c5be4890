package actor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrNoActorsAvailable is returned by a RoutingStrategy given no candidate
// refs to choose from.
var ErrNoActorsAvailable = errors.New("no actors available for the service key")

// functionBehavior adapts a plain function into an ActorBehavior, for
// actors simple enough not to warrant their own named type (spec.md §4.12's
// dead-letter actor is the canonical example: "return an error naming the
// undeliverable message's type").
type functionBehavior[M Message, R any] struct {
	fn func(ctx context.Context, msg M) fn.Result[R]
}

// Receive implements ActorBehavior.
func (f functionBehavior[M, R]) Receive(ctx context.Context, msg M) fn.Result[R] {
	return f.fn(ctx, msg)
}

// NewFunctionBehavior builds an ActorBehavior[M,R] from a plain function,
// for actors whose entire logic fits in a single closure.
func NewFunctionBehavior[M Message, R any](
	fn func(ctx context.Context, msg M) fn.Result[R],
) ActorBehavior[M, R] {
	return functionBehavior[M, R]{fn: fn}
}

// RoutingStrategy picks one ref from a non-empty slice of candidates every
// time a ServiceKey-backed router needs to forward a message (spec.md §4.12
// "a service key resolves to a virtual ref load-balancing across every
// actor registered under that name"). Implementations may be stateful
// (round-robin) or stateless (random, first-available).
type RoutingStrategy[M Message, R any] interface {
	// Select returns the chosen target from refs, or an error (such as
	// ErrNoActorsAvailable) if none can be chosen.
	Select(refs []ActorRef[M, R]) (ActorRef[M, R], error)
}

// roundRobinStrategy cycles through candidates in registration order,
// wrapping around. The counter is shared across all calls, so concurrent
// routers built over the same strategy instance still distribute fairly.
type roundRobinStrategy[M Message, R any] struct {
	next atomic.Uint64
}

// NewRoundRobinStrategy returns the default RoutingStrategy used by
// ServiceKey.Ref when no WithStrategy option is given.
func NewRoundRobinStrategy[M Message, R any]() RoutingStrategy[M, R] {
	return &roundRobinStrategy[M, R]{}
}

// Select implements RoutingStrategy.
func (s *roundRobinStrategy[M, R]) Select(refs []ActorRef[M, R]) (ActorRef[M, R], error) {
	if len(refs) == 0 {
		return nil, ErrNoActorsAvailable
	}
	n := s.next.Add(1)
	return refs[(n-1)%uint64(len(refs))], nil
}

// router is the virtual ActorRef returned by ServiceKey.Ref: it holds no
// actor of its own, and instead re-resolves the service key against the
// receptionist on every call, so a newly registered or unregistered actor
// takes effect on the very next Tell/Ask without the caller needing to
// re-fetch the ref (spec.md §4.12's location-transparency requirement).
type router[M Message, R any] struct {
	receptionist *Receptionist
	key          ServiceKey[M, R]
	strategy     RoutingStrategy[M, R]
	dlo          ActorRef[Message, any]
}

// NewRouter builds a router over key, using strategy to pick among the
// actors currently registered in receptionist. Messages that cannot be
// routed because no actor is currently registered are sent to dlo, if one
// is configured.
func NewRouter[M Message, R any](
	receptionist *Receptionist, key ServiceKey[M, R],
	strategy RoutingStrategy[M, R], dlo ActorRef[Message, any],
) ActorRef[M, R] {
	return &router[M, R]{
		receptionist: receptionist,
		key:          key,
		strategy:     strategy,
		dlo:          dlo,
	}
}

// ID implements BaseActorRef; a router has no actor identity of its own, so
// it reports the service key's name instead.
func (r *router[M, R]) ID() string {
	return "router:" + r.key.name
}

// pick resolves the current set of registered actors and selects one via
// the configured strategy. ok is false if no actor is currently
// registered.
func (r *router[M, R]) pick() (ActorRef[M, R], bool) {
	refs := FindInReceptionist(r.receptionist, r.key)
	if len(refs) == 0 {
		var zero ActorRef[M, R]
		return zero, false
	}
	target, err := r.strategy.Select(refs)
	if err != nil {
		var zero ActorRef[M, R]
		return zero, false
	}
	return target, true
}

// Tell implements TellOnlyRef.
func (r *router[M, R]) Tell(ctx context.Context, msg M) {
	target, ok := r.pick()
	if !ok {
		if r.dlo != nil {
			r.dlo.Tell(ctx, msg)
		}
		return
	}
	target.Tell(ctx, msg)
}

// Ask implements ActorRef.
func (r *router[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	target, ok := r.pick()
	if !ok {
		promise := NewPromise[R]()
		promise.Complete(fn.Err[R](ErrNoSuchActor))
		return promise.Future()
	}
	return target.Ask(ctx, msg)
}
