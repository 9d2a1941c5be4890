package actor

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// DefaultPolicy selects what a Behavior does when no arm matches an inbound
// payload (spec.md §4.7: "If no arm matches, the default handler runs
// (policy: skip, drop, or propagate to a fallback behavior)").
type DefaultPolicy int

const (
	// PolicySkip silently ignores the unmatched message; Ask callers
	// receive ErrInvalidArgument, Tell callers get nothing.
	PolicySkip DefaultPolicy = iota

	// PolicyDrop is identical to PolicySkip from the caller's point of
	// view; Match and its callers handle the two the same way.
	PolicyDrop

	// PolicyPropagate forwards the unmatched message to a configured
	// fallback Behavior instead of failing it.
	PolicyPropagate
)

// Guard is an optional predicate over a matched arm's decoded values,
// evaluated after the shape check passes (spec.md §4.7: "Arms may have a
// guard (predicate over the matched values)").
type Guard func(values []any) bool

// Handler is invoked when its arm matches. It returns the reply payload (for
// request dispatches) or an error. Returning (nil, nil) from a Tell-driven
// dispatch is normal; a ledger-correlated request (ActorRuntime.Request,
// BlockingActor.Request) with a nil reply and nil error receives an empty
// Payload reply, while a direct Ask completes with the nil Payload as is.
type Handler func(ctx context.Context, msg Payload) (Payload, error)

// Arm is one entry in a Behavior's ordered arm list: a shape predicate,
// optional guard, and handler (spec.md §4.7 "Each arm is {shape predicate,
// handler}").
type Arm struct {
	// Shape lists the expected type of each slot in order; a nil entry
	// at position i matches any type in that position (a wildcard).
	// len(Shape) must equal the inbound payload's Size() for the arm to
	// be eligible.
	Shape []reflect.Type

	// Guard, if non-nil, is evaluated against the decoded slot values
	// after Shape matches; the arm only fires if Guard also returns
	// true.
	Guard Guard

	// Handle processes the matched payload.
	Handle Handler
}

// matches reports whether this arm's shape (and, if present, guard) accepts
// msg.
func (a Arm) matches(msg Payload) bool {
	if len(a.Shape) != msg.Size() {
		return false
	}

	values := make([]any, msg.Size())
	for i := 0; i < msg.Size(); i++ {
		v, t := msg.At(i)
		values[i] = v
		if a.Shape[i] != nil && a.Shape[i] != t {
			return false
		}
	}

	if a.Guard != nil && !a.Guard(values) {
		return false
	}

	return true
}

// TimeoutHandler fires when a receive waits longer than the Behavior's
// configured timeout without any non-timeout arm matching (spec.md §4.7
// "after(duration, handler) timeout arm").
type TimeoutHandler func(ctx context.Context) (Payload, error)

// Behavior is an ordered sequence of pattern arms plus an optional timeout
// arm (spec.md §3 "Behavior", §4.7 component C7). Behaviors are immutable
// once built; become/unbecome (see BehaviorStack) swap which *Behavior is
// active rather than mutating one in place.
type Behavior struct {
	arms    []Arm
	timeout time.Duration
	onTime  TimeoutHandler
	policy  DefaultPolicy
	fallback *Behavior
}

// NewBehavior builds a Behavior from an ordered list of arms, tried in the
// order given (spec.md §4.7: "Try each arm in order").
func NewBehavior(arms ...Arm) *Behavior {
	return &Behavior{arms: arms}
}

// WithTimeout returns a copy of b with an after(duration, handler) arm
// installed. Installing a new timeout arm replaces any previous one.
func (b *Behavior) WithTimeout(d time.Duration, handle TimeoutHandler) *Behavior {
	cp := *b
	cp.timeout = d
	cp.onTime = handle
	return &cp
}

// WithDefaultPolicy returns a copy of b whose unmatched-message policy is
// set to policy. When policy is PolicyPropagate, fallback must be non-nil;
// Match forwards unmatched payloads to fallback.Match instead of applying
// the skip/drop outcome directly.
func (b *Behavior) WithDefaultPolicy(policy DefaultPolicy, fallback *Behavior) *Behavior {
	cp := *b
	cp.policy = policy
	cp.fallback = fallback
	return &cp
}

// HasTimeout reports whether this Behavior has an after() arm installed.
func (b *Behavior) HasTimeout() bool {
	return b.onTime != nil
}

// Timeout returns the configured timeout duration; callers should check
// HasTimeout first.
func (b *Behavior) Timeout() time.Duration {
	return b.timeout
}

// matchOutcome is returned by Match to tell the caller (the event-based or
// blocking actor driving dispatch) what happened, since "no arm matched but
// policy is skip" and "no arm matched, policy is propagate, forwarded
// successfully" both need different downstream handling than a genuine
// handler error.
type matchOutcome int

const (
	outcomeMatched matchOutcome = iota
	outcomeUnmatchedSkipped
	outcomeUnmatchedPropagated
)

// Match tries each arm against msg in order and invokes the first one whose
// shape (and guard, if any) accepts it (spec.md §4.7). If no arm matches,
// the configured DefaultPolicy decides the outcome.
func (b *Behavior) Match(ctx context.Context, msg Payload) (Payload, matchOutcome, error) {
	for _, arm := range b.arms {
		if arm.matches(msg) {
			reply, err := arm.Handle(ctx, msg)
			return reply, outcomeMatched, err
		}
	}

	switch b.policy {
	case PolicyPropagate:
		if b.fallback != nil {
			reply, _, err := b.fallback.Match(ctx, msg)
			return reply, outcomeUnmatchedPropagated, err
		}
		fallthrough
	default:
		return nil, outcomeUnmatchedSkipped, ErrInvalidArgument
	}
}

// Fire invokes the timeout handler. Callers must only call this after
// confirming HasTimeout(); it does not re-check internally so that the
// caller's timer bookkeeping (which fired, which was cancelled) stays the
// single source of truth.
func (b *Behavior) Fire(ctx context.Context) (Payload, error) {
	return b.onTime(ctx)
}

// BehaviorStack implements become/unbecome (spec.md §4.7: "Behaviors
// compose as a stack: become(b) replaces the top; become(keep_behavior, b)
// pushes; unbecome() pops."). It is guarded by the same mutex the control
// block uses for other mutable, actor-owned state (spec.md §3 "Mutable
// under the actor's own mutex").
type BehaviorStack struct {
	mu    sync.Mutex
	stack []*Behavior
}

// NewBehaviorStack seeds the stack with an actor's initial behavior.
func NewBehaviorStack(initial *Behavior) *BehaviorStack {
	return &BehaviorStack{stack: []*Behavior{initial}}
}

// Current returns the behavior currently on top of the stack.
func (s *BehaviorStack) Current() *Behavior {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stack[len(s.stack)-1]
}

// Become replaces the top of the stack with b.
func (s *BehaviorStack) Become(b *Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack[len(s.stack)-1] = b
}

// BecomeKeep pushes b onto the stack, preserving the previous top so a
// later Unbecome restores it.
func (s *BehaviorStack) BecomeKeep(b *Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, b)
}

// Unbecome pops the stack, restoring whatever behavior was active before
// the most recent BecomeKeep. Popping the last remaining behavior is a
// no-op: an actor is never left without a behavior to dispatch through.
func (s *BehaviorStack) Unbecome() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) > 1 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// Depth returns the current stack depth, mostly for tests/diagnostics.
func (s *BehaviorStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}
