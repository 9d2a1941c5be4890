package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// GroupPersister durably records group membership changes so a restarted
// node can rehydrate a group's subscriber set without waiting for remote
// peers to rejoin. internal/db.Store implements this directly against
// group_members.
type GroupPersister interface {
	UpsertGroupMember(ctx context.Context, module, identifier string,
		actorID uint64, nodeHost []byte, nodeProc uint32,
		joinedAt int64) error
	DeleteGroupMember(ctx context.Context, module, identifier string,
		actorID uint64) error
}

// GroupJoinRequest asks a group's intermediary actor to add Subscriber to
// the group (spec.md §4.11 "a local group owns an intermediary actor that
// exposes {join, leave, forward} so remote peers can participate via the
// messaging interface").
type GroupJoinRequest struct {
	BaseMessage
	Subscriber Address
}

// MessageType implements Message.
func (GroupJoinRequest) MessageType() string { return "group.join" }

// GroupLeaveRequest asks a group's intermediary actor to remove a
// subscriber.
type GroupLeaveRequest struct {
	BaseMessage
	SubscriberID ActorID
}

// MessageType implements Message.
func (GroupLeaveRequest) MessageType() string { return "group.leave" }

// GroupForwardRequest asks a group's intermediary actor to broadcast
// Payload to the group's current subscribers, on behalf of a remote peer
// that cannot reach local subscribers directly.
type GroupForwardRequest struct {
	BaseMessage
	Contents Payload
}

// MessageType implements Message.
func (GroupForwardRequest) MessageType() string { return "group.forward" }

// Group is a named multicast destination with a subscriber set (spec.md
// §3's glossary entry, §4.11). Groups share the actor model's reference-
// counting discipline: subscribers hold weak references, so an
// unsubscribed-but-not-yet-garbage-collected actor never receives a
// broadcast it can no longer act on.
type Group struct {
	module     string
	identifier string
	origin     NodeID

	// persister, when non-nil, durably records membership changes so a
	// restarted node can rehydrate this group's subscribers. Shared
	// across every Group the owning GroupRegistry creates.
	persister GroupPersister

	mu          sync.Mutex
	subscribers map[ActorID]Address

	// intermediary exposes {join, leave, forward} to remote peers over
	// the messaging interface (spec.md §4.11: "a local group owns an
	// intermediary actor"). It is nil until first requested via
	// Intermediary, since most local-only tests never need it.
	intermediaryOnce sync.Once
	intermediary     ActorRef[Message, any]
	intermediaryWg   sync.WaitGroup
}

// Intermediary returns this group's intermediary actor, spawning it on
// first use. Remote peers reach a local group exclusively through this
// actor's Tell/Ask surface: GroupJoinRequest, GroupLeaveRequest, and
// GroupForwardRequest.
func (g *Group) Intermediary() ActorRef[Message, any] {
	g.intermediaryOnce.Do(func() {
		behavior := NewFunctionBehavior(g.handleIntermediaryMessage)
		raw := NewActor[Message, any](ActorConfig[Message, any]{
			ID:          "group-intermediary:" + g.module + "/" + g.identifier,
			Behavior:    behavior,
			MailboxSize: 64,
			Wg:          &g.intermediaryWg,
		})
		raw.Start()
		g.intermediary = raw.Ref()
	})
	return g.intermediary
}

// handleIntermediaryMessage implements the intermediary actor's behavior:
// a plain type switch over the three group-protocol messages.
func (g *Group) handleIntermediaryMessage(_ context.Context, msg Message) fn.Result[any] {
	switch m := msg.(type) {
	case GroupJoinRequest:
		g.Join(m.Subscriber)
		return fn.Ok[any](nil)
	case GroupLeaveRequest:
		g.Leave(m.SubscriberID)
		return fn.Ok[any](nil)
	case GroupForwardRequest:
		delivered := g.Broadcast(m.Contents)
		return fn.Ok[any](delivered)
	default:
		return fn.Err[any](ErrInvalidArgument)
	}
}

// Join adds subscriber to the group's subscriber set. Joining twice is a
// no-op (idempotent on ActorID).
func (g *Group) Join(subscriber Address) {
	g.mu.Lock()
	g.subscribers[subscriber.ID] = subscriber
	persister := g.persister
	g.mu.Unlock()

	if persister == nil {
		return
	}
	go func() {
		err := persister.UpsertGroupMember(
			context.Background(), g.module, g.identifier,
			uint64(subscriber.ID), subscriber.Node.Host[:],
			subscriber.Node.Process, time.Now().Unix(),
		)
		if err != nil {
			log.ErrorS(context.Background(),
				"failed to persist group membership", err)
		}
	}()
}

// Leave removes subscriber from the group's subscriber set. It is safe to
// call during an in-flight Broadcast: Broadcast takes its own snapshot
// under the lock before releasing it (spec.md §4.11 "delivery iterates a
// snapshot of subscribers under a brief lock; unsubscribing during delivery
// is safe").
func (g *Group) Leave(subscriberID ActorID) {
	g.mu.Lock()
	delete(g.subscribers, subscriberID)
	persister := g.persister
	g.mu.Unlock()

	if persister == nil {
		return
	}
	go func() {
		err := persister.DeleteGroupMember(
			context.Background(), g.module, g.identifier,
			uint64(subscriberID),
		)
		if err != nil {
			log.ErrorS(context.Background(),
				"failed to delete persisted group membership", err)
		}
	}()
}

// Snapshot returns the current subscriber set as a slice, safe to iterate
// without holding the group's lock.
func (g *Group) Snapshot() []Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Address, 0, len(g.subscribers))
	for _, addr := range g.subscribers {
		out = append(out, addr)
	}
	return out
}

// Broadcast delivers payload to every current subscriber's mailbox,
// iterating a snapshot taken under the group's lock (spec.md §4.11, §5
// "Group subscriber set" shared-resource policy). Subscribers whose
// control block has already terminated are silently skipped rather than
// treated as an error: a group broadcast is best-effort multicast, not a
// transaction.
func (g *Group) Broadcast(payload Payload) int {
	delivered := 0
	for _, addr := range g.Snapshot() {
		cb := addr.resolveControlBlock()
		if cb == nil {
			continue
		}
		err := cb.enqueue(mailboxEnvelope{
			payload: payload,
			id:      NewMessageID(false, KindAsync, nextSequence()),
		})
		if err == nil {
			delivered++
		}
	}
	return delivered
}

// Size reports the current subscriber count.
func (g *Group) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subscribers)
}

// moduleRegistry maps group identifiers to Group instances within one named
// module (spec.md §4.11 "Modules are keyed by name ... each module maps
// identifiers to group instances").
type moduleRegistry struct {
	mu     sync.Mutex
	groups map[string]*Group
}

// GroupRegistry is the actor system's top-level group registry (component
// C11), owning every module's group namespace for the lifetime of the
// actor system (spec.md §3 "Group: owned by the group registry ... for the
// lifetime of the actor system").
type GroupRegistry struct {
	mu        sync.Mutex
	modules   map[string]*moduleRegistry
	persister GroupPersister
}

// NewGroupRegistry builds an empty registry. The "local" module is the one
// every in-process Group belongs to unless the caller asks for a
// differently named module (spec.md §4.11's example: `"local"`).
func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{modules: make(map[string]*moduleRegistry)}
}

// SetPersister wires a GroupPersister into the registry. Every Group
// created afterward (via GetOrCreate) shares it; groups created before the
// call keep running without persistence. Call this once during startup,
// before groups are created, for full coverage.
func (r *GroupRegistry) SetPersister(p GroupPersister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persister = p
}

// moduleFor returns the named module's registry, creating it on first use.
func (r *GroupRegistry) moduleFor(module string) *moduleRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[module]
	if !ok {
		m = &moduleRegistry{groups: make(map[string]*Group)}
		r.modules[module] = m
	}
	return m
}

// GetOrCreate returns the named group within module, creating it (with
// origin set to the local node) if it doesn't already exist.
func (r *GroupRegistry) GetOrCreate(module, identifier string) *Group {
	m := r.moduleFor(module)

	r.mu.Lock()
	persister := r.persister
	r.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[identifier]
	if !ok {
		g = &Group{
			module:      module,
			identifier:  identifier,
			origin:      LocalNodeID(),
			subscribers: make(map[ActorID]Address),
			persister:   persister,
		}
		m.groups[identifier] = g
	}
	return g
}

// Lookup returns the named group if it already exists, without creating
// it.
func (r *GroupRegistry) Lookup(module, identifier string) (*Group, bool) {
	m := r.moduleFor(module)
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[identifier]
	return g, ok
}
