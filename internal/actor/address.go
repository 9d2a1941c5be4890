package actor

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// hostIDLen matches the width of the opaque host identifier described in
// spec.md §3: "a fixed-width opaque array uniquely identifying the host."
const hostIDLen = 16

// HostID is a fixed-width opaque identifier for the machine a node is
// running on. It is comparable so NodeID can be used as a map key.
type HostID [hostIDLen]byte

// NodeID identifies a single actor-system process (spec.md §3 "Node
// identity"). Two node ids are equal iff both fields are equal.
type NodeID struct {
	Host    HostID
	Process uint32
}

// IsZero reports whether this is the zero-value (invalid) node id.
func (n NodeID) IsZero() bool {
	return n == NodeID{}
}

// String renders a short, human-readable form of the node id.
func (n NodeID) String() string {
	return fmt.Sprintf("%x/%d", n.Host[:4], n.Process)
}

var (
	localNodeOnce sync.Once
	localNodeID   NodeID
)

// SetLocalNodeID assigns the distinguished "local" node id for the lifetime
// of the process (spec.md §3). It may only be set once; subsequent calls are
// no-ops. Call this once during actor-system init, before any addresses are
// minted, typically from NewActorSystem.
func SetLocalNodeID(id NodeID) {
	localNodeOnce.Do(func() {
		localNodeID = id
	})
}

// LocalNodeID returns the process-wide local node id. If SetLocalNodeID was
// never called, a random-ish id derived from a counter is assigned lazily so
// that single-process tests and examples work without explicit setup.
func LocalNodeID() NodeID {
	localNodeOnce.Do(func() {
		localNodeID = NodeID{Process: uint32(defaultProcessID())}
	})
	return localNodeID
}

var processCounter atomic.Uint32

// defaultProcessID assigns a small monotonic id the first time LocalNodeID
// is accessed without explicit configuration. This is a fallback for
// tests/examples only; a real deployment calls SetLocalNodeID with a value
// derived from its actual host and pid.
func defaultProcessID() uint32 {
	return processCounter.Add(1)
}

// actorIDCounter is the node-wide monotonic counter backing ActorID
// allocation (spec.md §3 "Actor id").
var actorIDCounter atomic.Uint64

// ActorID is a 64-bit monotonically increasing counter, unique within one
// node.
type ActorID uint64

// nextActorID allocates the next actor id for this node.
func nextActorID() ActorID {
	return ActorID(actorIDCounter.Add(1))
}

// Address identifies an actor: a (NodeID, ActorID) pair plus, when the
// target is local, a weak back-reference to its control block (spec.md §3
// "Address"). Addresses are comparable and hashable by value; an
// invalid/zero address is representable and always resolves to nothing.
type Address struct {
	Node NodeID
	ID   ActorID

	// local is a weak handle to the control block when this address
	// names a local actor. It is nil for remote addresses and for the
	// zero/invalid address.
	local *weakControlBlock
}

// weakControlBlock is the non-owning back-reference an Address carries to a
// local control block. It holds the pointer without taking a weak count;
// upgrades go through the refCount's tryUpgrade on the strong side, which
// is linearizable with control-block destruction.
type weakControlBlock struct {
	cb *controlBlock
}

// IsZero reports whether this is the invalid/zero address.
func (a Address) IsZero() bool {
	return a.Node.IsZero() && a.ID == 0
}

// IsLocal reports whether this address was minted for an actor on the local
// node.
func (a Address) IsLocal() bool {
	return a.local != nil
}

// String renders a human-readable form, e.g. "node/42".
func (a Address) String() string {
	if a.IsZero() {
		return "<invalid-address>"
	}
	return fmt.Sprintf("%s/%d", a.Node, a.ID)
}

// Upgrade attempts to obtain a live, strong BaseActorRef-capable handle from
// a local address. It returns (nil, false) for remote addresses (those must
// be resolved through the transport, see spec.md §6) and for addresses whose
// actor has already terminated.
func (a Address) Upgrade() (*controlBlock, bool) {
	if a.local == nil || a.local.cb == nil {
		return nil, false
	}
	if !a.local.cb.refs.tryUpgrade() {
		return nil, false
	}
	return a.local.cb, true
}

// resolveControlBlock returns the control block behind a local address
// without taking a new strong reference, for internal use where the caller
// already guarantees liveness for the duration of the call (e.g. a sender
// enqueuing into a target it's about to message within the same dispatch).
func (a Address) resolveControlBlock() *controlBlock {
	if a.local == nil {
		return nil
	}
	return a.local.cb
}
