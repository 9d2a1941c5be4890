package actor

import "sync/atomic"

// refCount is an intrusive atomic strong/weak reference count (spec.md §4.2,
// component C2). Control blocks hold one through a pointer, and dynamic
// payload headers embed one by value; groups do not use it.
//
// The strong count keeps the underlying object alive; dropping it to zero
// runs the registered destructor exactly once. The weak count never keeps
// the object alive but gates when the object's storage can finally be
// recycled, and it supports upgrade attempts that must be linearizable with
// the final strong decrement: an upgrade either observes the object still
// alive (and increments strong) or observes it already gone, never both.
type refCount struct {
	// strong is the number of owning references. The owning object is
	// destroyed when this reaches zero.
	strong atomic.Int64

	// weak is the number of non-owning references plus one implicit
	// reference held by the strong side itself, so that the underlying
	// storage isn't reused while a concurrent upgrade attempt is racing
	// the final strong decrement.
	weak atomic.Int64

	// destroyed is flipped once destroy() has run, guarding against a
	// double-run if strong somehow reaches zero more than once (it
	// can't under correct use, but the guard makes misuse loud instead
	// of silently corrupting state).
	destroyed atomic.Bool
}

// newRefCount initializes a refCount with one strong reference and the
// implicit weak reference that accompanies it.
func newRefCount() *refCount {
	rc := &refCount{}
	rc.strong.Store(1)
	rc.weak.Store(1)
	return rc
}

// addStrong increments the strong count. The caller must already hold a
// valid strong or weak-upgraded reference; addStrong never resurrects a
// count that has reached zero.
func (rc *refCount) addStrong() {
	rc.strong.Add(1)
}

// release decrements the strong count and runs destroy exactly once if it
// reaches zero. Returns true if this call triggered destruction.
func (rc *refCount) release(destroy func()) bool {
	if rc.strong.Add(-1) != 0 {
		return false
	}

	if rc.destroyed.CompareAndSwap(false, true) {
		if destroy != nil {
			destroy()
		}
	}

	// Drop the implicit weak reference that accompanied the last strong
	// reference. If no weak handles remain, releaseWeak below will have
	// already driven the weak count to zero and freed any weak-only
	// bookkeeping.
	rc.releaseWeak()

	return true
}

// addWeak increments the weak count. It is always safe to call regardless of
// whether the object is still strongly alive.
func (rc *refCount) addWeak() {
	rc.weak.Add(1)
}

// releaseWeak decrements the weak count. Callers that hold the last weak
// reference may use the return value to free any storage kept alive solely
// for weak bookkeeping (not used by this runtime, which backs weak handles
// with addresses rather than shared storage, but kept for completeness and
// symmetry with the source's intrusive pointer design).
func (rc *refCount) releaseWeak() bool {
	return rc.weak.Add(-1) == 0
}

// tryUpgrade attempts to convert a weak reference into a strong one. It
// succeeds iff the strong count has not yet reached zero, and the increment
// is linearizable with release's final decrement: tryUpgrade uses a
// compare-and-swap loop so it never observes and acts on a stale positive
// count after release has already committed to destruction.
func (rc *refCount) tryUpgrade() bool {
	for {
		cur := rc.strong.Load()
		if cur <= 0 {
			return false
		}
		if rc.strong.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// isAlive reports whether the strong count is still positive. This is a
// snapshot; it can be stale the instant it returns in the presence of
// concurrent release calls, so callers that need a reliable reference
// should use tryUpgrade instead.
func (rc *refCount) isAlive() bool {
	return rc.strong.Load() > 0
}

// strongCount returns a snapshot of the current strong count, primarily for
// tests and diagnostics.
func (rc *refCount) strongCount() int64 {
	return rc.strong.Load()
}
