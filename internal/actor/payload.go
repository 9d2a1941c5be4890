package actor

import (
	"fmt"
	"reflect"
	"strings"
)

// Payload is the type-erased, heterogeneous tuple carried by a message
// (spec.md §3 "Message" / §4.3 component C3). All four storage variants
// described in spec.md §4.3 — a statically typed tuple, a dynamic array, a
// decorator view, and a container adapter — implement this single
// interface, so behavior matching (C7) and the transport boundary (C15)
// never need to know which one they're holding.
type Payload interface {
	// Size returns the number of slots in the tuple.
	Size() int

	// At returns the value and runtime type of slot i without granting
	// mutation rights.
	At(i int) (any, reflect.Type)

	// TypeAt returns just the runtime type of slot i.
	TypeAt(i int) reflect.Type

	// TypeToken returns a stable signature describing the tuple's shape
	// (slot count and per-slot type names), used for O(1)-ish shape
	// checks in behavior matching.
	TypeToken() string

	// Equals reports shape equality AND per-slot value equality.
	Equals(other Payload) bool

	// Detach returns a Payload the caller can safely mutate: if the
	// underlying storage is shared with other references, Detach clones
	// it first. Calling Detach on an already-unique payload is a cheap
	// no-op that returns the receiver.
	Detach() Payload

	// ReadSlot invokes visit with the value held at slot i, for boundary
	// interop (spec.md §4.15 component C15). It never copies out a
	// mutable reference.
	ReadSlot(i int, visit func(v any))
}

// MutablePayload is implemented by Payload variants that support in-place
// mutation after Detach.
type MutablePayload interface {
	Payload

	// MutableAt returns a pointer to slot i's storage for in-place
	// mutation. Callers MUST have called Detach first; calling MutableAt
	// on a payload that is still shared is a programming error and
	// panics, mirroring the source's "detach before mutable_at"
	// discipline.
	MutableAt(i int) *any

	// WriteSlot invokes visit with the current value at slot i and
	// stores whatever it returns, for boundary interop (C15). Like
	// MutableAt, this requires the payload to be detached first.
	WriteSlot(i int, visit func(v any) any)
}

// --- dynamicPayload: runtime-heterogeneous tuple, copy-on-write ----------

// tupleHeader is the shared, reference-counted backing store for a
// dynamicPayload. Multiple dynamicPayload values can point at the same
// header until one of them is mutated, at which point Detach clones it.
type tupleHeader struct {
	refs  refCount
	slots []any
	types []reflect.Type
}

// dynamicPayload is the runtime array variant of Payload (spec.md §4.3
// "a dynamic array (runtime heterogeneous)"). It is the default payload
// used for messages whose shape isn't known until send time.
type dynamicPayload struct {
	hdr *tupleHeader
}

// NewPayload constructs a dynamicPayload from a list of values. Each value's
// concrete type becomes that slot's type token.
func NewPayload(values ...any) Payload {
	hdr := &tupleHeader{
		slots: append([]any(nil), values...),
		types: make([]reflect.Type, len(values)),
	}
	hdr.refs.strong.Store(1)
	for i, v := range values {
		if v != nil {
			hdr.types[i] = reflect.TypeOf(v)
		}
	}
	return dynamicPayload{hdr: hdr}
}

func (p dynamicPayload) Size() int { return len(p.hdr.slots) }

func (p dynamicPayload) At(i int) (any, reflect.Type) {
	return p.hdr.slots[i], p.hdr.types[i]
}

func (p dynamicPayload) TypeAt(i int) reflect.Type {
	return p.hdr.types[i]
}

func (p dynamicPayload) TypeToken() string {
	return typeToken(p.hdr.types)
}

func (p dynamicPayload) Equals(other Payload) bool {
	return payloadsEqual(p, other)
}

func (p dynamicPayload) ReadSlot(i int, visit func(v any)) {
	visit(p.hdr.slots[i])
}

// Detach clones the header if it is shared (strong count > 1), giving the
// caller an isolated copy it alone observes. This is the copy-on-write
// boundary from spec.md §4.3 and the subject of invariant P10.
func (p dynamicPayload) Detach() Payload {
	if p.hdr.refs.strongCount() <= 1 {
		return p
	}

	cloned := &tupleHeader{
		slots: append([]any(nil), p.hdr.slots...),
		types: append([]reflect.Type(nil), p.hdr.types...),
	}
	cloned.refs.strong.Store(1)

	// Release our hold on the shared header now that we're returning an
	// independent copy; the original dynamicPayload value the caller
	// held onto (if any) still owns its own reference.
	p.hdr.refs.release(nil)

	return dynamicPayload{hdr: cloned}
}

func (p dynamicPayload) MutableAt(i int) *any {
	if p.hdr.refs.strongCount() > 1 {
		panic("actor: MutableAt called on a shared payload; call Detach first")
	}
	return &p.hdr.slots[i]
}

func (p dynamicPayload) WriteSlot(i int, visit func(v any) any) {
	ptr := p.MutableAt(i)
	newVal := visit(*ptr)
	*ptr = newVal
	if newVal != nil {
		p.hdr.types[i] = reflect.TypeOf(newVal)
	} else {
		p.hdr.types[i] = nil
	}
}

// Retain increments the payload's shared reference count. Callers that hand
// the same dynamicPayload to multiple forwarders without copying values
// should Retain once per extra holder so Detach's sharing test stays
// accurate; the mailbox and behavior dispatch paths never call Retain.
func (p dynamicPayload) Retain() dynamicPayload {
	p.hdr.refs.addStrong()
	return p
}

// --- typedTuple: statically-typed packed struct ---------------------------

// typedTuple is the statically typed tuple variant (spec.md §4.3: "a
// statically typed tuple (known shape at compile time, packed storage)").
// T is expected to be a struct type; every one of its fields, exported or
// not, becomes a tuple slot in declaration order (At on an unexported
// field panics, since reflect cannot Interface it). The compile-time type token is cached once
// per distinct T via typeTokenCache, giving the "O(1) shape checks" the
// source's compile-time type token affords.
type typedTuple[T any] struct {
	value T
}

// NewTypedPayload wraps a struct value as a statically-shaped Payload.
func NewTypedPayload[T any](value T) Payload {
	return typedTuple[T]{value: value}
}

func (t typedTuple[T]) reflectValue() reflect.Value {
	return reflect.ValueOf(t.value)
}

func (t typedTuple[T]) Size() int {
	return t.reflectValue().NumField()
}

func (t typedTuple[T]) At(i int) (any, reflect.Type) {
	f := t.reflectValue().Field(i)
	return f.Interface(), f.Type()
}

func (t typedTuple[T]) TypeAt(i int) reflect.Type {
	return t.reflectValue().Field(i).Type()
}

func (t typedTuple[T]) TypeToken() string {
	return cachedTypeToken(reflect.TypeOf(t.value))
}

func (t typedTuple[T]) Equals(other Payload) bool {
	return payloadsEqual(t, other)
}

func (t typedTuple[T]) ReadSlot(i int, visit func(v any)) {
	v, _ := t.At(i)
	visit(v)
}

// Detach always returns a fresh copy: Go struct values are copied by
// assignment, so a typedTuple is never actually shared storage the way a
// dynamicPayload is. Detach still exists to satisfy the Payload interface
// uniformly.
func (t typedTuple[T]) Detach() Payload {
	return t
}

var typeTokenCache = make(map[reflect.Type]string)

// cachedTypeToken memoizes the shape signature for a struct type so
// repeated typedTuple instantiations of the same T don't re-walk its
// fields via reflection on every call.
func cachedTypeToken(rt reflect.Type) string {
	if tok, ok := typeTokenCache[rt]; ok {
		return tok
	}

	var sb strings.Builder
	sb.WriteByte('(')
	for i := 0; i < rt.NumField(); i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(rt.Field(i).Type.String())
	}
	sb.WriteByte(')')
	tok := sb.String()
	typeTokenCache[rt] = tok
	return tok
}

// --- decoratorPayload: permuted/offset view over a base payload ----------

// decoratorPayload presents a reindexed view of a base Payload, forwarding
// every operation to the base after remapping the slot index (spec.md
// §4.3: "a decorator that presents a permuted / offset view of another
// payload ... forwards to its base after index remap").
type decoratorPayload struct {
	base    Payload
	indices []int
}

// NewDecoratorPayload builds a view over base that exposes only the slots
// named by indices, in the given order. This is used, for instance, to
// present a group-forwarded message's trailing slots as a fresh 0-based
// tuple without copying the underlying values.
func NewDecoratorPayload(base Payload, indices []int) Payload {
	return decoratorPayload{base: base, indices: append([]int(nil), indices...)}
}

func (d decoratorPayload) remap(i int) int { return d.indices[i] }

func (d decoratorPayload) Size() int { return len(d.indices) }

func (d decoratorPayload) At(i int) (any, reflect.Type) {
	return d.base.At(d.remap(i))
}

func (d decoratorPayload) TypeAt(i int) reflect.Type {
	return d.base.TypeAt(d.remap(i))
}

func (d decoratorPayload) TypeToken() string {
	types := make([]reflect.Type, len(d.indices))
	for i := range d.indices {
		types[i] = d.TypeAt(i)
	}
	return typeToken(types)
}

func (d decoratorPayload) Equals(other Payload) bool {
	return payloadsEqual(d, other)
}

func (d decoratorPayload) ReadSlot(i int, visit func(v any)) {
	d.base.ReadSlot(d.remap(i), visit)
}

// Detach detaches the base and returns a decorator over the detached copy,
// preserving the index remap.
func (d decoratorPayload) Detach() Payload {
	return decoratorPayload{base: d.base.Detach(), indices: d.indices}
}

// --- containerPayload: homogeneous slice exposed as an N-slot payload ----

// containerPayload adapts a homogeneous slice into the Payload interface
// (spec.md §4.3: "a container adapter that exposes a homogeneous sequence
// as an N-slot payload").
type containerPayload struct {
	elemType reflect.Type
	values   reflect.Value // a slice
}

// NewContainerPayload wraps a slice value (passed as `any`, must have
// Kind() == reflect.Slice) as a Payload whose slots are the slice's
// elements.
func NewContainerPayload(slice any) Payload {
	rv := reflect.ValueOf(slice)
	if rv.Kind() != reflect.Slice {
		panic("actor: NewContainerPayload requires a slice value")
	}
	return containerPayload{elemType: rv.Type().Elem(), values: rv}
}

func (c containerPayload) Size() int { return c.values.Len() }

func (c containerPayload) At(i int) (any, reflect.Type) {
	return c.values.Index(i).Interface(), c.elemType
}

func (c containerPayload) TypeAt(int) reflect.Type { return c.elemType }

func (c containerPayload) TypeToken() string {
	return fmt.Sprintf("[]%s*%d", c.elemType.String(), c.values.Len())
}

func (c containerPayload) Equals(other Payload) bool {
	return payloadsEqual(c, other)
}

func (c containerPayload) ReadSlot(i int, visit func(v any)) {
	visit(c.values.Index(i).Interface())
}

// Detach clones the backing slice so mutation via MutableAt never leaks
// into other holders of the original slice.
func (c containerPayload) Detach() Payload {
	cloned := reflect.MakeSlice(c.values.Type(), c.values.Len(), c.values.Len())
	reflect.Copy(cloned, c.values)
	return containerPayload{elemType: c.elemType, values: cloned}
}

func (c containerPayload) MutableAt(i int) *any {
	// reflect can't hand back a *any into a typed slice element directly;
	// we proxy through a boxed pointer and write back via WriteSlot's
	// contract (callers use WriteSlot, not raw pointer stores, for
	// containerPayload).
	boxed := c.values.Index(i).Interface()
	return &boxed
}

func (c containerPayload) WriteSlot(i int, visit func(v any) any) {
	cur := c.values.Index(i).Interface()
	newVal := visit(cur)
	c.values.Index(i).Set(reflect.ValueOf(newVal).Convert(c.elemType))
}

// --- shared helpers --------------------------------------------------------

// typeToken builds the shape signature for an arbitrary slice of slot
// types, used by every Payload variant except typedTuple (which caches its
// own).
func typeToken(types []reflect.Type) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, t := range types {
		if i > 0 {
			sb.WriteByte(',')
		}
		if t == nil {
			sb.WriteString("<nil>")
		} else {
			sb.WriteString(t.String())
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// payloadsEqual implements the shared Equals contract: shape equal (same
// size, same per-slot type) AND per-slot value equal via reflect.DeepEqual
// (standing in for "the slot's type info equality" — Go values compare
// structurally rather than through a per-type vtable).
func payloadsEqual(a, b Payload) bool {
	if a.Size() != b.Size() {
		return false
	}
	for i := 0; i < a.Size(); i++ {
		av, at := a.At(i)
		bv, bt := b.At(i)
		if at != bt {
			return false
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

// Compile-time interface satisfaction checks.
var (
	_ Payload        = dynamicPayload{}
	_ MutablePayload = dynamicPayload{}
	_ Payload        = typedTuple[struct{}]{}
	_ Payload        = decoratorPayload{}
	_ Payload        = containerPayload{}
	_ MutablePayload = containerPayload{}
)
