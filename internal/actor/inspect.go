package actor

import "fmt"

// SlotVisitor is the boundary-interop hook spec.md §4.15 (component C15)
// describes for serialization: "the payload exposes per-slot reads/writes
// through a visitor." A transport's encoder implements SlotVisitor and
// walks a Payload one slot at a time via Inspect, never needing to know
// which of the four Payload storage variants it's reading.
//
// Wire encoding itself is out of scope (spec.md §4.15): SlotVisitor only
// gets the encoder as far as "here is slot i's value," not to any
// particular byte format.
type SlotVisitor interface {
	// VisitSlot is called once per slot, in order, with the slot's
	// current value. Implementations that need the value's static type
	// for encoding should type-switch or use reflection on v themselves;
	// Inspect does not pre-classify it.
	VisitSlot(index int, v any)
}

// SlotVisitorFunc adapts a plain function to SlotVisitor.
type SlotVisitorFunc func(index int, v any)

// VisitSlot implements SlotVisitor.
func (f SlotVisitorFunc) VisitSlot(index int, v any) {
	f(index, v)
}

// Inspect walks every slot of p in order, calling visit.VisitSlot with
// the index and the slot's value via the payload's own ReadSlot hook
// (spec.md §4.15 "read_slot(i, visitor)").
func Inspect(p Payload, visit SlotVisitor) {
	for i := 0; i < p.Size(); i++ {
		p.ReadSlot(i, func(v any) {
			visit.VisitSlot(i, v)
		})
	}
}

// SlotWriter is the corresponding hook for boundary-driven mutation
// (spec.md §4.15 "write_slot(i, visitor)"): a decoder implements SlotWriter
// to produce the new value for slot i given its current one, typically
// ignoring the current value entirely and returning freshly decoded wire
// data.
type SlotWriter interface {
	// WriteSlot is called once per slot, in order, with the slot's
	// current value, and returns the value to store in its place.
	WriteSlot(index int, current any) any
}

// SlotWriterFunc adapts a plain function to SlotWriter.
type SlotWriterFunc func(index int, current any) any

// WriteSlot implements SlotWriter.
func (f SlotWriterFunc) WriteSlot(index int, current any) any {
	return f(index, current)
}

// Populate walks every slot of a detached, mutable payload, replacing each
// slot's value with whatever write returns for it (spec.md §4.15
// "write_slot(i, visitor)"). The caller must have already called Detach; a
// payload that is still shared panics via the underlying WriteSlot/
// MutableAt contract, exactly as a direct MutableAt call would.
func Populate(p MutablePayload, write SlotWriter) {
	for i := 0; i < p.Size(); i++ {
		p.WriteSlot(i, func(cur any) any {
			return write.WriteSlot(i, cur)
		})
	}
}

// DescribeShape renders a Payload's type token alongside a per-slot value
// dump, mostly useful for diagnostic logging of dead-lettered or
// unmatched messages (spec.md §4.7's "default policy" arms commonly log
// what they couldn't match).
func DescribeShape(p Payload) string {
	shape := p.TypeToken()
	values := make([]any, p.Size())
	for i := range values {
		v, _ := p.At(i)
		values[i] = v
	}
	return fmt.Sprintf("%s%v", shape, values)
}
