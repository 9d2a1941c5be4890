package grpc

import (
	"fmt"

	"github.com/caflabs/substrate/internal/actor"
	"google.golang.org/protobuf/types/known/structpb"
)

// The remote transport's wire format is intentionally narrow: a Payload
// slot survives the wire only if it's one of the primitive kinds
// structpb.Value already knows how to carry (spec.md §6's "remote
// transport" doesn't mandate a universal codec, only that in-process and
// remote sends are indistinguishable to the caller for message shapes the
// transport supports). Anything else — a custom struct, a channel, a
// function value — fails to encode with a clear error rather than being
// silently dropped or best-effort gob-encoded.

// encodeRequest packs a target actor id, payload, and priority flag into
// the *structpb.Struct carried as the RPC request/response body.
func encodeRequest(target actor.ActorID, payload actor.Payload, urgent bool) (
	*structpb.Struct, error,
) {
	slots, err := payloadToSlots(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	return structpb.NewStruct(map[string]any{
		"actor_id": float64(target),
		"urgent":   urgent,
		"slots":    slots,
	})
}

// decodeRequest is the server-side inverse of encodeRequest.
func decodeRequest(req *structpb.Struct) (actor.ActorID, actor.Payload, bool, error) {
	fields := req.GetFields()

	idVal, ok := fields["actor_id"]
	if !ok {
		return 0, nil, false, fmt.Errorf("request missing actor_id")
	}
	target := actor.ActorID(idVal.GetNumberValue())

	urgent := fields["urgent"].GetBoolValue()

	payload := slotsToPayload(fields["slots"].GetListValue())

	return target, payload, urgent, nil
}

// payloadToSlots converts every slot of payload into a wire-transportable
// Go value, failing on the first slot whose runtime type the wire format
// can't carry.
func payloadToSlots(payload actor.Payload) ([]any, error) {
	if payload == nil {
		return nil, nil
	}

	slots := make([]any, payload.Size())
	for i := 0; i < payload.Size(); i++ {
		v, _ := payload.At(i)

		normalized, err := normalizeSlot(v)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		slots[i] = normalized
	}
	return slots, nil
}

// slotsToPayload is the inverse of payloadToSlots, reconstructing a
// dynamicPayload from decoded structpb values. Numeric slots round-trip as
// float64 regardless of their original int/float kind: the wire format
// doesn't preserve that distinction, matching structpb's own NumberValue.
func slotsToPayload(list *structpb.ListValue) actor.Payload {
	vals := list.GetValues()
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.AsInterface()
	}
	return actor.NewPayload(out...)
}

// normalizeSlot widens a slot's concrete Go type to one structpb.NewValue
// accepts directly (bool, float64, string, []byte, nil); everything else is
// rejected rather than silently coerced.
func normalizeSlot(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, []byte:
		return t, nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	default:
		return nil, fmt.Errorf("%T is not wire-transportable", v)
	}
}
