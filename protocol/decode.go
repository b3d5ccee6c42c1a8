package protocol

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/ffbridge/errors"
)

// Decode converts an envelope payload into T. It accepts a T, a *T, nil (the
// zero T), CBOR bytes from a serialized port, or a generic map produced by a
// schemaless decoder.
func Decode[T any](data any) (T, error) {
	var v T
	switch d := data.(type) {
	case nil:
		return v, nil
	case T:
		return d, nil
	case *T:
		if d != nil {
			return *d, nil
		}
		return v, nil
	case cbor.RawMessage:
		if err := cbor.Unmarshal(d, &v); err != nil {
			return v, errors.InvalidData(errors.PhaseTransport, "decode payload", err)
		}
		return v, nil
	case map[string]any, map[any]any:
		raw, err := cbor.Marshal(d)
		if err != nil {
			return v, errors.InvalidData(errors.PhaseTransport, "re-encode payload", err)
		}
		if err := cbor.Unmarshal(raw, &v); err != nil {
			return v, errors.InvalidData(errors.PhaseTransport, "decode payload", err)
		}
		return v, nil
	default:
		return v, errors.New(errors.PhaseTransport, errors.KindInvalidData).
			Value(data).
			Detail("unexpected payload %T", data).
			Build()
	}
}

var genericMode, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]any(nil)),
}.DecMode()

// Generic returns data with any CBOR payload decoded into plain Go values
// (maps keyed by string, slices, strings, numbers, byte slices). Other values
// are returned unchanged.
func Generic(data any) (any, error) {
	raw, ok := data.(cbor.RawMessage)
	if !ok {
		return data, nil
	}
	var v any
	if err := genericMode.Unmarshal(raw, &v); err != nil {
		return nil, errors.InvalidData(errors.PhaseTransport, "decode payload", err)
	}
	return v, nil
}
