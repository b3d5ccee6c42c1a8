package channel

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

// wireEnvelope is the serialized form of protocol.Envelope. Data is kept raw
// so it can be decoded against the payload type the receiver expects.
type wireEnvelope struct {
	Data cbor.RawMessage      `cbor:"data"`
	ID   string               `cbor:"id,omitempty"`
	Type protocol.MessageType `cbor:"type"`
}

var encMode, _ = cbor.CoreDetEncOptions().EncMode()

var decMode, _ = cbor.DecOptions{
	MaxArrayElements: 1 << 24,
	MaxMapPairs:      1 << 20,
}.DecMode()

// Marshal encodes an envelope for a serialized transport.
func Marshal(env protocol.Envelope) ([]byte, error) {
	data, err := encMode.Marshal(env.Data)
	if err != nil {
		return nil, errors.New(errors.PhaseTransport, errors.KindInvalidData).
			Path("data").
			Detail("encode %s payload", env.Type).
			Cause(err).
			Build()
	}
	out, err := encMode.Marshal(wireEnvelope{ID: env.ID, Type: env.Type, Data: data})
	if err != nil {
		return nil, errors.InvalidData(errors.PhaseTransport, "encode envelope", err)
	}
	return out, nil
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(b []byte) (protocol.Envelope, error) {
	var w wireEnvelope
	if err := decMode.Unmarshal(b, &w); err != nil {
		return protocol.Envelope{}, errors.InvalidData(errors.PhaseTransport, "decode envelope", err)
	}
	return fromWire(w), nil
}

func fromWire(w wireEnvelope) protocol.Envelope {
	env := protocol.Envelope{ID: w.ID, Type: w.Type}
	if len(w.Data) > 0 {
		env.Data = w.Data
	}
	return env
}
