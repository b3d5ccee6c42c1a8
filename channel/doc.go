// Package channel carries envelopes between the controlling context and the
// worker.
//
// A Port is one end of an ordered, single-consumer message channel. Ports
// never assign or rewrite correlation ids; that is the caller's job.
//
// Three transports are provided:
//
//	Pipe       in-process; payloads are deep-copied unless marked Transfer
//	Stream     CBOR envelopes over an io.Reader/io.Writer pair (process stdio)
//	WebSocket  one CBOR envelope per binary message
//
// Serialized transports deliver payloads as cbor.RawMessage; use
// protocol.Decode or protocol.Generic to read them.
package channel
