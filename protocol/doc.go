// Package protocol defines the envelope exchanged between a controlling
// context and the worker, the message vocabulary and every payload shape.
//
// Requests and responses carry the same ID; the worker never invents one.
// Events (LOG, PROGRESS, DOWNLOAD) carry no ID.
//
// Payload field names follow the wire vocabulary (coreURL, frameData,
// filterGraph, ...) and are used for both JSON and CBOR encodings.
//
// In-process ports deliver typed payloads directly. Serialized ports deliver
// cbor.RawMessage; Decode converts either into the typed struct a handler
// expects:
//
//	data, err := protocol.Decode[protocol.ExecData](env.Data)
package protocol
