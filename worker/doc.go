// Package worker is the request dispatcher that owns the engine.
//
// A Worker receives envelopes from a channel.Port, resolves each message type
// to a handler and answers with exactly one response carrying the request id.
// Handler failures, including panics, are converted into a single ERROR
// response; nothing escapes the worker boundary.
//
// Lifecycle:
//
//	unloaded --LOAD--> loaded --INIT_FILTER--> filtering --CLOSE_FILTER--> loaded
//
// Every request other than LOAD fails with not_loaded until the first LOAD
// succeeds. Options.LegacyFrameNoop restores the older behaviour where frame
// requests on an unloaded engine answer false or null.
//
// LOG and PROGRESS events raised by the engine, and DOWNLOAD events raised
// while fetching it, are delivered through OnEvent. Serve wires them to the
// port it is serving.
package worker
