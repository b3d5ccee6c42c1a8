// Package ffbridge drives a sandboxed, single-instance multimedia engine from a
// controlling context over a structured message channel.
//
// The engine is a pre-built WebAssembly module executed by wazero. Its linear
// memory is never shared with the caller: every request crosses a channel as an
// envelope, and every byte that must reach the engine is copied into a scoped
// native allocation and released before the call returns.
//
// # Architecture Overview
//
//	ffbridge/            Root package with Memory and Allocator interfaces
//	├── protocol/        Envelope, message vocabulary and payload shapes
//	├── channel/         Ports: in-process pipe, CBOR stream, websocket
//	├── worker/          Request dispatcher owning the engine handle
//	├── marshal/         Scoped allocate/copy/call/free sequences (frames, argv)
//	├── engine/          wazero host for the native core, asset loader, ABI table
//	├── vfs/             Virtual filesystem facade shared with the engine
//	├── errors/          Structured error taxonomy
//	├── config/          Environment configuration
//	└── cmd/ffworker/    Worker process (stdio, websocket, interactive)
//
// # Quick Start
//
// Run a worker in-process and talk to it through a pipe:
//
//	page, side := channel.Pipe(16)
//	w, err := worker.New(worker.Options{})
//	if err != nil {
//		return err
//	}
//	defer w.Close(ctx)
//	go w.Serve(ctx, side)
//
//	page.Post(ctx, protocol.Envelope{ID: "1", Type: protocol.TypeLoad})
//	resp, _ := page.Receive(ctx) // Data: true
//
// # Ordering
//
// The worker handles one envelope at a time, so responses leave in the order
// requests arrived. LOG, PROGRESS and DOWNLOAD events carry no id and may be
// interleaved between any two responses.
package ffbridge
