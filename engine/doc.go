// Package engine hosts the native multimedia core on wazero.
//
// The core is a WebAssembly module exporting a small numeric ABI: a heap
// allocator, the ffmpeg and ffprobe command entry points, and the frame I/O
// and filter entries. Everything it needs from the host arrives through WASI
// preview1 and a tiny env module.
//
// # Architecture
//
//	Runtime  - wraps a wazero runtime, owns WASI and the env host module
//	Core     - one instantiated core, implements marshal.Native
//	Memory   - bounds-checked view over the core's linear memory
//	Loader   - fetches core assets over HTTP(S) or from disk
//
// # Instantiation Flow
//
//  1. Loader.Fetch() retrieves the wasm bytes, reporting download progress
//  2. Runtime.Instantiate() compiles and checks exports against the ABI table
//  3. WASI and env are instantiated once per runtime
//  4. The core starts with the filesystem root mounted at "/"
//
// # ABI
//
// Entry signatures are declared with WIT primitive types and flattened to
// core value types for validation:
//
//	Entry          Params                              Results
//	──────────────────────────────────────────────────────────
//	malloc         u32                                 u32
//	free           u32
//	ffmpeg         s32 argc, u32 argv                  s32
//	ffprobe        s32 argc, u32 argv                  s32
//	set_timeout    s32 ms                              (optional, no-op)
//	reset                                              (optional, no-op)
//	write_frame    u32 ptr, u32 len, s64 ts            s32
//	read_frame     u32 buf, u32 cap, u32 ts_out        s32
//	init_filter    u32 graph, s32 x4 dims              s32
//	process_frame  u32 in, u32 len, s64 ts, u32 out, u32 cap  s32
//	close_filter
//
// Frame and filter entries may be absent from a core built without frame
// I/O; calling them then fails.
//
// # Host Callbacks
//
// The env module exports log(kind, ptr, len) and progress(progress, time).
// Guest stdout and stderr are split into lines and delivered to the same
// log sink as env.log.
//
// # Exit
//
// proc_exit does not close the module. A call that ends in exit() returns
// the exit code as its result.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. Core is NOT thread-safe and should be
// used by a single goroutine.
package engine
