// Package testbed assembles small engine cores directly as wasm bytes so
// tests across the module can drive a real wazero instance without a wasm
// toolchain.
//
// Core returns a module that implements the full core ABI against a single
// pending-frame slot:
//
//	malloc/free     bump allocator with a live-allocation counter
//	ffmpeg          returns argc
//	ffprobe         logs "hello" to stderr, reports progress, returns 3
//	write_frame     stores one frame; a second write before a read fails
//	read_frame      drains the stored frame
//	process_frame   echoes its input
//	live            number of outstanding allocations
//	quit            calls proc_exit(7)
//
// Build composes custom modules from the same pieces.
package testbed
