// Package marshal moves bytes between Go and the engine's linear memory.
//
// Every operation follows the same scoped sequence: allocate native buffers
// sized to the operands, copy caller bytes in, call exactly one native entry
// point, interpret its numeric return, copy results out into fresh Go memory,
// and free every native buffer. Buffers are released by defers bound to the
// operation, so the sequence is identical whether the entry point succeeds,
// returns a failure code, traps, or the copy itself fails.
//
// No native pointer escapes an operation. Results never alias linear memory.
//
//	layer := marshal.New(core)
//	ok, err := layer.WriteFrame(ctx, yuv, pts)
//	frame, err := layer.ReadFrame(ctx, 1280, 720) // nil, nil when no frame is pending
package marshal
