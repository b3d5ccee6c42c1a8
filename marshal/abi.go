package marshal

import (
	"context"

	ffbridge "github.com/wippyai/ffbridge"
)

// Entry point names exported by the engine core.
const (
	EntryMalloc       = "malloc"
	EntryFree         = "free"
	EntryExec         = "ffmpeg"
	EntryProbe        = "ffprobe"
	EntrySetTimeout   = "set_timeout"
	EntryReset        = "reset"
	EntryWriteFrame   = "write_frame"
	EntryReadFrame    = "read_frame"
	EntryInitFilter   = "init_filter"
	EntryProcessFrame = "process_frame"
	EntryCloseFilter  = "close_filter"
)

// timestampSlot is the size of the int64 out-parameter of read_frame.
const timestampSlot = 8

// Native is the low-level ABI of a loaded engine core.
// Call invokes an exported entry point with raw core values (i32 values are
// zero-extended, i64 values are two's complement).
type Native interface {
	ffbridge.Allocator
	Memory() ffbridge.Memory
	Call(ctx context.Context, entry string, params ...uint64) ([]uint64, error)
}

func i32(v int32) uint64 {
	return uint64(uint32(v))
}

func u32(v uint32) uint64 {
	return uint64(v)
}

func i64(v int64) uint64 {
	return uint64(v)
}

func decodeI32(v uint64) int32 {
	return int32(uint32(v))
}
