package marshal

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	ffbridge "github.com/wippyai/ffbridge"
	"github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

// Layer performs scoped marshaling operations against one Native.
// A Layer is driven by a single goroutine; Outstanding may be read from any.
type Layer struct {
	native      Native
	outstanding atomic.Int64
}

// New creates a marshaling layer over n.
func New(n Native) *Layer {
	return &Layer{native: n}
}

// Outstanding returns the number of native bytes held by in-flight operations.
// It is zero whenever no operation is running.
func (l *Layer) Outstanding() int64 {
	return l.outstanding.Load()
}

// buffer is a scoped allocation in linear memory.
type buffer struct {
	ptr  uint32
	size uint32
}

// acquire allocates size bytes. Zero-sized requests allocate one byte so a
// valid allocation is never confused with a null pointer.
func (l *Layer) acquire(ctx context.Context, size uint32) (buffer, error) {
	if size == 0 {
		size = 1
	}
	ptr, err := l.native.Malloc(ctx, size)
	if err != nil {
		return buffer{}, errors.AllocationFailed(size, err)
	}
	if ptr == 0 {
		return buffer{}, errors.AllocationFailed(size, nil)
	}
	l.outstanding.Add(int64(size))
	return buffer{ptr: ptr, size: size}, nil
}

// release frees b. It runs even when ctx is already cancelled.
func (l *Layer) release(ctx context.Context, b buffer) {
	if b.ptr == 0 {
		return
	}
	if err := l.native.Free(context.WithoutCancel(ctx), b.ptr); err != nil {
		Logger().Warn("free failed",
			zap.Uint32("ptr", b.ptr),
			zap.Uint32("size", b.size),
			zap.Error(err))
	}
	l.outstanding.Add(-int64(b.size))
}

func (l *Layer) memory() ffbridge.Memory {
	return l.native.Memory()
}

func (l *Layer) write(ptr uint32, data []byte) error {
	if err := l.memory().Write(ptr, data); err != nil {
		return errors.New(errors.PhaseMarshal, errors.KindOutOfBounds).
			Value(ptr).
			Detail("copy in %d bytes", len(data)).
			Cause(err).
			Build()
	}
	return nil
}

// read copies length bytes out of linear memory into Go memory.
func (l *Layer) read(ptr, length uint32) ([]byte, error) {
	view, err := l.memory().Read(ptr, length)
	if err != nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindOutOfBounds).
			Value(ptr).
			Detail("copy out %d bytes", length).
			Cause(err).
			Build()
	}
	return bytes.Clone(view), nil
}

// call invokes entry and decodes its i32 return. Entries without results
// return 0.
func (l *Layer) call(ctx context.Context, entry string, params ...uint64) (int32, error) {
	results, err := l.native.Call(ctx, entry, params...)
	if err != nil {
		return 0, errors.NativeCallFailed(entry, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return decodeI32(results[0]), nil
}

func sizeOf(data []byte) (uint32, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return 0, errors.InvalidInput(errors.PhaseMarshal, "buffer exceeds 32-bit linear memory")
	}
	return uint32(len(data)), nil
}

// YUV420Size returns the byte size of a 4:2:0 planar frame of w x h.
func YUV420Size(w, h int32) (uint32, error) {
	if w <= 0 || h <= 0 {
		return 0, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Value([2]int32{w, h}).
			Detail("frame dimensions must be positive, got %dx%d", w, h).
			Build()
	}
	size := int64(w) * int64(h) * 3 / 2
	if size > math.MaxUint32 {
		return 0, errors.InvalidInput(errors.PhaseMarshal, "frame exceeds 32-bit linear memory")
	}
	return uint32(size), nil
}

func orDefault(v, def int32) int32 {
	if v == 0 {
		return def
	}
	return v
}

// WriteFrame hands one frame to the engine. It reports whether write_frame
// returned 0.
func (l *Layer) WriteFrame(ctx context.Context, data []byte, timestamp int64) (bool, error) {
	size, err := sizeOf(data)
	if err != nil {
		return false, err
	}

	buf, err := l.acquire(ctx, size)
	if err != nil {
		return false, err
	}
	defer l.release(ctx, buf)

	if err := l.write(buf.ptr, data); err != nil {
		return false, err
	}

	code, err := l.call(ctx, EntryWriteFrame, u32(buf.ptr), u32(size), i64(timestamp))
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// ReadFrame pulls the next frame from the engine into a buffer sized for a
// 4:2:0 frame of width x height (defaults apply to zero values). It returns
// nil without error when no frame is available.
func (l *Layer) ReadFrame(ctx context.Context, width, height int32) (*protocol.Frame, error) {
	capacity, err := YUV420Size(orDefault(width, protocol.DefaultWidth), orDefault(height, protocol.DefaultHeight))
	if err != nil {
		return nil, err
	}

	buf, err := l.acquire(ctx, capacity)
	if err != nil {
		return nil, err
	}
	defer l.release(ctx, buf)

	ts, err := l.acquire(ctx, timestampSlot)
	if err != nil {
		return nil, err
	}
	defer l.release(ctx, ts)

	size, err := l.call(ctx, EntryReadFrame, u32(buf.ptr), u32(capacity), u32(ts.ptr))
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, nil
	}
	if uint32(size) > capacity {
		return nil, errors.New(errors.PhaseNative, errors.KindOutOfBounds).
			Entry(EntryReadFrame).
			Value(size).
			Detail("returned %d bytes for a %d byte buffer", size, capacity).
			Build()
	}

	data, err := l.read(buf.ptr, uint32(size))
	if err != nil {
		return nil, err
	}
	raw, err := l.memory().ReadU64(ts.ptr)
	if err != nil {
		return nil, errors.OutOfBounds(errors.PhaseMarshal, ts.ptr, timestampSlot)
	}

	return &protocol.Frame{FrameData: data, Timestamp: int64(raw)}, nil
}

// InitFilter configures the engine's filter graph. It reports whether
// init_filter returned 0.
func (l *Layer) InitFilter(ctx context.Context, graph string, inW, inH, outW, outH int32) (bool, error) {
	text := append([]byte(graph), 0)
	size, err := sizeOf(text)
	if err != nil {
		return false, err
	}

	buf, err := l.acquire(ctx, size)
	if err != nil {
		return false, err
	}
	defer l.release(ctx, buf)

	if err := l.write(buf.ptr, text); err != nil {
		return false, err
	}

	code, err := l.call(ctx, EntryInitFilter, u32(buf.ptr), i32(inW), i32(inH), i32(outW), i32(outH))
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// ProcessFrame pushes one frame through the filter graph and returns the
// filtered frame, stamped with the input timestamp. Unlike ReadFrame, an
// empty result is an error.
func (l *Layer) ProcessFrame(ctx context.Context, data []byte, timestamp int64, outW, outH int32) (*protocol.Frame, error) {
	size, err := sizeOf(data)
	if err != nil {
		return nil, err
	}
	capacity, err := YUV420Size(orDefault(outW, protocol.DefaultWidth), orDefault(outH, protocol.DefaultHeight))
	if err != nil {
		return nil, err
	}

	in, err := l.acquire(ctx, size)
	if err != nil {
		return nil, err
	}
	defer l.release(ctx, in)

	out, err := l.acquire(ctx, capacity)
	if err != nil {
		return nil, err
	}
	defer l.release(ctx, out)

	if err := l.write(in.ptr, data); err != nil {
		return nil, err
	}

	n, err := l.call(ctx, EntryProcessFrame, u32(in.ptr), u32(size), i64(timestamp), u32(out.ptr), u32(capacity))
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errors.ProcessingFailed(n)
	}
	if uint32(n) > capacity {
		return nil, errors.New(errors.PhaseNative, errors.KindOutOfBounds).
			Entry(EntryProcessFrame).
			Value(n).
			Detail("returned %d bytes for a %d byte buffer", n, capacity).
			Build()
	}

	result, err := l.read(out.ptr, uint32(n))
	if err != nil {
		return nil, err
	}
	return &protocol.Frame{FrameData: result, Timestamp: timestamp}, nil
}

// CloseFilter tears down the engine's filter graph.
func (l *Layer) CloseFilter(ctx context.Context) (bool, error) {
	if _, err := l.call(ctx, EntryCloseFilter); err != nil {
		return false, err
	}
	return true, nil
}

// SetTimeout forwards an execution timeout in milliseconds to the engine.
// The engine enforces it; protocol.NoTimeout disables it.
func (l *Layer) SetTimeout(ctx context.Context, ms int32) error {
	_, err := l.call(ctx, EntrySetTimeout, i32(ms))
	return err
}

// Reset clears the engine's per-run state.
func (l *Layer) Reset(ctx context.Context) error {
	_, err := l.call(ctx, EntryReset)
	return err
}

// Run invokes a command-line entry point (ffmpeg or ffprobe) with args as a C
// argv and returns its exit code. The entry name is used as argv[0]; ffmpeg
// additionally gets -nostdin and -y.
func (l *Layer) Run(ctx context.Context, entry string, args []string) (int32, error) {
	argv := make([]string, 0, len(args)+3)
	argv = append(argv, entry)
	if entry == EntryExec {
		argv = append(argv, "-nostdin", "-y")
	}
	argv = append(argv, args...)

	strs := make([]buffer, 0, len(argv))
	defer func() {
		for _, b := range strs {
			l.release(ctx, b)
		}
	}()

	for i, arg := range argv {
		text := append([]byte(arg), 0)
		size, err := sizeOf(text)
		if err != nil {
			return 0, err
		}
		b, err := l.acquire(ctx, size)
		if err != nil {
			return 0, err
		}
		strs = append(strs, b)
		if err := l.write(b.ptr, text); err != nil {
			return 0, errors.New(errors.PhaseMarshal, errors.KindOutOfBounds).
				Path(fmt.Sprintf("argv[%d]", i)).
				Cause(err).
				Build()
		}
	}

	table, err := l.acquire(ctx, uint32(len(argv))*4)
	if err != nil {
		return 0, err
	}
	defer l.release(ctx, table)

	for i, b := range strs {
		if err := l.memory().WriteU32(table.ptr+uint32(i)*4, b.ptr); err != nil {
			return 0, errors.OutOfBounds(errors.PhaseMarshal, table.ptr+uint32(i)*4, 4)
		}
	}

	return l.call(ctx, entry, i32(int32(len(argv))), u32(table.ptr))
}
