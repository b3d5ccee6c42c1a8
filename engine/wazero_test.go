package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/marshal"
	"github.com/wippyai/ffbridge/testbed"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	ctx := context.Background()

	r := NewRuntime(ctx, &Config{MemoryLimitPages: 16})
	t.Cleanup(func() { r.Close(ctx) })

	core, err := r.Instantiate(ctx, testbed.Core(), Options{FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { core.Close(ctx) })
	return core
}

func liveAllocations(t *testing.T, c *Core) int32 {
	t.Helper()
	results, err := c.Call(context.Background(), "live")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	return int32(uint32(results[0]))
}

func TestNewRuntime(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{EnableThreads: true}, "threads"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRuntime(ctx, tc.cfg)
			defer r.Close(ctx)

			if r.runtime == nil {
				t.Error("runtime should not be nil")
			}
			if err := r.InitWASI(ctx); err != nil {
				t.Fatalf("InitWASI failed: %v", err)
			}
			// Second call is a no-op.
			if err := r.InitWASI(ctx); err != nil {
				t.Fatalf("second InitWASI failed: %v", err)
			}
		})
	}
}

func TestInstantiate_InvalidBytes(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx, nil)
	defer r.Close(ctx)

	_, err := r.Instantiate(ctx, []byte("not wasm"), Options{})
	if fferrors.KindOf(err) != fferrors.KindInvalidData {
		t.Fatalf("expected invalid_data, got %v", err)
	}
}

func TestInstantiate_ValidatesExports(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		funcs []testbed.Func
		want  string
	}{
		{
			name:  "missing ffmpeg",
			funcs: []testbed.Func{testbed.Malloc, testbed.Free, testbed.Probe},
			want:  "missing export ffmpeg",
		},
		{
			name: "wrong malloc signature",
			funcs: []testbed.Func{
				{Name: entryMalloc, Params: []byte{testbed.I64}, Results: []byte{testbed.I32}, Body: testbed.I32Const(0)},
				testbed.Free, testbed.Exec, testbed.Probe,
			},
			want: "malloc: have (i64) -> (i32)",
		},
		{
			name: "wrong optional signature",
			funcs: []testbed.Func{
				testbed.Malloc, testbed.Free, testbed.Exec, testbed.Probe,
				{Name: entryCloseFilter, Results: []byte{testbed.I32}, Body: testbed.I32Const(0)},
			},
			want: "close_filter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRuntime(ctx, nil)
			defer r.Close(ctx)

			_, err := r.Instantiate(ctx, testbed.Build(testbed.Imports, tt.funcs, nil), Options{})
			if err == nil {
				t.Fatal("expected validation error")
			}
			if fferrors.KindOf(err) != fferrors.KindInvalidData {
				t.Errorf("kind = %q, want invalid_data", fferrors.KindOf(err))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestInstantiate_MinimalCore(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx, nil)
	defer r.Close(ctx)

	core, err := r.Instantiate(ctx, testbed.Build(testbed.Imports, []testbed.Func{testbed.Malloc, testbed.Free, testbed.Exec, testbed.Probe}, nil), Options{})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer core.Close(ctx)

	_, err = marshal.New(core).WriteFrame(ctx, []byte{1}, 0)
	if !errors.Is(err, fferrors.ErrNativeCallFailed) {
		t.Fatalf("expected native_call_failed for absent frame entry, got %v", err)
	}
}

func TestInstantiate_OneCorePerRuntime(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx, nil)
	defer r.Close(ctx)

	core, err := r.Instantiate(ctx, testbed.Core(), Options{})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	if _, err := r.Instantiate(ctx, testbed.Core(), Options{}); fferrors.KindOf(err) != fferrors.KindUnsupported {
		t.Fatalf("expected unsupported for second core, got %v", err)
	}

	if err := core.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	again, err := r.Instantiate(ctx, testbed.Core(), Options{})
	if err != nil {
		t.Fatalf("Instantiate after Close failed: %v", err)
	}
	again.Close(ctx)
}

func TestCore_FrameRoundTrip(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	layer := marshal.New(core)

	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	ok, err := layer.WriteFrame(ctx, frame, 90000)
	if err != nil || !ok {
		t.Fatalf("WriteFrame = %v, %v", ok, err)
	}

	ok, err = layer.WriteFrame(ctx, frame, 90001)
	if err != nil {
		t.Fatalf("second WriteFrame: %v", err)
	}
	if ok {
		t.Error("second WriteFrame should report a full buffer")
	}

	got, err := layer.ReadFrame(ctx, 4, 2)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got == nil {
		t.Fatal("expected a frame")
	}
	if !bytes.Equal(got.FrameData, frame) {
		t.Errorf("data = %v, want %v", got.FrameData, frame)
	}
	if got.Timestamp != 90000 {
		t.Errorf("timestamp = %d, want 90000", got.Timestamp)
	}

	got, err = layer.ReadFrame(ctx, 4, 2)
	if err != nil {
		t.Fatalf("ReadFrame on empty: %v", err)
	}
	if got != nil {
		t.Errorf("expected no frame, got %+v", got)
	}

	if n := liveAllocations(t, core); n != 0 {
		t.Errorf("%d native allocations leaked", n)
	}
	if layer.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d", layer.Outstanding())
	}
}

func TestCore_ReadFrameTooSmall(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	layer := marshal.New(core)

	if _, err := layer.WriteFrame(ctx, make([]byte, 24), 1); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := layer.ReadFrame(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got != nil {
		t.Error("frame larger than the buffer must not be returned")
	}
	if n := liveAllocations(t, core); n != 0 {
		t.Errorf("%d native allocations leaked", n)
	}
}

func TestCore_Filter(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	layer := marshal.New(core)

	ok, err := layer.InitFilter(ctx, "null", 4, 2, 4, 2)
	if err != nil || !ok {
		t.Fatalf("InitFilter = %v, %v", ok, err)
	}

	in := []byte{10, 20, 30, 40, 50, 60}
	out, err := layer.ProcessFrame(ctx, in, 1234, 4, 2)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if !bytes.Equal(out.FrameData, in) {
		t.Errorf("data = %v, want %v", out.FrameData, in)
	}
	if out.Timestamp != 1234 {
		t.Errorf("timestamp = %d, want 1234", out.Timestamp)
	}

	if _, err := layer.ProcessFrame(ctx, nil, 0, 4, 2); !errors.Is(err, fferrors.ErrProcessingFailed) {
		t.Errorf("expected processing_failed for empty input, got %v", err)
	}

	ok, err = layer.CloseFilter(ctx)
	if err != nil || !ok {
		t.Fatalf("CloseFilter = %v, %v", ok, err)
	}

	if n := liveAllocations(t, core); n != 0 {
		t.Errorf("%d native allocations leaked", n)
	}
}

func TestCore_Run(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	layer := marshal.New(core)

	type logLine struct{ kind, message string }
	var logs []logLine
	var progress [][2]float64
	core.OnLog(func(kind, message string) {
		logs = append(logs, logLine{kind, message})
	})
	core.OnProgress(func(p, tm float64) {
		progress = append(progress, [2]float64{p, tm})
	})

	code, err := layer.Run(ctx, marshal.EntryExec, []string{"-i", "in.avi", "out.mp4"})
	if err != nil {
		t.Fatalf("Run ffmpeg: %v", err)
	}
	// argv0, -nostdin, -y and three arguments.
	if code != 6 {
		t.Errorf("ffmpeg exit code = %d, want 6", code)
	}

	code, err = layer.Run(ctx, marshal.EntryProbe, []string{"in.mp4"})
	if err != nil {
		t.Fatalf("Run ffprobe: %v", err)
	}
	if code != 3 {
		t.Errorf("ffprobe exit code = %d, want 3", code)
	}
	if len(logs) != 1 || logs[0] != (logLine{streamStderr, "hello"}) {
		t.Errorf("logs = %+v", logs)
	}
	if len(progress) != 1 || progress[0] != [2]float64{0.5, 1000} {
		t.Errorf("progress = %v", progress)
	}

	if n := liveAllocations(t, core); n != 0 {
		t.Errorf("%d native allocations leaked", n)
	}
}

func TestCore_ProcExitKeepsCoreUsable(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)

	results, err := core.Call(ctx, "quit")
	if err != nil {
		t.Fatalf("quit: %v", err)
	}
	if len(results) != 1 || results[0] != 7 {
		t.Errorf("results = %v, want [7]", results)
	}

	code, err := marshal.New(core).Run(ctx, marshal.EntryExec, nil)
	if err != nil {
		t.Fatalf("Run after exit: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestCore_OptionalEntries(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	layer := marshal.New(core)

	if err := layer.SetTimeout(ctx, -1); err != nil {
		t.Errorf("SetTimeout on core without set_timeout: %v", err)
	}
	if err := layer.Reset(ctx); err != nil {
		t.Errorf("Reset on core without reset: %v", err)
	}

	_, err := core.Call(ctx, "no_such_export")
	if fferrors.KindOf(err) != fferrors.KindNotFound {
		t.Errorf("expected not_found for unknown export, got %v", err)
	}
}

func TestCore_CallArity(t *testing.T) {
	core := newTestCore(t)

	_, err := core.Call(context.Background(), entryMalloc)
	if fferrors.KindOf(err) != fferrors.KindInvalidInput {
		t.Errorf("expected invalid_input, got %v", err)
	}
}

func TestCore_Closed(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t)
	if err := core.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := core.Call(ctx, entryExec, 0, 0); !errors.Is(err, fferrors.ErrNotLoaded) {
		t.Errorf("expected not_loaded after Close, got %v", err)
	}
	if _, err := core.Memory().Read(0, 1); err == nil {
		t.Error("Read on closed core should fail")
	}
}

func TestMemory_Bounds(t *testing.T) {
	core := newTestCore(t)
	mem := core.Memory()

	size := mem.Size()
	if size != testbed.MemoryPages*65536 {
		t.Errorf("Size() = %d, want %d", size, testbed.MemoryPages*65536)
	}

	if err := mem.WriteU64(size-8, 42); err != nil {
		t.Fatalf("WriteU64 at end: %v", err)
	}
	if v, err := mem.ReadU64(size - 8); err != nil || v != 42 {
		t.Errorf("ReadU64 = %d, %v", v, err)
	}

	tests := []struct {
		name string
		err  error
	}{
		{"read", func() error { _, err := mem.Read(size-2, 4); return err }()},
		{"write", mem.Write(size, []byte{1})},
		{"read u32", func() error { _, err := mem.ReadU32(size - 2); return err }()},
		{"write u32", mem.WriteU32(size-2, 1)},
		{"read u64", func() error { _, err := mem.ReadU64(size - 4); return err }()},
		{"write u64", mem.WriteU64(size-4, 1)},
	}
	for _, tt := range tests {
		if fferrors.KindOf(tt.err) != fferrors.KindOutOfBounds {
			t.Errorf("%s: expected out_of_bounds, got %v", tt.name, tt.err)
		}
	}
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := newLineWriter(streamStdout, func(kind, line string) {
		if kind != streamStdout {
			t.Errorf("kind = %q", kind)
		}
		lines = append(lines, line)
	})

	w.Write([]byte("frame=  1\rframe=  2\r"))
	w.Write([]byte("done\nparti"))
	w.Write([]byte("al"))
	w.Flush()
	w.Flush()

	want := []string{"frame=  1", "frame=  2", "done", "partial"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLogKind(t *testing.T) {
	tests := map[uint32]string{1: streamStdout, 2: streamStderr, 0: streamInfo, 9: streamInfo}
	for in, want := range tests {
		if got := logKind(in); got != want {
			t.Errorf("logKind(%d) = %q, want %q", in, got, want)
		}
	}
}
