package engine

import (
	"bytes"
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

const hostModuleName = "env"

// Log stream kinds reported to the log sink.
const (
	streamStdout = "stdout"
	streamStderr = "stderr"
	streamInfo   = "info"
)

// logKind maps the kind argument of env.log. Values follow file descriptor
// numbers so a guest can forward writes unchanged.
func logKind(kind uint32) string {
	switch kind {
	case 1:
		return streamStdout
	case 2:
		return streamStderr
	default:
		return streamInfo
	}
}

// instantiateHost registers the env module through which the core reports
// logs and progress:
//
//	log(kind i32, ptr i32, len i32)
//	progress(progress f64, time f64)
//
// Callbacks are routed to the core returned by current at call time.
func instantiateHost(ctx context.Context, r wazero.Runtime, current func() *Core) error {
	builder := r.NewHostModuleBuilder(hostModuleName)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			kind := api.DecodeU32(stack[0])
			ptr := api.DecodeU32(stack[1])
			length := api.DecodeU32(stack[2])

			data, ok := mod.Memory().Read(ptr, length)
			if !ok {
				Logger().Warn("env.log out of bounds",
					zap.Uint32("ptr", ptr),
					zap.Uint32("len", length))
				return
			}
			if c := current(); c != nil {
				c.emitLog(logKind(kind), string(bytes.TrimRight(data, "\r\n")))
			}
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("log")

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			if c := current(); c != nil {
				c.emitProgress(api.DecodeF64(stack[0]), api.DecodeF64(stack[1]))
			}
		}), []api.ValueType{api.ValueTypeF64, api.ValueTypeF64}, nil).
		Export("progress")

	_, err := builder.Instantiate(ctx)
	return err
}

// lineWriter splits a guest output stream into lines. Both '\n' and '\r'
// terminate a line, so carriage-return progress output is reported per update.
type lineWriter struct {
	emit func(kind, line string)
	kind string
	buf  []byte
	mu   sync.Mutex
}

func newLineWriter(kind string, emit func(kind, line string)) *lineWriter {
	return &lineWriter{kind: kind, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if i > 0 {
			w.emit(w.kind, string(w.buf[:i]))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any unterminated trailing output.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(w.kind, string(w.buf))
		w.buf = w.buf[:0]
	}
}
