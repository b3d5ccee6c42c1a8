package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	ffbridge "github.com/wippyai/ffbridge"
	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/marshal"
)

// Runtime hosts a single engine core on a wazero runtime.
type Runtime struct {
	runtime      wazero.Runtime
	core         atomic.Pointer[Core]
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
	hostInitMu   sync.Mutex
	hostInitDone bool
}

// Config holds configuration for runtime creation
type Config struct {
	// MemoryLimitPages sets the maximum memory of the core in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental),
	// required by multi-threaded core builds.
	EnableThreads bool
}

// NewRuntime creates a new wazero-backed runtime. A nil cfg uses defaults.
func NewRuntime(ctx context.Context, cfg *Config) *Runtime {
	runtimeCfg := wazero.NewRuntimeConfig()

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
	}

	return &Runtime{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}
}

// Close releases the runtime and any core it hosts.
func (r *Runtime) Close(ctx context.Context) error {
	r.core.Store(nil)
	return r.runtime.Close(ctx)
}

// InitWASI instantiates the WASI module for this runtime.
// Safe for concurrent calls.
func (r *Runtime) InitWASI(ctx context.Context) error {
	if r.wasiInitDone.Load() {
		return nil
	}

	r.wasiInitMu.Lock()
	defer r.wasiInitMu.Unlock()

	if r.wasiInitDone.Load() {
		return nil
	}

	if r.runtime.Module(wasiModuleName) != nil {
		r.wasiInitDone.Store(true)
		return nil
	}

	if _, err := InstantiateWASI(ctx, r.runtime); err != nil {
		if r.runtime.Module(wasiModuleName) == nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
	}

	r.wasiInitDone.Store(true)
	return nil
}

func (r *Runtime) initHost(ctx context.Context) error {
	r.hostInitMu.Lock()
	defer r.hostInitMu.Unlock()

	if r.hostInitDone {
		return nil
	}
	if err := instantiateHost(ctx, r.runtime, r.current); err != nil {
		return fmt.Errorf("instantiate host module: %w", err)
	}
	r.hostInitDone = true
	return nil
}

func (r *Runtime) current() *Core {
	return r.core.Load()
}

// Options configures core instantiation.
type Options struct {
	// Name is the module name inside the runtime. Defaults to "ffmpeg-core".
	Name string

	// FSRoot is a host directory mounted at "/" in the guest. Empty mounts
	// nothing.
	FSRoot string
}

// Instantiate compiles wasm, validates it against the core ABI and starts it.
// A runtime hosts at most one live core.
func (r *Runtime) Instantiate(ctx context.Context, wasm []byte, opts Options) (*Core, error) {
	if r.current() != nil {
		return nil, fferrors.New(fferrors.PhaseLoad, fferrors.KindUnsupported).
			Detail("runtime already hosts a core").
			Build()
	}

	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fferrors.Wrap(fferrors.PhaseLoad, fferrors.KindInvalidData, err, "compile core")
	}

	if err := validateExports(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	if err := r.InitWASI(ctx); err != nil {
		return nil, err
	}
	if err := r.initHost(ctx); err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = "ffmpeg-core"
	}

	core := &Core{
		runtime:  r,
		compiled: compiled,
		funcs:    make(map[string]api.Function),
		stackBuf: make([]uint64, 8),
	}
	core.stdout = newLineWriter(streamStdout, core.emitLog)
	core.stderr = newLineWriter(streamStderr, core.emitLog)

	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStdout(core.stdout).
		WithStderr(core.stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions("_initialize")
	if opts.FSRoot != "" {
		modCfg = modCfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(opts.FSRoot, "/"))
	}

	// Host callbacks may fire during start functions.
	r.core.Store(core)

	mod, err := r.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		r.core.Store(nil)
		_ = compiled.Close(ctx)
		return nil, fferrors.Wrap(fferrors.PhaseLoad, fferrors.KindImportFailure, err, "instantiate core")
	}

	core.module = mod
	core.memory = &Memory{mem: mod.Memory()}

	Logger().Debug("core instantiated",
		zap.String("name", name),
		zap.Uint32("memory_bytes", core.memory.Size()),
		zap.String("fs_root", opts.FSRoot))

	return core, nil
}

// LogFunc receives one guest log line.
type LogFunc func(kind, message string)

// ProgressFunc receives guest progress reports. progress is in [0, 1]; time
// is the media time reached.
type ProgressFunc func(progress, time float64)

// Core is a live engine instance. It implements the native ABI consumed by
// the marshal package. Core is NOT safe for concurrent calls.
type Core struct {
	runtime    *Runtime
	compiled   wazero.CompiledModule
	module     api.Module
	memory     *Memory
	funcs      map[string]api.Function
	stdout     *lineWriter
	stderr     *lineWriter
	onLog      atomic.Pointer[LogFunc]
	onProgress atomic.Pointer[ProgressFunc]
	stackBuf   []uint64
	mu         sync.Mutex
}

// OnLog registers the log sink. Guest stdout and stderr lines and env.log
// calls are delivered to it.
func (c *Core) OnLog(fn LogFunc) {
	c.onLog.Store(&fn)
}

// OnProgress registers the progress sink.
func (c *Core) OnProgress(fn ProgressFunc) {
	c.onProgress.Store(&fn)
}

func (c *Core) emitLog(kind, message string) {
	Logger().Debug("guest", zap.String("kind", kind), zap.String("message", message))
	if fn := c.onLog.Load(); fn != nil && *fn != nil {
		(*fn)(kind, message)
	}
}

func (c *Core) emitProgress(progress, time float64) {
	if fn := c.onProgress.Load(); fn != nil && *fn != nil {
		(*fn)(progress, time)
	}
}

// Memory returns the core's linear memory.
func (c *Core) Memory() ffbridge.Memory {
	if c.memory == nil {
		return &Memory{}
	}
	return c.memory
}

// Malloc allocates size bytes on the guest heap.
func (c *Core) Malloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := c.Call(ctx, entryMalloc, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return uint32(results[0]), nil
}

// Free releases a pointer returned by Malloc.
func (c *Core) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	_, err := c.Call(ctx, entryFree, uint64(ptr))
	return err
}

func (c *Core) function(entry string) (api.Function, bool) {
	if fn, ok := c.funcs[entry]; ok {
		return fn, fn != nil
	}
	fn := c.module.ExportedFunction(entry)
	c.funcs[entry] = fn
	return fn, fn != nil
}

// Call invokes an exported function with raw core values. Missing optional
// entry points are no-ops. A guest exit (proc_exit) is reported as a normal
// return of the exit code and leaves the core usable.
func (c *Core) Call(ctx context.Context, entry string, params ...uint64) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.module == nil {
		return nil, fferrors.New(fferrors.PhaseNative, fferrors.KindNotLoaded).
			Entry(entry).
			Detail("core is closed").
			Build()
	}

	fn, ok := c.function(entry)
	if !ok {
		if sig, known := coreABI[entry]; known && sig.presence == noopIfMissing {
			return nil, nil
		}
		return nil, fferrors.NotFound(fferrors.PhaseNative, "export", entry)
	}

	def := fn.Definition()
	if len(params) != len(def.ParamTypes()) {
		return nil, fferrors.New(fferrors.PhaseNative, fferrors.KindInvalidInput).
			Entry(entry).
			Detail("expected %d params, got %d", len(def.ParamTypes()), len(params)).
			Build()
	}

	n := max(len(params), len(def.ResultTypes()))
	if cap(c.stackBuf) < n {
		c.stackBuf = make([]uint64, n)
	}
	stack := c.stackBuf[:n]
	copy(stack, params)

	err := fn.CallWithStack(ctx, stack)
	c.stdout.Flush()
	c.stderr.Flush()

	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && !c.closed() {
			Logger().Debug("guest exit",
				zap.String("entry", entry),
				zap.Uint32("code", exitErr.ExitCode()))
			return []uint64{uint64(exitErr.ExitCode())}, nil
		}
		return nil, err
	}

	results := make([]uint64, len(def.ResultTypes()))
	copy(results, stack)
	return results, nil
}

func (c *Core) closed() bool {
	return c.module == nil || c.module.IsClosed()
}

// Close tears down the core instance.
func (c *Core) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.module != nil {
		if err := c.module.Close(ctx); err != nil {
			firstErr = err
		}
		c.module = nil
	}
	if c.compiled != nil {
		if err := c.compiled.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		c.compiled = nil
	}
	c.runtime.core.CompareAndSwap(c, nil)
	c.funcs = nil
	c.memory = nil
	return firstErr
}

// Memory wraps wazero memory to implement ffbridge.Memory
type Memory struct {
	mem api.Memory
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, fferrors.OutOfBounds(fferrors.PhaseNative, offset, length)
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fferrors.OutOfBounds(fferrors.PhaseNative, offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return fferrors.OutOfBounds(fferrors.PhaseNative, offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	if m.mem == nil {
		return 0, fferrors.OutOfBounds(fferrors.PhaseNative, offset, 4)
	}
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fferrors.OutOfBounds(fferrors.PhaseNative, offset, 4)
	}
	return val, nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	if m.mem == nil {
		return 0, fferrors.OutOfBounds(fferrors.PhaseNative, offset, 8)
	}
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fferrors.OutOfBounds(fferrors.PhaseNative, offset, 8)
	}
	return val, nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if m.mem == nil || !m.mem.WriteUint32Le(offset, value) {
		return fferrors.OutOfBounds(fferrors.PhaseNative, offset, 4)
	}
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if m.mem == nil || !m.mem.WriteUint64Le(offset, value) {
		return fferrors.OutOfBounds(fferrors.PhaseNative, offset, 8)
	}
	return nil
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var (
	_ ffbridge.Memory    = (*Memory)(nil)
	_ ffbridge.Allocator = (*Core)(nil)
	_ marshal.Native     = (*Core)(nil)
)
