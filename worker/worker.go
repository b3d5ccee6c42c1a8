package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/ffbridge/channel"
	"github.com/wippyai/ffbridge/engine"
	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/marshal"
	"github.com/wippyai/ffbridge/protocol"
	"github.com/wippyai/ffbridge/vfs"
)

// State is the engine lifecycle as seen by the dispatcher.
type State int32

const (
	StateUnloaded State = iota
	StateLoaded
	StateFiltering
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateFiltering:
		return "filtering"
	default:
		return "unknown"
	}
}

// Options configures a Worker.
type Options struct {
	// Runtime configures the wazero runtime created by the first LOAD.
	Runtime engine.Config

	// Loader configures asset fetching during LOAD.
	Loader engine.LoaderConfig

	// FS is the filesystem facade shared with the engine. When nil, a
	// vfs.Dir rooted at FSRoot is created.
	FS vfs.FS

	// FSRoot is the host directory for the default FS. Empty uses a fresh
	// temporary directory that is removed by Close.
	FSRoot string

	// Locations fills the asset locations a LOAD request leaves empty.
	// Fields left empty here fall back to the pinned CDN defaults.
	Locations protocol.LoadConfig

	// LegacyFrameNoop answers frame requests sent before LOAD with false or
	// null instead of a NOT_LOADED error.
	LegacyFrameNoop bool

	// RecentFrames bounds the diagnostic ring of processed frames.
	// 0 means DefaultRecentFrames; negative disables the ring.
	RecentFrames int

	// Registerer receives the worker's metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// DefaultRecentFrames is the ring size used when Options.RecentFrames is 0.
const DefaultRecentFrames = 16

// EventFunc receives unsolicited LOG, PROGRESS and DOWNLOAD envelopes.
type EventFunc func(protocol.Envelope)

type handler func(ctx context.Context, req protocol.Envelope) (any, error)

// Worker owns the single engine instance and dispatches requests to it.
// Requests are handled one at a time; Handle may be called from several
// goroutines but never runs two handlers concurrently.
type Worker struct {
	opts     Options
	fs       vfs.FS
	tempRoot string
	loader   *engine.Loader
	handlers map[protocol.MessageType]handler
	metrics  *metrics
	recent   *ring
	sink     atomic.Pointer[EventFunc]
	state    atomic.Int32
	live     atomic.Pointer[marshal.Layer]

	mu      sync.Mutex
	runtime *engine.Runtime
	core    *engine.Core
	layer   *marshal.Layer
}

// New creates a worker. The engine is not loaded until a LOAD request.
func New(opts Options) (*Worker, error) {
	w := &Worker{
		opts:   opts,
		fs:     opts.FS,
		loader: engine.NewLoader(opts.Loader),
	}

	if w.fs == nil {
		root := opts.FSRoot
		if root == "" {
			tmp, err := os.MkdirTemp("", "ffbridge-")
			if err != nil {
				return nil, fferrors.FS("root", "/", err)
			}
			root = tmp
			w.tempRoot = tmp
		}
		dir, err := vfs.New(root)
		if err != nil {
			_ = w.removeTemp()
			return nil, err
		}
		w.fs = dir
	}

	size := opts.RecentFrames
	if size == 0 {
		size = DefaultRecentFrames
	}
	w.recent = newRing(size)
	w.metrics = newMetrics(opts.Registerer, w.outstanding)
	w.handlers = w.dispatchTable()
	return w, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// FS returns the filesystem facade shared with the engine.
func (w *Worker) FS() vfs.FS {
	return w.fs
}

// RecentFrames returns metadata of the most recently processed frames,
// oldest first. The ring is cleared by CLOSE_FILTER.
func (w *Worker) RecentFrames() []FrameInfo {
	return w.recent.snapshot()
}

// OnEvent registers the event sink. Passing nil drops events.
func (w *Worker) OnEvent(fn EventFunc) {
	if fn == nil {
		w.sink.Store(nil)
		return
	}
	w.sink.Store(&fn)
}

func (w *Worker) emit(ev protocol.Envelope) {
	if fn := w.sink.Load(); fn != nil {
		(*fn)(ev)
	}
}

// outstanding may run during a request, so it reads the layer without
// taking w.mu.
func (w *Worker) outstanding() float64 {
	if layer := w.live.Load(); layer != nil {
		return float64(layer.Outstanding())
	}
	return 0
}

// Handle processes one request and returns its single response. Failures,
// including panics inside a handler, become an ERROR envelope with the
// request's id.
func (w *Worker) Handle(ctx context.Context, req protocol.Envelope) (resp protocol.Envelope) {
	start := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fferrors.New(fferrors.PhaseDispatch, fferrors.KindNativeCallFailed).
				Value(r).
				Detail("handler panic: %v", r).
				Build()
			Logger().Error("handler panic",
				zap.String("type", req.Type.String()),
				zap.String("id", req.ID),
				zap.Any("panic", r))
			resp = protocol.ErrorResponse(req, err)
			w.metrics.observe(req.Type, err, time.Since(start))
		}
	}()

	data, err := w.dispatch(ctx, req)
	w.metrics.observe(req.Type, err, time.Since(start))

	if err != nil {
		Logger().Debug("request failed",
			zap.String("type", req.Type.String()),
			zap.String("id", req.ID),
			zap.Error(err))
		return protocol.ErrorResponse(req, err)
	}

	Logger().Debug("request handled",
		zap.String("type", req.Type.String()),
		zap.String("id", req.ID),
		zap.Duration("elapsed", time.Since(start)))
	return protocol.Response(req, data)
}

func (w *Worker) dispatch(ctx context.Context, req protocol.Envelope) (any, error) {
	if req.Type != protocol.TypeLoad && w.core == nil {
		if w.opts.LegacyFrameNoop && req.Type.IsFrameOp() {
			return legacyNoop(req.Type), nil
		}
		return nil, fferrors.NotLoaded()
	}

	h, ok := w.handlers[req.Type]
	if !ok {
		return nil, fferrors.UnknownMessageType(req.Type.String())
	}
	return h(ctx, req)
}

// legacyNoop is the answer to a frame request on an unloaded engine in
// compatibility mode.
func legacyNoop(t protocol.MessageType) any {
	switch t {
	case protocol.TypeReadFrame, protocol.TypeProcessFrame:
		return nil
	default:
		return false
	}
}

// Serve reads requests from port until it is closed or ctx is done, posting
// each response before reading the next request. Events are posted to the
// same port while Serve runs. Serve returns nil when the peer closes the
// port.
func (w *Worker) Serve(ctx context.Context, port channel.Port) error {
	w.OnEvent(func(ev protocol.Envelope) {
		if err := port.Post(ctx, ev); err != nil {
			Logger().Warn("event dropped",
				zap.String("type", ev.Type.String()),
				zap.Error(err))
		}
	})
	defer w.OnEvent(nil)

	for {
		req, err := port.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := w.Handle(ctx, req)
		if err := port.Post(ctx, resp); err != nil {
			return err
		}
	}
}

// Close releases the engine and any temporary filesystem root.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.core != nil {
		errs = append(errs, w.core.Close(ctx))
		w.core = nil
		w.layer = nil
		w.live.Store(nil)
	}
	if w.runtime != nil {
		errs = append(errs, w.runtime.Close(ctx))
		w.runtime = nil
	}
	w.setState(StateUnloaded)
	w.metrics.loaded.Set(0)
	errs = append(errs, w.removeTemp())
	return errors.Join(errs...)
}

func (w *Worker) removeTemp() error {
	if w.tempRoot == "" {
		return nil
	}
	err := os.RemoveAll(w.tempRoot)
	w.tempRoot = ""
	return err
}
