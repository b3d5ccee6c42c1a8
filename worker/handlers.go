package worker

import (
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/wippyai/ffbridge/engine"
	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/marshal"
	"github.com/wippyai/ffbridge/protocol"
)

func (w *Worker) dispatchTable() map[protocol.MessageType]handler {
	return map[protocol.MessageType]handler{
		protocol.TypeLoad:         w.load,
		protocol.TypeExec:         w.run(marshal.EntryExec),
		protocol.TypeFFprobe:      w.run(marshal.EntryProbe),
		protocol.TypeWriteFile:    w.writeFile,
		protocol.TypeReadFile:     w.readFile,
		protocol.TypeDeleteFile:   w.deleteFile,
		protocol.TypeRename:       w.rename,
		protocol.TypeCreateDir:    w.createDir,
		protocol.TypeListDir:      w.listDir,
		protocol.TypeDeleteDir:    w.deleteDir,
		protocol.TypeMount:        w.mount,
		protocol.TypeUnmount:      w.unmount,
		protocol.TypeWriteFrame:   w.writeFrame,
		protocol.TypeReadFrame:    w.readFrame,
		protocol.TypeInitFilter:   w.initFilter,
		protocol.TypeProcessFrame: w.processFrame,
		protocol.TypeCloseFilter:  w.closeFilter,
	}
}

func decode[T any](req protocol.Envelope) (T, error) {
	v, err := protocol.Decode[T](req.Data)
	if err != nil {
		return v, fferrors.New(fferrors.PhaseDispatch, fferrors.KindInvalidInput).
			Entry(req.Type.String()).
			Cause(err).
			Detail("malformed payload").
			Build()
	}
	return v, nil
}

// load instantiates the engine on the first call and reports whether it did.
func (w *Worker) load(ctx context.Context, req protocol.Envelope) (any, error) {
	if w.core != nil {
		return false, nil
	}

	cfg, err := decode[protocol.LoadConfig](req)
	if err != nil {
		return nil, err
	}
	cfg = withDefaults(cfg, w.opts.Locations).Resolve()

	wasm, err := w.loader.Fetch(ctx, cfg.WasmURL, func(ev protocol.DownloadEvent) {
		w.emit(protocol.Event(protocol.TypeDownload, ev))
	})
	if err != nil {
		return nil, err
	}

	if w.runtime == nil {
		rcfg := w.opts.Runtime
		w.runtime = engine.NewRuntime(ctx, &rcfg)
	}

	core, err := w.runtime.Instantiate(ctx, wasm, engine.Options{FSRoot: w.fs.Root()})
	if err != nil {
		if fferrors.KindOf(err) == fferrors.KindImportFailure {
			return nil, err
		}
		return nil, fferrors.ImportFailure(cfg.WasmURL, err)
	}

	core.OnLog(func(kind, message string) {
		w.emit(protocol.Event(protocol.TypeLog, protocol.LogEvent{Type: kind, Message: message}))
	})
	core.OnProgress(func(progress, time float64) {
		w.emit(protocol.Event(protocol.TypeProgress, protocol.ProgressEvent{Progress: progress, Time: time}))
	})

	w.core = core
	w.layer = marshal.New(core)
	w.live.Store(w.layer)
	w.setState(StateLoaded)
	w.metrics.loaded.Set(1)

	Logger().Info("engine loaded",
		zap.String("core", cfg.CoreURL),
		zap.String("wasm", cfg.WasmURL),
		zap.Int("wasm_bytes", len(wasm)))
	return true, nil
}

// withDefaults fills the locations cfg leaves empty from def. A request
// naming its own core keeps deriving the other locations from it.
func withDefaults(cfg, def protocol.LoadConfig) protocol.LoadConfig {
	if cfg.CoreURL != "" {
		return cfg
	}
	cfg.CoreURL = def.CoreURL
	if cfg.WasmURL == "" {
		cfg.WasmURL = def.WasmURL
	}
	if cfg.WorkerURL == "" {
		cfg.WorkerURL = def.WorkerURL
	}
	return cfg
}

// run executes entry with the request's arguments under its timeout and
// resets the engine afterwards.
func (w *Worker) run(entry string) handler {
	return func(ctx context.Context, req protocol.Envelope) (any, error) {
		data, err := decode[protocol.ExecData](req)
		if err != nil {
			return nil, err
		}

		if err := w.layer.SetTimeout(ctx, data.TimeoutMS()); err != nil {
			return nil, err
		}
		code, runErr := w.layer.Run(ctx, entry, data.Args)
		resetErr := w.layer.Reset(ctx)
		if runErr != nil {
			return nil, runErr
		}
		if resetErr != nil {
			return nil, resetErr
		}
		return code, nil
	}
}

func (w *Worker) writeFile(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.WriteFileData](req)
	if err != nil {
		return nil, err
	}
	contents, err := data.Bytes()
	if err != nil {
		return nil, err
	}
	if err := w.fs.WriteFile(data.Path, contents); err != nil {
		return nil, err
	}
	return true, nil
}

// readFile returns the contents as text for the utf8 encoding and as raw
// bytes otherwise.
func (w *Worker) readFile(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.ReadFileData](req)
	if err != nil {
		return nil, err
	}
	contents, err := w.fs.ReadFile(data.Path)
	if err != nil {
		return nil, err
	}
	if data.Encoding == protocol.EncodingUTF8 {
		return string(contents), nil
	}
	return contents, nil
}

func (w *Worker) deleteFile(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.PathData](req)
	if err != nil {
		return nil, err
	}
	if err := w.fs.Unlink(data.Path); err != nil {
		return nil, err
	}
	return true, nil
}

func (w *Worker) rename(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.RenameData](req)
	if err != nil {
		return nil, err
	}
	if err := w.fs.Rename(data.OldPath, data.NewPath); err != nil {
		return nil, err
	}
	return true, nil
}

func (w *Worker) createDir(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.PathData](req)
	if err != nil {
		return nil, err
	}
	if err := w.fs.Mkdir(data.Path); err != nil {
		return nil, err
	}
	return true, nil
}

// listDir reports every entry in directory order, "." and ".." included.
func (w *Worker) listDir(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.PathData](req)
	if err != nil {
		return nil, err
	}
	names, err := w.fs.Readdir(data.Path)
	if err != nil {
		return nil, err
	}

	nodes := make([]protocol.FSNode, 0, len(names))
	for _, name := range names {
		isDir, err := w.fs.IsDir(path.Join(data.Path, name))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, protocol.FSNode{Name: name, IsDir: isDir})
	}
	return nodes, nil
}

func (w *Worker) deleteDir(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.PathData](req)
	if err != nil {
		return nil, err
	}
	if err := w.fs.Rmdir(data.Path); err != nil {
		return nil, err
	}
	return true, nil
}

// mount answers false for a filesystem type the facade does not know.
func (w *Worker) mount(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.MountData](req)
	if err != nil {
		return nil, err
	}
	fsys, ok := w.fs.Filesystem(data.FSType)
	if !ok {
		return false, nil
	}
	if err := w.fs.Mount(fsys, data.Options, data.MountPoint); err != nil {
		return nil, err
	}
	return true, nil
}

func (w *Worker) unmount(_ context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.UnmountData](req)
	if err != nil {
		return nil, err
	}
	if err := w.fs.Unmount(data.MountPoint); err != nil {
		return nil, err
	}
	return true, nil
}

func (w *Worker) writeFrame(ctx context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.WriteFrameData](req)
	if err != nil {
		return nil, err
	}
	return w.layer.WriteFrame(ctx, data.FrameData, data.Timestamp)
}

// readFrame answers null when no frame is ready.
func (w *Worker) readFrame(ctx context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.ReadFrameData](req)
	if err != nil {
		return nil, err
	}
	frame, err := w.layer.ReadFrame(ctx, data.Width, data.Height)
	if err != nil || frame == nil {
		return nil, err
	}
	return *frame, nil
}

func (w *Worker) initFilter(ctx context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.InitFilterData](req)
	if err != nil {
		return nil, err
	}
	ok, err := w.layer.InitFilter(ctx, data.FilterGraph,
		data.InputWidth, data.InputHeight, data.OutputWidth, data.OutputHeight)
	if err != nil {
		return nil, err
	}
	if ok {
		w.setState(StateFiltering)
	}
	return ok, nil
}

func (w *Worker) processFrame(ctx context.Context, req protocol.Envelope) (any, error) {
	data, err := decode[protocol.ProcessFrameData](req)
	if err != nil {
		return nil, err
	}
	frame, err := w.layer.ProcessFrame(ctx, data.FrameData, data.Timestamp, data.OutputWidth, data.OutputHeight)
	if err != nil {
		return nil, err
	}
	w.recent.add(FrameInfo{Timestamp: frame.Timestamp, Size: len(frame.FrameData)})
	return *frame, nil
}

// closeFilter always answers true. A failing native teardown is logged and
// the worker still leaves the filtering state.
func (w *Worker) closeFilter(ctx context.Context, _ protocol.Envelope) (any, error) {
	if _, err := w.layer.CloseFilter(ctx); err != nil {
		Logger().Warn("close filter failed", zap.Error(err))
	}
	w.recent.clear()
	w.setState(StateLoaded)
	return true, nil
}
