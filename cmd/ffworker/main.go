package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/ffbridge/channel"
	"github.com/wippyai/ffbridge/config"
	"github.com/wippyai/ffbridge/engine"
	"github.com/wippyai/ffbridge/marshal"
	"github.com/wippyai/ffbridge/vfs"
	"github.com/wippyai/ffbridge/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var (
		listen      = flag.String("listen", cfg.Listen, "Serve websocket sessions on this address instead of stdio")
		metricsAddr = flag.String("metrics", cfg.MetricsAddr, "Expose Prometheus metrics on this address")
		fsRoot      = flag.String("fs-root", cfg.FSRoot, "Host directory backing the engine filesystem (default: temporary)")
		wasmURL     = flag.String("wasm", cfg.WasmURL, "Core wasm location used when LOAD omits one")
		logLevel    = flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
		logDev      = flag.Bool("dev", cfg.LogDev, "Human-readable development logging")
		legacy      = flag.Bool("legacy-frame-noop", cfg.LegacyFrameNoop, "Answer frame requests before LOAD with false/null")
		interactive = flag.Bool("i", false, "Interactive console driving an in-process worker")
		envHelp     = flag.Bool("env", false, "List environment variables and exit")
	)
	flag.Parse()

	if *envHelp {
		if err := config.Usage(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg.Listen = *listen
	cfg.MetricsAddr = *metricsAddr
	cfg.FSRoot = *fsRoot
	cfg.WasmURL = *wasmURL
	cfg.LogLevel = *logLevel
	cfg.LogDev = *logDev
	cfg.LegacyFrameNoop = *legacy

	if err := run(cfg, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, interactive bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(cfg, interactive)
	if err != nil {
		return err
	}
	defer log.Sync()

	engine.SetLogger(log.Named("engine"))
	marshal.SetLogger(log.Named("marshal"))
	worker.SetLogger(log.Named("worker"))
	channel.SetLogger(log.Named("channel"))
	vfs.SetLogger(log.Named("vfs"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, log, cfg.MetricsAddr, reg)
	}

	switch {
	case interactive:
		if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("interactive mode needs a terminal")
		}
		w, err := newWorker(cfg, reg)
		if err != nil {
			return err
		}
		defer w.Close(context.Background())
		return runInteractive(ctx, w, cfg.Locations().WasmURL)

	case cfg.Listen != "":
		return serveWebSocket(ctx, log, cfg, reg)

	default:
		if term.IsTerminal(int(os.Stdin.Fd())) {
			log.Warn("stdin is a terminal; the stdio transport expects CBOR envelopes (use -i for the console)")
		}
		w, err := newWorker(cfg, reg)
		if err != nil {
			return err
		}
		defer w.Close(context.Background())

		log.Info("serving stdio")
		return w.Serve(ctx, channel.NewStream(os.Stdin, os.Stdout))
	}
}

// newLogger writes to stderr so stdout stays free for the stream transport.
// The interactive console owns the terminal, so it only logs errors.
func newLogger(cfg *config.Config, interactive bool) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if interactive {
		level.SetLevel(zapcore.ErrorLevel)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.LogDev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func newWorker(cfg *config.Config, reg prometheus.Registerer) (*worker.Worker, error) {
	return worker.New(worker.Options{
		Runtime: engine.Config{
			MemoryLimitPages: cfg.MemoryLimitPages,
			EnableThreads:    cfg.Threads,
		},
		Loader: engine.LoaderConfig{
			RetryMax: cfg.FetchRetries,
			Timeout:  cfg.FetchTimeout,
		},
		FSRoot:          cfg.FSRoot,
		Locations:       cfg.Locations(),
		LegacyFrameNoop: cfg.LegacyFrameNoop,
		RecentFrames:    cfg.RecentFrames,
		Registerer:      reg,
	})
}

func serveMetrics(ctx context.Context, log *zap.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", zap.Error(err))
	}
}

// serveWebSocket accepts one session per connection. Only one session runs at
// a time because the engine is a single instance per process.
func serveWebSocket(ctx context.Context, log *zap.Logger, cfg *config.Config, reg prometheus.Registerer) error {
	w, err := newWorker(cfg, reg)
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	busy := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		select {
		case busy <- struct{}{}:
			defer func() { <-busy }()
		default:
			http.Error(rw, "worker busy", http.StatusServiceUnavailable)
			return
		}

		port, err := channel.AcceptWebSocket(rw, r, cfg.ReadLimit)
		if err != nil {
			log.Warn("websocket accept", zap.Error(err))
			return
		}
		defer port.Close()

		log.Info("session started", zap.String("remote", r.RemoteAddr))
		if err := w.Serve(ctx, port); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("session ended", zap.Error(err))
			return
		}
		log.Info("session ended", zap.String("remote", r.RemoteAddr))
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving websocket", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
