package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

// Prefix is the environment variable prefix, e.g. FFBRIDGE_LOG_LEVEL.
const Prefix = "FFBRIDGE"

// Config holds the worker process configuration.
type Config struct {
	// Core asset locations used when a LOAD request omits them.
	CoreURL   string `envconfig:"CORE_URL"`
	WasmURL   string `envconfig:"WASM_URL"`
	WorkerURL string `envconfig:"WORKER_URL"`

	// Engine.
	FSRoot           string `envconfig:"FS_ROOT"`
	MemoryLimitPages uint32 `envconfig:"MEMORY_PAGES" default:"16384"`
	Threads          bool   `envconfig:"THREADS" default:"false"`
	LegacyFrameNoop  bool   `envconfig:"LEGACY_FRAME_NOOP" default:"false"`
	RecentFrames     int    `envconfig:"RECENT_FRAMES" default:"16"`

	// Asset fetching.
	FetchRetries int           `envconfig:"FETCH_RETRIES" default:"3"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"5m"`

	// Logging.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`

	// Transport. An empty Listen serves a single session over stdio.
	Listen      string `envconfig:"LISTEN"`
	ReadLimit   int64  `envconfig:"WS_READ_LIMIT" default:"67108864"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// Load reads the configuration from FFBRIDGE_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "load environment")
	}
	return &cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MemoryLimitPages: 16384,
		RecentFrames:     16,
		FetchRetries:     3,
		FetchTimeout:     5 * time.Minute,
		LogLevel:         "info",
		ReadLimit:        64 << 20,
	}
}

// Locations returns the configured asset locations with defaults applied.
func (c *Config) Locations() protocol.LoadConfig {
	return protocol.LoadConfig{
		CoreURL:   c.CoreURL,
		WasmURL:   c.WasmURL,
		WorkerURL: c.WorkerURL,
	}.Resolve()
}

// Usage writes the recognised environment variables to stderr.
func Usage() error {
	var cfg Config
	return envconfig.Usage(Prefix, &cfg)
}
