package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load() = %+v, want %+v", cfg, Default())
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("FFBRIDGE_CORE_URL", "https://cdn.example/core/ffmpeg-core.js")
	t.Setenv("FFBRIDGE_FS_ROOT", "/var/lib/ffbridge")
	t.Setenv("FFBRIDGE_MEMORY_PAGES", "4096")
	t.Setenv("FFBRIDGE_LEGACY_FRAME_NOOP", "true")
	t.Setenv("FFBRIDGE_FETCH_TIMEOUT", "30s")
	t.Setenv("FFBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("FFBRIDGE_LISTEN", ":8089")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"core", cfg.CoreURL, "https://cdn.example/core/ffmpeg-core.js"},
		{"fs root", cfg.FSRoot, "/var/lib/ffbridge"},
		{"memory", cfg.MemoryLimitPages, uint32(4096)},
		{"legacy", cfg.LegacyFrameNoop, true},
		{"timeout", cfg.FetchTimeout, 30 * time.Second},
		{"level", cfg.LogLevel, "debug"},
		{"listen", cfg.Listen, ":8089"},
		{"retries default", cfg.FetchRetries, 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("FFBRIDGE_MEMORY_PAGES", "lots")

	_, err := Load()
	if errors.KindOf(err) != errors.KindInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	if !strings.Contains(err.Error(), "FFBRIDGE_MEMORY_PAGES") {
		t.Errorf("error %q does not name the variable", err)
	}
}

func TestLocations(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want protocol.LoadConfig
	}{
		{
			name: "defaults",
			want: protocol.LoadConfig{
				CoreURL:   protocol.CoreURL,
				WasmURL:   "https://unpkg.com/@ffmpeg/core@" + protocol.CoreVersion + "/dist/umd/ffmpeg-core.wasm",
				WorkerURL: "https://unpkg.com/@ffmpeg/core@" + protocol.CoreVersion + "/dist/umd/ffmpeg-core.worker.js",
			},
		},
		{
			name: "explicit wasm",
			cfg:  Config{CoreURL: "/assets/core.js", WasmURL: "/opt/core.wasm"},
			want: protocol.LoadConfig{CoreURL: "/assets/core.js", WasmURL: "/opt/core.wasm", WorkerURL: "/assets/core.worker.js"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Locations(); got != tt.want {
				t.Errorf("Locations() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
