package protocol

import "strings"

const (
	MimeTypeJavaScript = "text/javascript"
	MimeTypeWASM       = "application/wasm"

	CoreVersion = "0.12.10"
	CoreURL     = "https://unpkg.com/@ffmpeg/core@" + CoreVersion + "/dist/umd/ffmpeg-core.js"
)

// Default frame geometry used when a request omits it.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// NoTimeout disables the native execution timeout.
const NoTimeout = -1

// Resolve fills omitted locations. The wasm and worker locations are derived
// from the core location by swapping a trailing ".js".
func (c LoadConfig) Resolve() LoadConfig {
	if c.CoreURL == "" {
		c.CoreURL = CoreURL
	}
	if c.WasmURL == "" {
		c.WasmURL = swapJSSuffix(c.CoreURL, ".wasm")
	}
	if c.WorkerURL == "" {
		c.WorkerURL = swapJSSuffix(c.CoreURL, ".worker.js")
	}
	return c
}

func swapJSSuffix(location, suffix string) string {
	if strings.HasSuffix(location, ".js") {
		return strings.TrimSuffix(location, ".js") + suffix
	}
	return location
}
