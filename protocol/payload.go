package protocol

import (
	"github.com/wippyai/ffbridge/errors"
)

// LoadConfig is the LOAD payload. Empty locations are filled by Resolve.
type LoadConfig struct {
	CoreURL   string `json:"coreURL,omitempty"`
	WasmURL   string `json:"wasmURL,omitempty"`
	WorkerURL string `json:"workerURL,omitempty"`
}

// ExecData is the EXEC and FFPROBE payload. Timeout is in milliseconds; a
// nil Timeout means NoTimeout.
type ExecData struct {
	Timeout *int32   `json:"timeout,omitempty"`
	Args    []string `json:"args"`
}

// TimeoutMS returns the requested timeout or NoTimeout.
func (d ExecData) TimeoutMS() int32 {
	if d.Timeout == nil {
		return NoTimeout
	}
	return *d.Timeout
}

// WriteFileData is the WRITE_FILE payload. Data is []byte or string.
type WriteFileData struct {
	Data any    `json:"data"`
	Path string `json:"path"`
}

// Bytes returns the file contents regardless of how they were sent.
func (d WriteFileData) Bytes() ([]byte, error) {
	switch v := d.Data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return []byte{}, nil
	default:
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Path("data").
			Detail("file data must be bytes or text, got %T", v).
			Build()
	}
}

// Encodings accepted by READ_FILE.
const (
	EncodingBinary = "binary"
	EncodingUTF8   = "utf8"
)

// ReadFileData is the READ_FILE payload.
type ReadFileData struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding,omitempty"`
}

// PathData is the DELETE_FILE, CREATE_DIR, LIST_DIR and DELETE_DIR payload.
type PathData struct {
	Path string `json:"path"`
}

// RenameData is the RENAME payload.
type RenameData struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// MountData is the MOUNT payload.
type MountData struct {
	Options    map[string]any `json:"options,omitempty"`
	FSType     string         `json:"fsType"`
	MountPoint string         `json:"mountPoint"`
}

// UnmountData is the UNMOUNT payload.
type UnmountData struct {
	MountPoint string `json:"mountPoint"`
}

// FSNode is one LIST_DIR entry.
type FSNode struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// WriteFrameData is the WRITE_FRAME payload.
type WriteFrameData struct {
	FrameData []byte `json:"frameData"`
	Timestamp int64  `json:"timestamp"`
}

// ReadFrameData is the READ_FRAME payload. Zero dimensions take the defaults.
type ReadFrameData struct {
	Width  int32 `json:"width,omitempty"`
	Height int32 `json:"height,omitempty"`
}

// InitFilterData is the INIT_FILTER payload.
type InitFilterData struct {
	FilterGraph  string `json:"filterGraph"`
	InputWidth   int32  `json:"inputWidth"`
	InputHeight  int32  `json:"inputHeight"`
	OutputWidth  int32  `json:"outputWidth"`
	OutputHeight int32  `json:"outputHeight"`
}

// ProcessFrameData is the PROCESS_FRAME payload. Zero output dimensions take
// the defaults.
type ProcessFrameData struct {
	FrameData    []byte `json:"frameData"`
	Timestamp    int64  `json:"timestamp"`
	OutputWidth  int32  `json:"outputWidth,omitempty"`
	OutputHeight int32  `json:"outputHeight,omitempty"`
}

// Frame is the READ_FRAME and PROCESS_FRAME result.
type Frame struct {
	FrameData []byte `json:"frameData"`
	Timestamp int64  `json:"timestamp"`
}

// LogEvent is the LOG event payload.
type LogEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ProgressEvent is the PROGRESS event payload. Progress is in [0, 1]; Time is
// the media time reached, in microseconds.
type ProgressEvent struct {
	Progress float64 `json:"progress"`
	Time     float64 `json:"time"`
}

// DownloadEvent is the DOWNLOAD event payload emitted while fetching assets.
// Total is -1 when the size is unknown.
type DownloadEvent struct {
	URL      string `json:"url"`
	Total    int64  `json:"total"`
	Received int64  `json:"received"`
	Delta    int64  `json:"delta"`
	Done     bool   `json:"done"`
}
