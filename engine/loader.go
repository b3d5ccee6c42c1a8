package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

const downloadChunk = 64 << 10

// LoaderConfig configures asset fetching.
type LoaderConfig struct {
	// RetryMax is the number of retries for transient HTTP failures.
	RetryMax int
	// Timeout bounds a single HTTP attempt. 0 means no timeout.
	Timeout time.Duration
}

// Loader fetches core assets from HTTP(S) locations or the local disk.
type Loader struct {
	client *retryablehttp.Client
}

// NewLoader creates a loader.
func NewLoader(cfg LoaderConfig) *Loader {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = retryLogger{}
	return &Loader{client: client}
}

// Fetch returns the bytes at location. http and https locations are
// downloaded and report progress through onProgress (which may be nil);
// file URLs and plain paths are read from disk. Any failure is an import
// failure.
func (l *Loader) Fetch(ctx context.Context, location string, onProgress func(protocol.DownloadEvent)) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return l.readFile(location)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return l.download(ctx, location, onProgress)
	case "file":
		return l.readFile(u.Path)
	default:
		return nil, fferrors.ImportFailure(location,
			fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
}

func (l *Loader) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fferrors.ImportFailure(path, err)
	}
	Logger().Debug("asset read", zap.String("path", path), zap.Int("bytes", len(data)))
	return data, nil
}

func (l *Loader) download(ctx context.Context, location string, onProgress func(protocol.DownloadEvent)) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fferrors.ImportFailure(location, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fferrors.ImportFailure(location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fferrors.ImportFailure(location,
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	total := resp.ContentLength
	var data []byte
	if total > 0 {
		data = make([]byte, 0, total)
	}

	chunk := make([]byte, downloadChunk)
	var received int64
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			received += int64(n)
			if onProgress != nil {
				onProgress(protocol.DownloadEvent{
					URL:      location,
					Total:    total,
					Received: received,
					Delta:    int64(n),
				})
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fferrors.ImportFailure(location, err)
		}
	}

	if onProgress != nil {
		onProgress(protocol.DownloadEvent{
			URL:      location,
			Total:    total,
			Received: received,
			Done:     true,
		})
	}

	Logger().Debug("asset downloaded", zap.String("url", location), zap.Int64("bytes", received))
	return data, nil
}

// retryLogger adapts the engine logger to retryablehttp.LeveledLogger.
type retryLogger struct{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	Logger().Sugar().Errorw(msg, keysAndValues...)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	Logger().Sugar().Infow(msg, keysAndValues...)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	Logger().Sugar().Debugw(msg, keysAndValues...)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	Logger().Sugar().Warnw(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = retryLogger{}
