package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/shared"
)

// DefaultFetchTimeout bounds a single preview download.
const DefaultFetchTimeout = 30 * time.Second

// maxPreviewBytes caps a preview download. Thirty second clips are well under this.
const maxPreviewBytes = 32 << 20

// Fetcher downloads preview clips into temporary files.
type Fetcher struct {
	client  *http.Client
	tempDir string
	logger  *log.Logger
}

// NewFetcher creates a [Fetcher] whose requests time out after timeout.
// tempDir "" uses the system temp directory.
func NewFetcher(timeout time.Duration, tempDir string, logger *log.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, tempDir: tempDir, logger: logger}
}

// Handle is a downloaded clip. Close removes the file.
type Handle struct {
	Path   string
	Size   int64
	logger *log.Logger
}

// Close deletes the temporary file. Failures are logged, not returned.
func (h *Handle) Close() error {
	removeTemp(h.logger, h.Path)
	return nil
}

// Acquire downloads url into a new temporary file.
func (f *Fetcher) Acquire(ctx context.Context, url string) (*Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d from %s", shared.ErrFetch, resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(f.tempDir, "preview-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %v", shared.ErrFetch, err)
	}

	n, copyErr := io.Copy(tmp, io.LimitReader(resp.Body, maxPreviewBytes+1))
	closeErr := tmp.Close()

	switch {
	case copyErr != nil:
		removeTemp(f.logger, tmp.Name())
		return nil, fmt.Errorf("%w: read body: %v", shared.ErrFetch, copyErr)
	case closeErr != nil:
		removeTemp(f.logger, tmp.Name())
		return nil, fmt.Errorf("%w: write temp file: %v", shared.ErrFetch, closeErr)
	case n > maxPreviewBytes:
		removeTemp(f.logger, tmp.Name())
		return nil, fmt.Errorf("%w: preview larger than %d bytes", shared.ErrFetch, maxPreviewBytes)
	case n == 0:
		removeTemp(f.logger, tmp.Name())
		return nil, fmt.Errorf("%w: empty body from %s", shared.ErrFetch, url)
	}

	return &Handle{Path: tmp.Name(), Size: n, logger: f.logger}, nil
}

func removeTemp(logger *log.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temp file", "path", path, "error", err)
	}
}
