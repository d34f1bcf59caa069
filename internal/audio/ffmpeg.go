package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/shared"
)

// DefaultDecodeTimeout bounds a single ffmpeg invocation.
const DefaultDecodeTimeout = 60 * time.Second

// FFmpegDecoder resamples clips to mono WAV with an ffmpeg subprocess.
type FFmpegDecoder struct {
	binary  string
	rate    int
	timeout time.Duration
	tempDir string
	logger  *log.Logger
}

// NewFFmpegDecoder creates an [FFmpegDecoder].
func NewFFmpegDecoder(binary string, rate int, timeout time.Duration, tempDir string, logger *log.Logger) *FFmpegDecoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if rate <= 0 {
		rate = CanonicalRate
	}
	if timeout <= 0 {
		timeout = DefaultDecodeTimeout
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &FFmpegDecoder{binary: binary, rate: rate, timeout: timeout, tempDir: tempDir, logger: logger}
}

func (d *FFmpegDecoder) Rate() int { return d.rate }

// Decode runs ffmpeg on path and parses the resulting 16-bit WAV.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string) ([]float32, error) {
	out, err := os.CreateTemp(d.tempDir, "canonical-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %v", shared.ErrDecode, err)
	}
	outPath := out.Name()
	out.Close()
	defer removeTemp(d.logger, outPath)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{
		"-i", path,
		"-ar", strconv.Itoa(d.rate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		"-loglevel", "warning",
		outPath,
	}
	cmd := exec.CommandContext(ctx, d.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: ffmpeg timed out after %s", shared.ErrDecode, d.timeout)
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", shared.ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read ffmpeg output: %v", shared.ErrDecode, err)
	}

	wav, err := ParseWAV(data)
	if err != nil {
		return nil, err
	}
	if wav.Channels != 1 || wav.SampleRate != d.rate {
		return nil, fmt.Errorf("%w: ffmpeg produced %d channels at %d Hz, want mono at %d Hz",
			shared.ErrDecode, wav.Channels, wav.SampleRate, d.rate)
	}
	return wav.Samples, nil
}
