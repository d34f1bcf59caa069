// Package audio downloads preview clips and converts them to the canonical
// form the embedding provider expects: mono float32 PCM in [-1, 1] at a
// fixed sample rate.
//
// Every temporary artifact is removed on every exit path. Removal failures
// are logged and never returned.
package audio

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/shared"
)

// CanonicalRate is the sample rate embeddings are computed at.
const CanonicalRate = 24000

// Decoder converts an audio file on disk into mono samples at Rate().
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float32, error)
	Rate() int
}

// Pipeline binds a [Fetcher] to a [Decoder].
type Pipeline struct {
	fetcher *Fetcher
	decoder Decoder
}

// NewPipeline creates a [Pipeline].
func NewPipeline(fetcher *Fetcher, decoder Decoder) *Pipeline {
	return &Pipeline{fetcher: fetcher, decoder: decoder}
}

// Load downloads url and returns its canonical samples and their rate.
func (p *Pipeline) Load(ctx context.Context, url string) ([]float32, int, error) {
	h, err := p.fetcher.Acquire(ctx, url)
	if err != nil {
		return nil, 0, err
	}
	defer h.Close()

	samples, err := p.decoder.Decode(ctx, h.Path)
	if err != nil {
		return nil, 0, err
	}
	return samples, p.decoder.Rate(), nil
}

// NewDecoder selects a decoder from cfg. "auto" prefers ffmpeg and falls back
// to the in-process MP3 decoder when the binary cannot be found.
func NewDecoder(cfg shared.AudioConfig, logger *log.Logger) (Decoder, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = CanonicalRate
	}

	switch cfg.Decoder {
	case "ffmpeg":
		return NewFFmpegDecoder(cfg.FFmpegPath, rate, cfg.DecodeTimeout.Duration, cfg.TempDir, logger), nil
	case "native":
		return NewNativeDecoder(rate), nil
	case "auto", "":
		if _, err := exec.LookPath(cfg.FFmpegPath); err == nil {
			return NewFFmpegDecoder(cfg.FFmpegPath, rate, cfg.DecodeTimeout.Duration, cfg.TempDir, logger), nil
		}
		logger.Warn("ffmpeg not found, using built-in mp3 decoder", "path", cfg.FFmpegPath)
		return NewNativeDecoder(rate), nil
	default:
		return nil, fmt.Errorf("%w: unknown audio decoder %q", shared.ErrInvalidConfig, cfg.Decoder)
	}
}
