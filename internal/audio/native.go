package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/desertthunder/soundalike/internal/shared"
)

// NativeDecoder decodes MP3 previews in process. go-mp3 always yields 16-bit
// stereo at the source rate, so output is downmixed and linearly resampled.
// It is a fallback for hosts without ffmpeg and is less accurate than ffmpeg's
// band-limited resampler.
type NativeDecoder struct {
	rate int
}

// NewNativeDecoder creates a [NativeDecoder] producing samples at rate.
func NewNativeDecoder(rate int) *NativeDecoder {
	if rate <= 0 {
		rate = CanonicalRate
	}
	return &NativeDecoder{rate: rate}
}

func (d *NativeDecoder) Rate() int { return d.rate }

func (d *NativeDecoder) Decode(ctx context.Context, path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDecode, err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", shared.ErrDecode, err)
	}

	var pcm []byte
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrDecode, err)
		}
		n, err := dec.Read(buf)
		pcm = append(pcm, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: mp3 read: %v", shared.ErrDecode, err)
		}
	}

	stereo := PCM16ToFloat(pcm)
	if len(stereo) < 2 {
		return nil, fmt.Errorf("%w: no samples", shared.ErrDecode)
	}
	return Resample(Downmix(stereo, 2), dec.SampleRate(), d.rate), nil
}

// Downmix averages interleaved channels into mono.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from one rate to another by linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
