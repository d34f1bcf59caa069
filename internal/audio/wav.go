package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/desertthunder/soundalike/internal/shared"
)

// WAV is decoded 16-bit PCM audio with samples scaled to [-1, 1].
// Multi-channel audio is interleaved.
type WAV struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// ParseWAV walks the RIFF chunks of a 16-bit PCM WAV file.
func ParseWAV(data []byte) (*WAV, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", shared.ErrDecode)
	}

	var (
		w       WAV
		haveFmt bool
		pcm     []byte
	)

	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		// ffmpeg writes 0xFFFFFFFF data sizes when streaming
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", shared.ErrDecode)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			w.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			w.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; ffmpeg uses it for some layouts
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return nil, fmt.Errorf("%w: unsupported wav format %d with %d bits", shared.ErrDecode, format, bits)
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}

		off = end + (size & 1)
		if end == len(data) {
			break
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: missing fmt chunk", shared.ErrDecode)
	}
	if pcm == nil {
		return nil, fmt.Errorf("%w: missing data chunk", shared.ErrDecode)
	}
	if w.Channels < 1 || w.SampleRate < 1 {
		return nil, fmt.Errorf("%w: invalid wav header", shared.ErrDecode)
	}

	w.Samples = PCM16ToFloat(pcm)
	if len(w.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", shared.ErrDecode)
	}
	return &w, nil
}

// PCM16ToFloat converts little-endian signed 16-bit samples to [-1, 1].
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// EncodeWAV renders mono 16-bit PCM. Used to build fixtures and debug dumps.
func EncodeWAV(samples []float32, rate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(rate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(s*32767)))
	}
	return buf
}
