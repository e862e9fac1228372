package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavData holds the decoded payload of a RIFF/WAVE buffer.
type wavData struct {
	pcm        []byte // 16-bit little-endian signed PCM
	sampleRate int
	channels   int
}

var errNotWAV = errors.New("whisper: not a RIFF/WAVE buffer")

// decodeWAV parses a RIFF/WAVE buffer and returns its PCM payload. Only
// uncompressed 16-bit PCM (format tag 1) is supported, which is what browser
// recorders and the Parley clients produce.
func decodeWAV(data []byte) (wavData, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return wavData{}, errNotWAV
	}

	var out wavData
	var haveFmt bool

	// Walk the chunk list. Chunks are 8-byte headers (id + size) followed by
	// size bytes, padded to even length.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			return wavData{}, fmt.Errorf("whisper: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return wavData{}, errors.New("whisper: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return wavData{}, fmt.Errorf("whisper: unsupported WAV format tag %d (want PCM)", format)
			}
			out.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			out.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return wavData{}, fmt.Errorf("whisper: unsupported bit depth %d (want 16)", bits)
			}
			haveFmt = true
		case "data":
			out.pcm = data[body : body+size]
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunk padding byte
		}
	}

	if !haveFmt {
		return wavData{}, errors.New("whisper: missing fmt chunk")
	}
	if out.pcm == nil {
		return wavData{}, errors.New("whisper: missing data chunk")
	}
	if out.channels <= 0 || out.sampleRate <= 0 {
		return wavData{}, fmt.Errorf("whisper: invalid format: %d channels at %d Hz", out.channels, out.sampleRate)
	}
	return out, nil
}

// pcmToFloat32Mono converts 16-bit signed little-endian PCM to float32 mono
// samples normalised to [-1.0, 1.0], down-mixing by averaging channels.
// A trailing odd byte is silently ignored.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// resampleLinear resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. Quality is sufficient for speech recognition input.
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
