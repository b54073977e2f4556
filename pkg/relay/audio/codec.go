// Package audio converts between captured floating-point samples and the
// 16-bit little-endian PCM wire representation, and carries the small
// buffer types the capture and playback paths share.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"

	"github.com/pantryline/voicerelay/pkg/relay"
)

// Frame is one immutable chunk of audio bytes with its format tag.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
	Encoding   string
}

// DurationMS returns the playable length of the frame in milliseconds.
func (f Frame) DurationMS() int64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := int64(len(f.Data) / (2 * f.Channels))
	return samples * 1000 / int64(f.SampleRate)
}

// Buffer is a decoded, playable buffer: one float slice per channel,
// samples rescaled to [-1, 1].
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// EncodeOutbound quantizes float samples in [-1, 1] to signed 16-bit
// little-endian PCM and base64-encodes the result. Samples outside the
// range are clamped; no dithering is applied.
func EncodeOutbound(samples []float32) string {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := quantize(s)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	v := math.Round(float64(s) * 32767)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// DecodeInbound reverses EncodeOutbound: base64 to PCM16, de-interleave
// channels, rescale to [-1, 1]. The byte length must be a whole multiple
// of 2*channels or decoding fails.
func DecodeInbound(b64 string, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, relay.NewDecodeError("sample rate must be > 0", "sampleRate")
	}
	if channels <= 0 {
		return Buffer{}, relay.NewDecodeError("channel count must be > 0", "channels")
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Buffer{}, relay.NewDecodeError("invalid base64 audio payload", "audio")
	}
	frameBytes := 2 * channels
	if len(pcm)%frameBytes != 0 {
		return Buffer{}, relay.NewDecodeError(
			fmt.Sprintf("pcm length %d is not a multiple of %d", len(pcm), frameBytes), "audio")
	}

	frames := len(pcm) / frameBytes
	out := Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		for ch := 0; ch < channels; ch++ {
			off := base + ch*2
			sample := int16(pcm[off]) | int16(pcm[off+1])<<8
			out.Channels[ch][i] = float32(sample) / 32768.0
		}
	}
	return out, nil
}

// PCM16FromFloat32 quantizes float samples to interleaved-mono PCM16
// bytes. Used where raw bytes are needed instead of the base64 form.
func PCM16FromFloat32(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := quantize(s)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}

// PCM16 re-interleaves the buffer back to 16-bit little-endian PCM bytes.
func (b Buffer) PCM16() []byte {
	if len(b.Channels) == 0 {
		return nil
	}
	frames := len(b.Channels[0])
	pcm := make([]byte, frames*len(b.Channels)*2)
	for i := 0; i < frames; i++ {
		for ch := range b.Channels {
			v := quantize(b.Channels[ch][i])
			off := (i*len(b.Channels) + ch) * 2
			pcm[off] = byte(v)
			pcm[off+1] = byte(v >> 8)
		}
	}
	return pcm
}

// EncodePCM16 base64-encodes raw PCM16 bytes for the wire. Counterpart of
// EncodeOutbound for audio that is already in byte form.
func EncodePCM16(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePCM16 converts raw interleaved PCM16 bytes to a playable buffer
// without the base64 step. Same length invariant as DecodeInbound.
func DecodePCM16(pcm []byte, sampleRate, channels int) (Buffer, error) {
	return DecodeInbound(base64.StdEncoding.EncodeToString(pcm), sampleRate, channels)
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to 0.0..1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data,
// normalized to 0.0..1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}
