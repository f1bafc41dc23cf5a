package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Common sample rates used across the agent pipeline
const (
	SampleRate16k = 16000 // realtime model input
	SampleRate24k = 24000 // realtime model output
	SampleRate48k = 48000 // WebRTC / Opus
)

// Frame is a block of interleaved signed 16-bit PCM audio
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Filter transforms audio frames in place of a room input (noise cancellation, gain, ...)
type Filter interface {
	Process(frame Frame) Frame
}

// FilterFunc adapts a plain function to the Filter interface
type FilterFunc func(Frame) Frame

// Process calls f(frame)
func (f FilterFunc) Process(frame Frame) Frame {
	return f(frame)
}

// NewFrame creates a frame, validating its format
func NewFrame(samples []int16, sampleRate, channels int) (Frame, error) {
	if sampleRate <= 0 {
		return Frame{}, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return Frame{}, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if len(samples)%channels != 0 {
		return Frame{}, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}
	return Frame{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// SamplesPerChannel returns the number of samples in a single channel
func (f Frame) SamplesPerChannel() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the playback duration of the frame
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel()) * time.Second / time.Duration(f.SampleRate)
}

// RMS returns the root-mean-square amplitude of the frame normalized to 0-1
func (f Frame) RMS() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range f.Samples {
		v := float64(s) / math.MaxInt16
		energy += v * v
	}
	return math.Sqrt(energy / float64(len(f.Samples)))
}

// Bytes encodes the frame samples as little-endian PCM16
func (f Frame) Bytes() []byte {
	return PCM16ToBytes(f.Samples)
}

// PCM16ToBytes encodes samples as little-endian PCM16
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 decodes little-endian PCM16; a trailing odd byte is dropped
func BytesToPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// ToFloat32 converts samples to float32 in the range [-1, 1]
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// FromFloat32 converts float32 samples in [-1, 1] to PCM16, clipping out-of-range values
func FromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clip(float64(s) * math.MaxInt16)
	}
	return out
}

// Mono downmixes a multi-channel frame by averaging channels
func Mono(f Frame) Frame {
	if f.Channels <= 1 {
		return f
	}
	n := f.SamplesPerChannel()
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < f.Channels; c++ {
			sum += int(f.Samples[i*f.Channels+c])
		}
		out[i] = int16(sum / f.Channels)
	}
	return Frame{Samples: out, SampleRate: f.SampleRate, Channels: 1}
}

// Resample converts a mono frame to the target rate using linear interpolation.
// Multi-channel frames are downmixed first. Frames without a known rate are
// returned unchanged.
func Resample(f Frame, targetRate int) Frame {
	f = Mono(f)
	if f.SampleRate == targetRate || len(f.Samples) == 0 || targetRate <= 0 || f.SampleRate <= 0 {
		return f
	}

	ratio := float64(f.SampleRate) / float64(targetRate)
	outLen := int(float64(len(f.Samples)) / ratio)
	out := make([]int16, outLen)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		a := float64(f.Samples[idx])
		b := a
		if idx+1 < len(f.Samples) {
			b = float64(f.Samples[idx+1])
		}
		out[i] = clip(a + (b-a)*frac)
	}

	return Frame{Samples: out, SampleRate: targetRate, Channels: 1}
}

// Scale multiplies every sample by gain, clipping to the int16 range
func Scale(f Frame, gain float64) Frame {
	out := make([]int16, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = clip(float64(s) * gain)
	}
	return Frame{Samples: out, SampleRate: f.SampleRate, Channels: f.Channels}
}

func clip(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
