package audio

import (
	"math"
	"testing"
	"time"
)

func sineFrame(sampleRate int, freq float64, dur time.Duration, amplitude float64) Frame {
	n := int(float64(sampleRate) * dur.Seconds())
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*t))
	}
	return Frame{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

func TestNewFrameValidation(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		sampleRate int
		channels   int
		expectErr  bool
	}{
		{"valid mono", make([]int16, 160), 16000, 1, false},
		{"valid stereo", make([]int16, 320), 48000, 2, false},
		{"zero sample rate", make([]int16, 160), 0, 1, true},
		{"zero channels", make([]int16, 160), 16000, 0, true},
		{"ragged stereo", make([]int16, 321), 48000, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrame(tt.samples, tt.sampleRate, tt.channels)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]int16, 960*2), SampleRate: 48000, Channels: 2}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", got)
	}
	if got := (Frame{}).Duration(); got != 0 {
		t.Errorf("Expected zero duration for empty frame, got %v", got)
	}
}

func TestPCM16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16, 1234}
	data := PCM16ToBytes(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(data))
	}
	// little endian: 1 -> 0x01 0x00
	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("Expected little-endian encoding, got % x", data[2:4])
	}

	decoded := BytesToPCM16(append(data, 0xff))
	if len(decoded) != len(samples) {
		t.Fatalf("Expected trailing odd byte to be dropped, got %d samples", len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestResample(t *testing.T) {
	src := sineFrame(48000, 440, 100*time.Millisecond, 10000)

	down := Resample(src, 16000)
	if down.SampleRate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", down.SampleRate)
	}
	if len(down.Samples) != 1600 {
		t.Errorf("Expected 1600 samples, got %d", len(down.Samples))
	}
	if math.Abs(down.RMS()-src.RMS()) > 0.02 {
		t.Errorf("Resampling changed RMS too much: %f vs %f", down.RMS(), src.RMS())
	}

	up := Resample(Frame{Samples: []int16{0, 100}, SampleRate: 8000, Channels: 1}, 16000)
	if len(up.Samples) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(up.Samples))
	}
	if up.Samples[1] != 50 {
		t.Errorf("Expected interpolated sample 50, got %d", up.Samples[1])
	}

	same := Resample(src, 48000)
	if len(same.Samples) != len(src.Samples) {
		t.Error("Expected resample to same rate to be a no-op")
	}
}

func TestResampleUnknownRate(t *testing.T) {
	for _, rate := range []int{0, -16000} {
		f := Frame{Samples: []int16{1, 2, 3}, SampleRate: rate, Channels: 1}
		out := Resample(f, 16000)
		if out.SampleRate != rate || len(out.Samples) != 3 {
			t.Errorf("rate %d: expected frame returned unchanged, got %+v", rate, out)
		}
	}
}

func TestMono(t *testing.T) {
	stereo := Frame{Samples: []int16{100, 300, -200, -400}, SampleRate: 48000, Channels: 2}
	mono := Mono(stereo)
	if mono.Channels != 1 {
		t.Fatalf("Expected 1 channel, got %d", mono.Channels)
	}
	if mono.Samples[0] != 200 || mono.Samples[1] != -300 {
		t.Errorf("Unexpected downmix: %v", mono.Samples)
	}
}

func TestScaleClips(t *testing.T) {
	f := Frame{Samples: []int16{20000, -20000, 100}, SampleRate: 16000, Channels: 1}
	out := Scale(f, 2)
	if out.Samples[0] != math.MaxInt16 || out.Samples[1] != math.MinInt16 {
		t.Errorf("Expected clipping, got %v", out.Samples)
	}
	if out.Samples[2] != 200 {
		t.Errorf("Expected 200, got %d", out.Samples[2])
	}
}

func TestFloat32Conversion(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 2, -2}
	out := FromFloat32(in)
	if out[3] != math.MaxInt16 || out[4] != math.MinInt16 {
		t.Errorf("Expected clipping of out-of-range floats, got %v", out)
	}
	back := ToFloat32(out[:3])
	if math.Abs(float64(back[1])-0.5) > 0.001 {
		t.Errorf("Expected ~0.5, got %f", back[1])
	}
}

func TestFilterFunc(t *testing.T) {
	var f Filter = FilterFunc(func(fr Frame) Frame { return Scale(fr, 0) })
	out := f.Process(Frame{Samples: []int16{5, 6}, SampleRate: 16000, Channels: 1})
	if out.Samples[0] != 0 || out.Samples[1] != 0 {
		t.Errorf("Expected silenced frame, got %v", out.Samples)
	}
}
