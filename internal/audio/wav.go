package audio

import (
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// Recorder writes PCM frames to a mono 16-bit WAV stream.
// Frames with a different sample rate are resampled to the recorder rate.
type Recorder struct {
	enc        *wav.Encoder
	closer     io.Closer
	sampleRate int
	written    int

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a recorder writing to w
func NewRecorder(w io.WriteSeeker, sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return &Recorder{
		enc:        wav.NewEncoder(w, sampleRate, wavBitDepth, 1, 1),
		sampleRate: sampleRate,
	}, nil
}

// CreateRecorder creates (or truncates) a WAV file at path
func CreateRecorder(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", path, err)
	}
	r, err := NewRecorder(f, sampleRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// WriteFrame appends a frame to the recording
func (r *Recorder) WriteFrame(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	frame = Resample(frame, r.sampleRate)
	if len(frame.Samples) == 0 {
		return nil
	}

	data := make([]int, len(frame.Samples))
	for i, s := range frame.Samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: r.sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}
	r.written += len(data)
	return nil
}

// SamplesWritten returns the number of samples written so far
func (r *Recorder) SamplesWritten() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close finalizes the WAV header and closes the underlying file, if any
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV: %w", err)
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ReadWAV decodes a mono or multi-channel 16-bit WAV file into a frame
func ReadWAV(r io.ReadSeeker) (Frame, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Frame{}, fmt.Errorf("invalid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode WAV: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return NewFrame(samples, int(dec.SampleRate), int(dec.NumChans))
}
