package vad

import (
	"github.com/skypro1111/avatar-agent/internal/audio"
)

// segmentDetector is a stateful model that reports speech starts over a PCM
// buffer. Detect skips the final window of the buffer it is given.
type segmentDetector interface {
	Detect(pcm []float32) (started bool, err error)
	Destroy() error
}

// windowedScorer feeds a segmentDetector exactly one model window per call
// and keeps the model state across windows. Speech is reported from the
// first start until the detector signals the end.
type windowedScorer struct {
	detector segmentDetector
	window   int
	// isSpeechEnd recognizes the error the detector returns when speech that
	// started in an earlier call ends
	isSpeechEnd func(error) bool

	pending  []float32
	buf      []float32
	speaking bool
}

func newWindowedScorer(d segmentDetector, window int, isSpeechEnd func(error) bool) *windowedScorer {
	return &windowedScorer{
		detector:    d,
		window:      window,
		isSpeechEnd: isSpeechEnd,
		// one trailing sample so the detector runs the window itself
		buf: make([]float32, window+1),
	}
}

// modelWindow returns the Silero window size for sampleRate
func modelWindow(sampleRate int) int {
	if sampleRate == 8000 {
		return 256
	}
	return 512
}

func (s *windowedScorer) score(samples []int16) (float32, error) {
	s.pending = append(s.pending, audio.ToFloat32(samples)...)

	for len(s.pending) >= s.window {
		copy(s.buf, s.pending[:s.window])
		s.buf[s.window] = 0
		n := copy(s.pending, s.pending[s.window:])
		s.pending = s.pending[:n]

		started, err := s.detector.Detect(s.buf)
		switch {
		case err != nil && s.speaking && s.isSpeechEnd(err):
			s.speaking = false
		case err != nil:
			return 0, err
		case started:
			s.speaking = true
		}
	}

	if s.speaking {
		return 1, nil
	}
	return 0, nil
}

func (s *windowedScorer) close() error {
	return s.detector.Destroy()
}
