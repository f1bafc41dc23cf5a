package vad

import (
	"fmt"
	"time"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

// EventType identifies a speech boundary
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "start_of_speech"
	case EventSpeechEnd:
		return "end_of_speech"
	default:
		return "unknown"
	}
}

// Event is emitted by a Stream when speech starts or ends
type Event struct {
	Type           EventType
	Position       time.Duration // audio time since the stream started
	SpeechDuration time.Duration // length of the finished utterance, end events only
	Probability    float32
}

// StreamStats accumulates inference work between metric reports
type StreamStats struct {
	Inferences    int
	InferenceTime time.Duration
}

// Stream turns a continuous frame stream into speech start/end events.
// It is not safe for concurrent use.
type Stream struct {
	detector   Detector
	minSpeech  time.Duration
	minSilence time.Duration

	pending    []int16
	position   time.Duration
	speaking   bool
	speechRun  time.Duration
	silenceRun time.Duration

	stats StreamStats
}

// NewStream creates a stream over detector
func NewStream(detector Detector, minSpeech, minSilence time.Duration) *Stream {
	return &Stream{
		detector:   detector,
		minSpeech:  minSpeech,
		minSilence: minSilence,
	}
}

// Push feeds a frame and returns the events it completed
func (s *Stream) Push(frame audio.Frame) ([]Event, error) {
	frame = audio.Resample(frame, s.detector.GetSampleRate())
	s.pending = append(s.pending, frame.Samples...)

	window := s.detector.GetWindowSize()
	windowDur := time.Duration(window) * time.Second / time.Duration(s.detector.GetSampleRate())

	var events []Event
	for len(s.pending) >= window {
		result, err := s.detector.Process(s.pending[:window])
		if err != nil {
			return events, fmt.Errorf("vad inference failed: %w", err)
		}
		s.pending = s.pending[window:]
		s.position += windowDur
		s.stats.Inferences++
		s.stats.InferenceTime += result.ProcessingTime

		if result.HasVoice {
			s.speechRun += windowDur
			s.silenceRun = 0
			if !s.speaking && s.speechRun >= s.minSpeech {
				s.speaking = true
				events = append(events, Event{
					Type:        EventSpeechStart,
					Position:    s.position - s.speechRun,
					Probability: result.Probability,
				})
			}
			continue
		}

		s.silenceRun += windowDur
		if !s.speaking {
			s.speechRun = 0
			continue
		}
		if s.silenceRun >= s.minSilence {
			s.speaking = false
			events = append(events, Event{
				Type:           EventSpeechEnd,
				Position:       s.position,
				SpeechDuration: s.speechRun,
				Probability:    result.Probability,
			})
			s.speechRun = 0
		}
	}

	return events, nil
}

// Speaking reports whether the stream is inside an utterance
func (s *Stream) Speaking() bool {
	return s.speaking
}

// TakeStats returns the stats accumulated since the previous call and resets them
func (s *Stream) TakeStats() StreamStats {
	st := s.stats
	s.stats = StreamStats{}
	return st
}
