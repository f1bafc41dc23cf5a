//go:build silero

package vad

import (
	"fmt"
	"strings"

	"github.com/streamer45/silero-vad-go/speech"
)

// errSpeechEnd is returned by speech.Detector.Detect when a segment that
// started in a previous call ends
const errSpeechEnd = "unexpected speech end"

// sileroDetector adapts speech.Detector to segmentDetector
type sileroDetector struct {
	*speech.Detector
}

func (d sileroDetector) Detect(pcm []float32) (bool, error) {
	segments, err := d.Detector.Detect(pcm)
	return len(segments) > 0, err
}

func newSileroScorer(modelPath string, sampleRate int, threshold float32) (scorer, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: 0,
	})
	if err != nil {
		return nil, err
	}
	return newWindowedScorer(sileroDetector{detector}, modelWindow(sampleRate), isSileroSpeechEnd), nil
}

func isSileroSpeechEnd(err error) bool {
	return strings.Contains(err.Error(), errSpeechEnd)
}
