//go:build !silero

package vad

import "fmt"

func newSileroScorer(modelPath string, sampleRate int, threshold float32) (scorer, error) {
	return nil, fmt.Errorf("silero VAD backend not available (build with -tags=silero)")
}
