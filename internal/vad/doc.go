// Package vad provides Voice Activity Detection for the agent worker.
// The detector is loaded once per worker process by the pre-warm hook. The default
// backend scores windows by RMS energy; building with -tags=silero switches the
// "silero" backend to the Silero ONNX model.
package vad
