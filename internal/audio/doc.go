// Package audio handles PCM frames and format conversion for the agent pipeline.
// It provides sample-rate conversion between the WebRTC, model input and model output
// rates, little-endian PCM16 encoding for the realtime model wire format, and WAV
// recording of session audio.
package audio
