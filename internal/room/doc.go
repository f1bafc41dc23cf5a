// Package room abstracts the transport a job runs against.
//
// LiveKit joins a LiveKit room as an agent participant, decodes subscribed
// microphone tracks from Opus to PCM, publishes agent audio on a PCM track and
// sends reliable data packets. Mock is the console stand-in named mock_room.
package room
