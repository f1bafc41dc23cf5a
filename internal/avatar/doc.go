// Package avatar starts a Simli avatar participant in a LiveKit room.
//
// The avatar joins with its own token and publishes video and audio on
// behalf of the agent. Once started, the agent session's audio output is
// redirected to a DataStreamSink so speech reaches the avatar over the data
// channel instead of the agent's own audio track.
package avatar
