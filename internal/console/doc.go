// Package console provides local microphone and speaker I/O through
// PortAudio for running the agent without a room.
package console
