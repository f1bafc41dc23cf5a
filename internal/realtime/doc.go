// Package realtime defines the speech-to-speech model interface used by agent
// sessions and implements it for the Gemini Live BidiGenerateContent websocket API.
package realtime
