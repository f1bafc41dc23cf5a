// Package agent runs a conversational agent against a realtime speech model.
//
// A Session pumps input audio from a room (or local I/O carried in the
// context) through an optional noise filter and VAD into the model, routes
// the model's speech to the configured output and reports what happened as
// named events: metrics_collected, agent_state_changed, user_input_transcribed,
// conversation_item_added, error and close.
package agent
