// Package entrypoint is the per-job agent setup run by the worker.
//
// It picks console or room mode, builds the Gemini realtime model and the
// agent session, attaches a Simli avatar and noise cancellation in room mode,
// forwards session metrics to the logger and usage collector, and finally
// connects the job's room. Prewarm loads the voice activity detector once per
// process.
package entrypoint
