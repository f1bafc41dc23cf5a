// Package worker runs agent jobs.
//
// A Worker prewarms a shared JobProcess once, then accepts room dispatches
// through Submit. Each job gets a JobContext that owns its room and stays
// alive after the entrypoint returns until the room disconnects, the job
// times out or the worker stops. Finished jobs are kept for monitoring and
// pruned by a background routine once they age past the retention window.
package worker
