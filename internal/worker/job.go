package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/avatar-agent/internal/room"
)

// JobProcess is shared by every job the worker runs. Userdata is written by
// the prewarm hook before any job starts and only read afterwards.
type JobProcess struct {
	StartedAt time.Time
	Userdata  map[string]any
}

// JobState is the lifecycle state of a job
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Finished reports whether the job has ended
func (s JobState) Finished() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobInfo represents job information for monitoring and APIs
type JobInfo struct {
	ID        string     `json:"id"`
	Room      string     `json:"room"`
	State     JobState   `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// JobContext is handed to the entrypoint. It owns the job's room and lives
// until the room disconnects, the job times out or the worker stops.
type JobContext struct {
	id   string
	room room.Room
	proc *JobProcess

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	logger   *slog.Logger
	shutdown []func()

	connectMu  sync.Mutex
	connected  bool
	connectErr error
}

// ID returns the job id
func (j *JobContext) ID() string { return j.id }

// Room returns the room this job was dispatched to
func (j *JobContext) Room() room.Room { return j.room }

// Proc returns the worker process shared across jobs
func (j *JobContext) Proc() *JobProcess { return j.proc }

// Context is cancelled when the job ends
func (j *JobContext) Context() context.Context { return j.ctx }

// Logger returns the job logger including any fields added with SetLogFields
func (j *JobContext) Logger() *slog.Logger {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.logger
}

// SetLogFields adds attributes to every subsequent job log line
func (j *JobContext) SetLogFields(args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logger = j.logger.With(args...)
}

// Connect connects the job's room. Only the first call dials; later calls
// return its result.
func (j *JobContext) Connect(ctx context.Context) error {
	j.connectMu.Lock()
	defer j.connectMu.Unlock()

	if j.connected {
		return j.connectErr
	}
	j.connected = true
	j.connectErr = j.room.Connect(ctx)
	return j.connectErr
}

// AddShutdownCallback registers fn to run when the job ends. Callbacks run in
// reverse registration order.
func (j *JobContext) AddShutdownCallback(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.shutdown = append(j.shutdown, fn)
}

// Shutdown ends the job
func (j *JobContext) Shutdown() {
	j.cancel()
}

func (j *JobContext) runShutdownCallbacks() {
	j.mu.Lock()
	fns := j.shutdown
	j.shutdown = nil
	logger := j.logger
	j.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Shutdown callback panicked", slog.Any("panic", r))
				}
			}()
			fns[i]()
		}()
	}
}
