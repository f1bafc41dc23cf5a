package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/avatar-agent/internal/metrics"
	"github.com/skypro1111/avatar-agent/internal/room"
)

// EntrypointFunc runs once per job
type EntrypointFunc func(job *JobContext) error

// PrewarmFunc runs once per worker process before any job is accepted
type PrewarmFunc func(proc *JobProcess) error

// RoomFactory creates the room a job is dispatched to
type RoomFactory func(name string) (room.Room, error)

var (
	ErrWorkerNotStarted = errors.New("worker not started")
	ErrWorkerStarted    = errors.New("worker already started")
	ErrWorkerStopped    = errors.New("worker stopped")
	ErrAtCapacity       = errors.New("worker at max concurrent jobs")
	ErrRoomBusy         = errors.New("a job is already running for this room")
	ErrRoomUnavailable  = errors.New("room unavailable")
	ErrJobNotFound      = errors.New("job not found")
)

// Options contains configuration for the worker
type Options struct {
	Entrypoint        EntrypointFunc
	Prewarm           PrewarmFunc
	RoomFactory       RoomFactory
	MaxConcurrentJobs int           // 0 means unlimited
	JobTimeout        time.Duration // 0 means no timeout
	JobRetention      time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// Stats represents worker statistics
type Stats struct {
	ActiveJobs    int    `json:"active_jobs"`
	TotalJobs     uint64 `json:"total_jobs"`
	SucceededJobs uint64 `json:"succeeded_jobs"`
	FailedJobs    uint64 `json:"failed_jobs"`
	RejectedJobs  uint64 `json:"rejected_jobs"`
	Prewarmed     bool   `json:"prewarmed"`
}

type job struct {
	info JobInfo
	jc   *JobContext
	done chan struct{}
}

// Worker runs the entrypoint for every dispatched room
type Worker struct {
	opts   Options
	logger *slog.Logger
	proc   *JobProcess

	mu      sync.RWMutex
	jobs    map[string]*job
	started bool
	stopped bool
	stats   Stats

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cleanup chan struct{}
}

// New creates a worker
func New(opts Options) (*Worker, error) {
	if opts.Entrypoint == nil {
		return nil, fmt.Errorf("entrypoint is required")
	}
	if opts.RoomFactory == nil {
		return nil, fmt.Errorf("room factory is required")
	}
	if opts.MaxConcurrentJobs < 0 {
		return nil, fmt.Errorf("max concurrent jobs cannot be negative, got %d", opts.MaxConcurrentJobs)
	}
	if opts.JobRetention <= 0 {
		opts.JobRetention = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		opts:    opts,
		logger:  opts.Logger,
		proc:    &JobProcess{Userdata: make(map[string]any)},
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}, nil
}

// Proc returns the process shared by all jobs
func (w *Worker) Proc() *JobProcess { return w.proc }

// Start runs the prewarm hook and begins accepting jobs
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if w.started {
		return ErrWorkerStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.proc.StartedAt = time.Now()
	if w.opts.Prewarm != nil {
		startTime := time.Now()
		if err := w.opts.Prewarm(w.proc); err != nil {
			return fmt.Errorf("prewarm failed: %w", err)
		}
		w.stats.Prewarmed = true
		w.logger.Info("Worker process prewarmed", slog.Duration("duration", time.Since(startTime)))
	}

	w.started = true
	go w.startCleanupRoutine()

	w.logger.Info("Worker started",
		slog.Int("max_concurrent_jobs", w.opts.MaxConcurrentJobs),
		slog.Duration("job_timeout", w.opts.JobTimeout),
	)
	return nil
}

// Submit dispatches a job for roomName. The job inherits values from ctx
// but not its cancellation.
func (w *Worker) Submit(ctx context.Context, roomName string) (JobInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.admitLocked(roomName); err != nil {
		return JobInfo{}, w.rejectLocked(roomName, err)
	}

	r, err := w.opts.RoomFactory(roomName)
	if err != nil {
		return JobInfo{}, w.rejectLocked(roomName,
			fmt.Errorf("failed to create room %s: %w: %w", roomName, ErrRoomUnavailable, err))
	}

	id := "job_" + uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if w.opts.JobTimeout > 0 {
		jobCtx, cancel = withTimeout(jobCtx, cancel, w.opts.JobTimeout)
	}
	stopWithWorker := context.AfterFunc(w.ctx, cancel)

	j := &job{
		info: JobInfo{
			ID:        id,
			Room:      roomName,
			State:     JobPending,
			StartedAt: time.Now(),
		},
		jc: &JobContext{
			id:     id,
			room:   r,
			proc:   w.proc,
			ctx:    jobCtx,
			cancel: cancel,
			logger: w.logger.With(slog.String("job_id", id)),
		},
		done: make(chan struct{}),
	}
	r.OnDisconnected(cancel)

	w.jobs[id] = j
	w.stats.TotalJobs++
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordJobCreated()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer stopWithWorker()
		w.runJob(j)
	}()

	w.logger.Info("Job accepted", slog.String("job_id", id), slog.String("room", roomName))
	return j.info, nil
}

func withTimeout(parent context.Context, parentCancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, d)
	return ctx, func() {
		cancel()
		parentCancel()
	}
}

func (w *Worker) admitLocked(roomName string) error {
	if w.stopped {
		return ErrWorkerStopped
	}
	if !w.started {
		return ErrWorkerNotStarted
	}
	if roomName == "" {
		return fmt.Errorf("room name is required")
	}

	active := 0
	for _, j := range w.jobs {
		if j.info.State.Finished() {
			continue
		}
		active++
		if j.info.Room == roomName {
			return ErrRoomBusy
		}
	}
	if w.opts.MaxConcurrentJobs > 0 && active >= w.opts.MaxConcurrentJobs {
		return ErrAtCapacity
	}
	return nil
}

func (w *Worker) rejectLocked(roomName string, err error) error {
	w.stats.RejectedJobs++
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordJobRejected(rejectReason(err))
	}
	w.logger.Warn("Job rejected", slog.String("room", roomName), slog.String("reason", err.Error()))
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrRoomUnavailable):
		return "room_unavailable"
	case errors.Is(err, ErrAtCapacity):
		return "capacity"
	case errors.Is(err, ErrRoomBusy):
		return "duplicate_room"
	case errors.Is(err, ErrWorkerNotStarted), errors.Is(err, ErrWorkerStopped):
		return "not_running"
	default:
		return "invalid"
	}
}

// runJob runs the entrypoint, then keeps the job alive until its context ends
func (w *Worker) runJob(j *job) {
	jc := j.jc
	defer close(j.done)

	w.setState(j, JobRunning, nil)

	err := w.callEntrypoint(jc)
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordJobEntrypoint(err)
	}

	if err != nil {
		jc.Logger().Error("Job entrypoint failed", slog.String("error", err.Error()))
		jc.cancel()
	} else {
		<-jc.ctx.Done()
	}

	jc.runShutdownCallbacks()
	jc.room.Disconnect()
	jc.cancel()

	if err != nil {
		w.setState(j, JobFailed, err)
	} else {
		w.setState(j, JobSucceeded, nil)
	}

	duration := time.Since(j.info.StartedAt)
	if w.opts.Metrics != nil {
		w.opts.Metrics.RecordJobFinished(duration.Seconds())
	}
	jc.Logger().Info("Job finished", slog.Duration("duration", duration))
}

func (w *Worker) callEntrypoint(jc *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entrypoint panicked: %v", r)
		}
	}()
	return w.opts.Entrypoint(jc)
}

func (w *Worker) setState(j *job, state JobState, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	j.info.State = state
	if err != nil {
		j.info.Error = err.Error()
	}
	if state.Finished() {
		now := time.Now()
		j.info.EndedAt = &now
		if state == JobSucceeded {
			w.stats.SucceededJobs++
		} else {
			w.stats.FailedJobs++
		}
	}
}

// Wait blocks until the job ends or ctx is done
func (w *Worker) Wait(ctx context.Context, id string) (JobInfo, error) {
	w.mu.RLock()
	j, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return JobInfo{}, ErrJobNotFound
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return JobInfo{}, ctx.Err()
	}

	info, _ := w.Job(id)
	return info, nil
}

// Job returns a single job by id
func (w *Worker) Job(id string) (JobInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	j, ok := w.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return j.info, true
}

// Jobs returns a snapshot of all known jobs, oldest first
func (w *Worker) Jobs() []JobInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	infos := make([]JobInfo, 0, len(w.jobs))
	for _, j := range w.jobs {
		infos = append(infos, j.info)
	}
	sort.Slice(infos, func(a, b int) bool {
		return infos[a].StartedAt.Before(infos[b].StartedAt)
	})
	return infos
}

// Stats returns current worker statistics
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := w.stats
	for _, j := range w.jobs {
		if !j.info.State.Finished() {
			stats.ActiveJobs++
		}
	}
	return stats
}

// Stop cancels every job and waits for them to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	w.logger.Info("Stopping worker...")

	w.cancel()
	w.wg.Wait()
	if started {
		<-w.cleanup
	}

	stats := w.Stats()
	w.logger.Info("Worker stopped",
		slog.Uint64("total_jobs", stats.TotalJobs),
		slog.Uint64("succeeded_jobs", stats.SucceededJobs),
		slog.Uint64("failed_jobs", stats.FailedJobs),
	)
}

// startCleanupRoutine prunes finished jobs older than the retention window
func (w *Worker) startCleanupRoutine() {
	defer close(w.cleanup)

	interval := min(w.opts.JobRetention, 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case now := <-ticker.C:
			w.pruneFinishedJobs(now)
		}
	}
}

func (w *Worker) pruneFinishedJobs(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	pruned := 0
	for id, j := range w.jobs {
		if j.info.EndedAt != nil && now.Sub(*j.info.EndedAt) > w.opts.JobRetention {
			delete(w.jobs, id)
			pruned++
		}
	}
	if pruned > 0 {
		w.logger.Debug("Pruned finished jobs", slog.Int("count", pruned))
	}
	return pruned
}
