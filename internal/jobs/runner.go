package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	gojson "github.com/goccy/go-json"

	"github.com/desertthunder/soundalike/internal/metrics"
	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/shared"
)

const restartMessage = "worker restarted"

// Handler executes one job and returns its terminal progress record.
type Handler func(ctx context.Context, job *models.Job) (progress.Payload, error)

// Store persists runner state. [repositories.JobRepository] implements it.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	MarkStarted(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, message string) error
	ListByState(ctx context.Context, state models.JobState) ([]*models.Job, error)
}

// Runner owns the job queue and its workers.
type Runner struct {
	store    Store
	progress progress.Channel
	logger   *log.Logger
	workers  int
	queue    chan string

	mu       sync.RWMutex
	handlers map[models.JobKind]Handler
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRunner creates a runner. ch may be nil, in which case Status only
// reports stored results.
func NewRunner(store Store, ch progress.Channel, cfg shared.WorkersConfig, logger *log.Logger) *Runner {
	workers := max(cfg.Count, 1)
	size := max(cfg.QueueSize, 1)
	return &Runner{
		store:    store,
		progress: ch,
		logger:   logger,
		workers:  workers,
		queue:    make(chan string, size),
		handlers: make(map[models.JobKind]Handler),
	}
}

// Register binds a handler to a job kind. Registering twice replaces it.
func (r *Runner) Register(kind models.JobKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Runner) handler(kind models.JobKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Start launches the workers. Cancelling ctx or calling Stop ends them; jobs
// still queued at that point stay pending and are picked up by [Runner.Recover].
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for i := range r.workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
	r.logger.Info("job runner started", "workers", r.workers, "queue", cap(r.queue))
}

// Stop cancels running jobs and waits for the workers to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.logger.Info("job runner stopped")
}

// Enqueue persists a pending job and queues it without blocking.
func (r *Runner) Enqueue(ctx context.Context, kind models.JobKind, args any) (string, error) {
	if _, ok := r.handler(kind); !ok {
		return "", fmt.Errorf("%w: %s", shared.ErrUnknownJob, kind)
	}

	r.mu.RLock()
	stopped := r.stopped
	r.mu.RUnlock()
	if stopped {
		return "", shared.ErrRunnerStopped
	}

	data, err := gojson.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	job := &models.Job{Kind: kind, Args: data}
	if err := r.store.Create(ctx, job); err != nil {
		return "", err
	}
	metrics.RecordJobEnqueued(string(kind))

	if err := r.push(job.ID); err != nil {
		if ferr := r.store.MarkFailed(ctx, job.ID, err.Error()); ferr != nil {
			r.logger.Warn("failed to mark rejected job", "job", job.ID, "error", ferr)
		}
		metrics.RecordJobDone(string(kind), string(models.JobFailed), 0)
		return job.ID, err
	}

	r.logger.Debug("job enqueued", "job", job.ID, "kind", kind)
	return job.ID, nil
}

func (r *Runner) push(id string) error {
	select {
	case r.queue <- id:
		metrics.JobQueueDepth.Set(float64(len(r.queue)))
		return nil
	default:
		return shared.ErrQueueFull
	}
}

// Recover fails jobs a previous process left running and re-queues pending
// ones. It returns the number of re-queued jobs.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	orphaned, err := r.store.ListByState(ctx, models.JobStarted)
	if err != nil {
		return 0, err
	}
	for _, job := range orphaned {
		if err := r.store.MarkFailed(ctx, job.ID, restartMessage); err != nil {
			r.logger.Warn("failed to fail orphaned job", "job", job.ID, "error", err)
			continue
		}
		r.publish(ctx, job.ID, progress.Failed{Text: restartMessage})
		r.logger.Warn("failed orphaned job", "job", job.ID, "kind", job.Kind)
	}

	pending, err := r.store.ListByState(ctx, models.JobPending)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, job := range pending {
		if err := r.push(job.ID); err != nil {
			r.logger.Warn("queue full during recovery, leaving job pending", "job", job.ID)
			break
		}
		requeued++
	}
	if requeued > 0 {
		r.logger.Info("re-queued pending jobs", "count", requeued)
	}
	return requeued, nil
}

// Status combines the runner's state with the latest progress record. When
// no record survives, a terminal job reports its stored result or error.
func (r *Runner) Status(ctx context.Context, id string) (*Status, error) {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	st := &Status{JobID: job.ID, Kind: job.Kind, State: job.State, Error: job.Error}

	if r.progress != nil {
		p, err := r.progress.Latest(ctx, id)
		switch {
		case err == nil:
			data, merr := progress.Marshal(p)
			if merr != nil {
				return nil, merr
			}
			st.Progress = data
			return st, nil
		case !errors.Is(err, shared.ErrNoProgress):
			r.logger.Warn("failed to read progress", "job", id, "error", err)
		}
	}

	switch job.State {
	case models.JobFinished:
		st.Progress = job.Result
	case models.JobFailed:
		data, err := progress.Marshal(progress.Failed{Text: job.Error})
		if err != nil {
			return nil, err
		}
		st.Progress = data
	}
	return st, nil
}

func (r *Runner) work(ctx context.Context, n int) {
	defer r.wg.Done()
	logger := shared.WithLogger(r.logger, "worker", n)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			metrics.JobQueueDepth.Set(float64(len(r.queue)))
			r.execute(ctx, id, logger)
		}
	}
}

func (r *Runner) execute(ctx context.Context, id string, logger *log.Logger) {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		logger.Error("failed to load job", "job", id, "error", err)
		return
	}
	if err := r.store.MarkStarted(ctx, id); err != nil {
		logger.Warn("job not runnable", "job", id, "error", err)
		return
	}

	started := time.Now()
	logger = shared.WithLogger(logger, "job", id, "kind", job.Kind)
	logger.Info("job started")

	final, err := r.call(ctx, job)
	if err != nil {
		r.fail(job, err.Error(), started, logger)
		return
	}

	var result json.RawMessage
	if final != nil {
		if result, err = progress.Marshal(final); err != nil {
			r.fail(job, err.Error(), started, logger)
			return
		}
	}
	if err := r.store.MarkFinished(context.WithoutCancel(ctx), id, result); err != nil {
		logger.Error("failed to record job result", "error", err)
		return
	}
	metrics.RecordJobDone(string(job.Kind), string(models.JobFinished), time.Since(started))
	logger.Info("job finished", "duration", time.Since(started))
}

// call runs the job's handler, turning a panic into an error.
func (r *Runner) call(ctx context.Context, job *models.Job) (final progress.Payload, err error) {
	h, ok := r.handler(job.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownJob, job.Kind)
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked", "job", job.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return h(ctx, job)
}

// fail records a failed job. The failed payload goes out first so a poller
// that sees the failed state never reads a stale progress record.
func (r *Runner) fail(job *models.Job, msg string, started time.Time, logger *log.Logger) {
	ctx := context.Background()
	r.publish(ctx, job.ID, progress.Failed{Text: msg})
	if err := r.store.MarkFailed(ctx, job.ID, msg); err != nil {
		logger.Error("failed to record job failure", "error", err)
		return
	}
	metrics.RecordJobDone(string(job.Kind), string(models.JobFailed), time.Since(started))
	logger.Error("job failed", "error", msg)
}

func (r *Runner) publish(ctx context.Context, id string, p progress.Payload) {
	if r.progress == nil {
		return
	}
	if err := r.progress.Publish(ctx, id, p); err != nil {
		r.logger.Warn("failed to publish progress", "job", id, "error", err)
	}
}

// DecodeArgs unmarshals a job's arguments into T.
func DecodeArgs[T any](job *models.Job) (T, error) {
	var out T
	if err := gojson.Unmarshal(job.Args, &out); err != nil {
		return out, fmt.Errorf("%w: job %s args: %v", shared.ErrInvalidArgument, job.ID, err)
	}
	return out, nil
}
