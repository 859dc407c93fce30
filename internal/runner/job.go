package runner

import (
	"context"
	"fmt"

	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/tracker"

	"github.com/google/uuid"
)

// JobHandler is a handler that implements the job's behavior.
type JobHandler func(ctx context.Context, job *Job) error

// JobCallback is a callback function that is called when the job is done.
type JobCallback func(ctx context.Context, job *Job)

// JobOption is an option for a job.
type JobOption func(job *Job)

// WithJobLogger is an option for a job to set the logger.
func WithJobLogger(log *logger.Logger) JobOption {
	return func(j *Job) {
		j.logger = log
	}
}

// WithJobCallback is an option for a job to set the callback.
func WithJobCallback(callback JobCallback) JobOption {
	return func(j *Job) {
		j.callback = callback
	}
}

// Job is one unit of background caching work.
type Job struct {
	logger   *logger.Logger
	tracker  *tracker.Tracker
	name     string
	callback JobCallback
	handler  JobHandler
}

// NewJob creates a new job with a name and a handler. The name is suffixed
// with a short unique id so retries for the same image stay
// distinguishable in logs.
func NewJob(name string, handler JobHandler, opts ...JobOption) *Job {
	name = fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	j := &Job{
		logger:  logger.NewLogger(logger.WithName(name)),
		tracker: tracker.NewTracker(name),
		name:    name,
		handler: handler,
	}
	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Name returns the name of the job.
func (j *Job) Name() string {
	return j.name
}

// Run runs the job handler.
func (j *Job) Run(ctx context.Context) error {
	if !j.tracker.IsPending() {
		j.logger.Debug("job already started", "job", j.name)
		return fmt.Errorf("job already started")
	}
	j.tracker.Start()

	err := j.handler(ctx, j)
	j.tracker.Update(err)

	if j.callback != nil {
		j.callback(ctx, j)
	}

	return err
}

// Tracker returns the tracker of the job.
func (j *Job) Tracker() *tracker.Tracker {
	return j.tracker
}

// Logger returns the logger of the job.
func (j *Job) Logger() *logger.Logger {
	return j.logger
}
