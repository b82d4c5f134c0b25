// Package janitor runs periodic housekeeping: scratch-dir sweeps, journal
// retention and idle rate-limiter pruning.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task.
type Job interface {
	Name() string
	Schedule() string // 5-field cron expression
	Run(ctx context.Context) error
}

// Janitor owns the cron scheduler. Register jobs before Run.
type Janitor struct {
	mu     sync.Mutex
	jobs   []Job
	locks  map[string]*sync.Mutex
	logger *slog.Logger
}

func New(logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{locks: make(map[string]*sync.Mutex), logger: logger}
}

func (j *Janitor) Register(job Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, dup := j.locks[job.Name()]; dup {
		return fmt.Errorf("janitor: duplicate job name %q", job.Name())
	}
	j.locks[job.Name()] = &sync.Mutex{}
	j.jobs = append(j.jobs, job)
	return nil
}

// Run schedules every registered job and blocks until ctx is done, then
// waits for running jobs to return.
func (j *Janitor) Run(ctx context.Context) error {
	j.mu.Lock()
	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)))
	for _, job := range j.jobs {
		if _, err := c.AddFunc(job.Schedule(), j.wrap(ctx, job)); err != nil {
			j.mu.Unlock()
			return fmt.Errorf("janitor: invalid schedule for job %q: %w", job.Name(), err)
		}
	}
	n := len(j.jobs)
	j.mu.Unlock()

	c.Start()
	j.logger.Info("janitor started", "jobs", n)
	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("janitor stopped")
	return nil
}

// RunNow executes a job by name once, outside the schedule.
func (j *Janitor) RunNow(ctx context.Context, name string) error {
	j.mu.Lock()
	var found Job
	for _, job := range j.jobs {
		if job.Name() == name {
			found = job
		}
	}
	j.mu.Unlock()
	if found == nil {
		return fmt.Errorf("janitor: unknown job %q", name)
	}
	j.wrap(ctx, found)()
	return nil
}

func (j *Janitor) wrap(ctx context.Context, job Job) func() {
	lock := j.locks[job.Name()]
	return func() {
		// A tick that lands while the previous one is running is skipped.
		if !lock.TryLock() {
			j.logger.Warn("janitor: job still running, skipping tick", "job", job.Name())
			return
		}
		defer lock.Unlock()

		if err := job.Run(ctx); err != nil {
			j.logger.Error("janitor: job failed", "job", job.Name(), "err", err)
			return
		}
		j.logger.Debug("janitor: job completed", "job", job.Name())
	}
}
