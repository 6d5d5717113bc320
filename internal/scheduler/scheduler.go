package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/types"
)

// Task is the unit of scheduled work.
type Task func(ctx context.Context) error

// JobStatus is the externally visible state of one registered job.
type JobStatus struct {
	Name      string                   `json:"name"`
	Status    types.ScheduledJobStatus `json:"status"`
	LastRun   *time.Time               `json:"last_run,omitempty"`
	NextRun   *time.Time               `json:"next_run,omitempty"`
	LastError string                   `json:"last_error,omitempty"`
}

// Status is the scheduler-wide status report.
type Status struct {
	IsRunning bool        `json:"is_running"`
	JobCount  int         `json:"job_count"`
	Jobs      []JobStatus `json:"jobs"`
}

type job struct {
	name      string
	status    types.ScheduledJobStatus
	lastRun   *time.Time
	lastError string
	entryID   cron.EntryID
	task      Task
}

// Scheduler is an in-process job runner. Triggers ride on robfig/cron;
// the scheduler adds a per-job status registry, a skip-if-running rule
// so a job never overlaps itself, and panic containment so one bad
// task cannot take the process down. There is no cross-job locking.
type Scheduler struct {
	cron     *cron.Cron
	logger   *logger.Logger
	cooldown time.Duration

	mu      sync.RWMutex
	jobs    map[string]*job
	running bool
}

// New creates a stopped scheduler. cooldown is how long a failed job
// stays in the failed state before reverting to scheduled.
func New(log *logger.Logger, cooldown time.Duration) *Scheduler {
	location, _ := time.LoadLocation("UTC")
	c := cron.New(
		cron.WithLocation(location),
	)

	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Scheduler{
		cron:     c,
		logger:   log,
		cooldown: cooldown,
		jobs:     make(map[string]*job),
	}
}

// Start begins firing triggers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Infow("scheduler started", "job_count", len(s.jobs))
}

// Stop halts triggers and waits for in-flight jobs started by cron to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Infow("scheduler stopped")
}

// Every registers a fixed-interval job. The task runs once immediately
// at registration, then on every interval tick.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if err := s.register(name, cron.Every(interval), task); err != nil {
		return err
	}
	go s.run(name)
	return nil
}

// Daily registers a job at HH:MM UTC every day.
func (s *Scheduler) Daily(name string, hour, minute int, task Task) error {
	return s.addSpec(name, fmt.Sprintf("%d %d * * *", minute, hour), task)
}

// Weekly registers a job at HH:MM UTC on the given weekday.
func (s *Scheduler) Weekly(name string, weekday time.Weekday, hour, minute int, task Task) error {
	return s.addSpec(name, fmt.Sprintf("%d %d * * %d", minute, hour, int(weekday)), task)
}

// Monthly registers a job at HH:MM UTC on the given day of month.
func (s *Scheduler) Monthly(name string, day, hour, minute int, task Task) error {
	return s.addSpec(name, fmt.Sprintf("%d %d %d * *", minute, hour, day), task)
}

func (s *Scheduler) addSpec(name, spec string, task Task) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Invalid schedule spec %q for job %s", spec, name).
			Mark(ierr.ErrValidation)
	}
	return s.register(name, schedule, task)
}

func (s *Scheduler) register(name string, schedule cron.Schedule, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return ierr.NewError("job already registered").
			WithHintf("A job named %s is already registered", name).
			Mark(ierr.ErrAlreadyExists)
	}

	j := &job{
		name:   name,
		status: types.ScheduledJobStatusScheduled,
		task:   task,
	}
	j.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(name)
	}))
	s.jobs[name] = j

	s.logger.Infow("registered scheduled job", "job", name)
	return nil
}

// Trigger forces a job to run now, subject to the skip-if-running
// rule. The run happens asynchronously.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return ierr.NewError("job not found").
			WithHintf("No scheduled job named %s", name).
			Mark(ierr.ErrNotFound)
	}
	go s.run(name)
	return nil
}

// JobsStatus reports the scheduler and per-job state.
func (s *Scheduler) JobsStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning: s.running,
		JobCount:  len(s.jobs),
		Jobs:      make([]JobStatus, 0, len(s.jobs)),
	}
	for _, j := range s.jobs {
		js := JobStatus{
			Name:      j.name,
			Status:    j.status,
			LastRun:   j.lastRun,
			LastError: j.lastError,
		}
		if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
			js.NextRun = &next
		}
		status.Jobs = append(status.Jobs, js)
	}
	return status
}

// run executes one job. A job already running is skipped outright, not
// queued. Panics and errors are recorded on the job and never escape.
func (s *Scheduler) run(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if j.status == types.ScheduledJobStatusRunning {
		s.mu.Unlock()
		s.logger.Warnw("skipping trigger, job still running", "job", name)
		return
	}
	j.status = types.ScheduledJobStatusRunning
	now := time.Now().UTC()
	j.lastRun = &now
	task := j.task
	s.mu.Unlock()

	err := s.execute(name, task)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		j.status = types.ScheduledJobStatusFailed
		j.lastError = err.Error()
		s.logger.Errorw("scheduled job failed", "job", name, "error", err)
		// Revert to scheduled after a cooldown so future triggers fire.
		time.AfterFunc(s.cooldown, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if j.status == types.ScheduledJobStatusFailed {
				j.status = types.ScheduledJobStatusScheduled
			}
		})
		return
	}
	j.status = types.ScheduledJobStatusCompleted
	j.lastError = ""
}

func (s *Scheduler) execute(name string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ierr.NewErrorf("job panicked: %v", r).Err()
		}
	}()
	return task(context.Background())
}
