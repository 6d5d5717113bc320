package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/types"
)

type SchedulerTestSuite struct {
	suite.Suite
	scheduler *Scheduler
}

func TestScheduler(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) SetupTest() {
	log, err := logger.NewLogger("info")
	s.Require().NoError(err)
	s.scheduler = New(log, 50*time.Millisecond)
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.scheduler.Stop()
}

func (s *SchedulerTestSuite) jobStatus(name string) (JobStatus, bool) {
	for _, j := range s.scheduler.JobsStatus().Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobStatus{}, false
}

func (s *SchedulerTestSuite) TestEveryRunsOnceAtRegistration() {
	var runs atomic.Int32
	err := s.scheduler.Every("sweep", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Require().NoError(err)

	s.Eventually(func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)

	job, ok := s.jobStatus("sweep")
	s.Require().True(ok)
	s.NotNil(job.LastRun)
}

func (s *SchedulerTestSuite) TestDuplicateRegistrationFails() {
	task := func(context.Context) error { return nil }
	s.Require().NoError(s.scheduler.Daily("report", 0, 0, task))

	err := s.scheduler.Daily("report", 1, 0, task)
	s.Require().Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *SchedulerTestSuite) TestTriggerUnknownJob() {
	err := s.scheduler.Trigger("nope")
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *SchedulerTestSuite) TestRunningJobIsNeverOverlapped() {
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	err := s.scheduler.Every("slow", time.Hour, func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})
	s.Require().NoError(err)
	<-started

	// The first invocation is still blocked; a second trigger must be
	// skipped, not queued.
	s.Require().NoError(s.scheduler.Trigger("slow"))
	s.Never(func() bool { return runs.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)

	close(release)
	s.Eventually(func() bool {
		job, ok := s.jobStatus("slow")
		return ok && job.Status == types.ScheduledJobStatusCompleted
	}, time.Second, 10*time.Millisecond)

	// Once the job has resolved, triggers fire again.
	release = make(chan struct{})
	s.Require().NoError(s.scheduler.Trigger("slow"))
	<-started
	s.Equal(int32(2), runs.Load())
	close(release)
}

func (s *SchedulerTestSuite) TestFailedJobRevertsAfterCooldown() {
	err := s.scheduler.Daily("flaky", 0, 0, func(context.Context) error {
		return ierr.NewError("boom").Mark(ierr.ErrGateway)
	})
	s.Require().NoError(err)

	s.Require().NoError(s.scheduler.Trigger("flaky"))
	s.Eventually(func() bool {
		job, ok := s.jobStatus("flaky")
		return ok && job.Status == types.ScheduledJobStatusFailed
	}, time.Second, 10*time.Millisecond)

	job, _ := s.jobStatus("flaky")
	s.Contains(job.LastError, "boom")

	s.Eventually(func() bool {
		job, ok := s.jobStatus("flaky")
		return ok && job.Status == types.ScheduledJobStatusScheduled
	}, time.Second, 10*time.Millisecond)
}

func (s *SchedulerTestSuite) TestPanicIsContained() {
	err := s.scheduler.Daily("wild", 0, 0, func(context.Context) error {
		panic("unexpected")
	})
	s.Require().NoError(err)

	s.Require().NoError(s.scheduler.Trigger("wild"))
	s.Eventually(func() bool {
		job, ok := s.jobStatus("wild")
		return ok && job.Status == types.ScheduledJobStatusFailed
	}, time.Second, 10*time.Millisecond)

	job, _ := s.jobStatus("wild")
	s.Contains(job.LastError, "job panicked")
}

func (s *SchedulerTestSuite) TestJobsStatus() {
	task := func(context.Context) error { return nil }
	s.Require().NoError(s.scheduler.Daily("a", 2, 30, task))
	s.Require().NoError(s.scheduler.Weekly("b", time.Monday, 9, 0, task))

	status := s.scheduler.JobsStatus()
	s.False(status.IsRunning)
	s.Equal(2, status.JobCount)
	s.Len(status.Jobs, 2)

	s.scheduler.Start()
	s.True(s.scheduler.JobsStatus().IsRunning)
}
