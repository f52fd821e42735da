package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"compute_consensus/pkg/config"
)

func newTestScheduler() *Scheduler {
	cfg := &config.SchedConfig{
		MaxConcurrent: 2,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Millisecond,
	}
	return NewScheduler(cfg, zap.NewNop())
}

func TestScheduler_ValidateTask(t *testing.T) {
	s := newTestScheduler()
	noop := func(ctx context.Context) error { return nil }

	tests := []struct {
		name string
		task *Task
	}{
		{"MissingID", &Task{Schedule: "* * * * * *", ExecutionFn: noop}},
		{"MissingSchedule", &Task{ID: "t1", ExecutionFn: noop}},
		{"MissingFn", &Task{ID: "t1", Schedule: "* * * * * *"}},
		{"BadSchedule", &Task{ID: "t1", Schedule: "not-cron", ExecutionFn: noop}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.ScheduleTask(tt.task))
		})
	}
}

func TestScheduler_DuplicateTaskRejected(t *testing.T) {
	s := newTestScheduler()
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.ScheduleTask(&Task{ID: "t1", Schedule: "* * * * * *", ExecutionFn: noop}))
	assert.Error(t, s.ScheduleTask(&Task{ID: "t1", Schedule: "* * * * * *", ExecutionFn: noop}))

	tasks := s.ListTasks()
	assert.Len(t, tasks, 1)
}

func TestScheduler_RunsTask(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	var runs int64
	require.NoError(t, s.ScheduleTask(&Task{
		ID:       "counter",
		Schedule: "* * * * * *",
		ExecutionFn: func(ctx context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		},
	}))

	s.Start()
	time.Sleep(2500 * time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(2))

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.TasksScheduled)
	assert.GreaterOrEqual(t, stats.TasksCompleted, int64(2))
}

func TestScheduler_RetriesUntilSuccess(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	var attempts int64
	require.NoError(t, s.ScheduleTask(&Task{
		ID:         "flaky",
		Schedule:   "* * * * * *",
		MaxRetries: 3,
		ExecutionFn: func(ctx context.Context) error {
			if atomic.AddInt64(&attempts, 1) < 3 {
				return errors.New("transient failure")
			}
			return nil
		},
	}))

	s.Start()
	time.Sleep(1500 * time.Millisecond)

	task, err := s.GetTask("flaky")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusComplete, task.Status)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&attempts), int64(3))
}

func TestScheduler_Unschedule(t *testing.T) {
	s := newTestScheduler()
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.ScheduleTask(&Task{ID: "t1", Schedule: "* * * * * *", ExecutionFn: noop}))
	require.NoError(t, s.UnscheduleTask("t1"))

	_, err := s.GetTask("t1")
	assert.Error(t, err)
	assert.Error(t, s.UnscheduleTask("t1"))
}

type sweeperStub struct {
	challenges int64
	votes      int64
	summaries  int64
}

func (s *sweeperStub) SweepChallenges(now time.Time) int { atomic.AddInt64(&s.challenges, 1); return 0 }
func (s *sweeperStub) SweepVoting(now time.Time) int     { atomic.AddInt64(&s.votes, 1); return 0 }
func (s *sweeperStub) LogSummary()                       { atomic.AddInt64(&s.summaries, 1) }

func TestRegisterConsensusTasks(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	stub := &sweeperStub{}
	require.NoError(t, RegisterConsensusTasks(s, stub))
	assert.Len(t, s.ListTasks(), 3)

	s.Start()
	time.Sleep(1500 * time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&stub.challenges), int64(1))
	assert.GreaterOrEqual(t, atomic.LoadInt64(&stub.votes), int64(1))
}
