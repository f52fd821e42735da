package scheduler

import (
	"context"
	"time"
)

// Sweeper is the slice of the consensus engine the housekeeping tasks drive
type Sweeper interface {
	SweepChallenges(now time.Time) int
	SweepVoting(now time.Time) int
	LogSummary()
}

// RegisterConsensusTasks schedules the engine's recurring sweeps: challenge
// deadlines and voting timeouts every second, a metrics summary every minute.
func RegisterConsensusTasks(s *Scheduler, engine Sweeper) error {
	tasks := []*Task{
		{
			ID:       "challenge-sweep",
			Name:     "Resolve expired challenges",
			Schedule: "* * * * * *",
			ExecutionFn: func(ctx context.Context) error {
				engine.SweepChallenges(time.Now().UTC())
				return nil
			},
		},
		{
			ID:       "voting-sweep",
			Name:     "Abandon timed-out voting rounds",
			Schedule: "* * * * * *",
			ExecutionFn: func(ctx context.Context) error {
				engine.SweepVoting(time.Now().UTC())
				return nil
			},
		},
		{
			ID:       "metrics-summary",
			Name:     "Log consensus snapshot",
			Schedule: "0 * * * * *",
			ExecutionFn: func(ctx context.Context) error {
				engine.LogSummary()
				return nil
			},
		},
	}

	for _, task := range tasks {
		if err := s.ScheduleTask(task); err != nil {
			return err
		}
	}
	return nil
}
