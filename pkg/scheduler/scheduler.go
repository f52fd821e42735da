package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"compute_consensus/pkg/config"
)

// TaskStatus represents the current state of a scheduled task
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// cronParser accepts six-field expressions with a seconds column
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Task is a recurring housekeeping job
type Task struct {
	ID          string
	Name        string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	Status      TaskStatus
	Error       error
	RetryCount  int
	MaxRetries  int
	CronID      cron.EntryID
	ExecutionFn func(context.Context) error
}

// Scheduler runs the node's recurring housekeeping: deadline sweeps, metrics
// summaries, event store pruning. Execution is bounded by a worker pool and
// failed runs are retried with a fixed delay.
type Scheduler struct {
	cron       *cron.Cron
	tasks      map[string]*Task
	config     *config.SchedConfig
	logger     *zap.Logger
	metrics    *Metrics
	workerPool chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
}

// Metrics tracks scheduler activity
type Metrics struct {
	TasksScheduled int64
	TasksCompleted int64
	TasksFailed    int64
	LastUpdate     time.Time
	mu             sync.RWMutex
}

// Stats is a copyable view of scheduler metrics
type Stats struct {
	TasksScheduled int64
	TasksCompleted int64
	TasksFailed    int64
	LastUpdate     time.Time
}

// NewScheduler creates a scheduler instance
func NewScheduler(cfg *config.SchedConfig, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithParser(cronParser)),
		tasks:      make(map[string]*Task),
		config:     cfg,
		logger:     logger,
		metrics:    &Metrics{},
		workerPool: make(chan struct{}, cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins running scheduled tasks
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler",
		zap.Int("maxConcurrent", s.config.MaxConcurrent))
	s.cron.Start()
}

// Stop cancels background work and waits for running tasks to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleTask registers a recurring task
func (s *Scheduler) ScheduleTask(task *Task) error {
	if err := s.validateTask(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	cronID, err := s.cron.AddFunc(task.Schedule, func() {
		s.executeTask(s.ctx, task)
	})
	if err != nil {
		return fmt.Errorf("scheduling task: %w", err)
	}

	task.CronID = cronID
	task.Status = TaskStatusPending
	task.NextRun = s.cron.Entry(cronID).Next
	s.tasks[task.ID] = task

	s.metrics.mu.Lock()
	s.metrics.TasksScheduled++
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	s.logger.Info("Task scheduled",
		zap.String("taskID", task.ID),
		zap.String("schedule", task.Schedule))

	return nil
}

// UnscheduleTask removes a task
func (s *Scheduler) UnscheduleTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	s.cron.Remove(task.CronID)
	delete(s.tasks, taskID)

	s.logger.Info("Task unscheduled", zap.String("taskID", taskID))
	return nil
}

// GetTask retrieves a task by ID
func (s *Scheduler) GetTask(taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return task, nil
}

// ListTasks returns all scheduled tasks
func (s *Scheduler) ListTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return Stats{
		TasksScheduled: s.metrics.TasksScheduled,
		TasksCompleted: s.metrics.TasksCompleted,
		TasksFailed:    s.metrics.TasksFailed,
		LastUpdate:     s.metrics.LastUpdate,
	}
}

func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-ctx.Done():
		return
	}

	start := time.Now()

	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRun = start
	s.mu.Unlock()

	err := s.runTaskWithRetries(ctx, task)

	s.mu.Lock()
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err
	} else {
		task.Status = TaskStatusComplete
		task.Error = nil
	}
	task.NextRun = s.cron.Entry(task.CronID).Next
	s.mu.Unlock()

	s.metrics.mu.Lock()
	if err != nil {
		s.metrics.TasksFailed++
	} else {
		s.metrics.TasksCompleted++
	}
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	if err != nil {
		s.logger.Warn("Task failed",
			zap.String("taskID", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}
}

func (s *Scheduler) runTaskWithRetries(ctx context.Context, task *Task) error {
	var lastErr error

	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := task.ExecutionFn(ctx); err != nil {
			lastErr = err
			task.RetryCount = attempt
			s.logger.Warn("Task execution failed",
				zap.String("taskID", task.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		return nil
	}

	return fmt.Errorf("task failed after %d retries: %w", task.MaxRetries, lastErr)
}

func (s *Scheduler) validateTask(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if task.Schedule == "" {
		return fmt.Errorf("task schedule cannot be empty")
	}
	if task.ExecutionFn == nil {
		return fmt.Errorf("task execution function cannot be nil")
	}

	if _, err := cronParser.Parse(task.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}
	return nil
}
