// Package tasks runs the periodic maintenance loops: cache expiry sweeps,
// dependency health checks, and automatic fallback backups.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one scheduled maintenance job.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// TaskStatus reports a registered task for the health surface.
type TaskStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	Runs     int64      `json:"runs"`
}

// Scheduler owns the cron runner and the task registry.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration

	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	task    Task
	lastRun time.Time
	runs    int64
}

// New creates a stopped scheduler. Each task run is bounded by timeout.
func New(timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		timeout: timeout,
		tasks:   make(map[string]*taskState),
	}
}

// Register adds a task. Schedule uses six-field cron expressions
// (seconds first). Returns an error for an invalid expression.
func (s *Scheduler) Register(task Task) error {
	state := &taskState{task: task}

	_, err := s.cron.AddFunc(task.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		task.Run(ctx)

		s.mu.Lock()
		state.lastRun = start.UTC()
		state.runs++
		s.mu.Unlock()

		slog.Debug("Maintenance task finished", "task", task.Name, "duration", time.Since(start))
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tasks[task.Name] = state
	s.mu.Unlock()

	slog.Info("Registered maintenance task", "task", task.Name, "schedule", task.Schedule)
	return nil
}

// Start begins running registered tasks on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Status lists the registered tasks and their run history.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, st := range s.tasks {
		status := TaskStatus{
			Name:     st.task.Name,
			Schedule: st.task.Schedule,
			Runs:     st.runs,
		}
		if !st.lastRun.IsZero() {
			t := st.lastRun
			status.LastRun = &t
		}
		out = append(out, status)
	}
	return out
}
