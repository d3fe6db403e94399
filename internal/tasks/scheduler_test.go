package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := New(time.Second)
	err := s.Register(Task{Name: "bad", Schedule: "not a schedule", Run: func(ctx context.Context) {}})
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestScheduledTaskRuns(t *testing.T) {
	s := New(time.Second)

	var runs atomic.Int64
	err := s.Register(Task{
		Name:     "tick",
		Schedule: "* * * * * *", // every second
		Run:      func(ctx context.Context) { runs.Add(1) },
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}

	status := s.Status()
	if len(status) != 1 || status[0].Name != "tick" {
		t.Fatalf("Status = %#v", status)
	}
	if status[0].Runs == 0 || status[0].LastRun == nil {
		t.Errorf("run history not recorded: %+v", status[0])
	}
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New(time.Second)

	done := make(chan struct{})
	err := s.Register(Task{
		Name:     "slow",
		Schedule: "* * * * * *",
		Run: func(ctx context.Context) {
			time.Sleep(200 * time.Millisecond)
			close(done)
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	s.Start()
	// Wait for the task to start, then stop while it is running.
	time.Sleep(1100 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	default:
		t.Error("Stop returned before the in-flight run finished")
	}
}
