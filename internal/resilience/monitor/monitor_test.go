package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/mediagate/internal/resilience/breaker"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestTrackErrorCounts(t *testing.T) {
	m := newTestMonitor(t)

	base := errors.New("connection refused")
	m.TrackError(base, "structured", SeverityHigh)
	m.TrackError(fmt.Errorf("probe failed: %w", base), "structured", SeverityHigh)

	s := m.Summary()
	if s.TotalErrorCount != 2 {
		t.Fatalf("TotalErrorCount = %d, want 2", s.TotalErrorCount)
	}
	if s.TotalErrorKinds != 1 {
		t.Fatalf("TotalErrorKinds = %d, want 1 (wrapping must not create a new kind)", s.TotalErrorKinds)
	}

	for key, rec := range s.LastErrors {
		if !strings.HasPrefix(key, "structured:") {
			t.Errorf("key %q not scoped by dependency", key)
		}
		if rec.Count != 2 {
			t.Errorf("record count = %d, want 2", rec.Count)
		}
	}
}

func TestTrackErrorFeedsBreaker(t *testing.T) {
	m := newTestMonitor(t)
	m.RegisterBreaker("vector", breaker.Config{FailureThreshold: 2})

	m.TrackError(errors.New("timeout"), "vector", SeverityHigh)
	if !m.CircuitIsClosed("vector") {
		t.Fatal("circuit opened before threshold")
	}

	m.TrackError(errors.New("timeout"), "vector", SeverityHigh)
	if m.CircuitIsClosed("vector") {
		t.Fatal("circuit still closed after threshold failures")
	}

	// Errors for another dependency do not touch this breaker.
	if !m.CircuitIsClosed("structured") {
		t.Fatal("unregistered dependency must always be allowed")
	}
}

func TestRegisterBreakerIdempotent(t *testing.T) {
	m := newTestMonitor(t)

	b1 := m.RegisterBreaker("structured", breaker.Config{FailureThreshold: 3})
	b2 := m.RegisterBreaker("structured", breaker.Config{FailureThreshold: 99})
	if b1 != b2 {
		t.Fatal("second registration returned a different breaker")
	}
}

func TestRecordSuccessClosesHalfOpen(t *testing.T) {
	m := newTestMonitor(t)
	b := m.RegisterBreaker("vector", breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
	})

	m.TrackError(errors.New("down"), "vector", SeverityCritical)
	if b.State() != breaker.StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(5 * time.Millisecond)
	if !m.CircuitIsClosed("vector") {
		t.Fatal("probe should be allowed after recovery timeout")
	}
	m.RecordSuccess("vector")
	if b.State() != breaker.StateClosed {
		t.Fatal("success during half-open should close the breaker")
	}
}

func TestSummaryPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	m1, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m1.TrackError(errors.New("disk full"), "structured", SeverityCritical)
	m1.TrackError(errors.New("disk full"), "structured", SeverityCritical)

	m2, err := New(dir)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	s := m2.Summary()
	if s.TotalErrorCount != 2 {
		t.Fatalf("TotalErrorCount after reload = %d, want 2", s.TotalErrorCount)
	}
}

func TestDetailFilesWritten(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.TrackError(errors.New("boom"), "vector", SeverityLow)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	var details int
	for _, e := range entries {
		if e.Name() == summaryFile {
			continue
		}
		if filepath.Ext(e.Name()) == ".json" {
			details++
		}
	}
	if details != 1 {
		t.Fatalf("detail files = %d, want 1", details)
	}
}

func TestTrackNilErrorIsNoop(t *testing.T) {
	m := newTestMonitor(t)
	m.TrackError(nil, "structured", SeverityHigh)
	if s := m.Summary(); s.TotalErrorCount != 0 {
		t.Fatalf("nil error was counted: %d", s.TotalErrorCount)
	}
}
