// Package monitor tracks dependency errors and owns the process-wide
// registry of circuit breakers.
//
// Every tracked error is counted and written to durable storage under the
// error log directory, independent of whether the associated breaker trips.
// The on-disk summary survives restarts so occurrence counts are meaningful
// across a prolonged outage.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/mediagate/internal/resilience/breaker"
)

// Severity classifies how serious a tracked error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const summaryFile = "errors_summary.json"

// ErrorRecord is the last-seen detail for one dependency:errorKind key.
type ErrorRecord struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Dependency string   `json:"dependency"`
	Severity   Severity `json:"severity"`
	Chain      []string `json:"chain,omitempty"`
	Timestamp  string   `json:"timestamp"`
	Count      int      `json:"count"`
}

// Summary is a point-in-time view of all tracked errors and breakers.
type Summary struct {
	TotalErrorKinds int                         `json:"total_error_kinds"`
	TotalErrorCount int                         `json:"total_error_count"`
	ErrorCounts     map[string]int              `json:"error_counts"`
	LastErrors      map[string]ErrorRecord      `json:"last_errors"`
	CircuitBreakers map[string]breaker.Snapshot `json:"circuit_breakers"`
}

// Monitor records errors and feeds registered circuit breakers.
// Safe for concurrent use.
type Monitor struct {
	dir string

	mu       sync.RWMutex
	counts   map[string]int
	last     map[string]ErrorRecord
	breakers map[string]*breaker.Breaker

	now func() time.Time
}

// New creates a monitor persisting under dir. A previously written summary
// is loaded so counts continue across restarts; a corrupt or missing summary
// starts fresh.
func New(dir string) (*Monitor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create error log dir: %w", err)
	}

	m := &Monitor{
		dir:      dir,
		counts:   make(map[string]int),
		last:     make(map[string]ErrorRecord),
		breakers: make(map[string]*breaker.Breaker),
		now:      time.Now,
	}
	m.loadSummary()
	return m, nil
}

// RegisterBreaker creates the circuit breaker for a dependency, or returns
// the existing one. Registration is idempotent; config applies only on
// first registration.
func (m *Monitor) RegisterBreaker(dependency string, config breaker.Config) *breaker.Breaker {
	m.mu.RLock()
	b, ok := m.breakers[dependency]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok = m.breakers[dependency]; ok {
		return b
	}
	b = breaker.New(dependency, config)
	m.breakers[dependency] = b
	return b
}

// Breaker returns the breaker for a dependency, or nil if none registered.
func (m *Monitor) Breaker(dependency string) *breaker.Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[dependency]
}

// CircuitIsClosed reports whether calls to the dependency are allowed.
// A dependency with no registered breaker is always allowed.
func (m *Monitor) CircuitIsClosed(dependency string) bool {
	b := m.Breaker(dependency)
	if b == nil {
		return true
	}
	return b.AllowRequest()
}

// RecordSuccess forwards a successful call to the dependency's breaker,
// if one is registered.
func (m *Monitor) RecordSuccess(dependency string) {
	if b := m.Breaker(dependency); b != nil {
		b.RecordSuccess()
	}
}

// TrackError records an error occurrence: increments the per-kind count,
// updates the last-error record, persists both a detail file and the
// summary, and feeds the dependency's breaker. Persistence failures are
// logged and never propagate; error tracking must not fail the caller.
func (m *Monitor) TrackError(err error, dependency string, severity Severity) {
	if err == nil {
		return
	}

	kind := errorKind(err)
	key := dependency + ":" + kind
	now := m.now()

	m.mu.Lock()
	m.counts[key]++
	count := m.counts[key]
	rec := ErrorRecord{
		Kind:       kind,
		Message:    err.Error(),
		Dependency: dependency,
		Severity:   severity,
		Chain:      errorChain(err),
		Timestamp:  now.Format(time.RFC3339),
		Count:      count,
	}
	m.last[key] = rec
	b := m.breakers[dependency]
	m.mu.Unlock()

	if b != nil {
		b.RecordFailure()
	}

	logFn := slog.Error
	if severity == SeverityLow || severity == SeverityMedium {
		logFn = slog.Warn
	}
	logFn("Dependency error tracked",
		"dependency", dependency,
		"kind", kind,
		"severity", severity,
		"count", count,
		"error", err)

	m.writeDetail(key, rec, now)
	m.writeSummary()
}

// Summary returns the current error and breaker state.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalErrorKinds: len(m.counts),
		ErrorCounts:     make(map[string]int, len(m.counts)),
		LastErrors:      make(map[string]ErrorRecord, len(m.last)),
		CircuitBreakers: make(map[string]breaker.Snapshot, len(m.breakers)),
	}
	for k, v := range m.counts {
		s.ErrorCounts[k] = v
		s.TotalErrorCount += v
	}
	for k, v := range m.last {
		s.LastErrors[k] = v
	}
	for name, b := range m.breakers {
		s.CircuitBreakers[name] = b.Snapshot()
	}
	return s
}

func (m *Monitor) loadSummary() {
	data, err := os.ReadFile(filepath.Join(m.dir, summaryFile))
	if err != nil {
		return
	}

	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Warn("Ignoring corrupt error summary", "error", err)
		return
	}
	for k, v := range s.ErrorCounts {
		m.counts[k] = v
	}
	for k, v := range s.LastErrors {
		m.last[k] = v
	}
}

func (m *Monitor) writeSummary() {
	s := m.Summary()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		slog.Error("Failed to encode error summary", "error", err)
		return
	}

	// Write-then-rename keeps the summary readable if we crash mid-write.
	path := filepath.Join(m.dir, summaryFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Error("Failed to write error summary", "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Error("Failed to replace error summary", "error", err)
	}
}

func (m *Monitor) writeDetail(key string, rec ErrorRecord, now time.Time) {
	name := fmt.Sprintf("%s_%s.json",
		strings.ReplaceAll(key, ":", "_"),
		now.Format("20060102_150405"))

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Error("Failed to encode error detail", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(m.dir, name), data, 0o644); err != nil {
		slog.Error("Failed to write error detail", "key", key, "error", err)
	}
}

// errorKind derives a stable short name from the innermost error's type,
// so repeated occurrences of the same failure share one key.
func errorKind(err error) string {
	root := err
	for {
		unwrapped := errors.Unwrap(root)
		if unwrapped == nil {
			break
		}
		root = unwrapped
	}

	name := fmt.Sprintf("%T", root)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// errorChain returns the messages along the unwrap chain, outermost first.
// This is the closest Go analogue to a traceback for postmortem use.
func errorChain(err error) []string {
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, e.Error())
	}
	if len(chain) <= 1 {
		return nil
	}
	return chain
}
