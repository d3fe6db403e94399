// Package breaker implements the circuit breaker pattern used to gate
// calls to remote dependencies.
//
// A breaker moves between three states:
//
//	CLOSED ──[failures reach threshold]──► OPEN
//	OPEN ──[recovery timeout elapsed]──► HALF_OPEN
//	HALF_OPEN ──[success]──► CLOSED
//	HALF_OPEN ──[failures reach threshold]──► OPEN
//
// Breaker state is in-memory only; a process restart starts from CLOSED,
// which amounts to a fresh health assessment.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed is normal operation, requests flow through.
	StateClosed State = iota

	// StateOpen means the circuit has tripped and requests are rejected.
	StateOpen

	// StateHalfOpen means the breaker is probing whether the dependency
	// recovered.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ErrOpen is returned by callers that refuse work while a breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls breaker behavior.
type Config struct {
	// FailureThreshold is the number of failures within the reset window
	// before the circuit opens. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit waits before allowing a
	// probe request through. Default: 60s.
	RecoveryTimeout time.Duration

	// ResetTimeout is the window within which failures accumulate. If no
	// failure is recorded for longer than this, the count starts over.
	// Default: 5m.
	ResetTimeout time.Duration
}

// DefaultConfig returns the defaults used for dependency breakers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		ResetTimeout:     5 * time.Minute,
	}
}

// Snapshot is a consistent read of breaker state for health reporting.
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// Breaker is a single dependency's circuit breaker.
// Safe for concurrent use.
type Breaker struct {
	name   string
	config Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	lastSuccess time.Time

	now func() time.Time
}

// New creates a breaker in the closed state. Zero config values are
// replaced with defaults.
func New(name string, config Config) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// RecordFailure notes a failed call. Failures older than the reset window
// do not count toward the threshold: if the previous failure is further in
// the past than ResetTimeout, the count restarts at one.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.config.ResetTimeout {
		b.failures = 0
	}
	b.lastFailure = now
	b.failures++

	// Opening always requires the threshold, including from half-open: a
	// probe failing right after the reset window zeroed the count starts a
	// fresh count instead of re-tripping on one failure.
	if b.failures >= b.config.FailureThreshold {
		b.state = StateOpen
	}
}

// RecordSuccess notes a successful call. A success while half-open closes
// the circuit and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = b.now()

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = 0
	}
}

// AllowRequest reports whether a call should be attempted. An open circuit
// whose recovery timeout has elapsed moves to half-open and lets the caller
// through as a probe. Half-open does not limit concurrent probes; callers
// that need stricter isolation must coordinate externally.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.config.RecoveryTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a consistent view of the breaker for health reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:          b.name,
		State:         b.state.String(),
		FailureCount:  b.failures,
		LastFailureAt: b.lastFailure,
		LastSuccessAt: b.lastSuccess,
	}
}
