package domain

import (
	"time"
)

// Dependency identifies a protected remote dependency.
type Dependency string

const (
	DependencyStructured Dependency = "structured"
	DependencyVector     Dependency = "vector"
)

// DependencyHealth is observed connection state for one dependency.
// It is derived from probe results and exposed for monitoring; the circuit
// breaker remains the authority for request gating.
type DependencyHealth struct {
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastSuccess  time.Time `json:"last_success"`
	FailureCount int       `json:"failure_count"`
}

// ConnectionHealth is the full health surface of the gateway.
type ConnectionHealth struct {
	Dependencies    map[Dependency]DependencyHealth `json:"dependencies"`
	CircuitBreakers map[Dependency]string           `json:"circuit_breakers"`
}
