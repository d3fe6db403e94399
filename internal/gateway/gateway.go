// Package gateway selects which tier of a protected dependency serves a
// request: the primary service, a secondary credential set, or the local
// fallback engine. Callers receive the same capability interface whichever
// tier answered.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/mediagate/internal/core/domain"
	"github.com/vietddude/mediagate/internal/infra/structured"
	"github.com/vietddude/mediagate/internal/infra/vector"
	"github.com/vietddude/mediagate/internal/metrics"
	"github.com/vietddude/mediagate/internal/resilience/breaker"
	"github.com/vietddude/mediagate/internal/resilience/monitor"
)

// ErrCircuitOpen is returned when a dependency's breaker is open and the
// caller disallowed fallback.
var ErrCircuitOpen = errors.New("circuit breaker open")

// client is what every tier of a dependency must provide.
type client interface {
	Health(ctx context.Context) error
	Close() error
}

// Dialer constructs one tier's client.
type Dialer[C client] func(ctx context.Context) (C, error)

// Tiers configures one protected dependency. Secondary is optional;
// Primary and Fallback are required.
type Tiers[C client] struct {
	Primary   Dialer[C]
	Secondary Dialer[C]
	Fallback  Dialer[C]
}

// ladder walks a dependency's tiers in order, caching the client each
// tier produced. Its mutex guards only the cached instances, never a
// probe or dial in flight, so concurrent callers may race the ladder
// independently.
type ladder[C client] struct {
	name  domain.Dependency
	mon   *monitor.Monitor
	tiers Tiers[C]
	now   func() time.Time

	mu        sync.Mutex
	primary   C
	secondary C
	fallback  C
	havePrim  bool
	haveSec   bool
	haveFall  bool

	healthMu sync.Mutex
	health   domain.DependencyHealth
}

func newLadder[C client](name domain.Dependency, mon *monitor.Monitor, cfg breaker.Config, tiers Tiers[C]) *ladder[C] {
	mon.RegisterBreaker(string(name), cfg)
	return &ladder[C]{name: name, mon: mon, tiers: tiers, now: time.Now}
}

// get runs the failover ladder:
//  1. open breaker and fallback disallowed: fail immediately,
//  2. open breaker and fallback allowed: skip the remote tiers,
//  3. primary probe; with fallback disallowed its error is final,
//  4. secondary probe if configured,
//  5. local fallback.
func (l *ladder[C]) get(ctx context.Context, useFallback bool) (C, error) {
	var zero C
	dep := string(l.name)

	if !l.mon.CircuitIsClosed(dep) {
		if !useFallback {
			return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, dep)
		}
		slog.Warn("Circuit open, skipping remote tiers", "dependency", dep)
		return l.getFallback(ctx)
	}

	c, err := l.probeTier(ctx, "primary", l.tiers.Primary, &l.primary, &l.havePrim)
	if err == nil {
		l.mon.RecordSuccess(dep)
		l.setHealth(true)
		return c, nil
	}
	l.mon.TrackError(err, dep, monitor.SeverityHigh)
	l.setHealth(false)
	if !useFallback {
		return zero, err
	}

	if l.tiers.Secondary != nil {
		if c, err := l.probeTier(ctx, "secondary", l.tiers.Secondary, &l.secondary, &l.haveSec); err == nil {
			slog.Info("Using secondary credentials", "dependency", dep)
			return c, nil
		} else {
			l.mon.TrackError(err, dep, monitor.SeverityHigh)
		}
	}

	return l.getFallback(ctx)
}

// probeTier reuses the cached client for the tier or dials a fresh one,
// then verifies it with a liveness probe.
func (l *ladder[C]) probeTier(ctx context.Context, tier string, dial Dialer[C], cached *C, have *bool) (C, error) {
	var zero C
	dep := string(l.name)
	metrics.DependencyCallsTotal.WithLabelValues(dep, tier).Inc()

	l.mu.Lock()
	c, ok := *cached, *have
	l.mu.Unlock()

	if !ok {
		fresh, err := dial(ctx)
		if err != nil {
			metrics.DependencyErrorsTotal.WithLabelValues(dep, tier).Inc()
			return zero, fmt.Errorf("%s %s connect: %w", dep, tier, err)
		}

		var loser C
		var closeLoser bool
		l.mu.Lock()
		if *have {
			// another caller connected first; keep theirs
			loser, closeLoser = fresh, true
		} else {
			*cached, *have = fresh, true
		}
		c = *cached
		l.mu.Unlock()
		if closeLoser {
			loser.Close()
		}
	}

	start := l.now()
	err := c.Health(ctx)
	metrics.ProbeLatency.WithLabelValues(dep).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DependencyErrorsTotal.WithLabelValues(dep, tier).Inc()
		l.dropCached(cached, have, c)
		return zero, fmt.Errorf("%s %s probe: %w", dep, tier, err)
	}
	return c, nil
}

// dropCached discards a cached client after a failed probe so the next
// call dials fresh.
func (l *ladder[C]) dropCached(cached *C, have *bool, failed C) {
	var zero C
	l.mu.Lock()
	if *have {
		*cached, *have = zero, false
	}
	l.mu.Unlock()
	failed.Close()
}

// getFallback constructs or reuses the local engine. A fallback failure
// is terminal, there is no further tier.
func (l *ladder[C]) getFallback(ctx context.Context) (C, error) {
	var zero C
	dep := string(l.name)

	l.mu.Lock()
	c, ok := l.fallback, l.haveFall
	l.mu.Unlock()

	if !ok {
		fresh, err := l.tiers.Fallback(ctx)
		if err != nil {
			l.mon.TrackError(err, dep, monitor.SeverityCritical)
			return zero, fmt.Errorf("%s fallback unavailable: %w", dep, err)
		}

		var loser C
		var closeLoser bool
		l.mu.Lock()
		if l.haveFall {
			loser, closeLoser = fresh, true
		} else {
			l.fallback, l.haveFall = fresh, true
		}
		c = l.fallback
		l.mu.Unlock()
		if closeLoser {
			loser.Close()
		}
	}

	metrics.FallbackActivationsTotal.WithLabelValues(dep).Inc()
	slog.Warn("Serving from local fallback", "dependency", dep)
	return c, nil
}

func (l *ladder[C]) setHealth(healthy bool) {
	now := l.now().UTC()
	l.healthMu.Lock()
	l.health.Healthy = healthy
	l.health.LastCheck = now
	if healthy {
		l.health.LastSuccess = now
		l.health.FailureCount = 0
	} else {
		l.health.FailureCount++
	}
	l.healthMu.Unlock()

	state := l.mon.Breaker(string(l.name)).Snapshot()
	metrics.CircuitState.WithLabelValues(string(l.name)).Set(stateValue(state.State))
}

func (l *ladder[C]) snapshot() domain.DependencyHealth {
	l.healthMu.Lock()
	defer l.healthMu.Unlock()
	return l.health
}

// close releases every cached client.
func (l *ladder[C]) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.havePrim {
		l.primary.Close()
		l.havePrim = false
	}
	if l.haveSec {
		l.secondary.Close()
		l.haveSec = false
	}
	if l.haveFall {
		l.fallback.Close()
		l.haveFall = false
	}
}

func stateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

// Gateway owns the failover ladders for both protected dependencies.
type Gateway struct {
	mon        *monitor.Monitor
	structured *ladder[structured.Client]
	vector     *ladder[vector.Client]
}

// New wires the ladders to the shared error monitor. Both dependencies
// share the breaker tuning.
func New(mon *monitor.Monitor, breakerCfg breaker.Config, structuredTiers Tiers[structured.Client], vectorTiers Tiers[vector.Client]) *Gateway {
	return &Gateway{
		mon:        mon,
		structured: newLadder(domain.DependencyStructured, mon, breakerCfg, structuredTiers),
		vector:     newLadder(domain.DependencyVector, mon, breakerCfg, vectorTiers),
	}
}

// StructuredClient returns whichever structured tier currently answers.
func (g *Gateway) StructuredClient(ctx context.Context, useFallback bool) (structured.Client, error) {
	return g.structured.get(ctx, useFallback)
}

// VectorClient returns whichever vector tier currently answers.
func (g *Gateway) VectorClient(ctx context.Context, useFallback bool) (vector.Client, error) {
	return g.vector.get(ctx, useFallback)
}

// ConnectionHealth reports the last observed health of each dependency
// and the current breaker states.
func (g *Gateway) ConnectionHealth() domain.ConnectionHealth {
	return domain.ConnectionHealth{
		Dependencies: map[domain.Dependency]domain.DependencyHealth{
			domain.DependencyStructured: g.structured.snapshot(),
			domain.DependencyVector:     g.vector.snapshot(),
		},
		CircuitBreakers: map[domain.Dependency]string{
			domain.DependencyStructured: g.mon.Breaker(string(domain.DependencyStructured)).Snapshot().State,
			domain.DependencyVector:     g.mon.Breaker(string(domain.DependencyVector)).Snapshot().State,
		},
	}
}

// CheckAll probes every dependency without falling back and returns the
// refreshed health snapshot. Used by the periodic connection monitor and
// the health endpoint.
func (g *Gateway) CheckAll(ctx context.Context) domain.ConnectionHealth {
	if _, err := g.StructuredClient(ctx, false); err != nil {
		slog.Warn("Structured dependency unhealthy", "error", err)
	}
	if _, err := g.VectorClient(ctx, false); err != nil {
		slog.Warn("Vector dependency unhealthy", "error", err)
	}
	return g.ConnectionHealth()
}

// Close releases every cached tier client.
func (g *Gateway) Close() {
	g.structured.close()
	g.vector.close()
}
