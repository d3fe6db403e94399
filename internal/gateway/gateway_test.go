package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/mediagate/internal/core/domain"
	"github.com/vietddude/mediagate/internal/infra/structured"
	"github.com/vietddude/mediagate/internal/infra/vector"
	"github.com/vietddude/mediagate/internal/resilience/breaker"
	"github.com/vietddude/mediagate/internal/resilience/monitor"
)

// fakeStructured scripts probe outcomes for ladder tests.
type fakeStructured struct {
	name      string
	healthErr error
	probes    int
	closed    bool
}

func (f *fakeStructured) Health(ctx context.Context) error { f.probes++; return f.healthErr }
func (f *fakeStructured) Close() error                     { f.closed = true; return nil }
func (f *fakeStructured) Select(ctx context.Context, q structured.Query) ([]domain.Record, error) {
	return nil, nil
}
func (f *fakeStructured) Insert(ctx context.Context, table string, record domain.Record) (domain.Record, error) {
	return record, nil
}
func (f *fakeStructured) Update(ctx context.Context, table string, predicates []structured.Predicate, patch domain.Record) (int64, error) {
	return 0, nil
}
func (f *fakeStructured) Delete(ctx context.Context, table string, predicates []structured.Predicate) (int64, error) {
	return 0, nil
}

type fakeVector struct {
	healthErr error
}

func (f *fakeVector) Health(ctx context.Context) error { return f.healthErr }
func (f *fakeVector) Close() error                     { return nil }
func (f *fakeVector) Upsert(ctx context.Context, vectors []vector.Vector) (int, error) {
	return len(vectors), nil
}
func (f *fakeVector) Fetch(ctx context.Context, namespace string, ids []string) ([]vector.Vector, error) {
	return nil, nil
}
func (f *fakeVector) Delete(ctx context.Context, namespace string, ids []string) (int, error) {
	return 0, nil
}
func (f *fakeVector) DeleteAll(ctx context.Context, namespace string) (int, error) {
	return 0, nil
}
func (f *fakeVector) Search(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	return nil, nil
}

func dialStructured(c *fakeStructured, dials *int) Dialer[structured.Client] {
	return func(ctx context.Context) (structured.Client, error) {
		if dials != nil {
			*dials++
		}
		return c, nil
	}
}

func dialVector(c *fakeVector) Dialer[vector.Client] {
	return func(ctx context.Context) (vector.Client, error) { return c, nil }
}

func newTestGateway(t *testing.T, structuredTiers Tiers[structured.Client]) (*Gateway, *monitor.Monitor) {
	t.Helper()
	mon, err := monitor.New(t.TempDir())
	if err != nil {
		t.Fatalf("monitor.New failed: %v", err)
	}
	vectorTiers := Tiers[vector.Client]{
		Primary:  dialVector(&fakeVector{}),
		Fallback: dialVector(&fakeVector{}),
	}
	g := New(mon, breaker.DefaultConfig(), structuredTiers, vectorTiers)
	t.Cleanup(g.Close)
	return g, mon
}

func TestHealthyPrimaryWins(t *testing.T) {
	primary := &fakeStructured{name: "primary"}
	fallback := &fakeStructured{name: "fallback"}

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary:  dialStructured(primary, nil),
		Fallback: dialStructured(fallback, nil),
	})

	c, err := g.StructuredClient(context.Background(), true)
	if err != nil {
		t.Fatalf("StructuredClient failed: %v", err)
	}
	if c.(*fakeStructured) != primary {
		t.Errorf("got %s tier, want primary", c.(*fakeStructured).name)
	}

	health := g.ConnectionHealth()
	dep := health.Dependencies[domain.DependencyStructured]
	if !dep.Healthy || dep.LastSuccess.IsZero() {
		t.Errorf("health = %+v, want healthy with last success set", dep)
	}
	if health.CircuitBreakers[domain.DependencyStructured] != "closed" {
		t.Errorf("breaker = %s, want closed", health.CircuitBreakers[domain.DependencyStructured])
	}
}

func TestPrimaryDownFallsThroughToFallback(t *testing.T) {
	primary := &fakeStructured{name: "primary", healthErr: errors.New("connection refused")}
	fallback := &fakeStructured{name: "fallback"}

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary:  dialStructured(primary, nil),
		Fallback: dialStructured(fallback, nil),
	})

	c, err := g.StructuredClient(context.Background(), true)
	if err != nil {
		t.Fatalf("StructuredClient failed: %v", err)
	}
	if c.(*fakeStructured) != fallback {
		t.Errorf("got %s tier, want fallback", c.(*fakeStructured).name)
	}

	dep := g.ConnectionHealth().Dependencies[domain.DependencyStructured]
	if dep.Healthy || dep.FailureCount == 0 {
		t.Errorf("health = %+v, want unhealthy with failures", dep)
	}
}

func TestFallbackDisallowedSurfacesPrimaryError(t *testing.T) {
	primary := &fakeStructured{name: "primary", healthErr: errors.New("connection refused")}
	secondary := &fakeStructured{name: "secondary"}
	fallback := &fakeStructured{name: "fallback"}

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary:   dialStructured(primary, nil),
		Secondary: dialStructured(secondary, nil),
		Fallback:  dialStructured(fallback, nil),
	})

	// A closed breaker with a failing primary must not quietly hand out a
	// lower tier when the caller disallowed fallback.
	c, err := g.StructuredClient(context.Background(), false)
	if err == nil {
		t.Fatalf("got %s tier, want error", c.(*fakeStructured).name)
	}
	if !errors.Is(err, primary.healthErr) {
		t.Errorf("err = %v, want the primary probe error", err)
	}
	if secondary.probes != 0 {
		t.Error("secondary must not be probed when fallback is disallowed")
	}

	// The same failure with fallback allowed still walks the ladder.
	c, err = g.StructuredClient(context.Background(), true)
	if err != nil {
		t.Fatalf("StructuredClient failed: %v", err)
	}
	if c.(*fakeStructured) != secondary {
		t.Errorf("got %s tier, want secondary", c.(*fakeStructured).name)
	}
}

func TestSecondaryPreferredOverFallback(t *testing.T) {
	primary := &fakeStructured{name: "primary", healthErr: errors.New("timeout")}
	secondary := &fakeStructured{name: "secondary"}
	fallback := &fakeStructured{name: "fallback"}

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary:   dialStructured(primary, nil),
		Secondary: dialStructured(secondary, nil),
		Fallback:  dialStructured(fallback, nil),
	})

	c, err := g.StructuredClient(context.Background(), true)
	if err != nil {
		t.Fatalf("StructuredClient failed: %v", err)
	}
	if c.(*fakeStructured) != secondary {
		t.Errorf("got %s tier, want secondary", c.(*fakeStructured).name)
	}
}

func TestBreakerTripsAfterRepeatedFailures(t *testing.T) {
	primary := &fakeStructured{name: "primary", healthErr: errors.New("down")}
	fallback := &fakeStructured{name: "fallback"}
	primaryDials := 0

	g, mon := newTestGateway(t, Tiers[structured.Client]{
		Primary:  dialStructured(primary, &primaryDials),
		Fallback: dialStructured(fallback, nil),
	})

	ctx := context.Background()
	for range 5 {
		if _, err := g.StructuredClient(ctx, true); err != nil {
			t.Fatalf("StructuredClient failed: %v", err)
		}
	}

	if mon.CircuitIsClosed(string(domain.DependencyStructured)) {
		t.Fatal("breaker should be open after five failed probes")
	}

	// Fallback disallowed: fail without touching the remote tier.
	probesBefore := primary.probes
	_, err := g.StructuredClient(ctx, false)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if primary.probes != probesBefore {
		t.Error("open breaker must not probe the primary")
	}

	// Fallback allowed: skip straight to the local tier.
	c, err := g.StructuredClient(ctx, true)
	if err != nil {
		t.Fatalf("StructuredClient failed: %v", err)
	}
	if c.(*fakeStructured) != fallback {
		t.Errorf("got %s tier, want fallback", c.(*fakeStructured).name)
	}
	if primary.probes != probesBefore {
		t.Error("open breaker with fallback must not probe the primary")
	}
}

func TestFallbackDialFailureIsTerminal(t *testing.T) {
	primary := &fakeStructured{name: "primary", healthErr: errors.New("down")}

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary: dialStructured(primary, nil),
		Fallback: func(ctx context.Context) (structured.Client, error) {
			return nil, errors.New("disk full")
		},
	})

	if _, err := g.StructuredClient(context.Background(), true); err == nil {
		t.Fatal("expected terminal error when the fallback cannot start")
	}
}

func TestFailedPrimaryIsRedialed(t *testing.T) {
	primary := &fakeStructured{name: "primary", healthErr: errors.New("down")}
	fallback := &fakeStructured{name: "fallback"}
	primaryDials := 0

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary:  dialStructured(primary, &primaryDials),
		Fallback: dialStructured(fallback, nil),
	})

	ctx := context.Background()
	if _, err := g.StructuredClient(ctx, true); err != nil {
		t.Fatalf("StructuredClient failed: %v", err)
	}
	if _, err := g.StructuredClient(ctx, true); err != nil {
		t.Fatalf("StructuredClient failed: %v", err)
	}

	// The cached client is discarded after each failed probe.
	if primaryDials != 2 {
		t.Errorf("primary dials = %d, want 2", primaryDials)
	}
	if !primary.closed {
		t.Error("failed primary client should be closed")
	}
}

func TestHealthyPrimaryIsReused(t *testing.T) {
	primary := &fakeStructured{name: "primary"}
	fallback := &fakeStructured{name: "fallback"}
	primaryDials := 0

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary:  dialStructured(primary, &primaryDials),
		Fallback: dialStructured(fallback, nil),
	})

	ctx := context.Background()
	for range 3 {
		if _, err := g.StructuredClient(ctx, true); err != nil {
			t.Fatalf("StructuredClient failed: %v", err)
		}
	}
	if primaryDials != 1 {
		t.Errorf("primary dials = %d, want 1", primaryDials)
	}
}

func TestCheckAllRefreshesBothDependencies(t *testing.T) {
	primary := &fakeStructured{name: "primary"}
	fallback := &fakeStructured{name: "fallback"}

	g, _ := newTestGateway(t, Tiers[structured.Client]{
		Primary:  dialStructured(primary, nil),
		Fallback: dialStructured(fallback, nil),
	})

	health := g.CheckAll(context.Background())
	for _, dep := range []domain.Dependency{domain.DependencyStructured, domain.DependencyVector} {
		if h, ok := health.Dependencies[dep]; !ok || h.LastCheck.IsZero() {
			t.Errorf("dependency %s not checked: %+v", dep, h)
		}
	}
}
