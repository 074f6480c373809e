package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klipper-filament-width/pkg/reactor"
)

type fakeTarget struct {
	mu       sync.Mutex
	extruded float64
	moves    int
	readings []float64
	err      error
}

func (f *fakeTarget) SubmitExtrude(delta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.moves++
	f.extruded += delta
	return nil
}

func (f *fakeTarget) SubmitReading(_ float64, read func(position float64) float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.readings = append(f.readings, read(f.extruded))
	return nil
}

func shortScenario(t *testing.T) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(`
speed_mm_s: 10
duration_s: 0.3
segments:
  - length_mm: 1000
    diameter_mm: 1.75
`))
	require.NoError(t, err)
	return sc
}

func TestFeederPlaysScenario(t *testing.T) {
	target := &fakeTarget{}
	f := NewFeeder(target, shortScenario(t))
	f.Interval = 10 * time.Millisecond
	f.ReportTime = 100 * time.Millisecond

	require.NoError(t, f.Run(context.Background()))

	target.mu.Lock()
	defer target.mu.Unlock()
	assert.Greater(t, target.moves, 5)
	assert.InDelta(t, 3.0, target.extruded, 1.0)
	require.GreaterOrEqual(t, len(target.readings), 2)
	for _, raw := range target.readings {
		assert.InDelta(t, 0.35, raw, 1e-12)
	}
}

func TestFeederStopsOnContext(t *testing.T) {
	sc := shortScenario(t)
	sc.DurationS = 60
	f := NewFeeder(&fakeTarget{}, sc)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feeder did not stop")
	}
}

func TestFeederFailsWhenHostStops(t *testing.T) {
	f := NewFeeder(&fakeTarget{err: reactor.ErrReactorClosed}, shortScenario(t))
	err := f.Run(context.Background())
	assert.ErrorIs(t, err, reactor.ErrReactorClosed)
}

func TestFeederToleratesBusyHost(t *testing.T) {
	f := NewFeeder(&fakeTarget{err: reactor.ErrQueueFull}, shortScenario(t))
	f.Interval = 10 * time.Millisecond
	assert.NoError(t, f.Run(context.Background()))
}
