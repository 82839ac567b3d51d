package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strumspace/internal/service"
)

// fakeProber answers probes and pulses from per-address switches.
type fakeProber struct {
	mu         sync.Mutex
	probeFail  map[string]bool
	pulseFail  map[string]bool
	probeCalls map[string]int
	pulseCalls map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		probeFail:  map[string]bool{},
		pulseFail:  map[string]bool{},
		probeCalls: map[string]int{},
		pulseCalls: map[string]int{},
	}
}

func (f *fakeProber) Probe(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls[addr]++
	if f.probeFail[addr] {
		return service.ErrRemoteUnavailable
	}
	return nil
}

func (f *fakeProber) Pulse(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulseCalls[addr]++
	if f.pulseFail[addr] {
		return service.ErrRemoteTimeout
	}
	return nil
}

func (f *fakeProber) setProbe(addr string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeFail[addr] = fail
}

func (f *fakeProber) setPulse(addr string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulseFail[addr] = fail
}

func (f *fakeProber) probes(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls[addr]
}

func (f *fakeProber) pulses(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulseCalls[addr]
}

func newTestMonitor(t *testing.T) (*Registry, *fakeProber, *HealthMonitor, *[]Transition) {
	t.Helper()
	reg := NewRegistry()
	_, _, err := reg.Register(service.Interpreter, "interp:1", nil)
	require.NoError(t, err)
	_, _, err = reg.Register(service.Tracker, "tracker:1", nil)
	require.NoError(t, err)

	prober := newFakeProber()
	m := NewHealthMonitor(reg, prober, HealthConfig{})

	var mu sync.Mutex
	var seen []Transition
	m.SetOnTransition(func(tr Transition) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	})
	return reg, prober, m, &seen
}

func TestNewHealthMonitorDefaults(t *testing.T) {
	m := NewHealthMonitor(NewRegistry(), newFakeProber(), HealthConfig{PulseTimeout: time.Second})
	assert.Equal(t, 30*time.Second, m.cfg.ProbeInterval)
	assert.Equal(t, 5*time.Second, m.cfg.ProbeTimeout)
	assert.Equal(t, 10*time.Second, m.cfg.PulseInterval)
	assert.Equal(t, time.Second, m.cfg.PulseTimeout)
}

// TestHealthStateMachine walks one service through every edge of the state
// machine and checks which edges produce transitions.
func TestHealthStateMachine(t *testing.T) {
	reg, prober, m, seen := newTestMonitor(t)
	ctx := context.Background()

	// Unknown → Healthy, Unknown → Down: silent
	prober.setProbe("tracker:1", true)
	assert.Empty(t, m.ProbeAll(ctx))
	assert.Empty(t, *seen)

	interp, err := reg.Get(service.Interpreter)
	require.NoError(t, err)
	assert.Equal(t, service.HealthHealthy, interp.Health)
	assert.False(t, interp.LastProbeTime.IsZero())
	assert.Zero(t, interp.ConsecutiveFailures)

	tracker, err := reg.Get(service.Tracker)
	require.NoError(t, err)
	assert.Equal(t, service.HealthDown, tracker.Health)
	assert.Equal(t, 1, tracker.ConsecutiveFailures)
	assert.Zero(t, tracker.LastLatency)

	// Down → Down: silent, failures keep counting
	assert.Empty(t, m.ProbeAll(ctx))
	tracker, _ = reg.Get(service.Tracker)
	assert.Equal(t, 2, tracker.ConsecutiveFailures)

	// Down → Healthy: recovered
	prober.setProbe("tracker:1", false)
	trs := m.ProbeAll(ctx)
	require.Len(t, trs, 1)
	assert.Equal(t, service.Tracker, trs[0].Service)
	assert.Equal(t, service.HealthDown, trs[0].From)
	assert.Equal(t, service.HealthHealthy, trs[0].To)
	assert.True(t, trs[0].Recovered())
	tracker, _ = reg.Get(service.Tracker)
	assert.Zero(t, tracker.ConsecutiveFailures)

	// Healthy → Healthy: silent
	assert.Empty(t, m.ProbeAll(ctx))

	// Healthy → Down: degraded, with the probe error attached
	prober.setProbe("interp:1", true)
	trs = m.ProbeAll(ctx)
	require.Len(t, trs, 1)
	assert.Equal(t, service.Interpreter, trs[0].Service)
	assert.False(t, trs[0].Recovered())
	assert.True(t, errors.Is(trs[0].Err, service.ErrRemoteUnavailable))

	// the callback saw exactly the two transitions, in order
	require.Len(t, *seen, 2)
	assert.Equal(t, service.Tracker, (*seen)[0].Service)
	assert.Equal(t, service.Interpreter, (*seen)[1].Service)
}

// TestPulseNeverDemotes checks that a failing pulse leaves a healthy service
// healthy, and that only healthy services are pulsed.
func TestPulseNeverDemotes(t *testing.T) {
	reg, prober, m, seen := newTestMonitor(t)
	ctx := context.Background()

	prober.setProbe("tracker:1", true)
	m.ProbeAll(ctx)
	before, _ := reg.Get(service.Interpreter)

	prober.setPulse("interp:1", true)
	m.PulseAll(ctx)
	m.PulseAll(ctx)

	after, _ := reg.Get(service.Interpreter)
	assert.Equal(t, service.HealthHealthy, after.Health)
	assert.Equal(t, before.LastProbeTime, after.LastProbeTime)
	assert.Equal(t, before.ConsecutiveFailures, after.ConsecutiveFailures)
	assert.Empty(t, *seen)

	assert.Equal(t, 2, prober.pulses("interp:1"))
	assert.Equal(t, 0, prober.pulses("tracker:1"), "down services are not pulsed")
}

func TestPulseRefreshesProbeTime(t *testing.T) {
	reg, _, m, _ := newTestMonitor(t)
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	m.ProbeAll(context.Background())
	clock = clock.Add(10 * time.Second)
	m.PulseAll(context.Background())

	d, _ := reg.Get(service.Tracker)
	assert.Equal(t, clock, d.LastProbeTime)
}

func TestRoundCompleteCallback(t *testing.T) {
	_, _, m, _ := newTestMonitor(t)
	rounds := 0
	m.SetOnRoundComplete(func() { rounds++ })

	m.ProbeAll(context.Background())
	m.ProbeAll(context.Background())
	assert.Equal(t, 2, rounds)
}

// TestStartProbesImmediately verifies the initial probe on start and that
// Stop ends the loop.
func TestStartProbesImmediately(t *testing.T) {
	reg, prober, _, _ := newTestMonitor(t)
	m := NewHealthMonitor(reg, prober, HealthConfig{
		ProbeInterval: time.Hour,
		PulseInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		d, _ := reg.Get(service.Interpreter)
		return d.Health == service.HealthHealthy
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return prober.pulses("interp:1") >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, prober.probes("interp:1"))

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	reg, prober, _, _ := newTestMonitor(t)
	m := NewHealthMonitor(reg, prober, HealthConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return prober.probes("tracker:1") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// gatedProber blocks every probe until release is closed.
type gatedProber struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedProber) Probe(ctx context.Context, addr string) error {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return nil
}

func (g *gatedProber) Pulse(ctx context.Context, addr string) error { return nil }

func TestRefreshSharesInFlightRound(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Register("interpreter", "http://interpreter", nil)
	require.NoError(t, err)

	prober := &gatedProber{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewHealthMonitor(reg, prober, DefaultHealthConfig())

	rounds := 0
	m.SetOnRoundComplete(func() { rounds++ })

	var wg sync.WaitGroup
	results := make([][]Transition, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = m.Refresh(context.Background())
	}()
	<-prober.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = m.Refresh(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(prober.release)
	wg.Wait()

	assert.Equal(t, int32(1), prober.calls.Load())
	assert.Equal(t, 1, rounds)
	assert.Equal(t, results[0], results[1])

	d, err := reg.Get("interpreter")
	require.NoError(t, err)
	assert.Equal(t, service.HealthHealthy, d.Health)
}
