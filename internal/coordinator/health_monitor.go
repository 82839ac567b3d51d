package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dreamware/strumspace/internal/logging"
	"github.com/dreamware/strumspace/internal/service"
)

// Prober performs liveness checks against a service address.
// *service.Client satisfies it.
type Prober interface {
	Probe(ctx context.Context, addr string) error
	Pulse(ctx context.Context, addr string) error
}

// HealthConfig controls probe cadence and timeouts.
type HealthConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	PulseInterval time.Duration
	PulseTimeout  time.Duration
}

// DefaultHealthConfig returns the stock cadence: a full probe every 30s with
// a 5s timeout, and a pulse of healthy services every 10s with a 2s timeout.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		ProbeInterval: 30 * time.Second,
		ProbeTimeout:  5 * time.Second,
		PulseInterval: 10 * time.Second,
		PulseTimeout:  2 * time.Second,
	}
}

// Transition is a Healthy↔Down change observed by a full probe.
type Transition struct {
	Service string
	From    service.Health
	To      service.Health
	At      time.Time
	Err     error // probe error for a Down transition
}

// Recovered reports whether the service came back up.
func (t Transition) Recovered() bool { return t.To == service.HealthHealthy }

// HealthMonitor probes every registered service and is the only writer of
// Descriptor.Health.
//
// State machine per service:
//
//	Unknown ──ok──▶ Healthy   (no event)
//	Unknown ──fail─▶ Down     (no event)
//	Healthy ──fail─▶ Down     (degraded)
//	Down    ──ok──▶ Healthy   (recovered)
//
// Full probes and pulses run in a single goroutine, so transitions for a
// given service are observed in order.
type HealthMonitor struct {
	registry        *Registry
	prober          Prober
	onTransition    func(Transition)
	onRoundComplete func()
	now             func() time.Time
	cancel          context.CancelFunc
	cfg             HealthConfig
	rounds          singleflight.Group
	wg              sync.WaitGroup
	mu              sync.Mutex
}

// NewHealthMonitor creates a monitor over registry. Zero fields in cfg take
// their defaults.
//
// Example:
//
//	monitor := NewHealthMonitor(registry, service.NewClient(nil), DefaultHealthConfig())
//	monitor.SetOnTransition(func(t Transition) { ... })
//	go monitor.Start(ctx)
func NewHealthMonitor(registry *Registry, prober Prober, cfg HealthConfig) *HealthMonitor {
	def := DefaultHealthConfig()
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.PulseInterval <= 0 {
		cfg.PulseInterval = def.PulseInterval
	}
	if cfg.PulseTimeout <= 0 {
		cfg.PulseTimeout = def.PulseTimeout
	}
	return &HealthMonitor{
		registry: registry,
		prober:   prober,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetOnTransition installs the callback for degraded/recovered changes. It is
// called synchronously from the probe loop and must not block.
func (h *HealthMonitor) SetOnTransition(fn func(Transition)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTransition = fn
}

// SetOnRoundComplete installs the callback run after every full probe round.
func (h *HealthMonitor) SetOnRoundComplete(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRoundComplete = fn
}

// Start runs an initial full probe, then probes and pulses on their intervals
// until ctx is cancelled or Stop is called. It blocks.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	h.mu.Lock()
	ctx, h.cancel = context.WithCancel(ctx)
	h.mu.Unlock()

	probe := time.NewTicker(h.cfg.ProbeInterval)
	defer probe.Stop()
	pulse := time.NewTicker(h.cfg.PulseInterval)
	defer pulse.Stop()

	logging.Info("HealthMonitor", "Health monitor started (probe every %v, pulse every %v)",
		h.cfg.ProbeInterval, h.cfg.PulseInterval)

	h.Refresh(ctx)

	for {
		select {
		case <-probe.C:
			h.Refresh(ctx)
		case <-pulse.C:
			h.PulseAll(ctx)
		case <-ctx.Done():
			logging.Info("HealthMonitor", "Health monitor stopping")
			return
		}
	}
}

// Stop cancels a running Start and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// Refresh runs a full probe round now. Callers that arrive while a round is
// in flight, the periodic loop included, wait for it and share its result
// instead of starting another.
func (h *HealthMonitor) Refresh(ctx context.Context) []Transition {
	v, _, shared := h.rounds.Do("probe", func() (interface{}, error) {
		return h.ProbeAll(ctx), nil
	})
	if shared {
		logging.Debug("HealthMonitor", "Joined in-flight probe round")
	}
	return v.([]Transition)
}

// ProbeAll runs one full probe of every registered service, serially, and
// returns the transitions it caused.
func (h *HealthMonitor) ProbeAll(ctx context.Context) []Transition {
	var transitions []Transition
	for _, d := range h.registry.List() {
		if ctx.Err() != nil {
			return transitions
		}
		if t, changed := h.probeOne(ctx, d); changed {
			transitions = append(transitions, t)
		}
	}

	h.mu.Lock()
	onRound := h.onRoundComplete
	h.mu.Unlock()
	if onRound != nil {
		onRound()
	}
	return transitions
}

func (h *HealthMonitor) probeOne(ctx context.Context, d service.Descriptor) (Transition, bool) {
	pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	start := h.now()
	err := h.prober.Probe(pctx, d.Address)
	cancel()
	finished := h.now()

	before, after, uerr := h.registry.Update(d.Name, func(d *service.Descriptor) {
		if err != nil {
			d.Health = service.HealthDown
			d.LastLatency = 0
			d.ConsecutiveFailures++
			return
		}
		d.Health = service.HealthHealthy
		d.LastLatency = finished.Sub(start)
		d.LastProbeTime = finished
		d.ConsecutiveFailures = 0
	})
	if uerr != nil {
		// removed while the probe was in flight
		return Transition{}, false
	}

	if err != nil {
		logging.Debug("HealthMonitor", "Probe of %s failed (%d consecutive): %v", d.Name, after.ConsecutiveFailures, err)
	}

	changed := (before.Health == service.HealthHealthy && after.Health == service.HealthDown) ||
		(before.Health == service.HealthDown && after.Health == service.HealthHealthy)
	if !changed {
		if before.Health == service.HealthUnknown {
			logging.Info("HealthMonitor", "Service %s is %s after first probe", d.Name, after.Health)
		}
		return Transition{}, false
	}

	t := Transition{Service: d.Name, From: before.Health, To: after.Health, At: finished, Err: err}
	if t.Recovered() {
		logging.Info("HealthMonitor", "Service %s recovered (%v)", d.Name, after.LastLatency)
	} else {
		logging.Warn("HealthMonitor", "Service %s went down: %v", d.Name, err)
	}

	h.mu.Lock()
	fn := h.onTransition
	h.mu.Unlock()
	if fn != nil {
		fn(t)
	}
	return t, true
}

// PulseAll pings every Healthy service. A successful pulse refreshes
// LastProbeTime; a failed pulse changes nothing.
func (h *HealthMonitor) PulseAll(ctx context.Context) {
	for _, d := range h.registry.List() {
		if d.Health != service.HealthHealthy {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		pctx, cancel := context.WithTimeout(ctx, h.cfg.PulseTimeout)
		err := h.prober.Pulse(pctx, d.Address)
		cancel()
		if err != nil {
			continue
		}

		at := h.now()
		_, _, _ = h.registry.Update(d.Name, func(d *service.Descriptor) {
			d.LastProbeTime = at
		})
	}
}
