package coordinator

import (
	"time"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/metrics"
	"github.com/dreamware/strumspace/internal/service"
)

// Overall system health levels.
const (
	OverallExcellent = "excellent"
	OverallDegraded  = "degraded"
	OverallCritical  = "critical"
)

// ServiceStatus is a descriptor as reported in SystemStatus.
type ServiceStatus struct {
	service.Descriptor
	// ResponseTimeMs is the last observed latency, or nil when unknown or
	// the last probe failed.
	ResponseTimeMs *int64 `json:"responseTime"`
}

func newServiceStatus(d service.Descriptor) ServiceStatus {
	st := ServiceStatus{Descriptor: d}
	if d.LastLatency > 0 {
		ms := d.LastLatency.Milliseconds()
		st.ResponseTimeMs = &ms
	}
	return st
}

// SystemStatus is the orchestrator's self-report.
type SystemStatus struct {
	Overall       string                   `json:"overall"`
	Services      map[string]ServiceStatus `json:"services"`
	Metrics       metrics.Snapshot         `json:"metrics"`
	UptimeSeconds float64                  `json:"uptime"`
	Timestamp     time.Time                `json:"timestamp"`
	ChordDatabase chord.Stats              `json:"chordDatabase"`
	EventsDropped uint64                   `json:"eventsDropped"`
}

// SystemStatus reports overall health, per-service state, metrics, uptime and
// chord table statistics. Overall is excellent when every registered service
// is healthy, degraded when some are, and critical when none are.
func (o *Orchestrator) SystemStatus() SystemStatus {
	descriptors := o.registry.List()
	services := make(map[string]ServiceStatus, len(descriptors))
	healthy := 0
	for _, d := range descriptors {
		services[d.Name] = newServiceStatus(d)
		if d.Health == service.HealthHealthy {
			healthy++
		}
	}

	now := o.now()
	return SystemStatus{
		Overall:       overallHealth(healthy, len(descriptors)),
		Services:      services,
		Metrics:       o.metrics.Snapshot(),
		UptimeSeconds: now.Sub(o.started).Seconds(),
		Timestamp:     now,
		ChordDatabase: o.chords.Stats(),
		EventsDropped: o.bus.Dropped(),
	}
}

func overallHealth(healthy, total int) string {
	switch {
	case total > 0 && healthy == total:
		return OverallExcellent
	case healthy > 0:
		return OverallDegraded
	default:
		return OverallCritical
	}
}
