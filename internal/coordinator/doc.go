// Package coordinator implements the strumspace orchestrator: it takes a
// user's chord question, fans it out to the interpreter and tracker
// services, substitutes locally synthesized answers when either is
// unavailable, and streams the combined result back to the user's session.
//
// # Overview
//
// The orchestrator is the control plane in front of two remote services.
// The interpreter turns a natural-language question into answer text and
// candidate chord names. The tracker turns a camera frame plus a chord's
// fingering into overlay geometry. Either may be slow or down at any time;
// the orchestrator keeps answering regardless, marking which parts of a
// result were synthesized.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                ORCHESTRATOR                  │
//	├──────────────────────────────────────────────┤
//	│                                              │
//	│  request ─▶ HandleRequest                    │
//	│               │                              │
//	│               ├─▶ Registry (read)            │
//	│               ├─▶ interpreter ──┐            │
//	│               │      (retry)    ├─▶ fallback │
//	│               ├─▶ chord table   │            │
//	│               ├─▶ tracker ──────┘            │
//	│               ├─▶ metrics.Collector          │
//	│               └─▶ events.Bus (session)       │
//	│                                              │
//	│  HealthMonitor ─▶ Registry (Update)          │
//	│         └──────▶ events.Bus (global)         │
//	│                                              │
//	└──────────────────────────────────────────────┘
//
// # Core Components
//
// Registry: Named service descriptors
//   - Swap-on-write updates under a write lock
//   - Readers always receive deep copies
//
// HealthMonitor: The only writer of service health
//   - Full probe (GET /health) of every service on a long interval
//   - Pulse (GET /ping) of healthy services on a short interval
//   - Emits a Transition on Healthy→Down and Down→Healthy only
//
// Orchestrator: The request pipeline
//   - Validation, two retried remote calls, chord resolution
//   - Metrics and event publication
//   - SystemStatus and runtime service registration
//
// # Retry Policy
//
// Each remote call makes at most MaxRetries attempts, each under its own
// timeout, sleeping attempt*BaseDelay between attempts:
//
//	attempt 1 ──fail──▶ sleep 1s ──▶ attempt 2 ──fail──▶ sleep 2s ──▶ attempt 3 ──fail──▶ fallback
//
// A service already marked Down is not called at all. A malformed response
// body is not retried and fails the request with an internal error.
//
// # Failure Handling
//
// Remote timeouts and unavailability never fail a request; they set the
// corresponding FallbackFlags entry instead. Only two things make a Result
// unsuccessful:
//
//	InvalidRequest  blank question or userId, bad identifiers
//	InternalError   malformed remote response, unexpected panic
//
// Internal errors carry a generic message; the detail goes to the log.
//
// # Thread Safety
//
// HandleRequest is safe to call concurrently. Concurrent requests share
// only the Registry, the metrics Collector and the event Bus, each of which
// guards itself. The HealthMonitor runs in its own goroutine and touches the
// Registry only through Update.
//
// # Example
//
//	orch := coordinator.New(coordinator.DefaultConfig(), coordinator.Dependencies{})
//	orch.RegisterService(service.Interpreter, "http://localhost:3002", []string{"chat"})
//	orch.RegisterService(service.Tracker, "http://localhost:8000", []string{"ar_overlay"})
//
//	monitor := coordinator.NewHealthMonitor(orch.Registry(), service.NewClient(nil), coordinator.DefaultHealthConfig())
//	orch.Watch(monitor)
//	go monitor.Start(ctx)
//
//	res := orch.HandleRequest(ctx, coordinator.RequestContext{
//	    Input:  "How do I play B minor?",
//	    UserID: "user-1",
//	})
package coordinator
