package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/events"
	"github.com/dreamware/strumspace/internal/fallback"
	"github.com/dreamware/strumspace/internal/logging"
	"github.com/dreamware/strumspace/internal/metrics"
	"github.com/dreamware/strumspace/internal/service"
)

// RemoteClient performs the two remote calls of the pipeline.
// *service.Client satisfies it.
type RemoteClient interface {
	Interpret(ctx context.Context, addr string, req service.InterpretRequest) (*service.InterpretResponse, error)
	Track(ctx context.Context, addr string, req service.TrackRequest) (*service.TrackResponse, error)
}

// Config holds the pipeline's timing and fallback constants.
type Config struct {
	InterpreterTimeout time.Duration
	TrackerTimeout     time.Duration
	BaseDelay          time.Duration
	Fallback           fallback.Config
}

// DefaultConfig returns a 10s interpreter timeout, an 8s tracker timeout and
// a 1s backoff unit.
func DefaultConfig() Config {
	return Config{
		InterpreterTimeout: 10 * time.Second,
		TrackerTimeout:     8 * time.Second,
		BaseDelay:          time.Second,
		Fallback:           fallback.DefaultConfig(),
	}
}

// Dependencies are the collaborators an Orchestrator is built from. Nil
// fields get a fresh default.
type Dependencies struct {
	Registry *Registry
	Client   RemoteClient
	Chords   *chord.Table
	Metrics  *metrics.Collector
	Bus      *events.Bus
}

// Orchestrator runs the request pipeline and owns the shared state it
// touches. Construct one with New; there is no package-level instance.
type Orchestrator struct {
	registry *Registry
	client   RemoteClient
	chords   *chord.Table
	fallback *fallback.Synthesizer
	metrics  *metrics.Collector
	bus      *events.Bus
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	started  time.Time
	cfg      Config
}

// New builds an Orchestrator. Zero durations in cfg take their defaults.
func New(cfg Config, deps Dependencies) *Orchestrator {
	def := DefaultConfig()
	if cfg.InterpreterTimeout <= 0 {
		cfg.InterpreterTimeout = def.InterpreterTimeout
	}
	if cfg.TrackerTimeout <= 0 {
		cfg.TrackerTimeout = def.TrackerTimeout
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.Fallback == (fallback.Config{}) {
		cfg.Fallback = def.Fallback
	}

	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Client == nil {
		deps.Client = service.NewClient(nil)
	}
	if deps.Chords == nil {
		deps.Chords = chord.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(0)
	}

	return &Orchestrator{
		registry: deps.Registry,
		client:   deps.Client,
		chords:   deps.Chords,
		fallback: fallback.New(cfg.Fallback),
		metrics:  deps.Metrics,
		bus:      deps.Bus,
		now:      time.Now,
		sleep:    sleepContext,
		started:  time.Now(),
		cfg:      cfg,
	}
}

// Registry returns the service registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Chords returns the reference table.
func (o *Orchestrator) Chords() *chord.Table { return o.chords }

func (o *Orchestrator) Metrics() *metrics.Collector { return o.metrics }

func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// ChordHighlight is published on the session topic when a request resolved
// to a reference record.
type ChordHighlight struct {
	RequestID        string                    `json:"requestId"`
	SessionID        string                    `json:"sessionId"`
	Chord            chord.Record              `json:"chord"`
	OverlayPositions []service.OverlayPosition `json:"arPositions"`
}

// HandleRequest runs the full pipeline for one request and returns its
// result. Remote trouble never surfaces as a failure: it is absorbed into
// fallback flags. Only an invalid request or an internal error yields
// Success=false.
//
// Once started the pipeline ignores cancellation of ctx; its duration is
// bounded by the per-call timeouts and retry budgets.
//
// Pipeline:
//  1. Validate and fill request id / session id
//  2. Interpreter (retried, fallback on exhaustion)
//  3. Resolve the first candidate chord against the table
//  4. Tracker, only when a chord resolved and an image was supplied
//  5. Assemble, record metrics, publish, return
func (o *Orchestrator) HandleRequest(ctx context.Context, req RequestContext) (res *Result) {
	ctx = context.WithoutCancel(ctx)
	o.metrics.RecordStart()

	if err := req.prepare(o.now()); err != nil {
		logging.Warn("Coordinator", "[%s] Rejected request: %v", req.RequestID, err)
		return o.fail(newResult(&req), &req, err)
	}

	res = newResult(&req)
	defer func() {
		if p := recover(); p != nil {
			res = o.fail(newResult(&req), &req, internalError(fmt.Errorf("panic: %v", p)))
		}
	}()

	logging.Info("Coordinator", "[%s] Processing request from %s", req.RequestID, req.UserID)

	interp, out := callWithRetry(ctx, o, req.RequestID,
		retryPolicy{service: service.Interpreter, timeout: o.cfg.InterpreterTimeout},
		func(ctx context.Context, addr string) (*service.InterpretResponse, error) {
			return o.client.Interpret(ctx, addr, service.InterpretRequest{
				Question:  req.Input,
				UserID:    req.UserID,
				RequestID: req.RequestID,
			})
		})
	if out.Err != nil && !out.Fallback {
		return o.fail(res, &req, internalError(out.Err))
	}
	if out.Fallback {
		fb := o.fallback.Interpret(req.Input)
		interp = &fb
		res.FallbackFlags.Interpreter = true
		o.metrics.RecordFallback(service.Interpreter)
	}

	res.InterpreterText = interp.Response
	res.AudioRef = interp.AudioURL
	if interp.DetectedChords != nil {
		res.DetectedChords = interp.DetectedChords
	}

	if len(interp.DetectedChords) > 0 {
		if rec, ok := o.chords.Lookup(interp.DetectedChords[0]); ok {
			res.ReferenceRecord = &rec
			logging.Debug("Coordinator", "[%s] Resolved chord %s", req.RequestID, rec.Name)
		} else {
			logging.Debug("Coordinator", "[%s] No reference record for %q", req.RequestID, interp.DetectedChords[0])
		}
	}

	if res.ReferenceRecord != nil && req.ImagePayload != "" {
		rec := *res.ReferenceRecord
		track, out := callWithRetry(ctx, o, req.RequestID,
			retryPolicy{service: service.Tracker, timeout: o.cfg.TrackerTimeout},
			func(ctx context.Context, addr string) (*service.TrackResponse, error) {
				return o.client.Track(ctx, addr, service.TrackRequest{
					Image:     req.ImagePayload,
					Chord:     rec,
					RequestID: req.RequestID,
				})
			})
		if out.Err != nil && !out.Fallback {
			return o.fail(res, &req, internalError(out.Err))
		}
		if out.Fallback {
			fb := o.fallback.Track(rec)
			track = &fb
			res.FallbackFlags.Tracker = true
			o.metrics.RecordFallback(service.Tracker)
		}
		if track.Positions != nil {
			res.OverlayPositions = track.Positions
		}
		res.TrackerDetected = track.Detected
		res.Transform = track.Transform
	}

	elapsed := o.now().Sub(req.StartTime)
	res.Success = true
	res.ElapsedMs = elapsed.Milliseconds()
	res.Timestamp = o.now()
	o.metrics.RecordSuccess(elapsed)

	o.publishResult(res)
	logging.Info("Coordinator", "[%s] Request completed in %dms (fallback interpreter=%t tracker=%t)",
		req.RequestID, res.ElapsedMs, res.FallbackFlags.Interpreter, res.FallbackFlags.Tracker)
	return res
}

func (o *Orchestrator) fail(res *Result, req *RequestContext, err error) *Result {
	o.metrics.RecordFailure()
	res.Success = false
	res.Error = errorInfo(err)
	res.Timestamp = o.now()
	if !req.StartTime.IsZero() {
		res.ElapsedMs = o.now().Sub(req.StartTime).Milliseconds()
	}
	if res.Error.Kind == KindInternal {
		logging.Error("Coordinator", err, "[%s] Request failed after %dms", req.RequestID, res.ElapsedMs)
	}
	return res
}

func (o *Orchestrator) publishResult(res *Result) {
	topic := events.SessionTopic(res.SessionID)
	o.bus.Publish(topic, events.Event{
		Type:      events.TypeCoordinatedResponse,
		Data:      *res,
		Timestamp: res.Timestamp,
	})
	if res.ReferenceRecord != nil {
		o.bus.Publish(topic, events.Event{
			Type: events.TypeChordHighlight,
			Data: ChordHighlight{
				RequestID:        res.RequestID,
				SessionID:        res.SessionID,
				Chord:            *res.ReferenceRecord,
				OverlayPositions: res.OverlayPositions,
			},
			Timestamp: res.Timestamp,
		})
	}
}

// RegisterService adds or refreshes a remote service and announces it on
// the global topic. Re-registration keeps the current health.
func (o *Orchestrator) RegisterService(name, address string, capabilities []string) (service.Descriptor, error) {
	d, replaced, err := o.registry.Register(name, address, capabilities)
	if err != nil {
		return service.Descriptor{}, err
	}

	verb := "registered"
	if replaced {
		verb = "re-registered"
	}
	logging.Info("Coordinator", "Service %s %s at %s", d.Name, verb, d.Address)

	o.bus.Publish(events.GlobalTopic, events.Event{
		Type: events.TypeServiceRegistered,
		Data: newServiceStatus(d),
	})
	return d, nil
}

// ServiceAlert is published on the global topic for each health transition.
type ServiceAlert struct {
	Type    string `json:"type"`
	Service string `json:"service"`
	Message string `json:"message"`
}

// HandleTransition publishes a service-alert for a health change.
func (o *Orchestrator) HandleTransition(t Transition) {
	alert := ServiceAlert{Service: t.Service}
	if t.Recovered() {
		alert.Type = "recovered"
		alert.Message = fmt.Sprintf("%s is back online", t.Service)
	} else {
		alert.Type = "degraded"
		alert.Message = fmt.Sprintf("%s is unavailable, responses will use fallbacks", t.Service)
	}
	o.bus.Publish(events.GlobalTopic, events.Event{
		Type:      events.TypeServiceAlert,
		Data:      alert,
		Timestamp: t.At,
	})
}

// PublishHealthStatus publishes the current SystemStatus on the global topic.
func (o *Orchestrator) PublishHealthStatus() {
	st := o.SystemStatus()
	healthy := 0
	for _, s := range st.Services {
		if s.Health == service.HealthHealthy {
			healthy++
		}
	}
	logging.Debug("Coordinator", "System health: %s (%d/%d services healthy)", st.Overall, healthy, len(st.Services))
	o.bus.Publish(events.GlobalTopic, events.Event{
		Type:      events.TypeSystemHealth,
		Data:      st,
		Timestamp: st.Timestamp,
	})
}

// Watch connects a HealthMonitor's callbacks to the bus.
func (o *Orchestrator) Watch(m *HealthMonitor) {
	m.SetOnTransition(o.HandleTransition)
	m.SetOnRoundComplete(o.PublishHealthStatus)
}
