package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strumspace/internal/api"
	"github.com/dreamware/strumspace/internal/coordinator"
	"github.com/dreamware/strumspace/internal/events"
	"github.com/dreamware/strumspace/internal/metrics"
	"github.com/dreamware/strumspace/internal/service"
	"github.com/dreamware/strumspace/internal/stub"
)

// TestSystem is an orchestrator and two stub remotes wired together over
// real HTTP on loopback.
type TestSystem struct {
	t           *testing.T
	interpreter *stub.Service
	tracker     *stub.Service
	servers     []*httptest.Server
	api         *api.Server
	orch        *coordinator.Orchestrator
	baseURL     string
	httpClient  *http.Client
}

// NewTestSystem starts the stubs and the orchestrator. The interpreter
// timeout is short so that slow-mode scenarios finish quickly.
func NewTestSystem(t *testing.T) *TestSystem {
	t.Helper()
	ts := &TestSystem{
		t:           t,
		interpreter: stub.New(service.Interpreter, nil, 500*time.Millisecond),
		tracker:     stub.New(service.Tracker, nil, 500*time.Millisecond),
		httpClient:  &http.Client{Timeout: 5 * time.Second},
	}
	interpSrv := httptest.NewServer(ts.interpreter.Handler())
	trackerSrv := httptest.NewServer(ts.tracker.Handler())

	client := service.NewClient(nil)
	ts.orch = coordinator.New(coordinator.Config{
		InterpreterTimeout: 100 * time.Millisecond,
		TrackerTimeout:     100 * time.Millisecond,
		BaseDelay:          5 * time.Millisecond,
	}, coordinator.Dependencies{Client: client})

	_, err := ts.orch.RegisterService(service.Interpreter, interpSrv.URL, []string{"natural_language"})
	require.NoError(t, err)
	_, err = ts.orch.RegisterService(service.Tracker, trackerSrv.URL, []string{"guitar_detection"})
	require.NoError(t, err)

	monitor := coordinator.NewHealthMonitor(ts.orch.Registry(), client, coordinator.HealthConfig{
		ProbeTimeout: time.Second,
		PulseTimeout: time.Second,
	})
	ts.orch.Watch(monitor)

	reg := metrics.NewRegistry(metrics.NewExporter(ts.orch.Metrics(), ts.orch.Registry().HealthMap))
	ts.api = api.NewServer(ts.orch, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ts.api.SetHealthRefresher(monitor)
	apiSrv := httptest.NewServer(ts.api)

	ts.baseURL = apiSrv.URL
	ts.servers = []*httptest.Server{apiSrv, interpSrv, trackerSrv}
	t.Cleanup(ts.Stop)
	return ts
}

// Stop closes websocket sessions and all servers.
func (ts *TestSystem) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ts.api.CloseSessions(ctx)
	for _, s := range ts.servers {
		s.Close()
	}
	ts.orch.Bus().Close()
}

// Refresh forces a probe round and returns the resulting status.
func (ts *TestSystem) Refresh() coordinator.SystemStatus {
	ts.t.Helper()
	resp, err := ts.httpClient.Get(ts.baseURL + "/api/system-status?refresh=true")
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	var st coordinator.SystemStatus
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

// Ask posts a question and decodes the result.
func (ts *TestSystem) Ask(question, image string) (int, coordinator.Result) {
	ts.t.Helper()
	body, err := json.Marshal(map[string]string{
		"question":  question,
		"userId":    "player-1",
		"sessionId": "lesson-1",
		"imageData": image,
	})
	require.NoError(ts.t, err)
	resp, err := ts.httpClient.Post(ts.baseURL+"/api/process-request", "application/json", bytes.NewReader(body))
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	var res coordinator.Result
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

// Dial opens a websocket and consumes the greeting.
func (ts *TestSystem) Dial() *websocket.Conn {
	ts.t.Helper()
	url := "ws" + strings.TrimPrefix(ts.baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { conn.Close() })
	readUntil(ts.t, conn, events.TypeSystemHealth)
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) api.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var m api.Message
		require.NoError(t, conn.ReadJSON(&m), "waiting for %s", msgType)
		if m.Type == msgType {
			return m
		}
	}
}

func TestOrchestrator(t *testing.T) {
	ts := NewTestSystem(t)

	st := ts.Refresh()
	require.Equal(t, coordinator.OverallExcellent, st.Overall)

	t.Run("HealthyPipeline", func(t *testing.T) { testHealthyPipeline(t, ts) })
	t.Run("TrackerOutage", func(t *testing.T) { testTrackerOutage(t, ts) })
	t.Run("SlowInterpreter", func(t *testing.T) { testSlowInterpreter(t, ts) })
	t.Run("MalformedInterpreter", func(t *testing.T) { testMalformedInterpreter(t, ts) })
	t.Run("ConcurrentSessions", func(t *testing.T) { testConcurrentSessions(t, ts) })
	t.Run("Metrics", func(t *testing.T) { testMetrics(t, ts) })
}

func testHealthyPipeline(t *testing.T, ts *TestSystem) {
	status, res := ts.Ask("How do I play B minor?", "ZmFrZS1mcmFtZQ==")
	require.Equal(t, http.StatusOK, status)

	assert.True(t, res.Success)
	assert.Equal(t, coordinator.FallbackFlags{}, res.FallbackFlags)
	assert.Equal(t, []string{"Bm"}, res.DetectedChords)
	require.NotNil(t, res.ReferenceRecord)
	assert.Equal(t, "bm", res.ReferenceRecord.ID)
	assert.True(t, res.TrackerDetected)
	assert.Len(t, res.OverlayPositions, len(res.ReferenceRecord.Positions))
	for _, p := range res.OverlayPositions {
		assert.False(t, p.Fallback)
	}

	d, err := ts.orch.Registry().Get(service.Interpreter)
	require.NoError(t, err)
	assert.Zero(t, d.ConsecutiveFailures)
}

func testTrackerOutage(t *testing.T, ts *TestSystem) {
	conn := ts.Dial()

	require.NoError(t, ts.tracker.SetMode(stub.ModeFail))
	st := ts.Refresh()
	assert.Equal(t, coordinator.OverallDegraded, st.Overall)
	assert.Equal(t, service.HealthDown, st.Services[service.Tracker].Health)

	var alert coordinator.ServiceAlert
	require.NoError(t, json.Unmarshal(readUntil(t, conn, events.TypeServiceAlert).Data, &alert))
	assert.Equal(t, "degraded", alert.Type)
	assert.Equal(t, service.Tracker, alert.Service)

	// a down tracker is never called
	before := ts.tracker.Requests()
	status, res := ts.Ask("Show me E minor", "ZmFrZS1mcmFtZQ==")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.FallbackFlags.Tracker)
	assert.False(t, res.FallbackFlags.Interpreter)
	assert.False(t, res.TrackerDetected)
	assert.NotEmpty(t, res.OverlayPositions)
	assert.Equal(t, before, ts.tracker.Requests())

	require.NoError(t, ts.tracker.SetMode(stub.ModeOK))
	st = ts.Refresh()
	assert.Equal(t, coordinator.OverallExcellent, st.Overall)
	require.NoError(t, json.Unmarshal(readUntil(t, conn, events.TypeServiceAlert).Data, &alert))
	assert.Equal(t, "recovered", alert.Type)
}

func testSlowInterpreter(t *testing.T, ts *TestSystem) {
	require.NoError(t, ts.interpreter.SetMode(stub.ModeSlow))
	defer func() { require.NoError(t, ts.interpreter.SetMode(stub.ModeOK)) }()

	before := ts.interpreter.Requests()
	status, res := ts.Ask("How do I play A major?", "")
	require.Equal(t, http.StatusOK, status)

	assert.True(t, res.Success)
	assert.True(t, res.FallbackFlags.Interpreter)
	assert.Equal(t, []string{"A"}, res.DetectedChords)
	assert.Equal(t, before+service.DefaultMaxRetries, ts.interpreter.Requests())

	// timeouts do not change health; only probes do
	d, err := ts.orch.Registry().Get(service.Interpreter)
	require.NoError(t, err)
	assert.Equal(t, service.HealthHealthy, d.Health)
	assert.Equal(t, service.DefaultMaxRetries, d.ConsecutiveFailures)
}

func testMalformedInterpreter(t *testing.T, ts *TestSystem) {
	require.NoError(t, ts.interpreter.SetMode(stub.ModeGarbage))
	defer func() { require.NoError(t, ts.interpreter.SetMode(stub.ModeOK)) }()

	before := ts.interpreter.Requests()
	status, res := ts.Ask("How do I play G?", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, coordinator.KindInternal, res.Error.Kind)
	assert.Equal(t, before+1, ts.interpreter.Requests(), "malformed answers are not retried")
}

func testConcurrentSessions(t *testing.T, ts *TestSystem) {
	const sessions = 5
	var wg sync.WaitGroup
	errs := make(chan error, sessions)

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{
				"question":  "How do I play D?",
				"userId":    fmt.Sprintf("player-%d", i),
				"sessionId": fmt.Sprintf("lesson-%d", i),
			})
			resp, err := ts.httpClient.Post(ts.baseURL+"/api/process-request", "application/json", bytes.NewReader(body))
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			var res coordinator.Result
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				errs <- err
				return
			}
			if !res.Success || res.SessionID != fmt.Sprintf("lesson-%d", i) {
				errs <- fmt.Errorf("session %d: success=%t session=%s", i, res.Success, res.SessionID)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testMetrics(t *testing.T, ts *TestSystem) {
	snap := ts.orch.Metrics().Snapshot()
	assert.Equal(t, snap.TotalRequests, snap.SuccessCount+snap.FailureCount)
	assert.Equal(t, uint64(1), snap.FailureCount)
	assert.Equal(t, uint64(1), snap.Fallbacks[service.Interpreter])
	assert.Equal(t, uint64(1), snap.Fallbacks[service.Tracker])

	resp, err := ts.httpClient.Get(ts.baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
