package stub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/service"
)

func newStub(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	s := New("interpreter", nil, 50*time.Millisecond)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestInterpretThroughClient(t *testing.T) {
	s, ts := newStub(t)
	client := service.NewClient(nil)

	resp, err := client.Interpret(context.Background(), ts.URL, service.InterpretRequest{
		Question: "How do I play B minor?", UserID: "u1", RequestID: "req_1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bm"}, resp.DetectedChords)
	assert.Equal(t, Source, resp.Source)
	assert.False(t, resp.Fallback)
	assert.NotEmpty(t, resp.Response)

	resp, err = client.Interpret(context.Background(), ts.URL, service.InterpretRequest{Question: "hello"})
	require.NoError(t, err)
	assert.Empty(t, resp.DetectedChords)
	assert.Equal(t, uint64(2), s.Requests())
}

func TestTrackThroughClient(t *testing.T) {
	_, ts := newStub(t)
	client := service.NewClient(nil)
	rec, ok := chord.Default().Lookup("em")
	require.True(t, ok)

	resp, err := client.Track(context.Background(), ts.URL, service.TrackRequest{Image: "aGk=", Chord: rec})
	require.NoError(t, err)
	assert.True(t, resp.Detected)
	assert.False(t, resp.Fallback)
	require.Len(t, resp.Positions, len(rec.Positions))
	for _, p := range resp.Positions {
		assert.Equal(t, 0.9, p.Confidence)
	}
}

func TestModes(t *testing.T) {
	s, ts := newStub(t)
	client := service.NewClient(nil)
	ctx := context.Background()

	require.NoError(t, client.Probe(ctx, ts.URL))
	require.NoError(t, client.Pulse(ctx, ts.URL))

	require.NoError(t, s.SetMode(ModeFail))
	assert.ErrorIs(t, client.Probe(ctx, ts.URL), service.ErrRemoteUnavailable)
	_, err := client.Interpret(ctx, ts.URL, service.InterpretRequest{Question: "C"})
	assert.ErrorIs(t, err, service.ErrRemoteUnavailable)

	require.NoError(t, s.SetMode(ModeGarbage))
	_, err = client.Interpret(ctx, ts.URL, service.InterpretRequest{Question: "C"})
	assert.ErrorIs(t, err, service.ErrBadResponse)

	require.NoError(t, s.SetMode(ModeSlow))
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = client.Interpret(short, ts.URL, service.InterpretRequest{Question: "C"})
	assert.ErrorIs(t, err, service.ErrRemoteTimeout)

	assert.Error(t, s.SetMode("sideways"))
	assert.Equal(t, ModeSlow, s.Mode())
}

func TestControlEndpoint(t *testing.T) {
	s, ts := newStub(t)

	resp, err := http.Post(ts.URL+"/control", "application/json", strings.NewReader(`{"mode":"fail"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, ModeFail, s.Mode())

	resp, err = http.Post(ts.URL+"/control", "application/json", strings.NewReader(`{"mode":"loud"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, Info{Name: "interpreter", Mode: ModeFail}, info)
}

func TestRegisterRetries(t *testing.T) {
	var calls atomic.Int32
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/service/register", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer coord.Close()

	req := service.RegisterRequest{ServiceName: "interpreter", ServiceURL: "http://localhost:3002"}
	err := Register(context.Background(), service.NewClient(nil), coord.URL, req, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-100)
	err = Register(context.Background(), service.NewClient(nil), coord.URL, req, 2, time.Millisecond)
	assert.ErrorIs(t, err, service.ErrRemoteUnavailable)
}
