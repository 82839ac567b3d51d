// Package stub implements a stand-in interpreter and tracker. It answers
// the same HTTP contract as the real services so strumspace can be run and
// tested end to end without them, and it can be switched into failure
// modes at runtime through POST /control.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/fallback"
	"github.com/dreamware/strumspace/internal/logging"
	"github.com/dreamware/strumspace/internal/service"
)

// Mode selects how the stub answers.
type Mode string

const (
	// ModeOK answers every request normally.
	ModeOK Mode = "ok"
	// ModeFail answers every request, health checks included, with 503.
	ModeFail Mode = "fail"
	// ModeSlow delays interpreter and tracker answers by the configured delay.
	ModeSlow Mode = "slow"
	// ModeGarbage answers interpreter and tracker calls with malformed JSON.
	ModeGarbage Mode = "garbage"
)

func (m Mode) valid() bool {
	switch m {
	case ModeOK, ModeFail, ModeSlow, ModeGarbage:
		return true
	}
	return false
}

// Source tags answers produced by the stub.
const Source = "stub"

// Service is a stub remote. The zero value is not usable; call New.
type Service struct {
	name   string
	chords *chord.Table
	synth  *fallback.Synthesizer
	delay  time.Duration

	mode     atomic.Value
	requests atomic.Uint64
}

// New returns a stub named name in ModeOK. delay applies in ModeSlow.
func New(name string, chords *chord.Table, delay time.Duration) *Service {
	if chords == nil {
		chords = chord.Default()
	}
	s := &Service{
		name:   name,
		chords: chords,
		synth:  fallback.New(fallback.DefaultConfig()),
		delay:  delay,
	}
	s.mode.Store(ModeOK)
	return s
}

// Mode returns the current answer mode.
func (s *Service) Mode() Mode { return s.mode.Load().(Mode) }

// SetMode switches the answer mode.
func (s *Service) SetMode(m Mode) error {
	if !m.valid() {
		return fmt.Errorf("unknown mode %q", m)
	}
	s.mode.Store(m)
	logging.Info("Stub", "%s switched to mode %s", s.name, m)
	return nil
}

// Requests returns how many interpreter and tracker calls were served.
func (s *Service) Requests() uint64 { return s.requests.Load() }

// Handler returns the stub's HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handleHealth)
	mux.HandleFunc("POST /process-question", s.handleQuestion)
	mux.HandleFunc("POST /detect", s.handleDetect)
	mux.HandleFunc("POST /control", s.handleControl)
	mux.HandleFunc("GET /info", s.handleInfo)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Mode() == ModeFail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// answer applies the current mode. It reports false when the response has
// already been written.
func (s *Service) answer(w http.ResponseWriter, r *http.Request) bool {
	s.requests.Add(1)
	switch s.Mode() {
	case ModeFail:
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return false
	case ModeGarbage:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response": `))
		return false
	case ModeSlow:
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return false
		}
	}
	return true
}

func (s *Service) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var req service.InterpretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !s.answer(w, r) {
		return
	}

	resp := service.InterpretResponse{DetectedChords: []string{}, Source: Source}
	if name, ok := fallback.ExtractChordName(req.Question); ok {
		resp.DetectedChords = []string{name}
		if rec, found := s.chords.Lookup(name); found {
			resp.Response = fmt.Sprintf("To play %s: %s", rec.DisplayName, rec.Tips)
			resp.AudioURL = rec.AudioURL
		} else {
			resp.Response = fmt.Sprintf("%s is not one I can show yet.", name)
		}
	} else {
		resp.Response = "Which chord would you like to learn?"
	}
	logging.Debug("Stub", "[%s] %s answered %q", req.RequestID, s.name, req.Question)
	writeJSON(w, resp)
}

func (s *Service) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req service.TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !s.answer(w, r) {
		return
	}

	resp := s.synth.Track(req.Chord)
	resp.Detected = strings.TrimSpace(req.Image) != ""
	resp.Fallback = false
	resp.Message = ""
	for i := range resp.Positions {
		resp.Positions[i].Fallback = false
		resp.Positions[i].Confidence = 0.9
	}
	writeJSON(w, resp)
}

type controlRequest struct {
	Mode Mode `json:"mode"`
}

func (s *Service) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.SetMode(req.Mode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Info describes a running stub.
type Info struct {
	Name     string `json:"name"`
	Mode     Mode   `json:"mode"`
	Requests uint64 `json:"requests"`
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Info{Name: s.name, Mode: s.Mode(), Requests: s.Requests()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Stub", "Writing response failed: %v", err)
	}
}

// Register announces the stub to a strumspace instance, retrying while
// strumspace starts up.
func Register(ctx context.Context, client *service.Client, coordinator string, req service.RegisterRequest, attempts int, wait time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = client.PostJSON(ctx, strings.TrimRight(coordinator, "/")+"/api/service/register", req, nil)
		if lastErr == nil {
			logging.Info("Stub", "Registered %s with strumspace @ %s", req.ServiceName, coordinator)
			return nil
		}
		logging.Debug("Stub", "Register retry %d: %v", i+1, lastErr)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to register %s with %s: %w", req.ServiceName, coordinator, lastErr)
}
