package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/coordinator"
	"github.com/dreamware/strumspace/internal/logging"
	"github.com/dreamware/strumspace/internal/service"
)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status         string                   `json:"status"`
	Timestamp      time.Time                `json:"timestamp"`
	System         coordinator.SystemStatus `json:"system"`
	ActiveSessions int                      `json:"activeSessions"`
	Uptime         float64                  `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.orch.SystemStatus()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Timestamp:      st.Timestamp,
		System:         st,
		ActiveSessions: s.ActiveSessions(),
		Uptime:         st.UptimeSeconds,
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if s.refresher != nil && r.URL.Query().Get("refresh") == "true" {
		// other callers may share this round, so it must outlive this request
		s.refresher.Refresh(context.WithoutCancel(r.Context()))
	}
	writeJSON(w, http.StatusOK, s.orch.SystemStatus())
}

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	var req coordinator.RequestContext
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	// ids are assigned by the orchestrator
	req.RequestID = ""

	res := s.orch.HandleRequest(r.Context(), req)

	status := http.StatusOK
	if res.Error != nil {
		switch res.Error.Kind {
		case coordinator.KindInvalidRequest:
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, res)
}

// RegisterResponse is the body of a successful POST /api/service/register.
type RegisterResponse struct {
	Status    string             `json:"status"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
	Service   service.Descriptor `json:"service"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if strings.TrimSpace(req.ServiceName) == "" || strings.TrimSpace(req.ServiceURL) == "" {
		writeError(w, http.StatusBadRequest, "serviceName and serviceUrl are required")
		return
	}

	d, err := s.orch.RegisterService(req.ServiceName, req.ServiceURL, req.Capabilities)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.Error("API", err, "Registering %s failed", req.ServiceName)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{
		Status:    "registered",
		Message:   fmt.Sprintf("%s successfully registered", d.Name),
		Timestamp: time.Now(),
		Service:   d,
	})
}

type chordNotFound struct {
	Error      string   `json:"error"`
	Available  []string `json:"available"`
	Suggestion string   `json:"suggestion"`
}

func (s *Server) handleChord(w http.ResponseWriter, r *http.Request) {
	table := s.orch.Chords()
	rec, err := table.Get(r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, chordNotFound{
			Error:      "Chord not found",
			Available:  table.IDs(),
			Suggestion: "Try: amajor, eminor, dmajor, cmajor, or gmajor",
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type chordList struct {
	Total  int            `json:"total"`
	Chords []chord.Record `json:"chords"`
}

func (s *Server) handleChords(w http.ResponseWriter, r *http.Request) {
	recs := s.orch.Chords().List(r.URL.Query().Get("difficulty"))
	writeJSON(w, http.StatusOK, chordList{Total: len(recs), Chords: recs})
}

type searchResult struct {
	Query   string         `json:"query"`
	Found   int            `json:"found"`
	Results []chord.Record `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeError(w, http.StatusBadRequest, "Search query required. Use ?q=search_term")
		return
	}
	recs := s.orch.Chords().Search(q)
	if recs == nil {
		recs = []chord.Record{}
	}
	writeJSON(w, http.StatusOK, searchResult{Query: q, Found: len(recs), Results: recs})
}

func (s *Server) handleProgression(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Chords().Progression(r.PathValue("key")))
}
