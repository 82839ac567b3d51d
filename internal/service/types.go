package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/dreamware/strumspace/internal/chord"
)

// Well-known service names.
const (
	Interpreter = "interpreter"
	Tracker     = "tracker"
)

// DefaultMaxRetries is the per-call attempt budget for a new descriptor.
const DefaultMaxRetries = 3

// Health is the probe-derived state of a remote service.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDown
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText encodes the health as its lowercase name.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses "unknown", "healthy" or "down".
func (h *Health) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "unknown", "":
		*h = HealthUnknown
	case "healthy":
		*h = HealthHealthy
	case "down":
		*h = HealthDown
	default:
		return fmt.Errorf("unknown health %q", string(b))
	}
	return nil
}

// Descriptor describes one registered remote service.
// Descriptors are values: the registry swaps whole descriptors and hands out
// copies, so a Descriptor held by a caller never changes underneath it.
type Descriptor struct {
	Name                string        `json:"name"`
	Address             string        `json:"address"`
	Capabilities        []string      `json:"capabilities"`
	Health              Health        `json:"health"`
	LastProbeTime       time.Time     `json:"lastProbeTime"`
	LastLatency         time.Duration `json:"-"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	MaxRetries          int           `json:"maxRetries"`
	RegisteredAt        time.Time     `json:"registeredAt"`
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Capabilities = append([]string(nil), d.Capabilities...)
	return out
}

// InterpretRequest is the body sent to the interpreter.
type InterpretRequest struct {
	Question  string `json:"question"`
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

// InterpretResponse is the interpreter's answer to a question.
type InterpretResponse struct {
	Response       string   `json:"response"`
	DetectedChords []string `json:"detectedChords"`
	AudioURL       string   `json:"audioUrl,omitempty"`
	Fallback       bool     `json:"fallback,omitempty"`
	Source         string   `json:"source,omitempty"`
}

// TrackRequest is the body sent to the tracker: one frame plus the chord to overlay.
type TrackRequest struct {
	Image     string       `json:"image"`
	Chord     chord.Record `json:"chord"`
	RequestID string       `json:"requestId"`
}

// OverlayPosition is a fingertip marker in frame coordinates.
type OverlayPosition struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Finger     int     `json:"finger"`
	String     int     `json:"string"`
	Fret       int     `json:"fret"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// Transform places the fretboard in the frame.
type Transform struct {
	Center [2]float64 `json:"center"`
	Angle  float64    `json:"angle"`
	Scale  float64    `json:"scale"`
}

// TrackResponse is the tracker's overlay geometry for a frame.
type TrackResponse struct {
	Success   bool              `json:"success"`
	Detected  bool              `json:"guitar_detected"`
	Positions []OverlayPosition `json:"chord_positions"`
	Transform *Transform        `json:"transformation,omitempty"`
	Fallback  bool              `json:"fallback,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// RegisterRequest is the body of a runtime service registration.
type RegisterRequest struct {
	ServiceName  string   `json:"serviceName"`
	ServiceURL   string   `json:"serviceUrl"`
	Capabilities []string `json:"capabilities"`
}
