package coordinator

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/service"
)

// MaxIdentifierLength bounds userId, sessionId and requestId.
const MaxIdentifierLength = 128

// RequestContext is one user request as it enters the pipeline. It lives for
// a single HandleRequest call.
type RequestContext struct {
	RequestID    string    `json:"requestId,omitempty"`
	Input        string    `json:"question"`
	ImagePayload string    `json:"imageData,omitempty"`
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId,omitempty"`
	StartTime    time.Time `json:"-"`
}

// NewRequestID returns an id of the form req_<unix-ms>_<8 hex chars>.
func NewRequestID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), suffix)
}

// prepare fills generated fields and validates the request in place.
func (r *RequestContext) prepare(now time.Time) error {
	if r.StartTime.IsZero() {
		r.StartTime = now
	}
	if r.RequestID == "" {
		r.RequestID = NewRequestID(now)
	}

	if strings.TrimSpace(r.Input) == "" {
		return invalidRequest("question must not be blank")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return invalidRequest("userId must not be blank")
	}
	if strings.TrimSpace(r.SessionID) == "" {
		r.SessionID = fmt.Sprintf("session_%d", now.UnixMilli())
	}

	for _, f := range []struct{ name, value string }{
		{"userId", r.UserID},
		{"sessionId", r.SessionID},
		{"requestId", r.RequestID},
	} {
		if err := checkIdentifier(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

func checkIdentifier(field, value string) error {
	if len(value) > MaxIdentifierLength {
		return invalidRequest("%s exceeds %d characters", field, MaxIdentifierLength)
	}
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return invalidRequest("%s must not contain whitespace", field)
	}
	return nil
}

// FallbackFlags records which remote results were synthesized locally.
type FallbackFlags struct {
	Interpreter bool `json:"interpreter"`
	Tracker     bool `json:"tracker"`
}

// Result is the outcome of one coordinator run. The same value is returned
// to the caller and published on the session topic.
type Result struct {
	RequestID        string                    `json:"requestId"`
	Success          bool                      `json:"success"`
	InterpreterText  string                    `json:"interpreterText"`
	AudioRef         string                    `json:"audioRef,omitempty"`
	DetectedChords   []string                  `json:"detectedChords"`
	ReferenceRecord  *chord.Record             `json:"referenceRecord"`
	OverlayPositions []service.OverlayPosition `json:"overlayPositions"`
	FallbackFlags    FallbackFlags             `json:"fallbackFlags"`
	ElapsedMs        int64                     `json:"elapsedMs"`
	SessionID        string                    `json:"sessionId"`
	UserID           string                    `json:"userId"`
	TrackerDetected  bool                      `json:"trackerDetected"`
	Transform        *service.Transform        `json:"transform,omitempty"`
	Timestamp        time.Time                 `json:"timestamp"`
	Error            *ErrorInfo                `json:"error,omitempty"`
}

func newResult(req *RequestContext) *Result {
	return &Result{
		RequestID:        req.RequestID,
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		DetectedChords:   []string{},
		OverlayPositions: []service.OverlayPosition{},
	}
}
