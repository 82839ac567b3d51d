// Package fallback synthesizes substitute interpreter and tracker responses
// for when a remote service is down or has exhausted its retry budget.
//
// Synthesis is deterministic and side-effect free, and every result is
// structurally valid, so the coordinator never needs a "no data" branch.
package fallback

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/service"
)

// Source tags responses produced here.
const Source = "orchestrator_fallback"

// GuidanceText is returned when the input names no recognisable chord.
const GuidanceText = "I couldn't work that out just now. Try naming a chord directly, " +
	"for example \"A major\" or \"Em\", and I'll show you where your fingers go."

// TrackerMessage accompanies synthesized overlay geometry.
const TrackerMessage = "Using basic positioning while fretboard tracking is unavailable."

// Config holds the overlay mapping constants. The defaults place a six-string
// neck in a 640x480 frame; deployments with different camera framing tune them.
type Config struct {
	BaseX      float64    `yaml:"baseX"`
	BaseY      float64    `yaml:"baseY"`
	StepX      float64    `yaml:"stepX"`
	StepY      float64    `yaml:"stepY"`
	Confidence float64    `yaml:"confidence"`
	Center     [2]float64 `yaml:"center"`
}

// DefaultConfig returns the stock overlay mapping.
func DefaultConfig() Config {
	return Config{
		BaseX:      200,
		BaseY:      150,
		StepX:      35,
		StepY:      30,
		Confidence: 0.5,
		Center:     [2]float64{320, 240},
	}
}

// Synthesizer builds fallback responses. It holds no mutable state and is
// safe for concurrent use.
type Synthesizer struct {
	cfg Config
}

// New returns a Synthesizer using cfg.
func New(cfg Config) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

// Config returns the mapping constants in use.
func (s *Synthesizer) Config() Config {
	return s.cfg
}

// Interpret stands in for the interpreter. If input names a chord the
// response points at it; otherwise it asks the user to name one.
func (s *Synthesizer) Interpret(input string) service.InterpretResponse {
	if name, ok := ExtractChordName(input); ok {
		return service.InterpretResponse{
			Response: fmt.Sprintf("Here's how to play %s. Place your fingers as shown in the overlay. "+
				"Full answers will be back shortly.", name),
			DetectedChords: []string{name},
			Fallback:       true,
			Source:         Source,
		}
	}
	return service.InterpretResponse{
		Response:       GuidanceText,
		DetectedChords: []string{},
		Fallback:       true,
		Source:         Source,
	}
}

// Track stands in for the tracker, mapping each fingering linearly onto the
// frame: x = baseX + fret*stepX, y = baseY + string*stepY.
func (s *Synthesizer) Track(rec chord.Record) service.TrackResponse {
	positions := make([]service.OverlayPosition, 0, len(rec.Positions))
	for _, p := range rec.Positions {
		positions = append(positions, service.OverlayPosition{
			X:          s.cfg.BaseX + float64(p.Fret)*s.cfg.StepX,
			Y:          s.cfg.BaseY + float64(p.String)*s.cfg.StepY,
			Finger:     p.Finger,
			String:     p.String,
			Fret:       p.Fret,
			Confidence: s.cfg.Confidence,
			Fallback:   true,
		})
	}
	return service.TrackResponse{
		Success:   true,
		Detected:  false,
		Positions: positions,
		Transform: &service.Transform{Center: s.cfg.Center, Angle: 0, Scale: 1},
		Fallback:  true,
		Message:   TrackerMessage,
	}
}

// chordPattern: root A-G, optional accidental, optional quality, bounded by
// non-alphanumerics so "Bad" or "Dog" do not match. Longer qualities come
// first so "maj7" is not read as "maj".
var chordPattern = regexp.MustCompile(
	`(?:^|[^A-Za-z0-9#])([A-G])([#b])?\s*((?i:major|minor|maj7|maj|min|m7|dim|aug|sus2|sus4|sus|7|m))?(?:$|[^A-Za-z0-9])`)

var qualitySuffix = map[string]string{
	"":      "",
	"major": "",
	"maj":   "",
	"minor": "m",
	"min":   "m",
	"m":     "m",
	"maj7":  "maj7",
	"m7":    "m7",
	"7":     "7",
	"dim":   "dim",
	"aug":   "aug",
	"sus":   "sus4",
	"sus2":  "sus2",
	"sus4":  "sus4",
}

// ExtractChordName finds the first chord named in input and returns it in
// compact form ("B minor" → "Bm", "C# maj7" → "C#maj7").
func ExtractChordName(input string) (string, bool) {
	m := chordPattern.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}
	quality := m[3]
	// Lowercase "m" means minor; an uppercase "M" is the common shorthand for major.
	if quality != "M" {
		quality = strings.ToLower(quality)
	} else {
		quality = ""
	}
	return m[1] + m[2] + qualitySuffix[quality], true
}
