package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dreamware/strumspace/internal/logging"
)

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors collects every invalid field found by Validate.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 1 {
		return ve[0].Error()
	}
	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (ve *ValidationErrors) add(field, format string, args ...any) {
	*ve = append(*ve, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks addresses, durations and sizes. It returns
// ValidationErrors listing every problem, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Listen) == "" {
		errs.add("listen", "is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs.add("logLevel", "%v", err)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs.add("logFormat", "must be console or json, got %q", c.LogFormat)
	}

	checkURL := func(field, raw string) {
		if strings.TrimSpace(raw) == "" {
			errs.add(field, "is required")
			return
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs.add(field, "must be an http(s) URL, got %q", raw)
		}
	}
	checkURL("services.interpreter.url", c.Services.Interpreter.URL)
	checkURL("services.tracker.url", c.Services.Tracker.URL)

	positive := func(field string, d Duration) {
		if d <= 0 {
			errs.add(field, "must be positive")
		}
	}
	positive("health.probeInterval", c.Health.ProbeInterval)
	positive("health.probeTimeout", c.Health.ProbeTimeout)
	positive("health.pulseInterval", c.Health.PulseInterval)
	positive("health.pulseTimeout", c.Health.PulseTimeout)
	positive("requests.interpreterTimeout", c.Requests.InterpreterTimeout)
	positive("requests.trackerTimeout", c.Requests.TrackerTimeout)
	positive("metrics.rateInterval", c.Metrics.RateInterval)
	positive("metrics.resetInterval", c.Metrics.ResetInterval)
	if c.Requests.BaseDelay < 0 {
		errs.add("requests.baseDelay", "must not be negative")
	}

	if c.Events.BufferSize <= 0 {
		errs.add("events.bufferSize", "must be positive")
	}
	if c.Fallback.Confidence < 0 || c.Fallback.Confidence > 1 {
		errs.add("fallback.confidence", "must be between 0 and 1")
	}
	if c.Redis.Enabled() && strings.TrimSpace(c.Redis.Channel) == "" {
		errs.add("redis.channel", "is required when redis.addr is set")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
