// Package config loads the strumspace server configuration: a YAML file
// decoded over built-in defaults, then environment overrides.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/strumspace/internal/fallback"
)

// Duration is a time.Duration written in YAML as a Go duration string
// ("30s", "1m30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\"", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete server configuration.
type Config struct {
	Listen     string `yaml:"listen"`
	LogLevel   string `yaml:"logLevel"`
	LogFormat  string `yaml:"logFormat"`
	ChordTable string `yaml:"chordTable"` // empty uses the embedded table

	Services ServicesConfig  `yaml:"services"`
	Health   HealthConfig    `yaml:"health"`
	Requests RequestsConfig  `yaml:"requests"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Events   EventsConfig    `yaml:"events"`
	Fallback fallback.Config `yaml:"fallback"`
	Redis    RedisConfig     `yaml:"redis"`
}

// ServiceEndpoint is one remote service registered at startup.
type ServiceEndpoint struct {
	URL          string   `yaml:"url"`
	Capabilities []string `yaml:"capabilities"`
}

// ServicesConfig lists the interpreter and tracker.
type ServicesConfig struct {
	Interpreter ServiceEndpoint `yaml:"interpreter"`
	Tracker     ServiceEndpoint `yaml:"tracker"`
}

// HealthConfig controls the health monitor.
type HealthConfig struct {
	ProbeInterval Duration `yaml:"probeInterval"`
	ProbeTimeout  Duration `yaml:"probeTimeout"`
	PulseInterval Duration `yaml:"pulseInterval"`
	PulseTimeout  Duration `yaml:"pulseTimeout"`
}

// RequestsConfig controls remote call timing.
type RequestsConfig struct {
	InterpreterTimeout Duration `yaml:"interpreterTimeout"`
	TrackerTimeout     Duration `yaml:"trackerTimeout"`
	BaseDelay          Duration `yaml:"baseDelay"`
}

// MetricsConfig controls the metrics ticks.
type MetricsConfig struct {
	RateInterval  Duration `yaml:"rateInterval"`
	ResetInterval Duration `yaml:"resetInterval"`
}

// EventsConfig controls the event bus.
type EventsConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// RedisConfig enables the cross-instance event relay when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether the relay should run.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }
