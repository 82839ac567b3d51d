package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/strumspace/internal/logging"
)

// Environment variables that override file values.
const (
	EnvListen         = "STRUMSPACE_LISTEN"
	EnvInterpreterURL = "INTERPRETER_URL"
	EnvTrackerURL     = "TRACKER_URL"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvLogLevel       = "LOG_LEVEL"
	EnvChordTable     = "CHORD_TABLE"
)

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it. A missing file
// is an error when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	} else {
		logging.Debug("ConfigLoader", "No config file given, using defaults")
	}

	ApplyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode unmarshals data over cfg, rejecting unknown keys.
func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// ApplyEnv overlays environment values onto cfg. lookup is os.Getenv in
// production; empty values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) string) {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}
	set(EnvListen, &cfg.Listen)
	set(EnvInterpreterURL, &cfg.Services.Interpreter.URL)
	set(EnvTrackerURL, &cfg.Services.Tracker.URL)
	set(EnvRedisAddr, &cfg.Redis.Addr)
	set(EnvLogLevel, &cfg.LogLevel)
	set(EnvChordTable, &cfg.ChordTable)
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
