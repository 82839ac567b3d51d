package config

import (
	"time"

	"github.com/dreamware/strumspace/internal/fallback"
)

const (
	DefaultListen         = ":3001"
	DefaultInterpreterURL = "http://localhost:3002"
	DefaultTrackerURL     = "http://localhost:5000"
	DefaultRedisChannel   = "strumspace:events"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:    DefaultListen,
		LogLevel:  "info",
		LogFormat: "console",
		Services: ServicesConfig{
			Interpreter: ServiceEndpoint{
				URL:          DefaultInterpreterURL,
				Capabilities: []string{"natural_language", "chord_detection", "text_to_speech"},
			},
			Tracker: ServiceEndpoint{
				URL:          DefaultTrackerURL,
				Capabilities: []string{"guitar_detection", "ar_overlay", "real_time_tracking"},
			},
		},
		Health: HealthConfig{
			ProbeInterval: Duration(30 * time.Second),
			ProbeTimeout:  Duration(5 * time.Second),
			PulseInterval: Duration(10 * time.Second),
			PulseTimeout:  Duration(2 * time.Second),
		},
		Requests: RequestsConfig{
			InterpreterTimeout: Duration(10 * time.Second),
			TrackerTimeout:     Duration(8 * time.Second),
			BaseDelay:          Duration(time.Second),
		},
		Metrics: MetricsConfig{
			RateInterval:  Duration(10 * time.Second),
			ResetInterval: Duration(60 * time.Second),
		},
		Events: EventsConfig{
			BufferSize: 64,
		},
		Fallback: fallback.DefaultConfig(),
		Redis: RedisConfig{
			Channel: DefaultRedisChannel,
		},
	}
}
