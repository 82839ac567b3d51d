// Package main implements the strumspace command: the request orchestrator
// that sits between the guitar-learning clients and the remote interpreter
// and tracker services, plus a few operator subcommands.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                 strumspace serve             │
//	├──────────────────────────────────────────────┤
//	│  HTTP API:                                   │
//	│    /api/process-request  - run the pipeline  │
//	│    /api/system-status    - health report     │
//	│    /api/chord(s)/...     - chord reference   │
//	│    /ws                   - session stream    │
//	│    /metrics              - Prometheus        │
//	├──────────────────────────────────────────────┤
//	│  Background:                                 │
//	│    HealthMonitor  - probe / pulse loop       │
//	│    Collector      - rate / window ticks      │
//	│    Relay          - Redis fan-out (optional) │
//	└──────────────────────────────────────────────┘
//
// Configuration comes from an optional YAML file (--config) overlaid with
// environment variables:
//   - STRUMSPACE_LISTEN: listen address (default ":3001")
//   - INTERPRETER_URL: interpreter base URL (default "http://localhost:3002")
//   - TRACKER_URL: tracker base URL (default "http://localhost:5000")
//   - REDIS_ADDR: enables the event relay when set
//   - LOG_LEVEL: debug, info, warn or error
//   - CHORD_TABLE: path to a chord table YAML file
//
// Example usage:
//
//	# Start stub remotes and the orchestrator
//	strumspace stub --name interpreter --listen :3002 &
//	strumspace stub --name tracker --listen :5000 &
//	strumspace serve
//
//	# Ask a question
//	curl -X POST localhost:3001/api/process-request \
//	  -d '{"question":"How do I play B minor?","userId":"u1"}'
package main

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	SetVersion(version)
	Execute()
}
